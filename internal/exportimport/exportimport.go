// Package exportimport serializes a repository's stored objects and ref
// table to and from a portable JSONL file: one JSON object per line,
// objects in the backend's listing order (not sorted by ancestry) followed
// by the refs, for backing up or transplanting an agent's history between
// backends.
package exportimport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/refstore"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/store"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// record is one exported JSONL line: either an object (blob or commit) or
// a ref, selected by Kind. Object records set Hash, Type and Object; ref
// records set Name and Value.
type record struct {
	Kind   string         `json:"kind"`
	Hash   string         `json:"hash,omitempty"`
	Type   string         `json:"type,omitempty"`
	Object map[string]any `json:"object,omitempty"`
	Name   string         `json:"name,omitempty"`
	Value  string         `json:"value,omitempty"`
}

// Export writes every object stored in backend, reachable or not, plus the
// ref table itself, to w as JSONL, objects before the refs that point at
// them.
func Export(ctx context.Context, backend storage.Backend, refs *refstore.Store, w io.Writer) error {
	digests, err := backend.ListObjects(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, digest := range digests {
		data, ok, err := backend.GetObject(ctx, digest)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		objType, err := classifyObject(data)
		if err != nil {
			return err
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return vcserr.WrapSerialization("export decode object", err)
		}
		if err := enc.Encode(record{
			Kind:   "object",
			Hash:   string(digest),
			Type:   string(objType),
			Object: decoded,
		}); err != nil {
			return vcserr.WrapSerialization("export encode record", err)
		}
	}

	for name, value := range refs.ToMap() {
		if err := enc.Encode(record{Kind: "ref", Name: name, Value: value}); err != nil {
			return vcserr.WrapSerialization("export encode ref", err)
		}
	}
	return nil
}

// classifyObject distinguishes a Commit from a Blob by the presence of the
// tree_hash field, which only commits carry.
func classifyObject(data []byte) (hash.ObjectType, error) {
	result := gjson.GetBytes(data, "tree_hash")
	if result.Exists() {
		return hash.Commit, nil
	}
	return hash.Blob, nil
}

// Import reads a JSONL stream produced by Export and writes every object
// and ref into backend and refs. Objects are re-hashed rather than trusted
// from the stream, so a tampered export is caught instead of silently
// re-imported as-is.
func Import(ctx context.Context, backend storage.Backend, refs *refstore.Store, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var refLines []record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return vcserr.WrapSerialization(fmt.Sprintf("import decode line %d", lineNo), err)
		}

		switch rec.Kind {
		case "object":
			if err := importObject(ctx, backend, rec); err != nil {
				return err
			}
		case "ref":
			refLines = append(refLines, rec)
		default:
			return &vcserr.InvalidArgument{Why: fmt.Sprintf("import: unknown record kind %q at line %d", rec.Kind, lineNo)}
		}
	}
	if err := scanner.Err(); err != nil {
		return vcserr.WrapSerialization("import scan", err)
	}

	refMap := make(map[string]string, len(refLines))
	for _, rec := range refLines {
		refMap[rec.Name] = rec.Value
	}
	refs.LoadFromMap(refMap)
	for name, value := range refMap {
		if err := backend.SetRef(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

func importObject(ctx context.Context, backend storage.Backend, rec record) error {
	objType := hash.ObjectType(rec.Type)
	data, err := json.Marshal(rec.Object)
	if err != nil {
		return vcserr.WrapSerialization("import re-marshal object", err)
	}

	var digest hash.Digest
	switch objType {
	case hash.Commit:
		var commit store.Commit
		if err := json.Unmarshal(data, &commit); err != nil {
			return vcserr.WrapSerialization("import decode commit", err)
		}
		canonical, err := commit.CanonicalBytes()
		if err != nil {
			return err
		}
		digest = hash.Of(hash.Commit, canonical)
	case hash.Blob:
		blob := store.NewBlob(rec.Object)
		canonical, err := blob.CanonicalBytes()
		if err != nil {
			return err
		}
		digest = hash.Of(hash.Blob, canonical)
	default:
		return &vcserr.InvalidArgument{Why: fmt.Sprintf("import: unknown object type %q", rec.Type)}
	}

	if string(digest) != rec.Hash {
		return &vcserr.InvalidArgument{Why: fmt.Sprintf("import: object hash mismatch: stream says %s, recomputed %s", rec.Hash, digest)}
	}
	return backend.PutObject(ctx, digest, objType, data)
}

// RedactField destructively blanks a dotted JSON path (e.g. "memory.api_key")
// in an exported object line, for producing a shareable export that omits
// sensitive fields without re-encrypting the whole blob.
func RedactField(objectJSON []byte, path string) ([]byte, error) {
	redacted, err := sjson.SetBytes(objectJSON, path, "[redacted]")
	if err != nil {
		return nil, vcserr.WrapSerialization("redact field", err)
	}
	return redacted, nil
}
