package store

import (
	"time"

	"github.com/agentvcs/agentvcs/internal/canon"
	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// Blob is the content-addressed wrapper around one agent state snapshot.
type Blob struct {
	Data map[string]any
}

// NewBlob wraps data as a Blob.
func NewBlob(data map[string]any) Blob {
	return Blob{Data: data}
}

// CanonicalBytes returns the canonical encoding used both for hashing and
// for the on-disk wire format (§6.2).
func (b Blob) CanonicalBytes() ([]byte, error) {
	data, err := canon.Encode(b.Data)
	if err != nil {
		return nil, vcserr.WrapSerialization("blob canonical encode", err)
	}
	return data, nil
}

// Digest computes the blob's content-addressed hash.
func (b Blob) Digest() (hash.Digest, error) {
	data, err := b.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return hash.Of(hash.Blob, data), nil
}

// Commit is a node in the commit DAG: a pointer to a state tree plus
// parent links and action metadata.
type Commit struct {
	TreeHash     hash.Digest    `json:"tree_hash"`
	ParentHashes []hash.Digest  `json:"parent_hashes"`
	Message      string         `json:"message"`
	Author       string         `json:"author"`
	Timestamp    time.Time      `json:"timestamp"`
	ActionType   ActionTag      `json:"action_type"`
	Metadata     map[string]any `json:"metadata"`
}

// CanonicalBytes serializes exactly the 7 semantic fields, with the
// timestamp rendered as RFC3339 before canonicalization, isolating the
// digest from accidental inclusion of non-semantic fields.
func (c Commit) CanonicalBytes() ([]byte, error) {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	parents := make([]any, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = string(p)
	}
	projection := map[string]any{
		"tree_hash":     string(c.TreeHash),
		"parent_hashes": parents,
		"message":       c.Message,
		"author":        c.Author,
		"timestamp":     c.Timestamp.UTC().Format(time.RFC3339),
		"action_type":   c.ActionType.String(),
		"metadata":      metadata,
	}
	data, err := canon.Encode(projection)
	if err != nil {
		return nil, vcserr.WrapSerialization("commit canonical encode", err)
	}
	return data, nil
}

// Digest computes the commit's content-addressed hash.
func (c Commit) Digest() (hash.Digest, error) {
	data, err := c.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return hash.Of(hash.Commit, data), nil
}

// IsRoot reports whether this commit has no parents.
func (c Commit) IsRoot() bool { return len(c.ParentHashes) == 0 }

// IsMerge reports whether this commit has exactly two parents.
func (c Commit) IsMerge() bool { return len(c.ParentHashes) == 2 }
