// Package s3 is a storage.Backend on top of any S3-compatible object
// store. Objects are content-addressed and therefore immutable, so puts
// are skip-if-exists; anything of compressThreshold bytes or more is zstd-compressed
// before upload. Refs and the per-agent audit log are small JSON/JSONL
// files layered on top of the same bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"github.com/agentvcs/agentvcs/internal/hash"
	vstorage "github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// compressThreshold is the byte size at or above which an object is
// zstd-compressed before upload.
const compressThreshold = 1024

// Backend stores objects, refs, and logs under a single S3 bucket,
// namespaced by an optional key prefix.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// Open builds a Backend for bucket, resolving AWS credentials and region
// via the standard SDK default chain (env vars, shared config, instance
// profile). prefix may be "" for no key namespacing.
func Open(ctx context.Context, bucket, prefix string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, vcserr.WrapStorage("load aws config", err)
	}
	return &Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

var _ vstorage.Backend = (*Backend)(nil)

func (b *Backend) objectKey(h hash.Digest) string { return b.prefix + "objects/" + string(h) }
func (b *Backend) refKey(name string) string      { return b.prefix + "refs/" + strings.ReplaceAll(name, "/", "|") }
func (b *Backend) logKey(agentID string) string   { return b.prefix + "logs/" + agentID + ".jsonl" }

// Initialize issues a cheap HeadBucket call to verify access; S3 itself is
// schema-less.
func (b *Backend) Initialize(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return vcserr.WrapStorage(fmt.Sprintf("bucket %q not accessible", b.bucket), err)
	}
	return nil
}

func (b *Backend) getBytes(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, vcserr.WrapStorage("get "+key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, vcserr.WrapStorage("read body "+key, err)
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	if contentType == "application/zstd" {
		data, err = decompress(data)
		if err != nil {
			return nil, false, vcserr.WrapStorage("zstd decode "+key, err)
		}
	}
	return data, true, nil
}

func (b *Backend) putBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		// Mandate server-side encryption for everything this backend writes.
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return vcserr.WrapStorage("put "+key, err)
	}
	return nil
}

func (b *Backend) keyExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, vcserr.WrapStorage("head "+key, err)
	}
	return true, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *Backend) PutObject(ctx context.Context, digest hash.Digest, objType hash.ObjectType, data []byte) error {
	key := b.objectKey(digest)
	exists, err := b.keyExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := data
	contentType := "application/octet-stream"
	if len(data) >= compressThreshold {
		compressed, err := compress(data)
		if err != nil {
			return vcserr.WrapStorage("zstd encode", err)
		}
		body = compressed
		contentType = "application/zstd"
	}
	return b.putBytes(ctx, key, body, contentType)
}

func (b *Backend) GetObject(ctx context.Context, digest hash.Digest) ([]byte, bool, error) {
	return b.getBytes(ctx, b.objectKey(digest))
}

func (b *Backend) HasObject(ctx context.Context, digest hash.Digest) (bool, error) {
	return b.keyExists(ctx, b.objectKey(digest))
}

func (b *Backend) DeleteObject(ctx context.Context, digest hash.Digest) (bool, error) {
	key := b.objectKey(digest)
	exists, err := b.keyExists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}); err != nil {
		return false, vcserr.WrapStorage("delete "+key, err)
	}
	return true, nil
}

func (b *Backend) ListObjects(ctx context.Context) ([]hash.Digest, error) {
	prefix := b.prefix + "objects/"
	var out []hash.Digest
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, vcserr.WrapStorage("list objects", err)
		}
		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			out = append(out, hash.Digest(strings.TrimPrefix(key, prefix)))
		}
		if resp.IsTruncated != nil && *resp.IsTruncated {
			token = resp.NextContinuationToken
			continue
		}
		break
	}
	return out, nil
}

func (b *Backend) SetRef(ctx context.Context, name, value string) error {
	body, err := json.Marshal(map[string]string{"target": value})
	if err != nil {
		return vcserr.WrapSerialization("marshal ref", err)
	}
	return b.putBytes(ctx, b.refKey(name), body, "application/json")
}

func (b *Backend) GetRef(ctx context.Context, name string) (string, bool, error) {
	data, ok, err := b.getBytes(ctx, b.refKey(name))
	if err != nil || !ok {
		return "", ok, err
	}
	var v map[string]string
	if err := json.Unmarshal(data, &v); err != nil {
		return "", false, vcserr.WrapSerialization("unmarshal ref", err)
	}
	return v["target"], true, nil
}

func (b *Backend) ListRefs(ctx context.Context) (map[string]string, error) {
	prefix := b.prefix + "refs/"
	out := make(map[string]string)
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, vcserr.WrapStorage("list refs", err)
		}
		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			rawName := strings.ReplaceAll(strings.TrimPrefix(key, prefix), "|", "/")
			data, ok, err := b.getBytes(ctx, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			var v map[string]string
			if json.Unmarshal(data, &v) == nil {
				if target, ok := v["target"]; ok {
					out[rawName] = target
				}
			}
		}
		if resp.IsTruncated != nil && *resp.IsTruncated {
			token = resp.NextContinuationToken
			continue
		}
		break
	}
	return out, nil
}

func (b *Backend) DeleteRef(ctx context.Context, name string) (bool, error) {
	key := b.refKey(name)
	exists, err := b.keyExists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}); err != nil {
		return false, vcserr.WrapStorage("delete ref "+key, err)
	}
	return true, nil
}

// AppendLog reads the agent's JSONL log, appends one line, and re-uploads.
// S3 has no native append; high-volume writers should front this with a
// queue, but per-agent logs are small enough that read-modify-write is fine.
func (b *Backend) AppendLog(ctx context.Context, entry vstorage.LogEntry) error {
	key := b.logKey(entry.AgentID)
	existing, _, err := b.getBytes(ctx, key)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return vcserr.WrapSerialization("marshal log entry", err)
	}
	line = append(line, '\n')
	body := append(existing, line...)
	return b.putBytes(ctx, key, body, "application/x-ndjson")
}

// QueryLogs reads one agent's log, filter.AgentID's. With an empty
// AgentID it reads the log of agent ID "_global"; it never scans the logs
// of several agents, which would need an unbounded bucket listing.
func (b *Backend) QueryLogs(ctx context.Context, filter vstorage.LogFilter) ([]vstorage.LogEntry, error) {
	agentID := filter.AgentID
	if agentID == "" {
		agentID = "_global"
	}
	data, ok, err := b.getBytes(ctx, b.logKey(agentID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var entries []vstorage.LogEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e vstorage.LogEntry
		if json.Unmarshal(line, &e) == nil {
			entries = append(entries, e)
		}
	}

	filtered := entries[:0]
	for _, e := range entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		filtered = append(filtered, e)
	}

	// JSONL append order is oldest-first; reverse for newest-first.
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered, nil
}

func (b *Backend) Close() error { return nil }
