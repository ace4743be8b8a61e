// Package storage defines the pluggable backend interface that every
// agentvcs repository is built on: content-addressed object storage, a
// flat ref table, and an append-only audit log. Concrete backends live in
// internal/storage/memory, internal/storage/sqlite, internal/storage/postgres,
// and internal/storage/s3.
package storage

import (
	"context"
	"time"

	"github.com/agentvcs/agentvcs/internal/hash"
)

// LogEntry is one row of the audit log.
type LogEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	AgentID    string         `json:"agent_id"`
	Action     string         `json:"action"`
	Message    string         `json:"message"`
	CommitHash *hash.Digest   `json:"commit_hash,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Level      string         `json:"level"`

	// IntegrityHash chains this entry to the previous one for the same
	// agent, making the log tamper-evident.
	IntegrityHash     string `json:"integrity_hash"`
	PrevIntegrityHash string `json:"prev_integrity_hash,omitempty"`
}

// LogFilter narrows a QueryLogs call. Zero-value fields are unconstrained.
type LogFilter struct {
	AgentID string
	Action  string
	Level   string
	Limit   int
	Since   time.Time
}

// Backend is the interface every storage implementation satisfies. All
// methods are safe for concurrent use and take a context so backends that
// cross the network (Postgres, S3) can honor cancellation and deadlines.
type Backend interface {
	// Initialize prepares the backend for use: creating tables, buckets,
	// or in-memory structures. Must be idempotent.
	Initialize(ctx context.Context) error

	// PutObject stores a content-addressed object, keyed by its digest.
	PutObject(ctx context.Context, digest hash.Digest, objType hash.ObjectType, data []byte) error
	// GetObject retrieves an object's bytes, or (nil, false, nil) if absent.
	GetObject(ctx context.Context, digest hash.Digest) ([]byte, bool, error)
	// HasObject reports whether an object exists without fetching it.
	HasObject(ctx context.Context, digest hash.Digest) (bool, error)
	// DeleteObject removes an object, reporting whether it existed.
	DeleteObject(ctx context.Context, digest hash.Digest) (bool, error)
	// ListObjects enumerates every stored object digest. Used by GC's
	// sweep phase; backends may page internally but must return the
	// complete set.
	ListObjects(ctx context.Context) ([]hash.Digest, error)

	// SetRef points a named reference (branch name or "HEAD") at a value.
	// The value is either a raw digest or, for HEAD, "ref:<branch>". The
	// repository also keeps its schema version under the "schema-version" ref.
	SetRef(ctx context.Context, name, value string) error
	// GetRef reads a reference's raw value, or ("", false, nil) if absent.
	GetRef(ctx context.Context, name string) (string, bool, error)
	// ListRefs returns every stored reference.
	ListRefs(ctx context.Context) (map[string]string, error)
	// DeleteRef removes a reference, reporting whether it existed.
	DeleteRef(ctx context.Context, name string) (bool, error)

	// AppendLog appends one audit entry.
	AppendLog(ctx context.Context, entry LogEntry) error
	// QueryLogs returns entries matching filter, newest first.
	QueryLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)

	// Close releases any held resources (file handles, connection pools).
	Close() error
}
