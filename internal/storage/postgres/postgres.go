// Package postgres is a multi-tenant storage.Backend on top of
// PostgreSQL: every row carries a namespace column so many agents (or
// many repositories) can share one database without colliding.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
    namespace  TEXT NOT NULL,
    hash       TEXT NOT NULL,
    obj_type   TEXT NOT NULL,
    data       BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, hash)
);

CREATE TABLE IF NOT EXISTS refs (
    namespace  TEXT NOT NULL,
    name       TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, name)
);

CREATE TABLE IF NOT EXISTS logs (
    namespace           TEXT NOT NULL,
    id                  TEXT NOT NULL,
    timestamp           TIMESTAMPTZ NOT NULL,
    agent_id            TEXT NOT NULL,
    action              TEXT NOT NULL,
    message             TEXT NOT NULL,
    commit_hash         TEXT,
    details             JSONB,
    level               TEXT NOT NULL DEFAULT 'info',
    integrity_hash      TEXT NOT NULL,
    prev_integrity_hash TEXT,
    PRIMARY KEY (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(namespace, timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_agent_id  ON logs(namespace, agent_id);
`

// Backend is a storage.Backend scoped to one namespace within a shared
// PostgreSQL database. Every composite key is prefixed with namespace so
// multiple tenants can share the schema.
type Backend struct {
	db        *sql.DB
	namespace string
}

// Open connects to PostgreSQL using connStr (a libpq connection string or
// URL) and scopes all operations to namespace.
func Open(ctx context.Context, connStr, namespace string) (*Backend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, vcserr.WrapStorage("open postgres connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, vcserr.WrapStorage("ping postgres", err)
	}
	return &Backend{db: db, namespace: namespace}, nil
}

var _ storage.Backend = (*Backend)(nil)

func (b *Backend) Initialize(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return vcserr.WrapStorage("create schema", err)
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, digest hash.Digest, objType hash.ObjectType, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO objects (namespace, hash, obj_type, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, hash) DO NOTHING`,
		b.namespace, string(digest), string(objType), data)
	if err != nil {
		return vcserr.WrapStorage("put object", err)
	}
	return nil
}

func (b *Backend) GetObject(ctx context.Context, digest hash.Digest) ([]byte, bool, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE namespace = $1 AND hash = $2`, b.namespace, string(digest)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, vcserr.WrapStorage("get object", err)
	}
	return data, true, nil
}

func (b *Backend) HasObject(ctx context.Context, digest hash.Digest) (bool, error) {
	var exists int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE namespace = $1 AND hash = $2`, b.namespace, string(digest)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, vcserr.WrapStorage("has object", err)
	}
	return true, nil
}

func (b *Backend) DeleteObject(ctx context.Context, digest hash.Digest) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM objects WHERE namespace = $1 AND hash = $2`, b.namespace, string(digest))
	if err != nil {
		return false, vcserr.WrapStorage("delete object", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, vcserr.WrapStorage("delete object rows affected", err)
	}
	return n > 0, nil
}

func (b *Backend) ListObjects(ctx context.Context) ([]hash.Digest, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT hash FROM objects WHERE namespace = $1`, b.namespace)
	if err != nil {
		return nil, vcserr.WrapStorage("list objects", err)
	}
	defer rows.Close()

	var out []hash.Digest
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, vcserr.WrapStorage("scan object hash", err)
		}
		out = append(out, hash.Digest(h))
	}
	return out, rows.Err()
}

func (b *Backend) SetRef(ctx context.Context, name, value string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO refs (namespace, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, name) DO UPDATE SET value = excluded.value, updated_at = NOW()`,
		b.namespace, name, value)
	if err != nil {
		return vcserr.WrapStorage("set ref", err)
	}
	return nil
}

func (b *Backend) GetRef(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM refs WHERE namespace = $1 AND name = $2`, b.namespace, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, vcserr.WrapStorage("get ref", err)
	}
	return value, true, nil
}

func (b *Backend) ListRefs(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, value FROM refs WHERE namespace = $1`, b.namespace)
	if err != nil {
		return nil, vcserr.WrapStorage("list refs", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, vcserr.WrapStorage("scan ref", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (b *Backend) DeleteRef(ctx context.Context, name string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM refs WHERE namespace = $1 AND name = $2`, b.namespace, name)
	if err != nil {
		return false, vcserr.WrapStorage("delete ref", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, vcserr.WrapStorage("delete ref rows affected", err)
	}
	return n > 0, nil
}

func (b *Backend) AppendLog(ctx context.Context, entry storage.LogEntry) error {
	var commitHash any
	if entry.CommitHash != nil {
		commitHash = string(*entry.CommitHash)
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return vcserr.WrapSerialization("marshal log details", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO logs (namespace, id, timestamp, agent_id, action, message, commit_hash, details, level, integrity_hash, prev_integrity_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.namespace, entry.ID, entry.Timestamp.UTC(), entry.AgentID, entry.Action, entry.Message,
		commitHash, string(details), entry.Level, entry.IntegrityHash, entry.PrevIntegrityHash)
	if err != nil {
		return vcserr.WrapStorage("append log", err)
	}
	return nil
}

func (b *Backend) QueryLogs(ctx context.Context, filter storage.LogFilter) ([]storage.LogEntry, error) {
	query := `SELECT id, timestamp, agent_id, action, message, commit_hash, details, level, integrity_hash, prev_integrity_hash
	          FROM logs WHERE namespace = $1`
	args := []any{b.namespace}
	argn := func() string {
		args = append(args, nil)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AgentID != "" {
		ph := argn()
		args[len(args)-1] = filter.AgentID
		query += " AND agent_id = " + ph
	}
	if filter.Action != "" {
		ph := argn()
		args[len(args)-1] = filter.Action
		query += " AND action = " + ph
	}
	if filter.Level != "" {
		ph := argn()
		args[len(args)-1] = filter.Level
		query += " AND level = " + ph
	}
	if !filter.Since.IsZero() {
		ph := argn()
		args[len(args)-1] = filter.Since.UTC()
		query += " AND timestamp >= " + ph
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vcserr.WrapStorage("query logs", err)
	}
	defer rows.Close()

	var out []storage.LogEntry
	for rows.Next() {
		var (
			e          storage.LogEntry
			ts         time.Time
			commitHash sql.NullString
			details    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.AgentID, &e.Action, &e.Message, &commitHash, &details, &e.Level, &e.IntegrityHash, &e.PrevIntegrityHash); err != nil {
			return nil, vcserr.WrapStorage("scan log row", err)
		}
		e.Timestamp = ts
		if commitHash.Valid {
			h := hash.Digest(commitHash.String)
			e.CommitHash = &h
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, vcserr.WrapSerialization("unmarshal log details", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *Backend) Close() error { return b.db.Close() }
