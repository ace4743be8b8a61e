// Package sqlite is the embedded storage backend: a single-file SQLite
// database holding objects, refs, and the audit log, suitable for a
// single-process agent or local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// logTimestampLayout renders log timestamps with a fixed-width fraction so
// that the text column sorts in time order.
const logTimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Backend is a storage.Backend implementation on top of SQLite.
type Backend struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open connects to (creating if absent) the SQLite database at path, with
// WAL journaling, synchronous=NORMAL and a 5s busy timeout. It first takes
// an exclusive OS-level file lock on path+".lock", retrying until it is
// free or ctx is done, and holds it until Close, so only one Backend at a
// time has the database open.
func Open(ctx context.Context, path string) (*Backend, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, vcserr.WrapStorage("acquire sqlite lock", fmt.Errorf("locked=%v err=%w", locked, err))
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		lock.Unlock()
		return nil, vcserr.WrapStorage("open sqlite database", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, vcserr.WrapStorage("set journal_mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, vcserr.WrapStorage("set synchronous", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, vcserr.WrapStorage("set busy_timeout", err)
	}
	return &Backend{db: db, lock: lock, path: path}, nil
}

var _ storage.Backend = (*Backend)(nil)

// Initialize creates the objects, refs, and logs tables if absent.
func (b *Backend) Initialize(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return vcserr.WrapStorage("create schema", err)
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, digest hash.Digest, objType hash.ObjectType, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO objects (hash, obj_type, data) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		string(digest), string(objType), data)
	if err != nil {
		return vcserr.WrapStorage("put object", err)
	}
	return nil
}

func (b *Backend) GetObject(ctx context.Context, digest hash.Digest) ([]byte, bool, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE hash = ?`, string(digest)).Scan(&data)
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
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE hash = ?`, string(digest)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, vcserr.WrapStorage("has object", err)
	}
	return true, nil
}

func (b *Backend) DeleteObject(ctx context.Context, digest hash.Digest) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE hash = ?`, string(digest))
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
	rows, err := b.db.QueryContext(ctx, `SELECT hash FROM objects`)
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
		`INSERT INTO refs (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value)
	if err != nil {
		return vcserr.WrapStorage("set ref", err)
	}
	return nil
}

func (b *Backend) GetRef(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM refs WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, vcserr.WrapStorage("get ref", err)
	}
	return value, true, nil
}

func (b *Backend) ListRefs(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, value FROM refs`)
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
	res, err := b.db.ExecContext(ctx, `DELETE FROM refs WHERE name = ?`, name)
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
		`INSERT INTO logs (id, timestamp, agent_id, action, message, commit_hash, details, level, integrity_hash, prev_integrity_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(logTimestampLayout), entry.AgentID, entry.Action,
		entry.Message, commitHash, string(details), entry.Level, entry.IntegrityHash, entry.PrevIntegrityHash)
	if err != nil {
		return vcserr.WrapStorage("append log", err)
	}
	return nil
}

func (b *Backend) QueryLogs(ctx context.Context, filter storage.LogFilter) ([]storage.LogEntry, error) {
	query := `SELECT id, timestamp, agent_id, action, message, commit_hash, details, level, integrity_hash, prev_integrity_hash
	          FROM logs WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(logTimestampLayout))
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
			ts         string
			commitHash sql.NullString
			details    string
		)
		if err := rows.Scan(&e.ID, &ts, &e.AgentID, &e.Action, &e.Message, &commitHash, &details, &e.Level, &e.IntegrityHash, &e.PrevIntegrityHash); err != nil {
			return nil, vcserr.WrapStorage("scan log row", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, vcserr.WrapStorage("parse log timestamp", err)
		}
		e.Timestamp = parsed
		if commitHash.Valid {
			h := hash.Digest(commitHash.String)
			e.CommitHash = &h
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, vcserr.WrapSerialization("unmarshal log details", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *Backend) Close() error {
	err := b.db.Close()
	b.lock.Unlock()
	return err
}
