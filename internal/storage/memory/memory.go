// Package memory is an in-process, non-persistent storage.Backend: a
// plain mutex-guarded map, useful for tests and ephemeral agent sessions
// that don't need durability across restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/storage"
)

type object struct {
	objType hash.ObjectType
	data    []byte
}

// Backend implements storage.Backend entirely in memory.
type Backend struct {
	mu      sync.RWMutex
	objects map[hash.Digest]object
	refs    map[string]string
	logs    []storage.LogEntry
}

// New returns an initialized, empty Backend.
func New() *Backend {
	return &Backend{
		objects: make(map[hash.Digest]object),
		refs:    make(map[string]string),
	}
}

var _ storage.Backend = (*Backend)(nil)

func (b *Backend) Initialize(ctx context.Context) error { return nil }

func (b *Backend) PutObject(ctx context.Context, digest hash.Digest, objType hash.ObjectType, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.objects[digest]; exists {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[digest] = object{objType: objType, data: cp}
	return nil
}

func (b *Backend) GetObject(ctx context.Context, digest hash.Digest) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[digest]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, true, nil
}

func (b *Backend) HasObject(ctx context.Context, digest hash.Digest) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[digest]
	return ok, nil
}

func (b *Backend) DeleteObject(ctx context.Context, digest hash.Digest) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[digest]; !ok {
		return false, nil
	}
	delete(b.objects, digest)
	return true, nil
}

func (b *Backend) ListObjects(ctx context.Context) ([]hash.Digest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]hash.Digest, 0, len(b.objects))
	for d := range b.objects {
		out = append(out, d)
	}
	return out, nil
}

func (b *Backend) SetRef(ctx context.Context, name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[name] = value
	return nil
}

func (b *Backend) GetRef(ctx context.Context, name string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.refs[name]
	return v, ok, nil
}

func (b *Backend) ListRefs(ctx context.Context) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.refs))
	for k, v := range b.refs {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) DeleteRef(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.refs[name]; !ok {
		return false, nil
	}
	delete(b.refs, name)
	return true, nil
}

func (b *Backend) AppendLog(ctx context.Context, entry storage.LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, entry)
	return nil
}

func (b *Backend) QueryLogs(ctx context.Context, filter storage.LogFilter) ([]storage.LogEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []storage.LogEntry
	for _, e := range b.logs {
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (b *Backend) Close() error { return nil }
