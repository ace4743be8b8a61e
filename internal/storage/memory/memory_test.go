package memory

import (
	"context"
	"testing"
	"time"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/storage"
)

func TestPutGetObjectRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()

	digest := hash.Digest("abc123")
	if err := b.PutObject(ctx, digest, hash.Blob, []byte("hello")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	data, ok, err := b.GetObject(ctx, digest)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if !ok || string(data) != "hello" {
		t.Errorf("GetObject = %q, %v; want hello, true", data, ok)
	}

	has, err := b.HasObject(ctx, digest)
	if err != nil || !has {
		t.Errorf("HasObject = %v, %v; want true, nil", has, err)
	}
}

func TestGetObjectMissing(t *testing.T) {
	b := New()
	_, ok, err := b.GetObject(context.Background(), hash.Digest("missing"))
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing object")
	}
}

func TestPutObjectIsIdempotent(t *testing.T) {
	b := New()
	ctx := context.Background()
	digest := hash.Digest("d1")
	_ = b.PutObject(ctx, digest, hash.Blob, []byte("first"))
	_ = b.PutObject(ctx, digest, hash.Blob, []byte("second"))

	data, _, _ := b.GetObject(ctx, digest)
	if string(data) != "first" {
		t.Errorf("expected first write to win, got %q", data)
	}
}

func TestDeleteObject(t *testing.T) {
	b := New()
	ctx := context.Background()
	digest := hash.Digest("d1")
	_ = b.PutObject(ctx, digest, hash.Blob, []byte("x"))

	deleted, err := b.DeleteObject(ctx, digest)
	if err != nil || !deleted {
		t.Fatalf("DeleteObject = %v, %v", deleted, err)
	}
	deleted, err = b.DeleteObject(ctx, digest)
	if err != nil || deleted {
		t.Errorf("expected second delete to report false, got %v, %v", deleted, err)
	}
}

func TestListObjects(t *testing.T) {
	b := New()
	ctx := context.Background()
	_ = b.PutObject(ctx, hash.Digest("a"), hash.Blob, []byte("1"))
	_ = b.PutObject(ctx, hash.Digest("b"), hash.Commit, []byte("2"))

	all, err := b.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 objects, got %d", len(all))
	}
}

func TestRefOperations(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.SetRef(ctx, "main", "h1"); err != nil {
		t.Fatalf("SetRef: %v", err)
	}
	value, ok, err := b.GetRef(ctx, "main")
	if err != nil || !ok || value != "h1" {
		t.Errorf("GetRef = %q, %v, %v; want h1, true, nil", value, ok, err)
	}

	refs, err := b.ListRefs(ctx)
	if err != nil || len(refs) != 1 {
		t.Errorf("ListRefs = %v, %v", refs, err)
	}

	deleted, err := b.DeleteRef(ctx, "main")
	if err != nil || !deleted {
		t.Errorf("DeleteRef = %v, %v", deleted, err)
	}
	if _, ok, _ := b.GetRef(ctx, "main"); ok {
		t.Errorf("expected ref gone after delete")
	}
}

func TestQueryLogsFiltersAndOrders(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = b.AppendLog(ctx, storage.LogEntry{ID: "1", AgentID: "a1", Action: "commit", Timestamp: now.Add(-2 * time.Minute)})
	_ = b.AppendLog(ctx, storage.LogEntry{ID: "2", AgentID: "a1", Action: "commit", Timestamp: now.Add(-1 * time.Minute)})
	_ = b.AppendLog(ctx, storage.LogEntry{ID: "3", AgentID: "a2", Action: "commit", Timestamp: now})

	entries, err := b.QueryLogs(ctx, storage.LogFilter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for a1, got %d", len(entries))
	}
	if entries[0].ID != "2" {
		t.Errorf("expected newest-first ordering, got %s first", entries[0].ID)
	}

	limited, err := b.QueryLogs(ctx, storage.LogFilter{Limit: 1})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to cap results, got %d", len(limited))
	}
}
