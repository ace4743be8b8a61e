package gc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/refstore"
	"github.com/agentvcs/agentvcs/internal/storage/memory"
	"github.com/agentvcs/agentvcs/internal/store"
)

func putCommit(t *testing.T, backend *memory.Backend, message string, parents ...hash.Digest) hash.Digest {
	t.Helper()
	ctx := context.Background()

	blob := store.NewBlob(map[string]any{"memory": message})
	blobData, err := blob.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes: %v", err)
	}
	blobHash, err := blob.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if err := backend.PutObject(ctx, blobHash, hash.Blob, blobData); err != nil {
		t.Fatalf("PutObject(blob): %v", err)
	}

	commit := store.Commit{
		TreeHash:     blobHash,
		ParentHashes: parents,
		Message:      message,
		Author:       "test",
		Timestamp:    time.Now().UTC(),
		ActionType:   store.ActionCheckpoint,
		Metadata:     map[string]any{},
	}
	commitHash, err := commit.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	data, err := json.Marshal(commit)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := backend.PutObject(ctx, commitHash, hash.Commit, data); err != nil {
		t.Fatalf("PutObject(commit): %v", err)
	}
	return commitHash
}

func TestRunRemovesUnreachableObjects(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	c1 := putCommit(t, backend, "first")
	c2 := putCommit(t, backend, "second", c1)
	orphan := putCommit(t, backend, "orphan")

	refs := refstore.New()
	_ = refs.CreateBranch("main", c2)

	before, _ := backend.ListObjects(ctx)
	result, err := Run(ctx, backend, refs, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ObjectsBefore != len(before) {
		t.Errorf("ObjectsBefore = %d, want %d", result.ObjectsBefore, len(before))
	}
	if result.ObjectsRemoved == 0 {
		t.Errorf("expected some objects removed")
	}

	if has, _ := backend.HasObject(ctx, orphan); has {
		t.Errorf("expected orphan commit to be collected")
	}
	if has, _ := backend.HasObject(ctx, c1); !has {
		t.Errorf("expected c1 to remain reachable via parent chain")
	}
	if has, _ := backend.HasObject(ctx, c2); !has {
		t.Errorf("expected branch tip to remain")
	}
}

func TestRunNoBranchesIsNoop(t *testing.T) {
	backend := memory.New()
	refs := refstore.New()
	result, err := Run(context.Background(), backend, refs, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != (Result{}) {
		t.Errorf("expected zero-value result, got %+v", result)
	}
}

func TestSquashCollapsesRange(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	root := putCommit(t, backend, "root")
	c1 := putCommit(t, backend, "step 1", root)
	c2 := putCommit(t, backend, "step 2", c1)
	c3 := putCommit(t, backend, "step 3", c2)

	refs := refstore.New()
	_ = refs.CreateBranch("main", c3)

	result, err := Squash(ctx, backend, refs, "agent-1", "main", c1, c3)
	if err != nil {
		t.Fatalf("Squash: %v", err)
	}
	if result.CommitsSquashed != 3 {
		t.Errorf("expected 3 commits squashed, got %d", result.CommitsSquashed)
	}

	newCommitData, ok, err := backend.GetObject(ctx, result.NewHash)
	if err != nil || !ok {
		t.Fatalf("expected new squashed commit to be stored, ok=%v err=%v", ok, err)
	}
	var newCommit store.Commit
	if err := json.Unmarshal(newCommitData, &newCommit); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(newCommit.ParentHashes) != 1 || newCommit.ParentHashes[0] != root {
		t.Errorf("expected squashed commit parent to be root, got %v", newCommit.ParentHashes)
	}

	branchHash, ok := refs.BranchHash("main")
	if !ok || branchHash != result.NewHash {
		t.Errorf("expected branch to point at squashed commit, got %v, %v", branchHash, ok)
	}
}
