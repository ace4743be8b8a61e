package store

import (
	"testing"

	"github.com/agentvcs/agentvcs/internal/hash"
)

func TestBlobDigestStableUnderKeyReorder(t *testing.T) {
	b1 := NewBlob(map[string]any{"memory": "a", "world_state": "b"})
	b2 := NewBlob(map[string]any{"world_state": "b", "memory": "a"})

	d1, err := b1.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	d2, err := b2.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d1 != d2 {
		t.Errorf("expected equal digests for same data, got %s vs %s", d1, d2)
	}
}

func TestBlobDigestChangesWithData(t *testing.T) {
	b1 := NewBlob(map[string]any{"memory": "a"})
	b2 := NewBlob(map[string]any{"memory": "b"})

	d1, _ := b1.Digest()
	d2, _ := b2.Digest()
	if d1 == d2 {
		t.Errorf("expected different digests for different data")
	}
}

func TestCommitIsRootAndIsMerge(t *testing.T) {
	root := Commit{Message: "initial"}
	if !root.IsRoot() {
		t.Errorf("expected commit with no parents to be root")
	}
	if root.IsMerge() {
		t.Errorf("expected commit with no parents not to be a merge")
	}

	single := Commit{ParentHashes: []hash.Digest{"a"}}
	if single.IsRoot() {
		t.Errorf("expected commit with one parent not to be root")
	}
	if single.IsMerge() {
		t.Errorf("expected commit with one parent not to be a merge")
	}

	merge := Commit{ParentHashes: []hash.Digest{"a", "b"}}
	if merge.IsRoot() {
		t.Errorf("expected commit with two parents not to be root")
	}
	if !merge.IsMerge() {
		t.Errorf("expected commit with two parents to be a merge")
	}
}

func TestCommitDigestIgnoresFieldOrderNotValues(t *testing.T) {
	c1 := Commit{TreeHash: "h1", Message: "m", Author: "a", ActionType: ActionCheckpoint, Metadata: map[string]any{"k": "v"}}
	c2 := Commit{TreeHash: "h1", Message: "m", Author: "a", ActionType: ActionCheckpoint, Metadata: map[string]any{"k": "v"}}

	d1, err := c1.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	d2, err := c2.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d1 != d2 {
		t.Errorf("expected identical commits to hash identically")
	}

	c2.Message = "different"
	d3, err := c2.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d1 == d3 {
		t.Errorf("expected different messages to produce different digests")
	}
}
