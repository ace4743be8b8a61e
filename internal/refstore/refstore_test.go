package refstore

import (
	"errors"
	"testing"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

func TestNewDefaultsToAttachedMain(t *testing.T) {
	s := New()
	head := s.Head()
	if !head.Attached || head.Branch != "main" {
		t.Errorf("expected HEAD attached to main, got %+v", head)
	}
	if s.CurrentBranch() != "main" {
		t.Errorf("CurrentBranch() = %q, want main", s.CurrentBranch())
	}
}

func TestCreateUpdateDeleteBranch(t *testing.T) {
	s := New()
	if err := s.CreateBranch("feature", hash.Digest("h1")); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := s.CreateBranch("feature", hash.Digest("h2")); err == nil {
		t.Errorf("expected BranchExists error on duplicate create")
	}

	if err := s.UpdateBranch("feature", hash.Digest("h2")); err != nil {
		t.Fatalf("UpdateBranch: %v", err)
	}
	h, ok := s.BranchHash("feature")
	if !ok || h != hash.Digest("h2") {
		t.Errorf("BranchHash = %v, %v; want h2, true", h, ok)
	}

	if err := s.DeleteBranch("feature"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if _, ok := s.BranchHash("feature"); ok {
		t.Errorf("expected feature branch to be gone")
	}
}

func TestDeleteBranchRejectsMain(t *testing.T) {
	s := New()
	err := s.DeleteBranch("main")
	if err == nil {
		t.Fatalf("expected error deleting main")
	}
	var invalid *vcserr.InvalidArgument
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidArgument, got %T: %v", err, err)
	}
}

func TestUpdateDeleteNonexistentBranch(t *testing.T) {
	s := New()
	if err := s.UpdateBranch("ghost", hash.Digest("h1")); err == nil {
		t.Errorf("expected BranchNotFound on UpdateBranch")
	}
	if err := s.DeleteBranch("ghost"); err == nil {
		t.Errorf("expected BranchNotFound on DeleteBranch")
	}
}

func TestSetHeadAttachAndDetach(t *testing.T) {
	s := New()
	_ = s.CreateBranch("dev", hash.Digest("h1"))

	s.SetHead("dev", false)
	if s.CurrentBranch() != "dev" {
		t.Errorf("expected attached to dev, got %q", s.CurrentBranch())
	}

	s.SetHead("deadbeef", true)
	head := s.Head()
	if head.Attached || head.Commit != hash.Digest("deadbeef") {
		t.Errorf("expected detached HEAD at deadbeef, got %+v", head)
	}
	if s.CurrentBranch() != "" {
		t.Errorf("expected empty current branch while detached")
	}
}

func TestResolveHeadAndBranch(t *testing.T) {
	s := New()
	if _, err := s.Resolve("HEAD"); err == nil {
		t.Errorf("expected NoCommits before any commit on main")
	}

	_ = s.CreateBranch("main", hash.Digest("h1"))
	h, err := s.Resolve("HEAD")
	if err != nil {
		t.Fatalf("Resolve(HEAD): %v", err)
	}
	if h != hash.Digest("h1") {
		t.Errorf("Resolve(HEAD) = %v, want h1", h)
	}

	if _, err := s.Resolve("missing-branch"); err == nil {
		t.Errorf("expected BranchNotFound for unknown ref")
	}
}

func TestToMapLoadFromMapRoundTrip(t *testing.T) {
	s := New()
	_ = s.CreateBranch("main", hash.Digest("root"))
	_ = s.CreateBranch("feature", hash.Digest("f1"))
	s.SetHead("feature", false)

	serialized := s.ToMap()
	if serialized["HEAD"] != "ref:feature" {
		t.Errorf("expected HEAD to serialize as ref:feature, got %q", serialized["HEAD"])
	}

	restored := New()
	restored.LoadFromMap(serialized)

	if restored.CurrentBranch() != "feature" {
		t.Errorf("expected restored HEAD on feature, got %q", restored.CurrentBranch())
	}
	h, ok := restored.BranchHash("main")
	if !ok || h != hash.Digest("root") {
		t.Errorf("expected restored main at root, got %v, %v", h, ok)
	}
}

func TestToMapDetachedHead(t *testing.T) {
	s := New()
	s.SetHead("somecommit", true)
	serialized := s.ToMap()
	if serialized["HEAD"] != "somecommit" {
		t.Errorf("expected raw commit hash for detached HEAD, got %q", serialized["HEAD"])
	}

	restored := New()
	restored.LoadFromMap(serialized)
	head := restored.Head()
	if head.Attached || head.Commit != hash.Digest("somecommit") {
		t.Errorf("expected restored detached HEAD, got %+v", head)
	}
}

func TestListBranchesIsASnapshotCopy(t *testing.T) {
	s := New()
	_ = s.CreateBranch("a", hash.Digest("h1"))

	branches := s.ListBranches()
	branches["a"] = hash.Digest("tampered")

	h, _ := s.BranchHash("a")
	if h != hash.Digest("h1") {
		t.Errorf("expected ListBranches to return an independent copy, store mutated to %v", h)
	}
}
