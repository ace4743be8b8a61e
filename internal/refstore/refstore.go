// Package refstore tracks HEAD and branch pointers: the mutable naming
// layer sitting on top of the immutable, content-addressed commit graph
// in internal/store.
package refstore

import (
	"strings"
	"sync"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

const mainBranch = "main"

// Head points either at a branch name (attached) or directly at a commit
// (detached). Exactly one of Branch/Commit is meaningful, selected by
// Attached.
type Head struct {
	Attached bool
	Branch   string
	Commit   hash.Digest
}

func attachedHead(branch string) Head { return Head{Attached: true, Branch: branch} }
func detachedHead(h hash.Digest) Head { return Head{Attached: false, Commit: h} }

// Store is the in-memory reference table: HEAD plus the branch-to-commit
// map. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	head     Head
	branches map[string]hash.Digest
}

// New returns a Store with HEAD attached to main and no branches created.
func New() *Store {
	return &Store{
		head:     attachedHead(mainBranch),
		branches: make(map[string]hash.Digest),
	}
}

// Head returns the current HEAD value.
func (s *Store) Head() Head {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// CurrentBranch returns the attached branch name, or "" if HEAD is detached.
func (s *Store) CurrentBranch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.head.Attached {
		return ""
	}
	return s.head.Branch
}

// SetHead attaches HEAD to a branch, or detaches it to a specific commit.
func (s *Store) SetHead(target string, detach bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if detach {
		s.head = detachedHead(hash.Digest(target))
	} else {
		s.head = attachedHead(target)
	}
}

// CreateBranch records a new branch pointing at the given commit.
func (s *Store) CreateBranch(name string, at hash.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.branches[name]; exists {
		return &vcserr.BranchExists{Name: name}
	}
	s.branches[name] = at
	return nil
}

// UpdateBranch moves an existing branch to a new commit.
func (s *Store) UpdateBranch(name string, at hash.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.branches[name]; !exists {
		return &vcserr.BranchNotFound{Name: name}
	}
	s.branches[name] = at
	return nil
}

// DeleteBranch removes a branch. main can never be deleted.
func (s *Store) DeleteBranch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == mainBranch {
		return &vcserr.InvalidArgument{Why: "cannot delete main branch"}
	}
	if _, exists := s.branches[name]; !exists {
		return &vcserr.BranchNotFound{Name: name}
	}
	delete(s.branches, name)
	return nil
}

// ListBranches returns a snapshot copy of the branch table.
func (s *Store) ListBranches() map[string]hash.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]hash.Digest, len(s.branches))
	for k, v := range s.branches {
		out[k] = v
	}
	return out
}

// BranchHash returns the commit a branch points at.
func (s *Store) BranchHash(name string) (hash.Digest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.branches[name]
	return h, ok
}

// Resolve looks up a ref name. "HEAD" follows an attached branch or
// returns the detached commit directly; any other name is a branch.
func (s *Store) Resolve(name string) (hash.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "HEAD" {
		if s.head.Attached {
			h, ok := s.branches[s.head.Branch]
			if !ok {
				return "", &vcserr.NoCommits{}
			}
			return h, nil
		}
		return s.head.Commit, nil
	}
	h, ok := s.branches[name]
	if !ok {
		return "", &vcserr.BranchNotFound{Name: name}
	}
	return h, nil
}

// ToMap serializes HEAD and every branch into the flat string map used by
// storage backends: HEAD is "ref:<branch>" when attached, or the raw
// commit hash when detached.
func (s *Store) ToMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.branches)+1)
	if s.head.Attached {
		out["HEAD"] = "ref:" + s.head.Branch
	} else {
		out["HEAD"] = string(s.head.Commit)
	}
	for name, h := range s.branches {
		out[name] = string(h)
	}
	return out
}

// LoadFromMap replaces HEAD and the branch table from a persisted map,
// the inverse of ToMap.
func (s *Store) LoadFromMap(refs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branches := make(map[string]hash.Digest)
	head := attachedHead(mainBranch)
	for name, value := range refs {
		if name == "HEAD" {
			if branch, ok := strings.CutPrefix(value, "ref:"); ok {
				head = attachedHead(branch)
			} else {
				head = detachedHead(hash.Digest(value))
			}
			continue
		}
		branches[name] = hash.Digest(value)
	}
	s.head = head
	s.branches = branches
}
