// Package gc implements mark-and-sweep garbage collection and commit
// squashing over a repository's object store.
package gc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/refstore"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/store"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// sweepDeleteConcurrency bounds how many DeleteObject calls run at once,
// so a large sweep against a networked backend (Postgres, S3) doesn't
// open unbounded concurrent connections.
const sweepDeleteConcurrency = 16

// sweepDelete deletes every digest in toDelete concurrently, returning the
// count actually removed.
func sweepDelete(ctx context.Context, backend storage.Backend, toDelete []hash.Digest) (int, error) {
	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepDeleteConcurrency)

	for _, h := range toDelete {
		h := h
		g.Go(func() error {
			deleted, err := backend.DeleteObject(gctx, h)
			if err != nil {
				return err
			}
			if deleted {
				removed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(removed.Load()), nil
}

// Result reports the outcome of a Run.
type Result struct {
	ObjectsBefore  int
	ObjectsRemoved int
	ObjectsAfter   int
}

// SquashResult reports the outcome of a Squash.
type SquashResult struct {
	NewHash         hash.Digest
	CommitsSquashed int
	Message         string
}

// CollectReachable walks commits and their tree (blob) hashes breadth-first
// from roots, returning the full reachable set.
func CollectReachable(ctx context.Context, backend storage.Backend, roots []hash.Digest) (map[hash.Digest]struct{}, error) {
	reachable := make(map[hash.Digest]struct{})
	queue := append([]hash.Digest{}, roots...)

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := reachable[h]; ok {
			continue
		}
		reachable[h] = struct{}{}

		data, ok, err := backend.GetObject(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var commit store.Commit
		if err := json.Unmarshal(data, &commit); err == nil && commit.TreeHash != "" {
			if _, ok := reachable[commit.TreeHash]; !ok {
				queue = append(queue, commit.TreeHash)
			}
			for _, parent := range commit.ParentHashes {
				if _, ok := reachable[parent]; !ok {
					queue = append(queue, parent)
				}
			}
		}
	}
	return reachable, nil
}

// Run deletes every stored object unreachable from any branch tip. When
// keepLastN is positive, the first-parent chain of up to keepLastN commits
// per branch (and their tree blobs) is additionally marked reachable even
// if it would otherwise be collected, giving callers a recent-history
// safety margin independent of squashing.
func Run(ctx context.Context, backend storage.Backend, refs *refstore.Store, keepLastN int) (Result, error) {
	branches := refs.ListBranches()
	if len(branches) == 0 {
		return Result{}, nil
	}

	roots := make([]hash.Digest, 0, len(branches))
	for _, h := range branches {
		roots = append(roots, h)
	}

	reachable, err := CollectReachable(ctx, backend, roots)
	if err != nil {
		return Result{}, err
	}

	if keepLastN > 0 {
		for _, root := range roots {
			queue := []hash.Digest{root}
			count := 0
			for len(queue) > 0 && count < keepLastN {
				h := queue[0]
				queue = queue[1:]
				reachable[h] = struct{}{}
				count++

				data, ok, err := backend.GetObject(ctx, h)
				if err != nil {
					return Result{}, err
				}
				if !ok {
					continue
				}
				var commit store.Commit
				if err := json.Unmarshal(data, &commit); err == nil && commit.TreeHash != "" {
					reachable[commit.TreeHash] = struct{}{}
					if len(commit.ParentHashes) > 0 {
						if _, ok := reachable[commit.ParentHashes[0]]; !ok {
							queue = append(queue, commit.ParentHashes[0])
						}
					}
				}
			}
		}
	}

	all, err := backend.ListObjects(ctx)
	if err != nil {
		return Result{}, err
	}

	var toDelete []hash.Digest
	for _, h := range all {
		if _, ok := reachable[h]; !ok {
			toDelete = append(toDelete, h)
		}
	}
	removed, err := sweepDelete(ctx, backend, toDelete)
	if err != nil {
		return Result{}, err
	}

	return Result{
		ObjectsBefore:  len(all),
		ObjectsRemoved: removed,
		ObjectsAfter:   len(all) - removed,
	}, nil
}

// Squash collapses the inclusive commit range [fromHash, toHash], walked
// via first-parent from toHash backward, into one new commit. The new
// commit's tree is toHash's state and its parents are fromHash's parents;
// its message lists the squashed commits' messages oldest-first.
func Squash(ctx context.Context, backend storage.Backend, refs *refstore.Store, agentID, branch string, fromHash, toHash hash.Digest) (SquashResult, error) {
	var commitsInRange []store.Commit
	current := toHash

	for {
		data, ok, err := backend.GetObject(ctx, current)
		if err != nil {
			return SquashResult{}, err
		}
		if !ok {
			return SquashResult{}, &vcserr.ObjectNotFound{Hash: string(current)}
		}
		var commit store.Commit
		if err := json.Unmarshal(data, &commit); err != nil {
			return SquashResult{}, vcserr.WrapSerialization("decode commit in squash range", err)
		}
		commitsInRange = append(commitsInRange, commit)

		if current == fromHash {
			break
		}
		if len(commit.ParentHashes) == 0 {
			return SquashResult{}, &vcserr.InvalidArgument{Why: "squash range start is not a first-parent ancestor of its end"}
		}
		current = commit.ParentHashes[0]
	}

	if len(commitsInRange) == 0 {
		return SquashResult{}, &vcserr.InvalidArgument{Why: "no commits found in squash range"}
	}

	finalCommit := commitsInRange[0]

	stateData, ok, err := backend.GetObject(ctx, finalCommit.TreeHash)
	if err != nil {
		return SquashResult{}, err
	}
	if !ok {
		return SquashResult{}, &vcserr.ObjectNotFound{Hash: string(finalCommit.TreeHash)}
	}

	fromData, ok, err := backend.GetObject(ctx, fromHash)
	if err != nil {
		return SquashResult{}, err
	}
	if !ok {
		return SquashResult{}, &vcserr.ObjectNotFound{Hash: string(fromHash)}
	}
	var fromCommit store.Commit
	if err := json.Unmarshal(fromData, &fromCommit); err != nil {
		return SquashResult{}, vcserr.WrapSerialization("decode from-commit in squash", err)
	}

	messages := make([]string, len(commitsInRange))
	for i, c := range commitsInRange {
		messages[len(commitsInRange)-1-i] = c.Message
	}
	squashMessage := fmt.Sprintf("squash %d commits: %s", len(commitsInRange), joinMessages(messages))

	newCommit := store.Commit{
		TreeHash:     finalCommit.TreeHash,
		ParentHashes: fromCommit.ParentHashes,
		Message:      squashMessage,
		Author:       agentID,
		Timestamp:    time.Now().UTC(),
		ActionType:   store.ActionCheckpoint,
		Metadata:     map[string]any{},
	}

	newHash, err := newCommit.Digest()
	if err != nil {
		return SquashResult{}, err
	}
	commitData, err := json.Marshal(newCommit)
	if err != nil {
		return SquashResult{}, vcserr.WrapSerialization("marshal squashed commit", err)
	}

	if err := backend.PutObject(ctx, newHash, hash.Commit, commitData); err != nil {
		return SquashResult{}, err
	}
	if err := backend.PutObject(ctx, finalCommit.TreeHash, hash.Blob, stateData); err != nil {
		return SquashResult{}, err
	}

	if err := refs.UpdateBranch(branch, newHash); err != nil {
		return SquashResult{}, err
	}
	if err := backend.SetRef(ctx, branch, string(newHash)); err != nil {
		return SquashResult{}, err
	}

	return SquashResult{
		NewHash:         newHash,
		CommitsSquashed: len(commitsInRange),
		Message:         squashMessage,
	}, nil
}

func joinMessages(messages []string) string {
	out := ""
	for i, m := range messages {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}
