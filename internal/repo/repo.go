// Package repo implements Repository, the orchestrator that ties the
// object store, ref store, diff, merge, gc, and audit packages together
// into the operations an agent actually calls: commit, branch, checkout,
// diff, merge, log, revert, and garbage collection.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentvcs/agentvcs/internal/audit"
	"github.com/agentvcs/agentvcs/internal/blobfilter"
	"github.com/agentvcs/agentvcs/internal/config"
	"github.com/agentvcs/agentvcs/internal/diff"
	"github.com/agentvcs/agentvcs/internal/exportimport"
	"github.com/agentvcs/agentvcs/internal/gc"
	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/llmsummary"
	"github.com/agentvcs/agentvcs/internal/merge"
	"github.com/agentvcs/agentvcs/internal/refstore"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/store"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// maxMergeBaseDepth caps FindMergeBase's BFS so two branches with no
// common ancestor can't walk the whole object store looking for one.
const maxMergeBaseDepth = 10000

// Repository is the top-level handle an agent holds: one backend, one ref
// store, scoped to one agent identity for commit authorship and audit
// logging.
type Repository struct {
	backend   storage.Backend
	refs      *refstore.Store
	agentID   string
	encryptor *blobfilter.Encryptor
	logger    *audit.Logger
}

// Open initializes backend, checks its stored schema version, and wires a
// Repository around it, loading its ref table into memory.
func Open(ctx context.Context, backend storage.Backend, agentID string) (*Repository, error) {
	if err := backend.Initialize(ctx); err != nil {
		return nil, err
	}
	refs := refstore.New()
	stored, err := backend.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	storedVersion := stored["schema-version"]
	delete(stored, "schema-version")
	if len(stored) > 0 {
		refs.LoadFromMap(stored)
	}

	if err := config.CheckCompatibility(storedVersion); err != nil {
		return nil, err
	}
	if storedVersion == "" {
		if err := backend.SetRef(ctx, "schema-version", config.SchemaVersion); err != nil {
			return nil, err
		}
	}

	r := &Repository{backend: backend, refs: refs, agentID: agentID}
	r.logger = audit.NewLogger(backend, agentID)
	return r, nil
}

// SetAgentID changes the identity used for future commit authorship and
// audit log entries.
func (r *Repository) SetAgentID(agentID string) {
	r.agentID = agentID
	r.logger = audit.NewLogger(r.backend, agentID)
}

// SetEncryptor installs a blob encryptor; every commit's state is sealed
// before it reaches the backend and opened on read. Pass nil to disable.
func (r *Repository) SetEncryptor(enc *blobfilter.Encryptor) {
	r.encryptor = enc
}

func (r *Repository) persistRefs(ctx context.Context) error {
	for name, value := range r.refs.ToMap() {
		if err := r.backend.SetRef(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

// Commit records state as a new commit on the current branch (or, with a
// detached HEAD, moves HEAD alone to the new commit). action classifies
// the commit; it carries no extra metadata (see CommitWithMetadata).
func (r *Repository) Commit(ctx context.Context, state store.AgentState, message string, action store.ActionTag) (hash.Digest, error) {
	return r.CommitWithMetadata(ctx, state, message, action, nil)
}

// CommitWithMetadata is Commit with caller-supplied commit metadata merged
// in (e.g. tool name, tokens spent).
func (r *Repository) CommitWithMetadata(ctx context.Context, state store.AgentState, message string, action store.ActionTag, metadata map[string]any) (hash.Digest, error) {
	value := state.ToValue()

	if r.encryptor != nil {
		encrypted, err := r.encryptor.EncryptState(value)
		if err != nil {
			return "", fmt.Errorf("repo: encrypt state: %w", err)
		}
		value = encrypted
	}

	blob := store.NewBlob(value)
	blobData, err := blob.CanonicalBytes()
	if err != nil {
		return "", err
	}
	blobHash, err := blob.Digest()
	if err != nil {
		return "", err
	}
	if err := r.backend.PutObject(ctx, blobHash, hash.Blob, blobData); err != nil {
		return "", err
	}

	var parents []hash.Digest
	if head, err := r.refs.Resolve("HEAD"); err == nil {
		parents = []hash.Digest{head}
	} else if _, ok := err.(*vcserr.NoCommits); !ok {
		return "", err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	commit := store.Commit{
		TreeHash:     blobHash,
		ParentHashes: parents,
		Message:      message,
		Author:       r.agentID,
		Timestamp:    time.Now().UTC(),
		ActionType:   action,
		Metadata:     metadata,
	}
	commitHash, err := commit.Digest()
	if err != nil {
		return "", err
	}
	commitData, err := json.Marshal(commit)
	if err != nil {
		return "", vcserr.WrapSerialization("marshal commit", err)
	}
	if err := r.backend.PutObject(ctx, commitHash, hash.Commit, commitData); err != nil {
		return "", err
	}

	if err := r.advanceHead(ctx, commitHash); err != nil {
		return "", err
	}

	if err := r.logger.Log(ctx, "commit", message, commitHash); err != nil {
		return "", err
	}
	return commitHash, nil
}

// advanceHead moves HEAD (and, if attached, the current branch) to hash.
func (r *Repository) advanceHead(ctx context.Context, h hash.Digest) error {
	head := r.refs.Head()
	if head.Attached {
		branch := head.Branch
		if _, ok := r.refs.BranchHash(branch); ok {
			if err := r.refs.UpdateBranch(branch, h); err != nil {
				return err
			}
		} else {
			if err := r.refs.CreateBranch(branch, h); err != nil {
				return err
			}
		}
	} else {
		r.refs.SetHead(string(h), true)
	}
	return r.persistRefs(ctx)
}

// Branch creates a new branch at the given commit, or at HEAD if at is
// empty.
func (r *Repository) Branch(ctx context.Context, name string, at hash.Digest) error {
	if at == "" {
		head, err := r.refs.Resolve("HEAD")
		if err != nil {
			return err
		}
		at = head
	}
	if err := r.refs.CreateBranch(name, at); err != nil {
		return err
	}
	if err := r.persistRefs(ctx); err != nil {
		return err
	}
	return r.logger.Log(ctx, "branch", fmt.Sprintf("created branch %s", name), at)
}

// Checkout attaches HEAD to branch, or detaches it directly to a commit
// hash when branch does not name an existing branch and detach is true.
func (r *Repository) Checkout(ctx context.Context, branch string, detach bool) error {
	if _, isBranch := r.refs.BranchHash(branch); detach && !isBranch {
		r.refs.SetHead(branch, true)
	} else {
		if !isBranch {
			return &vcserr.BranchNotFound{Name: branch}
		}
		r.refs.SetHead(branch, false)
	}
	if err := r.persistRefs(ctx); err != nil {
		return err
	}
	return r.logger.Log(ctx, "checkout", fmt.Sprintf("checked out %s", branch), "")
}

// DeleteBranch removes branch (main is protected by the ref store itself).
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	if err := r.refs.DeleteBranch(name); err != nil {
		return err
	}
	if _, err := r.backend.DeleteRef(ctx, name); err != nil {
		return err
	}
	return r.logger.Log(ctx, "delete_branch", fmt.Sprintf("deleted branch %s", name), "")
}

// Head returns the current HEAD value.
func (r *Repository) Head() refstore.Head { return r.refs.Head() }

// CurrentBranch returns the attached branch name, or "" if detached.
func (r *Repository) CurrentBranch() string { return r.refs.CurrentBranch() }

// ListBranches returns every branch and the commit it points at.
func (r *Repository) ListBranches() map[string]hash.Digest { return r.refs.ListBranches() }

// GetState resolves a commit hash to its decrypted agent state value.
func (r *Repository) GetState(ctx context.Context, commitHash hash.Digest) (map[string]any, error) {
	commit, err := r.loadCommit(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	return r.loadState(ctx, commit.TreeHash)
}

func (r *Repository) loadCommit(ctx context.Context, h hash.Digest) (store.Commit, error) {
	data, ok, err := r.backend.GetObject(ctx, h)
	if err != nil {
		return store.Commit{}, err
	}
	if !ok {
		return store.Commit{}, &vcserr.ObjectNotFound{Hash: string(h)}
	}
	var commit store.Commit
	if err := json.Unmarshal(data, &commit); err != nil {
		return store.Commit{}, vcserr.WrapSerialization("decode commit", err)
	}
	return commit, nil
}

func (r *Repository) loadState(ctx context.Context, treeHash hash.Digest) (map[string]any, error) {
	data, ok, err := r.backend.GetObject(ctx, treeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &vcserr.ObjectNotFound{Hash: string(treeHash)}
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, vcserr.WrapSerialization("decode blob", err)
	}
	if r.encryptor != nil {
		decrypted, err := r.encryptor.DecryptState(value)
		if err != nil {
			return nil, fmt.Errorf("repo: decrypt state: %w", err)
		}
		return decrypted, nil
	}
	return value, nil
}

// Diff computes the Merkle-accelerated structural difference between two
// commits' states.
func (r *Repository) Diff(ctx context.Context, fromHash, toHash hash.Digest) (diff.StateDiff, error) {
	fromState, err := r.GetState(ctx, fromHash)
	if err != nil {
		return diff.StateDiff{}, err
	}
	toState, err := r.GetState(ctx, toHash)
	if err != nil {
		return diff.StateDiff{}, err
	}
	entries := diff.Merkle(fromState, toState)
	return diff.StateDiff{
		BaseHash:   string(fromHash),
		TargetHash: string(toHash),
		Entries:    entries,
	}, nil
}

// FindMergeBase finds the lowest common ancestor of two commits via
// alternating bidirectional BFS, returning h1 unchanged if their histories
// never intersect.
func (r *Repository) FindMergeBase(ctx context.Context, h1, h2 hash.Digest) (hash.Digest, error) {
	seen1 := map[hash.Digest]struct{}{h1: {}}
	seen2 := map[hash.Digest]struct{}{h2: {}}
	queue1 := []hash.Digest{h1}
	queue2 := []hash.Digest{h2}

	if h1 == h2 {
		return h1, nil
	}

	for depth := 0; depth < maxMergeBaseDepth; depth++ {
		if len(queue1) == 0 && len(queue2) == 0 {
			return h1, nil
		}

		if next, found, err := r.stepMergeBaseBFS(ctx, &queue1, seen1, seen2); err != nil {
			return "", err
		} else if found {
			return next, nil
		}
		if next, found, err := r.stepMergeBaseBFS(ctx, &queue2, seen2, seen1); err != nil {
			return "", err
		} else if found {
			return next, nil
		}
	}
	return "", &vcserr.DepthLimitExceeded{Where: "find merge base"}
}

func (r *Repository) stepMergeBaseBFS(ctx context.Context, queue *[]hash.Digest, seen, otherSeen map[hash.Digest]struct{}) (hash.Digest, bool, error) {
	if len(*queue) == 0 {
		return "", false, nil
	}
	h := (*queue)[0]
	*queue = (*queue)[1:]

	commit, err := r.loadCommit(ctx, h)
	if err != nil {
		return "", false, err
	}
	for _, parent := range commit.ParentHashes {
		if _, ok := otherSeen[parent]; ok {
			return parent, true, nil
		}
		if _, ok := seen[parent]; !ok {
			seen[parent] = struct{}{}
			*queue = append(*queue, parent)
		}
	}
	return "", false, nil
}

// Merge reconciles branch into the current attached branch using strategy,
// advancing it to a new merge commit with both tips as parents. Requires
// HEAD to be attached (*vcserr.DetachedHead otherwise). If the two tips
// already match, it returns that commit without creating a new one. A
// three-way merge that produces any conflicts returns *vcserr.MergeConflict
// without committing.
func (r *Repository) Merge(ctx context.Context, branch string, strategy store.MergeStrategy, message string) (hash.Digest, error) {
	head := r.refs.Head()
	if !head.Attached {
		return "", &vcserr.DetachedHead{}
	}
	currentBranch := head.Branch

	ours, err := r.refs.Resolve(currentBranch)
	if err != nil {
		return "", err
	}
	theirs, err := r.refs.Resolve(branch)
	if err != nil {
		return "", err
	}

	if ours == theirs {
		return ours, nil
	}

	base, err := r.FindMergeBase(ctx, ours, theirs)
	if err != nil {
		return "", err
	}

	var resultValue map[string]any
	switch strategy {
	case store.MergeOurs:
		resultValue, err = r.GetState(ctx, ours)
	case store.MergeTheirs:
		resultValue, err = r.GetState(ctx, theirs)
	case store.MergeThreeWay:
		var baseState, oursState, theirsState map[string]any
		baseState, err = r.GetState(ctx, base)
		if err != nil {
			return "", err
		}
		oursState, err = r.GetState(ctx, ours)
		if err != nil {
			return "", err
		}
		theirsState, err = r.GetState(ctx, theirs)
		if err != nil {
			return "", err
		}
		// The merge commit gets a fresh timestamp below, so the snapshot
		// timestamps take no part in the comparison.
		for _, s := range []map[string]any{baseState, oursState, theirsState} {
			delete(s, "timestamp")
		}
		merged, conflicts := merge.ThreeWay(baseState, oursState, theirsState)
		if len(conflicts) > 0 {
			paths := make([]string, len(conflicts))
			for i, c := range conflicts {
				paths[i] = c.Path.String()
			}
			return "", &vcserr.MergeConflict{Details: "conflicts at: " + strings.Join(paths, ", ")}
		}
		resultValue, _ = merged.(map[string]any)
	default:
		return "", &vcserr.InvalidArgument{Why: "unknown merge strategy"}
	}
	if err != nil {
		return "", err
	}

	if message == "" {
		message = fmt.Sprintf("merge branch '%s' into '%s'", branch, currentBranch)
	}

	state := store.AgentState{}
	if v, ok := resultValue["memory"]; ok {
		state.Memory = v
	}
	if v, ok := resultValue["world_state"]; ok {
		state.WorldState = v
	}
	state.Timestamp = time.Now().UTC()
	if meta, ok := resultValue["metadata"].(map[string]any); ok {
		state.Metadata = meta
	} else {
		state.Metadata = map[string]any{}
	}

	blob := store.NewBlob(state.ToValue())
	if r.encryptor != nil {
		encrypted, err := r.encryptor.EncryptState(blob.Data)
		if err != nil {
			return "", fmt.Errorf("repo: encrypt merge state: %w", err)
		}
		blob = store.NewBlob(encrypted)
	}
	blobData, err := blob.CanonicalBytes()
	if err != nil {
		return "", err
	}
	blobHash, err := blob.Digest()
	if err != nil {
		return "", err
	}
	if err := r.backend.PutObject(ctx, blobHash, hash.Blob, blobData); err != nil {
		return "", err
	}

	commit := store.Commit{
		TreeHash:     blobHash,
		ParentHashes: []hash.Digest{ours, theirs},
		Message:      message,
		Author:       r.agentID,
		Timestamp:    time.Now().UTC(),
		ActionType:   store.ActionMerge,
		Metadata:     map[string]any{"strategy": strategy.String()},
	}
	commitHash, err := commit.Digest()
	if err != nil {
		return "", err
	}
	commitData, err := json.Marshal(commit)
	if err != nil {
		return "", vcserr.WrapSerialization("marshal merge commit", err)
	}
	if err := r.backend.PutObject(ctx, commitHash, hash.Commit, commitData); err != nil {
		return "", err
	}
	if err := r.advanceHead(ctx, commitHash); err != nil {
		return "", err
	}
	if err := r.logger.Log(ctx, "merge", message, commitHash); err != nil {
		return "", err
	}
	return commitHash, nil
}

// LogEntry describes one commit as returned by Log, oldest-last.
type LogEntry struct {
	Hash   hash.Digest
	Commit store.Commit
}

// Log walks first-parent history from start (or HEAD if start is empty),
// newest first, up to limit entries (0 means unlimited).
func (r *Repository) Log(ctx context.Context, start hash.Digest, limit int) ([]LogEntry, error) {
	if start == "" {
		var err error
		start, err = r.refs.Resolve("HEAD")
		if err != nil {
			return nil, err
		}
	}

	var entries []LogEntry
	current := start
	for current != "" {
		if limit > 0 && len(entries) >= limit {
			break
		}
		commit, err := r.loadCommit(ctx, current)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{Hash: current, Commit: commit})
		if len(commit.ParentHashes) == 0 {
			break
		}
		current = commit.ParentHashes[0]
	}
	return entries, nil
}

// Revert creates a new commit on the current branch whose state equals
// targetHash's state, without altering history before it.
func (r *Repository) Revert(ctx context.Context, targetHash hash.Digest) (hash.Digest, error) {
	state, err := r.GetState(ctx, targetHash)
	if err != nil {
		return "", err
	}
	if r.encryptor != nil {
		encrypted, err := r.encryptor.EncryptState(state)
		if err != nil {
			return "", fmt.Errorf("repo: encrypt revert state: %w", err)
		}
		state = encrypted
	}
	blob := store.NewBlob(state)
	blobData, err := blob.CanonicalBytes()
	if err != nil {
		return "", err
	}
	blobHash, err := blob.Digest()
	if err != nil {
		return "", err
	}
	if err := r.backend.PutObject(ctx, blobHash, hash.Blob, blobData); err != nil {
		return "", err
	}

	head, err := r.refs.Resolve("HEAD")
	if err != nil {
		return "", err
	}

	commit := store.Commit{
		TreeHash:     blobHash,
		ParentHashes: []hash.Digest{head},
		Message:      fmt.Sprintf("revert to %s", targetHash.Short()),
		Author:       r.agentID,
		Timestamp:    time.Now().UTC(),
		ActionType:   store.ActionRollback,
		Metadata:     map[string]any{"reverted_to": string(targetHash)},
	}
	commitHash, err := commit.Digest()
	if err != nil {
		return "", err
	}
	commitData, err := json.Marshal(commit)
	if err != nil {
		return "", vcserr.WrapSerialization("marshal revert commit", err)
	}
	if err := r.backend.PutObject(ctx, commitHash, hash.Commit, commitData); err != nil {
		return "", err
	}
	if err := r.advanceHead(ctx, commitHash); err != nil {
		return "", err
	}
	if err := r.logger.Log(ctx, "revert", commit.Message, commitHash); err != nil {
		return "", err
	}
	return commitHash, nil
}

// ComputeStateHash hashes value the same way a commit's tree hash would be
// computed, letting callers compare a candidate state against a commit
// without constructing a Blob.
func ComputeStateHash(value map[string]any) (hash.Digest, error) {
	return store.NewBlob(value).Digest()
}

// GC reclaims unreachable objects, keeping up to keepLastN commits per
// branch beyond plain reachability as a recent-history safety margin.
func (r *Repository) GC(ctx context.Context, keepLastN int) (gc.Result, error) {
	result, err := gc.Run(ctx, r.backend, r.refs, keepLastN)
	if err != nil {
		return gc.Result{}, err
	}
	if err := r.logger.Log(ctx, "gc", fmt.Sprintf("removed %d objects", result.ObjectsRemoved), ""); err != nil {
		return gc.Result{}, err
	}
	return result, nil
}

// Squash collapses the commit range [from, to] on branch into one commit,
// replacing its history with a single squashed entry.
func (r *Repository) Squash(ctx context.Context, branch string, from, to hash.Digest) (gc.SquashResult, error) {
	result, err := gc.Squash(ctx, r.backend, r.refs, r.agentID, branch, from, to)
	if err != nil {
		return gc.SquashResult{}, err
	}
	if err := r.logger.Log(ctx, "squash", result.Message, result.NewHash); err != nil {
		return gc.SquashResult{}, err
	}
	return result, nil
}

// ExportJSONL writes the repository's full object set and ref table to w
// as a portable JSONL stream.
func (r *Repository) ExportJSONL(ctx context.Context, w io.Writer) error {
	if err := exportimport.Export(ctx, r.backend, r.refs, w); err != nil {
		return err
	}
	return r.logger.Log(ctx, "export", "exported repository to JSONL", "")
}

// ImportJSONL loads objects and refs from a JSONL stream produced by
// ExportJSONL, re-hashing every object rather than trusting the stream.
func (r *Repository) ImportJSONL(ctx context.Context, rd io.Reader) error {
	if err := exportimport.Import(ctx, r.backend, r.refs, rd); err != nil {
		return err
	}
	return r.logger.Log(ctx, "import", "imported repository from JSONL", "")
}

// SquashWithSummary behaves like Squash, but replaces the mechanical
// "squash N commits: ..." message with one generated by summarizer from
// the original commits' messages, falling back to the mechanical message
// if summarization fails.
func (r *Repository) SquashWithSummary(ctx context.Context, summarizer *llmsummary.Client, branch string, from, to hash.Digest) (gc.SquashResult, error) {
	var messages []string
	for current := to; ; {
		commit, err := r.loadCommit(ctx, current)
		if err != nil {
			return gc.SquashResult{}, err
		}
		messages = append([]string{commit.Message}, messages...)
		if current == from || len(commit.ParentHashes) == 0 {
			break
		}
		current = commit.ParentHashes[0]
	}

	result, err := gc.Squash(ctx, r.backend, r.refs, r.agentID, branch, from, to)
	if err != nil {
		return gc.SquashResult{}, err
	}

	if summarizer != nil {
		if summary, err := summarizer.Summarize(ctx, messages); err == nil {
			newHash, err := r.overwriteCommitMessage(ctx, result.NewHash, summary)
			if err != nil {
				return gc.SquashResult{}, err
			}
			result.Message = summary
			result.NewHash = newHash
		}
	}

	if err := r.logger.Log(ctx, "squash", result.Message, result.NewHash); err != nil {
		return gc.SquashResult{}, err
	}
	return result, nil
}

// overwriteCommitMessage rewrites a just-created squash commit's message
// in place. This is safe only because the commit was created moments ago
// by this same call and nothing else could yet depend on its old hash
// beyond the branch pointer, which is updated to match.
func (r *Repository) overwriteCommitMessage(ctx context.Context, commitHash hash.Digest, message string) (hash.Digest, error) {
	commit, err := r.loadCommit(ctx, commitHash)
	if err != nil {
		return "", err
	}
	commit.Message = message
	newHash, err := commit.Digest()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(commit)
	if err != nil {
		return "", vcserr.WrapSerialization("marshal resummarized commit", err)
	}
	if err := r.backend.PutObject(ctx, newHash, hash.Commit, data); err != nil {
		return "", err
	}

	for name, h := range r.refs.ListBranches() {
		if h == commitHash {
			if err := r.refs.UpdateBranch(name, newHash); err != nil {
				return "", err
			}
		}
	}
	if head := r.refs.Head(); !head.Attached && head.Commit == commitHash {
		r.refs.SetHead(string(newHash), true)
	}
	if err := r.persistRefs(ctx); err != nil {
		return "", err
	}
	return newHash, nil
}

// AuditLog returns this repository's audit entries matching filter.
func (r *Repository) AuditLog(ctx context.Context, filter storage.LogFilter) ([]storage.LogEntry, error) {
	if filter.AgentID == "" {
		filter.AgentID = r.agentID
	}
	return r.backend.QueryLogs(ctx, filter)
}

// Close releases the underlying backend's resources.
func (r *Repository) Close() error {
	return r.backend.Close()
}
