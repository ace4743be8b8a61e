// Package retention computes which commits a policy considers expired.
// It never deletes anything itself, and nothing in this module consumes
// the expired set: gc.Run decides what to delete from reachability alone,
// keeping "what should be kept" and "what gets deleted" as separate,
// independently testable decisions.
package retention

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/BurntSushi/toml"

	"github.com/agentvcs/agentvcs/internal/hash"
	"github.com/agentvcs/agentvcs/internal/refstore"
	"github.com/agentvcs/agentvcs/internal/storage"
	"github.com/agentvcs/agentvcs/internal/store"
	"github.com/agentvcs/agentvcs/internal/vcserr"
)

// Policy configures automatic expiry of old commits and log entries.
// Zero values mean "no limit" for the corresponding dimension.
type Policy struct {
	MaxAge        time.Duration `toml:"max_age"`
	MaxCommits    int           `toml:"max_commits"`
	KeepBranches  []string      `toml:"keep_branches"`
	MaxLogAge     time.Duration `toml:"max_log_age"`
	MaxLogEntries int           `toml:"max_log_entries"`
}

// Default mirrors the zero-policy baseline: only main is protected, and
// nothing else is ever expired.
func Default() Policy {
	return Policy{KeepBranches: []string{"main"}}
}

// LoadFile parses a retention policy from a TOML file.
func LoadFile(path string) (Policy, error) {
	var p Policy
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, vcserr.WrapSerialization("decode retention policy toml", err)
	}
	if len(p.KeepBranches) == 0 {
		p.KeepBranches = []string{"main"}
	}
	return p, nil
}

// Result reports how many reachable commits a policy run classified.
type Result struct {
	CommitsExpired  int
	CommitsRetained int
	ExpiredHashes   map[hash.Digest]struct{}
}

// Override holds CLI-flag-style optional overrides for a loaded Policy:
// nil means "flag not passed, leave the file/default value alone".
type Override struct {
	MaxAge     *time.Duration
	MaxCommits *int
}

// OverrideMaxAge builds an Override carrying maxAge, for call sites that
// only ever override one field.
func OverrideMaxAge(maxAge time.Duration) Override {
	return Override{MaxAge: pointer.To(maxAge)}
}

// OverrideMaxCommits builds an Override carrying maxCommits.
func OverrideMaxCommits(maxCommits int) Override {
	return Override{MaxCommits: pointer.To(maxCommits)}
}

// WithOverrides returns a copy of p with any non-nil Override fields
// applied.
func (p Policy) WithOverrides(o Override) Policy {
	if o.MaxAge != nil {
		p.MaxAge = *o.MaxAge
	}
	if o.MaxCommits != nil {
		p.MaxCommits = *o.MaxCommits
	}
	return p
}

func (p Policy) protects(branch string) bool {
	for _, b := range p.KeepBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// Apply walks every branch tip backward through first-and-other parents,
// classifying each commit as retained or expired according to policy, and
// returns the set of expired commit hashes. Tree blob hashes are not
// included in that set. Every commit of a branch named in KeepBranches is
// retained.
func Apply(ctx context.Context, backend storage.Backend, refs *refstore.Store, policy Policy) (Result, error) {
	branches := refs.ListBranches()
	now := time.Now().UTC()
	retained := make(map[hash.Digest]struct{})
	allSeen := make(map[hash.Digest]struct{})

	for branchName, tip := range branches {
		isProtected := policy.protects(branchName)

		queue := []hash.Digest{tip}
		visited := make(map[hash.Digest]struct{})
		branchCount := 0

		for len(queue) > 0 {
			h := queue[0]
			queue = queue[1:]
			if _, ok := visited[h]; ok {
				continue
			}
			visited[h] = struct{}{}
			allSeen[h] = struct{}{}

			data, ok, err := backend.GetObject(ctx, h)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				continue
			}
			var commit store.Commit
			if err := json.Unmarshal(data, &commit); err != nil {
				continue
			}

			keep := isProtected
			if policy.MaxCommits > 0 {
				if branchCount < policy.MaxCommits {
					keep = true
				}
			} else {
				keep = true
			}
			if policy.MaxAge > 0 && !isProtected {
				age := now.Sub(commit.Timestamp)
				if age > policy.MaxAge {
					keep = false
				}
			}

			if keep {
				retained[h] = struct{}{}
				retained[commit.TreeHash] = struct{}{}
			}

			branchCount++
			for _, parent := range commit.ParentHashes {
				queue = append(queue, parent)
			}
		}
	}

	expired := make(map[hash.Digest]struct{})
	for h := range allSeen {
		if _, ok := retained[h]; !ok {
			expired[h] = struct{}{}
		}
	}

	return Result{
		CommitsExpired:  len(expired),
		CommitsRetained: len(allSeen) - len(expired),
		ExpiredHashes:   expired,
	}, nil
}
