// Package diff computes structural differences between two agent-state
// values, either by plain recursive comparison or by a Merkle-accelerated
// walk that skips subtrees whose hashes already match.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/agentvcs/agentvcs/internal/canon"
	"github.com/agentvcs/agentvcs/internal/store"
)

// Entry is a single path-addressed difference between two state trees.
type Entry struct {
	Path       []string         `json:"path"`
	ChangeType store.ChangeType `json:"change_type"`
	OldValue   any              `json:"old_value,omitempty"`
	NewValue   any              `json:"new_value,omitempty"`
}

// StateDiff is the full set of differences between a base and a target
// value, identified by their content digests.
type StateDiff struct {
	BaseHash   string  `json:"base_hash"`
	TargetHash string  `json:"target_hash"`
	Entries    []Entry `json:"entries"`
}

// Values performs a plain recursive diff of two already-decoded JSON-shaped
// values (map[string]any / []any / primitives). Only object-level key
// added/removed/changed is tracked; array elements compare as opaque leaves.
func Values(base, target any) []Entry {
	var entries []Entry
	diffValues(base, target, nil, &entries)
	return entries
}

func diffValues(base, target any, path []string, entries *[]Entry) {
	if deepEqual(base, target) {
		return
	}

	baseMap, baseIsMap := base.(map[string]any)
	targetMap, targetIsMap := target.(map[string]any)
	if baseIsMap && targetIsMap {
		for key, baseVal := range baseMap {
			childPath := append(append([]string{}, path...), key)
			if targetVal, ok := targetMap[key]; ok {
				diffValues(baseVal, targetVal, childPath, entries)
			} else {
				*entries = append(*entries, Entry{
					Path:       childPath,
					ChangeType: store.Removed,
					OldValue:   baseVal,
				})
			}
		}
		for key, targetVal := range targetMap {
			if _, ok := baseMap[key]; !ok {
				childPath := append(append([]string{}, path...), key)
				*entries = append(*entries, Entry{
					Path:       childPath,
					ChangeType: store.Added,
					NewValue:   targetVal,
				})
			}
		}
		return
	}

	*entries = append(*entries, Entry{
		Path:       append([]string{}, path...),
		ChangeType: store.Changed,
		OldValue:   base,
		NewValue:   target,
	})
}

// deepEqual compares two JSON-shaped values for structural equality by
// canonical round-trip, avoiding reflect.DeepEqual's sensitivity to
// numeric representation (float64 vs json.Number) and map key order.
func deepEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	var av, bv any
	if err := json.Unmarshal(ab, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(bb, &bv); err != nil {
		return false
	}
	return sameValue(av, bv)
}

func sameValue(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !sameValue(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !sameValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Node is one level of a Merkle tree built over a state value: a hash of
// this subtree's canonical content plus, for objects, the hashed children.
type Node struct {
	Hash     string
	Children map[string]*Node
}

// BuildTree computes the Merkle tree for value, hashing objects as
// SHA-256("object{" + sorted "key:childhash," ... + "}") and leaves as
// SHA-256 of their canonical encoding.
func BuildTree(value any) *Node {
	if m, ok := value.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		children := make(map[string]*Node, len(m))
		h := sha256.New()
		h.Write([]byte("object{"))
		for _, k := range keys {
			child := BuildTree(m[k])
			children[k] = child
			h.Write([]byte(k))
			h.Write([]byte(":"))
			h.Write([]byte(child.Hash))
			h.Write([]byte(","))
		}
		h.Write([]byte("}"))
		return &Node{Hash: hex.EncodeToString(h.Sum(nil)), Children: children}
	}

	data, err := canon.Encode(value)
	if err != nil {
		data = nil
	}
	h := sha256.Sum256(data)
	return &Node{Hash: hex.EncodeToString(h[:])}
}

// Merkle diffs two values using their Merkle trees, skipping any subtree
// whose hash matches on both sides. Produces the same entry set as Values
// but in O(changes * depth) instead of O(size) for large, mostly-unchanged
// states.
func Merkle(base, target any) []Entry {
	baseTree := BuildTree(base)
	targetTree := BuildTree(target)
	var entries []Entry
	merkleDiffNodes(baseTree, targetTree, base, target, nil, &entries)
	return entries
}

func merkleDiffNodes(baseNode, targetNode *Node, baseVal, targetVal any, path []string, entries *[]Entry) {
	if baseNode.Hash == targetNode.Hash {
		return
	}

	baseMap, baseIsMap := baseVal.(map[string]any)
	targetMap, targetIsMap := targetVal.(map[string]any)
	if baseIsMap && targetIsMap {
		for key, baseChild := range baseNode.Children {
			childPath := append(append([]string{}, path...), key)
			if targetChild, ok := targetNode.Children[key]; ok {
				if baseChild.Hash != targetChild.Hash {
					merkleDiffNodes(baseChild, targetChild, baseMap[key], targetMap[key], childPath, entries)
				}
			} else {
				*entries = append(*entries, Entry{
					Path:       childPath,
					ChangeType: store.Removed,
					OldValue:   baseMap[key],
				})
			}
		}
		for key := range targetNode.Children {
			if _, ok := baseNode.Children[key]; !ok {
				childPath := append(append([]string{}, path...), key)
				*entries = append(*entries, Entry{
					Path:       childPath,
					ChangeType: store.Added,
					NewValue:   targetMap[key],
				})
			}
		}
		return
	}

	*entries = append(*entries, Entry{
		Path:       append([]string{}, path...),
		ChangeType: store.Changed,
		OldValue:   baseVal,
		NewValue:   targetVal,
	})
}
