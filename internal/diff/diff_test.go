package diff

import (
	"sort"
	"testing"

	"github.com/agentvcs/agentvcs/internal/store"
)

func entryPaths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = ""
		for j, p := range e.Path {
			if j > 0 {
				paths[i] += "."
			}
			paths[i] += p
		}
	}
	sort.Strings(paths)
	return paths
}

func TestValuesDetectsAddedRemovedChanged(t *testing.T) {
	base := map[string]any{
		"a": 1.0,
		"b": 2.0,
		"c": map[string]any{"x": 1.0},
		"e": 5.0,
	}
	target := map[string]any{
		"a": 1.0,
		"b": 3.0,
		"d": 4.0,
		"c": map[string]any{"x": 1.0},
	}

	entries := Values(base, target)
	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[entryPaths([]Entry{e})[0]] = e
	}

	if e, ok := byPath["b"]; !ok || e.ChangeType != store.Changed {
		t.Errorf("expected b changed, got %+v, ok=%v", e, ok)
	}
	if e, ok := byPath["d"]; !ok || e.ChangeType != store.Added {
		t.Errorf("expected d added, got %+v, ok=%v", e, ok)
	}
	if e, ok := byPath["e"]; !ok || e.ChangeType != store.Removed {
		t.Errorf("expected e removed, got %+v, ok=%v", e, ok)
	}
	if _, ok := byPath["a"]; ok {
		t.Errorf("unexpected entry for unchanged key a")
	}
	if _, ok := byPath["c"]; ok {
		t.Errorf("unexpected entry for unchanged nested map c")
	}
}

func TestValuesNoDiffForEqualValues(t *testing.T) {
	value := map[string]any{"a": []any{1.0, 2.0, "x"}}
	entries := Values(value, value)
	if len(entries) != 0 {
		t.Errorf("expected no entries for identical values, got %v", entries)
	}
}

func TestMerkleMatchesValuesEntrySet(t *testing.T) {
	base := map[string]any{
		"memory": map[string]any{"unchanged": "same", "changed": "old"},
		"removed_key": "gone",
	}
	target := map[string]any{
		"memory": map[string]any{"unchanged": "same", "changed": "new"},
		"added_key": "new",
	}

	valuesEntries := entryPaths(Values(base, target))
	merkleEntries := entryPaths(Merkle(base, target))

	if len(valuesEntries) != len(merkleEntries) {
		t.Fatalf("entry count mismatch: values=%v merkle=%v", valuesEntries, merkleEntries)
	}
	for i := range valuesEntries {
		if valuesEntries[i] != merkleEntries[i] {
			t.Errorf("entry set mismatch at %d: %q vs %q", i, valuesEntries[i], merkleEntries[i])
		}
	}
}

func TestBuildTreeSameHashForEqualValues(t *testing.T) {
	value := map[string]any{"a": 1.0, "b": []any{1.0, 2.0}}
	t1 := BuildTree(value)
	t2 := BuildTree(value)
	if t1.Hash != t2.Hash {
		t.Errorf("expected identical hashes for identical trees, got %s vs %s", t1.Hash, t2.Hash)
	}
}

func TestBuildTreeDifferentHashForDifferentValues(t *testing.T) {
	t1 := BuildTree(map[string]any{"a": 1.0})
	t2 := BuildTree(map[string]any{"a": 2.0})
	if t1.Hash == t2.Hash {
		t.Errorf("expected different hashes for different values")
	}
}

func TestMerkleSkipsUnchangedSubtrees(t *testing.T) {
	unchanged := map[string]any{"deep": map[string]any{"x": 1.0, "y": 2.0}}
	base := map[string]any{"same": unchanged, "changed": "old"}
	target := map[string]any{"same": unchanged, "changed": "new"}

	entries := Merkle(base, target)
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].Path[0] != "changed" {
		t.Errorf("expected the changed entry, got %+v", entries[0])
	}
}
