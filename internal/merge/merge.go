// Package merge implements structural three-way merge over agent state
// trees: reconciling a base value against two divergent descendants.
package merge

import (
	"encoding/json"
	"sort"
	"strings"
)

// Path identifies a location in a merged value tree as a sequence of map
// keys from the root.
type Path []string

// String renders a path as a dotted string, e.g. "memory.a".
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Conflict records a leaf where both sides changed the same path
// differently from base.
type Conflict struct {
	Path        Path `json:"path"`
	BaseValue   any  `json:"base_value"`
	OursValue   any  `json:"ours_value"`
	TheirsValue any  `json:"theirs_value"`
}

// ThreeWay merges ours and theirs against their common base. It returns
// the merged value and any leaf conflicts encountered; conflicted leaves
// default to ours in the returned value.
func ThreeWay(base, ours, theirs any) (any, []Conflict) {
	var conflicts []Conflict
	merged := mergeValues(normalize(base), normalize(ours), normalize(theirs), nil, &conflicts)
	return merged, conflicts
}

// normalize round-trips a value through JSON so heterogeneous Go inputs
// (structs, typed maps) compare structurally the same way decoded JSON does.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func mergeValues(base, ours, theirs any, path []string, conflicts *[]Conflict) any {
	if equalValues(ours, theirs) {
		return ours
	}
	if equalValues(ours, base) {
		return theirs
	}
	if equalValues(theirs, base) {
		return ours
	}

	baseMap, baseIsMap := base.(map[string]any)
	oursMap, oursIsMap := ours.(map[string]any)
	theirsMap, theirsIsMap := theirs.(map[string]any)
	if baseIsMap && oursIsMap && theirsIsMap {
		keys := unionKeys(baseMap, oursMap, theirsMap)
		result := make(map[string]any, len(keys))
		for _, key := range keys {
			childPath := append(append([]string{}, path...), key)
			baseVal, oursVal, theirsVal := baseMap[key], oursMap[key], theirsMap[key]
			merged := mergeValues(baseVal, oursVal, theirsVal, childPath, conflicts)
			_, oursHas := oursMap[key]
			_, theirsHas := theirsMap[key]
			if merged != nil || oursHas || theirsHas {
				result[key] = merged
			}
		}
		return result
	}

	*conflicts = append(*conflicts, Conflict{
		Path:        append([]string{}, path...),
		BaseValue:   base,
		OursValue:   ours,
		TheirsValue: theirs,
	})
	return ours
}

func unionKeys(maps ...map[string]any) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalValues(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return a == nil && b == nil
	}
	var av, bv any
	if json.Unmarshal(ab, &av) != nil || json.Unmarshal(bb, &bv) != nil {
		return false
	}
	return deepEqualJSON(av, bv)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
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
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
