// Package store holds the data model shared by every agentvcs
// subsystem: agent state, the content-addressed Blob/Commit objects
// built on top of it, and the small enums threaded through the rest of
// the module.
package store

import (
	"fmt"
	"strings"
)

// ActionTag classifies the agent action that produced a commit.
type ActionTag struct {
	kind   string
	custom string
}

var (
	ActionToolCall     = ActionTag{kind: "tool_call"}
	ActionLLMResponse  = ActionTag{kind: "llm_response"}
	ActionUserInput    = ActionTag{kind: "user_input"}
	ActionSystemEvent  = ActionTag{kind: "system_event"}
	ActionRetry        = ActionTag{kind: "retry"}
	ActionRollback     = ActionTag{kind: "rollback"}
	ActionMerge        = ActionTag{kind: "merge"}
	ActionCheckpoint   = ActionTag{kind: "checkpoint"}
)

// CustomAction returns the "custom:<name>" action tag.
func CustomAction(name string) ActionTag {
	return ActionTag{kind: "custom", custom: name}
}

// String renders the tag exactly as it appears in storage and logs.
func (a ActionTag) String() string {
	if a.kind == "custom" {
		return "custom:" + a.custom
	}
	if a.kind == "" {
		return "tool_call"
	}
	return a.kind
}

// ParseActionTag parses the display form back into an ActionTag.
func ParseActionTag(s string) (ActionTag, error) {
	if rest, ok := strings.CutPrefix(s, "custom:"); ok {
		return CustomAction(rest), nil
	}
	for _, known := range []ActionTag{
		ActionToolCall, ActionLLMResponse, ActionUserInput, ActionSystemEvent,
		ActionRetry, ActionRollback, ActionMerge, ActionCheckpoint,
	} {
		if known.kind == s {
			return known, nil
		}
	}
	return ActionTag{}, fmt.Errorf("store: unknown action tag %q", s)
}

// MarshalJSON / UnmarshalJSON let ActionTag round-trip through JSON like a
// plain string, matching the wire representation in §3 of the spec.
func (a ActionTag) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *ActionTag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	tag, err := ParseActionTag(s)
	if err != nil {
		return err
	}
	*a = tag
	return nil
}

// MergeStrategy selects how Repository.Merge reconciles divergent branches.
type MergeStrategy int

const (
	MergeOurs MergeStrategy = iota
	MergeTheirs
	MergeThreeWay
)

func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	case MergeThreeWay:
		return "three_way"
	default:
		return "unknown"
	}
}

// ChangeType classifies a single DiffEntry.
type ChangeType string

const (
	Added   ChangeType = "added"
	Removed ChangeType = "removed"
	Changed ChangeType = "changed"
)
