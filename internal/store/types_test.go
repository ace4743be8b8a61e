package store

import "testing"

func TestActionTagStringRoundTrip(t *testing.T) {
	tags := []ActionTag{
		ActionToolCall, ActionLLMResponse, ActionUserInput, ActionSystemEvent,
		ActionRetry, ActionRollback, ActionMerge, ActionCheckpoint,
		CustomAction("deploy"),
	}
	for _, tag := range tags {
		s := tag.String()
		parsed, err := ParseActionTag(s)
		if err != nil {
			t.Fatalf("ParseActionTag(%q): %v", s, err)
		}
		if parsed.String() != s {
			t.Errorf("round trip mismatch: %q -> %q", s, parsed.String())
		}
	}
}

func TestParseActionTagUnknown(t *testing.T) {
	if _, err := ParseActionTag("not_a_tag"); err == nil {
		t.Errorf("expected error for unknown action tag")
	}
}

func TestActionTagJSONRoundTrip(t *testing.T) {
	tag := CustomAction("rebalance")
	data, err := tag.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != `"custom:rebalance"` {
		t.Errorf("unexpected marshaled form: %s", data)
	}

	var decoded ActionTag
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if decoded.String() != tag.String() {
		t.Errorf("decoded tag mismatch: %s vs %s", decoded.String(), tag.String())
	}
}

func TestMergeStrategyString(t *testing.T) {
	cases := map[MergeStrategy]string{
		MergeOurs:     "ours",
		MergeTheirs:   "theirs",
		MergeThreeWay: "three_way",
	}
	for strategy, want := range cases {
		if got := strategy.String(); got != want {
			t.Errorf("MergeStrategy(%d).String() = %q, want %q", strategy, got, want)
		}
	}
}
