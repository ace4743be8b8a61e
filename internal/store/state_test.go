package store

import "testing"

func TestNewAgentStateDefaults(t *testing.T) {
	s := NewAgentState(map[string]any{"foo": "bar"}, []any{1, 2})
	if s.Cost != 0 {
		t.Errorf("expected zero cost, got %v", s.Cost)
	}
	if s.Metadata == nil {
		t.Errorf("expected non-nil metadata")
	}
	if s.Timestamp.IsZero() {
		t.Errorf("expected timestamp to be set")
	}
}

func TestToValueFlattensFields(t *testing.T) {
	s := NewAgentState("memory-value", "world-value")
	value := s.ToValue()

	if value["memory"] != "memory-value" {
		t.Errorf("unexpected memory: %v", value["memory"])
	}
	if value["world_state"] != "world-value" {
		t.Errorf("unexpected world_state: %v", value["world_state"])
	}
	if _, ok := value["timestamp"].(string); !ok {
		t.Errorf("expected timestamp to be a formatted string, got %T", value["timestamp"])
	}
	if value["cost"] != 0.0 {
		t.Errorf("unexpected cost: %v", value["cost"])
	}
}

func TestToValueHandlesNilMetadata(t *testing.T) {
	s := AgentState{Memory: "m", WorldState: "w"}
	value := s.ToValue()
	metadata, ok := value["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata to be a map, got %T", value["metadata"])
	}
	if len(metadata) != 0 {
		t.Errorf("expected empty metadata, got %v", metadata)
	}
}
