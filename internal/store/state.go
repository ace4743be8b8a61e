package store

import "time"

// AgentState is the full snapshot of an agent's mind at a point in time:
// its memory, its view of the world, and bookkeeping about the action
// that produced it. memory and world_state are arbitrary JSON-shaped
// documents (decoded as map[string]any / []any / primitives).
type AgentState struct {
	Memory     any            `json:"memory"`
	WorldState any            `json:"world_state"`
	Timestamp  time.Time      `json:"timestamp"`
	Cost       float64        `json:"cost"`
	Metadata   map[string]any `json:"metadata"`
}

// NewAgentState builds a state with the current timestamp, zero cost, and
// empty metadata.
func NewAgentState(memory, worldState any) AgentState {
	return AgentState{
		Memory:     memory,
		WorldState: worldState,
		Timestamp:  time.Now().UTC(),
		Cost:       0,
		Metadata:   map[string]any{},
	}
}

// ToValue flattens the state into the plain map agentvcs canonicalizes
// and hashes before computing its content digest.
func (s AgentState) ToValue() map[string]any {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"memory":      s.Memory,
		"world_state": s.WorldState,
		"timestamp":   s.Timestamp.UTC().Format(time.RFC3339),
		"cost":        s.Cost,
		"metadata":    metadata,
	}
}
