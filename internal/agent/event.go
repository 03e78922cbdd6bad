package agent

import "encoding/json"

// Event types emitted by the agent server. Unknown types are passed through
// and ignored by consumers without error.
const (
	EventTextDelta      = "text.delta"
	EventReasoningDelta = "reasoning.delta"
	EventToolUpdated    = "tool.updated"
	EventSessionError   = "session.error"
	EventSessionIdle    = "session.idle"
)

// RawEvent is one record from the instance event feed. The Properties shape
// depends on Type; absent fields stay zero-valued.
type RawEvent struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
}

// Properties is the event payload. Fields are populated per event type:
// delta events carry SessionID and Delta; tool events carry SessionID,
// CallID, Tool and State; session.error carries SessionID and Error;
// broadcast events (server status) carry no SessionID at all.
type Properties struct {
	SessionID string      `json:"sessionID,omitempty"`
	CallID    string      `json:"callID,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	State     *ToolState  `json:"state,omitempty"`
	Delta     string      `json:"delta,omitempty"`
	Error     *EventError `json:"error,omitempty"`
}

// ToolState is the raw tool status reported by the agent.
type ToolState struct {
	Status string `json:"status"`
}

// EventError is the error payload of a session.error event.
type EventError struct {
	Name string `json:"name,omitempty"`
}

// Broadcast reports whether the event carries no session scoping and is
// therefore addressed to every subscriber.
func (e RawEvent) Broadcast() bool {
	return e.Properties.SessionID == ""
}

// ForSession reports whether the event belongs to the given session, either
// by explicit scoping or by being a broadcast.
func (e RawEvent) ForSession(sessionID string) bool {
	return e.Broadcast() || e.Properties.SessionID == sessionID
}

// ErrorMessage extracts the error message from a session.error payload,
// falling back to a generic message when the payload is absent or empty.
func (e RawEvent) ErrorMessage() string {
	if e.Properties.Error != nil && e.Properties.Error.Name != "" {
		return e.Properties.Error.Name
	}
	return "Unknown session error"
}

// decodeEvent parses one wire-level event record.
func decodeEvent(data []byte) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RawEvent{}, err
	}
	return ev, nil
}
