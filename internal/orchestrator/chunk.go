package orchestrator

import (
	"github.com/quillchat/quill/internal/agent"
)

// ChunkKind discriminates the chunk variants of an assembled transcript.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
	ChunkTool      ChunkKind = "tool"
	ChunkFile      ChunkKind = "file"
)

// ToolChunkState is the three-valued tool lifecycle exposed to the UI.
type ToolChunkState string

const (
	ToolPending   ToolChunkState = "pending"
	ToolRunning   ToolChunkState = "running"
	ToolCompleted ToolChunkState = "completed"
)

// Synthetic chunk identifiers. All text deltas of a session merge into one
// growing chunk, likewise all reasoning deltas; tool and file chunks use the
// event's own call identifier instead.
const (
	TextChunkID      = "__text__"
	ReasoningChunkID = "__reasoning__"
)

// Chunk is one structured, mutable unit of the assembled transcript. Its ID
// is stable across updates to the same logical unit. Fields beyond ID and
// Kind are populated per kind; JSON omits the rest, which also lets a Chunk
// value express the partial payload of an "update" notification.
type Chunk struct {
	ID       string         `json:"id,omitempty"`
	Kind     ChunkKind      `json:"kind,omitempty"`
	Text     string         `json:"text,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	State    ToolChunkState `json:"state,omitempty"`
	FilePath string         `json:"filePath,omitempty"`
}

// ChunkSet is an insertion-ordered set of chunks. Order reflects
// first-appearance time and never changes once established; only chunk
// content mutates in place.
type ChunkSet struct {
	order  []string
	chunks map[string]*Chunk
}

// NewChunkSet creates an empty chunk set.
func NewChunkSet() *ChunkSet {
	return &ChunkSet{chunks: make(map[string]*Chunk)}
}

// Len returns the number of chunks.
func (s *ChunkSet) Len() int {
	return len(s.order)
}

// Get returns the current value of the chunk with the given id.
func (s *ChunkSet) Get(id string) (Chunk, bool) {
	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, false
	}
	return *c, true
}

// Ordered replays the set: chunks in first-appearance order, each at its
// latest value. The result is the final transcript.
func (s *ChunkSet) Ordered() []Chunk {
	out := make([]Chunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.chunks[id])
	}
	return out
}

// insert appends a new chunk, establishing its position in the order.
func (s *ChunkSet) insert(c Chunk) {
	s.order = append(s.order, c.ID)
	s.chunks[c.ID] = &c
}

// UpdateType discriminates chunk-update notifications.
type UpdateType string

const (
	UpdateAdd    UpdateType = "add"
	UpdateChange UpdateType = "update"
)

// Update describes one mutation of the chunk set, delivered to the caller's
// sink. An "add" carries the complete new chunk; an "update" carries the
// target id plus only the fields that changed.
type Update struct {
	Type  UpdateType `json:"type"`
	ID    string     `json:"id,omitempty"`
	Chunk Chunk      `json:"chunk"`
}

// normalizeToolStatus maps the agent's raw tool status onto the three-valued
// chunk state. Anything that is neither pending nor running counts as
// completed.
func normalizeToolStatus(status string) ToolChunkState {
	switch status {
	case "pending":
		return ToolPending
	case "running":
		return ToolRunning
	default:
		return ToolCompleted
	}
}

// Apply folds one event into the chunk set and returns the resulting
// notification, or nil when the event type produces no chunk mutation.
// It is the only place chunk state changes; replaying the set afterwards
// yields exactly the transcript the emitted updates describe.
func Apply(ev agent.RawEvent, set *ChunkSet) *Update {
	switch ev.Type {
	case agent.EventTextDelta:
		return applyDelta(set, TextChunkID, ChunkText, ev.Properties.Delta)

	case agent.EventReasoningDelta:
		return applyDelta(set, ReasoningChunkID, ChunkReasoning, ev.Properties.Delta)

	case agent.EventToolUpdated:
		id := ev.Properties.CallID
		if id == "" {
			return nil
		}
		status := ""
		if ev.Properties.State != nil {
			status = ev.Properties.State.Status
		}
		state := normalizeToolStatus(status)

		if existing, ok := set.chunks[id]; ok {
			existing.State = state
			return &Update{Type: UpdateChange, ID: id, Chunk: Chunk{State: state}}
		}
		c := Chunk{ID: id, Kind: ChunkTool, ToolName: ev.Properties.Tool, State: state}
		set.insert(c)
		return &Update{Type: UpdateAdd, Chunk: c}

	default:
		// Status broadcasts, file events not yet wired, unknown types:
		// no chunk mutation.
		return nil
	}
}

// applyDelta merges a delta into the synthetic chunk for its kind, creating
// it on first appearance.
func applyDelta(set *ChunkSet, id string, kind ChunkKind, delta string) *Update {
	if existing, ok := set.chunks[id]; ok {
		existing.Text += delta
		return &Update{Type: UpdateChange, ID: id, Chunk: Chunk{Text: existing.Text}}
	}
	c := Chunk{ID: id, Kind: kind, Text: delta}
	set.insert(c)
	return &Update{Type: UpdateAdd, Chunk: c}
}
