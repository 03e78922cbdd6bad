package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/agent"
)

func textDelta(session, delta string) agent.RawEvent {
	return agent.RawEvent{
		Type:       agent.EventTextDelta,
		Properties: agent.Properties{SessionID: session, Delta: delta},
	}
}

func reasoningDelta(session, delta string) agent.RawEvent {
	return agent.RawEvent{
		Type:       agent.EventReasoningDelta,
		Properties: agent.Properties{SessionID: session, Delta: delta},
	}
}

func toolUpdated(session, callID, tool, status string) agent.RawEvent {
	return agent.RawEvent{
		Type: agent.EventToolUpdated,
		Properties: agent.Properties{
			SessionID: session,
			CallID:    callID,
			Tool:      tool,
			State:     &agent.ToolState{Status: status},
		},
	}
}

func TestApplyTextDeltasMerge(t *testing.T) {
	t.Parallel()

	set := NewChunkSet()

	upd := Apply(textDelta("s1", "Hel"), set)
	require.NotNil(t, upd)
	assert.Equal(t, UpdateAdd, upd.Type)
	assert.Equal(t, TextChunkID, upd.Chunk.ID)
	assert.Equal(t, ChunkText, upd.Chunk.Kind)
	assert.Equal(t, "Hel", upd.Chunk.Text)

	upd = Apply(textDelta("s1", "lo"), set)
	require.NotNil(t, upd)
	assert.Equal(t, UpdateChange, upd.Type)
	assert.Equal(t, TextChunkID, upd.ID)
	assert.Equal(t, "Hello", upd.Chunk.Text)

	upd = Apply(textDelta("s1", " world"), set)
	require.NotNil(t, upd)
	assert.Equal(t, "Hello world", upd.Chunk.Text)

	require.Equal(t, 1, set.Len())
	got, ok := set.Get(TextChunkID)
	require.True(t, ok)
	assert.Equal(t, "Hello world", got.Text)
}

func TestApplyReasoningSeparateFromText(t *testing.T) {
	t.Parallel()

	set := NewChunkSet()
	Apply(reasoningDelta("s1", "thinking"), set)
	Apply(textDelta("s1", "answer"), set)
	Apply(reasoningDelta("s1", " more"), set)

	chunks := set.Ordered()
	require.Len(t, chunks, 2)
	assert.Equal(t, ReasoningChunkID, chunks[0].ID)
	assert.Equal(t, "thinking more", chunks[0].Text)
	assert.Equal(t, TextChunkID, chunks[1].ID)
	assert.Equal(t, "answer", chunks[1].Text)
}

func TestApplyToolLifecycle(t *testing.T) {
	t.Parallel()

	set := NewChunkSet()

	upd := Apply(toolUpdated("s1", "call-1", "grep", "pending"), set)
	require.NotNil(t, upd)
	assert.Equal(t, UpdateAdd, upd.Type)
	assert.Equal(t, ChunkTool, upd.Chunk.Kind)
	assert.Equal(t, "grep", upd.Chunk.ToolName)
	assert.Equal(t, ToolPending, upd.Chunk.State)

	upd = Apply(toolUpdated("s1", "call-1", "grep", "running"), set)
	require.NotNil(t, upd)
	assert.Equal(t, UpdateChange, upd.Type)
	assert.Equal(t, "call-1", upd.ID)
	assert.Equal(t, ToolRunning, upd.Chunk.State)
	// Updates carry only the changed field.
	assert.Empty(t, upd.Chunk.ToolName)

	upd = Apply(toolUpdated("s1", "call-1", "grep", "success"), set)
	require.NotNil(t, upd)
	assert.Equal(t, ToolCompleted, upd.Chunk.State)

	got, ok := set.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, ToolCompleted, got.State)
	assert.Equal(t, "grep", got.ToolName)
}

func TestApplyToolStatusNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   ToolChunkState
	}{
		{"pending", ToolPending},
		{"running", ToolRunning},
		{"success", ToolCompleted},
		{"error", ToolCompleted},
		{"", ToolCompleted},
		{"anything-else", ToolCompleted},
	}

	for _, tt := range tests {
		t.Run("status_"+tt.status, func(t *testing.T) {
			t.Parallel()

			set := NewChunkSet()
			upd := Apply(toolUpdated("s1", "c1", "bash", tt.status), set)
			require.NotNil(t, upd)
			assert.Equal(t, tt.want, upd.Chunk.State)
		})
	}
}

func TestApplyToolWithoutCallID(t *testing.T) {
	t.Parallel()

	set := NewChunkSet()
	ev := agent.RawEvent{
		Type:       agent.EventToolUpdated,
		Properties: agent.Properties{SessionID: "s1", Tool: "bash"},
	}
	assert.Nil(t, Apply(ev, set))
	assert.Equal(t, 0, set.Len())
}

func TestApplyIgnoresNonChunkEvents(t *testing.T) {
	t.Parallel()

	set := NewChunkSet()
	for _, typ := range []string{agent.EventSessionIdle, agent.EventSessionError, "server.connected"} {
		ev := agent.RawEvent{Type: typ, Properties: agent.Properties{SessionID: "s1"}}
		assert.Nil(t, Apply(ev, set), "type %s", typ)
	}
	assert.Equal(t, 0, set.Len())
}

// Replaying the ordered set must yield the same transcript the stream of
// updates described: apply the same event sequence to a second set and
// compare, interleaving kinds to exercise ordering.
func TestApplyReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	events := []agent.RawEvent{
		reasoningDelta("s1", "plan"),
		toolUpdated("s1", "c1", "read", "pending"),
		textDelta("s1", "Read"),
		toolUpdated("s1", "c1", "read", "running"),
		textDelta("s1", "ing files"),
		toolUpdated("s1", "c2", "write", "pending"),
		toolUpdated("s1", "c1", "read", "success"),
		toolUpdated("s1", "c2", "write", "success"),
		textDelta("s1", " done"),
	}

	first := NewChunkSet()
	second := NewChunkSet()
	for _, ev := range events {
		Apply(ev, first)
	}
	for _, ev := range events {
		Apply(ev, second)
	}

	assert.Equal(t, first.Ordered(), second.Ordered())

	chunks := first.Ordered()
	require.Len(t, chunks, 4)
	assert.Equal(t, ReasoningChunkID, chunks[0].ID)
	assert.Equal(t, "c1", chunks[1].ID)
	assert.Equal(t, TextChunkID, chunks[2].ID)
	assert.Equal(t, "Reading files done", chunks[2].Text)
	assert.Equal(t, "c2", chunks[3].ID)
	assert.Equal(t, ToolCompleted, chunks[1].State)
}
