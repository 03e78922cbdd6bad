package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/agent"
)

func collectFiltered(t *testing.T, out <-chan agent.RawEvent) []agent.RawEvent {
	t.Helper()

	var got []agent.RawEvent
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("filtered feed did not terminate")
		}
	}
}

func TestFilterEventsSessionScoping(t *testing.T) {
	t.Parallel()

	raw := make(chan agent.RawEvent, 8)
	raw <- textDelta("s1", "mine")
	raw <- textDelta("s2", "not mine")
	raw <- agent.RawEvent{Type: "server.connected"} // broadcast, no session
	raw <- idleEvent("s2")
	raw <- idleEvent("s1")
	close(raw)

	got := collectFiltered(t, filterEvents(context.Background(), "s1", raw))

	require.Len(t, got, 3)
	assert.Equal(t, "mine", got[0].Properties.Delta)
	assert.Equal(t, "server.connected", got[1].Type)
	assert.Equal(t, agent.EventSessionIdle, got[2].Type)
}

func TestFilterEventsTerminatesOnOwnIdle(t *testing.T) {
	t.Parallel()

	// The raw feed stays open past the session's idle event; the filtered
	// feed must still close after forwarding it.
	raw := make(chan agent.RawEvent, 4)
	raw <- textDelta("s1", "a")
	raw <- idleEvent("s1")

	got := collectFiltered(t, filterEvents(context.Background(), "s1", raw))

	require.Len(t, got, 2)
	assert.Equal(t, agent.EventSessionIdle, got[1].Type)
	close(raw)
}

func TestFilterEventsClosesOnRawClose(t *testing.T) {
	t.Parallel()

	raw := make(chan agent.RawEvent)
	close(raw)

	got := collectFiltered(t, filterEvents(context.Background(), "s1", raw))
	assert.Empty(t, got)
}

func TestFilterEventsClosesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	raw := make(chan agent.RawEvent)
	out := filterEvents(ctx, "s1", raw)

	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "channel should be closed, not deliver")
	case <-time.After(2 * time.Second):
		t.Fatal("filtered feed not closed on cancel")
	}
	close(raw)
}
