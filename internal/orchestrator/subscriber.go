package orchestrator

import (
	"context"

	"github.com/quillchat/quill/internal/agent"
)

// filterEvents narrows the instance-wide raw feed to one session.
//
// Events pass when they are broadcasts (no session scoping) or scoped to
// sessionID. The returned channel closes after forwarding the session's
// terminal session.idle event, when the raw feed closes, or when ctx is
// canceled. Delivery is blocking: a slow consumer backpressures the feed
// instead of losing events.
func filterEvents(ctx context.Context, sessionID string, raw <-chan agent.RawEvent) <-chan agent.RawEvent {
	out := make(chan agent.RawEvent)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if !ev.ForSession(sessionID) {
					continue
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}

				// session.idle for the target session terminates the
				// sequence; it is forwarded first so the consumer
				// observes the terminal event.
				if ev.Type == agent.EventSessionIdle && ev.Properties.SessionID == sessionID {
					return
				}
			}
		}
	}()

	return out
}
