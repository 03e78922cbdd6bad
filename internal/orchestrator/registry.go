package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillchat/quill/internal/log"
)

// Registry tracks the active session per conversation thread and enforces
// exclusivity: at most one live session per thread at any instant. It is the
// only state shared across concurrent orchestration runs.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Active
	logger log.Logger
}

// Active is one registered session. It is created by Claim before any
// session resources are acquired and closed by Release after they are all
// freed.
type Active struct {
	ThreadID string

	mu        sync.Mutex
	sessionID string

	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time
}

// SessionID returns the session identifier, or "" while the session is
// still being created.
func (a *Active) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// setSessionID records the identifier once the instance reports it.
func (a *Active) setSessionID(id string) {
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

// Cancel fires the session's cancellation handle.
func (a *Active) Cancel() {
	a.cancel()
}

// Done is closed once the session's resources are fully released.
func (a *Active) Done() <-chan struct{} {
	return a.done
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		active: make(map[string]*Active),
		logger: logger,
	}
}

// Claim registers a new session for threadID, first cancelling any
// predecessor and waiting until its resources are confirmed released. When
// several claims race for the same thread, the newest wins: each cancels
// whatever it finds registered and retries until its own entry is in place.
//
// The returned Active must be passed to Release when the session reaches
// any terminal state.
func (r *Registry) Claim(ctx context.Context, threadID string, cancel context.CancelFunc) (*Active, error) {
	for {
		r.mu.Lock()
		prev, exists := r.active[threadID]
		if !exists {
			a := &Active{
				ThreadID: threadID,
				cancel:   cancel,
				done:     make(chan struct{}),
				start:    time.Now(),
			}
			r.active[threadID] = a
			r.mu.Unlock()
			return a, nil
		}
		r.mu.Unlock()

		r.logger.Info("cancelling predecessor session", "thread", threadID, "session", prev.SessionID())
		prev.cancel()

		select {
		case <-prev.done:
			// Predecessor fully released; try to claim again.
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for predecessor session: %w", ctx.Err())
		}
	}
}

// Release marks the session's resources as freed and removes its registry
// entry. The entry is removed only if it still refers to this session, so a
// slow terminating run cannot evict its successor. Safe to call once per
// Active.
func (r *Registry) Release(a *Active) {
	r.mu.Lock()
	if r.active[a.ThreadID] == a {
		delete(r.active, a.ThreadID)
	}
	r.mu.Unlock()
	close(a.done)
}

// CancelThread fires cancellation for the thread's live session, if any.
// It does not wait for the release to complete.
func (r *Registry) CancelThread(threadID string) bool {
	r.mu.Lock()
	a, ok := r.active[threadID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	a.cancel()
	return true
}

// ThreadInfo is a point-in-time view of one active session.
type ThreadInfo struct {
	ThreadID  string    `json:"threadId"`
	SessionID string    `json:"sessionId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Snapshot lists the currently active sessions.
func (r *Registry) Snapshot() []ThreadInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ThreadInfo, 0, len(r.active))
	for _, a := range r.active {
		out = append(out, ThreadInfo{
			ThreadID:  a.ThreadID,
			SessionID: a.SessionID(),
			StartedAt: a.start,
		})
	}
	return out
}
