// Package orchestrator runs streaming chat sessions against the external
// agent server.
//
// One Run call is one orchestration: claim the conversation thread, acquire
// an agent instance, create a session on it, then dispatch the prompt while
// concurrently consuming the session's event feed. The first of {dispatch
// failure, session error event, session idle event, cancellation} ends the
// run; every surviving event is folded into the chunk transcript and
// mirrored to the caller's sink as an incremental update.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillchat/quill/internal/agent"
	"github.com/quillchat/quill/internal/log"
)

var (
	// ErrNoResources indicates the request resolved zero resources. The
	// run fails before any session resource is acquired.
	ErrNoResources = errors.New("no resources resolved for session")

	// ErrSessionFailed wraps a failure reported by the session itself,
	// either a rejected prompt dispatch or a session.error event. Chunk
	// updates delivered before the failure remain valid.
	ErrSessionFailed = errors.New("session failed")
)

// SessionAPI is the session surface of one agent instance. *agent.Client is
// the production implementation.
type SessionAPI interface {
	CreateSession(ctx context.Context) (string, error)
	SendPrompt(ctx context.Context, sessionID, text string) error
	SubscribeEvents(ctx context.Context) (<-chan agent.RawEvent, error)
}

// InstanceSource yields ready agent instances. *agent.Acquirer is the
// production implementation.
type InstanceSource interface {
	Acquire(ctx context.Context, cfg agent.InstanceConfig) (*agent.Instance, error)
}

// Sink receives chunk-update notifications in event order. A sink error
// aborts the run (the consumer is gone).
type Sink func(Update) error

// Request is one orchestration request.
type Request struct {
	// ThreadID identifies the conversation thread. At most one session
	// may be live per thread; a new request cancels its predecessor.
	ThreadID string

	// Prompt is the user's message.
	Prompt string

	// Resources are the resolved resource directories the session works
	// on. The first entry becomes the instance working directory. Must
	// be non-empty.
	Resources []string
}

// Result is the final transcript assembly of a run. It is returned for
// every terminal outcome except pre-session failures, so chunks already
// streamed stay part of the record even when the run ends in an error.
type Result struct {
	SessionID string
	Chunks    []Chunk

	// Character counts for downstream usage accounting.
	PromptChars int
	OutputChars int
}

// Orchestrator coordinates instance acquisition, session exclusivity and
// event streaming. Safe for concurrent use; each Run owns its resources
// exclusively.
type Orchestrator struct {
	instances  InstanceSource
	registry   *Registry
	logger     log.Logger
	newSession func(*agent.Instance) SessionAPI
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionFactory overrides how a session API is built from an acquired
// instance. Tests use it to substitute fakes.
func WithSessionFactory(f func(*agent.Instance) SessionAPI) Option {
	return func(o *Orchestrator) { o.newSession = f }
}

// New creates an orchestrator.
func New(instances InstanceSource, registry *Registry, logger log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		instances: instances,
		registry:  registry,
		logger:    logger,
	}
	o.newSession = func(inst *agent.Instance) SessionAPI {
		return agent.NewClient(inst, logger)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one orchestration and streams chunk updates to sink.
//
// Pre-session failures (claim, acquire, create) return a nil Result. Once
// the event stream is live, Run always returns the transcript assembled so
// far, paired with nil on a clean session.idle ending or with the terminal
// error otherwise.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if len(req.Resources) == 0 {
		return nil, ErrNoResources
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Exclusivity first: the predecessor session for this thread must be
	// fully released before we acquire anything.
	active, err := o.registry.Claim(ctx, req.ThreadID, cancel)
	if err != nil {
		return nil, err
	}

	inst, err := o.instances.Acquire(runCtx, agent.InstanceConfig{WorkDir: req.Resources[0]})
	if err != nil {
		o.registry.Release(active)
		return nil, err
	}
	defer func() {
		// Release order matters: the registry entry may only disappear
		// after the instance is gone, because a successor claim takes
		// Done() to mean "resources freed".
		inst.Release()
		o.registry.Release(active)
	}()

	session := o.newSession(inst)

	sessionID, err := session.CreateSession(runCtx)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	active.setSessionID(sessionID)

	logger := o.logger.With("thread", req.ThreadID, "session", sessionID)
	logger.Info("session started", "instance", inst.BaseURL())

	raw, err := session.SubscribeEvents(runCtx)
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}
	events := filterEvents(runCtx, sessionID, raw)

	// Dispatch concurrently with consumption. The outcome is a single-shot
	// settlement: only a failure is reported, and only once. On
	// cancellation the in-flight request is abandoned, never awaited.
	dispatchFailed := make(chan error, 1)
	go func() {
		if err := session.SendPrompt(runCtx, sessionID, req.Prompt); err != nil && runCtx.Err() == nil {
			dispatchFailed <- err
		}
	}()

	set := NewChunkSet()
	outputChars := 0
	result := func() *Result {
		return &Result{
			SessionID:   sessionID,
			Chunks:      set.Ordered(),
			PromptChars: len(req.Prompt),
			OutputChars: outputChars,
		}
	}

	for {
		select {
		case <-runCtx.Done():
			logger.Info("session cancelled")
			return result(), runCtx.Err()

		case err := <-dispatchFailed:
			logger.Warn("prompt dispatch failed", "error", err)
			return result(), fmt.Errorf("%w: %v", ErrSessionFailed, err)

		case ev, ok := <-events:
			if !ok {
				if runCtx.Err() != nil {
					return result(), runCtx.Err()
				}
				// The feed ended without the session's idle event.
				logger.Warn("event feed closed before session idle")
				return result(), fmt.Errorf("%w: event feed closed unexpectedly", ErrSessionFailed)
			}

			// Broadcasts survive the filter but never terminate the
			// run; only the target session's own idle/error do.
			scoped := ev.Properties.SessionID == sessionID

			switch {
			case ev.Type == agent.EventSessionIdle && scoped:
				logger.Info("session completed",
					"chunks", set.Len(),
					"output_chars", outputChars)
				return result(), nil

			case ev.Type == agent.EventSessionError && scoped:
				msg := ev.ErrorMessage()
				logger.Warn("session reported error", "error", msg)
				return result(), fmt.Errorf("%w: %s", ErrSessionFailed, msg)

			default:
				if ev.Type == agent.EventTextDelta || ev.Type == agent.EventReasoningDelta {
					outputChars += len(ev.Properties.Delta)
				}
				upd := Apply(ev, set)
				if upd == nil {
					continue
				}
				if err := sink(*upd); err != nil {
					logger.Info("sink closed, abandoning session", "error", err)
					return result(), fmt.Errorf("delivering chunk update: %w", err)
				}
			}
		}
	}
}
