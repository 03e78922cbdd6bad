package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/agent"
	"github.com/quillchat/quill/internal/log"
	"github.com/quillchat/quill/internal/orchestrator"
)

// Runner executes one orchestration, streaming chunk updates into sink.
// *orchestrator.Orchestrator is the production implementation.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Result, error)
}

// Frame types of the chunk-update stream, shared by the SSE and websocket
// transports.
const (
	FrameAdd    = "add"
	FrameUpdate = "update"
	FrameDone   = "done"
	FrameError  = "error"
)

// Frame is one chunk-update stream message. Type selects which fields are
// populated: add carries Chunk; update carries ID and the changed fields in
// Chunk; done carries session metadata; error carries Error.
type Frame struct {
	Type        string              `json:"type"`
	ID          string              `json:"id,omitempty"`
	Chunk       *orchestrator.Chunk `json:"chunk,omitempty"`
	ThreadID    string              `json:"threadId,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	PromptChars int                 `json:"promptChars,omitempty"`
	OutputChars int                 `json:"outputChars,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// updateFrame converts an orchestrator update into its wire frame.
func updateFrame(u orchestrator.Update) Frame {
	c := u.Chunk
	return Frame{Type: string(u.Type), ID: u.ID, Chunk: &c}
}

// chatRequest is the body of POST /api/v1/chat/stream and of each
// websocket request message.
type chatRequest struct {
	// ThreadID names the conversation thread. Empty means a fresh
	// thread; the generated ID is reported in the done frame.
	ThreadID string `json:"threadId"`

	// Prompt is the user's message. Required.
	Prompt string `json:"prompt"`

	// Resources are workspace-relative resource directories the session
	// works on. Empty means the thread's own workspace directory.
	Resources []string `json:"resources"`
}

// chatHandler serves the chunk-update transports.
type chatHandler struct {
	runner        Runner
	workspaceRoot string
	logger        log.Logger
}

// resolve validates the request and fills in defaults. Resource paths are
// anchored under the workspace root; escapes via ".." are rejected.
func (h *chatHandler) resolve(req *chatRequest) error {
	if req.Prompt == "" {
		return errors.New("prompt is required")
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}

	if len(req.Resources) == 0 {
		req.Resources = []string{req.ThreadID}
	}
	resolved := make([]string, 0, len(req.Resources))
	for _, res := range req.Resources {
		p := filepath.Join(h.workspaceRoot, filepath.Clean("/"+res))
		resolved = append(resolved, p)
	}
	req.Resources = resolved
	return nil
}

// stream handles POST /api/v1/chat/stream. Chunk updates flow as
// newline-delimited "data: <json>" frames; the stream always terminates
// with a done or error frame unless the client disconnects first.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeFrame(w, flusher, Frame{Type: FrameError, Error: "invalid request body"})
		return
	}
	if err := h.resolve(&req); err != nil {
		_ = writeFrame(w, flusher, Frame{Type: FrameError, Error: err.Error()})
		return
	}

	ctx := r.Context()
	h.logger.Debug("chunk stream started", "thread", req.ThreadID)

	sink := func(u orchestrator.Update) error {
		return writeFrame(w, flusher, updateFrame(u))
	}

	res, err := h.runner.Run(ctx, orchestrator.Request{
		ThreadID:  req.ThreadID,
		Prompt:    req.Prompt,
		Resources: req.Resources,
	}, sink)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "thread", req.ThreadID)
			return
		}
		h.logger.Warn("chat stream failed", "thread", req.ThreadID, "error", err)
		_ = writeFrame(w, flusher, Frame{Type: FrameError, Error: streamErrorMessage(err)})
		return
	}

	_ = writeFrame(w, flusher, Frame{
		Type:        FrameDone,
		ThreadID:    req.ThreadID,
		SessionID:   res.SessionID,
		PromptChars: res.PromptChars,
		OutputChars: res.OutputChars,
	})
	h.logger.Info("chunk stream completed", "thread", req.ThreadID, "session", res.SessionID)
}

// streamErrorMessage maps orchestration errors to client-facing messages.
// Port exhaustion and similar infrastructure failures are reported
// generically; session failures carry the session's own message.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrSessionFailed):
		return err.Error()
	case errors.Is(err, agent.ErrPortsExhausted):
		return "no agent capacity available"
	case errors.Is(err, orchestrator.ErrNoResources):
		return "no resources resolved"
	default:
		return "session could not be started"
	}
}

// writeFrame writes a single "data: <json>" frame and flushes it.
func writeFrame(w io.Writer, flusher http.Flusher, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	flusher.Flush()
	return nil
}
