package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/quillchat/quill/internal/orchestrator"
)

// wsHandler serves the websocket chunk-update transport. Each text message
// from the client is one chatRequest; the responses are the same frames the
// SSE transport sends, one frame per message. Requests on one connection
// run sequentially.
type wsHandler struct {
	chat     *chatHandler
	upgrader websocket.Upgrader
}

func newWSHandler(chat *chatHandler, allowedOrigins []string) *wsHandler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return &wsHandler{
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := originSet[origin]
				return ok
			},
		},
	}
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.chat.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// Read pump: raw messages flow to the run loop; decoding happens
	// there so all writes stay on one goroutine.
	msgs := make(chan []byte)
	g.Go(func() error {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				// Any read error means the client is gone.
				return nil
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Run loop: owns the connection's write side. Closing the connection
	// on exit unblocks the read pump.
	g.Go(func() error {
		defer conn.Close()
		return h.runLoop(ctx, conn, msgs)
	})

	if err := g.Wait(); err != nil {
		h.chat.logger.Debug("websocket session ended", "error", err)
	}
}

func (h *wsHandler) runLoop(ctx context.Context, conn *websocket.Conn, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}

			var req chatRequest
			if err := json.Unmarshal(data, &req); err != nil {
				if err := conn.WriteJSON(Frame{Type: FrameError, Error: "invalid request body"}); err != nil {
					return err
				}
				continue
			}
			if err := h.serveRequest(ctx, conn, req); err != nil {
				return err
			}
		}
	}
}

// serveRequest runs one orchestration and mirrors its frames onto the
// connection. A write failure aborts the run and the connection; an
// orchestration failure only terminates this request's frame sequence.
func (h *wsHandler) serveRequest(ctx context.Context, conn *websocket.Conn, req chatRequest) error {
	if err := h.chat.resolve(&req); err != nil {
		return conn.WriteJSON(Frame{Type: FrameError, Error: err.Error()})
	}

	h.chat.logger.Debug("websocket run started", "thread", req.ThreadID)

	sink := func(u orchestrator.Update) error {
		return conn.WriteJSON(updateFrame(u))
	}

	res, err := h.chat.runner.Run(ctx, orchestrator.Request{
		ThreadID:  req.ThreadID,
		Prompt:    req.Prompt,
		Resources: req.Resources,
	}, sink)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		h.chat.logger.Warn("websocket run failed", "thread", req.ThreadID, "error", err)
		return conn.WriteJSON(Frame{Type: FrameError, Error: streamErrorMessage(err)})
	}

	return conn.WriteJSON(Frame{
		Type:        FrameDone,
		ThreadID:    req.ThreadID,
		SessionID:   res.SessionID,
		PromptChars: res.PromptChars,
		OutputChars: res.OutputChars,
	})
}
