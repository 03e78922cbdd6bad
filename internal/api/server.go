package api

import (
	"errors"
	"net/http"

	"github.com/quillchat/quill/internal/log"
	"github.com/quillchat/quill/internal/orchestrator"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger
	Runner        Runner                 // Required: executes orchestration runs
	Registry      *orchestrator.Registry // Required: active-session introspection
	WorkspaceRoot string                 // Required: root of resource directories
	CORSOrigins   []string               // Allowed origins for CORS and websocket upgrades
	TrustProxy    bool                   // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst     int                    // Rate limiter burst size per IP (0 = default 60)
}

// Server is the HTTP server surface.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("workspace root is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		runner:        cfg.Runner,
		workspaceRoot: cfg.WorkspaceRoot,
		logger:        logger,
	}
	ws := newWSHandler(ch, cfg.CORSOrigins)
	th := &threadsHandler{registry: cfg.Registry, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/chat/ws", ws.serve)

	mux.HandleFunc("GET /api/v1/threads", th.list)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", th.cancel)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps the health probe outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
