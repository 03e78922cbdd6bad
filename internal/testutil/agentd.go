package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/quillchat/quill/internal/agent"
)

// AgentServer is a scripted in-process stand-in for the external agent
// server. It implements the instance surface the client speaks: session
// creation, prompt dispatch and the SSE event feed.
//
// The feed emits the scripted events once the first prompt arrives, in
// order, then stays open until the subscriber disconnects. This mirrors
// the real server, where events are responses to a prompt.
type AgentServer struct {
	// SessionID is returned by session creation. Defaults to "sess-test".
	SessionID string

	// PromptStatus is the status code for prompt dispatch. 0 means 200.
	PromptStatus int

	// Events are streamed on the feed after the first prompt.
	Events []agent.RawEvent

	srv *httptest.Server

	mu       sync.Mutex
	prompts  []string
	prompted chan struct{}
}

// StartAgentServer starts the fake and registers its shutdown with t.
func StartAgentServer(t *testing.T) *AgentServer {
	t.Helper()

	s := &AgentServer{
		SessionID: "sess-test",
		prompted:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session", s.createSession)
	mux.HandleFunc("POST /session/{id}/prompt", s.prompt)
	mux.HandleFunc("GET /event", s.feed)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// Instance wraps the fake as an agent instance.
func (s *AgentServer) Instance() *agent.Instance {
	port := 0
	if addr, ok := s.srv.Listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return agent.NewInstance(port, s.srv.URL, nil, nil)
}

// Prompts returns the prompt texts received so far.
func (s *AgentServer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *AgentServer) createSession(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":%s}`, strconv.Quote(s.SessionID))
}

func (s *AgentServer) prompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.prompts = append(s.prompts, body.Text)
	first := len(s.prompts) == 1
	s.mu.Unlock()

	if s.PromptStatus != 0 {
		w.WriteHeader(s.PromptStatus)
		return
	}
	if first {
		close(s.prompted)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *AgentServer) feed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	select {
	case <-s.prompted:
	case <-r.Context().Done():
		return
	}

	for _, ev := range s.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}

	// The real feed stays open after the session idles.
	<-r.Context().Done()
}
