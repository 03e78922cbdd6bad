package api

import (
	"net/http"
	"sort"

	"github.com/quillchat/quill/internal/log"
	"github.com/quillchat/quill/internal/orchestrator"
)

// threadsHandler exposes the active-session registry: which threads have a
// live session, and a cancellation hook for each.
type threadsHandler struct {
	registry *orchestrator.Registry
	logger   log.Logger
}

type threadsResponse struct {
	Threads []orchestrator.ThreadInfo `json:"threads"`
}

// list handles GET /api/v1/threads.
func (h *threadsHandler) list(w http.ResponseWriter, _ *http.Request) {
	threads := h.registry.Snapshot()
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].StartedAt.Before(threads[j].StartedAt)
	})
	writeJSON(w, http.StatusOK, threadsResponse{Threads: threads}, h.logger)
}

// cancel handles DELETE /api/v1/threads/{id}. Cancellation is fired, not
// awaited; the session unwinds through its own release path.
func (h *threadsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if !h.registry.CancelThread(threadID) {
		writeError(w, http.StatusNotFound, "thread_not_found", "no live session for thread", h.logger)
		return
	}

	h.logger.Info("session cancellation requested", "thread", threadID)
	w.WriteHeader(http.StatusNoContent)
}
