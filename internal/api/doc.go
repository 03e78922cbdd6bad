// Package api provides the HTTP API server for Quill.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Health probes (/health) bypass the middleware stack via a top-level
// mux, ensuring they remain fast and unthrottled.
//
// # Endpoints
//
// Health probe (no middleware):
//   - GET /health — returns {"status":"ok"}
//
// Chat:
//   - POST /api/v1/chat/stream — run a session, stream chunk updates as SSE
//   - GET  /api/v1/chat/ws     — run sessions over a websocket
//
// Threads:
//   - GET    /api/v1/threads      — list threads with live sessions
//   - DELETE /api/v1/threads/{id} — cancel the thread's live session
//
// # Chunk Streaming
//
// Chat responses stream newline-delimited "data: <json>" frames. Each
// frame is one of:
//
//   - add:    a new chunk appeared, carries the complete chunk
//   - update: an existing chunk changed, carries the target id and the
//     changed fields only
//   - done:   the session finished, carries session metadata and
//     character counts
//   - error:  the session failed; chunks already delivered remain valid
//
// Errors during streaming are sent as frames, not HTTP error responses,
// since streaming headers are already committed.
//
// # Error Handling
//
// Non-streaming error responses use an envelope format:
//
//	{"error": {"code": "...", "message": "..."}}
package api
