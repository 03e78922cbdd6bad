package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/orchestrator"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestChatWebsocket(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		updates: []orchestrator.Update{
			{Type: orchestrator.UpdateAdd, Chunk: orchestrator.Chunk{
				ID: orchestrator.TextChunkID, Kind: orchestrator.ChunkText, Text: "hey",
			}},
		},
		result: &orchestrator.Result{SessionID: "sess-1", PromptChars: 2, OutputChars: 3},
	}
	srv, _ := newTestServer(t, runner)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(chatRequest{ThreadID: "t1", Prompt: "hi"}))

	add := readFrame(t, conn)
	assert.Equal(t, FrameAdd, add.Type)
	require.NotNil(t, add.Chunk)
	assert.Equal(t, "hey", add.Chunk.Text)

	done := readFrame(t, conn)
	assert.Equal(t, FrameDone, done.Type)
	assert.Equal(t, "t1", done.ThreadID)
	assert.Equal(t, "sess-1", done.SessionID)
}

func TestChatWebsocketSequentialRequests(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: &orchestrator.Result{SessionID: "sess-1"}}
	srv, _ := newTestServer(t, runner)
	conn := dialWS(t, srv)

	for _, thread := range []string{"t1", "t2"} {
		require.NoError(t, conn.WriteJSON(chatRequest{ThreadID: thread, Prompt: "hi"}))
		done := readFrame(t, conn)
		assert.Equal(t, FrameDone, done.Type)
		assert.Equal(t, thread, done.ThreadID)
	}
}

func TestChatWebsocketInvalidMessage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &fakeRunner{})
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "invalid request body", frame.Error)

	// The connection survives a malformed message.
	require.NoError(t, conn.WriteJSON(chatRequest{ThreadID: "t1", Prompt: ""}))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "prompt is required", frame.Error)
}
