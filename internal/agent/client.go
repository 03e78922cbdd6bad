package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/quillchat/quill/internal/log"
)

// eventBuffer is the subscription channel capacity. Delivery is blocking,
// not best-effort: when the consumer falls behind, the feed reader blocks
// rather than dropping events.
const eventBuffer = 64

// Client speaks the session API of one agent instance.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  log.Logger
}

// NewClient creates a client bound to the given instance.
func NewClient(inst *Instance, logger log.Logger) *Client {
	return &Client{
		baseURL: inst.baseURL,
		httpc:   inst.httpc,
		logger:  logger,
	}
}

// CreateSession creates a reasoning session on the instance and returns its
// opaque identifier.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/session", nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d: %s", ErrSessionCreate, resp.StatusCode, readBodyPrefix(resp.Body))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrSessionCreate, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrSessionCreate)
	}
	return out.ID, nil
}

// SendPrompt sends the user's prompt to a session. It returns when the
// instance acknowledges the request; the answer arrives on the event feed.
func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPromptRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: status %d: %s", ErrPromptRejected, resp.StatusCode, readBodyPrefix(resp.Body))
	}
	return nil
}

// SubscribeEvents opens the instance's raw event feed.
//
// The returned channel carries every event the instance emits, in emission
// order, until ctx is canceled or the feed closes; the channel is then
// closed. Malformed records are logged and skipped, never fatal. The feed is
// not restartable: a consumer that needs the feed again must subscribe anew.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan RawEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The event feed is long-lived; the client-level timeout must not
	// apply. Cancellation comes from ctx.
	httpc := &http.Client{Transport: c.httpc.Transport}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("event feed status %d: %s", resp.StatusCode, readBodyPrefix(resp.Body))
	}

	events := make(chan RawEvent, eventBuffer)
	go c.readFeed(ctx, resp.Body, events)
	return events, nil
}

// readFeed scans the SSE body line by line, decoding each data frame into
// a RawEvent.
func (c *Client) readFeed(ctx context.Context, body io.ReadCloser, events chan<- RawEvent) {
	defer close(events)
	defer body.Close()

	// Stop blocking reads when the subscription context ends.
	go func() {
		<-ctx.Done()
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		ev, err := decodeEvent([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			c.logger.Warn("skipping malformed event", "error", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("event feed closed", "error", err)
	}
}

// do issues a JSON request against the instance API.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpc.Do(req)
}

// readBodyPrefix reads a short prefix of an error response body for
// diagnostics.
func readBodyPrefix(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
