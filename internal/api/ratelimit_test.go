package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/log"
)

func TestRateLimiterBurst(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.0001, 3)

	for i := range 3 {
		assert.True(t, rl.allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, rl.allow("10.0.0.1"), "burst exhausted")

	// A different IP has its own bucket.
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.0001, 2)
	handler := rateLimitMiddleware(rl, false, log.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.10:4321",
			want:       "192.168.1.10",
		},
		{
			name:       "x-real-ip ignored without trust",
			remoteAddr: "192.168.1.10:4321",
			headers:    map[string]string{"X-Real-IP": "203.0.113.5"},
			want:       "192.168.1.10",
		},
		{
			name:       "x-real-ip honored with trust",
			remoteAddr: "192.168.1.10:4321",
			headers:    map[string]string{"X-Real-IP": "203.0.113.5"},
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for first hop",
			remoteAddr: "192.168.1.10:4321",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "non-ip header value rejected",
			remoteAddr: "192.168.1.10:4321",
			headers:    map[string]string{"X-Real-IP": "malicious-key"},
			trustProxy: true,
			want:       "192.168.1.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}

func TestRateLimiterIsolatesCallers(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(0.0001, 1)
	for i := range 5 {
		ip := fmt.Sprintf("10.1.0.%d", i)
		require.True(t, rl.allow(ip))
		require.False(t, rl.allow(ip))
	}
}
