package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

var bashHint = permission.UIHint{Kind: permission.KindBash, Command: "npm install"}

func setupTestServer(t *testing.T) (*Server, *permission.Broker, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	broker := permission.NewBroker(permission.WithBus(bus))
	return New(&Config{EnableCORS: true}, broker, bus), broker, bus
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	srv, broker, _ := setupTestServer(t)
	_, err := broker.Request("r1", bashHint, time.Minute)
	require.NoError(t, err)

	w := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["pending"])
}

func TestListApprovals(t *testing.T) {
	srv, broker, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/approvals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err := broker.Request("r1", bashHint, time.Minute)
	require.NoError(t, err)

	w = do(t, srv, http.MethodGet, "/approvals", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending []permission.PendingInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].RequestID)
	assert.Equal(t, bashHint, pending[0].Hint)
	assert.Equal(t, []string{"once", "bash:command", "bash:prefix", "bash:global", "reject"}, pending[0].Options)
}

func TestResolveApproval(t *testing.T) {
	tests := []struct {
		name string
		body string
		want permission.Decision
	}{
		{"approve prefix", `{"approved":true,"option":"bash:prefix"}`, permission.Approve(permission.Option{Kind: permission.OptionBash, Scope: permission.ScopePrefix})},
		{"approve object form", `{"approved":true,"option":{"kind":"once"}}`, permission.Approve(permission.Once)},
		{"reject", `{"approved":false}`, permission.Deny(permission.ReasonUserRejected)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, broker, _ := setupTestServer(t)
			ch, err := broker.Request("r1", bashHint, time.Minute)
			require.NoError(t, err)

			w := do(t, srv, http.MethodPost, "/approvals/r1", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp ResolveResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "r1", resp.RequestID)
			assert.Equal(t, tt.want, resp.Decision)

			select {
			case d := <-ch:
				assert.Equal(t, tt.want, d)
			case <-time.After(time.Second):
				t.Fatal("decision not delivered")
			}
			assert.Empty(t, broker.Pending())
		})
	}
}

func TestResolveApproval_UnknownID(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/approvals/nope", `{"approved":true,"option":"once"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Error.Code)
}

func TestResolveApproval_ResolvedTwice(t *testing.T) {
	srv, broker, _ := setupTestServer(t)
	_, err := broker.Request("r1", bashHint, time.Minute)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/approvals/r1", `{"approved":false}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/approvals/r1", `{"approved":false}`).Code)
}

func TestResolveApproval_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `approve`},
		{"unknown option", `{"approved":true,"option":"bash:forever"}`},
		{"approved without option", `{"approved":true}`},
		{"unknown reason", `{"approved":false,"reason":"bored"}`},
		{"option for another kind", `{"approved":true,"option":"fs:directory"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, broker, _ := setupTestServer(t)
			_, err := broker.Request("r1", bashHint, time.Minute)
			require.NoError(t, err)

			w := do(t, srv, http.MethodPost, "/approvals/r1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, ErrCodeInvalidRequest, decodeError(t, w).Error.Code)
			assert.Len(t, broker.Pending(), 1, "request stays pending")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/approvals/r1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents(t *testing.T) {
	srv, _, bus := setupTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); line != "" {
				return line
			}
		}
		return ""
	}

	require.Equal(t, "id: 1", next())
	require.Equal(t, "event: server.connected", next())
	require.Equal(t, "data: {}", next())

	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: map[string]string{"requestId": "r1"}})

	assert.Equal(t, "id: 2", next())
	assert.Equal(t, "event: tool.completed", next())
	assert.Equal(t, `data: {"requestId":"r1"}`, next())
}

func TestEvents_NoBus(t *testing.T) {
	srv := New(nil, permission.NewBroker(), nil)

	w := do(t, srv, http.MethodGet, "/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewSSEStream_NoFlusher(t *testing.T) {
	_, err := newSSEStream(&noFlushWriter{})
	assert.ErrorIs(t, err, errNoStreaming)
}

func TestWriteError_Internal(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errNoStreaming)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, errNoStreaming.Error(), resp.Error.Message)
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}
