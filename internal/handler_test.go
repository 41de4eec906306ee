package internal_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/koopa0/sos-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHandler 建立測試用的 HTTP 邊界（與 WebSocket 端共用同一個 Hub）
func newTestHandler(t *testing.T) (*testRelay, *httptest.Server) {
	t.Helper()

	relay := newTestRelay(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := internal.NewHandler(relay.hub, logger)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return relay, server
}

// TestHandler_NotifyAlert 測試警報通知回調
func TestHandler_NotifyAlert(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "valid alert payload",
			body:           `{"id": 7, "kind": "fire", "location": "信義區"}`,
			expectedStatus: http.StatusAccepted,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, true, resp["queued"])
				assert.Contains(t, resp, "receivers")
			},
		},
		{
			name:           "invalid json",
			body:           `{id: 7`,
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.NotEmpty(t, resp["error"])
			},
		},
		{
			name:           "empty body",
			body:           ``,
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.NotEmpty(t, resp["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, server := newTestHandler(t)

			resp, err := http.Post(server.URL+"/api/v1/alerts/notify", "application/json",
				bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			tt.validate(t, body)
		})
	}
}

// TestHandler_NotifyAlert_Fanout 測試回調觸發的警報到達在線連接
func TestHandler_NotifyAlert_Fanout(t *testing.T) {
	relay, server := newTestHandler(t)

	ws := relay.dial(t)
	require.Eventually(t, func() bool {
		return relay.hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(server.URL+"/api/v1/alerts/notify", "application/json",
		bytes.NewBufferString(`{"id": 12, "kind": "sos"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["receivers"])

	env, ok := readEvent(t, ws, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, internal.EventNewAlert, env.Event)

	var payload struct {
		ID   int    `json:"id"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, 12, payload.ID)
	assert.Equal(t, "sos", payload.Kind)
}

// TestHandler_Health 測試健康檢查
func TestHandler_Health(t *testing.T) {
	_, server := newTestHandler(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

// TestHandler_Stats 測試統計端點
func TestHandler_Stats(t *testing.T) {
	relay, server := newTestHandler(t)

	ws := relay.dial(t)
	relay.registerUser(t, ws, "alice")

	resp, err := http.Get(server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, float64(1), body["identities"])
	assert.Equal(t, float64(1), body["rooms"]) // 身份命名的房間
	assert.Contains(t, body, "uptime_seconds")
}

// TestHandler_MethodNotAllowed 測試方法限制
func TestHandler_MethodNotAllowed(t *testing.T) {
	_, server := newTestHandler(t)

	resp, err := http.Get(server.URL + "/api/v1/alerts/notify")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
