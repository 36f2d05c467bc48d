package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/internal/config"
)

func testServerConfig(rps float64, burst int) config.Interface {
	return &config.Config{
		ServerCfg: config.ServerConfig{
			ListenAddr:         "127.0.0.1:0",
			RequestTimeout:     30 * time.Second,
			RateLimitPerSecond: rps,
			RateLimitBurst:     burst,
		},
		DatabaseCfg: config.DatabaseConfig{QueryTimeout: 5 * time.Second},
	}
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	srv := newServerWith(testServerConfig(1, 2), zap.NewNop(), defaultAnalyzer(), &stubBrowser{})
	router := srv.router()

	// Two requests fit the burst, the third is rejected.
	for i := 0; i < 2; i++ {
		rec := postCommand(t, router, `{"command": "ping"}`)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := postCommand(t, router, `{"command": "ping"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterZeroDisables(t *testing.T) {
	srv := newServerWith(testServerConfig(0, 0), zap.NewNop(), defaultAnalyzer(), &stubBrowser{})
	router := srv.router()

	for i := 0; i < 10; i++ {
		rec := postCommand(t, router, `{"command": "ping"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestTraceStreamDeliversSectionsInOrder(t *testing.T) {
	srv := newServerWith(testServerConfig(0, 0), zap.NewNop(), defaultAnalyzer(), &stubBrowser{})
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/v1/trace"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsRequest{TraceID: testTraceID, RequestID: "req-1"}))

	wantOrder := []wsMessageType{
		msgTypeStatus, msgTypeEnrichment, msgTypeTopology, msgTypeAnomalies, msgTypeComplete,
	}
	for _, want := range wantOrder {
		var msg wsMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, want, msg.Type)
		assert.Equal(t, "req-1", msg.RequestID)
	}
}

func TestTraceStreamReportsPipelineErrors(t *testing.T) {
	srv := newServerWith(testServerConfig(0, 0), zap.NewNop(), defaultAnalyzer(), &stubBrowser{})
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/v1/trace"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Missing trace_id is answered with an error frame, not a closed socket.
	require.NoError(t, conn.WriteJSON(wsRequest{RequestID: "req-2"}))

	var msg wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, msgTypeStreamError, msg.Type)

	// Unknown trace streams a status frame then an error frame.
	require.NoError(t, conn.WriteJSON(wsRequest{
		TraceID:   "0e0fca3a-54b0-4a7c-9473-6b3a07c2f0a9",
		RequestID: "req-3",
	}))
	for _, want := range []wsMessageType{msgTypeStatus, msgTypeStreamError} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, want, msg.Type)
	}
}
