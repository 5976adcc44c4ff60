package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
)

func TestStatsEndpoint(t *testing.T) {
	s := NewServer(ServerConfig{
		Stats: func() map[string]interface{} {
			return map[string]interface{}{"session": map[string]string{"trace_id": "01HXYZ"}}
		},
	})
	srv := httptest.NewServer(s.testHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	session, ok := body["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "01HXYZ", session["trace_id"])
}

func TestStatsEndpoint_NoSources(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.testHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(registry))
	m.EntriesEnqueued.Inc()

	s := NewServer(ServerConfig{Registry: registry})
	srv := httptest.NewServer(s.testHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "beacon_entries_enqueued_total 1")
}

func TestTailStreamsBroadcasts(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.testHandler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tail"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens inside the handler goroutine; give it a beat.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	s.Broadcast([]logging.Entry{{Level: logging.INFO, Layer: logging.LayerService, Message: "tailed"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var batch []logging.Entry
	require.NoError(t, conn.ReadJSON(&batch))
	require.Len(t, batch, 1)
	assert.Equal(t, "tailed", batch[0].Message)
}

func TestTailClientRemovedOnDisconnect(t *testing.T) {
	s := NewServer(ServerConfig{})
	srv := httptest.NewServer(s.testHandler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tail"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	// The read pump must notice the close by itself; no broadcast needed.
	conn.Close()

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Broadcasting after removal must not panic on a closed channel.
	s.Broadcast([]logging.Entry{{Message: "x"}})
}
