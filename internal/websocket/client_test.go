package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/config"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      30 * time.Second,
		PongWait:        60 * time.Second,
	}
}

func TestHandlerUpgradeAndWelcome(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	hub.Start()
	defer hub.Stop()

	handler := NewHandler(hub, testWSConfig(), nil, testLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, EventConnected, event.Type)
	assert.NotEmpty(t, event.Timestamp)

	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 1 })
}

func TestHandlerBroadcastReachesDialedClient(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	hub.Start()
	defer hub.Stop()

	handler := NewHandler(hub, testWSConfig(), nil, testLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Welcome first.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 1 })
	hub.BroadcastEvent(EventForecastCompleted, map[string]interface{}{"run_id": "xyz"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, EventForecastCompleted, event.Type)
}

func TestHandlerRejectsDisallowedOrigin(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	hub.Start()
	defer hub.Stop()

	handler := NewHandler(hub, testWSConfig(), []string{"http://allowed.example"}, testLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestHandlerAllowsListedOrigin(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	hub.Start()
	defer hub.Stop()

	handler := NewHandler(hub, testWSConfig(), []string{"http://allowed.example"}, testLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://allowed.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()
}
