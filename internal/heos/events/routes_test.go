package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newRouteServer(t *testing.T, broadcast *Broadcast) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	RegisterRoutes(router, broadcast, quietLogger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestStreamHandler_WritesFormattedEvents(t *testing.T) {
	broadcast := NewBroadcast(8)
	server := newRouteServer(t, broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broadcast.Len() == 1 }, time.Second, 10*time.Millisecond)
	ev := testEvent(t, "player_state_changed", "pid=1&state=play")
	broadcast.Publish(ev)

	reader := bufio.NewReader(resp.Body)
	var block strings.Builder
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		block.WriteString(line)
		if line == "\n" {
			break
		}
	}
	require.Equal(t, FormatEvent(ev), block.String())

	cancel()
	require.Eventually(t, func() bool { return broadcast.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebsocketHandler_SendsRecords(t *testing.T) {
	broadcast := NewBroadcast(8)
	server := newRouteServer(t, broadcast)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broadcast.Len() == 1 }, time.Second, 10*time.Millisecond)
	broadcast.Publish(testEvent(t, "repeat_mode_changed", "pid=1&repeat=on_all"))

	var record Record
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&record))
	require.Equal(t, "repeat_mode_changed", record.Event)
	require.Equal(t, "pid=1&repeat=on_all", record.Message)
	require.Contains(t, string(record.Heos), `"event/repeat_mode_changed"`)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return broadcast.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventRoutes_UnavailableAfterClose(t *testing.T) {
	broadcast := NewBroadcast(8)
	server := newRouteServer(t, broadcast)
	broadcast.Close()
	require.True(t, broadcast.Closed())

	resp, err := http.Get(server.URL + "/v1/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "EVENTS_UNAVAILABLE", body.Error.Code)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusServiceUnavailable, wsResp.StatusCode)
	_ = wsResp.Body.Close()
}
