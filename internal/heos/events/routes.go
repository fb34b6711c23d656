package events

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/heos-hub-go/internal/api"
	"github.com/strefethen/heos-hub-go/internal/apperrors"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins on the LAN
	},
}

// RegisterRoutes wires the live event streams.
func RegisterRoutes(router chi.Router, broadcast *Broadcast, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	router.Method(http.MethodGet, "/v1/events/stream", api.Handler(streamHandler(broadcast)))
	router.HandleFunc("/ws/events", websocketHandler(broadcast, logger))
}

// streamHandler writes every event as a FormatEvent block until the client
// goes away or the subscription is dropped.
func streamHandler(broadcast *Broadcast) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		flusher, ok := w.(http.Flusher)
		if !ok {
			return apperrors.NewInternalError("Streaming not supported")
		}
		if broadcast.Closed() {
			return apperrors.NewEventsUnavailable()
		}

		sub := broadcast.Subscribe()
		defer broadcast.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return nil
			case ev, ok := <-sub.C():
				if !ok {
					return nil
				}
				if _, err := io.WriteString(w, FormatEvent(ev)); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func websocketHandler(broadcast *Broadcast, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if broadcast.Closed() {
			api.WriteError(w, r, apperrors.NewEventsUnavailable())
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		defer conn.Close()

		sub := broadcast.Subscribe()
		defer broadcast.Unsubscribe(sub)

		// The client never sends anything useful; reading only detects close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case ev, ok := <-sub.C():
				if !ok {
					if sub.Evicted() {
						logger.Printf("WATCH: websocket subscriber %s evicted", sub.ID())
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
							time.Now().Add(wsWriteTimeout))
					}
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev.Record()); err != nil {
					return
				}
			}
		}
	}
}
