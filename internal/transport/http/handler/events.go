package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-broker-agent/internal/stream"
	"github.com/go-broker-agent/internal/transport/http/middleware"
	"nhooyr.io/websocket"
)

// EventHandler streams record-change events to websocket subscribers.
type EventHandler struct {
	hub *stream.Hub
}

func NewEventHandler(hub *stream.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// Stream upgrades the request to a websocket and forwards the owner's hub
// events as JSON text frames until either side goes away. Frames the client
// sends are drained and discarded; the stream is one-way.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	sub := h.hub.Subscribe(claims.UserID)
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: detects disconnects and drops inbound frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
