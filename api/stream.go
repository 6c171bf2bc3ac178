package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"votingsync/notify"
)

const (
	wsWriteTimeout = 10 * time.Second
	streamBuffer   = 32
)

// handleStream replays the current notifications as "added" events and then
// forwards every change until the client goes away.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Subscribe before the backlog snapshot so nothing falls between them.
	events, cancel := s.coord.Subscribe(streamBuffer)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := s.streamNotifications(ctx, conn, events); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("notification stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *server) streamNotifications(ctx context.Context, conn *websocket.Conn, events <-chan notify.Event) error {
	for _, n := range s.coord.Notifications() {
		if err := writeEvent(ctx, conn, notify.Event{Type: notify.EventAdded, Notification: n}); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
