package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

const streamWriteTimeout = 5 * time.Second

// handleEventStream upgrades to a WebSocket and pushes every analytics event
// as a JSON text message. ?activity= and ?user_id= narrow the feed. The
// stream is write-only; client messages are discarded.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, r, unavailable("event stream"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.streamOrigins})
	if err != nil {
		slog.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	activityFilter := r.URL.Query().Get("activity")
	userFilter := r.URL.Query().Get("user_id")

	events, cancel := s.events.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	slog.Debug("event stream opened", "activity", activityFilter, "user_id", userFilter)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if !streamWants(ev, activityFilter, userFilter) {
				continue
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func streamWants(ev activity.Event, activityFilter, userFilter string) bool {
	if activityFilter != "" && ev.Activity != activityFilter {
		return false
	}
	if userFilter != "" && ev.UserID != userFilter {
		return false
	}
	return true
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev activity.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
