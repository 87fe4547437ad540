package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"mcpstudio/pkg/logging"
)

const (
	eventWriteTimeout = 10 * time.Second
	defaultPattern    = ">"
)

// streamEvents forwards a bus subscription over a websocket. The pattern is
// checked before the upgrade so a bad one gets a plain 400.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = defaultPattern
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.opts.Events.Subscribe(ctx, pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	// The stream outlives the API write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.AllowedOrigins})
	if err != nil {
		logging.Debug("Server", "Event stream upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()

	logging.Debug("Server", "Event stream %s opened for %s", logging.TruncateID(sub.ID), pattern)
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Debug("Server", "Event stream %s closed by peer", logging.TruncateID(sub.ID))
			return
		case event, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					conn.Close(websocket.StatusPolicyViolation, "subscriber overflow")
					return
				}
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, event)
			wcancel()
			if err != nil {
				logging.Debug("Server", "Event stream %s write failed: %v", logging.TruncateID(sub.ID), err)
				return
			}
		}
	}
}
