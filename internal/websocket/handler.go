package websocket

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/pkg/interfaces"
)

// Handler upgrades HTTP requests to realtime connections and pumps their
// inbound frames into a Lifecycle.
type Handler struct {
	lifecycle interfaces.Lifecycle
	opts      Options
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a handler. An empty opts.AllowedOrigins allows any origin.
func NewHandler(lifecycle interfaces.Lifecycle, opts Options, logger *slog.Logger) *Handler {
	opts = opts.withDefaults()
	h := &Handler{
		lifecycle: lifecycle,
		opts:      opts,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// HandleWebSocket serves GET /ws. It blocks until the connection closes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	wsConn := NewConnection(conn, h.opts)
	h.logger.Debug("websocket connected", "conn_id", wsConn.ID(), "remote", r.RemoteAddr)

	frames := h.lifecycle.Open(wsConn)
	h.handleConnection(wsConn, frames)
}

func (h *Handler) handleConnection(conn *Connection, frames interfaces.FrameHandler) {
	defer func() {
		frames.Close()
		_ = conn.Close()
		h.logger.Debug("websocket disconnected", "conn_id", conn.ID())
	}()

	if err := conn.prepareRead(); err != nil {
		h.logger.Warn("failed to set read deadline", "conn_id", conn.ID(), "error", err)
		return
	}

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frames.HandleFrame(data)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}
