// Package router decodes inbound control frames and applies them to the
// sending connection's session.
package router

import (
	"errors"
	"fmt"
	"log/slog"

	"roomcast/internal/metrics"
	"roomcast/internal/session"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Drop reasons recorded in metrics.
const (
	reasonMalformed   = "malformed"
	reasonUnknownType = "unknown_type"
	reasonRateLimited = "rate_limited"
)

// Router is the connection Lifecycle behind the websocket handler.
type Router struct {
	sessions *session.Manager
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

var _ interfaces.Lifecycle = (*Router)(nil)

// NewRouter creates a router over sessions.
func NewRouter(sessions *session.Manager, limiter *RateLimiter, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		sessions: sessions,
		limiter:  limiter,
		logger:   logger,
		metrics:  m,
	}
}

// Open starts a session for conn. If the connection cannot be registered it
// is closed and its frames are discarded.
func (r *Router) Open(conn interfaces.Connection) interfaces.FrameHandler {
	s, err := r.sessions.Open(conn)
	if err != nil {
		r.logger.Error("failed to open session", "conn_id", conn.ID(), "error", err)
		_ = conn.Close()
		return rejectedHandler{}
	}
	return &connHandler{router: r, session: s}
}

// Route applies one decoded control frame to s.
func (r *Router) Route(s *session.Session, ctrl types.Control) error {
	switch c := ctrl.(type) {
	case types.JoinRoom:
		return s.Join(c.RoomID, c.UserID)
	case types.LeaveRoom:
		return s.Leave()
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledControl, ctrl)
	}
}

func (r *Router) handleFrame(s *session.Session, data []byte) {
	connID := s.Conn().ID()

	if !r.limiter.Allow(connID) {
		r.drop(connID, reasonRateLimited, ErrRateLimited)
		return
	}

	ctrl, err := types.DecodeControl(data)
	if err != nil {
		reason := reasonMalformed
		if errors.Is(err, types.ErrUnknownFrameType) {
			reason = reasonUnknownType
		}
		r.drop(connID, reason, err)
		return
	}

	if err := r.Route(s, ctrl); err != nil {
		r.logger.Debug("control frame ignored", "conn_id", connID, "type", ctrl.ControlType(), "error", err)
	}
}

func (r *Router) drop(connID, reason string, err error) {
	r.metrics.DroppedFrames.WithLabelValues(reason).Inc()
	r.logger.Warn("dropped control frame", "conn_id", connID, "reason", reason, "error", err)
}

type connHandler struct {
	router  *Router
	session *session.Session
}

func (h *connHandler) HandleFrame(data []byte) {
	h.router.handleFrame(h.session, data)
}

func (h *connHandler) Close() {
	h.session.Close()
	h.router.limiter.Forget(h.session.Conn().ID())
}

type rejectedHandler struct{}

func (rejectedHandler) HandleFrame([]byte) {}
func (rejectedHandler) Close()             {}
