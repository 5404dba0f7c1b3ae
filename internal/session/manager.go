// Package session drives the per-connection room state machine:
// UNASSOCIATED -> IN_ROOM -> UNASSOCIATED, and CLOSED from either.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"roomcast/internal/hub"
	"roomcast/internal/websocket"
	"roomcast/pkg/interfaces"
)

// State is a session's position in the lifecycle.
type State int

const (
	StateUnassociated State = iota
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnassociated:
		return "UNASSOCIATED"
	case StateInRoom:
		return "IN_ROOM"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager opens sessions for new connections and tracks the live ones.
type Manager struct {
	registry *websocket.Registry
	hub      *hub.Hub
	logger   *slog.Logger

	activeSessions map[string]*Session // connection ID -> session
	mu             sync.RWMutex
}

// NewManager creates a session manager over registry and hub.
func NewManager(registry *websocket.Registry, h *hub.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		registry:       registry,
		hub:            h,
		logger:         logger,
		activeSessions: make(map[string]*Session),
	}
}

// Open registers conn and returns its session in UNASSOCIATED.
func (m *Manager) Open(conn interfaces.Connection) (*Session, error) {
	if err := m.registry.Register(conn); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	s := &Session{manager: m, conn: conn, state: StateUnassociated}

	m.mu.Lock()
	m.activeSessions[conn.ID()] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns the live session for a connection ID.
func (m *Manager) Get(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.activeSessions[connID]
	return s, ok
}

// Count returns the number of sessions not yet closed.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeSessions)
}

func (m *Manager) forget(connID string) {
	m.mu.Lock()
	delete(m.activeSessions, connID)
	m.mu.Unlock()
}

// Session is one connection's room state. Its methods are safe for
// concurrent use; calls on a closed session do nothing.
type Session struct {
	manager *Manager
	conn    interfaces.Connection

	mu     sync.Mutex
	state  State
	roomID int64
}

// Conn returns the session's connection.
func (s *Session) Conn() interfaces.Connection {
	return s.conn
}

// State returns the current state and, when IN_ROOM, the room.
func (s *Session) State() (State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.roomID
}

// Join moves the session into roomID, optionally binding userID, then
// acknowledges with ROOM_JOINED and announces the room's occupancy. The
// acknowledgement always precedes any other event from the new room. Joining
// the current room again re-announces. Switching rooms also announces the
// reduced count to the room that was left.
func (s *Session) Join(roomID int64, userID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	m := s.manager
	if userID != nil && !m.registry.SetUser(s.conn, *userID) {
		// Reaped by a failed delivery before the close path ran.
		s.closeLocked()
		return ErrSessionClosed
	}
	move, ok := m.hub.Join(s.conn, roomID)
	if !ok {
		s.closeLocked()
		return ErrSessionClosed
	}
	s.state = StateInRoom
	s.roomID = roomID

	m.logger.Debug("joined room",
		"conn_id", s.conn.ID(),
		"room_id", roomID,
		"count", move.Count,
		"switched", move.Switched,
	)
	return nil
}

// Leave drops the room association and announces the reduced count to
// whoever remains.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateUnassociated:
		return ErrNotInRoom
	}

	m := s.manager
	roomID, remaining, ok := m.registry.ClearRoom(s.conn)
	s.state = StateUnassociated
	s.roomID = 0
	if !ok {
		return nil
	}

	m.logger.Debug("left room", "conn_id", s.conn.ID(), "room_id", roomID, "remaining", remaining)
	if remaining > 0 {
		m.hub.AnnounceOccupancy(roomID)
	}
	return nil
}

// Close unregisters the connection and announces the departure to the
// room it held. Only the first call has any effect.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.roomID = 0

	m := s.manager
	m.forget(s.conn.ID())

	dep, ok := m.registry.Unregister(s.conn)
	if !ok {
		return
	}
	m.logger.Debug("session closed", "conn_id", s.conn.ID(), "room_id", dep.RoomID, "in_room", dep.InRoom)
	if dep.InRoom && dep.Remaining > 0 {
		m.hub.AnnounceOccupancy(dep.RoomID)
	}
}
