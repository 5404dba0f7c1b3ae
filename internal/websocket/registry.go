package websocket

import (
	"sync"

	"roomcast/pkg/interfaces"
)

// association is the per-connection state the registry owns.
type association struct {
	roomID  int64
	inRoom  bool
	userID  int64
	hasUser bool
}

type connSet map[interfaces.Connection]struct{}

// Registry is the authoritative map from live connection to its room and
// user association, with reverse indexes for room and user lookups.
//
// All mutations and all Visit calls take the exclusive lock, so a
// connection is never observed in two rooms, and frames queued through
// VisitRoom/VisitUser reach each recipient in the order the visits ran.
type Registry struct {
	mu       sync.RWMutex
	conns    map[interfaces.Connection]*association
	rooms    map[int64]connSet
	users    map[int64]connSet
	onChange func(connections, rooms int)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[interfaces.Connection]*association),
		rooms: make(map[int64]connSet),
		users: make(map[int64]connSet),
	}
}

// OnChange installs a callback invoked with the connection and occupied room
// counts after every mutation. It runs under the registry lock and must not
// call back into the registry.
func (r *Registry) OnChange(fn func(connections, rooms int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Register adds conn with no room or user association.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; exists {
		return ErrAlreadyRegistered
	}
	r.conns[conn] = &association{}
	r.changed()
	return nil
}

// Move describes the outcome of SetRoom.
type Move struct {
	// Count is the membership of the target room after the move.
	Count int
	// Switched is true when the connection left a different room.
	Switched bool
	// Previous and Remaining describe the room that was left, if Switched.
	Previous  int64
	Remaining int
}

// SetRoom moves conn into roomID in a single critical section. Setting the
// current room again is a no-op that still reports the current count.
// Unknown connections report ok=false.
func (r *Registry) SetRoom(conn interfaces.Connection, roomID int64) (Move, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setRoomLocked(conn, roomID)
}

// SetRoomAndVisit is SetRoom followed by visit over roomID's members in the
// same critical section. visit is not called for unknown connections. The
// same restrictions as VisitRoom apply to visit.
func (r *Registry) SetRoomAndVisit(conn interfaces.Connection, roomID int64, visit func(move Move, members []interfaces.Connection)) (Move, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	move, ok := r.setRoomLocked(conn, roomID)
	if ok {
		visit(move, snapshot(r.rooms[roomID]))
	}
	return move, ok
}

func (r *Registry) setRoomLocked(conn interfaces.Connection, roomID int64) (Move, bool) {
	assoc, exists := r.conns[conn]
	if !exists {
		return Move{}, false
	}

	var move Move
	if assoc.inRoom && assoc.roomID != roomID {
		move.Switched = true
		move.Previous = assoc.roomID
		move.Remaining = removeFrom(r.rooms, assoc.roomID, conn)
	}

	addTo(r.rooms, roomID, conn)
	assoc.roomID = roomID
	assoc.inRoom = true
	move.Count = len(r.rooms[roomID])

	r.changed()
	return move, true
}

// ClearRoom drops conn's room association. It reports the room that was left
// and how many members remain there; ok is false when conn is unknown or
// was in no room.
func (r *Registry) ClearRoom(conn interfaces.Connection) (roomID int64, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assoc, exists := r.conns[conn]
	if !exists || !assoc.inRoom {
		return 0, 0, false
	}

	roomID = assoc.roomID
	remaining = removeFrom(r.rooms, roomID, conn)
	assoc.roomID = 0
	assoc.inRoom = false

	r.changed()
	return roomID, remaining, true
}

// SetUser associates conn with userID, replacing any earlier association.
func (r *Registry) SetUser(conn interfaces.Connection, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	assoc, exists := r.conns[conn]
	if !exists {
		return false
	}
	if assoc.hasUser {
		if assoc.userID == userID {
			return true
		}
		removeFrom(r.users, assoc.userID, conn)
	}

	addTo(r.users, userID, conn)
	assoc.userID = userID
	assoc.hasUser = true
	return true
}

// Departure describes the room a connection held when it was unregistered.
type Departure struct {
	RoomID    int64
	InRoom    bool
	Remaining int
}

// Unregister removes conn from every index. It is idempotent: only the first
// call for a registered connection reports ok=true.
func (r *Registry) Unregister(conn interfaces.Connection) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assoc, exists := r.conns[conn]
	if !exists {
		return Departure{}, false
	}

	var dep Departure
	if assoc.inRoom {
		dep.InRoom = true
		dep.RoomID = assoc.roomID
		dep.Remaining = removeFrom(r.rooms, assoc.roomID, conn)
	}
	if assoc.hasUser {
		removeFrom(r.users, assoc.userID, conn)
	}
	delete(r.conns, conn)

	r.changed()
	return dep, true
}

// MembersOfRoom returns a snapshot of roomID's membership.
func (r *Registry) MembersOfRoom(roomID int64) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[roomID])
}

// ConnectionsOfUser returns a snapshot of userID's live connections.
func (r *Registry) ConnectionsOfUser(userID int64) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.users[userID])
}

// RoomSize returns the number of connections in roomID.
func (r *Registry) RoomSize(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomOf reports conn's current room.
func (r *Registry) RoomOf(conn interfaces.Connection) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assoc, exists := r.conns[conn]
	if !exists || !assoc.inRoom {
		return 0, false
	}
	return assoc.roomID, true
}

// UserOf reports conn's associated user.
func (r *Registry) UserOf(conn interfaces.Connection) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assoc, exists := r.conns[conn]
	if !exists || !assoc.hasUser {
		return 0, false
	}
	return assoc.userID, true
}

// IsRegistered reports whether conn is currently tracked.
func (r *Registry) IsRegistered(conn interfaces.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.conns[conn]
	return exists
}

// VisitRoom calls visit with roomID's members while holding the exclusive
// lock. visit must not block and must not call back into the registry.
func (r *Registry) VisitRoom(roomID int64, visit func(members []interfaces.Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	visit(snapshot(r.rooms[roomID]))
}

// VisitUser is VisitRoom for a user's connections.
func (r *Registry) VisitUser(userID int64, visit func(conns []interfaces.Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	visit(snapshot(r.users[userID]))
}

// Drain removes every connection and returns them, for shutdown.
func (r *Registry) Drain() []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make([]interfaces.Connection, 0, len(r.conns))
	for conn := range r.conns {
		drained = append(drained, conn)
	}
	r.conns = make(map[interfaces.Connection]*association)
	r.rooms = make(map[int64]connSet)
	r.users = make(map[int64]connSet)

	r.changed()
	return drained
}

// Stats returns registry counters for health reporting.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.conns),
		"occupied_rooms":    len(r.rooms),
		"connected_users":   len(r.users),
	}
}

// changed must be called with r.mu held for writing.
func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange(len(r.conns), len(r.rooms))
	}
}

func addTo(index map[int64]connSet, key int64, conn interfaces.Connection) {
	set, exists := index[key]
	if !exists {
		set = make(connSet)
		index[key] = set
	}
	set[conn] = struct{}{}
}

// removeFrom deletes conn from index[key], dropping empty sets, and returns
// how many entries remain under key.
func removeFrom(index map[int64]connSet, key int64, conn interfaces.Connection) int {
	set, exists := index[key]
	if !exists {
		return 0
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(index, key)
		return 0
	}
	return len(set)
}

func snapshot(set connSet) []interfaces.Connection {
	out := make([]interfaces.Connection, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
