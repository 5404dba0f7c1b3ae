// Package hub pushes encoded events to room and user recipient sets and
// reaps connections whose delivery fails.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"roomcast/internal/metrics"
	"roomcast/internal/websocket"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Hub is the event dispatcher. Broadcasts resolve their recipients and
// enqueue frames inside one registry critical section, which keeps delivery
// FIFO per recipient; different rooms still dispatch in parallel with
// respect to everything except the registry lock itself.
type Hub struct {
	registry *websocket.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	running bool
	stopCh  chan struct{}
	mu      sync.Mutex
}

var (
	_ interfaces.Publisher = (*Hub)(nil)
	_ interfaces.Presence  = (*Hub)(nil)
)

// NewHub creates a dispatcher over registry.
func NewHub(registry *websocket.Registry, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: registry,
		logger:   logger,
		metrics:  m,
	}
}

// Start marks the hub running. Cancelling ctx stops it.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.stopCh = make(chan struct{})

	go func(stop <-chan struct{}) {
		select {
		case <-ctx.Done():
			if err := h.Stop(); err != nil && err != ErrHubNotRunning {
				h.logger.Error("hub stop failed", "error", err)
			}
		case <-stop:
		}
	}(h.stopCh)

	h.logger.Info("hub started")
	return nil
}

// Stop closes every registered connection and marks the hub stopped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()

	conns := h.registry.Drain()
	for _, conn := range conns {
		_ = conn.Close()
	}
	h.logger.Info("hub stopped", "closed_connections", len(conns))
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// BroadcastToRoom delivers ev to every member of roomID except excluding,
// which may be nil. An empty or unknown room is not an error.
func (h *Hub) BroadcastToRoom(roomID int64, ev types.Event, excluding interfaces.Connection) {
	data, ok := h.encode(ev)
	if !ok {
		return
	}

	var dead []interfaces.Connection
	h.registry.VisitRoom(roomID, func(members []interfaces.Connection) {
		dead = h.deliver(members, data, excluding)
	})
	h.reap(dead)
}

// BroadcastToUser delivers ev to every connection of userID.
func (h *Hub) BroadcastToUser(userID int64, ev types.Event) {
	data, ok := h.encode(ev)
	if !ok {
		return
	}

	var dead []interfaces.Connection
	h.registry.VisitUser(userID, func(conns []interfaces.Connection) {
		dead = h.deliver(conns, data, nil)
	})
	h.reap(dead)
}

// Unicast delivers ev to conn alone. Failures are left for the connection's
// close path to clean up.
func (h *Hub) Unicast(conn interfaces.Connection, ev types.Event) {
	data, ok := h.encode(ev)
	if !ok {
		return
	}
	if err := conn.TrySend(data); err != nil {
		h.logger.Debug("unicast failed", "conn_id", conn.ID(), "type", ev.EventType(), "error", err)
		return
	}
	h.metrics.Deliveries.Inc()
}

// AnnounceOccupancy broadcasts ROOM_USERS_COUNT to roomID. The count is
// taken in the same critical section as the delivery, so every member
// receives the size of the set it was delivered as part of.
func (h *Hub) AnnounceOccupancy(roomID int64) {
	var dead []interfaces.Connection
	h.registry.VisitRoom(roomID, func(members []interfaces.Connection) {
		if len(members) == 0 {
			return
		}
		data, ok := h.encode(types.RoomUsersCount{Count: len(members)})
		if !ok {
			return
		}
		dead = h.deliver(members, data, nil)
	})
	h.reap(dead)
}

// Join moves conn into roomID, then sends ROOM_JOINED to conn and
// ROOM_USERS_COUNT to the whole room, all in the registry's critical section.
// No other room event can reach conn between the move and its
// acknowledgement. A switch also re-announces the room that was left.
// ok is false when conn is not registered.
func (h *Hub) Join(conn interfaces.Connection, roomID int64) (websocket.Move, bool) {
	var dead []interfaces.Connection
	move, ok := h.registry.SetRoomAndVisit(conn, roomID, func(_ websocket.Move, members []interfaces.Connection) {
		ack, ok := h.encode(types.RoomJoined{RoomID: roomID})
		if !ok {
			return
		}
		var skip interfaces.Connection
		if err := conn.TrySend(ack); err != nil {
			dead = append(dead, conn)
			skip = conn
		} else {
			h.metrics.Deliveries.Inc()
		}

		count, ok := h.encode(types.RoomUsersCount{Count: len(members)})
		if !ok {
			return
		}
		dead = append(dead, h.deliver(members, count, skip)...)
	})
	if !ok {
		return move, false
	}
	h.reap(dead)

	if move.Switched && move.Remaining > 0 {
		h.AnnounceOccupancy(move.Previous)
	}
	return move, true
}

// PublishNewMessage broadcasts a freshly posted message to its room.
func (h *Hub) PublishNewMessage(roomID int64, message *types.RenderedMessage) {
	if message == nil {
		return
	}
	h.BroadcastToRoom(roomID, types.NewMessage{Message: message}, nil)
}

// PublishVoteUpdate broadcasts a message's new tallies to its room.
func (h *Hub) PublishVoteUpdate(roomID, messageID int64, upvotes, downvotes int) {
	h.BroadcastToRoom(roomID, types.VoteUpdate{
		MessageID: messageID,
		Upvotes:   upvotes,
		Downvotes: downvotes,
	}, nil)
}

// PublishFollowerUpdate sends the new follower count to all of a user's devices.
func (h *Hub) PublishFollowerUpdate(userID int64, followerCount, delta int) {
	h.BroadcastToUser(userID, types.FollowerUpdate{
		FollowerCount: followerCount,
		Delta:         delta,
	})
}

// RoomSize returns the live membership count of roomID.
func (h *Hub) RoomSize(roomID int64) int {
	return h.registry.RoomSize(roomID)
}

// Stats returns registry counters.
func (h *Hub) Stats() map[string]int {
	return h.registry.Stats()
}

func (h *Hub) encode(ev types.Event) ([]byte, bool) {
	data, err := types.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.EventType(), "error", err)
		return nil, false
	}
	h.metrics.EventsBroadcast.WithLabelValues(ev.EventType()).Inc()
	return data, true
}

// deliver runs under the registry lock and must not block.
func (h *Hub) deliver(recipients []interfaces.Connection, data []byte, excluding interfaces.Connection) []interfaces.Connection {
	var dead []interfaces.Connection
	delivered := 0
	for _, conn := range recipients {
		if excluding != nil && conn == excluding {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			dead = append(dead, conn)
			continue
		}
		delivered++
	}
	h.metrics.Deliveries.Add(float64(delivered))
	return dead
}

// reap unregisters connections whose delivery failed and re-announces the
// occupancy of rooms they left behind. Each pass removes at least one
// connection, so the re-announcement recursion terminates.
func (h *Hub) reap(dead []interfaces.Connection) {
	if len(dead) == 0 {
		return
	}

	rooms := make(map[int64]struct{})
	for _, conn := range dead {
		dep, ok := h.registry.Unregister(conn)
		if !ok {
			continue
		}
		_ = conn.Close()
		h.metrics.ReapedConnections.Inc()
		h.logger.Debug("reaped connection", "conn_id", conn.ID(), "room_id", dep.RoomID, "in_room", dep.InRoom)

		if dep.InRoom && dep.Remaining > 0 {
			rooms[dep.RoomID] = struct{}{}
		}
	}

	for roomID := range rooms {
		h.AnnounceOccupancy(roomID)
	}
}
