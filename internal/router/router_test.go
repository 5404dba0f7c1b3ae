package router

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/hub"
	"roomcast/internal/logging"
	"roomcast/internal/metrics"
	"roomcast/internal/session"
	"roomcast/internal/testutil"
	"roomcast/internal/websocket"
	"roomcast/pkg/types"
)

type fixture struct {
	registry *websocket.Registry
	router   *Router
	metrics  *metrics.Metrics
}

func newFixture(perSecond float64, burst int) *fixture {
	registry := websocket.NewRegistry()
	m := metrics.NewNop()
	h := hub.NewHub(registry, logging.Discard(), m)
	sessions := session.NewManager(registry, h, logging.Discard())
	return &fixture{
		registry: registry,
		router:   NewRouter(sessions, NewRateLimiter(perSecond, burst), logging.Discard(), m),
		metrics:  m,
	}
}

func TestRouter_JoinAndLeave(t *testing.T) {
	f := newFixture(0, 0)
	conn := testutil.NewFakeConn()
	frames := f.router.Open(conn)

	frames.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":7,"userId":10}}`))

	assert.Equal(t, 1, f.registry.RoomSize(7))
	assert.Len(t, f.registry.ConnectionsOfUser(10), 1)
	assert.Equal(t, []types.Event{
		types.RoomJoined{RoomID: 7},
		types.RoomUsersCount{Count: 1},
	}, conn.Events())

	frames.HandleFrame([]byte(`{"type":"LEAVE_ROOM","payload":{}}`))
	assert.Zero(t, f.registry.RoomSize(7))
	assert.True(t, f.registry.IsRegistered(conn))
}

func TestRouter_StringIDs(t *testing.T) {
	f := newFixture(0, 0)
	conn := testutil.NewFakeConn()
	frames := f.router.Open(conn)

	frames.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":"3"}}`))

	room, ok := f.registry.RoomOf(conn)
	require.True(t, ok)
	assert.Equal(t, int64(3), room)
}

func TestRouter_DropsBadFrames(t *testing.T) {
	f := newFixture(0, 0)
	conn := testutil.NewFakeConn()
	frames := f.router.Open(conn)
	frames.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":2}}`))
	conn.Reset()

	tests := []struct {
		name   string
		frame  string
		reason string
	}{
		{"not json", `not json`, reasonMalformed},
		{"missing room", `{"type":"JOIN_ROOM","payload":{}}`, reasonMalformed},
		{"negative room", `{"type":"JOIN_ROOM","payload":{"roomId":-1}}`, reasonMalformed},
		{"unknown type", `{"type":"DANCE","payload":{}}`, reasonUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := promtest.ToFloat64(f.metrics.DroppedFrames.WithLabelValues(tt.reason))
			assert.NotPanics(t, func() { frames.HandleFrame([]byte(tt.frame)) })
			after := promtest.ToFloat64(f.metrics.DroppedFrames.WithLabelValues(tt.reason))
			assert.Equal(t, before+1, after)
		})
	}

	room, ok := f.registry.RoomOf(conn)
	require.True(t, ok, "bad frames leave state untouched")
	assert.Equal(t, int64(2), room)
	assert.Empty(t, conn.Events())
}

func TestRouter_RateLimit(t *testing.T) {
	f := newFixture(0.001, 2)
	conn := testutil.NewFakeConn()
	frames := f.router.Open(conn)

	for i := 0; i < 3; i++ {
		frames.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":1}}`))
	}

	assert.Len(t, conn.Events(), 4, "two joins accepted, third dropped")
	assert.Equal(t, float64(1), promtest.ToFloat64(f.metrics.DroppedFrames.WithLabelValues(reasonRateLimited)))
}

func TestRouter_CloseUnregisters(t *testing.T) {
	f := newFixture(10, 10)
	a, b := testutil.NewFakeConn(), testutil.NewFakeConn()
	fa, fb := f.router.Open(a), f.router.Open(b)
	fa.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":7}}`))
	fb.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":7}}`))
	a.Reset()

	fb.Close()
	fb.Close()

	assert.False(t, f.registry.IsRegistered(b))
	assert.Equal(t, []types.Event{types.RoomUsersCount{Count: 1}}, a.Events())
	assert.Equal(t, 1, f.router.limiter.Len())

	fb.HandleFrame([]byte(`{"type":"JOIN_ROOM","payload":{"roomId":7}}`))
	assert.Equal(t, 1, f.registry.RoomSize(7), "frames after close are ignored")
}

func TestRouter_OpenDuplicateIsRejected(t *testing.T) {
	f := newFixture(0, 0)
	conn := testutil.NewFakeConn()
	f.router.Open(conn)

	frames := f.router.Open(conn)
	assert.IsType(t, rejectedHandler{}, frames)
	assert.True(t, conn.Closed())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per connection")

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 2, rl.Len())

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("x"))
	}
}
