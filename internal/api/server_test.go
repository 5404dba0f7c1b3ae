package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/logging"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// memStore is an in-memory ChatStore.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*types.User
	rooms    map[int64]*types.Room
	messages map[int64]*types.Message
	votes    map[[2]int64]bool
	nextID   int64
	healthy  error
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int64]*types.User),
		rooms: map[int64]*types.Room{
			1: {ID: 1, Name: "philo", Color: "green", Active: true},
			2: {ID: 2, Name: "amour", Color: "purple", Active: true},
		},
		messages: make(map[int64]*types.Message),
		votes:    make(map[[2]int64]bool),
		nextID:   100,
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) CreateUser(_ context.Context, username, aura string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return nil, interfaces.ErrConflict
		}
	}
	if aura == "" {
		aura = types.DefaultAura
	}
	u := &types.User{ID: m.id(), Username: username, Aura: aura}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) TopUsers(_ context.Context, limit int) ([]*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.User
	for _, u := range m.users {
		out = append(out, u)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListRooms(context.Context) ([]*types.Room, error) {
	return []*types.Room{m.rooms[1], m.rooms[2]}, nil
}

func (m *memStore) GetRoom(_ context.Context, id int64) (*types.Room, error) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return r, nil
}

func (m *memStore) GetRoomByName(_ context.Context, name string) (*types.Room, error) {
	for _, r := range m.rooms {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (m *memStore) CreateMessage(_ context.Context, userID, roomID int64, content string, isOneShot bool) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return nil, interfaces.ErrNotFound
	}
	msg := &types.Message{ID: m.id(), UserID: userID, RoomID: roomID, Content: content, IsOneShot: isOneShot, CreatedAt: time.Now()}
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *memStore) GetMessage(_ context.Context, id int64) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memStore) ListRoomMessages(_ context.Context, roomID int64, limit int) ([]*types.RenderedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.RenderedMessage
	for _, msg := range m.messages {
		if msg.RoomID == roomID && len(out) < limit {
			out = append(out, types.Render(msg, m.users[msg.UserID]))
		}
	}
	return out, nil
}

func (m *memStore) VoteMessage(_ context.Context, messageID, voterID int64, isUpvote bool) (*interfaces.VoteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if msg.UserID == voterID {
		return nil, interfaces.ErrSelfVote
	}
	if _, ok := m.users[voterID]; !ok {
		return nil, interfaces.ErrNotFound
	}

	author := m.users[msg.UserID]
	key := [2]int64{messageID, voterID}
	previous, voted := m.votes[key]
	if voted && previous == isUpvote {
		cpMsg, cpAuthor := *msg, *author
		return &interfaces.VoteResult{Message: &cpMsg, Author: &cpAuthor}, nil
	}
	m.votes[key] = isUpvote

	delta := 1
	if isUpvote {
		msg.Upvotes++
		if voted {
			msg.Downvotes--
		}
	} else {
		msg.Downvotes++
		if voted {
			msg.Upvotes--
		}
		delta = -1
	}
	author.FollowerCount = max(0, author.FollowerCount+delta)

	cpMsg, cpAuthor := *msg, *author
	return &interfaces.VoteResult{Message: &cpMsg, Author: &cpAuthor, Delta: delta, Changed: true}, nil
}

func (m *memStore) UpdateUser(_ context.Context, id int64, bio, aura *string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bio == nil && aura == nil {
		return nil, interfaces.ErrNothingToUpdate
	}
	u, ok := m.users[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if bio != nil {
		u.Bio = *bio
	}
	if aura != nil {
		u.Aura = *aura
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) MarkOneShotViewed(_ context.Context, id int64) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || !msg.IsOneShot {
		return nil, interfaces.ErrNotFound
	}
	msg.Viewed = true
	cp := *msg
	return &cp, nil
}

func (m *memStore) BurnOfTheDay(context.Context) (*types.RenderedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *types.Message
	for _, msg := range m.messages {
		if msg.Score() > 0 && (best == nil || msg.Score() > best.Score()) {
			best = msg
		}
	}
	if best == nil {
		return nil, interfaces.ErrNotFound
	}
	return types.Render(best, m.users[best.UserID]), nil
}

func (m *memStore) HealthCheck(context.Context) error { return m.healthy }
func (m *memStore) Close() error                      { return nil }

type published struct {
	kind string
	args []int64
}

// recordingPublisher captures publish calls and answers presence queries.
type recordingPublisher struct {
	mu    sync.Mutex
	calls []published
	sizes map[int64]int
}

func (p *recordingPublisher) record(kind string, args ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{kind: kind, args: args})
}

func (p *recordingPublisher) PublishNewMessage(roomID int64, msg *types.RenderedMessage) {
	p.record(types.EventNewMessage, roomID, msg.ID)
}

func (p *recordingPublisher) PublishVoteUpdate(roomID, messageID int64, up, down int) {
	p.record(types.EventVoteUpdate, roomID, messageID, int64(up), int64(down))
}

func (p *recordingPublisher) PublishFollowerUpdate(userID int64, count, delta int) {
	p.record(types.EventFollowerUpdate, userID, int64(count), int64(delta))
}

func (p *recordingPublisher) RoomSize(roomID int64) int { return p.sizes[roomID] }

func (p *recordingPublisher) Stats() map[string]int {
	return map[string]int{"total_connections": 3}
}

func (p *recordingPublisher) Calls() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.calls...)
}

type testServer struct {
	*Server
	store *memStore
	pub   *recordingPublisher
}

func newTestServer() *testServer {
	store := newMemStore()
	pub := &recordingPublisher{sizes: map[int64]int{1: 4}}
	return &testServer{
		Server: NewServer(store, pub, pub, logging.Discard()),
		store:  store,
		pub:    pub,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		req.Header.Set(UserIDHeader, strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Rooms(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/api/rooms", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.Room](t, rec), 2)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/api/rooms/2", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "amour", decode[types.Room](t, rec).Name)

	rec = ts.do(t, http.MethodGet, "/api/rooms-by-name/philo", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[types.Room](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/rooms/abc", "", 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid room ID", decode[ErrorResponse](t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/api/rooms/9", "", 0)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Presence(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/api/rooms/1/presence", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PresenceResponse{RoomID: 1, Count: 4}, decode[PresenceResponse](t, rec))
}

func TestServer_CreateUser(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/users", `{"username":"alice"}`, 0)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decode[types.User](t, rec)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, types.DefaultAura, user.Aura)

	rec = ts.do(t, http.MethodPost, "/api/users", `{"username":"alice"}`, 0)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/users", `{"username":"a!"}`, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/users", `{"username":"bobby","aura":"bad aura"}`, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/users/"+strconv.FormatInt(user.ID, 10), "", 0)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateMessagePublishes(t *testing.T) {
	ts := newTestServer()
	alice, _ := ts.store.CreateUser(context.Background(), "alice", "feu")

	rec := ts.do(t, http.MethodPost, "/api/messages", `{"content":"  salut  ","roomId":"1"}`, alice.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	msg := decode[types.RenderedMessage](t, rec)
	assert.Equal(t, "salut", msg.Content)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "feu", msg.Aura)

	assert.Equal(t, []published{{kind: types.EventNewMessage, args: []int64{1, msg.ID}}}, ts.pub.Calls())
}

func TestServer_CreateMessageRejects(t *testing.T) {
	ts := newTestServer()
	alice, _ := ts.store.CreateUser(context.Background(), "alice", "")

	tests := []struct {
		name   string
		body   string
		userID int64
		code   int
	}{
		{"anonymous", `{"content":"hi","roomId":1}`, 0, http.StatusUnauthorized},
		{"unknown caller", `{"content":"hi","roomId":1}`, 999, http.StatusUnauthorized},
		{"bad json", `{`, alice.ID, http.StatusBadRequest},
		{"missing room", `{"content":"hi"}`, alice.ID, http.StatusBadRequest},
		{"blank content", `{"content":"   ","roomId":1}`, alice.ID, http.StatusBadRequest},
		{"too long", `{"content":"` + strings.Repeat("x", types.MaxContentLength+1) + `","roomId":1}`, alice.ID, http.StatusBadRequest},
		{"unknown room", `{"content":"hi","roomId":42}`, alice.ID, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/messages", tt.body, tt.userID)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, ts.pub.Calls(), "rejected writes publish nothing")
}

func TestServer_VotePublishes(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	author, _ := ts.store.CreateUser(ctx, "author", "")
	fan, _ := ts.store.CreateUser(ctx, "fan", "")
	msg, _ := ts.store.CreateMessage(ctx, author.ID, 2, "take", false)
	path := "/api/messages/" + strconv.FormatInt(msg.ID, 10) + "/vote"

	rec := ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, fan.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, VoteResponse{MessageID: msg.ID, Upvotes: 1}, decode[VoteResponse](t, rec))

	assert.Equal(t, []published{
		{kind: types.EventVoteUpdate, args: []int64{2, msg.ID, 1, 0}},
		{kind: types.EventFollowerUpdate, args: []int64{author.ID, 1, 1}},
	}, ts.pub.Calls())

}

func TestServer_VoteChangeOfMind(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	author, _ := ts.store.CreateUser(ctx, "author", "")
	fan, _ := ts.store.CreateUser(ctx, "fan", "")
	msg, _ := ts.store.CreateMessage(ctx, author.ID, 2, "take", false)
	path := "/api/messages/" + strconv.FormatInt(msg.ID, 10) + "/vote"

	rec := ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, fan.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, fan.ID)
	require.Equal(t, http.StatusOK, rec.Code, "repeating a vote is not an error")
	assert.Equal(t, VoteResponse{MessageID: msg.ID, Upvotes: 1}, decode[VoteResponse](t, rec))
	assert.Len(t, ts.pub.Calls(), 2, "a repeated vote publishes nothing")

	rec = ts.do(t, http.MethodPost, path, `{"isUpvote":false}`, fan.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, VoteResponse{MessageID: msg.ID, Downvotes: 1}, decode[VoteResponse](t, rec))

	calls := ts.pub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, published{kind: types.EventVoteUpdate, args: []int64{2, msg.ID, 0, 1}}, calls[2])
	assert.Equal(t, published{kind: types.EventFollowerUpdate, args: []int64{author.ID, 0, -1}}, calls[3])
}

func TestServer_VoteRejects(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	author, _ := ts.store.CreateUser(ctx, "author", "")
	fan, _ := ts.store.CreateUser(ctx, "fan", "")
	msg, _ := ts.store.CreateMessage(ctx, author.ID, 1, "take", false)
	path := "/api/messages/" + strconv.FormatInt(msg.ID, 10) + "/vote"

	rec := ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, author.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "You cannot vote on your own messages", decode[ErrorResponse](t, rec).Message)

	rec = ts.do(t, http.MethodPost, path, `{}`, fan.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/messages/999/vote", `{"isUpvote":true}`, fan.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, path, `{"isUpvote":true}`, 9999)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "an unknown voter is not logged in")
	assert.Equal(t, "You must be logged in", decode[ErrorResponse](t, rec).Message)

	assert.Empty(t, ts.pub.Calls())
}

func TestServer_UpdateUser(t *testing.T) {
	ts := newTestServer()
	alice, _ := ts.store.CreateUser(context.Background(), "alice", "")

	rec := ts.do(t, http.MethodPatch, "/api/user", `{"bio":"penseuse","aura":"neon-pink"}`, alice.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode[types.User](t, rec)
	assert.Equal(t, "penseuse", user.Bio)
	assert.Equal(t, "neon-pink", user.Aura)

	rec = ts.do(t, http.MethodPatch, "/api/user", `{"bio":""}`, alice.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	user = decode[types.User](t, rec)
	assert.Empty(t, user.Bio)
	assert.Equal(t, "neon-pink", user.Aura, "absent fields are left alone")

	tests := []struct {
		name   string
		body   string
		userID int64
		code   int
	}{
		{"anonymous", `{"bio":"x"}`, 0, http.StatusUnauthorized},
		{"unknown caller", `{"bio":"x"}`, 9999, http.StatusUnauthorized},
		{"no fields", `{}`, alice.ID, http.StatusBadRequest},
		{"bad json", `{`, alice.ID, http.StatusBadRequest},
		{"empty aura", `{"aura":""}`, alice.ID, http.StatusBadRequest},
		{"invalid aura", `{"aura":"<script>"}`, alice.ID, http.StatusBadRequest},
		{"long bio", `{"bio":"` + strings.Repeat("x", types.MaxBioLength+1) + `"}`, alice.ID, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPatch, "/api/user", tt.body, tt.userID)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_MarkViewed(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	author, _ := ts.store.CreateUser(ctx, "author", "")
	oneShot, _ := ts.store.CreateMessage(ctx, author.ID, 1, "poof", true)
	regular, _ := ts.store.CreateMessage(ctx, author.ID, 1, "stay", false)

	rec := ts.do(t, http.MethodPost, "/api/messages/"+strconv.FormatInt(oneShot.ID, 10)+"/viewed", "", author.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[types.Message](t, rec).Viewed)

	rec = ts.do(t, http.MethodPost, "/api/messages/"+strconv.FormatInt(regular.ID, 10)+"/viewed", "", author.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListRoomMessages(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	author, _ := ts.store.CreateUser(ctx, "author", "")
	for i := 0; i < 3; i++ {
		_, _ = ts.store.CreateMessage(ctx, author.ID, 1, "m", false)
	}

	rec := ts.do(t, http.MethodGet, "/api/rooms/1/messages?limit=2", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.RenderedMessage](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/rooms/2/messages", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/rooms/1/messages?limit=-3", "", 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LeaderboardAndBurn(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()

	rec := ts.do(t, http.MethodGet, "/api/burn-of-the-day", "", 0)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No burn of the day found", decode[ErrorResponse](t, rec).Message)

	author, _ := ts.store.CreateUser(ctx, "author", "")
	fan, _ := ts.store.CreateUser(ctx, "fan", "")
	msg, _ := ts.store.CreateMessage(ctx, author.ID, 1, "burn", false)
	_, err := ts.store.VoteMessage(ctx, msg.ID, fan.ID, true)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodGet, "/api/burn-of-the-day", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msg.ID, decode[types.RenderedMessage](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/leaderboard?limit=1", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.User](t, rec), 1)
}

func TestServer_HealthCheck(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/health", "", 0)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Connections["total_connections"])

	ts.store.healthy = errors.New("disk on fire")
	rec = ts.do(t, http.MethodGet, "/health", "", 0)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Status)
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodOptions, "/api/messages", "", 0)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodDelete, "/api/rooms", "", 0)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
