// Package integration exercises the assembled server end to end over real
// HTTP and websocket connections.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"roomcast/internal/api"
	"roomcast/internal/app"
	"roomcast/internal/config"
	"roomcast/internal/logging"
	"roomcast/pkg/types"
)

// TestEnv is a running server backed by a throwaway database.
type TestEnv struct {
	URL string
	App *app.Application
}

// StartTestServer boots the full application behind an httptest server.
// Everything is torn down when t finishes.
func StartTestServer(t *testing.T, tweak ...func(*config.Config)) *TestEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.WebSocket.FramesPerSecond = 0
	for _, fn := range tweak {
		fn(cfg)
	}

	application, err := app.NewApplication(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	srv := httptest.NewServer(application.Handler())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return &TestEnv{URL: srv.URL, App: application}
}

// Dial connects a new realtime client and closes it at cleanup.
func (env *TestEnv) Dial(t *testing.T) *TestClient {
	t.Helper()
	client := NewTestClient(env.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// CreateUser registers username through the REST API.
func (env *TestEnv) CreateUser(t *testing.T, username string) *types.User {
	t.Helper()
	var user types.User
	env.post(t, "/api/users", 0, api.CreateUserRequest{Username: username}, http.StatusCreated, &user)
	return &user
}

// PostMessage posts content to roomID as userID.
func (env *TestEnv) PostMessage(t *testing.T, userID, roomID int64, content string) *types.RenderedMessage {
	t.Helper()
	var msg types.RenderedMessage
	body := map[string]any{"content": content, "roomId": roomID}
	env.post(t, "/api/messages", userID, body, http.StatusCreated, &msg)
	return &msg
}

// Vote casts voterID's vote on messageID.
func (env *TestEnv) Vote(t *testing.T, voterID, messageID int64, up bool) *api.VoteResponse {
	t.Helper()
	var res api.VoteResponse
	path := fmt.Sprintf("/api/messages/%d/vote", messageID)
	env.post(t, path, voterID, map[string]any{"isUpvote": up}, http.StatusOK, &res)
	return &res
}

// RoomByName resolves a seeded room.
func (env *TestEnv) RoomByName(t *testing.T, name string) *types.Room {
	t.Helper()
	resp, err := http.Get(env.URL + "/api/rooms-by-name/" + url.PathEscape(name))
	if err != nil {
		t.Fatalf("Failed to fetch room %q: %v", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Room %q: unexpected status %d", name, resp.StatusCode)
	}
	var room types.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("Failed to decode room: %v", err)
	}
	return &room
}

func (env *TestEnv) post(t *testing.T, path string, userID int64, body any, wantStatus int, out any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(api.UserIDHeader, strconv.FormatInt(userID, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("POST %s: expected status %d, got %d (%s)", path, wantStatus, resp.StatusCode, e.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
}
