package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/pkg/types"
)

// ErrClientClosed is returned by receive calls once the socket is gone.
var ErrClientClosed = errors.New("client disconnected")

// TestClient is a realtime client that decodes every inbound frame.
type TestClient struct {
	ServerURL string

	conn   *websocket.Conn
	events chan types.Event
	errors chan error
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewTestClient returns an unconnected client for the server at serverURL.
func NewTestClient(serverURL string) *TestClient {
	return &TestClient{
		ServerURL: serverURL,
		events:    make(chan types.Event, 256),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}
}

// Connect dials /ws and starts reading.
func (tc *TestClient) Connect(ctx context.Context) error {
	u, err := url.Parse(tc.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	tc.mu.Lock()
	tc.conn = conn
	tc.mu.Unlock()

	go tc.readLoop()
	return nil
}

func (tc *TestClient) readLoop() {
	defer tc.closeOnce.Do(func() { close(tc.done) })

	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			tc.mu.Lock()
			closed := tc.closed
			tc.mu.Unlock()
			if !closed {
				select {
				case tc.errors <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			return
		}

		ev, err := types.DecodeEvent(data)
		if err != nil {
			select {
			case tc.errors <- err:
			default:
			}
			continue
		}
		select {
		case tc.events <- ev:
		default:
			select {
			case tc.errors <- errors.New("event buffer full, dropping event"):
			default:
			}
		}
	}
}

// Send writes a raw control frame.
func (tc *TestClient) Send(frame any) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.conn == nil || tc.closed {
		return ErrClientClosed
	}
	_ = tc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return tc.conn.WriteJSON(frame)
}

// Join sends JOIN_ROOM, binding userID when non-zero.
func (tc *TestClient) Join(roomID, userID int64) error {
	payload := map[string]any{"roomId": roomID}
	if userID != 0 {
		payload["userId"] = userID
	}
	return tc.Send(map[string]any{"type": types.ControlJoinRoom, "payload": payload})
}

// Leave sends LEAVE_ROOM.
func (tc *TestClient) Leave() error {
	return tc.Send(map[string]any{"type": types.ControlLeaveRoom})
}

// Receive waits for the next event.
func (tc *TestClient) Receive(timeout time.Duration) (types.Event, error) {
	select {
	case ev := <-tc.events:
		return ev, nil
	case err := <-tc.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, errors.New("timeout waiting for event")
	case <-tc.done:
		select {
		case ev := <-tc.events:
			return ev, nil
		default:
			return nil, ErrClientClosed
		}
	}
}

// ReceiveOfType skips events until one of eventType arrives.
func (tc *TestClient) ReceiveOfType(eventType string, timeout time.Duration) (types.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for event of type %s", eventType)
		}
		ev, err := tc.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if ev.EventType() == eventType {
			return ev, nil
		}
	}
}

// WaitForCount skips events until ROOM_USERS_COUNT reports want.
func (tc *TestClient) WaitForCount(want int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ev, err := tc.ReceiveOfType(types.EventRoomUsersCount, time.Until(deadline))
		if err != nil {
			return fmt.Errorf("waiting for count %d: %w", want, err)
		}
		if ev.(types.RoomUsersCount).Count == want {
			return nil
		}
	}
}

// ExpectSilence reports an error if any event arrives within d.
func (tc *TestClient) ExpectSilence(d time.Duration) error {
	select {
	case ev := <-tc.events:
		return fmt.Errorf("unexpected %s event", ev.EventType())
	case <-time.After(d):
		return nil
	}
}

// DrainEvents discards buffered events.
func (tc *TestClient) DrainEvents() {
	for {
		select {
		case <-tc.events:
		default:
			return
		}
	}
}

// Close sends a close frame and tears the socket down.
func (tc *TestClient) Close() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return nil
	}
	tc.closed = true
	if tc.conn == nil {
		return nil
	}
	_ = tc.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = tc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return tc.conn.Close()
}
