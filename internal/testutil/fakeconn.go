// Package testutil holds fakes shared by package tests.
package testutil

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"roomcast/pkg/types"
)

// Errors returned by FakeConn.TrySend.
var (
	ErrFakeClosed = errors.New("fake connection closed")
	ErrFakeFull   = errors.New("fake connection buffer full")
)

// FakeConn is an in-memory interfaces.Connection that records every frame.
type FakeConn struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	full    bool
	closeN  int
	onClose func()
}

// NewFakeConn returns an open fake connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{id: uuid.NewString()}
}

// ID implements interfaces.Connection.
func (f *FakeConn) ID() string { return f.id }

// TrySend implements interfaces.Connection.
func (f *FakeConn) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFakeClosed
	}
	if f.full {
		return ErrFakeFull
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

// Close implements interfaces.Connection.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closeN++
	cb := f.onClose
	f.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Kill makes subsequent sends fail as if the peer had gone away, without
// marking the connection as closed by the server.
func (f *FakeConn) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = true
}

// OnClose installs a callback run after each Close.
func (f *FakeConn) OnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

// Closed reports whether Close was called.
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CloseCount returns how many times Close was called.
func (f *FakeConn) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeN
}

// Frames returns a copy of the recorded frames.
func (f *FakeConn) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// Events decodes the recorded frames. Frames that fail to decode are skipped.
func (f *FakeConn) Events() []types.Event {
	var events []types.Event
	for _, frame := range f.Frames() {
		ev, err := types.DecodeEvent(frame)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Reset forgets recorded frames.
func (f *FakeConn) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}
