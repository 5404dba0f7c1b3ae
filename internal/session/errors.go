package session

import "errors"

// Session lifecycle errors
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrNotInRoom     = errors.New("session is not in a room")
)
