package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Registry-related errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrAlreadyRegistered = errors.New("connection already registered")
)
