package router

import "errors"

// Router errors
var (
	ErrRateLimited      = errors.New("control frame rate limit exceeded")
	ErrUnhandledControl = errors.New("unhandled control frame")
)
