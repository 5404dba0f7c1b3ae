package interfaces

// Connection is one live realtime channel to a client.
// Implementations are compared by identity; they must be pointer types.
type Connection interface {
	// ID returns a stable identifier, used for logging only.
	ID() string

	// TrySend queues an already-serialized frame without blocking.
	// A non-nil error means the frame was not queued and the connection
	// should be considered dead.
	TrySend(data []byte) error

	// Close tears down the channel. Safe to call more than once.
	Close() error
}

// FrameHandler consumes the inbound frames of a single connection.
type FrameHandler interface {
	HandleFrame(data []byte)
	Close()
}

// Lifecycle attaches a FrameHandler to each newly opened connection.
// The transport calls Open once, HandleFrame for every text frame, and
// Close exactly once when the channel goes away.
type Lifecycle interface {
	Open(conn Connection) FrameHandler
}
