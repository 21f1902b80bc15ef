package core

import "errors"

// Frame is one encoded outbound message.
type Frame []byte

// ConnID names one live participant connection for the lifetime of the process.
type ConnID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Conn abstracts the messaging transport of a single participant.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	// TrySend queues f without blocking. A full queue yields ErrBackpressure.
	TrySend(f Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
