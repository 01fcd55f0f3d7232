package recording

import (
	"context"

	"github.com/strokesense/strokesense-core/internal/protocol"
)

// EventKind discriminates recognition engine callbacks.
type EventKind int

const (
	EventResult EventKind = iota
	EventError
	EventEnd
)

// Event is one recognition callback delivered to the controller. Result
// events carry the authoritative current text for the session, not a delta.
type Event struct {
	Kind    EventKind
	Text    string
	Final   bool
	Class   protocol.ErrorClass
	Message string
}

// Engine abstracts the recognition subsystem. Start returns a channel that
// delivers events in arrival order and is closed when the engine run ends,
// whether by Stop, error, or context cancellation. Each Start is an
// independent run; restarting after a transient error yields a new channel.
type Engine interface {
	Start(ctx context.Context, sessionID string, frames <-chan protocol.AudioFrame) (<-chan Event, error)
	Stop()
}

// Microphone abstracts the capture resource. Acquire either grants the
// resource and returns its frame stream, or fails with a permission/device
// error. Release must be safe to call more than once.
type Microphone interface {
	Acquire(ctx context.Context, sessionID string) (<-chan protocol.AudioFrame, error)
	Release()
}
