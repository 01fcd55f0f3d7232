package recording

import (
	"context"
	"sync"
	"time"

	"github.com/strokesense/strokesense-core/internal/protocol"
)

// mockEngine emits a canned interim and final result, then waits for Stop.
// Used in development when no recognizer is wired up.
type mockEngine struct {
	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Start(ctx context.Context, _ string, _ <-chan protocol.AudioFrame) (<-chan Event, error) {
	m.mu.Lock()
	m.stop = make(chan struct{})
	m.closed = false
	stop := m.stop
	m.mu.Unlock()

	events := make(chan Event, 4)
	go func() {
		defer close(events)
		interim := time.After(100 * time.Millisecond)
		final := time.After(300 * time.Millisecond)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				events <- Event{Kind: EventEnd}
				return
			case <-interim:
				events <- Event{Kind: EventResult, Text: "the sky is very", Final: false}
			case <-final:
				events <- Event{Kind: EventResult, Text: "the sky is very blue today", Final: true}
			}
		}
	}()
	return events, nil
}

func (m *mockEngine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil && !m.closed {
		close(m.stop)
		m.closed = true
	}
}
