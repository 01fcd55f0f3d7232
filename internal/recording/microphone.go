package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

// ErrMicrophoneBusy is returned when the capture resource is already held.
var ErrMicrophoneBusy = errors.New("microphone already acquired")

// busMicrophone treats the per-session audio-frame subject as the capture
// resource: acquiring subscribes to it, releasing drains the subscription.
// Only one session may hold it at a time.
type busMicrophone struct {
	bus    *bus.Client
	logger *slog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	frames chan protocol.AudioFrame
}

func NewBusMicrophone(busClient *bus.Client, logger *slog.Logger) Microphone {
	return &busMicrophone{
		bus:    busClient,
		logger: logger.With(slog.String("component", "bus-microphone")),
	}
}

func (m *busMicrophone) Acquire(_ context.Context, sessionID string) (<-chan protocol.AudioFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return nil, ErrMicrophoneBusy
	}

	frames := make(chan protocol.AudioFrame, 64)
	subject := fmt.Sprintf("%s.%s", protocol.SubjectAudioFramePrefix, sessionID)
	sub, err := m.bus.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			m.logger.Warn("failed to decode audio frame", slog.String("error", err.Error()))
			return
		}
		select {
		case frames <- frame:
		default:
			// Capture outpacing consumption; drop rather than block the
			// delivery goroutine.
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}

	m.sub = sub
	m.frames = frames
	return frames, nil
}

func (m *busMicrophone) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return
	}
	_ = m.sub.Drain()
	// The frame channel is left open: in-flight handler callbacks may still
	// deliver while the subscription drains. Consumers end on engine stop,
	// not on channel close.
	m.sub = nil
	m.frames = nil
}
