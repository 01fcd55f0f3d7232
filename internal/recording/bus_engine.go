package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

// busEngine bridges an external recognizer publishing results and errors on
// the bus into controller events. This is the production path: recognition
// runs at the capture edge and reports per-session subjects.
type busEngine struct {
	bus    *bus.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
	stop chan struct{}
	done bool
}

func NewBusEngine(busClient *bus.Client, logger *slog.Logger) Engine {
	return &busEngine{
		bus:    busClient,
		logger: logger.With(slog.String("component", "recognition-bus-engine")),
	}
}

func (e *busEngine) Start(ctx context.Context, sessionID string, _ <-chan protocol.AudioFrame) (<-chan Event, error) {
	// Handlers forward into inbox; a single goroutine owns the events channel
	// so callbacks are applied in arrival order and the channel closes exactly
	// once per run.
	inbox := make(chan Event, 32)
	stop := make(chan struct{})

	resultSubject := fmt.Sprintf("%s.%s", protocol.SubjectRecognitionResultPrefix, sessionID)
	resultSub, err := e.bus.Conn().Subscribe(resultSubject, func(msg *nats.Msg) {
		var result protocol.RecognitionResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			e.logger.Warn("failed to decode recognition result", slog.String("error", err.Error()))
			return
		}
		select {
		case inbox <- Event{Kind: EventResult, Text: result.Text, Final: result.Final}:
		case <-stop:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe recognition results: %w", err)
	}

	errorSubject := fmt.Sprintf("%s.%s", protocol.SubjectRecognitionErrorPrefix, sessionID)
	errorSub, err := e.bus.Conn().Subscribe(errorSubject, func(msg *nats.Msg) {
		var recErr protocol.RecognitionError
		if err := json.Unmarshal(msg.Data, &recErr); err != nil {
			e.logger.Warn("failed to decode recognition error", slog.String("error", err.Error()))
			return
		}
		select {
		case inbox <- Event{Kind: EventError, Class: recErr.Class, Message: recErr.Message}:
		case <-stop:
		}
	})
	if err != nil {
		resultSub.Drain()
		return nil, fmt.Errorf("subscribe recognition errors: %w", err)
	}

	e.mu.Lock()
	e.subs = []*nats.Subscription{resultSub, errorSub}
	e.stop = stop
	e.done = false
	e.mu.Unlock()

	events := make(chan Event, 32)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				events <- Event{Kind: EventEnd}
				return
			case ev := <-inbox:
				events <- ev
				if ev.Kind == EventError {
					// One error ends this run; the controller decides whether
					// to restart.
					e.Stop()
				}
			}
		}
	}()
	return events, nil
}

func (e *busEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	for _, sub := range e.subs {
		_ = sub.Drain()
	}
	if e.stop != nil {
		close(e.stop)
	}
}
