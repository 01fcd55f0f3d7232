package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

var (
	// ErrSessionActive is returned when Start is called while a session is
	// recording or stopping. Duplicate starts are rejected, never queued.
	ErrSessionActive = errors.New("a recording session is already active")

	// ErrNotRecording is returned when Stop finds no active recording.
	ErrNotRecording = errors.New("no recording in progress")

	// ErrManualEntryUnavailable is returned when manual entry is attempted
	// outside the error state.
	ErrManualEntryUnavailable = errors.New("manual entry is only available after a failed session")
)

const (
	permissionMessage = "Microphone access was denied. Allow microphone access or enter what was said manually."
	networkMessage    = "Speech recognition kept losing its connection. You can type what was said instead."
)

// TranscriptSink receives finalized transcripts, from both the recorded path
// and the manual-entry fallback. Both feed speech analysis identically.
type TranscriptSink func(protocol.Transcript)

// Controller is the recording session state machine. It owns the Session
// value, mediates the microphone resource, and applies the retry policy for
// transient recognition errors. All event processing happens on a single
// goroutine per session; late events from a superseded session are dropped.
type Controller struct {
	cfg    config.RecognitionConfig
	mic    Microphone
	engine Engine
	sink   TranscriptSink
	logger *slog.Logger

	mu       sync.Mutex
	session  Session
	hasFinal bool
	micHeld  bool
	gen      int
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewController(cfg config.RecognitionConfig, mic Microphone, engine Engine, sink TranscriptSink, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		mic:     mic,
		engine:  engine,
		sink:    sink,
		logger:  logger.With(slog.String("component", "recording-controller")),
		session: Session{State: StateIdle},
	}
}

// Snapshot returns a copy of the current session value.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start begins a new recording session. It acquires the microphone, starts
// the recognition engine, and resets the transcript and retry counter.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.session.State {
	case StateRequestingPermission, StateRecording, StateStopping:
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	gen := c.gen
	id := uuid.NewString()
	c.session = Session{ID: id, State: StateRequestingPermission}
	c.hasFinal = false
	c.mu.Unlock()

	frames, err := c.mic.Acquire(ctx, id)
	if err != nil {
		c.enterError(gen, permissionMessage)
		return fmt.Errorf("acquire microphone: %w", err)
	}
	c.mu.Lock()
	c.micHeld = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	events, err := c.engine.Start(runCtx, id, frames)
	if err != nil {
		cancel()
		c.enterError(gen, "Speech recognition could not be started.")
		return fmt.Errorf("start recognition: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.session.State = StateRecording
	c.session.Transcript = ""
	c.session.Attempts = 0
	c.mu.Unlock()

	c.logger.Info("recording started", slog.String("session_id", id))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.run(runCtx, gen, id, frames, events)
	}()
	return nil
}

// Stop ends the active recording. The engine flushes and closes its event
// channel, after which the session lands in Recorded and the microphone is
// released.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.session.State != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.session.State = StateStopping
	c.mu.Unlock()
	c.engine.Stop()
	return nil
}

// SubmitManual accepts user-typed text after a failed session. The text is
// delivered to the transcript sink exactly like a recorded transcript; the
// state machine is not re-entered.
func (c *Controller) SubmitManual(text string) error {
	c.mu.Lock()
	if !c.session.ManualEntryAvailable() {
		c.mu.Unlock()
		return ErrManualEntryUnavailable
	}
	c.session.Transcript = text
	id := c.session.ID
	c.mu.Unlock()

	c.logger.Info("manual transcript submitted", slog.String("session_id", id))
	c.emit(protocol.Transcript{
		SessionID: id,
		Text:      text,
		Manual:    true,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Close tears down the controller, releasing the microphone if held.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.engine.Stop()
	c.wg.Wait()
	c.releaseMic()
}

func (c *Controller) run(ctx context.Context, gen int, id string, frames <-chan protocol.AudioFrame, events <-chan Event) {
	for {
		retrying := false
		for ev := range events {
			switch ev.Kind {
			case EventResult:
				c.applyResult(gen, ev)
			case EventError:
				if ev.Class.Transient() {
					if c.recordAttempt(gen) {
						c.logger.Warn("transient recognition error, will retry",
							slog.String("session_id", id),
							slog.String("message", ev.Message))
						retrying = true
						continue
					}
					c.engine.Stop()
					c.enterError(gen, networkMessage)
					return
				}
				c.engine.Stop()
				c.enterError(gen, errorMessageFor(ev))
				return
			case EventEnd:
				// Engine closes the channel after this; fall through to the
				// channel-closed handling below.
			}
		}

		if !retrying {
			c.finishRecorded(gen)
			return
		}

		select {
		case <-ctx.Done():
			c.enterError(gen, "Recording was cancelled.")
			return
		case <-time.After(time.Duration(c.cfg.RetryDelayMS) * time.Millisecond):
		}

		next, err := c.engine.Start(ctx, id, frames)
		if err != nil {
			c.enterError(gen, networkMessage)
			return
		}
		events = next
	}
}

// applyResult applies the transcript-replacement policy: the latest final
// text wins; interim text only stands in while no final has arrived.
func (c *Controller) applyResult(gen int, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if ev.Final {
		c.session.Transcript = ev.Text
		c.hasFinal = true
		return
	}
	if !c.hasFinal {
		c.session.Transcript = ev.Text
	}
}

// recordAttempt increments the retry counter and reports whether another
// retry is allowed.
func (c *Controller) recordAttempt(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.session.Attempts++
	return c.session.Attempts < c.cfg.MaxRetries
}

func (c *Controller) finishRecorded(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session.State = StateRecorded
	transcript := c.session.Transcript
	id := c.session.ID
	c.mu.Unlock()

	c.releaseMic()
	c.logger.Info("recording finished", slog.String("session_id", id))
	c.emit(protocol.Transcript{
		SessionID: id,
		Text:      transcript,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Controller) enterError(gen int, message string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session.State = StateError
	c.session.ErrorMessage = message
	id := c.session.ID
	c.mu.Unlock()

	c.releaseMic()
	c.logger.Warn("recording session failed",
		slog.String("session_id", id),
		slog.String("message", message))
}

// releaseMic releases the capture resource exactly once per acquisition.
// Every exit path from RequestingPermission and Recording funnels through it.
func (c *Controller) releaseMic() {
	c.mu.Lock()
	held := c.micHeld
	c.micHeld = false
	c.mu.Unlock()
	if held {
		c.mic.Release()
	}
}

func (c *Controller) emit(t protocol.Transcript) {
	if c.sink != nil {
		c.sink(t)
	}
}

func errorMessageFor(ev Event) string {
	switch ev.Class {
	case protocol.ErrorClassPermission:
		return permissionMessage
	case protocol.ErrorClassDevice:
		return "The microphone is no longer available. Reconnect it or enter what was said manually."
	default:
		return "Speech recognition failed. You can type what was said instead."
	}
}
