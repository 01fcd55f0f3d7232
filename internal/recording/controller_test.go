package recording

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

type scriptedRun struct {
	events    []Event
	autoClose bool
}

// scriptedEngine replays one scripted run per Start call. Runs that autoClose
// model an engine run dying (e.g. after a network error); open runs wait for
// Stop, which emits the end event.
type scriptedEngine struct {
	mu      sync.Mutex
	runs    []scriptedRun
	starts  int
	current chan Event
	open    bool
}

func (e *scriptedEngine) Start(_ context.Context, _ string, _ <-chan protocol.AudioFrame) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var run scriptedRun
	if e.starts < len(e.runs) {
		run = e.runs[e.starts]
	}
	e.starts++
	ch := make(chan Event, len(run.events)+2)
	for _, ev := range run.events {
		ch <- ev
	}
	if run.autoClose {
		close(ch)
		e.open = false
	} else {
		e.current = ch
		e.open = true
	}
	return ch, nil
}

func (e *scriptedEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		e.current <- Event{Kind: EventEnd}
		close(e.current)
		e.open = false
	}
}

func (e *scriptedEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

type fakeMic struct {
	mu       sync.Mutex
	denyErr  error
	acquired int
	released int
}

func (m *fakeMic) Acquire(_ context.Context, _ string) (<-chan protocol.AudioFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denyErr != nil {
		return nil, m.denyErr
	}
	m.acquired++
	return make(chan protocol.AudioFrame), nil
}

func (m *fakeMic) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *fakeMic) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type transcriptCollector struct {
	mu  sync.Mutex
	got []protocol.Transcript
}

func (c *transcriptCollector) sink(t protocol.Transcript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, t)
}

func (c *transcriptCollector) all() []protocol.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Transcript(nil), c.got...)
}

func newTestController(engine Engine, mic Microphone, sink TranscriptSink) *Controller {
	cfg := config.RecognitionConfig{Enabled: true, MaxRetries: 3, RetryDelayMS: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewController(cfg, mic, engine, sink, logger)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestStartRejectsConcurrentSession(t *testing.T) {
	engine := &scriptedEngine{runs: []scriptedRun{{}}}
	mic := &fakeMic{}
	c := newTestController(engine, mic, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestTranscriptReplacementPolicy(t *testing.T) {
	engine := &scriptedEngine{runs: []scriptedRun{{
		events: []Event{
			{Kind: EventResult, Text: "the sky", Final: false},
			{Kind: EventResult, Text: "the sky is blue", Final: false},
			{Kind: EventResult, Text: "the sky is very blue today", Final: true},
			{Kind: EventResult, Text: "stray interim after final", Final: false},
		},
	}}}
	mic := &fakeMic{}
	collector := &transcriptCollector{}
	c := newTestController(engine, mic, collector.sink)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		return c.Snapshot().Transcript == "the sky is very blue today"
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, func() bool { return c.Snapshot().State == StateRecorded })

	got := collector.all()
	if len(got) != 1 {
		t.Fatalf("expected one transcript, got %d", len(got))
	}
	if got[0].Text != "the sky is very blue today" {
		t.Fatalf("interim after final must not win: %q", got[0].Text)
	}
	if got[0].Manual {
		t.Fatal("recorded transcript must not be marked manual")
	}
	if mic.releaseCount() != 1 {
		t.Fatalf("microphone must be released on stop, releases=%d", mic.releaseCount())
	}
}

func TestTransientErrorsRetryThenRecover(t *testing.T) {
	networkError := scriptedRun{
		events:    []Event{{Kind: EventError, Class: protocol.ErrorClassNetwork, Message: "network"}},
		autoClose: true,
	}
	engine := &scriptedEngine{runs: []scriptedRun{
		networkError,
		networkError,
		{events: []Event{{Kind: EventResult, Text: "recovered speech", Final: true}}},
	}}
	mic := &fakeMic{}
	c := newTestController(engine, mic, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return engine.startCount() == 3 })
	waitFor(t, func() bool { return c.Snapshot().Transcript == "recovered speech" })

	session := c.Snapshot()
	if session.State != StateRecording {
		t.Fatalf("expected Recording after recovery, got %s", session.State)
	}
	if session.Attempts > 2 {
		t.Fatalf("expected attempts <= 2, got %d", session.Attempts)
	}
}

func TestTransientErrorsExhaustRetries(t *testing.T) {
	networkError := scriptedRun{
		events:    []Event{{Kind: EventError, Class: protocol.ErrorClassNetwork, Message: "network"}},
		autoClose: true,
	}
	engine := &scriptedEngine{runs: []scriptedRun{networkError, networkError, networkError}}
	mic := &fakeMic{}
	collector := &transcriptCollector{}
	c := newTestController(engine, mic, collector.sink)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return c.Snapshot().State == StateError })

	session := c.Snapshot()
	if session.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", session.Attempts)
	}
	if !session.ManualEntryAvailable() {
		t.Fatal("manual entry must be available after exhausted retries")
	}
	if mic.releaseCount() != 1 {
		t.Fatalf("microphone must be released on error, releases=%d", mic.releaseCount())
	}

	// Manual entry routes to the same sink as a recorded transcript.
	if err := c.SubmitManual("typed by the user"); err != nil {
		t.Fatalf("manual entry: %v", err)
	}
	got := collector.all()
	if len(got) != 1 {
		t.Fatalf("expected one transcript, got %d", len(got))
	}
	if got[0].Text != "typed by the user" || !got[0].Manual {
		t.Fatalf("unexpected manual transcript: %+v", got[0])
	}
}

func TestNonTransientErrorFailsImmediately(t *testing.T) {
	engine := &scriptedEngine{runs: []scriptedRun{{
		events:    []Event{{Kind: EventError, Class: protocol.ErrorClassPermission, Message: "revoked"}},
		autoClose: true,
	}}}
	mic := &fakeMic{}
	c := newTestController(engine, mic, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return c.Snapshot().State == StateError })

	session := c.Snapshot()
	if session.Attempts != 0 {
		t.Fatalf("permission errors must not be retried, attempts=%d", session.Attempts)
	}
	if engine.startCount() != 1 {
		t.Fatalf("expected a single engine start, got %d", engine.startCount())
	}
	if mic.releaseCount() != 1 {
		t.Fatalf("microphone must be released, releases=%d", mic.releaseCount())
	}
}

func TestMicrophoneDenialIsFatal(t *testing.T) {
	engine := &scriptedEngine{}
	mic := &fakeMic{denyErr: errors.New("permission denied")}
	c := newTestController(engine, mic, nil)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	session := c.Snapshot()
	if session.State != StateError {
		t.Fatalf("expected Error state, got %s", session.State)
	}
	if session.ErrorMessage == "" {
		t.Fatal("expected a user-facing permission message")
	}
	if !session.ManualEntryAvailable() {
		t.Fatal("manual entry must be available after permission denial")
	}
}

func TestManualEntryRejectedOutsideErrorState(t *testing.T) {
	engine := &scriptedEngine{runs: []scriptedRun{{}}}
	mic := &fakeMic{}
	c := newTestController(engine, mic, nil)
	defer c.Close()

	if err := c.SubmitManual("too early"); !errors.Is(err, ErrManualEntryUnavailable) {
		t.Fatalf("expected ErrManualEntryUnavailable, got %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.SubmitManual("while recording"); !errors.Is(err, ErrManualEntryUnavailable) {
		t.Fatalf("expected ErrManualEntryUnavailable, got %v", err)
	}
}
