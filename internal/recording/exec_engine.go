package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

// execEngine runs a local recognizer command over the session audio: frames
// are buffered until the final frame, encoded as WAV, and handed to the
// command, which prints {"text": ..., "confidence": ...} on stdout.
type execEngine struct {
	cmd []string
	cfg config.RecognitionConfig

	mu   sync.Mutex
	stop chan struct{}
	done bool
}

type execEngineResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecEngine(cfg config.RecognitionConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Start(ctx context.Context, sessionID string, frames <-chan protocol.AudioFrame) (<-chan Event, error) {
	stop := make(chan struct{})
	e.mu.Lock()
	e.stop = stop
	e.done = false
	e.mu.Unlock()

	events := make(chan Event, 4)
	go func() {
		defer close(events)
		var pcm []byte
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				// Stop flushes whatever audio arrived so far.
				e.transcribe(ctx, pcm, events)
				events <- Event{Kind: EventEnd}
				return
			case frame, ok := <-frames:
				if !ok {
					e.transcribe(ctx, pcm, events)
					events <- Event{Kind: EventEnd}
					return
				}
				pcm = append(pcm, frame.PCM...)
				if frame.Final {
					e.transcribe(ctx, pcm, events)
					events <- Event{Kind: EventEnd}
					return
				}
			}
		}
	}()
	return events, nil
}

func (e *execEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil && !e.done {
		close(e.stop)
		e.done = true
	}
}

func (e *execEngine) transcribe(ctx context.Context, pcm []byte, events chan<- Event) {
	if len(pcm) == 0 {
		return
	}
	result, err := e.runCommand(ctx, pcm)
	if err != nil {
		events <- Event{Kind: EventError, Class: protocol.ErrorClassInternal, Message: err.Error()}
		return
	}
	events <- Event{Kind: EventResult, Text: result.Text, Final: true}
}

func (e *execEngine) runCommand(ctx context.Context, pcm []byte) (execEngineResult, error) {
	file, err := os.CreateTemp(os.TempDir(), "strokesense_rec_*.wav")
	if err != nil {
		return execEngineResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, e.cfg.SampleRate, e.cfg.Channels); err != nil {
		return execEngineResult{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())

	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execEngineResult{}, fmt.Errorf("recognition command failed: %w: %s", err, stderr.String())
	}

	var result execEngineResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return execEngineResult{}, fmt.Errorf("decode recognition output: %w", err)
	}
	return result, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
