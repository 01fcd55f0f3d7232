package recording

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/protocol"
)

// Service wires the controller to the bus: finalized transcripts (recorded or
// manual) are published on the transcript subject for the screening pipeline.
type Service struct {
	ctx        context.Context
	cfg        config.RecognitionConfig
	bus        *bus.Client
	controller *Controller
	logger     *slog.Logger
}

func NewService(parent context.Context, cfg config.RecognitionConfig, busClient *bus.Client, logger *slog.Logger) (*Service, error) {
	s := &Service{
		ctx:    parent,
		cfg:    cfg,
		bus:    busClient,
		logger: logger.With(slog.String("component", "recording-service")),
	}

	engine, err := engineFromConfig(cfg, busClient, logger)
	if err != nil {
		return nil, err
	}
	mic := NewBusMicrophone(busClient, logger)
	s.controller = NewController(cfg, mic, engine, s.publishTranscript, logger)
	return s, nil
}

func engineFromConfig(cfg config.RecognitionConfig, busClient *bus.Client, logger *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "bus":
		return NewBusEngine(busClient, logger), nil
	case "exec":
		return NewExecEngine(cfg)
	default:
		return NewMockEngine(), nil
	}
}

// Controller exposes the session state machine to the HTTP layer.
func (s *Service) Controller() *Controller {
	return s.controller
}

// StartSession begins a recording session on the service lifetime, not the
// lifetime of the HTTP request that triggered it.
func (s *Service) StartSession() (Session, error) {
	err := s.controller.Start(s.ctx)
	return s.controller.Snapshot(), err
}

func (s *Service) StopSession() (Session, error) {
	err := s.controller.Stop()
	return s.controller.Snapshot(), err
}

func (s *Service) SubmitManual(text string) (Session, error) {
	err := s.controller.SubmitManual(text)
	return s.controller.Snapshot(), err
}

func (s *Service) Session() Session {
	return s.controller.Snapshot()
}

func (s *Service) Close() {
	s.controller.Close()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.controller != nil
}

func (s *Service) publishTranscript(t protocol.Transcript) {
	data, err := json.Marshal(t)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscriptFinal, data); err != nil {
		s.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("transcript published",
		slog.String("session_id", t.SessionID),
		slog.Bool("manual", t.Manual),
		slog.Int("length", len(t.Text)))
}
