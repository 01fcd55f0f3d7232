package screening

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/strokesense/strokesense-core/internal/analysis"
	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/detector"
	"github.com/strokesense/strokesense-core/internal/protocol"
	"github.com/strokesense/strokesense-core/internal/risk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrAnalysisInFlight is returned when a speech analysis is triggered while
// one is still outstanding. Duplicate triggers are rejected, not queued.
var ErrAnalysisInFlight = errors.New("speech analysis already in progress")

// Service is the fusion coordinator. It keeps the latest reading per
// modality, re-evaluates the risk score on every change, and publishes each
// fresh assessment. It never persists on its own: saving an assessment is
// the caller's decision at the HTTP boundary.
type Service struct {
	bus      *bus.Client
	analyzer *analysis.Analyzer
	registry *detector.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	mu        sync.Mutex
	facial    *risk.FacialMetrics
	posture   *risk.PostureMetrics
	speech    *risk.SpeechMetrics
	latest    *risk.Assessment
	inflight  bool
	evalCount metric.Int64Counter
}

func NewService(parent context.Context, busClient *bus.Client, analyzer *analysis.Analyzer, registry *detector.Registry, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		bus:      busClient,
		analyzer: analyzer,
		registry: registry,
		logger:   logger.With(slog.String("component", "screening")),
		ctx:      ctx,
		cancel:   cancel,
	}
	meter := otel.Meter("github.com/strokesense/strokesense-core/screening")
	if counter, err := meter.Int64Counter("strokesense.fusion.evaluations",
		metric.WithDescription("Risk fusion evaluations by level")); err == nil {
		s.evalCount = counter
	}
	return s
}

func (s *Service) Start() error {
	subjects := map[string]nats.MsgHandler{
		protocol.SubjectFacialMetrics:   s.handleFacial,
		protocol.SubjectPostureMetrics:  s.handlePosture,
		protocol.SubjectTranscriptFinal: s.handleTranscript,
	}
	for subject, handler := range subjects {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			for _, existing := range s.subs {
				_ = existing.Drain()
			}
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return len(s.subs) == 3
}

// Latest returns the most recent assessment, if any evaluation has run.
func (s *Service) Latest() *risk.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	latest := *s.latest
	return &latest
}

func (s *Service) handleFacial(msg *nats.Msg) {
	var update protocol.FacialUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.Warn("failed to decode facial update", slog.String("error", err.Error()))
		return
	}
	assessment := s.applyFacial(update.Metrics)
	s.publishAssessment(assessment, "")
}

func (s *Service) handlePosture(msg *nats.Msg) {
	var update protocol.PostureUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.Warn("failed to decode posture update", slog.String("error", err.Error()))
		return
	}
	assessment := s.applyPosture(update.Metrics)
	s.publishAssessment(assessment, "")
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slog.String("error", err.Error()))
		return
	}

	if err := s.beginAnalysis(); err != nil {
		s.logger.Warn("transcript dropped", slog.String("error", err.Error()),
			slog.String("session_id", transcript.SessionID))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		assessment := s.analyzeAndFuse(s.ctx, transcript.Text)
		s.publishAssessment(assessment, transcript.SessionID)
	}()
}

// beginAnalysis claims the single analysis slot.
func (s *Service) beginAnalysis() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return ErrAnalysisInFlight
	}
	s.inflight = true
	return nil
}

// analyzeAndFuse runs the speech adapter and re-evaluates with the result.
// The adapter is total, so this always produces an assessment.
func (s *Service) analyzeAndFuse(ctx context.Context, transcript string) risk.Assessment {
	s.mu.Lock()
	facial := s.facial
	s.mu.Unlock()

	metrics := s.analyzer.Analyze(ctx, transcript, facial)

	s.mu.Lock()
	s.speech = &metrics
	s.inflight = false
	s.mu.Unlock()
	return s.evaluate()
}

func (s *Service) applyFacial(metrics risk.FacialMetrics) risk.Assessment {
	s.mu.Lock()
	s.facial = &metrics
	s.mu.Unlock()
	return s.evaluate()
}

func (s *Service) applyPosture(metrics risk.PostureMetrics) risk.Assessment {
	s.mu.Lock()
	s.posture = &metrics
	s.mu.Unlock()
	return s.evaluate()
}

// evaluate recomputes the fusion from the current readings. Posture only
// participates while its detector is reporting as healthy.
func (s *Service) evaluate() risk.Assessment {
	s.mu.Lock()
	var facial risk.FacialMetrics
	if s.facial != nil {
		facial = *s.facial
	}
	posture := s.posture
	speech := s.speech
	s.mu.Unlock()

	if posture != nil && s.registry != nil && !s.registry.Active(protocol.DetectorPosture) {
		posture = nil
	}

	assessment := risk.Compute(facial, posture, speech)

	s.mu.Lock()
	s.latest = &assessment
	s.mu.Unlock()

	if s.evalCount != nil {
		s.evalCount.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("level", string(assessment.Level))))
	}
	return assessment
}

func (s *Service) publishAssessment(assessment risk.Assessment, sessionID string) {
	event := protocol.AssessmentEvent{Assessment: assessment, SessionID: sessionID}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal assessment", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectRiskAssessment, data); err != nil {
		s.logger.Warn("failed to publish assessment", slog.String("error", err.Error()))
	}
}
