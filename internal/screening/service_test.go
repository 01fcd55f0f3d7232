package screening

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/strokesense/strokesense-core/internal/analysis"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/risk"
)

type fixedGenerator struct {
	response string
}

func (g *fixedGenerator) Generate(_ context.Context, _ analysis.Request) (string, error) {
	return g.response, nil
}

func newTestService(gen analysis.Generator) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	analyzer := analysis.NewAnalyzer(config.Default().Analysis, gen, logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		analyzer: analyzer,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func TestEvaluateOnEachModalityUpdate(t *testing.T) {
	s := newTestService(&fixedGenerator{response: "{}"})

	a := s.applyFacial(risk.FacialMetrics{OverallAsymmetry: 0.8})
	if a.Level != risk.LevelHigh {
		t.Fatalf("expected high from facial alone, got %s", a.Level)
	}

	a = s.applyPosture(risk.PostureMetrics{ShoulderImbalance: 0.2})
	want := 0.8 + 0.2*0.3
	if math.Abs(a.Score-want) > 1e-9 {
		t.Fatalf("expected score %v after posture update, got %v", want, a.Score)
	}

	if latest := s.Latest(); latest == nil || latest.Score != a.Score {
		t.Fatalf("expected latest assessment retained, got %+v", latest)
	}
}

func TestAnalyzeAndFuseIncludesSpeech(t *testing.T) {
	s := newTestService(&fixedGenerator{
		response: `{"slurredSpeech":true,"clarity":50,"fluency":50,"confidence":80,"possibleStrokeIndicators":true,"analysis":"slurred"}`,
	})
	s.applyFacial(risk.FacialMetrics{OverallAsymmetry: 0.1})

	if err := s.beginAnalysis(); err != nil {
		t.Fatalf("begin analysis: %v", err)
	}
	a := s.analyzeAndFuse(context.Background(), "some speech sample")

	want := 0.1 + 0.3 + 0.5*0.15 + 0.5*0.15
	if math.Abs(a.Score-want) > 1e-9 {
		t.Fatalf("expected score %v, got %v", want, a.Score)
	}
	if a.Level != risk.LevelMedium {
		t.Fatalf("expected medium, got %s", a.Level)
	}
}

func TestDuplicateAnalysisRejected(t *testing.T) {
	s := newTestService(&fixedGenerator{response: "{}"})

	if err := s.beginAnalysis(); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := s.beginAnalysis(); err != ErrAnalysisInFlight {
		t.Fatalf("expected ErrAnalysisInFlight, got %v", err)
	}

	// Completing the analysis frees the slot.
	s.analyzeAndFuse(context.Background(), "sample")
	if err := s.beginAnalysis(); err != nil {
		t.Fatalf("expected slot free after completion, got %v", err)
	}
}

func TestSpeechRetainedAcrossMetricUpdates(t *testing.T) {
	s := newTestService(&fixedGenerator{
		response: `{"slurredSpeech":true,"clarity":100,"fluency":100}`,
	})
	s.applyFacial(risk.FacialMetrics{OverallAsymmetry: 0.1})

	if err := s.beginAnalysis(); err != nil {
		t.Fatalf("begin analysis: %v", err)
	}
	s.analyzeAndFuse(context.Background(), "sample")

	a := s.applyFacial(risk.FacialMetrics{OverallAsymmetry: 0.2})
	want := 0.2 + 0.3
	if math.Abs(a.Score-want) > 1e-9 {
		t.Fatalf("expected slurred-speech weight retained, got %v", a.Score)
	}
}
