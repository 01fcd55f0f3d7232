package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/risk"
)

const systemPrompt = "You are a clinical speech assessment assistant. Respond with a single JSON object and no other text."

// Analyzer turns a raw transcript into a fully-populated SpeechMetrics
// record. Analyze never fails outward: service errors, malformed responses,
// and missing fields all degrade to documented defaults.
type Analyzer struct {
	cfg       config.AnalysisConfig
	generator Generator
	logger    *slog.Logger
}

func NewAnalyzer(cfg config.AnalysisConfig, generator Generator, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:       cfg,
		generator: generator,
		logger:    logger.With(slog.String("component", "speech-analyzer")),
	}
}

// NewGeneratorFromConfig selects the backend named by config.
func NewGeneratorFromConfig(cfg config.AnalysisConfig) (Generator, error) {
	switch cfg.Mode {
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return NewMockGenerator(), nil
	}
}

// Analyze evaluates the transcript, optionally with facial context.
func (a *Analyzer) Analyze(ctx context.Context, transcript string, facial *risk.FacialMetrics) risk.SpeechMetrics {
	if strings.TrimSpace(transcript) == "" {
		return NeutralMetrics()
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	req := Request{
		Prompt:      buildPrompt(transcript, facial),
		System:      systemPrompt,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}

	start := time.Now()
	raw, err := a.generator.Generate(ctx, req)
	if err != nil {
		a.logger.Warn("speech analysis call failed",
			slog.String("stage", "generate"),
			slog.String("error", err.Error()))
		return FailureMetrics()
	}

	metrics := parseResponse(raw)
	a.logger.Info("speech analysis complete",
		slog.Duration("latency", time.Since(start)),
		slog.String("response_snippet", snippet(raw, 120)))
	return metrics
}

func buildPrompt(transcript string, facial *risk.FacialMetrics) string {
	var b strings.Builder
	b.WriteString("Evaluate the following speech sample for stroke indicators such as slurring, word-finding difficulty, and incoherence.\n\n")
	fmt.Fprintf(&b, "Transcript: %q\n", transcript)
	if facial != nil {
		fmt.Fprintf(&b, "\nFacial asymmetry context: eyeRatio=%.3f mouthCornerRatio=%.3f overallAsymmetry=%.3f\n",
			facial.EyeRatio, facial.MouthCornerRatio, facial.OverallAsymmetry)
	}
	b.WriteString("\nReturn a JSON object with exactly these keys: ")
	b.WriteString(`slurredSpeech (boolean), speechCoherence (0-1), possibleStrokeIndicators (boolean), confidence (0-100), clarity (0-100), fluency (0-100), analysis (short text).`)
	return b.String()
}

func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
