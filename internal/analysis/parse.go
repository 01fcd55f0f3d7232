package analysis

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/strokesense/strokesense-core/internal/risk"
)

// Per-field fallback values used whenever the model response omits a field
// or only yields to loose pattern matching. Declared once so every default
// in the degraded paths comes from the same table.
var partialDefaults = risk.SpeechMetrics{
	SlurredSpeech:            false,
	SpeechCoherence:          0.8,
	PossibleStrokeIndicators: false,
	Confidence:               50,
	Clarity:                  80,
	Fluency:                  80,
	Analysis:                 "Analysis completed with partial data.",
}

// NeutralMetrics is the fixed record for an empty or whitespace transcript.
// No external call is made to produce it.
func NeutralMetrics() risk.SpeechMetrics {
	return risk.SpeechMetrics{
		SlurredSpeech:            false,
		SpeechCoherence:          0.8,
		PossibleStrokeIndicators: false,
		Confidence:               0,
		Clarity:                  100,
		Fluency:                  100,
		Analysis:                 "No speech detected. Please try speaking again.",
	}
}

// FailureMetrics is the complete record returned when the generation service
// itself fails. The caller never observes the underlying error.
func FailureMetrics() risk.SpeechMetrics {
	m := partialDefaults
	m.Confidence = 0
	m.Analysis = "Speech analysis is temporarily unavailable. If you are concerned about stroke symptoms, seek professional medical evaluation immediately."
	return m
}

// responsePayload mirrors the JSON object the model is asked to return.
// Pointer fields distinguish absent keys from zero values so each field can
// fall back independently.
type responsePayload struct {
	SlurredSpeech            *bool    `json:"slurredSpeech"`
	SpeechCoherence          *float64 `json:"speechCoherence"`
	PossibleStrokeIndicators *bool    `json:"possibleStrokeIndicators"`
	Confidence               *float64 `json:"confidence"`
	Clarity                  *float64 `json:"clarity"`
	Fluency                  *float64 `json:"fluency"`
	Analysis                 *string  `json:"analysis"`
}

var (
	reSlurred    = keyBoolPattern("slurredSpeech")
	reIndicators = keyBoolPattern("possibleStrokeIndicators")
	reCoherence  = keyNumberPattern("speechCoherence")
	reConfidence = keyNumberPattern("confidence")
	reClarity    = keyNumberPattern("clarity")
	reFluency    = keyNumberPattern("fluency")
	reAnalysis   = regexp.MustCompile(`(?i)"?analysis"?\s*[:=]\s*"([^"]*)"`)
)

func keyBoolPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)"?` + key + `"?\s*[:=]\s*(true|false)`)
}

func keyNumberPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)"?` + key + `"?\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)
}

// parseResponse interprets the raw model output. Tier 1 extracts the first
// brace-delimited substring and parses it as JSON; tier 2 scans the whole
// text with per-field patterns when no parseable object is present. Both
// tiers fill unmatched fields from the shared defaults table.
func parseResponse(raw string) risk.SpeechMetrics {
	if payload, ok := extractObject(raw); ok {
		return mergePayload(payload)
	}
	return scanLoose(raw)
}

func extractObject(raw string) (responsePayload, bool) {
	var payload responsePayload
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return payload, false
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return responsePayload{}, false
	}
	return payload, true
}

func mergePayload(p responsePayload) risk.SpeechMetrics {
	m := partialDefaults
	if p.SlurredSpeech != nil {
		m.SlurredSpeech = *p.SlurredSpeech
	}
	if p.SpeechCoherence != nil {
		m.SpeechCoherence = clampFloat(*p.SpeechCoherence, 0, 1)
	}
	if p.PossibleStrokeIndicators != nil {
		m.PossibleStrokeIndicators = *p.PossibleStrokeIndicators
	}
	if p.Confidence != nil {
		m.Confidence = clampFloat(*p.Confidence, 0, 100)
	}
	if p.Clarity != nil {
		m.Clarity = clampFloat(*p.Clarity, 0, 100)
	}
	if p.Fluency != nil {
		m.Fluency = clampFloat(*p.Fluency, 0, 100)
	}
	if p.Analysis != nil && strings.TrimSpace(*p.Analysis) != "" {
		m.Analysis = *p.Analysis
	}
	return m
}

// scanLoose extracts each field independently; one pattern failing to match
// never blocks the others.
func scanLoose(raw string) risk.SpeechMetrics {
	m := partialDefaults
	if v, ok := matchBool(reSlurred, raw); ok {
		m.SlurredSpeech = v
	}
	if v, ok := matchBool(reIndicators, raw); ok {
		m.PossibleStrokeIndicators = v
	}
	if v, ok := matchNumber(reCoherence, raw); ok {
		m.SpeechCoherence = clampFloat(v, 0, 1)
	}
	if v, ok := matchNumber(reConfidence, raw); ok {
		m.Confidence = clampFloat(v, 0, 100)
	}
	if v, ok := matchNumber(reClarity, raw); ok {
		m.Clarity = clampFloat(v, 0, 100)
	}
	if v, ok := matchNumber(reFluency, raw); ok {
		m.Fluency = clampFloat(v, 0, 100)
	}
	if match := reAnalysis.FindStringSubmatch(raw); match != nil && strings.TrimSpace(match[1]) != "" {
		m.Analysis = match[1]
	}
	return m
}

func matchBool(re *regexp.Regexp, raw string) (bool, bool) {
	match := re.FindStringSubmatch(raw)
	if match == nil {
		return false, false
	}
	return strings.EqualFold(match[1], "true"), true
}

func matchNumber(re *regexp.Regexp, raw string) (float64, bool) {
	match := re.FindStringSubmatch(raw)
	if match == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
