package risk

import "time"

// FacialMetrics carries the facial asymmetry measurements produced by the
// external face detector. All values are normalized to [0,1].
type FacialMetrics struct {
	EyeRatio         float64 `json:"eyeRatio"`
	MouthCornerRatio float64 `json:"mouthCornerRatio"`
	OverallAsymmetry float64 `json:"overallAsymmetry"`
}

// PostureMetrics carries shoulder/arm imbalance measurements from the posture
// detector. Absent entirely when posture detection is inactive.
type PostureMetrics struct {
	ShoulderImbalance float64 `json:"shoulderImbalance"`
	ArmDrop           float64 `json:"armDrop"`
}

// SpeechMetrics is the fully-populated result of speech analysis. Every field
// always holds a defined value; upstream failures produce defaults, never a
// partial record.
type SpeechMetrics struct {
	SlurredSpeech            bool    `json:"slurredSpeech"`
	SpeechCoherence          float64 `json:"speechCoherence"`
	PossibleStrokeIndicators bool    `json:"possibleStrokeIndicators"`
	Confidence               float64 `json:"confidence"`
	Clarity                  float64 `json:"clarity"`
	Fluency                  float64 `json:"fluency"`
	Analysis                 string  `json:"analysis"`
}

// Level is the three-step risk classification.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Assessment is one immutable fusion result. A fresh value is produced on
// every metrics update; existing assessments are never mutated.
type Assessment struct {
	Score     float64   `json:"score"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}
