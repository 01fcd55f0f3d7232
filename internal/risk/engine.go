package risk

import "time"

// Fusion weights and thresholds are a fixed screening policy, kept verbatim
// from the original calibration. Do not re-derive.
const (
	weightShoulder = 0.3
	weightSlurred  = 0.3
	weightClarity  = 0.15
	weightFluency  = 0.15

	thresholdMedium = 0.3
	thresholdHigh   = 0.7
)

// Compute fuses the three modality readings into a single assessment.
// It is total: nil posture or speech contribute zero and no input can make
// it fail. The score is clamped to [0,1].
func Compute(facial FacialMetrics, posture *PostureMetrics, speech *SpeechMetrics) Assessment {
	score := facial.OverallAsymmetry

	if posture != nil {
		score += posture.ShoulderImbalance * weightShoulder
	}
	if speech != nil {
		if speech.SlurredSpeech {
			score += weightSlurred
		}
		score += (100 - speech.Clarity) / 100 * weightClarity
		score += (100 - speech.Fluency) / 100 * weightFluency
	}

	score = clamp(score, 0, 1)

	return Assessment{
		Score:     score,
		Level:     Classify(score),
		Timestamp: time.Now().UTC(),
	}
}

// Classify maps a fusion score to a level. Thresholds are exclusive on the
// lower side: exactly 0.7 is medium, exactly 0.3 is low.
func Classify(score float64) Level {
	switch {
	case score > thresholdHigh:
		return LevelHigh
	case score > thresholdMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
