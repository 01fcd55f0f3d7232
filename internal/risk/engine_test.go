package risk

import (
	"math"
	"testing"
)

func TestComputeFacialOnly(t *testing.T) {
	a := Compute(FacialMetrics{OverallAsymmetry: 0.8}, nil, nil)
	if a.Score != 0.8 {
		t.Fatalf("expected score 0.8, got %v", a.Score)
	}
	if a.Level != LevelHigh {
		t.Fatalf("expected high, got %s", a.Level)
	}
	if a.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestComputeAllModalities(t *testing.T) {
	facial := FacialMetrics{OverallAsymmetry: 0.1}
	posture := &PostureMetrics{ShoulderImbalance: 0.2}
	speech := &SpeechMetrics{SlurredSpeech: false, Clarity: 90, Fluency: 90}

	a := Compute(facial, posture, speech)
	want := 0.1 + 0.2*0.3 + (100-90.0)/100*0.15 + (100-90.0)/100*0.15
	if math.Abs(a.Score-want) > 1e-9 {
		t.Fatalf("expected score %v, got %v", want, a.Score)
	}
	if a.Level != LevelLow {
		t.Fatalf("expected low, got %s", a.Level)
	}
}

func TestComputeClampsScore(t *testing.T) {
	facial := FacialMetrics{OverallAsymmetry: 1.0}
	posture := &PostureMetrics{ShoulderImbalance: 1.0}
	speech := &SpeechMetrics{SlurredSpeech: true, Clarity: 0, Fluency: 0}

	a := Compute(facial, posture, speech)
	if a.Score != 1.0 {
		t.Fatalf("expected clamped score 1.0, got %v", a.Score)
	}
	if a.Level != LevelHigh {
		t.Fatalf("expected high, got %s", a.Level)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{0.3, LevelLow},
		{0.30001, LevelMedium},
		{0.7, LevelMedium},
		{0.70001, LevelHigh},
		{1, LevelHigh},
	}
	for _, tc := range cases {
		if got := Classify(tc.score); got != tc.want {
			t.Fatalf("score %v: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestComputeMissingSpeechContributesZero(t *testing.T) {
	// Absent speech must behave like perfect clarity/fluency, not like zero.
	a := Compute(FacialMetrics{OverallAsymmetry: 0.2}, nil, nil)
	if a.Score != 0.2 {
		t.Fatalf("expected 0.2, got %v", a.Score)
	}
	if a.Level != LevelLow {
		t.Fatalf("expected low, got %s", a.Level)
	}
}
