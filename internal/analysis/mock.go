package analysis

import (
	"context"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return `{"slurredSpeech": false, "speechCoherence": 0.9, "possibleStrokeIndicators": false, ` +
		`"confidence": 85, "clarity": 92, "fluency": 90, "analysis": "Speech appears clear and coherent."}`, nil
}
