package analysis

import "context"

// Request describes a text-generation prompt.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Generator defines a pluggable text-generation backend. It returns the
// complete raw response text; the adapter owns all interpretation of it.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
