package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/gazette/ai"
)

// MockEnricher is a test double for ai.Enricher. It is safe for concurrent use.
type MockEnricher struct {
	// EnrichFunc is called by Enrich if set.
	// If nil, uses default behavior.
	EnrichFunc func(ctx context.Context, title, text string) (*ai.Enrichment, error)

	callCount atomic.Int64
}

var _ ai.Enricher = (*MockEnricher)(nil)

// NewMockEnricher creates a mock enricher with default behavior.
func NewMockEnricher() *MockEnricher {
	return &MockEnricher{}
}

// Enrich returns a summary made of the title and the first sentence of text,
// and the first three distinct words of the title as topics.
func (m *MockEnricher) Enrich(ctx context.Context, title, text string) (*ai.Enrichment, error) {
	m.callCount.Add(1)

	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, title, text)
	}

	summary := title
	first, _, _ := strings.Cut(text, ".")
	if first = strings.TrimSpace(first); first != "" {
		summary = title + ": " + first
	}

	var words []string
	for _, w := range strings.Fields(title) {
		words = append(words, strings.Trim(w, ".,!?;:\"'()[]{}"))
	}
	return &ai.Enrichment{
		Summary: summary,
		Topics:  ai.CleanTopics(words, 3),
	}, nil
}

// CallCount returns the number of times Enrich was called.
func (m *MockEnricher) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom function.
func (m *MockEnricher) Reset() {
	m.callCount.Store(0)
	m.EnrichFunc = nil
}
