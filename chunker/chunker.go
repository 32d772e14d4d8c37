package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxTokens is the span size used when none is configured.
	DefaultMaxTokens = 200
	// DefaultOverlap is the overlap used when none is configured.
	DefaultOverlap = 20
)

// Split divides text into spans of at most maxTokens tokens. Each span after
// the first starts overlap tokens before the end of the previous one. Text
// that fits in a single span is returned unchanged as the only element.
func Split(text string, maxTokens, overlap int) ([]string, error) {
	if err := validate(maxTokens, overlap); err != nil {
		return nil, err
	}

	starts := tokenStarts(text)
	n := len(starts)
	if n <= maxTokens {
		return []string{text}, nil
	}

	offset := func(i int) int {
		if i >= n {
			return len(text)
		}
		return starts[i]
	}

	spans := make([]string, 0, n/(maxTokens-overlap)+1)
	start := 0
	for {
		end := min(start+maxTokens, n)
		spans = append(spans, text[offset(start):offset(end)])
		if end == n {
			return spans, nil
		}
		start = end - overlap
	}
}

// Reassemble joins spans produced by Split with the same overlap back into
// the original text.
func Reassemble(spans []string, overlap int) string {
	if len(spans) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(spans[0])
	for _, span := range spans[1:] {
		starts := tokenStarts(span)
		cut := len(span)
		if overlap < len(starts) {
			cut = starts[overlap]
		}
		sb.WriteString(span[cut:])
	}
	return sb.String()
}

func validate(maxTokens, overlap int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidChunkConfig, maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, maxTokens)
	}
	return nil
}

// Chunker holds a fixed span size and overlap.
type Chunker struct {
	maxTokens int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxTokens sets the maximum number of tokens per span.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) error {
		c.maxTokens = n
		return nil
	}
}

// WithOverlap sets the number of tokens shared by consecutive spans.
func WithOverlap(n int) Option {
	return func(c *Chunker) error {
		c.overlap = n
		return nil
	}
}

// New creates a Chunker. Defaults are DefaultMaxTokens and DefaultOverlap.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxTokens: DefaultMaxTokens,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := validate(c.maxTokens, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// Split splits text with the chunker's settings.
func (c *Chunker) Split(text string) []string {
	spans, _ := Split(text, c.maxTokens, c.overlap)
	return spans
}

// Reassemble is the inverse of Split.
func (c *Chunker) Reassemble(spans []string) string {
	return Reassemble(spans, c.overlap)
}

// MaxTokens returns the configured span size.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }
