// Package hashing provides an embedder that needs no model or network.
//
// Vectors are built with the hashing trick: every lowercased word and word
// bigram is hashed with xxhash into one of Dim buckets, with the sign taken
// from another hash bit. Texts that share vocabulary end up close. It is
// useful offline and in tests, not as a replacement for a trained model.
package hashing

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/poiesic/gazette/ai"
)

// DefaultDim is the default vector size.
const DefaultDim = 256

// Embedder is a feature hashing embedder.
type Embedder struct {
	dim int
}

var _ ai.Embedder = (*Embedder)(nil)

// New returns an embedder producing dim-sized unit vectors. dim < 1 selects
// DefaultDim.
func New(dim int) *Embedder {
	if dim < 1 {
		dim = DefaultDim
	}
	return &Embedder{dim: dim}
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

// EmbedTexts embeds texts in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		e.add(v, w, 1)
		if i > 0 {
			e.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return ai.NormalizeVector(v)
}

func (e *Embedder) add(v []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dim)
	if h&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
