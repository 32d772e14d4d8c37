package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
)

// BatchProcessor embeds batches of chunks and writes the new vectors back.
type BatchProcessor struct {
	collection     storage.Collection
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
	normalize      bool
}

// NewBatchProcessor creates a processor. When normalize is set vectors are
// scaled to unit length before they are stored.
func NewBatchProcessor(collection storage.Collection, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration, normalize bool) *BatchProcessor {
	return &BatchProcessor{
		collection:     collection,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		normalize:      normalize,
	}
}

// Process embeds records and stores them. Records the store rejects are
// returned; an error means the whole batch failed.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.ChunkRecord) ([]core.RecordError, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Text
	}

	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(embeddings) != len(records) {
			err = fmt.Errorf("embedding count mismatch: expected %d, got %d", len(records), len(embeddings))
		}
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: after %d attempts: %w", core.ErrEmbedding, bp.maxRetries, err)
	}

	if bp.normalize {
		for i := range embeddings {
			embeddings[i] = ai.NormalizeVector(embeddings[i])
		}
	}

	result, err := bp.collection.UpsertEmbedded(ctx, records, embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to update records: %w", err)
	}
	return result.Failed, nil
}
