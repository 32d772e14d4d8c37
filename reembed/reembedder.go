// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each batch embedding
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Model names the embedding model. A checkpoint left by a run with a
	// different model is discarded.
	Model string

	// CheckpointName keys the progress checkpoint.
	CheckpointName string

	// Normalize scales vectors to unit length before they are stored.
	Normalize bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		CheckpointName: "reembed",
	}
}

// Summary reports the outcome of a run.
type Summary struct {
	Total     int
	Processed int
	Failed    []core.RecordError
	Resumed   bool
	Elapsed   time.Duration
}

// Reembedder recomputes the vectors of every chunk in a collection.
type Reembedder struct {
	collection  storage.Collection
	checkpoints storage.CheckpointStore
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *ChunkIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder. checkpoints may be nil, in which
// case runs always start from the beginning.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(collection storage.Collection, embedder ai.Embedder, checkpoints storage.CheckpointStore, config *Config, progress io.Writer) (*Reembedder, error) {
	if collection == nil {
		return nil, ErrCollectionRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckpointName == "" {
		config.CheckpointName = "reembed"
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		collection:  collection,
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   NewBatchProcessor(collection, embedder, config.MaxRetries, config.RetryDelay, config.Normalize),
		iterator:    NewChunkIterator(collection, config.BatchSize),
		logger:      slog.Default().With("component", "reembed", "collection", collection.Name()),
	}, nil
}

// Run reembeds every chunk in the collection. Records the store rejects
// are reported in the summary; a batch that cannot be embedded stops the
// run, leaving a checkpoint to resume from.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	total, err := r.collection.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	summary := &Summary{Total: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found in collection (0 chunks)\n")
		return summary, nil
	}

	checkpoint, err := r.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if checkpoint.LastID != "" {
		summary.Resumed = true
		summary.Processed = checkpoint.Processed
		fmt.Fprintf(r.progress, "Resuming reembedding after %d of %d chunks\n", checkpoint.Processed, total)
	} else {
		fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n", total, r.iterator.batchSize)
	}

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start(checkpoint.Processed)

	err = r.iterator.ForEach(ctx, checkpoint.LastID, func(records []*core.ChunkRecord) error {
		failed, err := r.processor.Process(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		summary.Processed += len(records)
		summary.Failed = append(summary.Failed, failed...)
		tracker.Add(len(records), len(failed))

		checkpoint.LastID = records[len(records)-1].ID
		checkpoint.Processed = summary.Processed
		return r.saveCheckpoint(ctx, checkpoint)
	})
	summary.Elapsed = tracker.Elapsed()
	if err != nil {
		fmt.Fprintln(r.progress)
		r.logger.Error("reembedding stopped", "processed", summary.Processed, "err", err)
		return summary, err
	}

	tracker.Finish()
	if r.checkpoints != nil {
		if err := r.checkpoints.DeleteCheckpoint(ctx, r.config.CheckpointName); err != nil {
			return summary, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}

	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%d failed)\n",
		summary.Processed, summary.Elapsed.Round(time.Second), len(summary.Failed))
	return summary, nil
}

func (r *Reembedder) loadCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	fresh := &storage.Checkpoint{Name: r.config.CheckpointName, Model: r.config.Model}
	if r.checkpoints == nil {
		return fresh, nil
	}
	checkpoint, err := r.checkpoints.LoadCheckpoint(ctx, r.config.CheckpointName)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		return fresh, nil
	}
	if checkpoint.Model != r.config.Model {
		r.logger.Warn("discarding checkpoint from a different model", "checkpoint", checkpoint.Model, "model", r.config.Model)
		return fresh, nil
	}
	return checkpoint, nil
}

func (r *Reembedder) saveCheckpoint(ctx context.Context, checkpoint *storage.Checkpoint) error {
	if r.checkpoints == nil {
		return nil
	}
	checkpoint.UpdatedAt = time.Now().UTC()
	if err := r.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
