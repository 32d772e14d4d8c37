package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/chunker"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
	"github.com/poiesic/gazette/throttle"
)

// Pipeline orchestrates validation, enrichment, chunking and persistence of
// articles. It is safe for concurrent use.
type Pipeline struct {
	collection storage.Collection
	chunker    *chunker.Chunker
	enricher   ai.Enricher
	gate       *throttle.Gate
	pool       *ants.Pool
	enrichment *enrichmentStage
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size used by IngestMany and IngestURLs.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunker sets the chunker. Default is chunker.New() with its defaults.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithEnricher enables summarization. Without it articles are stored as given.
func WithEnricher(enricher ai.Enricher) Option {
	return func(p *Pipeline) error {
		p.enricher = enricher
		return nil
	}
}

// WithGate sets the gate that remote calls are dispatched through.
// Default is throttle.New() with its defaults.
func WithGate(gate *throttle.Gate) Option {
	return func(p *Pipeline) error {
		if gate != nil {
			p.gate = gate
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline writing to collection.
func NewPipeline(collection storage.Collection, opts ...Option) (*Pipeline, error) {
	if collection == nil {
		return nil, ErrCollectionRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		collection: collection,
		pool:       pool,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	if p.chunker == nil {
		if p.chunker, err = chunker.New(); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.gate == nil {
		if p.gate, err = throttle.New(throttle.WithLogger(p.logger)); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	p.enrichment = newEnrichmentStage(p.enricher, p.gate, p.logger)

	return p, nil
}

// Result reports the outcome of ingesting one article.
type Result struct {
	// URL of the article.
	URL string

	// Stored is the number of chunk records written.
	Stored int

	// Failed is the number of records (or articles, for validation and
	// fetch failures) that could not be persisted.
	Failed int

	// Skipped is true when an identical family was already stored.
	Skipped bool

	// Errors holds the reason for each failure.
	Errors []core.RecordError

	// Err is the error that aborted the article, set only in batch results.
	Err error
}

// OK reports whether the article is fully persisted, either now or
// previously. A family with failed chunks is not OK even if some were stored.
func (r *Result) OK() bool {
	return r.Err == nil && r.Failed == 0 && (r.Stored > 0 || r.Skipped)
}

// Ingest validates, enriches, chunks and stores one article as a single
// chunk family. The caller's article is never modified.
//
// Validation and per-chunk failures are reported in the result, not as an
// error. Chunks that fail do not keep their siblings from being stored. The
// returned error is non-nil only when the article was aborted as a whole:
// store unavailability, rate limiting, or cancellation.
func (p *Pipeline) Ingest(ctx context.Context, article *core.Article) (*Result, error) {
	if err := core.ValidateArticle(article); err != nil {
		result := &Result{Failed: 1}
		id := "<nil>"
		if article != nil {
			result.URL = article.URL
			id = article.URL
		}
		result.Errors = []core.RecordError{{ID: id, Err: err}}
		p.logger.Warn("rejected article", "url", result.URL, "err", err)
		return result, nil
	}

	article = article.Clone()
	result := &Result{URL: article.URL}
	spans := p.chunker.Split(core.DocumentText(article.Title, article.Content))

	existing, err := p.collection.Family(ctx, article.URL)
	if err != nil {
		return result, fmt.Errorf("reading stored chunks of %s: %w", article.URL, err)
	}

	if sameContent(existing, article, len(spans)) {
		stored := existing[0]
		if !article.Enriched() {
			article.Summary = stored.Summary
			article.Topics = slices.Clone(stored.Topics)
		}
		if err := p.enrichment.enrich(ctx, article); err != nil {
			return result, err
		}
		if sameEnrichment(stored, article) {
			p.logger.Debug("article unchanged, skipping", "url", article.URL)
			result.Skipped = true
			return result, nil
		}
		article.ScrapedAt = stored.ScrapedAt
		article.WordCount = stored.WordCount
		p.logger.Debug("updating enrichment of stored article", "url", article.URL)
	} else if err := p.enrichment.enrich(ctx, article); err != nil {
		return result, err
	}

	records := core.NewChunkRecords(article, spans)
	written, err := p.collection.ReplaceFamily(ctx, article.URL, records...)
	if written != nil {
		result.Stored = written.Written
		result.Failed = len(written.Failed)
		result.Errors = written.Failed
	}
	if err != nil {
		return result, fmt.Errorf("storing %s: %w", article.URL, err)
	}

	switch {
	case result.Failed > 0 && result.Stored == 0:
		p.logger.Warn("article not stored", "url", article.URL, "failed", result.Failed)
	case result.Failed > 0:
		p.logger.Warn("article partially stored", "url", article.URL, "chunks", result.Stored, "failed", result.Failed)
	default:
		p.logger.Info("stored article", "url", article.URL, "chunks", result.Stored)
	}
	return result, nil
}

// sameContent reports whether existing is a complete family of chunks
// carrying the same content as article.
func sameContent(existing []*core.ChunkRecord, article *core.Article, chunks int) bool {
	if len(existing) != chunks {
		return false
	}
	fingerprint := core.Fingerprint(article)
	for i, r := range existing {
		if r.ChunkIndex != i || r.ChunkCount != chunks || r.Fingerprint != fingerprint {
			return false
		}
	}
	return true
}

func sameEnrichment(stored *core.ChunkRecord, article *core.Article) bool {
	return stored.Summary == article.Summary && slices.Equal(stored.Topics, article.Topics)
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
