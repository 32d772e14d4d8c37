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

// Package gazette stores news articles as searchable chunk records.
//
// A Vault ties the pieces together: it opens the BadgerDB store, builds the
// embedder and enricher from configuration, and exposes article-level
// operations on one named collection. The collection, ingestion pipeline
// and searcher are created on first use and shared by every call.
package gazette

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/ai/hashing"
	"github.com/poiesic/gazette/ai/openai"
	"github.com/poiesic/gazette/chunker"
	"github.com/poiesic/gazette/config"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/fetch"
	"github.com/poiesic/gazette/ingestion"
	"github.com/poiesic/gazette/reembed"
	"github.com/poiesic/gazette/search"
	"github.com/poiesic/gazette/storage"
	"github.com/poiesic/gazette/storage/badger"
	"github.com/poiesic/gazette/throttle"
)

var (
	// ErrClosed is returned by every operation on a closed Vault.
	ErrClosed = errors.New("vault is closed")

	// ErrIncompleteArticle is returned when some chunks of an article are
	// missing from the store.
	ErrIncompleteArticle = errors.New("article is missing chunks")
)

// Vault is an open article store.
type Vault struct {
	settings      *config.Settings
	backend       *badger.Backend
	checkpoints   *badger.CheckpointRepository
	provider      ai.AIProvider
	embedder      ai.Embedder
	queryEmbedder *ai.CachingEmbedder
	enricher      ai.Enricher
	fetcher       ingestion.Fetcher
	gate          *throttle.Gate
	chunker       *chunker.Chunker
	baseLogger    *slog.Logger
	logger        *slog.Logger

	mu         sync.Mutex
	closed     bool
	collection *badger.Collection
	pipeline   *ingestion.Pipeline
	searcher   *search.Searcher
}

// Option configures a Vault.
type Option func(*vaultOptions)

type vaultOptions struct {
	inMemory bool
	embedder ai.Embedder
	enricher ai.Enricher
	fetcher  ingestion.Fetcher
	logger   *slog.Logger
}

// InMemory keeps the store in memory instead of under Settings.DBPath.
func InMemory() Option {
	return func(o *vaultOptions) {
		o.inMemory = true
	}
}

// WithEmbedder replaces the embedder configured in Settings.AI.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(o *vaultOptions) {
		o.embedder = embedder
	}
}

// WithEnricher replaces the enricher configured in Settings.AI. It is used
// even when Settings.AI.Enrich is false.
func WithEnricher(enricher ai.Enricher) Option {
	return func(o *vaultOptions) {
		o.enricher = enricher
	}
}

// WithFetcher replaces the HTTP fetcher used by ScrapeURLs.
func WithFetcher(fetcher ingestion.Fetcher) Option {
	return func(o *vaultOptions) {
		o.fetcher = fetcher
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *vaultOptions) {
		o.logger = logger
	}
}

// Open opens the store described by settings. A nil settings uses
// config.Default().
func Open(settings *config.Settings, opts ...Option) (*Vault, error) {
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	options := &vaultOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &Vault{
		settings:   settings,
		embedder:   options.embedder,
		enricher:   options.enricher,
		fetcher:    options.fetcher,
		baseLogger: logger,
		logger:     logger.With("component", "vault", "collection", settings.Collection),
	}
	if err := v.buildAI(); err != nil {
		return nil, err
	}

	var err error
	if v.queryEmbedder, err = ai.NewCachingEmbedder(v.embedder, settings.AI.QueryCacheSize); err != nil {
		v.closeProvider()
		return nil, err
	}
	v.chunker, err = chunker.New(
		chunker.WithMaxTokens(settings.ChunkMaxTokens),
		chunker.WithOverlap(settings.ChunkOverlap),
	)
	if err == nil {
		v.gate, err = throttle.New(
			throttle.WithConcurrency(settings.MaxConcurrentRequests),
			throttle.WithDelay(settings.RateLimitDelay),
			throttle.WithTimeout(settings.RequestTimeout),
			throttle.WithLogger(logger),
		)
	}
	if err == nil && v.fetcher == nil {
		fetchOpts := []fetch.Option{
			fetch.WithTimeout(settings.RequestTimeout),
			fetch.WithLogger(logger),
		}
		if settings.UserAgent != "" {
			fetchOpts = append(fetchOpts, fetch.WithUserAgent(settings.UserAgent))
		}
		v.fetcher, err = fetch.NewHTTPFetcher(fetchOpts...)
	}
	if err != nil {
		v.queryEmbedder.Close()
		v.closeProvider()
		return nil, err
	}

	v.backend, err = badger.OpenBackend(settings.DBPath, options.inMemory)
	if err != nil {
		v.queryEmbedder.Close()
		v.closeProvider()
		return nil, err
	}
	v.checkpoints = badger.NewCheckpointRepository(v.backend)
	return v, nil
}

// buildAI fills in the embedder and enricher not supplied as options.
func (v *Vault) buildAI() error {
	s := v.settings
	wantEnricher := v.enricher == nil && s.AI.Enrich
	if v.embedder != nil && !wantEnricher {
		return nil
	}

	if v.embedder == nil && s.AI.Embedder == config.EmbedderHashing {
		v.embedder = hashing.New(hashing.DefaultDim)
	}
	switch {
	case v.embedder == nil:
		provider, err := openai.NewProvider(s.AIConfig())
		if err != nil {
			return fmt.Errorf("creating AI provider: %w", err)
		}
		v.provider = provider
		v.embedder = provider.Embedder()
		if wantEnricher {
			v.enricher = provider.Enricher()
		}
	case wantEnricher:
		enricher, err := openai.NewEnricher(s.AIConfig())
		if err != nil {
			return fmt.Errorf("creating enricher: %w", err)
		}
		v.enricher = enricher
	}
	return nil
}

func (v *Vault) closeProvider() {
	if v.provider == nil {
		return
	}
	if err := v.provider.Close(); err != nil {
		v.logger.Error("error closing AI provider", "err", err)
	}
}

// open returns the collection handle, creating the collection, pipeline
// and searcher on first use.
func (v *Vault) open(ctx context.Context) (*badger.Collection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	if v.collection != nil {
		return v.collection, nil
	}

	metric, err := storage.ParseMetric(v.settings.Metric)
	if err != nil {
		return nil, err
	}
	coll, err := v.backend.Collection(ctx, v.settings.Collection, v.embedder,
		badger.WithMetric(metric),
		badger.WithDescription(v.settings.Description),
		badger.WithLogger(v.baseLogger),
	)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithChunker(v.chunker),
		ingestion.WithGate(v.gate),
		ingestion.WithLogger(v.baseLogger),
	}
	if v.enricher != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithEnricher(v.enricher))
	}
	pipeline, err := ingestion.NewPipeline(coll, pipelineOpts...)
	if err != nil {
		return nil, err
	}
	searcher, err := search.NewSearcher(coll, v.queryEmbedder, search.WithLogger(v.baseLogger))
	if err != nil {
		pipeline.Release()
		return nil, err
	}

	v.logger.Debug("collection ready")
	v.collection, v.pipeline, v.searcher = coll, pipeline, searcher
	return coll, nil
}

// Settings returns the settings the vault was opened with.
func (v *Vault) Settings() *config.Settings {
	return v.settings
}

// Collection returns the underlying collection, creating it if needed.
func (v *Vault) Collection(ctx context.Context) (storage.Collection, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// StoreArticle ingests one article. It reports true when the article's
// chunks are persisted, either now or by an earlier identical ingest.
// Rejected articles, and articles with chunks that could not be stored,
// return false and the reasons joined into one error.
func (v *Vault) StoreArticle(ctx context.Context, article *core.Article) (bool, error) {
	if _, err := v.open(ctx); err != nil {
		return false, err
	}
	result, err := v.pipeline.Ingest(ctx, article)
	if err != nil {
		return false, err
	}
	if result.OK() {
		return true, nil
	}
	errs := make([]error, len(result.Errors))
	for i, e := range result.Errors {
		errs[i] = e
	}
	return false, errors.Join(errs...)
}

// StoreArticles ingests articles concurrently. Failures are counted in the
// result; the error is non-nil only when the batch itself was cut short.
func (v *Vault) StoreArticles(ctx context.Context, articles []*core.Article) (*ingestion.BatchResult, error) {
	if _, err := v.open(ctx); err != nil {
		return nil, err
	}
	return v.pipeline.IngestMany(ctx, articles)
}

// ScrapeURLs fetches and ingests every URL.
func (v *Vault) ScrapeURLs(ctx context.Context, urls []string) (*ingestion.BatchResult, error) {
	if _, err := v.open(ctx); err != nil {
		return nil, err
	}
	return v.pipeline.IngestURLs(ctx, v.fetcher, urls)
}

// recordID maps an article URL to the ID of its first chunk. Chunk IDs are
// returned unchanged.
func recordID(idOrURL string) string {
	if core.IsValidURL(idOrURL) {
		return core.ChunkID(idOrURL, 0)
	}
	return idOrURL
}

// GetArticle returns the record with the given chunk ID, or the first chunk
// of the article when given its URL. Missing records return
// storage.ErrNotFound.
func (v *Vault) GetArticle(ctx context.Context, idOrURL string) (*core.ChunkRecord, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Get(ctx, recordID(idOrURL))
}

// ArticleExists reports whether GetArticle would find a record.
func (v *Vault) ArticleExists(ctx context.Context, idOrURL string) (bool, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return false, err
	}
	return coll.Exists(ctx, recordID(idOrURL))
}

// GetAllArticles returns up to limit records in insertion order. limit <= 0
// returns everything.
func (v *Vault) GetAllArticles(ctx context.Context, limit int) ([]*core.ChunkRecord, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	return coll.List(ctx, limit)
}

// GetArticleText rebuilds the full content of the article at url from its
// stored chunks.
func (v *Vault) GetArticleText(ctx context.Context, url string) (*core.Article, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	family, err := coll.Family(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(family) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, url)
	}
	spans := make([]string, len(family))
	for i, r := range family {
		if r.ChunkIndex != i || r.ChunkCount != len(family) {
			return nil, fmt.Errorf("%w: %s has %d of %d chunks", ErrIncompleteArticle, url, len(family), r.ChunkCount)
		}
		spans[i] = r.Text
	}
	article := family[0].Article()
	text := v.chunker.Reassemble(spans)
	article.Content = strings.TrimPrefix(text, core.DocumentText(article.Title, ""))
	return article, nil
}

// Count returns the number of stored chunk records.
func (v *Vault) Count(ctx context.Context) (int, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return 0, err
	}
	return coll.Count(ctx)
}

// SearchArticles returns up to n records closest to query.
func (v *Vault) SearchArticles(ctx context.Context, query string, n int, filter core.Filter, opts ...search.SearchOption) ([]*core.SearchResult, error) {
	if _, err := v.open(ctx); err != nil {
		return nil, err
	}
	return v.searcher.Search(ctx, query, n, filter, opts...)
}

// DeleteArticle removes the whole chunk family of an article, given its URL
// or the ID of any of its chunks. It reports whether anything was removed.
func (v *Vault) DeleteArticle(ctx context.Context, idOrURL string) (bool, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return false, err
	}
	url := idOrURL
	if !core.IsValidURL(idOrURL) {
		record, err := coll.Get(ctx, idOrURL)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		url = record.ParentURL
	}
	n, err := coll.DeleteFamily(ctx, url)
	if err != nil {
		return false, err
	}
	v.logger.Info("deleted article", "url", url, "chunks", n)
	return n > 0, nil
}

// ResetCollection removes every record in the collection.
func (v *Vault) ResetCollection(ctx context.Context) (bool, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return false, err
	}
	if err := coll.Reset(ctx); err != nil {
		return false, err
	}
	if err := v.checkpoints.DeleteCheckpoint(ctx, reembed.DefaultConfig().CheckpointName); err != nil {
		v.logger.Warn("could not clear reembed checkpoint", "err", err)
	}
	return true, nil
}

// Reembed recomputes every stored vector with the configured embedder,
// resuming an interrupted run of the same model. Progress is written to
// progress when it is not nil.
func (v *Vault) Reembed(ctx context.Context, config *reembed.Config, progress io.Writer) (*reembed.Summary, error) {
	coll, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = reembed.DefaultConfig()
	}
	if config.Model == "" {
		config.Model = v.settings.AI.EmbeddingModel
	}
	r, err := reembed.NewReembedder(coll, v.embedder, v.checkpoints, config, progress)
	if err != nil {
		return nil, err
	}
	summary, err := r.Run(ctx)
	v.queryEmbedder.Clear()
	return summary, err
}

// Close releases the worker pool, the AI provider and the store.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	if v.pipeline != nil {
		v.pipeline.Release()
	}
	v.queryEmbedder.Close()
	v.closeProvider()

	if err := v.backend.Close(); err != nil {
		v.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}
