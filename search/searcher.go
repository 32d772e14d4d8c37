package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
)

// Searcher runs semantic queries against a collection.
type Searcher struct {
	collection storage.Collection
	embedder   ai.Embedder
	logger     *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher. embedder must be the embedding
// function the collection was written with.
func NewSearcher(collection storage.Collection, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if collection == nil {
		return nil, ErrCollectionRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		collection: collection,
		embedder:   embedder,
		logger:     slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")

	return s, nil
}

type searchConfig struct {
	dedupeBySource bool
	monitor        SearchMonitor
}

// SearchOption configures a single search.
type SearchOption func(*searchConfig)

// WithDedupeBySource keeps only the closest chunk of each article.
func WithDedupeBySource(dedupe bool) SearchOption {
	return func(c *searchConfig) {
		c.dedupeBySource = dedupe
	}
}

// WithMonitor attaches a monitor that observes each stage of the search.
func WithMonitor(monitor SearchMonitor) SearchOption {
	return func(c *searchConfig) {
		if monitor != nil {
			c.monitor = monitor
		}
	}
}

// Search returns up to n chunks nearest to query that match filter, ordered
// by ascending distance.
func (s *Searcher) Search(ctx context.Context, query string, n int, filter core.Filter, opts ...SearchOption) ([]*core.SearchResult, error) {
	cfg := searchConfig{monitor: &noopMonitor{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: n must be at least 1, got %d", storage.ErrInvalidQuery, n)
	}
	monitor := cfg.monitor
	monitor.Start(query)

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	monitor.AfterEmbedding(vector)

	if !cfg.dedupeBySource {
		results, err := s.collection.QueryVector(ctx, vector, n, filter)
		if err != nil {
			s.logger.Error("error querying collection", "err", err)
			return nil, err
		}
		monitor.AfterQuery(n, results)
		monitor.Finish(results)
		return results, nil
	}

	k := n
	for {
		results, err := s.collection.QueryVector(ctx, vector, k, filter)
		if err != nil {
			s.logger.Error("error querying collection", "k", k, "err", err)
			return nil, err
		}
		monitor.AfterQuery(k, results)

		unique := dedupeBySource(results, n, monitor)
		if len(unique) == n || len(results) < k {
			s.logger.Debug("search complete", "query", query, "k", k, "results", len(unique))
			monitor.Finish(unique)
			return unique, nil
		}
		k *= 2
	}
}

// dedupeBySource keeps the first, and so closest, result of each parent
// article, stopping at n results.
func dedupeBySource(results []*core.SearchResult, n int, monitor SearchMonitor) []*core.SearchResult {
	seen := make(map[string]struct{}, len(results))
	unique := make([]*core.SearchResult, 0, n)
	for _, r := range results {
		if _, ok := seen[r.Record.ParentURL]; ok {
			monitor.DuplicateSource(r)
			continue
		}
		seen[r.Record.ParentURL] = struct{}{}
		unique = append(unique, r)
		if len(unique) == n {
			break
		}
	}
	return unique
}
