package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/throttle"
)

// enrichmentStage attaches a summary and topics to articles.
type enrichmentStage struct {
	enricher ai.Enricher
	gate     *throttle.Gate
	logger   *slog.Logger
}

func newEnrichmentStage(enricher ai.Enricher, gate *throttle.Gate, logger *slog.Logger) *enrichmentStage {
	return &enrichmentStage{
		enricher: enricher,
		gate:     gate,
		logger:   logger.With("stage", "enrichment"),
	}
}

// enrich fills in article.Summary and article.Topics. Failures and timeouts
// leave the article unenriched and are only logged. Rate limiting and
// cancellation before dispatch are returned.
func (s *enrichmentStage) enrich(ctx context.Context, article *core.Article) error {
	if s.enricher == nil || article.Enriched() {
		return nil
	}

	var result *ai.Enrichment
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.enricher.Enrich(ctx, article.Title, article.Content)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, core.ErrRateLimited):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("enrichment canceled, storing without summary", "url", article.URL, "err", err)
		return nil
	case errors.Is(err, throttle.ErrTimeout):
		s.logger.Warn("enrichment timed out, storing without summary", "url", article.URL)
		return nil
	default:
		s.logger.Warn("enrichment failed, storing without summary", "url", article.URL, "err", err)
		return nil
	}

	if result == nil {
		return nil
	}
	article.Summary = result.Summary
	article.Topics = slices.Clone(result.Topics)
	s.logger.Debug("enriched article", "url", article.URL, "topics", len(article.Topics))
	return nil
}
