package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/poiesic/gazette/core"
)

// Fetcher retrieves and parses the article at a URL.
// Implementations must be thread-safe for concurrent use.
type Fetcher interface {
	// Fetch downloads url and returns the parsed article.
	// Errors wrap core.ErrFetch.
	Fetch(ctx context.Context, url string) (*core.Article, error)
}

// BatchResult aggregates the outcome of ingesting many articles.
type BatchResult struct {
	// Success counts articles that are persisted, including skipped ones.
	Success int

	// Failed counts articles that were not persisted.
	Failed int

	// Skipped counts articles already stored unchanged.
	Skipped int

	// Stored is the total number of chunk records written.
	Stored int

	// Results holds one entry per input, in input order. Entries for
	// inputs never dispatched because of cancellation are nil.
	Results []*Result
}

// IngestMany ingests articles concurrently on the pipeline's worker pool.
//
// One article's failure never aborts the batch. When ctx is canceled no
// further articles are dispatched, articles already running finish, and
// ctx.Err() is returned alongside the partial result.
func (p *Pipeline) IngestMany(ctx context.Context, articles []*core.Article) (*BatchResult, error) {
	return p.run(ctx, len(articles), func(ctx context.Context, i int) *Result {
		result, err := p.Ingest(ctx, articles[i])
		if result == nil {
			result = &Result{}
		}
		if err != nil {
			result.Err = err
		}
		return result
	})
}

// IngestURLs fetches each URL through the gate and ingests the parsed
// article. Duplicate URLs are fetched once. Fetch failures count as failed
// articles.
func (p *Pipeline) IngestURLs(ctx context.Context, fetcher Fetcher, urls []string) (*BatchResult, error) {
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}
	unique := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	return p.run(ctx, len(unique), func(ctx context.Context, i int) *Result {
		url := unique[i]
		var article *core.Article
		err := p.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			article, err = fetcher.Fetch(ctx, url)
			return err
		})
		if err != nil {
			if !errors.Is(err, core.ErrFetch) {
				err = fmt.Errorf("%w: %w", core.ErrFetch, err)
			}
			p.logger.Warn("failed to fetch article", "url", url, "err", err)
			return &Result{
				URL:    url,
				Failed: 1,
				Errors: []core.RecordError{{ID: url, Err: err}},
				Err:    err,
			}
		}

		result, err := p.Ingest(ctx, article)
		if result == nil {
			result = &Result{URL: url}
		}
		if err != nil {
			result.Err = err
		}
		return result
	})
}

// run dispatches n tasks on the pool and aggregates their results.
func (p *Pipeline) run(ctx context.Context, n int, task func(ctx context.Context, i int) *Result) (*BatchResult, error) {
	batch := &BatchResult{Results: make([]*Result, n)}
	if n == 0 {
		return batch, nil
	}

	// Dispatched tasks run to completion even if ctx is canceled.
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("ingestion task panicked: %v", r)
					p.logger.Error("ingestion task panicked", "index", i, "err", err)
					batch.Results[i] = &Result{Failed: 1, Err: err}
				}
			}()
			// Submit may have blocked on a full pool while ctx was canceled.
			if ctx.Err() != nil {
				return
			}
			batch.Results[i] = task(taskCtx, i)
		})
		if err != nil {
			wg.Done()
			batch.Results[i] = &Result{Failed: 1, Err: err}
		}
	}
	wg.Wait()

	for _, r := range batch.Results {
		switch {
		case r == nil:
		case r.Skipped:
			batch.Success++
			batch.Skipped++
		case r.OK():
			batch.Success++
			batch.Stored += r.Stored
		default:
			batch.Failed++
			batch.Stored += r.Stored
		}
	}

	p.logger.Info("batch ingestion complete",
		"success", batch.Success, "failed", batch.Failed, "skipped", batch.Skipped, "chunks", batch.Stored)
	return batch, ctx.Err()
}
