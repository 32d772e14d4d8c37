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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/poiesic/gazette"
	"github.com/poiesic/gazette/config"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/fetch"
	"github.com/poiesic/gazette/reembed"
	"github.com/poiesic/gazette/search"
	"github.com/poiesic/gazette/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gazette",
		Usage: "Scrape news articles into a searchable vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML settings file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection name",
			},
			&cli.StringFlag{
				Name:  "embedder",
				Usage: "Embedding backend (openai, hashing)",
			},
			&cli.BoolFlag{
				Name:  "no-enrich",
				Usage: "Store articles without AI summaries",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "scrape",
				Usage:     "Fetch articles and store them",
				ArgsUsage: "[url...]",
				Action:    scrapeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read URLs from a file, one per line",
					},
					&cli.BoolFlag{
						Name:  "extract-links",
						Usage: "Treat the URLs as index pages and scrape the article links found on them",
					},
					&cli.BoolFlag{
						Name:  "same-domain",
						Usage: "Only follow extracted links on the index page's domain",
						Value: true,
					},
					&cli.IntFlag{
						Name:  "max-articles",
						Usage: "Scrape at most N articles (0 means no limit)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search stored articles",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Number of results",
						Value:   5,
					},
					&cli.BoolFlag{
						Name:  "dedupe",
						Usage: "Return at most one chunk per article",
					},
					&cli.StringFlag{
						Name:  "domain",
						Usage: "Only return articles from this source domain",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List stored chunks in insertion order",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of chunks (0 means all)",
						Value:   10,
					},
				},
			},
			{
				Name:      "get",
				Usage:     "Show a stored article",
				ArgsUsage: "<url|chunk-id>",
				Action:    getCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Print the article text rebuilt from all of its chunks",
					},
				},
			},
			{
				Name:   "count",
				Usage:  "Print the number of stored chunks",
				Action: countCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete an article and all of its chunks",
				ArgsUsage: "<url|chunk-id>",
				Action:    deleteCommand,
			},
			{
				Name:   "reset",
				Usage:  "Remove every record in the collection",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm the reset",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute every stored vector with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed batches",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "normalize",
						Usage: "Scale vectors to unit length",
					},
				},
			},
		},
	}
}

func loadSettings(c *cli.Context) (*config.Settings, error) {
	settings, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("db") {
		settings.DBPath = c.String("db")
	}
	if c.IsSet("collection") {
		settings.Collection = c.String("collection")
	}
	if c.IsSet("embedder") {
		settings.AI.Embedder = c.String("embedder")
	}
	if c.Bool("no-enrich") {
		settings.AI.Enrich = false
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func openVault(c *cli.Context) (*gazette.Vault, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	v, err := gazette.Open(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return v, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func scrapeCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	urls := c.Args().Slice()
	if path := c.String("file"); path != "" {
		fromFile, err := fetch.ReadURLFile(path)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no URLs given: pass them as arguments or with --file")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	if c.Bool("extract-links") {
		urls, err = extractLinks(ctx, v.Settings(), urls, c.Bool("same-domain"))
		if err != nil {
			return err
		}
	}
	if limit := c.Int("max-articles"); limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Scraping %d URLs\n", len(urls))
	result, err := v.ScrapeURLs(ctx, urls)
	if result != nil {
		for _, r := range result.Results {
			if r == nil || r.OK() {
				continue
			}
			reason := r.Err
			if reason == nil && len(r.Errors) > 0 {
				reason = r.Errors[0]
			}
			fmt.Fprintf(out, "FAILED %s: %v\n", r.URL, reason)
		}
		fmt.Fprintf(out, "Success: %d, Failed: %d, Skipped: %d, Chunks stored: %d\n",
			result.Success, result.Failed, result.Skipped, result.Stored)
	}
	if err != nil {
		return fmt.Errorf("scrape interrupted: %w", err)
	}
	return nil
}

func extractLinks(ctx context.Context, settings *config.Settings, pages []string, sameDomain bool) ([]string, error) {
	opts := []fetch.Option{fetch.WithTimeout(settings.RequestTimeout)}
	if settings.UserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(settings.UserAgent))
	}
	fetcher, err := fetch.NewHTTPFetcher(opts...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []string
	for _, page := range pages {
		found, err := fetcher.ExtractLinks(ctx, page, sameDomain)
		if err != nil {
			slog.Warn("could not extract links", "url", page, "err", err)
			continue
		}
		for _, link := range found {
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			links = append(links, link)
		}
	}
	return links, nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("search query is required")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	var filter core.Filter
	if domain := c.String("domain"); domain != "" {
		filter = core.Filter{core.MetaSourceDomain: domain}
	}
	results, err := v.SearchArticles(c.Context, query, c.Int("limit"), filter,
		search.WithDedupeBySource(c.Bool("dedupe")))
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Found %d results\n", len(results))
	for i, hit := range results {
		r := hit.Record
		fmt.Fprintf(out, "%d. %s [%.4f]\n   %s (chunk %d/%d)\n", i+1, r.Title, hit.Distance, r.ParentURL, r.ChunkIndex+1, r.ChunkCount)
		if r.Summary != "" {
			fmt.Fprintf(out, "   %s\n", r.Summary)
		}
	}
	return nil
}

func listCommand(c *cli.Context) error {
	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	records, err := v.GetAllArticles(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	for _, r := range records {
		fmt.Fprintf(out, "%s\t%s\t%s\n", r.ID, r.Title, r.ParentURL)
	}
	return nil
}

func getCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("article URL or chunk ID is required")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	record, err := v.GetArticle(c.Context, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no article %s", id)
	}
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Title:   %s\n", record.Title)
	fmt.Fprintf(out, "URL:     %s\n", record.ParentURL)
	fmt.Fprintf(out, "Domain:  %s\n", record.SourceDomain)
	if len(record.Authors) > 0 {
		fmt.Fprintf(out, "Authors: %s\n", strings.Join(record.Authors, ", "))
	}
	if !record.PublishDate.IsZero() {
		fmt.Fprintf(out, "Published: %s\n", record.PublishDate.Format(time.DateOnly))
	}
	fmt.Fprintf(out, "Words:   %d\n", record.WordCount)
	fmt.Fprintf(out, "Chunks:  %d\n", record.ChunkCount)
	if record.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", record.Summary)
	}
	if len(record.Topics) > 0 {
		fmt.Fprintf(out, "Topics:  %s\n", strings.Join(record.Topics, ", "))
	}

	if c.Bool("full") {
		article, err := v.GetArticleText(c.Context, record.ParentURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", article.Content)
	}
	return nil
}

func countCommand(c *cli.Context) error {
	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	n, err := v.Count(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("article URL or chunk ID is required")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	deleted, err := v.DeleteArticle(c.Context, id)
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Fprintf(c.App.Writer, "No article %s\n", id)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
	return nil
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("reset removes every record; pass --yes to confirm")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	if _, err := v.ResetCollection(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Collection %s reset\n", v.Settings().Collection)
	return nil
}

func reembedCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Normalize:      c.Bool("normalize"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	v, err := openVault(c)
	if err != nil {
		return err
	}
	defer v.Close()

	settings := v.Settings()
	fmt.Fprintf(os.Stderr, "Database: %s\n", settings.DBPath)
	fmt.Fprintf(os.Stderr, "Collection: %s\n", settings.Collection)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", settings.AI.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	if _, err := v.Reembed(ctx, reembedConfig, os.Stderr); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
