package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/ingestion"
)

const (
	// DefaultUserAgent is sent with every request unless overridden.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 5 << 20
)

// HTTPFetcher fetches articles over HTTP. It is safe for concurrent use.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *slog.Logger
}

var _ ingestion.Fetcher = (*HTTPFetcher)(nil)

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher) error

// WithHTTPClient sets the HTTP client. Its timeout is left unchanged.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		f.client = client
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(f *HTTPFetcher) error {
		f.userAgent = userAgent
		return nil
	}
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		f.client.Timeout = d
		return nil
	}
}

// WithMaxBodyBytes caps how much of each response is read.
func WithMaxBodyBytes(n int64) Option {
	return func(f *HTTPFetcher) error {
		if n <= 0 {
			return fmt.Errorf("max body bytes must be positive, got %d", n)
		}
		f.maxBodyBytes = n
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) error {
		f.logger = logger
		return nil
	}
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(opts ...Option) (*HTTPFetcher, error) {
	f := &HTTPFetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		userAgent:    DefaultUserAgent,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("component", "fetcher")
	return f, nil
}

// Fetch downloads rawURL and parses it into an article. The article URL is
// the normalized form of rawURL. All errors wrap core.ErrFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*core.Article, error) {
	if !core.IsValidURL(rawURL) {
		return nil, fmt.Errorf("%w: %w: %q", core.ErrFetch, core.ErrInvalidURL, rawURL)
	}
	url := core.NormalizeURL(rawURL)

	f.logger.Info("fetching article", "url", url)
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	article, err := Parse(url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrFetch, url, err)
	}
	f.logger.Debug("fetched article", "url", url, "words", article.WordCount)
	return article, nil
}

// ExtractLinks downloads pageURL and returns the links on it that look like
// articles. With sameDomain set only links to pageURL's host are kept.
func (f *HTTPFetcher) ExtractLinks(ctx context.Context, pageURL string, sameDomain bool) ([]string, error) {
	if !core.IsValidURL(pageURL) {
		return nil, fmt.Errorf("%w: %w: %q", core.ErrFetch, core.ErrInvalidURL, pageURL)
	}
	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	links, err := ExtractLinks(pageURL, body, sameDomain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrFetch, pageURL, err)
	}
	f.logger.Info("extracted article links", "url", pageURL, "links", len(links))
	return links, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %w: %s returned %d", core.ErrFetch, ErrUnexpectedStatus, url, resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, f.maxBodyBytes), resp.Body}, nil
}
