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

// Package throttle bounds how many external operations run at once and how
// fast they are dispatched.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/gazette/core"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultConcurrency is the default number of concurrent operations.
	DefaultConcurrency = 5
	// DefaultDelay is the default minimum interval between dispatches.
	DefaultDelay = time.Second
	// DefaultTimeout is the default per-operation timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimitBackoff is how long dispatch pauses after an
	// operation reports core.ErrRateLimited.
	DefaultRateLimitBackoff = 30 * time.Second
)

var (
	// ErrTimeout indicates an operation exceeded its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidConfig indicates an invalid gate configuration.
	ErrInvalidConfig = errors.New("invalid gate configuration")
)

// Gate admits at most N operations at a time in arrival order, spaces
// dispatches at least a fixed delay apart and bounds each operation with a
// timeout. A Gate is safe for concurrent use.
type Gate struct {
	concurrency int
	delay       time.Duration
	timeout     time.Duration
	backoff     time.Duration
	logger      *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu       sync.Mutex
	retryAt  time.Time
	inFlight atomic.Int64
}

// Option configures a Gate.
type Option func(*Gate) error

// WithConcurrency sets the maximum number of concurrent operations.
func WithConcurrency(n int) Option {
	return func(g *Gate) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, n)
		}
		g.concurrency = n
		return nil
	}
}

// WithDelay sets the minimum interval between two dispatches. Zero disables
// spacing.
func WithDelay(d time.Duration) Option {
	return func(g *Gate) error {
		if d < 0 {
			return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
		}
		g.delay = d
		return nil
	}
}

// WithTimeout sets the default per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
		}
		g.timeout = d
		return nil
	}
}

// WithRateLimitBackoff sets the pause applied after a rate limited operation.
func WithRateLimitBackoff(d time.Duration) Option {
	return func(g *Gate) error {
		if d < 0 {
			return fmt.Errorf("%w: backoff must not be negative", ErrInvalidConfig)
		}
		g.backoff = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) error {
		g.logger = logger
		return nil
	}
}

// New creates a Gate. Defaults: 5 concurrent operations, 1s delay, 30s timeout.
func New(opts ...Option) (*Gate, error) {
	g := &Gate{
		concurrency: DefaultConcurrency,
		delay:       DefaultDelay,
		timeout:     DefaultTimeout,
		backoff:     DefaultRateLimitBackoff,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "gate")

	g.sem = semaphore.NewWeighted(int64(g.concurrency))
	limit := rate.Inf
	if g.delay > 0 {
		limit = rate.Every(g.delay)
	}
	g.limiter = rate.NewLimiter(limit, 1)
	return g, nil
}

type callConfig struct {
	timeout time.Duration
}

// CallOption configures a single Do call.
type CallOption func(*callConfig)

// WithCallTimeout overrides the gate's timeout for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Do runs op once a slot is free and the dispatch delay has elapsed.
//
// If ctx is canceled before dispatch, op never runs and ctx.Err() is
// returned. Once dispatched, op runs to completion or timeout regardless of
// ctx: the context passed to op carries only the timeout. When the timeout
// fires Do returns ErrTimeout and frees the slot even if op has not
// returned. Errors wrapping core.ErrRateLimited pause later dispatches.
func (g *Gate) Do(ctx context.Context, op func(ctx context.Context) error, opts ...CallOption) error {
	cfg := callConfig{timeout: g.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	released := false
	release := func() {
		if !released {
			released = true
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}
	}
	g.inFlight.Add(1)
	defer release()

	if err := g.waitBackoff(ctx); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("operation panicked: %v", r)
			}
		}()
		done <- op(callCtx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, core.ErrRateLimited) {
			g.RecordRateLimit(0)
		}
		return err
	case <-callCtx.Done():
		g.logger.Warn("operation timed out", "timeout", cfg.timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, cfg.timeout)
	}
}

// RecordRateLimit pauses dispatching for d, or for the configured backoff
// when d <= 0. Operations already running are unaffected.
func (g *Gate) RecordRateLimit(d time.Duration) {
	if d <= 0 {
		d = g.backoff
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(g.retryAt) {
		g.retryAt = until
		g.logger.Warn("rate limited, pausing dispatch", "backoff", d)
	}
}

func (g *Gate) waitBackoff(ctx context.Context) error {
	g.mu.Lock()
	retryAt := g.retryAt
	g.mu.Unlock()

	wait := time.Until(retryAt)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InFlight returns the number of operations holding a slot.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Concurrency returns the maximum number of concurrent operations.
func (g *Gate) Concurrency() int {
	return g.concurrency
}
