// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sunggeunkim/church-history/pkg/observability"
)

// DefaultRefreshTimeout bounds a single refresh call.
const DefaultRefreshTimeout = 15 * time.Second

// RefreshFunc renews credentials. A nil return means the renewed credentials
// are already in place (for the backend, a fresh access cookie in the jar).
type RefreshFunc func(ctx context.Context) error

// RefreshConfig configures a RefreshCoordinator.
type RefreshConfig struct {
	// Timeout bounds each refresh call. Defaults to DefaultRefreshTimeout.
	Timeout time.Duration

	// OnInvalidated is called once per failed refresh, before any waiter is
	// released. The caller is expected to send the user back to its
	// authentication entry point. It must not block.
	OnInvalidated func(err error)

	Logger  *slog.Logger
	Metrics *observability.ClientMetrics
}

// RefreshCoordinator runs at most one credential refresh at a time.
//
// # Description
//
// Every caller that hits an expired credential calls Refresh. The first
// caller starts the refresh; later callers join a FIFO wait list. When the
// refresh settles, every queued caller is released in arrival order with
// the same outcome, and each then retries its own request once.
//
// The refresh runs detached from the caller that started it, so a caller
// that gives up (context cancelled) stops waiting without aborting the
// refresh for everyone else.
//
// # Limitations
//
//   - Waiters are released in FIFO order, but the retries they then issue
//     complete in whatever order the network allows.
//
// # Thread Safety
//
// Safe for concurrent use.
type RefreshCoordinator struct {
	refresh       RefreshFunc
	timeout       time.Duration
	onInvalidated func(error)
	logger        *slog.Logger
	metrics       *observability.ClientMetrics

	mu       sync.Mutex
	inFlight bool
	waiters  []chan error

	// afterRelease runs after each waiter is handed the outcome. Tests set
	// it before the first Refresh.
	afterRelease func()
}

// NewRefreshCoordinator creates a coordinator around refresh.
func NewRefreshCoordinator(refresh RefreshFunc, cfg RefreshConfig) *RefreshCoordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RefreshCoordinator{
		refresh:       refresh,
		timeout:       cfg.Timeout,
		onInvalidated: cfg.OnInvalidated,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Refresh waits for a credential refresh, starting one if none is running.
//
// # Outputs
//
//   - error: nil if credentials were renewed; the refresh failure otherwise;
//     ctx.Err() if ctx ended before the refresh settled.
func (r *RefreshCoordinator) Refresh(ctx context.Context) error {
	ch := make(chan error, 1)

	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	leader := !r.inFlight
	r.inFlight = true
	n := len(r.waiters)
	r.mu.Unlock()

	r.metrics.SetRefreshWaiters(n)

	if leader {
		go r.run(context.WithoutCancel(ctx))
	} else {
		r.logger.Debug("waiting on in-flight credential refresh", "queued", n)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		r.remove(ch)
		return ctx.Err()
	}
}

// Pending returns the number of callers waiting on the current refresh.
func (r *RefreshCoordinator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// InFlight reports whether a refresh is running.
func (r *RefreshCoordinator) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

func (r *RefreshCoordinator) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.refresh(ctx)

	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inFlight = false
	r.mu.Unlock()

	r.metrics.SetRefreshWaiters(0)

	if err != nil {
		r.metrics.RecordRefresh(observability.OutcomeFailure)
		r.logger.Error("credential refresh failed",
			"released", len(waiters),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if r.onInvalidated != nil {
			r.onInvalidated(err)
		}
	} else {
		r.metrics.RecordRefresh(observability.OutcomeSuccess)
		r.logger.Info("credentials refreshed",
			"released", len(waiters),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	// Channels are buffered, so release never blocks on a waiter that left.
	for _, ch := range waiters {
		ch <- err
		if r.afterRelease != nil {
			r.afterRelease()
		}
	}
}

func (r *RefreshCoordinator) remove(ch chan error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == ch {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}
