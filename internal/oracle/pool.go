// Package oracle implements DecisionProviderPool (C3): fan-out to N
// oracles with per-oracle timeouts, quotas, and failure tracking.
// Grounded on internal/decision/engine.go's consumption of a
// pre-fetched Advice slice, generalized into an active bounded-
// concurrency fan-out using golang.org/x/sync/errgroup (the wider
// example pack's convention for exactly this "fetch N things under a
// deadline" shape), going through each oracle's own ResourceRegistry
// triple. Those breakers are keyed per oracle; a data provider's breaker
// is not consulted here.
package oracle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
)

type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureInvalid     FailureKind = "invalid"
	FailureRateLimited FailureKind = "rate_limited"
	FailureTransport   FailureKind = "transport"
)

type Failure struct {
	OracleID string
	Kind     FailureKind
	Err      error
}

type Result struct {
	OK     map[string]domain.Recommendation
	Failed map[string]Failure
}

type Config struct {
	PerCallTimeout time.Duration
	GlobalDeadline time.Duration
	MaxConcurrency int
}

// Query fans the prompt out to every provider concurrently, bounded by
// MaxConcurrency, within GlobalDeadline. Providers exceeding the global
// deadline are cancelled via ctx; in-flight network calls are expected
// to respect cancellation through their own ctx parameter.
func Query(ctx context.Context, reg *registry.Registry, providers []ports.DecisionProviderPort, prompt string, cfg Config) Result {
	deadline := cfg.GlobalDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}

	var mu sync.Mutex
	res := Result{OK: map[string]domain.Recommendation{}, Failed: map[string]Failure{}}

	for _, p := range providers {
		p := p
		g.Go(func() error {
			id := p.ID()
			resource := reg.Resource(registry.Key{Service: "oracle", CredentialID: id})

			if err := resource.Breaker.Allow(); err != nil {
				mu.Lock()
				res.Failed[id] = Failure{OracleID: id, Kind: FailureTransport, Err: err}
				mu.Unlock()
				return nil
			}
			if err := resource.Limiter.Wait(gctx); err != nil {
				mu.Lock()
				res.Failed[id] = Failure{OracleID: id, Kind: FailureRateLimited, Err: err}
				mu.Unlock()
				return nil
			}

			callCtx := gctx
			var cancelCall context.CancelFunc
			if cfg.PerCallTimeout > 0 {
				callCtx, cancelCall = context.WithTimeout(gctx, cfg.PerCallTimeout)
				defer cancelCall()
			}

			rec, err := p.Query(callCtx, prompt)
			if err != nil {
				resource.Breaker.RecordFailure(err)
				mu.Lock()
				res.Failed[id] = Failure{OracleID: id, Kind: FailureTransport, Err: err}
				mu.Unlock()
				return nil
			}
			if !rec.Valid() {
				resource.Breaker.RecordFailure(nil)
				mu.Lock()
				res.Failed[id] = Failure{OracleID: id, Kind: FailureInvalid}
				mu.Unlock()
				return nil
			}

			resource.Breaker.RecordSuccess()
			mu.Lock()
			res.OK[id] = rec
			mu.Unlock()
			return nil
		})
	}

	// Errors are only ever reported via Result.Failed; g.Wait()'s own
	// error is always nil because every goroutine recovers into Failed.
	_ = g.Wait()

	return res
}
