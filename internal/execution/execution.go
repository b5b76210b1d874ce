// Package execution implements ExecutionCoordinator (C9): at-most-once
// order dispatch, pre/post risk check, approval handshake, idempotency.
// Grounded on internal/outbox/outbox.go's append-only idempotency-key
// scan (generalized from a time-windowed dedupe into a permanent
// executed_ids set, since the spec requires idempotency to hold forever
// per Decision.id, not just within a rolling window) and internal/risk/
// outbox_guard.go's pre-send price-drift validation (grounds the
// "recompute size at dispatch, re-run risk once" race-closure rule).
package execution

import (
	"context"
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/observ"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
	"github.com/oodatrading/agent/internal/risk"
)

type Status string

const (
	StatusFilled          Status = "filled"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
	StatusAwaitingApproval Status = "awaiting_approval"
)

type Result struct {
	Status      Status
	Reason      string
	OrderAck    *ports.OrderAck
	ApprovalAck *ports.Ack
}

// RecomputeFunc recomputes size/signal-only at dispatch time using
// current equity, closing the analysis->execution race window.
type RecomputeFunc func(d domain.Decision) (domain.Decision, bool /* changed */)

// ReEvaluateFunc re-runs RiskGatekeeper once when RecomputeFunc reports
// a change.
type ReEvaluateFunc func(d domain.Decision) risk.Verdict

type Coordinator struct {
	mu          sync.Mutex
	executedIDs map[uuid.UUID]Result

	platform  ports.PlatformPort
	approvals []ports.ApprovalTransportPort
	registry  *registry.Registry

	maxRetries int

	// onDispatched notifies PositionMonitor of the expected new position
	// immediately after a successful venue open, so detection doesn't
	// have to wait for the next poll cycle.
	onDispatched func(d domain.Decision, ack ports.OrderAck)
}

type Config struct {
	MaxRetries int
	// OnDispatched, if set, runs synchronously after a successful Open.
	OnDispatched func(d domain.Decision, ack ports.OrderAck)
}

func New(platform ports.PlatformPort, approvals []ports.ApprovalTransportPort, reg *registry.Registry, cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Coordinator{
		executedIDs:  map[uuid.UUID]Result{},
		platform:     platform,
		approvals:    approvals,
		registry:     reg,
		maxRetries:   cfg.MaxRetries,
		onDispatched: cfg.OnDispatched,
	}
}

// Execute dispatches d, or returns the cached Result if d.ID was already
// processed. Replays with the same id are a pure no-op.
func (c *Coordinator) Execute(ctx context.Context, d domain.Decision, recompute RecomputeFunc, reEvaluate ReEvaluateFunc) Result {
	c.mu.Lock()
	if prior, ok := c.executedIDs[d.ID]; ok {
		c.mu.Unlock()
		observ.IncCounter("execution_idempotent_replay_total", nil)
		return prior
	}
	c.mu.Unlock()

	if recompute != nil {
		if updated, changed := recompute(d); changed {
			d = updated
			if reEvaluate != nil {
				if v := reEvaluate(d); !v.Approved {
					result := Result{Status: StatusRejected, Reason: string(v.Reason)}
					c.remember(d.ID, result)
					return result
				}
			}
		}
	}

	var result Result
	if d.SignalOnly {
		result = c.publishSignalOnly(ctx, d)
	} else {
		result = c.dispatch(ctx, d)
	}

	c.remember(d.ID, result)
	return result
}

func (c *Coordinator) remember(id uuid.UUID, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executedIDs[id] = result
}

// publishSignalOnly forwards d to every registered approval transport;
// at least one ack is required or the failure is loud, never silent.
func (c *Coordinator) publishSignalOnly(ctx context.Context, d domain.Decision) Result {
	for _, transport := range c.approvals {
		ack, err := transport.Publish(ctx, d)
		if err == nil && ack.Acked {
			observ.IncCounter("execution_signal_published_total", nil)
			return Result{Status: StatusAwaitingApproval, ApprovalAck: &ack}
		}
	}
	observ.IncCounter("execution_no_delivery_channel_total", nil)
	return Result{Status: StatusFailed, Reason: "no_delivery_channel"}
}

// dispatch wraps the venue call in the (venue, credential) circuit
// breaker, retrying transient failures with cenkalti/backoff/v4's
// exponential backoff. Its default randomisation spreads each delay by
// ±50% around the exponential step; delays are not drawn from the full
// range between zero and the step.
func (c *Coordinator) dispatch(ctx context.Context, d domain.Decision) Result {
	key := registry.Key{Service: "venue", CredentialID: d.Instrument.Venue}
	resource := c.registry.Resource(key)

	if err := resource.Breaker.Allow(); err != nil {
		return Result{Status: StatusFailed, Reason: "circuit_open"}
	}

	var ack ports.OrderAck
	var size float64
	if d.RecommendedSize != nil {
		size = *d.RecommendedSize
	}

	op := func() error {
		var err error
		ack, err = c.platform.Open(ctx, d.Instrument, sideFromAction(d.Action), size, d.StopLoss, d.TakeProfit, d.ID.String())
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))

	if err != nil {
		resource.Breaker.RecordFailure(err)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return Result{Status: StatusRejected, Reason: err.Error()}
		}
		return Result{Status: StatusFailed, Reason: err.Error()}
	}

	resource.Breaker.RecordSuccess()
	observ.IncCounter("execution_filled_total", nil)
	if c.onDispatched != nil {
		c.onDispatched(d, ack)
	}
	return Result{Status: StatusFilled, OrderAck: &ack}
}

func sideFromAction(a domain.Action) domain.Side {
	if a == domain.ActionSell {
		return domain.SideShort
	}
	return domain.SideLong
}

// isPermanent distinguishes non-retryable venue errors (validation,
// auth, insufficient funds) from transient ones (network, 5xx, rate
// limit). The platform adapter is expected to return a sentinel or
// wrapped error the core can classify; this reference check treats any
// context cancellation as transient and everything else as permanent
// only when explicitly marked, defaulting new/unknown errors to
// retryable so a misclassified transient failure degrades to extra
// retries instead of a silent drop.
func isPermanent(err error) bool {
	var permErr *PermanentVenueError
	return errors.As(err, &permErr)
}

// PermanentVenueError is returned by a PlatformPort adapter to signal a
// non-retryable failure (validation, auth, insufficient funds).
type PermanentVenueError struct {
	Cause error
}

func (e *PermanentVenueError) Error() string { return e.Cause.Error() }
func (e *PermanentVenueError) Unwrap() error { return e.Cause }
