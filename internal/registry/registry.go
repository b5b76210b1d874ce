// Package registry implements ResourceRegistry (C1): a process-wide map
// from (service, credential_id) to a {CircuitBreaker, RateLimiter,
// ConnectionPool} triple. Direct construction of these primitives
// outside the registry is forbidden by convention — callers obtain
// their triple via Registry.Resource.
//
// Grounded on internal/adapters' provider manager, which instantiates a
// breaker per provider ad-hoc; this package generalizes that into a
// single shared, keyed registry, so every caller that asks for the same
// (service, credential) gets the *same* breaker. C3's oracle fan-out and
// C9's venue dispatch use it; C5's gatekeeper consults no breaker.
package registry

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Key struct {
	Service      string
	CredentialID string
}

type Tier struct {
	RateLimit        rate.Limit
	Burst            int
	PoolSize         int
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Default tiers per the spec's "free tier vs paid tier" defaults.
var (
	FreeTier = Tier{RateLimit: 1, Burst: 2, PoolSize: 2, FailureThreshold: 3, RecoveryTimeout: 60 * time.Second}
	PaidTier = Tier{RateLimit: 20, Burst: 40, PoolSize: 10, FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
)

// Resource is the {CircuitBreaker, RateLimiter, ConnectionPool} triple
// for a single (service, credential).
type Resource struct {
	Breaker *CircuitBreaker
	Limiter *rate.Limiter
	Pool    *ConnectionPool
}

type Registry struct {
	mu        sync.Mutex
	resources map[Key]*Resource
	tierFor   func(Key) Tier
}

// New creates a registry. tierFor selects the rate/breaker/pool tier for
// a given key; it defaults to FreeTier for every key when nil.
func New(tierFor func(Key) Tier) *Registry {
	if tierFor == nil {
		tierFor = func(Key) Tier { return FreeTier }
	}
	return &Registry{resources: make(map[Key]*Resource), tierFor: tierFor}
}

// Resource returns the triple for key, constructing it on first use.
// The registry always instantiates one; it never returns nil.
func (r *Registry) Resource(key Key) *Resource {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resources[key]; ok {
		return res
	}

	tier := r.tierFor(key)
	res := &Resource{
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: tier.FailureThreshold,
			RecoveryTimeout:  tier.RecoveryTimeout,
		}),
		Limiter: rate.NewLimiter(tier.RateLimit, tier.Burst),
		Pool:    NewConnectionPool(tier.PoolSize),
	}
	r.resources[key] = res
	return res
}
