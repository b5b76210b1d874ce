// Package freshness implements FreshnessGate (C2): compares a quote's
// timestamp against asset/session-aware thresholds. Grounded on
// internal/adapters' ValidateQuote staleness fields and NAVTracker's
// staleness computation, generalized into the full threshold matrix.
package freshness

import (
	"time"

	"github.com/oodatrading/agent/internal/domain"
)

type Reason string

const (
	ReasonFresh Reason = ""
	ReasonWarn  Reason = "warn"
	ReasonStale Reason = "stale"
)

type Result struct {
	Fresh  bool
	Age    time.Duration
	Reason Reason
}

// Thresholds holds the hard (not-fresh) age limit and the warn
// threshold below it, per (asset_class, session_state).
type Thresholds struct {
	WarnAfter time.Duration
	HardLimit time.Duration
}

type Config struct {
	byKey map[key]Thresholds
}

type key struct {
	Class   domain.AssetClass
	Session domain.SessionState
}

// DefaultConfig mirrors the table in spec.md §4.2.
func DefaultConfig() Config {
	c := Config{byKey: make(map[key]Thresholds)}
	five := 5 * time.Minute
	fifteen := 15 * time.Minute
	day := 24 * time.Hour
	threeDays := 72 * time.Hour

	c.byKey[key{domain.AssetCrypto, domain.SessionOpen}] = Thresholds{WarnAfter: five, HardLimit: five}
	c.byKey[key{domain.AssetCrypto, domain.SessionClosed}] = Thresholds{WarnAfter: five, HardLimit: five}
	c.byKey[key{domain.AssetCrypto, domain.SessionWeekend}] = Thresholds{WarnAfter: five, HardLimit: five}

	c.byKey[key{domain.AssetForex, domain.SessionOpen}] = Thresholds{WarnAfter: five, HardLimit: fifteen}
	c.byKey[key{domain.AssetForex, domain.SessionClosed}] = Thresholds{WarnAfter: day, HardLimit: day}
	c.byKey[key{domain.AssetForex, domain.SessionWeekend}] = Thresholds{WarnAfter: threeDays, HardLimit: threeDays}

	// "equity intraday" vs "equity daily" both map to AssetEquity; the
	// session state disambiguates which row applies (open => intraday,
	// closed/weekend => daily), matching the spec table's n/a cells by
	// treating weekend-open and closed-intraday as unreachable in
	// practice (RTH governs SessionOpen for equities).
	c.byKey[key{domain.AssetEquity, domain.SessionOpen}] = Thresholds{WarnAfter: five, HardLimit: fifteen}
	c.byKey[key{domain.AssetEquity, domain.SessionClosed}] = Thresholds{WarnAfter: day, HardLimit: day}
	c.byKey[key{domain.AssetEquity, domain.SessionWeekend}] = Thresholds{WarnAfter: threeDays, HardLimit: threeDays}

	return c
}

// Check evaluates a quote's age against the applicable threshold. Age
// exactly at the hard limit is not fresh (half-open on the upper
// bound), per the spec's boundary invariant.
func Check(cfg Config, q domain.Quote, now time.Time) Result {
	th, ok := cfg.byKey[key{q.Instrument.AssetClass, q.SessionState}]
	if !ok {
		th = Thresholds{WarnAfter: 5 * time.Minute, HardLimit: 5 * time.Minute}
	}

	age := now.Sub(q.TS)
	if age >= th.HardLimit {
		return Result{Fresh: false, Age: age, Reason: ReasonStale}
	}
	if age >= th.WarnAfter {
		return Result{Fresh: true, Age: age, Reason: ReasonWarn}
	}
	return Result{Fresh: true, Age: age, Reason: ReasonFresh}
}
