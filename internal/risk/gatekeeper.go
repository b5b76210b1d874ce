// RiskGatekeeper (C5): a stateless validator over (Decision, Context).
// Checks run in a fixed order and short-circuit on the first rejection,
// per spec.md §4.5. Grounded on internal/risk/manager.go's gate-evaluation
// loop (RiskManager.EvaluateDecision), generalized from the teacher's
// domain-specific gates (circuit breaker / data quality / volatility)
// into the spec's nine named checks, reusing the teacher's VaR/volatility
// and drawdown machinery where the shapes line up.
package risk

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/observ"
)

type Gatekeeper struct {
	varSamples int // Monte-Carlo bootstrap sample count, >= 10000 per spec
}

func NewGatekeeper() *Gatekeeper {
	return &Gatekeeper{varSamples: 10000}
}

// Evaluate runs the nine checks in order. Evaluation is deterministic:
// the same (Decision, Context) always yields the same Verdict, per the
// spec's testable property #8 (the VaR bootstrap seeds its RNG from a
// hash of the returns for that reason, trading true randomness for
// reproducibility).
func (g *Gatekeeper) Evaluate(d domain.Decision, ctx Context) Verdict {
	// 1. Data freshness (revalidated for the race window between C2 and now).
	if !ctx.FreshnessOK {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectFreshness)})
		return Verdict{Approved: false, Reason: RejectFreshness, Detail: "quote stale at risk-check time"}
	}

	// 2. Session.
	if !ctx.SessionOpen && d.Instrument.AssetClass != domain.AssetCrypto {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectSession)})
		return Verdict{Approved: false, Reason: RejectSession, Detail: "session closed"}
	}

	// 3. Kill switch.
	if ctx.Equity > 0 && ctx.DayPnL <= -ctx.Limits.KillSwitchPct*ctx.Equity {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectKillSwitch)})
		return Verdict{Approved: false, Reason: RejectKillSwitch, Detail: "daily P&L breached kill-switch floor"}
	}

	// 4. Daily trade cap, UTC-midnight reset is the caller's responsibility
	// (Context.DailyTradesToday is expected to already reflect that reset).
	if ctx.DailyTradeLimit > 0 && ctx.DailyTradesToday >= ctx.DailyTradeLimit {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectDailyTradeCap)})
		return Verdict{Approved: false, Reason: RejectDailyTradeCap, Detail: "daily trade cap reached"}
	}

	// 5. Drawdown.
	drawdown := currentDrawdown(ctx.ReturnsHistory)
	if ctx.Limits.MaxDrawdown > 0 && drawdown > ctx.Limits.MaxDrawdown {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectDrawdown)})
		return Verdict{Approved: false, Reason: RejectDrawdown, Detail: "running drawdown exceeds max_drawdown"}
	}

	// 6. VaR: Monte-Carlo bootstrap over returns when N>=30, else a
	// volatility-heuristic fallback using asset-class priors.
	var valueAtRisk float64
	if len(ctx.ReturnsHistory) >= 30 {
		valueAtRisk = g.bootstrapVaR(ctx.ReturnsHistory, 0.95)
	} else {
		valueAtRisk = volatilityPriorVaR(d.Instrument.AssetClass)
	}
	if valueAtRisk <= 0 {
		// Must be strictly positive per spec; treat a degenerate estimate
		// as the conservative asset-class prior instead of silently
		// passing the check.
		valueAtRisk = volatilityPriorVaR(d.Instrument.AssetClass)
	}
	if ctx.Equity > 0 && valueAtRisk*ctx.Equity > ctx.Limits.MaxVaR*ctx.Equity {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectVaR)})
		return Verdict{Approved: false, Reason: RejectVaR, Detail: "value-at-risk exceeds max_var_pct"}
	}

	// 7. Concentration.
	proposed := 0.0
	if d.RecommendedSize != nil {
		proposed = math.Abs(*d.RecommendedSize * d.Entry)
	}
	existing := ctx.ExposureByInstrument[d.Instrument.Symbol]
	if ctx.Equity > 0 && ctx.Limits.MaxSinglePosition > 0 &&
		(existing+proposed) > ctx.Limits.MaxSinglePosition*ctx.Equity {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectConcentration)})
		return Verdict{Approved: false, Reason: RejectConcentration, Detail: "single-instrument exposure exceeds max_single_position"}
	}

	// 8. Correlation.
	if ctx.Limits.MaxCorrelated > 0 {
		correlated := 0
		for _, corr := range ctx.Correlations {
			if corr >= ctx.Limits.CorrelationThreshold {
				correlated++
			}
		}
		if correlated > ctx.Limits.MaxCorrelated {
			observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectCorrelation)})
			return Verdict{Approved: false, Reason: RejectCorrelation, Detail: "too many correlated holdings"}
		}
	}

	// 9. Sizing sanity.
	if d.RecommendedSize == nil && !d.SignalOnly {
		observ.IncCounter("risk_gate_rejections_total", map[string]string{"reason": string(RejectUnsizedExec)})
		return Verdict{Approved: false, Reason: RejectUnsizedExec, Detail: "executable decision has no size"}
	}

	observ.IncCounter("risk_gate_approvals_total", nil)
	return Verdict{Approved: true}
}

func currentDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	equity := 1.0
	peak := 1.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
	}
	return (peak - equity) / peak
}

// bootstrapVaR resamples the historical returns with replacement
// g.varSamples times and returns the 95th-percentile loss as a fraction
// of equity (a positive number); Evaluate scales it by equity before
// comparing it with max_var_pct·equity. The RNG is seeded fresh from a
// hash of returns on every call rather than shared across calls, so two
// Evaluate invocations over identical returns draw identical samples
// and produce identical verdicts, per the determinism property #8.
func (g *Gatekeeper) bootstrapVaR(returns []float64, confidence float64) float64 {
	rng := rand.New(rand.NewSource(seedFromReturns(returns)))

	n := len(returns)
	losses := make([]float64, g.varSamples)
	for i := 0; i < g.varSamples; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += returns[rng.Intn(n)]
		}
		losses[i] = -sum / float64(n)
	}
	sort.Float64s(losses)
	idx := int(confidence * float64(len(losses)))
	if idx >= len(losses) {
		idx = len(losses) - 1
	}
	if losses[idx] < 0 {
		return 0
	}
	return losses[idx]
}

// seedFromReturns derives a deterministic seed from the returns series
// so identical (Decision, Context) inputs draw identical bootstrap
// samples.
func seedFromReturns(returns []float64) int64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, r := range returns {
		bits := math.Float64bits(r)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		h.Write(buf)
	}
	return int64(h.Sum64())
}

// volatilityPriorVaR is the asset-class volatility-prior fallback used
// when fewer than 30 historical returns are available, grounded on the
// VolatilityCalculator's floor/ceiling clamp idea in volatility.go.
func volatilityPriorVaR(class domain.AssetClass) float64 {
	switch class {
	case domain.AssetCrypto:
		return 0.08
	case domain.AssetForex:
		return 0.02
	default:
		return 0.03
	}
}
