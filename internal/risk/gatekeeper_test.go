package risk

import (
	"testing"
	"time"

	"github.com/oodatrading/agent/internal/domain"
)

func baseContext() Context {
	return Context{
		Now:             time.Now(),
		Equity:          100000,
		DayPnL:          0,
		DailyTradeLimit: 10,
		SessionOpen:     true,
		FreshnessOK:     true,
		Limits: domain.RiskLimits{
			MaxDrawdown:          0.2,
			MaxVaR:               0.1,
			MaxSinglePosition:    0.25,
			MaxCorrelated:        2,
			CorrelationThreshold: 0.7,
			MaxDailyTrades:       10,
			KillSwitchPct:        0.05,
		},
	}
}

func sizedDecision() domain.Decision {
	size := 10.0
	return domain.Decision{
		Instrument: domain.Instrument{Symbol: "AAPL", AssetClass: domain.AssetEquity},
		Action:     domain.ActionBuy,
		Entry:      100,
		RecommendedSize: &size,
	}
}

func TestGatekeeperApprovesCleanDecision(t *testing.T) {
	gk := NewGatekeeper()
	v := gk.Evaluate(sizedDecision(), baseContext())
	if !v.Approved {
		t.Fatalf("expected approval, got rejection: %s (%s)", v.Reason, v.Detail)
	}
}

func TestS5KillSwitch(t *testing.T) {
	gk := NewGatekeeper()
	ctx := baseContext()
	ctx.DayPnL = -6000 // -6% of 100000 equity, floor is 5%
	v := gk.Evaluate(sizedDecision(), ctx)
	if v.Approved {
		t.Fatal("expected kill-switch rejection")
	}
	if v.Reason != RejectKillSwitch {
		t.Fatalf("reason=%s, want kill_switch", v.Reason)
	}
}

func TestFreshnessRejectedFirst(t *testing.T) {
	gk := NewGatekeeper()
	ctx := baseContext()
	ctx.FreshnessOK = false
	ctx.DayPnL = -6000 // would also trip kill switch; freshness must win (short-circuit order)
	v := gk.Evaluate(sizedDecision(), ctx)
	if v.Reason != RejectFreshness {
		t.Fatalf("reason=%s, want stale_data (freshness checked first)", v.Reason)
	}
}

func TestUnsizedExecutableDecisionRejected(t *testing.T) {
	gk := NewGatekeeper()
	d := sizedDecision()
	d.RecommendedSize = nil
	d.SignalOnly = false

	v := gk.Evaluate(d, baseContext())
	if v.Approved {
		t.Fatal("expected rejection for unsized executable decision")
	}
	if v.Reason != RejectUnsizedExec {
		t.Fatalf("reason=%s, want unsized_executable_decision", v.Reason)
	}
}

func TestSignalOnlyUnsizedIsNotRejectedForSizing(t *testing.T) {
	gk := NewGatekeeper()
	d := sizedDecision()
	d.RecommendedSize = nil
	d.SignalOnly = true

	v := gk.Evaluate(d, baseContext())
	if v.Reason == RejectUnsizedExec {
		t.Fatal("signal-only decisions must not be rejected by the sizing-sanity check")
	}
}

func TestDeterministicSameInputsSameVerdict(t *testing.T) {
	gk := NewGatekeeper()
	d := sizedDecision()
	ctx := baseContext()
	ctx.ReturnsHistory = make([]float64, 40)
	for i := range ctx.ReturnsHistory {
		ctx.ReturnsHistory[i] = 0.001
	}

	v1 := gk.Evaluate(d, ctx)
	v2 := gk.Evaluate(d, ctx)
	if v1 != v2 {
		t.Fatalf("expected deterministic verdicts, got %+v vs %+v", v1, v2)
	}
}

func TestConcentrationRejection(t *testing.T) {
	gk := NewGatekeeper()
	d := sizedDecision()
	big := 1000.0
	d.RecommendedSize = &big // 1000 * 100 = 100000 notional, equal to equity
	v := gk.Evaluate(d, baseContext())
	if v.Approved {
		t.Fatal("expected concentration rejection")
	}
	if v.Reason != RejectConcentration {
		t.Fatalf("reason=%s, want concentration", v.Reason)
	}
}
