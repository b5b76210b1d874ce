package agent

import (
	"context"
	"testing"
	"time"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ensemble"
	"github.com/oodatrading/agent/internal/execution"
	"github.com/oodatrading/agent/internal/freshness"
	"github.com/oodatrading/agent/internal/memory"
	"github.com/oodatrading/agent/internal/monitor"
	"github.com/oodatrading/agent/internal/oracle"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
	"github.com/oodatrading/agent/internal/risk"
	"github.com/oodatrading/agent/internal/sizing"
)

var testInstrument = domain.Instrument{Symbol: "BTC-USD", AssetClass: domain.AssetCrypto, Venue: "paper"}

type fakeData struct{}

func (fakeData) Quote(ctx context.Context, instrument domain.Instrument, timeframe string) (domain.Quote, error) {
	return domain.Quote{Instrument: instrument, Bid: 100, Ask: 100.5, TS: time.Now(), SessionState: domain.SessionOpen}, nil
}
func (fakeData) Candles(ctx context.Context, instrument domain.Instrument, timeframe string, n int) ([]ports.Candle, error) {
	return nil, nil
}

type fakePlatform struct {
	equity float64
}

func (f *fakePlatform) Balance(ctx context.Context) (float64, error) { return f.equity, nil }
func (f *fakePlatform) Positions(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (f *fakePlatform) PortfolioBreakdown(ctx context.Context) (ports.PortfolioBreakdown, error) {
	return ports.PortfolioBreakdown{Equity: f.equity}, nil
}
func (f *fakePlatform) Open(ctx context.Context, instrument domain.Instrument, side domain.Side, size, stopLoss, takeProfit float64, clientOrderID string) (ports.OrderAck, error) {
	return ports.OrderAck{ClientOrderID: clientOrderID, AcceptedAt: time.Now()}, nil
}
func (f *fakePlatform) Close(ctx context.Context, positionID string) error { return nil }

type fakeOracle struct {
	id         string
	action     domain.Action
	confidence int
}

func (f fakeOracle) ID() string { return f.id }
func (f fakeOracle) Query(ctx context.Context, prompt string) (domain.Recommendation, error) {
	return domain.Recommendation{OracleID: f.id, Action: f.action, Confidence: f.confidence, Reasoning: "test", ProducedAt: time.Now()}, nil
}

func newTestAgent(t *testing.T, equity float64) *Agent {
	t.Helper()
	reg := registry.New(nil)
	providers := []ports.DecisionProviderPort{
		fakeOracle{id: "A", action: domain.ActionBuy, confidence: 80},
		fakeOracle{id: "B", action: domain.ActionBuy, confidence: 70},
	}
	platform := &fakePlatform{equity: equity}
	gatekeeper := risk.NewGatekeeper()
	memEngine, err := memory.New(memory.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	coordinator := execution.New(platform, nil, reg, execution.Config{})
	mon := monitor.New(platform, memEngine, monitor.Config{})

	cfg := Config{
		Instruments:       []domain.Instrument{testInstrument},
		AnalysisFrequency: time.Millisecond,
		RiskLimits: domain.RiskLimits{
			MaxDrawdown: 0.5, MaxVaR: 0.5, MaxSinglePosition: 0.9,
			MaxDailyTrades: 10, KillSwitchPct: 0.2,
		},
		FreshnessConfig: freshness.DefaultConfig(),
		EnsembleConfig:  ensemble.Config{BaseWeights: map[string]float64{"A": 0.6, "B": 0.4}, QuorumMin: 1, VotingStrategy: ensemble.VotingWeighted},
		SizingConfig:    sizing.Config{RiskPerTrade: 0.01, MinimumFloor: 10},
		OracleConfig:    oracle.Config{PerCallTimeout: time.Second, GlobalDeadline: 2 * time.Second, MaxConcurrency: 4},
	}

	return New(cfg, reg, providers, fakeData{}, platform, gatekeeper, memEngine, coordinator, mon)
}

func TestCycleProducesAndExecutesADecision(t *testing.T) {
	a := newTestAgent(t, 100000)
	ctx := context.Background()

	if err := a.monitor.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if err := a.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	status := a.Status()
	if status.CycleCount != 1 {
		t.Fatalf("expected cycle count 1, got %d", status.CycleCount)
	}
	// Only a filled execution puts an instrument into cooldown.
	if !a.inCooldown(testInstrument.Symbol) {
		t.Fatal("expected the cycle to execute a decision for the test instrument")
	}
}

func TestKillSwitchHaltsOnDrawdown(t *testing.T) {
	a := newTestAgent(t, 100000)
	ctx := context.Background()

	_ = a.trackDrawdown(100000)
	a.killSwitch.Update(0)
	if a.killSwitch.Tripped() {
		t.Fatal("should not be tripped at zero drawdown")
	}

	drawdown := a.trackDrawdown(70000) // 30% drawdown against the 0.2 kill_switch_pct configured
	a.killSwitch.Update(drawdown)
	if !a.killSwitch.Tripped() {
		t.Fatal("expected the kill switch to trip past kill_switch_pct")
	}
	_ = ctx
}

func TestEmergencyStopLatches(t *testing.T) {
	a := newTestAgent(t, 100000)
	a.EmergencyStop()
	if !a.killSwitch.Tripped() {
		t.Fatal("expected EmergencyStop to trip the kill switch")
	}
}
