// Package agent implements TradingAgent (C10): the OODA state machine
// driving FreshnessGate -> DecisionProviderPool -> EnsembleAggregator ->
// RiskGatekeeper -> ExecutionCoordinator once per tick, and receiving
// PositionMonitor's TradeOutcome events during LEARNING. Grounded on
// cmd/decision/main.go's cycle-driver shape (single long-running loop,
// flag-driven interval) and internal/risk/circuitbreaker.go's graduated
// state machine, repurposed in killswitch.go for the kill-switch/HALT
// escalation path.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ensemble"
	"github.com/oodatrading/agent/internal/execution"
	"github.com/oodatrading/agent/internal/freshness"
	"github.com/oodatrading/agent/internal/memory"
	"github.com/oodatrading/agent/internal/monitor"
	"github.com/oodatrading/agent/internal/observ"
	"github.com/oodatrading/agent/internal/oracle"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
	"github.com/oodatrading/agent/internal/risk"
	"github.com/oodatrading/agent/internal/sizing"
)

type State string

const (
	StateStartup         State = "STARTUP"
	StatePositionRecovery State = "POSITION_RECOVERY"
	StateIdle            State = "IDLE"
	StateLearning        State = "LEARNING"
	StatePerception      State = "PERCEPTION"
	StateReasoning       State = "REASONING"
	StateRiskCheck       State = "RISK_CHECK"
	StateExecution       State = "EXECUTION"
	StateRecovering      State = "RECOVERING"
	StateHalt            State = "HALT"
)

// AgentStatus is the single coalesced view exposed to observers; clients
// connecting mid-cycle get this as a snapshot, then deltas.
type AgentStatus struct {
	State             State     `json:"state"`
	SubState          string    `json:"sub_state,omitempty"`
	LastCycleAt       time.Time `json:"last_cycle_at"`
	CycleCount        int64     `json:"cycle_count"`
	OpenPositionsCount int      `json:"open_positions_count"`
	KillSwitch        string    `json:"kill_switch"`
	FaultedAssets     []string  `json:"faulted_assets"`
}

type Config struct {
	Instruments            []domain.Instrument
	AnalysisFrequency      time.Duration
	MaxOutcomesPerLearning int // L: bounded drain per LEARNING entry
	MaxConcurrentReasoning int
	FaultDecayWindow       time.Duration
	CooldownAfterExecution time.Duration
	MaxRecoveryAttempts    int
	RiskLimits             domain.RiskLimits
	FreshnessConfig        freshness.Config
	EnsembleConfig         ensemble.Config
	SizingConfig           sizing.Config
	OracleConfig           oracle.Config
}

func (c Config) withDefaults() Config {
	if c.AnalysisFrequency <= 0 {
		c.AnalysisFrequency = 60 * time.Second
	}
	if c.MaxOutcomesPerLearning <= 0 {
		c.MaxOutcomesPerLearning = 20
	}
	if c.MaxConcurrentReasoning <= 0 {
		c.MaxConcurrentReasoning = 4
	}
	if c.FaultDecayWindow <= 0 {
		c.FaultDecayWindow = 15 * time.Minute
	}
	if c.CooldownAfterExecution <= 0 {
		c.CooldownAfterExecution = 5 * time.Minute
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 5
	}
	return c
}

type Agent struct {
	cfg Config

	registry   *registry.Registry
	providers  []ports.DecisionProviderPort
	dataFeed   ports.DataProviderPort
	platform   ports.PlatformPort
	gatekeeper *risk.Gatekeeper
	memEngine  *memory.Engine
	coordinator *execution.Coordinator
	monitor    *monitor.Monitor
	killSwitch *KillSwitch

	mu            sync.Mutex
	state         State
	cycleCount    int64
	lastCycleAt   time.Time
	faults        map[string]domain.AgentFault
	cooldownUntil map[string]time.Time
	peakEquity    float64

	paused int32

	pendingOutcomes chan domain.TradeOutcome
}

func New(
	cfg Config,
	reg *registry.Registry,
	providers []ports.DecisionProviderPort,
	dataFeed ports.DataProviderPort,
	platform ports.PlatformPort,
	gatekeeper *risk.Gatekeeper,
	memEngine *memory.Engine,
	coordinator *execution.Coordinator,
	mon *monitor.Monitor,
) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:             cfg,
		registry:        reg,
		providers:       providers,
		dataFeed:        dataFeed,
		platform:        platform,
		gatekeeper:      gatekeeper,
		memEngine:       memEngine,
		coordinator:     coordinator,
		monitor:         mon,
		killSwitch:      NewKillSwitch(cfg.RiskLimits.KillSwitchPct),
		state:           StateStartup,
		faults:          map[string]domain.AgentFault{},
		cooldownUntil:   map[string]time.Time{},
		pendingOutcomes: make(chan domain.TradeOutcome, 256),
	}
}

// SetMonitor wires the PositionMonitor after construction, since the
// monitor is built with the agent as its OutcomeSink (see PutOutcome)
// and therefore can't exist before the agent does.
func (a *Agent) SetMonitor(m *monitor.Monitor) {
	a.monitor = m
}

// PutOutcome implements monitor.OutcomeSink. It queues the outcome for
// the bounded LEARNING-phase drain (Config.MaxOutcomesPerLearning)
// instead of writing through to memEngine directly, so that bound
// actually limits the work done per cycle entry. A full queue drops the
// outcome rather than blocking the monitor's closePosition call.
func (a *Agent) PutOutcome(ctx context.Context, outcome domain.TradeOutcome) error {
	select {
	case a.pendingOutcomes <- outcome:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		observ.IncCounter("agent_pending_outcomes_full_total", nil)
		return nil
	}
}

// Status returns the current coalesced AgentStatus snapshot.
func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	faulted := make([]string, 0, len(a.faults))
	for k := range a.faults {
		faulted = append(faulted, k)
	}
	sort.Strings(faulted)
	return AgentStatus{
		State:              a.state,
		LastCycleAt:        a.lastCycleAt,
		CycleCount:         a.cycleCount,
		OpenPositionsCount: len(a.monitor.Snapshot()),
		KillSwitch:         string(a.killSwitch.State()),
		FaultedAssets:      faulted,
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	observ.Log("agent_state_transition", map[string]any{"state": string(s)})
}

// EmergencyStop is the operator-facing kill switch override.
func (a *Agent) EmergencyStop() { a.killSwitch.EmergencyStop() }

// Monitor exposes the underlying PositionMonitor so a caller can run
// POSITION_RECOVERY ahead of a one-shot DryRun.
func (a *Agent) Monitor() *monitor.Monitor { return a.monitor }

// DryRun executes REASONING and RISK_CHECK once and returns the
// approved decisions without dispatching them, for `cmd/agent replay`.
func (a *Agent) DryRun(ctx context.Context) []domain.Decision {
	breakdown, err := a.platform.PortfolioBreakdown(ctx)
	if err != nil {
		observ.LogError("dry_run_portfolio_breakdown_failed", err, nil)
		return nil
	}
	decisions := a.reason(ctx, breakdown)
	return a.riskCheck(decisions, breakdown)
}

// Pause holds the loop in IDLE indefinitely; Resume releases it. Both
// are safe to call from the control surface's HTTP handlers.
func (a *Agent) Pause()  { atomic.StoreInt32(&a.paused, 1) }
func (a *Agent) Resume() { atomic.StoreInt32(&a.paused, 0) }

// Run drives the OODA loop until ctx is cancelled. STARTUP runs once;
// thereafter the loop cycles IDLE -> LEARNING -> PERCEPTION -> REASONING
// -> RISK_CHECK -> EXECUTION -> IDLE, with RECOVERING entered on
// unexpected error and HALT entered whenever the kill switch trips.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	recoveryAttempts := 0
	for {
		select {
		case <-ctx.Done():
			a.drainOutcomes(context.Background())
			return ctx.Err()
		default:
		}

		if err := a.cycle(ctx); err != nil {
			recoveryAttempts++
			a.setState(StateRecovering)
			observ.LogError("agent_cycle_error", err, map[string]any{"attempt": recoveryAttempts})
			if recoveryAttempts >= a.cfg.MaxRecoveryAttempts {
				a.setState(StateHalt)
				return fmt.Errorf("exceeded max recovery attempts: %w", err)
			}
			backoffRecovery(ctx, recoveryAttempts)
			continue
		}
		recoveryAttempts = 0

		if a.killSwitch.Tripped() {
			a.setState(StateHalt)
			return nil
		}
	}
}

func backoffRecovery(ctx context.Context, attempt int) {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (a *Agent) startup(ctx context.Context) error {
	a.setState(StateStartup)
	go a.monitor.Run(ctx)

	a.setState(StatePositionRecovery)
	if err := a.monitor.Recover(ctx); err != nil {
		return err
	}
	return nil
}

// cycle runs exactly one full IDLE..EXECUTION pass.
func (a *Agent) cycle(ctx context.Context) error {
	traceID := uuid.New()
	observ.Log("agent_cycle_start", map[string]any{"trace_id": traceID.String(), "cycle": a.cycleCount + 1})

	a.setState(StateIdle)
	for {
		select {
		case <-time.After(a.cfg.AnalysisFrequency):
		case <-ctx.Done():
			return ctx.Err()
		}
		if atomic.LoadInt32(&a.paused) == 0 {
			break
		}
	}

	a.setState(StateLearning)
	a.drainOutcomes(ctx)

	a.setState(StatePerception)
	breakdown, err := a.platform.PortfolioBreakdown(ctx)
	if err != nil {
		return err
	}
	drawdown := a.trackDrawdown(breakdown.Equity)
	a.killSwitch.Update(drawdown)
	if a.killSwitch.Tripped() {
		return nil
	}

	a.setState(StateReasoning)
	decisions := a.reason(ctx, breakdown)

	a.setState(StateRiskCheck)
	approved := a.riskCheck(decisions, breakdown)

	a.setState(StateExecution)
	a.execute(ctx, approved)

	a.mu.Lock()
	a.cycleCount++
	a.lastCycleAt = time.Now()
	a.mu.Unlock()
	return nil
}

// trackDrawdown keeps a running peak-equity watermark and returns the
// current drawdown as a fraction of that peak, feeding KillSwitch.Update.
func (a *Agent) trackDrawdown(equity float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if equity <= 0 {
		return 0
	}
	if equity > a.peakEquity {
		a.peakEquity = equity
	}
	if a.peakEquity <= 0 {
		return 0
	}
	return (a.peakEquity - equity) / a.peakEquity
}

func (a *Agent) drainOutcomes(ctx context.Context) {
	for i := 0; i < a.cfg.MaxOutcomesPerLearning; i++ {
		select {
		case outcome := <-a.pendingOutcomes:
			if err := a.memEngine.PutOutcome(ctx, outcome); err != nil {
				observ.LogError("agent_learning_put_outcome_failed", err, nil)
			}
		default:
			return
		}
	}
}

// reason runs REASONING for every configured, non-faulted instrument
// concurrently, bounded by MaxConcurrentReasoning.
func (a *Agent) reason(ctx context.Context, breakdown ports.PortfolioBreakdown) []domain.Decision {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrentReasoning)

	var mu sync.Mutex
	var decisions []domain.Decision

	for _, inst := range a.cfg.Instruments {
		inst := inst
		if a.isFaulted(inst.Symbol) {
			continue
		}
		if a.inCooldown(inst.Symbol) {
			continue
		}
		g.Go(func() error {
			d, ok := a.reasonOne(gctx, inst)
			if ok {
				mu.Lock()
				decisions = append(decisions, d)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return decisions
}

func (a *Agent) reasonOne(ctx context.Context, inst domain.Instrument) (domain.Decision, bool) {
	quote, err := a.dataFeed.Quote(ctx, inst, "1m")
	if err != nil {
		a.recordFault(inst.Symbol)
		return domain.Decision{}, false
	}

	fresh := freshness.Check(a.cfg.FreshnessConfig, quote, time.Now())
	if !fresh.Fresh {
		return domain.Decision{}, false
	}

	similar, err := a.memEngine.Similar(ctx, 5, inst.Symbol)
	if err != nil {
		observ.LogError("agent_similar_context_lookup_failed", err, map[string]any{"symbol": inst.Symbol})
	}
	weights := a.memEngine.OracleWeights()
	ensCfg := a.cfg.EnsembleConfig
	if len(weights) > 0 {
		ensCfg.BaseWeights = weights
	}

	res := oracle.Query(ctx, a.registry, a.providers, promptFor(inst, quote, similar), a.cfg.OracleConfig)

	var failed []ensemble.Failed
	for id, f := range res.Failed {
		failed = append(failed, ensemble.Failed{OracleID: id, Reason: string(f.Kind)})
	}
	action, confidence, _, meta := ensemble.Aggregate(res.OK, failed, ensCfg)

	if meta.FallbackTier == domain.TierSingle && ensCfg.QuorumMin > 1 {
		action = domain.ActionNoDecision
	}
	if action == domain.ActionNoDecision || action == domain.ActionHold {
		return domain.Decision{}, false
	}

	a.clearFault(inst.Symbol)

	sizeResult := sizing.Size(a.cfg.SizingConfig, breakdownEquity(a), quote.Bid, stopLossFor(quote, action))
	size := sizeResult.Size
	d := domain.Decision{
		ID:           domain.NewDecisionID(),
		Instrument:   inst,
		Action:       action,
		Confidence:   confidence,
		Entry:        quote.Bid,
		StopLoss:     stopLossFor(quote, action),
		TakeProfit:   takeProfitFor(quote, action),
		EnsembleMeta: meta,
		SignalOnly:   sizeResult.SignalOnly,
		CreatedAt:    time.Now(),
	}
	if !sizeResult.SignalOnly {
		d.RecommendedSize = &size
	}

	a.memEngine.RecordContext(d, promptFor(inst, quote, similar))
	return d, true
}

func breakdownEquity(a *Agent) float64 {
	b, err := a.platform.PortfolioBreakdown(context.Background())
	if err != nil {
		return 0
	}
	return b.Equity
}

func stopLossFor(q domain.Quote, action domain.Action) float64 {
	if action == domain.ActionBuy {
		return q.Bid * 0.97
	}
	return q.Ask * 1.03
}

func takeProfitFor(q domain.Quote, action domain.Action) float64 {
	if action == domain.ActionBuy {
		return q.Bid * 1.05
	}
	return q.Ask * 0.95
}

func promptFor(inst domain.Instrument, q domain.Quote, similar []ports.SimilarContext) string {
	prompt := fmt.Sprintf("instrument=%s bid=%.4f ask=%.4f", inst.Symbol, q.Bid, q.Ask)
	if len(similar) > 0 {
		prompt += fmt.Sprintf(" similar_past=%d", len(similar))
	}
	return prompt
}

func (a *Agent) riskCheck(decisions []domain.Decision, breakdown ports.PortfolioBreakdown) []domain.Decision {
	var approved []domain.Decision
	for _, d := range decisions {
		rctx := risk.Context{
			Now:              time.Now(),
			Equity:           breakdown.Equity,
			SessionOpen:      true,
			FreshnessOK:      true,
			Limits:           a.cfg.RiskLimits,
			DailyTradeLimit:  a.cfg.RiskLimits.MaxDailyTrades,
		}
		v := a.gatekeeper.Evaluate(d, rctx)
		if v.Approved {
			approved = append(approved, d)
		}
	}
	return approved
}

func (a *Agent) execute(ctx context.Context, decisions []domain.Decision) {
	for _, d := range decisions {
		recompute := func(d domain.Decision) (domain.Decision, bool) { return d, false }
		res := a.coordinator.Execute(ctx, d, recompute, nil)
		if res.Status == execution.StatusFilled {
			a.setCooldown(d.Instrument.Symbol)
			a.monitor.NotifyDispatched(d, *res.OrderAck)
		}
	}
}

func (a *Agent) isFaulted(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.faults[symbol]
	if !ok {
		return false
	}
	if f.Decayed(time.Now(), a.cfg.FaultDecayWindow) {
		delete(a.faults, symbol)
		return false
	}
	return true
}

func (a *Agent) recordFault(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.faults[symbol]
	f.Instrument = symbol
	f.FailureCount++
	f.LastFailureTS = time.Now()
	a.faults[symbol] = f
}

func (a *Agent) clearFault(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.faults, symbol)
}

func (a *Agent) inCooldown(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.cooldownUntil[symbol]
	return ok && time.Now().Before(until)
}

func (a *Agent) setCooldown(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cooldownUntil[symbol] = time.Now().Add(a.cfg.CooldownAfterExecution)
}
