// Package monitor implements PositionMonitor (C7): a fixed-interval poll
// loop over the venue's position snapshot, a bounded pool of tracker
// goroutines for live P&L, and closure detection with the spec's
// exit-reason precedence. Grounded on internal/portfolio/state.go's
// Manager (atomic temp+rename persistence of the known-position set so
// a restart doesn't re-detect existing positions) and internal/risk/
// manager.go's ticker-driven monitoringLoop/healthMonitoringLoop
// goroutine style.
package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/observ"
	"github.com/oodatrading/agent/internal/ports"
)

// reducedFidelityPollEvery is how many poll ticks an overflow-tier
// position waits between updates; it still gets closure/TP/SL detection
// on those ticks, just no peak/trough tracking, per spec.md §4.7.
const reducedFidelityPollEvery = 4

type Config struct {
	PollInterval     time.Duration // default 30s
	MaxConcurrent    int           // default 2
	StateFile        string        // persisted set of known position ids
	StartupMaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.StartupMaxElapsed <= 0 {
		c.StartupMaxElapsed = 2 * time.Minute
	}
	return c
}

// OutcomeSink receives a TradeOutcome at least once; consumers (C8
// MemoryEngine) are required to dedupe on PositionID.
type OutcomeSink interface {
	PutOutcome(ctx context.Context, outcome domain.TradeOutcome) error
}

type Monitor struct {
	cfg      Config
	platform ports.PlatformPort
	sink     OutcomeSink

	mu        sync.Mutex
	known     map[string]*tracked
	knownPath string

	expected chan expectedOpen

	slots          chan struct{}        // K full-fidelity tracker-task permits
	overflowTokens chan struct{}        // 2K bounded overflow capacity (spec.md §5 back-pressure)
	closeSlots     chan struct{}        // bounds concurrent closePosition/outcome-delivery ops
	overflow       map[string]*tracked  // reduced-fidelity subset of known, keyed by id
}

type tracked struct {
	domain.Position
	lastPolledAt    time.Time
	lastPrice       float64 // most recently observed mark, used as the realised exit price
	reducedFidelity bool
	holdsSlot       bool
	pollSkip        int

	oracleIDs  []string  // EnsembleMeta.ProvidersUsed of the originating Decision, if any
	decisionID uuid.UUID // zero value for positions with no known originating Decision
}

type expectedOpen struct {
	instrument domain.Instrument
	side       domain.Side
	entry      float64
	stopLoss   float64
	takeProfit float64
	oracleIDs  []string
	decisionID uuid.UUID
}

func New(platform ports.PlatformPort, sink OutcomeSink, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:            cfg,
		platform:       platform,
		sink:           sink,
		known:          map[string]*tracked{},
		knownPath:      cfg.StateFile,
		expected:       make(chan expectedOpen, 64),
		slots:          make(chan struct{}, cfg.MaxConcurrent),
		overflowTokens: make(chan struct{}, cfg.MaxConcurrent*2),
		closeSlots:     make(chan struct{}, cfg.MaxConcurrent),
		overflow:       map[string]*tracked{},
	}
}

// NotifyDispatched is called by the agent after a filled execution so
// the fill is tracked as soon as Run receives it, instead of waiting to
// be rediscovered from a later snapshot. The originating Decision's oracle
// attribution travels with it so the eventual TradeOutcome can feed C8's
// oracle-selection policy.
func (m *Monitor) NotifyDispatched(d domain.Decision, ack ports.OrderAck) {
	side := domain.SideLong
	if d.Action == domain.ActionSell {
		side = domain.SideShort
	}
	select {
	case m.expected <- expectedOpen{
		instrument: d.Instrument, side: side, entry: d.Entry, stopLoss: d.StopLoss, takeProfit: d.TakeProfit,
		oracleIDs: d.EnsembleMeta.ProvidersUsed, decisionID: d.ID,
	}:
	default:
		observ.IncCounter("monitor_expected_queue_full_total", nil)
	}
}

// Recover runs startup recovery: it loads the persisted known set,
// fetches the portfolio breakdown with exponential-backoff retry, and
// starts tracking every open position not already known. Recovered
// positions carry no originating Decision (decision id uuid.Nil, no
// oracle attribution); no Decision record is created for them, and the
// monitor keeps no startup-complete flag.
func (m *Monitor) Recover(ctx context.Context) error {
	m.loadKnown()

	var breakdown ports.PortfolioBreakdown
	op := func() error {
		var err error
		breakdown, err = m.platform.PortfolioBreakdown(ctx)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = m.cfg.StartupMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	for _, pos := range breakdown.Positions {
		key := domain.StablePositionKey(pos.Instrument.Venue, pos.Instrument.Symbol, pos.Side, pos.EntryPrice)
		m.mu.Lock()
		_, already := m.known[key]
		m.mu.Unlock()
		if already {
			continue
		}
		pos.ID = key
		m.trackNew(ctx, pos, nil, uuid.Nil)
	}

	m.persistKnown()
	observ.IncCounter("monitor_recovered_positions_total", nil)
	return nil
}

func (m *Monitor) loadKnown() {
	if m.knownPath == "" {
		return
	}
	b, err := os.ReadFile(m.knownPath)
	if err != nil {
		return
	}
	var positions []domain.Position
	if json.Unmarshal(b, &positions) != nil {
		return
	}
	for _, p := range positions {
		p := p
		t := &tracked{Position: p, lastPrice: p.EntryPrice}
		// loadKnown runs once at startup before Run's poll loop begins,
		// so every slot/overflow token is free and this never blocks.
		m.assignFidelity(context.Background(), t)
		m.mu.Lock()
		m.known[p.ID] = t
		if t.reducedFidelity {
			m.overflow[p.ID] = t
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) persistKnown() {
	if m.knownPath == "" {
		return
	}
	m.mu.Lock()
	positions := make([]domain.Position, 0, len(m.known))
	for _, t := range m.known {
		positions = append(positions, t.Position)
	}
	m.mu.Unlock()

	b, err := json.Marshal(positions)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.knownPath), 0o755); err != nil {
		return
	}
	tmp := m.knownPath + ".tmp"
	if os.WriteFile(tmp, b, 0o644) != nil {
		return
	}
	_ = os.Rename(tmp, m.knownPath)
}

// Run polls the exchange snapshot at cfg.PollInterval until ctx is
// cancelled. It is meant to be launched as `go monitor.Run(ctx)` from
// TradingAgent's STARTUP transition.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		case exp := <-m.expected:
			m.trackExpected(ctx, exp)
		}
	}
}

func (m *Monitor) trackExpected(ctx context.Context, exp expectedOpen) {
	key := domain.StablePositionKey(exp.instrument.Venue, exp.instrument.Symbol, exp.side, exp.entry)
	m.mu.Lock()
	_, already := m.known[key]
	m.mu.Unlock()
	if already {
		return
	}

	t := &tracked{
		Position: domain.Position{
			ID: key, Instrument: exp.instrument, Side: exp.side,
			EntryPrice: exp.entry, StopLoss: exp.stopLoss, TakeProfit: exp.takeProfit,
			OpenedAt: time.Now(), State: domain.PositionOpening,
		},
		lastPrice:  exp.entry,
		oracleIDs:  exp.oracleIDs,
		decisionID: exp.decisionID,
	}
	m.assignFidelity(ctx, t)

	m.mu.Lock()
	if _, ok := m.known[key]; ok {
		// pollOnce discovered the same position first; release what we
		// grabbed rather than hold a slot nothing tracks.
		m.releaseFidelityLocked(t)
		m.mu.Unlock()
		return
	}
	m.known[key] = t
	if t.reducedFidelity {
		m.overflow[key] = t
	}
	m.mu.Unlock()
}

// assignFidelity gives t a full-fidelity slot if one is free, otherwise
// an overflow (reduced-fidelity) token, blocking until ctx is cancelled
// once both the K slots and the 2K overflow capacity are exhausted —
// the bounded-channel back-pressure spec.md §5 calls for.
func (m *Monitor) assignFidelity(ctx context.Context, t *tracked) {
	select {
	case m.slots <- struct{}{}:
		t.holdsSlot = true
		return
	default:
	}
	select {
	case m.overflowTokens <- struct{}{}:
		t.reducedFidelity = true
	case <-ctx.Done():
	}
}

// releaseFidelityLocked gives back whichever resource t holds. Callers
// must hold m.mu.
func (m *Monitor) releaseFidelityLocked(t *tracked) {
	if t.holdsSlot {
		<-m.slots
		t.holdsSlot = false
	}
	if t.reducedFidelity {
		<-m.overflowTokens
		t.reducedFidelity = false
	}
}

// promoteOverflowLocked moves as many reduced-fidelity positions back to
// full fidelity as there are free slots. Callers must hold m.mu.
func (m *Monitor) promoteOverflowLocked() {
	for key, t := range m.overflow {
		select {
		case m.slots <- struct{}{}:
			t.holdsSlot = true
			t.reducedFidelity = false
			delete(m.overflow, key)
			<-m.overflowTokens
		default:
			return
		}
	}
}

// trackNew assigns a newly-observed position (no pending expectedOpen,
// e.g. one rediscovered from a venue snapshot after a restart) a
// tracking fidelity tier and registers it.
func (m *Monitor) trackNew(ctx context.Context, p domain.Position, oracleIDs []string, decisionID uuid.UUID) {
	p.State = domain.PositionOpen
	t := &tracked{Position: p, lastPrice: p.EntryPrice, oracleIDs: oracleIDs, decisionID: decisionID}
	m.assignFidelity(ctx, t)

	m.mu.Lock()
	if _, ok := m.known[p.ID]; ok {
		m.releaseFidelityLocked(t)
		m.mu.Unlock()
		return
	}
	m.known[p.ID] = t
	if t.reducedFidelity {
		m.overflow[p.ID] = t
	}
	m.mu.Unlock()
}

// pollOnce fetches the venue's live position snapshot and reconciles it
// against the known set: newly-seen positions start tracking, and
// positions present in `known` but absent from the snapshot are closed
// with ExitReason=error (domain has no separate "disappeared" reason).
// Positions already closed by TP/SL or an explicit Close have left
// `known` by then and are not closed again.
func (m *Monitor) pollOnce(ctx context.Context) {
	live, err := m.platform.Positions(ctx)
	if err != nil {
		observ.IncCounter("monitor_poll_error_total", nil)
		return
	}

	seen := make(map[string]domain.Position, len(live))
	for _, p := range live {
		key := domain.StablePositionKey(p.Instrument.Venue, p.Instrument.Symbol, p.Side, p.EntryPrice)
		p.ID = key
		seen[key] = p
	}

	m.mu.Lock()
	m.promoteOverflowLocked()

	var toClose []*tracked
	var newPositions []domain.Position
	for key, t := range m.known {
		if _, ok := seen[key]; !ok {
			toClose = append(toClose, t)
			delete(m.known, key)
			delete(m.overflow, key)
			continue
		}
	}
	for key, p := range seen {
		t, ok := m.known[key]
		if !ok {
			newPositions = append(newPositions, p)
			continue
		}
		if t.reducedFidelity {
			t.pollSkip++
			if t.pollSkip%reducedFidelityPollEvery != 0 {
				continue
			}
			t.Position.Size = p.Size
			t.lastPrice = p.EntryPrice
			m.dispatchIfClosingEvent(ctx, t, p)
			continue
		}
		t.Position.Size = p.Size
		m.updateExtremes(t, p)
		m.dispatchIfClosingEvent(ctx, t, p)
	}
	m.mu.Unlock()

	for _, p := range newPositions {
		m.trackNew(ctx, p, nil, uuid.Nil)
	}

	for _, t := range toClose {
		m.closePosition(ctx, t, domain.ExitError)
	}

	m.persistKnown()
}

func (m *Monitor) updateExtremes(t *tracked, live domain.Position) {
	t.lastPrice = live.EntryPrice
	unrealised := unrealisedPnL(t.Position, live)
	if unrealised > t.PeakUnrealised {
		t.PeakUnrealised = unrealised
	}
	if unrealised < t.TroughUnrealised {
		t.TroughUnrealised = unrealised
	}
}

func unrealisedPnL(pos domain.Position, live domain.Position) float64 {
	sign := 1.0
	if pos.Side == domain.SideShort {
		sign = -1.0
	}
	return sign * (live.EntryPrice - pos.EntryPrice) * pos.Size
}

// dispatchIfClosingEvent checks TP/SL crossing on the live quote
// embedded in the snapshot; explicit close is handled by Close(), which
// takes precedence when it is called before the next poll tick
// observes the disappearance.
func (m *Monitor) dispatchIfClosingEvent(ctx context.Context, t *tracked, live domain.Position) {
	if t.TakeProfit != 0 && crossedTakeProfit(t.Position, live) {
		t.lastPrice = live.EntryPrice
		delete(m.known, t.ID)
		delete(m.overflow, t.ID)
		go m.closePosition(ctx, t, domain.ExitTakeProfit)
		return
	}
	if t.StopLoss != 0 && crossedStopLoss(t.Position, live) {
		t.lastPrice = live.EntryPrice
		delete(m.known, t.ID)
		delete(m.overflow, t.ID)
		go m.closePosition(ctx, t, domain.ExitStopLoss)
		return
	}
}

func crossedTakeProfit(pos, live domain.Position) bool {
	if pos.Side == domain.SideLong {
		return live.EntryPrice >= pos.TakeProfit
	}
	return live.EntryPrice <= pos.TakeProfit
}

func crossedStopLoss(pos, live domain.Position) bool {
	if pos.Side == domain.SideLong {
		return live.EntryPrice <= pos.StopLoss
	}
	return live.EntryPrice >= pos.StopLoss
}

// Close is the explicit-close path, reporting ExitManual; explicit close
// outranks every other exit reason. ExecutionCoordinator does not call
// it; it runs only when a caller invokes it directly.
func (m *Monitor) Close(ctx context.Context, positionID string) {
	m.mu.Lock()
	t, ok := m.known[positionID]
	if ok {
		delete(m.known, positionID)
		delete(m.overflow, positionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closePosition(ctx, t, domain.ExitManual)
}

// closePosition acquires a close slot (bounded to cfg.MaxConcurrent,
// independent of the live-tracking fidelity pool), gives back whichever
// fidelity resource t held, builds the TradeOutcome from the last
// observed mark price, and delivers it at-least-once to the sink,
// retrying a failed delivery with exponential backoff until it succeeds,
// ctx is cancelled, or backoff/v4's default 15-minute elapsed limit is
// reached.
func (m *Monitor) closePosition(ctx context.Context, t *tracked, reason domain.ExitReason) {
	select {
	case m.closeSlots <- struct{}{}:
		defer func() { <-m.closeSlots }()
	case <-ctx.Done():
		return
	}

	m.mu.Lock()
	m.releaseFidelityLocked(t)
	delete(m.overflow, t.ID)
	m.mu.Unlock()

	outcome := domain.TradeOutcome{
		PositionID: t.ID,
		DecisionID: t.decisionID,
		PnL:        realizedPnL(t.Position, t.lastPrice),
		ExitReason: reason,
		OracleIDs:  t.oracleIDs,
		ClosedAt:   time.Now(),
	}
	deliver := func() error { return m.sink.PutOutcome(ctx, outcome) }
	if err := backoff.Retry(deliver, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		observ.IncCounter("monitor_outcome_delivery_failed_total", nil)
	}
	m.persistKnown()
}

// realizedPnL mirrors unrealisedPnL but against the final observed mark
// price rather than a live quote, since domain.Position carries no
// separate exit-price field.
func realizedPnL(pos domain.Position, exitPrice float64) float64 {
	sign := 1.0
	if pos.Side == domain.SideShort {
		sign = -1.0
	}
	return sign * (exitPrice - pos.EntryPrice) * pos.Size
}

// Snapshot returns the currently tracked positions for status reporting.
func (m *Monitor) Snapshot() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.known))
	for _, t := range m.known {
		out = append(out, t.Position)
	}
	return out
}
