// paperadapters.go adapts the teacher's fixture-payload style (types.go's
// Tick/NewsItem JSON shapes, loaded straight off disk) into thin,
// in-memory reference implementations of the ports interfaces, for use
// by cmd/agent when no real venue/LLM/chat adapter is configured. These
// are reference fixtures, not production adapters — concrete wire
// protocols remain out of scope per internal/ports/ports.go.
package stubs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ports"
)

// PaperQuotes is a DataProviderPort backed by either a random walk
// seeded per instrument, or (when seeded via WithFixtureTicks) a
// recorded tick series replayed in order — so `replay` exercises the
// same price path run to run instead of a synthetic one.
type PaperQuotes struct {
	mu      sync.Mutex
	rng     *rand.Rand
	price   map[string]float64
	series  map[string][]Tick
	cursor  map[string]int
}

func NewPaperQuotes() *PaperQuotes {
	return &PaperQuotes{rng: rand.New(rand.NewSource(7)), price: map[string]float64{}}
}

// WithFixtureTicks replays series[symbol] in order on each successive
// Quote call for that symbol, falling back to the random walk once a
// series is exhausted.
func (p *PaperQuotes) WithFixtureTicks(series map[string][]Tick) *PaperQuotes {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series = series
	p.cursor = make(map[string]int, len(series))
	return p
}

func (p *PaperQuotes) Quote(ctx context.Context, instrument domain.Instrument, timeframe string) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tick, ok := p.nextFixtureTick(instrument.Symbol); ok {
		p.price[instrument.Symbol] = tick.Last
		return domain.Quote{
			Instrument:   instrument,
			Bid:          tick.Bid,
			Ask:          tick.Ask,
			TS:           time.Now(),
			SessionState: domain.SessionOpen,
		}, nil
	}

	base, ok := p.price[instrument.Symbol]
	if !ok {
		base = 100 + p.rng.Float64()*50
	}
	base += (p.rng.Float64() - 0.5) * base * 0.002
	p.price[instrument.Symbol] = base

	return domain.Quote{
		Instrument:   instrument,
		Bid:          base,
		Ask:          base * 1.0005,
		TS:           time.Now(),
		SessionState: domain.SessionOpen,
	}, nil
}

func (p *PaperQuotes) nextFixtureTick(symbol string) (Tick, bool) {
	series, ok := p.series[symbol]
	if !ok {
		return Tick{}, false
	}
	i := p.cursor[symbol]
	if i >= len(series) {
		return Tick{}, false
	}
	p.cursor[symbol] = i + 1
	return series[i], true
}

func (p *PaperQuotes) Candles(ctx context.Context, instrument domain.Instrument, timeframe string, n int) ([]ports.Candle, error) {
	p.mu.Lock()
	base := p.price[instrument.Symbol]
	p.mu.Unlock()
	if base == 0 {
		base = 100
	}

	candles := make([]ports.Candle, n)
	ts := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		candles[i] = ports.Candle{TS: ts, Open: base, High: base * 1.001, Low: base * 0.999, Close: base, Volume: 1000}
		ts = ts.Add(time.Minute)
	}
	return candles, nil
}

// PaperVenue is a PlatformPort that fills every order instantly,
// tracking positions in memory. Open takes no price: the recorded entry
// is the midpoint of stop loss and take profit (the stop loss alone when
// that midpoint is zero).
type PaperVenue struct {
	mu        sync.Mutex
	equity    float64
	positions map[string]domain.Position
}

func NewPaperVenue(startingEquity float64) *PaperVenue {
	return &PaperVenue{equity: startingEquity, positions: map[string]domain.Position{}}
}

func (v *PaperVenue) Balance(ctx context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.equity, nil
}

func (v *PaperVenue) Positions(ctx context.Context) ([]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	return out, nil
}

func (v *PaperVenue) PortfolioBreakdown(ctx context.Context) (ports.PortfolioBreakdown, error) {
	positions, _ := v.Positions(ctx)
	v.mu.Lock()
	equity := v.equity
	v.mu.Unlock()
	return ports.PortfolioBreakdown{Equity: equity, Positions: positions}, nil
}

func (v *PaperVenue) Open(ctx context.Context, instrument domain.Instrument, side domain.Side, size, stopLoss, takeProfit float64, clientOrderID string) (ports.OrderAck, error) {
	entry := (stopLoss + takeProfit) / 2
	if entry == 0 {
		entry = stopLoss
	}
	key := domain.StablePositionKey(instrument.Venue, instrument.Symbol, side, entry)
	v.mu.Lock()
	v.positions[key] = domain.Position{
		ID: key, Instrument: instrument, Side: side, Size: size, EntryPrice: entry,
		StopLoss: stopLoss, TakeProfit: takeProfit, OpenedAt: time.Now(), State: domain.PositionOpen,
	}
	v.mu.Unlock()
	return ports.OrderAck{ClientOrderID: clientOrderID, VenueOrderID: fmt.Sprintf("paper-%d", time.Now().UnixNano()), AcceptedAt: time.Now()}, nil
}

func (v *PaperVenue) Close(ctx context.Context, positionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.positions, positionID)
	return nil
}

// HeuristicOracle is a DecisionProviderPort that votes BUY/SELL/HOLD
// from a deterministic score computed from the prompt's length and the
// oracle's bias, standing in for a real LLM or rules-engine adapter.
type HeuristicOracle struct {
	id   string
	bias float64 // [-1,1], shifts the BUY/SELL balance
}

func NewHeuristicOracle(id string, bias float64) *HeuristicOracle {
	return &HeuristicOracle{id: id, bias: bias}
}

func (h *HeuristicOracle) ID() string { return h.id }

func (h *HeuristicOracle) Query(ctx context.Context, prompt string) (domain.Recommendation, error) {
	score := math.Sin(float64(len(prompt))+h.bias) + h.bias
	action := domain.ActionHold
	switch {
	case score > 0.3:
		action = domain.ActionBuy
	case score < -0.3:
		action = domain.ActionSell
	}
	confidence := int(50 + math.Abs(score)*40)
	if confidence > 100 {
		confidence = 100
	}
	return domain.Recommendation{
		OracleID:   h.id,
		Action:     action,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("momentum heuristic score=%.3f", score),
		ProducedAt: time.Now(),
	}, nil
}

// LogApproval is an ApprovalTransportPort that always acks by logging
// the decision, standing in for a chat/ticketing transport.
type LogApproval struct{}

func (LogApproval) Publish(ctx context.Context, decision domain.Decision) (ports.Ack, error) {
	return ports.Ack{Acked: true, At: time.Now()}, nil
}
