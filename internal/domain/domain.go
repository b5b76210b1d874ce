// Package domain holds the entities shared across the decision-and-execution
// pipeline: Instrument, Quote, Recommendation, Decision, EnsembleMeta,
// Position, TradeOutcome, OracleStats, RiskLimits and AgentFault.
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetForex  AssetClass = "forex"
	AssetEquity AssetClass = "equity"
)

type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionClosed  SessionState = "closed"
	SessionWeekend SessionState = "weekend"
)

// Instrument is immutable after creation and used as the routing key
// throughout the pipeline.
type Instrument struct {
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Venue      string     `json:"venue"`
}

type Quote struct {
	Instrument   Instrument   `json:"instrument"`
	Bid          float64      `json:"bid"`
	Ask          float64      `json:"ask"`
	TS           time.Time    `json:"ts"`
	SessionState SessionState `json:"session_state"`
}

type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionHold       Action = "HOLD"
	ActionNoDecision Action = "NO_DECISION"
)

// Recommendation is a single oracle's output for one instrument.
type Recommendation struct {
	OracleID    string    `json:"oracle_id"`
	Action      Action    `json:"action"`
	Confidence  int       `json:"confidence"` // 0..100
	Reasoning   string    `json:"reasoning"`
	Amount      *float64  `json:"amount,omitempty"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	TakeProfit  *float64  `json:"take_profit,omitempty"`
	ProducedAt  time.Time `json:"produced_at"`
}

// Valid reports whether the recommendation satisfies the spec's validity
// rule: a defined action, an integer confidence in [0,100], non-empty
// reasoning.
func (r Recommendation) Valid() bool {
	if r.Action == "" {
		return false
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return false
	}
	if r.Reasoning == "" {
		return false
	}
	return true
}

type FallbackTier string

const (
	TierPrimary  FallbackTier = "primary"
	TierMajority FallbackTier = "majority"
	TierAverage  FallbackTier = "average"
	TierSingle   FallbackTier = "single"
)

// EnsembleMeta records how a Decision's action/confidence/amount were
// derived from the underlying oracle responses.
type EnsembleMeta struct {
	ProvidersUsed             []string           `json:"providers_used"`
	ProvidersFailed           []string           `json:"providers_failed"`
	OriginalWeights           map[string]float64 `json:"original_weights"`
	AdjustedWeights           map[string]float64 `json:"adjusted_weights"`
	FallbackTier              FallbackTier       `json:"fallback_tier"`
	ConfidenceAdjustmentFactor float64           `json:"confidence_adjustment_factor"`
	QuorumMet                 bool               `json:"quorum_met"`
}

// Decision is the immutable, post-aggregation record. Its ID doubles as
// the idempotency key for ExecutionCoordinator.
type Decision struct {
	ID                uuid.UUID    `json:"id"`
	Instrument        Instrument   `json:"instrument"`
	Action            Action       `json:"action"`
	Confidence        int          `json:"confidence"`
	RecommendedSize   *float64     `json:"recommended_size,omitempty"`
	Entry             float64      `json:"entry"`
	StopLoss          float64      `json:"stop_loss"`
	TakeProfit        float64      `json:"take_profit"`
	EnsembleMeta      EnsembleMeta `json:"ensemble_meta"`
	SignalOnly        bool         `json:"signal_only"`
	CreatedAt         time.Time    `json:"created_at"`
}

func NewDecisionID() uuid.UUID { return uuid.New() }

type PositionState string

const (
	PositionOpening PositionState = "opening"
	PositionOpen    PositionState = "open"
	PositionClosing PositionState = "closing"
	PositionClosed  PositionState = "closed"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is identified by a stable key (venue, instrument, side,
// entry_price) so PositionMonitor restarts don't re-detect it as new.
type Position struct {
	ID               string        `json:"id"`
	Instrument       Instrument    `json:"instrument"`
	Side             Side          `json:"side"`
	EntryPrice       float64       `json:"entry_price"`
	Size             float64       `json:"size"`
	OpenedAt         time.Time     `json:"opened_at"`
	StopLoss         float64       `json:"stop_loss"`
	TakeProfit       float64       `json:"take_profit"`
	PeakUnrealised   float64       `json:"peak_unrealised"`
	TroughUnrealised float64       `json:"trough_unrealised"`
	State            PositionState `json:"state"`
}

// StablePositionKey mirrors §3's hash(venue, instrument, side, entry_price).
func StablePositionKey(venue, symbol string, side Side, entryPrice float64) string {
	// Fixed precision keeps the hash stable across float formatting
	// differences on different architectures.
	price := strconv.FormatFloat(entryPrice, 'f', 8, 64)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(venue+"|"+symbol+"|"+string(side)+"|"+price)).String()
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitManual     ExitReason = "manual"
	ExitTimeout    ExitReason = "timeout"
	ExitError      ExitReason = "error"
)

// TradeOutcome is written exactly once per closed position.
type TradeOutcome struct {
	PositionID string     `json:"position_id"`
	DecisionID uuid.UUID  `json:"decision_id"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`
	Duration   time.Duration `json:"duration"`
	ExitReason ExitReason `json:"exit_reason"`
	OracleIDs  []string   `json:"oracle_ids"`
	RegimeTag  string     `json:"regime_tag"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// OracleStats tracks per-oracle lifetime performance, updated
// monotonically from TradeOutcome events via an EMA.
type OracleStats struct {
	OracleID    string  `json:"oracle_id"`
	Total       int     `json:"total"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	AvgPnL      float64 `json:"avg_pnl"`
	EMAWinRate  float64 `json:"ema_win_rate"`
}

// RiskLimits is process-wide configuration consumed by RiskGatekeeper.
type RiskLimits struct {
	MaxDrawdown          float64 `yaml:"max_drawdown"`
	MaxVaR               float64 `yaml:"max_var_pct"`
	MaxSinglePosition    float64 `yaml:"max_single_position"`
	MaxCorrelated        int     `yaml:"max_correlated"`
	CorrelationThreshold float64 `yaml:"correlation_threshold"`
	MaxDailyTrades       int     `yaml:"max_daily_trades"`
	KillSwitchPct        float64 `yaml:"kill_switch_pct"`
}

// AgentFault tracks per-instrument failure streaks. REASONING skips a
// faulted instrument until Decayed reports that the fixed decay window
// has passed since LastFailureTS; FailureCount does not lengthen that
// window.
type AgentFault struct {
	Instrument    string    `json:"instrument"`
	FailureCount  int       `json:"failure_count"`
	LastFailureTS time.Time `json:"last_failure_ts"`
}

// Decayed reports whether the fault window has expired given now and a
// decay window, so stale faults stop penalising an instrument.
func (f AgentFault) Decayed(now time.Time, window time.Duration) bool {
	return now.Sub(f.LastFailureTS) > window
}
