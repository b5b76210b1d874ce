package risk

import (
	"time"

	"github.com/oodatrading/agent/internal/domain"
)

// Context carries everything RiskGatekeeper needs to evaluate a single
// Decision: current positions, recent P&L, portfolio equity, the
// per-asset correlation matrix, session state and freshness — the
// inputs named in spec.md §4.5.
type Context struct {
	Now time.Time

	Equity           float64
	DayPnL           float64 // signed, in quote currency
	DailyTradesToday int
	DailyTradeLimit  int

	ExposureByInstrument map[string]float64 // |notional| currently held, by symbol
	Correlations         map[string]float64 // symbol -> correlation with the candidate instrument
	ReturnsHistory        []float64          // recent portfolio returns, for the VaR bootstrap

	SessionOpen   bool
	FreshnessOK   bool
	FreshnessWarn bool

	Limits domain.RiskLimits
}

type RejectReason string

const (
	RejectFreshness       RejectReason = "stale_data"
	RejectSession         RejectReason = "session_closed"
	RejectKillSwitch      RejectReason = "kill_switch"
	RejectDailyTradeCap   RejectReason = "daily_trade_cap"
	RejectDrawdown        RejectReason = "drawdown"
	RejectVaR             RejectReason = "var_exceeded"
	RejectConcentration   RejectReason = "concentration"
	RejectCorrelation     RejectReason = "correlation"
	RejectUnsizedExec     RejectReason = "unsized_executable_decision"
)

type Verdict struct {
	Approved bool
	Reason   RejectReason
	Detail   string
}
