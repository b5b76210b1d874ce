// Package sizing implements PositionSizer (C6): computes order size from
// balance, risk-per-trade, and stop distance, or marks a Decision
// signal-only when sizing would be unsafe. Grounded on the sizing guard
// pattern in internal/risk/caps.go's CanIncrease, generalized to the
// spec's risk_per_trade / stop-distance formula.
package sizing

const defaultMinimumFloor = 100.0 // equity floor for signal-only, in quote units

type Config struct {
	RiskPerTrade   float64
	MinimumFloor   float64 // default 100
	ConcentrationCap float64 // max notional, 0 = uncapped
}

// Result carries either a computed size or a signal_only verdict.
type Result struct {
	Size       float64
	SignalOnly bool
}

// Size implements size = (equity * risk_per_trade) / |entry - stop_loss|,
// capped by the concentration cap. MinimumFloor is an equity floor: at
// or below it the result is signal-only. The computed size is not raised
// to any venue minimum order size.
func Size(cfg Config, equity, entry, stopLoss float64) Result {
	floor := cfg.MinimumFloor
	if floor <= 0 {
		floor = defaultMinimumFloor
	}

	if equity <= floor {
		return Result{SignalOnly: true}
	}
	if entry == stopLoss || entry <= 0 || stopLoss < 0 || cfg.RiskPerTrade <= 0 {
		return Result{SignalOnly: true}
	}

	distance := entry - stopLoss
	if distance < 0 {
		distance = -distance
	}

	size := (equity * cfg.RiskPerTrade) / distance
	if cfg.ConcentrationCap > 0 {
		maxSizeByNotional := cfg.ConcentrationCap / entry
		if size > maxSizeByNotional {
			size = maxSizeByNotional
		}
	}

	return Result{Size: size}
}
