package sizing

import "testing"

func TestSizeFormula(t *testing.T) {
	cfg := Config{RiskPerTrade: 0.01}
	res := Size(cfg, 100000, 100, 95)
	want := (100000 * 0.01) / 5.0
	if res.SignalOnly {
		t.Fatal("expected a sized result")
	}
	if res.Size != want {
		t.Fatalf("size=%v, want %v", res.Size, want)
	}
}

func TestSignalOnlyBelowEquityFloor(t *testing.T) {
	cfg := Config{RiskPerTrade: 0.01}
	res := Size(cfg, 50, 100, 95)
	if !res.SignalOnly {
		t.Fatal("expected signal_only below the equity floor")
	}
}

func TestSignalOnlyWhenEntryEqualsStop(t *testing.T) {
	cfg := Config{RiskPerTrade: 0.01}
	res := Size(cfg, 100000, 100, 100)
	if !res.SignalOnly {
		t.Fatal("expected signal_only when entry == stop_loss")
	}
}

func TestConcentrationCapLimitsSize(t *testing.T) {
	cfg := Config{RiskPerTrade: 0.5, ConcentrationCap: 1000}
	res := Size(cfg, 100000, 100, 50)
	if res.Size*100 > 1000+1e-9 {
		t.Fatalf("size %v * entry exceeds concentration cap", res.Size)
	}
}
