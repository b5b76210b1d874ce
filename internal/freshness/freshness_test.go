package freshness

import (
	"testing"
	"time"

	"github.com/oodatrading/agent/internal/domain"
)

func TestFreshAtBoundaryIsNotFresh(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	q := domain.Quote{
		Instrument:   domain.Instrument{AssetClass: domain.AssetForex},
		SessionState: domain.SessionOpen,
		TS:           now.Add(-15 * time.Minute),
	}

	res := Check(cfg, q, now)
	if res.Fresh {
		t.Fatal("expected not-fresh at exactly the hard limit")
	}
	if res.Reason != ReasonStale {
		t.Fatalf("expected stale reason, got %q", res.Reason)
	}
}

func TestWarnBand(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	q := domain.Quote{
		Instrument:   domain.Instrument{AssetClass: domain.AssetForex},
		SessionState: domain.SessionOpen,
		TS:           now.Add(-10 * time.Minute),
	}

	res := Check(cfg, q, now)
	if !res.Fresh {
		t.Fatal("expected fresh=true with a warn reason inside the band")
	}
	if res.Reason != ReasonWarn {
		t.Fatalf("expected warn reason, got %q", res.Reason)
	}
}

func TestS4ForexTwentyMinutesStale(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	q := domain.Quote{
		Instrument:   domain.Instrument{AssetClass: domain.AssetForex},
		SessionState: domain.SessionOpen,
		TS:           now.Add(-20 * time.Minute),
	}

	res := Check(cfg, q, now)
	if res.Fresh {
		t.Fatal("expected S4: 20m stale forex quote during open session to be not-fresh")
	}
}
