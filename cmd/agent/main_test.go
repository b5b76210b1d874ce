package main

import (
	"testing"

	"github.com/oodatrading/agent/internal/config"
	"github.com/oodatrading/agent/internal/domain"
)

func TestParseInstrumentsDefaultsWhenEmpty(t *testing.T) {
	got := parseInstruments("")
	if len(got) != 1 || got[0].Symbol != "BTC-USD" || got[0].Venue != "paper" || got[0].AssetClass != domain.AssetCrypto {
		t.Fatalf("expected default BTC-USD/paper/crypto instrument, got %+v", got)
	}
}

func TestParseInstrumentsFullySpecified(t *testing.T) {
	got := parseInstruments("AAPL:nasdaq:equity,BTC-USD:coinbase:crypto")
	if len(got) != 2 {
		t.Fatalf("expected 2 instruments, got %d: %+v", len(got), got)
	}
	if got[0] != (domain.Instrument{Symbol: "AAPL", Venue: "nasdaq", AssetClass: domain.AssetClass("equity")}) {
		t.Fatalf("unexpected first instrument: %+v", got[0])
	}
	if got[1] != (domain.Instrument{Symbol: "BTC-USD", Venue: "coinbase", AssetClass: domain.AssetClass("crypto")}) {
		t.Fatalf("unexpected second instrument: %+v", got[1])
	}
}

func TestParseInstrumentsPartialSpecFillsDefaults(t *testing.T) {
	got := parseOneInstrument("ETH-USD")
	want := domain.Instrument{Symbol: "ETH-USD", Venue: "paper", AssetClass: domain.AssetCrypto}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	got = parseOneInstrument("ETH-USD:kraken")
	want = domain.Instrument{Symbol: "ETH-USD", Venue: "kraken", AssetClass: domain.AssetCrypto}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestSplitColon(t *testing.T) {
	cases := map[string][]string{
		"a:b:c": {"a", "b", "c"},
		"a":     {"a"},
		"a:":    {"a", ""},
		"":      {""},
	}
	for input, want := range cases {
		got := splitColon(input)
		if len(got) != len(want) {
			t.Fatalf("splitColon(%q) = %v, want %v", input, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("splitColon(%q) = %v, want %v", input, got, want)
			}
		}
	}
}

func TestBuildProvidersDefaultsToThreeHeuristics(t *testing.T) {
	providers := buildProviders(config.Root{})
	if len(providers) != 3 {
		t.Fatalf("expected 3 default providers, got %d", len(providers))
	}
}

func TestBuildProvidersUsesConfiguredWeights(t *testing.T) {
	cfg := config.Root{Agent: config.Agent{ProviderWeights: map[string]float64{
		"oracle-a": 0.5,
		"oracle-b": 0.3,
		"oracle-c": 0.2,
	}}}
	providers := buildProviders(cfg)
	if len(providers) != 3 {
		t.Fatalf("expected 3 providers matching provider_weights keys, got %d", len(providers))
	}
	seen := map[string]bool{}
	for _, p := range providers {
		seen[p.ID()] = true
	}
	for id := range cfg.Agent.ProviderWeights {
		if !seen[id] {
			t.Fatalf("expected a provider for configured weight key %q", id)
		}
	}
}
