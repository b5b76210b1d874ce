package stubs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir, name string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFixtureEventsOrderAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "news.json", newsPayload{News: []NewsItem{{ID: "n1", Headline: "headline"}}})
	writeFixture(t, dir, "ticks.json", ticksPayload{Ticks: []Tick{{Symbol: "BTC-USD", Last: 100}}})
	// halts.json and earnings_calendar.json deliberately absent.

	events, err := LoadFixtureEvents(dir)
	if err != nil {
		t.Fatalf("LoadFixtureEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (news, tick), got %d: %+v", len(events), events)
	}
	if events[0].Type != "news" {
		t.Fatalf("expected news event first, got %q", events[0].Type)
	}
	if events[1].Type != "tick" {
		t.Fatalf("expected tick event second, got %q", events[1].Type)
	}
}

func TestLoadFixtureEventsEmptyDir(t *testing.T) {
	events, err := LoadFixtureEvents(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFixtureEvents on empty dir: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestTicksBySymbolGroupsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "ticks.json", ticksPayload{Ticks: []Tick{
		{Symbol: "BTC-USD", Last: 100},
		{Symbol: "ETH-USD", Last: 10},
		{Symbol: "BTC-USD", Last: 101},
	}})

	events, err := LoadFixtureEvents(dir)
	if err != nil {
		t.Fatalf("LoadFixtureEvents: %v", err)
	}

	bySymbol := TicksBySymbol(events)
	if len(bySymbol["BTC-USD"]) != 2 {
		t.Fatalf("expected 2 BTC-USD ticks, got %d", len(bySymbol["BTC-USD"]))
	}
	if bySymbol["BTC-USD"][0].Last != 100 || bySymbol["BTC-USD"][1].Last != 101 {
		t.Fatalf("expected ticks preserved in arrival order, got %+v", bySymbol["BTC-USD"])
	}
	if len(bySymbol["ETH-USD"]) != 1 {
		t.Fatalf("expected 1 ETH-USD tick, got %d", len(bySymbol["ETH-USD"]))
	}
}
