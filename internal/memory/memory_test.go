package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oodatrading/agent/internal/domain"
)

func TestPutOutcomeUpdatesEMAAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(Config{Root: dir, EMAAlpha: 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := domain.TradeOutcome{
		PositionID: "pos-" + uuid.NewString(),
		DecisionID: uuid.New(),
		PnL:        100,
		OracleIDs:  []string{"A"},
		ClosedAt:   time.Now(),
	}

	if err := eng.PutOutcome(context.Background(), out); err != nil {
		t.Fatalf("PutOutcome: %v", err)
	}
	if err := eng.PutOutcome(context.Background(), out); err != nil {
		t.Fatalf("PutOutcome (dup): %v", err)
	}

	weights := eng.OracleWeights()
	if weights["A"] != 1.0 {
		t.Fatalf("expected EMA=1.0 after a single win, got %v", weights["A"])
	}

	b, err := os.ReadFile(eng.outcomeLogPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := 0
	for _, c := range b {
		if c == '\n' {
			lines++
		}
	}
	if lines != 1 {
		t.Fatalf("expected exactly one log line despite duplicate delivery, got %d", lines)
	}
}

func TestOracleWeightFloor(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(Config{Root: dir, EMAAlpha: 0.5, WeightFloor: 0.05})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := domain.TradeOutcome{PositionID: "p1", DecisionID: uuid.New(), PnL: -10, OracleIDs: []string{"B"}}
	if err := eng.PutOutcome(context.Background(), out); err != nil {
		t.Fatalf("PutOutcome: %v", err)
	}

	if w := eng.OracleWeights()["B"]; w < 0.05 {
		t.Fatalf("expected weight clamped to floor 0.05, got %v", w)
	}
}

func TestSimilarRanksByCosineSimilarity(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(Config{Root: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d1 := domain.Decision{ID: uuid.New()}
	d2 := domain.Decision{ID: uuid.New()}
	eng.RecordContext(d1, "earnings beat guidance raised")
	eng.RecordContext(d2, "weather forecast sunny")

	results, err := eng.Similar(context.Background(), 1, "earnings beat guidance raised")
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Decision.ID != d1.ID {
		t.Fatalf("expected the more similar context to rank first")
	}
}
