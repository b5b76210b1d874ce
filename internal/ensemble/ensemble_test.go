package ensemble

import (
	"math"
	"testing"

	"github.com/oodatrading/agent/internal/domain"
)

func amt(v float64) *float64 { return &v }

func TestS1WeightRenormalisation(t *testing.T) {
	cfg := Config{
		BaseWeights:    map[string]float64{"A": 0.25, "B": 0.25, "C": 0.25, "D": 0.25},
		QuorumMin:      3,
		VotingStrategy: VotingWeighted,
	}
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
		"C": {OracleID: "C", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
		"D": {OracleID: "D", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
	}
	failed := []Failed{{OracleID: "B", Reason: "timeout"}}

	_, _, _, meta := Aggregate(ok, failed, cfg)

	for _, id := range []string{"A", "C", "D"} {
		if math.Abs(meta.AdjustedWeights[id]-1.0/3.0) > 1e-3 {
			t.Fatalf("adjusted[%s]=%v, want ~0.333", id, meta.AdjustedWeights[id])
		}
	}
	if _, present := meta.AdjustedWeights["B"]; present {
		t.Fatal("adjusted weights must not contain failed oracle B")
	}
	if math.Abs(meta.ConfidenceAdjustmentFactor-0.925) > 1e-3 {
		t.Fatalf("factor=%v, want 0.925", meta.ConfidenceAdjustmentFactor)
	}
	if meta.FallbackTier != domain.TierPrimary {
		t.Fatalf("tier=%s, want primary", meta.FallbackTier)
	}
}

func TestS2MajorityFallbackOnMissedQuorum(t *testing.T) {
	cfg := Config{
		BaseWeights:    map[string]float64{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3},
		QuorumMin:      4, // only 3 active below: quorum missed, primary tier is skipped
		VotingStrategy: VotingWeighted,
	}
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
		"B": {OracleID: "B", Action: domain.ActionBuy, Confidence: 70, Reasoning: "x"},
		"C": {OracleID: "C", Action: domain.ActionSell, Confidence: 90, Reasoning: "x"},
	}

	action, _, _, meta := Aggregate(ok, nil, cfg)

	if action != domain.ActionBuy {
		t.Fatalf("action=%s, want BUY", action)
	}
	if meta.FallbackTier != domain.TierMajority {
		t.Fatalf("tier=%s, want majority", meta.FallbackTier)
	}
}

func TestS2bVotingStrategySelectsThePrimaryAlgorithm(t *testing.T) {
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
		"B": {OracleID: "B", Action: domain.ActionBuy, Confidence: 70, Reasoning: "x"},
		"C": {OracleID: "C", Action: domain.ActionSell, Confidence: 90, Reasoning: "x"},
	}
	baseWeights := map[string]float64{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3}

	action, _, _, meta := Aggregate(ok, nil, Config{
		BaseWeights: baseWeights, QuorumMin: 3, VotingStrategy: VotingMajority,
	})
	if meta.FallbackTier != domain.TierPrimary {
		t.Fatalf("tier=%s, want primary", meta.FallbackTier)
	}
	if action != domain.ActionBuy {
		t.Fatalf("majority strategy action=%s, want BUY", action)
	}

	action, _, _, meta = Aggregate(ok, nil, Config{
		BaseWeights: baseWeights, QuorumMin: 3, VotingStrategy: VotingStacking,
	})
	if meta.FallbackTier != domain.TierPrimary {
		t.Fatalf("tier=%s, want primary", meta.FallbackTier)
	}
	if action != domain.ActionBuy {
		t.Fatalf("stacking strategy action=%s, want BUY", action)
	}
}

func TestS3SingleProviderQuorumPenalty(t *testing.T) {
	cfg := Config{
		BaseWeights:    map[string]float64{"A": 0.25, "B": 0.25, "C": 0.25, "D": 0.25},
		QuorumMin:      3,
		VotingStrategy: VotingWeighted,
	}
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"},
	}
	failed := []Failed{{OracleID: "B"}, {OracleID: "C"}, {OracleID: "D"}}

	_, confidence, _, meta := Aggregate(ok, failed, cfg)

	if meta.FallbackTier != domain.TierSingle {
		t.Fatalf("tier=%s, want single", meta.FallbackTier)
	}
	if meta.QuorumMet {
		t.Fatal("expected quorum_met=false with quorum_min=3 and |A|=1")
	}
	if math.Abs(meta.ConfidenceAdjustmentFactor-0.775) > 1e-3 {
		t.Fatalf("factor=%v, want 0.775", meta.ConfidenceAdjustmentFactor)
	}
	want := int(math.Round(80 * 0.775 * 0.7))
	if confidence != want {
		t.Fatalf("confidence=%d, want %d", confidence, want)
	}
}

func TestWeightsAlwaysSumToOne(t *testing.T) {
	cfg := Config{
		BaseWeights:    map[string]float64{"A": 0.4, "B": 0.1, "C": 0.5},
		QuorumMin:      1,
		VotingStrategy: VotingWeighted,
	}
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 60, Reasoning: "x"},
		"C": {OracleID: "C", Action: domain.ActionHold, Confidence: 50, Reasoning: "x"},
	}

	_, _, _, meta := Aggregate(ok, []Failed{{OracleID: "B"}}, cfg)

	sum := 0.0
	for _, w := range meta.AdjustedWeights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("adjusted weights sum=%v, want 1.0 +/- 1e-6", sum)
	}
}

func TestConfidenceAdjustmentFactorBounds(t *testing.T) {
	cfg := Config{
		BaseWeights:    map[string]float64{"A": 1.0},
		QuorumMin:      1,
		VotingStrategy: VotingWeighted,
	}
	ok := map[string]domain.Recommendation{
		"A": {OracleID: "A", Action: domain.ActionBuy, Confidence: 100, Reasoning: "x"},
	}

	_, confidence, _, meta := Aggregate(ok, nil, cfg)

	if meta.ConfidenceAdjustmentFactor < 0.7 || meta.ConfidenceAdjustmentFactor > 1.0 {
		t.Fatalf("factor out of bounds: %v", meta.ConfidenceAdjustmentFactor)
	}
	if confidence < 0 || confidence > 100 {
		t.Fatalf("final confidence out of bounds: %d", confidence)
	}
}
