// Package ensemble implements EnsembleAggregator (C4): the
// primary/majority/single-provider fallback ladder over oracle outputs.
// Grounded directly on internal/decision/engine.go's fuse/fuseWithoutPR
// tiering, generalized from the teacher's two-rung ladder (weighted,
// then single) into a three-rung ladder. There is no average rung:
// Aggregate never produces domain.TierAverage.
package ensemble

import (
	"math"
	"sort"

	"github.com/oodatrading/agent/internal/domain"
)

type VotingStrategy string

const (
	VotingWeighted VotingStrategy = "weighted"
	VotingMajority VotingStrategy = "majority"
	VotingStacking VotingStrategy = "stacking"
)

type Config struct {
	BaseWeights    map[string]float64
	QuorumMin      int
	VotingStrategy VotingStrategy
}

type Failed struct {
	OracleID string
	Reason   string
}

// Aggregate runs the full ladder described in spec.md §4.4 and returns
// the fused action/confidence/amount plus EnsembleMeta.
func Aggregate(ok map[string]domain.Recommendation, failed []Failed, cfg Config) (domain.Action, int, float64, domain.EnsembleMeta) {
	active := make([]string, 0, len(ok))
	for id := range ok {
		active = append(active, id)
	}
	sort.Strings(active)

	adjusted := renormalise(active, cfg.BaseWeights)

	var action domain.Action
	var tierConfidence float64
	var amount float64
	var tier domain.FallbackTier

	quorumMet := len(active) >= cfg.QuorumMin

	switch {
	// Primary needs both >=2 active oracles and quorum, and runs
	// whichever algorithm voting_strategy names (weighted by default);
	// with exactly one active oracle the ladder falls straight to
	// "single" even though the table's |A|>=1 precondition is nominally
	// met.
	case len(active) >= 2 && quorumMet:
		switch cfg.VotingStrategy {
		case VotingMajority:
			action, tierConfidence, amount = majorityTier(active, ok)
		case VotingStacking:
			action, tierConfidence, amount = stackingTier(active, ok, adjusted)
		default:
			action, tierConfidence, amount = weightedTier(active, ok, adjusted)
		}
		tier = domain.TierPrimary
	case len(active) >= 2:
		// Quorum not met: degrade to a plain majority vote regardless of
		// the configured strategy.
		action, tierConfidence, amount = majorityTier(active, ok)
		tier = domain.TierMajority
	}

	if tier == "" && len(active) >= 1 {
		action, tierConfidence, amount = singleTier(active, ok)
		tier = domain.TierSingle
	}

	if tier == "" {
		// No active oracles at all: nothing to fuse.
		meta := domain.EnsembleMeta{
			ProvidersFailed: failedIDs(failed),
			OriginalWeights: cfg.BaseWeights,
			AdjustedWeights: map[string]float64{},
			FallbackTier:    domain.TierSingle,
		}
		return domain.ActionNoDecision, 0, 0, meta
	}

	base := len(cfg.BaseWeights)
	if base == 0 {
		base = len(active)
	}
	factor := 0.7 + 0.3*(float64(len(active))/float64(base))

	// The quorum penalty scales the final confidence only; the reported
	// ConfidenceAdjustmentFactor stays the |A|/|base| factor.
	effective := factor
	if !quorumMet {
		effective *= 0.7
	}

	finalConfidence := int(math.Round(tierConfidence * effective))
	if finalConfidence < 0 {
		finalConfidence = 0
	}
	if finalConfidence > 100 {
		finalConfidence = 100
	}

	meta := domain.EnsembleMeta{
		ProvidersUsed:              active,
		ProvidersFailed:            failedIDs(failed),
		OriginalWeights:            cfg.BaseWeights,
		AdjustedWeights:            adjusted,
		FallbackTier:               tier,
		ConfidenceAdjustmentFactor: factor,
		QuorumMet:                  quorumMet,
	}

	return action, finalConfidence, amount, meta
}

func failedIDs(failed []Failed) []string {
	ids := make([]string, 0, len(failed))
	for _, f := range failed {
		ids = append(ids, f.OracleID)
	}
	return ids
}

// renormalise computes adjusted[i] = base[i] / sum(base[j] for j in
// active). If the sum is <= 0, weights are equalized across active.
func renormalise(active []string, base map[string]float64) map[string]float64 {
	sum := 0.0
	for _, id := range active {
		sum += base[id]
	}

	adjusted := make(map[string]float64, len(active))
	if sum <= 0 {
		if len(active) == 0 {
			return adjusted
		}
		equal := 1.0 / float64(len(active))
		for _, id := range active {
			adjusted[id] = equal
		}
		return adjusted
	}

	for _, id := range active {
		adjusted[id] = base[id] / sum
	}
	return adjusted
}

// actionPriority breaks ties HOLD > BUY > SELL, per spec.
func actionPriority(a domain.Action) int {
	switch a {
	case domain.ActionHold:
		return 2
	case domain.ActionBuy:
		return 1
	case domain.ActionSell:
		return 0
	default:
		return -1
	}
}

func weightedTier(active []string, ok map[string]domain.Recommendation, adjusted map[string]float64) (domain.Action, float64, float64) {
	weightByAction := map[domain.Action]float64{}
	for _, id := range active {
		rec := ok[id]
		weightByAction[rec.Action] += adjusted[id]
	}

	best := domain.ActionHold
	bestWeight := -1.0
	for action, w := range weightByAction {
		if w > bestWeight || (w == bestWeight && actionPriority(action) > actionPriority(best)) {
			bestWeight = w
			best = action
		}
	}

	confidence := 0.0
	amount := 0.0
	for _, id := range active {
		rec := ok[id]
		confidence += adjusted[id] * float64(rec.Confidence)
		if rec.Amount != nil {
			amount += adjusted[id] * (*rec.Amount)
		}
	}

	return best, confidence, amount
}

func majorityTier(active []string, ok map[string]domain.Recommendation) (domain.Action, float64, float64) {
	votes := map[domain.Action]int{}
	for _, id := range active {
		votes[ok[id].Action]++
	}

	best := domain.ActionHold
	bestVotes := -1
	for action, v := range votes {
		if v > bestVotes || (v == bestVotes && actionPriority(action) > actionPriority(best)) {
			bestVotes = v
			best = action
		}
	}

	sumConf, sumAmt, n := 0.0, 0.0, 0
	for _, id := range active {
		rec := ok[id]
		if rec.Action != best {
			continue
		}
		sumConf += float64(rec.Confidence)
		if rec.Amount != nil {
			sumAmt += *rec.Amount
		}
		n++
	}
	if n == 0 {
		return best, 0, 0
	}
	return best, sumConf / float64(n), sumAmt / float64(n)
}

// stackingTier blends the two base voters: the action comes from the
// majority vote (robust to one oracle's weight dominating), while
// confidence and amount come from the weighted blend, the way a
// meta-learner combines base-model outputs rather than re-deriving its
// own from scratch.
func stackingTier(active []string, ok map[string]domain.Recommendation, adjusted map[string]float64) (domain.Action, float64, float64) {
	action, _, _ := majorityTier(active, ok)
	_, confidence, amount := weightedTier(active, ok, adjusted)
	return action, confidence, amount
}

func singleTier(active []string, ok map[string]domain.Recommendation) (domain.Action, float64, float64) {
	bestID := active[0]
	for _, id := range active {
		if ok[id].Confidence > ok[bestID].Confidence {
			bestID = id
		}
	}
	rec := ok[bestID]
	amount := 0.0
	if rec.Amount != nil {
		amount = *rec.Amount
	}
	return rec.Action, float64(rec.Confidence), amount
}
