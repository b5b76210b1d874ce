package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oodatrading/agent/internal/domain"
	"github.com/oodatrading/agent/internal/ports"
	"github.com/oodatrading/agent/internal/registry"
)

type fakeProvider struct {
	id    string
	delay time.Duration
	err   error
	rec   domain.Recommendation
}

func (f fakeProvider) ID() string { return f.id }

func (f fakeProvider) Query(ctx context.Context, prompt string) (domain.Recommendation, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return domain.Recommendation{}, ctx.Err()
	}
	if f.err != nil {
		return domain.Recommendation{}, f.err
	}
	return f.rec, nil
}

func TestQuerySeparatesOKAndFailed(t *testing.T) {
	reg := registry.New(nil)
	providers := []ports.DecisionProviderPort{
		fakeProvider{id: "A", rec: domain.Recommendation{OracleID: "A", Action: domain.ActionBuy, Confidence: 80, Reasoning: "x"}},
		fakeProvider{id: "B", err: errors.New("boom")},
	}

	res := Query(context.Background(), reg, providers, "prompt", Config{PerCallTimeout: time.Second, GlobalDeadline: 2 * time.Second, MaxConcurrency: 4})

	if _, ok := res.OK["A"]; !ok {
		t.Fatal("expected A in OK")
	}
	if _, ok := res.Failed["B"]; !ok {
		t.Fatal("expected B in Failed")
	}
}

func TestQueryInvalidRecommendationMovesToFailed(t *testing.T) {
	reg := registry.New(nil)
	providers := []ports.DecisionProviderPort{
		fakeProvider{id: "C", rec: domain.Recommendation{OracleID: "C", Action: "", Confidence: 50, Reasoning: "x"}},
	}

	res := Query(context.Background(), reg, providers, "prompt", Config{PerCallTimeout: time.Second, GlobalDeadline: time.Second})

	if _, ok := res.OK["C"]; ok {
		t.Fatal("expected invalid recommendation to be excluded from OK")
	}
	if f, ok := res.Failed["C"]; !ok || f.Kind != FailureInvalid {
		t.Fatalf("expected C in Failed with InvalidOutput, got %+v", res.Failed["C"])
	}
}
