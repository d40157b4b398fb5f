package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"repartition/internal/domain"
)

type staticRules struct {
	rules *domain.RuleSet
	err   error
}

func (s staticRules) Active(context.Context) (*domain.RuleSet, error) {
	return s.rules, s.err
}

type recordingHistory struct {
	mu      sync.Mutex
	records []*domain.DistributionRecord
}

func (h *recordingHistory) Record(_ context.Context, result *domain.DistributionResult, opts domain.RecordOptions) (*domain.DistributionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := &domain.DistributionRecord{
		ID:           "rec-1",
		CaseNumber:   opts.CaseNumber,
		ComputedAt:   time.Now(),
		ComputedBy:   opts.ComputedBy,
		Result:       result.Clone(),
		Overridden:   opts.Overridden,
		Acknowledged: opts.Acknowledged,
	}
	h.records = append(h.records, rec)
	return rec, nil
}

type countingMetrics struct {
	computed, failed, commits, overrides int
}

func (m *countingMetrics) RecordComputation(*domain.DistributionResult, time.Duration) { m.computed++ }
func (m *countingMetrics) RecordComputationFailure() { m.failed++ }
func (m *countingMetrics) RecordCommit(overridden bool) {
	m.commits++
	if overridden {
		m.overrides++
	}
}

func newTestProcessor(t *testing.T, rules *domain.RuleSet) (*DistributionProcessor, *recordingHistory, *countingMetrics) {
	t.Helper()
	history := &recordingHistory{}
	metrics := &countingMetrics{}
	proc := NewDistributionProcessor(NewAllocationEngine(EqualSplit{}), staticRules{rules: rules}, history, metrics, nil)
	return proc, history, metrics
}

func TestDistributionProcessor_ComputeUsesActiveRules(t *testing.T) {
	ctx := context.Background()
	proc, _, metrics := newTestProcessor(t, scenarioRules(t))

	res, err := proc.Compute(ctx, scenarioInput())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tresor != 372_000 {
		t.Errorf("expected tresor 372000, got %d", res.Tresor)
	}
	if metrics.computed != 1 {
		t.Errorf("expected one computation recorded, got %d", metrics.computed)
	}
}

func TestDistributionProcessor_ComputeRuleSourceError(t *testing.T) {
	boom := errors.New("store offline")
	proc := NewDistributionProcessor(nil, staticRules{err: boom}, &recordingHistory{}, nil, nil)

	_, err := proc.Compute(context.Background(), scenarioInput())

	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestDistributionProcessor_ComputeInvalidInputCountsFailure(t *testing.T) {
	proc, _, metrics := newTestProcessor(t, scenarioRules(t))
	in := scenarioInput()
	in.FineAmount = -5

	_, err := proc.Compute(context.Background(), in)

	if !errors.Is(err, domain.ErrNegativeMonetaryValue) {
		t.Fatalf("expected ErrNegativeMonetaryValue, got %v", err)
	}
	if metrics.failed != 1 {
		t.Errorf("expected one failure recorded, got %d", metrics.failed)
	}
}

func TestDistributionProcessor_CommitConsistent(t *testing.T) {
	ctx := context.Background()
	proc, history, metrics := newTestProcessor(t, scenarioRules(t))
	res, _ := proc.Compute(ctx, scenarioInput())

	rec, err := proc.Commit(ctx, res, CommitOptions{User: "agent.douane"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Overridden {
		t.Error("consistent result must not be marked overridden")
	}
	if rec.CaseNumber != "CTX-2024-001" {
		t.Errorf("expected case number from input, got %q", rec.CaseNumber)
	}
	if len(history.records) != 1 || metrics.commits != 1 {
		t.Errorf("expected one record and one commit metric")
	}
}

func TestDistributionProcessor_CommitRequiresAcknowledgement(t *testing.T) {
	ctx := context.Background()
	rules := scenarioRules(t)
	rules.Remove(domain.CategoryMutuelle)
	proc, history, _ := newTestProcessor(t, rules)
	res, _ := proc.Compute(ctx, scenarioInput())

	_, err := proc.Commit(ctx, res, CommitOptions{User: "agent.douane"})

	if !errors.Is(err, ErrUnacknowledgedWarnings) {
		t.Fatalf("expected ErrUnacknowledgedWarnings, got %v", err)
	}
	if len(history.records) != 0 {
		t.Fatal("nothing must be recorded without acknowledgement")
	}

	rec, err := proc.Commit(ctx, res, CommitOptions{
		User:                "agent.douane",
		AcknowledgeWarnings: []domain.WarningCode{domain.WarningRuleMissing},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Overridden {
		t.Error("expected overridden record")
	}
	if len(rec.Acknowledged) != 1 || rec.Acknowledged[0] != domain.WarningRuleMissing {
		t.Errorf("expected RULE_MISSING acknowledged, got %v", rec.Acknowledged)
	}
}

func TestDistributionProcessor_CommitSnapshotsResult(t *testing.T) {
	ctx := context.Background()
	proc, history, _ := newTestProcessor(t, scenarioRules(t))
	res, _ := proc.Compute(ctx, scenarioInput())

	if _, err := proc.Commit(ctx, res, CommitOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res.Tresor = 1
	res.Beneficiaries[0].Amount = 1

	stored := history.records[0].Result
	if stored.Tresor != 372_000 || stored.Beneficiaries[0].Amount != 372_000 {
		t.Errorf("stored record changed with the original result")
	}
}

func TestDistributionProcessor_CommitRechecksTamperedResult(t *testing.T) {
	ctx := context.Background()
	proc, _, _ := newTestProcessor(t, scenarioRules(t))
	res, _ := proc.Compute(ctx, scenarioInput())
	res.Beneficiaries = res.Beneficiaries[:2]

	_, err := proc.Commit(ctx, res, CommitOptions{})

	if !errors.Is(err, ErrUnacknowledgedWarnings) {
		t.Fatalf("expected tampered result to need acknowledgement, got %v", err)
	}
}
