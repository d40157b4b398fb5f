package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"repartition/internal/domain"
	"slices"
	"time"
)

var ErrUnacknowledgedWarnings = errors.New("result has unacknowledged warnings")

// RuleSource yields the active rule configuration.
type RuleSource interface {
	Active(ctx context.Context) (*domain.RuleSet, error)
}

// HistoryRecorder archives a committed result.
type HistoryRecorder interface {
	Record(ctx context.Context, result *domain.DistributionResult, opts domain.RecordOptions) (*domain.DistributionRecord, error)
}

type MetricsRecorder interface {
	RecordComputation(result *domain.DistributionResult, duration time.Duration)
	RecordComputationFailure()
	RecordCommit(overridden bool)
}

type CommitOptions struct {
	CaseNumber          string
	User                string
	AcknowledgeWarnings []domain.WarningCode
}

// DistributionProcessor wires the pure engine to configuration, history,
// metrics and logging.
type DistributionProcessor struct {
	engine  *AllocationEngine
	checker *ConsistencyChecker
	rules   RuleSource
	history HistoryRecorder
	metrics MetricsRecorder
	logger  *slog.Logger
}

func NewDistributionProcessor(
	engine *AllocationEngine,
	rules RuleSource,
	history HistoryRecorder,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *DistributionProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = NewAllocationEngine(EqualSplit{})
	}

	return &DistributionProcessor{
		engine:  engine,
		checker: NewConsistencyChecker(),
		rules:   rules,
		history: history,
		metrics: metrics,
		logger:  logger,
	}
}

// Compute runs the engine against the active rule set.
func (p *DistributionProcessor) Compute(ctx context.Context, input domain.DistributionInput) (*domain.DistributionResult, error) {
	rules, err := p.rules.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	return p.ComputeWithRules(ctx, input, rules)
}

// ComputeWithRules runs the engine against a caller supplied rule set,
// e.g. to preview a configuration before importing it.
func (p *DistributionProcessor) ComputeWithRules(ctx context.Context, input domain.DistributionInput, rules *domain.RuleSet) (*domain.DistributionResult, error) {
	start := time.Now()

	result, err := p.engine.ComputeDistribution(input, rules)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordComputationFailure()
		}
		p.logger.WarnContext(ctx, "Distribution rejected",
			slog.String("case_number", input.CaseNumber),
			slog.String("error", err.Error()))
		return nil, err
	}

	duration := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordComputation(result, duration)
	}

	attrs := []any{
		slog.String("case_number", result.Input.CaseNumber),
		slog.Int64("gross_amount", result.GrossAmount),
		slog.Int64("net_amount", result.NetAmount),
		slog.Int("beneficiaries", len(result.Beneficiaries)),
		slog.String("split_policy", result.SplitPolicy),
		slog.Bool("consistent", result.Consistent),
		slog.Duration("duration", duration),
	}
	if result.Consistent {
		p.logger.InfoContext(ctx, "Distribution computed", attrs...)
	} else {
		attrs = append(attrs, slog.Any("warnings", result.WarningCodes()))
		p.logger.WarnContext(ctx, "Distribution computed with warnings", attrs...)
	}

	return result, nil
}

// Commit archives result. An inconsistent result is only committed when every
// warning code it carries has been acknowledged; it is then marked overridden.
func (p *DistributionProcessor) Commit(ctx context.Context, result *domain.DistributionResult, opts CommitOptions) (*domain.DistributionRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("nothing to commit")
	}
	if p.history == nil {
		return nil, fmt.Errorf("no history configured")
	}

	snapshot := result.Clone()
	p.checker.Annotate(snapshot)

	var acknowledged []domain.WarningCode
	if !snapshot.Consistent {
		var missing []domain.WarningCode
		for _, code := range snapshot.WarningCodes() {
			if slices.Contains(missing, code) || slices.Contains(acknowledged, code) {
				continue
			}
			if slices.Contains(opts.AcknowledgeWarnings, code) {
				acknowledged = append(acknowledged, code)
			} else {
				missing = append(missing, code)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnacknowledgedWarnings, missing)
		}
	}

	caseNumber := opts.CaseNumber
	if caseNumber == "" {
		caseNumber = snapshot.Input.CaseNumber
	}

	record, err := p.history.Record(ctx, snapshot, domain.RecordOptions{
		CaseNumber:   caseNumber,
		ComputedBy:   opts.User,
		Overridden:   !snapshot.Consistent,
		Acknowledged: acknowledged,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record distribution: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordCommit(record.Overridden)
	}
	if record.Overridden {
		p.logger.WarnContext(ctx, "Distribution committed despite warnings",
			slog.String("record_id", record.ID),
			slog.String("case_number", record.CaseNumber),
			slog.String("user", record.ComputedBy),
			slog.Any("acknowledged", acknowledged))
	} else {
		p.logger.InfoContext(ctx, "Distribution committed",
			slog.String("record_id", record.ID),
			slog.String("case_number", record.CaseNumber),
			slog.String("user", record.ComputedBy))
	}

	return record, nil
}

// ComputeAndCommit is the single-request form of Compute followed by Commit.
func (p *DistributionProcessor) ComputeAndCommit(ctx context.Context, input domain.DistributionInput, opts CommitOptions) (*domain.DistributionRecord, error) {
	result, err := p.Compute(ctx, input)
	if err != nil {
		return nil, err
	}
	return p.Commit(ctx, result, opts)
}

// Check re-runs the consistency checks on a previously computed result.
func (p *DistributionProcessor) Check(result *domain.DistributionResult) ConsistencyReport {
	return p.checker.Check(result)
}

// SplitPolicy names the policy used to split the poursuivants pool.
func (p *DistributionProcessor) SplitPolicy() string {
	return p.engine.Policy().Name()
}
