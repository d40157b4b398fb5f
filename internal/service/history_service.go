package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"repartition/internal/domain"
	"repartition/internal/repository"
	"repartition/pkg/crypto"
)

var ErrSealMismatch = errors.New("distribution record seal mismatch")

// HistoryService is the append-only archive of committed distributions.
// Records are never updated; a correction is a new record.
type HistoryService struct {
	repo     repository.HistoryRepository
	signer   *crypto.Signer
	notifier *AuditNotifier
	metrics  HistoryMetrics
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger
}

type HistoryOption func(*HistoryService)

func WithHistoryClock(c Clock) HistoryOption {
	return func(s *HistoryService) { s.clock = c }
}

func WithHistoryIDs(g IDGenerator) HistoryOption {
	return func(s *HistoryService) { s.ids = g }
}

func WithHistoryMetrics(m HistoryMetrics) HistoryOption {
	return func(s *HistoryService) { s.metrics = m }
}

func NewHistoryService(
	repo repository.HistoryRepository,
	signer *crypto.Signer,
	notifier *AuditNotifier,
	logger *slog.Logger,
	opts ...HistoryOption,
) *HistoryService {
	if logger == nil {
		logger = slog.Default()
	}

	s := &HistoryService{
		repo:     repo,
		signer:   signer,
		notifier: notifier,
		clock:    systemClock{},
		ids:      uuidGenerator{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a sealed deep copy of result. The caller's result can be
// modified afterwards without affecting the record.
func (s *HistoryService) Record(ctx context.Context, result *domain.DistributionResult, opts domain.RecordOptions) (*domain.DistributionRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot record a nil result")
	}

	id, err := s.ids.NewID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	record := &domain.DistributionRecord{
		ID:           id,
		CaseNumber:   opts.CaseNumber,
		ComputedAt:   s.clock.Now().UTC().Truncate(time.Microsecond),
		ComputedBy:   opts.ComputedBy,
		Result:       result.Clone(),
		Overridden:   opts.Overridden,
		Acknowledged: append([]domain.WarningCode(nil), opts.Acknowledged...),
	}
	if record.CaseNumber == "" {
		record.CaseNumber = record.Result.Input.CaseNumber
	}
	if err := checkEncoding(record); err != nil {
		return nil, err
	}

	if s.signer != nil {
		seal, err := s.signer.SignJSON(record)
		if err != nil {
			return nil, fmt.Errorf("failed to seal record: %w", err)
		}
		record.Seal = seal
	}

	if err := s.repo.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to append record: %w", err)
	}

	s.logger.InfoContext(ctx, "Distribution record appended",
		slog.String("record_id", record.ID),
		slog.String("case_number", record.CaseNumber),
		slog.String("computed_by", record.ComputedBy),
		slog.Bool("overridden", record.Overridden))

	s.notify(ctx, AuditEvent{
		Type:         AuditRecordCommitted,
		RecordID:     record.ID,
		CaseNumber:   record.CaseNumber,
		User:         record.ComputedBy,
		Overridden:   record.Overridden,
		Acknowledged: record.Acknowledged,
		OccurredAt:   record.ComputedAt,
	})

	return record.Clone(), nil
}

// List returns records newest first.
func (s *HistoryService) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.DistributionRecord, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, &domain.ValidationError{Field: "from", Err: domain.ErrInvalidCondition, Detail: "from is after to"}
	}
	return s.repo.List(ctx, filter)
}

// Get returns a record after checking its seal.
func (s *HistoryService) Get(ctx context.Context, id string) (*domain.DistributionRecord, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.verify(record); err != nil {
		s.logger.ErrorContext(ctx, "Distribution record failed seal verification",
			slog.String("record_id", id))
		return nil, err
	}
	return record, nil
}

// Delete removes one record permanently. Other records are not touched.
func (s *HistoryService) Delete(ctx context.Context, id, user string) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordDeletion()
	}
	s.logger.WarnContext(ctx, "Distribution record deleted",
		slog.String("record_id", id),
		slog.String("case_number", record.CaseNumber),
		slog.String("user", user))

	s.notify(ctx, AuditEvent{
		Type:       AuditRecordDeleted,
		RecordID:   id,
		CaseNumber: record.CaseNumber,
		User:       user,
		OccurredAt: s.clock.Now().UTC(),
	})
	return nil
}

func (s *HistoryService) verify(record *domain.DistributionRecord) error {
	if s.signer == nil {
		return nil
	}
	unsealed := *record
	unsealed.Seal = ""
	if ok, _ := s.signer.VerifyJSON(&unsealed, record.Seal); !ok {
		return fmt.Errorf("%w: record %s", ErrSealMismatch, record.ID)
	}
	return nil
}

// checkEncoding rejects text that a JSON document store would rewrite, since
// the seal covers the exact bytes.
func checkEncoding(record *domain.DistributionRecord) error {
	invalid := func(field string) error {
		return &domain.ValidationError{Field: field, Err: domain.ErrInvalidEncoding}
	}
	if !utf8.ValidString(record.CaseNumber) {
		return invalid("case_number")
	}
	if !utf8.ValidString(record.ComputedBy) {
		return invalid("computed_by")
	}
	in := record.Result.Input
	lists := []struct {
		field string
		names []string
	}{
		{"seizing_agents", in.SeizingAgents},
		{"chiefs", in.Chiefs},
		{"informants", in.Informants},
	}
	for _, l := range lists {
		for i, name := range l.names {
			if !utf8.ValidString(name) {
				return invalid(fmt.Sprintf("%s[%d]", l.field, i))
			}
		}
	}
	for i, b := range record.Result.Beneficiaries {
		if !utf8.ValidString(b.Name) {
			return invalid(fmt.Sprintf("beneficiaries[%d].name", i))
		}
	}
	return nil
}

func (s *HistoryService) notify(ctx context.Context, event AuditEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "Audit event dropped",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
