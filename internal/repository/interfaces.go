package repository

import (
	"context"
	"errors"
	"repartition/internal/domain"
)

// RuleRepository stores the active rule configuration. Writes replace whole
// rules. An expectedVersion of zero skips the version check (last write wins);
// any other value must match the stored version.
type RuleRepository interface {
	GetAll(ctx context.Context) ([]domain.DistributionRule, error)
	GetByKey(ctx context.Context, key domain.Category) (domain.DistributionRule, error)
	Upsert(ctx context.Context, rule domain.DistributionRule, expectedVersion int) (domain.DistributionRule, error)
	Delete(ctx context.Context, key domain.Category) error
	ReplaceAll(ctx context.Context, rules []domain.DistributionRule) error
	Count(ctx context.Context) (int, error)
}

// HistoryRepository is an append-only store of distribution records.
type HistoryRepository interface {
	Append(ctx context.Context, record *domain.DistributionRecord) error
	GetByID(ctx context.Context, id string) (*domain.DistributionRecord, error)
	List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.DistributionRecord, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrVersionConflict = errors.New("version conflict")
)
