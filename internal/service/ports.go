package service

import (
	"context"
	"time"

	"repartition/internal/domain"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type uuidGenerator struct{}

func (uuidGenerator) NewID(context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RuleMetrics and HistoryMetrics are the counters the services report to.
type RuleMetrics interface {
	RecordRuleUpdate(key domain.Category)
}

type HistoryMetrics interface {
	RecordDeletion()
}
