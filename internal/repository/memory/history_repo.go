package memory

import (
	"context"
	"fmt"
	"repartition/internal/domain"
	"repartition/internal/repository"
	"sort"
	"sync"
)

// HistoryRepository keeps deep copies so callers can never alter a stored
// record through a pointer they still hold.
type HistoryRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.DistributionRecord
	byCase  map[string][]string
}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		records: make(map[string]*domain.DistributionRecord),
		byCase:  make(map[string][]string),
	}
}

func (r *HistoryRepository) Append(ctx context.Context, record *domain.DistributionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("%w: record %s", repository.ErrDuplicate, record.ID)
	}

	r.records[record.ID] = record.Clone()
	if record.CaseNumber != "" {
		r.byCase[record.CaseNumber] = append(r.byCase[record.CaseNumber], record.ID)
	}
	return nil
}

func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*domain.DistributionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: record %s", repository.ErrNotFound, id)
	}
	return record.Clone(), nil
}

func (r *HistoryRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.DistributionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*domain.DistributionRecord
	if filter.CaseNumber != "" {
		for _, id := range r.byCase[filter.CaseNumber] {
			candidates = append(candidates, r.records[id])
		}
	} else {
		for _, record := range r.records {
			candidates = append(candidates, record)
		}
	}

	var matched []*domain.DistributionRecord
	for _, record := range candidates {
		if filter.Matches(record) {
			matched = append(matched, record)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ComputedAt.Equal(matched[j].ComputedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ComputedAt.After(matched[j].ComputedAt)
	})

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		return []*domain.DistributionRecord{}, nil
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	result := make([]*domain.DistributionRecord, 0, end-start)
	for _, record := range matched[start:end] {
		result = append(result, record.Clone())
	}
	return result, nil
}

func (r *HistoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return fmt.Errorf("%w: record %s", repository.ErrNotFound, id)
	}
	delete(r.records, id)

	if record.CaseNumber != "" {
		ids := r.byCase[record.CaseNumber]
		kept := ids[:0]
		for _, other := range ids {
			if other != id {
				kept = append(kept, other)
			}
		}
		if len(kept) == 0 {
			delete(r.byCase, record.CaseNumber)
		} else {
			r.byCase[record.CaseNumber] = kept
		}
	}
	return nil
}
