package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"repartition/internal/domain"
	"repartition/internal/repository"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

// HistoryRepository stores each record as a JSONB document next to the
// columns used for filtering. Rows are only ever inserted or deleted.
type HistoryRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewHistoryRepository(db *DB, logger *slog.Logger) *HistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) Append(ctx context.Context, record *domain.DistributionRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO distribution_records (id, case_number, computed_at, computed_by, overridden, document)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.CaseNumber, record.ComputedAt, record.ComputedBy, record.Overridden, document)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: record %s", repository.ErrDuplicate, record.ID)
		}
		r.logger.ErrorContext(ctx, "Failed to append distribution record",
			slog.String("record_id", record.ID),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*domain.DistributionRecord, error) {
	var document []byte
	err := r.db.pool.QueryRow(ctx, "SELECT document FROM distribution_records WHERE id = $1", id).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(document)
}

func (r *HistoryRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.DistributionRecord, error) {
	query, args := listQuery(filter)
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.DistributionRecord{}
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, err
		}
		record, err := decodeRecord(document)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *HistoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, "DELETE FROM distribution_records WHERE id = $1", id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s", repository.ErrNotFound, id)
	}
	return nil
}

// listQuery builds the filtered, newest-first listing.
func listQuery(filter domain.HistoryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.CaseNumber != "" {
		add("case_number = ?", filter.CaseNumber)
	}
	if !filter.From.IsZero() {
		add("computed_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		add("computed_at <= ?", filter.To)
	}

	var b strings.Builder
	b.WriteString("SELECT document FROM distribution_records")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY computed_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

func decodeRecord(document []byte) (*domain.DistributionRecord, error) {
	var record domain.DistributionRecord
	if err := json.Unmarshal(document, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}
