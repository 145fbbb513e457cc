package postgres

import (
	"context"
	"credit-engine/internal/domain/delinquency"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const delinquencyColumns = `id, member_id, worst_days_overdue, severity, open, opened_at, closed_at, version, updated_at`

func (t *tx) GetOpenDelinquency(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error) {
	query := `SELECT ` + delinquencyColumns + ` FROM delinquency_records WHERE member_id = $1 AND open`

	var r delinquency.Record
	err := t.queryRow(ctx, "GetOpenDelinquency", query, []any{memberID}, func(row pgx.Row) error {
		return row.Scan(
			&r.ID, &r.MemberID, &r.WorstDaysOverdue, &r.Severity, &r.Open,
			&r.OpenedAt, &r.ClosedAt, &r.Version, &r.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (t *tx) InsertDelinquency(ctx context.Context, r *delinquency.Record) error {
	query := `
        INSERT INTO delinquency_records (` + delinquencyColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.exec(ctx, "InsertDelinquency", query,
		r.ID, r.MemberID, r.WorstDaysOverdue, r.Severity, r.Open, r.OpenedAt, r.ClosedAt, r.Version, r.UpdatedAt)
	return err
}

func (t *tx) UpdateDelinquency(ctx context.Context, r *delinquency.Record) error {
	query := `
        UPDATE delinquency_records
        SET worst_days_overdue = $3, severity = $4, open = $5, closed_at = $6, version = version + 1, updated_at = $7
        WHERE id = $1 AND version = $2`

	err := t.execVersioned(ctx, "UpdateDelinquency", "delinquency record", r.ID, query,
		r.ID, r.Version, r.WorstDaysOverdue, r.Severity, r.Open, r.ClosedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	r.Version++
	return nil
}
