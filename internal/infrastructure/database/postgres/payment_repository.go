package postgres

import (
	"context"
	"credit-engine/internal/domain/credit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, credit_id, amount, method, paid_at, reference, mora, interest, capital, prepayment, allocations, created_at`

func (t *tx) InsertPayment(ctx context.Context, p *credit.Payment) error {
	query := `
        INSERT INTO payments (` + paymentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	allocations := p.Allocations
	if allocations == nil {
		allocations = []credit.Allocation{}
	}
	_, err := t.exec(ctx, "InsertPayment", query,
		p.ID, p.CreditID, p.Amount, p.Method, p.PaidAt, p.Reference,
		p.Breakdown.Mora, p.Breakdown.Interest, p.Breakdown.Capital, p.Breakdown.Prepayment,
		allocations, p.CreatedAt,
	)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "Payment recorded in DB", "paymentID", p.ID, "creditID", p.CreditID)
	return nil
}

func (t *tx) ListPayments(ctx context.Context, creditID uuid.UUID) ([]*credit.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE credit_id = $1 ORDER BY paid_at, created_at`

	payments := make([]*credit.Payment, 0)
	err := t.query(ctx, "ListPayments", query, []any{creditID}, func(row pgx.Row) error {
		var p credit.Payment
		err := row.Scan(
			&p.ID, &p.CreditID, &p.Amount, &p.Method, &p.PaidAt, &p.Reference,
			&p.Breakdown.Mora, &p.Breakdown.Interest, &p.Breakdown.Capital, &p.Breakdown.Prepayment,
			&p.Allocations, &p.CreatedAt,
		)
		if err != nil {
			return err
		}
		payments = append(payments, &p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (t *tx) InsertAdjustment(ctx context.Context, a *credit.Adjustment) error {
	query := `
        INSERT INTO balance_adjustments (id, credit_id, type, amount, percent, authorized_by, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.exec(ctx, "InsertAdjustment", query,
		a.ID, a.CreditID, a.Type, a.Amount, a.Percent, a.AuthorizedBy, a.Reason, a.CreatedAt)
	return err
}

func (t *tx) ListAdjustments(ctx context.Context, creditID uuid.UUID) ([]*credit.Adjustment, error) {
	query := `
        SELECT id, credit_id, type, amount, percent, authorized_by, reason, created_at
        FROM balance_adjustments
        WHERE credit_id = $1
        ORDER BY created_at`

	adjustments := make([]*credit.Adjustment, 0)
	err := t.query(ctx, "ListAdjustments", query, []any{creditID}, func(row pgx.Row) error {
		var a credit.Adjustment
		if err := row.Scan(&a.ID, &a.CreditID, &a.Type, &a.Amount, &a.Percent, &a.AuthorizedBy, &a.Reason, &a.CreatedAt); err != nil {
			return err
		}
		adjustments = append(adjustments, &a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (t *tx) InsertInsuranceEntry(ctx context.Context, e *credit.InsuranceFundEntry) error {
	query := `
        INSERT INTO insurance_fund_entries (id, credit_id, type, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)`

	_, err := t.exec(ctx, "InsertInsuranceEntry", query, e.ID, e.CreditID, e.Type, e.Amount, e.CreatedAt)
	return err
}

func (t *tx) ListInsuranceEntries(ctx context.Context, creditID uuid.UUID) ([]*credit.InsuranceFundEntry, error) {
	query := `
        SELECT id, credit_id, type, amount, created_at
        FROM insurance_fund_entries
        WHERE credit_id = $1
        ORDER BY created_at`

	entries := make([]*credit.InsuranceFundEntry, 0)
	err := t.query(ctx, "ListInsuranceEntries", query, []any{creditID}, func(row pgx.Row) error {
		var e credit.InsuranceFundEntry
		if err := row.Scan(&e.ID, &e.CreditID, &e.Type, &e.Amount, &e.CreatedAt); err != nil {
			return err
		}
		entries = append(entries, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
