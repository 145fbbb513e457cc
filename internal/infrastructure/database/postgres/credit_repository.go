package postgres

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/pkg/apperrors"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const creditColumns = `id, member_id, principal, insurance_premium, total_amount, term_months, method,
        annual_rate, rate_type, purpose, status, outstanding_balance, approved_by, approval_notes,
        rejection_reason, blocked, requires_guarantor_replacement, refinance_count, requested_at,
        approved_at, disbursed_at, completed_at, written_off_at, version, updated_at`

const installmentColumns = `id, credit_id, number, due_date, capital, interest, mora, paid_capital,
        paid_interest, paid_mora, waived_interest, waived_mora, forgiven_capital, status, paid_at,
        created_at, updated_at`

func scanCredit(row pgx.Row) (*credit.Credit, error) {
	var c credit.Credit
	err := row.Scan(
		&c.ID, &c.MemberID, &c.Principal, &c.InsurancePremium, &c.TotalAmount, &c.TermMonths, &c.Method,
		&c.AnnualRate, &c.RateType, &c.Purpose, &c.Status, &c.OutstandingBalance, &c.ApprovedBy, &c.ApprovalNotes,
		&c.RejectionReason, &c.Blocked, &c.RequiresGuarantorReplacement, &c.RefinanceCount, &c.RequestedAt,
		&c.ApprovedAt, &c.DisbursedAt, &c.CompletedAt, &c.WrittenOffAt, &c.Version, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanInstallment(row pgx.Row) (*credit.Installment, error) {
	var i credit.Installment
	err := row.Scan(
		&i.ID, &i.CreditID, &i.Number, &i.DueDate, &i.Capital, &i.Interest, &i.Mora, &i.PaidCapital,
		&i.PaidInterest, &i.PaidMora, &i.WaivedInterest, &i.WaivedMora, &i.ForgivenCapital, &i.Status, &i.PaidAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (t *tx) CreateCredit(ctx context.Context, c *credit.Credit) error {
	query := `
        INSERT INTO credits (` + creditColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err := t.exec(ctx, "CreateCredit", query,
		c.ID, c.MemberID, c.Principal, c.InsurancePremium, c.TotalAmount, c.TermMonths, c.Method,
		c.AnnualRate, c.RateType, c.Purpose, c.Status, c.OutstandingBalance, c.ApprovedBy, c.ApprovalNotes,
		c.RejectionReason, c.Blocked, c.RequiresGuarantorReplacement, c.RefinanceCount, c.RequestedAt,
		c.ApprovedAt, c.DisbursedAt, c.CompletedAt, c.WrittenOffAt, c.Version, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "Credit created in DB", "creditID", c.ID)
	return nil
}

// GetCredit takes the row lock without waiting. A credit already locked by
// another transaction fails immediately with ConcurrentModification. Read-only
// transactions skip the lock.
func (t *tx) GetCredit(ctx context.Context, id uuid.UUID) (*credit.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = $1` + t.lockClause("FOR UPDATE NOWAIT")

	var c *credit.Credit
	err := t.queryRow(ctx, "GetCredit", query, []any{id}, func(row pgx.Row) (err error) {
		c, err = scanCredit(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			t.logger.WarnContext(ctx, "Credit not found", "creditID", id)
			return nil, apperrors.NotFound("credit %s not found", id)
		}
		return nil, err
	}
	return c, nil
}

func (t *tx) UpdateCredit(ctx context.Context, c *credit.Credit) error {
	query := `
        UPDATE credits
        SET total_amount = $3, term_months = $4, method = $5, annual_rate = $6, rate_type = $7,
            status = $8, outstanding_balance = $9, approved_by = $10, approval_notes = $11,
            rejection_reason = $12, blocked = $13, requires_guarantor_replacement = $14,
            refinance_count = $15, approved_at = $16, disbursed_at = $17, completed_at = $18,
            written_off_at = $19, version = version + 1, updated_at = $20
        WHERE id = $1 AND version = $2`

	err := t.execVersioned(ctx, "UpdateCredit", "credit", c.ID, query,
		c.ID, c.Version, c.TotalAmount, c.TermMonths, c.Method, c.AnnualRate, c.RateType,
		c.Status, c.OutstandingBalance, c.ApprovedBy, c.ApprovalNotes,
		c.RejectionReason, c.Blocked, c.RequiresGuarantorReplacement,
		c.RefinanceCount, c.ApprovedAt, c.DisbursedAt, c.CompletedAt,
		c.WrittenOffAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

func (t *tx) ListCreditsByMember(ctx context.Context, memberID uuid.UUID) ([]*credit.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE member_id = $1 ORDER BY requested_at, id`

	credits := make([]*credit.Credit, 0)
	err := t.query(ctx, "ListCreditsByMember", query, []any{memberID}, func(row pgx.Row) error {
		c, err := scanCredit(row)
		if err != nil {
			return err
		}
		credits = append(credits, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credits, nil
}

func (t *tx) ListMembersWithCredits(ctx context.Context, statuses ...credit.Status) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT member_id FROM credits WHERE status = ANY($1) ORDER BY member_id`

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	ids := make([]uuid.UUID, 0)
	err := t.query(ctx, "ListMembersWithCredits", query, []any{names}, func(row pgx.Row) error {
		var id uuid.UUID
		if err := row.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *tx) ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*credit.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE credit_id = $1 ORDER BY number ASC`

	installments := make([]*credit.Installment, 0)
	err := t.query(ctx, "ListInstallments", query, []any{creditID}, func(row pgx.Row) error {
		inst, err := scanInstallment(row)
		if err != nil {
			return err
		}
		installments = append(installments, inst)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return installments, nil
}

func (t *tx) InsertInstallments(ctx context.Context, installments []*credit.Installment) error {
	if len(installments) == 0 {
		return nil
	}
	query := `
        INSERT INTO installments (` + installmentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	batch := &pgx.Batch{}
	for _, i := range installments {
		batch.Queue(query,
			i.ID, i.CreditID, i.Number, i.DueDate, i.Capital, i.Interest, i.Mora, i.PaidCapital,
			i.PaidInterest, i.PaidMora, i.WaivedInterest, i.WaivedMora, i.ForgivenCapital, i.Status, i.PaidAt,
			i.CreatedAt, i.UpdatedAt,
		)
	}
	if err := t.sendBatch(ctx, "InsertInstallments", batch); err != nil {
		return err
	}
	t.logger.DebugContext(ctx, "Installments inserted", "creditID", installments[0].CreditID, "count", len(installments))
	return nil
}

func (t *tx) UpdateInstallments(ctx context.Context, installments []*credit.Installment) error {
	if len(installments) == 0 {
		return nil
	}
	query := `
        UPDATE installments
        SET due_date = $2, capital = $3, interest = $4, mora = $5, paid_capital = $6, paid_interest = $7,
            paid_mora = $8, waived_interest = $9, waived_mora = $10, forgiven_capital = $11, status = $12,
            paid_at = $13, updated_at = $14
        WHERE id = $1`

	batch := &pgx.Batch{}
	for _, i := range installments {
		batch.Queue(query,
			i.ID, i.DueDate, i.Capital, i.Interest, i.Mora, i.PaidCapital, i.PaidInterest,
			i.PaidMora, i.WaivedInterest, i.WaivedMora, i.ForgivenCapital, i.Status,
			i.PaidAt, i.UpdatedAt,
		)
	}
	return t.sendBatch(ctx, "UpdateInstallments", batch)
}

func (t *tx) DeleteInstallments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.exec(ctx, "DeleteInstallments", `DELETE FROM installments WHERE id = ANY($1)`, ids)
	return err
}
