package postgres

import (
	"context"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/pkg/apperrors"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const memberColumns = `id, name, stage, state, savings, frozen_savings, guaranteed_credits, active_credits, version, created_at, updated_at`

func scanMember(row pgx.Row) (*member.Member, error) {
	var m member.Member
	err := row.Scan(
		&m.ID, &m.Name, &m.Stage, &m.State, &m.Savings, &m.FrozenSavings,
		&m.GuaranteedCredits, &m.ActiveCredits, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMember locks the member row; savings and counters are changed by
// guarantee operations on unrelated credits.
func (t *tx) GetMember(ctx context.Context, id uuid.UUID) (*member.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = $1` + t.lockClause("FOR UPDATE")

	var m *member.Member
	err := t.queryRow(ctx, "GetMember", query, []any{id}, func(row pgx.Row) (err error) {
		m, err = scanMember(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			t.logger.WarnContext(ctx, "Member not found", "memberID", id)
			return nil, apperrors.NotFound("member %s not found", id)
		}
		return nil, err
	}
	return m, nil
}

func (t *tx) UpdateMember(ctx context.Context, m *member.Member) error {
	query := `
        UPDATE members
        SET stage = $3, state = $4, savings = $5, frozen_savings = $6,
            guaranteed_credits = $7, active_credits = $8, version = version + 1, updated_at = $9
        WHERE id = $1 AND version = $2`

	err := t.execVersioned(ctx, "UpdateMember", "member", m.ID, query,
		m.ID, m.Version, m.Stage, m.State, m.Savings, m.FrozenSavings,
		m.GuaranteedCredits, m.ActiveCredits, m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	m.Version++
	return nil
}
