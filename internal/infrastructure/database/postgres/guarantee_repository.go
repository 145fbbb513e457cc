package postgres

import (
	"context"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/pkg/apperrors"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const guaranteeColumns = `id, credit_id, guarantor_id, frozen_amount, executed_amount, status, created_at,
        released_at, executed_at, version, updated_at`

const releaseColumns = `id, guarantee_id, requested_by, status, decided_by, reason, requested_at, decided_at, version, updated_at`

func scanGuarantee(row pgx.Row) (*guarantee.Guarantee, error) {
	var g guarantee.Guarantee
	err := row.Scan(
		&g.ID, &g.CreditID, &g.GuarantorID, &g.FrozenAmount, &g.ExecutedAmount, &g.Status, &g.CreatedAt,
		&g.ReleasedAt, &g.ExecutedAt, &g.Version, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanReleaseRequest(row pgx.Row) (*guarantee.ReleaseRequest, error) {
	var r guarantee.ReleaseRequest
	err := row.Scan(
		&r.ID, &r.GuaranteeID, &r.RequestedBy, &r.Status, &r.DecidedBy, &r.Reason,
		&r.RequestedAt, &r.DecidedAt, &r.Version, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) InsertGuarantee(ctx context.Context, g *guarantee.Guarantee) error {
	query := `
        INSERT INTO guarantees (` + guaranteeColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.exec(ctx, "InsertGuarantee", query,
		g.ID, g.CreditID, g.GuarantorID, g.FrozenAmount, g.ExecutedAmount, g.Status, g.CreatedAt,
		g.ReleasedAt, g.ExecutedAt, g.Version, g.UpdatedAt,
	)
	return err
}

func (t *tx) GetGuarantee(ctx context.Context, id uuid.UUID) (*guarantee.Guarantee, error) {
	query := `SELECT ` + guaranteeColumns + ` FROM guarantees WHERE id = $1`

	var g *guarantee.Guarantee
	err := t.queryRow(ctx, "GetGuarantee", query, []any{id}, func(row pgx.Row) (err error) {
		g, err = scanGuarantee(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("guarantee %s not found", id)
		}
		return nil, err
	}
	return g, nil
}

func (t *tx) UpdateGuarantee(ctx context.Context, g *guarantee.Guarantee) error {
	query := `
        UPDATE guarantees
        SET frozen_amount = $3, executed_amount = $4, status = $5, released_at = $6, executed_at = $7,
            version = version + 1, updated_at = $8
        WHERE id = $1 AND version = $2`

	err := t.execVersioned(ctx, "UpdateGuarantee", "guarantee", g.ID, query,
		g.ID, g.Version, g.FrozenAmount, g.ExecutedAmount, g.Status, g.ReleasedAt, g.ExecutedAt, g.UpdatedAt)
	if err != nil {
		return err
	}
	g.Version++
	return nil
}

func (t *tx) listGuarantees(ctx context.Context, name, column string, id uuid.UUID) ([]*guarantee.Guarantee, error) {
	query := `SELECT ` + guaranteeColumns + ` FROM guarantees WHERE ` + column + ` = $1 ORDER BY created_at, id`

	guarantees := make([]*guarantee.Guarantee, 0)
	err := t.query(ctx, name, query, []any{id}, func(row pgx.Row) error {
		g, err := scanGuarantee(row)
		if err != nil {
			return err
		}
		guarantees = append(guarantees, g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return guarantees, nil
}

func (t *tx) ListGuaranteesByCredit(ctx context.Context, creditID uuid.UUID) ([]*guarantee.Guarantee, error) {
	return t.listGuarantees(ctx, "ListGuaranteesByCredit", "credit_id", creditID)
}

func (t *tx) ListGuaranteesByGuarantor(ctx context.Context, guarantorID uuid.UUID) ([]*guarantee.Guarantee, error) {
	return t.listGuarantees(ctx, "ListGuaranteesByGuarantor", "guarantor_id", guarantorID)
}

func (t *tx) InsertReleaseRequest(ctx context.Context, r *guarantee.ReleaseRequest) error {
	query := `
        INSERT INTO guarantee_release_requests (` + releaseColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.exec(ctx, "InsertReleaseRequest", query,
		r.ID, r.GuaranteeID, r.RequestedBy, r.Status, r.DecidedBy, r.Reason,
		r.RequestedAt, r.DecidedAt, r.Version, r.UpdatedAt,
	)
	return err
}

func (t *tx) GetReleaseRequest(ctx context.Context, id uuid.UUID) (*guarantee.ReleaseRequest, error) {
	query := `SELECT ` + releaseColumns + ` FROM guarantee_release_requests WHERE id = $1`

	var r *guarantee.ReleaseRequest
	err := t.queryRow(ctx, "GetReleaseRequest", query, []any{id}, func(row pgx.Row) (err error) {
		r, err = scanReleaseRequest(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("release request %s not found", id)
		}
		return nil, err
	}
	return r, nil
}

func (t *tx) UpdateReleaseRequest(ctx context.Context, r *guarantee.ReleaseRequest) error {
	query := `
        UPDATE guarantee_release_requests
        SET status = $3, decided_by = $4, reason = $5, decided_at = $6, version = version + 1, updated_at = $7
        WHERE id = $1 AND version = $2`

	err := t.execVersioned(ctx, "UpdateReleaseRequest", "release request", r.ID, query,
		r.ID, r.Version, r.Status, r.DecidedBy, r.Reason, r.DecidedAt, r.UpdatedAt)
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

func (t *tx) ListReleaseRequests(ctx context.Context, guaranteeID uuid.UUID) ([]*guarantee.ReleaseRequest, error) {
	query := `SELECT ` + releaseColumns + ` FROM guarantee_release_requests WHERE guarantee_id = $1 ORDER BY requested_at`

	requests := make([]*guarantee.ReleaseRequest, 0)
	err := t.query(ctx, "ListReleaseRequests", query, []any{guaranteeID}, func(row pgx.Row) error {
		r, err := scanReleaseRequest(row)
		if err != nil {
			return err
		}
		requests = append(requests, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}
