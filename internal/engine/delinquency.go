package engine

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/pkg/apperrors"
	"log/slog"

	"github.com/google/uuid"
)

// DelinquencyTracker accrues mora, classifies overdue members and writes off
// credits that reach the write-off threshold.
type DelinquencyTracker struct {
	*core
	logger *slog.Logger
}

// Assessment is the outcome of recomputing one credit.
type Assessment struct {
	CreditID         uuid.UUID
	WorstDaysOverdue int
	Severity         delinquency.Severity
	WrittenOff       bool
}

// RecomputeCredit brings the credit's mora up to date and refreshes its
// holder's delinquency record. A credit reaching the write-off threshold is
// written off and its active guarantees executed in the same transaction,
// unless it is blocked pending a fraud review.
func (d *DelinquencyTracker) RecomputeCredit(ctx context.Context, creditID uuid.UUID) (*Assessment, error) {
	var result *Assessment
	err := d.run(ctx, "recompute_credit", creditKeys(creditID), func(w *work) error {
		cr, installments, err := w.loadCredit(creditID)
		if err != nil {
			return err
		}
		result, err = d.recompute(w, cr, installments)
		if err != nil {
			return err
		}
		_, err = d.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: installments})
		return err
	})
	return result, err
}

// RecomputeMember recomputes every active or written-off credit of the member
// and returns the member's open delinquency record, nil when they are up to
// date.
func (d *DelinquencyTracker) RecomputeMember(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error) {
	ids, err := d.resolveCredits(ctx, func(w *work) ([]uuid.UUID, error) {
		return collectibleCredits(w, memberID)
	})
	if err != nil {
		return nil, err
	}

	var record *delinquency.Record
	err = d.run(ctx, "recompute_member", creditKeys(ids...), func(w *work) error {
		var states []creditState
		for _, id := range ids {
			cr, installments, err := w.loadCredit(id)
			if err != nil {
				return err
			}
			if cr.MemberID != memberID {
				return apperrors.ConcurrentModification("credit %s changed holder during recompute", id)
			}
			if _, err := d.recompute(w, cr, installments); err != nil {
				return err
			}
			states = append(states, creditState{credit: cr, installments: installments})
		}
		record, err = d.refreshMember(w, memberID, states...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record != nil {
		d.logger.InfoContext(ctx, "Member delinquent", "memberID", memberID,
			"severity", record.Severity, "daysOverdue", record.WorstDaysOverdue)
	}
	return record, nil
}

// MembersToReview lists the holders of active or written-off credits, the
// population of the nightly recompute.
func (d *DelinquencyTracker) MembersToReview(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.read(ctx, func(w *work) (err error) {
		ids, err = w.tx.ListMembersWithCredits(w.ctx, credit.StatusActive, credit.StatusWrittenOff)
		return err
	})
	return ids, err
}

// OpenRecord returns the member's open delinquency record, or nil.
func (d *DelinquencyTracker) OpenRecord(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error) {
	var record *delinquency.Record
	err := d.read(ctx, func(w *work) (err error) {
		record, err = w.tx.GetOpenDelinquency(w.ctx, memberID)
		return err
	})
	return record, err
}

func (d *DelinquencyTracker) recompute(w *work, cr *credit.Credit, installments []*credit.Installment) (*Assessment, error) {
	result := &Assessment{CreditID: cr.ID}
	if cr.Status != credit.StatusActive && cr.Status != credit.StatusWrittenOff {
		return result, nil
	}

	unpaid := credit.Unpaid(installments)
	worst := d.accrue(installments, w.now)
	if err := w.tx.UpdateInstallments(w.ctx, unpaid); err != nil {
		return nil, err
	}
	result.WorstDaysOverdue = worst
	result.Severity = delinquency.Classify(worst, d.policy.WriteOffDays)

	if cr.Status == credit.StatusActive && worst >= d.policy.WriteOffDays {
		if cr.Blocked {
			d.logger.WarnContext(w.ctx, "Write-off held while the credit is under fraud review", "creditID", cr.ID, "daysOverdue", worst)
			return result, nil
		}
		if err := d.writeOff(w, cr, installments); err != nil {
			return nil, err
		}
		if err := w.saveCredit(cr); err != nil {
			return nil, err
		}
		if err := d.executeAll(w, cr, installments); err != nil {
			return nil, err
		}
		result.WrittenOff = true
		d.logger.WarnContext(w.ctx, "Credit written off", "creditID", cr.ID, "daysOverdue", worst)
	}
	return result, nil
}

func collectibleCredits(w *work, memberID uuid.UUID) ([]uuid.UUID, error) {
	credits, err := w.tx.ListCreditsByMember(w.ctx, memberID)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, cr := range credits {
		if cr.Status == credit.StatusActive || cr.Status == credit.StatusWrittenOff {
			ids = append(ids, cr.ID)
		}
	}
	return ids, nil
}
