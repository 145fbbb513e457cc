package engine

import (
	"context"
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/event"
	"credit-engine/internal/infrastructure/lock"
	"credit-engine/internal/pkg/apperrors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LifecycleManager moves credits through request, approval, disbursement and
// their terminal states.
type LifecycleManager struct {
	*core
	logger *slog.Logger
}

type RequestInput struct {
	MemberID   uuid.UUID
	Amount     decimal.Decimal
	TermMonths int
	Method     amortization.Method
	Purpose    string
}

// Request opens a credit application (solicitar). The member must be active,
// free of delinquency, and the financed total must fit within the stage
// multiple of their available savings.
func (l *LifecycleManager) Request(ctx context.Context, in RequestInput) (*credit.Credit, error) {
	var created *credit.Credit
	err := l.run(ctx, "request", []string{lock.MemberKey(in.MemberID.String())}, func(w *work) error {
		cr, err := credit.New(in.MemberID, in.Amount, in.TermMonths, in.Method, l.policy.InsurancePremiumRate, w.now)
		if err != nil {
			return err
		}
		cr.Purpose = in.Purpose
		cr.AnnualRate = l.policy.NormalAnnualRate

		m, err := w.member(in.MemberID)
		if err != nil {
			return err
		}
		if !m.IsActive() {
			return apperrors.BusinessRule(apperrors.CodeMemberNotActive, "member %s is %s", m.ID, m.State)
		}
		open, err := w.tx.GetOpenDelinquency(w.ctx, m.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperrors.BusinessRule(apperrors.CodeActiveDelinquency,
				"member %s has an open delinquency (%s)", m.ID, open.Severity)
		}
		if limit := l.policy.CreditLimit(m); cr.TotalAmount.GreaterThan(limit) {
			return apperrors.BusinessRule(apperrors.CodeLimitExceeded,
				"requested total %s exceeds the member's limit of %s", cr.TotalAmount, limit)
		}

		if err := w.tx.CreateCredit(w.ctx, cr); err != nil {
			return err
		}
		w.emit(event.CreditRequested, cr.ID, m.ID, map[string]any{
			"principal": cr.Principal.String(),
			"total":     cr.TotalAmount.String(),
			"term":      cr.TermMonths,
		})
		created = cr
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "Credit requested", "creditID", created.ID, "memberID", created.MemberID, "total", created.TotalAmount)
	return created, nil
}

// StartReview moves a request under review.
func (l *LifecycleManager) StartReview(ctx context.Context, creditID uuid.UUID) (*credit.Credit, error) {
	return l.transition(ctx, "start_review", creditID, func(w *work, cr *credit.Credit) error {
		if err := cr.TransitionTo(credit.StatusInReview, w.now); err != nil {
			return err
		}
		w.emit(event.CreditInReview, cr.ID, cr.MemberID, nil)
		return nil
	})
}

// Approve approves a request (aprobar). The approver is mandatory.
func (l *LifecycleManager) Approve(ctx context.Context, creditID uuid.UUID, approver, notes string) (*credit.Credit, error) {
	if approver == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "approver is required")
	}
	return l.transition(ctx, "approve", creditID, func(w *work, cr *credit.Credit) error {
		if err := cr.TransitionTo(credit.StatusApproved, w.now); err != nil {
			return err
		}
		cr.ApprovedBy = approver
		cr.ApprovalNotes = notes
		w.emit(event.CreditApproved, cr.ID, cr.MemberID, map[string]any{"approvedBy": approver})
		return nil
	})
}

// Reject rejects a request (rechazar) and frees any guarantees already
// pledged for it.
func (l *LifecycleManager) Reject(ctx context.Context, creditID uuid.UUID, reason string) (*credit.Credit, error) {
	if err := requireText(reason, "rejection reason"); err != nil {
		return nil, err
	}
	return l.transition(ctx, "reject", creditID, func(w *work, cr *credit.Credit) error {
		if err := cr.TransitionTo(credit.StatusRejected, w.now); err != nil {
			return err
		}
		cr.RejectionReason = reason
		if err := l.releaseAll(w, cr.ID); err != nil {
			return err
		}
		w.emit(event.CreditRejected, cr.ID, cr.MemberID, map[string]any{"reason": reason})
		return nil
	})
}

type DisburseOptions struct {
	// AnnualRate overrides the policy's normal rate when set.
	AnnualRate *decimal.Decimal
}

// Disburse pays out an approved credit (desembolsar): the schedule amortizes
// the principal, the premium is posted to the insurance fund and the credit
// becomes ACTIVO.
func (l *LifecycleManager) Disburse(ctx context.Context, creditID uuid.UUID, opts DisburseOptions) (*credit.Credit, error) {
	return l.transition(ctx, "disburse", creditID, func(w *work, cr *credit.Credit) error {
		if cr.Status != credit.StatusApproved {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "credit %s is %s, only approved credits are disbursed", cr.ID, cr.Status)
		}
		if cr.Blocked {
			return apperrors.BusinessRule(apperrors.CodeCreditBlocked, "credit %s is blocked pending a fraud review", cr.ID)
		}

		debtor, err := w.member(cr.MemberID)
		if err != nil {
			return err
		}
		if l.policy.RequiresGuarantees(debtor.Stage) {
			guarantees, err := w.tx.ListGuaranteesByCredit(w.ctx, cr.ID)
			if err != nil {
				return err
			}
			if n := len(guarantee.Active(guarantees)); n < requiredGuarantors {
				return apperrors.BusinessRule(apperrors.CodeGuaranteesMissing,
					"credit %s has %d active guarantees, %d required for stage %d", cr.ID, n, requiredGuarantors, debtor.Stage)
			}
		}

		rate := cr.AnnualRate
		if opts.AnnualRate != nil {
			rate = *opts.AnnualRate
		}
		if rate.IsZero() && opts.AnnualRate == nil {
			rate = l.policy.NormalAnnualRate
		}
		drafts, err := amortization.Build(amortization.Input{
			Principal:  cr.Principal,
			AnnualRate: rate,
			TermMonths: cr.TermMonths,
			Method:     cr.Method,
			StartDate:  w.now,
		})
		if err != nil {
			return err
		}
		installments := credit.FromDrafts(cr.ID, drafts, 1, w.now)
		if err := w.tx.InsertInstallments(w.ctx, installments); err != nil {
			return err
		}

		if cr.InsurancePremium.IsPositive() {
			err := w.tx.InsertInsuranceEntry(w.ctx, &credit.InsuranceFundEntry{
				ID:        uuid.New(),
				CreditID:  cr.ID,
				Type:      credit.InsurancePremium,
				Amount:    cr.InsurancePremium,
				CreatedAt: w.now,
			})
			if err != nil {
				return err
			}
		}

		debtor.AddActiveCredit()
		if err := w.saveMember(debtor); err != nil {
			return err
		}

		cr.AnnualRate = rate
		cr.RecomputeOutstanding(installments)
		if err := cr.TransitionTo(credit.StatusActive, w.now); err != nil {
			return err
		}
		w.emit(event.CreditDisbursed, cr.ID, cr.MemberID, map[string]any{
			"principal":    cr.Principal.String(),
			"premium":      cr.InsurancePremium.String(),
			"annualRate":   rate.String(),
			"installments": len(installments),
		})
		return nil
	})
}

// WriteOff moves an active credit to CASTIGADO at the penalty rate. The
// delinquency tracker does this on its own once the write-off threshold is
// reached.
func (l *LifecycleManager) WriteOff(ctx context.Context, creditID uuid.UUID) (*credit.Credit, error) {
	return l.transition(ctx, "write_off", creditID, func(w *work, cr *credit.Credit) error {
		installments, err := w.tx.ListInstallments(w.ctx, cr.ID)
		if err != nil {
			return err
		}
		return l.writeOff(w, cr, installments)
	})
}

// transition runs fn on the locked credit and saves it.
func (l *LifecycleManager) transition(ctx context.Context, op string, creditID uuid.UUID, fn func(w *work, cr *credit.Credit) error) (*credit.Credit, error) {
	var result *credit.Credit
	err := l.run(ctx, op, creditKeys(creditID), func(w *work) error {
		cr, err := w.tx.GetCredit(w.ctx, creditID)
		if err != nil {
			return err
		}
		if err := fn(w, cr); err != nil {
			return err
		}
		if err := w.saveCredit(cr); err != nil {
			return err
		}
		result = cr
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "Credit updated", "operation", op, "creditID", result.ID, "status", result.Status)
	return result, nil
}

func (l *LifecycleManager) Get(ctx context.Context, creditID uuid.UUID) (*credit.Credit, error) {
	var cr *credit.Credit
	err := l.read(ctx, func(w *work) (err error) {
		cr, err = w.tx.GetCredit(w.ctx, creditID)
		return err
	})
	return cr, err
}

// Schedule returns the credit's installments ordered by number.
func (l *LifecycleManager) Schedule(ctx context.Context, creditID uuid.UUID) ([]*credit.Installment, error) {
	var installments []*credit.Installment
	err := l.read(ctx, func(w *work) error {
		if _, err := w.tx.GetCredit(w.ctx, creditID); err != nil {
			return err
		}
		var err error
		installments, err = w.tx.ListInstallments(w.ctx, creditID)
		return err
	})
	return installments, err
}

func (l *LifecycleManager) Payments(ctx context.Context, creditID uuid.UUID) ([]*credit.Payment, error) {
	var payments []*credit.Payment
	err := l.read(ctx, func(w *work) (err error) {
		payments, err = w.tx.ListPayments(w.ctx, creditID)
		return err
	})
	return payments, err
}

func (l *LifecycleManager) Adjustments(ctx context.Context, creditID uuid.UUID) ([]*credit.Adjustment, error) {
	var adjustments []*credit.Adjustment
	err := l.read(ctx, func(w *work) (err error) {
		adjustments, err = w.tx.ListAdjustments(w.ctx, creditID)
		return err
	})
	return adjustments, err
}

// InsuranceReserve is the premium still held in reserve for the credit.
func (l *LifecycleManager) InsuranceReserve(ctx context.Context, creditID uuid.UUID) (decimal.Decimal, error) {
	var reserve decimal.Decimal
	err := l.read(ctx, func(w *work) error {
		entries, err := w.tx.ListInsuranceEntries(w.ctx, creditID)
		if err != nil {
			return err
		}
		reserve = credit.InsuranceReserve(entries)
		return nil
	})
	return reserve, err
}
