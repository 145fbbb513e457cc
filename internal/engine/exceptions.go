package engine

import (
	"context"
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/event"
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExceptionHandler covers the cases outside the regular repayment flow:
// deaths, fraud, refinancing, condonation and catastrophes.
type ExceptionHandler struct {
	*core
	logger *slog.Logger
}

// Settlement is what a debtor's death recovered on one credit.
type Settlement struct {
	CreditID      uuid.UUID
	InsurancePaid decimal.Decimal
	GuaranteePaid decimal.Decimal
	Remaining     decimal.Decimal
}

// DebtorDeath settles the debtor's collectible credits. The insurance fund
// pays up to the premiums collected for each credit; guarantees cover any
// shortfall.
func (e *ExceptionHandler) DebtorDeath(ctx context.Context, memberID uuid.UUID) ([]Settlement, error) {
	ids, err := e.resolveCredits(ctx, func(w *work) ([]uuid.UUID, error) {
		return collectibleCredits(w, memberID)
	})
	if err != nil {
		return nil, err
	}

	var settlements []Settlement
	err = e.run(ctx, "debtor_death", creditKeys(ids...), func(w *work) error {
		settlements = settlements[:0]
		var states []creditState
		for _, id := range ids {
			cr, installments, err := w.loadCredit(id)
			if err != nil {
				return err
			}
			s, err := e.settleDeath(w, cr, installments)
			if err != nil {
				return err
			}
			settlements = append(settlements, s)
			states = append(states, creditState{credit: cr, installments: installments})
		}
		_, err := e.refreshMember(w, memberID, states...)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "Debtor death settled", "memberID", memberID, "credits", len(settlements))
	return settlements, nil
}

func (e *ExceptionHandler) settleDeath(w *work, cr *credit.Credit, installments []*credit.Installment) (Settlement, error) {
	s := Settlement{CreditID: cr.ID, InsurancePaid: money.Zero, GuaranteePaid: money.Zero}
	if !cr.IsPayable() {
		return s, nil
	}

	entries, err := w.tx.ListInsuranceEntries(w.ctx, cr.ID)
	if err != nil {
		return s, err
	}
	e.accrue(installments, w.now)
	claim := money.Min(credit.InsuranceReserve(entries), credit.MaxPayable(installments, w.now))
	if claim.IsPositive() {
		err := w.tx.InsertInsuranceEntry(w.ctx, &credit.InsuranceFundEntry{
			ID:        uuid.New(),
			CreditID:  cr.ID,
			Type:      credit.InsuranceClaim,
			Amount:    claim,
			CreatedAt: w.now,
		})
		if err != nil {
			return s, err
		}
		if _, err := e.applyPayment(w, cr, installments, paymentRequest{
			amount:    claim,
			method:    credit.PaymentInsurance,
			paidAt:    w.now,
			reference: "insurance-claim",
		}); err != nil {
			return s, err
		}
		s.InsurancePaid = claim
		w.emit(event.InsuranceClaim, cr.ID, cr.MemberID, map[string]any{"amount": claim.String()})
	}

	if cr.IsPayable() && credit.MaxPayable(installments, w.now).IsPositive() {
		guarantees, err := w.tx.ListGuaranteesByCredit(w.ctx, cr.ID)
		if err != nil {
			return s, err
		}
		for _, g := range guarantee.Active(guarantees) {
			if !cr.IsPayable() {
				break
			}
			payment, err := e.executeGuarantee(w, cr, installments, g)
			if err != nil {
				return s, err
			}
			if payment != nil {
				s.GuaranteePaid = s.GuaranteePaid.Add(payment.Amount)
			}
		}
	}
	s.Remaining = credit.TotalOwed(installments)
	return s, nil
}

// GuarantorDeath releases every active guarantee the member gave and flags
// the affected open credits for a replacement guarantor. It returns the
// flagged credits.
func (e *ExceptionHandler) GuarantorDeath(ctx context.Context, guarantorID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := e.resolveCredits(ctx, func(w *work) ([]uuid.UUID, error) {
		guarantees, err := w.tx.ListGuaranteesByGuarantor(w.ctx, guarantorID)
		if err != nil {
			return nil, err
		}
		var ids []uuid.UUID
		for _, g := range guarantee.Active(guarantees) {
			ids = append(ids, g.CreditID)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	var flagged []uuid.UUID
	err = e.run(ctx, "guarantor_death", creditKeys(ids...), func(w *work) error {
		flagged = flagged[:0]
		guarantees, err := w.tx.ListGuaranteesByGuarantor(w.ctx, guarantorID)
		if err != nil {
			return err
		}
		for _, g := range guarantee.Active(guarantees) {
			if !containsID(ids, g.CreditID) {
				return apperrors.ConcurrentModification("guarantee %s was created during processing", g.ID)
			}
			if err := e.releaseGuarantee(w, g); err != nil {
				return err
			}
			cr, err := w.tx.GetCredit(w.ctx, g.CreditID)
			if err != nil {
				return err
			}
			if !cr.Status.IsOpen() || cr.RequiresGuarantorReplacement {
				continue
			}
			cr.RequiresGuarantorReplacement = true
			if err := w.saveCredit(cr); err != nil {
				return err
			}
			flagged = append(flagged, cr.ID)
			w.emit(event.GuarantorReplacementDue, cr.ID, cr.MemberID, map[string]any{"guarantorId": guarantorID.String()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "Guarantor death processed", "guarantorID", guarantorID, "flaggedCredits", len(flagged))
	return flagged, nil
}

// Fraud suspends the member and blocks all their open credits until the hold
// is cleared.
func (e *ExceptionHandler) Fraud(ctx context.Context, memberID uuid.UUID, reason string) ([]uuid.UUID, error) {
	if err := requireText(reason, "fraud reason"); err != nil {
		return nil, err
	}
	return e.fraudHold(ctx, "fraud", memberID, true, reason)
}

// ClearFraudHold reinstates a suspended member and unblocks their credits.
func (e *ExceptionHandler) ClearFraudHold(ctx context.Context, memberID uuid.UUID, clearedBy string) ([]uuid.UUID, error) {
	if clearedBy == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "clearing a fraud hold requires an authorizer")
	}
	return e.fraudHold(ctx, "clear_fraud_hold", memberID, false, clearedBy)
}

func (e *ExceptionHandler) fraudHold(ctx context.Context, op string, memberID uuid.UUID, block bool, note string) ([]uuid.UUID, error) {
	openCredits := func(w *work) ([]*credit.Credit, error) {
		credits, err := w.tx.ListCreditsByMember(w.ctx, memberID)
		if err != nil {
			return nil, err
		}
		var open []*credit.Credit
		for _, cr := range credits {
			if cr.Status.IsOpen() {
				open = append(open, cr)
			}
		}
		return open, nil
	}
	ids, err := e.resolveCredits(ctx, func(w *work) ([]uuid.UUID, error) {
		credits, err := openCredits(w)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(credits))
		for i, cr := range credits {
			ids[i] = cr.ID
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	var changed []uuid.UUID
	err = e.run(ctx, op, creditKeys(ids...), func(w *work) error {
		changed = changed[:0]
		m, err := w.member(memberID)
		if err != nil {
			return err
		}
		if block {
			m.Suspend()
			w.emit(event.MemberSuspended, uuid.Nil, m.ID, map[string]any{"reason": note})
		} else {
			m.Reinstate()
			w.emit(event.MemberReinstated, uuid.Nil, m.ID, map[string]any{"clearedBy": note})
		}
		if err := w.saveMember(m); err != nil {
			return err
		}

		for _, id := range ids {
			cr, err := w.tx.GetCredit(w.ctx, id)
			if err != nil {
				return err
			}
			if !cr.Status.IsOpen() || cr.Blocked == block {
				continue
			}
			cr.Blocked = block
			if err := w.saveCredit(cr); err != nil {
				return err
			}
			changed = append(changed, cr.ID)
			if block {
				w.emit(event.CreditBlocked, cr.ID, m.ID, nil)
			} else {
				w.emit(event.CreditUnblocked, cr.ID, m.ID, nil)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "Fraud hold updated", "memberID", memberID, "blocked", block, "credits", len(changed))
	return changed, nil
}

type RefinanceInput struct {
	CreditID   uuid.UUID
	TermMonths int
	// Method and AnnualRate default to the credit's current ones.
	Method     amortization.Method
	AnnualRate *decimal.Decimal
	// Discount is an optional principal reduction (quita); it needs an
	// authorizer.
	Discount     decimal.Decimal
	AuthorizedBy string
	Reason       string
}

// refinanceBase is what a refinance re-amortizes: the remaining capital of
// every unpaid installment plus interest and mora already overdue.
func refinanceBase(installments []*credit.Installment, asOf time.Time) decimal.Decimal {
	base := money.Zero
	for _, inst := range credit.Unpaid(installments) {
		base = base.Add(inst.OutstandingCapital())
		if inst.DaysOverdue(asOf) > 0 {
			base = base.Add(inst.OutstandingMora()).Add(inst.OutstandingInterest())
		}
	}
	return base
}

// Refinance replaces the unpaid part of an active credit's schedule. Overdue
// interest and mora are capitalized together with the remaining capital,
// less any authorized discount, and amortized over a new term. Paid
// installments are kept; partly paid ones are closed at what was paid.
func (e *ExceptionHandler) Refinance(ctx context.Context, in RefinanceInput) (*credit.Credit, error) {
	if in.TermMonths < 1 {
		return nil, apperrors.Validation(apperrors.CodeTermInvalid, "term must be at least one month, got %d", in.TermMonths)
	}
	if in.Discount.IsNegative() {
		return nil, apperrors.Validation(apperrors.CodeAmountInvalid, "discount must not be negative")
	}
	if in.Discount.IsPositive() && in.AuthorizedBy == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "a discount requires an authorizer")
	}

	var result *credit.Credit
	err := e.run(ctx, "refinance", creditKeys(in.CreditID), func(w *work) error {
		cr, installments, err := w.loadCredit(in.CreditID)
		if err != nil {
			return err
		}
		if cr.Status != credit.StatusActive {
			return apperrors.StateConflict(apperrors.CodeCreditNotActive, "credit %s is %s, only active credits are refinanced", cr.ID, cr.Status)
		}
		e.accrue(installments, w.now)
		cr.RecomputeOutstanding(installments)

		base := refinanceBase(installments, w.now)
		discount := money.Round(in.Discount)
		if discount.GreaterThan(base) {
			return apperrors.Validation(apperrors.CodeAmountExceedsDebt,
				"discount %s exceeds the refinanced balance %s", discount, base)
		}

		var closed, discarded []*credit.Installment
		lastKept := 0
		for _, inst := range installments {
			if inst.Status == credit.InstallmentPaid {
				lastKept = max(lastKept, inst.Number)
				continue
			}
			if inst.AmountPaid().IsPositive() {
				inst.Capital, inst.Interest, inst.Mora = inst.PaidCapital, inst.PaidInterest, inst.PaidMora
				inst.RefreshStatus(w.now, e.policy.RoundingTolerance)
				closed = append(closed, inst)
				lastKept = max(lastKept, inst.Number)
				continue
			}
			discarded = append(discarded, inst)
		}
		principal := base.Sub(discount)

		if err := w.tx.UpdateInstallments(w.ctx, closed); err != nil {
			return err
		}
		ids := make([]uuid.UUID, len(discarded))
		for i, inst := range discarded {
			ids[i] = inst.ID
		}
		if err := w.tx.DeleteInstallments(w.ctx, ids); err != nil {
			return err
		}

		if discount.IsPositive() {
			err := w.tx.InsertAdjustment(w.ctx, &credit.Adjustment{
				ID:           uuid.New(),
				CreditID:     cr.ID,
				Type:         credit.AdjustmentDiscount,
				Amount:       discount,
				AuthorizedBy: in.AuthorizedBy,
				Reason:       in.Reason,
				CreatedAt:    w.now,
			})
			if err != nil {
				return err
			}
		}

		var fresh []*credit.Installment
		if principal.IsPositive() {
			method := in.Method
			if method == "" {
				method = cr.Method
			}
			rate := cr.AnnualRate
			if in.AnnualRate != nil {
				rate = *in.AnnualRate
			}
			drafts, err := amortization.Build(amortization.Input{
				Principal:  principal,
				AnnualRate: rate,
				TermMonths: in.TermMonths,
				Method:     method,
				StartDate:  w.now,
			})
			if err != nil {
				return err
			}
			fresh = credit.FromDrafts(cr.ID, drafts, lastKept+1, w.now)
			if err := w.tx.InsertInstallments(w.ctx, fresh); err != nil {
				return err
			}
			cr.Method, cr.AnnualRate = method, rate
		}

		cr.Principal, cr.TotalAmount = principal, principal
		cr.TermMonths = in.TermMonths
		cr.RefinanceCount++
		cr.RecomputeOutstanding(fresh)
		if cr.OutstandingBalance.IsZero() {
			if err := e.complete(w, cr); err != nil {
				return err
			}
		}
		if err := w.saveCredit(cr); err != nil {
			return err
		}
		w.emit(event.CreditRefinanced, cr.ID, cr.MemberID, map[string]any{
			"principal": principal.String(),
			"discount":  discount.String(),
			"term":      in.TermMonths,
			"count":     cr.RefinanceCount,
		})

		kept := append(closed, fresh...)
		_, err = e.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: kept})
		result = cr
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "Credit refinanced", "creditID", result.ID, "principal", result.Principal, "refinanceCount", result.RefinanceCount)
	return result, nil
}

type CondoneInput struct {
	CreditID uuid.UUID
	// Percent of the outstanding capital to forgive, 1 to 100.
	Percent      decimal.Decimal
	AuthorizedBy string
	Reason       string
}

var (
	minCondonePercent = decimal.NewFromInt(1)
	maxCondonePercent = decimal.NewFromInt(100)
	hundred           = decimal.NewFromInt(100)
)

// Condone forgives a share of the outstanding capital without a payment,
// starting from the last installment. An installment whose capital is fully
// forgiven has its interest and mora waived too.
func (e *ExceptionHandler) Condone(ctx context.Context, in CondoneInput) (*credit.Adjustment, error) {
	if in.Percent.LessThan(minCondonePercent) || in.Percent.GreaterThan(maxCondonePercent) {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "condonation percent must be between 1 and 100, got %s", in.Percent)
	}
	if in.AuthorizedBy == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "condonation requires an authorizer")
	}
	if err := requireText(in.Reason, "condonation reason"); err != nil {
		return nil, err
	}

	var adjustment *credit.Adjustment
	err := e.run(ctx, "condone", creditKeys(in.CreditID), func(w *work) error {
		cr, installments, err := w.loadCredit(in.CreditID)
		if err != nil {
			return err
		}
		if !cr.IsPayable() {
			return apperrors.StateConflict(apperrors.CodeCreditNotActive, "credit %s is %s", cr.ID, cr.Status)
		}
		unpaid := credit.Unpaid(installments)
		e.accrue(installments, w.now)
		cr.RecomputeOutstanding(installments)

		remaining := money.Round(cr.OutstandingBalance.Mul(in.Percent).Div(hundred))
		forgiven := money.Zero
		for i := len(unpaid) - 1; i >= 0 && remaining.IsPositive(); i-- {
			inst := unpaid[i]
			amount := inst.ForgiveCapital(remaining)
			remaining = remaining.Sub(amount)
			forgiven = forgiven.Add(amount)
			if inst.OutstandingCapital().IsZero() {
				inst.WaiveInterest()
			}
			inst.RefreshStatus(w.now, e.policy.RoundingTolerance)
		}
		if err := w.tx.UpdateInstallments(w.ctx, unpaid); err != nil {
			return err
		}

		adjustment = &credit.Adjustment{
			ID:           uuid.New(),
			CreditID:     cr.ID,
			Type:         credit.AdjustmentCondonation,
			Amount:       forgiven,
			Percent:      in.Percent,
			AuthorizedBy: in.AuthorizedBy,
			Reason:       in.Reason,
			CreatedAt:    w.now,
		}
		if err := w.tx.InsertAdjustment(w.ctx, adjustment); err != nil {
			return err
		}

		cr.RecomputeOutstanding(installments)
		if cr.Status == credit.StatusActive && cr.OutstandingBalance.IsZero() {
			if err := e.complete(w, cr); err != nil {
				return err
			}
		}
		if err := w.saveCredit(cr); err != nil {
			return err
		}
		w.emit(event.CreditCondoned, cr.ID, cr.MemberID, map[string]any{
			"amount":  forgiven.String(),
			"percent": in.Percent.String(),
		})
		_, err = e.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: installments})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "Credit condoned", "creditID", in.CreditID, "amount", adjustment.Amount, "percent", in.Percent)
	return adjustment, nil
}

type CatastropheInput struct {
	CreditIDs []uuid.UUID
	// Months to postpone; the policy default applies when zero.
	Months int
	// WaiveGrace forgives interest and mora of the installments that fall in
	// the grace window.
	WaiveGrace bool
}

// CatastropheResult maps each credit to the error that kept it from being
// postponed, nil when it was.
type CatastropheResult map[uuid.UUID]error

// Catastrophe postpones every unpaid installment of the given credits. Each
// credit is handled in its own transaction so one failure does not hold back
// the rest.
func (e *ExceptionHandler) Catastrophe(ctx context.Context, in CatastropheInput) (CatastropheResult, error) {
	if len(in.CreditIDs) == 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "no credits given")
	}
	if in.Months < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "months must not be negative, got %d", in.Months)
	}
	months := in.Months
	if months == 0 {
		months = e.policy.CatastropheGrace
	}

	result := make(CatastropheResult, len(in.CreditIDs))
	for _, id := range in.CreditIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result[id] = e.postpone(ctx, id, months, in.WaiveGrace)
	}
	return result, nil
}

func (e *ExceptionHandler) postpone(ctx context.Context, creditID uuid.UUID, months int, waive bool) error {
	return e.run(ctx, "catastrophe", creditKeys(creditID), func(w *work) error {
		cr, installments, err := w.loadCredit(creditID)
		if err != nil {
			return err
		}
		if cr.Status != credit.StatusActive {
			return apperrors.StateConflict(apperrors.CodeCreditNotActive, "credit %s is %s, only active credits are postponed", cr.ID, cr.Status)
		}

		unpaid := credit.Unpaid(installments)
		for i, inst := range unpaid {
			inst.DueDate = amortization.AddMonths(inst.DueDate, months)
			if waive && i < months {
				inst.WaiveInterest()
			}
		}
		e.accrue(installments, w.now)
		if err := w.tx.UpdateInstallments(w.ctx, unpaid); err != nil {
			return err
		}
		cr.RecomputeOutstanding(installments)
		if err := w.saveCredit(cr); err != nil {
			return err
		}
		w.emit(event.CreditPostponed, cr.ID, cr.MemberID, map[string]any{"months": months, "waived": waive})
		_, err = e.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: installments})
		return err
	})
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
