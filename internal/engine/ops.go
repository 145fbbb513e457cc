package engine

import (
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/event"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The helpers in this file are the building blocks shared by the components.
// They run inside a unit of work and never commit on their own.

type paymentRequest struct {
	amount    decimal.Decimal
	method    credit.PaymentMethod
	paidAt    time.Time
	reference string
}

// accrue brings mora and status of every unpaid installment up to asOf and
// returns the worst days overdue among them.
func (c *core) accrue(installments []*credit.Installment, asOf time.Time) int {
	worst := 0
	for _, inst := range installments {
		if inst.Status == credit.InstallmentPaid {
			continue
		}
		inst.Mora = delinquency.Mora(inst, c.policy.DailyMoraRate, asOf)
		inst.RefreshStatus(asOf, c.policy.RoundingTolerance)
		if inst.Status == credit.InstallmentPaid {
			continue
		}
		if days := inst.DaysOverdue(asOf); days > worst {
			worst = days
		}
	}
	return worst
}

// applyPayment runs amount through the waterfall, stores the payment and
// completes the credit when no capital is left. The credit is saved.
func (c *core) applyPayment(w *work, cr *credit.Credit, installments []*credit.Installment, req paymentRequest) (*credit.Payment, error) {
	if !req.method.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "unknown payment method %q", req.method)
	}
	if !cr.IsPayable() {
		return nil, apperrors.StateConflict(apperrors.CodeCreditNotActive, "credit %s is %s and does not accept payments", cr.ID, cr.Status)
	}
	internal := req.method == credit.PaymentGuarantee || req.method == credit.PaymentInsurance
	if cr.Blocked && !internal {
		return nil, apperrors.BusinessRule(apperrors.CodeCreditBlocked, "credit %s is blocked pending a fraud review", cr.ID)
	}

	unpaid := credit.Unpaid(installments)
	c.accrue(installments, req.paidAt)
	dist, err := credit.Distribute(installments, money.Round(req.amount), req.paidAt, c.policy.RoundingTolerance)
	if err != nil {
		return nil, err
	}
	if err := w.tx.UpdateInstallments(w.ctx, unpaid); err != nil {
		return nil, err
	}

	payment := &credit.Payment{
		ID:          uuid.New(),
		CreditID:    cr.ID,
		Amount:      dist.Breakdown.Total(),
		Method:      req.method,
		PaidAt:      req.paidAt,
		Reference:   req.reference,
		Breakdown:   dist.Breakdown,
		Allocations: dist.Allocations,
		CreatedAt:   w.now,
	}
	if err := w.tx.InsertPayment(w.ctx, payment); err != nil {
		return nil, err
	}

	cr.RecomputeOutstanding(installments)
	if cr.Status == credit.StatusActive && cr.OutstandingBalance.IsZero() {
		if err := c.complete(w, cr); err != nil {
			return nil, err
		}
	}
	if err := w.saveCredit(cr); err != nil {
		return nil, err
	}

	w.emit(event.PaymentApplied, cr.ID, cr.MemberID, map[string]any{
		"paymentId":  payment.ID.String(),
		"amount":     payment.Amount.String(),
		"method":     string(payment.Method),
		"mora":       payment.Breakdown.Mora.String(),
		"interest":   payment.Breakdown.Interest.String(),
		"capital":    payment.Breakdown.Capital.String(),
		"prepayment": payment.Breakdown.Prepayment.String(),
	})
	w.onCommit(func() {
		b := payment.Breakdown
		monitoring.RecordPaymentComponent("mora", b.Mora.InexactFloat64())
		monitoring.RecordPaymentComponent("interest", b.Interest.InexactFloat64())
		monitoring.RecordPaymentComponent("capital", b.Capital.InexactFloat64())
		monitoring.RecordPaymentComponent("prepayment", b.Prepayment.InexactFloat64())
	})
	return payment, nil
}

// complete closes a fully repaid credit: guarantees are released, the
// debtor's active count drops and the unclaimed premium is recognized. The
// caller saves the credit.
func (c *core) complete(w *work, cr *credit.Credit) error {
	if err := cr.TransitionTo(credit.StatusCompleted, w.now); err != nil {
		return err
	}
	if err := c.releaseAll(w, cr.ID); err != nil {
		return err
	}

	debtor, err := w.member(cr.MemberID)
	if err != nil {
		return err
	}
	debtor.RemoveActiveCredit()
	if err := w.saveMember(debtor); err != nil {
		return err
	}

	entries, err := w.tx.ListInsuranceEntries(w.ctx, cr.ID)
	if err != nil {
		return err
	}
	if reserve := credit.InsuranceReserve(entries); reserve.IsPositive() {
		err := w.tx.InsertInsuranceEntry(w.ctx, &credit.InsuranceFundEntry{
			ID:        uuid.New(),
			CreditID:  cr.ID,
			Type:      credit.InsuranceRecognized,
			Amount:    reserve,
			CreatedAt: w.now,
		})
		if err != nil {
			return err
		}
	}

	w.emit(event.CreditCompleted, cr.ID, cr.MemberID, nil)
	return nil
}

// writeOff moves the credit to CASTIGADO at the penalty rate. Interest of the
// installments not yet due is recomputed on the capital still owed at the
// start of each period. The caller saves the credit.
func (c *core) writeOff(w *work, cr *credit.Credit, installments []*credit.Installment) error {
	if err := cr.TransitionTo(credit.StatusWrittenOff, w.now); err != nil {
		return err
	}
	cr.RateType = credit.RatePenalty
	cr.AnnualRate = c.policy.PenaltyRate(cr.AnnualRate)
	monthly := amortization.MonthlyRate(cr.AnnualRate)

	unpaid := credit.Unpaid(installments)
	balance := money.Zero
	for _, inst := range unpaid {
		balance = balance.Add(inst.OutstandingCapital())
	}
	for _, inst := range unpaid {
		if credit.DaysBetween(w.now, inst.DueDate) > 0 {
			interest := money.Round(balance.Mul(monthly))
			if interest.LessThan(inst.PaidInterest) {
				interest = inst.PaidInterest
			}
			inst.Interest = interest
			inst.RefreshStatus(w.now, c.policy.RoundingTolerance)
		}
		balance = balance.Sub(inst.OutstandingCapital())
	}
	if err := w.tx.UpdateInstallments(w.ctx, unpaid); err != nil {
		return err
	}

	w.emit(event.CreditWrittenOff, cr.ID, cr.MemberID, map[string]any{"annualRate": cr.AnnualRate.String()})
	return nil
}

func (c *core) releaseAll(w *work, creditID uuid.UUID) error {
	guarantees, err := w.tx.ListGuaranteesByCredit(w.ctx, creditID)
	if err != nil {
		return err
	}
	for _, g := range guarantee.Active(guarantees) {
		if err := c.releaseGuarantee(w, g); err != nil {
			return err
		}
	}
	return nil
}

// releaseGuarantee frees the guarantor's frozen savings.
func (c *core) releaseGuarantee(w *work, g *guarantee.Guarantee) error {
	if err := g.Release(w.now); err != nil {
		return err
	}
	if err := w.tx.UpdateGuarantee(w.ctx, g); err != nil {
		return err
	}
	guarantor, err := w.member(g.GuarantorID)
	if err != nil {
		return err
	}
	if err := guarantor.Unfreeze(g.FrozenAmount); err != nil {
		return err
	}
	guarantor.RemoveGuaranteedCredit()
	if err := w.saveMember(guarantor); err != nil {
		return err
	}
	w.emit(event.GuaranteeReleased, g.CreditID, g.GuarantorID, map[string]any{
		"guaranteeId": g.ID.String(),
		"amount":      g.FrozenAmount.String(),
	})
	return nil
}

// executeGuarantee turns the frozen savings into a GARANTIA payment, bounded
// by what the credit currently owes. Executing an executed guarantee is a
// no-op and returns a nil payment.
func (c *core) executeGuarantee(w *work, cr *credit.Credit, installments []*credit.Installment, g *guarantee.Guarantee) (*credit.Payment, error) {
	switch g.Status {
	case guarantee.StatusExecuted:
		return nil, nil
	case guarantee.StatusActive:
	default:
		return nil, apperrors.StateConflict(apperrors.CodeStateConflict, "guarantee %s is %s and cannot be executed", g.ID, g.Status)
	}
	if !cr.IsPayable() {
		return nil, apperrors.StateConflict(apperrors.CodeCreditNotActive, "credit %s is %s, guarantees cannot be executed", cr.ID, cr.Status)
	}

	c.accrue(installments, w.now)
	amount := money.Min(g.FrozenAmount, credit.MaxPayable(installments, w.now))

	guarantor, err := w.member(g.GuarantorID)
	if err != nil {
		return nil, err
	}
	if err := guarantor.ConsumeFrozen(g.FrozenAmount, amount); err != nil {
		return nil, err
	}
	guarantor.RemoveGuaranteedCredit()
	if err := w.saveMember(guarantor); err != nil {
		return nil, err
	}
	if err := g.MarkExecuted(amount, w.now); err != nil {
		return nil, err
	}
	if err := w.tx.UpdateGuarantee(w.ctx, g); err != nil {
		return nil, err
	}
	w.emit(event.GuaranteeExecuted, cr.ID, g.GuarantorID, map[string]any{
		"guaranteeId": g.ID.String(),
		"amount":      amount.String(),
	})

	if !amount.IsPositive() {
		return nil, nil
	}
	return c.applyPayment(w, cr, installments, paymentRequest{
		amount:    amount,
		method:    credit.PaymentGuarantee,
		paidAt:    w.now,
		reference: "guarantee:" + g.ID.String(),
	})
}

// executeAll executes every active guarantee of the credit, oldest first.
func (c *core) executeAll(w *work, cr *credit.Credit, installments []*credit.Installment) error {
	guarantees, err := w.tx.ListGuaranteesByCredit(w.ctx, cr.ID)
	if err != nil {
		return err
	}
	for _, g := range guarantee.Active(guarantees) {
		if _, err := c.executeGuarantee(w, cr, installments, g); err != nil {
			return err
		}
	}
	return nil
}

type creditState struct {
	credit       *credit.Credit
	installments []*credit.Installment
}

// refreshMember recomputes the member's delinquency record from the worst
// overdue installment across their active and written-off credits. Credits
// being changed in this unit of work are passed in inFlight so their unsaved
// state is used.
func (c *core) refreshMember(w *work, memberID uuid.UUID, inFlight ...creditState) (*delinquency.Record, error) {
	pending := make(map[uuid.UUID]creditState, len(inFlight))
	for _, s := range inFlight {
		pending[s.credit.ID] = s
	}

	credits, err := w.tx.ListCreditsByMember(w.ctx, memberID)
	if err != nil {
		return nil, err
	}
	worst := 0
	for _, cr := range credits {
		installments := []*credit.Installment(nil)
		if s, ok := pending[cr.ID]; ok {
			cr, installments = s.credit, s.installments
		}
		if cr.Status != credit.StatusActive && cr.Status != credit.StatusWrittenOff {
			continue
		}
		if installments == nil {
			if installments, err = w.tx.ListInstallments(w.ctx, cr.ID); err != nil {
				return nil, err
			}
		}
		for _, inst := range credit.Unpaid(installments) {
			if days := inst.DaysOverdue(w.now); days > worst {
				worst = days
			}
		}
	}
	severity := delinquency.Classify(worst, c.policy.WriteOffDays)

	record, err := w.tx.GetOpenDelinquency(w.ctx, memberID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"severity": string(severity), "daysOverdue": worst}

	switch {
	case record == nil && severity == delinquency.SeverityNone:
		return nil, nil
	case record == nil:
		record = delinquency.Open(memberID, worst, severity, w.now)
		if err := w.tx.InsertDelinquency(w.ctx, record); err != nil {
			return nil, err
		}
		w.emit(event.DelinquencyOpened, uuid.Nil, memberID, data)
		return record, nil
	case severity == delinquency.SeverityNone:
		record.Close(w.now)
		if err := w.tx.UpdateDelinquency(w.ctx, record); err != nil {
			return nil, err
		}
		w.emit(event.DelinquencyClosed, uuid.Nil, memberID, nil)
		return nil, nil
	}

	if record.WorstDaysOverdue == worst && record.Severity == severity {
		return record, nil
	}
	escalated := severity.Worse(record.Severity)
	record.WorstDaysOverdue = worst
	record.Severity = severity
	record.UpdatedAt = w.now
	if err := w.tx.UpdateDelinquency(w.ctx, record); err != nil {
		return nil, err
	}
	if escalated {
		w.emit(event.DelinquencyEscalated, uuid.Nil, memberID, data)
	}
	return record, nil
}
