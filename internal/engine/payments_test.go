package engine

import (
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/event"
	"credit-engine/internal/pkg/apperrors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPayment_FirstInstallment(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageThree, "2000")
	cr, _ := h.active(debtor, "5000")
	require.True(t, cr.TotalAmount.Equal(dec("5050")))

	h.clock.Set(day(2026, time.February, 10))
	payment, err := h.pay(cr.ID, "249.62")
	require.NoError(t, err)

	assert.True(t, payment.Breakdown.Interest.Equal(dec("75.00")))
	assert.True(t, payment.Breakdown.Capital.Equal(dec("174.62")))
	assert.True(t, payment.Breakdown.Mora.IsZero())
	assert.True(t, payment.Breakdown.Prepayment.IsZero())
	require.Len(t, payment.Allocations, 1)
	assert.Equal(t, 1, payment.Allocations[0].Number)

	schedule := h.schedule(cr.ID)
	assert.Equal(t, credit.InstallmentPaid, schedule[0].Status)
	assert.Equal(t, credit.InstallmentPending, schedule[1].Status)
	assert.True(t, h.credit(cr.ID).OutstandingBalance.Equal(dec("4825.38")))
	assert.Contains(t, h.events.Types(), event.PaymentApplied)
	assert.Len(t, h.payments(cr.ID), 1)
}

func TestApplyPayment_Rejections(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageThree, "2000")
	cr, _ := h.active(debtor, "5000")

	t.Run("above the payable amount", func(t *testing.T) {
		_, err := h.pay(cr.ID, "6000")
		assertCode(t, err, apperrors.ErrValidation, apperrors.CodeAmountExceedsDebt)
	})

	t.Run("non positive amount", func(t *testing.T) {
		_, err := h.pay(cr.ID, "0")
		assertCode(t, err, apperrors.ErrValidation, apperrors.CodeAmountInvalid)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := h.engine.Payments.ApplyPayment(h.ctx, PaymentInput{CreditID: cr.ID, Amount: dec("10"), Method: "CHEQUE"})
		assertCode(t, err, apperrors.ErrValidation, apperrors.CodeInvalidArgument)
	})

	t.Run("credit not disbursed", func(t *testing.T) {
		pending := h.approved(debtor, "100")
		_, err := h.pay(pending.ID, "10")
		assertCode(t, err, apperrors.ErrStateConflict, apperrors.CodeCreditNotActive)
	})

	assert.Empty(t, h.payments(cr.ID))
	assert.True(t, h.credit(cr.ID).OutstandingBalance.Equal(dec("5000")))
}

func TestApplyPayment_PayoffCompletesTheCredit(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageOne, "3000")
	cr, guarantors := h.active(debtor, "5000")

	h.clock.Set(day(2026, time.January, 20))
	payoff := credit.MaxPayable(h.schedule(cr.ID), h.clock.Now())
	payment, err := h.engine.Payments.ApplyPayment(h.ctx, PaymentInput{
		CreditID: cr.ID,
		Amount:   payoff,
		Method:   credit.PaymentTransfer,
	})
	require.NoError(t, err)
	assert.True(t, payment.Breakdown.Prepayment.IsPositive())

	completed := h.credit(cr.ID)
	assert.Equal(t, credit.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.OutstandingBalance.IsZero())
	assert.Zero(t, h.member(debtor.ID).ActiveCredits)

	for _, g := range h.guarantees(cr.ID) {
		assert.Equal(t, guarantee.StatusReleased, g.Status)
	}
	for _, g := range guarantors {
		m := h.member(g.ID)
		assert.True(t, m.FrozenSavings.IsZero())
		assert.True(t, m.Savings.Equal(dec("1000")))
	}

	reserve, err := h.engine.Lifecycle.InsuranceReserve(h.ctx, cr.ID)
	require.NoError(t, err)
	assert.True(t, reserve.IsZero())
	assert.Contains(t, h.events.Types(), event.CreditCompleted)

	_, err = h.pay(cr.ID, "1")
	assertCode(t, err, apperrors.ErrStateConflict, apperrors.CodeCreditNotActive)
}

func TestMoraOpensAndPaymentClosesDelinquency(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageThree, "2000")
	cr, _ := h.active(debtor, "5000")

	// Ten days past the first due date.
	h.clock.Set(day(2026, time.February, 25))
	record, err := h.engine.Delinquency.RecomputeMember(h.ctx, debtor.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, delinquency.SeverityMild, record.Severity)
	assert.Equal(t, 10, record.WorstDaysOverdue)

	first := h.schedule(cr.ID)[0]
	assert.Equal(t, credit.InstallmentOverdue, first.Status)
	assert.True(t, first.Mora.Equal(dec("24.96")), "mora %s", first.Mora)

	_, err = h.engine.Lifecycle.Request(h.ctx, RequestInput{MemberID: debtor.ID, Amount: dec("100"), TermMonths: 6})
	assertCode(t, err, apperrors.ErrBusinessRule, apperrors.CodeActiveDelinquency)

	payment, err := h.pay(cr.ID, "274.58")
	require.NoError(t, err)
	assert.True(t, payment.Breakdown.Mora.Equal(dec("24.96")))
	assert.Equal(t, credit.InstallmentPaid, h.schedule(cr.ID)[0].Status)

	open, err := h.engine.Delinquency.OpenRecord(h.ctx, debtor.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.Contains(t, h.events.Types(), event.DelinquencyOpened)
	assert.Contains(t, h.events.Types(), event.DelinquencyClosed)
}

func TestRecomputeIsIdempotentWithinADay(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageThree, "2000")
	cr, _ := h.active(debtor, "5000")

	h.clock.Set(day(2026, time.March, 1))
	first, err := h.engine.Delinquency.RecomputeCredit(h.ctx, cr.ID)
	require.NoError(t, err)
	mora := h.schedule(cr.ID)[0].Mora

	second, err := h.engine.Delinquency.RecomputeCredit(h.ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, h.schedule(cr.ID)[0].Mora.Equal(mora))
	assert.Equal(t, delinquency.SeverityMild, second.Severity)
	assert.Equal(t, 14, second.WorstDaysOverdue)
}
