package engine

import (
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/event"
	"credit-engine/internal/pkg/apperrors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGuarantees(t *testing.T) {
	t.Run("Success freezes ten percent of the principal", func(t *testing.T) {
		h := newHarness(t)
		debtor := h.addMember(member.StageOne, "3000")
		g1, g2 := h.addMember(member.StageThree, "1000"), h.addMember(member.StageThree, "1000")
		cr := h.approved(debtor, "5000")

		created, err := h.engine.Guarantees.Create(h.ctx, cr.ID, []uuid.UUID{g1.ID, g2.ID})
		require.NoError(t, err)
		require.Len(t, created, 2)
		for _, g := range created {
			assert.Equal(t, guarantee.StatusActive, g.Status)
			assert.True(t, g.FrozenAmount.Equal(dec("500")))
		}
		for _, id := range []uuid.UUID{g1.ID, g2.ID} {
			m := h.member(id)
			assert.True(t, m.FrozenSavings.Equal(dec("500")))
			assert.True(t, m.Available().Equal(dec("500")))
			assert.Equal(t, 1, m.GuaranteedCredits)
		}

		_, err = h.engine.Guarantees.Create(h.ctx, cr.ID, []uuid.UUID{h.addMember(member.StageThree, "1000").ID, h.addMember(member.StageThree, "1000").ID})
		assert.ErrorIs(t, err, apperrors.ErrStateConflict)
	})

	t.Run("Insufficient savings creates nothing", func(t *testing.T) {
		h := newHarness(t)
		debtor := h.addMember(member.StageOne, "3000")
		g1, g2 := h.addMember(member.StageThree, "1000"), h.addMember(member.StageThree, "400")
		cr := h.approved(debtor, "5000")
		h.events.Reset()

		_, err := h.engine.Guarantees.Create(h.ctx, cr.ID, []uuid.UUID{g1.ID, g2.ID})
		assertCode(t, err, apperrors.ErrBusinessRule, apperrors.CodeInsufficientAvailableSavings)

		assert.Empty(t, h.guarantees(cr.ID))
		assert.True(t, h.member(g1.ID).FrozenSavings.IsZero())
		assert.Zero(t, h.member(g1.ID).GuaranteedCredits)
		assert.Empty(t, h.events.Events())
	})

	ineligible := []struct {
		name  string
		setup func(h *harness, debtor *member.Member) uuid.UUID
		kind  error
		code  string
	}{
		{
			name:  "debtor guarantees own credit",
			setup: func(h *harness, debtor *member.Member) uuid.UUID { return debtor.ID },
			kind:  apperrors.ErrBusinessRule,
			code:  apperrors.CodeGuarantorIneligible,
		},
		{
			name: "guarantor below the required stage",
			setup: func(h *harness, _ *member.Member) uuid.UUID {
				return h.addMember(member.StageTwo, "5000").ID
			},
			kind: apperrors.ErrBusinessRule,
			code: apperrors.CodeGuarantorIneligible,
		},
		{
			name: "guarantor at the guarantee cap",
			setup: func(h *harness, _ *member.Member) uuid.UUID {
				m := h.addMember(member.StageThree, "5000")
				m.GuaranteedCredits = 3
				h.store.SaveMember(m)
				return m.ID
			},
			kind: apperrors.ErrBusinessRule,
			code: apperrors.CodeGuarantorIneligible,
		},
		{
			name: "suspended guarantor",
			setup: func(h *harness, _ *member.Member) uuid.UUID {
				m := h.addMember(member.StageThree, "5000")
				m.State = member.StateSuspended
				h.store.SaveMember(m)
				return m.ID
			},
			kind: apperrors.ErrBusinessRule,
			code: apperrors.CodeGuarantorIneligible,
		},
	}
	for _, tt := range ineligible {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			debtor := h.addMember(member.StageOne, "3000")
			cr := h.approved(debtor, "5000")
			good := h.addMember(member.StageThree, "1000")

			_, err := h.engine.Guarantees.Create(h.ctx, cr.ID, []uuid.UUID{good.ID, tt.setup(h, debtor)})
			assertCode(t, err, tt.kind, tt.code)
			assert.True(t, h.member(good.ID).FrozenSavings.IsZero())
		})
	}

	t.Run("Argument checks", func(t *testing.T) {
		h := newHarness(t)
		one := h.addMember(member.StageThree, "1000")

		_, err := h.engine.Guarantees.Create(h.ctx, uuid.New(), []uuid.UUID{one.ID})
		assertCode(t, err, apperrors.ErrValidation, apperrors.CodeInvalidArgument)

		_, err = h.engine.Guarantees.Create(h.ctx, uuid.New(), []uuid.UUID{one.ID, one.ID})
		assertCode(t, err, apperrors.ErrValidation, apperrors.CodeInvalidArgument)
	})
}

func TestGuaranteeReleaseFlow(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageOne, "3000")
	cr, _ := h.active(debtor, "5000")
	pledged := h.guarantees(cr.ID)
	require.Len(t, pledged, 2)

	_, err := h.engine.Guarantees.RequestRelease(h.ctx, pledged[0].ID, "")
	assertCode(t, err, apperrors.ErrBusinessRule, apperrors.CodeReleaseNotEligible)

	h.clock.Set(day(2026, time.January, 20))
	_, err = h.pay(cr.ID, "3000")
	require.NoError(t, err)
	require.True(t, h.credit(cr.ID).OutstandingBalance.Equal(dec("2075")))

	request, err := h.engine.Guarantees.RequestRelease(h.ctx, pledged[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, guarantee.ReleaseRequested, request.Status)
	assert.Equal(t, pledged[0].GuarantorID.String(), request.RequestedBy)

	_, err = h.engine.Guarantees.RequestRelease(h.ctx, pledged[0].ID, "")
	assertCode(t, err, apperrors.ErrBusinessRule, apperrors.CodeReleaseNotEligible)

	_, err = h.engine.Guarantees.ApproveRelease(h.ctx, request.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	approved, err := h.engine.Guarantees.ApproveRelease(h.ctx, request.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, guarantee.ReleaseProcessed, approved.Status)
	assert.Equal(t, "manager", approved.DecidedBy)

	released := h.guarantees(cr.ID)[0]
	assert.Equal(t, guarantee.StatusReleased, released.Status)
	assert.Equal(t, pledged[0].ID, released.ID)
	assert.True(t, h.member(pledged[0].GuarantorID).FrozenSavings.IsZero())
	assert.Contains(t, h.events.Types(), event.GuaranteeReleased)

	_, err = h.engine.Guarantees.Execute(h.ctx, released.ID)
	assert.ErrorIs(t, err, apperrors.ErrStateConflict)

	_, err = h.engine.Guarantees.ApproveRelease(h.ctx, request.ID, "manager")
	assert.ErrorIs(t, err, apperrors.ErrStateConflict)

	second, err := h.engine.Guarantees.RequestRelease(h.ctx, pledged[1].ID, "branch office")
	require.NoError(t, err)
	_, err = h.engine.Guarantees.RejectRelease(h.ctx, second.ID, "manager", "")
	assertCode(t, err, apperrors.ErrValidation, apperrors.CodeReasonRequired)

	rejected, err := h.engine.Guarantees.RejectRelease(h.ctx, second.ID, "manager", "credit still young")
	require.NoError(t, err)
	assert.Equal(t, guarantee.ReleaseRejected, rejected.Status)
	assert.Equal(t, guarantee.StatusActive, h.guarantees(cr.ID)[1].Status)
	assert.True(t, h.member(pledged[1].GuarantorID).FrozenSavings.Equal(dec("500")))
}

func TestWriteOffExecutesGuarantees(t *testing.T) {
	h := newHarness(t)
	debtor := h.addMember(member.StageOne, "3000")
	cr, guarantors := h.active(debtor, "5000")

	// Ninety days after the first due date.
	h.clock.Set(day(2026, time.May, 16))
	record, err := h.engine.Delinquency.RecomputeMember(h.ctx, debtor.ID)
	require.NoError(t, err)
	assert.NotNil(t, record)

	writtenOff := h.credit(cr.ID)
	assert.Equal(t, credit.StatusWrittenOff, writtenOff.Status)
	assert.Equal(t, credit.RatePenalty, writtenOff.RateType)
	assert.True(t, writtenOff.AnnualRate.Equal(dec("0.27")))
	require.NotNil(t, writtenOff.WrittenOffAt)

	for _, g := range h.guarantees(cr.ID) {
		assert.Equal(t, guarantee.StatusExecuted, g.Status)
		assert.True(t, g.ExecutedAmount.Equal(dec("500")))
	}
	for _, g := range guarantors {
		m := h.member(g.ID)
		assert.True(t, m.Savings.Equal(dec("500")))
		assert.True(t, m.FrozenSavings.IsZero())
		assert.Zero(t, m.GuaranteedCredits)
	}

	payments := h.payments(cr.ID)
	require.Len(t, payments, 2)
	for _, p := range payments {
		assert.Equal(t, credit.PaymentGuarantee, p.Method)
	}
	types := h.events.Types()
	assert.Contains(t, types, event.CreditWrittenOff)
	assert.Contains(t, types, event.GuaranteeExecuted)

	again, err := h.engine.Guarantees.Execute(h.ctx, h.guarantees(cr.ID)[0].ID)
	require.NoError(t, err)
	assert.Equal(t, guarantee.StatusExecuted, again.Status)
	assert.Len(t, h.payments(cr.ID), 2)

	// A written-off credit still collects.
	_, err = h.pay(cr.ID, "100")
	assert.NoError(t, err)
	assert.Equal(t, credit.StatusWrittenOff, h.credit(cr.ID).Status)
}
