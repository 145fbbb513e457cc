package credit

import (
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/pkg/apperrors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tolerance     = decimal.RequireFromString("0.01")
	scheduleStart = time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
)

func referenceSchedule(t *testing.T) []*Installment {
	t.Helper()
	drafts, err := amortization.Build(amortization.Input{
		Principal:  dec("5000"),
		AnnualRate: dec("0.18"),
		TermMonths: 24,
		Method:     amortization.MethodFrench,
		StartDate:  scheduleStart,
	})
	require.NoError(t, err)
	return FromDrafts(uuid.New(), drafts, 1, scheduleStart)
}

func smallSchedule() []*Installment {
	var insts []*Installment
	for i := 1; i <= 3; i++ {
		insts = append(insts, &Installment{
			ID:       uuid.New(),
			Number:   i,
			DueDate:  amortization.AddMonths(scheduleStart, i),
			Capital:  dec("100"),
			Interest: dec("10"),
			Status:   InstallmentPending,
		})
	}
	return insts
}

func TestDistribute_FullFirstInstallment(t *testing.T) {
	insts := referenceSchedule(t)
	asOf := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)

	dist, err := Distribute(insts, dec("249.62"), asOf, tolerance)
	require.NoError(t, err)

	assert.Equal(t, InstallmentPaid, insts[0].Status)
	assert.True(t, dist.Breakdown.Mora.IsZero())
	assert.True(t, dist.Breakdown.Interest.Equal(dec("75.00")))
	assert.True(t, dist.Breakdown.Capital.Equal(dec("174.62")))
	assert.True(t, dist.Breakdown.Prepayment.IsZero())
	assert.Len(t, dist.Allocations, 1)
	assert.Equal(t, InstallmentPending, insts[1].Status)
}

func TestDistribute_MoraThenInterestThenCapital(t *testing.T) {
	insts := smallSchedule()
	insts[0].Mora = dec("5")
	asOf := time.Date(2026, time.February, 25, 0, 0, 0, 0, time.UTC)

	dist, err := Distribute(insts, dec("7"), asOf, tolerance)
	require.NoError(t, err)

	assert.True(t, dist.Breakdown.Mora.Equal(dec("5")))
	assert.True(t, dist.Breakdown.Interest.Equal(dec("2")))
	assert.True(t, dist.Breakdown.Capital.IsZero())
	assert.True(t, insts[0].PaidMora.Equal(dec("5")))
	assert.True(t, insts[0].PaidInterest.Equal(dec("2")))
	assert.True(t, insts[0].PaidCapital.IsZero())
	assert.Equal(t, InstallmentOverdue, insts[0].Status)
}

func TestDistribute_OverdueInstallmentsSettleOldestFirst(t *testing.T) {
	insts := smallSchedule()
	// Both the first and second installment are past due.
	asOf := time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC)

	dist, err := Distribute(insts, dec("150"), asOf, tolerance)
	require.NoError(t, err)

	assert.Equal(t, InstallmentPaid, insts[0].Status)
	assert.True(t, insts[1].PaidInterest.Equal(dec("10")))
	assert.True(t, insts[1].PaidCapital.Equal(dec("30")))
	assert.Equal(t, InstallmentOverdue, insts[1].Status)
	assert.True(t, insts[2].AmountPaid().IsZero())
	assert.True(t, dist.Breakdown.Total().Equal(dec("150")))
}

func TestDistribute_PrepaymentWaivesInterestOfFullyPrepaidInstallment(t *testing.T) {
	insts := referenceSchedule(t)
	asOf := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	secondInterest := insts[1].Interest

	dist, err := Distribute(insts, dec("549.62"), asOf, tolerance)
	require.NoError(t, err)

	assert.True(t, dist.Breakdown.Prepayment.Equal(dec("300")))
	assert.Equal(t, InstallmentPaid, insts[1].Status)
	assert.True(t, insts[1].PaidInterest.IsZero())
	assert.True(t, insts[1].WaivedInterest.Equal(secondInterest))

	expectedThird := dec("300").Sub(insts[1].Capital)
	assert.True(t, insts[2].PaidCapital.Equal(expectedThird), "third installment prepaid %s", insts[2].PaidCapital)
	assert.True(t, insts[2].PaidInterest.IsZero())
	assert.Equal(t, InstallmentPartiallyPaid, insts[2].Status)
}

func TestDistribute_ConservesAmount(t *testing.T) {
	asOf := time.Date(2026, time.April, 3, 0, 0, 0, 0, time.UTC)
	for _, amount := range []string{"0.01", "13.37", "249.62", "600", "1234.56", "4000"} {
		t.Run(amount, func(t *testing.T) {
			insts := referenceSchedule(t)
			insts[0].Mora = dec("11.25")

			dist, err := Distribute(insts, dec(amount), asOf, tolerance)
			require.NoError(t, err)
			assert.True(t, dist.Breakdown.Total().Equal(dec(amount)), "breakdown %s", dist.Breakdown.Total())

			allocated := decimal.Zero
			for _, a := range dist.Allocations {
				allocated = allocated.Add(a.Mora).Add(a.Interest).Add(a.Capital).Add(a.Prepayment)
			}
			assert.True(t, allocated.Equal(dec(amount)))
		})
	}
}

func TestDistribute_Rejections(t *testing.T) {
	asOf := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)

	t.Run("non positive amount", func(t *testing.T) {
		_, err := Distribute(referenceSchedule(t), decimal.Zero, asOf, tolerance)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, apperrors.CodeAmountInvalid, apperrors.CodeOf(err))
	})

	t.Run("above payable total", func(t *testing.T) {
		insts := referenceSchedule(t)
		limit := MaxPayable(insts, asOf)
		assert.True(t, limit.Equal(dec("5075.00")), "max payable %s", limit)

		_, err := Distribute(insts, limit.Add(dec("0.01")), asOf, tolerance)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, apperrors.CodeAmountExceedsDebt, apperrors.CodeOf(err))
		for _, inst := range insts {
			assert.True(t, inst.AmountPaid().IsZero())
		}
	})

	t.Run("exact payoff settles every installment", func(t *testing.T) {
		insts := referenceSchedule(t)
		_, err := Distribute(insts, MaxPayable(insts, asOf), asOf, tolerance)
		require.NoError(t, err)

		c := &Credit{}
		c.RecomputeOutstanding(insts)
		assert.True(t, c.OutstandingBalance.IsZero())
		for _, inst := range insts {
			assert.Equal(t, InstallmentPaid, inst.Status, "installment %d", inst.Number)
		}
	})
}
