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

var now = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNew(t *testing.T) {
	t.Run("Success adds the premium to the total", func(t *testing.T) {
		c, err := New(uuid.New(), dec("5000"), 24, amortization.MethodFrench, dec("0.01"), now)
		require.NoError(t, err)
		assert.Equal(t, StatusRequested, c.Status)
		assert.True(t, c.InsurancePremium.Equal(dec("50")))
		assert.True(t, c.TotalAmount.Equal(dec("5050")))
		assert.Equal(t, RateNormal, c.RateType)
	})

	t.Run("Defaults to French", func(t *testing.T) {
		c, err := New(uuid.New(), dec("100"), 1, "", dec("0.01"), now)
		require.NoError(t, err)
		assert.Equal(t, amortization.MethodFrench, c.Method)
	})

	tests := []struct {
		name      string
		principal string
		term      int
		code      string
	}{
		{"zero amount", "0", 12, apperrors.CodeAmountInvalid},
		{"negative amount", "-10", 12, apperrors.CodeAmountInvalid},
		{"zero term", "100", 0, apperrors.CodeTermInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(uuid.New(), dec(tt.principal), tt.term, amortization.MethodGerman, dec("0.01"), now)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusRequested, StatusInReview},
		{StatusRequested, StatusApproved},
		{StatusRequested, StatusRejected},
		{StatusInReview, StatusApproved},
		{StatusInReview, StatusRejected},
		{StatusApproved, StatusActive},
		{StatusActive, StatusCompleted},
		{StatusActive, StatusWrittenOff},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransitionTo(tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to Status }{
		{StatusApproved, StatusApproved},
		{StatusApproved, StatusRejected},
		{StatusWrittenOff, StatusActive},
		{StatusCompleted, StatusActive},
		{StatusRejected, StatusInReview},
		{StatusActive, StatusApproved},
	}
	for _, tr := range denied {
		assert.False(t, tr.from.CanTransitionTo(tr.to), "%s -> %s", tr.from, tr.to)
	}

	for _, s := range []Status{StatusRejected, StatusCompleted, StatusWrittenOff} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestTransitionTo_StampsDates(t *testing.T) {
	c := &Credit{ID: uuid.New(), Status: StatusApproved}
	require.NoError(t, c.TransitionTo(StatusActive, now))
	require.NotNil(t, c.DisbursedAt)
	assert.Equal(t, now, *c.DisbursedAt)

	err := c.TransitionTo(StatusApproved, now)
	assert.ErrorIs(t, err, apperrors.ErrStateConflict)
	assert.Equal(t, StatusActive, c.Status)
}

func TestRecomputeOutstanding(t *testing.T) {
	c := &Credit{}
	installments := []*Installment{
		{Capital: dec("100"), PaidCapital: dec("100"), Status: InstallmentPaid},
		{Capital: dec("100"), PaidCapital: dec("40"), Status: InstallmentPartiallyPaid},
		{Capital: dec("100"), Status: InstallmentPending},
	}
	c.RecomputeOutstanding(installments)
	assert.True(t, c.OutstandingBalance.Equal(dec("160")))
}

func TestInstallmentRefreshStatus(t *testing.T) {
	due := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	tolerance := dec("0.01")

	tests := []struct {
		name string
		inst Installment
		asOf time.Time
		want InstallmentStatus
	}{
		{"untouched before due", Installment{Capital: dec("100"), Interest: dec("10"), DueDate: due}, now, InstallmentPending},
		{"partial before due", Installment{Capital: dec("100"), Interest: dec("10"), PaidInterest: dec("10"), DueDate: due}, now, InstallmentPartiallyPaid},
		{"unpaid after due", Installment{Capital: dec("100"), Interest: dec("10"), DueDate: due}, due.AddDate(0, 0, 1), InstallmentOverdue},
		{"partial after due", Installment{Capital: dec("100"), Interest: dec("10"), PaidInterest: dec("5"), DueDate: due}, due.AddDate(0, 0, 3), InstallmentOverdue},
		{"on due date is not overdue", Installment{Capital: dec("100"), DueDate: due}, due.Add(20 * time.Hour), InstallmentPending},
		{"within tolerance", Installment{Capital: dec("100"), Interest: dec("10"), PaidCapital: dec("99.99"), PaidInterest: dec("10"), DueDate: due}, due.AddDate(0, 0, 9), InstallmentPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := tt.inst
			inst.RefreshStatus(tt.asOf, tolerance)
			assert.Equal(t, tt.want, inst.Status)
			if tt.want == InstallmentPaid {
				assert.NotNil(t, inst.PaidAt)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	due := time.Date(2026, time.March, 15, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysBetween(due, due))
	assert.Equal(t, 0, DaysBetween(due, due.AddDate(0, 0, -3)))
	assert.Equal(t, 10, DaysBetween(due, time.Date(2026, time.March, 25, 1, 0, 0, 0, time.UTC)))
}

func TestInsuranceReserve(t *testing.T) {
	entries := []*InsuranceFundEntry{
		{Type: InsurancePremium, Amount: dec("50")},
		{Type: InsurancePremium, Amount: dec("30")},
		{Type: InsuranceClaim, Amount: dec("20")},
		{Type: InsuranceRecognized, Amount: dec("30")},
	}
	assert.True(t, InsuranceReserve(entries).Equal(dec("30")))
}

func TestForgiveCapitalAndWaive(t *testing.T) {
	inst := &Installment{Capital: dec("100"), PaidCapital: dec("30"), Interest: dec("10"), PaidInterest: dec("4"), Mora: dec("2")}

	forgiven := inst.ForgiveCapital(dec("100"))
	assert.True(t, forgiven.Equal(dec("70")))
	assert.True(t, inst.OutstandingCapital().IsZero())

	inst.WaiveInterest()
	assert.True(t, inst.Outstanding().IsZero())
	assert.True(t, inst.WaivedInterest.Equal(dec("6")))
	assert.True(t, inst.WaivedMora.Equal(dec("2")))
}
