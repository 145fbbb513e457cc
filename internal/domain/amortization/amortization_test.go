package amortization

import (
	"credit-engine/internal/pkg/apperrors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sumCapital(drafts []Draft) decimal.Decimal {
	total := decimal.Zero
	for _, d := range drafts {
		total = total.Add(d.Capital)
	}
	return total
}

func TestBuild_FrenchReferenceScenario(t *testing.T) {
	drafts, err := Build(Input{
		Principal:  dec("5000"),
		AnnualRate: dec("0.18"),
		TermMonths: 24,
		Method:     MethodFrench,
		StartDate:  start,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 24)

	first := drafts[0]
	assert.True(t, first.Interest.Equal(dec("75.00")), "first interest %s", first.Interest)
	assert.True(t, first.Total.Equal(dec("249.62")), "installment %s", first.Total)
	assert.True(t, first.Capital.Equal(dec("174.62")), "first capital %s", first.Capital)

	last := drafts[23]
	assert.True(t, last.Capital.Equal(dec("245.92")), "last capital %s", last.Capital)
	assert.True(t, last.Balance.IsZero())

	assert.True(t, sumCapital(drafts).Equal(dec("5000")))
	for _, d := range drafts {
		diff := d.Total.Sub(first.Total).Abs()
		assert.True(t, diff.LessThanOrEqual(dec("0.01")), "installment %d total %s", d.Number, d.Total)
	}
}

func TestBuild_CapitalAlwaysSumsToPrincipal(t *testing.T) {
	cases := []Input{
		{Principal: dec("1000"), AnnualRate: dec("0.12"), TermMonths: 12, Method: MethodFrench},
		{Principal: dec("10000"), AnnualRate: dec("0.24"), TermMonths: 36, Method: MethodFrench},
		{Principal: dec("1234.56"), AnnualRate: dec("0.18"), TermMonths: 7, Method: MethodFrench},
		{Principal: dec("1000"), AnnualRate: dec("0"), TermMonths: 3, Method: MethodFrench},
		{Principal: dec("1000"), AnnualRate: dec("0.12"), TermMonths: 3, Method: MethodGerman},
		{Principal: dec("5000"), AnnualRate: dec("0.18"), TermMonths: 24, Method: MethodGerman},
		{Principal: dec("999.99"), AnnualRate: dec("0.3"), TermMonths: 1, Method: MethodGerman},
	}
	for _, in := range cases {
		in.StartDate = start
		t.Run(string(in.Method)+"_"+in.Principal.String(), func(t *testing.T) {
			drafts, err := Build(in)
			require.NoError(t, err)
			assert.Len(t, drafts, in.TermMonths)
			assert.True(t, sumCapital(drafts).Equal(in.Principal), "sum %s", sumCapital(drafts))
			for _, d := range drafts {
				assert.False(t, d.Capital.IsNegative())
				assert.True(t, d.Total.Equal(d.Total.Round(2)))
			}
		})
	}
}

func TestBuild_ZeroRateFrench(t *testing.T) {
	drafts, err := Build(Input{Principal: dec("1000"), AnnualRate: decimal.Zero, TermMonths: 3, Method: MethodFrench, StartDate: start})
	require.NoError(t, err)

	assert.True(t, drafts[0].Total.Equal(dec("333.33")))
	assert.True(t, drafts[1].Total.Equal(dec("333.33")))
	assert.True(t, drafts[2].Total.Equal(dec("333.34")))
	for _, d := range drafts {
		assert.True(t, d.Interest.IsZero())
	}
}

func TestBuild_German(t *testing.T) {
	drafts, err := Build(Input{Principal: dec("1000"), AnnualRate: dec("0.12"), TermMonths: 3, Method: MethodGerman, StartDate: start})
	require.NoError(t, err)

	want := []struct{ capital, interest, total string }{
		{"333.33", "10.00", "343.33"},
		{"333.33", "6.67", "340.00"},
		{"333.34", "3.33", "336.67"},
	}
	for i, w := range want {
		assert.True(t, drafts[i].Capital.Equal(dec(w.capital)), "capital %d: %s", i+1, drafts[i].Capital)
		assert.True(t, drafts[i].Interest.Equal(dec(w.interest)), "interest %d: %s", i+1, drafts[i].Interest)
		assert.True(t, drafts[i].Total.Equal(dec(w.total)), "total %d: %s", i+1, drafts[i].Total)
	}
}

func TestBuild_GermanConstantCapitalDecreasingTotal(t *testing.T) {
	drafts, err := Build(Input{Principal: dec("5000"), AnnualRate: dec("0.18"), TermMonths: 24, Method: MethodGerman, StartDate: start})
	require.NoError(t, err)

	for i := 1; i < len(drafts)-1; i++ {
		assert.True(t, drafts[i].Capital.Equal(drafts[0].Capital))
	}
	for i := 1; i < len(drafts); i++ {
		assert.True(t, drafts[i].Total.LessThan(drafts[i-1].Total), "period %d total %s not below %s", i+1, drafts[i].Total, drafts[i-1].Total)
	}
	assert.True(t, drafts[23].Total.Equal(dec("211.54")))
}

func TestBuild_DueDates(t *testing.T) {
	endOfMonth := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	drafts, err := Build(Input{Principal: dec("300"), AnnualRate: dec("0.12"), TermMonths: 3, Method: MethodFrench, StartDate: endOfMonth})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), drafts[0].DueDate)
	assert.Equal(t, time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC), drafts[1].DueDate)
	assert.Equal(t, time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC), drafts[2].DueDate)
}

func TestBuild_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"zero principal", Input{Principal: decimal.Zero, AnnualRate: dec("0.1"), TermMonths: 12, Method: MethodFrench}},
		{"negative principal", Input{Principal: dec("-5"), AnnualRate: dec("0.1"), TermMonths: 12, Method: MethodFrench}},
		{"zero term", Input{Principal: dec("100"), AnnualRate: dec("0.1"), TermMonths: 0, Method: MethodFrench}},
		{"negative rate", Input{Principal: dec("100"), AnnualRate: dec("-0.1"), TermMonths: 12, Method: MethodGerman}},
		{"unknown method", Input{Principal: dec("100"), AnnualRate: dec("0.1"), TermMonths: 12, Method: "LINEAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts, err := Build(tt.in)
			assert.Nil(t, drafts)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Equal(t, apperrors.CodeInvalidScheduleInput, apperrors.CodeOf(err))
		})
	}
}

func TestAddMonths_LeapYear(t *testing.T) {
	got := AddMonths(time.Date(2028, time.January, 30, 0, 0, 0, 0, time.UTC), 1)
	assert.Equal(t, time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC), got)
}
