package amortization

import (
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/shopspring/decimal"
)

type Method string

const (
	// MethodFrench keeps the installment total constant.
	MethodFrench Method = "FRANCES"
	// MethodGerman keeps the capital portion constant.
	MethodGerman Method = "ALEMAN"
)

func (m Method) Valid() bool {
	return m == MethodFrench || m == MethodGerman
}

var monthsPerYear = decimal.NewFromInt(12)

// factorPrecision bounds the digits kept while compounding (1+r)^n.
const factorPrecision = 24

type Input struct {
	Principal  decimal.Decimal
	AnnualRate decimal.Decimal
	TermMonths int
	Method     Method
	StartDate  time.Time
}

// Draft is one row of a schedule before it is attached to a credit.
type Draft struct {
	Number   int
	DueDate  time.Time
	Capital  decimal.Decimal
	Interest decimal.Decimal
	Total    decimal.Decimal
	// Balance is the remaining capital after this installment.
	Balance decimal.Decimal
}

// Build returns the full installment schedule. The last installment's capital
// absorbs rounding drift so capital portions always add up to the principal.
func Build(in Input) ([]Draft, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	r := MonthlyRate(in.AnnualRate)
	n := in.TermMonths
	principal := money.Round(in.Principal)

	var fixedCapital, fixedInstallment decimal.Decimal
	switch in.Method {
	case MethodFrench:
		fixedInstallment = FrenchInstallment(principal, r, n)
	case MethodGerman:
		fixedCapital = money.Round(principal.Div(decimal.NewFromInt(int64(n))))
	}

	drafts := make([]Draft, 0, n)
	balance := principal
	for i := 1; i <= n; i++ {
		interest := money.Round(balance.Mul(r))

		var capital decimal.Decimal
		switch {
		case i == n:
			capital = balance
		case in.Method == MethodFrench:
			capital = fixedInstallment.Sub(interest)
		default:
			capital = fixedCapital
		}
		if capital.GreaterThan(balance) {
			capital = balance
		}
		capital = money.NonNegative(capital)
		balance = balance.Sub(capital)

		drafts = append(drafts, Draft{
			Number:   i,
			DueDate:  AddMonths(in.StartDate, i),
			Capital:  capital,
			Interest: interest,
			Total:    capital.Add(interest),
			Balance:  balance,
		})
	}

	return drafts, nil
}

// MonthlyRate converts a nominal annual rate to the periodic rate.
func MonthlyRate(annual decimal.Decimal) decimal.Decimal {
	return annual.Div(monthsPerYear)
}

// FrenchInstallment computes P·r / (1 − (1+r)^−n), written as P·r·f / (f − 1)
// with f = (1+r)^n, rounded to cents. A zero rate degenerates to P/n.
func FrenchInstallment(principal, monthlyRate decimal.Decimal, n int) decimal.Decimal {
	if monthlyRate.IsZero() {
		return money.Round(principal.Div(decimal.NewFromInt(int64(n))))
	}
	onePlusR := decimal.NewFromInt(1).Add(monthlyRate)
	factor := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		factor = factor.Mul(onePlusR).Round(factorPrecision)
	}
	numerator := principal.Mul(monthlyRate).Mul(factor)
	return money.Round(numerator.Div(factor.Sub(decimal.NewFromInt(1))))
}

// AddMonths moves t forward by months calendar months, clamping the day to the
// last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func validate(in Input) error {
	if !in.Principal.IsPositive() {
		return apperrors.Validation(apperrors.CodeInvalidScheduleInput, "principal must be positive, got %s", in.Principal)
	}
	if in.TermMonths < 1 {
		return apperrors.Validation(apperrors.CodeInvalidScheduleInput, "term must be at least one month, got %d", in.TermMonths)
	}
	if in.AnnualRate.IsNegative() {
		return apperrors.Validation(apperrors.CodeInvalidScheduleInput, "annual rate must not be negative, got %s", in.AnnualRate)
	}
	if !in.Method.Valid() {
		return apperrors.Validation(apperrors.CodeInvalidScheduleInput, "unknown amortization method %q", in.Method)
	}
	return nil
}
