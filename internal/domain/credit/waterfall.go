package credit

import (
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/shopspring/decimal"
)

// Distribution is the result of running a payment through the waterfall.
type Distribution struct {
	Breakdown   Breakdown
	Allocations []Allocation
	Touched     []*Installment
}

// MaxPayable is the most a single payment may carry: everything owed on the
// currently due installments plus the capital of the later ones.
func MaxPayable(installments []*Installment, asOf time.Time) decimal.Decimal {
	due, later := splitDue(Unpaid(installments), asOf)
	total := money.Zero
	for _, inst := range due {
		total = total.Add(inst.Outstanding())
	}
	for _, inst := range later {
		total = total.Add(inst.OutstandingCapital())
	}
	return total
}

// Distribute applies amount to the installments in place.
//
// Unpaid installments are taken oldest first. Every installment due on or
// before asOf, plus the first upcoming one, is consumed mora, then interest,
// then capital before moving on. Whatever is left is prepayment: it reduces
// the capital of the following installments in order, and an installment
// whose capital is fully prepaid has its unearned interest waived.
func Distribute(installments []*Installment, amount decimal.Decimal, asOf time.Time, tolerance decimal.Decimal) (Distribution, error) {
	if !amount.IsPositive() {
		return Distribution{}, apperrors.Validation(apperrors.CodeAmountInvalid, "payment amount must be positive, got %s", amount)
	}
	if limit := MaxPayable(installments, asOf); amount.GreaterThan(limit) {
		return Distribution{}, apperrors.Validation(apperrors.CodeAmountExceedsDebt,
			"payment %s exceeds the %s currently payable", amount, limit)
	}

	due, later := splitDue(Unpaid(installments), asOf)
	remaining := amount
	var result Distribution

	for _, inst := range due {
		if !remaining.IsPositive() {
			break
		}
		alloc := Allocation{InstallmentID: inst.ID, Number: inst.Number}

		alloc.Mora = money.Min(remaining, inst.OutstandingMora())
		inst.PaidMora = inst.PaidMora.Add(alloc.Mora)
		remaining = remaining.Sub(alloc.Mora)

		alloc.Interest = money.Min(remaining, inst.OutstandingInterest())
		inst.PaidInterest = inst.PaidInterest.Add(alloc.Interest)
		remaining = remaining.Sub(alloc.Interest)

		alloc.Capital = money.Min(remaining, inst.OutstandingCapital())
		inst.PaidCapital = inst.PaidCapital.Add(alloc.Capital)
		remaining = remaining.Sub(alloc.Capital)

		inst.RefreshStatus(asOf, tolerance)
		result.record(inst, alloc)
	}

	for _, inst := range later {
		if !remaining.IsPositive() {
			break
		}
		alloc := Allocation{InstallmentID: inst.ID, Number: inst.Number}
		alloc.Prepayment = money.Min(remaining, inst.OutstandingCapital())
		inst.PaidCapital = inst.PaidCapital.Add(alloc.Prepayment)
		remaining = remaining.Sub(alloc.Prepayment)

		if inst.OutstandingCapital().IsZero() {
			inst.WaiveInterest()
		}
		inst.RefreshStatus(asOf, tolerance)
		result.record(inst, alloc)
	}

	if !remaining.IsZero() {
		// Unreachable while MaxPayable holds.
		return Distribution{}, apperrors.Validation(apperrors.CodeAmountExceedsDebt,
			"payment left %s undistributed", remaining)
	}
	return result, nil
}

func (d *Distribution) record(inst *Installment, alloc Allocation) {
	d.Allocations = append(d.Allocations, alloc)
	d.Breakdown = d.Breakdown.add(alloc)
	d.Touched = append(d.Touched, inst)
}

// splitDue separates the unpaid installments into the currently due set and
// the later ones eligible for prepayment.
func splitDue(unpaid []*Installment, asOf time.Time) (due, later []*Installment) {
	asOfDate := dateOnly(asOf)
	for i, inst := range unpaid {
		if !dateOnly(inst.DueDate).After(asOfDate) {
			continue
		}
		return unpaid[:i+1], unpaid[i+1:]
	}
	return unpaid, nil
}
