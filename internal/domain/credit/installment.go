package credit

import (
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/pkg/money"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "PENDIENTE"
	InstallmentPartiallyPaid InstallmentStatus = "PARCIALMENTE_PAGADA"
	InstallmentPaid          InstallmentStatus = "PAGADA"
	InstallmentOverdue       InstallmentStatus = "VENCIDA"
)

type Installment struct {
	ID       uuid.UUID
	CreditID uuid.UUID
	Number   int
	DueDate  time.Time

	Capital  decimal.Decimal
	Interest decimal.Decimal
	// Mora is the penalty interest accrued so far on this installment.
	Mora decimal.Decimal

	PaidCapital  decimal.Decimal
	PaidInterest decimal.Decimal
	PaidMora     decimal.Decimal

	// Amounts removed from the installment without a payment.
	WaivedInterest  decimal.Decimal
	WaivedMora      decimal.Decimal
	ForgivenCapital decimal.Decimal

	Status    InstallmentStatus
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FromDrafts attaches a calculated schedule to a credit. Numbers start at
// firstNumber so a refinanced schedule continues the old numbering.
func FromDrafts(creditID uuid.UUID, drafts []amortization.Draft, firstNumber int, now time.Time) []*Installment {
	installments := make([]*Installment, 0, len(drafts))
	for i, d := range drafts {
		installments = append(installments, &Installment{
			ID:        uuid.New(),
			CreditID:  creditID,
			Number:    firstNumber + i,
			DueDate:   d.DueDate,
			Capital:   d.Capital,
			Interest:  d.Interest,
			Status:    InstallmentPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return installments
}

func (i *Installment) TotalDue() decimal.Decimal {
	return money.Sum(i.Capital, i.Interest, i.Mora)
}

func (i *Installment) AmountPaid() decimal.Decimal {
	return money.Sum(i.PaidCapital, i.PaidInterest, i.PaidMora)
}

func (i *Installment) OutstandingMora() decimal.Decimal {
	return money.NonNegative(i.Mora.Sub(i.PaidMora))
}

func (i *Installment) OutstandingInterest() decimal.Decimal {
	return money.NonNegative(i.Interest.Sub(i.PaidInterest))
}

func (i *Installment) OutstandingCapital() decimal.Decimal {
	return money.NonNegative(i.Capital.Sub(i.PaidCapital))
}

func (i *Installment) Outstanding() decimal.Decimal {
	return money.Sum(i.OutstandingMora(), i.OutstandingInterest(), i.OutstandingCapital())
}

// MoraBase is the interest and capital still owed, the base mora accrues on.
func (i *Installment) MoraBase() decimal.Decimal {
	return i.OutstandingInterest().Add(i.OutstandingCapital())
}

// DaysOverdue counts whole calendar days between the due date and asOf; zero
// when the installment is not yet due.
func (i *Installment) DaysOverdue(asOf time.Time) int {
	return DaysBetween(i.DueDate, asOf)
}

// RefreshStatus derives the status from the amounts and the due date. An
// underpaid installment past its due date is VENCIDA even if partly paid.
func (i *Installment) RefreshStatus(asOf time.Time, tolerance decimal.Decimal) {
	paid := i.AmountPaid()
	remaining := i.TotalDue().Sub(paid)

	switch {
	case remaining.LessThanOrEqual(tolerance):
		if i.Status != InstallmentPaid {
			at := asOf
			i.PaidAt = &at
		}
		i.Status = InstallmentPaid
	case i.DaysOverdue(asOf) > 0:
		i.Status = InstallmentOverdue
	case paid.IsPositive():
		i.Status = InstallmentPartiallyPaid
	default:
		i.Status = InstallmentPending
	}
	i.UpdatedAt = asOf
}

// WaiveInterest forgives the unpaid interest and mora of the installment.
func (i *Installment) WaiveInterest() {
	if owed := i.OutstandingInterest(); owed.IsPositive() {
		i.WaivedInterest = i.WaivedInterest.Add(owed)
		i.Interest = i.PaidInterest
	}
	i.WaiveMora()
}

func (i *Installment) WaiveMora() {
	if owed := i.OutstandingMora(); owed.IsPositive() {
		i.WaivedMora = i.WaivedMora.Add(owed)
		i.Mora = i.PaidMora
	}
}

// ForgiveCapital removes up to amount of unpaid capital and returns what was
// actually forgiven.
func (i *Installment) ForgiveCapital(amount decimal.Decimal) decimal.Decimal {
	forgiven := money.Min(amount, i.OutstandingCapital())
	if forgiven.IsPositive() {
		i.Capital = i.Capital.Sub(forgiven)
		i.ForgivenCapital = i.ForgivenCapital.Add(forgiven)
	}
	return forgiven
}

// SortByDueDate orders installments oldest first, number breaking ties.
func SortByDueDate(installments []*Installment) {
	sort.SliceStable(installments, func(a, b int) bool {
		if !installments[a].DueDate.Equal(installments[b].DueDate) {
			return installments[a].DueDate.Before(installments[b].DueDate)
		}
		return installments[a].Number < installments[b].Number
	})
}

// Unpaid returns the installments not yet settled, oldest first.
func Unpaid(installments []*Installment) []*Installment {
	unpaid := make([]*Installment, 0, len(installments))
	for _, inst := range installments {
		if inst.Status != InstallmentPaid {
			unpaid = append(unpaid, inst)
		}
	}
	SortByDueDate(unpaid)
	return unpaid
}

// DaysBetween returns the calendar days from `from` to `to`, or zero when `to`
// is not after `from`.
func DaysBetween(from, to time.Time) int {
	f := dateOnly(from)
	t := dateOnly(to)
	if !t.After(f) {
		return 0
	}
	return int(t.Sub(f).Hours() / 24)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
