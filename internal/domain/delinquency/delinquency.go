package delinquency

import (
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityNone       Severity = ""
	SeverityMild       Severity = "MORA_LEVE"
	SeverityModerate   Severity = "MORA_MODERADA"
	SeveritySevere     Severity = "MORA_GRAVE"
	SeverityPersistent Severity = "MORA_PERSISTENTE"
	SeverityWrittenOff Severity = "CASTIGADO"
)

var rank = map[Severity]int{
	SeverityNone:       0,
	SeverityMild:       1,
	SeverityModerate:   2,
	SeveritySevere:     3,
	SeverityPersistent: 4,
	SeverityWrittenOff: 5,
}

// Worse reports whether s is a strictly higher severity than other.
func (s Severity) Worse(other Severity) bool {
	return rank[s] > rank[other]
}

// Classify maps days overdue to a severity band. Anything at or beyond
// writeOffDays is CASTIGADO regardless of the fixed bands.
func Classify(daysOverdue, writeOffDays int) Severity {
	switch {
	case daysOverdue <= 0:
		return SeverityNone
	case daysOverdue >= writeOffDays:
		return SeverityWrittenOff
	case daysOverdue <= 15:
		return SeverityMild
	case daysOverdue <= 30:
		return SeverityModerate
	case daysOverdue <= 60:
		return SeveritySevere
	default:
		return SeverityPersistent
	}
}

// Mora returns the penalty interest an installment should carry at asOf:
// unpaid interest and capital × dailyRate × days overdue. The result is a
// total, not an increment, so recomputing it on the same day is a no-op. It
// never drops below mora already collected.
func Mora(inst *credit.Installment, dailyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	days := inst.DaysOverdue(asOf)
	if days == 0 {
		return inst.PaidMora
	}
	accrued := money.Round(inst.MoraBase().Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))))
	if accrued.LessThan(inst.PaidMora) {
		return inst.PaidMora
	}
	return accrued
}

// Record is the single open delinquency case of a member. It always reflects
// the worst overdue installment across every credit the member holds.
type Record struct {
	ID               uuid.UUID
	MemberID         uuid.UUID
	WorstDaysOverdue int
	Severity         Severity
	Open             bool
	OpenedAt         time.Time
	ClosedAt         *time.Time
	Version          int64
	UpdatedAt        time.Time
}

func Open(memberID uuid.UUID, days int, severity Severity, at time.Time) *Record {
	return &Record{
		ID:               uuid.New(),
		MemberID:         memberID,
		WorstDaysOverdue: days,
		Severity:         severity,
		Open:             true,
		OpenedAt:         at,
		UpdatedAt:        at,
	}
}

func (r *Record) Close(at time.Time) {
	r.Open = false
	r.ClosedAt = &at
	r.UpdatedAt = at
}
