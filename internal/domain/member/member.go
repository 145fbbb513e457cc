package member

import (
	"credit-engine/internal/pkg/apperrors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type State string

const (
	StateActive    State = "ACTIVO"
	StateSuspended State = "SUSPENDIDO"
	StateExpelled  State = "EXPULSADO"
)

// Stage is the member's progression tier, 1 through 3.
type Stage int

const (
	StageOne   Stage = 1
	StageTwo   Stage = 2
	StageThree Stage = 3
)

func (s Stage) Valid() bool {
	return s >= StageOne && s <= StageThree
}

type Member struct {
	ID    uuid.UUID
	Name  string
	Stage Stage
	State State
	// Savings is the member's total savings; FrozenSavings is the part
	// pledged as guarantee collateral.
	Savings       decimal.Decimal
	FrozenSavings decimal.Decimal
	// GuaranteedCredits counts the active credits this member guarantees.
	GuaranteedCredits int
	ActiveCredits     int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (m *Member) IsActive() bool {
	return m.State == StateActive
}

func (m *Member) Available() decimal.Decimal {
	return m.Savings.Sub(m.FrozenSavings)
}

// Freeze pledges amount of the available savings.
func (m *Member) Freeze(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperrors.Validation(apperrors.CodeAmountInvalid, "freeze amount must not be negative")
	}
	if amount.GreaterThan(m.Available()) {
		return apperrors.BusinessRule(apperrors.CodeInsufficientAvailableSavings,
			"member %s has %s available, %s required", m.ID, m.Available(), amount)
	}
	m.FrozenSavings = m.FrozenSavings.Add(amount)
	return nil
}

// Unfreeze returns amount of frozen savings to the available balance.
func (m *Member) Unfreeze(amount decimal.Decimal) error {
	if amount.IsNegative() || amount.GreaterThan(m.FrozenSavings) {
		return apperrors.StateConflict(apperrors.CodeStateConflict,
			"member %s cannot unfreeze %s, only %s frozen", m.ID, amount, m.FrozenSavings)
	}
	m.FrozenSavings = m.FrozenSavings.Sub(amount)
	return nil
}

// ConsumeFrozen releases frozen and takes spent out of the member's savings.
// spent never exceeds frozen.
func (m *Member) ConsumeFrozen(frozen, spent decimal.Decimal) error {
	if spent.GreaterThan(frozen) {
		return apperrors.Validation(apperrors.CodeAmountInvalid, "cannot spend %s out of %s frozen", spent, frozen)
	}
	if err := m.Unfreeze(frozen); err != nil {
		return err
	}
	m.Savings = m.Savings.Sub(spent)
	return nil
}

func (m *Member) Suspend() {
	if m.State == StateActive {
		m.State = StateSuspended
	}
}

func (m *Member) Reinstate() {
	if m.State == StateSuspended {
		m.State = StateActive
	}
}

func (m *Member) AddGuaranteedCredit() {
	m.GuaranteedCredits++
}

func (m *Member) RemoveGuaranteedCredit() {
	if m.GuaranteedCredits > 0 {
		m.GuaranteedCredits--
	}
}

func (m *Member) AddActiveCredit() {
	m.ActiveCredits++
}

func (m *Member) RemoveActiveCredit() {
	if m.ActiveCredits > 0 {
		m.ActiveCredits--
	}
}
