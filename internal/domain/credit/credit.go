package credit

import (
	"credit-engine/internal/domain/amortization"
	"credit-engine/internal/pkg/apperrors"
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RateType string

const (
	RateNormal  RateType = "NORMAL"
	RatePenalty RateType = "PENALIZADA"
)

type Credit struct {
	ID       uuid.UUID
	MemberID uuid.UUID

	Principal        decimal.Decimal
	InsurancePremium decimal.Decimal
	// TotalAmount is principal plus premium and is held against the member's
	// limit. The schedule amortizes Principal only.
	TotalAmount decimal.Decimal
	TermMonths  int
	Method      amortization.Method
	AnnualRate  decimal.Decimal
	RateType    RateType
	Purpose     string

	Status Status
	// OutstandingBalance is the capital still owed across all installments.
	OutstandingBalance decimal.Decimal

	ApprovedBy      string
	ApprovalNotes   string
	RejectionReason string

	// Blocked holds disbursement and payment processing while a fraud review
	// is pending.
	Blocked                      bool
	RequiresGuarantorReplacement bool
	RefinanceCount               int

	RequestedAt  time.Time
	ApprovedAt   *time.Time
	DisbursedAt  *time.Time
	CompletedAt  *time.Time
	WrittenOffAt *time.Time

	Version   int64
	UpdatedAt time.Time
}

// New builds a credit request. premiumRate is applied to principal and added
// to form the financed total.
func New(memberID uuid.UUID, principal decimal.Decimal, termMonths int, method amortization.Method, premiumRate decimal.Decimal, now time.Time) (*Credit, error) {
	if !principal.IsPositive() {
		return nil, apperrors.Validation(apperrors.CodeAmountInvalid, "requested amount must be positive, got %s", principal)
	}
	if termMonths < 1 {
		return nil, apperrors.Validation(apperrors.CodeTermInvalid, "term must be at least one month, got %d", termMonths)
	}
	if method == "" {
		method = amortization.MethodFrench
	}
	if !method.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "unknown amortization method %q", method)
	}

	principal = money.Round(principal)
	premium := money.Percent(principal, premiumRate)
	return &Credit{
		ID:               uuid.New(),
		MemberID:         memberID,
		Principal:        principal,
		InsurancePremium: premium,
		TotalAmount:      principal.Add(premium),
		TermMonths:       termMonths,
		Method:           method,
		RateType:         RateNormal,
		Status:           StatusRequested,
		RequestedAt:      now,
		UpdatedAt:        now,
	}, nil
}

// TransitionTo moves the credit along the state machine.
func (c *Credit) TransitionTo(next Status, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return apperrors.StateConflict(apperrors.CodeStateConflict,
			"credit %s cannot move from %s to %s", c.ID, c.Status, next)
	}
	c.Status = next
	c.UpdatedAt = at

	switch next {
	case StatusApproved:
		c.ApprovedAt = &at
	case StatusActive:
		c.DisbursedAt = &at
	case StatusCompleted:
		c.CompletedAt = &at
	case StatusWrittenOff:
		c.WrittenOffAt = &at
	}
	return nil
}

// IsPayable reports whether payments may be applied to the credit.
func (c *Credit) IsPayable() bool {
	return c.Status == StatusActive || c.Status == StatusWrittenOff
}

// RecomputeOutstanding sets the balance to the sum of remaining capital over
// all installments that are not settled.
func (c *Credit) RecomputeOutstanding(installments []*Installment) {
	total := money.Zero
	for _, inst := range installments {
		if inst.Status == InstallmentPaid {
			continue
		}
		total = total.Add(inst.OutstandingCapital())
	}
	c.OutstandingBalance = total
}

// TotalOwed is everything still owed on the schedule, mora included.
func TotalOwed(installments []*Installment) decimal.Decimal {
	total := money.Zero
	for _, inst := range installments {
		if inst.Status == InstallmentPaid {
			continue
		}
		total = total.Add(inst.Outstanding())
	}
	return total
}
