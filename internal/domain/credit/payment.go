package credit

import (
	"credit-engine/internal/pkg/money"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "EFECTIVO"
	PaymentTransfer  PaymentMethod = "TRANSFERENCIA"
	PaymentPayroll   PaymentMethod = "DESCUENTO_NOMINA"
	PaymentGuarantee PaymentMethod = "GARANTIA"
	PaymentInsurance PaymentMethod = "SEGURO"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentPayroll, PaymentGuarantee, PaymentInsurance:
		return true
	}
	return false
}

// Breakdown says how a payment was distributed. Its components always add up
// to the payment amount.
type Breakdown struct {
	Mora       decimal.Decimal `json:"mora"`
	Interest   decimal.Decimal `json:"interest"`
	Capital    decimal.Decimal `json:"capital"`
	Prepayment decimal.Decimal `json:"prepayment"`
}

func (b Breakdown) Total() decimal.Decimal {
	return money.Sum(b.Mora, b.Interest, b.Capital, b.Prepayment)
}

func (b Breakdown) add(a Allocation) Breakdown {
	return Breakdown{
		Mora:       b.Mora.Add(a.Mora),
		Interest:   b.Interest.Add(a.Interest),
		Capital:    b.Capital.Add(a.Capital),
		Prepayment: b.Prepayment.Add(a.Prepayment),
	}
}

// Allocation is the part of a payment applied to one installment.
type Allocation struct {
	InstallmentID uuid.UUID       `json:"installmentId"`
	Number        int             `json:"number"`
	Mora          decimal.Decimal `json:"mora"`
	Interest      decimal.Decimal `json:"interest"`
	Capital       decimal.Decimal `json:"capital"`
	Prepayment    decimal.Decimal `json:"prepayment"`
}

type Payment struct {
	ID          uuid.UUID
	CreditID    uuid.UUID
	Amount      decimal.Decimal
	Method      PaymentMethod
	PaidAt      time.Time
	Reference   string
	Breakdown   Breakdown
	Allocations []Allocation
	CreatedAt   time.Time
}

type AdjustmentType string

const (
	// AdjustmentDiscount is the principal reduction granted on refinance.
	AdjustmentDiscount    AdjustmentType = "QUITA"
	AdjustmentCondonation AdjustmentType = "CONDONACION"
)

// Adjustment records a balance reduction that is not a payment.
type Adjustment struct {
	ID           uuid.UUID
	CreditID     uuid.UUID
	Type         AdjustmentType
	Amount       decimal.Decimal
	Percent      decimal.Decimal
	AuthorizedBy string
	Reason       string
	CreatedAt    time.Time
}

type InsuranceEntryType string

const (
	InsurancePremium InsuranceEntryType = "PRIMA"
	InsuranceClaim   InsuranceEntryType = "SINIESTRO"
	// InsuranceRecognized moves a completed credit's unclaimed premium from
	// reserve to revenue.
	InsuranceRecognized InsuranceEntryType = "RECONOCIMIENTO"
)

type InsuranceFundEntry struct {
	ID        uuid.UUID
	CreditID  uuid.UUID
	Type      InsuranceEntryType
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// InsuranceReserve returns premiums held in reserve for the given entries:
// premium income minus claims paid and premiums recognized.
func InsuranceReserve(entries []*InsuranceFundEntry) decimal.Decimal {
	reserve := money.Zero
	for _, e := range entries {
		switch e.Type {
		case InsurancePremium:
			reserve = reserve.Add(e.Amount)
		case InsuranceClaim, InsuranceRecognized:
			reserve = reserve.Sub(e.Amount)
		}
	}
	return money.NonNegative(reserve)
}
