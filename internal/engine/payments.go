package engine

import (
	"context"
	"credit-engine/internal/domain/credit"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEngine applies member payments to credits.
type PaymentEngine struct {
	*core
	logger *slog.Logger
}

type PaymentInput struct {
	CreditID uuid.UUID
	Amount   decimal.Decimal
	Method   credit.PaymentMethod
	// PaidAt defaults to the current time.
	PaidAt    time.Time
	Reference string
}

// ApplyPayment distributes a payment over the credit's installments (mora,
// then interest, then capital, oldest first; the rest prepays later capital)
// and refreshes the member's delinquency record in the same transaction.
func (p *PaymentEngine) ApplyPayment(ctx context.Context, in PaymentInput) (*credit.Payment, error) {
	var payment *credit.Payment
	err := p.run(ctx, "apply_payment", creditKeys(in.CreditID), func(w *work) error {
		cr, installments, err := w.loadCredit(in.CreditID)
		if err != nil {
			return err
		}
		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = w.now
		}
		payment, err = p.applyPayment(w, cr, installments, paymentRequest{
			amount:    in.Amount,
			method:    in.Method,
			paidAt:    paidAt,
			reference: in.Reference,
		})
		if err != nil {
			return err
		}
		_, err = p.refreshMember(w, cr.MemberID, creditState{credit: cr, installments: installments})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "Payment applied",
		"creditID", in.CreditID, "paymentID", payment.ID, "amount", payment.Amount, "method", payment.Method)
	return payment, nil
}
