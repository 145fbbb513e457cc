// Package repository declares the persistence contract the engine runs on.
// Implementations live under internal/infrastructure/database.
package repository

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/domain/member"

	"github.com/google/uuid"
)

// Store opens units of work. fn runs inside a single transaction: when it
// returns an error, nothing it wrote is kept.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// RunReadOnly runs fn in a transaction that takes no row locks and keeps
	// nothing fn writes.
	RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available within a transaction.
//
// Get methods return an apperrors NotFound error when the row is missing.
// Update methods compare the entity's Version with the stored one and fail
// with ConcurrentModification when they differ; on success the entity's
// Version is advanced.
type Tx interface {
	MemberRepository
	CreditRepository
	PaymentRepository
	GuaranteeRepository
	DelinquencyRepository
}

type MemberRepository interface {
	GetMember(ctx context.Context, id uuid.UUID) (*member.Member, error)
	UpdateMember(ctx context.Context, m *member.Member) error
}

type CreditRepository interface {
	CreateCredit(ctx context.Context, c *credit.Credit) error
	// GetCredit reads the credit and holds its row until the transaction ends.
	GetCredit(ctx context.Context, id uuid.UUID) (*credit.Credit, error)
	UpdateCredit(ctx context.Context, c *credit.Credit) error
	ListCreditsByMember(ctx context.Context, memberID uuid.UUID) ([]*credit.Credit, error)
	// ListMembersWithCredits returns the distinct holders of credits in any
	// of the given statuses.
	ListMembersWithCredits(ctx context.Context, statuses ...credit.Status) ([]uuid.UUID, error)

	ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*credit.Installment, error)
	InsertInstallments(ctx context.Context, installments []*credit.Installment) error
	UpdateInstallments(ctx context.Context, installments []*credit.Installment) error
	DeleteInstallments(ctx context.Context, ids []uuid.UUID) error
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, p *credit.Payment) error
	ListPayments(ctx context.Context, creditID uuid.UUID) ([]*credit.Payment, error)
	InsertAdjustment(ctx context.Context, a *credit.Adjustment) error
	ListAdjustments(ctx context.Context, creditID uuid.UUID) ([]*credit.Adjustment, error)
	InsertInsuranceEntry(ctx context.Context, e *credit.InsuranceFundEntry) error
	ListInsuranceEntries(ctx context.Context, creditID uuid.UUID) ([]*credit.InsuranceFundEntry, error)
}

type GuaranteeRepository interface {
	InsertGuarantee(ctx context.Context, g *guarantee.Guarantee) error
	GetGuarantee(ctx context.Context, id uuid.UUID) (*guarantee.Guarantee, error)
	UpdateGuarantee(ctx context.Context, g *guarantee.Guarantee) error
	ListGuaranteesByCredit(ctx context.Context, creditID uuid.UUID) ([]*guarantee.Guarantee, error)
	ListGuaranteesByGuarantor(ctx context.Context, guarantorID uuid.UUID) ([]*guarantee.Guarantee, error)

	InsertReleaseRequest(ctx context.Context, r *guarantee.ReleaseRequest) error
	GetReleaseRequest(ctx context.Context, id uuid.UUID) (*guarantee.ReleaseRequest, error)
	UpdateReleaseRequest(ctx context.Context, r *guarantee.ReleaseRequest) error
	ListReleaseRequests(ctx context.Context, guaranteeID uuid.UUID) ([]*guarantee.ReleaseRequest, error)
}

type DelinquencyRepository interface {
	// GetOpenDelinquency returns the member's open record, or nil when the
	// member has none.
	GetOpenDelinquency(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error)
	InsertDelinquency(ctx context.Context, r *delinquency.Record) error
	UpdateDelinquency(ctx context.Context, r *delinquency.Record) error
}
