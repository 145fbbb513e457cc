package guarantee

import (
	"credit-engine/internal/pkg/apperrors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDIENTE"
	StatusActive   Status = "ACTIVA"
	StatusExecuted Status = "EJECUTADA"
	StatusReleased Status = "LIBERADA"
)

// Guarantee is one guarantor's frozen savings backing a credit.
type Guarantee struct {
	ID             uuid.UUID
	CreditID       uuid.UUID
	GuarantorID    uuid.UUID
	FrozenAmount   decimal.Decimal
	ExecutedAmount decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	ReleasedAt     *time.Time
	ExecutedAt     *time.Time
	Version        int64
	UpdatedAt      time.Time
}

func New(creditID, guarantorID uuid.UUID, frozen decimal.Decimal, now time.Time) *Guarantee {
	return &Guarantee{
		ID:           uuid.New(),
		CreditID:     creditID,
		GuarantorID:  guarantorID,
		FrozenAmount: frozen,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (g *Guarantee) IsActive() bool {
	return g.Status == StatusActive
}

func (g *Guarantee) Release(at time.Time) error {
	if g.Status != StatusActive && g.Status != StatusPending {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "guarantee %s is %s and cannot be released", g.ID, g.Status)
	}
	g.Status = StatusReleased
	g.ReleasedAt = &at
	g.UpdatedAt = at
	return nil
}

func (g *Guarantee) MarkExecuted(amount decimal.Decimal, at time.Time) error {
	if g.Status != StatusActive {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "guarantee %s is %s and cannot be executed", g.ID, g.Status)
	}
	g.Status = StatusExecuted
	g.ExecutedAmount = amount
	g.ExecutedAt = &at
	g.UpdatedAt = at
	return nil
}

// Active filters the guarantees currently backing a credit.
func Active(guarantees []*Guarantee) []*Guarantee {
	var active []*Guarantee
	for _, g := range guarantees {
		if g.IsActive() {
			active = append(active, g)
		}
	}
	return active
}

type ReleaseStatus string

const (
	ReleaseRequested ReleaseStatus = "SOLICITADA"
	ReleaseApproved  ReleaseStatus = "APROBADA"
	ReleaseRejected  ReleaseStatus = "RECHAZADA"
	// ReleaseProcessed marks an approved request whose guarantee was freed.
	ReleaseProcessed ReleaseStatus = "PROCESADA"
)

type ReleaseRequest struct {
	ID          uuid.UUID
	GuaranteeID uuid.UUID
	RequestedBy string
	Status      ReleaseStatus
	DecidedBy   string
	Reason      string
	RequestedAt time.Time
	DecidedAt   *time.Time
	Version     int64
	UpdatedAt   time.Time
}

func NewReleaseRequest(guaranteeID uuid.UUID, requestedBy string, now time.Time) *ReleaseRequest {
	return &ReleaseRequest{
		ID:          uuid.New(),
		GuaranteeID: guaranteeID,
		RequestedBy: requestedBy,
		Status:      ReleaseRequested,
		RequestedAt: now,
		UpdatedAt:   now,
	}
}

func (r *ReleaseRequest) IsPending() bool {
	return r.Status == ReleaseRequested
}

func (r *ReleaseRequest) decide(status ReleaseStatus, by, reason string, at time.Time) error {
	if !r.IsPending() {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "release request %s already %s", r.ID, r.Status)
	}
	r.Status = status
	r.DecidedBy = by
	r.Reason = reason
	r.DecidedAt = &at
	r.UpdatedAt = at
	return nil
}

func (r *ReleaseRequest) Approve(by string, at time.Time) error {
	return r.decide(ReleaseApproved, by, "", at)
}

func (r *ReleaseRequest) Reject(by, reason string, at time.Time) error {
	return r.decide(ReleaseRejected, by, reason, at)
}

// MarkProcessed closes an approved request once its guarantee is released.
func (r *ReleaseRequest) MarkProcessed(at time.Time) error {
	if r.Status != ReleaseApproved {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "release request %s is %s, not approved", r.ID, r.Status)
	}
	r.Status = ReleaseProcessed
	r.UpdatedAt = at
	return nil
}
