// Package event carries the engine's domain events to the outside world.
// Events are published after the transaction that produced them commits.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	CreditRequested  Type = "credit.requested"
	CreditInReview   Type = "credit.in_review"
	CreditApproved   Type = "credit.approved"
	CreditRejected   Type = "credit.rejected"
	CreditDisbursed  Type = "credit.disbursed"
	CreditCompleted  Type = "credit.completed"
	CreditWrittenOff Type = "credit.written_off"
	CreditBlocked    Type = "credit.blocked"
	CreditUnblocked  Type = "credit.unblocked"
	CreditRefinanced Type = "credit.refinanced"
	CreditCondoned   Type = "credit.condoned"
	CreditPostponed  Type = "credit.postponed"

	PaymentApplied Type = "payment.applied"
	InsuranceClaim Type = "insurance.claimed"

	GuaranteeFrozen          Type = "guarantee.frozen"
	GuaranteeReleased        Type = "guarantee.released"
	GuaranteeExecuted        Type = "guarantee.executed"
	GuaranteeReleaseRequest  Type = "guarantee.release_requested"
	GuaranteeReleaseRejected Type = "guarantee.release_rejected"
	GuarantorReplacementDue  Type = "guarantee.replacement_required"

	DelinquencyOpened    Type = "delinquency.opened"
	DelinquencyEscalated Type = "delinquency.escalated"
	DelinquencyClosed    Type = "delinquency.closed"

	MemberSuspended  Type = "member.suspended"
	MemberReinstated Type = "member.reinstated"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	CreditID   string         `json:"creditId,omitempty"`
	MemberID   string         `json:"memberId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event. Either id may be uuid.Nil.
func New(t Type, creditID, memberID uuid.UUID, at time.Time, data map[string]any) Event {
	e := Event{ID: uuid.NewString(), Type: t, OccurredAt: at, Data: data}
	if creditID != uuid.Nil {
		e.CreditID = creditID.String()
	}
	if memberID != uuid.Nil {
		e.MemberID = memberID.String()
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Recorder keeps published events in memory. It serves embedded deployments
// with no broker and tests that assert on emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	events := r.Events()
	types := make([]Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
