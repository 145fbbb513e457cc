// Package memory is an in-process repository.Store. Transactions are
// serialized and run against a private copy of the data that replaces the
// committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/domain/guarantee"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/domain/repository"
	"credit-engine/internal/pkg/apperrors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type state struct {
	members      map[uuid.UUID]*member.Member
	credits      map[uuid.UUID]*credit.Credit
	installments map[uuid.UUID]*credit.Installment
	payments     map[uuid.UUID][]*credit.Payment
	adjustments  map[uuid.UUID][]*credit.Adjustment
	insurance    map[uuid.UUID][]*credit.InsuranceFundEntry
	guarantees   map[uuid.UUID]*guarantee.Guarantee
	releases     map[uuid.UUID]*guarantee.ReleaseRequest
	delinquency  map[uuid.UUID]*delinquency.Record
}

func newState() *state {
	return &state{
		members:      make(map[uuid.UUID]*member.Member),
		credits:      make(map[uuid.UUID]*credit.Credit),
		installments: make(map[uuid.UUID]*credit.Installment),
		payments:     make(map[uuid.UUID][]*credit.Payment),
		adjustments:  make(map[uuid.UUID][]*credit.Adjustment),
		insurance:    make(map[uuid.UUID][]*credit.InsuranceFundEntry),
		guarantees:   make(map[uuid.UUID]*guarantee.Guarantee),
		releases:     make(map[uuid.UUID]*guarantee.ReleaseRequest),
		delinquency:  make(map[uuid.UUID]*delinquency.Record),
	}
}

// clone copies every entity so the working set of a transaction never
// aliases committed data. Append-only records are immutable once written and
// only their slices are copied.
func (s *state) clone() *state {
	c := newState()
	for id, m := range s.members {
		cp := *m
		c.members[id] = &cp
	}
	for id, cr := range s.credits {
		cp := *cr
		c.credits[id] = &cp
	}
	for id, inst := range s.installments {
		cp := *inst
		c.installments[id] = &cp
	}
	for id, ps := range s.payments {
		c.payments[id] = append([]*credit.Payment(nil), ps...)
	}
	for id, as := range s.adjustments {
		c.adjustments[id] = append([]*credit.Adjustment(nil), as...)
	}
	for id, es := range s.insurance {
		c.insurance[id] = append([]*credit.InsuranceFundEntry(nil), es...)
	}
	for id, g := range s.guarantees {
		cp := *g
		c.guarantees[id] = &cp
	}
	for id, r := range s.releases {
		cp := *r
		c.releases[id] = &cp
	}
	for id, r := range s.delinquency {
		cp := *r
		c.delinquency[id] = &cp
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *state
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newState()}
}

// SaveMember inserts or replaces a member outside of any transaction. Member
// records are owned by the membership system; this is how they arrive.
func (s *Store) SaveMember(m *member.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.data.members[m.ID] = &cp
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.PersistenceTimeout(err, "transaction not started")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := &tx{data: s.data.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.PersistenceTimeout(err, "transaction deadline exceeded before commit")
	}
	s.data = work.data
	return nil
}

// RunReadOnly runs fn on a private snapshot that is dropped afterwards.
func (s *Store) RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.PersistenceTimeout(err, "transaction not started")
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	return fn(ctx, &tx{data: snapshot})
}

type tx struct {
	data *state
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) GetMember(_ context.Context, id uuid.UUID) (*member.Member, error) {
	m, ok := t.data.members[id]
	if !ok {
		return nil, apperrors.NotFound("member %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (t *tx) UpdateMember(_ context.Context, m *member.Member) error {
	stored, ok := t.data.members[m.ID]
	if !ok {
		return apperrors.NotFound("member %s not found", m.ID)
	}
	if stored.Version != m.Version {
		return apperrors.ConcurrentModification("member %s was modified concurrently", m.ID)
	}
	m.Version++
	cp := *m
	t.data.members[m.ID] = &cp
	return nil
}

func (t *tx) CreateCredit(_ context.Context, c *credit.Credit) error {
	if _, exists := t.data.credits[c.ID]; exists {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "credit %s already exists", c.ID)
	}
	cp := *c
	t.data.credits[c.ID] = &cp
	return nil
}

func (t *tx) GetCredit(_ context.Context, id uuid.UUID) (*credit.Credit, error) {
	c, ok := t.data.credits[id]
	if !ok {
		return nil, apperrors.NotFound("credit %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (t *tx) UpdateCredit(_ context.Context, c *credit.Credit) error {
	stored, ok := t.data.credits[c.ID]
	if !ok {
		return apperrors.NotFound("credit %s not found", c.ID)
	}
	if stored.Version != c.Version {
		return apperrors.ConcurrentModification("credit %s was modified concurrently", c.ID)
	}
	c.Version++
	cp := *c
	t.data.credits[c.ID] = &cp
	return nil
}

func (t *tx) ListCreditsByMember(_ context.Context, memberID uuid.UUID) ([]*credit.Credit, error) {
	var out []*credit.Credit
	for _, c := range t.data.credits {
		if c.MemberID == memberID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *tx) ListMembersWithCredits(_ context.Context, statuses ...credit.Status) ([]uuid.UUID, error) {
	wanted := make(map[credit.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, c := range t.data.credits {
		if wanted[c.Status] && !seen[c.MemberID] {
			seen[c.MemberID] = true
			out = append(out, c.MemberID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (t *tx) ListInstallments(_ context.Context, creditID uuid.UUID) ([]*credit.Installment, error) {
	var out []*credit.Installment
	for _, inst := range t.data.installments {
		if inst.CreditID == creditID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tx) InsertInstallments(_ context.Context, installments []*credit.Installment) error {
	for _, inst := range installments {
		if _, exists := t.data.installments[inst.ID]; exists {
			return apperrors.StateConflict(apperrors.CodeStateConflict, "installment %s already exists", inst.ID)
		}
		cp := *inst
		t.data.installments[inst.ID] = &cp
	}
	return nil
}

func (t *tx) UpdateInstallments(_ context.Context, installments []*credit.Installment) error {
	for _, inst := range installments {
		if _, ok := t.data.installments[inst.ID]; !ok {
			return apperrors.NotFound("installment %s not found", inst.ID)
		}
		cp := *inst
		t.data.installments[inst.ID] = &cp
	}
	return nil
}

func (t *tx) DeleteInstallments(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(t.data.installments, id)
	}
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p *credit.Payment) error {
	cp := *p
	cp.Allocations = append([]credit.Allocation(nil), p.Allocations...)
	t.data.payments[p.CreditID] = append(t.data.payments[p.CreditID], &cp)
	return nil
}

func (t *tx) ListPayments(_ context.Context, creditID uuid.UUID) ([]*credit.Payment, error) {
	var out []*credit.Payment
	for _, p := range t.data.payments[creditID] {
		cp := *p
		cp.Allocations = append([]credit.Allocation(nil), p.Allocations...)
		out = append(out, &cp)
	}
	return out, nil
}

func (t *tx) InsertAdjustment(_ context.Context, a *credit.Adjustment) error {
	cp := *a
	t.data.adjustments[a.CreditID] = append(t.data.adjustments[a.CreditID], &cp)
	return nil
}

func (t *tx) ListAdjustments(_ context.Context, creditID uuid.UUID) ([]*credit.Adjustment, error) {
	var out []*credit.Adjustment
	for _, a := range t.data.adjustments[creditID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (t *tx) InsertInsuranceEntry(_ context.Context, e *credit.InsuranceFundEntry) error {
	cp := *e
	t.data.insurance[e.CreditID] = append(t.data.insurance[e.CreditID], &cp)
	return nil
}

func (t *tx) ListInsuranceEntries(_ context.Context, creditID uuid.UUID) ([]*credit.InsuranceFundEntry, error) {
	var out []*credit.InsuranceFundEntry
	for _, e := range t.data.insurance[creditID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (t *tx) InsertGuarantee(_ context.Context, g *guarantee.Guarantee) error {
	if _, exists := t.data.guarantees[g.ID]; exists {
		return apperrors.StateConflict(apperrors.CodeStateConflict, "guarantee %s already exists", g.ID)
	}
	cp := *g
	t.data.guarantees[g.ID] = &cp
	return nil
}

func (t *tx) GetGuarantee(_ context.Context, id uuid.UUID) (*guarantee.Guarantee, error) {
	g, ok := t.data.guarantees[id]
	if !ok {
		return nil, apperrors.NotFound("guarantee %s not found", id)
	}
	cp := *g
	return &cp, nil
}

func (t *tx) UpdateGuarantee(_ context.Context, g *guarantee.Guarantee) error {
	stored, ok := t.data.guarantees[g.ID]
	if !ok {
		return apperrors.NotFound("guarantee %s not found", g.ID)
	}
	if stored.Version != g.Version {
		return apperrors.ConcurrentModification("guarantee %s was modified concurrently", g.ID)
	}
	g.Version++
	cp := *g
	t.data.guarantees[g.ID] = &cp
	return nil
}

func (t *tx) ListGuaranteesByCredit(_ context.Context, creditID uuid.UUID) ([]*guarantee.Guarantee, error) {
	return t.filterGuarantees(func(g *guarantee.Guarantee) bool { return g.CreditID == creditID }), nil
}

func (t *tx) ListGuaranteesByGuarantor(_ context.Context, guarantorID uuid.UUID) ([]*guarantee.Guarantee, error) {
	return t.filterGuarantees(func(g *guarantee.Guarantee) bool { return g.GuarantorID == guarantorID }), nil
}

func (t *tx) filterGuarantees(match func(*guarantee.Guarantee) bool) []*guarantee.Guarantee {
	var out []*guarantee.Guarantee
	for _, g := range t.data.guarantees {
		if match(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (t *tx) InsertReleaseRequest(_ context.Context, r *guarantee.ReleaseRequest) error {
	cp := *r
	t.data.releases[r.ID] = &cp
	return nil
}

func (t *tx) GetReleaseRequest(_ context.Context, id uuid.UUID) (*guarantee.ReleaseRequest, error) {
	r, ok := t.data.releases[id]
	if !ok {
		return nil, apperrors.NotFound("release request %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (t *tx) UpdateReleaseRequest(_ context.Context, r *guarantee.ReleaseRequest) error {
	stored, ok := t.data.releases[r.ID]
	if !ok {
		return apperrors.NotFound("release request %s not found", r.ID)
	}
	if stored.Version != r.Version {
		return apperrors.ConcurrentModification("release request %s was modified concurrently", r.ID)
	}
	r.Version++
	cp := *r
	t.data.releases[r.ID] = &cp
	return nil
}

func (t *tx) ListReleaseRequests(_ context.Context, guaranteeID uuid.UUID) ([]*guarantee.ReleaseRequest, error) {
	var out []*guarantee.ReleaseRequest
	for _, r := range t.data.releases {
		if r.GuaranteeID == guaranteeID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (t *tx) GetOpenDelinquency(_ context.Context, memberID uuid.UUID) (*delinquency.Record, error) {
	for _, r := range t.data.delinquency {
		if r.MemberID == memberID && r.Open {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertDelinquency(_ context.Context, r *delinquency.Record) error {
	for _, existing := range t.data.delinquency {
		if existing.MemberID == r.MemberID && existing.Open {
			return apperrors.ConcurrentModification("member %s already has an open delinquency record", r.MemberID)
		}
	}
	cp := *r
	t.data.delinquency[r.ID] = &cp
	return nil
}

func (t *tx) UpdateDelinquency(_ context.Context, r *delinquency.Record) error {
	stored, ok := t.data.delinquency[r.ID]
	if !ok {
		return apperrors.NotFound("delinquency record %s not found", r.ID)
	}
	if stored.Version != r.Version {
		return apperrors.ConcurrentModification("delinquency record %s was modified concurrently", r.ID)
	}
	r.Version++
	cp := *r
	t.data.delinquency[r.ID] = &cp
	return nil
}
