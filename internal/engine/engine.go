// Package engine implements the credit lifecycle and collections operations.
//
// Every operation follows the same unit of work: lock the credits it touches,
// run all reads and writes in one store transaction, then publish the events
// it produced once the transaction has committed. Validation and business
// rules are checked before anything is written, and any error discards the
// whole transaction.
package engine

import (
	"context"
	"credit-engine/internal/domain/credit"
	"credit-engine/internal/domain/member"
	"credit-engine/internal/domain/repository"
	"credit-engine/internal/event"
	"credit-engine/internal/infrastructure/lock"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Deps struct {
	Store     repository.Store
	Locker    lock.Locker
	Publisher event.Publisher
	Policy    Policy
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine groups the components. They share one store, locker and policy.
type Engine struct {
	Lifecycle   *LifecycleManager
	Payments    *PaymentEngine
	Delinquency *DelinquencyTracker
	Guarantees  *GuaranteeManager
	Exceptions  *ExceptionHandler
}

func New(d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if d.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker()
	}
	if d.Publisher == nil {
		d.Publisher = event.NewRecorder()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	c := &core{
		store:     d.Store,
		locker:    d.Locker,
		publisher: d.Publisher,
		policy:    d.Policy,
		logger:    d.Logger,
		now:       d.Now,
	}
	return &Engine{
		Lifecycle:   &LifecycleManager{core: c, logger: d.Logger.With("component", "LifecycleManager")},
		Payments:    &PaymentEngine{core: c, logger: d.Logger.With("component", "PaymentEngine")},
		Delinquency: &DelinquencyTracker{core: c, logger: d.Logger.With("component", "DelinquencyTracker")},
		Guarantees:  &GuaranteeManager{core: c, logger: d.Logger.With("component", "GuaranteeManager")},
		Exceptions:  &ExceptionHandler{core: c, logger: d.Logger.With("component", "ExceptionHandler")},
	}, nil
}

type core struct {
	store     repository.Store
	locker    lock.Locker
	publisher event.Publisher
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
}

// work is the state of one transaction. Members are cached so that every
// change to the same member within the transaction goes through one value.
type work struct {
	ctx     context.Context
	tx      repository.Tx
	now     time.Time
	members map[uuid.UUID]*member.Member
	events  []event.Event
	after   []func()
}

func (w *work) emit(t event.Type, creditID, memberID uuid.UUID, data map[string]any) {
	w.events = append(w.events, event.New(t, creditID, memberID, w.now, data))
}

// onCommit registers fn to run only if the transaction commits.
func (w *work) onCommit(fn func()) {
	w.after = append(w.after, fn)
}

func (w *work) member(id uuid.UUID) (*member.Member, error) {
	if m, ok := w.members[id]; ok {
		return m, nil
	}
	m, err := w.tx.GetMember(w.ctx, id)
	if err != nil {
		return nil, err
	}
	w.members[id] = m
	return m, nil
}

func (w *work) saveMember(m *member.Member) error {
	m.UpdatedAt = w.now
	return w.tx.UpdateMember(w.ctx, m)
}

// loadCredit reads a credit with its installments.
func (w *work) loadCredit(id uuid.UUID) (*credit.Credit, []*credit.Installment, error) {
	c, err := w.tx.GetCredit(w.ctx, id)
	if err != nil {
		return nil, nil, err
	}
	installments, err := w.tx.ListInstallments(w.ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, installments, nil
}

func (w *work) saveCredit(c *credit.Credit) error {
	c.UpdatedAt = w.now
	return w.tx.UpdateCredit(w.ctx, c)
}

// run executes fn as one unit of work holding the given lock keys.
func (c *core) run(ctx context.Context, op string, keys []string, fn func(w *work) error) error {
	start := time.Now()
	err := c.runLocked(ctx, keys, fn)
	monitoring.RecordOperation(op, outcome(err), time.Since(start))
	if err != nil {
		level := slog.LevelWarn
		if !isExpected(err) {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "Operation failed", "operation", op, "code", apperrors.CodeOf(err), "error", err)
	}
	return err
}

func (c *core) runLocked(ctx context.Context, keys []string, fn func(w *work) error) error {
	if len(keys) > 0 {
		unlock, err := c.locker.TryLock(ctx, keys...)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var committed *work
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w := &work{ctx: ctx, tx: tx, now: c.now(), members: make(map[uuid.UUID]*member.Member)}
		if err := fn(w); err != nil {
			return err
		}
		committed = w
		return nil
	})
	if err != nil {
		return err
	}

	for _, fn := range committed.after {
		fn()
	}
	c.publish(ctx, committed.events)
	return nil
}

// read runs fn in a read-only transaction without taking logical locks.
func (c *core) read(ctx context.Context, fn func(w *work) error) error {
	return c.store.RunReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(&work{ctx: ctx, tx: tx, now: c.now(), members: make(map[uuid.UUID]*member.Member)})
	})
}

// publish never fails the operation: the state change is already committed.
func (c *core) publish(ctx context.Context, events []event.Event) {
	for _, e := range events {
		if err := c.publisher.Publish(ctx, e); err != nil {
			c.logger.ErrorContext(ctx, "Failed to publish event", "type", e.Type, "eventID", e.ID, "error", err)
			monitoring.RecordEventPublished(string(e.Type), "error")
			continue
		}
		monitoring.RecordEventPublished(string(e.Type), "success")
	}
}

// resolveCredits reads, without locks, the credits an operation is about to
// lock. The operation re-reads them under the lock.
func (c *core) resolveCredits(ctx context.Context, fn func(w *work) ([]uuid.UUID, error)) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := c.read(ctx, func(w *work) (err error) {
		ids, err = fn(w)
		return err
	})
	return ids, err
}

func creditKeys(ids ...uuid.UUID) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lock.CreditKey(id.String())
	}
	return keys
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := apperrors.CodeOf(err); code != "" {
		return code
	}
	return "error"
}

// isExpected reports errors caused by the caller or by contention rather than
// by a fault in the engine.
func isExpected(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrBusinessRule) ||
		errors.Is(err, apperrors.ErrStateConflict) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		apperrors.IsRetryable(err)
}

func requireText(value, field string) error {
	if value == "" {
		return apperrors.Validation(apperrors.CodeReasonRequired, "%s is required", field)
	}
	return nil
}
