package postgres

import (
	"context"
	"credit-engine/internal/domain/repository"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

// Postgres error codes the store reacts to.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
)

type Store struct {
	db        DBPool
	txTimeout time.Duration
	logger    *slog.Logger
}

var _ repository.Store = (*Store)(nil)

// NewStore returns a Store on db. Each transaction is bounded by txTimeout
// when it is positive.
func NewStore(db DBPool, txTimeout time.Duration, logger *slog.Logger) *Store {
	if db == nil {
		panic("DBPool cannot be nil for Store")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewStore, using default stderr handler")
	}
	return &Store{db: db, txTimeout: txTimeout, logger: logger.With("component", "PostgresStore")}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.runTx(ctx, false, fn)
}

// RunReadOnly opens a READ ONLY transaction. Credits and members are read
// without row locks, so queries never contend with a running operation.
func (s *Store) RunReadOnly(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.runTx(ctx, true, fn)
}

func (s *Store) runTx(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var pgTx pgx.Tx
	if readOnly {
		pgTx, err = s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	} else {
		pgTx, err = s.db.Begin(ctx)
	}
	if err != nil {
		return translateDBError(ctx, err, "begin transaction", s.logger)
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.ErrorContext(ctx, "Panic inside transaction, rolling back", "error", p)
			_ = pgTx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			if rbErr := pgTx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, &tx{q: pgTx, readOnly: readOnly, logger: s.logger}); err != nil {
		return err
	}

	if err = pgTx.Commit(ctx); err != nil {
		return translateDBError(ctx, err, "commit transaction", s.logger)
	}
	return nil
}

type tx struct {
	q        pgx.Tx
	readOnly bool
	logger   *slog.Logger
}

// lockClause is appended to single-row reads that the operation will update.
func (t *tx) lockClause(clause string) string {
	if t.readOnly {
		return ""
	}
	return " " + clause
}

var _ repository.Tx = (*tx)(nil)

func observe(name string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery(name, status, time.Since(start))
}

func (t *tx) exec(ctx context.Context, name, sql string, args ...any) (pgconn.CommandTag, error) {
	start := time.Now()
	tag, err := t.q.Exec(ctx, sql, args...)
	observe(name, start, err)
	if err != nil {
		return tag, translateDBError(ctx, err, name, t.logger)
	}
	return tag, nil
}

// execVersioned runs an optimistic update. Zero affected rows means the row
// changed since it was read.
func (t *tx) execVersioned(ctx context.Context, name, entity string, id uuid.UUID, sql string, args ...any) error {
	tag, err := t.exec(ctx, name, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		t.logger.WarnContext(ctx, "Optimistic update lost", "entity", entity, "id", id)
		return apperrors.ConcurrentModification("%s %s was modified concurrently", entity, id)
	}
	return nil
}

// queryRow scans a single row. A missing row is reported as pgx.ErrNoRows so
// the caller can name what was not found.
func (t *tx) queryRow(ctx context.Context, name, sql string, args []any, scan func(pgx.Row) error) error {
	start := time.Now()
	err := scan(t.q.QueryRow(ctx, sql, args...))
	observe(name, start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return translateDBError(ctx, err, name, t.logger)
	}
	return nil
}

func (t *tx) query(ctx context.Context, name, sql string, args []any, each func(pgx.Row) error) (err error) {
	start := time.Now()
	defer func() { observe(name, start, err) }()

	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return translateDBError(ctx, err, name, t.logger)
	}
	defer rows.Close()

	for rows.Next() {
		if err = each(rows); err != nil {
			return translateDBError(ctx, err, name, t.logger)
		}
	}
	if err = rows.Err(); err != nil {
		return translateDBError(ctx, err, name, t.logger)
	}
	return nil
}

func (t *tx) sendBatch(ctx context.Context, name string, batch *pgx.Batch) (err error) {
	start := time.Now()
	defer func() { observe(name, start, err) }()

	results := t.q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err = results.Exec(); err != nil {
			results.Close()
			t.logger.ErrorContext(ctx, "Failed executing batch statement", "operation", name, "index", i, "error", err)
			return translateDBError(ctx, err, name, t.logger)
		}
	}
	if err = results.Close(); err != nil {
		return translateDBError(ctx, err, name, t.logger)
	}
	return nil
}

// translateDBError maps driver failures onto the engine's error kinds. Lock
// and serialization conflicts become ConcurrentModification so callers may
// retry; deadlines become PersistenceTimeout.
func translateDBError(ctx context.Context, err error, op string, logger *slog.Logger) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || pgconn.Timeout(err) {
		logger.WarnContext(ctx, "Database operation timed out", "operation", op, "error", err)
		return apperrors.PersistenceTimeout(err, "%s timed out", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			logger.WarnContext(ctx, "Database lock conflict", "operation", op, "code", pgErr.Code)
			return apperrors.ConcurrentModification("%s conflicted with a concurrent transaction", op)
		case codeQueryCanceled:
			return apperrors.PersistenceTimeout(err, "%s was cancelled by the server", op)
		case codeUniqueViolation:
			logger.WarnContext(ctx, "Database unique constraint violation", "operation", op, "constraint", pgErr.ConstraintName)
			return apperrors.ConcurrentModification("%s violated %s", op, pgErr.ConstraintName)
		}
		logger.ErrorContext(ctx, "PostgreSQL specific error", "operation", op, "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return apperrors.WrapDatabaseError(err, op+" failed")
	}

	logger.ErrorContext(ctx, "Generic database error", "operation", op, "error", err)
	return apperrors.WrapDatabaseError(err, op+" failed")
}
