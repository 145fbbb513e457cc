package batch

import (
	"context"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/infrastructure/monitoring"
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// DelinquencyRecomputer is the part of the delinquency tracker the job
// drives.
type DelinquencyRecomputer interface {
	MembersToReview(ctx context.Context) ([]uuid.UUID, error)
	RecomputeMember(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error)
}

// UpdateDelinquencyJob is the nightly pass that accrues mora, refreshes every
// member's delinquency record and writes off credits past the threshold.
type UpdateDelinquencyJob struct {
	tracker     DelinquencyRecomputer
	concurrency int
	logger      *slog.Logger
}

func NewUpdateDelinquencyJob(tracker DelinquencyRecomputer, concurrency int, logger *slog.Logger) *UpdateDelinquencyJob {
	if tracker == nil || logger == nil {
		panic("UpdateDelinquencyJob dependencies cannot be nil")
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &UpdateDelinquencyJob{
		tracker:     tracker,
		concurrency: concurrency,
		logger:      logger.With("job", "UpdateDelinquency"),
	}
}

// Run recomputes every member holding an active or written-off credit. A
// failure on one member does not stop the others; Run reports how many
// failed. Members whose credits are locked by a concurrent operation are
// skipped and picked up on the next run.
func (j *UpdateDelinquencyJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting delinquency update job")

	members, err := j.tracker.MembersToReview(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list members to review, aborting job", "error", err)
		return fmt.Errorf("cannot run job, failed to list members: %w", err)
	}
	if len(members) == 0 {
		j.logger.InfoContext(ctx, "No members to review", "duration", time.Since(startTime))
		monitoring.RecordBatchRun(0, 0, time.Since(startTime))
		return nil
	}

	var processed, delinquent, skipped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for _, memberID := range members {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			logCtx := j.logger.With("memberID", memberID)

			record, err := j.tracker.RecomputeMember(gctx, memberID)
			switch {
			case err == nil:
			case apperrors.IsRetryable(err):
				logCtx.WarnContext(gctx, "Member busy, skipped until next run", "error", err)
				skipped.Add(1)
				return nil
			case errors.Is(err, apperrors.ErrNotFound):
				logCtx.WarnContext(gctx, "Member disappeared during the run", "error", err)
				skipped.Add(1)
				return nil
			default:
				logCtx.ErrorContext(gctx, "Failed to recompute member", "error", err)
				failed.Add(1)
				return nil
			}

			processed.Add(1)
			if record != nil {
				delinquent.Add(1)
				logCtx.DebugContext(gctx, "Member delinquent", "severity", record.Severity, "daysOverdue", record.WorstDaysOverdue)
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(startTime)
	monitoring.RecordBatchRun(int(processed.Load()), int(failed.Load()), duration)
	summaryLog := j.logger.With(
		"duration", duration,
		"members", len(members),
		"processed", processed.Load(),
		"delinquent", delinquent.Load(),
		"skipped", skipped.Load(),
		"errors", failed.Load(),
	)
	if n := failed.Load(); n > 0 {
		summaryLog.WarnContext(ctx, "Delinquency update job finished with errors")
		return fmt.Errorf("job completed with %d errors", n)
	}
	if err := ctx.Err(); err != nil {
		summaryLog.WarnContext(ctx, "Delinquency update job interrupted")
		return fmt.Errorf("job interrupted: %w", err)
	}
	summaryLog.InfoContext(ctx, "Delinquency update job finished successfully")
	return nil
}
