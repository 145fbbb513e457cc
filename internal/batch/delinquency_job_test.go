package batch_test

import (
	"context"
	"credit-engine/internal/batch"
	"credit-engine/internal/domain/delinquency"
	"credit-engine/internal/pkg/apperrors"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) MembersToReview(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]uuid.UUID); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTracker) RecomputeMember(ctx context.Context, memberID uuid.UUID) (*delinquency.Record, error) {
	args := m.Called(ctx, memberID)
	if record, ok := args.Get(0).(*delinquency.Record); ok {
		return record, args.Error(1)
	}
	return nil, args.Error(1)
}

func newJob(concurrency int) (*MockTracker, *batch.UpdateDelinquencyJob) {
	tracker := new(MockTracker)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return tracker, batch.NewUpdateDelinquencyJob(tracker, concurrency, logger)
}

func TestUpdateDelinquencyJobRun(t *testing.T) {
	ctx := context.Background()

	t.Run("successfully processes members", func(t *testing.T) {
		late, current := uuid.New(), uuid.New()
		tracker, job := newJob(2)
		tracker.On("MembersToReview", ctx).Return([]uuid.UUID{late, current}, nil)
		tracker.On("RecomputeMember", mock.Anything, late).
			Return(delinquency.Open(late, 12, delinquency.SeverityMild, time.Now()), nil)
		tracker.On("RecomputeMember", mock.Anything, current).Return(nil, nil)

		err := job.Run(ctx)
		assert.NoError(t, err)
		tracker.AssertExpectations(t)
	})

	t.Run("handles listing error", func(t *testing.T) {
		tracker, job := newJob(2)
		tracker.On("MembersToReview", ctx).Return(nil, apperrors.WrapDatabaseError(errors.New("connection reset"), "list members failed"))

		err := job.Run(ctx)
		assert.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
		tracker.AssertNotCalled(t, "RecomputeMember", mock.Anything, mock.Anything)
	})

	t.Run("keeps going after a member fails", func(t *testing.T) {
		broken, fine := uuid.New(), uuid.New()
		tracker, job := newJob(1)
		tracker.On("MembersToReview", ctx).Return([]uuid.UUID{broken, fine}, nil)
		tracker.On("RecomputeMember", mock.Anything, broken).Return(nil, errors.New("boom"))
		tracker.On("RecomputeMember", mock.Anything, fine).Return(nil, nil)

		err := job.Run(ctx)
		assert.EqualError(t, err, "job completed with 1 errors")
		tracker.AssertExpectations(t)
	})

	t.Run("skips busy and vanished members", func(t *testing.T) {
		busy, gone := uuid.New(), uuid.New()
		tracker, job := newJob(0)
		tracker.On("MembersToReview", ctx).Return([]uuid.UUID{busy, gone}, nil)
		tracker.On("RecomputeMember", mock.Anything, busy).Return(nil, apperrors.ConcurrentModification("credit locked"))
		tracker.On("RecomputeMember", mock.Anything, gone).Return(nil, apperrors.NotFound("member not found"))

		err := job.Run(ctx)
		assert.NoError(t, err)
		tracker.AssertExpectations(t)
	})

	t.Run("handles no members", func(t *testing.T) {
		tracker, job := newJob(2)
		tracker.On("MembersToReview", ctx).Return([]uuid.UUID{}, nil)

		err := job.Run(ctx)
		assert.NoError(t, err)
		tracker.AssertExpectations(t)
	})
}

func TestNewUpdateDelinquencyJob_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() {
		batch.NewUpdateDelinquencyJob(nil, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})
}
