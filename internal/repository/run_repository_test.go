package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/tumor-report/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &RunRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &RunRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryStopsOnCancelledContext(t *testing.T) {
	repo := &RunRepository{
		logger:         zap.NewNop(),
		retryAttempts:  5,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := repo.executeWithRetry(ctx, "test.operation", "req-3", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func newSQLiteRepository(t *testing.T) *RunRepository {
	t.Helper()
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), gormlogger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewRunRepository(db, zap.NewNop())
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func float(v float64) *float64 { return &v }

func TestRunRepository_SaveAndFind(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	run := &RunLog{
		RunID:          "run-1",
		ReportID:       "report-1",
		ImageID:        "image-1",
		State:          "COMPLETE",
		Label:          "tumor",
		Confidence:     float(0.93),
		SizeCM:         float(3.5),
		Severity:       "high",
		PrognosisYears: float(3),
		ActionWindow:   "within_1_month",
		DurationMs:     120,
		CreatedAt:      time.Date(2025, 3, 14, 15, 4, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveRun(ctx, run))

	found, err := repo.FindByReportID(ctx, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", found.RunID)
	require.NotNil(t, found.SizeCM)
	assert.Equal(t, 3.5, *found.SizeCM)
	assert.True(t, found.CreatedAt.Equal(run.CreatedAt))

	_, err = repo.FindByReportID(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRepository_RunIDIsUnique(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRun(ctx, &RunLog{RunID: "run-1", State: "COMPLETE"}))
	err := repo.SaveRun(ctx, &RunLog{RunID: "run-1", State: "FAILED"})

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "repository.save_run", opErr.Operation)
}

func TestRunRepository_AggregateMetrics(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	empty, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalCount)
	assert.Zero(t, empty.AverageDuration)

	for _, run := range []*RunLog{
		{RunID: "a", ReportID: "ra", State: "COMPLETE", Label: "tumor", Demo: true, DurationMs: 100},
		{RunID: "b", ReportID: "rb", State: "COMPLETE", Label: "no_tumor", DurationMs: 200},
		{RunID: "c", State: "FAILED", FailedStage: "IMAGE_STORED", ErrorKind: "InvalidFileType", DurationMs: 0},
	} {
		require.NoError(t, repo.SaveRun(ctx, run))
	}

	agg, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), agg.TotalCount)
	assert.Equal(t, int64(2), agg.CompletedCount)
	assert.Equal(t, int64(1), agg.DemoCount)
	assert.Equal(t, int64(1), agg.TumorCount)
	assert.InDelta(t, 100.0, agg.AverageDuration, 0.001)
}
