// Package repository keeps an append-only log of pipeline runs. The log is
// an index for lookups and metrics; report bytes live in the blob store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/tumor-report/internal/logging"
)

var ErrRunNotFound = errors.New("run not found")

// RunLog is one pipeline run, completed or failed.
type RunLog struct {
	ID             uint      `gorm:"primaryKey"`
	RunID          string    `gorm:"column:run_id;uniqueIndex;size:64"`
	ReportID       string    `gorm:"column:report_id;index;size:64"`
	ImageID        string    `gorm:"column:image_id;size:64"`
	State          string    `gorm:"column:state;size:32"`
	FailedStage    string    `gorm:"column:failed_stage;size:32"`
	ErrorKind      string    `gorm:"column:error_kind;size:64"`
	Details        string    `gorm:"column:details;type:text"`
	Label          string    `gorm:"column:label;size:16"`
	Confidence     *float64  `gorm:"column:confidence"`
	Demo           bool      `gorm:"column:demo"`
	SizeCM         *float64  `gorm:"column:size_cm"`
	Severity       string    `gorm:"column:severity;size:16"`
	PrognosisYears *float64  `gorm:"column:prognosis_years"`
	ActionWindow   string    `gorm:"column:action_window;size:32"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (RunLog) TableName() string {
	return "report_runs"
}

// MetricsAggregation is the raw roll-up of the run log.
type MetricsAggregation struct {
	TotalCount      int64
	CompletedCount  int64
	DemoCount       int64
	TumorCount      int64
	AverageDuration float64
}

type RunRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewRunRepository(db *gorm.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:             db,
		logger:         logger.Named("run_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Open connects to Postgres for postgres:// DSNs and to SQLite otherwise.
func Open(dsn string, logLevel gormlogger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to run log: %w", err)
	}
	return db, nil
}

func (r *RunRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RunLog{})
}

func (r *RunRepository) SaveRun(ctx context.Context, run *RunLog) error {
	return r.executeWithRetry(ctx, "repository.save_run", run.RunID, func() error {
		return r.db.WithContext(ctx).Create(run).Error
	})
}

// FindByReportID returns the completed run that produced the report.
func (r *RunRepository) FindByReportID(ctx context.Context, reportID string) (*RunLog, error) {
	var run RunLog
	err := r.executeWithRetry(ctx, "repository.find_by_report_id", reportID, func() error {
		return r.db.WithContext(ctx).First(&run, "report_id = ?", reportID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report %s: %w", reportID, ErrRunNotFound)
		}
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount      int64
		CompletedCount  int64
		DemoCount       int64
		TumorCount      int64
		AverageDuration *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&RunLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN state = 'COMPLETE' THEN 1 ELSE 0 END), 0) AS completed_count, " +
				"COALESCE(SUM(CASE WHEN demo THEN 1 ELSE 0 END), 0) AS demo_count, " +
				"COALESCE(SUM(CASE WHEN label = 'tumor' THEN 1 ELSE 0 END), 0) AS tumor_count, " +
				"AVG(duration_ms) AS average_duration",
		).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	agg := &MetricsAggregation{
		TotalCount:     row.TotalCount,
		CompletedCount: row.CompletedCount,
		DemoCount:      row.DemoCount,
		TumorCount:     row.TumorCount,
	}
	if row.AverageDuration != nil {
		agg.AverageDuration = *row.AverageDuration
	}
	return agg, nil
}

func (r *RunRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
