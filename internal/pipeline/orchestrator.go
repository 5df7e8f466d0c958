// Package pipeline sequences one analysis-to-report run: intake,
// classification, attribute derivation and rendering, then the best-effort
// bookkeeping around a finished report.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/events"
	"github.com/example/tumor-report/internal/identity"
	"github.com/example/tumor-report/internal/logging"
	"github.com/example/tumor-report/internal/repository"
)

type ImageIntake interface {
	Accept(ctx context.Context, data []byte, filename string) (*domain.UploadedImage, error)
}

type Classifier interface {
	Classify(ctx context.Context, img *domain.UploadedImage) (domain.ClassificationResult, error)
}

type AttributeDeriver interface {
	Derive(result domain.ClassificationResult) *domain.TumorAttributes
}

type ReportRenderer interface {
	RenderAt(ctx context.Context, patient domain.PatientRecord, cls domain.ClassificationResult, attrs *domain.TumorAttributes, createdAt time.Time) (domain.BlobRef, error)
}

// RunRepository defines the persistence operations needed by the orchestrator.
type RunRepository interface {
	SaveRun(ctx context.Context, run *repository.RunLog) error
	FindByReportID(ctx context.Context, reportID string) (*repository.RunLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Dependencies are the collaborators of an Orchestrator. Cache, Runs and
// Events are optional.
type Dependencies struct {
	Intake     ImageIntake
	Classifier Classifier
	Deriver    AttributeDeriver
	Renderer   ReportRenderer
	Store      blobstore.Store
	IDs        identity.Generator
	Cache      Cache
	Runs       RunRepository
	Events     events.Publisher
}

type Request struct {
	Patient  domain.PatientRecord
	Image    []byte
	Filename string
}

// Outcome describes a finished run. Report is set only when State is
// COMPLETE; Failure only when it is FAILED.
type Outcome struct {
	RunID       string             `json:"run_id"`
	State       State              `json:"state"`
	Transitions []TransitionRecord `json:"transitions"`
	Report      *domain.Report     `json:"report,omitempty"`
	Failure     *StageError        `json:"-"`
}

// ReportSummary is the retrievable metadata of a rendered report. Patient
// details live only in the cached copy and expire with it.
type ReportSummary struct {
	ReportID       string                      `json:"report_id"`
	RunID          string                      `json:"run_id,omitempty"`
	Patient        *domain.PatientRecord       `json:"patient_info,omitempty"`
	Classification domain.ClassificationResult `json:"classification"`
	Attributes     *domain.TumorAttributes     `json:"tumor_data,omitempty"`
	Demo           bool                        `json:"demo"`
	CreatedAt      time.Time                   `json:"created_at"`
}

// Orchestrator runs the pipeline. Runs are independent and may execute
// concurrently.
type Orchestrator struct {
	intake     ImageIntake
	classifier Classifier
	deriver    AttributeDeriver
	renderer   ReportRenderer
	store      blobstore.Store
	ids        identity.Generator
	cache      Cache
	runs       RunRepository
	events     events.Publisher
	logger     *zap.Logger
	now        func() time.Time

	cacheTTL       time.Duration
	postTimeout    time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type Option func(*Orchestrator)

func WithCacheTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.cacheTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetry configures cache retries.
func WithRetry(attempts int, initialBackoff, maxBackoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryAttempts = attempts
		o.initialBackoff = initialBackoff
		o.maxBackoff = maxBackoff
	}
}

func NewOrchestrator(deps Dependencies, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		intake:         deps.Intake,
		classifier:     deps.Classifier,
		deriver:        deps.Deriver,
		renderer:       deps.Renderer,
		store:          deps.Store,
		ids:            deps.IDs,
		cache:          deps.Cache,
		runs:           deps.Runs,
		events:         deps.Events,
		logger:         logger.Named("pipeline"),
		now:            func() time.Time { return time.Now().UTC() },
		cacheTTL:       24 * time.Hour,
		postTimeout:    5 * time.Second,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	if o.cache == nil {
		o.cache = NewMemoryCache()
	}
	if o.events == nil {
		o.events = events.NopPublisher{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request. On failure the returned error is the outcome's
// *StageError and no report is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	runID := o.ids.NewID()
	started := o.now()
	opLogger := logging.WithOperation(o.logger, "pipeline.run", runID)
	m := newMachine(o.now)

	var (
		img   *domain.UploadedImage
		cls   domain.ClassificationResult
		attrs *domain.TumorAttributes
		ref   domain.BlobRef
	)

	stages := []struct {
		to  State
		run func() error
	}{
		{StateImageStored, func() (err error) {
			img, err = o.intake.Accept(ctx, req.Image, req.Filename)
			return err
		}},
		{StateClassified, func() (err error) {
			cls, err = o.classifier.Classify(ctx, img)
			return err
		}},
		{StateAttributesDerived, func() error {
			attrs = o.deriver.Derive(cls)
			return nil
		}},
		{StateReportRendered, func() (err error) {
			ref, err = o.renderer.RenderAt(ctx, req.Patient, cls, attrs, started)
			return err
		}},
	}

	for _, stage := range stages {
		err := ctx.Err()
		if err == nil {
			err = stage.run()
		}
		if err != nil {
			return o.fail(ctx, opLogger, m, runID, started, img, stage.to, err)
		}
		if err := m.advance(stage.to); err != nil {
			return o.fail(ctx, opLogger, m, runID, started, img, stage.to, err)
		}
	}
	if err := m.advance(StateComplete); err != nil {
		return o.fail(ctx, opLogger, m, runID, started, img, StateComplete, err)
	}

	report := &domain.Report{
		ID:             ref.Key,
		Patient:        req.Patient,
		Classification: cls,
		Attributes:     attrs,
		Ref:            ref,
		ImageRef:       img.Ref,
		CreatedAt:      started,
		Demo:           cls.Demo,
	}
	outcome := &Outcome{RunID: runID, State: m.state, Transitions: m.history, Report: report}

	opLogger.Info("pipeline run complete",
		zap.String("report_id", report.ID),
		zap.String("label", string(cls.Label)),
		zap.Bool("demo", cls.Demo),
		zap.Duration("duration", o.now().Sub(started)),
	)
	o.afterComplete(ctx, opLogger, outcome, started)
	return outcome, nil
}

func (o *Orchestrator) fail(ctx context.Context, opLogger *zap.Logger, m *machine, runID string, started time.Time, img *domain.UploadedImage, stage State, err error) (*Outcome, error) {
	stageErr := newStageError(stage, err)
	if advanceErr := m.advance(StateFailed); advanceErr != nil {
		opLogger.Error("invalid failure transition", zap.Error(advanceErr))
	}
	outcome := &Outcome{RunID: runID, State: m.state, Transitions: m.history, Failure: stageErr}

	opLogger.Warn("pipeline run failed",
		zap.String("stage", string(stage)),
		zap.String("kind", stageErr.Kind),
		zap.Error(err),
	)

	if o.runs != nil {
		run := &repository.RunLog{
			RunID:       runID,
			State:       string(StateFailed),
			FailedStage: string(stage),
			ErrorKind:   stageErr.Kind,
			Details:     err.Error(),
			DurationMs:  o.now().Sub(started).Milliseconds(),
			CreatedAt:   started,
		}
		if img != nil {
			run.ImageID = img.ID
		}
		postCtx, cancel := o.postContext(ctx)
		defer cancel()
		if saveErr := o.runs.SaveRun(postCtx, run); saveErr != nil {
			opLogger.Warn("failed to record failed run", zap.Error(saveErr))
		}
	}
	return outcome, stageErr
}

// postContext survives cancellation of the request that finished the run.
func (o *Orchestrator) postContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.postTimeout)
}

// afterComplete caches, logs and announces the report. None of it can fail
// the run.
func (o *Orchestrator) afterComplete(ctx context.Context, opLogger *zap.Logger, outcome *Outcome, started time.Time) {
	postCtx, cancel := o.postContext(ctx)
	defer cancel()
	report := outcome.Report

	summary := summaryFromReport(outcome.RunID, report)
	if payload, err := json.Marshal(summary); err != nil {
		opLogger.Warn("failed to serialize report summary", zap.Error(err))
	} else if err := o.withCacheRetry(postCtx, outcome.RunID, "cache.set.report", func() error {
		return o.cache.Set(postCtx, cacheKey(report.ID), string(payload), o.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache report summary", zap.Error(err))
	}

	if o.runs != nil {
		if err := o.runs.SaveRun(postCtx, runLogFromReport(outcome.RunID, report, o.now().Sub(started))); err != nil {
			opLogger.Warn("failed to record run", zap.Error(err))
		}
	}

	event := events.ReportCompleted{
		RunID:     outcome.RunID,
		ReportID:  report.ID,
		Label:     string(report.Classification.Label),
		Demo:      report.Demo,
		CreatedAt: report.CreatedAt,
	}
	if report.Attributes != nil {
		event.Severity = string(report.Attributes.Severity)
	}
	if err := o.events.PublishReportCompleted(postCtx, event); err != nil {
		opLogger.Warn("failed to publish report event", zap.Error(err))
	}
}

// Download streams the stored PDF of a report.
func (o *Orchestrator) Download(ctx context.Context, reportID string) (io.ReadCloser, error) {
	rc, err := o.store.Get(ctx, domain.BlobRef{Namespace: domain.NamespaceReports, Key: reportID})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidKey) {
			return nil, fmt.Errorf("report %s: %w", reportID, domain.ErrBlobNotFound)
		}
		return nil, logging.NewOperationError("pipeline.download", reportID, fmt.Errorf("%w: %w", domain.ErrStorageRead, err))
	}
	return rc, nil
}

// GetReport looks the report up in the cache, then in the run log. A report
// whose metadata has expired everywhere is still returned by id while its
// blob exists.
func (o *Orchestrator) GetReport(ctx context.Context, reportID string) (*ReportSummary, error) {
	opLogger := logging.WithOperation(o.logger, "pipeline.get_report", reportID)

	if cached, err := o.cacheGet(ctx, reportID, "cache.get.report", cacheKey(reportID)); err == nil {
		var summary ReportSummary
		if err := json.Unmarshal([]byte(cached), &summary); err != nil {
			opLogger.Warn("failed to decode cached report", zap.Error(err))
		} else {
			return &summary, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	if o.runs != nil {
		run, err := o.runs.FindByReportID(ctx, reportID)
		if err == nil {
			return summaryFromRunLog(run), nil
		}
		if !errors.Is(err, repository.ErrRunNotFound) {
			opLogger.Warn("failed to read run log", zap.Error(err))
		}
	}

	exists, err := o.store.Exists(ctx, domain.BlobRef{Namespace: domain.NamespaceReports, Key: reportID})
	if err != nil && !errors.Is(err, blobstore.ErrInvalidKey) {
		return nil, logging.NewOperationError("pipeline.get_report", reportID, fmt.Errorf("%w: %w", domain.ErrStorageRead, err))
	}
	if !exists {
		return nil, fmt.Errorf("report %s: %w", reportID, domain.ErrBlobNotFound)
	}
	return &ReportSummary{ReportID: reportID}, nil
}

func cacheKey(reportID string) string {
	return fmt.Sprintf("report:%s", reportID)
}

func summaryFromReport(runID string, r *domain.Report) ReportSummary {
	patient := r.Patient
	return ReportSummary{
		ReportID:       r.ID,
		RunID:          runID,
		Patient:        &patient,
		Classification: r.Classification,
		Attributes:     r.Attributes,
		Demo:           r.Demo,
		CreatedAt:      r.CreatedAt,
	}
}

func runLogFromReport(runID string, r *domain.Report, took time.Duration) *repository.RunLog {
	run := &repository.RunLog{
		RunID:      runID,
		ReportID:   r.ID,
		ImageID:    r.ImageRef.Key,
		State:      string(StateComplete),
		Label:      string(r.Classification.Label),
		Confidence: r.Classification.Confidence,
		Demo:       r.Demo,
		Details:    r.Classification.Source,
		DurationMs: took.Milliseconds(),
		CreatedAt:  r.CreatedAt,
	}
	if a := r.Attributes; a != nil {
		size, prognosis := a.SizeCM, a.PrognosisYears
		run.SizeCM = &size
		run.Severity = string(a.Severity)
		run.PrognosisYears = &prognosis
		run.ActionWindow = string(a.ActionWindow)
	}
	return run
}

func summaryFromRunLog(run *repository.RunLog) *ReportSummary {
	summary := &ReportSummary{
		ReportID: run.ReportID,
		RunID:    run.RunID,
		Classification: domain.ClassificationResult{
			Label:      domain.Label(run.Label),
			Confidence: run.Confidence,
			Demo:       run.Demo,
			Source:     run.Details,
		},
		Demo:      run.Demo,
		CreatedAt: run.CreatedAt,
	}
	if run.SizeCM != nil {
		attrs := &domain.TumorAttributes{
			SizeCM:       *run.SizeCM,
			Severity:     domain.Severity(run.Severity),
			ActionWindow: domain.ActionWindow(run.ActionWindow),
		}
		if run.PrognosisYears != nil {
			attrs.PrognosisYears = *run.PrognosisYears
		}
		summary.Attributes = attrs
	}
	return summary
}
