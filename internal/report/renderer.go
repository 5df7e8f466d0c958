// Package report lays out analysis results as a fixed-section PDF and stores
// it write-once.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/identity"
	"github.com/example/tumor-report/internal/logging"
)

type Renderer struct {
	store  blobstore.Store
	ids    identity.Generator
	now    func() time.Time
	logger *zap.Logger
}

func NewRenderer(store blobstore.Store, ids identity.Generator, logger *zap.Logger) *Renderer {
	return &Renderer{
		store:  store,
		ids:    ids,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("report"),
	}
}

// Render stamps the report with the current time.
func (r *Renderer) Render(ctx context.Context, patient domain.PatientRecord, cls domain.ClassificationResult, attrs *domain.TumorAttributes) (domain.BlobRef, error) {
	return r.RenderAt(ctx, patient, cls, attrs, r.now())
}

// RenderAt writes the report under a fresh identifier. Invalid inputs fail
// with ErrRender before anything is stored.
func (r *Renderer) RenderAt(ctx context.Context, patient domain.PatientRecord, cls domain.ClassificationResult, attrs *domain.TumorAttributes, createdAt time.Time) (domain.BlobRef, error) {
	if err := validate(patient, cls, attrs); err != nil {
		return domain.BlobRef{}, logging.NewOperationError("report.validate", "", fmt.Errorf("%w: %w", domain.ErrRender, err))
	}

	var buf bytes.Buffer
	if err := WritePDF(&buf, Compose(patient, cls, attrs, createdAt), createdAt); err != nil {
		return domain.BlobRef{}, logging.NewOperationError("report.write_pdf", "", fmt.Errorf("%w: %w", domain.ErrRender, err))
	}

	size := buf.Len()
	id := r.ids.NewID()
	ref := domain.BlobRef{Namespace: domain.NamespaceReports, Key: id}
	opLogger := logging.WithOperation(r.logger, "report.render", id)

	if err := r.store.Put(ctx, ref, &buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BlobRef{}, logging.NewOperationError("report.store", id, ctxErr)
		}
		wrapped := logging.NewOperationError("report.store", id, fmt.Errorf("%w: %w", domain.ErrStorageWrite, err))
		opLogger.Error("failed to store report", zap.Error(wrapped))
		return domain.BlobRef{}, wrapped
	}

	opLogger.Info("report rendered",
		zap.String("label", string(cls.Label)),
		zap.Bool("demo", cls.Demo),
		zap.Int("bytes", size),
	)
	return ref, nil
}

func validate(patient domain.PatientRecord, cls domain.ClassificationResult, attrs *domain.TumorAttributes) error {
	if err := patient.Validate(); err != nil {
		return err
	}
	switch cls.Label {
	case domain.LabelTumor:
		if attrs == nil {
			return errors.New("tumor classification without attributes")
		}
	case domain.LabelNoTumor:
		if attrs != nil {
			return errors.New("attributes given for a negative classification")
		}
	default:
		return fmt.Errorf("unknown classification label %q", cls.Label)
	}
	return nil
}
