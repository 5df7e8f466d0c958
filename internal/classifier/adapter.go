// Package classifier turns a stored scan into a normalized tumor verdict,
// falling back to a demo strategy when no model answers.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/logging"
)

// Collaborator is an external model. It answers in its own native shape.
type Collaborator interface {
	Name() string
	Predict(ctx context.Context, t Tensor) (Prediction, error)
}

// SourceDemo marks results produced without a model.
const SourceDemo = "demo"

type Adapter struct {
	store        blobstore.Store
	collaborator Collaborator
	demo         DemoStrategy
	timeout      time.Duration
	logger       *zap.Logger
}

type Option func(*Adapter)

// WithTimeout bounds each collaborator call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// NewAdapter builds an adapter. A nil collaborator means demo mode.
func NewAdapter(store blobstore.Store, collaborator Collaborator, demo DemoStrategy, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		store:        store,
		collaborator: collaborator,
		demo:         demo,
		timeout:      30 * time.Second,
		logger:       logger.Named("classifier"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DemoMode reports whether every classification will come from the demo
// strategy.
func (a *Adapter) DemoMode() bool {
	return a.collaborator == nil
}

func (a *Adapter) Classify(ctx context.Context, img *domain.UploadedImage) (domain.ClassificationResult, error) {
	opLogger := logging.WithOperation(a.logger, "classifier.classify", img.ID)

	data, err := blobstore.ReadAll(ctx, a.store, img.Ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ClassificationResult{}, logging.NewOperationError("classifier.read_image", img.ID, ctxErr)
		}
		if errors.Is(err, blobstore.ErrNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrBlobNotFound, err)
		}
		return domain.ClassificationResult{}, logging.NewOperationError("classifier.read_image", img.ID, fmt.Errorf("%w: %w", domain.ErrStorageRead, err))
	}

	tensor, err := DecodeTensor(data)
	if err != nil {
		return domain.ClassificationResult{}, logging.NewOperationError("classifier.decode_image", img.ID, err)
	}

	if a.collaborator == nil {
		return a.fallback(opLogger, tensor, domain.ErrClassifierUnavailable), nil
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	pred, err := a.collaborator.Predict(callCtx, tensor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ClassificationResult{}, logging.NewOperationError("classifier.predict", img.ID, ctxErr)
		}
		return a.fallback(opLogger, tensor, err), nil
	}

	label, confidence, err := Normalize(pred)
	if err != nil {
		return a.fallback(opLogger, tensor, err), nil
	}

	opLogger.Info("image classified",
		zap.String("label", string(label)),
		zap.String("source", a.collaborator.Name()),
	)
	return domain.ClassificationResult{
		Label:      label,
		Confidence: confidence,
		Source:     a.collaborator.Name(),
	}, nil
}

func (a *Adapter) fallback(opLogger *zap.Logger, tensor Tensor, reason error) domain.ClassificationResult {
	label := a.demo.Choose(tensor)
	opLogger.Warn("classifier unavailable, using demo verdict",
		zap.Error(reason),
		zap.String("strategy", a.demo.Name()),
		zap.String("label", string(label)),
	)
	return domain.ClassificationResult{
		Label:  label,
		Demo:   true,
		Source: SourceDemo,
	}
}
