// Package intake validates uploaded scans and stores them under a fresh
// identifier.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/domain"
	"github.com/example/tumor-report/internal/identity"
	"github.com/example/tumor-report/internal/logging"
)

// MaxUploadSize bounds a single upload.
const MaxUploadSize = 10 << 20

var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"gif":  {},
}

// sniffed MIME type -> stored format name
var allowedContent = []struct {
	mime   string
	format string
}{
	{"image/jpeg", "jpeg"},
	{"image/png", "png"},
	{"image/bmp", "bmp"},
	{"image/gif", "gif"},
}

type Intake struct {
	store  blobstore.Store
	ids    identity.Generator
	logger *zap.Logger
}

func New(store blobstore.Store, ids identity.Generator, logger *zap.Logger) *Intake {
	return &Intake{store: store, ids: ids, logger: logger.Named("intake")}
}

// Accept checks the filename extension and the sniffed content, then writes
// the payload to the images namespace. Each call gets its own identifier.
func (in *Intake) Accept(ctx context.Context, data []byte, filename string) (*domain.UploadedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload: %w", domain.ErrInvalidFileType)
	}
	ext := Extension(filename)
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, fmt.Errorf("extension %q not allowed: %w", ext, domain.ErrInvalidFileType)
	}
	format, ok := sniffFormat(data)
	if !ok {
		return nil, fmt.Errorf("content of %q is not a supported image: %w", filename, domain.ErrInvalidFileType)
	}

	id := in.ids.NewID()
	ref := domain.BlobRef{Namespace: domain.NamespaceImages, Key: id}
	opLogger := logging.WithOperation(in.logger, "intake.accept", id)

	if err := in.store.Put(ctx, ref, bytes.NewReader(data)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, logging.NewOperationError("intake.store_image", id, ctxErr)
		}
		wrapped := logging.NewOperationError("intake.store_image", id, fmt.Errorf("%w: %w", domain.ErrStorageWrite, err))
		opLogger.Error("failed to store upload", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("image accepted",
		zap.String("filename", filename),
		zap.String("format", format),
		zap.Int("size", len(data)),
	)
	return &domain.UploadedImage{
		ID:       id,
		Ref:      ref,
		Filename: filename,
		Format:   format,
		Size:     int64(len(data)),
	}, nil
}

// Extension returns the lower-cased extension without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func sniffFormat(data []byte) (string, bool) {
	mtype := mimetype.Detect(data)
	for _, c := range allowedContent {
		if mtype.Is(c.mime) {
			return c.format, true
		}
	}
	return "", false
}
