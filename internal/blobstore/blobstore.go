// Package blobstore persists images and rendered reports as write-once
// blobs keyed by namespace and identifier.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/tumor-report/internal/domain"
)

var (
	ErrExists     = errors.New("blob already exists")
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a write-once key-value blob store. Put never overwrites an
// existing key and leaves nothing behind when it fails.
type Store interface {
	Put(ctx context.Context, ref domain.BlobRef, data io.Reader) error
	Get(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error)
	Exists(ctx context.Context, ref domain.BlobRef) (bool, error)
}

func validateRef(ref domain.BlobRef) error {
	if err := validateSegment(ref.Namespace); err != nil {
		return fmt.Errorf("namespace %q: %w", ref.Namespace, err)
	}
	if err := validateSegment(ref.Key); err != nil {
		return fmt.Errorf("key %q: %w", ref.Key, err)
	}
	return nil
}

func validateSegment(s string) error {
	if s == "" || strings.HasPrefix(s, ".") || strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidKey
	}
	return nil
}

// ReadAll fetches a whole blob.
func ReadAll(ctx context.Context, store Store, ref domain.BlobRef) ([]byte, error) {
	rc, err := store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
