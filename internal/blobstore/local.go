package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/tumor-report/internal/domain"
)

// LocalStore keeps blobs as flat files under <baseDir>/<namespace>/<key>.
type LocalStore struct {
	baseDir string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(dir string) (*LocalStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) fullpath(ref domain.BlobRef) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, ref.Namespace, ref.Key), nil
}

// Put stages the payload in a temp file next to the target and publishes it
// with a hard link, which fails if the key already exists.
func (s *LocalStore) Put(ctx context.Context, ref domain.BlobRef, data io.Reader) error {
	path, err := s.fullpath(ref)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", ref, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", ref, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: data}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", ref, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", ref, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", ref, ErrExists)
		}
		return fmt.Errorf("failed to publish %s: %w", ref, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	path, err := s.fullpath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return f, nil
}

func (s *LocalStore) Exists(ctx context.Context, ref domain.BlobRef) (bool, error) {
	path, err := s.fullpath(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	return true, nil
}

// contextReader stops a copy once the request is abandoned.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
