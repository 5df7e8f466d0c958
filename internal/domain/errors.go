package domain

import (
	"context"
	"errors"
)

// Pipeline error taxonomy.
var (
	ErrInvalidFileType       = errors.New("invalid file type")
	ErrImageDecode           = errors.New("image decode failed")
	ErrRender                = errors.New("report render failed")
	ErrStorageWrite          = errors.New("storage write failed")
	ErrStorageRead           = errors.New("storage read failed")
	ErrBlobNotFound          = errors.New("blob not found")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// ErrorKind names the taxonomy entry an error chain belongs to.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFileType):
		return "InvalidFileType"
	case errors.Is(err, ErrImageDecode):
		return "ImageDecodeError"
	case errors.Is(err, ErrRender):
		return "RenderError"
	case errors.Is(err, ErrStorageWrite):
		return "StorageWriteError"
	case errors.Is(err, ErrStorageRead):
		return "StorageReadError"
	case errors.Is(err, ErrBlobNotFound):
		return "NotFound"
	case errors.Is(err, ErrClassifierUnavailable):
		return "ClassifierUnavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	}
	return "Internal"
}
