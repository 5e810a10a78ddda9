package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat    = errors.New("invalid sums file format")
	ErrUnknownVersion   = errors.New("unknown sums file version")
	ErrInvalidChecksum  = errors.New("invalid checksum kind")
	ErrSizeMismatch     = errors.New("object sizes do not match")
	ErrPartialRecord    = errors.New("record is partial and cannot be merged or saved")
	ErrChecksumMismatch = errors.New("checksums do not match")
	ErrTagCopyFailed    = errors.New("failed to copy object tags")
	ErrNotFound         = errors.New("object not found")
	ErrCopyAborted      = errors.New("copy aborted")
)

// InvalidKindError wraps ErrInvalidChecksum with the offending kind string.
func InvalidKindError(kind string) error {
	return fmt.Errorf("%w: %q", ErrInvalidChecksum, kind)
}

// SizeMismatchError wraps ErrSizeMismatch with both sizes.
func SizeMismatchError(a, b int64) error {
	return fmt.Errorf("%w: %d != %d", ErrSizeMismatch, a, b)
}
