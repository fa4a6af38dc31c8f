package engine

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors for the failure classes callers are expected to branch
// on. All of them are matchable with errors.Is through wrapping.
var (
	ErrSourceNotFound     = errors.New("source not found")
	ErrSourceIsDirectory  = errors.New("source is a directory")
	ErrTargetExists       = errors.New("target already exists")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDiskFull           = errors.New("insufficient disk space")
	ErrInvalidResumeState = errors.New("resume state invalid")
	ErrReflinkUnsupported = errors.New("reflink not supported")
	ErrUserAborted        = errors.New("operation aborted")
)

// ChecksumMismatchError reports a post-transfer digest mismatch. Both
// digests are carried for diagnostics; callers must never drop it.
type ChecksumMismatchError struct {
	Path        string
	Source      Digest
	Destination Digest
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: source %s, destination %s",
		e.Path, e.Source, e.Destination)
}

// wrapIO wraps a low-level I/O error with path and byte-offset context and
// lifts well-known errnos into the sentinel taxonomy.
func wrapIO(err error, path string, offset int64) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %s at offset %d: %v", ErrDiskFull, path, offset, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}
	return fmt.Errorf("io error: %s at offset %d: %w", path, offset, err)
}
