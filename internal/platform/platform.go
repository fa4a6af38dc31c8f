package platform

import (
	"errors"
	"os"
)

// CopyMethod identifies which syscall/strategy was used for a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
	Sendfile                 // Linux sendfile(2)
	Clonefile                // macOS clonefile(2)
	Reflink                  // Linux FICLONE ioctl
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	case Sendfile:
		return "sendfile"
	case Clonefile:
		return "clonefile"
	case Reflink:
		return "reflink"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy operation.
type CopyResult struct {
	BytesWritten int64
	Method       CopyMethod
}

// CopyFileParams describes a byte range to copy. The range is written to
// DstFd at the same offset it occupies in the source, which keeps
// concurrent range workers on one destination file disjoint.
type CopyFileParams struct {
	DstFd     *os.File
	SrcPath   string
	SrcOffset int64
	SrcSize   int64
	Length    int64

	// Concurrent marks DstFd as shared between range workers. Methods
	// that move the file position (sendfile) are skipped; only
	// positioned I/O is safe on a shared descriptor.
	Concurrent bool
}

// ErrCloneUnsupported reports that a copy-on-write clone cannot be
// performed for this source/destination pair: wrong filesystem, crossing
// filesystems, or missing kernel support. It is distinct from real I/O
// failures, which callers must surface rather than fall back on.
var ErrCloneUnsupported = errors.New("copy-on-write clone not supported")
