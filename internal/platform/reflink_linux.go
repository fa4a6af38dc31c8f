//go:build linux

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Clone creates dstPath as a copy-on-write clone of srcPath using the
// FICLONE ioctl. dstPath must not exist; on any failure it is removed.
// Returns ErrCloneUnsupported when the filesystem cannot clone, and the
// underlying error for real I/O failures.
func Clone(srcPath, dstPath string, perm os.FileMode) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())); err != nil {
		dst.Close()
		_ = os.Remove(dstPath)
		if isCloneUnsupportedErr(err) {
			return fmt.Errorf("%w: %s", ErrCloneUnsupported, err)
		}
		return err
	}

	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return err
	}
	return nil
}

func isCloneUnsupportedErr(err error) bool {
	switch err {
	case unix.ENOTSUP, unix.EXDEV, unix.EINVAL, unix.ENOSYS, unix.ENOTTY, unix.EBADF:
		return true
	}
	return false
}
