//go:build darwin

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Clone creates dstPath as a copy-on-write clone of srcPath using
// clonefile(2). dstPath must not exist. Returns ErrCloneUnsupported when
// the filesystem cannot clone (non-APFS, cross-volume).
func Clone(srcPath, dstPath string, perm os.FileMode) error {
	if err := unix.Clonefile(srcPath, dstPath, 0); err != nil {
		if isCloneUnsupportedErr(err) {
			return fmt.Errorf("%w: %s", ErrCloneUnsupported, err)
		}
		return err
	}
	// clonefile preserves the source mode; align with the requested one.
	if err := os.Chmod(dstPath, perm); err != nil {
		_ = os.Remove(dstPath)
		return err
	}
	return nil
}

func isCloneUnsupportedErr(err error) bool {
	switch err {
	case unix.ENOTSUP, unix.EXDEV, unix.EINVAL:
		return true
	}
	return false
}
