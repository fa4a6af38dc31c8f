//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// SameFilesystem reports whether the two paths live on the same filesystem
// (same st_dev). Both paths must exist; pass the destination's parent
// directory when the destination itself has not been created yet.
func SameFilesystem(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, err
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, err
	}
	return sa.Dev == sb.Dev, nil
}
