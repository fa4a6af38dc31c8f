//go:build !linux && !darwin

package platform

// SameFilesystem conservatively reports false where st_dev comparison is
// unavailable, so callers skip same-filesystem optimizations.
func SameFilesystem(_, _ string) (bool, error) {
	return false, nil
}
