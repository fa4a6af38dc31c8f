//go:build !linux && !darwin

package platform

import "os"

// Clone always reports ErrCloneUnsupported on platforms without a
// copy-on-write clone primitive.
func Clone(_, _ string, _ os.FileMode) error {
	return ErrCloneUnsupported
}
