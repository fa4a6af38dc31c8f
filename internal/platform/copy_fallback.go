//go:build !linux && !darwin

package platform

// CopyFile falls back to pread/pwrite on other Unixes.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	Preallocate(params.DstFd, params.SrcSize)
	return copyReadWrite(params)
}
