//go:build darwin

package platform

// CopyFile falls back to pread/pwrite on macOS. Whole-file copies go
// through Clone (clonefile) before reaching this path.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	Preallocate(params.DstFd, params.SrcSize)
	return copyReadWrite(params)
}
