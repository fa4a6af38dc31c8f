package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a hex-encoded BLAKE3 fingerprint of file content.
type Digest string

// hashBlockSize is the streaming read size for digests. Deliberately
// smaller than transfer chunks; hashing is CPU-bound and gains nothing
// from huge reads.
const hashBlockSize = 512 * 1024

// ComputeDigest streams the file through BLAKE3 and returns the
// hex-encoded digest. The file is never loaded into memory whole.
func ComputeDigest(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// verifyFull re-hashes both files and fails with a ChecksumMismatchError
// carrying both digests when they differ.
func verifyFull(src, dst string) error {
	srcDigest, err := ComputeDigest(src)
	if err != nil {
		return err
	}
	dstDigest, err := ComputeDigest(dst)
	if err != nil {
		return err
	}
	if srcDigest != dstDigest {
		return &ChecksumMismatchError{Path: dst, Source: srcDigest, Destination: dstDigest}
	}
	return nil
}

// verifyFast compares size and modification time without re-reading data.
// The engine preserves the source mtime on the destination, so matching
// size+mtime is a cheap (if weaker) signal the copy landed intact.
func verifyFast(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dst, err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		return &ChecksumMismatchError{
			Path:        dst,
			Source:      Digest(fmt.Sprintf("size:%d", srcInfo.Size())),
			Destination: Digest(fmt.Sprintf("size:%d", dstInfo.Size())),
		}
	}
	// Filesystems store mtimes at varying granularity; compare at seconds.
	if srcInfo.ModTime().Unix() != dstInfo.ModTime().Unix() {
		return &ChecksumMismatchError{
			Path:        dst,
			Source:      Digest(fmt.Sprintf("mtime:%d", srcInfo.ModTime().Unix())),
			Destination: Digest(fmt.Sprintf("mtime:%d", dstInfo.ModTime().Unix())),
		}
	}
	return nil
}

// verifyPolicy dispatches on the requested policy, comparing src against
// the written file at dst (which may still be the pre-rename temp path).
func verifyPolicy(policy VerifyPolicy, src, dst string) error {
	switch policy {
	case VerifyFull:
		return verifyFull(src, dst)
	case VerifyFast:
		return verifyFast(src, dst)
	default:
		return nil
	}
}
