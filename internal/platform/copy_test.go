package platform

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(int64(size) + 7))
	_, err := rng.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func TestCopyFile_FullRange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 256*1024)

	f, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	res, err := CopyFile(CopyFileParams{
		DstFd:   f,
		SrcPath: src,
		SrcSize: int64(len(want)),
		Length:  int64(len(want)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), res.BytesWritten)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCopyFile_MiddleRange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 96*1024)

	f, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(len(want))))

	// Copy only the middle third; the range lands at the same offset.
	const offset, length = 32 * 1024, 32 * 1024
	res, err := CopyFile(CopyFileParams{
		DstFd:     f,
		SrcPath:   src,
		SrcOffset: offset,
		SrcSize:   int64(len(want)),
		Length:    length,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(length), res.BytesWritten)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want[offset:offset+length], got[offset:offset+length])
}

func TestCopyReadWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	// Larger than one pooled buffer to exercise the loop.
	want := makeFile(t, src, (1<<20)+4096)

	f, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	res, err := CopyReadWrite(CopyFileParams{
		DstFd:   f,
		SrcPath: src,
		SrcSize: int64(len(want)),
		Length:  int64(len(want)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), res.BytesWritten)
	assert.Equal(t, ReadWrite, res.Method)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCopyFile_ZeroLength(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	f, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	res, err := CopyFile(CopyFileParams{DstFd: f, SrcPath: src})
	require.NoError(t, err)
	assert.Zero(t, res.BytesWritten)
}

func TestSameFilesystem(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	makeFile(t, a, 10)
	makeFile(t, b, 10)

	same, err := SameFilesystem(a, b)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestClone_UnsupportedIsTyped(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 8*1024)

	err := Clone(src, dst, 0o644)
	if err != nil {
		// Most test filesystems cannot clone; the error must be the
		// sentinel so callers can fall back.
		assert.ErrorIs(t, err, ErrCloneUnsupported)
		assert.NoFileExists(t, dst)
		return
	}

	got, rerr := os.ReadFile(dst)
	require.NoError(t, rerr)
	assert.Equal(t, want, got)
}
