package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfirmer struct{ answer bool }

func (c staticConfirmer) ConfirmOverwrite(src, dst string) (bool, error) {
	return c.answer, nil
}

func TestRun_SingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.bin")
	dst := filepath.Join(dir, "out.bin")
	want := makeFile(t, src, 64*1024)

	res := Run(context.Background(), Request{Sources: []string{src}, Dest: dst, Atomic: true}, nil, nil)
	require.NoError(t, res.Err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, OutcomeCopied, res.Outcomes[0].Status)
	assert.Equal(t, want, readFile(t, dst))
	assert.Equal(t, int64(1), res.Stats.FilesCopied)
	assert.Equal(t, int64(64*1024), res.Stats.BytesCopied)
}

func TestRun_IntoExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.txt")
	dstDir := filepath.Join(dir, "dest")
	want := makeFile(t, src, 1024)
	require.NoError(t, os.MkdirAll(dstDir, 0o755))

	res := Run(context.Background(), Request{Sources: []string{src}, Dest: dstDir, Atomic: true}, nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, want, readFile(t, filepath.Join(dstDir, "file.txt")))
}

func TestRun_MultipleSourcesNeedDirectory(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	makeFile(t, a, 100)
	makeFile(t, b, 100)

	res := Run(context.Background(), Request{
		Sources: []string{a, b},
		Dest:    filepath.Join(dir, "not-a-dir"),
	}, nil, nil)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "not a directory")
}

func TestRun_SourceMissing(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), Request{
		Sources: []string{filepath.Join(dir, "ghost")},
		Dest:    filepath.Join(dir, "out"),
	}, nil, nil)
	assert.ErrorIs(t, res.Err, ErrSourceNotFound)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, OutcomeFailed, res.Outcomes[0].Status)
}

func TestRun_OverwriteNever(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	makeFile(t, src, 100)
	prior := makeFile(t, dst, 50)

	res := Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwriteNever, Atomic: true,
	}, nil, nil)
	assert.ErrorIs(t, res.Err, ErrTargetExists)

	// Destination untouched.
	assert.Equal(t, prior, readFile(t, dst))
}

func TestRun_OverwriteAlways(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 100)
	makeFile(t, dst, 50)

	res := Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwriteAlways, Atomic: true,
	}, nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, want, readFile(t, dst))
}

func TestRun_OverwriteSmart(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 100)
	prior := makeFile(t, dst, 50)

	now := time.Now()

	// Source older than destination: skip, no error.
	require.NoError(t, os.Chtimes(src, now, now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(dst, now, now.Add(-time.Hour)))
	res := Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwriteSmart, Atomic: true,
	}, nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSkipped, res.Outcomes[0].Status)
	assert.Equal(t, prior, readFile(t, dst))

	// Identical mtimes: also a skip, not an error.
	require.NoError(t, os.Chtimes(src, now, now.Add(-time.Hour)))
	res = Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwriteSmart, Atomic: true,
	}, nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSkipped, res.Outcomes[0].Status)

	// Source strictly newer: overwrite.
	require.NoError(t, os.Chtimes(src, now, now))
	res = Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwriteSmart, Atomic: true,
	}, nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCopied, res.Outcomes[0].Status)
	assert.Equal(t, want, readFile(t, dst))
}

func TestRun_OverwritePrompt(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	want := makeFile(t, src, 100)
	prior := makeFile(t, dst, 50)

	// Declined: skip without error.
	res := Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwritePrompt, Atomic: true,
	}, nil, staticConfirmer{answer: false})
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSkipped, res.Outcomes[0].Status)
	assert.Equal(t, prior, readFile(t, dst))

	// Accepted: overwrite.
	res = Run(context.Background(), Request{
		Sources: []string{src}, Dest: dst, Overwrite: OverwritePrompt, Atomic: true,
	}, nil, staticConfirmer{answer: true})
	require.NoError(t, res.Err)
	assert.Equal(t, want, readFile(t, dst))
}

func TestRun_DirectoryNeedsRecursive(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	res := Run(context.Background(), Request{
		Sources: []string{srcDir},
		Dest:    filepath.Join(dir, "out"),
	}, nil, nil)
	assert.ErrorIs(t, res.Err, ErrSourceIsDirectory)
}

func TestRun_DirectoryRecursive(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "tree")
	dstRoot := filepath.Join(dir, "out")

	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub", "deep"), 0o755))
	a := makeFile(t, filepath.Join(srcRoot, "a.bin"), 40*1024)
	b := makeFile(t, filepath.Join(srcRoot, "sub", "b.bin"), 8*1024)
	c := makeFile(t, filepath.Join(srcRoot, "sub", "deep", "c.bin"), 1024)
	require.NoError(t, os.Symlink("a.bin", filepath.Join(srcRoot, "link")))

	res := Run(context.Background(), Request{
		Sources:   []string{srcRoot},
		Dest:      dstRoot,
		Recursive: true,
		Parallel:  4,
		Atomic:    true,
	}, nil, nil)
	require.NoError(t, res.Err)

	assert.Equal(t, a, readFile(t, filepath.Join(dstRoot, "a.bin")))
	assert.Equal(t, b, readFile(t, filepath.Join(dstRoot, "sub", "b.bin")))
	assert.Equal(t, c, readFile(t, filepath.Join(dstRoot, "sub", "deep", "c.bin")))

	target, err := os.Readlink(filepath.Join(dstRoot, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.bin", target)

	assert.Equal(t, int64(4), res.Stats.FilesCopied, "three regular files plus the symlink")
	assert.GreaterOrEqual(t, res.Stats.DirsCreated, int64(2))
}

func TestRun_DirectoryCollectsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "tree")
	dstRoot := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(srcRoot, 0o755))

	good := makeFile(t, filepath.Join(srcRoot, "good.bin"), 1024)
	makeFile(t, filepath.Join(srcRoot, "blocked.bin"), 1024)

	// Pre-seed a destination file so overwrite=never fails just that one.
	require.NoError(t, os.MkdirAll(dstRoot, 0o755))
	makeFile(t, filepath.Join(dstRoot, "blocked.bin"), 10)

	res := Run(context.Background(), Request{
		Sources:   []string{srcRoot},
		Dest:      dstRoot,
		Recursive: true,
		Overwrite: OverwriteNever,
		Atomic:    true,
	}, nil, nil)

	// The failure is reported but the sibling still copied.
	assert.ErrorIs(t, res.Err, ErrTargetExists)
	assert.Equal(t, good, readFile(t, filepath.Join(dstRoot, "good.bin")))
	assert.Equal(t, int64(1), res.Stats.FilesCopied)
	assert.Equal(t, int64(1), res.Stats.FilesFailed)
}

func TestRun_TreeCheckpointSkipsDoneFiles(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "tree")
	dstRoot := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(srcRoot, 0o755))
	makeFile(t, filepath.Join(srcRoot, "x.bin"), 16*1024)
	makeFile(t, filepath.Join(srcRoot, "y.bin"), 16*1024)

	// Pretend a previous run already finished x.bin.
	ckpt, err := OpenTreeCheckpoint(srcRoot, dstRoot)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(srcRoot, "x.bin"))
	require.NoError(t, err)
	require.NoError(t, ckpt.MarkDone("x.bin", info.Size(), info.ModTime().UnixNano(), ""))
	require.NoError(t, ckpt.Close())

	res := Run(context.Background(), Request{
		Sources:   []string{srcRoot},
		Dest:      dstRoot,
		Recursive: true,
		Resume:    true,
		Atomic:    true,
	}, nil, nil)
	require.NoError(t, res.Err)

	assert.Equal(t, int64(1), res.Stats.FilesCopied)
	assert.Equal(t, int64(1), res.Stats.FilesSkipped)
	assert.FileExists(t, filepath.Join(dstRoot, "y.bin"))
	assert.NoFileExists(t, filepath.Join(dstRoot, "x.bin"), "checkpointed file is not re-copied")
}
