package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeCheckpoint_OpenClose(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/src", "/dst")
	require.NoError(t, err)
	require.NotNil(t, tc)

	assert.FileExists(t, tc.Path())
	require.NoError(t, tc.Close())
}

func TestTreeCheckpoint_MarkAndCheck(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/src", "/dst")
	require.NoError(t, err)
	defer tc.Close()

	assert.False(t, tc.Done("file.txt", 100, 12345))

	require.NoError(t, tc.MarkDone("file.txt", 100, 12345, "abc"))
	require.NoError(t, tc.Flush())

	assert.True(t, tc.Done("file.txt", 100, 12345))

	// Any change to the source invalidates the record.
	assert.False(t, tc.Done("file.txt", 200, 12345))
	assert.False(t, tc.Done("file.txt", 100, 99999))
	assert.False(t, tc.Done("other.txt", 100, 12345))
}

func TestTreeCheckpoint_PendingEntriesCount(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/src", "/dst")
	require.NoError(t, err)
	defer tc.Close()

	// Unflushed entries are still visible.
	require.NoError(t, tc.MarkDone("buffered.txt", 10, 20, ""))
	assert.True(t, tc.Done("buffered.txt", 10, 20))
}

func TestTreeCheckpoint_BatchFlush(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/src", "/dst")
	require.NoError(t, err)
	defer tc.Close()

	// Crosses the batch threshold, forcing an auto-flush.
	for i := 0; i < 200; i++ {
		require.NoError(t, tc.MarkDone(fmt.Sprintf("dir/file_%d", i), int64(i), int64(i*10), ""))
	}
	require.NoError(t, tc.Flush())

	assert.True(t, tc.Done("dir/file_0", 0, 0))
	assert.True(t, tc.Done("dir/file_199", 199, 1990))
}

func TestTreeCheckpoint_SurvivesReopen(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/a", "/b")
	require.NoError(t, err)
	require.NoError(t, tc.MarkDone("f", 1, 2, ""))
	require.NoError(t, tc.Close())

	tc2, err := OpenTreeCheckpoint("/a", "/b")
	require.NoError(t, err)
	defer tc2.Close()
	assert.True(t, tc2.Done("f", 1, 2))
}

func TestCheckpointJobID(t *testing.T) {
	id1 := checkpointJobID("/a", "/b")
	id2 := checkpointJobID("/a", "/c")
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, checkpointJobID("/a", "/b"))
	assert.Len(t, id1, 16)
}

func TestTreeCheckpoint_Remove(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tc, err := OpenTreeCheckpoint("/src", "/dst")
	require.NoError(t, err)
	require.NoError(t, tc.Close())
	require.NoError(t, tc.Remove())
	assert.NoFileExists(t, tc.Path())
}
