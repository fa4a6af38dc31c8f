package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_NonBlocking(t *testing.T) {
	ch := make(chan Event, 1)
	Emit(ch, Event{Type: FileStarted, Path: "a"})

	// Channel full: the second emit must drop, not block.
	Emit(ch, Event{Type: FileProgress, Path: "b"})

	got := <-ch
	assert.Equal(t, FileStarted, got.Type)
	assert.Equal(t, "a", got.Path)
	assert.False(t, got.Timestamp.IsZero())

	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %v", ev.Type)
	default:
	}
}

func TestEmit_NilChannel(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(nil, Event{Type: FileCompleted})
	})
}

func TestType_String(t *testing.T) {
	require.Equal(t, "FileCompleted", FileCompleted.String())
	require.Equal(t, "VerifyFailed", VerifyFailed.String())
	require.Equal(t, "Unknown", Type(99).String())
}
