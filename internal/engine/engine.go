package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/platform"
	"github.com/ferryfs/ferry/internal/stats"
)

// Copier executes the chunked transfer state machine for a single regular
// file: validate, resume-check, copy, verify, finalize. It is the
// sequential core every strategy eventually lands on.
type Copier struct {
	Src    string
	Dst    string
	Opts   Request
	Events chan<- event.Event
	Stats  *stats.Collector

	// BytesWritten counts bytes physically copied by this run, excluding
	// ranges skipped via the ledger. Tests use it to assert resume never
	// re-reads completed bytes.
	BytesWritten int64
	// ResumedFrom is the first offset copied when a valid ledger was found.
	ResumedFrom int64

	state      State
	ledger     *Ledger
	ledgerPath string

	unflushed int64
	lastFlush time.Time
}

// State reports the current (or terminal) phase of the transfer.
func (c *Copier) State() State { return c.state }

// span is a contiguous byte range still to be copied.
type span struct {
	offset int64
	length int64
}

// Run performs the transfer, blocking until a terminal state is reached.
// On failure or cancellation the ledger and partial file are retained so a
// later run can resume; the destination path itself is never left partial.
func (c *Copier) Run(ctx context.Context) error {
	c.Opts = c.Opts.withDefaults()

	c.state = StateValidating
	info, err := os.Lstat(c.Src)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %s", ErrSourceNotFound, c.Src))
	}
	if info.IsDir() {
		return c.fail(fmt.Errorf("%w: %s", ErrSourceIsDirectory, c.Src))
	}
	if !info.Mode().IsRegular() {
		return c.fail(fmt.Errorf("source %s is not a regular file", c.Src))
	}
	total := info.Size()

	if err := os.MkdirAll(filepath.Dir(c.Dst), 0o755); err != nil {
		return c.fail(wrapIO(err, filepath.Dir(c.Dst), 0))
	}

	writeTarget := c.writeTarget()

	c.state = StateResumeCheck
	spans, fresh, err := c.resumeCheck(info, total, writeTarget)
	if err != nil {
		return c.fail(err)
	}

	event.Emit(c.Events, event.Event{Type: event.FileStarted, Path: c.Dst, Size: total})

	c.state = StateCopying
	f, err := c.openTarget(writeTarget, fresh, info.Mode().Perm())
	if err != nil {
		return c.fail(wrapIO(err, writeTarget, 0))
	}
	if c.Opts.Atomic && !c.Opts.Resume {
		RegisterTmp(writeTarget)
		defer func() {
			DeregisterTmp(writeTarget)
			_ = os.Remove(writeTarget) // no-op once renamed
		}()
	}

	copyErr := func() error {
		if c.parallelEligible(total) {
			return c.copySpansParallel(ctx, f, spans, total)
		}
		return c.copySpans(ctx, f, spans, total)
	}()
	if copyErr != nil {
		_ = f.Close()
		c.flushLedger()
		if errors.Is(copyErr, ErrUserAborted) {
			c.state = StateAborted
			return copyErr
		}
		return c.fail(copyErr)
	}

	// Durability before finalize: the rename must expose fully-synced data.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		c.flushLedger()
		return c.fail(wrapIO(err, writeTarget, total))
	}
	if err := f.Chmod(info.Mode().Perm()); err != nil {
		_ = f.Close()
		return c.fail(wrapIO(err, writeTarget, 0))
	}
	if err := f.Close(); err != nil {
		return c.fail(wrapIO(err, writeTarget, total))
	}
	// Preserve the source mtime; smart overwrite and fast verify key on it.
	if err := os.Chtimes(writeTarget, time.Now(), info.ModTime()); err != nil {
		return c.fail(wrapIO(err, writeTarget, 0))
	}

	if c.Opts.Verify != VerifyNone {
		c.state = StateVerifying
		event.Emit(c.Events, event.Event{Type: event.VerifyStarted, Path: c.Dst, Size: total})
		if err := verifyPolicy(c.Opts.Verify, c.Src, writeTarget); err != nil {
			c.flushLedger()
			event.Emit(c.Events, event.Event{Type: event.VerifyFailed, Path: c.Dst, Error: err})
			return c.fail(err)
		}
		event.Emit(c.Events, event.Event{Type: event.VerifyOK, Path: c.Dst})
		if c.Stats != nil {
			c.Stats.AddFilesVerified(1)
		}
	}

	c.state = StateFinalizing
	if c.Opts.Atomic {
		if err := os.Rename(writeTarget, c.Dst); err != nil {
			c.flushLedger()
			return c.fail(wrapIO(err, c.Dst, 0))
		}
	}
	if c.ledgerPath != "" {
		if err := RemoveLedger(c.ledgerPath); err != nil {
			return c.fail(fmt.Errorf("remove ledger %s: %w", c.ledgerPath, err))
		}
	}

	c.state = StateCompleted
	if c.Stats != nil {
		c.Stats.AddFilesCopied(1)
	}
	event.Emit(c.Events, event.Event{Type: event.FileCompleted, Path: c.Dst, Done: total, Size: total})
	return nil
}

// writeTarget picks where bytes land before finalize. Atomic transfers use
// a colocated temp file (same directory, so the final rename cannot cross
// filesystems). Resumable transfers need a deterministic name that
// survives the process; one-shot transfers get a unique one.
func (c *Copier) writeTarget() string {
	if !c.Opts.Atomic {
		return c.Dst
	}
	dir := filepath.Dir(c.Dst)
	base := filepath.Base(c.Dst)
	if c.Opts.Resume {
		return filepath.Join(dir, "."+base+".ferry-partial")
	}
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.ferry-tmp", base, uuid.New().String()[:8]))
}

// resumeCheck loads and validates any existing ledger and computes the
// byte ranges still to copy. fresh reports whether the write target must
// be created from scratch.
func (c *Copier) resumeCheck(info os.FileInfo, total int64, writeTarget string) (spans []span, fresh bool, err error) {
	if !c.Opts.Resume {
		return []span{{0, total}}, true, nil
	}

	c.ledgerPath = LedgerPath(c.Dst)
	led, err := LoadLedger(c.ledgerPath)
	switch {
	case err == nil:
		if !led.MatchesSource(total, info.ModTime()) {
			return nil, false, fmt.Errorf("%w: source %s changed since ledger was written", ErrInvalidResumeState, c.Src)
		}
		if _, statErr := os.Stat(writeTarget); statErr != nil {
			// Ledger without its partial file: nothing durable to resume.
			led = nil
		}
	case errors.Is(err, fs.ErrNotExist):
		led = nil
	default:
		// Corrupt or unknown-version ledger fails explicitly; the caller
		// decides whether to discard it and restart.
		return nil, false, err
	}

	if led == nil {
		c.ledger = NewLedger(c.Src, c.Dst, total, info.ModTime())
		return []span{{0, total}}, true, nil
	}

	c.ledger = led
	c.ResumedFrom = led.NextOffset()
	event.Emit(c.Events, event.Event{
		Type: event.ResumeFound,
		Path: c.Dst,
		Done: led.Covered(),
		Size: total,
	})

	var out []span
	for _, g := range led.Gaps() {
		out = append(out, span{g.Offset, g.Length})
	}
	return out, false, nil
}

func (c *Copier) openTarget(path string, fresh bool, perm os.FileMode) (*os.File, error) {
	if fresh {
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE, perm)
}

// copySpans copies the given ranges chunk by chunk. Cancellation is
// checked between chunks so no iteration runs unbounded.
func (c *Copier) copySpans(ctx context.Context, f *os.File, spans []span, total int64) error {
	c.lastFlush = time.Now()

	var remaining int64
	for _, s := range spans {
		remaining += s.length
	}
	done := total - remaining

	if total == 0 {
		// Zero-length sources are modeled as one completed empty chunk.
		if c.ledger != nil && len(c.ledger.Chunks) == 0 {
			c.ledger.AddChunk(0, 0, "")
		}
		c.emitProgress(0, 0, 0)
		return nil
	}

	for _, s := range spans {
		offset := s.offset
		end := s.offset + s.length
		for offset < end {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUserAborted, ctx.Err())
			default:
			}

			length := c.Opts.ChunkSize
			if offset+length > end {
				length = end - offset
			}

			res, err := platform.CopyFile(platform.CopyFileParams{
				SrcPath:   c.Src,
				DstFd:     f,
				SrcOffset: offset,
				SrcSize:   total,
				Length:    length,
			})
			if err != nil {
				return wrapIO(err, c.Src, offset)
			}
			if res.BytesWritten != length {
				return fmt.Errorf("short copy of %s: wrote %d of %d at offset %d",
					c.Src, res.BytesWritten, length, offset)
			}

			c.BytesWritten += length
			done += length
			c.emitProgress(length, done, total)

			if c.ledger != nil {
				c.ledger.AddChunk(offset, length, "")
				c.maybeFlushLedger(length)
			}

			offset += length
		}
	}
	return nil
}

func (c *Copier) emitProgress(added, done, total int64) {
	if c.Stats != nil && added > 0 {
		c.Stats.AddBytesCopied(added)
	}
	event.Emit(c.Events, event.Event{
		Type:  event.FileProgress,
		Path:  c.Dst,
		Bytes: added,
		Done:  done,
		Size:  total,
	})
}

// maybeFlushLedger persists the ledger once either the byte or the time
// threshold has elapsed since the last flush, whichever comes first.
// Batching bounds ledger I/O without risking a large re-copy on crash.
func (c *Copier) maybeFlushLedger(n int64) {
	c.unflushed += n
	if c.unflushed < c.Opts.LedgerFlushBytes && time.Since(c.lastFlush) < c.Opts.LedgerFlushInterval {
		return
	}
	c.flushLedger()
}

// flushLedger writes the ledger to disk. Errors are swallowed: a failed
// flush costs re-copying at most one batch on the next run.
func (c *Copier) flushLedger() {
	if c.ledger == nil || c.ledgerPath == "" {
		return
	}
	_ = c.ledger.Save(c.ledgerPath)
	c.unflushed = 0
	c.lastFlush = time.Now()
}

func (c *Copier) fail(err error) error {
	c.state = StateFailed
	if c.Stats != nil {
		c.Stats.AddFilesFailed(1)
	}
	event.Emit(c.Events, event.Event{Type: event.FileFailed, Path: c.Dst, Error: err})
	return err
}
