package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/platform"
	"github.com/ferryfs/ferry/internal/stats"
)

// parallelEligible reports whether splitting one file across range workers
// is worth the setup cost. Below one chunk of data the coordinator
// degrades to the sequential path.
func (c *Copier) parallelEligible(total int64) bool {
	return c.Opts.Parallel > 1 && total >= c.Opts.ChunkSize
}

// partitionRanges splits [0, total) into n contiguous, disjoint ranges.
// Disjointness is what makes unsynchronized positioned writes to the
// shared destination file safe.
func partitionRanges(total int64, n int) []span {
	if n < 1 {
		n = 1
	}
	share := total / int64(n)
	rem := total % int64(n)

	ranges := make([]span, 0, n)
	var offset int64
	for i := 0; i < n; i++ {
		length := share
		if int64(i) < rem {
			length++
		}
		if length == 0 {
			break
		}
		ranges = append(ranges, span{offset, length})
		offset += length
	}
	return ranges
}

// intersectSpans returns the portions of spans that fall inside r.
func intersectSpans(spans []span, r span) []span {
	var out []span
	rEnd := r.offset + r.length
	for _, s := range spans {
		sEnd := s.offset + s.length
		lo := max64(s.offset, r.offset)
		hi := min64(sEnd, rEnd)
		if lo < hi {
			out = append(out, span{lo, hi - lo})
		}
	}
	return out
}

// copySpansParallel fans the remaining spans out to Opts.Parallel workers,
// each confined to its own contiguous range of the file. Completed chunks
// are handed to a single ledger-writer goroutine; workers never touch the
// ledger directly. All workers finish before the caller's finalize runs.
func (c *Copier) copySpansParallel(ctx context.Context, f *os.File, spans []span, total int64) error {
	workers := c.Opts.Parallel
	ranges := partitionRanges(total, workers)

	// The file must already have its final length so any worker can pwrite
	// into its range.
	if err := f.Truncate(total); err != nil {
		return wrapIO(err, f.Name(), 0)
	}
	platform.Preallocate(f, total)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var remaining int64
	for _, s := range spans {
		remaining += s.length
	}
	done := atomic.Int64{}
	done.Store(total - remaining)

	// Single-writer ledger discipline: workers report completed chunks
	// over this channel, one goroutine appends and batch-flushes.
	completed := make(chan span, workers*2)
	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		for s := range completed {
			if c.ledger != nil {
				c.ledger.AddChunk(s.offset, s.length, "")
				c.maybeFlushLedger(s.length)
			}
		}
	}()

	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	var wg sync.WaitGroup
	for _, r := range ranges {
		work := intersectSpans(spans, r)
		if len(work) == 0 {
			continue
		}
		wg.Add(1)
		go func(work []span) {
			defer wg.Done()
			if err := c.copyRangeWorker(ctx, f, work, total, &done, completed); err != nil {
				setErr(err)
			}
		}(work)
	}

	wg.Wait()
	close(completed)
	writerWg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUserAborted, err)
	}
	return nil
}

// copyRangeWorker copies the given spans chunk by chunk with positioned
// I/O, checking cancellation between chunks.
func (c *Copier) copyRangeWorker(ctx context.Context, f *os.File, work []span, total int64, done *atomic.Int64, completed chan<- span) error {
	for _, s := range work {
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
				SrcPath:    c.Src,
				DstFd:      f,
				SrcOffset:  offset,
				SrcSize:    total,
				Length:     length,
				Concurrent: true,
			})
			if err != nil {
				return wrapIO(err, c.Src, offset)
			}
			if res.BytesWritten != length {
				return fmt.Errorf("short copy of %s: wrote %d of %d at offset %d",
					c.Src, res.BytesWritten, length, offset)
			}

			atomic.AddInt64(&c.BytesWritten, length)
			cur := done.Add(length)
			if c.Stats != nil {
				c.Stats.AddBytesCopied(length)
			}
			event.Emit(c.Events, event.Event{
				Type:  event.FileProgress,
				Path:  c.Dst,
				Bytes: length,
				Done:  cur,
				Size:  total,
			})

			completed <- span{offset, length}
			offset += length
		}
	}
	return nil
}

// FileTask is one file sub-transfer queued for the worker pool. Rel is
// the path relative to the transfer root, used for checkpoint records.
type FileTask struct {
	Src  string
	Dst  string
	Rel  string
	Info os.FileInfo
}

// runPool drains tasks with a fixed pool of workers, each transferring
// one file at a time end to end. Workers pull from the shared queue, so
// large files do not serialize behind small ones. One Outcome is sent
// per task. A non-nil checkpoint gets a record per successful file.
func runPool(ctx context.Context, opts Request, workers int, tasks <-chan FileTask, events chan<- event.Event, col *stats.Collector, ckpt *TreeCheckpoint, outcomes chan<- Outcome) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				out, err := transferFile(ctx, fileJob{
					src:    task.Src,
					dst:    task.Dst,
					info:   task.Info,
					opts:   opts,
					events: events,
					col:    col,
				})
				if err == nil && ckpt != nil {
					_ = ckpt.MarkDone(task.Rel, task.Info.Size(), task.Info.ModTime().UnixNano(), "")
				}
				outcomes <- out
			}
		}()
	}
	wg.Wait()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
