package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/stats"
)

// Run executes a copy request end to end: source resolution, overwrite
// policy, strategy dispatch, verification, and for directories the
// recursive walk with a worker pool. It returns per-file outcomes plus
// aggregate stats; Result.Err is the first fatal error, nil when every
// file either copied or was deliberately skipped.
func Run(ctx context.Context, req Request, events chan<- event.Event, confirm Confirmer) Result {
	req = req.withDefaults()
	col := req.Stats
	if col == nil {
		col = stats.NewCollector()
	}

	event.Emit(events, event.Event{Type: event.TransferStarted})
	res := run(ctx, req, events, confirm, col)
	res.Stats = col.Snapshot()
	event.Emit(events, event.Event{Type: event.TransferComplete})
	return res
}

func run(ctx context.Context, req Request, events chan<- event.Event, confirm Confirmer, col *stats.Collector) Result {
	if len(req.Sources) == 0 {
		return Result{Err: errors.New("no sources given")}
	}

	dstInfo, err := os.Stat(req.Dest)
	dstIsDir := err == nil && dstInfo.IsDir()
	if len(req.Sources) > 1 && !dstIsDir {
		return Result{Err: fmt.Errorf("destination %s is not a directory", req.Dest)}
	}

	var outcomes []Outcome
	var firstErr error
	for _, src := range req.Sources {
		if cerr := ctx.Err(); cerr != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrUserAborted, cerr)
			}
			break
		}

		info, lerr := os.Lstat(src)
		if lerr != nil {
			ferr := fmt.Errorf("%w: %s", ErrSourceNotFound, src)
			col.AddFilesFailed(1)
			event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: ferr})
			outcomes = append(outcomes, Outcome{Src: src, Status: OutcomeFailed, Err: ferr})
			if firstErr == nil {
				firstErr = ferr
			}
			if req.FailFast {
				break
			}
			continue
		}

		dst := req.Dest
		if dstIsDir {
			dst = filepath.Join(req.Dest, filepath.Base(src))
		}

		var serr error
		if info.IsDir() {
			var outs []Outcome
			outs, serr = copyTree(ctx, req, src, dst, events, confirm, col)
			outcomes = append(outcomes, outs...)
		} else {
			var out Outcome
			out, serr = copyOne(ctx, req, src, info, dst, events, confirm, col)
			outcomes = append(outcomes, out)
		}
		if serr != nil {
			if firstErr == nil {
				firstErr = serr
			}
			if req.FailFast || errors.Is(serr, ErrUserAborted) {
				break
			}
		}
	}
	return Result{Outcomes: outcomes, Err: firstErr}
}

// copyOne transfers a single non-directory source.
func copyOne(ctx context.Context, req Request, src string, info os.FileInfo, dst string, events chan<- event.Event, confirm Confirmer, col *stats.Collector) (Outcome, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		return copySymlink(req, confirm, src, info, dst, events, col)
	}
	if !info.Mode().IsRegular() {
		err := fmt.Errorf("unsupported file type %s: %s", info.Mode().Type(), src)
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return Outcome{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}, err
	}

	col.AddFilesTotal(1)
	col.AddBytesTotal(info.Size())

	proceed, err := resolveOverwrite(req, confirm, src, info, dst)
	if err != nil {
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return Outcome{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}, err
	}
	if !proceed {
		col.AddFilesSkipped(1)
		event.Emit(events, event.Event{Type: event.FileSkipped, Path: src})
		return Outcome{Src: src, Dst: dst, Status: OutcomeSkipped}, nil
	}

	return transferFile(ctx, fileJob{
		src:    src,
		dst:    dst,
		info:   info,
		opts:   req,
		events: events,
		col:    col,
	})
}

// copySymlink recreates the link itself rather than following it.
func copySymlink(req Request, confirm Confirmer, src string, info os.FileInfo, dst string, events chan<- event.Event, col *stats.Collector) (Outcome, error) {
	target, err := os.Readlink(src)
	if err != nil {
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return Outcome{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}, err
	}

	proceed, err := resolveOverwrite(req, confirm, src, info, dst)
	if err != nil {
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return Outcome{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}, err
	}
	if !proceed {
		col.AddFilesSkipped(1)
		event.Emit(events, event.Event{Type: event.FileSkipped, Path: src})
		return Outcome{Src: src, Dst: dst, Status: OutcomeSkipped}, nil
	}

	_ = os.Remove(dst)
	if err := os.Symlink(target, dst); err != nil {
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return Outcome{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}, err
	}

	col.AddFilesCopied(1)
	event.Emit(events, event.Event{Type: event.FileCompleted, Path: dst})
	return Outcome{Src: src, Dst: dst, Status: OutcomeCopied}, nil
}

// resolveOverwrite applies the overwrite policy against an existing
// destination. It returns (true, nil) to proceed, (false, nil) to skip
// the file without error, or an error when policy forbids the write.
func resolveOverwrite(req Request, confirm Confirmer, src string, srcInfo os.FileInfo, dst string) (bool, error) {
	// An in-flight resumable transfer already owns the destination;
	// policy was settled when it started.
	if req.Resume {
		if _, err := os.Stat(LedgerPath(dst)); err == nil {
			return true, nil
		}
	}

	dstInfo, err := os.Lstat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, wrapIO(err, dst, 0)
	}
	if dstInfo.IsDir() {
		return false, fmt.Errorf("destination %s is a directory", dst)
	}

	switch req.Overwrite {
	case OverwriteAlways:
		return true, nil
	case OverwriteNever:
		return false, fmt.Errorf("%w: %s", ErrTargetExists, dst)
	case OverwriteSmart:
		// Copy only when the source is strictly newer. Equal times
		// mean nothing to do, not an error.
		return srcInfo.ModTime().After(dstInfo.ModTime()), nil
	case OverwritePrompt:
		if confirm == nil {
			return false, fmt.Errorf("%w: %s (no way to prompt)", ErrTargetExists, dst)
		}
		return confirm.ConfirmOverwrite(src, dst)
	default:
		return false, fmt.Errorf("unknown overwrite policy %d", req.Overwrite)
	}
}

// copyTree walks srcRoot and transfers every entry beneath it into
// dstRoot, creating destination directories before descending into
// them. Regular files are fanned out to a worker pool; per-file errors
// are collected into outcomes and do not stop siblings unless FailFast
// is set. With Resume, a tree checkpoint skips files completed by a
// previous run.
func copyTree(ctx context.Context, req Request, srcRoot, dstRoot string, events chan<- event.Event, confirm Confirmer, col *stats.Collector) ([]Outcome, error) {
	if !req.Recursive {
		err := fmt.Errorf("%w: %s", ErrSourceIsDirectory, srcRoot)
		return []Outcome{{Src: srcRoot, Dst: dstRoot, Status: OutcomeFailed, Err: err}}, err
	}

	var ckpt *TreeCheckpoint
	if req.Resume {
		var err error
		ckpt, err = OpenTreeCheckpoint(srcRoot, dstRoot)
		if err != nil {
			return nil, err
		}
	}

	treeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Files inside a tree run sequentially; parallelism comes from the
	// pool pulling many files at once.
	fileOpts := req
	fileOpts.Parallel = 1

	tasks := make(chan FileTask, 64)
	results := make(chan Outcome, 64)

	var poolWg sync.WaitGroup
	poolWg.Add(1)
	go func() {
		defer poolWg.Done()
		runPool(treeCtx, fileOpts, req.Parallel, tasks, events, col, ckpt, results)
	}()

	var outcomes []Outcome
	var firstErr error
	var aggWg sync.WaitGroup
	aggWg.Add(1)
	go func() {
		defer aggWg.Done()
		for out := range results {
			outcomes = append(outcomes, out)
			if out.Err != nil {
				if firstErr == nil {
					firstErr = out.Err
				}
				if req.FailFast || errors.Is(out.Err, ErrUserAborted) {
					cancel()
				}
			}
		}
	}()

	walkErr := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if treeCtx.Err() != nil {
			return fs.SkipAll
		}

		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstRoot, rel)

		if d.IsDir() {
			perm := os.FileMode(0o755)
			if info, ierr := d.Info(); ierr == nil {
				perm = info.Mode().Perm()
			}
			if merr := os.MkdirAll(dst, perm|0o700); merr != nil {
				return wrapIO(merr, dst, 0)
			}
			if rel != "." {
				col.AddDirsCreated(1)
				event.Emit(events, event.Event{Type: event.DirCreated, Path: dst})
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			out, serr := copySymlink(req, confirm, path, info, dst, events, col)
			results <- out
			if serr != nil && req.FailFast {
				return serr
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			// Sockets, devices, fifos: note and move on.
			col.AddFilesSkipped(1)
			event.Emit(events, event.Event{Type: event.FileSkipped, Path: path})
			results <- Outcome{Src: path, Dst: dst, Status: OutcomeSkipped}
			return nil
		}

		col.AddFilesTotal(1)
		col.AddBytesTotal(info.Size())

		if ckpt != nil && ckpt.Done(rel, info.Size(), info.ModTime().UnixNano()) {
			col.AddFilesSkipped(1)
			event.Emit(events, event.Event{Type: event.FileSkipped, Path: path})
			results <- Outcome{Src: path, Dst: dst, Status: OutcomeSkipped}
			return nil
		}

		proceed, perr := resolveOverwrite(req, confirm, path, info, dst)
		if perr != nil {
			col.AddFilesFailed(1)
			event.Emit(events, event.Event{Type: event.FileFailed, Path: path, Error: perr})
			results <- Outcome{Src: path, Dst: dst, Status: OutcomeFailed, Err: perr}
			if req.FailFast {
				return perr
			}
			return nil
		}
		if !proceed {
			col.AddFilesSkipped(1)
			event.Emit(events, event.Event{Type: event.FileSkipped, Path: path})
			results <- Outcome{Src: path, Dst: dst, Status: OutcomeSkipped}
			return nil
		}

		select {
		case tasks <- FileTask{Src: path, Dst: dst, Rel: rel, Info: info}:
		case <-treeCtx.Done():
			return fs.SkipAll
		}
		return nil
	})

	close(tasks)
	poolWg.Wait()
	close(results)
	aggWg.Wait()

	if walkErr != nil && firstErr == nil {
		firstErr = walkErr
	}
	if ctx.Err() != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: %v", ErrUserAborted, ctx.Err())
	}

	if ckpt != nil {
		clean := firstErr == nil && ctx.Err() == nil
		_ = ckpt.Close()
		if clean {
			_ = ckpt.Remove()
		}
	}
	return outcomes, firstErr
}
