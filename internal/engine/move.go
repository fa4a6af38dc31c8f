package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/stats"
)

// Move relocates each source to the destination. On the same filesystem
// this is a single rename. Across filesystems it degrades to copy plus
// delete, and the source is removed only after the destination has been
// confirmed: verified per the request, or at least size-checked when
// verification is off. A failed cross-filesystem move always leaves the
// source intact.
func Move(ctx context.Context, req Request, events chan<- event.Event, confirm Confirmer) Result {
	req = req.withDefaults()
	// mv takes directories without a flag.
	req.Recursive = true
	col := req.Stats
	if col == nil {
		col = stats.NewCollector()
	}

	event.Emit(events, event.Event{Type: event.TransferStarted})
	res := moveRun(ctx, req, events, confirm, col)
	res.Stats = col.Snapshot()
	event.Emit(events, event.Event{Type: event.TransferComplete})
	return res
}

func moveRun(ctx context.Context, req Request, events chan<- event.Event, confirm Confirmer, col *stats.Collector) Result {
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

		outs, merr := moveOne(ctx, req, src, info, dst, events, confirm, col)
		outcomes = append(outcomes, outs...)
		if merr != nil {
			if firstErr == nil {
				firstErr = merr
			}
			if req.FailFast || errors.Is(merr, ErrUserAborted) {
				break
			}
		}
	}
	return Result{Outcomes: outcomes, Err: firstErr}
}

func moveOne(ctx context.Context, req Request, src string, info os.FileInfo, dst string, events chan<- event.Event, confirm Confirmer, col *stats.Collector) ([]Outcome, error) {
	proceed, err := resolveOverwrite(req, confirm, src, info, dst)
	if err != nil {
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return []Outcome{{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}}, err
	}
	if !proceed {
		col.AddFilesSkipped(1)
		event.Emit(events, event.Event{Type: event.FileSkipped, Path: src})
		return []Outcome{{Src: src, Dst: dst, Status: OutcomeSkipped}}, nil
	}

	if err := os.Rename(src, dst); err == nil {
		col.AddFilesCopied(1)
		event.Emit(events, event.Event{Type: event.FileCompleted, Path: dst, Size: info.Size()})
		return []Outcome{{Src: src, Dst: dst, Status: OutcomeMoved, Bytes: info.Size()}}, nil
	} else if !errors.Is(err, syscall.EXDEV) {
		err = wrapIO(err, dst, 0)
		col.AddFilesFailed(1)
		event.Emit(events, event.Event{Type: event.FileFailed, Path: src, Error: err})
		return []Outcome{{Src: src, Dst: dst, Status: OutcomeFailed, Err: err}}, err
	}

	return moveAcross(ctx, req, src, info, dst, events, confirm, col)
}

// moveAcross handles the EXDEV fallback: copy to the other filesystem,
// confirm the destination, then delete the source.
func moveAcross(ctx context.Context, req Request, src string, info os.FileInfo, dst string, events chan<- event.Event, confirm Confirmer, col *stats.Collector) ([]Outcome, error) {
	creq := req
	creq.Atomic = true
	if creq.Verify == VerifyNone {
		creq.Verify = VerifyFast
	}
	// Overwrite was already settled before the rename attempt.
	creq.Overwrite = OverwriteAlways

	if info.IsDir() {
		outs, cerr := copyTree(ctx, creq, src, dst, events, confirm, col)
		if cerr != nil {
			return outs, cerr
		}
		for i := range outs {
			if outs[i].Status == OutcomeCopied {
				outs[i].Status = OutcomeMoved
			}
		}
		if err := os.RemoveAll(src); err != nil {
			return outs, wrapIO(err, src, 0)
		}
		return outs, nil
	}

	out, cerr := copyOne(ctx, creq, src, info, dst, events, confirm, col)
	if cerr != nil {
		return []Outcome{out}, cerr
	}
	if out.Status == OutcomeCopied {
		if err := os.Remove(src); err != nil {
			return []Outcome{out}, wrapIO(err, src, 0)
		}
		out.Status = OutcomeMoved
	}
	return []Outcome{out}, nil
}
