package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/platform"
	"github.com/ferryfs/ferry/internal/stats"
)

// errStrategyUnsupported signals that a strategy cannot serve this job and
// the next one in the dispatch order should be tried. It never escapes the
// strategy loop.
var errStrategyUnsupported = errors.New("strategy does not apply")

// fileJob bundles everything a strategy needs to transfer one file.
type fileJob struct {
	src    string
	dst    string
	info   os.FileInfo
	opts   Request
	events chan<- event.Event
	col    *stats.Collector
}

// strategy is one way of getting a file from src to dst. Strategies are
// tried in order; returning errStrategyUnsupported falls through to the
// next, anything else is final.
type strategy interface {
	name() string
	attempt(ctx context.Context, j fileJob) (Outcome, error)
}

// strategies returns the dispatch order for a request: copy-on-write
// clone first when allowed, then the chunked engine (which internally
// fans out to range workers for large files).
func strategies(req Request) []strategy {
	list := make([]strategy, 0, 2)
	if req.Reflink != ReflinkNever {
		list = append(list, reflinkStrategy{})
	}
	list = append(list, engineStrategy{})
	return list
}

// transferFile pushes one file through the strategy chain. The engine
// strategy always produces a terminal result, so the loop cannot fall
// off the end.
func transferFile(ctx context.Context, j fileJob) (Outcome, error) {
	var out Outcome
	var err error
	for _, s := range strategies(j.opts) {
		out, err = s.attempt(ctx, j)
		if errors.Is(err, errStrategyUnsupported) {
			continue
		}
		if err != nil && out.Status != OutcomeFailed {
			// Terminal failure before the engine ran; the engine does
			// its own failure accounting.
			out = Outcome{Src: j.src, Dst: j.dst, Status: OutcomeFailed, Err: err}
			if !errors.Is(err, ErrUserAborted) {
				if j.col != nil {
					j.col.AddFilesFailed(1)
				}
				event.Emit(j.events, event.Event{Type: event.FileFailed, Path: j.src, Error: err})
			}
		}
		return out, err
	}
	return out, err
}

// reflinkStrategy clones the whole file in one call when the filesystem
// supports it. Policy auto falls through on unsupported clones; policy
// always turns them into hard errors. Unrelated I/O errors (permission,
// disk full) are surfaced regardless of policy.
type reflinkStrategy struct{}

func (reflinkStrategy) name() string { return "reflink" }

func (reflinkStrategy) attempt(ctx context.Context, j fileJob) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUserAborted, err)
	}

	// A ledger means a partial transfer is in flight; let the engine
	// resume it instead of cloning from scratch.
	if j.opts.Resume {
		if _, err := os.Stat(LedgerPath(j.dst)); err == nil {
			return Outcome{}, errStrategyUnsupported
		}
	}

	// Clones cannot cross filesystems; skip the attempt when we can tell.
	same, err := platform.SameFilesystem(j.src, filepath.Dir(j.dst))
	if err == nil && !same {
		if j.opts.Reflink == ReflinkAlways {
			return Outcome{}, fmt.Errorf("%w: %s and %s are on different filesystems",
				ErrReflinkUnsupported, j.src, j.dst)
		}
		return Outcome{}, errStrategyUnsupported
	}

	dir := filepath.Dir(j.dst)
	base := filepath.Base(j.dst)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.ferry-tmp", base, uuid.New().String()[:8]))

	RegisterTmp(tmp)
	defer func() {
		DeregisterTmp(tmp)
		_ = os.Remove(tmp)
	}()

	if err := platform.Clone(j.src, tmp, j.info.Mode().Perm()); err != nil {
		if errors.Is(err, platform.ErrCloneUnsupported) {
			if j.opts.Reflink == ReflinkAlways {
				return Outcome{}, fmt.Errorf("%w: %s: %v", ErrReflinkUnsupported, j.src, err)
			}
			return Outcome{}, errStrategyUnsupported
		}
		return Outcome{}, wrapIO(err, j.src, 0)
	}
	event.Emit(j.events, event.Event{Type: event.FileStarted, Path: j.dst, Size: j.info.Size()})

	if err := os.Chtimes(tmp, time.Now(), j.info.ModTime()); err != nil {
		return Outcome{}, wrapIO(err, tmp, 0)
	}

	if j.opts.Verify != VerifyNone {
		event.Emit(j.events, event.Event{Type: event.VerifyStarted, Path: j.dst, Size: j.info.Size()})
		if err := verifyPolicy(j.opts.Verify, j.src, tmp); err != nil {
			event.Emit(j.events, event.Event{Type: event.VerifyFailed, Path: j.dst, Error: err})
			return Outcome{}, err
		}
		event.Emit(j.events, event.Event{Type: event.VerifyOK, Path: j.dst})
		if j.col != nil {
			j.col.AddFilesVerified(1)
		}
	}

	if err := os.Rename(tmp, j.dst); err != nil {
		return Outcome{}, wrapIO(err, j.dst, 0)
	}

	size := j.info.Size()
	if j.col != nil {
		j.col.AddFilesCopied(1)
		j.col.AddBytesCopied(size)
	}
	event.Emit(j.events, event.Event{Type: event.FileCompleted, Path: j.dst, Done: size, Size: size})

	return Outcome{
		Src:      j.src,
		Dst:      j.dst,
		Status:   OutcomeCopied,
		Bytes:    size,
		Verified: j.opts.Verify != VerifyNone,
	}, nil
}

// engineStrategy runs the chunked transfer engine; it serves every job.
type engineStrategy struct{}

func (engineStrategy) name() string { return "engine" }

func (engineStrategy) attempt(ctx context.Context, j fileJob) (Outcome, error) {
	cp := &Copier{
		Src:    j.src,
		Dst:    j.dst,
		Opts:   j.opts,
		Events: j.events,
		Stats:  j.col,
	}
	if err := cp.Run(ctx); err != nil {
		return Outcome{Src: j.src, Dst: j.dst, Status: OutcomeFailed, Err: err}, err
	}
	return Outcome{
		Src:      j.src,
		Dst:      j.dst,
		Status:   OutcomeCopied,
		Bytes:    cp.BytesWritten,
		Verified: j.opts.Verify != VerifyNone,
	}, nil
}
