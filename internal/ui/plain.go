package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/stats"
)

// plainPresenter outputs one line per completed file to stdout, and
// periodic progress to stderr. Used when stderr is not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	dstRoot string
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	path := stripRoot(p.dstRoot, ev.Path)
	switch ev.Type {
	case event.FileCompleted:
		fmt.Fprintf(p.w, "%s  %s\n", path, stats.FormatBytes(ev.Size))
	case event.FileFailed:
		msg := "error"
		if ev.Error != nil {
			msg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s\n", path, msg)
	case event.FileSkipped:
		fmt.Fprintf(p.w, "%s  skipped\n", path)
	case event.ResumeFound:
		fmt.Fprintf(p.w, "%s  resuming at %s\n", path, stats.FormatBytes(ev.Done))
	case event.VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH: %s\n", path)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %d/%d files %s/s\n",
			pct,
			stats.FormatBytes(snap.BytesCopied), stats.FormatBytes(snap.BytesTotal),
			snap.FilesCopied, snap.FilesTotal,
			stats.FormatBytes(int64(p.stats.Throughput())),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s copied, %d files\n",
			stats.FormatBytes(snap.BytesCopied), snap.FilesCopied)
	}
}

func (p *plainPresenter) Summary() string {
	return summaryLine(p.stats)
}

// summaryLine renders the final one-line report shared by presenters.
func summaryLine(c *stats.Collector) string {
	snap := c.Snapshot()
	elapsed := snap.Elapsed.Round(10 * time.Millisecond)

	var b strings.Builder
	fmt.Fprintf(&b, "%d files (%s) in %s",
		snap.FilesCopied, stats.FormatBytes(snap.BytesCopied), elapsed)
	if sec := snap.Elapsed.Seconds(); sec > 0 && snap.BytesCopied > 0 {
		fmt.Fprintf(&b, " (%s/s)", stats.FormatBytes(int64(float64(snap.BytesCopied)/sec)))
	}
	if snap.FilesSkipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", snap.FilesSkipped)
	}
	if snap.FilesVerified > 0 {
		fmt.Fprintf(&b, ", %d verified", snap.FilesVerified)
	}
	if snap.FilesFailed > 0 {
		fmt.Fprintf(&b, ", %d FAILED", snap.FilesFailed)
	}
	return b.String()
}

// stripRoot removes the destination root prefix for compact display.
func stripRoot(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	if rel, ok := strings.CutPrefix(path, root); ok {
		return strings.TrimPrefix(rel, "/")
	}
	return path
}
