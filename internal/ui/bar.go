package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/stats"
)

const barTemplate = `{{string . "file" | printf "%-30s"}} {{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }} {{rtime . "%s left"}}`

// barPresenter renders a single byte-level progress bar on the TTY.
// The total grows as the walk discovers files, so early percentages
// are optimistic on large trees.
type barPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	verbose bool
	dstRoot string

	failures []event.Event
}

func (p *barPresenter) Run(events <-chan event.Event) error {
	bar := pb.ProgressBarTemplate(barTemplate).New(0)
	bar.Set(pb.Bytes, true)
	bar.SetWriter(p.w)
	bar.SetRefreshRate(150 * time.Millisecond)
	bar.Start()

	for ev := range events {
		switch ev.Type {
		case event.FileStarted:
			bar.AddTotal(ev.Size)
			bar.Set("file", trimName(filepath.Base(ev.Path), 30))
		case event.FileProgress:
			bar.Add64(ev.Bytes)
		case event.ResumeFound:
			// Bytes already on disk from the previous run count as done;
			// the total arrives with the FileStarted event.
			bar.Add64(ev.Done)
		case event.FileFailed:
			p.failures = append(p.failures, ev)
		}
	}

	bar.Finish()

	for _, ev := range p.failures {
		msg := "error"
		if ev.Error != nil {
			msg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s: %s\n", stripRoot(p.dstRoot, ev.Path), msg)
	}
	return nil
}

func (p *barPresenter) Summary() string {
	return summaryLine(p.stats)
}

func trimName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
