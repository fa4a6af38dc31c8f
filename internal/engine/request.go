package engine

import (
	"fmt"
	"time"

	"github.com/ferryfs/ferry/internal/stats"
)

// OverwritePolicy decides what happens when the destination already exists.
type OverwritePolicy int

const (
	OverwriteNever OverwritePolicy = iota
	OverwritePrompt
	OverwriteAlways
	OverwriteSmart
)

func (p OverwritePolicy) String() string {
	switch p {
	case OverwriteNever:
		return "never"
	case OverwritePrompt:
		return "prompt"
	case OverwriteAlways:
		return "always"
	case OverwriteSmart:
		return "smart"
	default:
		return "unknown"
	}
}

// ParseOverwritePolicy converts a flag/config value to an OverwritePolicy.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch s {
	case "never":
		return OverwriteNever, nil
	case "prompt":
		return OverwritePrompt, nil
	case "always":
		return OverwriteAlways, nil
	case "smart":
		return OverwriteSmart, nil
	}
	return 0, fmt.Errorf("unknown overwrite policy %q", s)
}

// VerifyPolicy controls post-transfer integrity checking.
type VerifyPolicy int

const (
	VerifyNone VerifyPolicy = iota
	VerifyFast              // size + mtime heuristic, no re-hash
	VerifyFull              // re-hash source and destination
)

func (p VerifyPolicy) String() string {
	switch p {
	case VerifyNone:
		return "none"
	case VerifyFast:
		return "fast"
	case VerifyFull:
		return "full"
	default:
		return "unknown"
	}
}

// ParseVerifyPolicy converts a flag/config value to a VerifyPolicy.
func ParseVerifyPolicy(s string) (VerifyPolicy, error) {
	switch s {
	case "none":
		return VerifyNone, nil
	case "fast":
		return VerifyFast, nil
	case "full":
		return VerifyFull, nil
	}
	return 0, fmt.Errorf("unknown verify policy %q", s)
}

// ReflinkPolicy controls use of copy-on-write clones.
type ReflinkPolicy int

const (
	ReflinkAuto ReflinkPolicy = iota
	ReflinkAlways
	ReflinkNever
)

func (p ReflinkPolicy) String() string {
	switch p {
	case ReflinkAuto:
		return "auto"
	case ReflinkAlways:
		return "always"
	case ReflinkNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseReflinkPolicy converts a flag/config value to a ReflinkPolicy.
func ParseReflinkPolicy(s string) (ReflinkPolicy, error) {
	switch s {
	case "auto":
		return ReflinkAuto, nil
	case "always":
		return ReflinkAlways, nil
	case "never":
		return ReflinkNever, nil
	}
	return 0, fmt.Errorf("unknown reflink policy %q", s)
}

// Defaults applied by Request.withDefaults.
const (
	DefaultChunkSize           = 64 << 20  // 64 MiB
	DefaultLedgerFlushBytes    = 100 << 20 // 100 MiB between ledger writes
	DefaultLedgerFlushInterval = 2 * time.Second
)

// Request describes one transfer operation. Build it once and pass it by
// value; the engine never mutates it.
type Request struct {
	Sources []string
	Dest    string

	Overwrite OverwritePolicy
	Verify    VerifyPolicy
	Reflink   ReflinkPolicy

	// Recursive permits directory sources. Without it a directory
	// source fails with ErrSourceIsDirectory, like cp without -r.
	Recursive bool

	// Atomic writes through a colocated temp file finalized by rename.
	// Disabling it writes the destination in place.
	Atomic bool
	Resume bool

	// FailFast aborts a directory transfer on the first per-file error
	// instead of collecting it and continuing with siblings.
	FailFast bool

	ChunkSize int64
	Parallel  int

	LedgerFlushBytes    int64
	LedgerFlushInterval time.Duration

	// Stats receives counter updates during the transfer, letting the
	// caller observe progress live. Left nil, the engine uses its own.
	Stats *stats.Collector
}

// withDefaults fills zero-valued tunables.
func (r Request) withDefaults() Request {
	if r.ChunkSize <= 0 {
		r.ChunkSize = DefaultChunkSize
	}
	if r.Parallel <= 0 {
		r.Parallel = 1
	}
	if r.LedgerFlushBytes <= 0 {
		r.LedgerFlushBytes = DefaultLedgerFlushBytes
	}
	if r.LedgerFlushInterval <= 0 {
		r.LedgerFlushInterval = DefaultLedgerFlushInterval
	}
	return r
}

// Confirmer answers overwrite prompts. The engine never reads a terminal;
// the CLI (or a test) injects an implementation.
type Confirmer interface {
	ConfirmOverwrite(src, dst string) (bool, error)
}

// OutcomeStatus classifies the result of one file sub-transfer.
type OutcomeStatus int

const (
	OutcomeCopied OutcomeStatus = iota
	OutcomeMoved
	OutcomeSkipped
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeCopied:
		return "copied"
	case OutcomeMoved:
		return "moved"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records the result of one file within a transfer.
type Outcome struct {
	Src      string
	Dst      string
	Status   OutcomeStatus
	Bytes    int64
	Verified bool
	Err      error
}

// Result is the aggregate outcome of a transfer operation.
type Result struct {
	Stats    stats.Snapshot
	Outcomes []Outcome
	Err      error
}

// State names the per-file transfer phases.
type State int

const (
	StateInit State = iota
	StateValidating
	StateResumeCheck
	StateCopying
	StateVerifying
	StateFinalizing
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateValidating:
		return "validating"
	case StateResumeCheck:
		return "resume_check"
	case StateCopying:
		return "copying"
	case StateVerifying:
		return "verifying"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
