package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// LedgerVersion is the schema version written to new ledgers. Loading any
// other version fails; the engine never guesses a compatible layout.
const LedgerVersion = 1

const ledgerSuffix = ".ferry-state"

// ChunkRecord marks one byte range of the transfer as durably written to
// the partial destination. Records within a ledger are disjoint half-open
// intervals inside [0, TotalSize).
type ChunkRecord struct {
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Checksum string `json:"checksum,omitempty"`
}

// Ledger is the persisted resume state for a single file transfer, stored
// as a JSON sidecar next to the destination.
type Ledger struct {
	Version         int           `json:"version"`
	SourcePath      string        `json:"source_path"`
	DestinationPath string        `json:"destination_path"`
	TotalSize       int64         `json:"total_size"`
	SourceModTime   int64         `json:"modified_time_signature"` // unix nanos
	Chunks          []ChunkRecord `json:"chunks"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// LedgerPath returns the sidecar location for a destination path.
func LedgerPath(dst string) string {
	return dst + ledgerSuffix
}

// NewLedger creates an empty ledger bound to the source's current identity.
func NewLedger(src, dst string, totalSize int64, modTime time.Time) *Ledger {
	return &Ledger{
		Version:         LedgerVersion,
		SourcePath:      src,
		DestinationPath: dst,
		TotalSize:       totalSize,
		SourceModTime:   modTime.UnixNano(),
		UpdatedAt:       time.Now(),
	}
}

// LoadLedger reads and validates a ledger file. A missing file returns
// fs.ErrNotExist; a malformed document or unknown schema version returns
// ErrInvalidResumeState.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidResumeState, path, err)
	}
	if l.Version != LedgerVersion {
		return nil, fmt.Errorf("%w: unknown schema version %d in %s", ErrInvalidResumeState, l.Version, path)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate rejects ledgers whose chunk records overlap, are unsorted, fall
// outside [0, TotalSize), or cover more than TotalSize in aggregate.
func (l *Ledger) Validate() error {
	var covered, prevEnd int64
	for i, c := range l.Chunks {
		if c.Offset < 0 || c.Length < 0 {
			return fmt.Errorf("%w: negative chunk at index %d", ErrInvalidResumeState, i)
		}
		if c.Offset < prevEnd {
			return fmt.Errorf("%w: unsorted or overlapping chunk at offset %d", ErrInvalidResumeState, c.Offset)
		}
		if c.Offset+c.Length > l.TotalSize {
			return fmt.Errorf("%w: chunk [%d,%d) exceeds total size %d",
				ErrInvalidResumeState, c.Offset, c.Offset+c.Length, l.TotalSize)
		}
		covered += c.Length
		prevEnd = c.Offset + c.Length
	}
	if covered > l.TotalSize {
		return fmt.Errorf("%w: coverage %d exceeds total size %d", ErrInvalidResumeState, covered, l.TotalSize)
	}
	return nil
}

// MatchesSource reports whether the ledger was written against a source
// with the given size and modification time. A mismatch means the source
// changed since the ledger was persisted and resuming would corrupt the
// destination.
func (l *Ledger) MatchesSource(size int64, modTime time.Time) bool {
	return l.TotalSize == size && l.SourceModTime == modTime.UnixNano()
}

// AddChunk records [offset, offset+length) as durably written, keeping the
// chunk list sorted by offset. Range workers complete out of order, so the
// insertion position is found rather than assumed.
func (l *Ledger) AddChunk(offset, length int64, checksum string) {
	rec := ChunkRecord{Offset: offset, Length: length, Checksum: checksum}
	i := sort.Search(len(l.Chunks), func(i int) bool {
		return l.Chunks[i].Offset >= offset
	})
	l.Chunks = append(l.Chunks, ChunkRecord{})
	copy(l.Chunks[i+1:], l.Chunks[i:])
	l.Chunks[i] = rec
	l.UpdatedAt = time.Now()
}

// Covered returns the total number of bytes recorded as written.
func (l *Ledger) Covered() int64 {
	var n int64
	for _, c := range l.Chunks {
		n += c.Length
	}
	return n
}

// NextOffset returns the first byte not covered by the contiguous prefix
// starting at zero: the resume point for a sequential transfer.
func (l *Ledger) NextOffset() int64 {
	var next int64
	for _, c := range l.Chunks {
		if c.Offset != next {
			break
		}
		next += c.Length
	}
	return next
}

// Gaps returns the uncovered ranges of [0, TotalSize) in offset order.
// Resume copies exactly these ranges, so completed bytes are never
// re-read.
func (l *Ledger) Gaps() []ChunkRecord {
	var gaps []ChunkRecord
	var next int64
	for _, c := range l.Chunks {
		if c.Offset > next {
			gaps = append(gaps, ChunkRecord{Offset: next, Length: c.Offset - next})
		}
		if end := c.Offset + c.Length; end > next {
			next = end
		}
	}
	if next < l.TotalSize {
		gaps = append(gaps, ChunkRecord{Offset: next, Length: l.TotalSize - next})
	}
	return gaps
}

// Complete reports whether [0, TotalSize) is contiguously covered.
func (l *Ledger) Complete() bool {
	return l.NextOffset() == l.TotalSize
}

// Save persists the ledger with a temp-write-then-rename so a crash mid-
// save cannot corrupt an existing ledger file.
func (l *Ledger) Save(path string) error {
	l.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename ledger %s: %w", path, err)
	}
	return nil
}

// RemoveLedger deletes the ledger sidecar. Called only after finalize
// succeeds; a missing file is not an error.
func RemoveLedger(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
