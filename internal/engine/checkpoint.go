package engine

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

const checkpointBatchSize = 128

// TreeCheckpoint records which files of a directory transfer are already
// done, so an interrupted run can skip them on the next attempt. It
// complements the per-file ledger: the ledger resumes inside one file,
// the checkpoint skips whole files. State lives in a SQLite database
// keyed by the source/destination root pair.
type TreeCheckpoint struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	pending []checkpointEntry
	done    chan struct{}
	stopped bool
}

type checkpointEntry struct {
	relPath   string
	size      int64
	mtimeNano int64
	digest    string
}

// OpenTreeCheckpoint opens (or creates) the checkpoint database for a
// source/destination root pair. The database lives under
// $XDG_STATE_HOME/ferry (falling back to ~/.local/state/ferry, then the
// system temp dir), named by a digest of the two roots so repeated runs
// of the same transfer find the same file.
func OpenTreeCheckpoint(srcRoot, dstRoot string) (*TreeCheckpoint, error) {
	dbPath := checkpointPath(checkpointJobID(srcRoot, dstRoot))

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	tc := &TreeCheckpoint{
		db:   db,
		path: dbPath,
		done: make(chan struct{}),
	}
	if err := tc.init(srcRoot, dstRoot); err != nil {
		db.Close()
		return nil, err
	}

	go tc.flushLoop()
	return tc, nil
}

func (tc *TreeCheckpoint) init(srcRoot, dstRoot string) error {
	_, err := tc.db.Exec(`
		CREATE TABLE IF NOT EXISTS done_files (
			rel_path TEXT PRIMARY KEY,
			size     INTEGER NOT NULL,
			mtime_ns INTEGER NOT NULL,
			digest   TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS roots (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var stored string
	err = tc.db.QueryRow("SELECT value FROM roots WHERE key = 'src'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = tc.db.Exec(
			"INSERT OR REPLACE INTO roots (key, value) VALUES ('src', ?), ('dst', ?)",
			srcRoot, dstRoot)
		if err != nil {
			return fmt.Errorf("store roots: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read roots: %w", err)
	case stored != srcRoot:
		return fmt.Errorf("%w: checkpoint belongs to source %s", ErrInvalidResumeState, stored)
	}
	return nil
}

// Done reports whether a file was already transferred with this exact
// size and modification time. Any change to the source invalidates the
// entry so the file is copied again.
func (tc *TreeCheckpoint) Done(relPath string, size, mtimeNano int64) bool {
	// Entries still sitting in the batch buffer count too.
	tc.mu.Lock()
	for _, e := range tc.pending {
		if e.relPath == relPath {
			tc.mu.Unlock()
			return e.size == size && e.mtimeNano == mtimeNano
		}
	}
	tc.mu.Unlock()

	var storedSize, storedMtime int64
	err := tc.db.QueryRow(
		"SELECT size, mtime_ns FROM done_files WHERE rel_path = ?", relPath,
	).Scan(&storedSize, &storedMtime)
	if err != nil {
		return false
	}
	return storedSize == size && storedMtime == mtimeNano
}

// MarkDone records a completed file. Writes are buffered and flushed in
// batches; call Flush or Close to force them out.
func (tc *TreeCheckpoint) MarkDone(relPath string, size, mtimeNano int64, digest string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.pending = append(tc.pending, checkpointEntry{
		relPath:   relPath,
		size:      size,
		mtimeNano: mtimeNano,
		digest:    digest,
	})
	if len(tc.pending) >= checkpointBatchSize {
		return tc.flushLocked()
	}
	return nil
}

// Flush writes buffered entries to the database.
func (tc *TreeCheckpoint) Flush() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.flushLocked()
}

func (tc *TreeCheckpoint) flushLocked() error {
	if len(tc.pending) == 0 {
		return nil
	}

	tx, err := tc.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO done_files (rel_path, size, mtime_ns, digest) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range tc.pending {
		if _, err := stmt.Exec(e.relPath, e.size, e.mtimeNano, e.digest); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", e.relPath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	tc.pending = tc.pending[:0]
	return nil
}

func (tc *TreeCheckpoint) flushLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-tc.done:
			return
		case <-ticker.C:
			tc.mu.Lock()
			_ = tc.flushLocked()
			tc.mu.Unlock()
		}
	}
}

// Close flushes pending entries and closes the database.
func (tc *TreeCheckpoint) Close() error {
	tc.mu.Lock()
	if !tc.stopped {
		tc.stopped = true
		close(tc.done)
	}
	_ = tc.flushLocked()
	tc.mu.Unlock()
	return tc.db.Close()
}

// Remove deletes the checkpoint database. Called after a fully
// successful transfer.
func (tc *TreeCheckpoint) Remove() error {
	return os.Remove(tc.path)
}

// Path returns the location of the checkpoint database file.
func (tc *TreeCheckpoint) Path() string {
	return tc.path
}

func checkpointJobID(srcRoot, dstRoot string) string {
	h := blake3.New()
	h.Write([]byte(srcRoot))
	h.Write([]byte{0})
	h.Write([]byte(dstRoot))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

func checkpointPath(jobID string) string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "ferry", jobID+".db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "ferry", jobID+".db")
	}
	return filepath.Join(os.TempDir(), "ferry-"+jobID+".db")
}
