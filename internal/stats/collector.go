package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks transfer statistics using lock-free atomic counters.
// Workers increment concurrently; readers take a Snapshot.
type Collector struct {
	filesCopied       atomic.Int64
	filesSkipped      atomic.Int64
	filesFailed       atomic.Int64
	bytesCopied       atomic.Int64
	bytesTotal        atomic.Int64
	filesTotal        atomic.Int64
	dirsCreated       atomic.Int64
	filesVerified     atomic.Int64
	filesVerifyFailed atomic.Int64
	startTime         time.Time

	rate Rate
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCopied       int64
	FilesSkipped      int64
	FilesFailed       int64
	BytesCopied       int64
	BytesTotal        int64
	FilesTotal        int64
	DirsCreated       int64
	FilesVerified     int64
	FilesVerifyFailed int64
	Elapsed           time.Duration
}

func (c *Collector) AddFilesCopied(n int64)       { c.filesCopied.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)      { c.filesSkipped.Add(n) }
func (c *Collector) AddFilesFailed(n int64)       { c.filesFailed.Add(n) }
func (c *Collector) AddDirsCreated(n int64)       { c.dirsCreated.Add(n) }
func (c *Collector) AddFilesVerified(n int64)     { c.filesVerified.Add(n) }
func (c *Collector) AddFilesVerifyFailed(n int64) { c.filesVerifyFailed.Add(n) }
func (c *Collector) AddFilesTotal(n int64)        { c.filesTotal.Add(n) }
func (c *Collector) AddBytesTotal(n int64)        { c.bytesTotal.Add(n) }

// AddBytesCopied records transferred bytes and feeds the throughput estimate.
func (c *Collector) AddBytesCopied(n int64) {
	c.bytesCopied.Add(n)
	c.rate.Add(n)
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesCopied:       c.filesCopied.Load(),
		FilesSkipped:      c.filesSkipped.Load(),
		FilesFailed:       c.filesFailed.Load(),
		BytesCopied:       c.bytesCopied.Load(),
		BytesTotal:        c.bytesTotal.Load(),
		FilesTotal:        c.filesTotal.Load(),
		DirsCreated:       c.dirsCreated.Load(),
		FilesVerified:     c.filesVerified.Load(),
		FilesVerifyFailed: c.filesVerifyFailed.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Throughput returns the smoothed transfer rate in bytes per second.
func (c *Collector) Throughput() float64 {
	return c.rate.PerSecond()
}

// ETA estimates remaining time based on the smoothed rate and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.Throughput()
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesCopied.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / speed * float64(time.Second))
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"copied=%d skipped=%d failed=%d bytes=%d dirs=%d verified=%d",
		s.FilesCopied, s.FilesSkipped, s.FilesFailed,
		s.BytesCopied, s.DirsCreated, s.FilesVerified,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

const (
	// rateAlpha is the smoothing factor for the exponential moving average.
	// Higher values react faster to bursts, lower values damp more.
	rateAlpha = 0.3

	// rateInterval is the minimum sample window folded into the average.
	rateInterval = 250 * time.Millisecond
)

// Rate estimates throughput as an exponential moving average of bytes per
// second. Burst-prone I/O (page cache hits, fallocate'd regions) would make
// an instantaneous rate jump around; the EMA damps that noise.
type Rate struct {
	mu         sync.Mutex
	avg        float64 // bytes/sec
	pending    int64
	windowFrom time.Time
	primed     bool
}

// Add records n transferred bytes at the current time.
func (r *Rate) Add(n int64) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windowFrom.IsZero() {
		r.windowFrom = now
	}
	r.pending += n

	elapsed := now.Sub(r.windowFrom)
	if elapsed < rateInterval {
		return
	}

	sample := float64(r.pending) / elapsed.Seconds()
	if !r.primed {
		r.avg = sample
		r.primed = true
	} else {
		r.avg = rateAlpha*sample + (1-rateAlpha)*r.avg
	}
	r.pending = 0
	r.windowFrom = now
}

// PerSecond returns the smoothed rate in bytes per second.
func (r *Rate) PerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avg
}
