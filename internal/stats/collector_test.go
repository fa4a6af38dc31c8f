package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()
	c.AddFilesCopied(2)
	c.AddFilesSkipped(1)
	c.AddFilesFailed(1)
	c.AddBytesCopied(1000)
	c.AddBytesTotal(2000)
	c.AddFilesTotal(4)
	c.AddDirsCreated(3)
	c.AddFilesVerified(2)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.FilesCopied)
	assert.Equal(t, int64(1), snap.FilesSkipped)
	assert.Equal(t, int64(1), snap.FilesFailed)
	assert.Equal(t, int64(1000), snap.BytesCopied)
	assert.Equal(t, int64(2000), snap.BytesTotal)
	assert.Equal(t, int64(4), snap.FilesTotal)
	assert.Equal(t, int64(3), snap.DirsCreated)
	assert.Equal(t, int64(2), snap.FilesVerified)
	assert.Greater(t, snap.Elapsed, time.Duration(0))
}

func TestCollector_ConcurrentAdds(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.AddBytesCopied(1)
				c.AddFilesCopied(1)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(8000), snap.BytesCopied)
	assert.Equal(t, int64(8000), snap.FilesCopied)
}

func TestRate_Smoothing(t *testing.T) {
	var r Rate
	r.Add(1000)
	time.Sleep(300 * time.Millisecond)
	r.Add(1000)

	// Roughly 2000 bytes over ~0.3s; the EMA should land in the right
	// order of magnitude, not at zero and not wildly above.
	got := r.PerSecond()
	assert.Greater(t, got, 100.0)
	assert.Less(t, got, 100000.0)
}

func TestCollector_ETA(t *testing.T) {
	c := NewCollector()
	// No rate yet: no estimate.
	assert.Equal(t, time.Duration(0), c.ETA())

	c.AddBytesTotal(10000)
	c.AddBytesCopied(5000)
	time.Sleep(300 * time.Millisecond)
	c.AddBytesCopied(1)

	if c.Throughput() > 0 {
		assert.Greater(t, c.ETA(), time.Duration(0))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(3*512*1024))
	assert.Equal(t, "2.0 GiB", FormatBytes(2<<30))
}
