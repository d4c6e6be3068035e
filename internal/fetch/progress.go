package fetch

import (
	"math"
	"sync"
	"time"

	"github.com/tanq16/flux/internal/utils"
)

// tracker accumulates received bytes and drives the progress sink. One
// tracker serves a whole download attempt; for multipart downloads all part
// goroutines share it, so every update holds the lock.
//
// Speed is the instantaneous per-chunk rate: bytes in this chunk divided by
// the time since the previous chunk, with the timer reset on every update.
type tracker struct {
	mu       sync.Mutex
	received int64
	total    int64
	sink     utils.ProgressSink
	lastTick time.Time
}

func newTracker(total int64, sink utils.ProgressSink) *tracker {
	return &tracker{total: total, sink: sink, lastTick: time.Now()}
}

// setTotal records the total size once known (from Content-Length). It never
// shrinks an already-known total.
func (t *tracker) setTotal(total int64) {
	t.mu.Lock()
	if total > t.total {
		t.total = total
	}
	t.mu.Unlock()
}

func (t *tracker) add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received += int64(n)
	var percent float64
	if t.total > 0 {
		percent = float64(t.received) / float64(t.total) * 100
	}
	elapsed := time.Since(t.lastTick).Seconds()
	t.lastTick = time.Now()
	var speed float64
	if elapsed > 0 {
		speed = float64(n) / elapsed
	}
	if math.IsInf(speed, 0) || math.IsNaN(speed) {
		speed = 0
	}
	// The sink is invoked under the lock: concurrent part goroutines must
	// deliver aggregate samples in non-decreasing order.
	if t.sink != nil {
		t.sink.OnProgress(percent, speed)
	}
}

// Received returns the bytes accumulated so far.
func (t *tracker) Received() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}
