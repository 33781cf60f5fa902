package pipeline

import (
	"sync"
	"time"

	"github.com/crimson-sun/watchdog/internal/model"
)

// streamBuffer accumulates streamed logs until its window elapses or it
// reaches maxSize.
type streamBuffer struct {
	window  time.Duration
	maxSize int // 0 means unlimited

	mu      sync.Mutex
	pending []model.RawLog
	timer   *time.Timer
}

func newStreamBuffer(window time.Duration, maxSize int) *streamBuffer {
	return &streamBuffer{window: window, maxSize: maxSize}
}

// add appends a log. The first log in a batch starts the flush timer.
// Returns true if the buffer is full and needs flushing.
func (b *streamBuffer) add(raw model.RawLog) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, raw)
	if len(b.pending) == 1 {
		b.timer = time.NewTimer(b.window)
	}
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

// flushCh returns the timer's channel, or nil if no timer is active.
func (b *streamBuffer) flushCh() <-chan time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

// drain returns and clears the pending logs.
func (b *streamBuffer) drain() []model.RawLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	raws := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return raws
}
