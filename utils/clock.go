package utils

import (
	"sync/atomic"
	"time"
)

// Clock is the timestamp source of a journal. Now is in nanoseconds since
// the Unix epoch.
type Clock interface {
	Now() int64
}

type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().UnixNano()
}

// ManualClock returns whatever it was last set to. Tests use it to pin
// item timestamps.
type ManualClock struct {
	ns int64
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{ns: t.UnixNano()}
}

func (c *ManualClock) Now() int64 {
	return atomic.LoadInt64(&c.ns)
}

func (c *ManualClock) Set(t time.Time) {
	atomic.StoreInt64(&c.ns, t.UnixNano())
}

func (c *ManualClock) Advance(d time.Duration) {
	atomic.AddInt64(&c.ns, int64(d))
}
