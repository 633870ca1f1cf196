package stream

import "sync/atomic"

// Counters are the three lengths that describe a stream's progress. For
// journal streams they live inside the mapped journal header so that
// readers in other processes observe them; every access is atomic.
//
// A healthy open stream keeps CommittedLen <= ValidLen <= AllocLen.
type Counters struct {
	AllocLen     uint64
	CommittedLen uint64
	ValidLen     uint64
}

func (c *Counters) Alloc() uint64 {
	return atomic.LoadUint64(&c.AllocLen)
}

func (c *Counters) Committed() uint64 {
	return atomic.LoadUint64(&c.CommittedLen)
}

func (c *Counters) Valid() uint64 {
	return atomic.LoadUint64(&c.ValidLen)
}

func (c *Counters) setAlloc(v uint64) {
	atomic.StoreUint64(&c.AllocLen, v)
}

func (c *Counters) setCommitted(v uint64) {
	atomic.StoreUint64(&c.CommittedLen, v)
}

func (c *Counters) setValid(v uint64) {
	atomic.StoreUint64(&c.ValidLen, v)
}

// Reset zeroes all three counters. Only valid before the stream is opened.
func (c *Counters) Reset() {
	c.setCommitted(0)
	c.setValid(0)
	c.setAlloc(0)
}
