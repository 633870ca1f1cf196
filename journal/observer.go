package journal

import (
	"fmt"
	"sync"

	"github.com/eapache/channels"
	"github.com/gobwas/glob"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/metrics"
	"github.com/alpacahq/lfjournal/utils/log"
)

type EventKind int

const (
	// OrderbookUpdate is an item appended to an ORDER_VEC.
	OrderbookUpdate EventKind = iota
	// VectorUpdate is an item appended to, or changed in, any other vector.
	VectorUpdate
	VectorCreated
	// StreamUpdated is a non-transactional append to a DATA_STREAM.
	StreamUpdated
)

func (k EventKind) String() string {
	switch k {
	case OrderbookUpdate:
		return "ORDERBOOK_UPDATE"
	case VectorUpdate:
		return "VECTOR_UPDATE"
	case VectorCreated:
		return "VECTOR_CREATED"
	case StreamUpdated:
		return "STREAM_UPDATED"
	default:
		return fmt.Sprintf("EVENT_%d", int(k))
	}
}

// Event is delivered to observers after the change it describes has
// committed. Name is the vector name for vector events and the stream
// name for StreamUpdated.
type Event struct {
	Kind    EventKind
	Name    string
	Pos     pos.Pos
	VecNum  uint32
	Idx     uint64
	StrmNum uint32
	Len     uint64
}

type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

type registration struct {
	o     Observer
	globs []glob.Glob
}

func (r *registration) matches(name string) bool {
	if len(r.globs) == 0 {
		return true
	}
	for _, g := range r.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

type observers struct {
	sync.RWMutex
	regs map[*registration]struct{}
}

// AddObserver registers o for the events whose name matches one of the
// glob patterns, or for every event when no pattern is given. The returned
// function removes the registration.
func (j *Journal) AddObserver(o Observer, patterns ...string) (func(), error) {
	reg := &registration{o: o}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("observer pattern %q: %w", p, err)
		}
		reg.globs = append(reg.globs, g)
	}

	j.obs.Lock()
	if j.obs.regs == nil {
		j.obs.regs = map[*registration]struct{}{}
	}
	j.obs.regs[reg] = struct{}{}
	j.obs.Unlock()

	return func() {
		j.obs.Lock()
		defer j.obs.Unlock()
		delete(j.obs.regs, reg)
	}, nil
}

// notify delivers events synchronously. It is called with no stream locks
// held, so an observer may start its own transaction.
func (j *Journal) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	j.obs.RLock()
	regs := make([]*registration, 0, len(j.obs.regs))
	for reg := range j.obs.regs {
		regs = append(regs, reg)
	}
	j.obs.RUnlock()

	for _, ev := range events {
		for _, reg := range regs {
			if reg.matches(ev.Name) {
				deliver(reg.o, ev)
			}
		}
	}
}

func deliver(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserverPanicsTotal.Inc()
			log.Error("observer panicked on %s %s: %v", ev.Kind, ev.Name, r)
		}
	}()
	o.OnEvent(ev)
}

// AsyncObserver queues events without bounds and hands them to the
// wrapped observer on its own goroutine.
type AsyncObserver struct {
	o    Observer
	in   *channels.InfiniteChannel
	done chan struct{}
}

func NewAsyncObserver(o Observer) *AsyncObserver {
	a := &AsyncObserver{
		o:    o,
		in:   channels.NewInfiniteChannel(),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncObserver) run() {
	defer close(a.done)
	for m := range a.in.Out() {
		deliver(a.o, m.(Event))
	}
}

func (a *AsyncObserver) OnEvent(ev Event) {
	a.in.In() <- ev
}

// Len is the number of queued events.
func (a *AsyncObserver) Len() int {
	return a.in.Len()
}

// Close stops accepting events and waits until the queued ones are
// delivered.
func (a *AsyncObserver) Close() {
	a.in.Close()
	<-a.done
}
