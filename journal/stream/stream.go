// Package stream implements the append-only, segment-mapped byte log that
// every journal structure is stored in.
//
// A Stream has one writer and any number of readers. The writer stages
// bytes, then commits them; readers only look at bytes below the committed
// length they last observed.
package stream

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/utils/log"
)

type Type uint32

const (
	Unknown Type = iota
	Data
	Tx
	TxData
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA_STREAM"
	case Tx:
		return "TX_STREAM"
	case TxData:
		return "TX_DATA_STREAM"
	default:
		return "UNKNOWN_STREAM"
	}
}

// ParseType is the inverse of Type.String. It also accepts the short
// lower-case forms used in config files.
func ParseType(s string) Type {
	switch s {
	case "DATA_STREAM", "data":
		return Data
	case "TX_STREAM", "tx":
		return Tx
	case "TX_DATA_STREAM", "tx_data":
		return TxData
	default:
		return Unknown
	}
}

type Options struct {
	Num          uint32
	Name         string
	Type         Type
	Path         string
	Writable     bool
	Rollbackable bool
	// Create starts the file from scratch. Leave it unset when the stream
	// existed before and is about to be recovered.
	Create bool
	// Counters is where the lengths are kept. A private set is allocated
	// when nil.
	Counters *Counters
}

type Stream struct {
	mu sync.Mutex

	num          uint32
	name         string
	typ          Type
	path         string
	writable     bool
	rollbackable bool

	f        *os.File
	counters *Counters

	segMu sync.RWMutex
	segs  []*Segment

	// staging state, owned by the writer
	buf    []byte
	heap   bool
	bufOff uint64
}

// Open opens or creates the backing file. A writable stream takes an
// exclusive advisory lock before touching the file.
func Open(opts Options) (*Stream, error) {
	s := &Stream{
		num:          opts.Num,
		name:         opts.Name,
		typ:          opts.Type,
		path:         opts.Path,
		writable:     opts.Writable,
		rollbackable: opts.Rollbackable,
		counters:     opts.Counters,
	}
	if s.counters == nil {
		s.counters = &Counters{}
	}

	if !s.writable {
		f, err := os.Open(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, NotFoundError(s.path)
			}
			return nil, ioError("open", s.path, err)
		}
		s.f = f
		return s, nil
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ioError("open", s.path, err)
	}
	if err = tryLockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, LockConflictError(s.path)
		}
		return nil, ioError("flock", s.path, err)
	}
	s.f = f

	if opts.Create {
		if err = f.Truncate(0); err != nil {
			_ = s.Close()
			return nil, ioError("truncate", s.path, err)
		}
		if _, err = s.MapSegment(0, true); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Stream) Num() uint32 {
	return s.num
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) Type() Type {
	return s.typ
}

func (s *Stream) Path() string {
	return s.path
}

func (s *Stream) Writable() bool {
	return s.writable
}

func (s *Stream) Rollbackable() bool {
	return s.rollbackable
}

func (s *Stream) AllocLen() uint64 {
	return s.counters.Alloc()
}

func (s *Stream) CommittedLen() uint64 {
	return s.counters.Committed()
}

func (s *Stream) ValidLen() uint64 {
	return s.counters.Valid()
}

// SetCounters moves the stream's lengths to c. Stream 0 uses this once its
// first segment, which holds the journal header, is mapped.
func (s *Stream) SetCounters(c *Counters) {
	s.counters = c
}

// Lock serializes writers of this stream. Readers never take it.
func (s *Stream) Lock() {
	s.mu.Lock()
}

// TryLock takes the writer lock only if it is free.
func (s *Stream) TryLock() bool {
	return s.mu.TryLock()
}

func (s *Stream) Unlock() {
	s.mu.Unlock()
}

// ReadRange returns zero-copy views of [begin, end), split at segment
// boundaries. end must not pass the committed length.
func (s *Stream) ReadRange(begin, end uint64) ([][]byte, error) {
	if end < begin {
		return nil, violation(fmt.Sprintf("%s: read range end %d before begin %d", s.name, end, begin))
	}
	if committed := s.counters.Committed(); end > committed {
		return nil, OutOfRangeError(fmt.Sprintf("%s: read to %d past committed length %d", s.name, end, committed))
	}
	return s.views(begin, end)
}

// Locate returns a single view of n bytes at off. The range must be
// committed and must not cross a segment boundary.
func (s *Stream) Locate(off uint64, n int) ([]byte, error) {
	views, err := s.ReadRange(off, off+uint64(n))
	if err != nil {
		return nil, err
	}
	if len(views) != 1 {
		return nil, violation(fmt.Sprintf("%s: %d bytes at %d cross a segment boundary", s.name, n, off))
	}
	return views[0], nil
}

// CopyRange copies [begin, end) out of the mapped segments regardless of
// the committed length.
func (s *Stream) CopyRange(begin, end uint64) ([]byte, error) {
	views, err := s.views(begin, end)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, end-begin)
	for _, v := range views {
		out = append(out, v...)
	}
	return out, nil
}

func (s *Stream) views(begin, end uint64) ([][]byte, error) {
	var out [][]byte
	for off := begin; off < end; {
		seg, err := s.MapSegment(pos.SegNum(off), false)
		if err != nil {
			return nil, err
		}
		segOff := uint64(pos.SegOff(off))
		n := end - off
		if room := pos.SegSize - segOff; n > room {
			n = room
		}
		out = append(out, seg.data[segOff:segOff+n])
		off += n
	}
	return out, nil
}

// Append stages and commits data in one step. It is the plain data
// stream write path and fails if other bytes are already staged.
func (s *Stream) Append(data []byte) (pos.Pos, error) {
	if staged := s.counters.Alloc() - s.counters.Committed(); staged != 0 {
		return pos.Null, violation(fmt.Sprintf("%s: append with %d bytes already staged", s.name, staged))
	}
	buf, _, err := s.StageWrite(len(data))
	if err != nil {
		return pos.Null, err
	}
	copy(buf, data)
	return s.Commit(len(data))
}

// Sync flushes every mapped segment to disk.
func (s *Stream) Sync() error {
	return s.syncAll()
}

// Close unmaps all segments, drops the write lock and closes the file.
// Closing twice is a no-op.
func (s *Stream) Close() error {
	s.segMu.Lock()
	f := s.f
	s.f = nil
	s.segMu.Unlock()
	if f == nil {
		return nil
	}

	err := s.unmapAll()
	if s.writable {
		if uerr := unlockFile(f); uerr != nil {
			log.Warn("%s: unlock failed: %v", s.path, uerr)
		}
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = ioError("close", s.path, cerr)
	}
	s.buf, s.heap = nil, false
	return err
}
