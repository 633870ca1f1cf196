package stream

import (
	"fmt"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/metrics"
	"github.com/alpacahq/lfjournal/utils/io"
)

// StageWrite reserves minSize more bytes at alloc_len and returns a buffer
// for them together with their stream offset. The buffer is a view into
// the mapped segment when the whole staged region fits one segment, and a
// heap copy when it crosses one boundary. It stays valid until the next
// StageWrite, Commit or Discard.
func (s *Stream) StageWrite(minSize int) ([]byte, uint64, error) {
	if !s.writable {
		return nil, 0, violation(fmt.Sprintf("%s: stage write on read-only stream", s.name))
	}
	if minSize <= 0 {
		return nil, 0, violation(fmt.Sprintf("%s: stage write of %d bytes", s.name, minSize))
	}
	committed := s.counters.Committed()
	alloc := s.counters.Alloc()
	if s.buf == nil {
		if alloc != committed {
			return nil, 0, violation(fmt.Sprintf("%s: %d bytes allocated without a staging buffer", s.name, alloc-committed))
		}
		s.bufOff = committed
	}
	if committed < s.bufOff {
		return nil, 0, violation(fmt.Sprintf("%s: committed length %d behind staging buffer at %d", s.name, committed, s.bufOff))
	}

	staged := alloc - committed
	if err := s.compactAndRealloc(committed-s.bufOff, staged+uint64(minSize)); err != nil {
		return nil, 0, err
	}
	return s.buf[staged : staged+uint64(minSize)], committed + staged, nil
}

// compactAndRealloc drops the first compact bytes of the staging buffer,
// which must all be committed already, and resizes it to newLen bytes
// starting at the new front. Staged bytes that still fall inside the new
// buffer are carried over.
func (s *Stream) compactAndRealloc(compact, newLen uint64) error {
	committed := s.counters.Committed()
	alloc := s.counters.Alloc()
	numCommitted := committed - s.bufOff
	oldLen := alloc - s.bufOff

	switch {
	case compact > numCommitted:
		return violation(fmt.Sprintf("%s: compacting %d bytes would discard uncommitted data, only %d committed",
			s.name, compact, numCommitted))
	case numCommitted > oldLen:
		return violation(fmt.Sprintf("%s: committed %d bytes past the %d allocated", s.name, numCommitted, oldLen))
	case numCommitted >= compact+newLen:
		return violation(fmt.Sprintf("%s: new buffer of %d bytes leaves no room after committed data", s.name, newLen))
	}

	newOff := s.bufOff + compact
	newEnd := newOff + newLen
	if newEnd > pos.StrmOffMask+1 {
		return violation(fmt.Sprintf("%s: staging to %d exhausts the stream address space", s.name, newEnd))
	}
	newSegs := pos.SegNum(newEnd-1) - pos.SegNum(newOff)
	if newSegs > 1 {
		return violation(fmt.Sprintf("%s: staging %d bytes at %d spans %d segment transitions",
			s.name, newLen, newOff, newSegs))
	}

	carry := oldLen - compact
	if carry > newLen {
		carry = newLen
	}
	old := s.buf

	if newSegs == 0 {
		seg, err := s.MapSegment(pos.SegNum(newOff), true)
		if err != nil {
			return err
		}
		segOff := uint64(pos.SegOff(newOff))
		next := seg.data[segOff : segOff+newLen]
		if s.heap && carry > 0 {
			copy(next[:carry], old[compact:compact+carry])
		}
		s.buf, s.heap = next, false
	} else {
		next := make([]byte, newLen)
		if carry > 0 {
			copy(next, old[compact:compact+carry])
		}
		s.buf, s.heap = next, true
	}
	s.bufOff = newOff
	s.counters.setAlloc(newEnd)
	return nil
}

// Staged returns the bytes in [committed_len, alloc_len).
func (s *Stream) Staged() []byte {
	if s.buf == nil {
		return nil
	}
	start := s.counters.Committed() - s.bufOff
	end := s.counters.Alloc() - s.bufOff
	return s.buf[start:end]
}

// IsHeapStaged reports whether the staging buffer is a heap copy.
func (s *Stream) IsHeapStaged() bool {
	return s.heap
}

// Prepare writes every staged byte through to the segments and advances
// valid_len to alloc_len. After Prepare a crash leaves the staged bytes on
// disk with valid_len > committed_len.
func (s *Stream) Prepare() error {
	committed := s.counters.Committed()
	alloc := s.counters.Alloc()
	if alloc == committed {
		return nil
	}
	if s.heap {
		start := committed - s.bufOff
		if err := s.writeThrough(committed, s.buf[start:start+(alloc-committed)]); err != nil {
			return err
		}
	}
	s.counters.setValid(alloc)
	return nil
}

// Commit publishes the first n staged bytes and returns their position.
func (s *Stream) Commit(n int) (pos.Pos, error) {
	committed := s.counters.Committed()
	alloc := s.counters.Alloc()
	if n < 0 || committed+uint64(n) > alloc {
		return pos.Null, violation(fmt.Sprintf("%s: commit of %d bytes with %d staged", s.name, n, alloc-committed))
	}
	if n == 0 {
		return pos.New(s.num, committed, 0, false), nil
	}
	if s.heap {
		start := committed - s.bufOff
		if err := s.writeThrough(committed, s.buf[start:start+uint64(n)]); err != nil {
			return pos.Null, err
		}
	}

	newLen := committed + uint64(n)
	if s.counters.Valid() < newLen {
		s.counters.setValid(newLen)
	}
	s.counters.setCommitted(newLen)
	metrics.StreamCommittedBytesTotal.WithLabelValues(s.typ.String()).Add(float64(n))
	return pos.New(s.num, committed, uint32(n), false), nil
}

// Discard drops every staged byte and zeroes whatever of them reached the
// segments.
func (s *Stream) Discard() error {
	committed := s.counters.Committed()
	end := s.counters.Valid()
	if alloc := s.counters.Alloc(); alloc > end {
		end = alloc
	}
	if end > committed {
		if err := s.zeroRange(committed, end); err != nil {
			return err
		}
	}
	s.counters.setValid(committed)
	s.counters.setAlloc(committed)
	s.buf, s.heap = nil, false
	return nil
}

// RollbackTo shrinks the stream to length bytes and zeroes what was cut
// off. It is only used while undoing a transaction that never committed.
func (s *Stream) RollbackTo(length uint64) error {
	if !s.writable {
		return violation(fmt.Sprintf("%s: rollback on read-only stream", s.name))
	}
	committed := s.counters.Committed()
	if length > committed {
		return violation(fmt.Sprintf("%s: rollback to %d past committed length %d", s.name, length, committed))
	}
	end := s.counters.Valid()
	if alloc := s.counters.Alloc(); alloc > end {
		end = alloc
	}
	s.counters.setCommitted(length)
	s.counters.setValid(length)
	s.counters.setAlloc(length)
	s.buf, s.heap = nil, false
	return s.zeroRange(length, end)
}

func (s *Stream) writeThrough(off uint64, data []byte) error {
	for len(data) > 0 {
		seg, err := s.MapSegment(pos.SegNum(off), true)
		if err != nil {
			return err
		}
		n := copy(seg.data[pos.SegOff(off):], data)
		data = data[n:]
		off += uint64(n)
	}
	return nil
}

// zeroRange clears [begin, end) in every segment that exists on disk.
func (s *Stream) zeroRange(begin, end uint64) error {
	for off := begin; off < end; {
		segNum := pos.SegNum(off)
		next := pos.SegStart(segNum + 1)
		if next > end {
			next = end
		}
		seg, err := s.MapSegment(segNum, false)
		if err != nil {
			if _, ok := err.(OutOfRangeError); ok {
				return nil
			}
			return err
		}
		segOff := uint64(pos.SegOff(off))
		io.Zero(seg.data[segOff : segOff+(next-off)])
		off = next
	}
	return nil
}
