package stream

import (
	"fmt"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/metrics"
)

// Segment is one SegSize window of a stream file mapped into memory.
type Segment struct {
	num  uint32
	data []byte
}

func (seg *Segment) Num() uint32 {
	return seg.num
}

// Bytes is the whole mapped window.
func (seg *Segment) Bytes() []byte {
	return seg.data
}

// MapSegment returns the mapping for segNum, mapping it on first use.
// With create set on a writable stream the file is first extended to cover
// the segment. A read-only stream whose file does not yet reach the segment
// gets an OutOfRangeError: the writer has not produced it yet.
func (s *Stream) MapSegment(segNum uint32, create bool) (*Segment, error) {
	s.segMu.RLock()
	if int(segNum) < len(s.segs) && s.segs[segNum] != nil {
		seg := s.segs[segNum]
		s.segMu.RUnlock()
		return seg, nil
	}
	s.segMu.RUnlock()

	s.segMu.Lock()
	defer s.segMu.Unlock()
	if s.f == nil {
		return nil, violation(fmt.Sprintf("%s: stream is closed", s.name))
	}
	if int(segNum) < len(s.segs) && s.segs[segNum] != nil {
		return s.segs[segNum], nil
	}
	if segNum > pos.MaxSegs {
		return nil, OutOfRangeError(fmt.Sprintf("%s: segment %d", s.name, segNum))
	}

	end := int64(pos.SegStart(segNum + 1))
	fi, err := s.f.Stat()
	if err != nil {
		return nil, ioError("stat", s.path, err)
	}
	if fi.Size() < end {
		if !create || !s.writable {
			return nil, OutOfRangeError(fmt.Sprintf("%s: segment %d not yet written", s.name, segNum))
		}
		if err = s.f.Truncate(end); err != nil {
			return nil, ioError("truncate", s.path, err)
		}
	}

	data, err := mapFile(s.f, int64(pos.SegStart(segNum)), pos.SegSize, s.writable)
	if err != nil {
		return nil, ioError("mmap", s.path, err)
	}

	for len(s.segs) <= int(segNum) {
		s.segs = append(s.segs, nil)
	}
	seg := &Segment{num: segNum, data: data}
	s.segs[segNum] = seg
	metrics.SegmentsMapped.Inc()
	return seg, nil
}

// NumMapped is the number of segments currently mapped.
func (s *Stream) NumMapped() int {
	s.segMu.RLock()
	defer s.segMu.RUnlock()
	n := 0
	for _, seg := range s.segs {
		if seg != nil {
			n++
		}
	}
	return n
}

func (s *Stream) unmapAll() error {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	var firstErr error
	for i, seg := range s.segs {
		if seg == nil {
			continue
		}
		if err := unmapFile(seg.data); err != nil && firstErr == nil {
			firstErr = ioError("munmap", s.path, err)
		}
		s.segs[i] = nil
		metrics.SegmentsMapped.Dec()
	}
	s.segs = nil
	return firstErr
}

func (s *Stream) syncAll() error {
	if !s.writable {
		return nil
	}
	s.segMu.RLock()
	defer s.segMu.RUnlock()
	for _, seg := range s.segs {
		if seg == nil {
			continue
		}
		if err := syncMapping(seg.data); err != nil {
			return ioError("msync", s.path, err)
		}
	}
	return nil
}
