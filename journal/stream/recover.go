package stream

import (
	"fmt"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/utils/log"
)

// RollbackFunc undoes the transaction whose bytes are inflight, found at
// stream offset off between committed_len and valid_len.
type RollbackFunc func(inflight []byte, off uint64) error

// Recover maps every segment up to valid_len and resolves a write that was
// cut short. A writable stream always restarts staging at committed_len.
// For a rollbackable transaction stream the in-flight bytes are handed to
// rollback and then zeroed up to the end of the segment holding the old
// valid_len.
func (s *Stream) Recover(rollback RollbackFunc) error {
	committed := s.counters.Committed()
	valid := s.counters.Valid()
	if valid < committed {
		return violation(fmt.Sprintf("%s: valid length %d behind committed length %d", s.name, valid, committed))
	}

	if valid > 0 {
		last := pos.SegNum(valid - 1)
		for segNum := uint32(0); segNum <= last; segNum++ {
			if _, err := s.MapSegment(segNum, s.writable); err != nil {
				return err
			}
		}
	}
	if !s.writable {
		return nil
	}

	if valid > committed {
		switch {
		case s.typ == Tx && s.rollbackable:
			inflight, err := s.CopyRange(committed, valid)
			if err != nil {
				return err
			}
			if rollback != nil {
				if err = rollback(inflight, committed); err != nil {
					return err
				}
			}
			segEnd := pos.SegStart(pos.SegNum(valid-1) + 1)
			if err = s.zeroRange(committed, segEnd); err != nil {
				return err
			}
			log.Warn("%s: rolled back %d in-flight bytes at offset %d", s.name, valid-committed, committed)
		case s.rollbackable:
			log.Warn("%s: dropping %d uncommitted bytes at offset %d", s.name, valid-committed, committed)
		default:
			log.Warn("%s: not rollbackable, leaving %d uncommitted bytes at offset %d", s.name, valid-committed, committed)
		}
	}

	s.counters.setValid(committed)
	s.counters.setAlloc(committed)
	s.buf, s.heap = nil, false
	return nil
}
