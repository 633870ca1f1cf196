package journal

import (
	"fmt"

	"github.com/alpacahq/lfjournal/journal/pos"
)

type readStrmInfo struct {
	discovered bool
	length     uint64
}

type readVecInfo struct {
	discovered bool
	// known is the number of items committed at the last DoSnapshot,
	// read the number of them a scan has already returned.
	known uint64
	read  uint64
}

// ReadSnapshot is a reader's view of the journal. It only changes on
// DoSnapshot, so every read made between two calls is bounded by the same
// committed lengths. A ReadSnapshot belongs to one goroutine; any number
// of them can follow a journal while its writer keeps going.
type ReadSnapshot struct {
	j           *Journal
	strms       [pos.MaxStrms]readStrmInfo
	vecs        [pos.MaxVecs]readVecInfo
	lastOffsets [pos.MaxStrms]uint64
}

func (j *Journal) NewReadSnapshot() *ReadSnapshot {
	rs := &ReadSnapshot{j: j}
	rs.DoSnapshot()
	return rs
}

// DoSnapshot discovers the streams and vectors committed since the last
// call and records the current committed length of every known one.
func (rs *ReadSnapshot) DoSnapshot() {
	j := rs.j
	if j.hdr == nil {
		return
	}
	// vectors first: their items must not outrun the stream lengths
	// recorded below
	if highest, ok := j.hdr.HighestCommittedVecNum(); ok {
		for n := uint32(0); n <= highest; n++ {
			ri := &rs.vecs[n]
			if !ri.discovered {
				if j.hdr.Vecs[n].state() != slotCommitted || j.vector(n) == nil {
					continue
				}
				ri.discovered = true
			}
			ri.known = j.vector(n).Len()
		}
	}

	highest := j.hdr.HighestCommittedStrmNum()
	for n := uint32(0); n <= highest; n++ {
		ri := &rs.strms[n]
		if !ri.discovered {
			if j.hdr.Strms[n].state() != slotCommitted || j.stream(n) == nil {
				continue
			}
			ri.discovered = true
		}
		ri.length = j.stream(n).CommittedLen()
	}
}

func (rs *ReadSnapshot) StrmDiscovered(n uint32) bool {
	return n < pos.MaxStrms && rs.strms[n].discovered
}

func (rs *ReadSnapshot) VecDiscovered(n uint32) bool {
	return n < pos.MaxVecs && rs.vecs[n].discovered
}

// StrmLen is the committed length of stream n at the last DoSnapshot.
func (rs *ReadSnapshot) StrmLen(n uint32) uint64 {
	if n >= pos.MaxStrms {
		return 0
	}
	return rs.strms[n].length
}

// StrmLens returns the committed length of every stream at the last
// DoSnapshot, indexed by stream number.
func (rs *ReadSnapshot) StrmLens() []uint64 {
	out := make([]uint64, pos.MaxStrms)
	for n := range rs.strms {
		out[n] = rs.strms[n].length
	}
	return out
}

// VecLen is the number of items of vector n at the last DoSnapshot.
func (rs *ReadSnapshot) VecLen(n uint32) uint64 {
	if n >= pos.MaxVecs {
		return 0
	}
	return rs.vecs[n].known
}

// LastRead is the number of items of vector n returned by scans so far.
func (rs *ReadSnapshot) LastRead(n uint32) uint64 {
	if n >= pos.MaxVecs {
		return 0
	}
	return rs.vecs[n].read
}

// ScanVectorUpTo walks the items of vector vecNum not returned by an
// earlier scan and returns how many became visible. It stops at the first
// item stamped after cutoff or whose record is not covered by
// committedLens. An item with a zero timestamp is checked against the
// offset lastOffsets holds for its stream, which each visible item
// advances to the end of its record. Nil slices select the snapshot's own
// lengths and offsets.
func (rs *ReadSnapshot) ScanVectorUpTo(vecNum uint32, cutoff int64, committedLens, lastOffsets []uint64) (int, error) {
	if vecNum >= pos.MaxVecs {
		return 0, OutOfRangeError(fmt.Sprintf("vector %d", vecNum))
	}
	ri := &rs.vecs[vecNum]
	if !ri.discovered {
		return 0, nil
	}
	if committedLens == nil {
		committedLens = rs.StrmLens()
	}
	if lastOffsets == nil {
		lastOffsets = rs.lastOffsets[:]
	}
	v := rs.j.vector(vecNum)
	if v == nil {
		return 0, OutOfRangeError(fmt.Sprintf("vector %d", vecNum))
	}

	total := 0
	for ri.read < ri.known {
		it, err := v.Item(v.ItemIdxBase() + ri.read)
		if err != nil {
			return total, err
		}
		sn := it.Pos.StrmNum()
		if int(sn) >= len(committedLens) || int(sn) >= len(lastOffsets) || !rs.strms[sn].discovered {
			break
		}
		end := it.Pos.End()
		if it.Timestamp == 0 {
			end = lastOffsets[sn]
		} else if it.Timestamp > cutoff {
			break
		}
		if end > committedLens[sn] {
			break
		}
		if end > lastOffsets[sn] {
			lastOffsets[sn] = end
		}
		ri.read++
		total++
	}
	return total, nil
}

// NextItems returns up to max items of vector vecNum that were committed
// at the last DoSnapshot and not yet returned, and marks them read.
func (rs *ReadSnapshot) NextItems(vecNum uint32, max int) ([]Item, error) {
	if vecNum >= pos.MaxVecs {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d", vecNum))
	}
	ri := &rs.vecs[vecNum]
	if !ri.discovered {
		return nil, nil
	}
	v := rs.j.vector(vecNum)
	if v == nil {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d", vecNum))
	}
	var out []Item
	for ri.read < ri.known && len(out) < max {
		it, err := v.Item(v.ItemIdxBase() + ri.read)
		if err != nil {
			return out, err
		}
		out = append(out, it)
		ri.read++
	}
	return out, nil
}
