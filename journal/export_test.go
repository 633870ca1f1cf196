package journal

import "github.com/alpacahq/lfjournal/journal/stream"

// CrashAfterApply runs a commit up to the point where the operations are
// applied and the streams they staged are published, then stops as if the
// writer died before publishing the transaction itself.
func CrashAfterApply(tx *Tx) error {
	txHdr{opCount: uint16(len(tx.ops)), length: uint32(len(tx.strm.Staged())), timestamp: tx.j.Now()}.put(tx.strm.Staged())
	if err := tx.strm.Prepare(); err != nil {
		return err
	}
	for _, op := range tx.ops {
		if err := op.apply(tx); err != nil {
			return err
		}
	}
	for _, s := range tx.pending {
		if n := s.AllocLen() - s.CommittedLen(); n > 0 {
			if _, err := s.Commit(int(n)); err != nil {
				return err
			}
		}
	}
	for _, f := range tx.onCommit {
		f()
	}
	tx.done = true
	tx.release()
	return nil
}

// BeginCreateStream stages the creation of a stream on stream 0 without
// committing it.
func BeginCreateStream(j *Journal, name string, typ stream.Type) (*Tx, error) {
	s0 := j.stream(0)
	s0.Lock()
	prev := j.hdr.highestStrmNum()
	n, err := j.AllocateNextStreamNum()
	if err != nil {
		s0.Unlock()
		return nil, err
	}
	tx, err := j.beginLocked(s0)
	if err != nil {
		s0.Unlock()
		return nil, err
	}
	tx.ownsLock = true
	if err = tx.createStrm(n, typ, name, prev); err != nil {
		return nil, err
	}
	return tx, nil
}

// AddOp stages op as is, bypassing the checks of the typed Tx methods.
func AddOp(tx *Tx, op Op) error {
	_, err := tx.add(op)
	return err
}

// CreateVectorUpTo runs the transactions of a vector creation up to and
// excluding the one linking the vector to its item stream. Without
// withItemStream only the vector descriptor is committed.
func CreateVectorUpTo(j *Journal, spec VectorSpec, withItemStream bool) (uint32, error) {
	s0 := j.stream(0)
	s0.Lock()
	defer s0.Unlock()
	name := spec.name()
	prev := j.hdr.highestVecNumPlus1()
	vn, err := j.AllocateNextVectorNum()
	if err != nil {
		return 0, err
	}
	tx, err := j.beginLocked(s0)
	if err != nil {
		return 0, err
	}
	err = tx.createVec(&CreateVec{
		VecNum:           vn,
		Type:             spec.Type,
		Direction:        spec.Direction,
		PrevHighestPlus1: prev,
		ItemIdxBase:      spec.ItemIdxBase,
		InstanceID:       spec.InstanceID,
		Name:             name,
		CompID:           spec.CompID,
		SessionID:        spec.SessionID,
	})
	if err != nil {
		return 0, err
	}
	if _, _, err = tx.commit(); err != nil {
		return 0, err
	}
	if withItemStream {
		if _, _, err = j.createStreamLocked(name, stream.TxData); err != nil {
			return 0, err
		}
	}
	return vn, nil
}
