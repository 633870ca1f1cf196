package journal

import (
	"github.com/alpacahq/lfjournal/journal/pos"
)

// Msg is one message to store and index.
type Msg struct {
	VecNum    uint32
	Data      []byte
	Tags      []byte
	Timestamp int64
}

// ExecuteMsg stores data in a transaction on txStrm and appends an item
// pointing at it to vector vecNum. A zero timestamp takes the journal
// clock's time.
func (j *Journal) ExecuteMsg(txStrm, vecNum uint32, data []byte, timestamp int64) (uint64, pos.Pos, error) {
	idxs, ps, err := j.ExecuteMsgs(txStrm, []Msg{{VecNum: vecNum, Data: data, Timestamp: timestamp}})
	if err != nil {
		return 0, pos.Null, err
	}
	return idxs[0], ps[0], nil
}

// ExecuteMsgs stores and indexes a batch of messages in one transaction.
// Either every message becomes visible or none does.
func (j *Journal) ExecuteMsgs(txStrm uint32, msgs []Msg) ([]uint64, []pos.Pos, error) {
	tx, err := j.Begin(txStrm)
	if err != nil {
		return nil, nil, err
	}
	vecs := make([]uint32, len(msgs))
	for i, m := range msgs {
		vecs[i] = m.VecNum
	}
	if err = tx.LockVectors(vecs...); err != nil {
		return nil, nil, err
	}
	idxs := make([]uint64, len(msgs))
	ps := make([]pos.Pos, len(msgs))
	for i, m := range msgs {
		ts := m.Timestamp
		if ts == 0 {
			ts = j.Now()
		}
		if ps[i], err = tx.StoreOrderDataWithAux(m.Data, m.Tags, false); err != nil {
			return nil, nil, err
		}
		if idxs[i], err = tx.SetVecItem(m.VecNum, ps[i], ts); err != nil {
			return nil, nil, err
		}
	}
	if _, err = tx.Commit(); err != nil {
		return nil, nil, err
	}
	return idxs, ps, nil
}

// PatchMsg stores a correction of item idx of vector vecNum. The
// correction is appended as a new item whose position carries the patch
// flag, and the original item is flagged as patched.
func (j *Journal) PatchMsg(txStrm, vecNum uint32, idx uint64, data []byte, timestamp int64) (uint64, error) {
	tx, err := j.Begin(txStrm)
	if err != nil {
		return 0, err
	}
	if timestamp == 0 {
		timestamp = j.Now()
	}
	p, err := tx.StoreOrderData(data, true)
	if err != nil {
		return 0, err
	}
	if err = tx.SetItemPosFlag(vecNum, idx, true); err != nil {
		return 0, err
	}
	patchIdx, err := tx.SetVecItem(vecNum, p, timestamp)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Commit(); err != nil {
		return 0, err
	}
	return patchIdx, nil
}
