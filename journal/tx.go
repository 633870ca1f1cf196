package journal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/metrics"
	"github.com/alpacahq/lfjournal/utils/io"
	"github.com/alpacahq/lfjournal/utils/log"
)

// Transaction record layout on a TX_STREAM:
//
//	TxHdr   u32 magic | u16 op count | u16 flags | u32 total length | u32 0 | i64 timestamp
//	OpHdr   u16 code | u16 0 | u32 payload length
//	payload padded to 8 bytes
const (
	txHdrSize        = 24
	opHdrSize        = 8
	txMagic   uint32 = 0x5854464c // "LFTX"
)

type txHdr struct {
	opCount   uint16
	flags     uint16
	length    uint32
	timestamp int64
}

func (h txHdr) put(b []byte) {
	le.PutUint32(b[0:], txMagic)
	le.PutUint16(b[4:], h.opCount)
	le.PutUint16(b[6:], h.flags)
	le.PutUint32(b[8:], h.length)
	le.PutUint32(b[12:], 0)
	le.PutUint64(b[16:], uint64(h.timestamp))
}

func readTxHdr(b []byte) (txHdr, error) {
	if len(b) < txHdrSize {
		return txHdr{}, errShortOp
	}
	if m := le.Uint32(b[0:]); m != txMagic {
		return txHdr{}, InvariantViolation(fmt.Sprintf("bad transaction magic %#x", m))
	}
	return txHdr{
		opCount:   le.Uint16(b[4:]),
		flags:     le.Uint16(b[6:]),
		length:    le.Uint32(b[8:]),
		timestamp: int64(le.Uint64(b[16:])),
	}, nil
}

// Tx is an open transaction on a TX_STREAM. Operations are staged in the
// order they are added and take effect together on Commit. A Tx is used
// by one goroutine; it holds its stream's write lock until it finishes.
type Tx struct {
	j        *Journal
	strm     *stream.Stream
	ownsLock bool
	start    uint64
	began    time.Time

	ops      []Op
	locked   []*stream.Stream
	pending  []*stream.Stream
	onCommit []func()
	events   []Event
	added    map[uint32]uint64

	done     bool
	released bool
}

// Begin opens a transaction on the TX_STREAM txStrm.
func (j *Journal) Begin(txStrm uint32) (*Tx, error) {
	if err := j.checkWritable(); err != nil {
		return nil, err
	}
	s := j.stream(txStrm)
	if s == nil {
		return nil, OutOfRangeError(fmt.Sprintf("stream %d", txStrm))
	}
	if s.Type() != stream.Tx {
		return nil, InvariantViolation(fmt.Sprintf("%s is a %s, not a transaction stream", s.Name(), s.Type()))
	}
	s.Lock()
	tx, err := j.beginLocked(s)
	if err != nil {
		s.Unlock()
		return nil, err
	}
	tx.ownsLock = true
	return tx, nil
}

// beginLocked starts a transaction on s, whose lock the caller holds.
func (j *Journal) beginLocked(s *stream.Stream) (*Tx, error) {
	if staged := s.AllocLen() - s.CommittedLen(); staged != 0 {
		return nil, InvariantViolation(fmt.Sprintf("%s: %d bytes left staged by an unfinished transaction", s.Name(), staged))
	}
	buf, off, err := s.StageWrite(txHdrSize)
	if err != nil {
		return nil, err
	}
	io.Zero(buf)
	return &Tx{
		j:     j,
		strm:  s,
		start: off,
		began: time.Now(),
		added: map[uint32]uint64{},
	}, nil
}

// StrmNum is the transaction stream this transaction is written to.
func (tx *Tx) StrmNum() uint32 {
	return tx.strm.Num()
}

// NumOps is the number of operations added so far.
func (tx *Tx) NumOps() int {
	return len(tx.ops)
}

// add stages op on the transaction stream and returns the stream offset
// of its payload. Any failure aborts the transaction.
func (tx *Tx) add(op Op) (uint64, error) {
	if tx.done {
		return 0, InvariantViolation(fmt.Sprintf("%s: operation %s on a finished transaction", tx.strm.Name(), op.Code()))
	}
	if len(tx.ops) == math.MaxUint16 {
		return 0, tx.fail(CapacityExceededError(fmt.Sprintf("%s: operations per transaction", tx.strm.Name())))
	}
	size := op.size()
	if uint64(size) > math.MaxUint32-opHdrSize {
		return 0, tx.fail(OutOfRangeError(fmt.Sprintf("%s: %s payload of %d bytes", tx.strm.Name(), op.Code(), size)))
	}
	padded := io.AlignedSize(size)
	buf, off, err := tx.strm.StageWrite(opHdrSize + padded)
	if err != nil {
		return 0, tx.fail(err)
	}
	le.PutUint16(buf[0:], uint16(op.Code()))
	le.PutUint16(buf[2:], 0)
	le.PutUint32(buf[4:], uint32(size))
	op.encode(buf[opHdrSize : opHdrSize+size])
	io.Zero(buf[opHdrSize+size:])
	tx.ops = append(tx.ops, op)
	return off + opHdrSize, nil
}

func (tx *Tx) fail(err error) error {
	tx.Abort()
	return err
}

// lockItemStream takes the write lock of a vector's item stream for the
// rest of the transaction. Item streams are locked in ascending stream
// number: a transaction only waits for a stream numbered above every one
// it holds, and gives up with LockOrderError when a lower one is taken.
func (tx *Tx) lockItemStream(s *stream.Stream) error {
	var highest uint32
	for _, l := range tx.locked {
		if l == s {
			return nil
		}
		if l.Num() > highest {
			highest = l.Num()
		}
	}
	if s.Num() > highest {
		s.Lock()
	} else if !s.TryLock() {
		return LockOrderError(fmt.Sprintf("%s: %s after stream %d", tx.strm.Name(), s.Name(), highest))
	}
	tx.locked = append(tx.locked, s)
	return nil
}

// LockVectors takes the item stream locks of the given vectors in stream
// order. Called before the first SetVecItem, it cannot fail on lock order.
func (tx *Tx) LockVectors(vecNums ...uint32) error {
	if tx.done {
		return InvariantViolation(fmt.Sprintf("%s: lock on a finished transaction", tx.strm.Name()))
	}
	strms := make([]*stream.Stream, 0, len(vecNums))
	for _, n := range vecNums {
		v := tx.j.vector(n)
		if v == nil {
			return tx.fail(OutOfRangeError(fmt.Sprintf("vector %d", n)))
		}
		s, err := v.itemStream()
		if err != nil {
			return tx.fail(err)
		}
		strms = append(strms, s)
	}
	sort.Slice(strms, func(a, b int) bool { return strms[a].Num() < strms[b].Num() })
	for _, s := range strms {
		if err := tx.lockItemStream(s); err != nil {
			return tx.fail(err)
		}
	}
	return nil
}

// pend schedules a stream with staged bytes to be committed with the
// transaction.
func (tx *Tx) pend(s *stream.Stream) {
	for _, p := range tx.pending {
		if p == s {
			return
		}
	}
	tx.pending = append(tx.pending, s)
}

// StoreOrderData stores data in the transaction itself and returns its
// position. The position carries the patch flag.
func (tx *Tx) StoreOrderData(data []byte, patch bool) (pos.Pos, error) {
	return tx.StoreOrderDataWithAux(data, nil, patch)
}

// StoreOrderDataWithAux stores data followed by auxiliary tags. An item
// pointing at the returned position reports its tags Ready once the
// transaction commits.
func (tx *Tx) StoreOrderDataWithAux(data, tags []byte, patch bool) (pos.Pos, error) {
	if len(data) > pos.LenMask {
		return pos.Null, tx.fail(OutOfRangeError(fmt.Sprintf("record of %d bytes", len(data))))
	}
	off, err := tx.add(&StoreOrderData{Data: data, Tags: tags, Patch: patch})
	if err != nil {
		return pos.Null, err
	}
	return pos.New(tx.strm.Num(), off+storeOrderDataPrefix, uint32(len(data)), patch), nil
}

// StoreMultiOrderData stores several records in one operation.
func (tx *Tx) StoreMultiOrderData(records [][]byte) ([]pos.Pos, error) {
	for _, r := range records {
		if len(r) > pos.LenMask {
			return nil, tx.fail(OutOfRangeError(fmt.Sprintf("record of %d bytes", len(r))))
		}
	}
	op := &StoreMultiOrderData{Records: records}
	off, err := tx.add(op)
	if err != nil {
		return nil, err
	}
	out := make([]pos.Pos, len(records))
	for i, recOff := range op.offsets() {
		out[i] = pos.New(tx.strm.Num(), off+recOff, uint32(len(records[i])), false)
	}
	return out, nil
}

// SetVecItem appends an item to vector vecNum and returns the index it
// will have once committed.
func (tx *Tx) SetVecItem(vecNum uint32, p pos.Pos, timestamp int64) (uint64, error) {
	v := tx.j.vector(vecNum)
	if v == nil {
		return 0, tx.fail(OutOfRangeError(fmt.Sprintf("vector %d", vecNum)))
	}
	s, err := v.itemStream()
	if err != nil {
		return 0, tx.fail(err)
	}
	if err = tx.lockItemStream(s); err != nil {
		return 0, tx.fail(err)
	}
	n := tx.added[vecNum]
	op := &SetVecItem{
		VecNum:    vecNum,
		SeqNum:    v.NextIndex() + n,
		Pos:       p,
		Timestamp: timestamp,
		PrevLen:   s.AllocLen() + n*ItemSize,
	}
	if _, err = tx.add(op); err != nil {
		return 0, err
	}
	tx.added[vecNum] = n + 1
	return op.SeqNum, nil
}

// SetItemPosFlag sets or clears the patch flag of a committed item.
func (tx *Tx) SetItemPosFlag(vecNum uint32, idx uint64, flag bool) error {
	v := tx.j.vector(vecNum)
	if v == nil {
		return tx.fail(OutOfRangeError(fmt.Sprintf("vector %d", vecNum)))
	}
	it, err := v.Item(idx)
	if err != nil {
		return tx.fail(err)
	}
	_, err = tx.add(&SetItemPosFlag{VecNum: vecNum, SeqNum: idx, Flag: flag, OldPos: it.Pos})
	return err
}

// SetAuxPos records the position of a committed item's auxiliary record.
func (tx *Tx) SetAuxPos(vecNum uint32, idx uint64, aux pos.Pos) error {
	v := tx.j.vector(vecNum)
	if v == nil {
		return tx.fail(OutOfRangeError(fmt.Sprintf("vector %d", vecNum)))
	}
	it, err := v.Item(idx)
	if err != nil {
		return tx.fail(err)
	}
	_, err = tx.add(&SetAuxPos{VecNum: vecNum, SeqNum: idx, AuxPos: aux, OldAuxPos: it.AuxPos, OldFlags: it.Flags})
	return err
}

// Pad adds n zero bytes to the transaction.
func (tx *Tx) Pad(n uint32) error {
	_, err := tx.add(&Pad{Len: n})
	return err
}

func (tx *Tx) createStrm(n uint32, typ stream.Type, name string, prevHighest uint32) error {
	_, err := tx.add(&CreateStrm{StrmNum: n, Type: typ, Name: name, PrevHighest: prevHighest})
	return err
}

func (tx *Tx) createVec(op *CreateVec) error {
	_, err := tx.add(op)
	return err
}

func (tx *Tx) setVecStrmNum(vecNum, strmNum uint32) error {
	v := tx.j.vector(vecNum)
	if v == nil {
		return tx.fail(OutOfRangeError(fmt.Sprintf("vector %d", vecNum)))
	}
	_, err := tx.add(&SetVecStrmNum{VecNum: vecNum, StrmNum: strmNum, OldStrmNum: v.StrmNum()})
	return err
}

// Commit makes every operation of the transaction visible at once and
// returns the position of the transaction record. Observers are notified
// after the transaction's locks are released.
func (tx *Tx) Commit() (pos.Pos, error) {
	p, events, err := tx.commit()
	if err != nil {
		return pos.Null, err
	}
	tx.j.notify(events)
	return p, nil
}

func (tx *Tx) commit() (pos.Pos, []Event, error) {
	if tx.done {
		return pos.Null, nil, InvariantViolation(fmt.Sprintf("%s: commit of a finished transaction", tx.strm.Name()))
	}
	defer tx.release()

	staged := tx.strm.Staged()
	total := len(staged)
	txHdr{opCount: uint16(len(tx.ops)), length: uint32(total), timestamp: tx.j.Now()}.put(staged[:txHdrSize])

	if err := tx.strm.Prepare(); err != nil {
		tx.undo(0, "abort")
		return pos.Null, nil, err
	}
	for i, op := range tx.ops {
		if err := op.apply(tx); err != nil {
			log.Error("%s: %s failed, rolling back: %v", tx.strm.Name(), op.Code(), err)
			tx.undo(i, "abort")
			return pos.Null, nil, err
		}
	}
	for _, s := range tx.pending {
		if n := s.AllocLen() - s.CommittedLen(); n > 0 {
			if _, err := s.Commit(int(n)); err != nil {
				tx.undo(len(tx.ops), "abort")
				return pos.Null, nil, err
			}
		}
	}
	for _, f := range tx.onCommit {
		f()
	}
	if _, err := tx.strm.Commit(total); err != nil {
		tx.undo(len(tx.ops), "abort")
		return pos.Null, nil, err
	}

	tx.done = true
	metrics.TxCommittedTotal.Inc()
	metrics.TxCommitDuration.Observe(time.Since(tx.began).Seconds())
	return pos.New(tx.strm.Num(), tx.start, 0, false), tx.events, nil
}

// undo reverts the first n applied operations in reverse order and drops
// everything staged by the transaction.
func (tx *Tx) undo(n int, reason string) {
	for i := n - 1; i >= 0; i-- {
		if err := tx.ops[i].undo(tx.j); err != nil {
			log.Error("%s: undo of %s failed: %v", tx.strm.Name(), tx.ops[i].Code(), err)
		}
	}
	for _, s := range tx.pending {
		if s.AllocLen() > s.CommittedLen() {
			if err := s.Discard(); err != nil {
				log.Error("%s: discard failed: %v", s.Name(), err)
			}
		}
	}
	if err := tx.strm.Discard(); err != nil {
		log.Error("%s: discard failed: %v", tx.strm.Name(), err)
	}
	tx.done = true
	tx.events = nil
	metrics.TxRolledBackTotal.WithLabelValues(reason).Inc()
}

// Abort drops the transaction. Nothing it staged becomes visible. Calling
// Abort on a finished transaction does nothing.
func (tx *Tx) Abort() {
	if !tx.done {
		tx.undo(0, "abort")
	}
	tx.release()
}

func (tx *Tx) release() {
	if tx.released {
		return
	}
	tx.released = true
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.locked[i].Unlock()
	}
	tx.locked = nil
	if tx.ownsLock {
		tx.strm.Unlock()
	}
}

// rollbackInflight undoes the transaction a crash left between
// committed_len and valid_len of a transaction stream.
func (j *Journal) rollbackInflight(name string) stream.RollbackFunc {
	return func(inflight []byte, off uint64) error {
		h, err := readTxHdr(inflight)
		if err != nil {
			return err
		}
		if int(h.length) != len(inflight) {
			return InvariantViolation(fmt.Sprintf("%s: in-flight transaction at %d is %d bytes, record says %d",
				name, off, len(inflight), h.length))
		}
		ops, err := decodeOps(inflight[txHdrSize:], int(h.opCount))
		if err != nil {
			return err
		}
		for i := len(ops) - 1; i >= 0; i-- {
			if err = ops[i].undo(j); err != nil {
				return err
			}
		}
		metrics.TxRolledBackTotal.WithLabelValues("recovery").Inc()
		log.Warn("%s: undid %d operations of the transaction at offset %d", name, len(ops), off)
		return nil
	}
}

// TxRecord is a decoded committed transaction.
type TxRecord struct {
	Pos       pos.Pos
	Timestamp int64
	Ops       []Op
}

// Transactions decodes the committed transactions of a TX_STREAM starting
// at offset from. Stream 0 starts with the bootstrap record holding the
// header, which is skipped.
func (j *Journal) Transactions(txStrm uint32, from uint64) ([]TxRecord, error) {
	s := j.stream(txStrm)
	if s == nil {
		return nil, OutOfRangeError(fmt.Sprintf("stream %d", txStrm))
	}
	if txStrm == 0 && from < uint64(bootstrapLen) {
		from = uint64(bootstrapLen)
	}
	end := s.CommittedLen()
	var out []TxRecord
	for off := from; off < end; {
		raw, err := s.CopyRange(off, off+txHdrSize)
		if err != nil {
			return out, err
		}
		h, err := readTxHdr(raw)
		if err != nil {
			return out, err
		}
		if h.length < txHdrSize || off+uint64(h.length) > end {
			return out, InvariantViolation(fmt.Sprintf("%s: transaction at %d has length %d", s.Name(), off, h.length))
		}
		body, err := s.CopyRange(off+txHdrSize, off+uint64(h.length))
		if err != nil {
			return out, err
		}
		ops, err := decodeOps(body, int(h.opCount))
		if err != nil {
			return out, err
		}
		out = append(out, TxRecord{Pos: pos.New(txStrm, off, 0, false), Timestamp: h.timestamp, Ops: ops})
		off += uint64(h.length)
	}
	return out, nil
}
