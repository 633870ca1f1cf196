package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/utils/io"
)

type OpCode uint16

const (
	OpTxHdr OpCode = iota
	OpOnDiskJournalHdr
	OpCreateStrm
	OpCreateVec
	OpSetVecItem
	OpPad
	OpStoreOrderData
	OpSetItemPosFlag
	OpSetVecStrmNum
	OpSetAuxPos
	OpStoreMultiOrderData
)

func (c OpCode) String() string {
	switch c {
	case OpTxHdr:
		return "TX_HDR"
	case OpOnDiskJournalHdr:
		return "ON_DISK_JOURNAL_HDR"
	case OpCreateStrm:
		return "CREATE_STRM"
	case OpCreateVec:
		return "CREATE_VEC"
	case OpSetVecItem:
		return "SET_VEC_ITEM"
	case OpPad:
		return "PAD"
	case OpStoreOrderData:
		return "STORE_ORDER_DATA"
	case OpSetItemPosFlag:
		return "SET_ITEM_POS_FLAG"
	case OpSetVecStrmNum:
		return "SET_VEC_STRM_NUM"
	case OpSetAuxPos:
		return "SET_AUX_POS"
	case OpStoreMultiOrderData:
		return "STORE_MULTI_ORDER_DATA"
	default:
		return fmt.Sprintf("OP_%d", uint16(c))
	}
}

// Op is one operation of a transaction. The set of implementations is
// closed: every type below, and nothing else. Each operation records the
// state it overwrites so that undo can restore it after a crash.
type Op interface {
	Code() OpCode
	size() int
	encode(b []byte)
	apply(tx *Tx) error
	undo(j *Journal) error
}

var le = binary.LittleEndian

func putString(b []byte, s string) int {
	le.PutUint32(b, uint32(len(s)))
	return 4 + copy(b[4:], s)
}

func getString(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, errShortOp
	}
	n := int(le.Uint32(b))
	if len(b) < 4+n {
		return "", 0, errShortOp
	}
	return string(b[4 : 4+n]), 4 + n, nil
}

var errShortOp = InvariantViolation("truncated transaction operation")

// CreateStrm creates a stream and its backing file.
type CreateStrm struct {
	StrmNum     uint32
	Type        stream.Type
	Name        string
	PrevHighest uint32
}

func (op *CreateStrm) Code() OpCode { return OpCreateStrm }

func (op *CreateStrm) size() int { return 16 + len(op.Name) }

func (op *CreateStrm) encode(b []byte) {
	le.PutUint32(b[0:], op.StrmNum)
	le.PutUint32(b[4:], uint32(op.Type))
	le.PutUint32(b[8:], op.PrevHighest)
	putString(b[12:], op.Name)
}

func decodeCreateStrm(b []byte) (Op, error) {
	if len(b) < 16 {
		return nil, errShortOp
	}
	name, _, err := getString(b[12:])
	if err != nil {
		return nil, err
	}
	return &CreateStrm{
		StrmNum:     le.Uint32(b[0:]),
		Type:        stream.Type(le.Uint32(b[4:])),
		PrevHighest: le.Uint32(b[8:]),
		Name:        name,
	}, nil
}

func (op *CreateStrm) apply(tx *Tx) error {
	j := tx.j
	if op.StrmNum == 0 || op.StrmNum >= pos.MaxStrms {
		return OutOfRangeError(fmt.Sprintf("stream %d", op.StrmNum))
	}
	si := &j.hdr.Strms[op.StrmNum]
	if si.state() != slotFree || j.stream(op.StrmNum) != nil {
		return InvariantViolation(fmt.Sprintf("stream %d already initialized", op.StrmNum))
	}
	si.StrmNumPlus1 = op.StrmNum + 1
	si.Type = uint32(op.Type)
	io.PutFixedString(si.Name[:], op.Name)
	si.Counters.Reset()
	si.setState(slotAllocated)

	if _, err := j.openStream(op.StrmNum, si, true); err != nil {
		clearStrmSlot(si)
		return err
	}
	tx.onCommit = append(tx.onCommit, func() { si.setState(slotCommitted) })
	return nil
}

func (op *CreateStrm) undo(j *Journal) error {
	if err := j.dropStream(op.StrmNum); err != nil {
		return err
	}
	j.restoreHighestStrmNum(op.StrmNum, op.PrevHighest)
	return nil
}

// CreateVec creates a vector descriptor. The vector has no item stream
// until a SetVecStrmNum for it commits.
type CreateVec struct {
	VecNum           uint32
	Type             VecType
	Direction        Direction
	PrevHighestPlus1 uint32
	ItemIdxBase      uint64
	InstanceID       uint64
	Name             string
	EncodeName       string
	CompID           string
	SessionID        string
}

func (op *CreateVec) Code() OpCode { return OpCreateVec }

func (op *CreateVec) size() int {
	return 32 + 16 + len(op.Name) + len(op.EncodeName) + len(op.CompID) + len(op.SessionID)
}

func (op *CreateVec) encode(b []byte) {
	le.PutUint32(b[0:], op.VecNum)
	le.PutUint32(b[4:], uint32(op.Type))
	le.PutUint32(b[8:], uint32(op.Direction))
	le.PutUint32(b[12:], op.PrevHighestPlus1)
	le.PutUint64(b[16:], op.ItemIdxBase)
	le.PutUint64(b[24:], op.InstanceID)
	off := 32
	for _, s := range []string{op.Name, op.EncodeName, op.CompID, op.SessionID} {
		off += putString(b[off:], s)
	}
}

func decodeCreateVec(b []byte) (Op, error) {
	if len(b) < 48 {
		return nil, errShortOp
	}
	op := &CreateVec{
		VecNum:           le.Uint32(b[0:]),
		Type:             VecType(le.Uint32(b[4:])),
		Direction:        Direction(le.Uint32(b[8:])),
		PrevHighestPlus1: le.Uint32(b[12:]),
		ItemIdxBase:      le.Uint64(b[16:]),
		InstanceID:       le.Uint64(b[24:]),
	}
	off := 32
	for _, dst := range []*string{&op.Name, &op.EncodeName, &op.CompID, &op.SessionID} {
		s, n, err := getString(b[off:])
		if err != nil {
			return nil, err
		}
		*dst = s
		off += n
	}
	return op, nil
}

func (op *CreateVec) apply(tx *Tx) error {
	j := tx.j
	if op.VecNum >= pos.MaxVecs {
		return OutOfRangeError(fmt.Sprintf("vector %d", op.VecNum))
	}
	vi := &j.hdr.Vecs[op.VecNum]
	if vi.state() != slotFree || j.vector(op.VecNum) != nil {
		return InvariantViolation(fmt.Sprintf("vector %d already initialized", op.VecNum))
	}
	vi.VecNumPlus1 = op.VecNum + 1
	vi.Type = uint32(op.Type)
	vi.Direction = uint32(op.Direction)
	vi.ItemIdxBase = op.ItemIdxBase
	vi.InstanceID = op.InstanceID
	vi.setStrmNum(0)
	io.PutFixedString(vi.Name[:], op.Name)
	io.PutFixedString(vi.EncodeName[:], op.EncodeName)
	io.PutFixedString(vi.CompID[:], op.CompID)
	io.PutFixedString(vi.SessionID[:], op.SessionID)
	vi.setState(slotAllocated)

	j.setVector(op.VecNum, newVector(op.VecNum, vi, j))
	return nil
}

func (op *CreateVec) undo(j *Journal) error {
	j.setVector(op.VecNum, nil)
	clearVecSlot(&j.hdr.Vecs[op.VecNum])
	j.restoreHighestVecNumPlus1(op.VecNum, op.PrevHighestPlus1)
	return nil
}

// SetVecItem appends one item to a vector. SeqNum is the index the item
// must get; PrevLen is the item stream length before it.
type SetVecItem struct {
	VecNum    uint32
	SeqNum    uint64
	Pos       pos.Pos
	Timestamp int64
	PrevLen   uint64
}

func (op *SetVecItem) Code() OpCode { return OpSetVecItem }

func (op *SetVecItem) size() int { return 40 }

func (op *SetVecItem) encode(b []byte) {
	le.PutUint32(b[0:], op.VecNum)
	le.PutUint32(b[4:], 0)
	le.PutUint64(b[8:], op.SeqNum)
	le.PutUint64(b[16:], uint64(op.Pos))
	le.PutUint64(b[24:], uint64(op.Timestamp))
	le.PutUint64(b[32:], op.PrevLen)
}

func decodeSetVecItem(b []byte) (Op, error) {
	if len(b) < 40 {
		return nil, errShortOp
	}
	return &SetVecItem{
		VecNum:    le.Uint32(b[0:]),
		SeqNum:    le.Uint64(b[8:]),
		Pos:       pos.Pos(le.Uint64(b[16:])),
		Timestamp: int64(le.Uint64(b[24:])),
		PrevLen:   le.Uint64(b[32:]),
	}, nil
}

func (op *SetVecItem) apply(tx *Tx) error {
	v := tx.j.vector(op.VecNum)
	if v == nil {
		return OutOfRangeError(fmt.Sprintf("vector %d", op.VecNum))
	}
	if next := v.NextIndex(); next != op.SeqNum {
		return InvariantViolation(fmt.Sprintf("vector %d: item %d set while next index is %d", op.VecNum, op.SeqNum, next))
	}
	s, err := v.itemStream()
	if err != nil {
		return err
	}
	idx, err := v.AppendItem(op.Pos, op.Timestamp)
	if err != nil {
		return err
	}
	tx.pend(s)
	kind := VectorUpdate
	if v.Type() == OrderVec {
		kind = OrderbookUpdate
	}
	tx.events = append(tx.events, Event{Kind: kind, Name: v.Name(), VecNum: op.VecNum, Idx: idx, Pos: op.Pos})
	return nil
}

func (op *SetVecItem) undo(j *Journal) error {
	v := j.vector(op.VecNum)
	if v == nil {
		return nil
	}
	s, err := v.itemStream()
	if err != nil {
		return nil
	}
	if s.CommittedLen() > op.PrevLen {
		return s.RollbackTo(op.PrevLen)
	}
	if s.AllocLen() > s.CommittedLen() {
		return s.Discard()
	}
	return nil
}

// Pad fills the transaction with Len zero bytes.
type Pad struct {
	Len uint32
}

func (op *Pad) Code() OpCode { return OpPad }

func (op *Pad) size() int { return int(op.Len) }

func (op *Pad) encode(b []byte) { io.Zero(b) }

func (op *Pad) apply(*Tx) error { return nil }

func (op *Pad) undo(*Journal) error { return nil }

// StoreOrderData keeps a record inside the transaction itself. The payload
// is laid out so that the record is directly followed by its aux length
// prefix and aux tags:
//
//	u32 len(Data) | u32 flags | Data | u32 len(Tags) | Tags
type StoreOrderData struct {
	Data  []byte
	Tags  []byte
	Patch bool
}

const storeOrderDataPrefix = 8

func (op *StoreOrderData) Code() OpCode { return OpStoreOrderData }

func (op *StoreOrderData) size() int {
	return storeOrderDataPrefix + len(op.Data) + auxLenSize + len(op.Tags)
}

func (op *StoreOrderData) encode(b []byte) {
	le.PutUint32(b[0:], uint32(len(op.Data)))
	var flags uint32
	if op.Patch {
		flags = 1
	}
	le.PutUint32(b[4:], flags)
	n := storeOrderDataPrefix + copy(b[storeOrderDataPrefix:], op.Data)
	le.PutUint32(b[n:], uint32(len(op.Tags)))
	copy(b[n+auxLenSize:], op.Tags)
}

func decodeStoreOrderData(b []byte) (Op, error) {
	if len(b) < storeOrderDataPrefix+auxLenSize {
		return nil, errShortOp
	}
	dataLen := int(le.Uint32(b[0:]))
	end := storeOrderDataPrefix + dataLen
	if len(b) < end+auxLenSize {
		return nil, errShortOp
	}
	tagsLen := int(le.Uint32(b[end:]))
	if len(b) < end+auxLenSize+tagsLen {
		return nil, errShortOp
	}
	return &StoreOrderData{
		Data:  b[storeOrderDataPrefix:end],
		Tags:  b[end+auxLenSize : end+auxLenSize+tagsLen],
		Patch: le.Uint32(b[4:])&1 == 1,
	}, nil
}

func (op *StoreOrderData) apply(*Tx) error { return nil }

func (op *StoreOrderData) undo(*Journal) error { return nil }

// SetItemPosFlag sets or clears the patch flag of an item's Pos.
type SetItemPosFlag struct {
	VecNum uint32
	Flag   bool
	SeqNum uint64
	OldPos pos.Pos
}

func (op *SetItemPosFlag) Code() OpCode { return OpSetItemPosFlag }

func (op *SetItemPosFlag) size() int { return 24 }

func (op *SetItemPosFlag) encode(b []byte) {
	le.PutUint32(b[0:], op.VecNum)
	var flag uint32
	if op.Flag {
		flag = 1
	}
	le.PutUint32(b[4:], flag)
	le.PutUint64(b[8:], op.SeqNum)
	le.PutUint64(b[16:], uint64(op.OldPos))
}

func decodeSetItemPosFlag(b []byte) (Op, error) {
	if len(b) < 24 {
		return nil, errShortOp
	}
	return &SetItemPosFlag{
		VecNum: le.Uint32(b[0:]),
		Flag:   le.Uint32(b[4:]) == 1,
		SeqNum: le.Uint64(b[8:]),
		OldPos: pos.Pos(le.Uint64(b[16:])),
	}, nil
}

func (op *SetItemPosFlag) apply(tx *Tx) error {
	v := tx.j.vector(op.VecNum)
	if v == nil {
		return OutOfRangeError(fmt.Sprintf("vector %d", op.VecNum))
	}
	b, err := v.slot(op.SeqNum)
	if err != nil {
		return err
	}
	p := op.OldPos.WithFlag(op.Flag)
	io.StoreUInt64(b[0:], uint64(p))
	tx.events = append(tx.events, Event{Kind: VectorUpdate, Name: v.Name(), VecNum: op.VecNum, Idx: op.SeqNum, Pos: p})
	return nil
}

func (op *SetItemPosFlag) undo(j *Journal) error {
	v := j.vector(op.VecNum)
	if v == nil {
		return nil
	}
	b, err := v.slot(op.SeqNum)
	if err != nil {
		return nil
	}
	io.StoreUInt64(b[0:], uint64(op.OldPos))
	return nil
}

// SetVecStrmNum attaches a vector to its item stream and publishes it.
type SetVecStrmNum struct {
	VecNum     uint32
	StrmNum    uint32
	OldStrmNum uint32
}

func (op *SetVecStrmNum) Code() OpCode { return OpSetVecStrmNum }

func (op *SetVecStrmNum) size() int { return 16 }

func (op *SetVecStrmNum) encode(b []byte) {
	le.PutUint32(b[0:], op.VecNum)
	le.PutUint32(b[4:], op.StrmNum)
	le.PutUint32(b[8:], op.OldStrmNum)
	le.PutUint32(b[12:], 0)
}

func decodeSetVecStrmNum(b []byte) (Op, error) {
	if len(b) < 16 {
		return nil, errShortOp
	}
	return &SetVecStrmNum{
		VecNum:     le.Uint32(b[0:]),
		StrmNum:    le.Uint32(b[4:]),
		OldStrmNum: le.Uint32(b[8:]),
	}, nil
}

func (op *SetVecStrmNum) apply(tx *Tx) error {
	j := tx.j
	v := j.vector(op.VecNum)
	if v == nil {
		return OutOfRangeError(fmt.Sprintf("vector %d", op.VecNum))
	}
	s := j.stream(op.StrmNum)
	if s == nil {
		return OutOfRangeError(fmt.Sprintf("stream %d", op.StrmNum))
	}
	if s.Type() != stream.TxData {
		return InvariantViolation(fmt.Sprintf("vector %d: item stream %d is %s", op.VecNum, op.StrmNum, s.Type()))
	}
	vi := v.info
	vi.setStrmNum(op.StrmNum)
	tx.onCommit = append(tx.onCommit, func() { vi.setState(slotCommitted) })
	tx.events = append(tx.events, Event{Kind: VectorCreated, Name: v.Name(), VecNum: op.VecNum, StrmNum: op.StrmNum})
	return nil
}

func (op *SetVecStrmNum) undo(j *Journal) error {
	vi := &j.hdr.Vecs[op.VecNum]
	if vi.state() == slotFree {
		return nil
	}
	vi.setStrmNum(op.OldStrmNum)
	if op.OldStrmNum == 0 {
		vi.setState(slotAllocated)
	}
	return nil
}

// SetAuxPos records where an item's auxiliary record lives.
type SetAuxPos struct {
	VecNum    uint32
	SeqNum    uint64
	AuxPos    pos.Pos
	OldAuxPos pos.Pos
	OldFlags  uint64
}

func (op *SetAuxPos) Code() OpCode { return OpSetAuxPos }

func (op *SetAuxPos) size() int { return 40 }

func (op *SetAuxPos) encode(b []byte) {
	le.PutUint32(b[0:], op.VecNum)
	le.PutUint32(b[4:], 0)
	le.PutUint64(b[8:], op.SeqNum)
	le.PutUint64(b[16:], uint64(op.AuxPos))
	le.PutUint64(b[24:], uint64(op.OldAuxPos))
	le.PutUint64(b[32:], op.OldFlags)
}

func decodeSetAuxPos(b []byte) (Op, error) {
	if len(b) < 40 {
		return nil, errShortOp
	}
	return &SetAuxPos{
		VecNum:    le.Uint32(b[0:]),
		SeqNum:    le.Uint64(b[8:]),
		AuxPos:    pos.Pos(le.Uint64(b[16:])),
		OldAuxPos: pos.Pos(le.Uint64(b[24:])),
		OldFlags:  le.Uint64(b[32:]),
	}, nil
}

func (op *SetAuxPos) apply(tx *Tx) error {
	v := tx.j.vector(op.VecNum)
	if v == nil {
		return OutOfRangeError(fmt.Sprintf("vector %d", op.VecNum))
	}
	b, err := v.slot(op.SeqNum)
	if err != nil {
		return err
	}
	io.StoreUInt64(b[16:], uint64(op.AuxPos))
	io.StoreUInt64(b[24:], op.OldFlags|ItemFlagAuxPos)
	tx.events = append(tx.events, Event{Kind: VectorUpdate, Name: v.Name(), VecNum: op.VecNum, Idx: op.SeqNum, Pos: op.AuxPos})
	return nil
}

func (op *SetAuxPos) undo(j *Journal) error {
	v := j.vector(op.VecNum)
	if v == nil {
		return nil
	}
	b, err := v.slot(op.SeqNum)
	if err != nil {
		return nil
	}
	io.StoreUInt64(b[16:], uint64(op.OldAuxPos))
	io.StoreUInt64(b[24:], op.OldFlags)
	return nil
}

// StoreMultiOrderData keeps several records in one operation. Each record
// is laid out like StoreOrderData without aux tags and padded to 8 bytes.
type StoreMultiOrderData struct {
	Records [][]byte
}

func (op *StoreMultiOrderData) Code() OpCode { return OpStoreMultiOrderData }

func multiRecordSize(r []byte) int {
	return io.AlignedSize(storeOrderDataPrefix + len(r) + auxLenSize)
}

func (op *StoreMultiOrderData) size() int {
	n := 8
	for _, r := range op.Records {
		n += multiRecordSize(r)
	}
	return n
}

// offsets returns the payload offset of every record's data.
func (op *StoreMultiOrderData) offsets() []uint64 {
	out := make([]uint64, len(op.Records))
	off := 8
	for i, r := range op.Records {
		out[i] = uint64(off + storeOrderDataPrefix)
		off += multiRecordSize(r)
	}
	return out
}

func (op *StoreMultiOrderData) encode(b []byte) {
	le.PutUint32(b[0:], uint32(len(op.Records)))
	le.PutUint32(b[4:], 0)
	off := 8
	for _, r := range op.Records {
		rec := b[off : off+multiRecordSize(r)]
		io.Zero(rec)
		le.PutUint32(rec[0:], uint32(len(r)))
		copy(rec[storeOrderDataPrefix:], r)
		off += len(rec)
	}
}

func decodeStoreMultiOrderData(b []byte) (Op, error) {
	if len(b) < 8 {
		return nil, errShortOp
	}
	count := int(le.Uint32(b[0:]))
	op := &StoreMultiOrderData{}
	off := 8
	for i := 0; i < count; i++ {
		if len(b) < off+storeOrderDataPrefix {
			return nil, errShortOp
		}
		n := int(le.Uint32(b[off:]))
		size := io.AlignedSize(storeOrderDataPrefix + n + auxLenSize)
		if len(b) < off+size {
			return nil, errShortOp
		}
		op.Records = append(op.Records, b[off+storeOrderDataPrefix:off+storeOrderDataPrefix+n])
		off += size
	}
	return op, nil
}

func (op *StoreMultiOrderData) apply(*Tx) error { return nil }

func (op *StoreMultiOrderData) undo(*Journal) error { return nil }

func decodeOp(code OpCode, b []byte) (Op, error) {
	switch code {
	case OpCreateStrm:
		return decodeCreateStrm(b)
	case OpCreateVec:
		return decodeCreateVec(b)
	case OpSetVecItem:
		return decodeSetVecItem(b)
	case OpPad:
		return &Pad{Len: uint32(len(b))}, nil
	case OpStoreOrderData:
		return decodeStoreOrderData(b)
	case OpSetItemPosFlag:
		return decodeSetItemPosFlag(b)
	case OpSetVecStrmNum:
		return decodeSetVecStrmNum(b)
	case OpSetAuxPos:
		return decodeSetAuxPos(b)
	case OpStoreMultiOrderData:
		return decodeStoreMultiOrderData(b)
	default:
		return nil, InvariantViolation(fmt.Sprintf("operation code %s cannot appear inside a transaction", code))
	}
}

// decodeOps parses count operations out of a transaction body.
func decodeOps(b []byte, count int) ([]Op, error) {
	ops := make([]Op, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < opHdrSize {
			return nil, errShortOp
		}
		code := OpCode(le.Uint16(b[0:]))
		size := int(le.Uint32(b[4:]))
		padded := io.AlignedSize(size)
		if len(b) < opHdrSize+padded {
			return nil, errShortOp
		}
		op, err := decodeOp(code, b[opHdrSize:opHdrSize+size])
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		b = b[opHdrSize+padded:]
	}
	return ops, nil
}

func clearStrmSlot(si *StrmInfo) {
	si.setState(slotFree)
	si.Counters.Reset()
	si.StrmNumPlus1 = 0
	si.Type = uint32(stream.Unknown)
	io.Zero(si.Name[:])
}

func clearVecSlot(vi *VecInfo) {
	vi.setState(slotFree)
	vi.setStrmNum(0)
	*vi = VecInfo{}
}
