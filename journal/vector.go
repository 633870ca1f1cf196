package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/utils/io"
)

type VecType uint32

const (
	UnknownVec VecType = iota
	MsgVec
	OrderVec
	AuxVec
)

func (t VecType) String() string {
	switch t {
	case MsgVec:
		return "MSG_VEC"
	case OrderVec:
		return "ORDER_VEC"
	case AuxVec:
		return "AUX_VEC"
	default:
		return "UNKNOWN_VEC"
	}
}

func ParseVecType(s string) VecType {
	switch strings.ToLower(s) {
	case "msg", "msg_vec":
		return MsgVec
	case "order", "order_vec":
		return OrderVec
	case "aux", "aux_vec":
		return AuxVec
	default:
		return UnknownVec
	}
}

// Direction is the flow of the messages a vector indexes.
type Direction uint32

const (
	UnknownDirection Direction = iota
	Incoming
	Outgoing
	Neutral
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "INCOMING"
	case Outgoing:
		return "OUTGOING"
	case Neutral:
		return "NEUTRAL"
	default:
		return "UNKNOWN"
	}
}

func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "incoming", "in":
		return Incoming
	case "outgoing", "out":
		return Outgoing
	case "neutral":
		return Neutral
	default:
		return UnknownDirection
	}
}

// AuxTagsStatus is the readiness of the auxiliary payload behind an item's
// record.
type AuxTagsStatus int

const (
	AuxTagsReady AuxTagsStatus = iota
	AuxTagsNotReady
	AuxTagsError
	AuxTagsNone
)

func (s AuxTagsStatus) String() string {
	switch s {
	case AuxTagsReady:
		return "READY"
	case AuxTagsNotReady:
		return "NOT_READY"
	case AuxTagsError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// ItemSize is the on-disk size of a vector item:
//
//	0  Pos
//	8  timestamp (ns)
//	16 auxiliary Pos
//	24 flags
const ItemSize = 32

const auxLenSize = 4

// Item flags.
const (
	ItemFlagAuxPos uint64 = 1 << iota
)

type Item struct {
	Idx       uint64
	Pos       pos.Pos
	Timestamp int64
	AuxPos    pos.Pos
	Flags     uint64
}

type streamTable interface {
	stream(n uint32) *stream.Stream
}

// Vector is an append-only index of positions. Its items are stored in
// a dedicated TX_DATA_STREAM.
type Vector struct {
	num   uint32
	info  *VecInfo
	strms streamTable
}

func newVector(num uint32, info *VecInfo, strms streamTable) *Vector {
	return &Vector{num: num, info: info, strms: strms}
}

func (v *Vector) Num() uint32 {
	return v.num
}

func (v *Vector) Name() string {
	return v.info.name()
}

func (v *Vector) Type() VecType {
	return VecType(v.info.Type)
}

func (v *Vector) CompID() string {
	return io.FixedString(v.info.CompID[:])
}

func (v *Vector) SessionID() string {
	return io.FixedString(v.info.SessionID[:])
}

func (v *Vector) EncodeName() string {
	return io.FixedString(v.info.EncodeName[:])
}

func (v *Vector) Direction() Direction {
	return Direction(v.info.Direction)
}

func (v *Vector) InstanceID() uint64 {
	return v.info.InstanceID
}

// ItemIdxBase is the index of the first item.
func (v *Vector) ItemIdxBase() uint64 {
	return v.info.ItemIdxBase
}

// StrmNum is the number of the stream holding the items, zero while the
// vector is being created.
func (v *Vector) StrmNum() uint32 {
	return v.info.strmNum()
}

func (v *Vector) itemStream() (*stream.Stream, error) {
	n := v.info.strmNum()
	if n == 0 {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d: no item stream", v.num))
	}
	s := v.strms.stream(n)
	if s == nil {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d: item stream %d not open", v.num, n))
	}
	return s, nil
}

// Len is the number of committed items.
func (v *Vector) Len() uint64 {
	s, err := v.itemStream()
	if err != nil {
		return 0
	}
	return s.CommittedLen() / ItemSize
}

// NextIndex is the index the next appended item will get, counting items
// staged but not yet committed.
func (v *Vector) NextIndex() uint64 {
	s, err := v.itemStream()
	if err != nil {
		return v.info.ItemIdxBase
	}
	return v.info.ItemIdxBase + s.AllocLen()/ItemSize
}

// AppendItem stages an item and returns its index. The item becomes
// visible when the item stream is committed.
func (v *Vector) AppendItem(p pos.Pos, timestamp int64) (uint64, error) {
	s, err := v.itemStream()
	if err != nil {
		return 0, err
	}
	buf, off, err := s.StageWrite(ItemSize)
	if err != nil {
		return 0, err
	}
	io.PutUInt64(buf[0:], uint64(p))
	io.PutUInt64(buf[8:], uint64(timestamp))
	io.PutUInt64(buf[16:], 0)
	io.PutUInt64(buf[24:], 0)
	return v.info.ItemIdxBase + off/ItemSize, nil
}

// slot returns the mapped bytes of a committed item.
func (v *Vector) slot(idx uint64) ([]byte, error) {
	base := v.info.ItemIdxBase
	if idx < base {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d: index %d below base %d", v.num, idx, base))
	}
	s, err := v.itemStream()
	if err != nil {
		return nil, err
	}
	n := idx - base
	if n >= s.CommittedLen()/ItemSize {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d: index %d not committed", v.num, idx))
	}
	return s.Locate(n*ItemSize, ItemSize)
}

// Item reads a committed item.
func (v *Vector) Item(idx uint64) (Item, error) {
	b, err := v.slot(idx)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Idx:       idx,
		Pos:       pos.Pos(io.LoadUInt64(b[0:])),
		Timestamp: io.LoadInt64(b[8:]),
		AuxPos:    pos.Pos(io.LoadUInt64(b[16:])),
		Flags:     io.LoadUInt64(b[24:]),
	}, nil
}

// AuxTagsStatus reports whether the auxiliary payload stored behind the
// item's record is fully committed. The payload is a little-endian uint32
// length followed by that many bytes, starting right at the end of the
// record. Once Ready it stays Ready.
func (v *Vector) AuxTagsStatus(idx uint64) AuxTagsStatus {
	it, err := v.Item(idx)
	if err != nil {
		if idx < v.info.ItemIdxBase {
			return AuxTagsError
		}
		return AuxTagsNotReady
	}
	s := v.strms.stream(it.Pos.StrmNum())
	if s == nil {
		return AuxTagsNotReady
	}
	committed := s.CommittedLen()
	lenOff := it.Pos.End()
	if lenOff+auxLenSize > committed {
		return AuxTagsNotReady
	}
	views, err := s.ReadRange(lenOff, lenOff+auxLenSize)
	if err != nil {
		return AuxTagsNotReady
	}
	var raw [auxLenSize]byte
	n := 0
	for _, view := range views {
		n += copy(raw[n:], view)
	}
	auxLen := binary.LittleEndian.Uint32(raw[:])
	switch {
	case auxLen == 0:
		return AuxTagsNone
	case auxLen > pos.LenMask:
		return AuxTagsError
	case lenOff+auxLenSize+uint64(auxLen) > committed:
		return AuxTagsNotReady
	default:
		return AuxTagsReady
	}
}

// AuxTags returns the auxiliary payload of a Ready item.
func (v *Vector) AuxTags(idx uint64) ([]byte, error) {
	if st := v.AuxTagsStatus(idx); st != AuxTagsReady {
		return nil, OutOfRangeError(fmt.Sprintf("vector %d: aux tags of %d are %s", v.num, idx, st))
	}
	it, err := v.Item(idx)
	if err != nil {
		return nil, err
	}
	s := v.strms.stream(it.Pos.StrmNum())
	lenOff := it.Pos.End()
	raw, err := s.CopyRange(lenOff, lenOff+auxLenSize)
	if err != nil {
		return nil, err
	}
	auxLen := uint64(binary.LittleEndian.Uint32(raw))
	return s.CopyRange(lenOff+auxLenSize, lenOff+auxLenSize+auxLen)
}

// AuxTagsRecord appends the auxiliary length prefix and payload to record,
// producing the bytes a writer stores so that the record's Pos (with
// len(record)) reports aux tags. A nil tags slice stores a zero length.
func AuxTagsRecord(record, tags []byte) []byte {
	out := make([]byte, 0, len(record)+auxLenSize+len(tags))
	out = append(out, record...)
	var l [auxLenSize]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(tags)))
	out = append(out, l[:]...)
	return append(out, tags...)
}

func (v *Vector) desc() VectorDesc {
	return VectorDesc{
		Num:         v.num,
		Name:        v.Name(),
		Type:        v.Type(),
		Committed:   v.info.state() == slotCommitted,
		StrmNum:     v.StrmNum(),
		ItemIdxBase: v.ItemIdxBase(),
		CompID:      v.CompID(),
		SessionID:   v.SessionID(),
		EncodeName:  v.EncodeName(),
		Direction:   v.Direction(),
		InstanceID:  v.InstanceID(),
	}
}

func isOutOfRange(err error) bool {
	var oor OutOfRangeError
	return errors.As(err, &oor)
}
