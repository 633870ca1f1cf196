package journal

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/utils/io"
)

const (
	// Strm0Name is the file name of the journal's own transaction stream.
	Strm0Name = "LFJ_STRM_0"
	// TxStrmPrefix prefixes the names of per-writer transaction streams.
	TxStrmPrefix = "TX_STRM"

	hdrMagic   uint64 = 0x31304448_4a464c00 // "\x00LFJHD01"
	hdrVersion uint64 = 1
)

const (
	// FlagNotExistBeforeOpen marks a journal whose directory was created
	// by the open that initialized it.
	FlagNotExistBeforeOpen uint64 = 1 << iota
)

type slotState uint32

const (
	slotFree slotState = iota
	slotAllocated
	slotCommitted
)

// StrmInfo is the persisted descriptor of one stream.
type StrmInfo struct {
	StrmNumPlus1 uint32
	Type         uint32
	State        uint32
	_            uint32
	stream.Counters
	Name [pos.MaxNameLen + 1]byte
}

func (si *StrmInfo) state() slotState {
	return slotState(atomic.LoadUint32(&si.State))
}

func (si *StrmInfo) setState(s slotState) {
	atomic.StoreUint32(&si.State, uint32(s))
}

func (si *StrmInfo) name() string {
	return io.FixedString(si.Name[:])
}

// VecInfo is the persisted descriptor of one vector. StrmNum is the
// vector's item stream and stays zero until the vector is fully created.
type VecInfo struct {
	VecNumPlus1 uint32
	Type        uint32
	State       uint32
	StrmNum     uint32
	ItemIdxBase uint64
	InstanceID  uint64
	Direction   uint32
	_           uint32
	Name        [pos.MaxNameLen + 1]byte
	EncodeName  [pos.MaxNameLen + 1]byte
	CompID      [pos.MaxCompIDLen + 1]byte
	SessionID   [pos.MaxCompIDLen + 1]byte
}

func (vi *VecInfo) state() slotState {
	return slotState(atomic.LoadUint32(&vi.State))
}

func (vi *VecInfo) setState(s slotState) {
	atomic.StoreUint32(&vi.State, uint32(s))
}

func (vi *VecInfo) strmNum() uint32 {
	return atomic.LoadUint32(&vi.StrmNum)
}

func (vi *VecInfo) setStrmNum(n uint32) {
	atomic.StoreUint32(&vi.StrmNum, n)
}

func (vi *VecInfo) name() string {
	return io.FixedString(vi.Name[:])
}

// OnDiskJournalHdr is the journal catalog. It is never copied: it is
// overlaid on stream 0's first segment, right behind the bootstrap
// transaction and operation headers, and updated in place.
type OnDiskJournalHdr struct {
	Magic              uint64
	Version            uint64
	JournalID          [16]byte
	CreationTimestamp  int64
	Flags              uint64
	HighestStrmNum     uint64
	HighestVecNumPlus1 uint64
	Strms              [pos.MaxStrms]StrmInfo
	Vecs               [pos.MaxVecs]VecInfo
}

const (
	hdrOffset    = txHdrSize + opHdrSize
	hdrSize      = int(unsafe.Sizeof(OnDiskJournalHdr{}))
	bootstrapLen = hdrOffset + (hdrSize+7)&^7
)

// the whole catalog has to live in segment 0
var _ [pos.SegSize - bootstrapLen]struct{}

func overlayHeader(seg []byte) *OnDiskJournalHdr {
	return (*OnDiskJournalHdr)(unsafe.Pointer(&seg[hdrOffset]))
}

func (h *OnDiskJournalHdr) highestStrmNum() uint32 {
	return uint32(atomic.LoadUint64(&h.HighestStrmNum))
}

func (h *OnDiskJournalHdr) highestVecNumPlus1() uint32 {
	return uint32(atomic.LoadUint64(&h.HighestVecNumPlus1))
}

// HighestCommittedStrmNum is the highest stream number whose creation has
// committed and that has a known type.
func (h *OnDiskJournalHdr) HighestCommittedStrmNum() uint32 {
	for n := int(h.highestStrmNum()); n > 0; n-- {
		si := &h.Strms[n]
		if si.state() == slotCommitted && stream.Type(si.Type) != stream.Unknown {
			return uint32(n)
		}
	}
	return 0
}

// HighestCommittedVecNum returns the highest vector number whose creation
// has committed. ok is false when there is none.
func (h *OnDiskJournalHdr) HighestCommittedVecNum() (n uint32, ok bool) {
	for i := int(h.highestVecNumPlus1()) - 1; i >= 0; i-- {
		if h.Vecs[i].state() == slotCommitted {
			return uint32(i), true
		}
	}
	return 0, false
}

func (h *OnDiskJournalHdr) init(id uuid.UUID, created int64, flags uint64) {
	h.Magic = hdrMagic
	h.Version = hdrVersion
	copy(h.JournalID[:], id[:])
	h.CreationTimestamp = created
	h.Flags = flags
	atomic.StoreUint64(&h.HighestStrmNum, 0)
	atomic.StoreUint64(&h.HighestVecNumPlus1, 0)

	si := &h.Strms[0]
	si.StrmNumPlus1 = 1
	si.Type = uint32(stream.Tx)
	io.PutFixedString(si.Name[:], Strm0Name)
}

func (h *OnDiskJournalHdr) validate(path string) error {
	if h.Magic != hdrMagic {
		return InvariantViolation(fmt.Sprintf("%s: not a journal header", path))
	}
	if h.Version != hdrVersion {
		return InvariantViolation(fmt.Sprintf("%s: unsupported header version %d", path, h.Version))
	}
	if h.highestStrmNum() >= pos.MaxStrms || h.highestVecNumPlus1() > pos.MaxVecs {
		return InvariantViolation(fmt.Sprintf("%s: header high-water marks out of range", path))
	}
	return nil
}

// HeaderInfo is a copy of the header's scalar fields.
type HeaderInfo struct {
	JournalID          uuid.UUID
	CreationTimestamp  int64
	Flags              uint64
	HighestStrmNum     uint32
	HighestVecNumPlus1 uint32
}

func (h *OnDiskJournalHdr) info() HeaderInfo {
	var id uuid.UUID
	copy(id[:], h.JournalID[:])
	return HeaderInfo{
		JournalID:          id,
		CreationTimestamp:  h.CreationTimestamp,
		Flags:              h.Flags,
		HighestStrmNum:     h.highestStrmNum(),
		HighestVecNumPlus1: h.highestVecNumPlus1(),
	}
}

// StreamDesc describes one stream slot of the header.
type StreamDesc struct {
	Num          uint32
	Name         string
	Type         stream.Type
	Committed    bool
	AllocLen     uint64
	CommittedLen uint64
	ValidLen     uint64
}

// VectorDesc describes one vector slot of the header.
type VectorDesc struct {
	Num         uint32
	Name        string
	Type        VecType
	Committed   bool
	StrmNum     uint32
	ItemIdxBase uint64
	CompID      string
	SessionID   string
	EncodeName  string
	Direction   Direction
	InstanceID  uint64
}
