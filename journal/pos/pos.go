// Package pos packs a stream locator into a single 64-bit word.
//
// Layout, low bit first:
//
//	bits  0-35  strm_off  byte offset inside the stream
//	bits 36-45  strm_num  stream number
//	bits 46-62  len       record length (vector item positions only)
//	bit  63     flag      patch/correction record
//
// Fields wider than their slot are masked silently on encode. Two
// positions compare by their raw value.
package pos

import "fmt"

const (
	SegSizeShift = 22
	SegSize      = 1 << SegSizeShift
	SegOffMask   = SegSize - 1

	StrmOffBits = 36
	StrmOffMask = 1<<StrmOffBits - 1

	StrmNumShift = 36
	StrmNumMask  = 0x3ff

	LenShift = 46
	LenMask  = 0x1ffff

	FlagShift = 63

	SegNumMask = StrmOffMask >> SegSizeShift

	MaxStrms = StrmNumMask
	MaxVecs  = 1024
	MaxSegs  = SegNumMask

	MaxNameLen   = 127
	MaxCompIDLen = 63
)

// Pos locates a byte range in a stream. The zero value means unset.
type Pos uint64

// Null is the unset position.
const Null Pos = 0

// New encodes a position.
func New(strmNum uint32, strmOff uint64, length uint32, flag bool) Pos {
	p := Pos(strmOff&StrmOffMask) |
		Pos(strmNum&StrmNumMask)<<StrmNumShift |
		Pos(length&LenMask)<<LenShift
	if flag {
		p |= 1 << FlagShift
	}
	return p
}

func (p Pos) StrmNum() uint32 {
	return uint32(p>>StrmNumShift) & StrmNumMask
}

func (p Pos) StrmOff() uint64 {
	return uint64(p) & StrmOffMask
}

func (p Pos) SegNum() uint32 {
	return SegNum(p.StrmOff())
}

func (p Pos) SegOff() uint32 {
	return SegOff(p.StrmOff())
}

func (p Pos) Len() uint32 {
	return uint32(p>>LenShift) & LenMask
}

func (p Pos) Flag() bool {
	return p>>FlagShift == 1
}

func (p Pos) IsNull() bool {
	return p == Null
}

// End is the stream offset one past the referenced record.
func (p Pos) End() uint64 {
	return p.StrmOff() + uint64(p.Len())
}

func (p Pos) WithFlag(flag bool) Pos {
	if flag {
		return p | 1<<FlagShift
	}
	return p &^ (1 << FlagShift)
}

// Calibrated returns the position delta bytes past p in the same stream,
// with the given length and p's flag.
func (p Pos) Calibrated(delta uint64, length uint32) Pos {
	return New(p.StrmNum(), p.StrmOff()+delta, length, p.Flag())
}

func (p Pos) String() string {
	if p.IsNull() {
		return "pos(null)"
	}
	return fmt.Sprintf("pos(strm=%d off=%d len=%d flag=%t)", p.StrmNum(), p.StrmOff(), p.Len(), p.Flag())
}

// SegNum is the segment holding stream offset off.
func SegNum(off uint64) uint32 {
	return uint32(off>>SegSizeShift) & SegNumMask
}

// SegOff is the offset of off inside its segment.
func SegOff(off uint64) uint32 {
	return uint32(off & SegOffMask)
}

// SegStart is the stream offset of the first byte of segment segNum.
func SegStart(segNum uint32) uint64 {
	return uint64(segNum) << SegSizeShift
}
