package io

import (
	"sync/atomic"
	"unsafe"
)

// The helpers below reinterpret mapped memory in place. Callers guarantee
// the slice is long enough and, for the atomic variants, 8-byte aligned.

func PutUInt64(b []byte, v uint64) {
	*(*uint64)(unsafe.Pointer(&b[0])) = v
}

// Word returns a pointer to the 64-bit word at the start of b.
func Word(b []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[0]))
}

func LoadUInt64(b []byte) uint64 {
	return atomic.LoadUint64(Word(b))
}

func StoreUInt64(b []byte, v uint64) {
	atomic.StoreUint64(Word(b), v)
}

func LoadInt64(b []byte) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&b[0])))
}

// AlignedSize rounds unalignedSize up to the machine word size.
func AlignedSize(unalignedSize int) (alignedSize int) {
	machineWordSize := int(unsafe.Alignof(uintptr(0)))
	remainder := unalignedSize % machineWordSize
	if remainder == 0 {
		return unalignedSize
	}
	return unalignedSize + machineWordSize - remainder
}

// PutFixedString writes s into a NUL-padded fixed-width field, truncating
// to len(field)-1 bytes so the field is always terminated.
func PutFixedString(field []byte, s string) {
	n := copy(field[:len(field)-1], s)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

// FixedString reads a NUL-terminated string out of a fixed-width field.
func FixedString(field []byte) string {
	for i, c := range field {
		if c == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

// Zero clears b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
