package boundary

import (
	wasmstrings "github.com/wippyai/wasm-strings"
	"github.com/wippyai/wasm-strings/errors"
)

type Memory = wasmstrings.Memory
type MemorySizer = wasmstrings.MemorySizer
type Allocator = wasmstrings.Allocator

// Record layout of a string in linear memory: ptr u32 LE, then len u32 LE.
const (
	StringSize  = 8
	StringAlign = 4

	// ByteAlign is the alignment used for string payload allocations.
	ByteAlign = 1
)

// String is a length-prefixed byte string in linear memory.
// It carries no terminator and does not describe ownership: a String
// returned by Set, Dup or Concat is owned, one passed to Concat is borrowed.
// When Len is zero, Ptr may be zero or dangling and is never read.
type String struct {
	Ptr uint32
	Len uint32
}

// IsEmpty reports whether s has no bytes.
func (s String) IsEmpty() bool {
	return s.Len == 0
}

// End returns the first address past the string's bytes.
func (s String) End() uint64 {
	return uint64(s.Ptr) + uint64(s.Len)
}

// Load reads the string record stored at addr.
func Load(mem Memory, addr uint32) (String, error) {
	if addr%StringAlign != 0 {
		return String{}, errors.New(errors.PhaseRead, errors.KindInvalidInput).
			Ptr(addr).
			Detail("string record must be %d-byte aligned", StringAlign).
			Build()
	}
	ptr, err := mem.ReadU32(addr)
	if err != nil {
		return String{}, errors.New(errors.PhaseRead, errors.KindOutOfBounds).Ptr(addr).Cause(err).Build()
	}
	length, err := mem.ReadU32(addr + 4)
	if err != nil {
		return String{}, errors.New(errors.PhaseRead, errors.KindOutOfBounds).Ptr(addr + 4).Cause(err).Build()
	}
	return String{Ptr: ptr, Len: length}, nil
}

// Store writes the string record for s at addr.
func Store(mem Memory, addr uint32, s String) error {
	if addr%StringAlign != 0 {
		return errors.New(errors.PhaseWrite, errors.KindInvalidInput).
			Ptr(addr).
			Detail("string record must be %d-byte aligned", StringAlign).
			Build()
	}
	if err := mem.WriteU32(addr, s.Ptr); err != nil {
		return errors.New(errors.PhaseWrite, errors.KindOutOfBounds).Ptr(addr).Cause(err).Build()
	}
	if err := mem.WriteU32(addr+4, s.Len); err != nil {
		return errors.New(errors.PhaseWrite, errors.KindOutOfBounds).Ptr(addr + 4).Cause(err).Build()
	}
	return nil
}
