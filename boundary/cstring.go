package boundary

import (
	"bytes"
	"math"
	"strings"

	"github.com/wippyai/wasm-strings/errors"
)

const (
	// DefaultScanLimit bounds the terminator search of Strlen, Set and Dup.
	DefaultScanLimit = 1 << 20

	scanChunk = 256
)

// Strlen returns the number of bytes before the first nul byte at raw.
// limit caps the scan; 0 means DefaultScanLimit.
func Strlen(mem Memory, raw, limit uint32) (uint32, error) {
	return scan(errors.PhaseRead, mem, raw, limit)
}

func scan(phase errors.Phase, mem Memory, raw, limit uint32) (uint32, error) {
	if raw == 0 {
		return 0, errors.NullPointer(phase, "nul-terminated string")
	}
	if limit == 0 {
		limit = DefaultScanLimit
	}

	sizer, ok := mem.(MemorySizer)
	if !ok {
		return scanBytewise(phase, mem, raw, limit)
	}

	size := sizer.Size()
	var n uint32
	for n < limit {
		pos := uint64(raw) + uint64(n)
		if pos >= uint64(size) {
			return 0, errors.Unterminated(phase, raw, n)
		}
		chunk := min(uint64(scanChunk), uint64(size)-pos, uint64(limit-n))
		buf, err := mem.Read(uint32(pos), uint32(chunk))
		if err != nil {
			return 0, errors.New(phase, errors.KindOutOfBounds).Ptr(uint32(pos)).Cause(err).Build()
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return n + uint32(i), nil
		}
		n += uint32(chunk)
	}
	return 0, errors.Unterminated(phase, raw, n)
}

func scanBytewise(phase errors.Phase, mem Memory, raw, limit uint32) (uint32, error) {
	for n := uint32(0); n < limit; n++ {
		if uint64(raw)+uint64(n) > math.MaxUint32 {
			return 0, errors.Unterminated(phase, raw, n)
		}
		b, err := mem.ReadU8(raw + n)
		if err != nil {
			return 0, errors.Unterminated(phase, raw, n)
		}
		if b == 0 {
			return n, nil
		}
	}
	return 0, errors.Unterminated(phase, raw, limit)
}

// WriteCString allocates len(s)+1 bytes with alloc and writes s followed by
// a nul terminator. The returned address is owned by the caller; pass it to
// Transfer.Set to adopt it or free it with alloc.Free(ptr, len(s)+1, 1).
func WriteCString(mem Memory, alloc Allocator, s string) (uint32, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return 0, errors.InvalidInput(errors.PhaseWrite, "string contains an interior nul byte")
	}
	if uint64(len(s))+1 > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseWrite, len(s)+1, "u32")
	}
	size := uint32(len(s)) + 1
	ptr, err := alloc.Alloc(size, ByteAlign)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseWrite, size, ByteAlign, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseWrite, size, ByteAlign, nil)
	}
	buf := make([]byte, size)
	copy(buf, s)
	if err := mem.Write(ptr, buf); err != nil {
		alloc.Free(ptr, size, ByteAlign)
		return 0, errors.New(errors.PhaseWrite, errors.KindOutOfBounds).Ptr(ptr).Cause(err).Build()
	}
	return ptr, nil
}
