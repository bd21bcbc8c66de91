package heap

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	wasmstrings "github.com/wippyai/wasm-strings"
	"github.com/wippyai/wasm-strings/errors"
)

const (
	// PageSize matches the WebAssembly page size.
	PageSize = 65536

	// MaxPages keeps Size representable as a uint32.
	MaxPages = 65535

	DefaultInitialPages = 1
	DefaultMaxPages     = 256 // 16MB

	// DefaultBase keeps the first bytes unallocated so 0 is never a valid address.
	DefaultBase = 8
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the heap package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the heap package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Config holds arena configuration
type Config struct {
	// InitialPages is the starting size in 64KB pages. 0 means DefaultInitialPages.
	InitialPages uint32

	// MaxPages caps growth. 0 means DefaultMaxPages.
	MaxPages uint32

	// Base is the lowest address handed out. 0 means DefaultBase.
	Base uint32
}

type span struct {
	off  uint32
	size uint32
}

// Stats is a point-in-time view of arena usage.
type Stats struct {
	Pages     uint32
	Live      int
	LiveBytes uint64
	FreeSpans int
	FreeBytes uint64
	Top       uint32
}

// Arena is a little-endian linear memory on the Go heap with a first-fit
// free-list allocator. It implements Memory, MemorySizer and Allocator.
//
// Slices returned by Read alias the arena and are invalidated when an
// allocation grows it.
type Arena struct {
	data     []byte
	free     []span
	used     map[uint32]uint32
	maxPages uint32
	base     uint32
	top      uint32
	mu       sync.Mutex
}

var (
	_ wasmstrings.Memory      = (*Arena)(nil)
	_ wasmstrings.MemorySizer = (*Arena)(nil)
	_ wasmstrings.Allocator   = (*Arena)(nil)
)

// New creates an arena with the default configuration.
func New() *Arena {
	return NewWithConfig(nil)
}

// NewWithConfig creates an arena with custom configuration.
func NewWithConfig(cfg *Config) *Arena {
	initial := uint32(DefaultInitialPages)
	maxPages := uint32(DefaultMaxPages)
	base := uint32(DefaultBase)
	if cfg != nil {
		if cfg.InitialPages > 0 {
			initial = cfg.InitialPages
		}
		if cfg.MaxPages > 0 {
			maxPages = cfg.MaxPages
		}
		if cfg.Base > 0 {
			base = cfg.Base
		}
	}
	maxPages = min(maxPages, MaxPages)
	initial = min(initial, maxPages)

	return &Arena{
		data:     make([]byte, int(initial)*PageSize),
		used:     make(map[uint32]uint32),
		maxPages: maxPages,
		base:     base,
		top:      base,
	}
}

// Size returns the current arena size in bytes.
func (a *Arena) Size() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(len(a.data))
}

// Pages returns the current arena size in pages.
func (a *Arena) Pages() uint32 {
	return a.Size() / PageSize
}

// Alloc returns the address of size bytes aligned to align.
func (a *Arena) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "zero-sized allocation")
	}
	if align == 0 || align&(align-1) != 0 {
		return 0, errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Value(align).
			Detail("alignment %d is not a power of two", align).
			Build()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ptr, ok := a.takeFree(size, align); ok {
		a.used[ptr] = size
		return ptr, nil
	}

	start := alignUp(uint64(a.top), align)
	end := start + uint64(size)
	if end > uint64(len(a.data)) {
		if err := a.grow(end); err != nil {
			return 0, errors.AllocationFailed(errors.PhaseAlloc, size, align, err)
		}
	}
	if pad := uint32(start) - a.top; pad > 0 {
		a.insertFree(span{off: a.top, size: pad})
	}
	a.top = uint32(end)
	ptr := uint32(start)
	a.used[ptr] = size
	return ptr, nil
}

// Free returns a block to the free list. size must match the allocation.
func (a *Arena) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	got, ok := a.used[ptr]
	if !ok || got != size {
		Logger().Warn("Free: unknown block",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Uint32("align", align),
			zap.Bool("known", ok))
		return
	}
	delete(a.used, ptr)
	a.insertFree(span{off: ptr, size: size})
	a.trimTop()
}

// Reset drops every allocation and zeroes the arena. The arena keeps its
// current size; linear memory never shrinks.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.data)
	clear(a.used)
	a.free = a.free[:0]
	a.top = a.base
}

// Stats reports current usage.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Pages:     uint32(len(a.data) / PageSize),
		Live:      len(a.used),
		FreeSpans: len(a.free),
		Top:       a.top,
	}
	for _, n := range a.used {
		s.LiveBytes += uint64(n)
	}
	for _, sp := range a.free {
		s.FreeBytes += uint64(sp.size)
	}
	return s
}

func (a *Arena) takeFree(size, align uint32) (uint32, bool) {
	for i, sp := range a.free {
		start := alignUp(uint64(sp.off), align)
		end := start + uint64(size)
		if end > uint64(sp.off)+uint64(sp.size) {
			continue
		}
		var rest []span
		if head := uint32(start) - sp.off; head > 0 {
			rest = append(rest, span{off: sp.off, size: head})
		}
		if tail := uint32(uint64(sp.off) + uint64(sp.size) - end); tail > 0 {
			rest = append(rest, span{off: uint32(end), size: tail})
		}
		a.free = append(a.free[:i], append(rest, a.free[i+1:]...)...)
		return uint32(start), true
	}
	return 0, false
}

func (a *Arena) insertFree(sp span) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off >= sp.off })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = sp

	// merge with the following span
	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	// merge with the preceding span
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func (a *Arena) trimTop() {
	if n := len(a.free); n > 0 {
		last := a.free[n-1]
		if last.off+last.size == a.top {
			a.top = last.off
			a.free = a.free[:n-1]
		}
	}
}

func (a *Arena) grow(end uint64) error {
	cur := uint64(len(a.data)) / PageSize
	need := (end + PageSize - 1) / PageSize
	if need > uint64(a.maxPages) {
		return errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Detail("arena limit of %d pages reached (need %d)", a.maxPages, need).
			Build()
	}
	grown := make([]byte, need*PageSize)
	copy(grown, a.data)
	a.data = grown
	Logger().Debug("arena grown", zap.Uint64("from_pages", cur), zap.Uint64("to_pages", need))
	return nil
}

func alignUp(v uint64, align uint32) uint64 {
	a := uint64(align)
	return (v + a - 1) &^ (a - 1)
}

func (a *Arena) bounds(phase errors.Phase, offset uint32, length uint64) error {
	if uint64(offset)+length > uint64(len(a.data)) {
		return errors.OutOfBounds(phase, offset, uint32(min(length, math.MaxUint32)), uint32(len(a.data)))
	}
	return nil
}

// Read returns a view of length bytes at offset.
func (a *Arena) Read(offset, length uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseRead, offset, uint64(length)); err != nil {
		return nil, err
	}
	end := offset + length
	return a.data[offset:end:end], nil
}

// Write copies data to offset.
func (a *Arena) Write(offset uint32, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseWrite, offset, uint64(len(data))); err != nil {
		return err
	}
	copy(a.data[offset:], data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (a *Arena) ReadU8(offset uint32) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseRead, offset, 1); err != nil {
		return 0, err
	}
	return a.data[offset], nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (a *Arena) ReadU32(offset uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseRead, offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(a.data[offset:]), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (a *Arena) WriteU8(offset uint32, value uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseWrite, offset, 1); err != nil {
		return err
	}
	a.data[offset] = value
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (a *Arena) WriteU32(offset uint32, value uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.bounds(errors.PhaseWrite, offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(a.data[offset:], value)
	return nil
}
