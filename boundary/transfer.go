package boundary

import (
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-strings/errors"
)

// Config holds optional Transfer settings
type Config struct {
	// Name labels log lines from this transfer.
	Name string

	// ScanLimit caps the terminator search of Set and Dup.
	// 0 means DefaultScanLimit.
	ScanLimit uint32

	// History is the number of released addresses remembered for
	// double release and use after release detection.
	// 0 means DefaultHistory.
	History int
}

// Transfer moves strings across one linear memory boundary.
// Every owned String it returns was allocated by, and must be released
// through, the same Transfer. Transfer is not safe for concurrent use.
type Transfer struct {
	mem    Memory
	alloc  Allocator
	ledger *Ledger
	log    *zap.Logger
	limit  uint32
}

// NewTransfer creates a transfer over mem using alloc for new buffers.
func NewTransfer(mem Memory, alloc Allocator) *Transfer {
	return NewTransferWithConfig(mem, alloc, nil)
}

// NewTransferWithConfig creates a transfer with custom configuration.
func NewTransferWithConfig(mem Memory, alloc Allocator, cfg *Config) *Transfer {
	t := &Transfer{
		mem:   mem,
		alloc: alloc,
		limit: DefaultScanLimit,
		log:   Logger(),
	}
	history := 0
	if cfg != nil {
		if cfg.ScanLimit > 0 {
			t.limit = cfg.ScanLimit
		}
		if cfg.Name != "" {
			t.log = t.log.With(zap.String("transfer", cfg.Name))
		}
		history = cfg.History
	}
	t.ledger = NewLedger(history)
	return t
}

// Memory returns the linear memory this transfer works on.
func (t *Transfer) Memory() Memory {
	return t.mem
}

// Ledger returns the ownership ledger.
func (t *Transfer) Ledger() *Ledger {
	return t.ledger
}

// Owned returns the number of strings that have not been released.
func (t *Transfer) Owned() int {
	return t.ledger.Len()
}

// Set adopts the nul-terminated buffer at raw without copying.
// The buffer must have been allocated by this transfer's allocator with
// exactly its length plus one terminator byte; after Set the caller must not
// touch raw again.
func (t *Transfer) Set(raw uint32) (String, error) {
	n, err := scan(errors.PhaseAdopt, t.mem, raw, t.limit)
	if err != nil {
		return String{}, err
	}
	e := Entry{Ptr: raw, Len: n, Size: n + 1, Align: ByteAlign, Origin: OriginAdopt}
	if err := t.ledger.Acquire(e); err != nil {
		return String{}, errors.New(errors.PhaseAdopt, errors.KindInvalidInput).Ptr(raw).Cause(err).Build()
	}
	return String{Ptr: raw, Len: n}, nil
}

// Dup copies the nul-terminated string at raw into a new owned buffer.
// raw stays owned by the caller. The copy has no terminator.
func (t *Transfer) Dup(raw uint32) (String, error) {
	n, err := scan(errors.PhaseDuplicate, t.mem, raw, t.limit)
	if err != nil {
		return String{}, err
	}
	if n == 0 {
		return String{}, nil
	}

	ptr, err := t.allocate(errors.PhaseDuplicate, n)
	if err != nil {
		return String{}, err
	}
	// read after allocating: growth may move the backing buffer
	src, err := t.mem.Read(raw, n)
	if err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, errors.New(errors.PhaseDuplicate, errors.KindOutOfBounds).Ptr(raw).Cause(err).Build()
	}
	if err := t.mem.Write(ptr, src); err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, errors.New(errors.PhaseDuplicate, errors.KindOutOfBounds).Ptr(ptr).Cause(err).Build()
	}
	return t.own(errors.PhaseDuplicate, ptr, n, OriginDuplicate)
}

// DupString copies a Go string into a new owned buffer.
func (t *Transfer) DupString(s string) (String, error) {
	return t.DupBytes([]byte(s))
}

// DupBytes copies b into a new owned buffer.
func (t *Transfer) DupBytes(b []byte) (String, error) {
	if len(b) == 0 {
		return String{}, nil
	}
	if uint64(len(b)) > math.MaxUint32 {
		return String{}, errors.Overflow(errors.PhaseDuplicate, len(b), "u32")
	}
	n := uint32(len(b))
	ptr, err := t.allocate(errors.PhaseDuplicate, n)
	if err != nil {
		return String{}, err
	}
	if err := t.mem.Write(ptr, b); err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, errors.New(errors.PhaseDuplicate, errors.KindOutOfBounds).Ptr(ptr).Cause(err).Build()
	}
	return t.own(errors.PhaseDuplicate, ptr, n, OriginDuplicate)
}

// Free releases an owned string and zeroes *s.
// Empty strings that own nothing are a no-op. Releasing a copy of an
// already released String returns a double release error.
func (t *Transfer) Free(s *String) error {
	if s == nil {
		return errors.InvalidInput(errors.PhaseRelease, "nil string")
	}
	if s.Ptr == 0 {
		if s.Len != 0 {
			return errors.NullPointer(errors.PhaseRelease, "non-empty string")
		}
		return nil
	}

	e, ok := t.ledger.Lookup(s.Ptr)
	if !ok {
		if s.Len == 0 {
			if err := t.ledger.Check(errors.PhaseRelease, s.Ptr); err == nil {
				// dangling empty string, nothing to release
				*s = String{}
				return nil
			}
		}
		_, err := t.ledger.Release(s.Ptr)
		return err
	}
	if e.Len != s.Len {
		return errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Ptr(s.Ptr).
			Detail("length %d does not match owned length %d", s.Len, e.Len).
			Build()
	}
	if _, err := t.ledger.Release(s.Ptr); err != nil {
		return err
	}
	t.alloc.Free(e.Ptr, e.Size, e.Align)
	*s = String{}
	return nil
}

// Concat returns a new owned string holding left's bytes followed by
// right's. Both inputs are borrowed and left unchanged.
func (t *Transfer) Concat(left, right String) (String, error) {
	if err := t.CheckBorrowed(left, "left"); err != nil {
		return String{}, err
	}
	if err := t.CheckBorrowed(right, "right"); err != nil {
		return String{}, err
	}

	total := uint64(left.Len) + uint64(right.Len)
	if total > math.MaxUint32 {
		return String{}, errors.Overflow(errors.PhaseConcat, total, "u32")
	}
	if total == 0 {
		return String{}, nil
	}
	n := uint32(total)

	ptr, err := t.allocate(errors.PhaseConcat, n)
	if err != nil {
		return String{}, err
	}
	if err := t.copyInto(ptr, left); err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, err
	}
	if err := t.copyInto(ptr+left.Len, right); err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, err
	}
	return t.own(errors.PhaseConcat, ptr, n, OriginConcat)
}

// ConcatInto is the output-parameter form of Concat. On error *ret is left
// untouched.
func (t *Transfer) ConcatInto(left, right, ret *String) error {
	if left == nil || right == nil || ret == nil {
		return errors.InvalidInput(errors.PhaseConcat, "nil string argument")
	}
	out, err := t.Concat(*left, *right)
	if err != nil {
		return err
	}
	*ret = out
	return nil
}

// ConcatAt loads the string records at leftAddr and rightAddr, concatenates
// them and stores the owned result record at retAddr.
func (t *Transfer) ConcatAt(leftAddr, rightAddr, retAddr uint32) error {
	left, err := Load(t.mem, leftAddr)
	if err != nil {
		return err
	}
	right, err := Load(t.mem, rightAddr)
	if err != nil {
		return err
	}
	out, err := t.Concat(left, right)
	if err != nil {
		return err
	}
	if err := Store(t.mem, retAddr, out); err != nil {
		_ = t.Free(&out)
		return err
	}
	return nil
}

// Detach hands an owned string to the other side of the boundary. The
// transfer stops tracking s without freeing it; whoever receives the record
// becomes responsible for releasing it.
func (t *Transfer) Detach(s String) (String, error) {
	if s.Ptr == 0 {
		if s.Len != 0 {
			return String{}, errors.NullPointer(errors.PhaseRelease, "non-empty string")
		}
		return String{}, nil
	}
	e, err := t.ledger.Forget(s.Ptr)
	if err != nil {
		return String{}, err
	}
	if e.Len != s.Len {
		_ = t.ledger.Acquire(e)
		return String{}, errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Ptr(s.Ptr).
			Detail("length %d does not match owned length %d", s.Len, e.Len).
			Build()
	}
	return s, nil
}

// Attach takes ownership of a string record handed over by the other side.
// The buffer must have been allocated by this transfer's allocator with
// exactly s.Len bytes.
func (t *Transfer) Attach(s String) (String, error) {
	if s.Len == 0 {
		return String{}, nil
	}
	if s.Ptr == 0 {
		return String{}, errors.NullPointer(errors.PhaseAdopt, "non-empty string")
	}
	if sizer, ok := t.mem.(MemorySizer); ok && s.End() > uint64(sizer.Size()) {
		return String{}, errors.OutOfBounds(errors.PhaseAdopt, s.Ptr, s.Len, sizer.Size())
	}
	e := Entry{Ptr: s.Ptr, Len: s.Len, Size: s.Len, Align: ByteAlign, Origin: OriginAttach}
	if err := t.ledger.Acquire(e); err != nil {
		return String{}, errors.New(errors.PhaseAdopt, errors.KindInvalidInput).Ptr(s.Ptr).Cause(err).Build()
	}
	return s, nil
}

// Bytes copies the bytes of s to the Go heap.
func (t *Transfer) Bytes(s String) ([]byte, error) {
	if s.Len == 0 {
		return []byte{}, nil
	}
	if err := t.ledger.Check(errors.PhaseRead, s.Ptr); err != nil {
		return nil, err
	}
	data, err := t.mem.Read(s.Ptr, s.Len)
	if err != nil {
		return nil, errors.New(errors.PhaseRead, errors.KindOutOfBounds).Ptr(s.Ptr).Value(s.Len).Cause(err).Build()
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Text copies the bytes of s into a Go string.
func (t *Transfer) Text(s String) (string, error) {
	b, err := t.Bytes(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Close releases every string still owned by the transfer.
func (t *Transfer) Close() error {
	entries := t.ledger.Entries()
	if len(entries) > 0 {
		t.log.Debug("releasing leaked strings", zap.Int("count", len(entries)))
	}
	for _, e := range entries {
		if _, err := t.ledger.Release(e.Ptr); err != nil {
			continue
		}
		t.alloc.Free(e.Ptr, e.Size, e.Align)
	}
	return nil
}

func (t *Transfer) allocate(phase errors.Phase, n uint32) (uint32, error) {
	ptr, err := t.alloc.Alloc(n, ByteAlign)
	if err != nil {
		return 0, errors.AllocationFailed(phase, n, ByteAlign, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(phase, n, ByteAlign, nil)
	}
	if ptr > math.MaxUint32-n {
		t.alloc.Free(ptr, n, ByteAlign)
		return 0, errors.Overflow(phase, uint64(ptr)+uint64(n), "u32")
	}
	return ptr, nil
}

func (t *Transfer) own(phase errors.Phase, ptr, n uint32, origin Origin) (String, error) {
	e := Entry{Ptr: ptr, Len: n, Size: n, Align: ByteAlign, Origin: origin}
	if err := t.ledger.Acquire(e); err != nil {
		t.alloc.Free(ptr, n, ByteAlign)
		return String{}, errors.New(phase, errors.KindAllocation).
			Ptr(ptr).
			Detail("allocator returned an address that is still owned").
			Cause(err).
			Build()
	}
	if ce := t.log.Check(zap.DebugLevel, "string owned"); ce != nil {
		ce.Write(zap.Uint32("ptr", ptr), zap.Uint32("len", n), zap.Stringer("origin", origin))
	}
	return String{Ptr: ptr, Len: n}, nil
}

// CheckBorrowed reports whether s may be read as a borrowed input: a
// non-empty s needs a pointer, must not be released by this transfer and
// must lie inside memory. name labels the input in the error path.
func (t *Transfer) CheckBorrowed(s String, name string) error {
	if s.Len == 0 {
		return nil
	}
	if s.Ptr == 0 {
		return errors.New(errors.PhaseConcat, errors.KindInvalidInput).
			Path(name).
			Ptr(0).
			Detail("non-empty string with null pointer").
			Build()
	}
	if err := t.ledger.Check(errors.PhaseConcat, s.Ptr); err != nil {
		return err
	}
	if sizer, ok := t.mem.(MemorySizer); ok && s.End() > uint64(sizer.Size()) {
		return errors.OutOfBounds(errors.PhaseConcat, s.Ptr, s.Len, sizer.Size())
	}
	return nil
}

func (t *Transfer) copyInto(dst uint32, s String) error {
	if s.Len == 0 {
		return nil
	}
	src, err := t.mem.Read(s.Ptr, s.Len)
	if err != nil {
		return errors.New(errors.PhaseConcat, errors.KindOutOfBounds).Ptr(s.Ptr).Value(s.Len).Cause(err).Build()
	}
	if err := t.mem.Write(dst, src); err != nil {
		return errors.New(errors.PhaseConcat, errors.KindOutOfBounds).Ptr(dst).Cause(err).Build()
	}
	return nil
}
