package boundary

import (
	"sort"
	"sync"

	"github.com/wippyai/wasm-strings/errors"
)

// Origin records which operation produced an owned string.
type Origin uint8

const (
	OriginAdopt Origin = iota
	OriginDuplicate
	OriginConcat
	OriginAttach
)

func (o Origin) String() string {
	switch o {
	case OriginAdopt:
		return "adopt"
	case OriginDuplicate:
		return "duplicate"
	case OriginConcat:
		return "concat"
	case OriginAttach:
		return "attach"
	default:
		return "unknown"
	}
}

// Entry describes one owned allocation.
// Size may exceed Len: an adopted string also owns its terminator.
type Entry struct {
	Ptr    uint32
	Len    uint32
	Size   uint32
	Align  uint32
	Origin Origin
}

// DefaultHistory is how many released addresses a Ledger remembers.
const DefaultHistory = 256

type releasedRef struct {
	ptr uint32
	seq uint64
}

// Ledger tracks the owned strings of one allocator family.
// It turns double release and use after release into errors; it is not a
// substitute for single-owner discipline.
type Ledger struct {
	owned    map[uint32]Entry
	released map[uint32]uint64
	ring     []releasedRef
	next     int
	seq      uint64
	mu       sync.Mutex
}

// NewLedger creates a ledger remembering up to history released addresses.
// history <= 0 means DefaultHistory.
func NewLedger(history int) *Ledger {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Ledger{
		owned:    make(map[uint32]Entry),
		released: make(map[uint32]uint64),
		ring:     make([]releasedRef, 0, history),
	}
}

// Acquire records e as owned.
func (l *Ledger) Acquire(e Entry) error {
	if e.Ptr == 0 {
		return errors.NullPointer(errors.PhaseAlloc, "owned string")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.owned[e.Ptr]; dup {
		return errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Ptr(e.Ptr).
			Detail("address is already owned").
			Build()
	}
	// the allocator handed the address out again
	delete(l.released, e.Ptr)
	l.owned[e.Ptr] = e
	return nil
}

// Release removes ptr from the owned set and returns its entry.
func (l *Ledger) Release(ptr uint32) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.owned[ptr]
	if !ok {
		if _, gone := l.released[ptr]; gone {
			return Entry{}, errors.DoubleRelease(ptr)
		}
		return Entry{}, errors.NotOwned(ptr)
	}
	delete(l.owned, ptr)
	l.remember(ptr)
	return e, nil
}

// Forget removes ptr from the owned set without marking it released.
// Ownership has moved to the other side of the boundary.
func (l *Ledger) Forget(ptr uint32) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.owned[ptr]
	if !ok {
		if _, gone := l.released[ptr]; gone {
			return Entry{}, errors.UseAfterRelease(errors.PhaseRelease, ptr)
		}
		return Entry{}, errors.NotOwned(ptr)
	}
	delete(l.owned, ptr)
	return e, nil
}

func (l *Ledger) remember(ptr uint32) {
	l.seq++
	ref := releasedRef{ptr: ptr, seq: l.seq}
	if len(l.ring) < cap(l.ring) {
		l.ring = append(l.ring, ref)
	} else {
		old := l.ring[l.next]
		if l.released[old.ptr] == old.seq {
			delete(l.released, old.ptr)
		}
		l.ring[l.next] = ref
		l.next = (l.next + 1) % len(l.ring)
	}
	l.released[ptr] = l.seq
}

// Lookup returns the entry for an owned address.
func (l *Ledger) Lookup(ptr uint32) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.owned[ptr]
	return e, ok
}

// Check returns an error if ptr is a recently released address that has
// not been handed out again. Addresses the ledger never saw pass: they are
// borrowed views of memory owned elsewhere.
func (l *Ledger) Check(phase errors.Phase, ptr uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owned[ptr]; ok {
		return nil
	}
	if _, gone := l.released[ptr]; gone {
		return errors.UseAfterRelease(phase, ptr)
	}
	return nil
}

// Len returns the number of owned strings.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owned)
}

// Bytes returns the total allocation size of owned strings.
func (l *Ledger) Bytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, e := range l.owned {
		total += uint64(e.Size)
	}
	return total
}

// Entries returns a snapshot of owned entries ordered by address.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.owned))
	for _, e := range l.owned {
		out = append(out, e)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ptr < out[j].Ptr })
	return out
}
