package boundary

import (
	"testing"

	"github.com/wippyai/wasm-strings/errors"
)

func TestLedger_AcquireRelease(t *testing.T) {
	l := NewLedger(0)

	e := Entry{Ptr: 100, Len: 4, Size: 5, Align: 1, Origin: OriginAdopt}
	if err := l.Acquire(e); err != nil {
		t.Fatal(err)
	}
	if got, ok := l.Lookup(100); !ok || got != e {
		t.Errorf("Lookup = %+v, %v", got, ok)
	}
	if l.Len() != 1 || l.Bytes() != 5 {
		t.Errorf("Len=%d Bytes=%d", l.Len(), l.Bytes())
	}

	got, err := l.Release(100)
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Errorf("Release returned %+v", got)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d after release", l.Len())
	}
}

func TestLedger_Errors(t *testing.T) {
	l := NewLedger(4)

	if err := l.Acquire(Entry{Ptr: 0, Len: 1}); !isErr(err, errors.PhaseAlloc, errors.KindInvalidInput) {
		t.Errorf("Acquire(null) = %v", err)
	}

	_ = l.Acquire(Entry{Ptr: 8, Len: 1, Size: 1, Align: 1})
	if err := l.Acquire(Entry{Ptr: 8, Len: 1, Size: 1, Align: 1}); !isErr(err, errors.PhaseAlloc, errors.KindInvalidInput) {
		t.Errorf("Acquire(dup) = %v", err)
	}

	if _, err := l.Release(16); !isErr(err, errors.PhaseRelease, errors.KindNotOwned) {
		t.Errorf("Release(unknown) = %v", err)
	}

	_, _ = l.Release(8)
	if _, err := l.Release(8); !isErr(err, errors.PhaseRelease, errors.KindDoubleRelease) {
		t.Errorf("Release(twice) = %v", err)
	}
	if err := l.Check(errors.PhaseRead, 8); !isErr(err, errors.PhaseRead, errors.KindUseAfterRelease) {
		t.Errorf("Check(released) = %v", err)
	}
	if err := l.Check(errors.PhaseRead, 999); err != nil {
		t.Errorf("Check(foreign) = %v", err)
	}
}

func TestLedger_ReacquireClearsRelease(t *testing.T) {
	l := NewLedger(4)

	_ = l.Acquire(Entry{Ptr: 8, Len: 2, Size: 2, Align: 1})
	_, _ = l.Release(8)

	// allocator reused the address
	if err := l.Acquire(Entry{Ptr: 8, Len: 3, Size: 3, Align: 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.Check(errors.PhaseRead, 8); err != nil {
		t.Errorf("Check(reused) = %v", err)
	}
	if _, err := l.Release(8); err != nil {
		t.Errorf("Release(reused) = %v", err)
	}
}

func TestLedger_HistoryEviction(t *testing.T) {
	l := NewLedger(2)

	for _, p := range []uint32{10, 20, 30} {
		_ = l.Acquire(Entry{Ptr: p, Len: 1, Size: 1, Align: 1})
		_, _ = l.Release(p)
	}

	// 10 fell out of the history window
	if _, err := l.Release(10); !isErr(err, errors.PhaseRelease, errors.KindNotOwned) {
		t.Errorf("Release(evicted) = %v", err)
	}
	for _, p := range []uint32{20, 30} {
		if _, err := l.Release(p); !isErr(err, errors.PhaseRelease, errors.KindDoubleRelease) {
			t.Errorf("Release(%d) = %v", p, err)
		}
	}
}

func TestLedger_EvictionKeepsNewerRelease(t *testing.T) {
	l := NewLedger(2)

	_ = l.Acquire(Entry{Ptr: 10, Len: 1, Size: 1, Align: 1})
	_, _ = l.Release(10)
	_ = l.Acquire(Entry{Ptr: 10, Len: 1, Size: 1, Align: 1})
	_, _ = l.Release(10)
	// evicts the first release of 10, the second one must survive
	_ = l.Acquire(Entry{Ptr: 20, Len: 1, Size: 1, Align: 1})
	_, _ = l.Release(20)

	if _, err := l.Release(10); !isErr(err, errors.PhaseRelease, errors.KindDoubleRelease) {
		t.Errorf("Release(10) = %v", err)
	}
}

func TestLedger_Entries(t *testing.T) {
	l := NewLedger(0)
	for _, p := range []uint32{300, 100, 200} {
		_ = l.Acquire(Entry{Ptr: p, Len: 1, Size: 1, Align: 1, Origin: OriginConcat})
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	for i, want := range []uint32{100, 200, 300} {
		if entries[i].Ptr != want {
			t.Errorf("entries[%d].Ptr = %d, want %d", i, entries[i].Ptr, want)
		}
	}
}

func TestOrigin_String(t *testing.T) {
	tests := map[Origin]string{
		OriginAdopt:     "adopt",
		OriginDuplicate: "duplicate",
		OriginConcat:    "concat",
		OriginAttach:    "attach",
		Origin(42):      "unknown",
	}
	for o, want := range tests {
		if o.String() != want {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), want)
		}
	}
}

func TestLedger_Forget(t *testing.T) {
	l := NewLedger(0)
	_ = l.Acquire(Entry{Ptr: 32, Len: 3, Size: 3, Align: 1, Origin: OriginConcat})

	e, err := l.Forget(32)
	if err != nil {
		t.Fatal(err)
	}
	if e.Ptr != 32 || e.Origin != OriginConcat {
		t.Errorf("Forget returned %+v", e)
	}
	if err := l.Check(errors.PhaseRead, 32); err != nil {
		t.Errorf("forgotten address reported as released: %v", err)
	}
	if _, err := l.Forget(32); !isErr(err, errors.PhaseRelease, errors.KindNotOwned) {
		t.Errorf("Forget(unknown) = %v", err)
	}

	_ = l.Acquire(Entry{Ptr: 64, Len: 1, Size: 1, Align: 1})
	_, _ = l.Release(64)
	if _, err := l.Forget(64); !isErr(err, errors.PhaseRelease, errors.KindUseAfterRelease) {
		t.Errorf("Forget(released) = %v", err)
	}
}
