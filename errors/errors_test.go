package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseConcat,
				Kind:   KindOverflow,
				Path:   []string{"concat", "left"},
				Ptr:    0x400,
				HasPtr: true,
				Detail: "too long",
			},
			contains: []string{"[concat]", "overflow", "concat.left", "ptr=0x400", "too long"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRead,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[read]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseDuplicate,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[duplicate]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoPtr(t *testing.T) {
	err := &Error{Phase: PhaseLoad, Kind: KindNotFound}
	if strings.Contains(err.Error(), "ptr=") {
		t.Errorf("unexpected ptr in %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseRuntime,
		Kind:  KindGuestTrap,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := DoubleRelease(0x10)

	if !err.Is(&Error{Phase: PhaseRelease, Kind: KindDoubleRelease}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseConcat, Kind: KindDoubleRelease}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseRelease, Kind: KindNotOwned}) {
		t.Error("Is should not match different kind")
	}

	var target *Error
	if !errors.As(error(err), &target) || target.Ptr != 0x10 {
		t.Errorf("errors.As = %v", target)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseConcat, KindOverflow).
		Path("concat", "ret").
		Ptr(0x2000).
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "u32", "u64").
		Build()

	if err.Phase != PhaseConcat {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseConcat)
	}
	if err.Kind != KindOverflow {
		t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
	}
	if len(err.Path) != 2 || err.Path[0] != "concat" || err.Path[1] != "ret" {
		t.Errorf("Path = %v, want [concat ret]", err.Path)
	}
	if !err.HasPtr || err.Ptr != 0x2000 {
		t.Errorf("Ptr = %#x (has=%v)", err.Ptr, err.HasPtr)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected u32, got u64" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		name  string
		phase Phase
		kind  Kind
	}{
		{AllocationFailed(PhaseDuplicate, 1024, 1, nil), "AllocationFailed", PhaseDuplicate, KindAllocation},
		{NullPointer(PhaseAdopt, "raw"), "NullPointer", PhaseAdopt, KindInvalidInput},
		{OutOfBounds(PhaseRead, 10, 5, 8), "OutOfBounds", PhaseRead, KindOutOfBounds},
		{Unterminated(PhaseAdopt, 10, 64), "Unterminated", PhaseAdopt, KindOutOfBounds},
		{Overflow(PhaseConcat, uint64(1)<<33, "u32"), "Overflow", PhaseConcat, KindOverflow},
		{UseAfterRelease(PhaseConcat, 4), "UseAfterRelease", PhaseConcat, KindUseAfterRelease},
		{DoubleRelease(4), "DoubleRelease", PhaseRelease, KindDoubleRelease},
		{NotOwned(4), "NotOwned", PhaseRelease, KindNotOwned},
		{NotInitialized(PhaseRuntime, "instance"), "NotInitialized", PhaseRuntime, KindNotInitialized},
		{NotFound(PhaseLoad, "export", "concat"), "NotFound", PhaseLoad, KindNotFound},
		{InvalidInput(PhaseHost, "bad"), "InvalidInput", PhaseHost, KindInvalidInput},
		{SignatureMismatch("concat", "(i32)", "()"), "SignatureMismatch", PhaseLoad, KindSignature},
		{Registration("foo", "concat", nil), "Registration", PhaseHost, KindRegistration},
		{Instantiation(nil), "Instantiation", PhaseRuntime, KindInstantiation},
		{Trap("concat", errors.New("unreachable")), "Trap", PhaseRuntime, KindGuestTrap},
		{Load("compile", nil), "Load", PhaseLoad, KindInvalidInput},
		{Wrap(PhaseAlloc, KindAllocation, nil, "grow"), "Wrap", PhaseAlloc, KindAllocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	t.Run("AllocationFailed detail", func(t *testing.T) {
		err := AllocationFailed(PhaseDuplicate, 1024, 8, nil)
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})
}
