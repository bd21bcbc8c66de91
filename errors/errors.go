package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseAdopt     Phase = "adopt"     // take ownership of a nul-terminated buffer
	PhaseDuplicate Phase = "duplicate" // copy into a fresh owned buffer
	PhaseRelease   Phase = "release"   // return a buffer to its allocator
	PhaseConcat    Phase = "concat"    // join two borrowed strings
	PhaseRead      Phase = "read"      // copy string bytes back to Go
	PhaseWrite     Phase = "write"     // write string records
	PhaseAlloc     Phase = "alloc"     // allocator internals
	PhaseLoad      Phase = "load"      // module loading
	PhaseRuntime   Phase = "runtime"   // guest calls
	PhaseHost      Phase = "host"      // host function registration and calls
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindAllocation      Kind = "allocation"
	KindOverflow        Kind = "overflow"
	KindUseAfterRelease Kind = "use_after_release"
	KindDoubleRelease   Kind = "double_release"
	KindNotOwned        Kind = "not_owned"
	KindNotFound        Kind = "not_found"
	KindSignature       Kind = "signature_mismatch"
	KindNotInitialized  Kind = "not_initialized"
	KindInstantiation   Kind = "instantiation"
	KindGuestTrap       Kind = "guest_trap"
	KindRegistration    Kind = "registration"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Ptr    uint32
	HasPtr bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.HasPtr {
		fmt.Fprintf(&b, " (ptr=0x%x)", e.Ptr)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Ptr records the linear memory address involved
func (b *Builder) Ptr(ptr uint32) *Builder {
	b.err.Ptr = ptr
	b.err.HasPtr = true
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// NullPointer creates an error for a zero address passed where a string was required
func NullPointer(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("%s is a null pointer", what),
		HasPtr: true,
	}
}

// OutOfBounds creates an out of bounds error for a linear memory range
func OutOfBounds(phase Phase, ptr, length, memSize uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Ptr:    ptr,
		HasPtr: true,
		Detail: fmt.Sprintf("range of %d bytes exceeds memory (size %d)", length, memSize),
		Value:  length,
	}
}

// Unterminated creates an error for a scan that found no nul terminator
func Unterminated(phase Phase, ptr, scanned uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Ptr:    ptr,
		HasPtr: true,
		Detail: fmt.Sprintf("no nul terminator within %d bytes", scanned),
		Value:  scanned,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// UseAfterRelease creates an error for a read of a released string
func UseAfterRelease(phase Phase, ptr uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterRelease,
		Ptr:    ptr,
		HasPtr: true,
		Detail: "string was already released",
	}
}

// DoubleRelease creates an error for a second release of the same string
func DoubleRelease(ptr uint32) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindDoubleRelease,
		Ptr:    ptr,
		HasPtr: true,
		Detail: "string released twice",
	}
}

// NotOwned creates an error for a release of a string this owner never produced
func NotOwned(ptr uint32) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindNotOwned,
		Ptr:    ptr,
		HasPtr: true,
		Detail: "string is borrowed or owned elsewhere",
	}
}

// NotInitialized creates a not-initialized error for a missing module/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// SignatureMismatch creates an error for an export whose core signature
// does not match the flattened WIT signature
func SignatureMismatch(name string, want, got string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignature,
		Path:   []string{name},
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Registration creates a registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Trap wraps an error returned by a guest call
func Trap(fn string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindGuestTrap,
		Path:   []string{fn},
		Detail: "guest call failed",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
