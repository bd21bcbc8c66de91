// Package errors provides structured error types for the wasm-strings library.
//
// Errors are categorized by Phase (which string operation failed) and Kind
// (error category). The Error type carries the linear memory address
// involved, when there is one, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConcat, errors.KindOverflow).
//		Ptr(0x400).
//		Detail("combined length %d exceeds u32", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DoubleRelease(ptr)
//	err := errors.Unterminated(errors.PhaseAdopt, ptr, scanned)
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is matches on Phase and Kind only.
package errors
