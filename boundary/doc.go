// Package boundary implements the component-model string handoff protocol.
//
// A String is a (ptr, len) record pointing into a linear memory. It is not
// nul-terminated and does not say who owns it. Ownership follows from the
// operation that produced the value:
//
//	Set(raw)            adopt a nul-terminated buffer, no copy      -> owned
//	Dup(raw)            copy a nul-terminated buffer                 -> owned
//	DupString(s)        copy a Go string                             -> owned
//	Concat(l, r)        join two borrowed strings                    -> owned
//	Free(&s)            release an owned string, zero the record
//	Detach(s)           stop tracking s; the receiver owns it now
//	Attach(s)           start tracking a string handed over      -> owned
//
// # Record Layout
//
// In linear memory a string record is 8 bytes, 4-byte aligned:
//
//	offset 0  ptr  u32 little-endian
//	offset 4  len  u32 little-endian
//
// Load and Store read and write records; ConcatAt is the in-memory form of
// the generated foo_concat(left*, right*, ret*) helper.
//
// # Ownership Tracking
//
// Go has no move semantics, so every Transfer keeps a Ledger of the strings
// it handed out. Releasing twice, releasing a borrowed value, or reading a
// released value returns an error from the errors package instead of
// corrupting the allocator:
//
//	s, _ := tr.DupString("hello")
//	alias := s
//	_ = tr.Free(&s)      // ok, s is now {0, 0}
//	err := tr.Free(&alias) // [release] double_release
//
// The ledger only remembers a bounded number of released addresses, and an
// allocator may hand an address out again, so it catches mistakes without
// replacing single-owner discipline.
//
// # Allocators
//
// A Transfer frees through the same Allocator that produced a buffer. Set
// assumes the adopted buffer came from that allocator and spans the string
// plus its terminator; WriteCString produces buffers with that shape.
package boundary
