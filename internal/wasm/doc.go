// Package wasm assembles the reference string guest module.
//
// The guest is a core module built byte by byte, without a toolchain. It
// exports the canonical ABI surface of a component with one string
// function:
//
//	memory                             linear memory
//	cabi_realloc(old, oldSize, align, newSize) -> ptr
//	concat(lp, ll, rp, rl) -> retptr
//	cabi_post_concat(retptr)
//
// With an import configured it also lowers foo#concat and re-exports it as
// host-concat so a host implementation can be driven from inside the guest:
//
//	(import "foo" "concat" (func (param i32 i32 i32 i32 i32)))
//	host-concat(lp, ll, rp, rl, retptr)
//
// cabi_realloc is a bump allocator; freeing is a no-op and realloc copies
// min(oldSize, newSize) bytes into a fresh block.
package wasm
