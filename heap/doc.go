// Package heap provides a linear memory arena backed by the Go heap.
//
// An Arena stands in for a guest's linear memory when strings are handed
// across a boundary inside one process, and in tests. It grows in 64KB
// pages up to a configured limit and never shrinks, like WebAssembly memory.
//
//	arena := heap.NewWithConfig(&heap.Config{MaxPages: 16})
//	ptr, err := arena.Alloc(32, 1)
//	...
//	arena.Free(ptr, 32, 1)
//
// Allocation is first-fit over an address-ordered free list; freed blocks
// coalesce with their neighbours and a free block at the top of the arena
// lowers the bump pointer. Address 0 is never returned.
package heap
