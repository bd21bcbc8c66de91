// Package wasmstrings moves strings across the WebAssembly component boundary.
//
// A component-model string is a (ptr, len) pair that lives in a guest's
// linear memory. It carries no terminator and does not describe who owns
// it: ownership follows from the operation that produced it. This library
// implements that handoff protocol on the host side, in Go.
//
// # Architecture Overview
//
//	wasmstrings/         Root package with core Memory and Allocator interfaces
//	├── boundary/        String record, ownership ledger, adopt/dup/free/concat
//	├── heap/            Go-heap linear memory arena with a free-list allocator
//	├── runtime/         wazero-backed guest instances and the host foo#concat
//	├── errors/          Structured error types
//	├── internal/
//	│   ├── memory/      wazero memory and cabi_realloc adapters
//	│   └── wasm/        Reference guest module assembler
//	└── cmd/wstr/        Command line front end
//
// # Quick Start
//
// Work against an in-process arena:
//
//	arena := heap.New()
//	tr := boundary.NewTransfer(arena, arena)
//	defer tr.Close()
//
//	hello, _ := tr.DupString("hello")
//	world, _ := tr.DupString("world")
//	joined, err := tr.Concat(hello, world)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	text, _ := tr.Text(joined) // "helloworld"
//
// Or against a real guest:
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	inst, err := rt.InstantiateGuest(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	out, err := inst.Concat(ctx, "hello", "world")
//
// # Ownership
//
// Values produced by Set, Dup and Concat are owned and must be released
// exactly once with Free. Values passed into Concat are borrowed. A Transfer
// records every value it hands out, so a second Free or a read after Free
// returns an error instead of corrupting guest memory.
//
// # Thread Safety
//
// Runtime, Instance and heap.Arena are safe for concurrent use; Instance
// serializes its calls. Transfer is NOT thread-safe and should be used by a
// single goroutine.
package wasmstrings
