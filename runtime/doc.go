// Package runtime runs string guests on wazero and implements the host side
// of their string import.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	inst, err := rt.InstantiateGuest(ctx, &runtime.GuestConfig{HostImport: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	s, err := inst.Concat(ctx, "hello", "world")   // guest export
//	s, err = inst.HostConcat(ctx, "hello", "world") // guest -> host import
//
// # Guests
//
// Instantiate accepts any core module that exports memory, cabi_realloc and
// concat with the lifted shape of
//
//	concat: func(left: string, right: string) -> string
//
// that is (i32 i32 i32 i32) -> i32, where the result is a pointer to an
// 8-byte string record. An optional cabi_post_concat(i32) releases that
// record after the host has copied it out. Export shapes are checked before
// instantiation and a mismatch is a signature_mismatch error.
//
// # Host Import
//
// Every runtime installs a host module (default "foo") exporting concat
// with the lowered shape (i32 i32 i32 i32 i32) -> (). The host borrows both
// inputs, allocates the result through the caller's cabi_realloc and
// writes the record at retptr; the guest owns the result. The import has
// no error channel, so failures are logged, counted in Host().Stats() and
// reported to the guest as an empty string.
//
// # Ownership
//
// Each Instance has a boundary.Transfer over guest memory. Strings created
// through Transfer(ctx) are tracked and released on Close.
package runtime
