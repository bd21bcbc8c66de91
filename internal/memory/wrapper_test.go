package memory

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	guestwasm "github.com/wippyai/wasm-strings/internal/wasm"
)

func newGuest(t *testing.T, cfg *guestwasm.GuestConfig) api.Module {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, guestwasm.NewGuestBuilderWithConfig(cfg).Build())
	if err != nil {
		t.Fatal(err)
	}
	return mod
}

func TestWrapper_ReadWrite(t *testing.T) {
	mod := newGuest(t, nil)
	m := WrapMemory(mod.Memory())

	if m.Size() != 65536 {
		t.Errorf("Size = %d", m.Size())
	}
	if err := m.Write(100, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	got, err := m.Read(100, 3)
	if err != nil || string(got) != "abc" {
		t.Errorf("Read = %q, %v", got, err)
	}
	if err := m.WriteU32(200, 0x04030201); err != nil {
		t.Fatal(err)
	}
	if b, _ := m.ReadU8(200); b != 0x01 {
		t.Errorf("ReadU8 = %#x, want little-endian low byte", b)
	}
	if v, _ := m.ReadU32(200); v != 0x04030201 {
		t.Errorf("ReadU32 = %#x", v)
	}
	if err := m.WriteU8(201, 0xff); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadU32(200); v != 0x0403ff01 {
		t.Errorf("ReadU32 after WriteU8 = %#x", v)
	}
}

func TestWrapper_OutOfBounds(t *testing.T) {
	mod := newGuest(t, nil)
	m := WrapMemory(mod.Memory())
	size := m.Size()

	if _, err := m.Read(size-1, 2); err == nil {
		t.Error("Read past end should fail")
	}
	if err := m.Write(size, []byte{1}); err == nil {
		t.Error("Write past end should fail")
	}
	if _, err := m.ReadU8(size); err == nil {
		t.Error("ReadU8 past end should fail")
	}
	if _, err := m.ReadU32(size - 2); err == nil {
		t.Error("ReadU32 past end should fail")
	}
	if err := m.WriteU8(size, 1); err == nil {
		t.Error("WriteU8 past end should fail")
	}
	if err := m.WriteU32(size-3, 1); err == nil {
		t.Error("WriteU32 past end should fail")
	}
}

func TestWrapMemory_Nil(t *testing.T) {
	if WrapMemory(nil) != nil {
		t.Error("expected nil wrapper for nil memory")
	}
	if WrapRealloc(nil, nil) != nil {
		t.Error("expected nil allocator for nil function")
	}
}

func TestRealloc_AllocFree(t *testing.T) {
	mod := newGuest(t, nil)
	a := WrapRealloc(mod.ExportedFunction(guestwasm.ExportRealloc), nil)
	a.SetContext(context.Background())

	p1, err := a.Alloc(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Alloc(8, 4)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == 0 || p2%4 != 0 || p2 < p1+5 {
		t.Errorf("allocations %d, %d", p1, p2)
	}
	a.Free(p1, 5, 1)
	a.Free(0, 0, 1)
}

func TestRealloc_AllocTrap(t *testing.T) {
	mod := newGuest(t, &guestwasm.GuestConfig{MaxPages: 1})
	a := WrapRealloc(mod.ExportedFunction(guestwasm.ExportRealloc), nil)

	if _, err := a.Alloc(2*65536, 1); err == nil {
		t.Fatal("expected error when the guest cannot grow")
	}
}

func TestRealloc_FreeFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	trap := func(ctx context.Context, mod api.Module, stack []uint64) {
		panic("boom")
	}
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(trap),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export("realloc").
		Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// (module (import "env" "realloc" (func (param i32 i32 i32 i32) (result i32)))
	//         (export "cabi_realloc" (func 0)))
	reexport := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x09, 0x01, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
		0x02, 0x0f, 0x01, 0x03, 'e', 'n', 'v', 0x07, 'r', 'e', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
		0x07, 0x10, 0x01, 0x0c, 'c', 'a', 'b', 'i', '_', 'r', 'e', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	}
	guest, err := rt.Instantiate(ctx, reexport)
	if err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zap.WarnLevel)
	a := WrapRealloc(guest.ExportedFunction("cabi_realloc"), zap.New(core))
	a.Free(64, 8, 1)

	if logs.Len() != 1 {
		t.Errorf("expected one warning, got %d", logs.Len())
	}
}
