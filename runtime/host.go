package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-strings/boundary"
	"github.com/wippyai/wasm-strings/errors"
	"github.com/wippyai/wasm-strings/internal/memory"
)

// HostStats counts calls into the host concat.
type HostStats struct {
	Calls    uint64
	Failures uint64
}

// Host is the host implementation of the lowered import
//
//	foo#concat(left_ptr, left_len, right_ptr, right_len, retptr)
//
// It borrows both strings from the caller's memory, allocates the result
// with the caller's cabi_realloc and stores the record at retptr. The
// result belongs to the guest from then on.
type Host struct {
	rt       *Runtime
	log      *zap.Logger
	calls    atomic.Uint64
	failures atomic.Uint64
	mu       sync.Mutex
	lastErr  error
}

type hostCallKey struct{}

// hostCall receives the failure of a host concat made under one guest call.
type hostCall struct {
	err error
}

func withHostCall(ctx context.Context, c *hostCall) context.Context {
	return context.WithValue(ctx, hostCallKey{}, c)
}

func newHost(r *Runtime) *Host {
	return &Host{rt: r, log: r.log.Named("host")}
}

func (h *Host) install(ctx context.Context, rt wazero.Runtime, module string) error {
	params, results, err := ConcatSignature.Lowered()
	if err != nil {
		return errors.Registration(module, HostConcat, err)
	}
	_, err = rt.NewHostModuleBuilder(module).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.concat), params, results).
		WithParameterNames("left_ptr", "left_len", "right_ptr", "right_len", "retptr").
		Export(HostConcat).
		Instantiate(ctx)
	if err != nil {
		return errors.Registration(module, HostConcat, err)
	}
	return nil
}

// Stats returns call counters.
func (h *Host) Stats() HostStats {
	return HostStats{Calls: h.calls.Load(), Failures: h.failures.Load()}
}

// LastError returns the most recent host failure, or nil.
func (h *Host) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Host) concat(ctx context.Context, mod api.Module, stack []uint64) {
	h.calls.Add(1)

	left := boundary.String{Ptr: api.DecodeU32(stack[0]), Len: api.DecodeU32(stack[1])}
	right := boundary.String{Ptr: api.DecodeU32(stack[2]), Len: api.DecodeU32(stack[3])}
	retptr := api.DecodeU32(stack[4])

	err := h.concatInto(ctx, mod, left, right, retptr)
	if err == nil {
		return
	}

	h.failures.Add(1)
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	if c, ok := ctx.Value(hostCallKey{}).(*hostCall); ok {
		c.err = err
	}
	h.log.Warn("host concat failed",
		zap.String("module", mod.Name()),
		zap.Uint32("retptr", retptr),
		zap.Error(err))

	// The import has no error channel; the guest sees an empty string.
	if mem := mod.Memory(); mem != nil {
		mem.WriteUint32Le(retptr, 0)
		mem.WriteUint32Le(retptr+4, 0)
	}
}

func (h *Host) concatInto(ctx context.Context, mod api.Module, left, right boundary.String, retptr uint32) error {
	if mod.Memory() == nil {
		return errors.NotFound(errors.PhaseHost, "memory export", "memory")
	}
	fn := mod.ExportedFunction(CabiRealloc)
	if fn == nil {
		return errors.NotFound(errors.PhaseHost, "function export", CabiRealloc)
	}

	mem := memory.WrapMemory(mod.Memory())
	alloc := memory.WrapRealloc(fn, h.log)
	alloc.SetContext(ctx)

	tr := boundary.NewTransferWithConfig(mem, alloc, &boundary.Config{
		Name:      "host:" + mod.Name(),
		ScanLimit: h.rt.cfg.ScanLimit,
		History:   h.rt.cfg.History,
	})

	out, err := tr.Concat(left, right)
	if err != nil {
		return err
	}
	if err := boundary.Store(mem, retptr, out); err != nil {
		_ = tr.Free(&out)
		return err
	}
	if _, err := tr.Detach(out); err != nil {
		return err
	}
	return nil
}
