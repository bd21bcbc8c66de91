package runtime

import (
	"bytes"
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmstrings "github.com/wippyai/wasm-strings"
	"github.com/wippyai/wasm-strings/boundary"
	"github.com/wippyai/wasm-strings/errors"
	"github.com/wippyai/wasm-strings/internal/memory"
	guestwasm "github.com/wippyai/wasm-strings/internal/wasm"
)

// Instance is an instantiated string guest. The host side of its boundary
// is a Transfer that allocates in guest memory through cabi_realloc.
// Instance methods are serialized; an Instance may be shared between
// goroutines but calls do not run in parallel.
type Instance struct {
	rt         *Runtime
	name       string
	mod        api.Module
	compiled   wazero.CompiledModule
	mem        *memory.Wrapper
	alloc      *memory.Realloc
	tr         *boundary.Transfer
	concat     api.Function
	post       api.Function
	hostConcat api.Function
	log        *zap.Logger
	mu         sync.Mutex
	closed     bool
}

func newInstance(r *Runtime, name string, mod api.Module, compiled wazero.CompiledModule) (*Instance, error) {
	if mod.Memory() == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "memory export", guestwasm.ExportMemory)
	}
	realloc := mod.ExportedFunction(CabiRealloc)
	if realloc == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "function export", CabiRealloc)
	}

	log := r.log.With(zap.String("instance", name))
	mem := memory.WrapMemory(mod.Memory())
	alloc := memory.WrapRealloc(realloc, log)

	return &Instance{
		rt:       r,
		name:     name,
		mod:      mod,
		compiled: compiled,
		mem:      mem,
		alloc:    alloc,
		tr: boundary.NewTransferWithConfig(mem, alloc, &boundary.Config{
			Name:      name,
			ScanLimit: r.cfg.ScanLimit,
			History:   r.cfg.History,
		}),
		concat:     mod.ExportedFunction(guestwasm.ExportConcat),
		post:       mod.ExportedFunction(PostPrefix + guestwasm.ExportConcat),
		hostConcat: mod.ExportedFunction(guestwasm.ExportHostConcat),
		log:        log,
	}, nil
}

// Name returns the module instance name.
func (i *Instance) Name() string {
	return i.name
}

// Memory returns the guest linear memory.
func (i *Instance) Memory() wasmstrings.Memory {
	return i.mem
}

// MemorySize returns the guest memory size in bytes.
func (i *Instance) MemorySize() uint32 {
	return i.mem.Size()
}

// HasHostImport reports whether the guest lowers the host concat.
func (i *Instance) HasHostImport() bool {
	return i.hostConcat != nil
}

// Transfer returns the host side of the boundary. Guest allocations made
// through it run under ctx.
func (i *Instance) Transfer(ctx context.Context) *boundary.Transfer {
	i.alloc.SetContext(ctx)
	return i.tr
}

// WriteCString copies s into guest memory as a nul-terminated buffer
// allocated by cabi_realloc, ready for Set or Dup.
func (i *Instance) WriteCString(ctx context.Context, s string) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkOpen(); err != nil {
		return 0, err
	}
	i.alloc.SetContext(ctx)
	return boundary.WriteCString(i.mem, i.alloc, s)
}

// Concat calls the guest's concat export on copies of left and right.
func (i *Instance) Concat(ctx context.Context, left, right string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkOpen(); err != nil {
		return "", err
	}
	i.alloc.SetContext(ctx)

	l, r, err := i.dupPair(left, right)
	if err != nil {
		return "", err
	}
	defer i.release(&l, &r)

	out, err := i.callConcat(ctx, l, r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConcatStrings calls the guest's concat export on two borrowed strings
// in guest memory and returns an owned copy of the result. The guest's
// own result is released through its post-return before ConcatStrings
// returns.
func (i *Instance) ConcatStrings(ctx context.Context, left, right boundary.String) (boundary.String, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkOpen(); err != nil {
		return boundary.String{}, err
	}
	i.alloc.SetContext(ctx)

	if err := i.tr.CheckBorrowed(left, "left"); err != nil {
		return boundary.String{}, err
	}
	if err := i.tr.CheckBorrowed(right, "right"); err != nil {
		return boundary.String{}, err
	}
	out, err := i.callConcat(ctx, left, right)
	if err != nil {
		return boundary.String{}, err
	}
	return i.tr.DupBytes(out)
}

// HostConcat runs the host concat from inside the guest through its
// host-concat export and takes ownership of the result.
func (i *Instance) HostConcat(ctx context.Context, left, right string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkOpen(); err != nil {
		return "", err
	}
	if i.hostConcat == nil {
		return "", errors.NotFound(errors.PhaseHost, "function export", guestwasm.ExportHostConcat)
	}
	i.alloc.SetContext(ctx)

	l, r, err := i.dupPair(left, right)
	if err != nil {
		return "", err
	}
	defer i.release(&l, &r)

	ret, err := i.alloc.Alloc(boundary.StringSize, boundary.StringAlign)
	if err != nil {
		return "", errors.AllocationFailed(errors.PhaseHost, boundary.StringSize, boundary.StringAlign, err)
	}
	defer i.alloc.Free(ret, boundary.StringSize, boundary.StringAlign)

	call := &hostCall{}
	if _, err := i.hostConcat.Call(withHostCall(ctx, call),
		api.EncodeU32(l.Ptr), api.EncodeU32(l.Len),
		api.EncodeU32(r.Ptr), api.EncodeU32(r.Len),
		api.EncodeU32(ret)); err != nil {
		return "", errors.Trap(guestwasm.ExportHostConcat, err)
	}
	if call.err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, call.err, "host concat failed")
	}

	rec, err := boundary.Load(i.mem, ret)
	if err != nil {
		return "", err
	}
	owned, err := i.tr.Attach(rec)
	if err != nil {
		return "", err
	}
	defer func() { _ = i.tr.Free(&owned) }()
	return i.tr.Text(owned)
}

// Close releases strings the host still owns and closes the guest.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	i.alloc.SetContext(ctx)
	if n := i.tr.Owned(); n > 0 {
		i.log.Debug("closing with owned strings", zap.Int("count", n))
	}
	_ = i.tr.Close()
	err := i.mod.Close(ctx)
	if cerr := i.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

func (i *Instance) checkOpen() error {
	if i.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "instance "+i.name)
	}
	return nil
}

func (i *Instance) dupPair(left, right string) (boundary.String, boundary.String, error) {
	l, err := i.tr.DupString(left)
	if err != nil {
		return boundary.String{}, boundary.String{}, err
	}
	r, err := i.tr.DupString(right)
	if err != nil {
		_ = i.tr.Free(&l)
		return boundary.String{}, boundary.String{}, err
	}
	return l, r, nil
}

func (i *Instance) release(strs ...*boundary.String) {
	for _, s := range strs {
		if err := i.tr.Free(s); err != nil {
			i.log.Warn("release failed", zap.Error(err))
		}
	}
}

// callConcat lifts concat: it passes both strings flat, reads the result
// record through the returned retptr, copies the bytes out and runs the
// post-return.
func (i *Instance) callConcat(ctx context.Context, left, right boundary.String) ([]byte, error) {
	if i.concat == nil {
		return nil, errors.NotFound(errors.PhaseConcat, "function export", guestwasm.ExportConcat)
	}
	res, err := i.concat.Call(ctx,
		api.EncodeU32(left.Ptr), api.EncodeU32(left.Len),
		api.EncodeU32(right.Ptr), api.EncodeU32(right.Len))
	if err != nil {
		return nil, errors.Trap(guestwasm.ExportConcat, err)
	}
	retptr := api.DecodeU32(res[0])

	out, lerr := i.lift(retptr)
	if i.post != nil {
		if _, err := i.post.Call(ctx, api.EncodeU32(retptr)); err != nil && lerr == nil {
			lerr = errors.Trap(PostPrefix+guestwasm.ExportConcat, err)
		}
	}
	return out, lerr
}

func (i *Instance) lift(retptr uint32) ([]byte, error) {
	rec, err := boundary.Load(i.mem, retptr)
	if err != nil {
		return nil, err
	}
	if rec.Len == 0 {
		return []byte{}, nil
	}
	if rec.End() > uint64(i.mem.Size()) {
		return nil, errors.OutOfBounds(errors.PhaseRead, rec.Ptr, rec.Len, i.mem.Size())
	}
	view, err := i.mem.Read(rec.Ptr, rec.Len)
	if err != nil {
		return nil, errors.New(errors.PhaseRead, errors.KindOutOfBounds).Ptr(rec.Ptr).Cause(err).Build()
	}
	return bytes.Clone(view), nil
}
