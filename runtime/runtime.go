package runtime

import (
	"context"
	"strconv"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-strings/errors"
	guestwasm "github.com/wippyai/wasm-strings/internal/wasm"
)

const (
	// DefaultHostModule is the import module of the lowered concat.
	DefaultHostModule = "foo"

	// HostConcat is the import name of the lowered concat.
	HostConcat = "concat"
)

// Config holds configuration for runtime creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// HostModule names the module providing the host concat import.
	// Empty means DefaultHostModule.
	HostModule string

	// ScanLimit caps terminator scans of each instance transfer.
	// 0 means the boundary default.
	ScanLimit uint32

	// History is the released-address history of each instance ledger.
	// 0 means the boundary default.
	History int
}

// Runtime hosts string guests on a wazero runtime. It installs the host
// side of foo#concat before any guest is instantiated.
type Runtime struct {
	runtime wazero.Runtime
	host    *Host
	cfg     Config
	log     *zap.Logger
	mu      sync.Mutex
	seq     int
	closed  bool
}

// New creates a runtime with the default configuration.
func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a runtime with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Runtime, error) {
	r := &Runtime{log: Logger()}
	if cfg != nil {
		r.cfg = *cfg
	}
	if r.cfg.HostModule == "" {
		r.cfg.HostModule = DefaultHostModule
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if r.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(r.cfg.MemoryLimitPages)
	}
	r.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	r.host = newHost(r)
	if err := r.host.install(ctx, r.runtime, r.cfg.HostModule); err != nil {
		_ = r.runtime.Close(ctx)
		return nil, err
	}
	return r, nil
}

// Host returns the host side of the string import.
func (r *Runtime) Host() *Host {
	return r.host
}

// Close releases all runtime resources, including every instance.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.runtime.Close(ctx)
}

// GuestConfig configures the built-in reference guest.
type GuestConfig struct {
	// InitialPages is the initial guest memory size. 0 means one page.
	InitialPages uint32

	// MaxPages caps guest memory growth. 0 leaves it unbounded.
	MaxPages uint32

	// HostImport makes the guest import the host concat and export
	// host-concat.
	HostImport bool
}

// InstantiateGuest instantiates the built-in reference guest.
func (r *Runtime) InstantiateGuest(ctx context.Context, cfg *GuestConfig) (*Instance, error) {
	gc := &guestwasm.GuestConfig{ImportModule: r.cfg.HostModule, ImportName: HostConcat}
	if cfg != nil {
		gc.InitialPages = cfg.InitialPages
		gc.MaxPages = cfg.MaxPages
		gc.HostImport = cfg.HostImport
	}
	return r.Instantiate(ctx, guestwasm.NewGuestBuilderWithConfig(gc).Build())
}

// Instantiate compiles and instantiates a core module exporting memory,
// cabi_realloc and the lifted concat with its post-return.
func (r *Runtime) Instantiate(ctx context.Context, wasm []byte) (*Instance, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	r.seq++
	name := "guest-" + strconv.Itoa(r.seq)
	r.mu.Unlock()

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}
	if err := validateGuest(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	mod, err := r.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	inst, err := newInstance(r, name, mod, compiled)
	if err != nil {
		_ = mod.Close(ctx)
		_ = compiled.Close(ctx)
		return nil, err
	}
	r.log.Debug("guest instantiated",
		zap.String("name", name),
		zap.Uint32("memory", inst.mem.Size()),
		zap.Bool("host_import", inst.hostConcat != nil))
	return inst, nil
}

func validateGuest(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[guestwasm.ExportMemory]; !ok {
		return errors.NotFound(errors.PhaseLoad, "memory export", guestwasm.ExportMemory)
	}

	exports := compiled.ExportedFunctions()
	realloc, ok := exports[CabiRealloc]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "function export", CabiRealloc)
	}
	if err := checkShape(CabiRealloc, realloc, ReallocSignature, i32s(1)); err != nil {
		return err
	}

	concat, ok := exports[guestwasm.ExportConcat]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "function export", guestwasm.ExportConcat)
	}
	if err := checkExport(guestwasm.ExportConcat, concat, ConcatSignature); err != nil {
		return err
	}
	if post, ok := exports[PostPrefix+guestwasm.ExportConcat]; ok {
		if err := checkShape(PostPrefix+guestwasm.ExportConcat, post, i32s(1), nil); err != nil {
			return err
		}
	}
	if trampoline, ok := exports[guestwasm.ExportHostConcat]; ok {
		params, results, err := ConcatSignature.Lowered()
		if err != nil {
			return err
		}
		if err := checkShape(guestwasm.ExportHostConcat, trampoline, params, results); err != nil {
			return err
		}
	}
	return nil
}
