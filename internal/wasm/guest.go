package wasm

import (
	"github.com/tetratelabs/wazero/api"
)

// Export names of the guest module.
const (
	ExportMemory      = "memory"
	ExportRealloc     = "cabi_realloc"
	ExportConcat      = "concat"
	ExportPostConcat  = "cabi_post_concat"
	ExportHostConcat  = "host-concat"
	DefaultImportMod  = "foo"
	DefaultImportName = "concat"
)

const (
	// DefaultHeapBase leaves the first KB for static data and keeps 0 unused.
	DefaultHeapBase = 1024

	DefaultInitialPages = 1
)

// Opcodes used by the guest bodies.
const (
	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0b
	opReturn      = 0x0f
	opCall        = 0x10
	opDrop        = 0x1a
	opSelect      = 0x1b
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI32Store    = 0x36
	opMemorySize  = 0x3f
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opI32Eqz      = 0x45
	opI32Eq       = 0x46
	opI32LtU      = 0x49
	opI32GtU      = 0x4b
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32And      = 0x71
	opI32Shl      = 0x74
	opI32ShrU     = 0x76
	opPrefixFC    = 0xfc
	opMemoryCopy  = 0x0a
	blockVoid     = 0x40
	alignWord     = 0x02
)

// GuestConfig holds guest module configuration
type GuestConfig struct {
	// InitialPages is the initial memory size. 0 means DefaultInitialPages.
	InitialPages uint32

	// MaxPages caps memory growth. 0 leaves the memory unbounded.
	MaxPages uint32

	// HeapBase is the first address cabi_realloc hands out.
	// 0 means DefaultHeapBase.
	HeapBase uint32

	// HostImport adds the lowered string import and the host-concat export.
	HostImport bool

	// ImportModule and ImportName name the lowered import.
	// Empty means DefaultImportMod and DefaultImportName.
	ImportModule string
	ImportName   string
}

// GuestBuilder builds the string guest module.
type GuestBuilder struct {
	cfg GuestConfig
}

type guestFunc struct {
	name    string
	typeIdx uint32
	locals  uint32
	body    []byte
}

// Function types. Shapes follow the flattened string signatures.
var guestTypes = [][2][]api.ValueType{
	// (old, oldSize, align, newSize) -> ptr and (lp, ll, rp, rl) -> retptr
	{i32s(4), i32s(1)},
	// (retptr)
	{i32s(1), nil},
	// (lp, ll, rp, rl, retptr)
	{i32s(5), nil},
}

const (
	typeQuad = iota
	typePost
	typeLowered
)

// NewGuestBuilder creates a builder with the default configuration.
func NewGuestBuilder() *GuestBuilder {
	return NewGuestBuilderWithConfig(nil)
}

// NewGuestBuilderWithConfig creates a builder with custom configuration.
func NewGuestBuilderWithConfig(cfg *GuestConfig) *GuestBuilder {
	b := &GuestBuilder{}
	if cfg != nil {
		b.cfg = *cfg
	}
	if b.cfg.InitialPages == 0 {
		b.cfg.InitialPages = DefaultInitialPages
	}
	if b.cfg.MaxPages > 0 && b.cfg.MaxPages < b.cfg.InitialPages {
		b.cfg.MaxPages = b.cfg.InitialPages
	}
	if b.cfg.HeapBase == 0 {
		b.cfg.HeapBase = DefaultHeapBase
	}
	if b.cfg.ImportModule == "" {
		b.cfg.ImportModule = DefaultImportMod
	}
	if b.cfg.ImportName == "" {
		b.cfg.ImportName = DefaultImportName
	}
	return b
}

// Config returns the effective configuration.
func (b *GuestBuilder) Config() GuestConfig {
	return b.cfg
}

// Build generates the WASM module bytes.
func (b *GuestBuilder) Build() []byte {
	funcs := b.funcs()

	var wasm []byte

	// Magic and version
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	wasm = appendSection(wasm, 0x01, buildTypeSection())
	if b.cfg.HostImport {
		wasm = appendSection(wasm, 0x02, b.buildImportSection())
	}
	wasm = appendSection(wasm, 0x03, buildFuncSection(funcs))
	wasm = appendSection(wasm, 0x05, b.buildMemorySection())
	wasm = appendSection(wasm, 0x06, b.buildGlobalSection())
	wasm = appendSection(wasm, 0x07, b.buildExportSection(funcs))
	wasm = appendSection(wasm, 0x0a, buildCodeSection(funcs))
	return wasm
}

// importCount is the number of imported functions, which shifts local
// function indices.
func (b *GuestBuilder) importCount() uint32 {
	if b.cfg.HostImport {
		return 1
	}
	return 0
}

func (b *GuestBuilder) funcs() []guestFunc {
	base := b.importCount()
	realloc := base

	funcs := []guestFunc{
		{name: ExportRealloc, typeIdx: typeQuad, locals: 2, body: reallocBody()},
		{name: ExportConcat, typeIdx: typeQuad, locals: 2, body: concatBody(realloc)},
		{name: ExportPostConcat, typeIdx: typePost, body: postConcatBody(realloc)},
	}
	if b.cfg.HostImport {
		funcs = append(funcs, guestFunc{name: ExportHostConcat, typeIdx: typeLowered, body: trampolineBody(0, 5)})
	}
	return funcs
}

func buildTypeSection() []byte {
	section := EncodeULEB128(uint32(len(guestTypes)))
	for _, t := range guestTypes {
		section = append(section, 0x60)
		section = append(section, EncodeULEB128(uint32(len(t[0])))...)
		for _, p := range t[0] {
			section = append(section, ValTypeToWasm(p))
		}
		section = append(section, EncodeULEB128(uint32(len(t[1])))...)
		for _, r := range t[1] {
			section = append(section, ValTypeToWasm(r))
		}
	}
	return section
}

func (b *GuestBuilder) buildImportSection() []byte {
	section := EncodeULEB128(1)
	section = append(section, EncodeName(b.cfg.ImportModule)...)
	section = append(section, EncodeName(b.cfg.ImportName)...)
	section = append(section, 0x00) // func
	section = append(section, EncodeULEB128(typeLowered)...)
	return section
}

func buildFuncSection(funcs []guestFunc) []byte {
	section := EncodeULEB128(uint32(len(funcs)))
	for _, f := range funcs {
		section = append(section, EncodeULEB128(f.typeIdx)...)
	}
	return section
}

func (b *GuestBuilder) buildMemorySection() []byte {
	section := EncodeULEB128(1)
	if b.cfg.MaxPages > 0 {
		section = append(section, 0x01)
		section = append(section, EncodeULEB128(b.cfg.InitialPages)...)
		section = append(section, EncodeULEB128(b.cfg.MaxPages)...)
		return section
	}
	section = append(section, 0x00)
	section = append(section, EncodeULEB128(b.cfg.InitialPages)...)
	return section
}

func (b *GuestBuilder) buildGlobalSection() []byte {
	section := EncodeULEB128(1)
	section = append(section, ValTypeToWasm(api.ValueTypeI32), 0x01) // mutable
	section = append(section, opI32Const)
	section = append(section, EncodeSLEB128(int32(b.cfg.HeapBase))...)
	section = append(section, opEnd)
	return section
}

func (b *GuestBuilder) buildExportSection(funcs []guestFunc) []byte {
	section := EncodeULEB128(uint32(len(funcs) + 1))
	section = append(section, EncodeName(ExportMemory)...)
	section = append(section, 0x02, 0x00)

	base := b.importCount()
	for i, f := range funcs {
		section = append(section, EncodeName(f.name)...)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(base+uint32(i))...)
	}
	return section
}

func buildCodeSection(funcs []guestFunc) []byte {
	section := EncodeULEB128(uint32(len(funcs)))
	for _, f := range funcs {
		var body []byte
		if f.locals > 0 {
			body = append(body, 0x01)
			body = append(body, EncodeULEB128(f.locals)...)
			body = append(body, ValTypeToWasm(api.ValueTypeI32))
		} else {
			body = append(body, 0x00)
		}
		body = append(body, f.body...)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

// reallocBody is cabi_realloc(old, oldSize, align, newSize) with locals
// ptr (4) and end (5). The heap pointer is global 0.
func reallocBody() []byte {
	var c []byte
	// newSize == 0 frees; bump memory is never reclaimed
	c = append(c, opLocalGet, 3, opI32Eqz, opIf, blockVoid)
	c = append(c, opI32Const, 0, opReturn)
	c = append(c, opEnd)

	// ptr = (heap + align - 1) & -align
	c = append(c, opGlobalGet, 0, opLocalGet, 2, opI32Add, opI32Const, 1, opI32Sub)
	c = append(c, opI32Const, 0, opLocalGet, 2, opI32Sub, opI32And, opLocalSet, 4)

	// end = ptr + newSize, trap on wrap
	c = append(c, opLocalGet, 4, opLocalGet, 3, opI32Add, opLocalTee, 5)
	c = append(c, opLocalGet, 4, opI32LtU, opIf, blockVoid, opUnreachable, opEnd)
	c = append(c, opLocalGet, 5, opGlobalSet, 0)

	// grow by ceil((end - memory.size*64K) / 64K) pages when end is past memory
	c = append(c, opLocalGet, 5, opMemorySize, 0, opI32Const, 16, opI32Shl, opI32GtU)
	c = append(c, opIf, blockVoid)
	c = append(c, opLocalGet, 5, opMemorySize, 0, opI32Const, 16, opI32Shl, opI32Sub)
	c = append(c, opI32Const)
	c = append(c, EncodeSLEB128(int32(0xffff))...)
	c = append(c, opI32Add, opI32Const, 16, opI32ShrU)
	c = append(c, opMemoryGrow, 0)
	c = append(c, opI32Const)
	c = append(c, EncodeSLEB128(int32(-1))...)
	c = append(c, opI32Eq, opIf, blockVoid, opUnreachable, opEnd)
	c = append(c, opEnd)

	// realloc: copy min(oldSize, newSize) bytes from old
	c = append(c, opLocalGet, 0, opIf, blockVoid)
	c = append(c, opLocalGet, 4, opLocalGet, 0)
	c = append(c, opLocalGet, 1, opLocalGet, 3, opLocalGet, 1, opLocalGet, 3, opI32LtU, opSelect)
	c = append(c, opPrefixFC, opMemoryCopy, 0, 0)
	c = append(c, opEnd)

	c = append(c, opLocalGet, 4)
	c = append(c, opEnd)
	return c
}

// concatBody is concat(lp, ll, rp, rl) -> retptr with locals dst (4) and
// ret (5). The result string and the 8-byte return area both come from
// cabi_realloc and are released by cabi_post_concat.
func concatBody(realloc uint32) []byte {
	call := append([]byte{opCall}, EncodeULEB128(realloc)...)

	var c []byte
	// dst = cabi_realloc(0, 0, 1, ll + rl)
	c = append(c, opI32Const, 0, opI32Const, 0, opI32Const, 1)
	c = append(c, opLocalGet, 1, opLocalGet, 3, opI32Add)
	c = append(c, call...)
	c = append(c, opLocalSet, 4)

	// memory.copy(dst, lp, ll)
	c = append(c, opLocalGet, 4, opLocalGet, 0, opLocalGet, 1)
	c = append(c, opPrefixFC, opMemoryCopy, 0, 0)

	// memory.copy(dst + ll, rp, rl)
	c = append(c, opLocalGet, 4, opLocalGet, 1, opI32Add, opLocalGet, 2, opLocalGet, 3)
	c = append(c, opPrefixFC, opMemoryCopy, 0, 0)

	// ret = cabi_realloc(0, 0, 4, 8)
	c = append(c, opI32Const, 0, opI32Const, 0, opI32Const, 4, opI32Const, 8)
	c = append(c, call...)
	c = append(c, opLocalTee, 5)

	// ret.ptr = dst; ret.len = ll + rl
	c = append(c, opLocalGet, 4, opI32Store, alignWord, 0)
	c = append(c, opLocalGet, 5, opLocalGet, 1, opLocalGet, 3, opI32Add, opI32Store, alignWord, 4)

	c = append(c, opLocalGet, 5)
	c = append(c, opEnd)
	return c
}

// postConcatBody releases the string and the return area written by concat.
func postConcatBody(realloc uint32) []byte {
	call := append([]byte{opCall}, EncodeULEB128(realloc)...)

	var c []byte
	c = append(c, opLocalGet, 0, opI32Load, alignWord, 0)
	c = append(c, opLocalGet, 0, opI32Load, alignWord, 4)
	c = append(c, opI32Const, 1, opI32Const, 0)
	c = append(c, call...)
	c = append(c, opDrop)

	c = append(c, opLocalGet, 0, opI32Const, 8, opI32Const, 4, opI32Const, 0)
	c = append(c, call...)
	c = append(c, opDrop)
	c = append(c, opEnd)
	return c
}

// trampolineBody forwards its params to function fn.
func trampolineBody(fn uint32, params uint32) []byte {
	var c []byte
	for i := range params {
		c = append(c, opLocalGet)
		c = append(c, EncodeULEB128(i)...)
	}
	c = append(c, opCall)
	c = append(c, EncodeULEB128(fn)...)
	c = append(c, opEnd)
	return c
}

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}
