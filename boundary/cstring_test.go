package boundary

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-strings/errors"
	"github.com/wippyai/wasm-strings/heap"
)

// byteMemory hides MemorySizer so Strlen takes the bytewise path.
type byteMemory struct {
	arena *heap.Arena
}

func (m byteMemory) Read(offset, length uint32) ([]byte, error) { return m.arena.Read(offset, length) }
func (m byteMemory) Write(offset uint32, data []byte) error { return m.arena.Write(offset, data) }
func (m byteMemory) ReadU8(offset uint32) (uint8, error) { return m.arena.ReadU8(offset) }
func (m byteMemory) ReadU32(offset uint32) (uint32, error) { return m.arena.ReadU32(offset) }
func (m byteMemory) WriteU8(offset uint32, v uint8) error { return m.arena.WriteU8(offset, v) }
func (m byteMemory) WriteU32(offset uint32, v uint32) error { return m.arena.WriteU32(offset, v) }

func TestStrlen(t *testing.T) {
	arena := heap.New()

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", "abc"},
		{"chunk minus one", strings.Repeat("x", scanChunk-1)},
		{"exact chunk", strings.Repeat("y", scanChunk)},
		{"several chunks", strings.Repeat("z", scanChunk*3+17)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := WriteCString(arena, arena, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			for _, mem := range []Memory{arena, byteMemory{arena}} {
				n, err := Strlen(mem, raw, 0)
				if err != nil {
					t.Fatalf("Strlen(%T): %v", mem, err)
				}
				if n != uint32(len(tt.in)) {
					t.Errorf("Strlen(%T) = %d, want %d", mem, n, len(tt.in))
				}
			}
		})
	}
}

func TestStrlen_Errors(t *testing.T) {
	arena := heap.New()
	size := arena.Size()
	_ = arena.Write(size-4, []byte("abcd"))

	for _, mem := range []Memory{arena, byteMemory{arena}} {
		if _, err := Strlen(mem, 0, 0); !isErr(err, errors.PhaseRead, errors.KindInvalidInput) {
			t.Errorf("Strlen(%T, 0) = %v", mem, err)
		}
		if _, err := Strlen(mem, size-4, 0); !isErr(err, errors.PhaseRead, errors.KindOutOfBounds) {
			t.Errorf("Strlen(%T, unterminated) = %v", mem, err)
		}
		if _, err := Strlen(mem, size+10, 0); !isErr(err, errors.PhaseRead, errors.KindOutOfBounds) {
			t.Errorf("Strlen(%T, past end) = %v", mem, err)
		}
	}
}

func TestWriteCString(t *testing.T) {
	arena := heap.New()

	raw, err := WriteCString(arena, arena, "nul")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := arena.Read(raw, 4)
	if string(b) != "nul\x00" {
		t.Errorf("buffer = %q", b)
	}

	if _, err := WriteCString(arena, arena, "in\x00side"); !isErr(err, errors.PhaseWrite, errors.KindInvalidInput) {
		t.Errorf("interior nul = %v", err)
	}

	full := heap.NewWithConfig(&heap.Config{MaxPages: 1})
	if _, err := WriteCString(full, full, strings.Repeat("a", heap.PageSize)); !isErr(err, errors.PhaseWrite, errors.KindAllocation) {
		t.Errorf("oversized = %v", err)
	}
}
