package wasm

import (
	"bytes"
	"testing"

	"github.com/tetratelabs/wazero/api"
)

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		expected []byte
		input    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}

	for _, tt := range tests {
		result := EncodeULEB128(tt.input)
		if !bytes.Equal(result, tt.expected) {
			t.Errorf("EncodeULEB128(%d) = %x, want %x", tt.input, result, tt.expected)
		}
	}
}

func TestEncodeSLEB128(t *testing.T) {
	tests := []struct {
		expected []byte
		input    int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x80, 0x08}, 1024},
		{[]byte{0xff, 0xff, 0x03}, 0xffff},
	}

	for _, tt := range tests {
		result := EncodeSLEB128(tt.input)
		if !bytes.Equal(result, tt.expected) {
			t.Errorf("EncodeSLEB128(%d) = %x, want %x", tt.input, result, tt.expected)
		}
	}
}

func TestEncodeName(t *testing.T) {
	got := EncodeName("cabi_realloc")
	if got[0] != 12 || string(got[1:]) != "cabi_realloc" {
		t.Errorf("EncodeName = %x", got)
	}
}

func TestValTypeToWasm(t *testing.T) {
	tests := []struct {
		input    api.ValueType
		expected byte
	}{
		{api.ValueTypeI32, 0x7f},
		{api.ValueTypeI64, 0x7e},
		{api.ValueTypeF32, 0x7d},
		{api.ValueTypeF64, 0x7c},
	}

	for _, tt := range tests {
		if result := ValTypeToWasm(tt.input); result != tt.expected {
			t.Errorf("ValTypeToWasm(%v): expected 0x%02x, got 0x%02x", tt.input, tt.expected, result)
		}
	}
}
