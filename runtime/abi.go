package runtime

import (
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-strings/errors"
)

const (
	// MaxFlatParams is the canonical ABI limit before params spill to memory.
	MaxFlatParams = 16

	// MaxFlatResults is the canonical ABI limit before results use a retptr.
	MaxFlatResults = 1

	CabiRealloc = "cabi_realloc"
	PostPrefix  = "cabi_post_"
)

// Signature is a WIT function type.
type Signature struct {
	Params  []wit.Type
	Results []wit.Type
}

// ConcatSignature is concat: func(left: string, right: string) -> string.
var ConcatSignature = Signature{
	Params:  []wit.Type{wit.String{}, wit.String{}},
	Results: []wit.Type{wit.String{}},
}

// ReallocSignature is the core type of cabi_realloc.
var ReallocSignature = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}

// flatTypes returns the core types a value of t flattens to. Only scalars
// and strings are supported; aggregates need a full canonical ABI layout.
func flatTypes(t wit.Type) ([]api.ValueType, error) {
	switch t.(type) {
	case wit.String:
		return i32s(2), nil
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return i32s(1), nil
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}, nil
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}, nil
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}, nil
	default:
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Value(t).
			Detail("unsupported WIT type %T", t).
			Build()
	}
}

func flatten(types []wit.Type) ([]api.ValueType, error) {
	var out []api.ValueType
	for _, t := range types {
		flat, err := flatTypes(t)
		if err != nil {
			return nil, err
		}
		out = append(out, flat...)
	}
	return out, nil
}

// UsesRetptr reports whether results are returned through memory.
func (s Signature) UsesRetptr() bool {
	results, err := flatten(s.Results)
	return err == nil && len(results) > MaxFlatResults
}

// Lifted returns the core type of an exported function. Params that do not
// fit are passed as a single pointer and results that do not fit are
// returned as one.
func (s Signature) Lifted() (params, results []api.ValueType, err error) {
	if params, err = flatten(s.Params); err != nil {
		return nil, nil, err
	}
	if results, err = flatten(s.Results); err != nil {
		return nil, nil, err
	}
	if len(params) > MaxFlatParams {
		params = i32s(1)
	}
	if len(results) > MaxFlatResults {
		results = i32s(1)
	}
	return params, results, nil
}

// Lowered returns the core type of an imported function. Params that do
// not fit are passed as a single pointer and results that do not fit are
// written to a caller-provided retptr param.
func (s Signature) Lowered() (params, results []api.ValueType, err error) {
	if params, err = flatten(s.Params); err != nil {
		return nil, nil, err
	}
	if results, err = flatten(s.Results); err != nil {
		return nil, nil, err
	}
	if len(params) > MaxFlatParams {
		params = i32s(1)
	}
	if len(results) > MaxFlatResults {
		params = append(params, api.ValueTypeI32)
		results = []api.ValueType{}
	}
	return params, results, nil
}

// checkExport verifies that an export has the lifted core shape of sig.
func checkExport(name string, def api.FunctionDefinition, sig Signature) error {
	params, results, err := sig.Lifted()
	if err != nil {
		return err
	}
	return checkShape(name, def, params, results)
}

func checkShape(name string, def api.FunctionDefinition, params, results []api.ValueType) error {
	gotP, gotR := def.ParamTypes(), def.ResultTypes()
	if !sameTypes(gotP, params) || !sameTypes(gotR, results) {
		return errors.SignatureMismatch(name, shape(params, results), shape(gotP, gotR))
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shape(params, results []api.ValueType) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += " "
		}
		s += api.ValueTypeName(p)
	}
	s += ") -> ("
	for i, r := range results {
		if i > 0 {
			s += " "
		}
		s += api.ValueTypeName(r)
	}
	return s + ")"
}

func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI32
	}
	return out
}
