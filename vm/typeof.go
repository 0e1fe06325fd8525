package vm

import "github.com/mvm-go/mvm/value"

// Kind is the exhaustive set of typeof-like classifications the embedder
// API exposes.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindBigInt
	KindSymbol
	KindFunction
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBigInt:
		return "bigint"
	case KindSymbol:
		return "symbol"
	case KindFunction:
		return "function"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// TypeOf classifies v for the embedder. Every TypeCode maps to exactly one
// Kind; FUNCTION, HOST_FUNC, and CLOSURE all classify as KindFunction since
// a JS-subset embedder only needs to distinguish "callable" from "not" at
// this layer, while OBJECT vs ARRAY distinguishes PROPERTY_LIST from
// ARRAY/FIXED_LENGTH_ARRAY.
func (vm *VM) TypeOf(v value.Value) (Kind, error) {
	switch v {
	case value.Undefined:
		return KindUndefined, nil
	case value.Null:
		return KindNull, nil
	case value.True, value.False:
		return KindBoolean, nil
	case value.NaN, value.NegZero:
		return KindNumber, nil
	case value.StrLength, value.StrProto:
		return KindString, nil
	}
	if value.IsInt14(v) {
		return KindNumber, nil
	}
	if !value.IsShortPtr(v) && !value.IsBytecodeMappedPtr(v) {
		return KindUndefined, nil
	}
	lp, err := vm.DecodeLong(v)
	if err != nil {
		return KindUndefined, err
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return KindUndefined, err
	}
	switch tc {
	case value.TCInt32, value.TCFloat64:
		return KindNumber, nil
	case value.TCString, value.TCInternedString:
		return KindString, nil
	case value.TCBigInt:
		return KindBigInt, nil
	case value.TCSymbol:
		return KindSymbol, nil
	case value.TCFunction, value.TCHostFunc, value.TCClosure:
		return KindFunction, nil
	case value.TCPropertyList:
		return KindObject, nil
	case value.TCArray, value.TCFixedLengthArray:
		return KindArray, nil
	default:
		return KindObject, nil
	}
}
