package vm

import (
	"bytes"

	"github.com/mvm-go/mvm/value"
)

// IsNaN reports whether v is the canonical NaN singleton.
func IsNaN(v value.Value) bool { return v == value.NaN }

// valueTypeCode returns the allocation type code backing a pointer-shaped
// Value, or ok=false for an immediate.
func (vm *VM) valueTypeCode(v value.Value) (value.TypeCode, bool) {
	if !value.IsShortPtr(v) && !value.IsBytecodeMappedPtr(v) {
		return 0, false
	}
	lp, err := vm.DecodeLong(v)
	if err != nil {
		return 0, false
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return 0, false
	}
	return tc, true
}

// Equal implements the structural equality rule table. NaN is
// never equal to anything, including itself. Bit-identical values are
// always equal. Strings compare by content. INT32/FLOAT64/HOST_FUNC/BIG_INT
// allocations of the same type code compare by content, since two distinct
// allocations can hold the same numeric value. Everything else (object,
// array, closure, function, symbol identity; Int14/undefined/null/bool/-0)
// is equal only when bit-identical, which the fast path above already
// covers.
func (vm *VM) Equal(a, b value.Value) (bool, error) {
	if a == value.NaN || b == value.NaN {
		return false, nil
	}
	if a == b {
		return true, nil
	}

	aStr, aIsStr, err := vm.tryReadString(a)
	if err != nil {
		return false, err
	}
	bStr, bIsStr, err := vm.tryReadString(b)
	if err != nil {
		return false, err
	}
	if aIsStr || bIsStr {
		if aIsStr && bIsStr {
			return aStr == bStr, nil
		}
		return false, nil
	}

	aTC, aOk := vm.valueTypeCode(a)
	bTC, bOk := vm.valueTypeCode(b)
	if !aOk || !bOk || aTC != bTC {
		return false, nil
	}
	switch aTC {
	case value.TCInt32, value.TCFloat64, value.TCHostFunc, value.TCBigInt:
		aLP, _ := vm.DecodeLong(a)
		bLP, _ := vm.DecodeLong(b)
		_, size, _ := vm.readHeader(aLP)
		aBody, err := vm.bytesAt(aLP, int(size))
		if err != nil {
			return false, err
		}
		bBody, err := vm.bytesAt(bLP, int(size))
		if err != nil {
			return false, err
		}
		return bytes.Equal(aBody, bBody), nil
	default:
		return false, nil
	}
}

// ToBool implements the standard truthiness rules: false, 0,
// NaN, -0, undefined, null, and the empty string are falsy; everything else
// is truthy.
func (vm *VM) ToBool(v value.Value) (bool, error) {
	switch v {
	case value.False, value.NaN, value.NegZero, value.Undefined, value.Null:
		return false, nil
	case value.True:
		return true, nil
	}
	if value.IsInt14(v) {
		return value.DecodeInt14(v) != 0, nil
	}
	if s, isStr, err := vm.tryReadString(v); err != nil {
		return false, err
	} else if isStr {
		return s != "", nil
	}
	if !value.IsShortPtr(v) && !value.IsBytecodeMappedPtr(v) {
		return true, nil
	}
	lp, err := vm.DecodeLong(v)
	if err != nil {
		return false, err
	}
	tc, size, err := vm.readHeader(lp)
	if err != nil {
		return false, err
	}
	switch tc {
	case value.TCInt32:
		body, err := vm.bytesAt(lp, int(size))
		if err != nil {
			return false, err
		}
		return int32(leUint32(body)) != 0, nil
	case value.TCFloat64:
		// FLOAT64 allocations never hold NaN or -0 (those are well-known
		// singletons), so a plain zero test is sufficient.
		_, f, err := vm.decodeNumeric(v)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	default:
		return true, nil
	}
}
