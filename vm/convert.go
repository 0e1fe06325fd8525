package vm

import (
	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// ToFloat64 coerces a numeric value to f64.
func (vm *VM) ToFloat64(v value.Value) (float64, error) {
	if !vm.opts.FloatSupport {
		return 0, errors.New(errors.PhaseRuntime, errors.CodeOperationRequiresFloatSupport).Build()
	}
	_, f, err := vm.decodeNumeric(v)
	return f, err
}

// ToInt32 coerces a numeric value to i32 with truncation.
func (vm *VM) ToInt32(v value.Value) (int32, error) {
	n, _, err := vm.decodeInt32(v)
	return n, err
}

// ToString renders v the way to_string_utf8 does: strings
// verbatim, numbers through the canonical formatter, and the handful of
// named singletons by name. Objects, arrays, and callables render as their
// typeof kind in brackets since the core carries no user-defined toString
// protocol.
func (vm *VM) ToString(v value.Value) (string, error) {
	if s, isStr, err := vm.tryReadString(v); err != nil {
		return "", err
	} else if isStr {
		return s, nil
	}
	switch v {
	case value.Undefined:
		return "undefined", nil
	case value.Null:
		return "null", nil
	case value.True:
		return "true", nil
	case value.False:
		return "false", nil
	case value.NaN:
		return "NaN", nil
	case value.NegZero:
		return "0", nil
	}
	if _, f, err := vm.decodeNumeric(v); err == nil {
		return formatNumber(f), nil
	}
	kind, err := vm.TypeOf(v)
	if err != nil {
		return "", err
	}
	return "[" + kind.String() + "]", nil
}
