package vm

import (
	"math"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// decodeNumeric resolves any numeric-kind Value (Int14, NaN, -0, a RAM/ROM
// INT32 allocation, or a RAM/ROM FLOAT64 allocation) to its f64 form plus a
// flag saying whether it started out float-typed (used so the caller can
// decide whether the integer fast path even applies).
func (vm *VM) decodeNumeric(v value.Value) (isFloat bool, f64 float64, err error) {
	switch {
	case value.IsInt14(v):
		return false, float64(value.DecodeInt14(v)), nil
	case v == value.NaN:
		return true, math.NaN(), nil
	case v == value.NegZero:
		return true, math.Copysign(0, -1), nil
	case value.IsShortPtr(v) || value.IsBytecodeMappedPtr(v):
		lp, derr := vm.DecodeLong(v)
		if derr != nil {
			return false, 0, derr
		}
		tc, size, herr := vm.readHeader(lp)
		if herr != nil {
			return false, 0, herr
		}
		switch tc {
		case value.TCInt32:
			body, berr := vm.bytesAt(lp, int(size))
			if berr != nil {
				return false, 0, berr
			}
			return false, float64(int32(leUint32(body))), nil
		case value.TCFloat64:
			body, berr := vm.bytesAt(lp, int(size))
			if berr != nil {
				return false, 0, berr
			}
			return true, math.Float64frombits(leUint64(body)), nil
		default:
			return false, 0, errors.TypeError(errors.PhaseInterp, "value is not a number")
		}
	default:
		return false, 0, errors.TypeError(errors.PhaseInterp, "value is not a number")
	}
}

// decodeInt32 coerces v to an i32 the way the bitwise operators do: float
// operands truncate, non-finite values map to zero.
func (vm *VM) decodeInt32(v value.Value) (int32, bool, error) {
	isFloat, f, err := vm.decodeNumeric(v)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, isFloat, nil
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, isFloat, nil
	}
	return int32(f), isFloat, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return u
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// allocInt32 allocates a RAM INT32 allocation and returns its Value.
func (vm *VM) allocInt32(n int32) (value.Value, error) {
	ptr, err := vm.heap.Allocate(4, value.TCInt32)
	if err != nil {
		return 0, err
	}
	body, _ := vm.heap.Bytes(uint32(ptr), 4)
	putLeUint32(body, uint32(n))
	return EncodeShort(uint32(ptr)), nil
}

// allocFloat64 allocates a RAM FLOAT64 allocation and returns its Value.
func (vm *VM) allocFloat64(f float64) (value.Value, error) {
	ptr, err := vm.heap.Allocate(8, value.TCFloat64)
	if err != nil {
		return 0, err
	}
	body, _ := vm.heap.Bytes(uint32(ptr), 8)
	putLeUint64(body, math.Float64bits(f))
	return EncodeShort(uint32(ptr)), nil
}

// MakeInt32 packs n into the canonical representation: an Int14 immediate
// when it fits, else a RAM INT32 allocation.
func (vm *VM) MakeInt32(n int32) (value.Value, error) {
	if value.FitsInt14(n) {
		return value.EncodeInt14(int16(n)), nil
	}
	return vm.allocInt32(n)
}

// MakeNumber packs f into the canonical representation: NaN and -0 are well-
// known singletons; a value equal to its int32 truncation is canonicalized
// through MakeInt32; anything else is a RAM FLOAT64 allocation.
func (vm *VM) MakeNumber(f float64) (value.Value, error) {
	if math.IsNaN(f) {
		return value.NaN, nil
	}
	if f == 0 && math.Signbit(f) {
		return value.NegZero, nil
	}
	// The truncation probe is only meaningful for finite values inside the
	// i32 range; int32(±Inf) is unspecified in Go.
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		if trunc := float64(int32(f)); f == trunc {
			return vm.MakeInt32(int32(f))
		}
	}
	return vm.allocFloat64(f)
}

// execNumOp implements the NUM_OP opcode group.
// Binary sub-ops pop (b, a) in that order (b was pushed last); the unary
// negate pops just one operand.
func (vm *VM) execNumOp(sub NumOp) error {
	if sub == NumOpNeg {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		_, fa, err := vm.decodeNumeric(a)
		if err != nil {
			return err
		}
		result, err := vm.MakeNumber(-fa)
		if err != nil {
			return err
		}
		return vm.push(result)
	}

	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	floatA, fa, err := vm.decodeNumeric(a)
	if err != nil {
		return err
	}
	floatB, fb, err := vm.decodeNumeric(b)
	if err != nil {
		return err
	}
	useFloat := floatA || floatB

	switch sub {
	case NumOpLt:
		return vm.push(boolValue(fa < fb))
	case NumOpLte:
		return vm.push(boolValue(fa <= fb))
	case NumOpGt:
		return vm.push(boolValue(fa > fb))
	case NumOpGte:
		return vm.push(boolValue(fa >= fb))
	}

	if !useFloat {
		ia, ib := int32(fa), int32(fb)
		switch sub {
		case NumOpSub:
			r := int64(ia) - int64(ib)
			if r >= math.MinInt32 && r <= math.MaxInt32 {
				v, err := vm.MakeInt32(int32(r))
				if err != nil {
					return err
				}
				return vm.push(v)
			}
		case NumOpMul:
			r := int64(ia) * int64(ib)
			if r >= math.MinInt32 && r <= math.MaxInt32 {
				v, err := vm.MakeInt32(int32(r))
				if err != nil {
					return err
				}
				return vm.push(v)
			}
		case NumOpDiv:
			if ib != 0 && ia%ib == 0 {
				r := int64(ia) / int64(ib)
				if r >= math.MinInt32 && r <= math.MaxInt32 {
					v, err := vm.MakeInt32(int32(r))
					if err != nil {
						return err
					}
					return vm.push(v)
				}
			}
		case NumOpMod:
			if ib != 0 {
				v, err := vm.MakeInt32(ia % ib)
				if err != nil {
					return err
				}
				return vm.push(v)
			}
		case NumOpPow:
			// Integer exponentiation is not guaranteed exact for negative
			// exponents; fall through to the float path uniformly.
		}
	}

	if !vm.opts.FloatSupport {
		return errors.New(errors.PhaseInterp, errors.CodeOperationRequiresFloatSupport).Build()
	}

	var result float64
	switch sub {
	case NumOpSub:
		result = fa - fb
	case NumOpMul:
		result = fa * fb
	case NumOpDiv:
		// IEEE semantics: x/0 is ±Inf, 0/0 is NaN. The integer fast path
		// never reaches here with an exact integer quotient.
		result = fa / fb
	case NumOpMod:
		// math.Mod(x, 0) is NaN, which is the required x % 0 result.
		result = math.Mod(fa, fb)
	case NumOpPow:
		result = math.Pow(fa, fb)
	default:
		return errors.Unexpected(errors.PhaseInterp, "unknown NUM_OP subcode")
	}
	v, err := vm.MakeNumber(result)
	if err != nil {
		return err
	}
	return vm.push(v)
}

// execBitOp implements the BIT_OP opcode group.
func (vm *VM) execBitOp(sub BitOp) error {
	if sub == BitOpNot {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		ia, _, err := vm.decodeInt32(a)
		if err != nil {
			return err
		}
		v, err := vm.MakeInt32(^ia)
		if err != nil {
			return err
		}
		return vm.push(v)
	}

	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}
	ia, _, err := vm.decodeInt32(a)
	if err != nil {
		return err
	}
	ib, _, err := vm.decodeInt32(b)
	if err != nil {
		return err
	}
	shift := uint(ib) & 0x1F

	switch sub {
	case BitOpAnd:
		return vm.pushInt32(ia & ib)
	case BitOpOr:
		return vm.pushInt32(ia | ib)
	case BitOpXor:
		return vm.pushInt32(ia ^ ib)
	case BitOpShl:
		return vm.pushInt32(ia << shift)
	case BitOpShrArith:
		return vm.pushInt32(ia >> shift)
	case BitOpShrLogical:
		u := uint32(ia) >> shift
		if u > math.MaxInt32 {
			if !vm.opts.FloatSupport {
				return errors.New(errors.PhaseInterp, errors.CodeOperationRequiresFloatSupport).Build()
			}
			v, err := vm.MakeNumber(float64(u))
			if err != nil {
				return err
			}
			return vm.push(v)
		}
		return vm.pushInt32(int32(u))
	default:
		return errors.Unexpected(errors.PhaseInterp, "unknown BIT_OP subcode")
	}
}

func (vm *VM) pushInt32(n int32) error {
	v, err := vm.MakeInt32(n)
	if err != nil {
		return err
	}
	return vm.push(v)
}

func boolValue(b bool) value.Value {
	if b {
		return value.True
	}
	return value.False
}

// execAdd implements the dual ADD opcode: string concat if
// either operand is a string, else numeric add.
func (vm *VM) execAdd() error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	aStr, aIsStr, err := vm.tryReadString(a)
	if err != nil {
		return err
	}
	bStr, bIsStr, err := vm.tryReadString(b)
	if err != nil {
		return err
	}
	if aIsStr || bIsStr {
		if !aIsStr {
			aStr = vm.toDisplayString(a)
		}
		if !bIsStr {
			bStr = vm.toDisplayString(b)
		}
		v, err := vm.NewString(aStr + bStr)
		if err != nil {
			return err
		}
		return vm.push(v)
	}

	floatA, fa, err := vm.decodeNumeric(a)
	if err != nil {
		return err
	}
	floatB, fb, err := vm.decodeNumeric(b)
	if err != nil {
		return err
	}
	if !floatA && !floatB {
		r := int64(int32(fa)) + int64(int32(fb))
		if r >= math.MinInt32 && r <= math.MaxInt32 {
			return vm.pushInt32(int32(r))
		}
	}
	if !vm.opts.FloatSupport {
		return errors.New(errors.PhaseInterp, errors.CodeOperationRequiresFloatSupport).Build()
	}
	v, err := vm.MakeNumber(fa + fb)
	if err != nil {
		return err
	}
	return vm.push(v)
}

// toDisplayString stringifies a non-string operand of ADD. Only the value
// kinds a minimal JS subset needs to coerce here are supported; anything
// else is rendered via TypeOf's kind name.
func (vm *VM) toDisplayString(v value.Value) string {
	switch {
	case v == value.Undefined:
		return "undefined"
	case v == value.Null:
		return "null"
	case v == value.True:
		return "true"
	case v == value.False:
		return "false"
	case value.IsInt14(v), v == value.NaN, v == value.NegZero, value.IsShortPtr(v), value.IsBytecodeMappedPtr(v):
		if _, f, err := vm.decodeNumeric(v); err == nil {
			return formatNumber(f)
		}
	}
	return ""
}
