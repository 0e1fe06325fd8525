package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm/value"
)

func newBareVM(t *testing.T) *VM {
	t.Helper()
	return buildVM(t, newImageBuilder(), nil, DefaultOptions())
}

// binOp pushes a and b and executes a NUM_OP subcode, returning the result.
func binOp(t *testing.T, machine *VM, a, b value.Value, sub NumOp) value.Value {
	t.Helper()
	machine.ensureStack()
	require.NoError(t, machine.push(a))
	require.NoError(t, machine.push(b))
	require.NoError(t, machine.execNumOp(sub))
	v, err := machine.pop()
	require.NoError(t, err)
	return v
}

func add(t *testing.T, machine *VM, a, b value.Value) value.Value {
	t.Helper()
	machine.ensureStack()
	require.NoError(t, machine.push(a))
	require.NoError(t, machine.push(b))
	require.NoError(t, machine.execAdd())
	v, err := machine.pop()
	require.NoError(t, err)
	return v
}

func TestAdd_Int14OverflowPromotesToInt32(t *testing.T) {
	machine := newBareVM(t)

	r := add(t, machine, value.EncodeInt14(8191), value.EncodeInt14(1))
	require.True(t, value.IsShortPtr(r), "8192 does not fit Int14, must be an INT32 allocation")
	tc, ok := machine.valueTypeCode(r)
	require.True(t, ok)
	assert.Equal(t, value.TCInt32, tc)

	n, err := machine.ToInt32(r)
	require.NoError(t, err)
	assert.Equal(t, int32(8192), n)
}

func TestAdd_Int14UnderflowPromotesToInt32(t *testing.T) {
	machine := newBareVM(t)

	r := binOp(t, machine, value.EncodeInt14(-8192), value.EncodeInt14(1), NumOpSub)
	require.True(t, value.IsShortPtr(r))
	n, err := machine.ToInt32(r)
	require.NoError(t, err)
	assert.Equal(t, int32(-8193), n)
}

func TestAdd_Int32OverflowPromotesToFloat64(t *testing.T) {
	machine := newBareVM(t)

	big, err := machine.MakeInt32(math.MaxInt32)
	require.NoError(t, err)
	r := add(t, machine, big, value.EncodeInt14(1))

	tc, ok := machine.valueTypeCode(r)
	require.True(t, ok)
	assert.Equal(t, value.TCFloat64, tc)
	f, err := machine.ToFloat64(r)
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxInt32)+1, f)
}

func TestNumOp_ExactIntegerDivisionStaysInteger(t *testing.T) {
	machine := newBareVM(t)
	r := binOp(t, machine, value.EncodeInt14(6), value.EncodeInt14(3), NumOpDiv)
	assert.Equal(t, value.EncodeInt14(2), r)
}

func TestNumOp_InexactDivisionFallsToFloat(t *testing.T) {
	machine := newBareVM(t)
	r := binOp(t, machine, value.EncodeInt14(1), value.EncodeInt14(2), NumOpDiv)
	tc, ok := machine.valueTypeCode(r)
	require.True(t, ok)
	assert.Equal(t, value.TCFloat64, tc)
	f, err := machine.ToFloat64(r)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
}

func TestNumOp_ModuloByZeroIsNaN(t *testing.T) {
	machine := newBareVM(t)
	r := binOp(t, machine, value.EncodeInt14(5), value.EncodeInt14(0), NumOpMod)
	assert.Equal(t, value.NaN, r)
}

func TestNumOp_Comparisons(t *testing.T) {
	machine := newBareVM(t)
	assert.Equal(t, value.True, binOp(t, machine, value.EncodeInt14(2), value.EncodeInt14(3), NumOpLt))
	assert.Equal(t, value.False, binOp(t, machine, value.EncodeInt14(3), value.EncodeInt14(3), NumOpGt))
	assert.Equal(t, value.True, binOp(t, machine, value.EncodeInt14(3), value.EncodeInt14(3), NumOpGte))
}

func TestBitOp_LogicalShiftOfNegativePromotesToFloat(t *testing.T) {
	machine := newBareVM(t)
	machine.ensureStack()
	require.NoError(t, machine.push(value.EncodeInt14(-1)))
	require.NoError(t, machine.push(value.EncodeInt14(0)))
	require.NoError(t, machine.execBitOp(BitOpShrLogical))
	r, err := machine.pop()
	require.NoError(t, err)

	f, err := machine.ToFloat64(r)
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxUint32), f)
}

func TestBitOp_ShiftAmountMaskedToFiveBits(t *testing.T) {
	machine := newBareVM(t)
	machine.ensureStack()
	require.NoError(t, machine.push(value.EncodeInt14(1)))
	require.NoError(t, machine.push(value.EncodeInt14(33))) // masked to 1
	require.NoError(t, machine.execBitOp(BitOpShl))
	r, err := machine.pop()
	require.NoError(t, err)
	assert.Equal(t, value.EncodeInt14(2), r)
}

func TestMakeNumber_CanonicalForms(t *testing.T) {
	machine := newBareVM(t)

	cases := []struct {
		name string
		in   float64
		want value.Value
	}{
		{"nan", math.NaN(), value.NaN},
		{"neg zero", math.Copysign(0, -1), value.NegZero},
		{"small int", 5, value.EncodeInt14(5)},
		{"int14 min", -8192, value.EncodeInt14(-8192)},
		{"int14 max", 8191, value.EncodeInt14(8191)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := machine.MakeNumber(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}

	v, err := machine.MakeNumber(1e9)
	require.NoError(t, err)
	tc, ok := machine.valueTypeCode(v)
	require.True(t, ok)
	assert.Equal(t, value.TCInt32, tc, "integral float canonicalizes to INT32")

	v, err = machine.MakeNumber(0.5)
	require.NoError(t, err)
	tc, ok = machine.valueTypeCode(v)
	require.True(t, ok)
	assert.Equal(t, value.TCFloat64, tc)
}

func TestMakeNumber_RoundTripsNumericValues(t *testing.T) {
	machine := newBareVM(t)

	for _, f := range []float64{0, 1, -1, 8191, -8192, 8192, 1e9, 0.25, -3.5} {
		v, err := machine.MakeNumber(f)
		require.NoError(t, err)
		back, err := machine.ToFloat64(v)
		require.NoError(t, err)
		assert.Equal(t, f, back)

		again, err := machine.MakeNumber(back)
		require.NoError(t, err)
		eq, err := machine.Equal(v, again)
		require.NoError(t, err)
		assert.True(t, eq, "make_number(to_float64(v)) == v for %v", f)
	}
}

func TestToBool_Truthiness(t *testing.T) {
	machine := newBareVM(t)

	empty, err := machine.NewString("")
	require.NoError(t, err)
	nonEmpty, err := machine.NewString("x")
	require.NoError(t, err)
	obj, err := machine.NewObject()
	require.NoError(t, err)

	falsy := []value.Value{value.False, value.Undefined, value.Null, value.NaN, value.NegZero, value.EncodeInt14(0), empty}
	for _, v := range falsy {
		b, err := machine.ToBool(v)
		require.NoError(t, err)
		assert.False(t, b, "%v should be falsy", v)
	}
	truthy := []value.Value{value.True, value.EncodeInt14(1), value.EncodeInt14(-1), nonEmpty, obj}
	for _, v := range truthy {
		b, err := machine.ToBool(v)
		require.NoError(t, err)
		assert.True(t, b, "%v should be truthy", v)
	}
}
