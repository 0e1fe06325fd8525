package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm/value"
)

func mustEqual(t *testing.T, machine *VM, a, b value.Value) bool {
	t.Helper()
	eq, err := machine.Equal(a, b)
	require.NoError(t, err)
	return eq
}

func TestEqual_NaNIsNeverEqual(t *testing.T) {
	machine := newBareVM(t)
	assert.False(t, mustEqual(t, machine, value.NaN, value.NaN))
	assert.False(t, mustEqual(t, machine, value.NaN, value.EncodeInt14(0)))
}

func TestEqual_ImmediatesCompareByBits(t *testing.T) {
	machine := newBareVM(t)
	assert.True(t, mustEqual(t, machine, value.EncodeInt14(7), value.EncodeInt14(7)))
	assert.False(t, mustEqual(t, machine, value.EncodeInt14(7), value.EncodeInt14(8)))
	assert.True(t, mustEqual(t, machine, value.Undefined, value.Undefined))
	assert.False(t, mustEqual(t, machine, value.Undefined, value.Null))
	assert.True(t, mustEqual(t, machine, value.NegZero, value.NegZero))
}

func TestEqual_StringsCompareByContent(t *testing.T) {
	machine := newBareVM(t)

	a, err := machine.NewString("same")
	require.NoError(t, err)
	b, err := machine.NewString("same")
	require.NoError(t, err)
	c, err := machine.NewString("other")
	require.NoError(t, err)

	assert.True(t, mustEqual(t, machine, a, b), "distinct allocations, equal bytes")
	assert.False(t, mustEqual(t, machine, a, c))

	l, err := machine.NewString("length")
	require.NoError(t, err)
	assert.True(t, mustEqual(t, machine, l, value.StrLength), "well-known atom equals a plain string of the same bytes")
}

func TestEqual_BoxedNumbersCompareByBody(t *testing.T) {
	machine := newBareVM(t)

	a, err := machine.MakeInt32(100000)
	require.NoError(t, err)
	b, err := machine.MakeInt32(100000)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "two distinct INT32 allocations")
	assert.True(t, mustEqual(t, machine, a, b))

	f1, err := machine.MakeNumber(2.5)
	require.NoError(t, err)
	f2, err := machine.MakeNumber(2.5)
	require.NoError(t, err)
	assert.True(t, mustEqual(t, machine, f1, f2))

	assert.False(t, mustEqual(t, machine, a, f1), "different type codes never compare equal")
}

func TestEqual_ReferenceKindsCompareByIdentity(t *testing.T) {
	machine := newBareVM(t)

	o1, err := machine.NewObject()
	require.NoError(t, err)
	o2, err := machine.NewObject()
	require.NoError(t, err)
	assert.True(t, mustEqual(t, machine, o1, o1))
	assert.False(t, mustEqual(t, machine, o1, o2))

	a1, err := machine.NewArray()
	require.NoError(t, err)
	assert.False(t, mustEqual(t, machine, o1, a1))
}

func TestEqual_CrossClassIsNotEqual(t *testing.T) {
	machine := newBareVM(t)

	one, err := machine.NewString("1")
	require.NoError(t, err)
	assert.False(t, mustEqual(t, machine, value.EncodeInt14(1), one))

	obj, err := machine.NewObject()
	require.NoError(t, err)
	assert.False(t, mustEqual(t, machine, obj, value.True))
}
