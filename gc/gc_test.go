package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/value"
)

func TestRun_MovesReachableAllocationAndRewritesRoot(t *testing.T) {
	h := heap.New(heap.DefaultConfig(), nil)
	ptr, err := h.Allocate(2, value.TCInt32)
	require.NoError(t, err)
	ok := h.WriteValue(uint32(ptr), value.EncodeInt14(7))
	require.True(t, ok)

	globals := []value.Value{ptr.AsValue()}
	c := New(nil)
	to, err := c.Run(h, RootSet{Globals: globals}, false)
	require.NoError(t, err)

	newPtr := value.AsShortPtr(globals[0])
	v, ok := to.ReadValue(uint32(newPtr))
	require.True(t, ok)
	assert.Equal(t, int16(7), value.DecodeInt14(v))
}

func TestRun_DropsUnreachableAllocation(t *testing.T) {
	h := heap.New(heap.DefaultConfig(), nil)
	_, err := h.Allocate(4, value.TCString)
	require.NoError(t, err)

	c := New(nil)
	to, err := c.Run(h, RootSet{}, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), to.UsedSize())
}

func TestRun_CollapsesPropertyListChain(t *testing.T) {
	h := heap.New(heap.DefaultConfig(), nil)

	tailPtr, err := h.Allocate(4+4, value.TCPropertyList)
	require.NoError(t, err)
	h.WriteValue(uint32(tailPtr), value.Undefined)
	h.WriteValue(uint32(tailPtr)+2, value.Undefined)
	h.WriteValue(uint32(tailPtr)+4, value.EncodeInt14(2))
	h.WriteValue(uint32(tailPtr)+6, value.EncodeInt14(200))

	headPtr, err := h.Allocate(4+4, value.TCPropertyList)
	require.NoError(t, err)
	h.WriteValue(uint32(headPtr), tailPtr.AsValue())
	h.WriteValue(uint32(headPtr)+2, value.Null)
	h.WriteValue(uint32(headPtr)+4, value.EncodeInt14(1))
	h.WriteValue(uint32(headPtr)+6, value.EncodeInt14(100))

	globals := []value.Value{headPtr.AsValue()}
	c := New(nil)
	to, err := c.Run(h, RootSet{Globals: globals}, false)
	require.NoError(t, err)

	newPtr := value.AsShortPtr(globals[0])
	_, size, ok := to.ReadHeader(uint32(newPtr))
	require.True(t, ok)
	assert.Equal(t, uint16(4+8), size, "both pairs folded into one allocation")
}

func TestRun_TruncatesArrayBackingStore(t *testing.T) {
	h := heap.New(heap.DefaultConfig(), nil)

	backingPtr, err := h.Allocate(6*2, value.TCFixedLengthArray) // capacity 6
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		h.WriteValue(uint32(backingPtr)+uint32(i*2), value.EncodeInt14(int16(i)))
	}

	arrPtr, err := h.Allocate(4, value.TCArray)
	require.NoError(t, err)
	h.WriteValue(uint32(arrPtr), backingPtr.AsValue())
	h.WriteValue(uint32(arrPtr)+2, value.EncodeInt14(2)) // logical length 2

	globals := []value.Value{arrPtr.AsValue()}
	c := New(nil)
	to, err := c.Run(h, RootSet{Globals: globals}, false)
	require.NoError(t, err)

	newArrPtr := value.AsShortPtr(globals[0])
	dataV, ok := to.ReadValue(uint32(newArrPtr))
	require.True(t, ok)
	require.True(t, value.IsShortPtr(dataV))

	tc, size, ok := to.ReadHeader(uint32(value.AsShortPtr(dataV)))
	require.True(t, ok)
	assert.Equal(t, value.TCFixedLengthArray, tc)
	assert.Equal(t, uint16(4), size, "capacity truncated from 6 to logical length 2")
}
