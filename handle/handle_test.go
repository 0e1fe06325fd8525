package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm/value"
)

func TestTable_InitGetRelease(t *testing.T) {
	tbl := New()
	id := tbl.Init(value.EncodeInt14(42))

	v, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int16(42), value.DecodeInt14(v))

	require.NoError(t, tbl.Release(id))
	_, err = tbl.Get(id)
	assert.Error(t, err)
}

func TestTable_CloneSharesUntilLastRelease(t *testing.T) {
	tbl := New()
	id := tbl.Init(value.EncodeInt14(1))
	alias, err := tbl.Clone(id)
	require.NoError(t, err)
	assert.Equal(t, id, alias)

	require.NoError(t, tbl.Release(id))
	_, err = tbl.Get(alias)
	require.NoError(t, err, "alias should still be live after one release")

	require.NoError(t, tbl.Release(alias))
	_, err = tbl.Get(alias)
	assert.Error(t, err)
}

func TestTable_ReleaseInvalidHandle(t *testing.T) {
	tbl := New()
	assert.Error(t, tbl.Release(999))
}

func TestTable_FreeListReusesSlot(t *testing.T) {
	tbl := New()
	id1 := tbl.Init(value.EncodeInt14(1))
	require.NoError(t, tbl.Release(id1))
	id2 := tbl.Init(value.EncodeInt14(2))
	assert.Equal(t, id1, id2)
}

func TestTable_Roots_RelocatesValues(t *testing.T) {
	tbl := New()
	id := tbl.Init(value.EncodeInt14(1))

	tbl.Roots(func(v value.Value) value.Value {
		return value.EncodeInt14(value.DecodeInt14(v) + 1)
	})

	v, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int16(2), value.DecodeInt14(v))
}
