package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Build(t *testing.T) {
	err := New(PhaseInterp, CodeTypeError).Detail("bad receiver %d", 3).Build()
	require.Equal(t, PhaseInterp, err.Phase)
	require.Equal(t, CodeTypeError, err.Code)
	assert.Contains(t, err.Error(), "bad receiver 3")
	assert.Contains(t, err.Error(), "[interp] TYPE_ERROR")
}

func TestError_Is(t *testing.T) {
	a := New(PhaseGC, CodeOutOfMemory).Build()
	b := Sentinel(CodeOutOfMemory)
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, Sentinel(CodeMallocFail)))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseHost, CodeHostError).Cause(cause).Build()
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestCode_Fatal(t *testing.T) {
	assert.True(t, CodeOutOfMemory.Fatal())
	assert.True(t, CodeAssertionFailed.Fatal())
	assert.False(t, CodeTypeError.Fatal())
	assert.False(t, CodeStackOverflow.Fatal())
}

func TestUnresolvedImportsError(t *testing.T) {
	agg := &UnresolvedImportsError{Failures: []*Error{
		UnresolvedImport(1, nil),
		UnresolvedImport(2, nil),
	}}
	assert.Contains(t, agg.Error(), "2 unresolved import(s)")
	assert.Len(t, agg.Unwrap(), 2)
}
