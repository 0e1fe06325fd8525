package runtime

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm"
	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
	"github.com/mvm-go/mvm/vm"
)

// testProgram assembles a single-function image for API-level tests: the
// function's wrapper allocation sits first in ROM, followed by any interned
// strings, followed by the code. The vm package owns the exhaustive
// interpreter tests; this builder only needs enough shape to exercise the
// public surface.
type testProgram struct {
	exportID uint16
	maxStack byte
	code     func(p *testProgram) []byte
	strings  []string // all interned
	globals  []value.Value
	imports  []uint16
}

func (p *testProgram) romBase() int {
	return image.HeaderSize + 2*len(p.imports) + 4 /* one export */ + 2*len(p.strings)
}

func (p *testProgram) functionValue() value.Value {
	return value.EncodeBytecodeMappedPtr(uint16(p.romBase() + 2))
}

func stringAllocSize(s string) int {
	return 2 + ((len(s) + 2) &^ 1)
}

func (p *testProgram) stringValue(i int) value.Value {
	off := p.romBase() + 4
	for j := 0; j < i; j++ {
		off += stringAllocSize(p.strings[j])
	}
	return value.EncodeBytecodeMappedPtr(uint16(off + 2))
}

func (p *testProgram) codeOffset() int {
	off := p.romBase() + 4
	for _, s := range p.strings {
		off += stringAllocSize(s)
	}
	return off
}

func (p *testProgram) build(t *testing.T) []byte {
	t.Helper()

	imports := image.NewWriter()
	for _, id := range p.imports {
		imports.U16(id)
	}

	exports := image.NewWriter()
	exports.U16(p.exportID)
	exports.U16(uint16(p.functionValue()))

	strTable := image.NewWriter()
	for i := range p.strings {
		strTable.U16(uint16(p.stringValue(i)))
	}

	rom := image.NewWriter()
	rom.U16(heap.PackHeader(value.TCFunction, 2))
	rom.U16(uint16(p.codeOffset()))
	for _, s := range p.strings {
		rom.U16(heap.PackHeader(value.TCInternedString, uint16(len(s))))
		rom.RawBytes([]byte(s))
		rom.U8(0)
		if (len(s)+1)%2 != 0 {
			rom.U8(0)
		}
	}
	rom.U8(p.maxStack)
	rom.RawBytes(p.code(p))

	globals := image.NewWriter()
	for _, g := range p.globals {
		globals.U16(uint16(g))
	}

	sections := [image.SectionCount][]byte{
		image.SectionImportTable: imports.Bytes(),
		image.SectionExportTable: exports.Bytes(),
		image.SectionStringTable: strTable.Bytes(),
		image.SectionROM:         rom.Bytes(),
		image.SectionGlobals:     globals.Bytes(),
	}

	w := image.NewWriter()
	w.U8(image.BytecodeVersion)
	w.U8(uint8(image.HeaderSize))
	w.U16(0)
	w.U16(0)
	w.U16(0)
	w.U32(0)
	cursor := uint16(image.HeaderSize)
	for s := image.Section(0); s < image.SectionCount; s++ {
		w.U16(cursor)
		cursor += uint16(len(sections[s]))
	}
	for s := image.Section(0); s < image.SectionCount; s++ {
		w.RawBytes(sections[s])
	}
	total := w.Len()
	w.PutU16At(2, uint16(total))
	w.PutU16At(4, image.CRC16CCITT(w.Bytes()[8:total]))
	return w.Bytes()
}

// Opcode assembly shorthand, mirroring the vm package's encoding.

func b1(op vm.Op, operand byte) []byte { return []byte{byte(op), operand} }

func b2(op vm.Op, operand uint16) []byte {
	return []byte{byte(op), byte(operand), byte(operand >> 8)}
}

func bret() []byte {
	return b1(vm.OpReturn, vm.ReturnFlagPopResult|vm.ReturnFlagPopCallable)
}

func cat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// addProgram is `export function f(a,b){ return a+b }`.
func addProgram() *testProgram {
	return &testProgram{
		exportID: 1,
		maxStack: 4,
		code: func(*testProgram) []byte {
			return cat(
				b1(vm.OpLoadArg, 1),
				b1(vm.OpLoadArg, 2),
				[]byte{byte(vm.OpAdd)},
				bret(),
			)
		},
	}
}

func TestRestore_CallAddExport(t *testing.T) {
	rt, err := Restore(addProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	f, err := rt.ResolveExport(1)
	require.NoError(t, err)
	result, err := rt.Call(f, value.EncodeInt14(3), value.EncodeInt14(4))
	require.NoError(t, err)

	n, err := rt.ToInt32(result)
	require.NoError(t, err)
	assert.Equal(t, int32(7), n)
}

func TestRestore_RejectsCorruptImage(t *testing.T) {
	buf := addProgram().build(t)
	buf[len(buf)-1] ^= 0xFF
	_, err := Restore(buf)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, errors.Sentinel(errors.CodeBytecodeCRCFail)))
}

func TestRestore_MissingImportFailsBeforeAnyCall(t *testing.T) {
	p := addProgram()
	p.imports = []uint16{99}
	_, err := Restore(p.build(t))
	require.Error(t, err)
}

func TestRestore_ResolvesRegisteredImport(t *testing.T) {
	p := &testProgram{
		exportID: 1,
		maxStack: 4,
		imports:  []uint16{42},
		code: func(*testProgram) []byte {
			return cat(
				b1(vm.OpLoadSmallLiteral, 1), // receiver
				b1(vm.OpLoadArg, 1),
				[]byte{byte(vm.OpCallHost), 2, 0, 0},
				bret(),
			)
		},
	}
	rt, err := Restore(p.build(t), WithImport(42, func(machine *vm.VM, args []value.Value) (value.Value, error) {
		n, err := machine.ToInt32(args[0])
		if err != nil {
			return 0, err
		}
		return machine.MakeInt32(n + 100)
	}))
	require.NoError(t, err)
	defer rt.Close()

	f, err := rt.ResolveExport(1)
	require.NoError(t, err)
	result, err := rt.Call(f, value.EncodeInt14(1))
	require.NoError(t, err)
	n, err := rt.ToInt32(result)
	require.NoError(t, err)
	assert.Equal(t, int32(101), n)
}

func TestResolveExports_AggregatesMissingIDs(t *testing.T) {
	rt, err := Restore(addProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.ResolveExports([]uint16{1, 2, 3})
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, errors.Sentinel(errors.CodeUnresolvedExport)))

	vs, err := rt.ResolveExports([]uint16{1})
	require.NoError(t, err)
	require.Len(t, vs, 1)
}

// counterProgram increments global 0 and returns the new value.
func counterProgram() *testProgram {
	return &testProgram{
		exportID: 1,
		maxStack: 4,
		globals:  []value.Value{value.EncodeInt14(0)},
		code: func(*testProgram) []byte {
			return cat(
				b2(vm.OpLoadGlobal, 0),
				b1(vm.OpLoadSmallLiteral, 5), // 1
				[]byte{byte(vm.OpAdd)},
				b1(vm.OpLoadVar, 0),
				b2(vm.OpStoreGlobal, 0),
				bret(),
			)
		},
	}
}

func TestSnapshot_RoundTripsGlobals(t *testing.T) {
	rt, err := Restore(counterProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	f, err := rt.ResolveExport(1)
	require.NoError(t, err)
	for want := int32(1); want <= 2; want++ {
		result, err := rt.Call(f)
		require.NoError(t, err)
		n, err := rt.ToInt32(result)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	snap, err := rt.CreateSnapshot()
	require.NoError(t, err)

	restored, err := Restore(snap)
	require.NoError(t, err)
	defer restored.Close()

	f2, err := restored.ResolveExport(1)
	require.NoError(t, err)
	result, err := restored.Call(f2)
	require.NoError(t, err)
	n, err := restored.ToInt32(result)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n, "counter state survived the snapshot round trip")

	// The original keeps counting independently.
	result, err = rt.Call(f)
	require.NoError(t, err)
	n, err = rt.ToInt32(result)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)
}

// stashProgram stores {x: 7} into global 0 on its first call and returns
// o.x on every call, exercising heap state across a snapshot.
func stashProgram() *testProgram {
	p := &testProgram{
		exportID: 1,
		maxStack: 5,
		strings:  []string{"x"},
		globals:  []value.Value{value.Null},
	}
	p.code = func(p *testProgram) []byte {
		sx := p.stringValue(0)
		// if (global0 == null) { global0 = {x: 7} } return global0.x
		head := cat(
			b2(vm.OpLoadGlobal, 0),
			b1(vm.OpLoadSmallLiteral, 0), // null
			[]byte{byte(vm.OpEqual)},
			[]byte{byte(vm.OpLogicalNot)},
			b2(vm.OpBranch, 0), // patched below: skip the init block
		)
		initBlock := cat(
			[]byte{byte(vm.OpObjectNew)},
			b1(vm.OpLoadVar, 0),
			b2(vm.OpLoadLiteral, uint16(sx)),
			b2(vm.OpLoadLiteral, uint16(value.EncodeInt14(7))),
			[]byte{byte(vm.OpObjectSet)},
			b1(vm.OpPop, 1),
			b2(vm.OpStoreGlobal, 0),
		)
		tail := cat(
			b2(vm.OpLoadGlobal, 0),
			b2(vm.OpLoadLiteral, uint16(sx)),
			[]byte{byte(vm.OpObjectGet)},
			bret(),
		)
		// Backpatch the branch offset to hop over the init block.
		code := cat(head, initBlock, tail)
		off := uint16(len(initBlock))
		code[len(head)-2] = byte(off)
		code[len(head)-1] = byte(off >> 8)
		return code
	}
	return p
}

func TestSnapshot_RoundTripsHeapObjects(t *testing.T) {
	rt, err := Restore(stashProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	f, err := rt.ResolveExport(1)
	require.NoError(t, err)
	result, err := rt.Call(f)
	require.NoError(t, err)
	n, err := rt.ToInt32(result)
	require.NoError(t, err)
	require.Equal(t, int32(7), n)

	snap, err := rt.CreateSnapshot()
	require.NoError(t, err)
	restored, err := Restore(snap)
	require.NoError(t, err)
	defer restored.Close()

	f2, err := restored.ResolveExport(1)
	require.NoError(t, err)
	result, err = restored.Call(f2)
	require.NoError(t, err)
	n, err = restored.ToInt32(result)
	require.NoError(t, err)
	assert.Equal(t, int32(7), n, "heap object survived the snapshot round trip")
}

func TestHandles_AnchorAndRelease(t *testing.T) {
	rt, err := Restore(addProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	s, err := rt.NewString("anchored")
	require.NoError(t, err)
	h, err := rt.InitHandle(s)
	require.NoError(t, err)

	require.NoError(t, rt.RunGC(false))
	moved, err := rt.HandleGet(h)
	require.NoError(t, err)
	str, err := rt.ToString(moved)
	require.NoError(t, err)
	assert.Equal(t, "anchored", str)

	clone, err := rt.CloneHandle(h)
	require.NoError(t, err)
	require.NoError(t, rt.ReleaseHandle(h))
	_, err = rt.HandleGet(clone)
	assert.NoError(t, err, "clone keeps the entry alive")
	require.NoError(t, rt.ReleaseHandle(clone))

	_, err = rt.HandleGet(h)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, errors.Sentinel(errors.CodeInvalidHandle)))
}

func TestConversions_PublicSurface(t *testing.T) {
	rt, err := Restore(addProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, value.True, NewBoolean(true))
	assert.Equal(t, value.Undefined, NewUndefined())
	assert.True(t, IsNaN(value.NaN))

	v, err := rt.NewNumber(2.5)
	require.NoError(t, err)
	f, err := rt.ToFloat64(v)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	kind, err := rt.TypeOf(v)
	require.NoError(t, err)
	assert.Equal(t, "number", kind.String())

	b, err := rt.ToBool(value.EncodeInt14(0))
	require.NoError(t, err)
	assert.False(t, b)

	eq, err := rt.Equal(value.EncodeInt14(3), value.EncodeInt14(3))
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestClose_FurtherUseFails(t *testing.T) {
	rt, err := Restore(addProgram().build(t))
	require.NoError(t, err)
	rt.Close()

	_, err = rt.ResolveExport(1)
	require.Error(t, err)
	_, err = rt.Call(value.Undefined)
	require.Error(t, err)
}

func TestRestore_NoFloatRejectsFloatRequiringImage(t *testing.T) {
	// counterProgram's build stamps no feature flags, so force the flag by
	// rebuilding with FFFloatSupport via a snapshot: CreateSnapshot always
	// records float support.
	rt, err := Restore(counterProgram().build(t))
	require.NoError(t, err)
	defer rt.Close()
	snap, err := rt.CreateSnapshot()
	require.NoError(t, err)

	cfg := mvm.NewConfig(mvm.WithoutFloatSupport())
	_, err = Restore(snap, WithConfig(cfg))
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, errors.Sentinel(errors.CodeBytecodeRequiresFloatSupport)))
}

func TestInstructionCountLimit_Configured(t *testing.T) {
	p := &testProgram{
		exportID: 1,
		maxStack: 1,
		code: func(*testProgram) []byte {
			return b2(vm.OpJump, uint16(0x10000-3)) // jump onto itself
		},
	}
	cfg := mvm.NewConfig(mvm.WithInstructionCountLimit(1000))
	rt, err := Restore(p.build(t), WithConfig(cfg))
	require.NoError(t, err)
	defer rt.Close()

	f, err := rt.ResolveExport(1)
	require.NoError(t, err)
	_, err = rt.Call(f)
	require.Error(t, err)
	assert.True(t, goerrors.Is(err, errors.Sentinel(errors.CodeInstructionCountReached)))
}
