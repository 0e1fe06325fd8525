package vm

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvm-go/mvm/gc"
	"github.com/mvm-go/mvm/handle"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
)

// imageBuilder hand-assembles a well-formed bytecode image for interpreter
// tests, standing in for the out-of-scope compiler toolchain. Usage
// protocol: declare every function, string, import, global, builtin, and
// export slot first (section sizes must be final before any value helper is
// called), then compute values for code literals, then set code, then build.
type imageBuilder struct {
	funcs      []testFunc
	strs       []testROMString
	importIDs  []uint16
	exports    []testExport
	globals    []value.Value
	shortCalls []testShortCall

	hasBuiltins      bool
	internGlobal     uint16
	arrayProtoGlobal uint16
}

type testFunc struct {
	maxStack byte
	code     []byte
}

type testROMString struct {
	content  string
	interned bool
}

type testExport struct {
	id    uint16
	fnIdx int // -1 when raw is set
	raw   value.Value
}

type testShortCall struct {
	fnIdx     int // -1 for host calls
	importIdx uint16
	argCount  uint8
}

func newImageBuilder() *imageBuilder {
	return &imageBuilder{}
}

func (b *imageBuilder) addFunction(maxStack byte) int {
	b.funcs = append(b.funcs, testFunc{maxStack: maxStack})
	return len(b.funcs) - 1
}

func (b *imageBuilder) setCode(fn int, code []byte) {
	b.funcs[fn].code = code
}

func (b *imageBuilder) addROMString(s string, interned bool) int {
	b.strs = append(b.strs, testROMString{content: s, interned: interned})
	return len(b.strs) - 1
}

func (b *imageBuilder) addImport(hostID uint16) uint16 {
	b.importIDs = append(b.importIDs, hostID)
	return uint16(len(b.importIDs) - 1)
}

func (b *imageBuilder) addGlobal(v value.Value) uint16 {
	b.globals = append(b.globals, v)
	return uint16(len(b.globals) - 1)
}

// withBuiltins reserves the two builtin anchor slots: the RAM intern-list
// head and Array.prototype (left null here; tests that need a prototype
// store one at runtime).
func (b *imageBuilder) withBuiltins() {
	b.hasBuiltins = true
	b.internGlobal = b.addGlobal(value.Null)
	b.arrayProtoGlobal = b.addGlobal(value.Null)
}

func (b *imageBuilder) exportFunc(id uint16, fnIdx int) {
	b.exports = append(b.exports, testExport{id: id, fnIdx: fnIdx})
}

func (b *imageBuilder) exportValue(id uint16, v value.Value) {
	b.exports = append(b.exports, testExport{id: id, fnIdx: -1, raw: v})
}

func (b *imageBuilder) addShortCall(fnIdx int, argCount uint8) uint8 {
	b.shortCalls = append(b.shortCalls, testShortCall{fnIdx: fnIdx, argCount: argCount})
	return uint8(len(b.shortCalls) - 1)
}

func (b *imageBuilder) addHostShortCall(importIdx uint16, argCount uint8) uint8 {
	b.shortCalls = append(b.shortCalls, testShortCall{fnIdx: -1, importIdx: importIdx, argCount: argCount})
	return uint8(len(b.shortCalls) - 1)
}

// Section size arithmetic. Sizes before ROM must be final before any value
// helper below is used.

func (b *imageBuilder) internedCount() int {
	n := 0
	for _, s := range b.strs {
		if s.interned {
			n++
		}
	}
	return n
}

func (b *imageBuilder) builtinsSize() int {
	if b.hasBuiltins {
		return 4
	}
	return 0
}

func (b *imageBuilder) romBase() int {
	// ROM starts on an even offset (build pads the section's first byte when
	// needed): a BytecodeMappedPtr cannot encode an odd offset.
	return (b.preROMSize() + 1) &^ 1
}

func (b *imageBuilder) preROMSize() int {
	return image.HeaderSize +
		2*len(b.importIDs) +
		4*len(b.exports) +
		3*len(b.shortCalls) +
		b.builtinsSize() +
		2*b.internedCount()
}

// functionValue returns the Value referencing function i's ROM wrapper
// allocation (a FUNCTION allocation whose payload is the code offset).
func (b *imageBuilder) functionValue(i int) value.Value {
	return value.EncodeBytecodeMappedPtr(uint16(b.romBase() + 4*i + 2))
}

func stringAllocSize(s string) int {
	return 2 + ((len(s) + 2) &^ 1) // header + content + NUL, even-padded
}

func (b *imageBuilder) stringBase() int {
	return b.romBase() + 4*len(b.funcs)
}

// stringValue returns the Value referencing ROM string i's payload.
func (b *imageBuilder) stringValue(i int) value.Value {
	off := b.stringBase()
	for j := 0; j < i; j++ {
		off += stringAllocSize(b.strs[j].content)
	}
	return value.EncodeBytecodeMappedPtr(uint16(off + 2))
}

func (b *imageBuilder) codeBase() int {
	off := b.stringBase()
	for _, s := range b.strs {
		off += stringAllocSize(s.content)
	}
	return off
}

// codeOffset returns the absolute image offset of function i's
// max-stack-depth byte. All code must be set before calling this.
func (b *imageBuilder) codeOffset(i int) int {
	off := b.codeBase()
	for j := 0; j < i; j++ {
		off += 1 + len(b.funcs[j].code)
	}
	return off
}

func (b *imageBuilder) build(t *testing.T) []byte {
	t.Helper()

	imports := image.NewWriter()
	for _, id := range b.importIDs {
		imports.U16(id)
	}

	exports := image.NewWriter()
	for _, e := range b.exports {
		exports.U16(e.id)
		if e.fnIdx >= 0 {
			exports.U16(uint16(b.functionValue(e.fnIdx)))
		} else {
			exports.U16(uint16(e.raw))
		}
	}

	shortCalls := image.NewWriter()
	for _, sc := range b.shortCalls {
		if sc.fnIdx >= 0 {
			shortCalls.U16(image.EncodeShortCallTarget(uint16(b.codeOffset(sc.fnIdx)), false))
		} else {
			shortCalls.U16(image.EncodeShortCallTarget(sc.importIdx, true))
		}
		shortCalls.U8(sc.argCount)
	}

	builtins := image.NewWriter()
	if b.hasBuiltins {
		builtins.U16(b.internGlobal)
		builtins.U16(b.arrayProtoGlobal)
	}

	// The string table is sorted by content for the binary search.
	type internedRef struct {
		content string
		idx     int
	}
	var interned []internedRef
	for i, s := range b.strs {
		if s.interned {
			interned = append(interned, internedRef{content: s.content, idx: i})
		}
	}
	sort.Slice(interned, func(i, j int) bool { return interned[i].content < interned[j].content })
	strTable := image.NewWriter()
	for _, ref := range interned {
		strTable.U16(uint16(b.stringValue(ref.idx)))
	}

	rom := image.NewWriter()
	if b.preROMSize()%2 != 0 {
		rom.U8(0) // alignment pad; romBase already accounts for it
	}
	for i := range b.funcs {
		rom.U16(heap.PackHeader(value.TCFunction, 2))
		rom.U16(uint16(b.codeOffset(i)))
	}
	for _, s := range b.strs {
		tc := value.TCString
		if s.interned {
			tc = value.TCInternedString
		}
		rom.U16(heap.PackHeader(tc, uint16(len(s.content))))
		rom.RawBytes([]byte(s.content))
		rom.U8(0) // trailing NUL
		if (len(s.content)+1)%2 != 0 {
			rom.U8(0)
		}
	}
	for _, f := range b.funcs {
		rom.U8(f.maxStack)
		rom.RawBytes(f.code)
	}

	globals := image.NewWriter()
	for _, g := range b.globals {
		globals.U16(uint16(g))
	}

	sections := [image.SectionCount][]byte{
		image.SectionImportTable:    imports.Bytes(),
		image.SectionExportTable:    exports.Bytes(),
		image.SectionShortCallTable: shortCalls.Bytes(),
		image.SectionBuiltins:       builtins.Bytes(),
		image.SectionStringTable:    strTable.Bytes(),
		image.SectionROM:            rom.Bytes(),
		image.SectionGlobals:        globals.Bytes(),
		image.SectionHeap:           nil,
	}

	w := image.NewWriter()
	w.U8(image.BytecodeVersion)
	w.U8(uint8(image.HeaderSize))
	w.U16(0) // bytecodeSize, backpatched
	w.U16(0) // crc, backpatched
	w.U16(0) // reserved
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
	w.PutU16At(4, image.CRC16CCITT(w.Bytes()[8:total])) // CRC covers [8, bytecodeSize)
	return w.Bytes()
}

// buildVM loads the builder's image into a fresh VM.
func buildVM(t *testing.T, b *imageBuilder, hostFuncs map[uint16]HostFunc, opts Options) *VM {
	t.Helper()
	buf := b.build(t)

	var resolved []HostFunc
	resolver := func(e image.ImportTableEntry) (value.Value, error) {
		fn, ok := hostFuncs[e.HostFunctionID]
		if !ok {
			return 0, errNoHostFunc{}
		}
		resolved = append(resolved, fn)
		return value.Undefined, nil
	}
	loaded, err := image.Load(buf, resolver, heap.Config{
		AllocationBucketSize: 256,
		MaxHeapSize:          1 << 16,
	}, nil)
	require.NoError(t, err)

	return New(loaded.Image, loaded.Heap, loaded.Globals, resolved, handle.New(), gc.New(nil), opts)
}

type errNoHostFunc struct{}

func (errNoHostFunc) Error() string { return "no such host function" }

// Tiny assembler helpers.

func asm(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func i0(op Op) []byte { return []byte{byte(op)} }

func i1(op Op, operand byte) []byte { return []byte{byte(op), operand} }

func i2(op Op, operand uint16) []byte {
	return []byte{byte(op), byte(operand), byte(operand >> 8)}
}

func iv(op Op, v value.Value) []byte { return i2(op, uint16(v)) }

func iCallHost(argCount byte, importIdx uint16) []byte {
	return []byte{byte(OpCallHost), argCount, byte(importIdx), byte(importIdx >> 8)}
}

// iRet pops the result and the callable (the common OpCall epilogue).
func iRet() []byte {
	return i1(OpReturn, ReturnFlagPopResult|ReturnFlagPopCallable)
}
