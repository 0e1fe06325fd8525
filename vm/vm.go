package vm

import (
	"go.uber.org/zap"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/gc"
	"github.com/mvm-go/mvm/handle"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
)

// HostFunc is a Go-native function backing one IMPORT_TABLE entry. It
// receives the already-sanitized argument list (any object, array, or
// function argument arrives as undefined) and returns the value to hand
// back to the caller.
type HostFunc func(vm *VM, args []value.Value) (value.Value, error)

// Options collects the low-level knobs the interpreter itself consumes.
// The embedding-facing runtime.Config wraps this with the
// wider ambient configuration (logging, handle table sizing, ...).
type Options struct {
	StackSize             int // value-stack block size in bytes; default 256
	FloatSupport          bool
	SafetyChecks          bool
	InstructionCountLimit uint32 // 0 = unlimited
	Logger                *zap.Logger
}

// DefaultOptions is the small-embedded-host profile.
func DefaultOptions() Options {
	return Options{
		StackSize:    256,
		FloatSupport: true,
		SafetyChecks: true,
	}
}

// builtinsTable is the fixed-shape decode of the BUILTINS section: each
// entry is a global-slot index, or noBuiltinGlobal if the image doesn't
// provide that builtin. Anchoring these through a global slot (rather than
// a bespoke root) means the existing globals root-walk keeps them alive
// without any special-casing in the collector.
type builtinsTable struct {
	internedStringsGlobal uint16
	arrayPrototypeGlobal  uint16
}

const noBuiltinGlobal = 0xFFFF

func decodeBuiltins(sec []byte) builtinsTable {
	bt := builtinsTable{internedStringsGlobal: noBuiltinGlobal, arrayPrototypeGlobal: noBuiltinGlobal}
	r := image.NewReader(sec)
	if v, err := r.U16(); err == nil {
		bt.internedStringsGlobal = v
	}
	if v, err := r.U16(); err == nil {
		bt.arrayPrototypeGlobal = v
	}
	return bt
}

// VM is the interpreter core for a single loaded bytecode image. It is not
// safe for concurrent use: a VM instance is a single-threaded
// cooperative interpreter with no internal yielding.
type VM struct {
	opts Options
	log  *zap.Logger

	img     *image.Image
	heap    *heap.Heap
	globals []value.Value
	imports []HostFunc

	handles *handle.Table
	gc      *gc.Collector

	// stack is the lazily-allocated value-stack block, absent (nil) when
	// no call chain is active.
	stack []value.Value
	fp    int // frame base, index into stack
	sp    int // next free slot, index into stack

	// retPCs holds the saved return addresses, one per active frame. The
	// frame triple on the value stack stores an Int14 index into this slice
	// instead of the raw 16-bit offset: a raw offset with its low bit clear
	// would be indistinguishable from a ShortPtr during the GC root walk,
	// so every word on the stack must be a well-formed Value. The triple's
	// layout and ordering are otherwise unchanged.
	retPCs []uint32

	// pc is the long pointer into bytecode: an absolute byte offset into
	// the original image buffer. pcSentinel (the bytecode base, offset 0)
	// marks "no VM frame is active"; CALL_HOST parks pc at this sentinel
	// while the host function runs, so a nested runtime.Call is recognized
	// as a fresh entry rather than a return into stale VM code.
	pc       uint32
	argCount uint8

	builtins   builtinsTable
	shortCalls []image.ShortCallTableEntry

	instrCount uint32

	breakpoints  map[uint32]struct{}
	breakpointCB func(vm *VM, pc uint32)
}

const pcSentinel uint32 = 0

// New constructs a VM over an already-loaded image (image.Load's output),
// wiring the GC collector and handle table the runtime owns.
func New(img *image.Image, h *heap.Heap, globals []value.Value, imports []HostFunc, handles *handle.Table, collector *gc.Collector, opts Options) *VM {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := &VM{
		opts:     opts,
		log:      log,
		img:      img,
		heap:     h,
		globals:  globals,
		imports:  imports,
		handles:  handles,
		gc:       collector,
		builtins: decodeBuiltins(img.Sections[image.SectionBuiltins]),
	}
	h.SetGCHook(v.gcHook)
	return v
}

func (vm *VM) gcHook(squeeze bool) error {
	return vm.RunGC(squeeze)
}

// RunGC invokes the collector over the VM's current roots (globals, the
// live stack, and every anchored handle), adopting the resulting tospace as
// the live heap.
func (vm *VM) RunGC(squeeze bool) error {
	roots := gc.RootSet{
		Globals: vm.globals,
		Stack:   vm.stack[:vm.sp],
		Handles: vm.handles,
	}
	to, err := vm.gc.Run(vm.heap, roots, squeeze)
	if err != nil {
		return err
	}
	vm.heap.Adopt(to)
	return nil
}

// Heap exposes the live heap, for the snapshot writer and test helpers.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// Globals exposes the live globals slice.
func (vm *VM) Globals() []value.Value { return vm.globals }

// Handles exposes the handle table.
func (vm *VM) Handles() *handle.Table { return vm.handles }

// Image exposes the loaded image (ROM, string table, export table, ...).
func (vm *VM) Image() *image.Image { return vm.img }

// arrayPrototype returns the builtin Array.prototype object, or
// value.Undefined if the image declares none.
func (vm *VM) arrayPrototype() value.Value {
	if vm.builtins.arrayPrototypeGlobal == noBuiltinGlobal {
		return value.Undefined
	}
	return vm.globals[vm.builtins.arrayPrototypeGlobal]
}

// ensureStack lazily allocates the stack block on first external call.
func (vm *VM) ensureStack() {
	if vm.stack == nil {
		words := vm.opts.StackSize / 2
		if words < 16 {
			words = 16
		}
		vm.stack = make([]value.Value, words)
	}
}

// releaseStackIfDrained frees the stack block once no call chain remains
// active.
func (vm *VM) releaseStackIfDrained() {
	if vm.sp == 0 {
		vm.stack = nil
		vm.retPCs = vm.retPCs[:0]
	}
}

func (vm *VM) push(v value.Value) error {
	if vm.sp >= len(vm.stack) {
		return errors.StackOverflow(errors.PhaseInterp)
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (value.Value, error) {
	if vm.sp <= 0 {
		return 0, errors.Unexpected(errors.PhaseInterp, "stack underflow")
	}
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = value.Undefined
	return v, nil
}

func (vm *VM) popN(n int) error {
	if n < 0 || vm.sp < n {
		return errors.Unexpected(errors.PhaseInterp, "stack underflow")
	}
	for i := 0; i < n; i++ {
		vm.sp--
		vm.stack[vm.sp] = value.Undefined
	}
	return nil
}

func (vm *VM) top() value.Value {
	return vm.stack[vm.sp-1]
}

// SetBreakpoint arms a breakpoint at a bytecode offset. The callback, if
// set via SetBreakpointCallback, fires synchronously just before the
// instruction at that offset executes.
func (vm *VM) SetBreakpoint(pc uint32) {
	if vm.breakpoints == nil {
		vm.breakpoints = make(map[uint32]struct{})
	}
	vm.breakpoints[pc] = struct{}{}
}

// RemoveBreakpoint disarms a previously set breakpoint.
func (vm *VM) RemoveBreakpoint(pc uint32) {
	delete(vm.breakpoints, pc)
}

// SetBreakpointCallback installs the callback invoked for armed breakpoints.
func (vm *VM) SetBreakpointCallback(cb func(vm *VM, pc uint32)) {
	vm.breakpointCB = cb
}

// PC returns the interpreter's current bytecode offset (for the debugger).
func (vm *VM) PC() uint32 { return vm.pc }

// InstructionCount returns the number of instructions executed by the
// current outermost call chain (the unit the optional instruction-count
// limit is charged against).
func (vm *VM) InstructionCount() uint32 { return vm.instrCount }
