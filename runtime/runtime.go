package runtime

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mvm-go/mvm"
	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/gc"
	"github.com/mvm-go/mvm/handle"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
	"github.com/mvm-go/mvm/vm"
)

// HostFunc is the Go-native signature of an imported host function. Aliased
// from the vm package so embedders only import runtime.
type HostFunc = vm.HostFunc

// Runtime is one restored VM instance: the loaded image, its heap and
// globals, the interpreter, and the host-owned handle table.
type Runtime struct {
	cfg  mvm.Config
	log  *zap.Logger
	host mvm.Host

	img     *image.Image
	vm      *vm.VM
	handles *handle.Table
	exports map[uint16]value.Value

	closed bool
}

// Option configures Restore.
type Option func(*restoreState)

type restoreState struct {
	cfg     mvm.Config
	log     *zap.Logger
	host    mvm.Host
	imports map[uint16]HostFunc
}

// WithConfig replaces the default mvm.Config.
func WithConfig(cfg mvm.Config) Option {
	return func(s *restoreState) { s.cfg = cfg }
}

// WithLogger injects a structured logger; the default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *restoreState) { s.log = log }
}

// WithHost installs the fatal-error sink.
func WithHost(h mvm.Host) Option {
	return func(s *restoreState) { s.host = h }
}

// WithImport registers the host function backing one host-function ID,
// consulted while resolving the image's IMPORT_TABLE.
func WithImport(hostFunctionID uint16, fn HostFunc) Option {
	return func(s *restoreState) { s.imports[hostFunctionID] = fn }
}

// Restore creates a Runtime from a bytecode image. The
// image is validated (size, CRC, version, feature flags), every import is
// resolved before any state becomes observable, the GLOBALS section is
// copied out, and the HEAP section is adopted as the initial heap.
func Restore(imageBytes []byte, opts ...Option) (*Runtime, error) {
	st := restoreState{
		cfg:     mvm.DefaultConfig(),
		imports: make(map[uint16]HostFunc),
	}
	for _, opt := range opts {
		opt(&st)
	}
	if st.log == nil {
		st.log = zap.NewNop()
	}
	if st.host == nil {
		st.host = mvm.DefaultHost{Log: st.log}
	}

	var hostFuncs []HostFunc
	resolver := func(entry image.ImportTableEntry) (value.Value, error) {
		fn, ok := st.imports[entry.HostFunctionID]
		if !ok {
			return 0, errors.New(errors.PhaseLoad, errors.CodeFunctionNotFound).
				Detail("no host function registered for id %d", entry.HostFunctionID).Build()
		}
		hostFuncs = append(hostFuncs, fn)
		return value.Undefined, nil
	}

	heapCfg := heap.Config{
		AllocationBucketSize: st.cfg.AllocationBucketSize,
		MaxHeapSize:          st.cfg.MaxHeapSize,
	}
	loaded, err := image.Load(imageBytes, resolver, heapCfg, st.log)
	if err != nil {
		return nil, err
	}

	if loaded.Image.Header.RequiredFeatureFlags&image.FFFloatSupport != 0 && !st.cfg.FloatSupport {
		return nil, errors.New(errors.PhaseLoad, errors.CodeBytecodeRequiresFloatSupport).Build()
	}

	handles := handle.New()
	collector := gc.New(st.log)
	machine := vm.New(loaded.Image, loaded.Heap, loaded.Globals, hostFuncs, handles, collector, vm.Options{
		StackSize:             st.cfg.StackSize,
		FloatSupport:          st.cfg.FloatSupport,
		SafetyChecks:          st.cfg.SafetyChecks,
		InstructionCountLimit: st.cfg.InstructionCountLimit,
		Logger:                st.log,
	})

	entries, err := loaded.Image.ExportTable()
	if err != nil {
		return nil, err
	}
	exports := make(map[uint16]value.Value, len(entries))
	for _, e := range entries {
		exports[e.ExportID] = value.Value(e.Value)
	}

	return &Runtime{
		cfg:     st.cfg,
		log:     st.log,
		host:    st.host,
		img:     loaded.Image,
		vm:      machine,
		handles: handles,
		exports: exports,
	}, nil
}

// Close releases all heap memory held by the Runtime.
// Further use of the Runtime fails with INVALID_ARGUMENTS.
func (r *Runtime) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.vm.Heap().ReleaseAll()
}

func (r *Runtime) ensureOpen() error {
	if r.closed {
		return errors.New(errors.PhaseRuntime, errors.CodeInvalidArguments).
			Detail("runtime is closed").Build()
	}
	return nil
}

// fatal routes fatal-class errors through the host sink before
// returning them to the caller.
func (r *Runtime) fatal(err error) error {
	if e, ok := err.(*errors.Error); ok && e.Code.Fatal() {
		r.host.Fatal(e.Code, e)
	}
	return err
}

// Call invokes a callable value with the given arguments
// and returns its result.
func (r *Runtime) Call(callable value.Value, args ...value.Value) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	result, err := r.vm.Call(callable, args)
	if err != nil {
		return 0, r.fatal(err)
	}
	return result, nil
}

// ResolveExport looks up a single export-table entry by ID.
func (r *Runtime) ResolveExport(id uint16) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	v, ok := r.exports[id]
	if !ok {
		return 0, errors.UnresolvedExport(id)
	}
	return v, nil
}

// ResolveExports looks up several export IDs at once, aggregating every
// missing ID into one error rather than stopping at the first.
func (r *Runtime) ResolveExports(ids []uint16) ([]value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	out := make([]value.Value, len(ids))
	var combined error
	for i, id := range ids {
		v, err := r.ResolveExport(id)
		if err != nil {
			combined = multierr.Append(combined, err)
			continue
		}
		out[i] = v
	}
	if combined != nil {
		return nil, combined
	}
	return out, nil
}

// RunGC forces a collection cycle. squeeze requests the
// size-exact second pass.
func (r *Runtime) RunGC(squeeze bool) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if err := r.vm.RunGC(squeeze); err != nil {
		return r.fatal(err)
	}
	return nil
}

// SetBreakpoint arms a breakpoint at a bytecode offset.
func (r *Runtime) SetBreakpoint(pc uint32) { r.vm.SetBreakpoint(pc) }

// RemoveBreakpoint disarms a breakpoint.
func (r *Runtime) RemoveBreakpoint(pc uint32) { r.vm.RemoveBreakpoint(pc) }

// SetBreakpointCallback installs the callback fired synchronously just
// before an armed instruction executes.
func (r *Runtime) SetBreakpointCallback(cb func(pc uint32)) {
	if cb == nil {
		r.vm.SetBreakpointCallback(nil)
		return
	}
	r.vm.SetBreakpointCallback(func(_ *vm.VM, pc uint32) { cb(pc) })
}

// VM exposes the interpreter for advanced embedders and the debugger
// front end.
func (r *Runtime) VM() *vm.VM { return r.vm }

// Image exposes the loaded image.
func (r *Runtime) Image() *image.Image { return r.img }
