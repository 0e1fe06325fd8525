package runtime

import (
	"github.com/mvm-go/mvm/handle"
	"github.com/mvm-go/mvm/value"
)

// Handle identifies one embedder-owned GC root. A
// handle's Value survives garbage collection: the collector rewrites it in
// place when the referenced allocation moves.
type Handle = handle.ID

// InitHandle anchors v as a GC root and returns its handle.
func (r *Runtime) InitHandle(v value.Value) (Handle, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.handles.Init(v), nil
}

// ReleaseHandle drops one reference to a handle; the root is removed when
// the last reference is released.
func (r *Runtime) ReleaseHandle(h Handle) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return r.handles.Release(h)
}

// CloneHandle adds a reference to a handle.
func (r *Runtime) CloneHandle(h Handle) (Handle, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.handles.Clone(h)
}

// HandleGet reads the Value a handle anchors.
func (r *Runtime) HandleGet(h Handle) (value.Value, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return r.handles.Get(h)
}

// HandleSet reassigns the Value a handle anchors.
func (r *Runtime) HandleSet(h Handle, v value.Value) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return r.handles.Set(h, v)
}
