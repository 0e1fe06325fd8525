package handle

import (
	"sync"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// ID identifies an entry in a Table. ID 0 is never issued and always
// denotes an invalid handle.
type ID uint32

type entry struct {
	v     value.Value
	valid bool
	refs  uint32
}

// Table is the embedder-owned set of anchored GC roots. Every live entry's
// Value is walked as a root during garbage collection;
// released entries are returned to a free list for index reuse.
type Table struct {
	mu       sync.RWMutex
	entries  []entry
	freeList []ID
}

// New returns an empty handle table.
func New() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]ID, 0, 4),
	}
}

// Init anchors v and returns a new handle for it (init_handle).
func (t *Table) Init(v value.Value) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := entry{v: v, valid: true, refs: 1}
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[id-1] = e
		return id
	}
	t.entries = append(t.entries, e)
	return ID(len(t.entries))
}

// Release drops a reference to a handle (release_handle), returning it to
// the free list once its reference count reaches zero.
func (t *Table) Release(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return errors.InvalidHandle()
	}
	e.refs--
	if e.refs == 0 {
		*e = entry{}
		t.freeList = append(t.freeList, id)
	}
	return nil
}

// Clone increments a handle's reference count and returns the same ID
// (clone_handle): the handle API hands out reference-counted aliases rather
// than duplicate roots, so a clone and its original release independently
// but share the anchored Value until the last reference drops.
func (t *Table) Clone(id ID) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return 0, errors.InvalidHandle()
	}
	e.refs++
	return id, nil
}

// Get returns the Value anchored by a handle (handle_get).
func (t *Table) Get(id ID) (value.Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(id)
	if !ok {
		return 0, errors.InvalidHandle()
	}
	return e.v, nil
}

// Set overwrites the Value a handle anchors (handle_set); used when the GC
// relocates a root and when the embedder reassigns a handle to a new value.
func (t *Table) Set(id ID, v value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return errors.InvalidHandle()
	}
	e.v = v
	return nil
}

func (t *Table) lookup(id ID) (*entry, bool) {
	if id == 0 || int(id) > len(t.entries) {
		return nil, false
	}
	e := &t.entries[id-1]
	if !e.valid {
		return nil, false
	}
	return e, true
}

// Roots invokes fn for every live handle's anchored Value, in table order,
// for the GC root-walk step. fn returns the (possibly
// relocated) Value to store back into the handle.
func (t *Table) Roots(fn func(v value.Value) value.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if !t.entries[i].valid {
			continue
		}
		t.entries[i].v = fn(t.entries[i].v)
	}
}

// Len returns the number of live (not yet released) handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}
