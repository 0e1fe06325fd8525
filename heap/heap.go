package heap

import (
	"encoding/binary"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// MaxAllocationPayload is the largest payload (in bytes) a single allocation
// may hold; it must fit in the header's 12-bit size field.
const MaxAllocationPayload = 0x0FFF

// GCHook is invoked by Allocate when the current bucket chain cannot satisfy
// a request and growing it would exceed MaxHeapSize. squeeze requests a
// second, size-exact collection pass. Wiring this as an
// injected callback (rather than an import) keeps heap decoupled from the gc
// package, which itself depends on heap.
type GCHook func(squeeze bool) error

// Config collects the host-tunable sizing constants of the heap.
type Config struct {
	AllocationBucketSize uint16
	MaxHeapSize          uint32
}

// DefaultConfig is the small-embedded-host sizing profile.
func DefaultConfig() Config {
	return Config{
		AllocationBucketSize: 256,
		MaxHeapSize:          1 << 16,
	}
}

// Heap is the bump allocator over a bucket chain.
type Heap struct {
	cfg          Config
	first        *Bucket
	last         *Bucket
	sizeAtLastGC uint32
	gcHook       GCHook
}

// New creates an empty heap. The GCHook may be nil until the owning VM
// finishes wiring its collector; until a hook is installed, Allocate returns
// OUT_OF_MEMORY without collecting when growth would exceed MaxHeapSize.
func New(cfg Config, hook GCHook) *Heap {
	return &Heap{cfg: cfg, gcHook: hook}
}

// SetGCHook installs (or replaces) the collection callback.
func (h *Heap) SetGCHook(hook GCHook) { h.gcHook = hook }

// First returns the first bucket in the chain (nil if the heap is empty).
func (h *Heap) First() *Bucket { return h.first }

// UsedSize returns the total number of bytes used across all buckets.
func (h *Heap) UsedSize() uint32 {
	var total uint32
	for b := h.first; b != nil; b = b.next {
		total += uint32(b.endUsed)
	}
	return total
}

// BucketCount returns the number of buckets currently chained.
func (h *Heap) BucketCount() int {
	n := 0
	for b := h.first; b != nil; b = b.next {
		n++
	}
	return n
}

func packHeader(tc value.TypeCode, size uint16) uint16 {
	return (uint16(tc) << 12) | (size & 0x0FFF)
}

// PackHeader exposes packHeader for callers (the gc package's compaction
// step) that need to stamp a header word without going through Allocate.
func PackHeader(tc value.TypeCode, size uint16) uint16 {
	return packHeader(tc, size)
}

// UnpackHeader splits a raw header word into its type code and payload size.
func UnpackHeader(h uint16) (value.TypeCode, uint16) {
	return value.TypeCode(h >> 12), h & 0x0FFF
}

// sizeIncludingHeader computes the total bytes (header + padded payload) an
// allocation of payloadSize bytes occupies.
func sizeIncludingHeader(payloadSize int) uint16 {
	n := uint16((payloadSize + 3) &^ 1)
	if n < 4 {
		n = 4
	}
	return n
}

// Allocate reserves space for a payload of the given size and type, writing
// the header word, and returns the offset of the payload (not the header).
func (h *Heap) Allocate(payloadSize int, tc value.TypeCode) (value.ShortPtr, error) {
	if payloadSize < 0 || payloadSize > MaxAllocationPayload {
		return 0, errors.New(errors.PhaseHeap, errors.CodeAllocationTooLarge).
			Detail("payload size %d exceeds %d", payloadSize, MaxAllocationPayload).Build()
	}
	total := sizeIncludingHeader(payloadSize)
	return h.AllocateWithConstantHeader(packHeader(tc, uint16(payloadSize)), total)
}

// AllocateWithConstantHeader is the fast path for call sites where the
// header word is known at compile time.
func (h *Heap) AllocateWithConstantHeader(header uint16, totalSize uint16) (value.ShortPtr, error) {
	if err := h.ensureCapacity(totalSize); err != nil {
		return 0, err
	}
	b := h.last
	local := b.endUsed
	binary.LittleEndian.PutUint16(b.data[local:], header)
	b.endUsed += totalSize
	payloadOffset := b.offsetStart + uint32(local) + 2
	return value.ShortPtr(payloadOffset), nil
}

func (h *Heap) ensureCapacity(totalSize uint16) error {
	if h.last != nil && h.last.Remaining() >= totalSize {
		return nil
	}

	bucketSize := h.cfg.AllocationBucketSize
	if totalSize > bucketSize {
		bucketSize = totalSize
	}

	prospective := h.UsedSize() + uint32(bucketSize)
	if h.cfg.MaxHeapSize != 0 && prospective > h.cfg.MaxHeapSize {
		if h.gcHook == nil {
			return errors.OutOfMemory()
		}
		if err := h.gcHook(false); err != nil {
			return err
		}
		if h.last != nil && h.last.Remaining() >= totalSize {
			return nil
		}
		prospective = h.UsedSize() + uint32(bucketSize)
		if h.cfg.MaxHeapSize != 0 && prospective > h.cfg.MaxHeapSize {
			return errors.OutOfMemory()
		}
	}

	offsetStart := uint32(0)
	if h.last != nil {
		offsetStart = h.last.offsetStart + uint32(h.last.Capacity())
	}
	nb := newBucket(offsetStart, bucketSize)
	if h.first == nil {
		h.first = nb
	} else {
		h.last.next = nb
		nb.prev = h.last
	}
	h.last = nb
	return nil
}

// Resolve finds the bucket containing a given heap offset and the offset's
// position local to that bucket.
func (h *Heap) Resolve(offset uint32) (*Bucket, uint16, bool) {
	for b := h.first; b != nil; b = b.next {
		end := b.offsetStart + uint32(b.Capacity())
		if offset >= b.offsetStart && offset < end {
			return b, uint16(offset - b.offsetStart), true
		}
	}
	return nil, 0, false
}

// ReadValue reads the 16-bit Value at the given heap offset.
func (h *Heap) ReadValue(offset uint32) (value.Value, bool) {
	b, local, ok := h.Resolve(offset)
	if !ok || int(local)+2 > len(b.data) {
		return 0, false
	}
	return value.Value(binary.LittleEndian.Uint16(b.data[local:])), true
}

// WriteValue writes a 16-bit Value at the given heap offset.
func (h *Heap) WriteValue(offset uint32, v value.Value) bool {
	b, local, ok := h.Resolve(offset)
	if !ok || int(local)+2 > len(b.data) {
		return false
	}
	binary.LittleEndian.PutUint16(b.data[local:], uint16(v))
	return true
}

// ReadHeader reads the header word immediately preceding a payload offset.
func (h *Heap) ReadHeader(payloadOffset uint32) (value.TypeCode, uint16, bool) {
	b, local, ok := h.Resolve(payloadOffset - 2)
	if !ok || int(local)+2 > len(b.data) {
		return 0, 0, false
	}
	tc, size := UnpackHeader(binary.LittleEndian.Uint16(b.data[local:]))
	return tc, size, true
}

// WriteHeader overwrites the header word preceding a payload offset (used by
// the GC when turning a moved allocation into a tombstone, and by the
// interning/compaction steps that rewrite a type code in place).
func (h *Heap) WriteHeader(payloadOffset uint32, header uint16) bool {
	b, local, ok := h.Resolve(payloadOffset - 2)
	if !ok || int(local)+2 > len(b.data) {
		return false
	}
	binary.LittleEndian.PutUint16(b.data[local:], header)
	return true
}

// Bytes returns a slice view of size bytes starting at a payload offset,
// for reading/writing raw non-container bodies (STRING, INT32, FLOAT64, ...).
func (h *Heap) Bytes(payloadOffset uint32, size int) ([]byte, bool) {
	b, local, ok := h.Resolve(payloadOffset)
	if !ok || int(local)+size > len(b.data) {
		return nil, false
	}
	return b.data[local : int(local)+size], true
}

// ReleaseAll drops every bucket, resetting the heap to empty. Used when
// adopting a freshly collected tospace as the new live heap by passing
// the tospace chain back in via Adopt.
func (h *Heap) ReleaseAll() {
	h.first = nil
	h.last = nil
}

// Adopt replaces this heap's bucket chain with another (the GC's tospace),
// recording the final used size as the estimate for the next cycle.
func (h *Heap) Adopt(other *Heap) {
	h.first = other.first
	h.last = other.last
	h.sizeAtLastGC = other.UsedSize()
}

// SizeAtLastGC returns the heap-used-size heuristic recorded by the most
// recent collection, used to budget the next cycle's tospace bucket.
func (h *Heap) SizeAtLastGC() uint32 { return h.sizeAtLastGC }

// SetSizeAtLastGC overrides the heuristic (used when loading a snapshot,
// where the initial heap size is a reasonable first estimate).
func (h *Heap) SetSizeAtLastGC(n uint32) { h.sizeAtLastGC = n }

// Config returns the heap's sizing configuration.
func (h *Heap) Config() Config { return h.cfg }
