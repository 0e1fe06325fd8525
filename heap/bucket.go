package heap

// Bucket is one host-mallocd slab backing a contiguous range of the heap
// offset space. offsetStart is the cumulative byte offset, in heap-offset
// units, of the bucket's first byte; it never changes once the bucket is
// created, which is what lets ShortPtr arithmetic and the snapshot writer
// treat the whole bucket chain as one flat address space.
type Bucket struct {
	offsetStart uint32
	prev        *Bucket
	next        *Bucket
	data        []byte
	endUsed     uint16
}

// newBucket allocates a bucket of the given capacity starting at offsetStart.
func newBucket(offsetStart uint32, capacity uint16) *Bucket {
	return &Bucket{
		offsetStart: offsetStart,
		data:        make([]byte, capacity),
	}
}

// Capacity returns the bucket's total byte capacity.
func (b *Bucket) Capacity() uint16 { return uint16(len(b.data)) }

// Used returns the number of bytes currently in use.
func (b *Bucket) Used() uint16 { return b.endUsed }

// Remaining returns the number of free bytes at the end of the bucket.
func (b *Bucket) Remaining() uint16 { return b.Capacity() - b.endUsed }

// OffsetStart returns the bucket's position in heap-offset space.
func (b *Bucket) OffsetStart() uint32 { return b.offsetStart }

// Next returns the next bucket in the chain (nil if this is the last).
func (b *Bucket) Next() *Bucket { return b.next }

// Data exposes the raw backing slice, for the snapshot writer and GC to walk.
func (b *Bucket) Data() []byte { return b.data[:b.endUsed] }
