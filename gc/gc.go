package gc

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/mvm-go/mvm/handle"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/value"
)

// RootSet names every place a ShortPtr may be rooted from outside the
// heap. Globals and Stack are mutated in place; Handles is
// walked through its own Roots callback since the table owns its storage.
type RootSet struct {
	Globals []value.Value
	Stack   []value.Value
	Handles *handle.Table
}

// Collector runs Cheney-style semispace collections over a heap.
type Collector struct {
	log *zap.Logger
}

// New returns a Collector. A nil logger is replaced with a no-op one,
// matching every other package's optional-logger convention.
func New(log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{log: log}
}

// Run executes one collection cycle. On success it returns the
// new live heap (the former fromspace is discarded) and the caller must
// replace its root references with whatever Run wrote back into roots.
func (c *Collector) Run(from *heap.Heap, roots RootSet, squeeze bool) (*heap.Heap, error) {
	budget := from.SizeAtLastGC()
	cfg := from.Config()
	if budget == 0 {
		budget = uint32(cfg.AllocationBucketSize)
	}
	if budget > 0xFFFF {
		budget = 0xFFFF
	}
	toCfg := cfg
	toCfg.AllocationBucketSize = uint16(budget)
	to := heap.New(toCfg, nil)

	var queue []uint32 // tospace payload offsets awaiting word-scan

	var processValue func(v value.Value) value.Value
	processValue = func(v value.Value) value.Value {
		if !value.IsShortPtr(v) {
			return v
		}
		ptr := value.AsShortPtr(v)
		offset := uint32(ptr)

		tc, size, ok := from.ReadHeader(offset)
		if !ok {
			return v
		}
		if tc == value.TCTombstone {
			fwd, _ := from.ReadValue(offset)
			return fwd
		}

		switch tc {
		case value.TCArray:
			return c.copyArray(from, to, offset, size, &queue)
		case value.TCPropertyList:
			return c.copyPropertyList(from, to, offset, &queue)
		default:
			return c.copyVerbatim(from, to, offset, tc, size, tc.IsContainer(), &queue)
		}
	}

	for i := range roots.Globals {
		roots.Globals[i] = processValue(roots.Globals[i])
	}
	for i := range roots.Stack {
		roots.Stack[i] = processValue(roots.Stack[i])
	}
	if roots.Handles != nil {
		roots.Handles.Roots(processValue)
	}

	for len(queue) > 0 {
		offset := queue[0]
		queue = queue[1:]
		tc, size, ok := to.ReadHeader(offset)
		if !ok || !tc.IsContainer() {
			continue
		}
		for w := uint32(0); w+2 <= uint32(size); w += 2 {
			wv, _ := to.ReadValue(offset + w)
			nv := processValue(wv)
			to.WriteValue(offset+w, nv)
		}
	}

	finalSize := to.UsedSize()
	c.log.Debug("gc cycle complete",
		zap.Uint32("fromUsed", from.UsedSize()),
		zap.Uint32("toUsed", finalSize),
		zap.Int("fromBuckets", from.BucketCount()),
		zap.Int("toBuckets", to.BucketCount()))

	to.SetSizeAtLastGC(finalSize)

	if squeeze && finalSize != budget {
		// roots was mutated in place above (Globals/Stack slices share the
		// caller's backing array; Handles was updated through its own
		// table), so it already points into `to` and can be re-walked
		// directly for the exact-size second pass.
		return c.Run(to, roots, false)
	}

	return to, nil
}

// copyVerbatim copies a non-specially-compacted allocation byte-for-byte
// into tospace, tombstoning the fromspace source.
func (c *Collector) copyVerbatim(from, to *heap.Heap, offset uint32, tc value.TypeCode, size uint16, container bool, queue *[]uint32) value.Value {
	body, ok := from.Bytes(offset, int(size))
	if !ok {
		return value.ShortPtr(offset).AsValue()
	}
	newPtr, err := to.Allocate(int(size), tc)
	if err != nil {
		// The bucket chain could not grow to hold this allocation; leave
		// the source value pointing at fromspace rather than panic, so the
		// caller sees a consistent (if uncollected) heap and can surface
		// OUT_OF_MEMORY through the normal allocation path on retry.
		return value.ShortPtr(offset).AsValue()
	}
	newBody, _ := to.Bytes(uint32(newPtr), int(size))
	copy(newBody, body)

	from.WriteHeader(offset, heap.PackHeader(value.TCTombstone, 0))
	from.WriteValue(offset, newPtr.AsValue())

	if container {
		*queue = append(*queue, uint32(newPtr))
	}
	return newPtr.AsValue()
}

// copyArray implements the ARRAY compaction step: before the backing store
// (dpData) is itself visited, its fromspace header is rewritten to a
// FIXED_LENGTH_ARRAY truncated to the array's logical length, reclaiming
// any reserved growth capacity.
func (c *Collector) copyArray(from, to *heap.Heap, offset uint32, size uint16, queue *[]uint32) value.Value {
	dataV, _ := from.ReadValue(offset)
	lengthV, _ := from.ReadValue(offset + 2)

	if value.IsShortPtr(dataV) && value.IsInt14(lengthV) {
		length := value.DecodeInt14(lengthV)
		if length == 0 {
			// An empty array drops its backing store entirely; the store
			// becomes garbage and is never copied.
			from.WriteValue(offset, value.Null)
		} else {
			dataOffset := uint32(value.AsShortPtr(dataV))
			if tc, _, ok := from.ReadHeader(dataOffset); ok && tc != value.TCTombstone {
				from.WriteHeader(dataOffset, heap.PackHeader(value.TCFixedLengthArray, uint16(length)*2))
			}
		}
	}

	return c.copyVerbatim(from, to, offset, value.TCArray, size, true, queue)
}

// copyPropertyList implements the PROPERTY_LIST compaction step: the whole
// dpNext chain is folded into a single contiguous record in tospace.
func (c *Collector) copyPropertyList(from, to *heap.Heap, offset uint32, queue *[]uint32) value.Value {
	type pair struct{ key, val value.Value }

	dpProto, _ := from.ReadValue(offset + 2)
	var pairs []pair
	tombstoneOffsets := []uint32{offset}

	cursor := offset
	for {
		next, _ := from.ReadValue(cursor)
		_, size, ok := from.ReadHeader(cursor)
		if !ok {
			break
		}
		for w := uint32(4); w+4 <= uint32(size); w += 4 {
			k, _ := from.ReadValue(cursor + w)
			v, _ := from.ReadValue(cursor + w + 2)
			pairs = append(pairs, pair{k, v})
		}
		if !value.IsShortPtr(next) {
			break
		}
		cursor = uint32(value.AsShortPtr(next))
		tombstoneOffsets = append(tombstoneOffsets, cursor)
	}

	newSize := 4 + len(pairs)*4
	newPtr, err := to.Allocate(newSize, value.TCPropertyList)
	if err != nil {
		return value.ShortPtr(offset).AsValue()
	}
	body, _ := to.Bytes(uint32(newPtr), newSize)
	binary.LittleEndian.PutUint16(body[0:], uint16(value.Null)) // dpNext folded away
	binary.LittleEndian.PutUint16(body[2:], uint16(dpProto))
	for i, p := range pairs {
		binary.LittleEndian.PutUint16(body[4+i*4:], uint16(p.key))
		binary.LittleEndian.PutUint16(body[4+i*4+2:], uint16(p.val))
	}

	for _, o := range tombstoneOffsets {
		from.WriteHeader(o, heap.PackHeader(value.TCTombstone, 0))
		from.WriteValue(o, newPtr.AsValue())
	}

	*queue = append(*queue, uint32(newPtr))
	return newPtr.AsValue()
}
