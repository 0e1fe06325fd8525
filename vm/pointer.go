package vm

import (
	"encoding/binary"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
)

// LongPtr is an abstract pointer that addresses either the mutable heap or
// the immutable bytecode image, produced only by VM.DecodeLong. Kept as a
// distinct type from value.ShortPtr and value.BytecodeMappedPtr so a caller
// can never use one in place of the other without going through an explicit
// decode step.
type LongPtr struct {
	null   bool
	inHeap bool
	offset uint32 // heap-relative offset (inHeap) or absolute image offset (ROM)
}

// IsNull reports whether the pointer denotes VM_VALUE_NULL.
func (p LongPtr) IsNull() bool { return p.null }

// InHeap reports whether the pointer addresses the mutable heap (as opposed
// to the read-only image).
func (p LongPtr) InHeap() bool { return p.inHeap }

// DecodeLong resolves any pointer-shaped value to a LongPtr.
// A BytecodeMappedPtr into the GLOBALS section is a handle: it recurses
// through the indirect value held in that global slot.
func (vm *VM) DecodeLong(v value.Value) (LongPtr, error) {
	switch {
	case v == value.Null:
		return LongPtr{null: true}, nil
	case value.IsShortPtr(v):
		return LongPtr{inHeap: true, offset: uint32(value.AsShortPtr(v))}, nil
	case value.IsBytecodeMappedPtr(v):
		off := uint32(value.AsBytecodeMappedPtr(v))
		romStart := uint32(vm.img.Header.SectionOffsets[image.SectionROM])
		globalsStart := uint32(vm.img.Header.SectionOffsets[image.SectionGlobals])
		heapStart := uint32(vm.img.Header.SectionOffsets[image.SectionHeap])
		switch {
		case off >= globalsStart && off < heapStart:
			idx := (off - globalsStart) / 2
			if int(idx) >= len(vm.globals) {
				return LongPtr{}, errors.Unexpected(errors.PhaseValue, "global handle out of range")
			}
			return vm.DecodeLong(vm.globals[idx])
		case off >= romStart && off < globalsStart:
			return LongPtr{inHeap: false, offset: off}, nil
		default:
			return LongPtr{}, errors.Unexpected(errors.PhaseValue, "bytecode-mapped pointer outside ROM/GLOBALS")
		}
	default:
		return LongPtr{}, errors.TypeError(errors.PhaseValue, "value is not a pointer")
	}
}

// DecodeNative resolves v the same way as DecodeLong but additionally
// requires the result to be natively addressable (i.e. in the mutable heap,
// not the read-only image), returning the heap offset.
func (vm *VM) DecodeNative(v value.Value) (uint32, error) {
	lp, err := vm.DecodeLong(v)
	if err != nil {
		return 0, err
	}
	if lp.null {
		return 0, errors.Unexpected(errors.PhaseValue, "expected a native pointer, got null")
	}
	if !lp.inHeap {
		return 0, errors.Unexpected(errors.PhaseValue, "expected a native pointer, got a ROM pointer")
	}
	return lp.offset, nil
}

// EncodeShort packs a heap offset into a ShortPtr Value. Because a
// ShortPtr here is the heap-relative offset itself, not a native pointer
// that would need a bucket-chain scan to translate, this is a direct cast:
// encoding never fails and never needs to resolve which bucket the offset
// falls in.
func EncodeShort(offset uint32) value.Value {
	return value.ShortPtr(offset).AsValue()
}

// readWord reads the 16-bit Value at a LongPtr plus a byte offset, whether
// it lands in the heap or the read-only image.
func (vm *VM) readWord(lp LongPtr, byteOffset uint32) (value.Value, error) {
	if lp.null {
		return 0, errors.Unexpected(errors.PhaseValue, "dereferencing null")
	}
	if lp.inHeap {
		v, ok := vm.heap.ReadValue(lp.offset + byteOffset)
		if !ok {
			return 0, errors.Unexpected(errors.PhaseValue, "heap read out of range")
		}
		return v, nil
	}
	off := lp.offset + byteOffset
	if int(off)+2 > len(vm.img.Raw) {
		return 0, errors.Unexpected(errors.PhaseValue, "ROM read out of range")
	}
	return value.Value(binary.LittleEndian.Uint16(vm.img.Raw[off:])), nil
}

// writeWord writes the 16-bit Value at a LongPtr plus a byte offset. Callers
// must ensure lp addresses the mutable heap (ROM writes are rejected by
// set_property before reaching here).
func (vm *VM) writeWord(lp LongPtr, byteOffset uint32, v value.Value) error {
	if lp.null {
		return errors.Unexpected(errors.PhaseValue, "writing through null")
	}
	if !lp.inHeap {
		return errors.AttemptToWriteToROM()
	}
	if !vm.heap.WriteValue(lp.offset+byteOffset, v) {
		return errors.Unexpected(errors.PhaseValue, "heap write out of range")
	}
	return nil
}

// readHeader reads the allocation header word immediately preceding a
// LongPtr's payload.
func (vm *VM) readHeader(lp LongPtr) (value.TypeCode, uint16, error) {
	if lp.null {
		return 0, 0, errors.Unexpected(errors.PhaseValue, "dereferencing null")
	}
	if lp.inHeap {
		tc, size, ok := vm.heap.ReadHeader(lp.offset)
		if !ok {
			return 0, 0, errors.Unexpected(errors.PhaseValue, "heap header read out of range")
		}
		return tc, size, nil
	}
	if lp.offset < 2 || int(lp.offset)+0 > len(vm.img.Raw) {
		return 0, 0, errors.Unexpected(errors.PhaseValue, "ROM header read out of range")
	}
	header := binary.LittleEndian.Uint16(vm.img.Raw[lp.offset-2:])
	tc, size := heapUnpackHeader(header)
	return tc, size, nil
}

// bytesAt returns size raw bytes starting at a LongPtr's payload.
func (vm *VM) bytesAt(lp LongPtr, size int) ([]byte, error) {
	if lp.null {
		return nil, errors.Unexpected(errors.PhaseValue, "dereferencing null")
	}
	if lp.inHeap {
		b, ok := vm.heap.Bytes(lp.offset, size)
		if !ok {
			return nil, errors.Unexpected(errors.PhaseValue, "heap read out of range")
		}
		return b, nil
	}
	if int(lp.offset)+size > len(vm.img.Raw) {
		return nil, errors.Unexpected(errors.PhaseValue, "ROM read out of range")
	}
	return vm.img.Raw[lp.offset : lp.offset+uint32(size)], nil
}

func heapUnpackHeader(h uint16) (value.TypeCode, uint16) {
	return value.TypeCode(h >> 12), h & 0x0FFF
}
