package vm

import (
	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/image"
	"github.com/mvm-go/mvm/value"
)

// internCellSize is the byte size of one RAM intern cell: { next, str }.
const internCellSize = 4

// Intern resolves s (a STRING or INTERNED_STRING value) to its canonical
// interned identity. The lookup order is fixed: the two
// well-known atoms, then the sorted bytecode string table by binary search,
// then the RAM intern list by linear scan. A RAM STRING that matches nothing
// is promoted in place (its header is rewritten to INTERNED_STRING) and a
// new intern cell is prepended to the RAM list.
func (vm *VM) Intern(s value.Value) (value.Value, error) {
	if s == value.StrLength || s == value.StrProto {
		return s, nil
	}
	lp, err := vm.DecodeLong(s)
	if err != nil {
		return 0, err
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return 0, err
	}
	if tc == value.TCInternedString {
		return s, nil
	}
	if tc != value.TCString {
		return 0, errors.TypeError(errors.PhaseInterp, "intern requires a string")
	}

	body, err := vm.readStringBody(lp)
	if err != nil {
		return 0, err
	}

	switch body {
	case "length":
		return value.StrLength, nil
	case "__proto__":
		return value.StrProto, nil
	}

	if found, ok, err := vm.searchStringTable(body); err != nil {
		return 0, err
	} else if ok {
		return found, nil
	}

	if found, ok, err := vm.searchInternList(body); err != nil {
		return 0, err
	} else if ok {
		return found, nil
	}

	if !lp.inHeap {
		// A key-shaped ROM string is always pre-interned by the compiler;
		// reaching here means the image is inconsistent.
		return 0, errors.TypeError(errors.PhaseInterp, "non-interned ROM string")
	}
	return vm.promoteToInterned(s, lp, body)
}

// searchStringTable binary-searches the sorted bytecode string table: an
// array of 16-bit Values, each referencing an INTERNED_STRING allocation
// in ROM, ordered by memcmp of their contents.
func (vm *VM) searchStringTable(body string) (value.Value, bool, error) {
	sec := vm.img.Sections[image.SectionStringTable]
	count := len(sec) / 2
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		entry := value.Value(uint16(sec[mid*2]) | uint16(sec[mid*2+1])<<8)
		lp, err := vm.DecodeLong(entry)
		if err != nil {
			return 0, false, err
		}
		candidate, err := vm.readStringBody(lp)
		if err != nil {
			return 0, false, err
		}
		switch {
		case candidate == body:
			return entry, true, nil
		case candidate < body:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false, nil
}

// searchInternList scans the unsorted RAM intern list anchored through the
// builtins slot for an exact length+content match.
func (vm *VM) searchInternList(body string) (value.Value, bool, error) {
	if vm.builtins.internedStringsGlobal == noBuiltinGlobal {
		return 0, false, nil
	}
	cell := vm.globals[vm.builtins.internedStringsGlobal]
	for cell != value.Null && cell != value.Undefined {
		cellLP, err := vm.DecodeLong(cell)
		if err != nil {
			return 0, false, err
		}
		str, err := vm.readWord(cellLP, 2)
		if err != nil {
			return 0, false, err
		}
		strLP, err := vm.DecodeLong(str)
		if err != nil {
			return 0, false, err
		}
		candidate, err := vm.readStringBody(strLP)
		if err != nil {
			return 0, false, err
		}
		if candidate == body {
			return str, true, nil
		}
		cell, err = vm.readWord(cellLP, 0)
		if err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

// promoteToInterned rewrites a RAM STRING's header to INTERNED_STRING and
// prepends an intern cell to the RAM list. The string is pinned on the value
// stack across the cell allocation so a collection triggered by it cannot
// orphan the promotion target.
func (vm *VM) promoteToInterned(s value.Value, lp LongPtr, body string) (value.Value, error) {
	if vm.builtins.internedStringsGlobal == noBuiltinGlobal {
		// No anchor slot: the promotion still gives the string interned
		// identity, it just won't be findable by later Intern calls. This
		// only happens for images without a BUILTINS section, which the
		// compiler never emits; keep it working for hand-built test images.
		vm.heap.WriteHeader(lp.offset, heap.PackHeader(value.TCInternedString, uint16(len(body))))
		return s, nil
	}

	vm.ensureStack()
	if err := vm.push(s); err != nil {
		return 0, err
	}
	cellPtr, err := vm.heap.Allocate(internCellSize, value.TCInternalContainer)
	s = vm.top() // re-read: a collection during Allocate relocates the string
	_ = vm.popN(1)
	vm.releaseStackIfDrained()
	if err != nil {
		return 0, err
	}
	lp, err = vm.DecodeLong(s)
	if err != nil {
		return 0, err
	}

	vm.heap.WriteHeader(lp.offset, heap.PackHeader(value.TCInternedString, uint16(len(body))))

	oldHead := vm.globals[vm.builtins.internedStringsGlobal]
	if oldHead == value.Undefined {
		oldHead = value.Null
	}
	vm.heap.WriteValue(uint32(cellPtr), oldHead)
	vm.heap.WriteValue(uint32(cellPtr)+2, s)
	vm.globals[vm.builtins.internedStringsGlobal] = EncodeShort(uint32(cellPtr))
	return s, nil
}
