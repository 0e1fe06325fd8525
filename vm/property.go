package vm

import (
	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// propertyListCellSize is the byte size of a one-property PROPERTY_LIST
// tail cell: next, proto, key, val.
const propertyListCellSize = 8

// NewObject allocates an empty PROPERTY_LIST (OBJECT_NEW).
func (vm *VM) NewObject() (value.Value, error) {
	ptr, err := vm.heap.Allocate(4, value.TCPropertyList)
	if err != nil {
		return 0, err
	}
	vm.heap.WriteValue(uint32(ptr), value.Null)
	vm.heap.WriteValue(uint32(ptr)+2, value.Null)
	return EncodeShort(uint32(ptr)), nil
}

// NewArray allocates an empty dynamic ARRAY (ARRAY_NEW).
func (vm *VM) NewArray() (value.Value, error) {
	ptr, err := vm.heap.Allocate(4, value.TCArray)
	if err != nil {
		return 0, err
	}
	vm.heap.WriteValue(uint32(ptr), value.Null)
	vm.heap.WriteValue(uint32(ptr)+2, value.EncodeInt14(0))
	return EncodeShort(uint32(ptr)), nil
}

// allocFixedArray allocates a FIXED_LENGTH_ARRAY of n slots, each initialized
// to fill.
func (vm *VM) allocFixedArray(n int, fill value.Value) (value.ShortPtr, error) {
	ptr, err := vm.heap.Allocate(n*2, value.TCFixedLengthArray)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		vm.heap.WriteValue(uint32(ptr)+uint32(i*2), fill)
	}
	return ptr, nil
}

// NewFixedArray implements FIXED_ARRAY_NEW: a user-visible tuple of n
// undefined slots.
func (vm *VM) NewFixedArray(n int) (value.Value, error) {
	ptr, err := vm.allocFixedArray(n, value.Undefined)
	if err != nil {
		return 0, err
	}
	return EncodeShort(uint32(ptr)), nil
}

// toPropertyName normalizes a value into property-key form. A RAM STRING
// is interned in place; everything else that is already key-shaped is
// returned unchanged.
func (vm *VM) toPropertyName(key value.Value) (value.Value, error) {
	if value.IsInt14(key) {
		if value.DecodeInt14(key) < 0 {
			return 0, errors.RangeError(errors.PhaseProp, "property index must be non-negative")
		}
		return key, nil
	}
	if key == value.StrLength || key == value.StrProto {
		return key, nil
	}
	if !value.IsShortPtr(key) && !value.IsBytecodeMappedPtr(key) {
		return 0, errors.TypeError(errors.PhaseProp, "property key is not string- or index-shaped")
	}
	lp, err := vm.DecodeLong(key)
	if err != nil {
		return 0, err
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return 0, err
	}
	switch tc {
	case value.TCInternedString:
		return key, nil
	case value.TCString:
		if !lp.inHeap {
			return 0, errors.TypeError(errors.PhaseProp, "non-interned ROM string used as property key")
		}
		return vm.Intern(key)
	default:
		return 0, errors.TypeError(errors.PhaseProp, "property key is not string- or index-shaped")
	}
}

// GetProperty implements get_property.
func (vm *VM) GetProperty(obj, key value.Value) (value.Value, error) {
	name, err := vm.toPropertyName(key)
	if err != nil {
		return 0, err
	}
	lp, err := vm.DecodeLong(obj)
	if err != nil {
		return 0, err
	}
	if lp.IsNull() {
		return 0, errors.TypeError(errors.PhaseProp, "cannot read property of null")
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return 0, err
	}
	switch tc {
	case value.TCPropertyList:
		return vm.getPropertyListProp(lp, name)
	case value.TCArray:
		return vm.getArrayProp(lp, name)
	case value.TCClosure:
		props, _, err := vm.closureField(lp, 2)
		if err != nil {
			return 0, err
		}
		if props == value.Undefined {
			return value.Undefined, nil
		}
		return vm.GetProperty(props, name)
	default:
		return 0, errors.TypeError(errors.PhaseProp, "receiver is not an object")
	}
}

func (vm *VM) getPropertyListProp(head LongPtr, name value.Value) (value.Value, error) {
	proto, err := vm.readWord(head, 2)
	if err != nil {
		return 0, err
	}
	cursor := head
	for {
		_, size, err := vm.readHeader(cursor)
		if err != nil {
			return 0, err
		}
		for w := uint32(4); w+4 <= uint32(size); w += 4 {
			k, err := vm.readWord(cursor, w)
			if err != nil {
				return 0, err
			}
			if k == name {
				return vm.readWord(cursor, w+2)
			}
		}
		next, err := vm.readWord(cursor, 0)
		if err != nil {
			return 0, err
		}
		if !value.IsShortPtr(next) && !value.IsBytecodeMappedPtr(next) {
			break
		}
		cursor, err = vm.DecodeLong(next)
		if err != nil {
			return 0, err
		}
	}

	if name == value.StrProto {
		return value.Null, nil
	}
	if proto == value.Null {
		return value.Undefined, nil
	}
	return vm.GetProperty(proto, name)
}

func (vm *VM) arrayFields(lp LongPtr) (data value.Value, length int16, err error) {
	data, err = vm.readWord(lp, 0)
	if err != nil {
		return 0, 0, err
	}
	lengthV, err := vm.readWord(lp, 2)
	if err != nil {
		return 0, 0, err
	}
	return data, value.DecodeInt14(lengthV), nil
}

func (vm *VM) getArrayProp(lp LongPtr, name value.Value) (value.Value, error) {
	if name == value.StrLength {
		_, length, err := vm.arrayFields(lp)
		if err != nil {
			return 0, err
		}
		return value.EncodeInt14(length), nil
	}
	if name == value.StrProto {
		return vm.arrayPrototype(), nil
	}
	if value.IsInt14(name) {
		index := value.DecodeInt14(name)
		data, length, err := vm.arrayFields(lp)
		if err != nil {
			return 0, err
		}
		if index < 0 || index >= length {
			return value.Undefined, nil
		}
		if data == value.Null {
			return value.Undefined, nil
		}
		dataLP, err := vm.DecodeLong(data)
		if err != nil {
			return 0, err
		}
		slot, err := vm.readWord(dataLP, uint32(index)*2)
		if err != nil {
			return 0, err
		}
		if slot == value.Deleted {
			return value.Undefined, nil
		}
		return slot, nil
	}
	proto := vm.arrayPrototype()
	if proto == value.Undefined {
		return value.Undefined, nil
	}
	return vm.GetProperty(proto, name)
}

// SetProperty implements set_property.
func (vm *VM) SetProperty(obj, key, val value.Value) error {
	name, err := vm.toPropertyName(key)
	if err != nil {
		return err
	}
	lp, err := vm.DecodeLong(obj)
	if err != nil {
		return err
	}
	if lp.IsNull() {
		return errors.TypeError(errors.PhaseProp, "cannot set property of null")
	}
	if !lp.inHeap {
		return errors.AttemptToWriteToROM()
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return err
	}
	switch tc {
	case value.TCPropertyList:
		return vm.setPropertyListProp(lp, name, val)
	case value.TCArray:
		return vm.setArrayProp(obj, lp, name, val)
	default:
		return errors.TypeError(errors.PhaseProp, "receiver is not an object")
	}
}

func (vm *VM) setPropertyListProp(head LongPtr, name, val value.Value) error {
	cursor := head
	var lastCursor LongPtr
	for {
		_, size, err := vm.readHeader(cursor)
		if err != nil {
			return err
		}
		for w := uint32(4); w+4 <= uint32(size); w += 4 {
			k, err := vm.readWord(cursor, w)
			if err != nil {
				return err
			}
			if k == name {
				return vm.writeWord(cursor, w+2, val)
			}
		}
		next, err := vm.readWord(cursor, 0)
		if err != nil {
			return err
		}
		if !value.IsShortPtr(next) && !value.IsBytecodeMappedPtr(next) {
			lastCursor = cursor
			break
		}
		cursor, err = vm.DecodeLong(next)
		if err != nil {
			return err
		}
	}

	newPtr, err := vm.heap.Allocate(propertyListCellSize, value.TCPropertyList)
	if err != nil {
		return err
	}
	vm.heap.WriteValue(uint32(newPtr), value.Null)
	vm.heap.WriteValue(uint32(newPtr)+2, value.Null)
	vm.heap.WriteValue(uint32(newPtr)+4, name)
	vm.heap.WriteValue(uint32(newPtr)+6, val)
	return vm.writeWord(lastCursor, 0, EncodeShort(uint32(newPtr)))
}

func (vm *VM) setArrayProp(obj value.Value, lp LongPtr, name, val value.Value) error {
	if name == value.StrLength {
		if !value.IsInt14(val) {
			return errors.TypeError(errors.PhaseProp, "array length must be a small integer")
		}
		newLen := value.DecodeInt14(val)
		if newLen < 0 {
			return errors.RangeError(errors.PhaseProp, "array length must be non-negative")
		}
		return vm.setArrayLength(lp, int(newLen))
	}
	if name == value.StrProto {
		return errors.ProtoIsReadonly()
	}
	if value.IsInt14(name) {
		index := value.DecodeInt14(name)
		if index < 0 {
			return errors.RangeError(errors.PhaseProp, "array index must be non-negative")
		}
		return vm.setArrayIndex(obj, lp, int(index), val)
	}
	return nil
}

func (vm *VM) setArrayLength(lp LongPtr, newLen int) error {
	data, oldLen, err := vm.arrayFields(lp)
	if err != nil {
		return err
	}
	capacity := 0
	var dataLP LongPtr
	if data != value.Null {
		dataLP, err = vm.DecodeLong(data)
		if err != nil {
			return err
		}
		_, size, err := vm.readHeader(dataLP)
		if err != nil {
			return err
		}
		capacity = int(size) / 2
	}

	if newLen <= int(oldLen) {
		for i := newLen; i < int(oldLen); i++ {
			if err := vm.writeWord(dataLP, uint32(i)*2, value.Deleted); err != nil {
				return err
			}
		}
		return vm.writeWord(lp, 2, value.EncodeInt14(int16(newLen)))
	}

	if newLen <= capacity {
		return vm.writeWord(lp, 2, value.EncodeInt14(int16(newLen)))
	}

	// An explicit length write sizes the backing store exactly; only index
	// writes use the doubling heuristic.
	return vm.growArray(lp, data, int(oldLen), newLen, true)
}

func (vm *VM) setArrayIndex(obj value.Value, lp LongPtr, index int, val value.Value) error {
	data, length, err := vm.arrayFields(lp)
	if err != nil {
		return err
	}
	if index >= int(length) || data == value.Null {
		target := index + 1
		if err := vm.growArray(lp, data, int(length), target, false); err != nil {
			return err
		}
		data, _, err = vm.arrayFields(lp)
		if err != nil {
			return err
		}
	}
	dataLP, err := vm.DecodeLong(data)
	if err != nil {
		return err
	}
	return vm.writeWord(dataLP, uint32(index)*2, val)
}

// growArray reallocates an array's backing store. Index writes use the
// doubling heuristic (capacity doubles, minimum 4, never below the request);
// an exact grow sizes capacity to newLen precisely. New slots
// are filled with DELETED.
func (vm *VM) growArray(lp LongPtr, oldData value.Value, oldLen, newLen int, exact bool) error {
	oldCapacity := 0
	if oldData != value.Null {
		dataLP, err := vm.DecodeLong(oldData)
		if err != nil {
			return err
		}
		_, size, err := vm.readHeader(dataLP)
		if err != nil {
			return err
		}
		oldCapacity = int(size) / 2
	}
	newCapacity := newLen
	if !exact {
		newCapacity = oldCapacity * 2
		if newCapacity < 4 {
			newCapacity = 4
		}
		if newCapacity < newLen {
			newCapacity = newLen
		}
	}

	newData, err := vm.allocFixedArray(newCapacity, value.Deleted)
	if err != nil {
		return err
	}
	if oldData != value.Null {
		oldDataLP, err := vm.DecodeLong(oldData)
		if err != nil {
			return err
		}
		for i := 0; i < oldLen; i++ {
			v, err := vm.readWord(oldDataLP, uint32(i)*2)
			if err != nil {
				return err
			}
			vm.heap.WriteValue(uint32(newData)+uint32(i)*2, v)
		}
	}

	if err := vm.writeWord(lp, 0, EncodeShort(uint32(newData))); err != nil {
		return err
	}
	return vm.writeWord(lp, 2, value.EncodeInt14(int16(newLen)))
}

// closureField reads one of CLOSURE's optional trailing fields, returning
// value.Undefined when the allocation is too small to carry that field.
func (vm *VM) closureField(lp LongPtr, wordOffset uint32) (value.Value, bool, error) {
	_, size, err := vm.readHeader(lp)
	if err != nil {
		return 0, false, err
	}
	if wordOffset*2+2 > uint32(size) {
		return value.Undefined, false, nil
	}
	v, err := vm.readWord(lp, wordOffset*2)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
