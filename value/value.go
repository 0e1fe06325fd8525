package value

// Value is the VM's 16-bit tagged value representation.
type Value uint16

// ShortPtr is an even-aligned reference to the mutable heap. Its bit pattern
// IS the heap offset (or native pointer, on 16-bit hosts); the only tag is
// that bit 0 is always 0. A ShortPtr is only ever produced by the bucket
// allocator or GC and must never appear in a ROM slot.
type ShortPtr uint16

// BytecodeMappedPtr is a reference into the immutable bytecode image (ROM or
// GLOBALS). It is distinct from ShortPtr at the type level: the two must
// never be confused, and converting between them always goes through
// decodeLong/encodeShort.
type BytecodeMappedPtr uint16

// TypeCode is the 4-bit allocation type tag stored in an allocation
// header.
type TypeCode uint8

const (
	TCTombstone         TypeCode = 0x0
	TCInt32             TypeCode = 0x1
	TCFloat64           TypeCode = 0x2
	TCString            TypeCode = 0x3
	TCInternedString    TypeCode = 0x4
	TCFunction          TypeCode = 0x5
	TCHostFunc          TypeCode = 0x6
	TCBigInt            TypeCode = 0x7
	TCSymbol            TypeCode = 0x8
	TCReserved1         TypeCode = 0x9
	TCReserved2         TypeCode = 0xA
	TCInternalContainer TypeCode = 0xB
	TCPropertyList      TypeCode = 0xC
	TCArray             TypeCode = 0xD
	TCFixedLengthArray  TypeCode = 0xE
	TCClosure           TypeCode = 0xF
)

// containerDivider is the type code at which, and above which, allocations
// are containers whose words the GC traces.
const containerDivider TypeCode = TCReserved1

// IsContainer reports whether a type code denotes a container allocation
// (every word is a Value that GC must trace).
func (tc TypeCode) IsContainer() bool {
	return tc >= containerDivider
}

func (tc TypeCode) String() string {
	switch tc {
	case TCTombstone:
		return "TOMBSTONE"
	case TCInt32:
		return "INT32"
	case TCFloat64:
		return "FLOAT64"
	case TCString:
		return "STRING"
	case TCInternedString:
		return "INTERNED_STRING"
	case TCFunction:
		return "FUNCTION"
	case TCHostFunc:
		return "HOST_FUNC"
	case TCBigInt:
		return "BIG_INT"
	case TCSymbol:
		return "SYMBOL"
	case TCInternalContainer:
		return "INTERNAL_CONTAINER"
	case TCPropertyList:
		return "PROPERTY_LIST"
	case TCArray:
		return "ARRAY"
	case TCFixedLengthArray:
		return "FIXED_LENGTH_ARRAY"
	case TCClosure:
		return "CLOSURE"
	default:
		return "RESERVED"
	}
}

// wellKnownOffset packs a value-type code (conceptually 0x10+n) into the
// tag-01 encoding: ((n) << 2) | 1. Mirrors the original VM_VALUE_* constants.
func wellKnownOffset(n int) Value {
	return Value((n << 2) | 1)
}

// Well-known constants: immediates and the two interned strings
// the compiler may reference without an intern-table lookup.
const (
	Undefined Value = Value(1) // wellKnownOffset(0)
	Null      Value = Value(9) // wellKnownOffset(2)
	True      Value = Value(13)
	False     Value = Value(17)
	NaN       Value = Value(21)
	NegZero   Value = Value(25)
	Deleted   Value = Value(29)
	StrLength Value = Value(33)
	StrProto  Value = Value(37)

	// WellKnownEnd is the first Value past the well-known range; any
	// Value with tag 01 and a numeric value >= WellKnownEnd is a
	// BytecodeMappedPtr instead of a well-known constant.
	WellKnownEnd Value = Value(41)
)

// Int14Min and Int14Max bound the signed 14-bit immediate range.
const (
	Int14Min = -8192
	Int14Max = 8191
)

// IsShortPtr reports whether v's tag identifies it as a ShortPtr (bit0 == 0).
func IsShortPtr(v Value) bool {
	return v&1 == 0
}

// IsInt14 reports whether v's tag identifies it as an Int14 (low 2 bits 11).
func IsInt14(v Value) bool {
	return v&3 == 3
}

// IsBytecodeMappedPtrOrWellKnown reports whether v's tag is 01 (bit0==1,
// bit1==0): either a well-known constant or a BytecodeMappedPtr.
func IsBytecodeMappedPtrOrWellKnown(v Value) bool {
	return v&3 == 1
}

// IsWellKnown reports whether v is one of the fixed well-known constants.
func IsWellKnown(v Value) bool {
	return IsBytecodeMappedPtrOrWellKnown(v) && v < WellKnownEnd
}

// IsBytecodeMappedPtr reports whether v is a BytecodeMappedPtr (tag 01, and
// not one of the well-known constants).
func IsBytecodeMappedPtr(v Value) bool {
	return IsBytecodeMappedPtrOrWellKnown(v) && v >= WellKnownEnd
}

// AsShortPtr reinterprets v as a ShortPtr. Callers must have already
// established IsShortPtr(v).
func AsShortPtr(v Value) ShortPtr { return ShortPtr(v) }

// AsValue widens a ShortPtr back to a Value. Always legal: every ShortPtr
// bit pattern is also a well-formed Value (bit 0 is 0 in both).
func (p ShortPtr) AsValue() Value { return Value(p) }

// AsBytecodeMappedPtr extracts the image-relative offset encoded in v.
// Callers must have already established IsBytecodeMappedPtr(v).
func AsBytecodeMappedPtr(v Value) BytecodeMappedPtr {
	return BytecodeMappedPtr(v >> 1)
}

// EncodeBytecodeMappedPtr packs an even image offset into a Value.
func EncodeBytecodeMappedPtr(offset uint16) Value {
	return Value((offset << 1) | 1)
}

// DecodeInt14 extracts the signed 14-bit integer packed in v via an
// arithmetic shift right by 2. Callers must have already established
// IsInt14(v).
func DecodeInt14(v Value) int16 {
	return int16(v) >> 2
}

// EncodeInt14 packs n (which must satisfy Int14Min <= n <= Int14Max) into a
// tagged Value.
func EncodeInt14(n int16) Value {
	return Value(uint16(n<<2) | 3)
}

// FitsInt14 reports whether n is representable as an Int14.
func FitsInt14(n int32) bool {
	return n >= Int14Min && n <= Int14Max
}
