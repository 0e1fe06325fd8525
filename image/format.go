package image

// Section identifies one of the eight fixed-index sections of a bytecode
// image, in on-disk order.
type Section int

const (
	SectionImportTable Section = iota
	SectionExportTable
	SectionShortCallTable
	SectionBuiltins
	SectionStringTable
	SectionROM
	SectionGlobals
	SectionHeap

	SectionCount
)

// FeatureFlag bits gate optional capabilities the bytecode may require.
type FeatureFlag uint32

const (
	// FFFloatSupport marks that the image contains float64 operations and
	// requires a VM built with float support.
	FFFloatSupport FeatureFlag = 1 << 0
)

// BytecodeVersion is the single wire version this loader accepts. A real
// deployment would also carry a finer-grained semver for diagnostics; see
// mvm.EngineVersion for that.
const BytecodeVersion uint8 = 1

// headerFixedSize is the byte size of the header up to, but not including,
// the section-offset table: bytecodeVersion(1) + headerSize(1) +
// bytecodeSize(2) + crc(2) + reserved(2) + requiredFeatureFlags(4) = 12.
//
// The 2 reserved bytes between crc and requiredFeatureFlags exist purely so
// that "CRC covers bytes [8..bytecodeSize)" lands exactly on the
// start of requiredFeatureFlags rather than splitting a multi-byte field.
const headerFixedSize = 12

// HeaderSize is the total header size in bytes, including the section
// offset table.
const HeaderSize = headerFixedSize + int(SectionCount)*2

// Header is the fixed bytecode image header.
type Header struct {
	BytecodeVersion      uint8
	HeaderSize           uint8
	BytecodeSize         uint16
	CRC                  uint16
	RequiredFeatureFlags FeatureFlag
	SectionOffsets       [SectionCount]uint16
}

// crcCoveredStart is the fixed byte offset at which CRC coverage begins
// ").
const crcCoveredStart = 8

// ImportTableEntry is one 2-byte host-function-id entry.
type ImportTableEntry struct {
	HostFunctionID uint16
}

// ExportTableEntry maps an export ID to a Value.
type ExportTableEntry struct {
	ExportID uint16
	Value    uint16 // raw encoded value.Value bits
}

// ShortCallTableEntry abbreviates a common call site. Low bit of
// Target selects host call (1) vs VM function (0); the remaining bits are
// the import-table index or bytecode offset respectively, each shifted left
// by one to make room for that tag bit.
type ShortCallTableEntry struct {
	Target   uint16
	ArgCount uint8
}

// IsHostCall reports whether the entry targets a host function.
func (e ShortCallTableEntry) IsHostCall() bool { return e.Target&1 == 1 }

// Index returns the import-table index (IsHostCall) or bytecode offset.
func (e ShortCallTableEntry) Index() uint16 { return e.Target >> 1 }

// EncodeShortCallTarget packs a host-call/offset pair into the wire Target
// field.
func EncodeShortCallTarget(index uint16, hostCall bool) uint16 {
	t := index << 1
	if hostCall {
		t |= 1
	}
	return t
}

// shortCallEntrySize is the on-disk byte stride of one ShortCallTableEntry:
// target(2) + argCount(1) = 3 bytes, unpadded.
const shortCallEntrySize = 3
