package image

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/value"
)

// HostResolver looks up the host function backing an import-table entry,
// returning an error if the host does not provide one.
type HostResolver func(entry ImportTableEntry) (value.Value, error)

// Image is a parsed, validated bytecode image ready to be loaded into a
// running heap. Sections are kept as raw byte slices sliced out of the
// original buffer; VM/property code resolves individual entries lazily.
type Image struct {
	Header   Header
	Sections [SectionCount][]byte

	// Raw is the full validated image buffer, kept around so a
	// BytecodeMappedPtr (an absolute offset into this same buffer) can be
	// dereferenced without tracking which section it falls into.
	Raw []byte
}

// Parse validates the header, CRC, version, and section table, and slices
// out the eight sections, without resolving imports or touching a heap.
func Parse(buf []byte) (*Image, error) {
	if len(buf) < HeaderSize {
		return nil, errors.InvalidBytecode("image shorter than header")
	}

	r := NewReader(buf)
	var hdr Header
	var err error
	if hdr.BytecodeVersion, err = r.U8(); err != nil {
		return nil, err
	}
	if hdr.HeaderSize, err = r.U8(); err != nil {
		return nil, err
	}
	if hdr.BytecodeSize, err = r.U16(); err != nil {
		return nil, err
	}
	if hdr.CRC, err = r.U16(); err != nil {
		return nil, err
	}
	if _, err = r.U16(); err != nil { // reserved
		return nil, err
	}
	var flags uint32
	if flags, err = r.U32(); err != nil {
		return nil, err
	}
	hdr.RequiredFeatureFlags = FeatureFlag(flags)
	for i := range hdr.SectionOffsets {
		if hdr.SectionOffsets[i], err = r.U16(); err != nil {
			return nil, err
		}
	}

	if hdr.BytecodeVersion != BytecodeVersion {
		return nil, errors.New(errors.PhaseLoad, errors.CodeInvalidBytecode).
			Detail("unsupported bytecode version %d", hdr.BytecodeVersion).Build()
	}
	if int(hdr.HeaderSize) != HeaderSize {
		return nil, errors.InvalidBytecode("unexpected header size field")
	}
	if int(hdr.BytecodeSize) > len(buf) {
		return nil, errors.InvalidBytecode("bytecodeSize exceeds buffer length")
	}
	if hdr.RequiredFeatureFlags&FFFloatSupport != 0 {
		// Float support is always present in this host port; the flag
		// exists only to reject images a smaller build couldn't run.
	}

	body := buf[crcCoveredStart:hdr.BytecodeSize]
	if CRC16CCITT(body) != hdr.CRC {
		return nil, errors.New(errors.PhaseLoad, errors.CodeBytecodeCRCFail).Build()
	}

	img := &Image{Header: hdr, Raw: buf[:hdr.BytecodeSize]}
	for s := Section(0); s < SectionCount; s++ {
		start := hdr.SectionOffsets[s]
		end := hdr.BytecodeSize
		if s+1 < SectionCount {
			end = hdr.SectionOffsets[s+1]
		}
		if int(end) > len(buf) || end < start {
			return nil, errors.InvalidBytecode("section offset out of range")
		}
		img.Sections[s] = buf[start:end]
	}
	return img, nil
}

// ImportTable decodes the IMPORT_TABLE section into entries.
func (img *Image) ImportTable() ([]ImportTableEntry, error) {
	sec := img.Sections[SectionImportTable]
	if len(sec)%2 != 0 {
		return nil, errors.InvalidBytecode("import table has odd length")
	}
	r := NewReader(sec)
	out := make([]ImportTableEntry, 0, len(sec)/2)
	for r.Remaining() > 0 {
		id, err := r.U16()
		if err != nil {
			return nil, err
		}
		out = append(out, ImportTableEntry{HostFunctionID: id})
	}
	return out, nil
}

// ExportTable decodes the EXPORT_TABLE section into entries.
func (img *Image) ExportTable() ([]ExportTableEntry, error) {
	sec := img.Sections[SectionExportTable]
	if len(sec)%4 != 0 {
		return nil, errors.InvalidBytecode("export table has odd entry size")
	}
	r := NewReader(sec)
	out := make([]ExportTableEntry, 0, len(sec)/4)
	for r.Remaining() > 0 {
		id, err := r.U16()
		if err != nil {
			return nil, err
		}
		v, err := r.U16()
		if err != nil {
			return nil, err
		}
		out = append(out, ExportTableEntry{ExportID: id, Value: v})
	}
	return out, nil
}

// ShortCallTable decodes the SHORT_CALL_TABLE section into entries.
func (img *Image) ShortCallTable() ([]ShortCallTableEntry, error) {
	sec := img.Sections[SectionShortCallTable]
	if len(sec)%shortCallEntrySize != 0 {
		return nil, errors.InvalidBytecode("short call table has misaligned entries")
	}
	r := NewReader(sec)
	out := make([]ShortCallTableEntry, 0, len(sec)/shortCallEntrySize)
	for r.Remaining() > 0 {
		target, err := r.U16()
		if err != nil {
			return nil, err
		}
		argCount, err := r.U8()
		if err != nil {
			return nil, err
		}
		out = append(out, ShortCallTableEntry{Target: target, ArgCount: argCount})
	}
	return out, nil
}

// LoadedImage is the result of Load: a heap primed from the HEAP section,
// a copy of GLOBALS ready for direct VM access, and the resolved import
// slot values substituted for every bytecode-level import reference.
type LoadedImage struct {
	Image       *Image
	Heap        *heap.Heap
	Globals     []value.Value
	ImportSlots []value.Value
	Log         *zap.Logger
}

// Load validates an image buffer, resolves its imports, and copies its
// GLOBALS and HEAP sections into a runnable state (no pointer rewriting is
// needed; see below). Every import is resolved before any slot is written,
// aggregating failures with multierr so the host learns about every missing
// host function in one report rather than stopping at the first (Open
// Question 1; see DESIGN.md).
func Load(buf []byte, resolve HostResolver, heapCfg heap.Config, log *zap.Logger) (*LoadedImage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	img, err := Parse(buf)
	if err != nil {
		return nil, err
	}

	imports, err := img.ImportTable()
	if err != nil {
		return nil, err
	}

	slots := make([]value.Value, len(imports))
	var failures []*errors.Error
	var combined error
	for i, entry := range imports {
		v, rerr := resolve(entry)
		if rerr != nil {
			uerr := errors.UnresolvedImport(entry.HostFunctionID, rerr)
			failures = append(failures, uerr)
			combined = multierr.Append(combined, uerr)
			continue
		}
		slots[i] = v
	}
	if combined != nil {
		log.Warn("unresolved imports", zap.Error(combined))
		return nil, &errors.UnresolvedImportsError{Failures: failures}
	}

	globalsSec := img.Sections[SectionGlobals]
	globals := make([]value.Value, len(globalsSec)/2)
	gr := NewReader(globalsSec)
	for i := range globals {
		w, rerr := gr.U16()
		if rerr != nil {
			return nil, rerr
		}
		globals[i] = value.Value(w)
	}

	// A 16-bit firmware host would now rewrite every ShortPtr from its
	// on-image offset to a native-pointer form, because there the image
	// offset and the runtime address are different number spaces.
	// Here a ShortPtr already IS a heap-relative offset, and the single
	// bucket created below always starts at heap-offset 0, so the HEAP
	// section's on-image ShortPtr values are already valid native offsets;
	// there is nothing to rewrite.
	h := heap.New(heapCfg, nil)
	heapSec := img.Sections[SectionHeap]
	if len(heapSec) > 0 {
		// The HEAP section is already a valid bucket image (its own
		// allocation headers included), so reserve a bucket of the right
		// size and stamp the section bytes over it verbatim rather than
		// replaying individual Allocate calls.
		if _, aerr := h.AllocateWithConstantHeader(0, uint16(len(heapSec))); aerr != nil {
			return nil, aerr
		}
		b := h.First()
		copy(b.Data(), heapSec)
	}
	h.SetSizeAtLastGC(uint32(len(heapSec)))

	log.Debug("image loaded",
		zap.Int("imports", len(imports)),
		zap.Int("globals", len(globals)),
		zap.Int("heapBytes", len(heapSec)))

	return &LoadedImage{Image: img, Heap: h, Globals: globals, ImportSlots: slots, Log: log}, nil
}
