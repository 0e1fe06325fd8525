package image

import (
	"github.com/coreos/go-semver/semver"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/value"
)

// EngineVersion is the semver of this engine build, surfaced for host-side
// diagnostics. It is not written into images or snapshots; the header
// carries only the single-byte BytecodeVersion.
var EngineVersion = semver.New("0.1.0")

// SnapshotInput collects everything CreateSnapshot needs to serialize a live
// VM back into image form.
type SnapshotInput struct {
	ROM            []byte // unchanged since Load; copied through verbatim
	StringTable    []byte
	Builtins       []byte
	ShortCallTable []byte
	ImportTable    []byte
	ExportTable    []byte
	Globals        []value.Value
	Heap           *heap.Heap
}

// CreateSnapshot serializes the current state of a VM into a fresh bytecode
// image. Heap contents are copied out bucket-by-bucket in
// offset order, which is already the layout Parse/Load expects back, so no
// pointer rewriting is needed for ShortPtrs: heap offsets are stable across
// a snapshot round-trip in this host port. BytecodeMappedPtrs in ROM/GLOBALS
// are untouched since those sections are carried through byte-for-byte.
func CreateSnapshot(in SnapshotInput) ([]byte, error) {
	if in.Heap == nil {
		return nil, errors.Unexpected(errors.PhaseSnap, "snapshot requires a heap")
	}

	heapBuf := collectHeap(in.Heap)

	globalsBuf := NewWriter()
	for _, g := range in.Globals {
		globalsBuf.U16(uint16(g))
	}

	sections := [SectionCount][]byte{
		SectionImportTable:    in.ImportTable,
		SectionExportTable:    in.ExportTable,
		SectionShortCallTable: in.ShortCallTable,
		SectionBuiltins:       in.Builtins,
		SectionStringTable:    in.StringTable,
		SectionROM:            in.ROM,
		SectionGlobals:        globalsBuf.Bytes(),
		SectionHeap:           heapBuf,
	}

	w := NewWriter()
	w.U8(BytecodeVersion)
	w.U8(uint8(HeaderSize))
	w.U16(0) // bytecodeSize, backpatched below
	w.U16(0) // crc, backpatched below
	w.U16(0) // reserved
	w.U32(uint32(FFFloatSupport))

	offsets := [SectionCount]uint16{}
	cursor := uint16(HeaderSize)
	for s := Section(0); s < SectionCount; s++ {
		offsets[s] = cursor
		cursor += uint16(len(sections[s]))
	}
	for _, off := range offsets {
		w.U16(off)
	}
	for s := Section(0); s < SectionCount; s++ {
		w.RawBytes(sections[s])
	}

	total := w.Len()
	if total > 0xFFFF {
		return nil, errors.New(errors.PhaseSnap, errors.CodeSnapshotTooLarge).
			Detail("snapshot is %d bytes", total).Build()
	}
	w.PutU16At(2, uint16(total))

	crc := CRC16CCITT(w.Bytes()[crcCoveredStart:total])
	w.PutU16At(4, crc)

	return w.Bytes(), nil
}

// collectHeap flattens the live bucket chain into the HEAP section layout
// Load expects: each bucket lands at its offsetStart position, so every
// ShortPtr stays valid across the round trip. Buckets are spaced by
// capacity, not by used size, so the flat image may contain zero
// gaps after a partially-filled bucket; a zero header word is a zero-sized
// allocation, which nothing ever references.
func collectHeap(h *heap.Heap) []byte {
	var total uint32
	for b := h.First(); b != nil; b = b.Next() {
		if end := b.OffsetStart() + uint32(b.Used()); end > total {
			total = end
		}
	}
	out := make([]byte, total)
	for b := h.First(); b != nil; b = b.Next() {
		copy(out[b.OffsetStart():], b.Data())
	}
	return out
}
