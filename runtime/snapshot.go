package runtime

import (
	"github.com/mvm-go/mvm/image"
)

// CreateSnapshot serializes the Runtime's current globals and heap back
// into a self-contained bytecode image. The transient
// stack and registers are never snapshotted: restoring the result yields a
// Runtime indistinguishable from this one modulo in-flight call state.
func (r *Runtime) CreateSnapshot() ([]byte, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	snap, err := image.CreateSnapshot(image.SnapshotInput{
		ROM:            r.img.Sections[image.SectionROM],
		StringTable:    r.img.Sections[image.SectionStringTable],
		Builtins:       r.img.Sections[image.SectionBuiltins],
		ShortCallTable: r.img.Sections[image.SectionShortCallTable],
		ImportTable:    r.img.Sections[image.SectionImportTable],
		ExportTable:    r.img.Sections[image.SectionExportTable],
		Globals:        r.vm.Globals(),
		Heap:           r.vm.Heap(),
	})
	if err != nil {
		return nil, r.fatal(err)
	}
	r.log.Debug("snapshot created")
	return snap, nil
}
