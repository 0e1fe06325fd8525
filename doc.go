// Package mvm is a minimal embeddable virtual machine core for a small
// JavaScript-subset bytecode language, designed for memory-constrained
// embedded hosts.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	mvm/            Root package: EngineVersion and top-level convenience re-exports
//	├── value/       The 16-bit tagged Value encoding and well-known constants
//	├── heap/        The bucket allocator backing the mutable heap
//	├── gc/          The Cheney-style semispace collector
//	├── image/       Bytecode image layout, loader, and snapshot writer
//	├── handle/      Host-owned GC root table (the public Handle API)
//	├── vm/          The interpreter: dispatch loop, call ABI, property protocol
//	├── runtime/     The public embedding API: Restore, Call, ResolveExports
//	└── errors/      Structured error types shared across every package
//
// # Quick Start
//
// Restore an image and call an export:
//
//	rt, err := runtime.Restore(bytecode)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	f, err := rt.ResolveExport(1)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := rt.Call(f, value.EncodeInt14(10))
//
// # Host Functions
//
// Host functions are registered by import ID before Restore resolves the
// image's IMPORT_TABLE:
//
//	rt, err := runtime.Restore(bytecode, runtime.WithImport(7,
//	    func(m *vm.VM, args []value.Value) (value.Value, error) {
//	        return value.EncodeInt14(int16(len(args))), nil
//	    }))
//
// # Thread Safety
//
// A runtime.Runtime is NOT safe for concurrent use; the interpreter owns a
// single register file and a single heap. Host a runtime per goroutine, or
// synchronize access externally.
//
// # Memory Model
//
// The heap is a chain of host-allocated buckets addressed by a flat
// offset space rather than by raw machine pointers. Garbage collection
// compacts live data into a fresh bucket chain; it never shrinks a bucket
// in place.
package mvm
