// Package runtime is the public embedding API for the VM core: restoring a
// bytecode image into a live Runtime, calling exports, converting values
// across the host boundary, anchoring GC roots through handles, and
// serializing the Runtime back into a snapshot image.
//
// A Runtime is not safe for concurrent use; see the root package
// documentation for the threading model.
package runtime
