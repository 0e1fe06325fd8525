// Package value implements the VM's 16-bit tagged Value encoding and the
// pointer decoder that resolves any value to a ShortPtr, a BytecodeMappedPtr,
// or an immediate.
//
// A Value is always exactly one of:
//
//   - Int14: a signed 14-bit immediate, tag bits 11.
//   - ShortPtr: an even-aligned native offset into the mutable heap, tag
//     bit0 == 0.
//   - a well-known constant or BytecodeMappedPtr: tag bits 01.
//
// The three pointer-shaped types (ShortPtr, BytecodeMappedPtr, LongPtr) are
// kept as distinct Go types so a long pointer can't be used as a short
// pointer without an explicit decode step.
package value
