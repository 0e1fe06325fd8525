// Package image implements the bytecode image layout: the fixed-size
// header, the eight fixed-index sections, the loader that validates an
// image and copies its HEAP section into a running heap, and the snapshot
// writer that inverts the process.
//
// All multi-byte integers are little-endian. Unlike formats built on LEB128
// varints, this one is entirely fixed-width, so Reader and Writer only need
// position-tracked fixed-size helpers.
package image
