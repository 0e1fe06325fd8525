// Package heap implements the VM's bump allocator across a singly-linked
// chain of host-mallocd buckets.
//
// Every allocation is preceded by a 16-bit header word (4-bit type code, 12-bit
// payload size); Heap.Allocate returns the offset of the payload, not the
// header. Offsets are heap-relative (not native pointers) so the same code
// path works whether or not the embedding host has a unified address
// space: a ShortPtr is a 16-bit heap-relative offset, never a raw machine
// pointer.
package heap
