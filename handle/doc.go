// Package handle implements the embedder-owned handle table: the host's
// anchored GC roots.
//
// The table is an array plus a free list of recycled slots, handing out
// reference-counted 1-based IDs; a handle's entry is swept by the GC root
// walk exactly like a global slot.
package handle
