// Package gc implements the Cheney-style semispace collector with in-place
// compaction of PROPERTY_LIST chains and ARRAY backing stores.
//
// A collection copies every reachable allocation into a fresh bucket chain,
// folding appended property cells back into their head record and trimming
// array backing stores to their logical length along the way. Per-cycle
// diagnostics go through zap; allocation exhaustion surfaces as a
// structured OUT_OF_MEMORY error.
package gc
