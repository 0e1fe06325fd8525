// Package vm implements the interpreter core: the register file (PC/FP/SP/
// argCount), the bytecode dispatch loop, the call ABI, the host-call
// trampoline, the property/array protocol, structural equality, arithmetic,
// and string interning.
//
// The interpreter is a classic stack machine: one flat value stack, cached
// registers, and a byte-dispatched loop. Host functions cross a trampoline
// that sanitizes arguments before they leave the VM.
package vm
