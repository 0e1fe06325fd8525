// Package errors provides the structured error type surfaced by the VM's
// public API.
//
// Every reportable or fatal condition carries a Code drawn
// from the closed enum in this package plus a Phase describing which
// component raised it. Use the Builder for multi-field construction:
//
//	err := errors.New(errors.PhaseInterp, errors.CodeTypeError).
//		Detail("property key must be Int14 or interned string").
//		Build()
//
// or one of the convenience constructors for the common cases
// (errors.TypeError, errors.StackOverflow, ...).
//
// All errors implement the standard error interface and support
// errors.Is/As; Is compares by Code alone.
package errors
