package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which component of the VM raised the error.
type Phase string

const (
	PhaseLoad    Phase = "load"    // bytecode image loading/relocation
	PhaseGC      Phase = "gc"      // garbage collection
	PhaseHeap    Phase = "heap"    // bucket allocation
	PhaseInterp  Phase = "interp"  // interpreter dispatch loop
	PhaseHost    Phase = "host"    // host-call trampoline
	PhaseProp    Phase = "prop"    // property/array protocol
	PhaseValue   Phase = "value"   // value/pointer decoding
	PhaseSnap    Phase = "snap"    // snapshot serialization
	PhaseRuntime Phase = "runtime" // public API layer
)

// Code is the closed error-code enum surfaced by the public API; see
// DESIGN.md for the rationale behind the less obvious members.
type Code string

const (
	CodeSuccess                       Code = "SUCCESS"
	CodeUnexpected                    Code = "UNEXPECTED"
	CodeMallocFail                    Code = "MALLOC_FAIL"
	CodeAllocationTooLarge            Code = "ALLOCATION_TOO_LARGE"
	CodeFunctionNotFound              Code = "FUNCTION_NOT_FOUND"
	CodeInvalidHandle                 Code = "INVALID_HANDLE"
	CodeStackOverflow                 Code = "STACK_OVERFLOW"
	CodeUnresolvedImport              Code = "UNRESOLVED_IMPORT"
	CodeInvalidArguments              Code = "INVALID_ARGUMENTS"
	CodeTypeError                     Code = "TYPE_ERROR"
	CodeTargetNotCallable             Code = "TARGET_NOT_CALLABLE"
	CodeHostError                     Code = "HOST_ERROR"
	CodeNotImplemented                Code = "NOT_IMPLEMENTED"
	CodeHostReturnedInvalidValue      Code = "HOST_RETURNED_INVALID_VALUE"
	CodeAssertionFailed               Code = "ASSERTION_FAILED"
	CodeInvalidBytecode               Code = "INVALID_BYTECODE"
	CodeUnresolvedExport              Code = "UNRESOLVED_EXPORT"
	CodeRangeError                    Code = "RANGE_ERROR"
	CodeTargetIsNotAVMFunction        Code = "TARGET_IS_NOT_A_VM_FUNCTION"
	CodeNaN                           Code = "NAN"
	CodeNegZero                       Code = "NEG_ZERO"
	CodeOperationRequiresFloatSupport Code = "OPERATION_REQUIRES_FLOAT_SUPPORT"
	CodeBytecodeCRCFail               Code = "BYTECODE_CRC_FAIL"
	CodeBytecodeRequiresFloatSupport  Code = "BYTECODE_REQUIRES_FLOAT_SUPPORT"
	CodeProtoIsReadonly               Code = "PROTO_IS_READONLY"
	CodeSnapshotTooLarge              Code = "SNAPSHOT_TOO_LARGE"
	CodeArrayTooLong                  Code = "ARRAY_TOO_LONG"
	CodeOutOfMemory                   Code = "OUT_OF_MEMORY"
	CodeAttemptToWriteToROM           Code = "ATTEMPT_TO_WRITE_TO_ROM"
	CodeInstructionCountReached       Code = "INSTRUCTION_COUNT_REACHED"
)

// Fatal reports whether a Code belongs to the fatal category:
// routed to the host's fatal sink, the VM is not expected to continue.
func (c Code) Fatal() bool {
	switch c {
	case CodeUnexpected, CodeAssertionFailed, CodeMallocFail, CodeOutOfMemory,
		CodeSnapshotTooLarge, CodeAllocationTooLarge:
		return true
	default:
		return false
	}
}

// Error is the structured error type returned throughout the VM.
type Error struct {
	Phase  Phase
	Code   Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Code))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New starts building an Error for the given phase and code.
func New(phase Phase, code Code) *Builder {
	return &Builder{err: Error{Phase: phase, Code: code}}
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinel returns a bare *Error usable with errors.Is for a given code.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// Convenience constructors for the conditions the core raises most often.

func TypeError(phase Phase, detail string) *Error {
	return New(phase, CodeTypeError).Detail(detail).Build()
}

func RangeError(phase Phase, detail string) *Error {
	return New(phase, CodeRangeError).Detail(detail).Build()
}

func StackOverflow(phase Phase) *Error {
	return New(phase, CodeStackOverflow).Build()
}

func TargetNotCallable(phase Phase) *Error {
	return New(phase, CodeTargetNotCallable).Build()
}

func UnresolvedImport(id uint16, cause error) *Error {
	return New(PhaseLoad, CodeUnresolvedImport).Detail("host function id %d", id).Cause(cause).Build()
}

func UnresolvedExport(id uint16) *Error {
	return New(PhaseRuntime, CodeUnresolvedExport).Detail("export id %d", id).Build()
}

func InvalidBytecode(detail string) *Error {
	return New(PhaseLoad, CodeInvalidBytecode).Detail(detail).Build()
}

func InvalidHandle() *Error {
	return New(PhaseRuntime, CodeInvalidHandle).Build()
}

func OutOfMemory() *Error {
	return New(PhaseGC, CodeOutOfMemory).Build()
}

func ProtoIsReadonly() *Error {
	return New(PhaseProp, CodeProtoIsReadonly).Build()
}

func AttemptToWriteToROM() *Error {
	return New(PhaseProp, CodeAttemptToWriteToROM).Build()
}

func AssertionFailed(phase Phase, detail string) *Error {
	return New(phase, CodeAssertionFailed).Detail(detail).Build()
}

func Unexpected(phase Phase, detail string) *Error {
	return New(phase, CodeUnexpected).Detail(detail).Build()
}

// UnresolvedImportsError aggregates every import that failed to resolve
// during a single Load call (see image.Load), gathered with
// go.uber.org/multierr rather than aborting at the first failure, so the
// host sees every missing host function in one report.
type UnresolvedImportsError struct {
	Failures []*Error
}

func (e *UnresolvedImportsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d unresolved import(s):\n", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("  - ")
		b.WriteString(f.Error())
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (e *UnresolvedImportsError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
