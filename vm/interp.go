package vm

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/mvm-go/mvm/errors"
	"github.com/mvm-go/mvm/value"
)

// smallLiteralTable is the fixed 8-entry table behind LOAD_SMALL_LITERAL:
// null, undefined, false, true, 0, 1, 2, -1.
var smallLiteralTable = [8]value.Value{
	value.Null,
	value.Undefined,
	value.False,
	value.True,
	value.EncodeInt14(0),
	value.EncodeInt14(1),
	value.EncodeInt14(2),
	value.EncodeInt14(-1),
}

// errCodeTable maps OpReturnError's one-byte operand to an error code. Only
// codes bytecode can legitimately raise are listed; anything out of range
// degrades to UNEXPECTED.
var errCodeTable = [...]errors.Code{
	errors.CodeUnexpected,
	errors.CodeTypeError,
	errors.CodeRangeError,
	errors.CodeHostError,
	errors.CodeNotImplemented,
	errors.CodeInvalidArguments,
}

// Call invokes a callable value with the given arguments and runs the
// interpreter until the call chain drains back to the entry sentinel. The
// receiver slot is filled with undefined; args follow it, so from bytecode's
// perspective LOAD_ARG 0 is `this` and the caller's first argument is
// LOAD_ARG 1.
func (vm *VM) Call(callable value.Value, args []value.Value) (value.Value, error) {
	if len(args) > 254 {
		return 0, errors.New(errors.PhaseInterp, errors.CodeInvalidArguments).
			Detail("%d arguments exceed the 254 limit", len(args)).Build()
	}
	vm.ensureStack()
	baseSP := vm.sp
	if baseSP == 0 {
		// Outermost entry: the instruction budget covers this call chain,
		// including any host-reentrant nested calls.
		vm.instrCount = 0
	}
	savedPC, savedFP, savedArgc := vm.pc, vm.fp, vm.argCount
	vm.pc = pcSentinel

	unwind := func() {
		for i := baseSP; i < vm.sp; i++ {
			vm.stack[i] = value.Undefined
		}
		vm.sp = baseSP
		vm.pc, vm.fp, vm.argCount = savedPC, savedFP, savedArgc
		vm.releaseStackIfDrained()
	}

	if err := vm.push(callable); err != nil {
		unwind()
		return 0, err
	}
	if err := vm.push(value.Undefined); err != nil {
		unwind()
		return 0, err
	}
	for _, a := range args {
		if err := vm.push(a); err != nil {
			unwind()
			return 0, err
		}
	}

	argc := uint8(len(args) + 1)
	if err := vm.callValue(callable, argc, true); err != nil {
		unwind()
		return 0, err
	}
	if vm.pc != pcSentinel {
		if err := vm.run(); err != nil {
			unwind()
			return 0, err
		}
	}

	result, err := vm.pop()
	if err != nil {
		unwind()
		return 0, err
	}
	vm.pc, vm.fp, vm.argCount = savedPC, savedFP, savedArgc
	vm.releaseStackIfDrained()
	return result, nil
}

// run is the dispatch loop. It executes instructions until a
// RETURN restores the entry sentinel, an error terminates the run, or the
// configured instruction-count limit is reached.
func (vm *VM) run() error {
	for {
		if vm.opts.InstructionCountLimit > 0 && vm.instrCount >= vm.opts.InstructionCountLimit {
			return errors.New(errors.PhaseInterp, errors.CodeInstructionCountReached).Build()
		}
		vm.instrCount++

		if vm.breakpoints != nil {
			if _, armed := vm.breakpoints[vm.pc]; armed && vm.breakpointCB != nil {
				vm.breakpointCB(vm, vm.pc)
			}
		}

		op, err := vm.fetchOp()
		if err != nil {
			return err
		}

		done, err := vm.step(op)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (vm *VM) fetchOp() (Op, error) {
	if int(vm.pc) >= len(vm.img.Raw) {
		return 0, errors.Unexpected(errors.PhaseInterp, "program counter ran off the image")
	}
	op := Op(vm.img.Raw[vm.pc])
	vm.pc++
	return op, nil
}

func (vm *VM) fetchU8() (uint8, error) {
	if int(vm.pc) >= len(vm.img.Raw) {
		return 0, errors.Unexpected(errors.PhaseInterp, "truncated instruction")
	}
	b := vm.img.Raw[vm.pc]
	vm.pc++
	return b, nil
}

func (vm *VM) fetchU16() (uint16, error) {
	if int(vm.pc)+2 > len(vm.img.Raw) {
		return 0, errors.Unexpected(errors.PhaseInterp, "truncated instruction")
	}
	v := binary.LittleEndian.Uint16(vm.img.Raw[vm.pc:])
	vm.pc += 2
	return v, nil
}

// step executes a single fetched instruction. It returns done=true when a
// RETURN restored the entry sentinel, ending the current run.
func (vm *VM) step(op Op) (bool, error) {
	switch op {
	case OpLoadSmallLiteral:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		if int(n) >= len(smallLiteralTable) {
			return false, errors.Unexpected(errors.PhaseInterp, "small-literal index out of range")
		}
		return false, vm.push(smallLiteralTable[n])

	case OpLoadLiteral:
		raw, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		return false, vm.push(value.Value(raw))

	case OpLoadVar:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		idx := vm.sp - int(n) - 1
		if idx < 0 {
			return false, errors.Unexpected(errors.PhaseInterp, "LOAD_VAR below stack bottom")
		}
		return false, vm.push(vm.stack[idx])

	case OpStoreVar:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		idx := vm.sp - int(n) - 1
		if idx < 0 {
			return false, errors.Unexpected(errors.PhaseInterp, "STORE_VAR below stack bottom")
		}
		vm.stack[idx] = v
		return false, nil

	case OpLoadGlobal:
		n, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		if int(n) >= len(vm.globals) {
			return false, errors.Unexpected(errors.PhaseInterp, "global index out of range")
		}
		return false, vm.push(vm.globals[n])

	case OpStoreGlobal:
		n, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		if int(n) >= len(vm.globals) {
			return false, errors.Unexpected(errors.PhaseInterp, "global index out of range")
		}
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		vm.globals[n] = v
		return false, nil

	case OpLoadArg:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		if n >= vm.argCount {
			return false, vm.push(value.Undefined)
		}
		return false, vm.push(vm.stack[vm.fp-3-int(vm.argCount)+int(n)])

	case OpPop:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		return false, vm.popN(int(n))

	case OpCallShort:
		idx, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		return false, vm.execCallShort(idx)

	case OpCall:
		argc, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		if int(argc)+1 > vm.sp {
			return false, errors.Unexpected(errors.PhaseInterp, "CALL with too few stack values")
		}
		callable := vm.stack[vm.sp-int(argc)-1]
		return false, vm.callValue(callable, argc, true)

	case OpCallHost:
		argc, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		idx, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		return false, vm.callHost(int(idx), argc, false)

	case OpFixedArrayNew:
		n, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		v, err := vm.NewFixedArray(int(n))
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpArrayNew:
		v, err := vm.NewArray()
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpObjectNew:
		v, err := vm.NewObject()
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpObjectGet:
		key, err := vm.pop()
		if err != nil {
			return false, err
		}
		obj, err := vm.pop()
		if err != nil {
			return false, err
		}
		v, err := vm.GetProperty(obj, key)
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpObjectSet:
		val, err := vm.pop()
		if err != nil {
			return false, err
		}
		key, err := vm.pop()
		if err != nil {
			return false, err
		}
		obj, err := vm.pop()
		if err != nil {
			return false, err
		}
		if err := vm.SetProperty(obj, key, val); err != nil {
			return false, err
		}
		return false, vm.push(val)

	case OpNumOp:
		sub, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		return false, vm.execNumOp(NumOp(sub))

	case OpBitOp:
		sub, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		return false, vm.execBitOp(BitOp(sub))

	case OpAdd:
		return false, vm.execAdd()

	case OpEqual, OpNotEqual:
		b, err := vm.pop()
		if err != nil {
			return false, err
		}
		a, err := vm.pop()
		if err != nil {
			return false, err
		}
		eq, err := vm.Equal(a, b)
		if err != nil {
			return false, err
		}
		if op == OpNotEqual {
			eq = !eq
		}
		return false, vm.push(boolValue(eq))

	case OpLogicalNot:
		a, err := vm.pop()
		if err != nil {
			return false, err
		}
		truthy, err := vm.ToBool(a)
		if err != nil {
			return false, err
		}
		return false, vm.push(boolValue(!truthy))

	case OpBranch:
		raw, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		cond, err := vm.pop()
		if err != nil {
			return false, err
		}
		truthy, err := vm.ToBool(cond)
		if err != nil {
			return false, err
		}
		if truthy {
			vm.pc = uint32(int64(vm.pc) + int64(int16(raw)))
		}
		return false, nil

	case OpJump:
		raw, err := vm.fetchU16()
		if err != nil {
			return false, err
		}
		vm.pc = uint32(int64(vm.pc) + int64(int16(raw)))
		return false, nil

	case OpReturn:
		flags, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		return vm.execReturn(flags)

	case OpReturnError:
		idx, err := vm.fetchU8()
		if err != nil {
			return false, err
		}
		code := errors.CodeUnexpected
		if int(idx) < len(errCodeTable) {
			code = errCodeTable[idx]
		}
		return false, errors.New(errors.PhaseInterp, code).Detail("RETURN_ERROR raised by bytecode").Build()

	default:
		return false, errors.Unexpected(errors.PhaseInterp, "undefined opcode")
	}
}

// callValue dispatches a call on a callable value: a FUNCTION jumps into
// bytecode, a HOST_FUNC crosses the trampoline, and a CLOSURE substitutes
// its scope and target and retries. argCount includes the receiver slot.
func (vm *VM) callValue(callable value.Value, argCount uint8, popCallable bool) error {
	if argCount == 0 {
		// argCount always includes the receiver slot.
		return errors.Unexpected(errors.PhaseInterp, "call with no receiver slot")
	}
	for {
		if !value.IsShortPtr(callable) && !value.IsBytecodeMappedPtr(callable) {
			return errors.TargetNotCallable(errors.PhaseInterp)
		}
		lp, err := vm.DecodeLong(callable)
		if err != nil {
			return err
		}
		if lp.IsNull() {
			return errors.TargetNotCallable(errors.PhaseInterp)
		}
		tc, _, err := vm.readHeader(lp)
		if err != nil {
			return err
		}
		switch tc {
		case value.TCFunction:
			offset, err := vm.readWord(lp, 0)
			if err != nil {
				return err
			}
			return vm.enterFunction(uint32(offset), argCount)

		case value.TCHostFunc:
			idx, err := vm.readWord(lp, 0)
			if err != nil {
				return err
			}
			return vm.callHost(int(idx), argCount, popCallable)

		case value.TCClosure:
			target, err := vm.readWord(lp, 0)
			if err != nil {
				return err
			}
			scope, err := vm.readWord(lp, 2)
			if err != nil {
				return err
			}
			vm.stack[vm.sp-int(argCount)] = scope
			if popCallable {
				vm.stack[vm.sp-int(argCount)-1] = target
			}
			callable = target

		default:
			return errors.TargetNotCallable(errors.PhaseInterp)
		}
	}
}

// execCallShort dispatches CALL_1 through the short-call table.
func (vm *VM) execCallShort(idx uint8) error {
	if vm.shortCalls == nil {
		entries, err := vm.img.ShortCallTable()
		if err != nil {
			return err
		}
		vm.shortCalls = entries
	}
	if int(idx) >= len(vm.shortCalls) {
		return errors.Unexpected(errors.PhaseInterp, "short-call index out of range")
	}
	entry := vm.shortCalls[idx]
	if entry.IsHostCall() {
		return vm.callHost(int(entry.Index()), entry.ArgCount, false)
	}
	return vm.enterFunction(uint32(entry.Index()), entry.ArgCount)
}

// enterFunction pushes the caller-state triple and jumps to a VM function's
// first instruction. The first byte at codeOffset is the function's max-
// stack-depth; the headroom check happens before any frame state is written,
// so an overflow leaves the caller's frame untouched.
func (vm *VM) enterFunction(codeOffset uint32, argCount uint8) error {
	if int(codeOffset) >= len(vm.img.Raw) {
		return errors.Unexpected(errors.PhaseInterp, "function offset outside image")
	}
	maxStack := int(vm.img.Raw[codeOffset])
	if vm.sp+3+maxStack > len(vm.stack) {
		return errors.StackOverflow(errors.PhaseInterp)
	}

	retIdx := len(vm.retPCs)
	vm.retPCs = append(vm.retPCs, vm.pc)
	vm.stack[vm.sp] = value.EncodeInt14(int16(vm.fp))
	vm.stack[vm.sp+1] = value.EncodeInt14(int16(vm.argCount))
	vm.stack[vm.sp+2] = value.EncodeInt14(int16(retIdx))
	vm.sp += 3
	vm.fp = vm.sp
	vm.argCount = argCount
	vm.pc = codeOffset + 1

	if ce := vm.log.Check(zap.DebugLevel, "enter function"); ce != nil {
		ce.Write(zap.Uint32("pc", vm.pc), zap.Uint8("argCount", argCount), zap.Int("fp", vm.fp))
	}
	return nil
}

// execReturn implements the RETURN_x family. It reports
// done=true when the restored PC is the entry sentinel, which ends run().
func (vm *VM) execReturn(flags uint8) (bool, error) {
	result := value.Undefined
	if flags&ReturnFlagPopResult != 0 {
		var err error
		result, err = vm.pop()
		if err != nil {
			return false, err
		}
	}

	calleeArgc := int(vm.argCount)

	// Discard callee locals, then unwind the saved-state triple in reverse
	// push order: return PC index, argCount, frame pointer.
	for i := vm.fp; i < vm.sp; i++ {
		vm.stack[i] = value.Undefined
	}
	vm.sp = vm.fp
	retIdxV, err := vm.pop()
	if err != nil {
		return false, err
	}
	argcV, err := vm.pop()
	if err != nil {
		return false, err
	}
	fpV, err := vm.pop()
	if err != nil {
		return false, err
	}
	retIdx := int(value.DecodeInt14(retIdxV))
	if retIdx < 0 || retIdx >= len(vm.retPCs) {
		return false, errors.Unexpected(errors.PhaseInterp, "corrupt return-address index")
	}
	vm.pc = vm.retPCs[retIdx]
	vm.retPCs = vm.retPCs[:retIdx]
	vm.argCount = uint8(value.DecodeInt14(argcV))
	vm.fp = int(value.DecodeInt14(fpV))

	if err := vm.popN(calleeArgc); err != nil {
		return false, err
	}
	if flags&ReturnFlagPopCallable != 0 {
		if err := vm.popN(1); err != nil {
			return false, err
		}
	}
	if err := vm.push(result); err != nil {
		return false, err
	}
	return vm.pc == pcSentinel, nil
}

// callHost crosses the host-call trampoline: the caller's PC is
// parked at the entry sentinel for the duration so a nested Call from inside
// the host function is recognized as a fresh entry, arguments are sanitized,
// and the host's result replaces the argument block on the stack.
func (vm *VM) callHost(importIndex int, argCount uint8, popCallable bool) error {
	if importIndex < 0 || importIndex >= len(vm.imports) {
		return errors.Unexpected(errors.PhaseHost, "import index out of range")
	}
	fn := vm.imports[importIndex]
	if fn == nil {
		return errors.New(errors.PhaseHost, errors.CodeUnresolvedImport).
			Detail("import slot %d has no host function", importIndex).Build()
	}
	if argCount == 0 || int(argCount) > vm.sp {
		// argCount always includes the receiver slot, so zero is malformed.
		return errors.Unexpected(errors.PhaseHost, "CALL_HOST with too few stack values")
	}

	// The receiver slot is not part of the host ABI; hand over the user
	// arguments only, each sanitized first.
	argBase := vm.sp - int(argCount)
	args := make([]value.Value, 0, int(argCount)-1)
	for i := argBase + 1; i < vm.sp; i++ {
		a, err := vm.sanitizeHostArg(vm.stack[i])
		if err != nil {
			return err
		}
		args = append(args, a)
	}

	savedPC := vm.pc
	vm.pc = pcSentinel
	result, hostErr := fn(vm, args)
	vm.pc = savedPC

	if hostErr != nil {
		if e, ok := hostErr.(*errors.Error); ok {
			return e
		}
		return errors.New(errors.PhaseHost, errors.CodeHostError).Cause(hostErr).Build()
	}
	if result == 0 {
		// The Value zero bit pattern is a ShortPtr to heap offset 0, which
		// is never a payload address; treat it as "no result".
		result = value.Undefined
	}
	if vm.opts.SafetyChecks {
		if err := vm.validateHostResult(result); err != nil {
			return err
		}
	}

	if err := vm.popN(int(argCount)); err != nil {
		return err
	}
	if popCallable {
		if err := vm.popN(1); err != nil {
			return err
		}
	}
	return vm.push(result)
}

// validateHostResult checks, under SafetyChecks, that a pointer-shaped
// value handed back by a host function references a live allocation, so a
// stale or fabricated pointer surfaces as HOST_RETURNED_INVALID_VALUE at
// the boundary instead of corrupting the interpreter later.
func (vm *VM) validateHostResult(result value.Value) error {
	if !value.IsShortPtr(result) && !value.IsBytecodeMappedPtr(result) {
		return nil
	}
	lp, err := vm.DecodeLong(result)
	if err == nil && !lp.IsNull() {
		_, _, err = vm.readHeader(lp)
	}
	if err != nil {
		return errors.New(errors.PhaseHost, errors.CodeHostReturnedInvalidValue).Cause(err).Build()
	}
	return nil
}

// sanitizeHostArg replaces any argument whose runtime type is function,
// object, or array with undefined before it crosses to the host.
func (vm *VM) sanitizeHostArg(v value.Value) (value.Value, error) {
	kind, err := vm.TypeOf(v)
	if err != nil {
		return 0, err
	}
	switch kind {
	case KindFunction, KindObject, KindArray:
		return value.Undefined, nil
	default:
		return v, nil
	}
}
