package vm

// Op is the primary instruction opcode. A nibble-packed encoding (high
// nibble primary opcode, low nibble immediate or secondary opcode) only
// pays off on sub-8KB firmware images, so this format keeps the
// conceptual split (a compact primary dispatch plus a handful of ops that
// read a secondary sub-opcode byte, namely NUM_OP/BIT_OP) but gives the
// primary opcode a full byte. See DESIGN.md.
type Op byte

const (
	// OpLoadSmallLiteral pushes one of the fixed 8-entry table: null,
	// undefined, false, true, 0, 1, 2, -1. Operand: 1 byte index into
	// that table.
	OpLoadSmallLiteral Op = iota
	// OpLoadLiteral pushes a raw 16-bit Value immediate.
	OpLoadLiteral
	// OpLoadVar pushes stack[SP-n-1]. Operand: 1 byte n.
	OpLoadVar
	// OpLoadGlobal pushes globals[n]. Operand: 2 bytes n.
	OpLoadGlobal
	// OpLoadArg pushes the nth argument, or undefined if n >= argCount.
	// Operand: 1 byte n.
	OpLoadArg
	// OpStoreVar pops and writes stack[SP-n-1] (computed after the pop).
	// Operand: 1 byte n.
	OpStoreVar
	// OpStoreGlobal pops and writes globals[n]. Operand: 2 bytes n.
	OpStoreGlobal
	// OpPop drops n items. Operand: 1 byte n.
	OpPop
	// OpCallShort indexes the short-call table. Operand: 1 byte table index.
	OpCallShort
	// OpCall calls the callable on the stack below the arguments.
	// Operand: 1 byte argCount.
	OpCall
	// OpCallHost calls an import-table host function directly.
	// Operand: 1 byte argCount, 2 bytes import index.
	OpCallHost
	// OpFixedArrayNew allocates a FIXED_LENGTH_ARRAY of n undefined slots
	// and pushes it. Operand: 1 byte n.
	OpFixedArrayNew
	// OpArrayNew allocates an empty dynamic ARRAY and pushes it. No
	// operand.
	OpArrayNew
	// OpObjectNew allocates an empty PROPERTY_LIST and pushes it. No
	// operand.
	OpObjectNew
	// OpObjectGet pops key then obj, pushes get_property(obj, key). No
	// operand.
	OpObjectGet
	// OpObjectSet pops val, key, obj and performs set_property(obj, key,
	// val), pushing val back (assignment is an expression). No operand.
	OpObjectSet
	// OpNumOp performs a NUM_OP sub-operation on one or two popped
	// operands. Operand: 1 byte NumOp subcode.
	OpNumOp
	// OpBitOp performs a BIT_OP sub-operation on int32 operands. Operand:
	// 1 byte BitOp subcode.
	OpBitOp
	// OpAdd pops b, a; pushes string concat if either is a string, else
	// numeric add.
	OpAdd
	// OpEqual pops b, a; pushes structural equality.
	OpEqual
	// OpNotEqual is the negation of OpEqual.
	OpNotEqual
	// OpLogicalNot pops a, pushes !to_bool(a).
	OpLogicalNot
	// OpBranch pops a condition; if truthy, PC += signed offset. Operand:
	// 2 bytes signed offset.
	OpBranch
	// OpJump unconditionally adds a signed offset to PC. Operand: 2 bytes
	// signed offset.
	OpJump
	// OpReturn implements the four RETURN_x variants via
	// flag bits in its operand: bit0 set => pop and return a result (else
	// return undefined); bit1 set => also pop the callable reference.
	// Operand: 1 byte flags.
	OpReturn
	// OpReturnError immediately fails the current call with the given
	// error code. Operand: 1 byte errors.Code index (see errCodeTable).
	OpReturnError
)

// ReturnFlag bits for OpReturn's operand.
const (
	ReturnFlagPopResult   = 1 << 0
	ReturnFlagPopCallable = 1 << 1
)

// NumOp is the NUM_OP sub-opcode.
type NumOp byte

const (
	NumOpSub NumOp = iota
	NumOpMul
	NumOpDiv
	NumOpMod
	NumOpPow
	NumOpNeg
	NumOpLt
	NumOpLte
	NumOpGt
	NumOpGte
)

// BitOp is the BIT_OP sub-opcode.
type BitOp byte

const (
	BitOpAnd BitOp = iota
	BitOpOr
	BitOpXor
	BitOpShl
	BitOpShrArith
	BitOpShrLogical
	BitOpNot
)

// immWidth returns the number of immediate bytes following an opcode byte
// (not counting CALL_HOST's compound operand, handled specially in the
// dispatch loop).
func immWidth(op Op) int {
	switch op {
	case OpLoadSmallLiteral, OpLoadVar, OpLoadArg, OpStoreVar, OpPop,
		OpCallShort, OpCall, OpFixedArrayNew, OpNumOp, OpBitOp, OpReturn, OpReturnError:
		return 1
	case OpLoadLiteral, OpLoadGlobal, OpStoreGlobal, OpBranch, OpJump:
		return 2
	case OpCallHost:
		return 3 // 1 byte argCount + 2 byte import index
	default:
		return 0
	}
}

// OperandWidth exposes the operand byte count per opcode for external
// disassemblers (cmd/mvmdebug).
func OperandWidth(op Op) int { return immWidth(op) }

var opNames = map[Op]string{
	OpLoadSmallLiteral: "LOAD_SMALL_LITERAL",
	OpLoadLiteral:      "LOAD_LITERAL",
	OpLoadVar:          "LOAD_VAR",
	OpLoadGlobal:       "LOAD_GLOBAL",
	OpLoadArg:          "LOAD_ARG",
	OpStoreVar:         "STORE_VAR",
	OpStoreGlobal:      "STORE_GLOBAL",
	OpPop:              "POP",
	OpCallShort:        "CALL_SHORT",
	OpCall:             "CALL",
	OpCallHost:         "CALL_HOST",
	OpFixedArrayNew:    "FIXED_ARRAY_NEW",
	OpArrayNew:         "ARRAY_NEW",
	OpObjectNew:        "OBJECT_NEW",
	OpObjectGet:        "OBJECT_GET",
	OpObjectSet:        "OBJECT_SET",
	OpNumOp:            "NUM_OP",
	OpBitOp:            "BIT_OP",
	OpAdd:              "ADD",
	OpEqual:            "EQUAL",
	OpNotEqual:         "NOT_EQUAL",
	OpLogicalNot:       "LOGICAL_NOT",
	OpBranch:           "BRANCH",
	OpJump:             "JUMP",
	OpReturn:           "RETURN",
	OpReturnError:      "RETURN_ERROR",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "UNDEFINED"
}
