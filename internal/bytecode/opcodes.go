// Package bytecode implements Candy's LIR → bytecode compiler and the flat
// instruction format the fiber VM executes (spec §3 Bytecode, §4.6).
//
// Grounded on the teacher's internal/bytecode/{chunk,opcodes}.go shape — a
// byte slice plus an OpCode enum plus a side constant pool — with the
// opcode set itself replaced wholesale by spec §4.6's closed instruction
// list; Candy has no branch/jump opcode at all (ifElse/match desugar to
// ordinary calls against closures, spec §9 Design Note (b)), so the
// teacher's OpJump/OpJumpIfFalse/OpLoop family has no counterpart here.
package bytecode

// OpCode is one instruction in the flat instruction stream spec §4.6 names.
type OpCode byte

const (
	OpCreateInt OpCode = iota
	OpCreateText
	OpCreateTag
	OpCreateList
	OpCreateStruct
	OpCreateHirId
	OpCreateFunction

	OpPushConstant
	OpPushFromStack
	OpPopMultipleBelowTop

	OpCall
	OpTailCall
	OpReturn

	OpDup
	OpDrop

	OpPanic

	OpTraceCallStarts
	OpTraceCallEnds
	OpTraceExpressionEvaluated
	OpTraceFoundFuzzableFunction
)

func (op OpCode) String() string {
	switch op {
	case OpCreateInt:
		return "CreateInt"
	case OpCreateText:
		return "CreateText"
	case OpCreateTag:
		return "CreateTag"
	case OpCreateList:
		return "CreateList"
	case OpCreateStruct:
		return "CreateStruct"
	case OpCreateHirId:
		return "CreateHirId"
	case OpCreateFunction:
		return "CreateFunction"
	case OpPushConstant:
		return "PushConstant"
	case OpPushFromStack:
		return "PushFromStack"
	case OpPopMultipleBelowTop:
		return "PopMultipleBelowTop"
	case OpCall:
		return "Call"
	case OpTailCall:
		return "TailCall"
	case OpReturn:
		return "Return"
	case OpDup:
		return "Dup"
	case OpDrop:
		return "Drop"
	case OpPanic:
		return "Panic"
	case OpTraceCallStarts:
		return "TraceCallStarts"
	case OpTraceCallEnds:
		return "TraceCallEnds"
	case OpTraceExpressionEvaluated:
		return "TraceExpressionEvaluated"
	case OpTraceFoundFuzzableFunction:
		return "TraceFoundFuzzableFunction"
	default:
		return "Unknown"
	}
}
