package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-lang/candy-sub004/internal/lir"
)

// decoded is one instruction plus its decoded operand words, produced by
// scan so tests can assert on the emitted stream without hand-computing
// byte offsets.
type decoded struct {
	Offset int
	Op     OpCode
	Args   []int64
	Text   string
}

// scan walks a chunk's code from start to end, decoding operands the same
// way the VM's dispatch loop does.
func scan(t *testing.T, c *Chunk) []decoded {
	t.Helper()
	var out []decoded
	ip := 0
	for ip < len(c.Code) {
		d := decoded{Offset: ip, Op: OpCode(c.Code[ip])}
		ip++
		switch d.Op {
		case OpCreateInt:
			d.Args = append(d.Args, ReadInt64(c.Code, ip))
			ip += 8
		case OpCreateText:
			s, next := ReadString(c.Code, ip)
			d.Text, ip = s, next
		case OpCreateTag:
			s, next := ReadString(c.Code, ip)
			d.Text, ip = s, next
			d.Args = append(d.Args, int64(c.Code[ip]))
			ip++
		case OpCreateHirId:
			s, next := ReadString(c.Code, ip)
			d.Text, ip = s, next
			d.Args = append(d.Args, ReadInt64(c.Code, ip))
			ip += 8
		case OpCreateList, OpCreateStruct, OpPushConstant, OpPushFromStack,
			OpPopMultipleBelowTop, OpCall, OpDrop, OpTraceCallStarts:
			d.Args = append(d.Args, int64(ReadUint32(c.Code, ip)))
			ip += 4
		case OpTailCall, OpDup:
			d.Args = append(d.Args, int64(ReadUint32(c.Code, ip)), int64(ReadUint32(c.Code, ip+4)))
			ip += 8
		case OpCreateFunction:
			for i := 0; i < 3; i++ {
				d.Args = append(d.Args, int64(ReadUint32(c.Code, ip)))
				ip += 4
			}
		case OpReturn, OpPanic, OpTraceCallEnds, OpTraceExpressionEvaluated, OpTraceFoundFuzzableFunction:
		default:
			t.Fatalf("unknown opcode %d at offset %d", d.Op, d.Offset)
		}
		out = append(out, d)
	}
	return out
}

func countOps(instructions []decoded, op OpCode) int {
	n := 0
	for _, d := range instructions {
		if d.Op == op {
			n++
		}
	}
	return n
}

func TestMultiplyReferencedConstantsGoThroughThePool(t *testing.T) {
	module := &lir.Module{
		Constants: []lir.Constant{
			lir.ConstText{Value: "shared"},
			lir.ConstText{Value: "once"},
		},
		Bodies: []*lir.Body{{
			Entries: []lir.Entry{
				{Id: 0, Expression: lir.PushConstant{Constant: 0}},
				{Id: 1, Expression: lir.PushConstant{Constant: 0}},
				{Id: 2, Expression: lir.PushConstant{Constant: 1}},
			},
			Return: 2,
		}},
		TopLevel: 0,
	}
	chunk := Compile(module)
	instructions := scan(t, chunk)

	assert.Equal(t, 2, countOps(instructions, OpPushConstant),
		"a constant referenced twice must be pooled, one PushConstant per site")
	assert.Equal(t, 1, countOps(instructions, OpCreateText),
		"a singly-referenced constant expands inline")
	for _, d := range instructions {
		if d.Op == OpCreateText {
			assert.Equal(t, "once", d.Text)
		}
	}
}

func TestCreateFunctionOffsetsArePatchedToBodyEntries(t *testing.T) {
	module := &lir.Module{
		Constants: []lir.Constant{lir.ConstInt{Value: 7}},
		Bodies: []*lir.Body{
			{
				Entries: []lir.Entry{
					{Id: 0, Expression: lir.CreateFunction{Body: 1}},
				},
				Return: 0,
			},
			{
				CapturedCount:    0,
				ParameterCount:   1,
				HasResponsible:   true,
				ResponsibleIndex: 1,
				Entries: []lir.Entry{
					{Id: 2, Expression: lir.PushConstant{Constant: 0}},
				},
				Return: 2,
			},
		},
		TopLevel: 0,
	}
	chunk := Compile(module)
	require.Len(t, chunk.BodyOffsets, 2)
	assert.Equal(t, 0, chunk.BodyOffsets[0])

	var fn *decoded
	for _, d := range scan(t, chunk) {
		if d.Op == OpCreateFunction {
			d := d
			fn = &d
		}
	}
	require.NotNil(t, fn)
	assert.Equal(t, int64(0), fn.Args[0], "captured count")
	assert.Equal(t, int64(chunk.BodyOffsets[1]), fn.Args[1], "body offset must be patched to the second body's entry")
	assert.Equal(t, int64(1), fn.Args[2], "arg count comes from the body's parameter count")
	assert.Equal(t, 1, chunk.ParamCounts[1])
}

func TestReturnValueIsCopiedUpWhenNotOnTop(t *testing.T) {
	// Return names the first of two produced slots, so the compiler must
	// re-push it before returning.
	module := &lir.Module{
		Constants: []lir.Constant{
			lir.ConstText{Value: "wanted"},
			lir.ConstText{Value: "ignored"},
		},
		Bodies: []*lir.Body{{
			Entries: []lir.Entry{
				{Id: 0, Expression: lir.PushConstant{Constant: 0}},
				{Id: 1, Expression: lir.PushConstant{Constant: 1}},
			},
			Return: 0,
		}},
		TopLevel: 0,
	}
	instructions := scan(t, Compile(module))

	require.Equal(t, OpReturn, instructions[len(instructions)-1].Op)
	pops := instructions[len(instructions)-2]
	require.Equal(t, OpPopMultipleBelowTop, pops.Op)
	push := instructions[len(instructions)-3]
	require.Equal(t, OpPushFromStack, push.Op)
	assert.Equal(t, int64(1), push.Args[0], "slot 0 sits one below the top of a two-slot stack")
}
