package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/candy-lang/candy-sub004/internal/lir"
)

// Compile lowers an optimized, refcounted lir.Module into a flat Chunk the
// fiber VM executes (spec §4.6 second half, §3 Bytecode).
//
// A constant referenced from exactly one PushConstant site is expanded
// inline via its matching CreateX instruction (CreateInt/CreateText/
// CreateTag/CreateHirId carry the literal value directly in the
// instruction stream); a constant referenced from more than one site is
// interned once into Chunk.Constants and every site becomes a
// PushConstant(index) (spec §4.6: "Constants referenced more than once are
// emitted once into a pool; each PushConstant indexes the pool").
//
// Grounded on the teacher's two-pass compiler shape (internal/compiler
// used to walk a stmt tree emitting into a Chunk with a side constant
// table); here the two passes are per-body code generation followed by a
// body-offset relocation fixup, since a CreateFunction's body_offset
// operand isn't known until every body ahead of it in module.Bodies has
// been emitted.
func Compile(module *lir.Module) *Chunk {
	c := NewChunk()
	// Chunk.Constants mirrors module.Constants index-for-index: a pooled
	// composite constant's own fields (e.g. a ConstStruct entry's
	// ConstantId) are indices into this same array, so renumbering on the
	// way in would require rewriting every nested reference too. Singly
	// used constants are still expanded inline at their one use site
	// (see pushConstantRef) — they just also sit, unused, in the pool.
	c.Constants = module.Constants
	cc := &compiler{module: module, chunk: c}
	cc.countConstantUses()

	segments := make([][]byte, len(module.Bodies))
	debugSegments := make([][]DebugInfo, len(module.Bodies))
	patchLists := make([][]bodyPatch, len(module.Bodies))
	for i, body := range module.Bodies {
		seg, debug, patches := cc.compileBody(body)
		segments[i] = seg
		debugSegments[i] = debug
		patchLists[i] = patches
	}

	offsets := make([]int, len(module.Bodies))
	var code []byte
	var debug []DebugInfo
	for i, seg := range segments {
		offsets[i] = len(code)
		code = append(code, seg...)
		debug = append(debug, debugSegments[i]...)
	}
	for i, patches := range patchLists {
		for _, p := range patches {
			binary.LittleEndian.PutUint32(code[offsets[i]+p.operandPos:], uint32(offsets[p.target]))
		}
	}

	paramCounts := make([]int, len(module.Bodies))
	for i, body := range module.Bodies {
		paramCounts[i] = body.ParameterCount
	}

	c.Code = code
	c.Debug = debug
	c.BodyOffsets = offsets
	c.ParamCounts = paramCounts
	for _, exp := range module.Exports {
		c.Symbols[exp.Name] = offsets[module.TopLevel]
		_ = exp.Id // the exported value's slot lives within TopLevel's frame, not a separate entry offset
	}
	return c
}

// bodyPatch records a 4-byte body_offset operand, at a known position
// within its own body's code segment, that needs the target body's final
// absolute offset once every segment has been concatenated.
type bodyPatch struct {
	operandPos int
	target     lir.BodyId
}

type compiler struct {
	module *lir.Module
	chunk  *Chunk

	// uses counts how many PushConstant sites reference each ConstantId
	// across the whole module, deciding inline-CreateX vs pool+PushConstant.
	uses map[lir.ConstantId]int
}

func (cc *compiler) countConstantUses() {
	cc.uses = make(map[lir.ConstantId]int)
	var walk func(b *lir.Body)
	walk = func(b *lir.Body) {
		for _, e := range b.Entries {
			if pc, ok := e.Expression.(lir.PushConstant); ok {
				cc.uses[pc.Constant]++
			}
		}
	}
	for _, b := range cc.module.Bodies {
		walk(b)
	}
}

// bodyCompiler compiles one lir.Body into a standalone code segment,
// tracking the live stack depth so every PushFromStack offset is computed
// relative to the top of the stack at its own point in the stream (spec
// §4.6: "Stack offset is zero-based from the top").
type bodyCompiler struct {
	cc              *compiler
	code            []byte
	debug           []DebugInfo
	depth           int
	patches         []bodyPatch
	endedInTailCall bool
}

func (cc *compiler) compileBody(body *lir.Body) ([]byte, []DebugInfo, []bodyPatch) {
	bc := &bodyCompiler{cc: cc, depth: body.PrefixCount()}
	for _, e := range body.Entries {
		bc.endedInTailCall = false
		bc.compileEntry(body, e)
	}
	// The optimizer's cleanup may sort the return value's binding away from
	// the end of the body (constants move to the front); if it isn't the
	// top slot already, copy it up before returning.
	if !bc.endedInTailCall && int(body.Return) != bc.depth-1 {
		bc.pushFromStack(body.Return)
	}
	bc.emitReturn(body)
	return bc.code, bc.debug, bc.patches
}

func (bc *bodyCompiler) writeOp(op OpCode) int {
	pos := len(bc.code)
	bc.code = append(bc.code, byte(op))
	bc.debug = append(bc.debug, DebugInfo{})
	return pos
}

// padDebug keeps bc.debug byte-aligned with bc.code (chunk.go's convention:
// one DebugInfo slot per instruction byte) for every multi-byte operand
// write that doesn't go through writeOp.
func (bc *bodyCompiler) padDebug(n int) {
	for i := 0; i < n; i++ {
		bc.debug = append(bc.debug, DebugInfo{})
	}
}

func (bc *bodyCompiler) writeUint32(v uint32) int {
	pos := len(bc.code)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	bc.code = append(bc.code, buf[:]...)
	bc.padDebug(4)
	return pos
}

func (bc *bodyCompiler) writeInt64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	bc.code = append(bc.code, buf[:]...)
	bc.padDebug(8)
}

func (bc *bodyCompiler) writeString(s string) {
	bc.writeUint32(uint32(len(s)))
	bc.code = append(bc.code, s...)
	bc.padDebug(len(s))
}

func (bc *bodyCompiler) writeBool(v bool) {
	if v {
		bc.code = append(bc.code, 1)
	} else {
		bc.code = append(bc.code, 0)
	}
	bc.padDebug(1)
}

// offsetOf returns the from-the-top stack offset of an already-produced
// slot, given the depth right now (before anything new is pushed for the
// current instruction).
func (bc *bodyCompiler) offsetOf(slot lir.Id) uint32 {
	return uint32(bc.depth - 1 - int(slot))
}

func (bc *bodyCompiler) pushFromStack(slot lir.Id) {
	bc.writeOp(OpPushFromStack)
	bc.writeUint32(bc.offsetOf(slot))
	bc.depth++
}

// pushConstantRef emits either an inline CreateX or a pool PushConstant
// for id, depending on how many sites in the module reference it.
func (bc *bodyCompiler) pushConstantRef(id lir.ConstantId) {
	if bc.cc.uses[id] <= 1 {
		bc.emitInlineConstant(bc.cc.module.Constants[id])
		return
	}
	bc.writeOp(OpPushConstant)
	bc.writeUint32(uint32(id))
	bc.depth++
}

func (bc *bodyCompiler) emitInlineConstant(constant lir.Constant) {
	switch v := constant.(type) {
	case lir.ConstInt:
		bc.writeOp(OpCreateInt)
		bc.writeInt64(v.Value)
	case lir.ConstText:
		bc.writeOp(OpCreateText)
		bc.writeString(v.Value)
	case lir.ConstTag:
		if v.HasValue {
			bc.pushConstantRef(v.Value)
			bc.depth-- // consumed by the CreateTag emitted below
		}
		bc.writeOp(OpCreateTag)
		bc.writeString(v.Symbol)
		bc.writeBool(v.HasValue)
	case lir.ConstBuiltin:
		bc.writeOp(OpCreateTag)
		bc.writeString("Builtin:" + v.Kind)
		bc.writeBool(false)
	case lir.ConstHirId:
		bc.writeOp(OpCreateHirId)
		bc.writeString(v.Module.Key())
		bc.writeInt64(int64(v.Hir))
	case lir.ConstList:
		for _, item := range v.Items {
			bc.pushConstantRef(item)
		}
		bc.writeOp(OpCreateList)
		bc.writeUint32(uint32(len(v.Items)))
		bc.depth -= len(v.Items)
	case lir.ConstStruct:
		for _, e := range v.Entries {
			bc.pushConstantRef(e.Key)
			bc.pushConstantRef(e.Value)
		}
		bc.writeOp(OpCreateStruct)
		bc.writeUint32(uint32(len(v.Entries)))
		bc.depth -= 2 * len(v.Entries)
	case lir.ConstFunction:
		bc.writeOp(OpCreateFunction)
		bc.writeUint32(0) // captured_count: a pooled/inlined constant function has no free captures
		pos := bc.writeUint32(0)
		bc.writeUint32(uint32(bc.cc.module.Bodies[v.Body].ParameterCount))
		bc.patches = append(bc.patches, bodyPatch{operandPos: pos, target: v.Body})
	default:
		panic(fmt.Sprintf("bytecode: unknown constant kind %T", constant))
	}
	bc.depth++
}

func (bc *bodyCompiler) compileEntry(body *lir.Body, e lir.Entry) {
	switch expr := e.Expression.(type) {
	case lir.PushConstant:
		bc.pushConstantRef(expr.Constant)
	case lir.Reference:
		bc.pushFromStack(expr.Target)
	case lir.CreateStruct:
		for _, f := range expr.Entries {
			bc.pushFromStack(f.Key)
			bc.pushFromStack(f.Value)
		}
		bc.writeOp(OpCreateStruct)
		bc.writeUint32(uint32(len(expr.Entries)))
		bc.depth -= 2 * len(expr.Entries)
		bc.depth++
	case lir.CreateList:
		for _, item := range expr.Items {
			bc.pushFromStack(item)
		}
		bc.writeOp(OpCreateList)
		bc.writeUint32(uint32(len(expr.Items)))
		bc.depth -= len(expr.Items)
		bc.depth++
	case lir.CreateFunction:
		for _, cap := range expr.Captured {
			bc.pushFromStack(cap)
		}
		bc.writeOp(OpCreateFunction)
		bc.writeUint32(uint32(len(expr.Captured)))
		pos := bc.writeUint32(0)
		bc.writeUint32(uint32(bc.cc.module.Bodies[expr.Body].ParameterCount))
		bc.patches = append(bc.patches, bodyPatch{operandPos: pos, target: expr.Body})
		bc.depth -= len(expr.Captured)
		bc.depth++
	case lir.Call:
		bc.emitCallOperands(expr)
		if e.Id == body.Return && !followedByRefcountOf(body, e.Id) {
			bc.writeOp(OpTailCall)
			bc.writeUint32(uint32(bc.depth - len(expr.Arguments) - 1))
			bc.writeUint32(uint32(len(expr.Arguments)))
			bc.depth -= len(expr.Arguments) + 1 // TailCall never returns to this frame
			bc.endedInTailCall = true
			return
		}
		bc.writeOp(OpCall)
		bc.writeUint32(uint32(len(expr.Arguments)))
		bc.depth -= len(expr.Arguments) + 1
		bc.depth++
	case lir.Panic:
		// OpPanic unwinds the fiber immediately; nothing later in this
		// body's straight-line instruction stream (there are no jumps,
		// spec §9 Design Note (b)) can ever execute, so leaving depth
		// off by the two popped operands afterward is harmless dead-code
		// bookkeeping rather than a real miscompile.
		bc.pushFromStack(expr.Reason)
		bc.pushFromStack(expr.Responsible)
		bc.writeOp(OpPanic)
		bc.depth -= 2
	case lir.Dup:
		bc.writeOp(OpDup)
		bc.writeUint32(bc.offsetOf(expr.Target))
		bc.writeUint32(uint32(expr.Amount))
	case lir.Drop:
		bc.writeOp(OpDrop)
		bc.writeUint32(bc.offsetOf(expr.Target))
	case lir.TraceCallStarts:
		bc.pushFromStack(expr.Callee)
		for _, a := range expr.Arguments {
			bc.pushFromStack(a)
		}
		bc.pushFromStack(expr.Responsible)
		bc.writeOp(OpTraceCallStarts)
		bc.writeUint32(uint32(len(expr.Arguments)))
		bc.depth -= len(expr.Arguments) + 2
	case lir.TraceCallEnds:
		bc.pushFromStack(expr.Return)
		bc.writeOp(OpTraceCallEnds)
		bc.depth--
	case lir.TraceExpressionEvaluated:
		bc.pushFromStack(expr.Hir)
		bc.pushFromStack(expr.Value)
		bc.writeOp(OpTraceExpressionEvaluated)
		bc.depth -= 2
	case lir.TraceFoundFuzzableFunction:
		bc.pushFromStack(expr.Hir)
		bc.pushFromStack(expr.Function)
		bc.writeOp(OpTraceFoundFuzzableFunction)
		bc.depth -= 2
	default:
		panic(fmt.Sprintf("bytecode: unsupported lir expression %T", expr))
	}
}

func (bc *bodyCompiler) emitCallOperands(expr lir.Call) {
	bc.pushFromStack(expr.Function)
	for _, a := range expr.Arguments {
		bc.pushFromStack(a)
	}
}

// followedByRefcountOf reports whether any entry after the one bound to id
// is a Dup/Drop targeting id — if so, the value still has bookkeeping to do
// and a true tail call (which abandons the frame outright) would be wrong.
func followedByRefcountOf(body *lir.Body, id lir.Id) bool {
	afterOwnEntry := false
	for _, e := range body.Entries {
		if !afterOwnEntry {
			if e.Id == id {
				afterOwnEntry = true
			}
			continue
		}
		switch r := e.Expression.(type) {
		case lir.Dup:
			if r.Target == id {
				return true
			}
		case lir.Drop:
			if r.Target == id {
				return true
			}
		}
	}
	return false
}

// emitReturn pops every frame slot below the final value and returns it.
// By construction (spec §3: "the last expression's ID is the body's
// return value") that value is already sitting on top of the stack once
// every entry has compiled, unless the body ended in a TailCall (which
// never returns to this frame at all).
func (bc *bodyCompiler) emitReturn(body *lir.Body) {
	if bc.endedInTailCall {
		return
	}
	if n := bc.depth - 1; n > 0 {
		bc.writeOp(OpPopMultipleBelowTop)
		bc.writeUint32(uint32(n))
	}
	bc.writeOp(OpReturn)
}
