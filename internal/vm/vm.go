// Package vm implements Candy's fiber-based bytecode interpreter (spec
// §4.8, §4.9): a cooperative scheduler over a tree of fibers, each with its
// own value stack, call stack, and heap, dispatching the flat instruction
// stream internal/bytecode produces.
//
// Grounded on the teacher's internal/vm.EnhancedVM / internal/vmregister.
// RegisterVM for the call-frame shape (instruction pointer + locals base
// per activation) and the overall "big struct owns everything" VM
// organization; the teacher's module loader, JIT, and domain-module fields
// (database/network/ML/SIEM) have no counterpart here and are not carried
// forward — Candy's VM only ever talks to bytecode, heap values, channels,
// and the tracer sink.
package vm

import (
	"fmt"
	"strings"

	"github.com/candy-lang/candy-sub004/internal/builtins"
	"github.com/candy-lang/candy-sub004/internal/bytecode"
	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/candy-lang/candy-sub004/internal/lir"
	"github.com/candy-lang/candy-sub004/internal/tracelog"
	"github.com/candy-lang/candy-sub004/internal/tracer"
)

// VM owns the chunk being executed and every fiber, channel, and group
// spawned while running it.
type VM struct {
	Chunk   *bytecode.Chunk
	Tracer  tracer.Sink
	Fibers  map[int]*Fiber
	Channels map[int]*Channel
	Groups   map[int]*FiberGroup

	HandleCalls map[int]*HandleCall

	// symbols is shared by every fiber and packet heap this VM creates, so
	// cloning a Tag across heaps keeps its SymbolId meaningful (see
	// heap.NewWithSymbols).
	symbols *heap.SymbolTable

	nextFiberID   int
	nextChannelID int
	nextGroupID   int
	nextHandleID  int

	// runQueue is a simple round-robin rotation of fiber ids, giving the
	// scheduler the fairness spec §4.9 requires ("must not starve any
	// CanRun fiber that could make progress") without needing priorities.
	runQueue []int

	// lapMarker is nextRunnable's "have we gone all the way around without
	// finding anything runnable" detector, scoped to this VM instance so
	// two VMs running (sequentially or concurrently) in the same process
	// never share scheduler state.
	lapMarker int
}

// New creates a VM with a single root fiber entering at entryOffset (the
// chunk's top-level body, typically chunk.BodyOffsets[module.TopLevel]).
func New(chunk *bytecode.Chunk, entryOffset int, sink tracer.Sink) *VM {
	if sink == nil {
		sink = tracer.NoopSink{}
	}
	vm := &VM{
		Chunk:       chunk,
		Tracer:      sink,
		Fibers:      make(map[int]*Fiber),
		Channels:    make(map[int]*Channel),
		Groups:      make(map[int]*FiberGroup),
		HandleCalls: make(map[int]*HandleCall),
		symbols:     heap.NewSymbolTable(),
		lapMarker:   -1,
	}
	vm.spawnFiber(entryOffset, 0, false, -1)
	return vm
}

func (vm *VM) spawnFiber(entryOffset int, parent int, hasParent bool, group int) *Fiber {
	id := vm.nextFiberID
	vm.nextFiberID++
	f := newFiber(id, heap.NewWithSymbols(vm.symbols), entryOffset, parent, hasParent)
	f.Group = group
	vm.Fibers[id] = f
	vm.runQueue = append(vm.runQueue, id)
	vm.Tracer.FiberCreated(id, parent, hasParent)
	vm.Tracer.FiberExecutionStarted(id)
	return f
}

// Run executes instructions, round-robin across CanRun fibers, until the
// controller says stop or no fiber can make progress (spec §4.9).
func (vm *VM) Run(controller ExecutionController) {
	for controller.ShouldContinue() {
		fiber := vm.nextRunnable()
		if fiber == nil {
			return
		}
		vm.step(fiber)
		controller.InstructionExecuted()
	}
}

// SpawnCall starts a fresh root-level fiber invoking function with args,
// for embedders calling an exported function after the module body has run
// (the CLI's `candy run` invoking the main export). The function, its
// captures, and every argument are cloned into the new fiber's own heap;
// responsibleModule names the module blamed if the callee's preconditions
// fail (the callee's responsible_parameter slot receives a HirId minted
// from it).
func (vm *VM) SpawnCall(function heap.Value, args []heap.Value, responsibleModule string) *Fiber {
	f := vm.spawnFiber(function.FunctionBody(), 0, false, -1)
	mapping := make(map[*heap.Box]heap.Value)
	for _, c := range function.FunctionCaptured() {
		f.Stack = append(f.Stack, f.Heap.Clone(c, mapping))
	}
	for _, a := range args {
		f.Stack = append(f.Stack, f.Heap.Clone(a, mapping))
	}
	f.Stack = append(f.Stack, f.Heap.Alloc(heap.NewHirId(responsibleModule, 0)))
	return f
}

func (vm *VM) nextRunnable() *Fiber {
	for len(vm.runQueue) > 0 {
		id := vm.runQueue[0]
		vm.runQueue = append(vm.runQueue[1:], id)
		f, ok := vm.Fibers[id]
		if !ok {
			vm.runQueue = vm.runQueue[:len(vm.runQueue)-1]
			continue
		}
		if f.Status == CanRun {
			vm.lapMarker = -1
			return f
		}
		// Rotate past non-runnable fibers at most once per call by
		// tracking how many we've seen; a full lap with nothing runnable
		// means the VM is genuinely stuck (all waiting/done).
		if vm.lapComplete(id) {
			return nil
		}
	}
	return nil
}

// lapComplete detects a full rotation without any runnable fiber found, so
// nextRunnable doesn't spin forever over an all-waiting queue.
func (vm *VM) lapComplete(firstSeenID int) bool {
	if vm.lapMarker == -1 {
		vm.lapMarker = firstSeenID
		return false
	}
	done := vm.lapMarker == firstSeenID
	if done {
		vm.lapMarker = -1
	}
	return done
}

// step dispatches exactly one instruction for fiber.
func (vm *VM) step(fiber *Fiber) {
	code := vm.Chunk.Code
	op := bytecode.OpCode(code[fiber.IP])
	ip := fiber.IP + 1

	switch op {
	case bytecode.OpCreateInt:
		v := bytecode.ReadInt64(code, ip)
		ip += 8
		fiber.push(fiber.Heap.Alloc(heap.NewInt(v)))

	case bytecode.OpCreateText:
		s, next := bytecode.ReadString(code, ip)
		ip = next
		fiber.push(fiber.Heap.Alloc(heap.NewText(s)))

	case bytecode.OpCreateTag:
		symbol, next := bytecode.ReadString(code, ip)
		ip = next
		hasValue := code[ip] != 0
		ip++
		id := fiber.Heap.Symbols.FindOrAdd(symbol)
		var value heap.Value
		if hasValue {
			value = fiber.pop()
		}
		fiber.push(fiber.Heap.Alloc(heap.NewTag(id, value, hasValue)))

	case bytecode.OpCreateList:
		n := int(bytecode.ReadUint32(code, ip))
		ip += 4
		items := append([]heap.Value{}, fiber.Stack[len(fiber.Stack)-n:]...)
		fiber.Stack = fiber.Stack[:len(fiber.Stack)-n]
		fiber.push(fiber.Heap.Alloc(heap.NewList(items)))

	case bytecode.OpCreateStruct:
		n := int(bytecode.ReadUint32(code, ip))
		ip += 4
		raw := fiber.Stack[len(fiber.Stack)-2*n:]
		entries := make([]heap.StructEntry, n)
		for i := 0; i < n; i++ {
			entries[i] = heap.StructEntry{Key: raw[2*i], Value: raw[2*i+1]}
		}
		fiber.Stack = fiber.Stack[:len(fiber.Stack)-2*n]
		fiber.push(fiber.Heap.Alloc(heap.NewStruct(entries)))

	case bytecode.OpCreateHirId:
		module, next := bytecode.ReadString(code, ip)
		ip = next
		hir := bytecode.ReadInt64(code, ip)
		ip += 8
		fiber.push(fiber.Heap.Alloc(heap.NewHirId(module, int(hir))))

	case bytecode.OpCreateFunction:
		capturedCount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		bodyOffset := int(bytecode.ReadUint32(code, ip))
		ip += 4
		argCount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		captured := append([]heap.Value{}, fiber.Stack[len(fiber.Stack)-capturedCount:]...)
		fiber.Stack = fiber.Stack[:len(fiber.Stack)-capturedCount]
		fiber.push(fiber.Heap.Alloc(heap.NewFunction(captured, argCount, bodyOffset)))

	case bytecode.OpPushConstant:
		idx := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.push(vm.materializeConstant(fiber, idx))

	case bytecode.OpPushFromStack:
		offset := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.push(fiber.at(offset))

	case bytecode.OpPopMultipleBelowTop:
		n := int(bytecode.ReadUint32(code, ip))
		ip += 4
		top := fiber.top()
		fiber.Stack = fiber.Stack[:len(fiber.Stack)-1-n]
		fiber.push(top)

	case bytecode.OpCall:
		argCount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.IP = ip
		vm.dispatchCall(fiber, argCount, ip)
		return

	case bytecode.OpTailCall:
		numLocalsToPop := int(bytecode.ReadUint32(code, ip))
		ip += 4
		argCount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.IP = ip
		vm.dispatchTailCall(fiber, numLocalsToPop, argCount)
		return

	case bytecode.OpReturn:
		vm.dispatchReturn(fiber)
		return

	case bytecode.OpDup:
		offset := int(bytecode.ReadUint32(code, ip))
		ip += 4
		amount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.Heap.Dup(fiber.at(offset), amount)

	case bytecode.OpDrop:
		offset := int(bytecode.ReadUint32(code, ip))
		ip += 4
		fiber.Heap.Drop(fiber.at(offset))

	case bytecode.OpPanic:
		responsible := fiber.pop()
		reason := fiber.pop()
		vm.panicFiber(fiber, reason, responsible)
		return

	case bytecode.OpTraceCallStarts:
		argCount := int(bytecode.ReadUint32(code, ip))
		ip += 4
		responsible := fiber.pop()
		args := append([]heap.Value{}, fiber.Stack[len(fiber.Stack)-argCount:]...)
		fiber.Stack = fiber.Stack[:len(fiber.Stack)-argCount]
		callee := fiber.pop()
		vm.Tracer.CallStarts(fiber.ID, callee, args, responsible)

	case bytecode.OpTraceCallEnds:
		ret := fiber.pop()
		vm.Tracer.CallEnds(fiber.ID, ret)

	case bytecode.OpTraceExpressionEvaluated:
		value := fiber.pop()
		hir := fiber.pop()
		vm.Tracer.ExpressionEvaluated(fiber.ID, hir, value)

	case bytecode.OpTraceFoundFuzzableFunction:
		function := fiber.pop()
		hir := fiber.pop()
		vm.Tracer.FoundFuzzableFunction(fiber.ID, hir, function)

	default:
		panic(fmt.Sprintf("vm: unknown opcode %d", op))
	}

	fiber.IP = ip
}

// materializeConstant lazily builds fiber's own heap.Value for a pooled
// constant the first time this fiber touches it, caching the result so
// repeated PushConstant hits in the same fiber reuse the allocation (spec
// §4.6's "pool" is meant to avoid recompiling the literal on every use; we
// scope the cache per fiber rather than sharing boxes across fibers, since
// each fiber exclusively owns its own heap — spec §5: "the heap is owned by
// the VM and exclusively mutated by it" — and a shared *Box would need a
// single accounting owner that doesn't exist in this design).
func (vm *VM) materializeConstant(fiber *Fiber, idx int) heap.Value {
	if fiber.constCache == nil {
		fiber.constCache = make([]heap.Value, len(vm.Chunk.Constants))
		fiber.constCached = make([]bool, len(vm.Chunk.Constants))
	}
	if fiber.constCached[idx] {
		fiber.Heap.Dup(fiber.constCache[idx], 1)
		return fiber.constCache[idx]
	}
	v := vm.lowerConstant(fiber, vm.Chunk.Constants[idx])
	fiber.constCache[idx] = v
	fiber.constCached[idx] = true
	return v
}

func (vm *VM) lowerConstant(fiber *Fiber, c lir.Constant) heap.Value {
	switch v := c.(type) {
	case lir.ConstInt:
		return fiber.Heap.Alloc(heap.NewInt(v.Value))
	case lir.ConstText:
		return fiber.Heap.Alloc(heap.NewText(v.Value))
	case lir.ConstTag:
		id := fiber.Heap.Symbols.FindOrAdd(v.Symbol)
		var value heap.Value
		if v.HasValue {
			value = vm.materializeConstant(fiber, int(v.Value))
		}
		return fiber.Heap.Alloc(heap.NewTag(id, value, v.HasValue))
	case lir.ConstBuiltin:
		id := fiber.Heap.Symbols.FindOrAdd("Builtin:" + v.Kind)
		return fiber.Heap.Alloc(heap.NewTag(id, heap.Value{}, false))
	case lir.ConstHirId:
		return fiber.Heap.Alloc(heap.NewHirId(v.Module.Key(), v.Hir))
	case lir.ConstList:
		items := make([]heap.Value, len(v.Items))
		for i, id := range v.Items {
			items[i] = vm.materializeConstant(fiber, int(id))
		}
		return fiber.Heap.Alloc(heap.NewList(items))
	case lir.ConstStruct:
		entries := make([]heap.StructEntry, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = heap.StructEntry{
				Key:   vm.materializeConstant(fiber, int(e.Key)),
				Value: vm.materializeConstant(fiber, int(e.Value)),
			}
		}
		return fiber.Heap.Alloc(heap.NewStruct(entries))
	case lir.ConstFunction:
		// A pooled/inlined constant function has no free captures (it's
		// compiled from a literal in source, not a closure expression), so
		// it always materializes as an inline (0-capture) function value.
		body := vm.Chunk.BodyOffsets[int(v.Body)]
		return heap.NewFunction(nil, vm.Chunk.ParamCounts[int(v.Body)], body)
	default:
		panic(fmt.Sprintf("vm: unknown constant kind %T", c))
	}
}

// builtinKind reports the builtins.Kind a Call's function value names, if
// it's a valueless Tag of the shape OpCreateTag emits for lir.ConstBuiltin
// ("Builtin:" + kind, see bytecode/compile.go's emitInlineConstant).
func builtinKind(fiber *Fiber, function heap.Value) (builtins.Kind, bool) {
	if !function.IsTag() || function.TagHasValue() {
		return "", false
	}
	symbol := fiber.Heap.Symbols.Get(function.TagSymbol())
	kind, ok := strings.CutPrefix(symbol, "Builtin:")
	if !ok {
		return "", false
	}
	return builtins.Kind(kind), true
}

// dispatchCall implements spec §4.8's Call contract: pop num_args+1 values
// (function last), and either enter a real function body or evaluate a
// builtin in place.
func (vm *VM) dispatchCall(fiber *Fiber, argCount int, returnIP int) {
	funcIdx := len(fiber.Stack) - argCount - 1
	function := fiber.Stack[funcIdx]
	args := append([]heap.Value{}, fiber.Stack[funcIdx+1:]...)
	fiber.Stack = fiber.Stack[:funcIdx]

	if kind, ok := builtinKind(fiber, function); ok {
		vm.dispatchBuiltin(fiber, kind, args, funcIdx, returnIP)
		return
	}
	if function.IsHandle() {
		vm.dispatchHandleCall(fiber, function, args, funcIdx, returnIP)
		return
	}
	vm.enterFunction(fiber, function, args, returnIP, funcIdx)
}

// dispatchTailCall reuses the current frame instead of pushing a new one —
// num_locals_to_pop is relative to the current frame's own base, matching
// bodyCompiler.depth's per-body (not per-fiber) accounting.
func (vm *VM) dispatchTailCall(fiber *Fiber, numLocalsToPop, argCount int) {
	base := fiber.currentFrame()
	absoluteIdx := base.StackBase + numLocalsToPop
	function := fiber.Stack[absoluteIdx]
	args := append([]heap.Value{}, fiber.Stack[absoluteIdx+1:absoluteIdx+1+argCount]...)
	fiber.Stack = fiber.Stack[:absoluteIdx]

	if kind, ok := builtinKind(fiber, function); ok {
		// A builtin in tail position still needs somewhere to return to:
		// reuse the current frame's own ReturnIP.
		returnIP := base.ReturnIP
		if len(fiber.Calls) == 0 {
			returnIP = -1 // tail call out of the entry body: nothing to return to
		}
		vm.dispatchBuiltin(fiber, kind, args, absoluteIdx, returnIP)
		return
	}
	if function.IsHandle() {
		returnIP := base.ReturnIP
		if len(fiber.Calls) == 0 {
			returnIP = -1
		}
		vm.dispatchHandleCall(fiber, function, args, absoluteIdx, returnIP)
		return
	}
	vm.enterFunctionReusingFrame(fiber, function, args, absoluteIdx)
}

// enterFunction pushes a new frame and jumps into function's body.
func (vm *VM) enterFunction(fiber *Fiber, function heap.Value, args []heap.Value, returnIP, stackBase int) {
	fiber.Calls = append(fiber.Calls, Frame{ReturnIP: returnIP, StackBase: stackBase})
	fiber.Stack = append(fiber.Stack, function.FunctionCaptured()...)
	fiber.Stack = append(fiber.Stack, args...)
	fiber.IP = function.FunctionBody()
}

// enterFunctionReusingFrame implements the "never returns to this frame"
// half of TailCall: no new Frame is pushed, so the call stack doesn't grow
// across tail-recursive loops.
func (vm *VM) enterFunctionReusingFrame(fiber *Fiber, function heap.Value, args []heap.Value, stackBase int) {
	if len(fiber.Calls) > 0 {
		fiber.Calls[len(fiber.Calls)-1].StackBase = stackBase
	}
	fiber.Stack = append(fiber.Stack, function.FunctionCaptured()...)
	fiber.Stack = append(fiber.Stack, args...)
	fiber.IP = function.FunctionBody()
}

// dispatchReturn implements spec §4.8's Return contract: pop the frame,
// leave the return value (already collapsed to the top by
// PopMultipleBelowTop) where the call's function+arguments used to sit,
// and resume the caller — or finish the fiber if this was its outermost
// frame.
func (vm *VM) dispatchReturn(fiber *Fiber) {
	if len(fiber.Calls) == 0 {
		vm.finishFiber(fiber, fiber.pop())
		return
	}
	frame := fiber.Calls[len(fiber.Calls)-1]
	fiber.Calls = fiber.Calls[:len(fiber.Calls)-1]
	if frame.ReturnIP == -1 {
		vm.finishFiber(fiber, fiber.pop())
		return
	}
	fiber.IP = frame.ReturnIP
}

func (vm *VM) finishFiber(fiber *Fiber, result heap.Value) {
	fiber.Status = Done
	fiber.DoneValue = result
	vm.Tracer.FiberExecutionEnded(fiber.ID)
	vm.Tracer.FiberDone(fiber.ID, result)
	vm.onFiberSettled(fiber)
}

func (vm *VM) panicFiber(fiber *Fiber, reason, responsible heap.Value) {
	fiber.Calls = nil
	fiber.Status = Panicked
	fiber.PanicReason = reason
	fiber.PanicResponsible = responsible
	vm.Tracer.FiberExecutionEnded(fiber.ID)
	vm.Tracer.FiberPanicked(fiber.ID, reason, responsible)
	vm.onFiberSettled(fiber)
}

func (vm *VM) cancelFiber(fiber *Fiber) {
	if fiber.Status == Done || fiber.Status == Panicked || fiber.Status == Canceled {
		return
	}
	for _, ch := range vm.Channels {
		ch.removePendingFiber(fiber.ID)
	}
	fiber.Status = Canceled
	vm.Tracer.FiberCanceled(fiber.ID)
	tracelog.Infof("fiber %d canceled", fiber.ID)
}

// onFiberSettled propagates a Done/Panicked/Canceled transition up to
// whatever parallel/try group this fiber belongs to, if any.
func (vm *VM) onFiberSettled(fiber *Fiber) {
	if fiber.Group == -1 {
		return
	}
	group, ok := vm.Groups[fiber.Group]
	if !ok {
		return
	}
	vm.checkGroupSettlement(group)
}
