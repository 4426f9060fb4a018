package vm

import (
	"testing"

	"github.com/candy-lang/candy-sub004/internal/bytecode"
	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/candy-lang/candy-sub004/internal/lir"
)

// builtinChunk assembles a one-body chunk that pushes a pooled
// ConstBuiltin naming kind, then each of args as a CreateInt, calls with
// len(args), and returns.
func builtinChunk(kind string, args ...int64) *bytecode.Chunk {
	c := bytecode.NewChunk()
	idx := c.AddConstant(lir.ConstBuiltin{Kind: kind})
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(idx))
	for _, a := range args {
		c.WriteOp(bytecode.OpCreateInt)
		c.WriteInt64(a)
	}
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(uint32(len(args)))
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}
	return c
}

func runToSettled(t *testing.T, vm *VM, fiber *Fiber) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if fiber.Status != CanRun {
			return
		}
		vm.Run(NewRunLimitedInstructions(1))
	}
	t.Fatalf("fiber %d did not settle within the instruction budget", fiber.ID)
}

func TestIntArithmeticBuiltins(t *testing.T) {
	tests := []struct {
		kind     string
		a, b     int64
		expected int64
	}{
		{"int.add", 2, 3, 5},
		{"int.subtract", 10, 4, 6},
		{"int.multiply", 6, 7, 42},
		{"int.divide", 20, 4, 5},
		{"int.remainder", 17, 5, 2},
		{"int.bitwiseAnd", 0b1100, 0b1010, 0b1000},
		{"int.bitwiseOr", 0b1100, 0b1010, 0b1110},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			chunk := builtinChunk(tt.kind, tt.a, tt.b)
			vm := New(chunk, 0, nil)
			fiber := vm.Fibers[0]
			runToSettled(t, vm, fiber)
			if fiber.Status != Done {
				t.Fatalf("expected Done, got %v (reason=%v)", fiber.Status, fiber.PanicReason)
			}
			if got := fiber.DoneValue.Int64(); got != tt.expected {
				t.Errorf("%s(%d, %d) = %d, want %d", tt.kind, tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestIntDivideByZeroPanics(t *testing.T) {
	chunk := builtinChunk("int.divide", 10, 0)
	vm := New(chunk, 0, nil)
	fiber := vm.Fibers[0]
	runToSettled(t, vm, fiber)
	if fiber.Status != Panicked {
		t.Fatalf("expected Panicked, got %v", fiber.Status)
	}
}

func TestTextConcatenate(t *testing.T) {
	c := bytecode.NewChunk()
	idx := c.AddConstant(lir.ConstBuiltin{Kind: "text.concatenate"})
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(idx))
	c.WriteOp(bytecode.OpCreateText)
	c.WriteString("foo")
	c.WriteOp(bytecode.OpCreateText)
	c.WriteString("bar")
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(2)
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}

	vm := New(c, 0, nil)
	fiber := vm.Fibers[0]
	runToSettled(t, vm, fiber)
	if fiber.Status != Done {
		t.Fatalf("expected Done, got %v", fiber.Status)
	}
	if got := fiber.DoneValue.Text(); got != "foobar" {
		t.Errorf("got %q, want %q", got, "foobar")
	}
}

func TestListGet(t *testing.T) {
	c := bytecode.NewChunk()
	idx := c.AddConstant(lir.ConstBuiltin{Kind: "list.get"})
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(idx))
	// [10, 20, 30]
	for _, v := range []int64{10, 20, 30} {
		c.WriteOp(bytecode.OpCreateInt)
		c.WriteInt64(v)
	}
	c.WriteOp(bytecode.OpCreateList)
	c.WriteUint32(3)
	// index 1
	c.WriteOp(bytecode.OpCreateInt)
	c.WriteInt64(1)
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(2)
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}

	vm := New(c, 0, nil)
	fiber := vm.Fibers[0]
	runToSettled(t, vm, fiber)
	if fiber.Status != Done {
		t.Fatalf("expected Done, got %v", fiber.Status)
	}
	if got := fiber.DoneValue.Int64(); got != 20 {
		t.Errorf("list.get(1) = %d, want 20", got)
	}
}

func TestStructGet(t *testing.T) {
	c := bytecode.NewChunk()
	idx := c.AddConstant(lir.ConstBuiltin{Kind: "structGet"})
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(idx))
	// {1: 100}
	c.WriteOp(bytecode.OpCreateInt)
	c.WriteInt64(1)
	c.WriteOp(bytecode.OpCreateInt)
	c.WriteInt64(100)
	c.WriteOp(bytecode.OpCreateStruct)
	c.WriteUint32(1)
	// lookup key 1
	c.WriteOp(bytecode.OpCreateInt)
	c.WriteInt64(1)
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(2)
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}

	vm := New(c, 0, nil)
	fiber := vm.Fibers[0]
	runToSettled(t, vm, fiber)
	if fiber.Status != Done {
		t.Fatalf("expected Done, got %v", fiber.Status)
	}
	if got := fiber.DoneValue.Int64(); got != 100 {
		t.Errorf("structGet(1) = %d, want 100", got)
	}
}

func TestNeedsCheckPanicsOnFalseCondition(t *testing.T) {
	c := bytecode.NewChunk()
	builtinIdx := c.AddConstant(lir.ConstBuiltin{Kind: "needs"})
	falseTagIdx := c.AddConstant(lir.ConstTag{Symbol: "False"})
	reasonIdx := c.AddConstant(lir.ConstText{Value: "precondition failed"})
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(builtinIdx))
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(falseTagIdx))
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(reasonIdx))
	c.WriteOp(bytecode.OpPushConstant)
	c.WriteUint32(uint32(reasonIdx))
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(3)
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}

	vm := New(c, 0, nil)
	fiber := vm.Fibers[0]
	runToSettled(t, vm, fiber)
	if fiber.Status != Panicked {
		t.Fatalf("expected Panicked, got %v", fiber.Status)
	}
	if got := fiber.PanicReason.Text(); got != "precondition failed" {
		t.Errorf("panic reason = %q, want %q", got, "precondition failed")
	}
}

func TestChannelDrainRendezvous(t *testing.T) {
	ch := newChannel(0, 0) // capacity 0: rendezvous only
	packet := heap.Packet{Heap: heap.New(), Root: heap.NewInt(7)}
	ch.enqueueSend(1, packet)
	if completions := ch.drain(); len(completions) != 0 {
		t.Fatalf("send alone should not complete on a rendezvous channel, got %v", completions)
	}
	ch.enqueueReceive(2)
	completions := ch.drain()
	if len(completions) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(completions))
	}
	c := completions[0]
	if !c.hasSender || c.senderFiberID != 1 || !c.hasReceiver || c.receiverFiberID != 2 {
		t.Errorf("unexpected completion: %+v", c)
	}
	if c.packet.Root.Int64() != 7 {
		t.Errorf("packet root = %d, want 7", c.packet.Root.Int64())
	}
}

func TestChannelDrainBuffered(t *testing.T) {
	ch := newChannel(0, 1)
	ch.enqueueSend(1, heap.Packet{Heap: heap.New(), Root: heap.NewInt(9)})
	completions := ch.drain()
	if len(completions) != 1 || !completions[0].hasSender || completions[0].hasReceiver {
		t.Fatalf("expected the send to buffer immediately, got %+v", completions)
	}
	if len(ch.buffer) != 1 {
		t.Fatalf("expected one buffered packet, got %d", len(ch.buffer))
	}

	ch.enqueueReceive(2)
	completions = ch.drain()
	if len(completions) != 1 || completions[0].hasSender || !completions[0].hasReceiver {
		t.Fatalf("expected the receive to drain the buffer, got %+v", completions)
	}
}

func TestFiberGroupParallelCollectsResults(t *testing.T) {
	chunk := builtinChunk("int.add", 0, 0) // entry fiber's own program is irrelevant here
	vm := New(chunk, 0, nil)
	parent := vm.Fibers[0]

	group := &FiberGroup{ID: 0, Kind: GroupParallel, Parent: parent.ID}
	vm.Groups[0] = group
	for _, v := range []int64{1, 2} {
		child := vm.spawnFiber(0, parent.ID, true, 0)
		child.Status = Done
		child.DoneValue = heap.NewInt(v)
		group.Children = append(group.Children, child.ID)
	}
	parent.Calls = append(parent.Calls, Frame{ReturnIP: 0, StackBase: 0})
	parent.Status = WaitingForOperations

	vm.checkGroupSettlement(group)

	if parent.Status != CanRun {
		t.Fatalf("expected parent to resume, got %v", parent.Status)
	}
	items := parent.top().ListItems()
	if len(items) != 2 || items[0].Int64() != 1 || items[1].Int64() != 2 {
		t.Errorf("unexpected parallel result: %v", items)
	}
}

func TestFiberGroupTryCancelsLosers(t *testing.T) {
	chunk := builtinChunk("int.add", 0, 0)
	vm := New(chunk, 0, nil)
	parent := vm.Fibers[0]

	group := &FiberGroup{ID: 0, Kind: GroupTry, Parent: parent.ID}
	vm.Groups[0] = group

	winner := vm.spawnFiber(0, parent.ID, true, 0)
	winner.Status = Done
	winner.DoneValue = heap.NewInt(42)
	group.Children = append(group.Children, winner.ID)

	loser := vm.spawnFiber(0, parent.ID, true, 0)
	loser.Status = CanRun
	group.Children = append(group.Children, loser.ID)

	parent.Calls = append(parent.Calls, Frame{ReturnIP: 0, StackBase: 0})
	parent.Status = WaitingForOperations

	vm.checkGroupSettlement(group)

	if loser.Status != Canceled {
		t.Errorf("expected loser to be canceled, got %v", loser.Status)
	}
	if parent.Status != CanRun {
		t.Fatalf("expected parent to resume, got %v", parent.Status)
	}
	tag := parent.top()
	if !tag.IsTag() || !tag.TagHasValue() {
		t.Fatalf("expected a value-carrying Ok tag, got %+v", tag)
	}
	if parent.Heap.Symbols.Get(tag.TagSymbol()) != "Ok" {
		t.Errorf("expected Ok, got %q", parent.Heap.Symbols.Get(tag.TagSymbol()))
	}
	if tag.TagValue().Int64() != 42 {
		t.Errorf("expected wrapped value 42, got %d", tag.TagValue().Int64())
	}
}

func TestRunLimitedInstructionsStopsExactlyAtLimit(t *testing.T) {
	c := NewRunLimitedInstructions(3)
	for i := 0; i < 3; i++ {
		if !c.ShouldContinue() {
			t.Fatalf("controller stopped early at instruction %d", i)
		}
		c.InstructionExecuted()
	}
	if c.ShouldContinue() {
		t.Error("controller should stop once its budget is exhausted")
	}
}

func TestCombinedControllerStopsOnEitherLimit(t *testing.T) {
	c := &CombinedController{A: NewRunLimitedInstructions(5), B: NewRunLimitedInstructions(2)}
	count := 0
	for c.ShouldContinue() {
		c.InstructionExecuted()
		count++
	}
	if count != 2 {
		t.Errorf("expected the tighter limit to win, got %d instructions", count)
	}
}

func TestHandleCallPausesFiberAndResumeCompletesIt(t *testing.T) {
	c := bytecode.NewChunk()
	c.WriteOp(bytecode.OpCall)
	c.WriteUint32(1)
	c.WriteOp(bytecode.OpReturn)
	c.BodyOffsets = []int{0}
	c.ParamCounts = []int{0}

	vm := New(c, 0, nil)
	fiber := vm.Fibers[0]
	fiber.push(heap.NewHandle(7, 1))
	fiber.push(fiber.Heap.Alloc(heap.NewInt(5)))

	vm.Run(NewRunLimitedInstructions(1))
	if fiber.Status != WaitingForOperations {
		t.Fatalf("expected the fiber to pause on the handle call, got %v", fiber.Status)
	}

	calls := vm.PendingHandleCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one pending handle call, got %d", len(calls))
	}
	if calls[0].HandleID != 7 {
		t.Errorf("handle id = %d, want 7", calls[0].HandleID)
	}
	if len(calls[0].Arguments) != 1 || calls[0].Arguments[0].Int64() != 5 {
		t.Errorf("unexpected handle arguments: %v", calls[0].Arguments)
	}

	vm.Resume(calls[0].ID, heap.NewInt(9))
	runToSettled(t, vm, fiber)
	if fiber.Status != Done {
		t.Fatalf("expected Done after resume, got %v", fiber.Status)
	}
	if got := fiber.DoneValue.Int64(); got != 9 {
		t.Errorf("resumed result = %d, want 9", got)
	}
}
