package vm

import "github.com/candy-lang/candy-sub004/internal/heap"

// HandleCall is exposed to the embedder when a fiber calls a handle (spec
// §4.9: "the VM pauses the fiber and exposes a HandleCall{handle_id,
// arguments, heap} to the embedder, which eventually resumes the fiber
// with a return value"). ID identifies this specific paused call for the
// matching VM.Resume.
type HandleCall struct {
	ID        int
	FiberID   int
	HandleID  int
	Arguments []heap.Value
	Heap      *heap.Heap
}

// dispatchHandleCall pauses fiber and registers a HandleCall for the
// embedder to pick up via PendingHandleCalls/Resume. Unlike a builtin or a
// function call, nothing in the VM itself can complete this call — control
// only comes back through an explicit Resume.
func (vm *VM) dispatchHandleCall(fiber *Fiber, function heap.Value, args []heap.Value, stackBase, returnIP int) {
	fiber.Stack = fiber.Stack[:stackBase]
	fiber.Calls = append(fiber.Calls, Frame{ReturnIP: returnIP, StackBase: stackBase})

	id := vm.nextHandleID
	vm.nextHandleID++
	vm.HandleCalls[id] = &HandleCall{
		ID:        id,
		FiberID:   fiber.ID,
		HandleID:  function.HandleId(),
		Arguments: args,
		Heap:      fiber.Heap,
	}
	fiber.pausedHandleCall = id
	fiber.hasPausedHandle = true
	fiber.Status = WaitingForOperations
}

// PendingHandleCalls lists every handle call currently awaiting a Resume,
// for an embedder polling between Run calls (spec §4.9's "exposes a
// HandleCall ... to the embedder").
func (vm *VM) PendingHandleCalls() []*HandleCall {
	calls := make([]*HandleCall, 0, len(vm.HandleCalls))
	for _, c := range vm.HandleCalls {
		calls = append(calls, c)
	}
	return calls
}

// Resume supplies result as the paused handle call's return value and
// marks the owning fiber runnable again.
func (vm *VM) Resume(handleCallID int, result heap.Value) {
	call, ok := vm.HandleCalls[handleCallID]
	if !ok {
		return
	}
	delete(vm.HandleCalls, handleCallID)
	fiber := vm.Fibers[call.FiberID]
	fiber.hasPausedHandle = false
	vm.resumeWithValue(fiber, result)
}

// ResumeWithPanic supplies a panic instead of a value as the paused handle
// call's outcome, panicking the owning fiber at the call site.
func (vm *VM) ResumeWithPanic(handleCallID int, reason, responsible heap.Value) {
	call, ok := vm.HandleCalls[handleCallID]
	if !ok {
		return
	}
	delete(vm.HandleCalls, handleCallID)
	fiber := vm.Fibers[call.FiberID]
	fiber.hasPausedHandle = false
	vm.panicFiber(fiber, reason, responsible)
}
