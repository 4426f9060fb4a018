package vm

import "github.com/candy-lang/candy-sub004/internal/heap"

// Status is a fiber's scheduling state (spec §4.8/§4.9).
type Status int

const (
	CanRun Status = iota
	WaitingForOperations
	Done
	Panicked
	Canceled
)

func (s Status) String() string {
	switch s {
	case CanRun:
		return "CanRun"
	case WaitingForOperations:
		return "WaitingForOperations"
	case Done:
		return "Done"
	case Panicked:
		return "Panicked"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Fiber is one cooperative thread of execution: a value stack, a call
// stack of frames, an instruction pointer, and its own heap (spec §4.8:
// "a fiber holds a value stack, a call stack of frames, and an instruction
// pointer"; spec §5: "the heap is owned by the VM and exclusively mutated
// by it" — here scoped per fiber since fibers never alias each other's
// heaps, only exchange cloned Packets over channels).
type Fiber struct {
	ID     int
	Heap   *heap.Heap
	Stack  []heap.Value
	Calls  []Frame
	IP     int
	Status Status

	// DoneValue, PanicReason, and PanicResponsible hold the terminal
	// payload once Status is Done or Panicked respectively.
	DoneValue       heap.Value
	PanicReason     heap.Value
	PanicResponsible heap.Value

	// Parent is the fiber (if any) that spawned this one via parallel/try;
	// Group is the id of the FiberGroup it belongs to, or -1 for the root.
	Parent    int
	HasParent bool
	Group     int

	// waitingOn names the channel this fiber is blocked sending to or
	// receiving from while Status == WaitingForOperations. Nothing reads
	// it; the channel itself tracks the pending operation.
	waitingOn int

	// pausedHandleCall is set while this fiber is parked inside a handle
	// call, waiting for the embedder to supply a result via VM.Resume.
	pausedHandleCall int
	hasPausedHandle  bool

	// constCache/constCached memoize per-fiber materializations of pooled
	// LIR constants (see VM.materializeConstant).
	constCache  []heap.Value
	constCached []bool
}

func newFiber(id int, h *heap.Heap, entryOffset int, parent int, hasParent bool) *Fiber {
	return &Fiber{ID: id, Heap: h, IP: entryOffset, Parent: parent, HasParent: hasParent, Group: -1}
}

// push appends a value to the top of the fiber's stack.
func (f *Fiber) push(v heap.Value) { f.Stack = append(f.Stack, v) }

// pop removes and returns the top value.
func (f *Fiber) pop() heap.Value {
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v
}

// top returns the current top value without removing it.
func (f *Fiber) top() heap.Value { return f.Stack[len(f.Stack)-1] }

// at returns the value at a zero-based-from-the-top offset (spec §4.6:
// "stack offset is zero-based from the top").
func (f *Fiber) at(offsetFromTop int) heap.Value {
	return f.Stack[len(f.Stack)-1-offsetFromTop]
}

// currentFrame returns the call stack's top frame, or a synthetic frame
// with StackBase 0 when the fiber is still in its entry body (no calls
// made yet), so PushFromStack/Call/TailCall addressing code never needs a
// special case for "no frame pushed yet".
func (f *Fiber) currentFrame() Frame {
	if len(f.Calls) == 0 {
		return Frame{StackBase: 0}
	}
	return f.Calls[len(f.Calls)-1]
}
