package vm

import "github.com/candy-lang/candy-sub004/internal/heap"

// spawnGroup creates a FiberGroup of one child fiber per function in fns,
// each entering at its own body with zero arguments, parented to caller.
// Captured values are cloned into each child's own heap (spec §5: no
// cross-heap aliasing), and each child gets a fresh HirId in its body's
// responsible_parameter slot — a group child has no caller to supply one.
func (vm *VM) spawnGroup(kind GroupKind, caller *Fiber, fns []heap.Value) *FiberGroup {
	group := &FiberGroup{ID: vm.nextGroupID, Kind: kind, Parent: caller.ID}
	vm.nextGroupID++
	vm.Groups[group.ID] = group
	for _, fn := range fns {
		child := vm.spawnFiber(fn.FunctionBody(), caller.ID, true, group.ID)
		mapping := make(map[*heap.Box]heap.Value)
		for _, c := range fn.FunctionCaptured() {
			child.Stack = append(child.Stack, child.Heap.Clone(c, mapping))
		}
		child.Stack = append(child.Stack, child.Heap.Alloc(heap.NewHirId("", 0)))
		group.Children = append(group.Children, child.ID)
	}
	return group
}

// checkGroupSettlement resolves the waiting parent fiber once a
// parallel/try group has finished (spec §4.9: parallel needs every child
// Done; try needs only the first, and cancels the rest).
func (vm *VM) checkGroupSettlement(group *FiberGroup) {
	if group.Kind == GroupTry && !group.HasWinner {
		for _, id := range group.Children {
			child := vm.Fibers[id]
			if child.Status == Done || child.Status == Panicked {
				group.Winner = id
				group.HasWinner = true
				break
			}
		}
		if group.HasWinner {
			for _, id := range group.Children {
				if id != group.Winner {
					vm.cancelFiber(vm.Fibers[id])
				}
			}
		}
	}

	if !group.settled(vm) {
		return
	}

	parent := vm.Fibers[group.Parent]
	result, panicked, reason, responsible := vm.groupResult(group, parent)
	delete(vm.Groups, group.ID)

	if panicked {
		vm.resumeWithPanic(parent, reason, responsible)
		return
	}
	vm.resumeWithValue(parent, result)
}

// groupResult computes parallel's "list of every child's result" or try's
// "Ok/Error-wrapped winner", cloning each child's value from its own heap
// into the parent's (spec §5: packets/results never alias across heaps).
func (vm *VM) groupResult(group *FiberGroup, parent *Fiber) (result heap.Value, panicked bool, reason, responsible heap.Value) {
	switch group.Kind {
	case GroupTry:
		winner := vm.Fibers[group.Winner]
		mapping := make(map[*heap.Box]heap.Value)
		if winner.Status == Done {
			ok := parent.Heap.Symbols.FindOrAdd("Ok")
			cloned := parent.Heap.Clone(winner.DoneValue, mapping)
			return heap.NewTag(ok, cloned, true), false, heap.Value{}, heap.Value{}
		}
		errSym := parent.Heap.Symbols.FindOrAdd("Error")
		cloned := parent.Heap.Clone(winner.PanicReason, mapping)
		return heap.NewTag(errSym, cloned, true), false, heap.Value{}, heap.Value{}
	default: // GroupParallel
		items := make([]heap.Value, 0, len(group.Children))
		for _, id := range group.Children {
			child := vm.Fibers[id]
			if child.Status == Panicked {
				return heap.Value{}, true, child.PanicReason, child.PanicResponsible
			}
			mapping := make(map[*heap.Box]heap.Value)
			items = append(items, parent.Heap.Clone(child.DoneValue, mapping))
		}
		return heap.NewList(items), false, heap.Value{}, heap.Value{}
	}
}

// resumeWithValue wakes a fiber parked by a blocking builtin call, placing
// result exactly where the call's function+arguments used to sit.
func (vm *VM) resumeWithValue(fiber *Fiber, result heap.Value) {
	frame := fiber.Calls[len(fiber.Calls)-1]
	fiber.Calls = fiber.Calls[:len(fiber.Calls)-1]
	fiber.Stack = fiber.Stack[:frame.StackBase]
	fiber.Stack = append(fiber.Stack, fiber.Heap.Alloc(result))
	fiber.IP = frame.ReturnIP
	fiber.Status = CanRun
}

func (vm *VM) resumeWithPanic(fiber *Fiber, reason, responsible heap.Value) {
	vm.panicFiber(fiber, reason, responsible)
}
