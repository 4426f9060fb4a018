package vm

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/candy-lang/candy-sub004/internal/builtins"
	"github.com/candy-lang/candy-sub004/internal/heap"
)

// dispatchBuiltin evaluates a call to one of the closed builtin
// enumeration's members directly against heap.Value (spec §9 Design Note
// (b)). This is a separate implementation from internal/builtins.Eval
// (which speaks its own fold-time Value currency and only covers pure
// builtins): the VM needs arbitrary-precision ints, real heap allocation,
// and — for impure builtins — channels, fibers, and control transfer that
// the fold-time evaluator has no access to, so duplicating the small pure
// cases here avoids a value-conversion layer at every call. See DESIGN.md.
func (vm *VM) dispatchBuiltin(fiber *Fiber, kind builtins.Kind, args []heap.Value, stackBase, returnIP int) {
	switch kind {
	case builtins.IfElse:
		vm.builtinIfElse(fiber, args, stackBase, returnIP)
		return
	case builtins.NeedsCheck:
		vm.builtinNeeds(fiber, args, stackBase, returnIP)
		return
	case builtins.ChannelCreate:
		vm.complete(fiber, stackBase, returnIP, vm.builtinChannelCreate(fiber, args))
		return
	case builtins.ChannelSend:
		vm.builtinChannelSend(fiber, args, stackBase, returnIP)
		return
	case builtins.ChannelReceive:
		vm.builtinChannelReceive(fiber, args, stackBase, returnIP)
		return
	case builtins.Parallel:
		vm.builtinSpawnGroup(fiber, GroupParallel, args, stackBase, returnIP)
		return
	case builtins.Try:
		vm.builtinSpawnGroup(fiber, GroupTry, args, stackBase, returnIP)
		return
	case builtins.Print:
		fmt.Fprintln(os.Stdout, RenderValue(fiber, args[0]))
		vm.complete(fiber, stackBase, returnIP, vm.nothing(fiber))
		return
	case builtins.PanicOp:
		// Unreachable via the current HIR/MIR lowering: nothing lowers to a
		// call of this builtin, and the optimizer's own Panic expressions
		// become lir.Panic (see internal/miropt/lir.go's mir.Panic case).
		// Kept for the closed enumeration's completeness and defensively
		// implemented: no threaded responsible parameter is available at
		// this call site, so reason doubles as its own responsible party.
		vm.panicFiber(fiber, args[0], args[0])
		return
	}

	result, err := vm.evalPureBuiltin(fiber, kind, args)
	if err != nil {
		reason := fiber.Heap.Alloc(heap.NewText(err.Error()))
		vm.panicFiber(fiber, reason, reason)
		return
	}
	vm.complete(fiber, stackBase, returnIP, result)
}

// complete finishes a non-blocking builtin call: the stack is already
// truncated to stackBase by the caller, so pushing result lands it exactly
// where the call's function+arguments used to sit.
func (vm *VM) complete(fiber *Fiber, stackBase, returnIP int, result heap.Value) {
	fiber.Stack = fiber.Stack[:stackBase]
	fiber.push(result)
	if returnIP == -1 {
		vm.finishFiber(fiber, fiber.pop())
		return
	}
	fiber.IP = returnIP
}

func (vm *VM) nothing(fiber *Fiber) heap.Value {
	id := fiber.Heap.Symbols.FindOrAdd("Nothing")
	return heap.NewTag(id, heap.Value{}, false)
}

// builtinIfElse jumps into the chosen branch's body exactly as a Call
// would, rather than computing a value synchronously — selecting a branch
// is pure, but invoking it runs arbitrary bytecode.
func (vm *VM) builtinIfElse(fiber *Fiber, args []heap.Value, stackBase, returnIP int) {
	condition, thenFn, elseFn := args[0], args[1], args[2]
	chosen := elseFn
	if isTrue(fiber, condition) {
		chosen = thenFn
	}
	fiber.Stack = fiber.Stack[:stackBase]
	if kind, ok := builtinKind(fiber, chosen); ok {
		vm.dispatchBuiltin(fiber, kind, nil, stackBase, returnIP)
		return
	}
	// Branch functions take no declared parameters but, like every function
	// body, expect a responsible value in their prefix; ifElse has no
	// threaded responsible of its own to forward, so it mints one.
	responsible := fiber.Heap.Alloc(heap.NewHirId("", 0))
	vm.enterFunction(fiber, chosen, []heap.Value{responsible}, returnIP, stackBase)
}

func isTrue(fiber *Fiber, v heap.Value) bool {
	return v.IsTag() && !v.TagHasValue() && fiber.Heap.Symbols.Get(v.TagSymbol()) == "True"
}

func (vm *VM) builtinNeeds(fiber *Fiber, args []heap.Value, stackBase, returnIP int) {
	condition, reason, responsible := args[0], args[1], args[2]
	if !isTrue(fiber, condition) {
		fiber.Stack = fiber.Stack[:stackBase]
		vm.panicFiber(fiber, reason, responsible)
		return
	}
	vm.complete(fiber, stackBase, returnIP, vm.nothing(fiber))
}

func (vm *VM) builtinChannelCreate(fiber *Fiber, args []heap.Value) heap.Value {
	capacity := int(args[0].Int64())
	id := vm.nextChannelID
	vm.nextChannelID++
	vm.Channels[id] = newChannel(id, capacity)
	return fiber.Heap.Alloc(heap.NewList([]heap.Value{heap.NewSendPort(id), heap.NewReceivePort(id)}))
}

func (vm *VM) builtinChannelSend(fiber *Fiber, args []heap.Value, stackBase, returnIP int) {
	port, value := args[0], args[1]
	ch := vm.Channels[port.PortChannel()]
	mapping := make(map[*heap.Box]heap.Value)
	packetHeap := heap.NewWithSymbols(vm.symbols)
	clonedRoot := packetHeap.Clone(value, mapping)
	ch.enqueueSend(fiber.ID, heap.Packet{Heap: packetHeap, Root: clonedRoot})

	fiber.Calls = append(fiber.Calls, Frame{ReturnIP: returnIP, StackBase: stackBase})
	fiber.Status = WaitingForOperations
	fiber.waitingOn = ch.ID
	vm.drainChannel(ch)
}

func (vm *VM) builtinChannelReceive(fiber *Fiber, args []heap.Value, stackBase, returnIP int) {
	port := args[0]
	ch := vm.Channels[port.PortChannel()]
	ch.enqueueReceive(fiber.ID)

	fiber.Calls = append(fiber.Calls, Frame{ReturnIP: returnIP, StackBase: stackBase})
	fiber.Status = WaitingForOperations
	fiber.waitingOn = ch.ID
	vm.drainChannel(ch)
}

// drainChannel resolves as many sends/receives as possible and wakes the
// fibers they belonged to, matching spec §4.9's "drains pending queues
// until no more operations can make progress in a single step".
func (vm *VM) drainChannel(ch *Channel) {
	for _, c := range ch.drain() {
		if c.hasSender {
			sender := vm.Fibers[c.senderFiberID]
			if sender.Status == WaitingForOperations {
				vm.resumeWithValue(sender, vm.nothing(sender))
			}
		}
		if c.hasReceiver {
			receiver := vm.Fibers[c.receiverFiberID]
			if receiver.Status == WaitingForOperations {
				mapping := make(map[*heap.Box]heap.Value)
				value := receiver.Heap.Clone(c.packet.Root, mapping)
				vm.resumeWithValue(receiver, value)
			}
		}
	}
}

func (vm *VM) builtinSpawnGroup(fiber *Fiber, kind GroupKind, args []heap.Value, stackBase, returnIP int) {
	fns := args[0].ListItems()
	fiber.Calls = append(fiber.Calls, Frame{ReturnIP: returnIP, StackBase: stackBase})
	fiber.Status = WaitingForOperations
	group := vm.spawnGroup(kind, fiber, fns)
	if group.settled(vm) {
		vm.checkGroupSettlement(group)
	}
}

// evalPureBuiltin covers every builtin with no VM-level side effect:
// arithmetic, text, struct, list, equals/typeOf/or. Grounded on
// internal/builtins.Eval's case-by-case logic, re-expressed against
// heap.Value's arbitrary-precision ints and live heap allocation instead
// of Eval's fold-time int64/string currency.
func (vm *VM) evalPureBuiltin(fiber *Fiber, kind builtins.Kind, args []heap.Value) (heap.Value, error) {
	switch kind {
	case builtins.IntAdd:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) })
	case builtins.IntSubtract:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) })
	case builtins.IntMultiply:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) })
	case builtins.IntDivide:
		return intBinopChecked(fiber, args, "division by zero", func(a, b *big.Int) *big.Int { return new(big.Int).Quo(a, b) })
	case builtins.IntRemainder:
		return intBinopChecked(fiber, args, "division by zero", func(a, b *big.Int) *big.Int { return new(big.Int).Rem(a, b) })
	case builtins.IntModulo:
		return intBinopChecked(fiber, args, "division by zero", func(a, b *big.Int) *big.Int { return new(big.Int).Mod(a, b) })
	case builtins.IntShiftLeft:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Lsh(a, uint(b.Uint64())) })
	case builtins.IntShiftRight:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Rsh(a, uint(b.Uint64())) })
	case builtins.IntBitwiseAnd:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).And(a, b) })
	case builtins.IntBitwiseOr:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Or(a, b) })
	case builtins.IntBitwiseXor:
		return intBinop(fiber, args, func(a, b *big.Int) *big.Int { return new(big.Int).Xor(a, b) })
	case builtins.IntCompareTo:
		cmp := args[0].BigInt().Cmp(args[1].BigInt())
		name := "Equal"
		switch {
		case cmp < 0:
			name = "Less"
		case cmp > 0:
			name = "Greater"
		}
		id := fiber.Heap.Symbols.FindOrAdd(name)
		return heap.NewTag(id, heap.Value{}, false), nil

	case builtins.TextConcatenate:
		return fiber.Heap.Alloc(heap.NewText(args[0].Text() + args[1].Text())), nil
	case builtins.TextLength:
		return fiber.Heap.Alloc(heap.NewInt(int64(len([]rune(args[0].Text()))))), nil
	case builtins.TextGetRange:
		runes := []rune(args[0].Text())
		start, end := args[1].Int64(), args[2].Int64()
		if start < 0 || end > int64(len(runes)) || start > end {
			return heap.Value{}, fmt.Errorf("text.getRange out of bounds")
		}
		return fiber.Heap.Alloc(heap.NewText(string(runes[start:end]))), nil
	case builtins.TextCharacters:
		var items []heap.Value
		for _, r := range args[0].Text() {
			items = append(items, fiber.Heap.Alloc(heap.NewText(string(r))))
		}
		return fiber.Heap.Alloc(heap.NewList(items)), nil
	case builtins.TextTrim:
		return fiber.Heap.Alloc(heap.NewText(strings.TrimSpace(args[0].Text()))), nil

	case builtins.StructGet:
		value, ok := args[0].StructGet(args[1])
		if !ok {
			return heap.Value{}, fmt.Errorf("key not found in struct")
		}
		return value, nil
	case builtins.StructGetKeys:
		entries := args[0].StructEntries()
		keys := make([]heap.Value, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		return fiber.Heap.Alloc(heap.NewList(keys)), nil
	case builtins.StructHasKey:
		_, ok := args[0].StructGet(args[1])
		return vm.boolTag(fiber, ok), nil

	case builtins.ListLength:
		return fiber.Heap.Alloc(heap.NewInt(int64(len(args[0].ListItems())))), nil
	case builtins.ListGet:
		items := args[0].ListItems()
		idx := args[1].Int64()
		if idx < 0 || idx >= int64(len(items)) {
			return heap.Value{}, fmt.Errorf("list.get index out of bounds")
		}
		return items[idx], nil
	case builtins.ListInsert:
		items := args[0].ListItems()
		idx := args[1].Int64()
		if idx < 0 || idx > int64(len(items)) {
			return heap.Value{}, fmt.Errorf("list.insert index out of bounds")
		}
		out := make([]heap.Value, 0, len(items)+1)
		out = append(out, items[:idx]...)
		out = append(out, args[2])
		out = append(out, items[idx:]...)
		return fiber.Heap.Alloc(heap.NewList(out)), nil
	case builtins.ListReplace:
		items := args[0].ListItems()
		idx := args[1].Int64()
		if idx < 0 || idx >= int64(len(items)) {
			return heap.Value{}, fmt.Errorf("list.replace index out of bounds")
		}
		out := append([]heap.Value{}, items...)
		out[idx] = args[2]
		return fiber.Heap.Alloc(heap.NewList(out)), nil
	case builtins.ListRemoveAt:
		items := args[0].ListItems()
		idx := args[1].Int64()
		if idx < 0 || idx >= int64(len(items)) {
			return heap.Value{}, fmt.Errorf("list.removeAt index out of bounds")
		}
		out := append([]heap.Value{}, items[:idx]...)
		out = append(out, items[idx+1:]...)
		return fiber.Heap.Alloc(heap.NewList(out)), nil

	case builtins.Equals:
		return vm.boolTag(fiber, heap.Equal(args[0], args[1])), nil
	case builtins.Or:
		return vm.boolTag(fiber, isTrue(fiber, args[0]) || isTrue(fiber, args[1])), nil
	case builtins.TypeOf:
		id := args[0].TypeOf(fiber.Heap.Symbols)
		return heap.NewTag(id, heap.Value{}, false), nil

	default:
		return heap.Value{}, fmt.Errorf("builtin %s is not yet implemented", kind)
	}
}

func (vm *VM) boolTag(fiber *Fiber, b bool) heap.Value {
	name := "False"
	if b {
		name = "True"
	}
	return heap.NewTag(fiber.Heap.Symbols.FindOrAdd(name), heap.Value{}, false)
}

func intBinop(fiber *Fiber, args []heap.Value, op func(a, b *big.Int) *big.Int) (heap.Value, error) {
	return fiber.Heap.Alloc(heap.NewBigInt(op(args[0].BigInt(), args[1].BigInt()))), nil
}

func intBinopChecked(fiber *Fiber, args []heap.Value, zeroMsg string, op func(a, b *big.Int) *big.Int) (heap.Value, error) {
	if args[1].BigInt().Sign() == 0 {
		return heap.Value{}, fmt.Errorf(zeroMsg)
	}
	return fiber.Heap.Alloc(heap.NewBigInt(op(args[0].BigInt(), args[1].BigInt()))), nil
}

// RenderValue renders v in the minimal, deterministic textual form the
// `print` builtin and the CLI share; not a parser-roundtrippable one.
func RenderValue(fiber *Fiber, v heap.Value) string {
	switch v.Kind() {
	case heap.KindInt:
		return v.BigInt().String()
	case heap.KindText:
		return v.Text()
	case heap.KindTag:
		symbol := fiber.Heap.Symbols.Get(v.TagSymbol())
		if !v.TagHasValue() {
			return symbol
		}
		return symbol + " " + RenderValue(fiber, v.TagValue())
	case heap.KindList:
		parts := make([]string, len(v.ListItems()))
		for i, item := range v.ListItems() {
			parts[i] = RenderValue(fiber, item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case heap.KindStruct:
		parts := make([]string, len(v.StructEntries()))
		for i, e := range v.StructEntries() {
			parts[i] = RenderValue(fiber, e.Key) + ": " + RenderValue(fiber, e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.Kind().String()
	}
}
