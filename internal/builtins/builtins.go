// Package builtins implements Candy's closed enumeration of built-in
// operations (spec §9 Design Note (b)): int arithmetic, text manipulation,
// struct access, list operations, equals, typeOf, channel create/send/
// receive, parallel, try, ifElse, print, panic. Eval evaluates the pure
// builtins at compile time (for constant folding, spec §4.5 pass 2) against
// this package's own Value type; the VM implements every builtin
// separately against heap.Value and shares only the Kind names with this
// package.
//
// Grounded on the teacher's bytecode opcode set (internal/bytecode/opcodes.go:
// OpAdd, OpConcat, OpMapGet, OpSpawn, OpChannelSend, ...) for which
// operations a minimal language needs, re-expressed here as named builtins
// rather than dedicated opcodes.
package builtins

import (
	"fmt"
	"strings"
)

// Kind names one builtin by the spec's closed enumeration.
type Kind string

const (
	IntAdd        Kind = "int.add"
	IntSubtract   Kind = "int.subtract"
	IntMultiply   Kind = "int.multiply"
	IntDivide     Kind = "int.divide"
	IntRemainder  Kind = "int.remainder"
	IntModulo     Kind = "int.modulo"
	IntCompareTo  Kind = "int.compareTo"
	IntShiftLeft  Kind = "int.shiftLeft"
	IntShiftRight Kind = "int.shiftRight"
	IntBitwiseAnd Kind = "int.bitwiseAnd"
	IntBitwiseOr  Kind = "int.bitwiseOr"
	IntBitwiseXor Kind = "int.bitwiseXor"

	TextConcatenate Kind = "text.concatenate"
	TextLength      Kind = "text.length"
	TextGetRange    Kind = "text.getRange"
	TextCharacters  Kind = "text.characters"
	TextTrim        Kind = "text.trim"

	StructGet     Kind = "structGet"
	StructGetKeys Kind = "struct.getKeys"
	StructHasKey  Kind = "struct.hasKey"

	ListLength    Kind = "list.length"
	ListGet       Kind = "list.get"
	ListInsert    Kind = "list.insert"
	ListReplace   Kind = "list.replace"
	ListRemoveAt  Kind = "list.removeAt"

	Equals  Kind = "equals"
	TypeOf  Kind = "typeOf"
	Or      Kind = "or"
	IfElse  Kind = "ifElse"
	Print   Kind = "print"
	PanicOp Kind = "panic"

	ChannelCreate  Kind = "channel.create"
	ChannelSend    Kind = "channel.send"
	ChannelReceive Kind = "channel.receive"
	Parallel       Kind = "parallel"
	Try            Kind = "try"

	// NeedsCheck is the runtime form `needs` lowers to (spec §4.4's Needs
	// node survives into LIR/bytecode as an ordinary call to this builtin):
	// evaluated by the VM, never by the compile-time folder, since its
	// entire purpose is to observe a runtime condition and potentially
	// panic the fiber.
	NeedsCheck Kind = "needs"
)

// Pure reports whether a builtin always returns the same result for the
// same arguments and never observes or mutates external state — the
// property the MIR optimizer's constant folder requires before it will
// evaluate a call at compile time (spec §4.5 pass 2).
func Pure(k Kind) bool {
	switch k {
	case Print, PanicOp, ChannelCreate, ChannelSend, ChannelReceive, Parallel, Try, NeedsCheck:
		return false
	default:
		return true
	}
}

// Arity returns the exact number of arguments k expects, or -1 if variadic
// (none of the closed enumeration is).
func Arity(k Kind) int {
	switch k {
	case IntAdd, IntSubtract, IntMultiply, IntDivide, IntRemainder, IntModulo,
		IntCompareTo, IntShiftLeft, IntShiftRight, IntBitwiseAnd, IntBitwiseOr, IntBitwiseXor,
		TextConcatenate, StructGet, StructHasKey, ListGet, Equals, Or, ChannelSend:
		return 2
	case TextLength, TextCharacters, TextTrim, StructGetKeys, ListLength, TypeOf,
		Print, PanicOp, ChannelCreate, ChannelReceive:
		return 1
	case TextGetRange, ListInsert, ListReplace:
		return 3
	case ListRemoveAt:
		return 2
	case IfElse, NeedsCheck:
		return 3
	case Parallel, Try:
		return 1
	default:
		return -1
	}
}

// Value is the constant-evaluation currency of the optimizer's folder: a
// minimal tagged union covering every value kind a builtin can consume or
// produce at compile time. It mirrors heap.Kind's discrimination instead of
// importing internal/heap, since the optimizer runs before any heap exists;
// the VM does not use it.
type Value struct {
	Kind ValueKind
	Int  int64
	Text string
	Tag  string
	List []Value
	// Struct is an ordered association list rather than a map so structural
	// equality and rendering stay deterministic (spec's equals builtin).
	Struct []StructEntry
}

type StructEntry struct {
	Key   Value
	Value Value
}

type ValueKind int

const (
	KindInt ValueKind = iota
	KindText
	KindTag
	KindList
	KindStruct
	KindFunction // opaque at fold time: never const-evaluable itself
)

func Int64(v int64) Value  { return Value{Kind: KindInt, Int: v} }
func Text(v string) Value  { return Value{Kind: KindText, Text: v} }
func Tag(v string) Value   { return Value{Kind: KindTag, Tag: v} }

var (
	True  = Tag("True")
	False = Tag("False")
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// PanicError is returned by Eval when the builtin would panic at runtime
// (spec §4.5 pass 2: "If the builtin would panic, the call is replaced by a
// Panic with the appropriate reason").
type PanicError struct{ Reason string }

func (e *PanicError) Error() string { return e.Reason }

// Eval evaluates a pure builtin against fully-const arguments. Non-pure
// builtins (I/O, concurrency) must never reach here — callers check Pure
// first; Eval panics (a programmer error, not a PanicError) if asked to
// evaluate one, since the optimizer must never call Eval on them.
func Eval(k Kind, args []Value) (Value, error) {
	if !Pure(k) {
		panic(fmt.Sprintf("builtins.Eval: %s is not pure", k))
	}
	switch k {
	case IntAdd:
		return intBinop(args, func(a, b int64) int64 { return a + b })
	case IntSubtract:
		return intBinop(args, func(a, b int64) int64 { return a - b })
	case IntMultiply:
		return intBinop(args, func(a, b int64) int64 { return a * b })
	case IntDivide:
		return intBinopErr(args, func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, &PanicError{Reason: "division by zero"}
			}
			return a / b, nil
		})
	case IntRemainder:
		return intBinopErr(args, func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, &PanicError{Reason: "division by zero"}
			}
			return a % b, nil
		})
	case IntModulo:
		return intBinopErr(args, func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, &PanicError{Reason: "division by zero"}
			}
			m := a % b
			if (m < 0) != (b < 0) && m != 0 {
				m += b
			}
			return m, nil
		})
	case IntCompareTo:
		a, b, err := twoInts(args)
		if err != nil {
			return Value{}, err
		}
		switch {
		case a < b:
			return Tag("Less"), nil
		case a > b:
			return Tag("Greater"), nil
		default:
			return Tag("Equal"), nil
		}
	case IntShiftLeft:
		return intBinop(args, func(a, b int64) int64 { return a << uint(b) })
	case IntShiftRight:
		return intBinop(args, func(a, b int64) int64 { return a >> uint(b) })
	case IntBitwiseAnd:
		return intBinop(args, func(a, b int64) int64 { return a & b })
	case IntBitwiseOr:
		return intBinop(args, func(a, b int64) int64 { return a | b })
	case IntBitwiseXor:
		return intBinop(args, func(a, b int64) int64 { return a ^ b })

	case TextConcatenate:
		if len(args) != 2 || args[0].Kind != KindText || args[1].Kind != KindText {
			return Value{}, &PanicError{Reason: "text.concatenate expects two texts"}
		}
		return Text(args[0].Text + args[1].Text), nil
	case TextLength:
		if len(args) != 1 || args[0].Kind != KindText {
			return Value{}, &PanicError{Reason: "text.length expects a text"}
		}
		return Int64(int64(len([]rune(args[0].Text)))), nil
	case TextGetRange:
		if len(args) != 3 || args[0].Kind != KindText || args[1].Kind != KindInt || args[2].Kind != KindInt {
			return Value{}, &PanicError{Reason: "text.getRange expects (text, int, int)"}
		}
		runes := []rune(args[0].Text)
		start, end := args[1].Int, args[2].Int
		if start < 0 || end > int64(len(runes)) || start > end {
			return Value{}, &PanicError{Reason: "text.getRange out of bounds"}
		}
		return Text(string(runes[start:end])), nil
	case TextCharacters:
		if len(args) != 1 || args[0].Kind != KindText {
			return Value{}, &PanicError{Reason: "text.characters expects a text"}
		}
		var items []Value
		for _, r := range args[0].Text {
			items = append(items, Text(string(r)))
		}
		return Value{Kind: KindList, List: items}, nil
	case TextTrim:
		if len(args) != 1 || args[0].Kind != KindText {
			return Value{}, &PanicError{Reason: "text.trim expects a text"}
		}
		return Text(strings.TrimSpace(args[0].Text)), nil

	case StructGet:
		if len(args) != 2 || args[0].Kind != KindStruct {
			return Value{}, &PanicError{Reason: "structGet expects (struct, key)"}
		}
		for _, e := range args[0].Struct {
			if Equal(e.Key, args[1]) {
				return e.Value, nil
			}
		}
		return Value{}, &PanicError{Reason: "key not found in struct"}
	case StructGetKeys:
		if len(args) != 1 || args[0].Kind != KindStruct {
			return Value{}, &PanicError{Reason: "struct.getKeys expects a struct"}
		}
		var keys []Value
		for _, e := range args[0].Struct {
			keys = append(keys, e.Key)
		}
		return Value{Kind: KindList, List: keys}, nil
	case StructHasKey:
		if len(args) != 2 || args[0].Kind != KindStruct {
			return Value{}, &PanicError{Reason: "struct.hasKey expects (struct, key)"}
		}
		for _, e := range args[0].Struct {
			if Equal(e.Key, args[1]) {
				return True, nil
			}
		}
		return False, nil

	case ListLength:
		if len(args) != 1 || args[0].Kind != KindList {
			return Value{}, &PanicError{Reason: "list.length expects a list"}
		}
		return Int64(int64(len(args[0].List))), nil
	case ListGet:
		if len(args) != 2 || args[0].Kind != KindList || args[1].Kind != KindInt {
			return Value{}, &PanicError{Reason: "list.get expects (list, int)"}
		}
		idx := args[1].Int
		if idx < 0 || idx >= int64(len(args[0].List)) {
			return Value{}, &PanicError{Reason: "list.get index out of bounds"}
		}
		return args[0].List[idx], nil
	case ListInsert:
		if len(args) != 3 || args[0].Kind != KindList || args[1].Kind != KindInt {
			return Value{}, &PanicError{Reason: "list.insert expects (list, int, value)"}
		}
		idx := args[1].Int
		if idx < 0 || idx > int64(len(args[0].List)) {
			return Value{}, &PanicError{Reason: "list.insert index out of bounds"}
		}
		out := make([]Value, 0, len(args[0].List)+1)
		out = append(out, args[0].List[:idx]...)
		out = append(out, args[2])
		out = append(out, args[0].List[idx:]...)
		return Value{Kind: KindList, List: out}, nil
	case ListReplace:
		if len(args) != 3 || args[0].Kind != KindList || args[1].Kind != KindInt {
			return Value{}, &PanicError{Reason: "list.replace expects (list, int, value)"}
		}
		idx := args[1].Int
		if idx < 0 || idx >= int64(len(args[0].List)) {
			return Value{}, &PanicError{Reason: "list.replace index out of bounds"}
		}
		out := append([]Value{}, args[0].List...)
		out[idx] = args[2]
		return Value{Kind: KindList, List: out}, nil
	case ListRemoveAt:
		if len(args) != 2 || args[0].Kind != KindList || args[1].Kind != KindInt {
			return Value{}, &PanicError{Reason: "list.removeAt expects (list, int)"}
		}
		idx := args[1].Int
		if idx < 0 || idx >= int64(len(args[0].List)) {
			return Value{}, &PanicError{Reason: "list.removeAt index out of bounds"}
		}
		out := append([]Value{}, args[0].List[:idx]...)
		out = append(out, args[0].List[idx+1:]...)
		return Value{Kind: KindList, List: out}, nil

	case Equals:
		if len(args) != 2 {
			return Value{}, &PanicError{Reason: "equals expects two arguments"}
		}
		return Bool(Equal(args[0], args[1])), nil
	case Or:
		if len(args) != 2 {
			return Value{}, &PanicError{Reason: "or expects two arguments"}
		}
		return Bool(Truthy(args[0]) || Truthy(args[1])), nil
	case TypeOf:
		if len(args) != 1 {
			return Value{}, &PanicError{Reason: "typeOf expects one argument"}
		}
		return Tag(typeName(args[0])), nil

	default:
		panic(fmt.Sprintf("builtins.Eval: %s is not compile-time evaluable", k))
	}
}

func typeName(v Value) string {
	switch v.Kind {
	case KindInt:
		return "Int"
	case KindText:
		return "Text"
	case KindTag:
		return "Tag"
	case KindList:
		return "List"
	case KindStruct:
		return "Struct"
	default:
		return "Function"
	}
}

// Truthy treats the Tag "True" as truthy and everything else (including
// "False") as falsy, matching the ifElse builtin's contract.
func Truthy(v Value) bool {
	return v.Kind == KindTag && v.Tag == "True"
}

// Equal implements structural equality on ints, texts, tags, lists, and
// structs (spec §4.7: "Structural equality on ints, texts, tags, lists,
// structs is defined by value"). Functions are never structurally equal to
// anything, including themselves, at fold time.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindText:
		return a.Text == b.Text
	case KindTag:
		return a.Tag == b.Tag
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(a.Struct) != len(b.Struct) {
			return false
		}
		for _, ea := range a.Struct {
			found := false
			for _, eb := range b.Struct {
				if Equal(ea.Key, eb.Key) {
					found = Equal(ea.Value, eb.Value)
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func twoInts(args []Value) (int64, int64, error) {
	if len(args) != 2 || args[0].Kind != KindInt || args[1].Kind != KindInt {
		return 0, 0, &PanicError{Reason: "expected two ints"}
	}
	return args[0].Int, args[1].Int, nil
}

func intBinop(args []Value, f func(a, b int64) int64) (Value, error) {
	a, b, err := twoInts(args)
	if err != nil {
		return Value{}, err
	}
	return Int64(f(a, b)), nil
}

func intBinopErr(args []Value, f func(a, b int64) (int64, error)) (Value, error) {
	a, b, err := twoInts(args)
	if err != nil {
		return Value{}, err
	}
	v, err := f(a, b)
	if err != nil {
		return Value{}, err
	}
	return Int64(v), nil
}
