package heap

import "math/big"

// Value is the heap's word: either an inline payload that needs no
// allocation or refcounting, or a pointer to a counted Box (spec §4.7's
// "inline object" vs "heap object" split). kind always discriminates which;
// inline only carries meaning when box is nil.
type Value struct {
	kind   Kind
	inline uint64
	box    *Box
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsInline() bool { return v.box == nil }

// inlineIntBits is the widest magnitude an inline Int can carry before an
// arithmetic result must be promoted to an arbitrary-precision Box (spec
// §4.7: "fits 62-bit signed"). Preserved here even though Value itself has
// no bit-packing pressure, because it's the threshold that decides
// int-overflow-to-BigInt promotion during arithmetic, not a storage limit.
const inlineIntBits = 62

func fitsInlineInt(v int64) bool {
	const shift = 64 - inlineIntBits
	return (v<<shift)>>shift == v
}

// ---- Int ----

// NewInt returns the inline representation of v, or promotes to a boxed
// arbitrary-precision Int if v sits right at the inline boundary (callers
// doing arithmetic should use NewBigInt directly once an operation
// overflows int64; this constructor only guards the inline/boxed line for
// already-int64-sized results).
func NewInt(v int64) Value {
	if fitsInlineInt(v) {
		return Value{kind: KindInt, inline: uint64(v)}
	}
	return NewBigInt(big.NewInt(v))
}

// NewBigInt builds an Int from an arbitrary-precision value, normalizing it:
// a v that fits the inline range comes back inline, and only a larger v is
// boxed (with its own copy of v).
func NewBigInt(v *big.Int) Value {
	if small, ok := asInlineCandidate(v); ok {
		return Value{kind: KindInt, inline: uint64(small)}
	}
	return Value{kind: KindInt, box: newBox(KindInt, &bigIntData{Value: new(big.Int).Set(v)})}
}

func asInlineCandidate(v *big.Int) (int64, bool) {
	if !v.IsInt64() {
		return 0, false
	}
	small := v.Int64()
	return small, fitsInlineInt(small)
}

func (v Value) IsInt() bool { return v.kind == KindInt }

// Int64 returns the value's int64 view. Only valid when IsInt(); callers
// that need full precision should check BigInt() for boxed values that
// overflow int64.
func (v Value) Int64() int64 {
	if v.box == nil {
		return int64(v.inline)
	}
	return v.box.Data.(*bigIntData).Value.Int64()
}

// BigInt returns an arbitrary-precision view, boxed or not.
func (v Value) BigInt() *big.Int {
	if v.box == nil {
		return big.NewInt(int64(v.inline))
	}
	return v.box.Data.(*bigIntData).Value
}

// ---- Text ----

func NewText(s string) Value {
	return Value{kind: KindText, box: newBox(KindText, &textData{Value: s})}
}

func (v Value) IsText() bool { return v.kind == KindText }
func (v Value) Text() string { return v.box.Data.(*textData).Value }

// ---- Tag ----

// NewTag creates a valueless tag (inline — spec's "small symbol index") or a
// tag carrying a value (always boxed, since the value is itself a Value
// that needs its own slot).
func NewTag(symbol SymbolId, value Value, hasValue bool) Value {
	if !hasValue {
		return Value{kind: KindTag, inline: uint64(symbol)}
	}
	return Value{kind: KindTag, box: newBox(KindTag, &tagData{Symbol: symbol, Value: value, HasValue: true})}
}

func (v Value) IsTag() bool { return v.kind == KindTag }

func (v Value) TagSymbol() SymbolId {
	if v.box == nil {
		return SymbolId(v.inline)
	}
	return v.box.Data.(*tagData).Symbol
}

func (v Value) TagHasValue() bool {
	return v.box != nil
}

func (v Value) TagValue() Value {
	return v.box.Data.(*tagData).Value
}

// ---- List ----

func NewList(items []Value) Value {
	return Value{kind: KindList, box: newBox(KindList, &listData{Items: items})}
}

func (v Value) IsList() bool    { return v.kind == KindList }
func (v Value) ListItems() []Value { return v.box.Data.(*listData).Items }

// ---- Struct ----

type StructEntry struct {
	Key, Value Value
}

func NewStruct(entries []StructEntry) Value {
	return Value{kind: KindStruct, box: newBox(KindStruct, &structData{Entries: entries})}
}

func (v Value) IsStruct() bool           { return v.kind == KindStruct }
func (v Value) StructEntries() []StructEntry { return v.box.Data.(*structData).Entries }

// StructGet looks up key by structural equality, per the struct-access
// builtin's runtime contract.
func (v Value) StructGet(key Value) (Value, bool) {
	for _, e := range v.StructEntries() {
		if Equal(e.Key, key) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// ---- Function ----

// NewFunction creates a closure. Zero captures stay inline (spec: "function
// pointer with 0 captures"); any capture forces boxing, since the captured
// values themselves must live somewhere reference-countable.
func NewFunction(captured []Value, argCount int, body int) Value {
	if len(captured) == 0 {
		return Value{kind: KindFunction, inline: packFunction(body, argCount)}
	}
	return Value{kind: KindFunction, box: newBox(KindFunction, &functionData{
		Captured: captured, ArgCount: argCount, Body: body,
	})}
}

func packFunction(body, argCount int) uint64 {
	return uint64(uint32(body))<<32 | uint64(uint32(argCount))
}

func (v Value) IsFunction() bool { return v.kind == KindFunction }

func (v Value) FunctionBody() int {
	if v.box == nil {
		return int(int32(v.inline >> 32))
	}
	return v.box.Data.(*functionData).Body
}

func (v Value) FunctionArgCount() int {
	if v.box == nil {
		return int(int32(v.inline))
	}
	return v.box.Data.(*functionData).ArgCount
}

func (v Value) FunctionCaptured() []Value {
	if v.box == nil {
		return nil
	}
	return v.box.Data.(*functionData).Captured
}

// ---- HirId ----

// ModuleRef is the subset of modident.Identifier heap.HirId needs to name a
// module without internal/heap importing internal/modident's full surface
// back into a package the module graph's leaves (span, modident) sit below.
// Candy's dependency order keeps heap below the pipeline (spec §2's
// "dependency order is strictly upward... heap and VM are independent of the
// optimizer"), so it takes the module identifier as an opaque, comparable
// string key rather than the structured type.
type ModuleRef = string

func NewHirId(module ModuleRef, hir int) Value {
	return Value{kind: KindHirId, box: newBox(KindHirId, &hirIdData{Module: module, Hir: hir})}
}

func (v Value) IsHirId() bool { return v.kind == KindHirId }

func (v Value) HirIdModule() ModuleRef { return v.box.Data.(*hirIdData).Module }
func (v Value) HirIdHir() int          { return v.box.Data.(*hirIdData).Hir }

// ---- Ports ----

func packPort(channel int, isSend bool) uint64 {
	w := uint64(uint32(channel)) << 1
	if isSend {
		w |= 1
	}
	return w
}

func NewSendPort(channel int) Value {
	return Value{kind: KindSendPort, inline: packPort(channel, true)}
}

func NewReceivePort(channel int) Value {
	return Value{kind: KindReceivePort, inline: packPort(channel, false)}
}

func (v Value) IsSendPort() bool    { return v.kind == KindSendPort }
func (v Value) IsReceivePort() bool { return v.kind == KindReceivePort }

func (v Value) PortChannel() int { return int(uint32(v.inline >> 1)) }

// ---- Handles ----

func packHandle(id, argCount int) uint64 {
	return uint64(uint32(id))<<32 | uint64(uint32(argCount))
}

func NewHandle(id, argCount int) Value {
	return Value{kind: KindHandle, inline: packHandle(id, argCount)}
}

func (v Value) IsHandle() bool { return v.kind == KindHandle }

func (v Value) HandleId() int       { return int(int32(v.inline >> 32)) }
func (v Value) HandleArgCount() int { return int(int32(v.inline)) }

// TypeOf names a value's kind the way the `typeOf` builtin reports it (spec
// §4.7's object kinds, through the lens of candy's own type tag names).
func (v Value) TypeOf(symbols *SymbolTable) SymbolId {
	switch v.kind {
	case KindInt:
		return symbols.FindOrAdd("Int")
	case KindText:
		return symbols.FindOrAdd("Text")
	case KindTag:
		return symbols.FindOrAdd("Tag")
	case KindList:
		return symbols.FindOrAdd("List")
	case KindStruct:
		return symbols.FindOrAdd("Struct")
	case KindFunction:
		return symbols.FindOrAdd("Function")
	case KindSendPort:
		return symbols.FindOrAdd("SendPort")
	case KindReceivePort:
		return symbols.FindOrAdd("ReceivePort")
	default:
		return symbols.FindOrAdd(v.kind.String())
	}
}
