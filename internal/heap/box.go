package heap

import "math/big"

// Box is a heap-allocated object's header plus payload (spec §4.7: "pointer
// pointing to an aligned allocation with: reference count, kind header,
// content-size header word, payload" — content-size is implicit here in
// Data's own Go slice/string length, so there's no separate header word for
// it).
type Box struct {
	RefCount int
	Kind     Kind
	Data     objectData
}

// objectData is the sum type of boxed payloads, one per Kind that can ever
// be boxed (Int, Text, Tag-with-value, List, Struct, Function-with-captures,
// HirId — SendPort/ReceivePort/Handle never box, per spec §4.7's first
// paragraph).
type objectData interface{ isObjectData() }

type bigIntData struct{ Value *big.Int }
type textData struct{ Value string }
type tagData struct {
	Symbol   SymbolId
	Value    Value
	HasValue bool
}
type listData struct{ Items []Value }
type structData struct{ Entries []StructEntry }
type functionData struct {
	Captured []Value
	ArgCount int
	Body     int
}
type hirIdData struct {
	Module ModuleRef
	Hir    int
}

func (*bigIntData) isObjectData()   {}
func (*textData) isObjectData()     {}
func (*tagData) isObjectData()      {}
func (*listData) isObjectData()     {}
func (*structData) isObjectData()   {}
func (*functionData) isObjectData() {}
func (*hirIdData) isObjectData()    {}

// newBox allocates a Box with refcount 1 — the one reference its creator
// (whoever is about to bind it to a slot or push it on a stack) is about to
// hold.
func newBox(kind Kind, data objectData) *Box {
	return &Box{RefCount: 1, Kind: kind, Data: data}
}

// children returns every Value this box directly holds, for Drop's
// recursive release and for Clone's graph walk.
func (b *Box) children() []Value {
	switch d := b.Data.(type) {
	case *tagData:
		if d.HasValue {
			return []Value{d.Value}
		}
		return nil
	case *listData:
		return d.Items
	case *structData:
		out := make([]Value, 0, 2*len(d.Entries))
		for _, e := range d.Entries {
			out = append(out, e.Key, e.Value)
		}
		return out
	case *functionData:
		return d.Captured
	default:
		return nil
	}
}
