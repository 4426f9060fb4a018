// Package heap implements Candy's value representation and reference-counted
// heap (spec §4.7): a 64-bit-word-sized discriminated Value that is either
// inline (no allocation, no counting) or a pointer to a counted Box.
//
// Grounded on the teacher's two value packages: internal/vm/value.go's plain
// Go sum type (a Value interface plus concrete structs) for the *shape*, and
// internal/vmregister/value.go's NaN-boxed inline/pointer split for *which*
// kinds are cheap to keep off the heap. We don't reproduce the teacher's
// literal bit-packing into a uint64 via unsafe.Pointer: that scheme depends
// on a global object cache to keep Go's GC from reclaiming pointers it can't
// see typed in a struct field, which is exactly the kind of unsafe trick this
// rewrite has no compiler to catch mistakes in. Value below keeps the same
// observable split (inline kinds carry their payload directly and need no
// refcounting; boxed kinds point at a counted Box) using an ordinary tagged
// struct instead of pointer-stuffing a uint64.
package heap

// Kind is the closed enumeration of heap object kinds (spec §4.7's "Object
// kinds" list), plus Handle, which spec's first paragraph lists as an inline
// discriminator but never as a heap object kind in its own right.
type Kind int

const (
	KindInt Kind = iota
	KindText
	KindTag
	KindList
	KindStruct
	KindFunction
	KindHirId
	KindSendPort
	KindReceivePort
	KindHandle
)

func (k Kind) String() string {
	switch k {
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
	case KindFunction:
		return "Function"
	case KindHirId:
		return "HirId"
	case KindSendPort:
		return "SendPort"
	case KindReceivePort:
		return "ReceivePort"
	case KindHandle:
		return "Handle"
	default:
		return "Unknown"
	}
}
