package heap

// Heap owns a live object count (for diagnostics/tests, since Go's own GC
// ultimately reclaims Boxes once nothing references them — the refcount
// here exists to drive spec §4.7's drop-at-zero semantics, not to replace
// Go's allocator) and the interning table every Tag on it shares.
type Heap struct {
	Symbols *SymbolTable
	// live tracks how many boxed objects registered through Alloc/Clone
	// currently have RefCount > 0, purely for tests/diagnostics asserting
	// nothing leaked across a run.
	live    int
	tracked map[*Box]bool
}

func New() *Heap {
	return &Heap{Symbols: NewSymbolTable()}
}

// NewWithSymbols creates a heap sharing an existing interning table. The VM
// uses this for every fiber and packet heap it creates, so a Tag's SymbolId
// stays meaningful when Clone moves values between heaps (Clone copies
// symbol ids verbatim; with per-heap tables two heaps could intern the same
// text under different ids). Sharing the table is safe within one VM, which
// is single-threaded by contract (spec §5).
func NewWithSymbols(symbols *SymbolTable) *Heap {
	return &Heap{Symbols: symbols}
}

// Dup increments v's refcount by n (spec §4.7: "Dup(id, n) increments the
// refcount by n"). A no-op for inline values, which carry no count.
func (h *Heap) Dup(v Value, n int) {
	if v.box == nil || n == 0 {
		return
	}
	v.box.RefCount += n
}

// Drop decrements v's refcount, and at zero releases its children
// recursively and frees it (spec §4.7). A no-op for inline values.
func (h *Heap) Drop(v Value) {
	if v.box == nil {
		return
	}
	v.box.RefCount--
	if v.box.RefCount > 0 {
		return
	}
	if v.box.RefCount < 0 {
		panic("heap: refcount dropped below zero")
	}
	if h.tracked[v.box] {
		delete(h.tracked, v.box)
		h.live--
	}
	for _, child := range v.box.children() {
		h.Drop(child)
	}
	v.box.Data = nil
}

// track registers a freshly allocated Box for live-object accounting. It is
// called by Alloc and Clone only; the New* constructors in value.go never
// call it, so a Box built without going through this Heap is not counted
// (and dropping it leaves live unchanged).
func (h *Heap) track(v Value) Value {
	if v.box != nil && !h.tracked[v.box] {
		if h.tracked == nil {
			h.tracked = make(map[*Box]bool)
		}
		h.tracked[v.box] = true
		h.live++
	}
	return v
}

// Alloc is the Heap-aware front door to value.go's New* constructors, for
// callers (the VM's CreateX opcodes) that want live-object accounting.
// Constructors can also be called directly when no Heap is at hand (e.g.
// from internal/builtins' constant-folding path, which has no live VM heap)
// since a Value never actually needs its originating Heap to exist.
func (h *Heap) Alloc(v Value) Value { return h.track(v) }

// Live reports how many boxed objects this heap currently thinks are alive,
// for test assertions that a run didn't leak.
func (h *Heap) Live() int { return h.live }

// Packet is a self-contained heap plus a root value (spec §3: "a packet is
// a self-contained heap + root pointer"), the unit that moves through a
// Channel: sending transfers ownership of the packet's whole sub-heap to the
// receiver, with no aliasing back into the sender's heap (spec §5).
type Packet struct {
	Heap *Heap
	Root Value
}

// Clone copies v from its source heap into h, preserving sharing via
// mapping (keyed by source Box identity, per spec §4.7: "walks the value
// graph using a mapping table keyed by source address to preserve sharing"
// — grounded on original_source's clone_to_heap_with_mapping). Call with a
// fresh mapping per top-level clone (e.g. once per packet handed to a
// channel).
func (h *Heap) Clone(v Value, mapping map[*Box]Value) Value {
	if v.box == nil {
		return v
	}
	if existing, ok := mapping[v.box]; ok {
		h.Dup(existing, 1)
		return existing
	}
	var clone Value
	switch d := v.box.Data.(type) {
	case *bigIntData:
		clone = NewBigInt(d.Value)
	case *textData:
		clone = NewText(d.Value)
	case *tagData:
		var value Value
		if d.HasValue {
			value = h.Clone(d.Value, mapping)
		}
		clone = NewTag(d.Symbol, value, d.HasValue)
	case *listData:
		items := make([]Value, len(d.Items))
		for i, item := range d.Items {
			items[i] = h.Clone(item, mapping)
		}
		clone = NewList(items)
	case *structData:
		entries := make([]StructEntry, len(d.Entries))
		for i, e := range d.Entries {
			entries[i] = StructEntry{Key: h.Clone(e.Key, mapping), Value: h.Clone(e.Value, mapping)}
		}
		clone = NewStruct(entries)
	case *functionData:
		captured := make([]Value, len(d.Captured))
		for i, c := range d.Captured {
			captured[i] = h.Clone(c, mapping)
		}
		clone = NewFunction(captured, d.ArgCount, d.Body)
	case *hirIdData:
		clone = NewHirId(d.Module, d.Hir)
	default:
		panic("heap: clone of unknown boxed kind")
	}
	h.track(clone)
	mapping[v.box] = clone
	return clone
}
