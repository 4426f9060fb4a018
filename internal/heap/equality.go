package heap

// Equal implements spec §4.7's split: structural equality on ints, texts,
// tags, lists, structs; identity equality on functions, ports, and handles.
// HirId (not named in that split) compares structurally by module+id, since
// it's a blame token meant to be compared for dedup, not a callable.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Candy has no implicit int/float coercion (no float kind at all
		// here — arithmetic stays in Int/BigInt), so a kind mismatch is
		// never equal.
		return false
	}
	switch a.kind {
	case KindInt:
		return a.BigInt().Cmp(b.BigInt()) == 0
	case KindText:
		return a.Text() == b.Text()
	case KindTag:
		if a.TagSymbol() != b.TagSymbol() {
			return false
		}
		if a.TagHasValue() != b.TagHasValue() {
			return false
		}
		if !a.TagHasValue() {
			return true
		}
		return Equal(a.TagValue(), b.TagValue())
	case KindList:
		ai, bi := a.ListItems(), b.ListItems()
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !Equal(ai[i], bi[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		ae, be := a.StructEntries(), b.StructEntries()
		if len(ae) != len(be) {
			return false
		}
		for _, entry := range ae {
			match, ok := b.StructGet(entry.Key)
			if !ok || !Equal(entry.Value, match) {
				return false
			}
		}
		return true
	case KindHirId:
		return a.HirIdModule() == b.HirIdModule() && a.HirIdHir() == b.HirIdHir()
	case KindFunction:
		// Inline (0-capture) functions are equal iff they target the same
		// body, mirroring object_inline/function.rs's InlineFunction::eq
		// (identity of the *body*, not of the closure value). Any function
		// with captures is boxed and compared by box identity, since two
		// closures over the same body with different captured environments
		// are distinct runtime values.
		if a.box == nil && b.box == nil {
			return a.FunctionBody() == b.FunctionBody() && a.FunctionArgCount() == b.FunctionArgCount()
		}
		return a.box == b.box
	case KindSendPort, KindReceivePort:
		return a.PortChannel() == b.PortChannel()
	case KindHandle:
		return a.HandleId() == b.HandleId()
	default:
		return false
	}
}
