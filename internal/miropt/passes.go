package miropt

import (
	"sort"

	"github.com/candy-lang/candy-sub004/internal/builtins"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/mir"
	"github.com/candy-lang/candy-sub004/internal/span"
)

// followReferences collapses chains of Reference(x) to their ultimate root
// and rewrites every id that pointed through the chain (spec §4.5 pass 1).
func (o *optimizerState) followReferences(w *workingBody) bool {
	root := make(map[mir.Id]mir.Id)
	for _, e := range w.entries {
		if ref, ok := e.Expression.(mir.Reference); ok {
			root[e.Id] = resolveRoot(w, ref.Target, map[mir.Id]bool{})
		}
	}
	if len(root) == 0 {
		return false
	}
	changed := false
	for i, e := range w.entries {
		if _, isRef := e.Expression.(mir.Reference); isRef {
			continue // the chain's own links stay; tree shaking removes dead ones
		}
		if !referencesAny(e.Expression, root) {
			continue
		}
		w.replace(i, rewriteIds(e.Expression, root))
		changed = true
	}
	if m, ok := root[w.ret]; ok && m != w.ret {
		w.ret = m
		changed = true
	}
	return changed
}

func resolveRoot(w *workingBody, id mir.Id, seen map[mir.Id]bool) mir.Id {
	if seen[id] {
		return id // cyclic reference chain: leave as-is, can't happen in well-formed MIR
	}
	seen[id] = true
	if expr, ok := w.get(id); ok {
		if ref, ok := expr.(mir.Reference); ok {
			return resolveRoot(w, ref.Target, seen)
		}
	}
	return id
}

// constValue converts a body entry's expression into a builtins.Value if it
// is fully compile-time constant (a literal, or a Struct/Text built
// entirely from const entries), or reports ok=false. A positive answer is
// memoized into the body's flow table (const is monotone — spec §8 — so the
// mark never needs retracting), which is what workingBody.isConst and the
// passes consult as the "pureness-insights table" of spec §4.5.
func constValue(w *workingBody, id mir.Id) (value builtins.Value, ok bool) {
	defer func() {
		if ok {
			w.insights.Set(id, FlowValue{Pure: true, Const: true})
		}
	}()
	expr, found := w.get(id)
	if !found {
		return builtins.Value{}, false
	}
	switch e := expr.(type) {
	case mir.Int:
		return builtins.Int64(e.Value), true
	case mir.TextPart:
		return builtins.Text(e.Value), true
	case mir.Symbol:
		return builtins.Tag(e.Name), true
	case mir.Text:
		var sb []byte
		for _, p := range e.Parts {
			v, ok := constValue(w, p)
			if !ok || v.Kind != builtins.KindText {
				return builtins.Value{}, false
			}
			sb = append(sb, v.Text...)
		}
		return builtins.Text(string(sb)), true
	case mir.Struct:
		entries := make([]builtins.StructEntry, 0, len(e.Fields))
		for _, f := range e.Fields {
			k, ok := constValue(w, f.Key)
			if !ok {
				return builtins.Value{}, false
			}
			v, ok := constValue(w, f.Value)
			if !ok {
				return builtins.Value{}, false
			}
			entries = append(entries, builtins.StructEntry{Key: k, Value: v})
		}
		return builtins.Value{Kind: builtins.KindStruct, Struct: entries}, true
	case mir.Reference:
		return constValue(w, e.Target)
	default:
		return builtins.Value{}, false
	}
}

// builtinKind reports whether id resolves to a Builtin literal.
func builtinKind(w *workingBody, id mir.Id) (mir.BuiltinKind, bool) {
	expr, ok := w.get(id)
	if !ok {
		return "", false
	}
	if b, ok := expr.(mir.Builtin); ok {
		return b.Kind, true
	}
	return "", false
}

// foldConstants evaluates calls to builtins whose arguments are all const
// (spec §4.5 pass 2). A builtin that would panic is replaced by a Panic
// expression carrying the failure reason.
func (o *optimizerState) foldConstants(w *workingBody, responsible mir.Id) bool {
	changed := false
	for i := 0; i < len(w.entries); i++ {
		e := w.entries[i]
		call, ok := e.Expression.(mir.Call)
		if !ok {
			continue
		}
		kind, ok := builtinKind(w, call.Function)
		if !ok || !builtins.Pure(builtins.Kind(kind)) {
			continue
		}
		args := make([]builtins.Value, 0, len(call.Arguments))
		allConst := true
		for _, a := range call.Arguments {
			v, ok := constValue(w, a)
			if !ok {
				allConst = false
				break
			}
			args = append(args, v)
		}
		if !allConst {
			continue
		}
		result, err := builtins.Eval(builtins.Kind(kind), args)
		if err != nil {
			reason := mir.Entry{Id: o.gen.fresh(), Expression: mir.TextPart{Value: err.Error()}}
			i = w.insertBefore(i, []mir.Entry{reason})
			w.replace(i, mir.Panic{Reason: reason.Id, Responsible: responsible})
			changed = true
			continue
		}
		w.replace(i, literalFromValue(result))
		changed = true
	}
	return changed
}

func literalFromValue(v builtins.Value) mir.Expression {
	switch v.Kind {
	case builtins.KindInt:
		return mir.Int{Value: v.Int}
	case builtins.KindText:
		return mir.TextPart{Value: v.Text}
	case builtins.KindTag:
		return mir.Symbol{Name: v.Tag}
	default:
		return mir.Symbol{Name: "Nothing"}
	}
}

// eliminateCommonSubtrees deduplicates structurally-equal const expressions:
// the later-defined id is rewritten to reference the earlier one (spec §4.5
// pass 3).
func (o *optimizerState) eliminateCommonSubtrees(w *workingBody) bool {
	seen := make(map[string]mir.Id)
	mapping := make(map[mir.Id]mir.Id)
	for _, e := range w.entries {
		if !w.isConst(e.Id) {
			continue
		}
		key := fmtKey(e.Expression)
		if first, ok := seen[key]; ok && first != e.Id {
			mapping[e.Id] = first
		} else {
			seen[key] = e.Id
		}
	}
	if len(mapping) == 0 {
		return false
	}
	for i, e := range w.entries {
		w.replace(i, rewriteIds(e.Expression, mapping))
	}
	if m, ok := mapping[w.ret]; ok {
		w.ret = m
	}
	return true
}

// foldModules resolves a UseModule whose path is a const text to a concrete
// module, splicing the resolved module's optimized body into this one
// (spec §4.5 pass 4). A non-static path yields UseNotStaticallyResolvable
// and a Panic in its place.
func (o *optimizerState) foldModules(w *workingBody, responsible mir.Id) bool {
	changed := false
	for i := 0; i < len(w.entries); i++ {
		e := w.entries[i]
		use, ok := e.Expression.(mir.UseModule)
		if !ok {
			continue
		}
		pathVal, ok := constValue(w, use.Path)
		if !ok || pathVal.Kind != builtins.KindText {
			o.bag.Addf(use.Current, span.Span{}, diagnostics.KindUseNotStaticallyResolv,
				"use path is not statically resolvable")
			i = o.replaceWithPanic(w, i, "use path is not statically resolvable", responsible)
			changed = true
			continue
		}
		resolved, ok := o.opts.Resolver(use.Current, pathVal.Text)
		if !ok {
			o.bag.Addf(use.Current, span.Span{}, diagnostics.KindUseNotStaticallyResolv,
				"module %q could not be resolved", pathVal.Text)
			i = o.replaceWithPanic(w, i, "module not found: "+pathVal.Text, responsible)
			changed = true
			continue
		}
		spliced, result := o.spliceModule(resolved)
		i = w.insertBefore(i, spliced)
		w.replace(i, mir.Reference{Target: result})
		changed = true
	}
	return changed
}

// replaceWithPanic swaps the entry at position i for a Panic, inserting the
// reason text as a fresh binding right before it; returns i's new position.
func (o *optimizerState) replaceWithPanic(w *workingBody, i int, reason string, responsible mir.Id) int {
	entry := mir.Entry{Id: o.gen.fresh(), Expression: mir.TextPart{Value: reason}}
	i = w.insertBefore(i, []mir.Entry{entry})
	w.replace(i, mir.Panic{Reason: entry.Id, Responsible: responsible})
	return i
}

// spliceModule renames every binding of mod's body through a fresh id
// mapping and returns the renamed entries plus the id of mod's export
// struct, for the caller to insert at the `use` site (spec §4.5 pass 4's
// "its body is spliced in, with all ids renamed through a fresh mapping").
func (o *optimizerState) spliceModule(mod *mir.Module) ([]mir.Entry, mir.Id) {
	mapping := make(map[mir.Id]mir.Id, len(mod.Body.Entries))
	for _, e := range mod.Body.Entries {
		mapping[e.Id] = o.gen.fresh()
	}
	for _, e := range mod.Body.Entries {
		o.freshenNestedIds(e.Expression, mapping)
	}
	var out []mir.Entry
	for _, e := range mod.Body.Entries {
		out = append(out, mir.Entry{Id: mapping[e.Id], Expression: rewriteIds(e.Expression, mapping)})
	}
	result, ok := mapping[mod.Body.Return]
	if !ok {
		// An optimized module's return is its export struct, always one of
		// its own entries; an empty module just yields a fresh empty struct.
		result = o.gen.fresh()
		out = append(out, mir.Entry{Id: result, Expression: mir.Struct{}})
	}
	return out, result
}

// inlineCalls inlines direct calls to Function literals that are tiny, that
// contain a UseModule (to unlock further module folding), or whose
// arguments are all const (spec §4.5 pass 5). Each callee body is inlined
// at most Options.InlineRecursionCap times in total, which also ends
// recursive inlining.
func (o *optimizerState) inlineCalls(w *workingBody, responsible mir.Id) bool {
	changed := false
	for i := 0; i < len(w.entries); i++ {
		e := w.entries[i]
		call, ok := e.Expression.(mir.Call)
		if !ok {
			continue
		}
		fnExpr, ok := w.get(call.Function)
		if !ok {
			continue
		}
		fn, ok := fnExpr.(mir.Function)
		if !ok {
			continue
		}
		if len(fn.Parameters)+1 != len(call.Arguments) {
			continue
		}
		if !o.shouldInline(w, fn, call) {
			continue
		}
		if o.depth[fn.Body] >= o.opts.InlineRecursionCap {
			continue
		}
		o.depth[fn.Body]++
		spliced, result := o.spliceFunctionBody(fn, call.Arguments, responsible)
		i = w.insertBefore(i, spliced)
		w.replace(i, mir.Reference{Target: result})
		changed = true
	}
	return changed
}

func (o *optimizerState) shouldInline(w *workingBody, fn mir.Function, call mir.Call) bool {
	complexity := bodyComplexity(fn.Body)
	if complexity.IsTiny() {
		return true
	}
	if bodyHasUseModule(fn.Body) {
		return true
	}
	// The trailing argument is always the forwarded responsible id (an
	// HirId, never a constant-foldable value) rather than one of fn's own
	// parameters, so it's excluded from the const-args heuristic.
	for _, a := range call.Arguments[:len(call.Arguments)-1] {
		if !w.isConst(a) {
			return false
		}
	}
	return true
}

func bodyComplexity(b *mir.Body) Complexity {
	selfContained := true
	bound := make(map[mir.Id]bool)
	for _, e := range b.Entries {
		bound[e.Id] = true
	}
	for _, e := range b.Entries {
		for _, ref := range freeIds(e.Expression) {
			if !bound[ref] {
				selfContained = false
			}
		}
	}
	if !bound[b.Return] {
		selfContained = false
	}
	return Complexity{Expressions: len(b.Entries), IsSelfContained: selfContained}
}

func bodyHasUseModule(b *mir.Body) bool {
	for _, e := range b.Entries {
		switch v := e.Expression.(type) {
		case mir.UseModule:
			return true
		case mir.Function:
			if bodyHasUseModule(v.Body) {
				return true
			}
		}
	}
	return false
}

// spliceFunctionBody copies fn's body under fresh ids, binding its
// parameters to args and its ResponsibleParameter to the enclosing
// responsible id (spec §9 Design Note (c): "the caller supplies its own HIR
// id as the responsible argument"). Returns the renamed entries (for the
// caller to insert at the call site) and the id holding the inlined body's
// return value.
func (o *optimizerState) spliceFunctionBody(fn mir.Function, args []mir.Id, responsible mir.Id) ([]mir.Entry, mir.Id) {
	substituted := make(map[mir.Id]bool, len(fn.Parameters)+1)
	mapping := make(map[mir.Id]mir.Id, len(fn.Body.Entries))
	for i, p := range fn.Parameters {
		mapping[p] = args[i]
		substituted[p] = true
	}
	mapping[fn.ResponsibleParameter] = responsible
	substituted[fn.ResponsibleParameter] = true

	for _, e := range fn.Body.Entries {
		if !substituted[e.Id] {
			mapping[e.Id] = o.gen.fresh()
		}
	}
	for _, e := range fn.Body.Entries {
		o.freshenNestedIds(e.Expression, mapping)
	}
	var out []mir.Entry
	for _, e := range fn.Body.Entries {
		if substituted[e.Id] {
			continue // parameters/responsible already point at caller-supplied ids
		}
		out = append(out, mir.Entry{Id: mapping[e.Id], Expression: rewriteIds(e.Expression, mapping)})
	}
	if result, ok := mapping[fn.Body.Return]; ok {
		return out, result
	}
	// The callee returned one of its own captures: an id of the enclosing
	// body, valid to reference directly after splicing.
	return out, fn.Body.Return
}

// freshenNestedIds extends mapping with a fresh id for every binding
// defined inside expr's nested function bodies, so splicing the same
// callee body at two call sites never produces duplicate ids. Nested
// bodies are freshened after their enclosing entries, keeping the
// module-wide "inner ids are larger than anything they can capture"
// ordering capturedIds relies on.
func (o *optimizerState) freshenNestedIds(expr mir.Expression, mapping map[mir.Id]mir.Id) {
	fn, ok := expr.(mir.Function)
	if !ok {
		return
	}
	for _, e := range fn.Body.Entries {
		if _, exists := mapping[e.Id]; !exists {
			mapping[e.Id] = o.gen.fresh()
		}
	}
	for _, e := range fn.Body.Entries {
		o.freshenNestedIds(e.Expression, mapping)
	}
}

// liftConstants moves leaf-const expressions (spec §4.5 pass 6: "any
// expression whose value is const ... is moved to the enclosing scope") out
// of nested function bodies and into w. Only leaf constants (no operands of
// their own) are lifted; composite consts like Text/Struct stay in the
// function body. Once their parts have been lifted they read ids smaller
// than the function's own first id, which capturedIds (internal/mir) treats
// as captures rather than locals — so nothing downstream needs to know
// lifting happened.
func (o *optimizerState) liftConstants(w *workingBody, isTopLevel bool) bool {
	changed := false
	for i := 0; i < len(w.entries); i++ {
		fn, ok := w.entries[i].Expression.(mir.Function)
		if !ok {
			continue
		}
		var lifted []mir.Entry
		kept := fn.Body.Entries[:0:0]
		for _, e := range fn.Body.Entries {
			if !isLeafConstExpression(e.Expression) {
				kept = append(kept, e)
				continue
			}
			lifted = append(lifted, e)
			if e.Id == fn.Body.Return {
				refID := o.gen.fresh()
				kept = append(kept, mir.Entry{Id: refID, Expression: mir.Reference{Target: e.Id}})
				fn.Body.Return = refID
			}
		}
		if len(lifted) == 0 {
			continue
		}
		fn.Body.Entries = kept
		w.replace(i, fn)
		i = w.insertBefore(i, lifted)
		changed = true
	}
	return changed
}

// isLeafConstExpression reports whether expr is a const value with no
// operands of its own — the subset constant lifting can move verbatim
// without first lifting anything it depends on.
func isLeafConstExpression(expr mir.Expression) bool {
	switch expr.(type) {
	case mir.Int, mir.TextPart, mir.Symbol, mir.Builtin, mir.HirId:
		return true
	default:
		return false
	}
}

// shakeTree removes entries with zero remaining references whose
// definitions are pure (spec §4.5 pass 7).
func (o *optimizerState) shakeTree(w *workingBody, isTopLevel bool) bool {
	refCount := make(map[mir.Id]int)
	refCount[w.ret]++
	if isTopLevel {
		for _, root := range o.extraRoots {
			refCount[root]++
		}
	}
	// freeIds, not references: a nested function body's reads of enclosing
	// ids must keep those ids alive even while the function's Captured
	// list is stale mid-optimization.
	for _, e := range w.entries {
		for _, r := range freeIds(e.Expression) {
			refCount[r]++
		}
	}
	kept := w.entries[:0:0]
	changed := false
	for _, e := range w.entries {
		if _, isParam := e.Expression.(mir.Parameter); isParam {
			// Parameter slots are part of the body's calling convention
			// (spec §3's [captured…, parameters…, responsible, locals…]);
			// an unused one still occupies its stack slot.
			kept = append(kept, e)
			continue
		}
		if refCount[e.Id] == 0 && e.Id != w.ret && w.insights.IsPure(e.Id) {
			w.insights.Forget(e.Id)
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	w.entries = kept
	return changed
}

func isPureExpression(expr mir.Expression) bool {
	switch expr.(type) {
	case mir.Call:
		return false // conservative: calls may have effects unless already folded away
	case mir.Needs, mir.Panic, mir.UseModule:
		return false
	default:
		return true
	}
}

// cleanupModule is spec §4.5 pass 8 run once over the whole module tree:
// within each body constants are sorted to the front in the stable order
// the spec names (HirId < Builtin < Tag(valueless) < Int < Text < others),
// then every binding in the module is renumbered densely starting at 1 —
// a body's entries first, its nested function bodies after, so each body's
// defined ids form a contiguous range and a nested body's ids are always
// larger than everything it can capture from enclosing scopes. Pre-cleanup
// ids are unique module-wide (one shared generator), so a single mapping
// renumbers every body consistently, captures included.
func cleanupModule(body *mir.Body) map[mir.Id]mir.Id {
	mapping := make(map[mir.Id]mir.Id)
	next := mir.Id(1)
	var number func(b *mir.Body)
	number = func(b *mir.Body) {
		sort.SliceStable(b.Entries, func(i, j int) bool {
			return cleanupRank(b.Entries[i].Expression) < cleanupRank(b.Entries[j].Expression)
		})
		for _, e := range b.Entries {
			mapping[e.Id] = next
			next++
		}
		for _, e := range b.Entries {
			if fn, ok := e.Expression.(mir.Function); ok {
				number(fn.Body)
			}
		}
	}
	number(body)

	// rewriteIds recurses into nested function bodies itself, so one
	// rewrite per top-level entry covers the whole tree.
	for i := range body.Entries {
		body.Entries[i].Id = mapping[body.Entries[i].Id]
		body.Entries[i].Expression = rewriteIds(body.Entries[i].Expression, mapping)
	}
	if m, ok := mapping[body.Return]; ok {
		body.Return = m
	}
	return mapping
}

func cleanupRank(expr mir.Expression) int {
	switch expr.(type) {
	case mir.Parameter:
		// Parameters stay ahead of everything: LIR's body layout is
		// [captured…, parameters…, responsible, locals…] (spec §3).
		return 0
	case mir.HirId:
		return 1
	case mir.Builtin:
		return 2
	case mir.Symbol:
		return 3
	case mir.Int:
		return 4
	case mir.TextPart:
		return 5
	default:
		return 6
	}
}
