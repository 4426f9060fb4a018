package miropt

import (
	"fmt"

	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/mir"
	"github.com/candy-lang/candy-sub004/internal/modident"
)

// ModuleResolver fetches another module's already-optimized MIR for module
// folding (spec §4.5 pass 4). It is supplied by internal/pipeline, which
// backs it with the query cache so resolution is itself memoized and
// recursive ("that module's optimized_mir is fetched (recursively)").
type ModuleResolver func(current modident.Identifier, path string) (*mir.Module, bool)

// Options configures one optimization run.
type Options struct {
	Resolver ModuleResolver
	// InlineRecursionCap bounds how many times any one function body is
	// inlined during a single Optimize run (default 32). Every inlined call
	// site counts toward it, recursive or not.
	InlineRecursionCap int
}

func DefaultOptions() Options {
	return Options{InlineRecursionCap: 32}
}

// Optimize runs the fixed-point pass over every body in module (spec §4.5)
// and returns a new, optimized mir.Module. The input module is never
// mutated, so callers (the query cache) can safely hold onto the original.
func Optimize(module *mir.Module, bag *diagnostics.Bag, opts Options) *mir.Module {
	o := &optimizerState{
		module: module.Identifier,
		bag:    bag,
		opts:   opts,
		gen:    &idGen{next: nextFreeID(module) + 1},
		depth:  make(map[*mir.Body]int),
	}
	// Exports stay alive through the returned export struct (mir.Build makes
	// it the top-level body's return value); only the module's synthesized
	// responsible id needs pinning, since nothing references it in a module
	// with no top-level calls.
	o.extraRoots = []mir.Id{module.Responsible}
	body, _ := o.optimizeBody(deepCopyBody(module.Body), module.Responsible, true)
	mapping := cleanupModule(body)
	mir.RecomputeCaptures(body)

	remap := func(id mir.Id) mir.Id {
		if m, ok := mapping[id]; ok {
			return m
		}
		return id
	}
	out := &mir.Module{Identifier: module.Identifier, Body: body, Responsible: remap(module.Responsible)}
	out.Exports = exportsFromReturnStruct(body, module.Exports)
	return out
}

// exportsFromReturnStruct re-derives the export table from the optimized
// top-level body's returned export struct, so ids rewritten by CSE or
// reference following are reflected instead of carrying the pre-optimization
// ids forward. Falls back to the original table (a module with no public
// assignments has no struct to read).
func exportsFromReturnStruct(body *mir.Body, original []mir.Export) []mir.Export {
	retExpr, ok := body.Get(body.Return)
	if !ok {
		return nil
	}
	st, ok := retExpr.(mir.Struct)
	if !ok {
		if len(original) == 0 {
			return nil
		}
		return append([]mir.Export(nil), original...)
	}
	var out []mir.Export
	for _, f := range st.Fields {
		keyExpr, ok := body.Get(f.Key)
		if !ok {
			continue
		}
		if sym, ok := keyExpr.(mir.Symbol); ok {
			out = append(out, mir.Export{Name: sym.Name, Id: f.Value})
		}
	}
	return out
}

// deepCopyBody clones a body tree so optimization never mutates the module
// the query cache memoized — passes reorder and rewrite entries in place,
// and nested bodies would otherwise be shared with the input by pointer.
func deepCopyBody(b *mir.Body) *mir.Body {
	out := &mir.Body{Entries: make([]mir.Entry, len(b.Entries)), Return: b.Return}
	for i, e := range b.Entries {
		if fn, ok := e.Expression.(mir.Function); ok {
			fn.Body = deepCopyBody(fn.Body)
			fn.Captured = append([]mir.Id(nil), fn.Captured...)
			fn.Parameters = append([]mir.Id(nil), fn.Parameters...)
			e.Expression = fn
		}
		out.Entries[i] = e
	}
	return out
}

func nextFreeID(module *mir.Module) mir.Id {
	max := mir.Id(0)
	var walk func(b *mir.Body)
	walk = func(b *mir.Body) {
		for _, e := range b.Entries {
			if e.Id > max {
				max = e.Id
			}
			if fn, ok := e.Expression.(mir.Function); ok {
				walk(fn.Body)
			}
		}
	}
	walk(module.Body)
	return max
}

type idGen struct{ next mir.Id }

func (g *idGen) fresh() mir.Id {
	id := g.next
	g.next++
	return id
}

type optimizerState struct {
	module modident.Identifier
	bag    *diagnostics.Bag
	opts   Options
	gen    *idGen
	depth  map[*mir.Body]int // recursion-cap bookkeeping, keyed by callee body identity

	// extraRoots are ids that must survive shakeTree even with zero
	// in-body references. Optimize puts only the module's synthesized
	// responsible id here; exports stay alive through the returned export
	// struct.
	extraRoots []mir.Id
}

// optimizeBody runs passes to a fixed point over one body (top-level or a
// function body), recursing into any nested Function bodies first so
// inlining decisions at this level see already-optimized callees. The
// second return reports whether any pass changed anything, so the caller's
// own fixed point doesn't spin on an already-settled nested body.
func (o *optimizerState) optimizeBody(body *mir.Body, responsible mir.Id, isTopLevel bool) (*mir.Body, bool) {
	work := newWorkingBody(body)

	anyChange := false
	for pass := 0; pass < 64; pass++ {
		changed := false
		for i := range work.entries {
			if fn, ok := work.entries[i].Expression.(mir.Function); ok {
				optimized, childChanged := o.optimizeBody(fn.Body, fn.ResponsibleParameter, false)
				if childChanged {
					fn.Body = optimized
					work.replace(i, fn)
					changed = true
				}
			}
		}

		if o.followReferences(work) {
			changed = true
		}
		if o.foldConstants(work, responsible) {
			changed = true
		}
		if o.eliminateCommonSubtrees(work) {
			changed = true
		}
		if o.opts.Resolver != nil && o.foldModules(work, responsible) {
			changed = true
		}
		if o.inlineCalls(work, responsible) {
			changed = true
		}
		if o.liftConstants(work, isTopLevel) {
			changed = true
		}
		if o.shakeTree(work, isTopLevel) {
			changed = true
		}
		if !changed {
			break
		}
		anyChange = true
	}

	return &mir.Body{Entries: work.entries, Return: work.ret}, anyChange
}

// workingBody is the mutable scratch representation a single optimizeBody
// call operates on between passes: an ordered entry slice plus the return
// id, both rewritten in place as passes fire, and the insights table spec
// §4.5 threads through the walk — the Timeline is the visible-expressions
// index behind get, the FlowValues are the pureness/const sets the passes
// consult. Passes mutate entries through replace and insertBefore, and tree
// shaking calls Insights.Forget for each binding it drops, so the table
// never drifts from the entries.
type workingBody struct {
	entries  []mir.Entry
	ret      mir.Id
	insights *Insights
}

func newWorkingBody(body *mir.Body) *workingBody {
	w := &workingBody{
		entries:  append([]mir.Entry(nil), body.Entries...),
		ret:      body.Return,
		insights: NewInsights(),
	}
	for _, e := range w.entries {
		w.register(e)
	}
	return w
}

// register makes an entry visible to the timeline and seeds its flow value.
// Const starts false; constValue promotes it once the expression proves out
// (and never demotes — spec §8's pure/const monotonicity).
func (w *workingBody) register(e mir.Entry) {
	w.insights.Timeline.Visible(e.Id, e.Expression)
	w.insights.Set(e.Id, FlowValue{Pure: isPureExpression(e.Expression)})
}

// replace swaps the expression bound at position i, keeping the timeline
// and flow value in step. An already-const id stays const: the optimizer
// only ever replaces expressions with equal-or-more-constant ones.
func (w *workingBody) replace(i int, expr mir.Expression) {
	id := w.entries[i].Id
	w.entries[i].Expression = expr
	w.insights.Timeline.Visible(id, expr)
	old := w.insights.Get(id)
	w.insights.Set(id, FlowValue{Pure: isPureExpression(expr), Const: old.Const})
}

// insertBefore splices extra ahead of position i, returning i's new index
// (just past the inserted run), so passes can materialize new bindings
// without violating define-before-use ordering.
func (w *workingBody) insertBefore(i int, extra []mir.Entry) int {
	if len(extra) == 0 {
		return i
	}
	for _, e := range extra {
		w.register(e)
	}
	rest := append([]mir.Entry(nil), w.entries[i:]...)
	w.entries = append(w.entries[:i], append(extra, rest...)...)
	return i + len(extra)
}

func (w *workingBody) get(id mir.Id) (mir.Expression, bool) {
	return w.insights.Timeline.Get(id)
}

// isConst reports whether id's value is compile-time constant, consulting
// the flow table first and falling back to (and memoizing) a structural
// check.
func (w *workingBody) isConst(id mir.Id) bool {
	if w.insights.IsConst(id) {
		return true
	}
	_, ok := constValue(w, id)
	return ok
}

// rewriteIds rewrites every Id referenced inside expr according to mapping,
// returning the possibly-new expression. Used by reference following, CSE,
// and cleanup's renumbering.
func rewriteIds(expr mir.Expression, mapping map[mir.Id]mir.Id) mir.Expression {
	rw := func(id mir.Id) mir.Id {
		if m, ok := mapping[id]; ok {
			return m
		}
		return id
	}
	switch e := expr.(type) {
	case mir.Reference:
		return mir.Reference{Target: rw(e.Target)}
	case mir.Text:
		parts := make([]mir.Id, len(e.Parts))
		for i, p := range e.Parts {
			parts[i] = rw(p)
		}
		return mir.Text{Parts: parts}
	case mir.Struct:
		fields := make([]mir.StructPair, len(e.Fields))
		for i, f := range e.Fields {
			fields[i] = mir.StructPair{Key: rw(f.Key), Value: rw(f.Value)}
		}
		return mir.Struct{Fields: fields}
	case mir.Call:
		args := make([]mir.Id, len(e.Arguments))
		for i, a := range e.Arguments {
			args[i] = rw(a)
		}
		return mir.Call{Function: rw(e.Function), Arguments: args}
	case mir.UseModule:
		return mir.UseModule{Current: e.Current, Path: rw(e.Path)}
	case mir.Needs:
		e.Condition = rw(e.Condition)
		if e.HasReason {
			e.Reason = rw(e.Reason)
		}
		return e
	case mir.Panic:
		e.Reason = rw(e.Reason)
		e.Responsible = rw(e.Responsible)
		return e
	case mir.Error:
		if e.HasChild {
			e.Child = rw(e.Child)
		}
		return e
	case mir.Function:
		// A nested function's body can reference enclosing-scope ids (its
		// captures), so any rewrite of the enclosing body has to reach
		// through it. The body is deep-copied rather than mutated in place
		// because spliceFunctionBody rewrites the same callee once per call
		// site and the copies must not share entries.
		captured := make([]mir.Id, len(e.Captured))
		for i, c := range e.Captured {
			captured[i] = rw(c)
		}
		params := make([]mir.Id, len(e.Parameters))
		for i, p := range e.Parameters {
			params[i] = rw(p)
		}
		inner := &mir.Body{Entries: make([]mir.Entry, len(e.Body.Entries))}
		for i, en := range e.Body.Entries {
			inner.Entries[i] = mir.Entry{Id: rw(en.Id), Expression: rewriteIds(en.Expression, mapping)}
		}
		inner.Return = rw(e.Body.Return)
		return mir.Function{
			Captured:             captured,
			Parameters:           params,
			ResponsibleParameter: rw(e.ResponsibleParameter),
			Body:                 inner,
		}
	default:
		return expr
	}
}

// referencesAny reports whether expr (or any nested function body inside
// it) reads an id that mapping would rewrite, so passes can track "changed"
// without comparing rewritten copies.
func referencesAny(expr mir.Expression, mapping map[mir.Id]mir.Id) bool {
	for _, r := range references(expr) {
		if _, ok := mapping[r]; ok {
			return true
		}
	}
	if fn, ok := expr.(mir.Function); ok {
		for _, p := range fn.Parameters {
			if _, ok := mapping[p]; ok {
				return true
			}
		}
		if _, ok := mapping[fn.ResponsibleParameter]; ok {
			return true
		}
		for _, e := range fn.Body.Entries {
			if referencesAny(e.Expression, mapping) {
				return true
			}
		}
		if _, ok := mapping[fn.Body.Return]; ok {
			return true
		}
	}
	return false
}

// freeIds returns every id expr reads that is not bound inside expr itself:
// for a Function that means references escaping its body into enclosing
// scopes, computed from the body directly rather than from the (possibly
// stale mid-optimization) Captured list.
func freeIds(expr mir.Expression) []mir.Id {
	var out []mir.Id
	collectFreeIds(expr, map[mir.Id]bool{}, &out)
	return out
}

func collectFreeIds(expr mir.Expression, bound map[mir.Id]bool, out *[]mir.Id) {
	fn, ok := expr.(mir.Function)
	if !ok {
		for _, r := range references(expr) {
			if !bound[r] {
				*out = append(*out, r)
			}
		}
		return
	}
	inner := make(map[mir.Id]bool, len(bound)+len(fn.Body.Entries))
	for id := range bound {
		inner[id] = true
	}
	for _, e := range fn.Body.Entries {
		inner[e.Id] = true
	}
	for _, e := range fn.Body.Entries {
		collectFreeIds(e.Expression, inner, out)
	}
	if !inner[fn.Body.Return] {
		*out = append(*out, fn.Body.Return)
	}
}

// references returns every Id directly read by expr (not recursing through
// Reference chains), used for both rewriting and liveness counting.
func references(expr mir.Expression) []mir.Id {
	var out []mir.Id
	switch e := expr.(type) {
	case mir.Reference:
		out = append(out, e.Target)
	case mir.Text:
		out = append(out, e.Parts...)
	case mir.Struct:
		for _, f := range e.Fields {
			out = append(out, f.Key, f.Value)
		}
	case mir.Call:
		out = append(out, e.Function)
		out = append(out, e.Arguments...)
	case mir.UseModule:
		out = append(out, e.Path)
	case mir.Needs:
		out = append(out, e.Condition)
		if e.HasReason {
			out = append(out, e.Reason)
		}
	case mir.Panic:
		out = append(out, e.Reason, e.Responsible)
	case mir.Error:
		if e.HasChild {
			out = append(out, e.Child)
		}
	case mir.Function:
		out = append(out, e.Captured...)
	}
	return out
}

// fmtKey stringifies a const Expression into a canonical dedup key for CSE;
// it only needs to distinguish const expressions from one another, so a
// simple Sprintf over the struct is sufficient and deterministic.
func fmtKey(expr mir.Expression) string {
	return fmt.Sprintf("%#v", expr)
}
