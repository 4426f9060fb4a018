// Package mir implements Candy's Mid-level IR builder (spec §3, §4.4):
// HIR → MIR. Each HIR Body becomes a linear `(Id, Expression)` list with a
// dense, gap-free id space; every function gains a synthesized
// ResponsibleParameter; public assignments are collected into the module's
// exported struct.
//
// Grounded on the teacher's HoistingCompiler (internal/compiler/hoisting_compiler.go)
// two-pass idiom: collect bindings first, then compile bodies against the
// fully known set — MIR's id generator running ahead of body flattening
// mirrors that same collect-then-emit shape.
package mir

import (
	"github.com/candy-lang/candy-sub004/internal/hir"
	"github.com/candy-lang/candy-sub004/internal/modident"
)

// Id is dense per module: Build hands ids out from one module-wide counter
// and every MIR id is defined before use. Build does not make each Body's
// ids contiguous (a nested function's ids sit between those of its
// enclosing body); the optimizer's cleanup pass renumbers every body into a
// contiguous range.
type Id int

type Expression interface{ isExpression() }

type Int struct{ Value int64 }
type Text struct{ Parts []Id }
type TextPart struct{ Value string }
type Reference struct{ Target Id }
type Symbol struct{ Name string }

type StructPair struct{ Key, Value Id }
type Struct struct{ Fields []StructPair }

// Parameter is a placeholder standing in for a function parameter within
// the visible-expression tables the optimizer carries (spec §3: "Expressions
// additionally include Parameter").
type Parameter struct{}

// Function carries an explicit ResponsibleParameter: a caller-supplied id
// used to attribute blame for panics raised inside the body (spec §3, §9
// Design Note (c)).
type Function struct {
	Captured              []Id
	Parameters            []Id
	ResponsibleParameter  Id
	Body                  *Body
}

type Call struct {
	Function  Id
	Arguments []Id
}

type BuiltinKind string
type Builtin struct{ Kind BuiltinKind }

type UseModule struct {
	Current modident.Identifier
	Path    Id // the (const or not) expression supplying the path text
}

type Needs struct {
	Condition   Id
	Reason      Id // zero value (no Reason) represented by HasReason=false
	HasReason   bool
	Responsible Id
}

type Panic struct {
	Reason      Id
	Responsible Id
}

type Error struct {
	Child  Id
	HasChild bool
}

// HirId is a literal blame token: a value of the heap's HirId kind (spec
// §3/§4.7) identifying the specific source construct responsible for a
// panic. It is bound once wherever a responsible_parameter chain needs a
// fresh origin — the top-level body's implicit responsibility, and each
// `needs` call site (spec §9 Design Note (c): "the caller supplies its own
// HIR id as the responsible argument" at the point it originates blame).
type HirId struct{ Value int }

func (Int) isExpression()       {}
func (Text) isExpression()      {}
func (TextPart) isExpression()  {}
func (Reference) isExpression() {}
func (Symbol) isExpression()    {}
func (Struct) isExpression()    {}
func (Parameter) isExpression() {}
func (Function) isExpression()  {}
func (Call) isExpression()      {}
func (Builtin) isExpression()   {}
func (HirId) isExpression()     {}
func (UseModule) isExpression() {}
func (Needs) isExpression()     {}
func (Panic) isExpression()     {}
func (Error) isExpression()     {}

// Entry is one (Id, Expression) binding in body-definition order.
type Entry struct {
	Id         Id
	Expression Expression
}

// Body is a linear list of bindings with an explicit return value (the last
// entry's id, per spec §3: "the last expression's ID is the body's return
// value").
type Body struct {
	Entries []Entry
	Return  Id
}

func (b *Body) push(id Id, expr Expression) {
	b.Entries = append(b.Entries, Entry{Id: id, Expression: expr})
	b.Return = id
}

// Get looks up the expression bound to id, for passes that need random
// access rather than the linear Entries view.
func (b *Body) Get(id Id) (Expression, bool) {
	for _, e := range b.Entries {
		if e.Id == id {
			return e.Expression, true
		}
	}
	return nil, false
}

// Export is one public top-level assignment, surfaced so the bytecode
// compiler (or an embedder evaluating `Main`) can look an export up by name.
type Export struct {
	Name string
	Id   Id
}

// Module is one MIR-lowered module: its top-level body plus exports.
type Module struct {
	Identifier modident.Identifier
	Body       *Body
	Exports    []Export
	// Responsible is the id of the module-level HirId synthesized in Build,
	// used as the responsible_parameter calls at the top level forward.
	Responsible Id
}

// idGen hands out dense ids shared across an entire module, so nested
// function bodies and the top-level body never collide.
type idGen struct{ next Id }

func (g *idGen) next_() Id {
	id := g.next
	g.next++
	return id
}

// Build lowers a hir.Module into an mir.Module (spec §4.4).
func Build(module modident.Identifier, h *hir.Module) *Module {
	b := &builder{
		gen:     &idGen{},
		mapping: make(map[hir.Id]Id),
	}
	top := &Body{}
	mod := &Module{Identifier: module, Body: top}

	// The module body has no caller to supply a responsible_parameter, so
	// it gets one synthetic HirId of its own (spec §4.4: every call needs a
	// responsible id to forward; the top level originates the first one).
	b.responsible = b.bind(top, HirId{Value: b.nextHirId()})
	mod.Responsible = b.responsible

	for _, id := range h.Body.Order {
		b.lowerBinding(h.Body, id, top)
	}
	if h.Body.Return != 0 || len(h.Body.Order) > 0 {
		top.Return = b.mapping[h.Body.Return]
	}

	for _, exp := range h.Exports {
		mod.Exports = append(mod.Exports, Export{Name: exp.Name, Id: b.mapping[exp.Id]})
	}

	// Public assignments form the top-level body's returned struct — the
	// export map (spec §4.4). Running the module body therefore yields a
	// Struct from which an embedder looks up `main` (or any other export)
	// by its Symbol key.
	if len(mod.Exports) > 0 {
		fields := make([]StructPair, 0, len(mod.Exports))
		for _, exp := range mod.Exports {
			key := b.bind(top, Symbol{Name: exp.Name})
			fields = append(fields, StructPair{Key: key, Value: exp.Id})
		}
		b.bind(top, Struct{Fields: fields})
	}
	return mod
}

type builder struct {
	gen     *idGen
	mapping map[hir.Id]Id

	// responsible is the current scope's responsible_parameter id: every
	// ordinary call forwards it as an implicit final argument (spec §4.4,
	// §9 Design Note (c)), unless the call site itself originates blame
	// (a `needs` check), in which case a fresh HirId is synthesized instead.
	responsible  Id
	hirIdCounter int
}

func (b *builder) nextHirId() int {
	id := b.hirIdCounter
	b.hirIdCounter++
	return id
}

// lowerBinding flattens one HIR (Id, Expression) pair into target, recording
// the hir.Id → mir.Id mapping so later References resolve correctly.
func (b *builder) lowerBinding(source *hir.Body, id hir.Id, target *Body) Id {
	if mapped, ok := b.mapping[id]; ok {
		return mapped
	}
	expr, ok := source.Values[id]
	if !ok {
		newID := b.gen.next_()
		b.mapping[id] = newID
		target.push(newID, Error{})
		return newID
	}
	mirID := b.lowerExpr(expr, target)
	b.mapping[id] = mirID
	return mirID
}

// lowerExpr flattens a single HIR expression (recursing into sub-expressions
// so every argument becomes its own bound id) and returns the id it was
// bound to in target.
func (b *builder) lowerExpr(expr hir.Expression, target *Body) Id {
	switch e := expr.(type) {
	case hir.Int:
		return b.bind(target, Int{Value: e.Value})
	case hir.TextPart:
		return b.bind(target, TextPart{Value: e.Value})
	case hir.Text:
		var parts []Id
		for _, p := range e.Parts {
			parts = append(parts, b.lowerExpr(p, target))
		}
		// Interpolated text joins its parts left to right with
		// text.concatenate calls, which the constant folder collapses when
		// every part is const.
		if len(parts) > 1 {
			concat := b.bind(target, Builtin{Kind: BuiltinKind("text.concatenate")})
			joined := parts[0]
			for _, p := range parts[1:] {
				joined = b.bind(target, Call{Function: concat, Arguments: []Id{joined, p}})
			}
			return joined
		}
		return b.bind(target, Text{Parts: parts})
	case hir.Symbol:
		return b.bind(target, Symbol{Name: e.Name})
	case hir.Reference:
		return b.bind(target, Reference{Target: b.mapping[e.Target]})
	case hir.Struct:
		var fields []StructPair
		for _, f := range e.Fields {
			fields = append(fields, StructPair{
				Key:   b.lowerExpr(f.Key, target),
				Value: b.lowerExpr(f.Value, target),
			})
		}
		return b.bind(target, Struct{Fields: fields})
	case hir.Builtin:
		return b.bind(target, Builtin{Kind: BuiltinKind(e.Kind)})
	case hir.Function:
		return b.lowerFunction(e, target)
	case hir.Call:
		_, calleeIsBuiltin := e.Function.(hir.Builtin)
		fn := b.lowerExpr(e.Function, target)
		var args []Id
		for _, a := range e.Arguments {
			args = append(args, b.lowerExpr(a, target))
		}
		// Forward this scope's responsible_parameter as the implicit final
		// argument (spec §4.4: "every call site forwards its own current
		// responsible id to the callee") — but only for closure calls.
		// Builtins are fixed-arity primitives (internal/builtins.Arity)
		// evaluated directly by the constant folder and the VM, with no
		// responsible-parameter slot of their own.
		if !calleeIsBuiltin {
			args = append(args, b.responsible)
		}
		return b.bind(target, Call{Function: fn, Arguments: args})
	case hir.UseModule:
		path := b.bind(target, TextPart{Value: e.Path})
		return b.bind(target, UseModule{Current: e.Current, Path: path})
	case hir.Needs:
		cond := b.lowerExpr(e.Condition, target)
		// A failed `needs` blames the needs call itself, not whatever
		// responsible id the enclosing scope happened to be carrying (spec
		// §9 Design Note (c)), so it gets a fresh HirId of its own.
		origin := b.bind(target, HirId{Value: b.nextHirId()})
		n := Needs{Condition: cond, Responsible: origin}
		if e.Reason != nil {
			n.Reason = b.lowerExpr(e.Reason, target)
			n.HasReason = true
		}
		return b.bind(target, n)
	case hir.Error:
		if e.Child != nil {
			child := b.lowerExpr(e.Child, target)
			return b.bind(target, Error{Child: child, HasChild: true})
		}
		return b.bind(target, Error{})
	default:
		return b.bind(target, Error{})
	}
}

// lowerFunction flattens a nested HIR function body into its own MIR Body,
// synthesizing the responsible parameter the spec requires every function
// carry (spec §4.4: "Every function gains a synthetic responsible_parameter").
func (b *builder) lowerFunction(fn hir.Function, target *Body) Id {
	inner := &Body{}
	var params []Id
	for _, p := range fn.Parameters {
		id := b.gen.next_()
		b.mapping[p] = id
		inner.push(id, Parameter{})
		params = append(params, id)
	}
	responsible := b.gen.next_()
	inner.push(responsible, Parameter{})

	// Nested calls inside this function forward THIS function's
	// responsible_parameter, not whatever scope enclosed the function
	// literal itself — restore the caller's on the way back out.
	outerResponsible := b.responsible
	b.responsible = responsible

	var last Id
	if fn.Body != nil {
		for _, bodyID := range fn.Body.Order {
			last = b.lowerBinding(fn.Body, bodyID, inner)
		}
		inner.Return = last
	}
	b.responsible = outerResponsible

	return b.bind(target, Function{
		Captured:             capturedIds(inner),
		Parameters:           params,
		ResponsibleParameter: responsible,
		Body:                 inner,
	})
}

// RecomputeCaptures walks body post-order and refreshes every nested
// Function's Captured list from scratch. Optimizer passes (constant
// lifting, inlining, module splicing) change which ids a function body
// references without re-deriving captures themselves; the optimizer calls
// this once after its fixed point settles so CreateFunction's captured[]
// (spec §4.6) reflects the final shape rather than the pre-optimization one.
func RecomputeCaptures(body *Body) {
	if body == nil {
		return
	}
	for i, e := range body.Entries {
		fn, ok := e.Expression.(Function)
		if !ok {
			continue
		}
		RecomputeCaptures(fn.Body)
		fn.Captured = capturedIds(fn.Body)
		body.Entries[i].Expression = fn
	}
}

// capturedIds returns every id body references that was bound outside of
// body itself — ids are handed out by a single module-wide generator in
// strictly increasing order, so any reference smaller than body's own first
// id must resolve in an enclosing scope and has to be captured at LIR time
// (spec §3's LIR `CreateFunction{captured[], body_id}`; a nested function's
// own Captured list is itself folded in, so captures propagate transitively
// through chains of closures).
func capturedIds(body *Body) []Id {
	if len(body.Entries) == 0 {
		return nil
	}
	firstOwnID := body.Entries[0].Id
	seen := make(map[Id]bool)
	var out []Id
	add := func(id Id) {
		if id < firstOwnID && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, e := range body.Entries {
		for _, r := range referencedIds(e.Expression) {
			add(r)
		}
	}
	// The return value itself may be an enclosing-scope id with no other
	// reader in this body (the optimizer reduces some functions to exactly
	// that shape), so it participates in capture analysis too.
	add(body.Return)
	return out
}

// referencedIds returns every id directly read by expr, including a nested
// Function's already-computed Captured list (so capture analysis composes
// through nested closures without re-walking their bodies).
func referencedIds(expr Expression) []Id {
	var out []Id
	switch e := expr.(type) {
	case Reference:
		out = append(out, e.Target)
	case Text:
		out = append(out, e.Parts...)
	case Struct:
		for _, f := range e.Fields {
			out = append(out, f.Key, f.Value)
		}
	case Call:
		out = append(out, e.Function)
		out = append(out, e.Arguments...)
	case UseModule:
		out = append(out, e.Path)
	case Needs:
		out = append(out, e.Condition)
		if e.HasReason {
			out = append(out, e.Reason)
		}
	case Panic:
		out = append(out, e.Reason, e.Responsible)
	case Error:
		if e.HasChild {
			out = append(out, e.Child)
		}
	case Function:
		out = append(out, e.Captured...)
	}
	return out
}

func (b *builder) bind(target *Body, expr Expression) Id {
	id := b.gen.next_()
	target.push(id, expr)
	return id
}
