package miropt

import (
	"fmt"

	"github.com/candy-lang/candy-sub004/internal/builtins"
	"github.com/candy-lang/candy-sub004/internal/lir"
	"github.com/candy-lang/candy-sub004/internal/mir"
	"github.com/candy-lang/candy-sub004/internal/modident"
)

// ToLIR lowers an already-optimized mir.Module into LIR (spec §3, §4.6
// first half) and runs the reference-count insertion pass described at the
// end of spec §4.5 ("a separate reference-count insertion pass ... inserts
// the minimal set of Dup/Drop instructions"). Grounded on spec §4.6's body
// layout `[captured…, parameters…, responsible, locals…]`.
//
// Refcounting scheme: every id's only consumers are the later entries (in
// the same body) that read it, plus one implicit consumer if the id is the
// body's Return (the caller becomes a consumer). Candy's IRs have no
// branches below the body level (ifElse/match are ordinary calls to
// closures, per spec §9 Design Note (b)), so one straight-line count per id
// suffices: for c consumers, emit a single Dup(id, c-1) right after the
// value becomes available — pre-producing c-1 extra independently-ownable
// references, one handed off at each later use/return — or, if c == 0, a
// single Drop(id): the value was produced (for a side effect) but nothing
// downstream will ever claim it. This keeps "dups − drops == consumers − 1"
// exactly (c=0: 0−1=−1; c≥1: (c−1)−0=c−1) without needing to track *where*
// along the body the last use falls.
func ToLIR(module *mir.Module) *lir.Module {
	b := &lirBuilder{constants: make(map[string]lir.ConstantId), module: module.Identifier}
	top, topMapping := b.lowerBody(module.Body, nil, nil, -1)
	out := &lir.Module{
		Identifier: module.Identifier,
		Constants:  b.pool,
		Bodies:     b.bodies,
		TopLevel:   top,
	}
	for _, exp := range module.Exports {
		if id, ok := topMapping[exp.Id]; ok {
			out.Exports = append(out.Exports, lir.Export{Name: exp.Name, Id: id})
		}
	}
	return out
}

type lirBuilder struct {
	pool      []lir.Constant
	constants map[string]lir.ConstantId
	bodies    []*lir.Body
	module    modident.Identifier
}

func (b *lirBuilder) intern(c lir.Constant) lir.ConstantId {
	key := fmt.Sprintf("%#v", c)
	if id, ok := b.constants[key]; ok {
		return id
	}
	id := lir.ConstantId(len(b.pool))
	b.pool = append(b.pool, c)
	b.constants[key] = id
	return id
}

// bodyCtx threads the pieces lowerExpr needs to synthesize extra constant
// entries (for default `needs` reasons, degraded-output panics) ahead of
// the entry currently being built, and to look up already-lowered ids.
type bodyCtx struct {
	lb      *lir.Body
	next    *lir.Id
	mapping map[mir.Id]lir.Id
}

// pushConst appends a PushConstant entry for c at the next free slot and
// returns that slot, for synthesized constants with no mir.Id of their own.
func (c *bodyCtx) pushConst(b *lirBuilder, constant lir.Constant) lir.Id {
	slot := *c.next
	*c.next++
	c.lb.Entries = append(c.lb.Entries, lir.Entry{Id: slot, Expression: lir.PushConstant{Constant: b.intern(constant)}})
	return slot
}

func (c *bodyCtx) slot(id mir.Id) lir.Id { return c.mapping[id] }

// lowerBody lowers one mir.Body into a freshly allocated lir.Body, returning
// its BodyId. capturedMirIDs/paramMirIDs are expressed in the *caller's*
// numbering (for captured ids) or are simply this body's own parameter ids;
// responsibleMirID is -1 for the top-level body, which has no synthesized
// responsible parameter.
func (b *lirBuilder) lowerBody(body *mir.Body, capturedMirIDs, paramMirIDs []mir.Id, responsibleMirID mir.Id) (lir.BodyId, map[mir.Id]lir.Id) {
	lb := &lir.Body{
		CapturedCount:  len(capturedMirIDs),
		ParameterCount: len(paramMirIDs),
		HasResponsible: responsibleMirID != -1,
	}
	mapping := make(map[mir.Id]lir.Id, len(capturedMirIDs)+len(body.Entries))
	next := lir.Id(0)
	for _, id := range capturedMirIDs {
		mapping[id] = next
		next++
	}

	bodyID := lir.BodyId(len(b.bodies))
	b.bodies = append(b.bodies, lb)

	ctx := &bodyCtx{lb: lb, next: &next, mapping: mapping}
	for _, e := range body.Entries {
		if _, ok := e.Expression.(mir.Parameter); ok {
			mapping[e.Id] = next
			if e.Id == responsibleMirID {
				lb.ResponsibleIndex = next
			}
			next++
			continue
		}
		// Lower the expression before reserving this entry's slot: lowerExpr
		// may synthesize PushConstant entries of its own (a needs call's
		// builtin and default reason), and a slot id must always equal the
		// value's position on the stack, so synthesized prerequisites take
		// the earlier numbers.
		lexpr := b.lowerExpr(ctx, e.Expression)
		slot := next
		next++
		mapping[e.Id] = slot
		lb.Entries = append(lb.Entries, lir.Entry{Id: slot, Expression: lexpr})
	}
	if ret, ok := mapping[body.Return]; ok {
		lb.Return = ret
	}

	insertRefcounts(lb)
	return bodyID, mapping
}

func (b *lirBuilder) lowerExpr(ctx *bodyCtx, expr mir.Expression) lir.Expression {
	switch e := expr.(type) {
	case mir.Int:
		return lir.PushConstant{Constant: b.intern(lir.ConstInt{Value: e.Value})}
	case mir.TextPart:
		return lir.PushConstant{Constant: b.intern(lir.ConstText{Value: e.Value})}
	case mir.Symbol:
		return lir.PushConstant{Constant: b.intern(lir.ConstTag{Symbol: e.Name, HasValue: false})}
	case mir.Builtin:
		return lir.PushConstant{Constant: b.intern(lir.ConstBuiltin{Kind: string(e.Kind)})}
	case mir.HirId:
		return lir.PushConstant{Constant: b.intern(lir.ConstHirId{Module: b.module, Hir: e.Value})}
	case mir.Reference:
		return lir.Reference{Target: ctx.slot(e.Target)}
	case mir.Text:
		// A single-part Text is just its one TextPart's id; mir.Build turns
		// multi-part (interpolated) text into text.concatenate calls, so a
		// Text reaching here has at most one part — Text itself carries no
		// opcode of its own (spec §4.6 has no dedicated text-join
		// instruction).
		if len(e.Parts) == 0 {
			return lir.PushConstant{Constant: b.intern(lir.ConstText{Value: ""})}
		}
		return lir.Reference{Target: ctx.slot(e.Parts[len(e.Parts)-1])}
	case mir.Struct:
		entries := make([]lir.StructEntry, len(e.Fields))
		for i, f := range e.Fields {
			entries[i] = lir.StructEntry{Key: ctx.slot(f.Key), Value: ctx.slot(f.Value)}
		}
		return lir.CreateStruct{Entries: entries}
	case mir.Function:
		captured := make([]lir.Id, len(e.Captured))
		for i, c := range e.Captured {
			captured[i] = ctx.slot(c)
		}
		childID, _ := b.lowerBody(e.Body, e.Captured, e.Parameters, e.ResponsibleParameter)
		return lir.CreateFunction{Captured: captured, Body: childID}
	case mir.Call:
		args := make([]lir.Id, len(e.Arguments))
		for i, a := range e.Arguments {
			args[i] = ctx.slot(a)
		}
		return lir.Call{Function: ctx.slot(e.Function), Arguments: args}
	case mir.Needs:
		// `needs` lowers to an ordinary call against the VM-evaluated
		// "needs" builtin (internal/builtins.NeedsCheck never folds at
		// compile time; spec §4.4/§9 treat it purely as a runtime check).
		fnSlot := ctx.pushConst(b, lir.ConstBuiltin{Kind: string(builtins.NeedsCheck)})
		reason := ctx.slot(e.Reason)
		if !e.HasReason {
			reason = ctx.pushConst(b, lir.ConstText{Value: "needs condition was not met"})
		}
		return lir.Call{Function: fnSlot, Arguments: []lir.Id{ctx.slot(e.Condition), reason, ctx.slot(e.Responsible)}}
	case mir.Panic:
		return lir.Panic{Reason: ctx.slot(e.Reason), Responsible: ctx.slot(e.Responsible)}
	case mir.UseModule:
		// Surviving this far means the optimizer's module-folding pass
		// could not resolve the path statically (or ran without a
		// resolver); spec §4.5 pass 4 says this "yields an error and a
		// Panic expression" — emitted here as the degraded-output form
		// spec §7 allows ("a single top-level Panic with the error
		// message").
		reason := ctx.pushConst(b, lir.ConstText{Value: "use path is not statically resolvable"})
		return lir.Panic{Reason: reason, Responsible: ctx.slot(e.Path)}
	case mir.Error:
		reason := ctx.pushConst(b, lir.ConstText{Value: "compile error"})
		responsible := ctx.lb.ResponsibleIndex
		if e.HasChild {
			responsible = ctx.slot(e.Child)
		}
		return lir.Panic{Reason: reason, Responsible: responsible}
	default:
		reason := ctx.pushConst(b, lir.ConstText{Value: fmt.Sprintf("unsupported expression %T", expr)})
		return lir.Panic{Reason: reason, Responsible: ctx.lb.ResponsibleIndex}
	}
}

// insertRefcounts runs the reference-count insertion pass (spec §4.5's
// closing paragraph) over an already-lowered body: for every id visible in
// it (captured, parameters, responsible, and locals), count its consumers
// — later entries that read it plus the body's own Return — and emit the
// single Dup or Drop that keeps dups−drops == consumers−1 (see ToLIR's
// doc comment for why one bulk instruction per id suffices here).
func insertRefcounts(lb *lir.Body) {
	consumers := make(map[lir.Id]int)
	for _, e := range lb.Entries {
		for _, r := range lirOperands(e.Expression) {
			consumers[r]++
		}
	}
	if lb.Return >= 0 {
		consumers[lb.Return]++
	}

	var prelude []lir.Entry
	for slot := lir.Id(0); slot < lir.Id(lb.PrefixCount()); slot++ {
		prelude = append(prelude, refcountEntry(slot, consumers[slot])...)
	}

	var out []lir.Entry
	out = append(out, prelude...)
	for _, e := range lb.Entries {
		out = append(out, e)
		out = append(out, refcountEntry(e.Id, consumers[e.Id])...)
	}
	lb.Entries = out
}

func refcountEntry(id lir.Id, c int) []lir.Entry {
	if id < 0 {
		return nil // synthetic sentinel ids carry no binding of their own
	}
	switch {
	case c == 0:
		return []lir.Entry{{Id: id, Expression: lir.Drop{Target: id}}}
	case c > 1:
		return []lir.Entry{{Id: id, Expression: lir.Dup{Target: id, Amount: c - 1}}}
	default:
		return nil
	}
}

// lirOperands returns every Id directly read by expr, the LIR-level
// counterpart of mir's referencedIds — used only for consumer counting.
func lirOperands(expr lir.Expression) []lir.Id {
	switch e := expr.(type) {
	case lir.Reference:
		return []lir.Id{e.Target}
	case lir.CreateList:
		return e.Items
	case lir.CreateStruct:
		var out []lir.Id
		for _, f := range e.Entries {
			out = append(out, f.Key, f.Value)
		}
		return out
	case lir.CreateFunction:
		return e.Captured
	case lir.Call:
		return append([]lir.Id{e.Function}, e.Arguments...)
	case lir.Panic:
		return []lir.Id{e.Reason, e.Responsible}
	default:
		return nil
	}
}
