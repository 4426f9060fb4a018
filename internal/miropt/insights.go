// Package miropt implements Candy's MIR optimizer (spec §4.5): a
// fixed-point walk of each body applying reference following, constant
// folding, common subtree elimination, module folding, inlining, constant
// lifting, tree shaking, and cleanup, followed by a separate reference-count
// insertion pass that produces LIR.
//
// Grounded pass-by-pass on `_examples/original_source/compiler/frontend/src/
// mir_optimize/{inlining,module_folding,pure,cleanup,data_flow/*}.rs`; the
// layered Insights/FlowValue/Timeline structure below mirrors that original
// rather than a single flat map: the working body keeps the timeline in
// step as passes replace, insert, and shake bindings, and rolls a shaken
// binding's insight back out via Forget (SPEC_FULL.md's Supplemented
// Features).
package miropt

import "github.com/candy-lang/candy-sub004/internal/mir"

// Complexity adopts the original's Complexity{is_self_contained,
// expressions} verbatim (SPEC_FULL.md Supplemented Features) rather than a
// bare integer threshold: "self-contained" (no references escaping the
// body through anything but its own parameters) is a separate, necessary
// condition for "tiny" inlining that a single number can't express.
type Complexity struct {
	Expressions      int
	IsSelfContained  bool
}

// TinyThreshold is the "tiny" inline bound from spec §4.5 pass 5 and §9
// Open Question (a): kept at 100, matching both spec.md's explicit number
// and the original's inline_tiny_functions.
const TinyThreshold = 100

func (c Complexity) IsTiny() bool {
	return c.IsSelfContained && c.Expressions <= TinyThreshold
}

// FlowValue is what the optimizer currently believes about one id: whether
// its definition is pure (no observable side effect) and whether its value
// is compile-time constant. Const is monotone — it is only ever promoted,
// never retracted (spec §8's pure/const monotonicity) — so a recorded true
// stays valid across expression replacements.
type FlowValue struct {
	Pure  bool
	Const bool
}

// Timeline records, for a single body, the ids that have come into scope
// during the fixed-point walk and the expression each is currently bound
// to — the "visible expressions" table spec §4.5 names. workingBody's
// get/replace/insertBefore keep it in step with the entry list, and tree
// shaking rolls a removed binding back out via Remove without disturbing
// earlier entries' relative order.
type Timeline struct {
	order  []mir.Id
	values map[mir.Id]mir.Expression
}

func NewTimeline() *Timeline {
	return &Timeline{values: make(map[mir.Id]mir.Expression)}
}

func (t *Timeline) Visible(id mir.Id, expr mir.Expression) {
	if _, ok := t.values[id]; !ok {
		t.order = append(t.order, id)
	}
	t.values[id] = expr
}

func (t *Timeline) Get(id mir.Id) (mir.Expression, bool) {
	e, ok := t.values[id]
	return e, ok
}

func (t *Timeline) Remove(id mir.Id) {
	delete(t.values, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Insights wraps a Timeline with the two pureness/const id sets spec §4.5
// names explicitly ("a pureness-insights table (two sets of ids)"): Pure
// gates tree shaking, Const gates common-subtree elimination and the
// all-arguments-const inlining heuristic.
type Insights struct {
	Timeline *Timeline
	flow     map[mir.Id]FlowValue
}

func NewInsights() *Insights {
	return &Insights{Timeline: NewTimeline(), flow: make(map[mir.Id]FlowValue)}
}

func (ins *Insights) Set(id mir.Id, fv FlowValue) {
	ins.flow[id] = fv
}

func (ins *Insights) Get(id mir.Id) FlowValue {
	return ins.flow[id]
}

func (ins *Insights) IsPure(id mir.Id) bool  { return ins.flow[id].Pure }
func (ins *Insights) IsConst(id mir.Id) bool { return ins.flow[id].Const }

// Forget removes an id's flow entry and timeline visibility when tree
// shaking deletes a dead binding.
func (ins *Insights) Forget(id mir.Id) {
	delete(ins.flow, id)
	ins.Timeline.Remove(id)
}
