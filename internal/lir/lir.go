// Package lir implements Candy's Low-level IR (spec §3, §4.6 first half):
// an interned constant pool plus bodies whose expressions are ordered
// `[captured…, parameters…, responsible, locals…]` and explicitly carry
// Dup/Drop reference-count instructions. LIR is produced by
// internal/miropt's reference-count insertion pass and consumed by
// internal/bytecode.
package lir

import "github.com/candy-lang/candy-sub004/internal/modident"

// Id indexes an expression within a Body, in the order
// [captured…, parameters…, responsible, locals…] (spec §3).
type Id int

// ConstantId indexes the module-wide Constants pool.
type ConstantId int

// BodyId indexes the module-wide Bodies list.
type BodyId int

// Constant is one interned value in the constants pool (spec §3: "Int,
// Text, Tag{symbol, value?}, Builtin, List, Struct, HirId, Function(body_id)").
type Constant interface{ isConstant() }

type ConstInt struct{ Value int64 }
type ConstText struct{ Value string }
type ConstTag struct {
	Symbol   string
	Value    ConstantId
	HasValue bool
}
type ConstBuiltin struct{ Kind string }
type ConstList struct{ Items []ConstantId }
type ConstStruct struct{ Entries []ConstStructEntry }
type ConstStructEntry struct{ Key, Value ConstantId }
type ConstHirId struct {
	Module modident.Identifier
	Hir    int
}
type ConstFunction struct{ Body BodyId }

func (ConstInt) isConstant()      {}
func (ConstText) isConstant()     {}
func (ConstTag) isConstant()      {}
func (ConstBuiltin) isConstant()  {}
func (ConstList) isConstant()     {}
func (ConstStruct) isConstant()   {}
func (ConstHirId) isConstant()    {}
func (ConstFunction) isConstant() {}

// Expression is the sum type of LIR body expressions.
type Expression interface{ isExpression() }

type PushConstant struct{ Constant ConstantId }
type Reference struct{ Target Id }

type CreateList struct{ Items []Id }
type CreateStruct struct{ Entries []StructEntry }
type StructEntry struct{ Key, Value Id }

// CreateFunction closes over Captured (outer-body ids copied into the new
// function's environment) and points at Body, a separately compiled LIR
// body (spec §3).
type CreateFunction struct {
	Captured []Id
	Body     BodyId
}

type Call struct {
	Function  Id
	Arguments []Id
}

// Panic unconditionally aborts the enclosing fiber when reached. ToLIR emits
// it for the optimizer's Panic expressions and for unresolved uses and
// compile errors; `needs` and the `panic` builtin lower to ordinary Calls.
type Panic struct {
	Reason      Id
	Responsible Id
}

// Dup/Drop are the reference-count instructions the insertion pass emits so
// that, along every execution path, dups minus drops equals consumers minus
// one (spec §3 LIR invariant).
type Dup struct {
	Target Id
	Amount int
}
type Drop struct{ Target Id }

// Trace* are no-ops unless the active tracing configuration enables them
// (spec §4.6); they carry the data the tracer sink needs without forcing
// every expression through a uniform "traced" wrapper.
type TraceCallStarts struct {
	Callee      Id
	Arguments   []Id
	Responsible Id
}
type TraceCallEnds struct{ Return Id }
type TraceExpressionEvaluated struct {
	Hir   Id
	Value Id
}
type TraceFoundFuzzableFunction struct {
	Hir      Id
	Function Id
}

func (PushConstant) isExpression()               {}
func (Reference) isExpression()                  {}
func (CreateList) isExpression()                 {}
func (CreateStruct) isExpression()                {}
func (CreateFunction) isExpression()              {}
func (Call) isExpression()                        {}
func (Panic) isExpression()                        {}
func (Dup) isExpression()                          {}
func (Drop) isExpression()                         {}
func (TraceCallStarts) isExpression()              {}
func (TraceCallEnds) isExpression()                {}
func (TraceExpressionEvaluated) isExpression()     {}
func (TraceFoundFuzzableFunction) isExpression()   {}

// Entry is one (Id, Expression) binding, in execution order.
type Entry struct {
	Id         Id
	Expression Expression
}

// Body lists expressions in the order captured/parameters/responsible/
// locals (spec §3); CapturedCount/ParameterCount mark where each section
// ends so the bytecode compiler can compute stack offsets.
type Body struct {
	Entries        []Entry
	CapturedCount  int
	ParameterCount int
	// HasResponsible is false only for the module's top-level body, which
	// has no caller and so no responsible_parameter slot (spec §4.4).
	HasResponsible bool
	// ResponsibleIndex is the Id of the synthesized responsible parameter,
	// always immediately after the parameters section. Meaningless when
	// HasResponsible is false.
	ResponsibleIndex Id
	Return           Id
}

// PrefixCount is how many stack slots this body's calling convention
// establishes before any of its own bytecode runs: captured values, then
// parameters, then (for every body but the top level) the responsible
// parameter (spec §4.6 body layout `[captured…, parameters…, responsible…]`).
func (b *Body) PrefixCount() int {
	n := b.CapturedCount + b.ParameterCount
	if b.HasResponsible {
		n++
	}
	return n
}

// Module is one compiled (post-optimization, post-refcount-insertion) unit:
// an interned constants pool plus every body reachable from the top level.
type Module struct {
	Identifier modident.Identifier
	Constants  []Constant
	Bodies     []*Body
	// TopLevel is the BodyId of the module's top-level body (its Return is
	// the exported struct built by mir.Build).
	TopLevel BodyId
	// Exports mirrors mir.Module.Exports, translated into the top-level
	// body's Id numbering, so the bytecode compiler can populate Chunk's
	// exported-name -> offset symbol table.
	Exports []Export
}

// Export is one public top-level binding, expressed as an Id within the
// top-level body (BodyId TopLevel).
type Export struct {
	Name string
	Id   Id
}
