// Package hir implements Candy's High-level IR (spec §3, §4.3 third part):
// AST → HIR with lexical identifier resolution. Every name is looked up in
// scope order; `needs`/`use` are recognized as special forms rather than
// ordinary calls; public (top-level `:=`) assignments are validated for
// placement and uniqueness.
//
// Grounded on the teacher's scoped-symbol-table resolution pass
// (parser/resolver.go's block-scoped environment chain), generalized from a
// single flat scope per function to Candy's fully lexical, arbitrarily
// nested `Body` scoping.
package hir

import (
	"github.com/candy-lang/candy-sub004/internal/ast"
	"github.com/candy-lang/candy-sub004/internal/cst"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/span"
)

// Id identifies one expression within an enclosing Body.
type Id int

// Expression is the sum type of every HIR node shape (spec §3).
type Expression interface {
	isExpression()
}

type Int struct{ Value int64 }
type Text struct{ Parts []Expression } // literal runs are TextPart; others are interpolations
type TextPart struct{ Value string }
type Reference struct{ Target Id }
type Symbol struct{ Name string }

type StructPair struct {
	Key   Expression
	Value Expression
}
type Struct struct{ Fields []StructPair }

// Function is a closure: Parameters are fresh Ids bound in Body's scope,
// and Body is the function's own scope. A HIR function has no responsible
// parameter; the MIR builder synthesizes one for each function.
type Function struct {
	Parameters []Id
	Body       *Body
}

type Call struct {
	Function  Expression
	Arguments []Expression
}

// BuiltinKind names a built-in the compiler recognizes directly (spec §4.5
// pass 2, §9 Open Question (b)); resolved at HIR time so later stages don't
// need to know the builtin grammar.
type BuiltinKind string

type Builtin struct{ Kind BuiltinKind }

// UseModule is the lowered form of a `use "path"` call: Current is the
// importing module (for relative-path resolution), Path is the raw path
// text as written.
type UseModule struct {
	Current modident.Identifier
	Path    string
}

// Needs is the lowered form of `needs condition reason?`.
type Needs struct {
	Condition Expression
	Reason    Expression // nil if omitted (a literal default reason is substituted downstream)
}

// Error wraps a best-effort partial result plus the diagnostics that
// explain why lowering couldn't fully succeed at this position.
type Error struct {
	Child  Expression
	Errors []diagnostics.Diagnostic
}

func (Int) isExpression()        {}
func (Text) isExpression()       {}
func (TextPart) isExpression()   {}
func (Reference) isExpression()  {}
func (Symbol) isExpression()     {}
func (Struct) isExpression()     {}
func (Function) isExpression()   {}
func (Call) isExpression()       {}
func (Builtin) isExpression()    {}
func (UseModule) isExpression()  {}
func (Needs) isExpression()      {}
func (Error) isExpression()      {}

// Body is an insertion-ordered mapping from Id to Expression with an
// explicit return value (spec §3: "A Body is an insertion-ordered mapping
// from HirId to Expression with an explicit return value").
type Body struct {
	Order  []Id
	Values map[Id]Expression
	Return Id
}

func newBody() *Body {
	return &Body{Values: make(map[Id]Expression)}
}

func (b *Body) push(id Id, expr Expression) {
	b.Order = append(b.Order, id)
	b.Values[id] = expr
	b.Return = id
}

// PublicAssignment is a top-level `name := body` or `name params := body`
// binding, kept separately from Body so the module's export struct (built
// in MIR, spec §4.4) can enumerate them by name.
type PublicAssignment struct {
	Name string
	Id   Id
	Expr Expression
}

// Module is one lowered module: its top-level scope plus the public names
// it exports.
type Module struct {
	Body    *Body
	Exports []PublicAssignment
}

const needsSpecialForm = "needs"
const useSpecialForm = "use"

// scope is one lexical level: the AST-level name each Id is bound under,
// plus the enclosing scope for lookups that fall through.
type scope struct {
	parent *scope
	names  map[string]Id
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]Id)}
}

func (s *scope) define(name string, id Id) {
	s.names[name] = id
}

func (s *scope) resolve(name string) (Id, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if id, ok := cur.names[name]; ok {
			return id, true
		}
	}
	return 0, false
}

// Lowerer walks an AST program and produces HIR, collecting diagnostics.
// It keeps the originating cst.Tree around solely to map an ast.Node's
// CstID back to a byte Span for diagnostics (spec §4.3: "Each HIR node
// stores the originating AST id for diagnostic mapping").
type Lowerer struct {
	module modident.Identifier
	tree   *cst.Tree
	bag    *diagnostics.Bag
	nextID Id
	body   *Body // the body currently being filled
}

// Lower performs the AST→HIR pass described in spec §4.3.
func Lower(module modident.Identifier, tree *cst.Tree, program *ast.Program, bag *diagnostics.Bag) *Module {
	l := &Lowerer{module: module, tree: tree, bag: bag}
	top := newScope(nil)

	mod := &Module{Body: newBody()}
	l.body = mod.Body

	seen := map[string]bool{}
	for _, a := range program.Assignments {
		id := l.newID()
		top.define(a.Name, id)
		expr := l.lowerAssignmentBody(a.Body, top)
		l.body.push(id, expr)
		if a.IsPublic {
			if seen[a.Name] {
				l.bag.Addf(l.module, l.spanOf(a), diagnostics.KindPublicAssignmentDuplicate,
					"a public assignment named %q already exists", a.Name)
			}
			seen[a.Name] = true
			mod.Exports = append(mod.Exports, PublicAssignment{Name: a.Name, Id: id, Expr: expr})
		}
	}
	return mod
}

func (l *Lowerer) newID() Id {
	id := l.nextID
	l.nextID++
	return id
}

// spanOf resolves an ast.Node's byte span via the CST tree it was lowered
// from, for diagnostics that need more than Kind+Message.
func (l *Lowerer) spanOf(n ast.Node) span.Span {
	if l.tree == nil {
		return span.Span{}
	}
	if node, ok := l.tree.ByID(n.CstID()); ok {
		return node.Span
	}
	return span.Span{}
}

func (l *Lowerer) lowerAssignmentBody(body ast.Node, enclosing *scope) Expression {
	switch b := body.(type) {
	case *ast.Function:
		return l.lowerFunctionLiteral(b, enclosing)
	case *ast.Body:
		fnScope := newScope(enclosing)
		return l.lowerSequenceAsExpression(b.Expressions, fnScope)
	default:
		return l.lowerExpression(body, enclosing)
	}
}

func (l *Lowerer) lowerFunctionLiteral(fn *ast.Function, enclosing *scope) Expression {
	fnScope := newScope(enclosing)
	outerBody := l.body
	inner := newBody()
	l.body = inner

	var params []Id
	for _, p := range fn.Parameters {
		name := paramName(p)
		id := l.newID()
		fnScope.define(name, id)
		params = append(params, id)
		// Parameters occupy an Id in the function's own body, represented as
		// a self-reference placeholder; MIR introduces the dedicated
		// Parameter expression kind (spec §4.4) once ids are flattened.
		inner.push(id, Reference{Target: id})
	}

	result := l.lowerSequenceAsExpression(fn.Body, fnScope)
	l.body = outerBody
	return Function{Parameters: params, Body: l.finish(inner, result)}
}

// finish binds result as body's final (returned) expression. The id comes
// from the module-wide generator: ids are unique across every body in a
// module, which the MIR builder's flat hir.Id -> mir.Id mapping depends on.
func (l *Lowerer) finish(body *Body, result Expression) *Body {
	id := l.newID()
	body.push(id, result)
	return body
}

func (l *Lowerer) lowerSequenceAsExpression(exprs []ast.Node, sc *scope) Expression {
	var last Expression
	for _, e := range exprs {
		last = l.lowerExpression(e, sc)
	}
	return last
}

func (l *Lowerer) lowerExpression(n ast.Node, sc *scope) Expression {
	switch v := n.(type) {
	case *ast.Int:
		return Int{Value: v.Value}
	case *ast.Text:
		return l.lowerText(v, sc)
	case *ast.TextPart:
		return TextPart{Value: v.Value}
	case *ast.Symbol:
		return Symbol{Name: v.Name}
	case *ast.Identifier:
		return l.lowerIdentifier(v, sc)
	case *ast.List:
		return l.lowerList(v, sc)
	case *ast.Struct:
		return l.lowerStruct(v, sc)
	case *ast.StructAccess:
		return l.lowerStructAccess(v, sc)
	case *ast.Call:
		return l.lowerCall(v, sc)
	case *ast.Function:
		return l.lowerFunctionLiteral(v, sc)
	case *ast.Match:
		return l.lowerMatch(v, sc)
	case *ast.Assignment:
		l.bag.Addf(l.module, l.spanOf(v), diagnostics.KindPublicAssignmentNotTop,
			"%q is not allowed outside the top level", v.Name)
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(v), diagnostics.KindPublicAssignmentNotTop,
				"assignments are only allowed at the top level"),
		}}
	case *ast.Body:
		return l.lowerSequenceAsExpression(v.Expressions, newScope(sc))
	case *ast.Error:
		return Error{Errors: v.Errors}
	default:
		return Error{}
	}
}

func (l *Lowerer) lowerText(t *ast.Text, sc *scope) Expression {
	text := Text{}
	for _, p := range t.Parts {
		text.Parts = append(text.Parts, l.lowerExpression(p, sc))
	}
	return text
}

// lowerIdentifier resolves a bare name, recognizing `needs`/`use` only when
// called (see lowerCall) — as a bare reference, `needs`/`use` resolve like
// any other identifier and are almost always unbound, correctly emitting
// UnknownReference.
func (l *Lowerer) lowerIdentifier(id *ast.Identifier, sc *scope) Expression {
	if id.Name == "_" {
		// Blank parameter: never referenced; use a fresh unresolvable marker
		// rather than consulting scope.
		return Symbol{Name: "_"}
	}
	target, ok := sc.resolve(id.Name)
	if !ok {
		l.bag.Addf(l.module, l.spanOf(id), diagnostics.KindUnknownReference, "unknown reference %q", id.Name)
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(id), diagnostics.KindUnknownReference, "unknown reference "+id.Name),
		}}
	}
	return Reference{Target: target}
}

func (l *Lowerer) lowerList(list *ast.List, sc *scope) Expression {
	// Candy has no dedicated HIR list node; a list literal desugars to a
	// Struct keyed by ordinal Symbol, matching how the runtime represents
	// sequences as structs with "0", "1", ... keys (see SPEC_FULL.md's
	// builtins section).
	s := Struct{}
	for i, item := range list.Items {
		s.Fields = append(s.Fields, StructPair{
			Key:   Symbol{Name: ordinal(i)},
			Value: l.lowerExpression(item, sc),
		})
	}
	return s
}

func (l *Lowerer) lowerStruct(st *ast.Struct, sc *scope) Expression {
	s := Struct{}
	for _, f := range st.Fields {
		s.Fields = append(s.Fields, StructPair{
			Key:   l.lowerStructKey(f.Key, sc),
			Value: l.lowerExpression(f.Value, sc),
		})
	}
	return s
}

// lowerStructKey lowers a struct-literal key. A bare identifier key is a
// name, not a scope lookup — `[foo: 1]` keys by the symbol foo, and the
// `[x]` shorthand keys by the written name while its value resolves in
// scope. Any other key shape is an ordinary expression.
func (l *Lowerer) lowerStructKey(n ast.Node, sc *scope) Expression {
	if id, ok := n.(*ast.Identifier); ok {
		return Symbol{Name: id.Name}
	}
	return l.lowerExpression(n, sc)
}

func (l *Lowerer) lowerStructAccess(sa *ast.StructAccess, sc *scope) Expression {
	key, _ := sa.Key.(*ast.Identifier)
	name := ""
	if key != nil {
		name = key.Name
	}
	return Call{
		Function:  Builtin{Kind: BuiltinKind("structGet")},
		Arguments: []Expression{l.lowerExpression(sa.Struct, sc), Symbol{Name: name}},
	}
}

// lowerCall recognizes needs/use special forms by the receiver's literal
// name before falling back to ordinary call lowering (spec §4.3: "AST→HIR
// resolves identifier scoping... needs/use special forms").
func (l *Lowerer) lowerCall(call *ast.Call, sc *scope) Expression {
	if recv, ok := call.Receiver.(*ast.Identifier); ok {
		switch recv.Name {
		case needsSpecialForm:
			return l.lowerNeeds(call, sc)
		case useSpecialForm:
			return l.lowerUse(call, sc)
		}
	}
	fn := l.lowerExpression(call.Receiver, sc)
	args := make([]Expression, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		args = append(args, l.lowerExpression(a, sc))
	}
	return Call{Function: fn, Arguments: args}
}

func (l *Lowerer) lowerNeeds(call *ast.Call, sc *scope) Expression {
	if len(call.Arguments) < 1 || len(call.Arguments) > 2 {
		l.bag.Addf(l.module, l.spanOf(call), diagnostics.KindNeedsWrongArgCount,
			"needs takes 1 or 2 arguments, got %d", len(call.Arguments))
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(call), diagnostics.KindNeedsWrongArgCount, "wrong argument count for needs"),
		}}
	}
	n := Needs{Condition: l.lowerExpression(call.Arguments[0], sc)}
	if len(call.Arguments) == 2 {
		reason := l.lowerExpression(call.Arguments[1], sc)
		n.Reason = reason
	}
	return n
}

func (l *Lowerer) lowerUse(call *ast.Call, sc *scope) Expression {
	if len(call.Arguments) != 1 {
		l.bag.Addf(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath, "use takes exactly 1 argument")
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath, "use takes exactly 1 argument"),
		}}
	}
	path := textLiteralValue(call.Arguments[0])
	if path == "" {
		l.bag.Addf(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath, "use path must be a text literal")
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath, "use path must be a text literal"),
		}}
	}
	dots, tail := splitUsePath(path)
	if dots == 0 || !usePathTailValid(tail) {
		l.bag.Addf(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath,
			"use path %q must match `\\.+[A-Za-z0-9.]+`", path)
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(call), diagnostics.KindUseInvalidPath, "invalid use path "+path),
		}}
	}
	// One leading dot targets a sibling; each further dot climbs one
	// directory. A module's directory depth is its path length minus the
	// file component itself.
	if dots-1 > len(l.module.PathComponents)-1 {
		l.bag.Addf(l.module, l.spanOf(call), diagnostics.KindUseTooManyParents,
			"use %q navigates above the module root", path)
	}
	return UseModule{Current: l.module, Path: path}
}

// splitUsePath separates a use path's leading dots from its tail.
func splitUsePath(path string) (dots int, tail string) {
	for dots < len(path) && path[dots] == '.' {
		dots++
	}
	return dots, path[dots:]
}

// usePathTailValid reports whether tail matches the `[A-Za-z0-9.]+` half
// of spec §6's use-path syntax.
func usePathTailValid(tail string) bool {
	if tail == "" {
		return false
	}
	for i := 0; i < len(tail); i++ {
		c := tail[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.':
		default:
			return false
		}
	}
	return true
}

func (l *Lowerer) lowerMatch(m *ast.Match, sc *scope) Expression {
	// Candy's HIR has no dedicated Match node (spec §3 enumerates HIR
	// variants exhaustively and Match is absent there); match desugars to
	// nested equals/ifElse builtin calls, grounded on the MIR builder
	// lowering match the same way the AST→HIR desugars pipes.
	subject := l.lowerExpression(m.Expression, sc)
	return l.lowerMatchCases(m, subject, m.Cases, sc)
}

func (l *Lowerer) lowerMatchCases(m *ast.Match, subject Expression, cases []ast.MatchCase, sc *scope) Expression {
	if len(cases) == 0 {
		return Error{Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, l.spanOf(m), diagnostics.KindUnparsableInput, "match with no cases"),
		}}
	}
	c := cases[0]
	caseScope := newScope(sc)
	cond := l.lowerPatternCondition(subject, c.Pattern, caseScope)
	thenBranch := Function{Body: l.bodyOf(func() Expression {
		return l.lowerSequenceAsExpression(c.Body, caseScope)
	})}
	elseBranch := Function{Body: l.bodyOf(func() Expression {
		return l.lowerMatchCases(m, subject, cases[1:], sc)
	})}
	return Call{
		Function:  Builtin{Kind: BuiltinKind("ifElse")},
		Arguments: []Expression{cond, thenBranch, elseBranch},
	}
}

// bodyOf runs fn in a fresh body context (so nested Function literals built
// during match desugaring get their own id space) and returns the result.
func (l *Lowerer) bodyOf(fn func() Expression) *Body {
	outer := l.body
	inner := newBody()
	l.body = inner
	result := fn()
	l.body = outer
	return l.finish(inner, result)
}

// lowerPatternCondition lowers a pattern into a boolean-valued HIR
// expression testing whether subject matches it, binding any identifier
// sub-patterns into caseScope as it goes.
func (l *Lowerer) lowerPatternCondition(subject Expression, pattern ast.Node, caseScope *scope) Expression {
	switch p := pattern.(type) {
	case *ast.Identifier:
		if p.Name == "_" {
			return Symbol{Name: "True"}
		}
		id := l.newID()
		caseScope.define(p.Name, id)
		l.body.push(id, subject)
		return Symbol{Name: "True"}
	case *ast.OrPattern:
		left := l.lowerPatternCondition(subject, p.Left, caseScope)
		right := l.lowerPatternCondition(subject, p.Right, caseScope)
		return Call{Function: Builtin{Kind: BuiltinKind("or")}, Arguments: []Expression{left, right}}
	default:
		literal := l.lowerExpression(pattern, caseScope)
		return Call{Function: Builtin{Kind: BuiltinKind("equals")}, Arguments: []Expression{subject, literal}}
	}
}

func paramName(n ast.Node) string {
	if id, ok := n.(*ast.Identifier); ok {
		return id.Name
	}
	return ""
}

func ordinal(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

// textLiteralValue extracts a plain string from an AST node that is a
// non-interpolated text literal, or "" if it isn't one.
func textLiteralValue(n ast.Node) string {
	text, ok := n.(*ast.Text)
	if !ok || len(text.Parts) != 1 {
		return ""
	}
	part, ok := text.Parts[0].(*ast.TextPart)
	if !ok {
		return ""
	}
	return part.Value
}
