// Package ast implements Candy's abstract syntax tree and the CST→AST
// lowering (spec §3, §4.3): pipes desugar to left-associated calls, struct
// shorthand expands to explicit key:value pairs, and match patterns are
// validated (a Call in pattern position is rejected).
//
// Grounded structurally on the teacher's internal/parser (an Expr sum type
// reached via a visitor, parser/ast.go) generalized to Candy's node set.
package ast

import (
	"github.com/candy-lang/candy-sub004/internal/cst"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/rcst"
)

// Id is a per-module, assignment-order AST node identifier.
type Id int

// Node is the sum type of every AST shape (spec §3).
type Node interface {
	AstID() Id
	CstID() cst.Id
}

type base struct {
	Id  Id
	Cst cst.Id
}

func (b base) AstID() Id      { return b.Id }
func (b base) CstID() cst.Id  { return b.Cst }

type Int struct {
	base
	Value int64
}

// TextPart is a literal run within a Text node.
type TextPart struct {
	base
	Value string
}

// Text is a (possibly interpolated) text literal: Parts alternate literal
// TextPart nodes and arbitrary expression nodes (the interpolations).
type Text struct {
	base
	Parts []Node
}

type Identifier struct {
	base
	Name string
}

type Symbol struct {
	base
	Name string
}

type List struct {
	base
	Items []Node
}

// StructFieldPair is one "key: value" pair of a Struct literal. Key may be
// nil only for a malformed field that already produced a diagnostic.
type StructFieldPair struct {
	Key   Node
	Value Node
}

type Struct struct {
	base
	Fields []StructFieldPair
}

type StructAccess struct {
	base
	Struct Node
	Key    Node
}

// Function is a lambda: zero or more Identifier parameters and a body
// (sequence of expressions; the last is the return value).
type Function struct {
	base
	Parameters []Node
	Body       []Node
}

// Call is "receiver(arguments...)" application. IsFromPipe marks calls
// produced by desugaring `a | f b` into `f a b`, so later stages can still
// explain the call's origin in diagnostics.
type Call struct {
	base
	Receiver   Node
	Arguments  []Node
	IsFromPipe bool
}

// Assignment is a top-level (or, if erroneously nested, non-top-level)
// binding. Body is either a single Function node (for `name params :=
// body`) or a plain expression sequence (for `name := body`).
type Assignment struct {
	base
	IsPublic bool
	Name     string
	Body     Node // *Function, or a synthetic Body wrapping a plain expression sequence
}

// Body wraps a bare expression sequence that isn't a function (used as the
// Body of a non-function Assignment, and as a Match case's body sequence
// when richer than one expression).
type Body struct {
	base
	Expressions []Node
}

type MatchCase struct {
	base
	Pattern Node
	Body    []Node
}

type Match struct {
	base
	Expression Node
	Cases      []MatchCase
}

// OrPattern is "pattern | pattern" in pattern position.
type OrPattern struct {
	base
	Left  Node
	Right Node
}

// Error wraps one or more diagnostics produced while lowering this
// position; Child, if present, is the best-effort partial node recovered.
type Error struct {
	base
	Child  Node
	Errors []diagnostics.Diagnostic
}

// Program is a whole module's AST: an ordered list of top-level
// assignments.
type Program struct {
	Assignments []*Assignment
}

// Lowerer walks a CST and produces an AST, collecting diagnostics into Bag.
type Lowerer struct {
	module modident.Identifier
	tree   *cst.Tree
	source string
	bag    *diagnostics.Bag
	nextID Id
}

// Lower performs the full CST→AST pass described in spec §4.3.
func Lower(module modident.Identifier, tree *cst.Tree, source string, bag *diagnostics.Bag) *Program {
	l := &Lowerer{module: module, tree: tree, source: source, bag: bag}
	return l.lowerProgram(tree.Root)
}

func (l *Lowerer) newID() Id {
	id := l.nextID
	l.nextID++
	return id
}

func (l *Lowerer) base(n *cst.Node) base {
	return base{Id: l.newID(), Cst: n.Id}
}

// unwrap strips the TrailingWhitespace wrapper shell a CST node gets when
// it owns trailing trivia: that wrapper has the same Kind as its single
// meaningful child, with the rest of its children being Trivia leaves.
func unwrap(n *cst.Node) *cst.Node {
	for len(n.Children) > 0 && n.Children[0].Kind == n.Kind {
		rest := n.Children[1:]
		allTrivia := true
		for _, c := range rest {
			if c.Kind != cst.KindTrivia {
				allTrivia = false
				break
			}
		}
		if !allTrivia {
			break
		}
		n = n.Children[0]
	}
	return n
}

func (l *Lowerer) lowerProgram(root *cst.Node) *Program {
	program := &Program{}
	seenPublicNames := map[string]bool{}
	for _, child := range root.Children {
		if child.Kind == cst.KindTrivia {
			continue
		}
		if child.Kind != cst.KindAssignment {
			continue // Error-recovery fragments at top level produce no AST node
		}
		a := l.lowerAssignment(unwrap(child))
		if a == nil {
			continue
		}
		if seenPublicNames[a.Name] {
			l.bag.Addf(l.module, child.Span, diagnostics.KindPublicAssignmentDuplicate,
				"a public assignment named %q already exists", a.Name)
		}
		seenPublicNames[a.Name] = true
		program.Assignments = append(program.Assignments, a)
	}
	return program
}

func (l *Lowerer) lowerAssignment(n *cst.Node) *Assignment {
	children := nonTrivia(n.Children)
	if len(children) < 3 {
		return nil
	}
	nameNode := children[0]
	name := textOf(nameNode)
	params := children[1 : len(children)-2]
	bodyNode := children[len(children)-1]

	a := &Assignment{base: l.base(n), IsPublic: true, Name: name}
	if len(params) > 0 {
		fn := &Function{base: l.base(n)}
		for _, p := range params {
			fn.Parameters = append(fn.Parameters, &Identifier{base: l.base(p), Name: textOf(p)})
		}
		fn.Body = l.lowerExpressionSequence(bodyNode)
		a.Body = fn
	} else {
		a.Body = &Body{base: l.base(n), Expressions: l.lowerExpressionSequence(bodyNode)}
	}
	return a
}

// lowerExpressionSequence lowers a single CST expression position into a
// body sequence. Candy bodies in this grammar are always a single
// expression (no statement blocks), so the sequence has exactly one
// element; later stages (HIR/MIR) are the ones that actually flatten
// nested calls into multiple bindings.
func (l *Lowerer) lowerExpressionSequence(n *cst.Node) []Node {
	return []Node{l.lowerExpression(n)}
}

func (l *Lowerer) lowerExpression(n *cst.Node) Node {
	n = unwrap(n)
	switch n.Kind {
	case cst.KindInt:
		return &Int{base: l.base(n), Value: parseInt(n.Raw.Render())}
	case cst.KindIdentifier:
		return &Identifier{base: l.base(n), Name: n.Raw.Render()}
	case cst.KindSymbol:
		return &Symbol{base: l.base(n), Name: n.Raw.Render()}
	case cst.KindText:
		return l.lowerText(n)
	case cst.KindParenthesized:
		inner := nonTrivia(n.Children)
		// [opening, expr?, closing]
		for _, c := range inner {
			if c.Kind != cst.KindToken {
				return l.lowerExpression(c)
			}
		}
		return &Error{base: l.base(n), Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, n.Span, diagnostics.KindOpeningParenMissesExpr, "empty parentheses"),
		}}
	case cst.KindList:
		list := &List{base: l.base(n)}
		for _, c := range nonTrivia(n.Children) {
			if c.Kind == cst.KindToken {
				continue
			}
			list.Items = append(list.Items, l.lowerExpression(c))
		}
		return list
	case cst.KindStruct:
		return l.lowerStruct(n)
	case cst.KindStructAccess:
		children := nonTrivia(n.Children)
		return &StructAccess{
			base:   l.base(n),
			Struct: l.lowerExpression(children[0]),
			Key:    &Identifier{base: l.base(children[2]), Name: textOf(children[2])},
		}
	case cst.KindCall:
		return l.lowerCall(n)
	case cst.KindBinaryBar:
		return l.lowerPipe(n)
	case cst.KindFunction:
		return l.lowerFunction(n)
	case cst.KindMatch:
		return l.lowerMatch(n)
	case cst.KindError:
		return &Error{base: l.base(n), Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, n.Span, diagnostics.KindUnparsableInput, "could not parse expression"),
		}}
	default:
		return &Error{base: l.base(n), Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, n.Span, diagnostics.KindUnparsableInput, "unexpected syntax"),
		}}
	}
}

func (l *Lowerer) lowerText(n *cst.Node) Node {
	text := &Text{base: l.base(n)}
	for _, c := range nonTrivia(n.Children) {
		switch c.Kind {
		case cst.KindTextPart:
			text.Parts = append(text.Parts, &TextPart{base: l.base(c), Value: c.Raw.Render()})
		case cst.KindInterpolation:
			inner := nonTrivia(c.Children)
			for _, ic := range inner {
				if ic.Kind == cst.KindToken {
					continue
				}
				text.Parts = append(text.Parts, l.lowerExpression(ic))
			}
		}
	}
	return text
}

// lowerStruct expands shorthand fields ("[x]" -> "[x: x]") as spec §4.3
// requires, and lowers "[field1, field2]" (bare keys, comma-list) too.
func (l *Lowerer) lowerStruct(n *cst.Node) Node {
	s := &Struct{base: l.base(n)}
	for _, c := range nonTrivia(n.Children) {
		if c.Kind == cst.KindToken {
			continue
		}
		if c.Kind != cst.KindStructField {
			continue
		}
		fieldChildren := nonTrivia(c.Children)
		if len(fieldChildren) == 0 {
			continue
		}
		keyNode := fieldChildren[0]
		key := l.lowerExpression(keyNode)
		if len(fieldChildren) >= 3 {
			// key, colon, value
			value := l.lowerExpression(fieldChildren[2])
			s.Fields = append(s.Fields, StructFieldPair{Key: key, Value: value})
			continue
		}
		// Shorthand: "[x]" means "[x: x]" — both key and value reference the
		// same identifier (spec §4.3).
		s.Fields = append(s.Fields, StructFieldPair{Key: key, Value: key})
	}
	return s
}

func (l *Lowerer) lowerCall(n *cst.Node) Node {
	children := nonTrivia(n.Children)
	call := &Call{base: l.base(n), Receiver: l.lowerExpression(children[0])}
	for _, c := range children[1:] {
		call.Arguments = append(call.Arguments, l.lowerExpression(c))
	}
	return call
}

// lowerPipe desugars `a | f b` into `f a b`: a left-associated call where
// the piped value becomes the function's first argument (spec §4.3).
func (l *Lowerer) lowerPipe(n *cst.Node) Node {
	children := nonTrivia(n.Children)
	left := l.lowerExpression(children[0])
	right := l.lowerExpression(children[2])
	switch rhs := right.(type) {
	case *Call:
		return &Call{
			base:       l.base(n),
			Receiver:   rhs.Receiver,
			Arguments:  append([]Node{left}, rhs.Arguments...),
			IsFromPipe: true,
		}
	default:
		return &Call{base: l.base(n), Receiver: right, Arguments: []Node{left}, IsFromPipe: true}
	}
}

// lowerFunction lowers a function literal. The number of parameters is read
// off the original RCST node rather than inferred from CST child Kinds,
// because a zero-argument function's body can itself be a bare Identifier
// (e.g. "{ x }"), which would otherwise be indistinguishable from a
// parameter by shape alone. Children are laid out as
// [opening, param_1..param_k, arrow?, body, closing?] (see cst.Build).
func (l *Lowerer) lowerFunction(n *cst.Node) Node {
	raw, _ := n.Raw.(rcst.Function)
	fn := &Function{base: l.base(n)}
	children := nonTrivia(n.Children)

	idx := 1 // children[0] is the opening brace token
	for i := 0; i < len(raw.Parameters) && idx < len(children); i++ {
		p := children[idx]
		fn.Parameters = append(fn.Parameters, &Identifier{base: l.base(p), Name: textOf(p)})
		idx++
	}
	if raw.Arrow != "" && idx < len(children) {
		idx++ // skip the arrow token
	}
	if idx < len(children) && children[idx].Kind != cst.KindToken {
		fn.Body = l.lowerExpressionSequence(children[idx])
	}
	return fn
}

func (l *Lowerer) lowerMatch(n *cst.Node) Node {
	children := nonTrivia(n.Children)
	m := &Match{base: l.base(n), Expression: l.lowerExpression(children[0])}
	for _, c := range children[1:] {
		if c.Kind != cst.KindMatchCase {
			continue
		}
		m.Cases = append(m.Cases, l.lowerMatchCase(c))
	}
	return m
}

func (l *Lowerer) lowerMatchCase(n *cst.Node) MatchCase {
	children := nonTrivia(n.Children)
	pattern := l.lowerPattern(children[0])
	body := l.lowerExpressionSequence(children[2])
	return MatchCase{base: l.base(n), Pattern: pattern, Body: body}
}

// lowerPattern lowers a match pattern, rejecting Call-shaped subtrees with
// CallInPattern per spec §4.3 ("calls disallowed in patterns").
func (l *Lowerer) lowerPattern(n *cst.Node) Node {
	n = unwrap(n)
	if n.Kind == cst.KindOrPattern {
		children := nonTrivia(n.Children)
		return &OrPattern{
			base:  l.base(n),
			Left:  l.lowerPattern(children[0]),
			Right: l.lowerPattern(children[2]),
		}
	}
	if n.Kind == cst.KindCall {
		l.bag.Addf(l.module, n.Span, diagnostics.KindCallInPattern, "calls are not allowed in match patterns")
		return &Error{base: l.base(n), Errors: []diagnostics.Diagnostic{
			diagnostics.New(l.module, n.Span, diagnostics.KindCallInPattern, "calls are not allowed in match patterns"),
		}}
	}
	return l.lowerExpression(n)
}

// --- helpers --------------------------------------------------------------

func nonTrivia(children []*cst.Node) []*cst.Node {
	out := make([]*cst.Node, 0, len(children))
	for _, c := range children {
		if c.Kind == cst.KindTrivia {
			continue
		}
		out = append(out, c)
	}
	return out
}

func textOf(n *cst.Node) string {
	n = unwrap(n)
	if n.Raw != nil {
		return n.Raw.Render()
	}
	var sb []byte
	for _, c := range n.Children {
		if c.Kind == cst.KindTrivia {
			continue
		}
		sb = append(sb, textOf(c)...)
	}
	return string(sb)
}

func parseInt(text string) int64 {
	var value int64
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + int64(c-'0')
	}
	return value
}
