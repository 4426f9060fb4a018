// Package cst implements Candy's Concrete Syntax Tree (spec §3, §4.3 first
// half): the RCST wrapped with a stable integer id and a byte span per
// node, so diagnostics and tooling can address any syntactic position.
//
// Grounded on spec §3's CST invariant ("spans are non-overlapping
// sibling-wise, cover parent span, and the sequence of leaf spans exactly
// tiles the source") — the builder below is a structural walk assigning
// spans by accumulating rendered-text length, the natural consequence of
// RCST being lossless (spec §4.2).
package cst

import (
	"github.com/candy-lang/candy-sub004/internal/rcst"
	"github.com/candy-lang/candy-sub004/internal/span"
)

// Id is a stable, per-module, post-order-assigned node identifier (a node's
// children get their ids before the node itself).
type Id int

// Kind names the syntactic shape of a CST node, mirroring the RCST variant
// it was built from (plus "Token" for literal leaves like punctuation
// text and "Trivia" for whitespace/comment leaves).
type Kind string

const (
	KindToken         Kind = "Token"
	KindTrivia        Kind = "Trivia"
	KindIdentifier    Kind = "Identifier"
	KindSymbol        Kind = "Symbol"
	KindInt           Kind = "Int"
	KindText          Kind = "Text"
	KindTextPart      Kind = "TextPart"
	KindInterpolation Kind = "Interpolation"
	KindParenthesized Kind = "Parenthesized"
	KindList          Kind = "List"
	KindStruct        Kind = "Struct"
	KindStructField   Kind = "StructField"
	KindStructAccess  Kind = "StructAccess"
	KindCall          Kind = "Call"
	KindMatch         Kind = "Match"
	KindMatchCase     Kind = "MatchCase"
	KindOrPattern     Kind = "OrPattern"
	KindFunction      Kind = "Function"
	KindAssignment    Kind = "Assignment"
	KindBinaryBar     Kind = "BinaryBar"
	KindError         Kind = "Error"
	KindProgram       Kind = "Program"
)

// Node is a CST node: a stable Id, a byte Span, a Kind, the RCST node it
// was built from, and its CST children in source order.
type Node struct {
	Id       Id
	Span     span.Span
	Kind     Kind
	Raw      rcst.Node
	Children []*Node
}

// Tree is a whole module's CST, plus the id->node index used for
// diagnostic-to-source mapping (spec §7's "mapping back to source location
// uses the originating CST id's span").
type Tree struct {
	Root  *Node
	byId  map[Id]*Node
	nextId Id
}

// ByID looks up a node by its stable id.
func (t *Tree) ByID(id Id) (*Node, bool) {
	n, ok := t.byId[id]
	return n, ok
}

// Build converts an rcst.Program into a CST, assigning ids in post-order
// (the root gets the last id).
func Build(program rcst.Program) *Tree {
	t := &Tree{byId: make(map[Id]*Node)}
	start := span.Position(0)
	var children []*Node
	for _, w := range program.Leading {
		child, end := t.build(w, start)
		children = append(children, child)
		start = end
	}
	for _, d := range program.Definitions {
		child, end := t.build(d, start)
		children = append(children, child)
		start = end
	}
	t.Root = t.newNode(KindProgram, program, span.New(0, start), children)
	return t
}

func (t *Tree) newNode(kind Kind, raw rcst.Node, sp span.Span, children []*Node) *Node {
	id := t.nextId
	t.nextId++
	n := &Node{Id: id, Span: sp, Kind: kind, Raw: raw, Children: children}
	t.byId[id] = n
	return n
}

// leaf creates a span-only node for literal text (punctuation, quotes,
// arrows, raw identifier/symbol/int text, trivia).
func (t *Tree) leaf(kind Kind, raw rcst.Node, start span.Position, text string) (*Node, span.Position) {
	end := start + span.Position(len(text))
	return t.newNode(kind, raw, span.New(start, end), nil), end
}

// build recursively assigns CST nodes to an RCST subtree, returning the
// node and the position immediately after it.
func (t *Tree) build(n rcst.Node, start span.Position) (*Node, span.Position) {
	switch v := n.(type) {
	case rcst.TrailingWhitespace:
		child, pos := t.build(v.Child, start)
		var trivia []*Node
		for _, w := range v.Whitespace {
			tn, newPos := t.leaf(KindTrivia, w, pos, w.Render())
			trivia = append(trivia, tn)
			pos = newPos
		}
		wrapper := t.newNode(child.Kind, n, span.New(child.Span.Start, pos), append([]*Node{child}, trivia...))
		return wrapper, pos

	case rcst.Whitespace:
		return t.leaf(KindTrivia, n, start, v.Text)
	case rcst.Newline:
		return t.leaf(KindTrivia, n, start, v.Text)
	case rcst.Comment:
		return t.leaf(KindTrivia, n, start, v.Text)
	case rcst.Punctuation:
		return t.leaf(KindToken, n, start, v.Text)
	case rcst.Identifier:
		return t.leaf(KindIdentifier, n, start, v.Text)
	case rcst.Symbol:
		return t.leaf(KindSymbol, n, start, v.Text)
	case rcst.Int:
		return t.leaf(KindInt, n, start, v.Text)
	case rcst.TextPart:
		return t.leaf(KindTextPart, n, start, v.Text)

	case rcst.Text:
		pos := start
		var children []*Node
		if v.OpeningQuote != "" {
			c, p := t.leaf(KindToken, nil, pos, v.OpeningQuote)
			children = append(children, c)
			pos = p
		}
		for _, part := range v.Parts {
			c, p := t.build(part, pos)
			children = append(children, c)
			pos = p
		}
		if v.ClosingQuote != "" {
			c, p := t.leaf(KindToken, nil, pos, v.ClosingQuote)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindText, n, span.New(start, pos), children), pos

	case rcst.Interpolation:
		pos := start
		var children []*Node
		c, p := t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		if v.Expression != nil {
			c, p = t.build(v.Expression, pos)
			children = append(children, c)
			pos = p
		}
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindInterpolation, n, span.New(start, pos), children), pos

	case rcst.Parenthesized:
		pos := start
		var children []*Node
		c, p := t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		if v.Inner != nil {
			c, p = t.build(v.Inner, pos)
			children = append(children, c)
			pos = p
		}
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindParenthesized, n, span.New(start, pos), children), pos

	case rcst.List:
		pos := start
		var children []*Node
		c, p := t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		for i, item := range v.Items {
			c, p = t.build(item, pos)
			children = append(children, c)
			pos = p
			if i < len(v.Commas) {
				c, p = t.build(v.Commas[i], pos)
				children = append(children, c)
				pos = p
			}
		}
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindList, n, span.New(start, pos), children), pos

	case rcst.StructField:
		pos := start
		var children []*Node
		if v.Key != nil {
			c, p := t.build(v.Key, pos)
			children = append(children, c)
			pos = p
		}
		if v.Colon != nil {
			c, p := t.build(v.Colon, pos)
			children = append(children, c)
			pos = p
		}
		if !v.IsShort && v.Value != nil {
			c, p := t.build(v.Value, pos)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindStructField, n, span.New(start, pos), children), pos

	case rcst.Struct:
		pos := start
		var children []*Node
		c, p := t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		for i, field := range v.Fields {
			c, p = t.build(field, pos)
			children = append(children, c)
			pos = p
			if i < len(v.Commas) {
				c, p = t.build(v.Commas[i], pos)
				children = append(children, c)
				pos = p
			}
		}
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindStruct, n, span.New(start, pos), children), pos

	case rcst.StructAccess:
		pos := start
		str, p := t.build(v.Struct, pos)
		pos = p
		dot, p := t.leaf(KindToken, nil, pos, v.Dot)
		pos = p
		key, p := t.build(v.Key, pos)
		pos = p
		return t.newNode(KindStructAccess, n, span.New(start, pos), []*Node{str, dot, key}), pos

	case rcst.Call:
		pos := start
		receiver, p := t.build(v.Receiver, pos)
		pos = p
		children := []*Node{receiver}
		for _, arg := range v.Arguments {
			c, p2 := t.build(arg, pos)
			children = append(children, c)
			pos = p2
		}
		return t.newNode(KindCall, n, span.New(start, pos), children), pos

	case rcst.MatchCase:
		pos := start
		pattern, p := t.build(v.Pattern, pos)
		pos = p
		arrow, p := t.leaf(KindToken, nil, pos, v.Arrow)
		pos = p
		body, p := t.build(v.Body, pos)
		pos = p
		return t.newNode(KindMatchCase, n, span.New(start, pos), []*Node{pattern, arrow, body}), pos

	case rcst.Match:
		pos := start
		expr, p := t.build(v.Expression, pos)
		pos = p
		children := []*Node{expr}
		c, p := t.leaf(KindToken, nil, pos, v.Percent)
		children = append(children, c)
		pos = p
		c, p = t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		for _, mc := range v.Cases {
			c, p = t.build(mc, pos)
			children = append(children, c)
			pos = p
		}
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindMatch, n, span.New(start, pos), children), pos

	case rcst.OrPattern:
		pos := start
		left, p := t.build(v.Left, pos)
		pos = p
		bar, p := t.leaf(KindToken, nil, pos, v.Bar)
		pos = p
		right, p := t.build(v.Right, pos)
		pos = p
		return t.newNode(KindOrPattern, n, span.New(start, pos), []*Node{left, bar, right}), pos

	case rcst.Function:
		pos := start
		var children []*Node
		c, p := t.leaf(KindToken, nil, pos, v.Opening)
		children = append(children, c)
		pos = p
		for _, param := range v.Parameters {
			c, p = t.build(param, pos)
			children = append(children, c)
			pos = p
		}
		if v.Arrow != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Arrow)
			children = append(children, c)
			pos = p
		}
		body, p := t.build(v.Body, pos)
		children = append(children, body)
		pos = p
		if v.Closing != "" {
			c, p = t.leaf(KindToken, nil, pos, v.Closing)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindFunction, n, span.New(start, pos), children), pos

	case rcst.Assignment:
		pos := start
		name, p := t.build(v.Name, pos)
		pos = p
		children := []*Node{name}
		for _, param := range v.Parameters {
			c, p2 := t.build(param, pos)
			children = append(children, c)
			pos = p2
		}
		op, p := t.leaf(KindToken, nil, pos, v.Operator)
		children = append(children, op)
		pos = p
		body, p := t.build(v.Body, pos)
		children = append(children, body)
		pos = p
		return t.newNode(KindAssignment, n, span.New(start, pos), children), pos

	case rcst.BinaryBar:
		pos := start
		left, p := t.build(v.Left, pos)
		pos = p
		bar, p := t.leaf(KindToken, nil, pos, v.Bar)
		pos = p
		right, p := t.build(v.Right, pos)
		pos = p
		return t.newNode(KindBinaryBar, n, span.New(start, pos), []*Node{left, bar, right}), pos

	case rcst.Error:
		pos := start
		var children []*Node
		if v.Child != nil {
			c, p := t.build(v.Child, pos)
			children = append(children, c)
			pos = p
		}
		if v.UnparsableInput != "" {
			c, p := t.leaf(KindToken, nil, pos, v.UnparsableInput)
			children = append(children, c)
			pos = p
		}
		return t.newNode(KindError, n, span.New(start, pos), children), pos

	default:
		text := n.Render()
		return t.leaf(KindToken, n, start, text)
	}
}
