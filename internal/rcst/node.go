// Package rcst implements Candy's Raw Concrete Syntax Tree (spec §3, §4.2):
// a lossless recursive-descent parse of source text. Every byte of the
// input — including whitespace, comments, and unparsable fragments — is
// represented somewhere in the tree, so Render(Parse(s)) == s always.
//
// Grounded structurally on the teacher's internal/lexer.Scanner (longest-
// match char-by-char scanning with an explicit cursor) generalized from a
// token *stream* into a token *tree* that keeps trivia instead of
// discarding it, per spec §4.2.
package rcst

import "strings"

// Node is the sum type of every lexical shape RCST can hold (spec §3).
type Node interface {
	// Render reproduces the exact source text this node was parsed from.
	Render() string
}

// Whitespace is a run of spaces and/or tabs.
type Whitespace struct{ Text string }

func (n Whitespace) Render() string { return n.Text }

// Newline is a single line terminator.
type Newline struct{ Text string } // "\n" or "\r\n"

func (n Newline) Render() string { return n.Text }

// Comment is a "#"-prefixed run to end of line (Candy's comment syntax).
type Comment struct{ Text string }

func (n Comment) Render() string { return n.Text }

// TrailingWhitespace attaches trivia (whitespace/newlines/comments) that
// followed Child, per spec §3's invariant that trivia is never discarded.
type TrailingWhitespace struct {
	Child      Node
	Whitespace []Node
}

func (n TrailingWhitespace) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Child.Render())
	for _, w := range n.Whitespace {
		sb.WriteString(w.Render())
	}
	return sb.String()
}

// Punctuation is a single- or multi-character operator/delimiter token,
// e.g. "(", "->", ":=", "|".
type Punctuation struct{ Text string }

func (n Punctuation) Render() string { return n.Text }

// Identifier is a lowercase-leading name, or the wildcard "_".
type Identifier struct{ Text string }

func (n Identifier) Render() string { return n.Text }

// Symbol is an uppercase-leading name (a bare tag, e.g. True, Core).
type Symbol struct{ Text string }

func (n Symbol) Render() string { return n.Text }

// Int is a literal integer, kept as raw text to preserve exact formatting.
type Int struct{ Text string }

func (n Int) Render() string { return n.Text }

// TextPart is a literal run inside a text literal (between interpolations).
type TextPart struct{ Text string }

func (n TextPart) Render() string { return n.Text }

// Text is a quoted text literal, with opening/closing quotes preserved and
// parts that alternate literal runs and "{ expr }" interpolations.
type Text struct {
	OpeningQuote string // `"`
	Parts        []Node // TextPart or Interpolation
	ClosingQuote string // `"`, or "" if unterminated
}

func (n Text) Render() string {
	var sb strings.Builder
	sb.WriteString(n.OpeningQuote)
	for _, p := range n.Parts {
		sb.WriteString(p.Render())
	}
	sb.WriteString(n.ClosingQuote)
	return sb.String()
}

// Interpolation is a "{ expr }" splice inside a Text literal.
type Interpolation struct {
	Opening    string // "{"
	Expression Node
	Closing    string // "}", or "" if unterminated
}

func (n Interpolation) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Opening)
	if n.Expression != nil {
		sb.WriteString(n.Expression.Render())
	}
	sb.WriteString(n.Closing)
	return sb.String()
}

// Parenthesized is a grouping expression: "(" expr ")".
type Parenthesized struct {
	Opening string
	Inner   Node // nil if empty (OpeningParenthesisMissesExpression)
	Closing string
}

func (n Parenthesized) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Opening)
	if n.Inner != nil {
		sb.WriteString(n.Inner.Render())
	}
	sb.WriteString(n.Closing)
	return sb.String()
}

// List is "(" item ("," item)* ","? ")" with at least one comma, or "(,)"
// for the empty list — this disambiguates it from Parenthesized grouping.
type List struct {
	Opening string
	Items   []Node // expressions
	Commas  []Node // Punctuation(",") interleaved after each item but the last
	Closing string
}

func (n List) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Opening)
	for i, item := range n.Items {
		sb.WriteString(item.Render())
		if i < len(n.Commas) {
			sb.WriteString(n.Commas[i].Render())
		}
	}
	sb.WriteString(n.Closing)
	return sb.String()
}

// StructField is "key: value" or the shorthand "key" (meaning "key: key").
type StructField struct {
	Key      Node // Identifier/Symbol/Int/Text, or nil if positional-only (rare)
	Colon    Node // Punctuation(":"), nil for shorthand
	Value    Node
	IsShort  bool
}

func (n StructField) Render() string {
	var sb strings.Builder
	if n.Key != nil {
		sb.WriteString(n.Key.Render())
	}
	if n.Colon != nil {
		sb.WriteString(n.Colon.Render())
	}
	if !n.IsShort && n.Value != nil {
		sb.WriteString(n.Value.Render())
	}
	return sb.String()
}

// Struct is "[" field ("," field)* ","? "]".
type Struct struct {
	Opening string
	Fields  []Node // StructField
	Commas  []Node
	Closing string
}

func (n Struct) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Opening)
	for i, f := range n.Fields {
		sb.WriteString(f.Render())
		if i < len(n.Commas) {
			sb.WriteString(n.Commas[i].Render())
		}
	}
	sb.WriteString(n.Closing)
	return sb.String()
}

// StructAccess is "struct.key".
type StructAccess struct {
	Struct Node
	Dot    string
	Key    Node
}

func (n StructAccess) Render() string {
	return n.Struct.Render() + n.Dot + n.Key.Render()
}

// Call is "receiver argument*" (juxtaposition application, Candy's call
// syntax — no parentheses around the argument list).
type Call struct {
	Receiver  Node
	Arguments []Node
}

func (n Call) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Receiver.Render())
	for _, a := range n.Arguments {
		sb.WriteString(a.Render())
	}
	return sb.String()
}

// MatchCase is "pattern -> body".
type MatchCase struct {
	Pattern Node
	Arrow   string
	Body    Node
}

func (n MatchCase) Render() string {
	return n.Pattern.Render() + n.Arrow + n.Body.Render()
}

// Match is "expr % { case* }".
type Match struct {
	Expression Node
	Percent    string
	Opening    string
	Cases      []Node // MatchCase
	Closing    string
}

func (n Match) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Expression.Render())
	sb.WriteString(n.Percent)
	sb.WriteString(n.Opening)
	for _, c := range n.Cases {
		sb.WriteString(c.Render())
	}
	sb.WriteString(n.Closing)
	return sb.String()
}

// OrPattern is "pattern | pattern" inside a match pattern position.
type OrPattern struct {
	Left  Node
	Bar   string
	Right Node
}

func (n OrPattern) Render() string {
	return n.Left.Render() + n.Bar + n.Right.Render()
}

// Function is "{" parameter* "->" body "}".
type Function struct {
	Opening    string
	Parameters []Node // Identifier
	Arrow      string // "", "->" is only emitted when parameters present
	Body       Node
	Closing    string
}

func (n Function) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Opening)
	for _, p := range n.Parameters {
		sb.WriteString(p.Render())
	}
	sb.WriteString(n.Arrow)
	sb.WriteString(n.Body.Render())
	sb.WriteString(n.Closing)
	return sb.String()
}

// Assignment is "name parameter* := body" (":=" for public, "=" reserved
// for a future private form; spec.md's AST only names Assignment with
// is_public, so Candy's single `:=` operator always yields a public
// top-level definition here and non-top-level uses are flagged in HIR).
type Assignment struct {
	Name       Node // Identifier
	Parameters []Node
	Operator   string // ":="
	Body       Node
}

func (n Assignment) Render() string {
	var sb strings.Builder
	sb.WriteString(n.Name.Render())
	for _, p := range n.Parameters {
		sb.WriteString(p.Render())
	}
	sb.WriteString(n.Operator)
	if n.Body != nil {
		sb.WriteString(n.Body.Render())
	}
	return sb.String()
}

// BinaryBar is "left | right", the pipe operator (sugar resolved at
// CST→AST time into a left-associated call, spec §4.3).
type BinaryBar struct {
	Left  Node
	Bar   string
	Right Node
}

func (n BinaryBar) Render() string {
	return n.Left.Render() + n.Bar + n.Right.Render()
}

// ErrorReason enumerates the recovery diagnoses named in spec §4.2/§7.
type ErrorReason string

const (
	ReasonTextNotClosed           ErrorReason = "TextNotClosed"
	ReasonParenthesisNotClosed    ErrorReason = "ParenthesisNotClosed"
	ReasonStructFieldMissesColon  ErrorReason = "StructFieldMissesColon"
	ReasonOpeningParenMissesExpr  ErrorReason = "OpeningParenthesisMissesExpression"
	ReasonUnparsableInput         ErrorReason = "UnparsableInput"
	ReasonWeirdWhitespaceInIndent ErrorReason = "WeirdWhitespaceInIndentation"
)

// Error is emitted at any syntactic position where a construct was
// expected but not found, instead of halting the parse (spec §4.2).
type Error struct {
	Child           Node // partial node, if any was recovered
	UnparsableInput string
	Reason          ErrorReason
}

func (n Error) Render() string {
	var sb strings.Builder
	if n.Child != nil {
		sb.WriteString(n.Child.Render())
	}
	sb.WriteString(n.UnparsableInput)
	return sb.String()
}

// Program is the root node: optional leading trivia, then a sequence of
// top-level assignments (each already trailing-trivia-wrapped).
type Program struct {
	Leading     []Node
	Definitions []Node
}

func (n Program) Render() string {
	var sb strings.Builder
	for _, w := range n.Leading {
		sb.WriteString(w.Render())
	}
	for _, d := range n.Definitions {
		sb.WriteString(d.Render())
	}
	return sb.String()
}

// Render is a free function form of Node.Render, for call sites that
// prefer `rcst.Render(n)` to `n.Render()`.
func Render(n Node) string {
	if n == nil {
		return ""
	}
	return n.Render()
}
