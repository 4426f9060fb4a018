package rcst

import (
	"strings"
	"unicode"
)

// Parser is a recursive-descent parser over a string, in the spirit of the
// teacher's lexer.Scanner: it tracks a single forward cursor, and every
// "parseX" method either consumes a longest match and advances the cursor,
// or leaves the cursor untouched and reports failure (spec §4.2).
type Parser struct {
	src string
	pos int
}

// Parse parses an entire module's source text into a Program. It never
// fails outright: unparsable fragments become Error nodes, and parsing
// always consumes the whole input, satisfying render(parse(s)) == s.
func Parse(source string) Program {
	p := &Parser{src: source}
	leading := p.parseTrivia()
	var defs []Node
	for !p.atEnd() {
		before := p.pos
		def := p.parseDefinition()
		defs = append(defs, def)
		if p.pos == before {
			// Safety valve: parseDefinition must always consume at least one
			// byte via its Error-node fallback; this should be unreachable.
			p.pos++
		}
	}
	return Program{Leading: leading, Definitions: defs}
}

func (p *Parser) atEnd() bool { return p.pos >= len(p.src) }

func (p *Parser) peekByte() byte {
	if p.atEnd() {
		return 0
	}
	return p.src[p.pos]
}

func (p *Parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

// --- trivia ---------------------------------------------------------------

func (p *Parser) parseTrivia() []Node {
	var out []Node
	for {
		atLineStart := p.pos == 0 || p.src[p.pos-1] == '\n'
		switch {
		case p.peekByte() == ' ' || p.peekByte() == '\t':
			out = append(out, p.parseWhitespaceRun(atLineStart))
		case p.hasPrefix("\r\n"):
			out = append(out, Newline{Text: "\r\n"})
			p.pos += 2
		case p.peekByte() == '\n':
			out = append(out, Newline{Text: "\n"})
			p.pos++
		case p.peekByte() == '#':
			out = append(out, p.parseComment())
		default:
			return out
		}
	}
}

func (p *Parser) parseWhitespaceRun(atLineStart bool) Node {
	start := p.pos
	hasTab := false
	for p.peekByte() == ' ' || p.peekByte() == '\t' {
		if p.peekByte() == '\t' {
			hasTab = true
		}
		p.pos++
	}
	ws := Whitespace{Text: p.src[start:p.pos]}
	if atLineStart && hasTab {
		return Error{Child: ws, Reason: ReasonWeirdWhitespaceInIndent}
	}
	return ws
}

func (p *Parser) parseComment() Node {
	start := p.pos
	for !p.atEnd() && p.peekByte() != '\n' {
		p.pos++
	}
	return Comment{Text: p.src[start:p.pos]}
}

// wrap attaches any trivia immediately following node's already-consumed
// text as a TrailingWhitespace, so every atomic token carries the
// whitespace/comments that followed it (spec §3).
func (p *Parser) wrap(node Node) Node {
	trivia := p.parseTrivia()
	if len(trivia) == 0 {
		return node
	}
	return TrailingWhitespace{Child: node, Whitespace: trivia}
}

// --- character classes ------------------------------------------------

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || c == '_'
}
func isSymbolStart(c byte) bool {
	return c >= 'A' && c <= 'Z'
}
func isIdentCont(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// --- atomic tokens ------------------------------------------------------

func (p *Parser) tryPunct(text string) (Node, bool) {
	if !p.hasPrefix(text) {
		return nil, false
	}
	p.pos += len(text)
	return p.wrap(Punctuation{Text: text}), true
}

func (p *Parser) tryIdentifier() (Node, bool) {
	if p.atEnd() || !isIdentStart(p.peekByte()) {
		return nil, false
	}
	start := p.pos
	p.pos++
	for !p.atEnd() && isIdentCont(p.peekByte()) {
		p.pos++
	}
	return p.wrap(Identifier{Text: p.src[start:p.pos]}), true
}

func (p *Parser) trySymbol() (Node, bool) {
	if p.atEnd() || !isSymbolStart(p.peekByte()) {
		return nil, false
	}
	start := p.pos
	p.pos++
	for !p.atEnd() && isIdentCont(p.peekByte()) {
		p.pos++
	}
	return p.wrap(Symbol{Text: p.src[start:p.pos]}), true
}

func (p *Parser) tryInt() (Node, bool) {
	if p.atEnd() || !isDigit(p.peekByte()) {
		return nil, false
	}
	start := p.pos
	for !p.atEnd() && isDigit(p.peekByte()) {
		p.pos++
	}
	return p.wrap(Int{Text: p.src[start:p.pos]}), true
}

// tryText parses a `"..."` literal, with `{ expr }` interpolations. Failure
// to find a closing quote before EOF produces an Error{Reason:
// TextNotClosed} wrapping whatever was recovered (spec §4.2 example rule).
func (p *Parser) tryText() (Node, bool) {
	if p.peekByte() != '"' {
		return nil, false
	}
	p.pos++
	opening := "\""
	var parts []Node
	partStart := p.pos
	flushPart := func() {
		if p.pos > partStart {
			parts = append(parts, TextPart{Text: p.src[partStart:p.pos]})
		}
	}
	for {
		if p.atEnd() {
			flushPart()
			return Error{
				Child:  Text{OpeningQuote: opening, Parts: parts, ClosingQuote: ""},
				Reason: ReasonTextNotClosed,
			}, true
		}
		switch p.peekByte() {
		case '"':
			flushPart()
			p.pos++
			return p.wrap(Text{OpeningQuote: opening, Parts: parts, ClosingQuote: "\""}), true
		case '{':
			flushPart()
			interp := p.parseInterpolation()
			parts = append(parts, interp)
			partStart = p.pos
		default:
			p.pos++
		}
	}
}

func (p *Parser) parseInterpolation() Node {
	p.pos++ // consume "{"
	expr := p.parseExpression()
	if p.peekByte() == '}' {
		p.pos++
		return Interpolation{Opening: "{", Expression: expr, Closing: "}"}
	}
	return Interpolation{Opening: "{", Expression: expr, Closing: ""}
}

// --- definitions and expressions ---------------------------------------

// parseDefinition parses "name parameter* := body", with recovery: if no
// identifier starts the definition, the rest of the line is consumed into
// an Error node; if the ":=" is missing, the name and parameters already
// read are wrapped in an Error node. Either way the parser makes progress.
func (p *Parser) parseDefinition() Node {
	start := p.pos
	nameNode, ok := p.tryIdentifier()
	if !ok {
		return p.recover(start)
	}
	var params []Node
	for {
		if id, ok := p.tryIdentifier(); ok {
			params = append(params, id)
			continue
		}
		break
	}
	opNode, ok := p.tryPunct(":=")
	if !ok {
		return Error{
			Child:           Assignment{Name: nameNode, Parameters: params, Operator: ""},
			UnparsableInput: "",
			Reason:          ReasonUnparsableInput,
		}
	}
	body := p.parseExpression()
	return Assignment{Name: nameNode, Parameters: params, Operator: opNode.Render(), Body: body}
}

func (p *Parser) recover(start int) Node {
	// Resynchronize at the next plausible delimiter (newline) per spec §4.2.
	for !p.atEnd() && p.peekByte() != '\n' {
		p.pos++
	}
	bad := p.src[start:p.pos]
	return p.wrap(Error{UnparsableInput: bad, Reason: ReasonUnparsableInput})
}

// parseExpression parses the pipe-precedence level: `a | f b` (lowest
// precedence, left-associative).
func (p *Parser) parseExpression() Node {
	left := p.parseCall()
	for {
		bar, ok := p.tryPunct("|")
		if !ok {
			break
		}
		right := p.parseCall()
		left = BinaryBar{Left: left, Bar: bar.Render(), Right: right}
	}
	return p.parseMatchSuffix(left)
}

func (p *Parser) parseMatchSuffix(expr Node) Node {
	percent, ok := p.tryPunct("%")
	if !ok {
		return expr
	}
	opening, ok := p.tryPunct("{")
	if !ok {
		return Error{Child: expr, UnparsableInput: percent.Render(), Reason: ReasonUnparsableInput}
	}
	var cases []Node
	for {
		if _, ok := p.tryPunct("}"); ok {
			return Match{Expression: expr, Percent: percent.Render(), Opening: opening.Render(), Cases: cases, Closing: "}"}
		}
		if p.atEnd() {
			return Match{Expression: expr, Percent: percent.Render(), Opening: opening.Render(), Cases: cases, Closing: ""}
		}
		cases = append(cases, p.parseMatchCase())
	}
}

func (p *Parser) parseMatchCase() Node {
	pattern := p.parsePattern()
	arrow, ok := p.tryPunct("->")
	if !ok {
		return MatchCase{Pattern: pattern, Arrow: "", Body: Error{Reason: ReasonUnparsableInput}}
	}
	body := p.parseCall()
	return MatchCase{Pattern: pattern, Arrow: arrow.Render(), Body: body}
}

// parsePattern parses a match pattern. Patterns reuse the general
// expression grammar (so a Call can appear syntactically); AST lowering
// rejects Call-shaped patterns with CallInPattern (spec §4.3).
func (p *Parser) parsePattern() Node {
	left := p.parseCall()
	for {
		bar, ok := p.tryPunct("|")
		if !ok {
			return left
		}
		right := p.parseCall()
		left = OrPattern{Left: left, Bar: bar.Render(), Right: right}
	}
}

// parseCall parses "receiver argument*" — juxtaposition application.
func (p *Parser) parseCall() Node {
	receiver := p.parsePrimary()
	var args []Node
	for p.canStartPrimary() {
		args = append(args, p.parsePrimary())
	}
	if len(args) == 0 {
		return receiver
	}
	return Call{Receiver: receiver, Arguments: args}
}

func (p *Parser) canStartPrimary() bool {
	if p.atEnd() {
		return false
	}
	c := p.peekByte()
	return isIdentStart(c) || isSymbolStart(c) || isDigit(c) || c == '"' || c == '(' || c == '[' || c == '{'
}

func (p *Parser) parsePrimary() Node {
	switch {
	case p.peekByte() == '"':
		n, _ := p.tryText()
		return p.parseTrailingAccess(n)
	case isDigit(p.peekByte()):
		n, _ := p.tryInt()
		return p.parseTrailingAccess(n)
	case isSymbolStart(p.peekByte()):
		n, _ := p.trySymbol()
		return p.parseTrailingAccess(n)
	case isIdentStart(p.peekByte()):
		n, _ := p.tryIdentifier()
		return p.parseTrailingAccess(n)
	case p.peekByte() == '(':
		return p.parseTrailingAccess(p.parseParenOrList())
	case p.peekByte() == '[':
		return p.parseTrailingAccess(p.parseStruct())
	case p.peekByte() == '{':
		return p.parseTrailingAccess(p.parseFunction())
	default:
		start := p.pos
		if !p.atEnd() {
			p.pos++
		}
		return Error{UnparsableInput: p.src[start:p.pos], Reason: ReasonUnparsableInput}
	}
}

func (p *Parser) parseTrailingAccess(n Node) Node {
	for {
		dotNode, ok := p.tryPunct(".")
		if !ok {
			return n
		}
		key, ok := p.tryIdentifier()
		if !ok {
			return Error{Child: n, UnparsableInput: dotNode.Render(), Reason: ReasonUnparsableInput}
		}
		n = StructAccess{Struct: n, Dot: dotNode.Render(), Key: key}
	}
}

// parseParenOrList disambiguates "(" expr ")" (grouping) from
// "(" expr "," ... ")" (list), per spec §3.
func (p *Parser) parseParenOrList() Node {
	opening, _ := p.tryPunct("(")
	if comma, ok := p.tryPunct(","); ok {
		// "(,)" is the empty list; its comma (with any trivia) is kept in
		// Opening so the list still renders byte for byte.
		closing, ok := p.tryPunct(")")
		closeText := ""
		if ok {
			closeText = closing.Render()
		}
		return List{Opening: opening.Render() + comma.Render(), Closing: closeText}
	}
	if closing, ok := p.tryPunct(")"); ok {
		return Error{
			Child:  Parenthesized{Opening: opening.Render(), Closing: closing.Render()},
			Reason: ReasonOpeningParenMissesExpr,
		}
	}
	first := p.parseExpression()
	if comma, ok := p.tryPunct(","); ok {
		items := []Node{first}
		commas := []Node{comma}
		for {
			if closing, ok := p.tryPunct(")"); ok {
				return List{Opening: opening.Render(), Items: items, Commas: commas, Closing: closing.Render()}
			}
			item := p.parseExpression()
			items = append(items, item)
			if comma, ok := p.tryPunct(","); ok {
				commas = append(commas, comma)
				continue
			}
			closing, ok := p.tryPunct(")")
			closeText := ""
			if ok {
				closeText = closing.Render()
			}
			return List{Opening: opening.Render(), Items: items, Commas: commas, Closing: closeText}
		}
	}
	closing, ok := p.tryPunct(")")
	if !ok {
		return Error{
			Child:  Parenthesized{Opening: opening.Render(), Inner: first},
			Reason: ReasonParenthesisNotClosed,
		}
	}
	return Parenthesized{Opening: opening.Render(), Inner: first, Closing: closing.Render()}
}

func (p *Parser) parseStruct() Node {
	opening, _ := p.tryPunct("[")
	if closing, ok := p.tryPunct("]"); ok {
		return Struct{Opening: opening.Render(), Closing: closing.Render()}
	}
	var fields, commas []Node
	for {
		fields = append(fields, p.parseStructField())
		if comma, ok := p.tryPunct(","); ok {
			commas = append(commas, comma)
			if _, ok := p.tryPunct("]"); ok {
				// trailing comma
				break
			}
			continue
		}
		break
	}
	closing, ok := p.tryPunct("]")
	closeText := ""
	if ok {
		closeText = closing.Render()
	}
	return Struct{Opening: opening.Render(), Fields: fields, Commas: commas, Closing: closeText}
}

// parseStructField parses "key: value" or the shorthand "key" (sugar for
// "key: key", resolved fully at AST time per spec §4.3).
func (p *Parser) parseStructField() Node {
	key := p.parseCall()
	if colon, ok := p.tryPunct(":"); ok {
		value := p.parseExpression()
		return StructField{Key: key, Colon: colon, Value: value}
	}
	if _, isIdent := key.(Identifier); isIdent {
		return StructField{Key: key, IsShort: true}
	}
	if tw, ok := key.(TrailingWhitespace); ok {
		if _, isIdent := tw.Child.(Identifier); isIdent {
			return StructField{Key: key, IsShort: true}
		}
	}
	return Error{Child: StructField{Key: key}, Reason: ReasonStructFieldMissesColon}
}

func (p *Parser) parseFunction() Node {
	opening, _ := p.tryPunct("{")
	var params []Node
	for {
		if id, ok := p.tryIdentifier(); ok {
			params = append(params, id)
			continue
		}
		break
	}
	arrow := ""
	if len(params) > 0 {
		if a, ok := p.tryPunct("->"); ok {
			arrow = a.Render()
		}
	}
	body := p.parseExpression()
	closing, ok := p.tryPunct("}")
	closeText := ""
	if ok {
		closeText = closing.Render()
	}
	return Function{Opening: opening.Render(), Parameters: params, Arrow: arrow, Body: body, Closing: closeText}
}

// IndentationScore implements spec §4.2's "number-of-spaces score" for a
// run of leading whitespace: a space counts 1, a tab counts 2.
func IndentationScore(ws string) int {
	score := 0
	for _, r := range ws {
		if r == '\t' {
			score += 2
		} else if unicode.IsSpace(r) {
			score++
		}
	}
	return score
}
