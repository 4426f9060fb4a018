// Package diagnostics implements Candy's first-class error model (spec §7):
// every error is data attached to the IR node it came from, never a Go
// error bubbled up a call stack. Pipeline stages append to a Bag and keep
// producing a best-effort result downstream.
//
// Grounded on the teacher's internal/errors.SentraError: a typed error with
// a SourceLocation and a caret-pointing renderer. Candy generalizes
// SourceLocation into a byte Span so it maps back through CST ids.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/span"
)

// Kind enumerates every diagnostic kind named in spec §7.
type Kind string

const (
	// Lexical/syntactic (RCST/CST)
	KindTextNotClosed               Kind = "TextNotClosed"
	KindParenthesisNotClosed        Kind = "ParenthesisNotClosed"
	KindStructFieldMissesColon      Kind = "StructFieldMissesColon"
	KindWeirdWhitespace             Kind = "WeirdWhitespace"
	KindWeirdWhitespaceInIndent     Kind = "WeirdWhitespaceInIndentation"
	KindOpeningParenMissesExpr      Kind = "OpeningParenthesisMissesExpression"
	KindUnparsableInput             Kind = "UnparsableInput"

	// Semantic (AST/HIR)
	KindCallInPattern             Kind = "CallInPattern"
	KindUnknownReference          Kind = "UnknownReference"
	KindPublicAssignmentNotTop    Kind = "PublicAssignmentInNotTopLevel"
	KindNeedsWrongArgCount        Kind = "NeedsWithWrongNumberOfArguments"
	KindPublicAssignmentDuplicate Kind = "PublicAssignmentWithSameName"

	// MIR
	KindUseInvalidPath         Kind = "UseWithInvalidPath"
	KindUseTooManyParents      Kind = "UseHasTooManyParentNavigations"
	KindUseNotStaticallyResolv Kind = "UseNotStaticallyResolvable"

	// Runtime
	KindPanic Kind = "Panic"
)

// Diagnostic is one error, attached to a module and a byte span, with a
// human-readable payload.
type Diagnostic struct {
	Module  modident.Identifier
	Span    span.Span
	Kind    Kind
	Message string
}

func New(module modident.Identifier, sp span.Span, kind Kind, message string) Diagnostic {
	return Diagnostic{Module: module, Span: sp, Kind: kind, Message: message}
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s at %s (%s)", d.Kind, d.Message, d.Span, d.Module)
}

// Render prints the diagnostic with a source-line-and-caret view, mirroring
// the teacher's SentraError.Error() rendering.
func (d Diagnostic) Render(source string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", d.Kind, d.Message)

	line, col, lineText := lineAndColumn(source, int(d.Span.Start))
	fmt.Fprintf(&sb, "  at %s:%d:%d\n", d.Module, line, col)
	if lineText != "" {
		prefix := fmt.Sprintf("  %d | ", line)
		fmt.Fprintf(&sb, "\n%s%s\n", prefix, lineText)
		sb.WriteString(strings.Repeat(" ", len(prefix)))
		if col > 0 {
			sb.WriteString(strings.Repeat(" ", col-1))
		}
		sb.WriteString("^\n")
	}
	return sb.String()
}

func lineAndColumn(source string, offset int) (line, col int, lineText string) {
	line = 1
	lineStart := 0
	for i := 0; i < offset && i < len(source); i++ {
		if source[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	lineEnd := len(source)
	if idx := strings.IndexByte(source[lineStart:], '\n'); idx >= 0 {
		lineEnd = lineStart + idx
	}
	if lineStart <= len(source) {
		if lineEnd > len(source) {
			lineEnd = len(source)
		}
		lineText = source[lineStart:lineEnd]
	}
	col = offset - lineStart + 1
	return
}

// Bag accumulates diagnostics across a pipeline stage. Every stage reads the
// upstream bag and appends its own findings (spec §4.1: "errors from a
// stage become part of the stage's result").
type Bag struct {
	entries []Diagnostic
}

// NewBag creates an empty bag, optionally pre-seeded from upstream bags.
func NewBag(upstream ...*Bag) *Bag {
	b := &Bag{}
	for _, u := range upstream {
		if u != nil {
			b.entries = append(b.entries, u.entries...)
		}
	}
	return b
}

func (b *Bag) Add(d Diagnostic) {
	b.entries = append(b.entries, d)
}

func (b *Bag) Addf(module modident.Identifier, sp span.Span, kind Kind, format string, args ...interface{}) {
	b.Add(New(module, sp, kind, fmt.Sprintf(format, args...)))
}

func (b *Bag) Entries() []Diagnostic {
	return b.entries
}

func (b *Bag) HasErrors() bool {
	return len(b.entries) > 0
}

func (b *Bag) Len() int {
	return len(b.entries)
}
