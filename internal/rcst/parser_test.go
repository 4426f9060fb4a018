package rcst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"simple text assignment", `main _ := "Hello, world!"`},
		{"pipe call", "main _ := 1 | int.add 2"},
		{"needs call", `main _ := needs False "nope"`},
		{"use with parent navigation", `main _ := use "..Core"`},
		{"struct literal", "main _ := [a: 1, b: 2]"},
		{"struct shorthand", "x := 3\nmain _ := [x]"},
		{"list literal", "main _ := (1, 2, 3)"},
		{"empty list", "main _ := (,)"},
		{"match expression", "main x := x %\n  1 -> \"one\"\n  _ -> \"other\"\n"},
		{"function literal", "add := { a b -> a }"},
		{"comment preserved", "# a comment\nmain _ := 1"},
		{"trailing whitespace preserved", "main _ := 1   \n"},
		{"unterminated text recovers", "main _ := \"oops"},
		{"unclosed parenthesis recovers", "main _ := (1 + "},
		{"mixed indentation tab", "main _ :=\n\t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := Parse(tt.input)
			assert.Equal(t, tt.input, Render(program), "render(parse(s)) must equal s")
		})
	}
}

func TestIndentationScore(t *testing.T) {
	assert.Equal(t, 0, IndentationScore(""))
	assert.Equal(t, 2, IndentationScore("  "))
	assert.Equal(t, 2, IndentationScore("\t"))
	assert.Equal(t, 4, IndentationScore("\t\t"))
	assert.Equal(t, 3, IndentationScore(" \t"))
}

func TestStructShorthandExpandsToKeyValue(t *testing.T) {
	program := Parse("main _ := [x]")
	def := program.Definitions[0]
	assignment, ok := unwrapTrailing(def).(Assignment)
	assert.True(t, ok)
	st, ok := unwrapTrailing(assignment.Body).(Struct)
	assert.True(t, ok)
	field, ok := unwrapTrailing(st.Fields[0]).(StructField)
	assert.True(t, ok)
	assert.True(t, field.IsShort)
}

// unwrapTrailing strips a TrailingWhitespace wrapper, for tests that want
// to assert on the underlying node shape.
func unwrapTrailing(n Node) Node {
	if tw, ok := n.(TrailingWhitespace); ok {
		return tw.Child
	}
	return n
}
