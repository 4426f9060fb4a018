package ast

import (
	"testing"

	"github.com/candy-lang/candy-sub004/internal/cst"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/rcst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModule() modident.Identifier {
	return modident.New(modident.Package{Kind: modident.User, Value: "test"}, []string{"main"}, modident.Code)
}

func lower(t *testing.T, source string) (*Program, *diagnostics.Bag) {
	t.Helper()
	tree := cst.Build(rcst.Parse(source))
	bag := diagnostics.NewBag()
	return Lower(testModule(), tree, source, bag), bag
}

func TestLowerSimpleAssignment(t *testing.T) {
	program, bag := lower(t, `main _ := "Hello, world!"`)
	require.False(t, bag.HasErrors())
	require.Len(t, program.Assignments, 1)

	a := program.Assignments[0]
	assert.Equal(t, "main", a.Name)
	assert.True(t, a.IsPublic)

	fn, ok := a.Body.(*Function)
	require.True(t, ok)
	require.Len(t, fn.Parameters, 1)
	param, ok := fn.Parameters[0].(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "_", param.Name)

	require.Len(t, fn.Body, 1)
	text, ok := fn.Body[0].(*Text)
	require.True(t, ok)
	require.Len(t, text.Parts, 1)
	part, ok := text.Parts[0].(*TextPart)
	require.True(t, ok)
	assert.Equal(t, "Hello, world!", part.Value)
}

func TestPipeDesugarsToLeftAssociatedCall(t *testing.T) {
	program, bag := lower(t, "main _ := 1 | int.add 2")
	require.False(t, bag.HasErrors())

	fn := program.Assignments[0].Body.(*Function)
	call, ok := fn.Body[0].(*Call)
	require.True(t, ok, "pipe must desugar into a Call")
	assert.True(t, call.IsFromPipe)
	require.Len(t, call.Arguments, 2)

	first, ok := call.Arguments[0].(*Int)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.Value)

	second, ok := call.Arguments[1].(*Int)
	require.True(t, ok)
	assert.Equal(t, int64(2), second.Value)

	receiver, ok := call.Receiver.(*StructAccess)
	require.True(t, ok, "receiver of `int.add 2` must be the struct-access int.add")
	key, ok := receiver.Key.(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "add", key.Name)
}

func TestStructShorthandExpandsToKeyValue(t *testing.T) {
	program, bag := lower(t, "main _ := [x]")
	require.False(t, bag.HasErrors())

	fn := program.Assignments[0].Body.(*Function)
	st, ok := fn.Body[0].(*Struct)
	require.True(t, ok)
	require.Len(t, st.Fields, 1)
	assert.Same(t, st.Fields[0].Key, st.Fields[0].Value, "shorthand [x] must expand to [x: x]")

	key, ok := st.Fields[0].Key.(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "x", key.Name)
}

func TestExplicitStructFieldKeepsDistinctKeyAndValue(t *testing.T) {
	program, bag := lower(t, "main _ := [a: 1, b: 2]")
	require.False(t, bag.HasErrors())

	fn := program.Assignments[0].Body.(*Function)
	st := fn.Body[0].(*Struct)
	require.Len(t, st.Fields, 2)

	keyA := st.Fields[0].Key.(*Identifier)
	assert.Equal(t, "a", keyA.Name)
	valueA := st.Fields[0].Value.(*Int)
	assert.Equal(t, int64(1), valueA.Value)
}

func TestCallInPatternEmitsDiagnostic(t *testing.T) {
	source := "main x := x %\n  f y -> 1\n  _ -> 2\n"
	_, bag := lower(t, source)

	require.True(t, bag.HasErrors())
	var found bool
	for _, d := range bag.Entries() {
		if d.Kind == diagnostics.KindCallInPattern {
			found = true
		}
	}
	assert.True(t, found, "a Call-shaped pattern must emit CallInPattern")
}

func TestMatchLowersCasesAndWildcardPattern(t *testing.T) {
	source := "main x := x %\n  1 -> \"one\"\n  _ -> \"other\"\n"
	program, bag := lower(t, source)
	require.False(t, bag.HasErrors())

	fn := program.Assignments[0].Body.(*Function)
	m, ok := fn.Body[0].(*Match)
	require.True(t, ok)
	require.Len(t, m.Cases, 2)

	firstPattern, ok := m.Cases[0].Pattern.(*Int)
	require.True(t, ok)
	assert.Equal(t, int64(1), firstPattern.Value)

	secondPattern, ok := m.Cases[1].Pattern.(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "_", secondPattern.Name)
}

func TestDuplicatePublicAssignmentEmitsDiagnostic(t *testing.T) {
	source := "foo _ := 1\nfoo _ := 2\n"
	_, bag := lower(t, source)

	require.True(t, bag.HasErrors())
	assert.Equal(t, diagnostics.KindPublicAssignmentDuplicate, bag.Entries()[0].Kind)
}

func TestNonFunctionAssignmentWrapsPlainBody(t *testing.T) {
	program, bag := lower(t, "x := 1")
	require.False(t, bag.HasErrors())

	a := program.Assignments[0]
	assert.Equal(t, "x", a.Name)
	body, ok := a.Body.(*Body)
	require.True(t, ok, "a parameter-less assignment must lower to a plain Body, not a Function")
	require.Len(t, body.Expressions, 1)
	intNode, ok := body.Expressions[0].(*Int)
	require.True(t, ok)
	assert.Equal(t, int64(1), intNode.Value)
}
