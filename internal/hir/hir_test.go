package hir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-lang/candy-sub004/internal/ast"
	"github.com/candy-lang/candy-sub004/internal/cst"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/hir"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/rcst"
)

func testModule(path ...string) modident.Identifier {
	if len(path) == 0 {
		path = []string{"main"}
	}
	return modident.New(modident.Package{Kind: modident.User, Value: "/pkg"}, path, modident.Code)
}

func lower(t *testing.T, module modident.Identifier, source string) (*hir.Module, *diagnostics.Bag) {
	t.Helper()
	tree := cst.Build(rcst.Parse(source))
	bag := diagnostics.NewBag()
	program := ast.Lower(module, tree, source, bag)
	return hir.Lower(module, tree, program, bag), bag
}

func hasKind(bag *diagnostics.Bag, kind diagnostics.Kind) bool {
	for _, d := range bag.Entries() {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func TestUnknownReferenceEmitsDiagnostic(t *testing.T) {
	_, bag := lower(t, testModule(), "main _ := frobnicate")
	assert.True(t, hasKind(bag, diagnostics.KindUnknownReference))
}

func TestIdentifiersResolveInLexicalOrder(t *testing.T) {
	h, bag := lower(t, testModule(), "x := 1\nmain _ := x")
	require.False(t, hasKind(bag, diagnostics.KindUnknownReference))
	require.Len(t, h.Exports, 2)

	// main's body must end in a Reference to the top-level x binding.
	mainFn, ok := h.Body.Values[h.Exports[1].Id].(hir.Function)
	require.True(t, ok)
	ret, ok := mainFn.Body.Values[mainFn.Body.Return].(hir.Reference)
	require.True(t, ok)
	assert.Equal(t, h.Exports[0].Id, ret.Target)
}

func TestLaterBindingIsNotVisibleEarlier(t *testing.T) {
	_, bag := lower(t, testModule(), "main _ := y\ny := 1")
	assert.True(t, hasKind(bag, diagnostics.KindUnknownReference),
		"scoping is lexical; a binding must not resolve before its definition")
}

func TestNeedsLowersWithAndWithoutReason(t *testing.T) {
	h, bag := lower(t, testModule(), `main _ := needs False "nope"`)
	require.False(t, bag.HasErrors())
	mainFn := h.Body.Values[h.Exports[0].Id].(hir.Function)
	n, ok := mainFn.Body.Values[mainFn.Body.Return].(hir.Needs)
	require.True(t, ok)
	assert.NotNil(t, n.Reason)

	h, bag = lower(t, testModule(), "main _ := needs True")
	require.False(t, bag.HasErrors())
	mainFn = h.Body.Values[h.Exports[0].Id].(hir.Function)
	n, ok = mainFn.Body.Values[mainFn.Body.Return].(hir.Needs)
	require.True(t, ok)
	assert.Nil(t, n.Reason, "the default reason is substituted downstream, not here")
}

func TestNeedsWithThreeArgumentsEmitsDiagnostic(t *testing.T) {
	_, bag := lower(t, testModule(), "main _ := needs True True True")
	assert.True(t, hasKind(bag, diagnostics.KindNeedsWrongArgCount))
}

func TestDuplicatePublicNameEmitsDiagnostic(t *testing.T) {
	_, bag := lower(t, testModule(), "foo _ := 1\nfoo _ := 2")
	assert.True(t, hasKind(bag, diagnostics.KindPublicAssignmentDuplicate))
}

func TestUseLowersToUseModule(t *testing.T) {
	h, bag := lower(t, testModule("nested", "main"), `main _ := use ".Core"`)
	require.False(t, bag.HasErrors())
	mainFn := h.Body.Values[h.Exports[0].Id].(hir.Function)
	use, ok := mainFn.Body.Values[mainFn.Body.Return].(hir.UseModule)
	require.True(t, ok)
	assert.Equal(t, ".Core", use.Path)
}

func TestUseEscapingThePackageEmitsTooManyParents(t *testing.T) {
	// The module sits at the package root, so even one level of parent
	// navigation ("..") escapes it.
	_, bag := lower(t, testModule("main"), `main _ := use "..Core"`)
	assert.True(t, hasKind(bag, diagnostics.KindUseTooManyParents))
}

func TestUseWithInvalidPathEmitsDiagnostic(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"no leading dot", `main _ := use "Core"`},
		{"bad tail character", `main _ := use ".Co re"`},
		{"non-literal path", "main _ := use foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, bag := lower(t, testModule("nested", "main"), tt.source)
			assert.True(t, hasKind(bag, diagnostics.KindUseInvalidPath))
		})
	}
}

func TestStructAccessLowersToStructGetBuiltin(t *testing.T) {
	h, bag := lower(t, testModule(), "box := [answer: 42]\nmain _ := box.answer")
	require.False(t, bag.HasErrors())
	mainFn := h.Body.Values[h.Exports[1].Id].(hir.Function)
	call, ok := mainFn.Body.Values[mainFn.Body.Return].(hir.Call)
	require.True(t, ok)
	builtin, ok := call.Function.(hir.Builtin)
	require.True(t, ok)
	assert.Equal(t, hir.BuiltinKind("structGet"), builtin.Kind)
}
