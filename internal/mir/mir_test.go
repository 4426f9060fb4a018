package mir_test

import (
	"testing"

	"github.com/candy-lang/candy-sub004/internal/hir"
	"github.com/candy-lang/candy-sub004/internal/mir"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModule() modident.Identifier {
	return modident.New(modident.Package{Kind: modident.User, Value: "/tmp"}, []string{"main"}, modident.Code)
}

func TestBuild_FlattensLinearBody(t *testing.T) {
	h := &hir.Module{Body: &hir.Body{
		Order: []hir.Id{0, 1},
		Values: map[hir.Id]hir.Expression{
			0: hir.Int{Value: 1},
			1: hir.Int{Value: 2},
		},
		Return: 1,
	}}
	m := mir.Build(testModule(), h)
	// +1 for the synthesized top-level responsible HirId (spec §4.4).
	require.Len(t, m.Body.Entries, 3)
	assert.Equal(t, m.Body.Entries[2].Id, m.Body.Return)
}

func TestBuild_FunctionGetsResponsibleParameter(t *testing.T) {
	inner := &hir.Body{
		Order:  []hir.Id{10, 11},
		Values: map[hir.Id]hir.Expression{10: hir.Reference{Target: 10}, 11: hir.Int{Value: 3}},
		Return: 11,
	}
	h := &hir.Module{Body: &hir.Body{
		Order: []hir.Id{0},
		Values: map[hir.Id]hir.Expression{
			0: hir.Function{Parameters: []hir.Id{10}, Body: inner},
		},
		Return: 0,
	}}
	m := mir.Build(testModule(), h)
	// +1 for the synthesized top-level responsible HirId (spec §4.4).
	require.Len(t, m.Body.Entries, 2)
	fn, ok := m.Body.Entries[1].Expression.(mir.Function)
	require.True(t, ok)
	require.Len(t, fn.Parameters, 1)
	assert.NotEqual(t, fn.Parameters[0], fn.ResponsibleParameter)
	assert.NotZero(t, fn.Body.Entries)
}

func TestBuild_ExportsCarryMappedIds(t *testing.T) {
	h := &hir.Module{
		Body: &hir.Body{
			Order:  []hir.Id{0},
			Values: map[hir.Id]hir.Expression{0: hir.Int{Value: 42}},
			Return: 0,
		},
		Exports: []hir.PublicAssignment{{Name: "main", Id: 0}},
	}
	m := mir.Build(testModule(), h)
	require.Len(t, m.Exports, 1)
	assert.Equal(t, "main", m.Exports[0].Name)
	// Entries[0] is the synthesized responsible HirId; the exported value
	// comes right after it.
	assert.Equal(t, m.Body.Entries[1].Id, m.Exports[0].Id)
}
