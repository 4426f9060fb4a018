package miropt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-lang/candy-sub004/internal/lir"
)

func lowerSource(t *testing.T, source string) *lir.Module {
	t.Helper()
	return ToLIR(optimizeSource(t, source))
}

// TestReferenceCountBalance checks the LIR invariant from spec §3: for every
// value produced, dups minus drops equals consumers minus one.
func TestReferenceCountBalance(t *testing.T) {
	sources := []struct {
		name   string
		source string
	}{
		{"plain text module", `main _ := "Hello, world!"`},
		{"function call", "x := 1\ndouble a := a\nmain _ := double x"},
		{"struct building", "box := [answer: 42]\nmain _ := box"},
		{"needs check", `main _ := needs False "nope"`},
	}
	for _, tt := range sources {
		t.Run(tt.name, func(t *testing.T) {
			module := lowerSource(t, tt.source)
			for bodyID, body := range module.Bodies {
				consumers := map[lir.Id]int{}
				dups := map[lir.Id]int{}
				drops := map[lir.Id]int{}
				produced := map[lir.Id]bool{}
				for slot := lir.Id(0); slot < lir.Id(body.PrefixCount()); slot++ {
					produced[slot] = true
				}
				for _, e := range body.Entries {
					switch expr := e.Expression.(type) {
					case lir.Dup:
						dups[expr.Target] += expr.Amount
					case lir.Drop:
						drops[expr.Target]++
					default:
						produced[e.Id] = true
						for _, r := range lirOperands(e.Expression) {
							consumers[r]++
						}
					}
				}
				consumers[body.Return]++

				for slot := range produced {
					assert.Equal(t, consumers[slot]-1, dups[slot]-drops[slot],
						"body %d slot %d: dups−drops must equal consumers−1", bodyID, slot)
				}
			}
		})
	}
}

func TestBodyLayoutCapturedParametersResponsibleLocals(t *testing.T) {
	module := lowerSource(t, "identity x := x\nmain _ := identity \"v\"")

	top := module.Bodies[module.TopLevel]
	assert.False(t, top.HasResponsible, "the top-level body has no caller to blame")
	assert.Zero(t, top.CapturedCount)
	assert.Zero(t, top.ParameterCount)

	for id, body := range module.Bodies {
		if lir.BodyId(id) == module.TopLevel {
			continue
		}
		require.True(t, body.HasResponsible, "body %d: every function body carries a responsible parameter", id)
		assert.Equal(t, lir.Id(body.CapturedCount+body.ParameterCount), body.ResponsibleIndex,
			"the responsible slot sits right after the parameters")
	}
}

func TestConstantsAreInterned(t *testing.T) {
	module := lowerSource(t, "a := \"shared\"\nb := \"other\"\nmain _ := a")

	seen := map[string]bool{}
	for _, c := range module.Constants {
		if text, ok := c.(lir.ConstText); ok {
			assert.False(t, seen[text.Value], "text %q interned twice", text.Value)
			seen[text.Value] = true
		}
	}
}

func TestExportsResolveIntoTopLevelBody(t *testing.T) {
	module := lowerSource(t, `main _ := "x"`)
	require.NotEmpty(t, module.Exports)
	top := module.Bodies[module.TopLevel]

	defined := map[lir.Id]bool{}
	for slot := lir.Id(0); slot < lir.Id(top.PrefixCount()); slot++ {
		defined[slot] = true
	}
	for _, e := range top.Entries {
		defined[e.Id] = true
	}
	for _, exp := range module.Exports {
		assert.True(t, defined[exp.Id], "export %s must name a defined top-level slot", exp.Name)
	}
}
