package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/moduleprovider"
	"github.com/candy-lang/candy-sub004/internal/pipeline"
	"github.com/candy-lang/candy-sub004/internal/tracer"
	"github.com/candy-lang/candy-sub004/internal/vm"
)

func ident(name string) modident.Identifier {
	return modident.New(modident.Package{Kind: modident.User, Value: "/test"}, []string{name}, modident.Code)
}

// newSession builds a pipeline over in-memory sources keyed by module name.
func newSession(sources map[string]string) (*pipeline.Pipeline, *moduleprovider.InMemoryProvider) {
	provider := moduleprovider.NewInMemoryProvider()
	for name, source := range sources {
		provider.Set(ident(name), []byte(source))
	}
	return pipeline.New(provider), provider
}

func runMain(t *testing.T, sources map[string]string) (*pipeline.RunResult, *vm.Fiber) {
	t.Helper()
	p, _ := newSession(sources)
	return p.RunMain(ident("main"), tracer.NoopSink{}, vm.RunForever{}, nil)
}

func TestRunMainHelloWorld(t *testing.T) {
	result, fiber := runMain(t, map[string]string{"main": `main _ := "Hello, world!"`})
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status)
	assert.Equal(t, "Hello, world!", fiber.DoneValue.Text())
}

func TestRunMainPipeCall(t *testing.T) {
	result, fiber := runMain(t, map[string]string{"main": "double x := x\nmain _ := 2 | double"})
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status, "panic: %v", fiber.PanicReason)
	assert.Equal(t, int64(2), fiber.DoneValue.Int64())
}

func TestRunMainMatchExercisesEqualsAndIfElse(t *testing.T) {
	source := "classify x := x %\n  1 -> \"one\"\n  _ -> \"other\"\n\nmain _ := classify 2"
	result, fiber := runMain(t, map[string]string{"main": source})
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status)
	assert.Equal(t, "other", fiber.DoneValue.Text())
}

func TestRunMainNeedsFalsePanicsWithReasonAndResponsible(t *testing.T) {
	result, fiber := runMain(t, map[string]string{"main": `main _ := needs False "nope"`})
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Panicked, fiber.Status)
	assert.Equal(t, "nope", fiber.PanicReason.Text())
	assert.Equal(t, heap.KindHirId, fiber.PanicResponsible.Kind(),
		"blame must be attributed to a HirId")
}

func TestRunMainAcrossModules(t *testing.T) {
	sources := map[string]string{
		"dep":  "answer := 42",
		"main": "dep := use \".dep\"\nmain _ := dep.answer",
	}
	result, fiber := runMain(t, sources)
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status, "panic: %v", fiber.PanicReason)
	assert.Equal(t, int64(42), fiber.DoneValue.Int64())
}

func TestCheckReportsUseEscapingThePackage(t *testing.T) {
	p, _ := newSession(map[string]string{"main": `main _ := use "..Core"`})
	bag := p.Check(ident("main"))
	require.True(t, bag.HasErrors())

	kinds := map[diagnostics.Kind]bool{}
	for _, d := range bag.Entries() {
		kinds[d.Kind] = true
	}
	assert.True(t, kinds[diagnostics.KindUseTooManyParents],
		"a use escaping the package root must report UseHasTooManyParentNavigations, got %v", bag.Entries())
}

func TestCheckCleanModuleHasNoErrors(t *testing.T) {
	p, _ := newSession(map[string]string{"main": `main _ := "fine"`})
	assert.False(t, p.Check(ident("main")).HasErrors())
}

func TestInvalidationRecompilesAfterEdit(t *testing.T) {
	p, provider := newSession(map[string]string{"main": `main _ := "one"`})
	module := ident("main")

	_, fiber := p.RunMain(module, tracer.NoopSink{}, vm.RunForever{}, nil)
	require.NotNil(t, fiber)
	require.Equal(t, "one", fiber.DoneValue.Text())

	provider.Set(module, []byte(`main _ := "two"`))

	// Without invalidation the cache still serves the old program.
	_, stale := p.RunMain(module, tracer.NoopSink{}, vm.RunForever{}, nil)
	require.NotNil(t, stale)
	assert.Equal(t, "one", stale.DoneValue.Text())

	p.Invalidate(module)
	_, fresh := p.RunMain(module, tracer.NoopSink{}, vm.RunForever{}, nil)
	require.NotNil(t, fresh)
	assert.Equal(t, "two", fresh.DoneValue.Text())
}

func TestInvalidatingImportedModuleRecompilesImporter(t *testing.T) {
	p, provider := newSession(map[string]string{
		"dep":  "answer := 1",
		"main": "dep := use \".dep\"\nmain _ := dep.answer",
	})
	module := ident("main")

	_, fiber := p.RunMain(module, tracer.NoopSink{}, vm.RunForever{}, nil)
	require.NotNil(t, fiber)
	require.Equal(t, int64(1), fiber.DoneValue.Int64())

	provider.Set(ident("dep"), []byte("answer := 2"))
	p.Invalidate(ident("dep"))

	_, fresh := p.RunMain(module, tracer.NoopSink{}, vm.RunForever{}, nil)
	require.NotNil(t, fresh)
	assert.Equal(t, int64(2), fresh.DoneValue.Int64(),
		"editing the imported module must transitively invalidate the importer")
}

func TestRunRefusesToExecuteModulesWithErrors(t *testing.T) {
	p, _ := newSession(map[string]string{"main": "main _ := frobnicate"})
	result, fiber := p.RunMain(ident("main"), tracer.NoopSink{}, vm.RunForever{}, nil)
	assert.True(t, result.Diagnostics.HasErrors())
	assert.Nil(t, fiber, "a module with compile errors must not run")
}

func TestRunMainPassesCliArgumentsAsTextList(t *testing.T) {
	result, fiber := runMainWithArgs(t, "main args := args", []string{"a", "b"})
	require.False(t, result.Diagnostics.HasErrors(), "diagnostics: %v", result.Diagnostics.Entries())
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status)
	require.Equal(t, heap.KindList, fiber.DoneValue.Kind())
	items := fiber.DoneValue.ListItems()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Text())
	assert.Equal(t, "b", items[1].Text())
}

func runMainWithArgs(t *testing.T, source string, args []string) (*pipeline.RunResult, *vm.Fiber) {
	t.Helper()
	p, _ := newSession(map[string]string{"main": source})
	return p.RunMain(ident("main"), tracer.NoopSink{}, vm.RunForever{}, args)
}

func TestDebugRendersEveryStage(t *testing.T) {
	p, _ := newSession(map[string]string{"main": `main _ := "hi"`})
	for _, stage := range []pipeline.DebugStage{
		pipeline.DebugRCST, pipeline.DebugCST, pipeline.DebugAST, pipeline.DebugHIR,
		pipeline.DebugMIR, pipeline.DebugOptimizedMIR, pipeline.DebugLIR,
	} {
		rendered, _, ok := p.Debug(ident("main"), stage)
		require.True(t, ok, "stage %s", stage)
		assert.NotEmpty(t, rendered, "stage %s", stage)
	}
}

func TestTracerObservesFiberLifecycleInOrder(t *testing.T) {
	p, _ := newSession(map[string]string{"main": `main _ := "hi"`})
	sink := &tracer.CollectingSink{}
	_, fiber := p.RunMain(ident("main"), sink, vm.RunForever{}, nil)
	require.NotNil(t, fiber)
	require.Equal(t, vm.Done, fiber.Status)

	var kinds []string
	for _, e := range sink.Events {
		if e.FiberID == fiber.ID {
			kinds = append(kinds, e.Kind)
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, "created", kinds[0])
	assert.Equal(t, "done", kinds[len(kinds)-1])
}
