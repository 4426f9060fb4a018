// Package pipeline wires the compiler stages (rcst, cst, ast, hir, mir,
// optimized mir, lir, bytecode) into the memoized query graph spec §4.1
// describes, and exposes the run/check/debug operations spec §6 names.
//
// Grounded on the teacher's internal/module.ModuleLoader for the overall
// shape (a provider-backed cache in front of a fixed compile pipeline,
// with did_open/did_change/did_close style invalidation), generalized
// across querycache.Cache's named queries instead of one monolithic
// "compiled module" cache entry.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/candy-lang/candy-sub004/internal/ast"
	"github.com/candy-lang/candy-sub004/internal/bytecode"
	"github.com/candy-lang/candy-sub004/internal/cst"
	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/heap"
	"github.com/candy-lang/candy-sub004/internal/hir"
	"github.com/candy-lang/candy-sub004/internal/lir"
	"github.com/candy-lang/candy-sub004/internal/mir"
	"github.com/candy-lang/candy-sub004/internal/miropt"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/moduleprovider"
	"github.com/candy-lang/candy-sub004/internal/querycache"
	"github.com/candy-lang/candy-sub004/internal/rcst"
	"github.com/candy-lang/candy-sub004/internal/span"
	"github.com/candy-lang/candy-sub004/internal/tracer"
	"github.com/candy-lang/candy-sub004/internal/vm"
)

// query names, the Cache's Key.Name for each pipeline stage.
const (
	queryKindSource       = "source"
	queryKindRCST         = "rcst"
	queryKindCST          = "cst"
	queryKindAST          = "ast"
	queryKindHIR          = "hir"
	queryKindMIR          = "mir"
	queryKindOptimizedMIR = "optimized_mir"
	queryKindLIR          = "lir"
	queryKindBytecode     = "bytecode"
)

// Pipeline is the embedder-facing entry point: a module provider plus the
// memoized query graph sitting on top of it (spec §4.1). One Pipeline
// typically backs one compilation session (a CLI invocation or a language
// server instance) — the Cache is not safe for concurrent queries, the
// same restriction querycache.Cache itself documents.
type Pipeline struct {
	Provider moduleprovider.Provider
	Cache    *querycache.Cache
	Options  miropt.Options
}

// New creates a Pipeline reading modules through provider, with the
// optimizer's cross-module resolver wired back into the pipeline's own
// OptimizedMIR query (spec §4.5's "use" folding resolves the imported
// module through the same cache the importer went through).
func New(provider moduleprovider.Provider) *Pipeline {
	p := &Pipeline{Provider: provider, Cache: querycache.New()}
	p.Options = miropt.Options{
		InlineRecursionCap: 32,
		Resolver:           p.resolveUse,
	}
	return p
}

// Invalidate drops every memoized query that transitively read module,
// for the embedder's did_open/did_change/did_close handlers (spec §4.1).
func (p *Pipeline) Invalidate(module modident.Identifier) {
	p.Cache.Invalidate(module.Key())
}

func stageKey(name string, module modident.Identifier) querycache.Key {
	return querycache.Key{Name: name, Arg: module.Key()}
}

// source fetches and tracks a module's raw bytes, the root of the query
// graph every other stage transitively depends on.
func (p *Pipeline) source(module modident.Identifier) ([]byte, bool) {
	key := stageKey(queryKindSource, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		content, ok := p.Provider.GetContent(module)
		return sourceResult{content: content, ok: ok}
	})
	r := result.(sourceResult)
	return r.content, r.ok
}

type sourceResult struct {
	content []byte
	ok      bool
}

// RCST parses module's source into a raw concrete syntax tree. Returns
// false if the provider has no content for module.
func (p *Pipeline) RCST(module modident.Identifier) (rcst.Program, bool) {
	key := stageKey(queryKindRCST, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		content, ok := p.source(module)
		if !ok {
			return rcstResult{}
		}
		return rcstResult{program: rcst.Parse(string(content)), ok: true}
	})
	r := result.(rcstResult)
	return r.program, r.ok
}

type rcstResult struct {
	program rcst.Program
	ok      bool
}

// CST builds module's concrete syntax tree from its RCST.
func (p *Pipeline) CST(module modident.Identifier) (*cst.Tree, bool) {
	key := stageKey(queryKindCST, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		program, ok := p.RCST(module)
		if !ok {
			return (*cst.Tree)(nil)
		}
		return cst.Build(program)
	})
	tree, _ := result.(*cst.Tree)
	return tree, tree != nil
}

// AST lowers module's CST into an AST. The memoized result carries the
// cumulative diagnostics of every stage up to and including this one, so a
// warm cache hit still surfaces the full set into bag.
func (p *Pipeline) AST(module modident.Identifier, bag *diagnostics.Bag) (*ast.Program, bool) {
	key := stageKey(queryKindAST, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		content, ok := p.source(module)
		if !ok {
			return astResult{bag: stageBag}
		}
		tree, ok := p.CST(module)
		if !ok {
			return astResult{bag: stageBag}
		}
		program := ast.Lower(module, tree, string(content), stageBag)
		return astResult{program: program, bag: stageBag, ok: true}
	})
	r := result.(astResult)
	mergeInto(bag, r.bag)
	return r.program, r.ok
}

type astResult struct {
	program *ast.Program
	bag     *diagnostics.Bag
	ok      bool
}

// HIR lowers module's AST into HIR, accumulating semantic diagnostics on
// top of the upstream stages' cumulative bag.
func (p *Pipeline) HIR(module modident.Identifier, bag *diagnostics.Bag) (*hir.Module, bool) {
	key := stageKey(queryKindHIR, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		program, ok := p.AST(module, stageBag)
		if !ok {
			return hirResult{bag: stageBag}
		}
		tree, ok := p.CST(module)
		if !ok {
			return hirResult{bag: stageBag}
		}
		h := hir.Lower(module, tree, program, stageBag)
		return hirResult{module: h, bag: stageBag, ok: true}
	})
	r := result.(hirResult)
	mergeInto(bag, r.bag)
	return r.module, r.ok
}

type hirResult struct {
	module *hir.Module
	bag    *diagnostics.Bag
	ok     bool
}

// MIR builds module's (unoptimized) mid-level IR from its HIR.
func (p *Pipeline) MIR(module modident.Identifier, bag *diagnostics.Bag) (*mir.Module, bool) {
	key := stageKey(queryKindMIR, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		h, ok := p.HIR(module, stageBag)
		if !ok {
			return mirResult{bag: stageBag}
		}
		return mirResult{module: mir.Build(module, h), bag: stageBag, ok: true}
	})
	r := result.(mirResult)
	mergeInto(bag, r.bag)
	return r.module, r.ok
}

type mirResult struct {
	module *mir.Module
	bag    *diagnostics.Bag
	ok     bool
}

// OptimizedMIR runs the fixed-point optimizer (spec §4.5) over module's
// MIR, resolving any `use` of another module by recursively querying that
// module's own OptimizedMIR through this same Pipeline — the nested query
// runs inside this one, so the imported module's key lands in this entry's
// read-set and a later edit to it invalidates this module too.
func (p *Pipeline) OptimizedMIR(module modident.Identifier, bag *diagnostics.Bag) (*mir.Module, bool) {
	key := stageKey(queryKindOptimizedMIR, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		unoptimized, ok := p.MIR(module, stageBag)
		if !ok {
			return mirResult{bag: stageBag}
		}
		optimized := miropt.Optimize(unoptimized, stageBag, p.Options)
		return mirResult{module: optimized, bag: stageBag, ok: true}
	})
	r := result.(mirResult)
	mergeInto(bag, r.bag)
	return r.module, r.ok
}

// resolveUse is the miropt.ModuleResolver this Pipeline hands to Optimize:
// it resolves a `use` path relative to current into a module identifier
// sharing current's package, then fetches that module's own optimized MIR
// through the cache (so imports are optimized at most once each).
func (p *Pipeline) resolveUse(current modident.Identifier, path string) (*mir.Module, bool) {
	target, ok := resolveModulePath(current, path)
	if !ok {
		return nil, false
	}
	// A module that (transitively) uses itself would recurse forever;
	// breaking the cycle here turns it into UseNotStaticallyResolvable at
	// the importing site.
	if p.Cache.Computing(stageKey(queryKindOptimizedMIR, target)) {
		return nil, false
	}
	return p.OptimizedMIR(target, diagnostics.NewBag())
}

// resolveModulePath interprets a `use` path (spec §6: `\.+[A-Za-z0-9.]+`)
// relative to current's directory: one leading dot targets a sibling of
// current, each further dot climbs one directory, and a dot anywhere in
// the tail marks the target as an Asset module. Candy modules name files,
// so the directory context is current's path components minus its own
// final (file) component.
func resolveModulePath(current modident.Identifier, path string) (modident.Identifier, bool) {
	dots := 0
	for dots < len(path) && path[dots] == '.' {
		dots++
	}
	tail := path[dots:]
	if dots == 0 || tail == "" {
		return modident.Identifier{}, false
	}
	dir := append([]string{}, current.PathComponents...)
	if len(dir) > 0 {
		dir = dir[:len(dir)-1]
	}
	for level := 1; level < dots; level++ {
		if len(dir) == 0 {
			return modident.Identifier{}, false
		}
		dir = dir[:len(dir)-1]
	}
	kind := modident.Code
	if strings.Contains(tail, ".") {
		kind = modident.Asset
	}
	return modident.New(current.Package, append(dir, tail), kind), true
}

// LIR lowers module's optimized MIR into the flat, stack-machine-shaped LIR.
func (p *Pipeline) LIR(module modident.Identifier, bag *diagnostics.Bag) (*lir.Module, bool) {
	key := stageKey(queryKindLIR, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		optimized, ok := p.OptimizedMIR(module, stageBag)
		if !ok {
			return lirResult{bag: stageBag}
		}
		return lirResult{module: miropt.ToLIR(optimized), bag: stageBag, ok: true}
	})
	r := result.(lirResult)
	mergeInto(bag, r.bag)
	return r.module, r.ok
}

type lirResult struct {
	module *lir.Module
	bag    *diagnostics.Bag
	ok     bool
}

// Bytecode compiles module's LIR into an executable chunk.
func (p *Pipeline) Bytecode(module modident.Identifier, bag *diagnostics.Bag) (*bytecode.Chunk, bool) {
	key := stageKey(queryKindBytecode, module)
	result := p.Cache.Query(key, func(track func(string)) interface{} {
		track(module.Key())
		stageBag := diagnostics.NewBag()
		l, ok := p.LIR(module, stageBag)
		if !ok {
			return bytecodeResult{bag: stageBag}
		}
		return bytecodeResult{chunk: bytecode.Compile(l), bag: stageBag, ok: true}
	})
	r := result.(bytecodeResult)
	mergeInto(bag, r.bag)
	return r.chunk, r.ok
}

type bytecodeResult struct {
	chunk *bytecode.Chunk
	bag   *diagnostics.Bag
	ok    bool
}

// mergeInto appends src's entries onto dst in place, used to surface a
// memoized stage's diagnostics to every caller even when the stage itself
// only actually ran once.
func mergeInto(dst, src *diagnostics.Bag) {
	for _, d := range src.Entries() {
		dst.Add(d)
	}
}

// Check compiles module through HIR, MIR, optimization, and bytecode
// generation without running it, returning every diagnostic collected
// along the way (spec §6's `candy check`).
func (p *Pipeline) Check(module modident.Identifier) *diagnostics.Bag {
	bag := diagnostics.NewBag()
	if _, ok := p.source(module); !ok {
		bag.Addf(module, span.Span{}, diagnostics.KindUnparsableInput, "module %s has no content", module)
		return bag
	}
	p.Bytecode(module, bag)
	return bag
}

// RunResult is what Run hands back to the embedder: the bytecode compiled
// for module (nil on a compile failure), any diagnostics collected while
// getting there, and the VM it ran in the caller's chosen controller on
// (nil on a compile failure, so the embedder can keep driving it after Run
// returns — e.g. to poll PendingHandleCalls or Resume a fiber).
type RunResult struct {
	Diagnostics *diagnostics.Bag
	Chunk       *bytecode.Chunk
	VM          *vm.VM
}

// Run compiles module and executes its top-level body to completion under
// controller, wiring sink as the VM's tracer (spec §6's `candy run`). If
// compilation produced any error diagnostic, Run executes nothing and
// returns the diagnostics (and the chunk, when one was built) with a nil VM.
func (p *Pipeline) Run(module modident.Identifier, sink tracer.Sink, controller vm.ExecutionController) *RunResult {
	bag := diagnostics.NewBag()
	chunk, ok := p.Bytecode(module, bag)
	if !ok {
		bag.Addf(module, span.Span{}, diagnostics.KindUnparsableInput, "module %s has no content", module)
		return &RunResult{Diagnostics: bag}
	}
	if bag.HasErrors() {
		return &RunResult{Diagnostics: bag, Chunk: chunk}
	}
	lirModule, _ := p.LIR(module, diagnostics.NewBag())
	entry := chunk.BodyOffsets[lirModule.TopLevel]
	machine := vm.New(chunk, entry, sink)
	machine.Run(controller)
	return &RunResult{Diagnostics: bag, Chunk: chunk, VM: machine}
}

// FindExport looks name up in the export struct a finished top-level body
// returned (the root fiber's DoneValue, per mir.Build's export-map
// construction): the entry whose Symbol key renders as name.
func FindExport(root *vm.Fiber, name string) (heap.Value, bool) {
	if root == nil || root.Status != vm.Done || !root.DoneValue.IsStruct() {
		return heap.Value{}, false
	}
	for _, e := range root.DoneValue.StructEntries() {
		if e.Key.IsTag() && !e.Key.TagHasValue() && root.Heap.Symbols.Get(e.Key.TagSymbol()) == name {
			return e.Value, true
		}
	}
	return heap.Value{}, false
}

// RunMain compiles and runs module's top-level body, then invokes its
// `main` export with a single argument built from cliArgs (spec §6's
// `candy run <file> [-- <args>...]`). The returned fiber is the one that
// ran main, or the root fiber when the top-level body itself did not
// finish; it is nil when compilation failed or the module exports no main.
// Its Status/DoneValue/PanicReason carry the program's outcome.
func (p *Pipeline) RunMain(module modident.Identifier, sink tracer.Sink, controller vm.ExecutionController, cliArgs []string) (*RunResult, *vm.Fiber) {
	res := p.Run(module, sink, controller)
	if res.VM == nil {
		return res, nil
	}
	root := res.VM.Fibers[0]
	if root.Status != vm.Done {
		return res, root
	}
	mainFn, ok := FindExport(root, "main")
	if !ok {
		return res, nil
	}
	fiber := res.VM.SpawnCall(mainFn, []heap.Value{mainArgument(root, cliArgs)}, module.Key())
	res.VM.Run(controller)
	return res, fiber
}

// mainArgument builds main's single argument: the Nothing tag when no CLI
// arguments were given, otherwise a list of texts.
func mainArgument(root *vm.Fiber, cliArgs []string) heap.Value {
	if len(cliArgs) == 0 {
		return heap.NewTag(root.Heap.Symbols.FindOrAdd("Nothing"), heap.Value{}, false)
	}
	items := make([]heap.Value, len(cliArgs))
	for i, a := range cliArgs {
		items[i] = root.Heap.Alloc(heap.NewText(a))
	}
	return root.Heap.Alloc(heap.NewList(items))
}

// DebugStage names one of the pipeline's intermediate representations, for
// Debug's `candy debug <stage> <file>` dispatch.
type DebugStage string

const (
	DebugRCST         DebugStage = "rcst"
	DebugCST          DebugStage = "cst"
	DebugAST          DebugStage = "ast"
	DebugHIR          DebugStage = "hir"
	DebugMIR          DebugStage = "mir"
	DebugOptimizedMIR DebugStage = "optimized-mir"
	DebugLIR          DebugStage = "lir"
)

// Debug renders module's intermediate representation at stage as text
// (spec §6's `candy debug {cst|ast|hir|mir|optimized-mir|lir}`).
func (p *Pipeline) Debug(module modident.Identifier, stage DebugStage) (string, *diagnostics.Bag, bool) {
	bag := diagnostics.NewBag()
	switch stage {
	case DebugRCST:
		program, ok := p.RCST(module)
		if !ok {
			return "", bag, false
		}
		return program.Render(), bag, true
	case DebugCST:
		tree, ok := p.CST(module)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", tree.Root), bag, true
	case DebugAST:
		program, ok := p.AST(module, bag)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", program), bag, true
	case DebugHIR:
		h, ok := p.HIR(module, bag)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", h), bag, true
	case DebugMIR:
		m, ok := p.MIR(module, bag)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", m), bag, true
	case DebugOptimizedMIR:
		m, ok := p.OptimizedMIR(module, bag)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", m), bag, true
	case DebugLIR:
		l, ok := p.LIR(module, bag)
		if !ok {
			return "", bag, false
		}
		return fmt.Sprintf("%+v", l), bag, true
	default:
		return "", bag, false
	}
}
