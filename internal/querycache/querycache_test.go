package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMemoizesByKey(t *testing.T) {
	c := New()
	computations := 0
	compute := func(track func(string)) interface{} {
		computations++
		track("m1")
		return 42
	}

	key := Key{Name: "rcst", Arg: "m1"}
	assert.Equal(t, 42, c.Query(key, compute))
	assert.Equal(t, 42, c.Query(key, compute))
	assert.Equal(t, 1, computations, "the second Query must hit the cache")
}

func TestInvalidateRecomputesDirectReaders(t *testing.T) {
	c := New()
	computations := 0
	compute := func(track func(string)) interface{} {
		computations++
		track("m1")
		return computations
	}

	key := Key{Name: "rcst", Arg: "m1"}
	require.Equal(t, 1, c.Query(key, compute))
	c.Invalidate("m1")
	assert.Equal(t, 2, c.Query(key, compute), "an invalidated entry must recompute")
}

func TestInvalidatePropagatesThroughNestedQueries(t *testing.T) {
	c := New()
	innerRuns, outerRuns := 0, 0

	inner := func(track func(string)) interface{} {
		innerRuns++
		track("imported")
		return "inner"
	}
	// outer reads its own module and, via a nested Query, the imported one —
	// the shape Pipeline.OptimizedMIR takes when folding a `use`.
	outer := func(track func(string)) interface{} {
		outerRuns++
		track("importer")
		c.Query(Key{Name: "optimized_mir", Arg: "imported"}, inner)
		return "outer"
	}

	outerKey := Key{Name: "optimized_mir", Arg: "importer"}
	c.Query(outerKey, outer)
	require.Equal(t, 1, outerRuns)
	require.Equal(t, 1, innerRuns)

	// Editing the imported module must stale the importer too, even though
	// the importer never called track("imported") itself.
	c.Invalidate("imported")
	c.Query(outerKey, outer)
	assert.Equal(t, 2, outerRuns, "the importer transitively read the imported module")
}

func TestInvalidateLeavesUnrelatedEntriesAlone(t *testing.T) {
	c := New()
	runs := 0
	compute := func(track func(string)) interface{} {
		runs++
		track("m2")
		return "ok"
	}

	key := Key{Name: "cst", Arg: "m2"}
	c.Query(key, compute)
	c.Invalidate("m1")
	c.Query(key, compute)
	assert.Equal(t, 1, runs, "invalidating m1 must not touch queries that only read m2")
}

func TestCycleDetectionPanics(t *testing.T) {
	c := New()
	key := Key{Name: "hir", Arg: "m1"}
	assert.Panics(t, func() {
		c.Query(key, func(track func(string)) interface{} {
			return c.Query(key, func(track func(string)) interface{} { return nil })
		})
	}, "a query recursively computing itself is a programmer error")
}
