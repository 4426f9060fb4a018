package cst

import (
	"testing"

	"github.com/candy-lang/candy-sub004/internal/rcst"
	"github.com/stretchr/testify/assert"
)

func TestSpansCoverSourceAndTileLeaves(t *testing.T) {
	sources := []string{
		`main _ := "Hello, world!"`,
		"main _ := 1 | int.add 2",
		`main _ := needs False "nope"`,
		"main _ := [a: 1, b: 2]",
		"main _ := (1, 2, 3)",
	}
	for _, source := range sources {
		program := rcst.Parse(source)
		tree := Build(program)

		assert.Equal(t, 0, int(tree.Root.Span.Start))
		assert.Equal(t, len(source), int(tree.Root.Span.End))

		var totalLeafBytes int
		var walk func(n *Node)
		walk = func(n *Node) {
			if len(n.Children) == 0 {
				totalLeafBytes += n.Span.Len()
				return
			}
			for _, c := range n.Children {
				walk(c)
			}
		}
		walk(tree.Root)
		assert.Equal(t, len(source), totalLeafBytes, "leaf spans must tile the source exactly: %q", source)
	}
}

func TestByIDLookup(t *testing.T) {
	program := rcst.Parse(`main _ := 1`)
	tree := Build(program)
	node, ok := tree.ByID(tree.Root.Id)
	assert.True(t, ok)
	assert.Same(t, tree.Root, node)
}
