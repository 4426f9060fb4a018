package modident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func userPackage(path string) Package {
	return Package{Kind: User, Value: path}
}

func TestIdentifierEqualityIsByValue(t *testing.T) {
	a := New(userPackage("/pkg"), []string{"foo", "bar"}, Code)
	b := New(userPackage("/pkg"), []string{"foo", "bar"}, Code)
	assert.True(t, a.Equal(b))

	c := New(userPackage("/pkg"), []string{"foo", "bar"}, Asset)
	assert.False(t, a.Equal(c), "kind participates in equality")
}

func TestCompareGivesTotalOrder(t *testing.T) {
	tests := []struct {
		name string
		a, b Identifier
	}{
		{
			"package kind orders first",
			New(userPackage("/z"), []string{"a"}, Code),
			New(Package{Kind: Managed, Value: "a"}, []string{"a"}, Code),
		},
		{
			"path components order lexicographically",
			New(userPackage("/pkg"), []string{"a", "b"}, Code),
			New(userPackage("/pkg"), []string{"a", "c"}, Code),
		},
		{
			"shorter path orders before its extension",
			New(userPackage("/pkg"), []string{"a"}, Code),
			New(userPackage("/pkg"), []string{"a", "b"}, Code),
		},
		{
			"code orders before asset",
			New(userPackage("/pkg"), []string{"a"}, Code),
			New(userPackage("/pkg"), []string{"a"}, Asset),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Negative(t, tt.a.Compare(tt.b))
			assert.Positive(t, tt.b.Compare(tt.a))
			assert.Zero(t, tt.a.Compare(tt.a))
		})
	}
}

func TestKeyDistinguishesComponentBoundaries(t *testing.T) {
	a := New(userPackage("/pkg"), []string{"foo/bar"}, Code)
	b := New(userPackage("/pkg"), []string{"foo", "bar"}, Code)
	// A collision here would silently conflate two distinct modules in the
	// query cache.
	assert.NotEqual(t, a.Key(), b.Key())
	assert.NotZero(t, a.Compare(b))
}

func TestCodePathsFollowTheTwoPathRule(t *testing.T) {
	id := New(userPackage("/pkg"), []string{"foo", "bar"}, Code)
	paths := id.CodePaths("/pkg")
	assert.Equal(t, "/pkg/foo/bar/_.candy", paths[0])
	assert.Equal(t, "/pkg/foo/bar.candy", paths[1])
}

func TestAssetPathResolvesExactly(t *testing.T) {
	id := New(userPackage("/pkg"), []string{"images", "logo.png"}, Asset)
	assert.Equal(t, "/pkg/images/logo.png", id.AssetPath("/pkg"))
}
