package moduleprovider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-lang/candy-sub004/internal/modident"
)

func codeModule(root string, path ...string) modident.Identifier {
	return modident.New(modident.Package{Kind: modident.User, Value: root}, path, modident.Code)
}

func TestInMemoryProviderSetAndRemove(t *testing.T) {
	p := NewInMemoryProvider()
	id := codeModule("/pkg", "main")

	_, ok := p.GetContent(id)
	assert.False(t, ok)

	p.Set(id, []byte("main _ := 1"))
	content, ok := p.GetContent(id)
	require.True(t, ok)
	assert.Equal(t, "main _ := 1", string(content))

	p.Remove(id)
	_, ok = p.GetContent(id)
	assert.False(t, ok, "Remove mirrors did_close")
}

func TestFileProviderPrefersUnderscoreFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "foo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo", "_.candy"), []byte("underscore"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.candy"), []byte("plain"), 0o644))

	p := NewFileProvider(root)
	content, ok := p.GetContent(codeModule(root, "foo"))
	require.True(t, ok)
	assert.Equal(t, "underscore", string(content), `"<path>/_.candy" wins over "<path>.candy"`)
}

func TestFileProviderFallsBackToPlainFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bar.candy"), []byte("plain"), 0o644))

	p := NewFileProvider(root)
	content, ok := p.GetContent(codeModule(root, "bar"))
	require.True(t, ok)
	assert.Equal(t, "plain", string(content))

	_, ok = p.GetContent(codeModule(root, "missing"))
	assert.False(t, ok)
}

func TestFileProviderResolvesAssetExactly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "banner.txt"), []byte("hi"), 0o644))

	p := NewFileProvider(root)
	id := modident.New(modident.Package{Kind: modident.User, Value: root}, []string{"banner.txt"}, modident.Asset)
	content, ok := p.GetContent(id)
	require.True(t, ok)
	assert.Equal(t, "hi", string(content))
}

func TestFileProviderDiscoverGlobsCandyFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.candy"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "b.candy"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), nil, 0o644))

	p := NewFileProvider(root)
	matches, err := p.Discover("**/*.candy")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.candy", "nested/b.candy"}, matches)
}

func TestOverlayProviderPrefersOverlay(t *testing.T) {
	base := NewInMemoryProvider()
	overlay := NewInMemoryProvider()
	id := codeModule("/pkg", "main")

	base.Set(id, []byte("on disk"))
	p := NewOverlayProvider(overlay, base)

	content, ok := p.GetContent(id)
	require.True(t, ok)
	assert.Equal(t, "on disk", string(content), "falls back when the overlay is empty")

	overlay.Set(id, []byte("unsaved edit"))
	content, ok = p.GetContent(id)
	require.True(t, ok)
	assert.Equal(t, "unsaved edit", string(content), "the overlay wins once populated")
}
