// Package moduleprovider implements the module-provider external interface
// (spec §6): get_content(module) -> bytes | none, with the filesystem-
// resolution rule and overlay composition spec §4.1 requires for
// did_open/did_change/did_close.
//
// Grounded on the teacher's internal/module.ModuleLoader (cache-then-
// resolve-then-read flow; default search path construction).
package moduleprovider

import (
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/candy-lang/candy-sub004/internal/modident"
)

// Provider is Candy's module-provider trait: bytes for a module identifier,
// or false if the provider has nothing for it.
type Provider interface {
	GetContent(id modident.Identifier) ([]byte, bool)
}

// InMemoryProvider is a simple map-backed provider, for an embedder's
// did_open/did_change/did_close handlers and for tests.
type InMemoryProvider struct {
	contents map[string][]byte
}

func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{contents: make(map[string][]byte)}
}

func (p *InMemoryProvider) GetContent(id modident.Identifier) ([]byte, bool) {
	b, ok := p.contents[id.Key()]
	return b, ok
}

// Set installs or replaces the content for a module (did_open/did_change).
func (p *InMemoryProvider) Set(id modident.Identifier, content []byte) {
	p.contents[id.Key()] = content
}

// Remove deletes a module's content (did_close).
func (p *InMemoryProvider) Remove(id modident.Identifier) {
	delete(p.contents, id.Key())
}

// FileProvider resolves a module identifier against a package root on disk
// using the two-path rule from spec §6: "<root>/<path>/_.candy" then
// "<root>/<path>.candy" for code modules, "<root>/<path>" for assets.
type FileProvider struct {
	Root string
}

func NewFileProvider(root string) *FileProvider {
	return &FileProvider{Root: root}
}

func (p *FileProvider) GetContent(id modident.Identifier) ([]byte, bool) {
	if id.ModuleKind == modident.Asset {
		data, err := os.ReadFile(id.AssetPath(p.Root))
		if err != nil {
			return nil, false
		}
		return data, true
	}
	for _, candidate := range id.CodePaths(p.Root) {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

// Discover returns every path under root, relative to root, that matches
// pattern (doublestar glob syntax, e.g. "**/*.candy" for every Candy file in
// the tree).
func (p *FileProvider) Discover(pattern string) ([]string, error) {
	fsys := os.DirFS(p.Root)
	return doublestar.Glob(fsys, pattern)
}

// OverlayProvider composes two providers: the overlay is consulted first,
// falling back to the base provider. This is spec §6's
// "get_content = overlay.get_content ?? fallback.get_content".
type OverlayProvider struct {
	Overlay  Provider
	Fallback Provider
}

func NewOverlayProvider(overlay, fallback Provider) *OverlayProvider {
	return &OverlayProvider{Overlay: overlay, Fallback: fallback}
}

func (p *OverlayProvider) GetContent(id modident.Identifier) ([]byte, bool) {
	if b, ok := p.Overlay.GetContent(id); ok {
		return b, true
	}
	return p.Fallback.GetContent(id)
}
