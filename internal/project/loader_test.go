package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

func writeProject(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.yaml"), []byte(yaml), 0o644))
	return dir
}

func TestLoadResolvesRelativeRootsAndPathVariables(t *testing.T) {
	dir := writeProject(t, `
name: demo
modules:
  - name: core
    source_roots: [src, $EXT$/extra]
    test_roots: [test]
artifacts:
  - name: app
    output_path: out/app
`)

	loader := NewYAMLLoader(nil)
	p, err := loader.Load(dir, protocol.GlobalSettings{
		PathVariables: map[string]string{"EXT": "/opt/ext"},
	})
	require.NoError(t, err)

	require.Contains(t, p.Modules, "core")
	core := p.Modules["core"]
	assert.Equal(t, []string{filepath.Join(dir, "src"), "/opt/ext/extra"}, core.SourceRoots)
	assert.Equal(t, []string{filepath.Join(dir, "test")}, core.TestRoots)
	assert.Equal(t, filepath.Join(dir, "out/app"), p.Artifacts["app"].OutputPath)
}

func TestLoadAcceptsExplicitFilePath(t *testing.T) {
	dir := writeProject(t, "name: demo\nmodules:\n  - name: m\n    source_roots: [src]\n")
	loader := NewYAMLLoader(nil)
	p, err := loader.Load(filepath.Join(dir, "project.yaml"), protocol.GlobalSettings{})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
}

func TestLoadMergesGlobalLibrariesAndSDKs(t *testing.T) {
	dir := writeProject(t, `
name: demo
modules:
  - name: m
    source_roots: [src]
libraries:
  - name: shared
    paths: [lib/local]
`)
	loader := NewYAMLLoader(nil)
	p, err := loader.Load(dir, protocol.GlobalSettings{
		GlobalLibraries: []protocol.GlobalLibrary{
			{Name: "shared", Paths: []string{"/global/shared"}},
			{Name: "extra", Paths: []string{"/global/extra"}},
			{Name: "platform-9", TypeName: "platform", Version: "9", HomePath: "/opt/platform9"},
		},
		GlobalEncoding: "UTF-8",
		IgnorePatterns: "*.tmp;  .git ;",
	})
	require.NoError(t, err)

	// project-local definition wins over the global one
	assert.Equal(t, []string{filepath.Join(dir, "lib/local")}, p.Libraries["shared"].Paths)
	assert.Contains(t, p.Libraries, "extra")
	require.Contains(t, p.SDKs, "platform-9")
	assert.Equal(t, "/opt/platform9", p.SDKs["platform-9"].HomePath)
	assert.Equal(t, "UTF-8", p.Charset)
	assert.Equal(t, []string{"*.tmp", ".git"}, p.IgnorePatterns)
}

func TestLoadRejectsUnknownCharset(t *testing.T) {
	dir := writeProject(t, "name: demo\ncharset: NOT-A-CHARSET\nmodules:\n  - name: m\n    source_roots: [src]\n")
	loader := NewYAMLLoader(nil)
	_, err := loader.Load(dir, protocol.GlobalSettings{})
	assert.Error(t, err)
}

func TestLoadRejectsUnnamedModule(t *testing.T) {
	dir := writeProject(t, "name: demo\nmodules:\n  - source_roots: [src]\n")
	loader := NewYAMLLoader(nil)
	_, err := loader.Load(dir, protocol.GlobalSettings{})
	assert.Error(t, err)
}

func TestRootIndexResolvesDeepestRoot(t *testing.T) {
	p := &Project{
		Modules: map[string]*Module{
			"core":   {Name: "core", SourceRoots: []string{"/proj/src"}},
			"gen":    {Name: "gen", SourceRoots: []string{"/proj/src/generated"}},
			"tested": {Name: "tested", TestRoots: []string{"/proj/test"}},
		},
	}
	idx := NewRootIndex(p)

	rd := idx.ModuleAndRoot("/proj/src/generated/g.src")
	require.NotNil(t, rd)
	assert.Equal(t, "gen", rd.Module)

	rd = idx.ModuleAndRoot("/proj/src/a.src")
	require.NotNil(t, rd)
	assert.Equal(t, "core", rd.Module)
	assert.False(t, rd.IsTestRoot)

	rd = idx.ModuleAndRoot("/proj/test/a_test.src")
	require.NotNil(t, rd)
	assert.True(t, rd.IsTestRoot)

	assert.Nil(t, idx.ModuleAndRoot("/outside/b.src"))
	// prefix similarity is not containment
	assert.Nil(t, idx.ModuleAndRoot("/proj/srcfoo/c.src"))
}
