package scope

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildforge/internal/fsstate"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

func demoProject() (*project.Project, *project.RootIndex) {
	p := &project.Project{
		Name: "demo",
		Modules: map[string]*project.Module{
			"core": {Name: "core", SourceRoots: []string{"/proj/core/src"}, TestRoots: []string{"/proj/core/test"}},
			"util": {Name: "util", SourceRoots: []string{"/proj/util/src"}},
		},
		Artifacts: map[string]project.Artifact{
			"app": {Name: "app", OutputPath: "/out/app"},
			"bad": {Name: "bad"}, // no output path
		},
	}
	return p, project.NewRootIndex(p)
}

func TestKindFromProtocol(t *testing.T) {
	cases := []struct {
		name protocol.BuildKindName
		want BuildKind
	}{
		{protocol.BuildKindClean, Clean},
		{protocol.BuildKindMake, Make},
		{protocol.BuildKindForcedCompilation, ForcedCompilation},
		{protocol.BuildKindProjectRebuild, ProjectRebuild},
		{"bogus", Make},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindFromProtocol(tc.name), "kind %q", tc.name)
	}
}

func TestWholeProjectRequestYieldsAllProjectScope(t *testing.T) {
	p, idx := demoProject()
	cs, err := ForBuild(Make, p, idx, fsstate.New(), nil, Params{})
	require.NoError(t, err)

	_, ok := cs.(*AllProjectScope)
	require.True(t, ok)
	assert.True(t, cs.AffectsModule("core"))
	assert.True(t, cs.AffectsFile("util", "/proj/util/src/u.src"))
	assert.False(t, cs.ForcedCompilation(), "make stays incremental")
}

func TestProjectRebuildCollectsAllArtifacts(t *testing.T) {
	p, idx := demoProject()
	cs, err := ForBuild(ProjectRebuild, p, idx, fsstate.New(), nil, Params{})
	require.NoError(t, err)

	assert.True(t, cs.ForcedCompilation())
	require.Len(t, cs.Artifacts(), 2)
}

func TestNamedArtifactsWithoutOutputPathSkipped(t *testing.T) {
	p, idx := demoProject()
	cs, err := ForBuild(Make, p, idx, fsstate.New(), nil, Params{Modules: []string{"core"}, Artifacts: []string{"app", "bad", "missing"}})
	require.NoError(t, err)

	require.Len(t, cs.Artifacts(), 1)
	assert.Equal(t, "app", cs.Artifacts()[0].Name)
}

func TestModulesScopeMembership(t *testing.T) {
	p, idx := demoProject()
	cs, err := ForBuild(Make, p, idx, fsstate.New(), nil, Params{Modules: []string{"core", "unknown"}})
	require.NoError(t, err)

	_, ok := cs.(*ModulesScope)
	require.True(t, ok)
	assert.True(t, cs.AffectsModule("core"))
	assert.False(t, cs.AffectsModule("util"))
	assert.False(t, cs.AffectsModule("unknown"), "unknown modules are not in scope")
	assert.True(t, cs.AffectsFile("core", "/proj/core/src/a.src"))
}

func TestFilesScopeResolvesThroughRootIndex(t *testing.T) {
	p, idx := demoProject()
	file := filepath.Join("/proj/util/src", "u.src")
	outside := "/elsewhere/x.src"

	cs, err := ForBuild(Make, p, idx, fsstate.New(), nil, Params{Paths: []string{file, outside}})
	require.NoError(t, err)

	mf, ok := cs.(*ModulesAndFilesScope)
	require.True(t, ok)
	assert.True(t, mf.AffectsModule("util"))
	assert.True(t, mf.AffectsFile("util", file))
	assert.False(t, mf.AffectsFile("util", "/proj/util/src/other.src"))
	assert.False(t, mf.AffectsModule("core"))
}

func TestForcedCompilationMarksSelectedFilesDirty(t *testing.T) {
	p, idx := demoProject()
	state := fsstate.New()
	file := "/proj/core/src/a.src"

	cs, err := ForBuild(ForcedCompilation, p, idx, state, nil, Params{Paths: []string{file}})
	require.NoError(t, err)

	assert.True(t, cs.ForcedCompilation())
	assert.True(t, state.IsDirty("core", file))
}

func TestMakeDoesNotMarkSelectedFilesDirty(t *testing.T) {
	p, idx := demoProject()
	state := fsstate.New()
	file := "/proj/core/src/a.src"

	_, err := ForBuild(Make, p, idx, state, nil, Params{Paths: []string{file}})
	require.NoError(t, err)
	assert.False(t, state.IsDirty("core", file))
}
