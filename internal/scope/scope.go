// Package scope describes the boundary a build run must consider: which
// modules, artifacts and files are in scope, and whether incremental
// behavior is suppressed.
package scope

import (
	"fmt"

	"git.home.luguber.info/inful/buildforge/internal/fsstate"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

// BuildKind selects incremental vs. full vs. scoped recompilation.
type BuildKind int

const (
	Clean BuildKind = iota
	Make
	ForcedCompilation
	ProjectRebuild
)

// String returns the protocol name of the kind.
func (k BuildKind) String() string {
	switch k {
	case Clean:
		return string(protocol.BuildKindClean)
	case Make:
		return string(protocol.BuildKindMake)
	case ForcedCompilation:
		return string(protocol.BuildKindForcedCompilation)
	case ProjectRebuild:
		return string(protocol.BuildKindProjectRebuild)
	}
	return fmt.Sprintf("build_kind(%d)", int(k))
}

// KindFromProtocol maps a wire build kind onto BuildKind. Unknown values
// default to Make.
func KindFromProtocol(name protocol.BuildKindName) BuildKind {
	switch name {
	case protocol.BuildKindClean:
		return Clean
	case protocol.BuildKindForcedCompilation:
		return ForcedCompilation
	case protocol.BuildKindProjectRebuild:
		return ProjectRebuild
	case protocol.BuildKindMake:
		return Make
	}
	return Make
}

// CompileScope is the frozen description of what one build run covers.
// Implementations are immutable after construction.
type CompileScope interface {
	// AffectsModule reports whether the named module is in scope.
	AffectsModule(module string) bool
	// AffectsFile reports whether the given file of a module is in scope.
	AffectsFile(module, path string) bool
	// Artifacts returns the artifacts the run must produce.
	Artifacts() []project.Artifact
	// ForcedCompilation reports whether incremental behavior is
	// suppressed for everything in scope.
	ForcedCompilation() bool
}

// AllProjectScope covers every module and file of the project.
type AllProjectScope struct {
	artifacts []project.Artifact
	forced    bool
}

func (s *AllProjectScope) AffectsModule(string) bool       { return true }
func (s *AllProjectScope) AffectsFile(string, string) bool { return true }
func (s *AllProjectScope) Artifacts() []project.Artifact   { return s.artifacts }
func (s *AllProjectScope) ForcedCompilation() bool         { return s.forced }

// ModulesScope covers a fixed module set; every file of an in-scope
// module is in scope.
type ModulesScope struct {
	modules   map[string]struct{}
	artifacts []project.Artifact
	forced    bool
}

func (s *ModulesScope) AffectsModule(module string) bool {
	_, ok := s.modules[module]
	return ok
}
func (s *ModulesScope) AffectsFile(module, _ string) bool { return s.AffectsModule(module) }
func (s *ModulesScope) Artifacts() []project.Artifact     { return s.artifacts }
func (s *ModulesScope) ForcedCompilation() bool           { return s.forced }

// ModulesAndFilesScope covers a fixed module set plus an explicit
// file-to-module selection.
type ModulesAndFilesScope struct {
	modules   map[string]struct{}
	files     map[string]map[string]struct{} // module -> path set
	artifacts []project.Artifact
	forced    bool
}

func (s *ModulesAndFilesScope) AffectsModule(module string) bool {
	if _, ok := s.modules[module]; ok {
		return true
	}
	_, ok := s.files[module]
	return ok
}

func (s *ModulesAndFilesScope) AffectsFile(module, path string) bool {
	if _, ok := s.modules[module]; ok {
		return true
	}
	_, ok := s.files[module][path]
	return ok
}

func (s *ModulesAndFilesScope) Artifacts() []project.Artifact { return s.artifacts }
func (s *ModulesAndFilesScope) ForcedCompilation() bool       { return s.forced }

// Params are the raw scope inputs of a build request.
type Params struct {
	Modules   []string
	Artifacts []string
	Paths     []string
}

// WholeProject reports whether the request addresses the entire project
// (no explicit modules or files).
func (p Params) WholeProject() bool {
	return len(p.Modules) == 0 && len(p.Paths) == 0
}

// ForBuild computes the compile scope for one build attempt. Explicit
// file selections are resolved through the root index; under
// ForcedCompilation the selected files are additionally marked dirty so
// the builder treats them as changed.
func ForBuild(kind BuildKind, p *project.Project, idx *project.RootIndex, state *fsstate.State, stamps fsstate.Stamps, params Params) (CompileScope, error) {
	var artifacts []project.Artifact
	if len(params.Artifacts) == 0 && kind == ProjectRebuild {
		for _, a := range p.Artifacts {
			artifacts = append(artifacts, a)
		}
	} else {
		for _, name := range params.Artifacts {
			if a, ok := p.Artifacts[name]; ok && a.OutputPath != "" {
				artifacts = append(artifacts, a)
			}
		}
	}

	forced := kind != Make

	if kind == ProjectRebuild || params.WholeProject() {
		return &AllProjectScope{artifacts: artifacts, forced: forced}, nil
	}

	modules := make(map[string]struct{})
	for _, name := range params.Modules {
		if _, ok := p.Modules[name]; ok {
			modules[name] = struct{}{}
		}
	}

	files := make(map[string]map[string]struct{})
	for _, path := range params.Paths {
		rd := idx.ModuleAndRoot(path)
		if rd == nil {
			continue
		}
		set, ok := files[rd.Module]
		if !ok {
			set = make(map[string]struct{})
			files[rd.Module] = set
		}
		set[path] = struct{}{}
		if kind == ForcedCompilation {
			if err := state.MarkDirty(path, rd, stamps); err != nil {
				return nil, fmt.Errorf("mark %s dirty: %w", path, err)
			}
		}
	}

	if len(files) == 0 {
		return &ModulesScope{modules: modules, artifacts: artifacts, forced: forced}, nil
	}
	return &ModulesAndFilesScope{modules: modules, files: files, artifacts: artifacts, forced: forced}, nil
}
