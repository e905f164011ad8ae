// Package project holds the in-memory project model a build session
// operates on: modules with source roots, artifacts, libraries and SDKs,
// plus the root index used to resolve changed paths back to modules.
package project

import (
	"path/filepath"
	"strings"
)

// Module is a named unit of compilation with its source and test roots.
type Module struct {
	Name        string   `yaml:"name"`
	SourceRoots []string `yaml:"source_roots"`
	TestRoots   []string `yaml:"test_roots,omitempty"`
}

// Artifact is a named build output with a target path.
type Artifact struct {
	Name       string `yaml:"name"`
	OutputPath string `yaml:"output_path"`
}

// Library is a classpath-style library available to modules.
type Library struct {
	Name  string   `yaml:"name"`
	Paths []string `yaml:"paths,omitempty"`
}

// SDK is a platform installation modules may compile against.
type SDK struct {
	Name     string   `yaml:"name"`
	TypeName string   `yaml:"type,omitempty"`
	Version  string   `yaml:"version,omitempty"`
	HomePath string   `yaml:"home_path"`
	Paths    []string `yaml:"paths,omitempty"`
}

// Project is the loaded project model. It is treated as immutable after
// loading.
type Project struct {
	Name           string              `yaml:"name"`
	BaseDir        string              `yaml:"-"`
	Modules        map[string]*Module  `yaml:"-"`
	Artifacts      map[string]Artifact `yaml:"-"`
	Libraries      map[string]Library  `yaml:"-"`
	SDKs           map[string]SDK      `yaml:"-"`
	Charset        string              `yaml:"charset,omitempty"`
	IgnorePatterns []string            `yaml:"-"`
}

// RootDescriptor identifies the module and source root owning a path.
type RootDescriptor struct {
	Module     string
	Root       string
	IsTestRoot bool
}

// RootIndex resolves absolute file paths to their owning module and
// root. Paths outside every known root resolve to nil.
type RootIndex struct {
	roots []RootDescriptor
}

// NewRootIndex builds an index over all module roots of the project.
func NewRootIndex(p *Project) *RootIndex {
	idx := &RootIndex{}
	for _, m := range p.Modules {
		for _, r := range m.SourceRoots {
			idx.roots = append(idx.roots, RootDescriptor{Module: m.Name, Root: filepath.Clean(r), IsTestRoot: false})
		}
		for _, r := range m.TestRoots {
			idx.roots = append(idx.roots, RootDescriptor{Module: m.Name, Root: filepath.Clean(r), IsTestRoot: true})
		}
	}
	return idx
}

// ModuleAndRoot returns the descriptor of the deepest root containing
// path, or nil when the path lies outside every known root.
func (idx *RootIndex) ModuleAndRoot(path string) *RootDescriptor {
	path = filepath.Clean(path)
	var best *RootDescriptor
	for i := range idx.roots {
		rd := &idx.roots[i]
		if !underRoot(rd.Root, path) {
			continue
		}
		if best == nil || len(rd.Root) > len(best.Root) {
			best = rd
		}
	}
	return best
}

func underRoot(root, path string) bool {
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, strings.TrimSuffix(root, sep)+sep)
}
