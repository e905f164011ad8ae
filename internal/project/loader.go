package project

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

const projectFileName = "project.yaml"

// Loader turns an on-disk project definition into a Project model.
// Implementations must be safe for repeated use.
type Loader interface {
	Load(projectPath string, globals protocol.GlobalSettings) (*Project, error)
}

// YAMLLoader loads project.yaml definitions, applying path variable
// substitution and merging controller-supplied global settings.
type YAMLLoader struct {
	logger *slog.Logger
}

// NewYAMLLoader creates a loader logging through the given logger.
func NewYAMLLoader(logger *slog.Logger) *YAMLLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &YAMLLoader{logger: logger}
}

// projectFile mirrors the on-disk YAML shape.
type projectFile struct {
	Name           string     `yaml:"name"`
	Charset        string     `yaml:"charset,omitempty"`
	Modules        []*Module  `yaml:"modules"`
	Artifacts      []Artifact `yaml:"artifacts,omitempty"`
	Libraries      []Library  `yaml:"libraries,omitempty"`
	IgnorePatterns []string   `yaml:"ignore_patterns,omitempty"`
}

// Load reads the project definition under projectPath. The path may be
// the project directory or the project file itself.
func (l *YAMLLoader) Load(projectPath string, globals protocol.GlobalSettings) (*Project, error) {
	start := time.Now()
	defer func() {
		l.logger.Info("project loaded", "path", projectPath, "duration", time.Since(start))
	}()

	file := projectPath
	if info, err := os.Stat(projectPath); err == nil && info.IsDir() {
		file = filepath.Join(projectPath, projectFileName)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", file, err)
	}

	baseDir := filepath.Dir(file)
	p := &Project{
		Name:           pf.Name,
		BaseDir:        baseDir,
		Modules:        make(map[string]*Module),
		Artifacts:      make(map[string]Artifact),
		Libraries:      make(map[string]Library),
		SDKs:           make(map[string]SDK),
		Charset:        pf.Charset,
		IgnorePatterns: pf.IgnorePatterns,
	}

	sub := newSubstitutor(globals.PathVariables, baseDir)
	for _, m := range pf.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("project file %s: module without a name", file)
		}
		m.SourceRoots = sub.resolveAll(m.SourceRoots)
		m.TestRoots = sub.resolveAll(m.TestRoots)
		p.Modules[m.Name] = m
	}
	for _, a := range pf.Artifacts {
		a.OutputPath = sub.resolve(a.OutputPath)
		p.Artifacts[a.Name] = a
	}
	for _, lib := range pf.Libraries {
		lib.Paths = sub.resolveAll(lib.Paths)
		p.Libraries[lib.Name] = lib
	}

	l.applyGlobals(p, globals)

	if p.Charset != "" {
		if _, err := ianaindex.IANA.Encoding(p.Charset); err != nil {
			return nil, fmt.Errorf("unknown project charset %q: %w", p.Charset, err)
		}
	}
	return p, nil
}

// applyGlobals merges global libraries and SDKs into the model and fills
// settings the project file left open.
func (l *YAMLLoader) applyGlobals(p *Project, globals protocol.GlobalSettings) {
	for _, gl := range globals.GlobalLibraries {
		if gl.IsSDK() {
			p.SDKs[gl.Name] = SDK{
				Name:     gl.Name,
				TypeName: gl.TypeName,
				Version:  gl.Version,
				HomePath: gl.HomePath,
				Paths:    gl.Paths,
			}
			continue
		}
		if _, exists := p.Libraries[gl.Name]; exists {
			l.logger.Debug("project library shadows global library", "name", gl.Name)
			continue
		}
		p.Libraries[gl.Name] = Library{Name: gl.Name, Paths: gl.Paths}
	}
	if p.Charset == "" && globals.GlobalEncoding != "" {
		p.Charset = globals.GlobalEncoding
	}
	if globals.IgnorePatterns != "" {
		for _, pat := range strings.Split(globals.IgnorePatterns, ";") {
			if pat = strings.TrimSpace(pat); pat != "" {
				p.IgnorePatterns = append(p.IgnorePatterns, pat)
			}
		}
	}
}

// substitutor expands $VAR$ references and anchors relative paths to the
// project base directory.
type substitutor struct {
	vars    map[string]string
	baseDir string
}

func newSubstitutor(vars map[string]string, baseDir string) *substitutor {
	return &substitutor{vars: vars, baseDir: baseDir}
}

func (s *substitutor) resolve(path string) string {
	if path == "" {
		return path
	}
	for name, value := range s.vars {
		path = strings.ReplaceAll(path, "$"+name+"$", value)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.baseDir, path)
	}
	return filepath.Clean(path)
}

func (s *substitutor) resolveAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.resolve(p))
	}
	return out
}
