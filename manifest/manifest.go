// Package manifest handles tin.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tin/compiler"
	"github.com/chazu/tin/vm"
)

// FileName is the name of the project file.
const FileName = "tin.toml"

// Manifest represents a tin.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Source       Source                `toml:"source"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Build        BuildConfig           `toml:"build"`
	VM           VMSettings            `toml:"vm"`

	// Dir is the directory containing the tin.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations. Every *.tin file directly in
// one of Dirs is compiled, plus the listed Files.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

// Dependency is another tin project whose sources are built together
// with this one.
type Dependency struct {
	Path string `toml:"path"`
}

// BuildConfig configures the compiler.
type BuildConfig struct {
	Output  string `toml:"output"`
	Workers int    `toml:"workers"`
}

// VMSettings configures the machine used by "tin run".
type VMSettings struct {
	StackSize int    `toml:"stack-size"`
	HeapLimit int    `toml:"heap-limit"`
	MaxSteps  uint64 `toml:"max-steps"`
	Trace     bool   `toml:"trace"`
	Profile   bool   `toml:"profile"`
	NoFiles   bool   `toml:"no-files"`
}

// Load parses a tin.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 && len(m.Source.Files) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Build.Output == "" {
		name := m.Project.Name
		if name == "" {
			name = filepath.Base(m.Dir)
		}
		m.Build.Output = name + ".tinc"
	}
	if m.Build.Workers <= 0 {
		m.Build.Workers = runtime.GOMAXPROCS(0)
	}
	if m.VM.StackSize <= 0 {
		m.VM.StackSize = vm.DefaultStackSize
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a tin.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// SourceFiles lists the project's own source files: the *.tin files of
// each source directory in name order, then the explicit files. A file
// named twice is listed once.
func (m *Manifest) SourceFiles() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, dir := range m.SourceDirPaths() {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("source directory %s: %w", dir, err)
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*.tin"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, p := range matches {
			add(p)
		}
	}
	for _, f := range m.Source.Files {
		p := filepath.Join(m.Dir, f)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("source file %s: %w", p, err)
		}
		add(p)
	}
	return out, nil
}

// AllSourceFiles returns the sources of every dependency, in load order,
// followed by the project's own.
func (m *Manifest) AllSourceFiles() ([]string, error) {
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range deps {
		files, err := d.Manifest.SourceFiles()
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
		out = append(out, files...)
	}
	own, err := m.SourceFiles()
	if err != nil {
		return nil, err
	}
	return append(out, own...), nil
}

// OutputPath returns the absolute path of the compiled image.
func (m *Manifest) OutputPath() string {
	if filepath.IsAbs(m.Build.Output) {
		return m.Build.Output
	}
	return filepath.Join(m.Dir, m.Build.Output)
}

// BuildOptions returns the compiler options for this project.
func (m *Manifest) BuildOptions() compiler.Options {
	return compiler.Options{Workers: m.Build.Workers}
}

// VMConfig returns the machine configuration for this project. Output,
// trace output and the profiler are left for the caller to fill in.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{
		StackSize: m.VM.StackSize,
		HeapLimit: m.VM.HeapLimit,
		MaxSteps:  m.VM.MaxSteps,
		Trace:     m.VM.Trace,
		NoFiles:   m.VM.NoFiles,
	}
}
