package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // absolute project directory
	Manifest  *Manifest // the dependency's own manifest
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest

	resolved map[string]*ResolvedDep // by absolute path
	visiting map[string]bool
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{
		manifest: m,
		resolved: make(map[string]*ResolvedDep),
		visiting: make(map[string]bool),
	}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents). A project
// reached through two paths is listed once; a cycle is an error.
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	r.visiting[r.manifest.Dir] = true
	return r.resolveAll(r.manifest)
}

// resolveAll resolves the dependencies of m recursively, in name order.
func (r *Resolver) resolveAll(m *Manifest) ([]ResolvedDep, error) {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedDep
	for _, name := range names {
		rd, err := r.resolveOne(m, name, m.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		if _, done := r.resolved[rd.LocalPath]; done {
			continue
		}
		if r.visiting[rd.LocalPath] {
			return nil, fmt.Errorf("resolving %s: dependency cycle through %s", name, rd.LocalPath)
		}

		r.visiting[rd.LocalPath] = true
		transitive, err := r.resolveAll(rd.Manifest)
		if err != nil {
			return nil, err
		}
		delete(r.visiting, rd.LocalPath)

		order = append(order, transitive...)
		r.resolved[rd.LocalPath] = rd
		order = append(order, *rd)
	}
	return order, nil
}

// resolveOne resolves a single dependency relative to the manifest that
// names it.
func (r *Resolver) resolveOne(owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path == "" {
		return nil, fmt.Errorf("dependency %q has no path specified", name)
	}

	localPath := dep.Path
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(owner.Dir, localPath)
	}
	localPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
	}

	// Verify it exists
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
	}
	if rd, ok := r.resolved[localPath]; ok {
		return rd, nil
	}

	depManifest, err := Load(localPath)
	if err != nil {
		return nil, err
	}
	return &ResolvedDep{
		Name:      name,
		LocalPath: localPath,
		Manifest:  depManifest,
	}, nil
}
