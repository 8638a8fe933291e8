package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrDependencyCycle is returned when dependencies form a cycle.
var ErrDependencyCycle = errors.New("dependency cycle")

// ResolvedDep is a dependency located on disk.
type ResolvedDep struct {
	Name     string    // key in [dependencies]
	Dir      string    // absolute project directory
	Module   string    // module prefix of its files
	Manifest *Manifest // the dependency's own manifest (may be nil)
}

// SourceFiles lists the dependency's files with module names under its
// prefix. A dependency without a manifest is a plain source directory.
func (d ResolvedDep) SourceFiles() ([]SourceFile, error) {
	dirs := []string{d.Dir}
	if d.Manifest != nil {
		dirs = d.Manifest.SourceDirPaths()
	}
	return collectSources(dirs, d.Module)
}

// resolveModule picks the module prefix of a dependency:
//  1. Consumer override (dep.Module)
//  2. Producer manifest (project name)
//  3. The dependency key
func resolveModule(name string, dep Dependency, depManifest *Manifest) (string, error) {
	var mod string
	switch {
	case dep.Module != "":
		mod = dep.Module
	case depManifest != nil && depManifest.Project.Name != "":
		mod = depManifest.Project.Name
	default:
		mod = name
	}
	mod = ModuleName(mod)
	if mod == "" {
		return "", fmt.Errorf("dependency %q has an empty module name", name)
	}
	if IsReservedModule(mod) {
		return "", fmt.Errorf("%w: dependency %q resolves to %q; add module = \"...\" in [dependencies]", ErrReservedModule, name, mod)
	}
	return mod, nil
}

// ResolveDeps resolves all path dependencies, transitively, and returns
// them in load order: dependencies before dependents.
func (m *Manifest) ResolveDeps() ([]ResolvedDep, error) {
	r := &depResolver{
		state: make(map[string]int),
		mods:  make(map[string]string),
	}
	r.state[m.Dir] = visiting
	if err := r.visitAll(m); err != nil {
		return nil, err
	}
	return r.order, nil
}

const (
	visiting = 1
	visited  = 2
)

type depResolver struct {
	state map[string]int    // by absolute dir
	mods  map[string]string // module prefix -> dir
	order []ResolvedDep
}

func (r *depResolver) visitAll(m *Manifest) error {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.visit(m, name, m.Dependencies[name]); err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
	}
	return nil
}

func (r *depResolver) visit(parent *Manifest, name string, dep Dependency) error {
	if dep.Path == "" {
		return fmt.Errorf("dependency %q has no path", name)
	}
	dir := dep.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(parent.Dir, dir)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", dep.Path, err)
	}

	switch r.state[dir] {
	case visited:
		return nil
	case visiting:
		return fmt.Errorf("%w through %s", ErrDependencyCycle, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("local dependency %q not found at %s: %w", name, dir, err)
	}

	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		if depManifest, err = Load(dir); err != nil {
			return err
		}
	}
	mod, err := resolveModule(name, dep, depManifest)
	if err != nil {
		return err
	}
	if other, ok := r.mods[mod]; ok && other != dir {
		return fmt.Errorf("%w: %s used by %s and %s", ErrDuplicateModule, mod, other, dir)
	}
	r.mods[mod] = dir

	r.state[dir] = visiting
	if depManifest != nil {
		if err := r.visitAll(depManifest); err != nil {
			return err
		}
	}
	r.state[dir] = visited
	r.order = append(r.order, ResolvedDep{Name: name, Dir: dir, Module: mod, Manifest: depManifest})
	return nil
}
