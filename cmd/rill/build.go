package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/rill/cache"
	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/hostlib"
	"github.com/chazu/rill/manifest"
	"github.com/chazu/rill/vm"
)

// unitExtension is the file extension of serialized units.
const unitExtension = ".rlc"

// ErrCompileFailed is returned when any source file has errors.
var ErrCompileFailed = errors.New("compilation failed")

// collect resolves command line paths into source files. Without paths
// the project's dependencies and source directories are used.
func collect(m *manifest.Manifest, paths []string) ([]manifest.SourceFile, error) {
	if len(paths) == 0 {
		var files []manifest.SourceFile
		deps, err := m.ResolveDeps()
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			depFiles, err := dep.SourceFiles()
			if err != nil {
				return nil, fmt.Errorf("dependency %s: %w", dep.Name, err)
			}
			files = append(files, depFiles...)
		}
		own, err := m.SourceFiles()
		if err != nil {
			return nil, err
		}
		return append(files, own...), nil
	}

	var files []manifest.SourceFile
	seen := make(map[string]string)
	add := func(f manifest.SourceFile) error {
		if prev, ok := seen[f.Module]; ok {
			return fmt.Errorf("%w: %s from both %s and %s", manifest.ErrDuplicateModule, f.Module, prev, f.Path)
		}
		seen[f.Module] = f.Path
		files = append(files, f)
		return nil
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			dir := manifest.Default(path)
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, err
			}
			dir.Source.Dirs = []string{abs}
			dirFiles, err := dir.SourceFiles()
			if err != nil {
				return nil, err
			}
			for _, f := range dirFiles {
				if err := add(f); err != nil {
					return nil, err
				}
			}
			continue
		}
		ext := filepath.Ext(path)
		if ext != manifest.Extension && ext != unitExtension {
			return nil, fmt.Errorf("%s: not a %s or %s file", path, manifest.Extension, unitExtension)
		}
		module := manifest.ModuleName(strings.TrimSuffix(filepath.Base(path), ext))
		if err := add(manifest.SourceFile{Module: module, Path: path}); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// builder compiles source files to units.
type builder struct {
	cache    *cache.Cache
	optimize bool
	stderr   io.Writer

	mu sync.Mutex // guards stderr
}

// source is a file read from disk; unit is set for serialized units.
type source struct {
	file manifest.SourceFile
	text string
	unit *vm.Unit
}

// compileAll reads and compiles files in parallel. Diagnostics are
// printed as they are found; any error fails the build after every file
// has been checked.
func (b *builder) compileAll(ctx context.Context, files []manifest.SourceFile) ([]*vm.Unit, error) {
	sources := make([]source, len(files))
	g, readCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		g.Go(func() error {
			if err := readCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f.Path)
			if err != nil {
				return err
			}
			sources[i].file = f
			if filepath.Ext(f.Path) == unitExtension {
				u, err := vm.Deserialize(data)
				if err != nil {
					return fmt.Errorf("%s: %w", f.Path, err)
				}
				sources[i].unit = u
				return nil
			}
			sources[i].text = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	env := projectEnvironment(sources)

	units := make([]*vm.Unit, len(sources))
	failed := make([]bool, len(sources))
	g, compileCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range sources {
		src := &sources[i]
		if src.unit != nil {
			units[i] = src.unit
			continue
		}
		g.Go(func() error {
			if err := compileCtx.Err(); err != nil {
				return err
			}
			u, diags, err := b.compile(src, env)
			if err != nil {
				return err
			}
			b.report(src, diags)
			if u == nil {
				failed[i] = true
			}
			units[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, f := range failed {
		if f {
			return nil, ErrCompileFailed
		}
	}
	return units, nil
}

func (b *builder) compile(src *source, env *compiler.Names) (*vm.Unit, compiler.Diagnostics, error) {
	r := cache.Request{
		Source:      src.text,
		Module:      src.file.Module,
		SourceName:  src.file.Path,
		Lowering:    compiler.DirectLowering{},
		Environment: env,
	}
	if b.optimize {
		r.Lowering = compiler.OptimizingLowering{}
	}
	if b.cache != nil {
		u, diags, err := b.cache.Compile(r)
		if err == nil {
			return u, diags, nil
		}
		log.Warningf("unit cache: %s", err)
	}
	u, diags := compiler.Compile(src.text, src.file.Module, r.Options()...)
	return u, diags, nil
}

// report prints diagnostics as path:line:col: severity[code]: message.
func (b *builder) report(src *source, diags compiler.Diagnostics) {
	if len(diags) == 0 {
		return
	}
	li := compiler.NewLineIndex(src.text)
	var sb strings.Builder
	for _, d := range diags {
		pos := li.Position(d.Primary.Start)
		fmt.Fprintf(&sb, "%s:%d:%d: %s[%s]: %s\n", src.file.Path, pos.Line, pos.Column, d.Severity, d.Code, d.Message)
		for _, l := range d.Secondary {
			lp := li.Position(l.Span.Start)
			fmt.Fprintf(&sb, "  %s:%d:%d: %s\n", src.file.Path, lp.Line, lp.Column, l.Message)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	io.WriteString(b.stderr, sb.String())
}

// projectEnvironment is the host environment plus every function the
// project's modules declare, so a misspelled cross-module call is a
// compile error rather than a link error.
func projectEnvironment(sources []source) *compiler.Names {
	env := compiler.NewNames()
	env.Merge(hostlib.Environment())
	for _, src := range sources {
		module := src.file.Module
		if src.unit != nil {
			module = src.unit.Name
			for _, fn := range src.unit.Functions {
				if !strings.Contains(fn.Name, "{") {
					env.Insert(module + "::" + fn.Name)
				}
			}
			continue
		}
		file, _ := compiler.Parse(src.text)
		for _, item := range file.Items {
			switch it := item.(type) {
			case *compiler.FnItem:
				env.Insert(module + "::" + it.QualifiedName())
			case *compiler.ImplItem:
				for _, fn := range it.Fns {
					env.Insert(module + "::" + fn.QualifiedName())
				}
			}
		}
	}
	return env
}

// loadAll links units into the session. A unit is loaded once every
// module it imports from is loaded, so files may be given in any order.
func loadAll(s *vm.Session, units []*vm.Unit) error {
	pending := units
	for len(pending) > 0 {
		var next []*vm.Unit
		var linkErrs []error
		for _, u := range pending {
			_, err := s.Load(u, nil)
			var linkErr *vm.LinkError
			switch {
			case err == nil:
				log.Debugf("loaded %s", u.Name)
			case errors.As(err, &linkErr):
				next = append(next, u)
				linkErrs = append(linkErrs, err)
			default:
				return err
			}
		}
		if len(next) == len(pending) {
			return errors.Join(linkErrs...)
		}
		pending = next
	}
	return nil
}

// entryPoint picks the module and function to run. The -m flag wins over
// rill.toml; a bare function name is looked up in the only module, the
// module named "main", or else the first module declaring it.
func entryPoint(m *manifest.Manifest, flagEntry string, units []*vm.Unit) (module, fn string) {
	if flagEntry != "" {
		m = &manifest.Manifest{Source: manifest.Source{Entry: flagEntry}}
	}
	module, fn = m.EntryPoint()
	if fn == "" {
		fn = manifest.DefaultEntry
	}
	if module != "" || len(units) == 0 {
		return module, fn
	}
	if len(units) == 1 {
		return units[0].Name, fn
	}
	for _, u := range units {
		if u.Name == manifest.DefaultEntry {
			return u.Name, fn
		}
	}
	for _, u := range units {
		for _, f := range u.Functions {
			if f.Name == fn {
				return u.Name, fn
			}
		}
	}
	return units[0].Name, fn
}

// writeUnits serializes units. A path ending in .rlc takes exactly one
// unit; any other path is a directory receiving <module>.rlc files.
func writeUnits(path string, units []*vm.Unit) error {
	if filepath.Ext(path) == unitExtension {
		if len(units) != 1 {
			return fmt.Errorf("%s: %d modules compiled, a single %s file holds one", path, len(units), unitExtension)
		}
		return writeUnit(path, units[0])
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	for _, u := range units {
		name := strings.ReplaceAll(u.Name, "::", ".") + unitExtension
		if err := writeUnit(filepath.Join(path, name), u); err != nil {
			return err
		}
	}
	return nil
}

func writeUnit(path string, u *vm.Unit) error {
	data, err := vm.Serialize(u)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", u.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}
