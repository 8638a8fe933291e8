package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Extension is the file extension of rill source files.
const Extension = ".rill"

var (
	ErrDuplicateModule = errors.New("duplicate module name")
	ErrReservedModule  = errors.New("reserved module name")
)

// SourceFile is a source file and the module name it compiles to.
type SourceFile struct {
	Module string
	Path   string
}

// ModuleName converts a file or project name into an identifier usable
// as a module path segment: "my-app" -> "my_app", "2d" -> "_2d".
func ModuleName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// reservedModules lists path roots the host prelude and built-in types
// occupy. A module with one of these roots would shadow them in imports.
var reservedModules = map[string]bool{
	"Option": true,
	"Result": true,
	"String": true,
	"Vec":    true,
	"Object": true,
	"Tuple":  true,
	"Range":  true,
	"time":   true,
	"self":   true,
	"crate":  true,
	"super":  true,
}

// IsReservedModule reports whether the root segment of name is taken by
// the host. Only the root is checked: "shapes::time" is fine.
func IsReservedModule(name string) bool {
	root, _, _ := strings.Cut(name, "::")
	return reservedModules[root]
}

// moduleForPath derives the module name of a file relative to its
// source directory: "geo/shapes.rill" -> "geo::shapes".
func moduleForPath(prefix, rel string) string {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), Extension)
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = ModuleName(p)
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "::")
}

// SourceFiles lists the rill files of every source directory, sorted by
// module name. Missing directories are skipped. Two files mapping to the
// same module name are an error.
func (m *Manifest) SourceFiles() ([]SourceFile, error) {
	return collectSources(m.SourceDirPaths(), "")
}

func collectSources(dirs []string, prefix string) ([]SourceFile, error) {
	var files []SourceFile
	seen := make(map[string]string)
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || filepath.Ext(path) != Extension {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			mod := moduleForPath(prefix, rel)
			if IsReservedModule(mod) {
				return fmt.Errorf("%w: %s (from %s)", ErrReservedModule, mod, path)
			}
			if prev, ok := seen[mod]; ok {
				return fmt.Errorf("%w: %s from both %s and %s", ErrDuplicateModule, mod, prev, path)
			}
			seen[mod] = path
			files = append(files, SourceFile{Module: mod, Path: path})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Module < files[j].Module })
	return files, nil
}
