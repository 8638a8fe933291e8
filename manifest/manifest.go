// Package manifest handles rill.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked for in project directories.
const FileName = "rill.toml"

// Manifest represents a rill.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Source       Source                `toml:"source"`
	Build        Build                 `toml:"build"`
	Log          Log                   `toml:"log"`
	Server       Server                `toml:"server"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the rill.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations and the entry function.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"` // "fn" or "module::fn"
}

// Build configures compilation.
type Build struct {
	Optimize  bool   `toml:"optimize"`
	Cache     string `toml:"cache"` // "none" disables the unit cache
	MaxFrames int    `toml:"max-frames"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Server configures the remote session service.
type Server struct {
	Addr            string   `toml:"addr"`
	GRPCAddr        string   `toml:"grpc-addr"`
	ContinuationTTL Duration `toml:"continuation-ttl"`
}

// Dependency is another rill project whose modules are loaded first.
type Dependency struct {
	Path   string `toml:"path"`
	Module string `toml:"module"` // module prefix override
}

// Duration is a time.Duration written as a string such as "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults.
const (
	DefaultEntry           = "main"
	DefaultCache           = ".rill/cache.db"
	DefaultAddr            = ":4567"
	DefaultGRPCAddr        = ":4568"
	DefaultContinuationTTL = 30 * time.Minute
)

// Default returns the configuration used when no rill.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = DefaultEntry
	}
	if m.Build.Cache == "" {
		m.Build.Cache = DefaultCache
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.GRPCAddr == "" {
		m.Server.GRPCAddr = DefaultGRPCAddr
	}
	if m.Server.ContinuationTTL.Duration <= 0 {
		m.Server.ContinuationTTL.Duration = DefaultContinuationTTL
	}
}

// Load parses a rill.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a rill.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
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
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// CachePath returns the absolute path of the unit cache, or "" when
// caching is disabled.
func (m *Manifest) CachePath() string {
	switch m.Build.Cache {
	case "none", "off":
		return ""
	case ":memory:":
		return m.Build.Cache
	}
	if filepath.IsAbs(m.Build.Cache) {
		return m.Build.Cache
	}
	return filepath.Join(m.Dir, m.Build.Cache)
}

// LogFile returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}

// EntryPoint splits Source.Entry into a module and function name. The
// module is empty when the entry names a bare function.
func (m *Manifest) EntryPoint() (module, fn string) {
	cut := strings.LastIndex(m.Source.Entry, "::")
	if cut < 0 {
		return "", m.Source.Entry
	}
	return m.Source.Entry[:cut], m.Source.Entry[cut+2:]
}
