package manifest

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestResolveModule(t *testing.T) {
	tests := []struct {
		name        string
		depName     string
		dep         Dependency
		depManifest *Manifest
		want        string
		wantErr     bool
	}{
		{
			name:        "consumer override wins",
			depName:     "geo",
			dep:         Dependency{Path: "../geo", Module: "shapes"},
			depManifest: &Manifest{Project: Project{Name: "geometry"}},
			want:        "shapes",
		},
		{
			name:        "producer name without override",
			depName:     "geo",
			dep:         Dependency{Path: "../geo"},
			depManifest: &Manifest{Project: Project{Name: "geometry"}},
			want:        "geometry",
		},
		{
			name:    "dependency key fallback",
			depName: "my-lib",
			dep:     Dependency{Path: "../my-lib"},
			want:    "my_lib",
		},
		{
			name:    "reserved module rejected",
			depName: "clock",
			dep:     Dependency{Path: "../clock", Module: "time"},
			wantErr: true,
		},
		{
			name:    "empty module rejected",
			depName: "+++",
			dep:     Dependency{Path: "../x"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		got, err := resolveModule(tc.depName, tc.dep, tc.depManifest)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error, got %q", tc.name, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s: got %q, %v, want %q", tc.name, got, err, tc.want)
		}
	}
}

func TestResolveDepsOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app", FileName), `
[project]
name = "app"
[dependencies]
geo = { path = "../geo" }
util = { path = "../util" }
`)
	writeFile(t, filepath.Join(root, "geo", FileName), `
[project]
name = "geo"
[dependencies]
util = { path = "../util" }
`)
	writeFile(t, filepath.Join(root, "geo", "src", "shapes.rill"), "")
	writeFile(t, filepath.Join(root, "util", "math.rill"), "")

	m, err := Load(filepath.Join(root, "app"))
	if err != nil {
		t.Fatal(err)
	}
	deps, err := m.ResolveDeps()
	if err != nil {
		t.Fatal(err)
	}

	var mods []string
	for _, d := range deps {
		mods = append(mods, d.Module)
	}
	if len(mods) != 2 || mods[0] != "util" || mods[1] != "geo" {
		t.Fatalf("load order = %v, want [util geo]", mods)
	}

	files, err := deps[1].SourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Module != "geo::shapes" {
		t.Errorf("geo files = %v", files)
	}
	files, err = deps[0].SourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Module != "util::math" {
		t.Errorf("util files = %v", files)
	}
}

func TestResolveDepsCycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", FileName), "[dependencies]\nb = { path = \"../b\" }\n")
	writeFile(t, filepath.Join(root, "b", FileName), "[dependencies]\na = { path = \"../a\" }\n")

	m, err := Load(filepath.Join(root, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ResolveDeps(); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("err = %v, want ErrDependencyCycle", err)
	}
}

func TestResolveDepsMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "[dependencies]\ngone = { path = \"gone\" }\n")
	m, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ResolveDeps(); err == nil {
		t.Error("missing dependency resolved")
	}
}
