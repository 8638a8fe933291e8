package manifest

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestModuleName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"shapes", "shapes"},
		{"my-app", "my_app"},
		{"my.app", "my_app"},
		{"2d", "_2d"},
		{"vec3", "vec3"},
		{"héllo", "héllo"},
		{"a+b", "ab"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := ModuleName(tc.input); got != tc.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestIsReservedModule(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"time", true},
		{"Option", true},
		{"time::clock", true},
		{"shapes", false},
		{"shapes::time", false},
	}
	for _, tc := range tests {
		if got := IsReservedModule(tc.name); got != tc.want {
			t.Errorf("IsReservedModule(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "main.rill"), "fn main() {}")
	writeFile(t, filepath.Join(dir, "src", "geo", "shapes.rill"), "")
	writeFile(t, filepath.Join(dir, "src", "notes.txt"), "")
	writeFile(t, filepath.Join(dir, "lib", "my-util.rill"), "")

	m := Default(dir)
	m.Source.Dirs = []string{"src", "lib", "missing"}
	files, err := m.SourceFiles()
	if err != nil {
		t.Fatal(err)
	}

	want := []SourceFile{
		{"geo::shapes", filepath.Join(dir, "src", "geo", "shapes.rill")},
		{"main", filepath.Join(dir, "src", "main.rill")},
		{"my_util", filepath.Join(dir, "lib", "my-util.rill")},
	}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %v, want %v", i, files[i], want[i])
		}
	}
}

func TestSourceFilesDuplicateModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "util.rill"), "")
	writeFile(t, filepath.Join(dir, "lib", "util.rill"), "")

	m := Default(dir)
	m.Source.Dirs = []string{"src", "lib"}
	if _, err := m.SourceFiles(); !errors.Is(err, ErrDuplicateModule) {
		t.Errorf("err = %v, want ErrDuplicateModule", err)
	}
}

func TestSourceFilesReservedModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "time.rill"), "")
	if _, err := Default(dir).SourceFiles(); !errors.Is(err, ErrReservedModule) {
		t.Errorf("err = %v, want ErrReservedModule", err)
	}
}
