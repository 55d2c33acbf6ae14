package manifest

import (
	"path/filepath"
	"strings"
	"testing"
)

// project writes a tin.toml with the given dependencies and one source file.
func project(t *testing.T, dir, name string, deps map[string]string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("[project]\nname = \"" + name + "\"\n\n[source]\ndirs = [\".\"]\n")
	if len(deps) > 0 {
		sb.WriteString("\n[dependencies]\n")
		for dep, path := range deps {
			sb.WriteString(dep + " = { path = \"" + path + "\" }\n")
		}
	}
	writeFile(t, filepath.Join(dir, FileName), sb.String())
	writeFile(t, filepath.Join(dir, name+".tin"), "")
}

func TestResolveOrder(t *testing.T) {
	root := t.TempDir()
	project(t, filepath.Join(root, "app"), "app", map[string]string{"json": "../json", "util": "../util"})
	project(t, filepath.Join(root, "json"), "json", map[string]string{"util": "../util"})
	project(t, filepath.Join(root, "util"), "util", nil)

	m, err := Load(filepath.Join(root, "app"))
	if err != nil {
		t.Fatal(err)
	}
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var names []string
	for _, d := range deps {
		names = append(names, d.Name)
		if d.Manifest == nil || d.Manifest.Dir != d.LocalPath {
			t.Errorf("%s: manifest dir does not match %s", d.Name, d.LocalPath)
		}
	}
	if got := strings.Join(names, ","); got != "util,json" {
		t.Errorf("load order = %s, want util,json", got)
	}

	files, err := m.AllSourceFiles()
	if err != nil {
		t.Fatalf("AllSourceFiles: %v", err)
	}
	var bases []string
	for _, f := range files {
		bases = append(bases, filepath.Base(f))
	}
	if got := strings.Join(bases, ","); got != "util.tin,json.tin,app.tin" {
		t.Errorf("sources = %s", got)
	}
}

func TestResolveCycle(t *testing.T) {
	root := t.TempDir()
	project(t, filepath.Join(root, "a"), "a", map[string]string{"b": "../b"})
	project(t, filepath.Join(root, "b"), "b", map[string]string{"a": "../a"})

	m, err := Load(filepath.Join(root, "a"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewResolver(m).Resolve()
	if err == nil || !strings.Contains(err.Error(), "dependency cycle") {
		t.Errorf("err = %v, want a dependency cycle", err)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		dep  Dependency
		want string
	}{
		{"no path", Dependency{}, "has no path specified"},
		{"missing directory", Dependency{Path: "../missing"}, "not found"},
		{"no manifest", Dependency{Path: "."}, "cannot read"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			m := &Manifest{Dir: filepath.Join(dir, "app"), Dependencies: map[string]Dependency{"x": tc.dep}}
			writeFile(t, filepath.Join(dir, "app", "keep"), "")
			if tc.dep.Path == "." {
				m.Dependencies["x"] = Dependency{Path: "../plain"}
				writeFile(t, filepath.Join(dir, "plain", "keep"), "")
			}
			_, err := NewResolver(m).Resolve()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}
