package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/tin/compiler"
	"github.com/chazu/tin/vm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestVerbosityFlag(t *testing.T) {
	tests := []struct {
		args []string
		want verbosity
	}{
		{nil, 0},
		{[]string{"-v"}, 1},
		{[]string{"-v", "-v", "-v"}, 3},
		{[]string{"-v=false"}, 0},
		{[]string{"-v=4"}, 4},
	}
	for _, tc := range tests {
		var v verbosity
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Var(&v, "v", "")
		if err := fs.Parse(tc.args); err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if v != tc.want {
			t.Errorf("%v: verbosity = %d, want %d", tc.args, v, tc.want)
		}
	}
}

func TestRangeFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    compiler.Range
		wantErr bool
	}{
		{"3", compiler.Range{Min: 3, Max: 3}, false},
		{"1-4", compiler.Range{Min: 1, Max: 4}, false},
		{"0-0", compiler.Range{}, false},
		{"4-1", compiler.Range{}, true},
		{"x", compiler.Range{}, true},
		{"2-", compiler.Range{}, true},
	}
	for _, tc := range tests {
		var r compiler.Range
		err := rangeFlag{&r}.Set(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("Set(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && r != tc.want {
			t.Errorf("Set(%q) = %+v, want %+v", tc.in, r, tc.want)
		}
	}
	if got := (rangeFlag{&compiler.Range{Min: 1, Max: 4}}).String(); got != "1-4" {
		t.Errorf("String = %q, want 1-4", got)
	}
}

func TestCheckGenerated(t *testing.T) {
	for seed := range uint64(10) {
		cfg := compiler.DefaultGenConfig()
		cfg.Seed = seed
		var diag bytes.Buffer
		if err := checkGenerated(compiler.GenerateSource(cfg), &diag); err != nil {
			t.Errorf("seed %d: %v\n%s", seed, err, diag.String())
		}
	}
}

func TestLoadAndExecute(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.tin")
	writeFile(t, src, "fun main(): int {\n    return 2 + 3 * 4;\n}\n")

	l, err := loadProgram(context.Background(), []string{src}, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if l.manifest != nil {
		t.Error("manifest loaded for explicit files")
	}
	code, err := execute(l.prog, vm.Config{}, os.Stderr)
	if err != nil || code != 14 {
		t.Errorf("execute = %d, %v, want 14", code, err)
	}

	// The same program through an image.
	img := filepath.Join(dir, "main"+imageExt)
	if err := vm.WriteImageFile(img, l.prog, vm.ImageOptions{}); err != nil {
		t.Fatal(err)
	}
	l, err = loadProgram(context.Background(), []string{img}, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram(image): %v", err)
	}
	if code, err := execute(l.prog, vm.Config{}, os.Stderr); err != nil || code != 14 {
		t.Errorf("execute(image) = %d, %v, want 14", code, err)
	}
}

func TestLoadReportsDiagnostics(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.tin")
	writeFile(t, src, "fun main() {\n x = 1;\n}\n")

	var diag bytes.Buffer
	_, err := loadProgram(context.Background(), []string{src}, &diag)
	if !errors.Is(err, compiler.ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	if !strings.Contains(diag.String(), "bad.tin:2:2: undefined: x") {
		t.Errorf("diagnostics = %q", diag.String())
	}
}

func TestExecuteFaultDumpsState(t *testing.T) {
	src := filepath.Join(t.TempDir(), "crash.tin")
	writeFile(t, src, "fun main(): int {\n    p: int* = malloc(4);\n    p[4] = 77;\n    return 0;\n}\n")

	l, err := loadProgram(context.Background(), []string{src}, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	var diag bytes.Buffer
	_, err = execute(l.prog, vm.Config{}, &diag)
	if !vm.IsFault(err, vm.FaultAccessViolation) {
		t.Fatalf("err = %v, want an access violation", err)
	}
	if !strings.Contains(diag.String(), "sp") || !strings.Contains(diag.String(), "piece = main") {
		t.Errorf("fault dump = %q", diag.String())
	}
}

func TestExecuteStepping(t *testing.T) {
	src := filepath.Join(t.TempDir(), "step.tin")
	writeFile(t, src, "fun main(): int {\n    return 5;\n}\n")

	l, err := loadProgram(context.Background(), []string{src}, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	var session bytes.Buffer
	stepper := vm.NewStepper(strings.NewReader("\nl\nc\n"), &session)
	code, err := execute(l.prog, vm.Config{Step: stepper.Step}, os.Stderr)
	if err != nil || code != 5 {
		t.Errorf("execute = %d, %v, want 5", code, err)
	}
	if !strings.Contains(session.String(), "piece = main") || !strings.Contains(session.String(), "return 5;") {
		t.Errorf("session = %q", session.String())
	}
}

func TestExecuteWithoutMain(t *testing.T) {
	src := filepath.Join(t.TempDir(), "lib.tin")
	writeFile(t, src, "fun helper(): int { return 1; }\n")

	l, err := loadProgram(context.Background(), []string{src}, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	var diag bytes.Buffer
	code, err := execute(l.prog, vm.Config{}, &diag)
	if err != nil || code != 0 {
		t.Errorf("execute = %d, %v, want 0, nil", code, err)
	}
	if !strings.Contains(diag.String(), vm.ErrNoMain.Error()) {
		t.Errorf("diagnostics = %q", diag.String())
	}
}

func TestRunOptionsOverrideManifest(t *testing.T) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts.register(fs)
	if err := fs.Parse([]string{"-max-steps", "10", "-trace"}); err != nil {
		t.Fatal(err)
	}

	base := vm.Config{StackSize: 4096, MaxSteps: 99, NoFiles: true}
	cfg := opts.config(fs, base)
	if cfg.MaxSteps != 10 || !cfg.Trace {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.StackSize != 4096 || !cfg.NoFiles {
		t.Errorf("unset flags overrode the manifest: %+v", cfg)
	}
}

func TestLoadProjectFromManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tin.toml"), "[project]\nname = \"demo\"\n")
	writeFile(t, filepath.Join(dir, "src", "main.tin"), "fun main(): int { return 3; }\n")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	l, err := loadProgram(context.Background(), nil, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if l.manifest == nil || l.manifest.Project.Name != "demo" {
		t.Fatalf("manifest = %+v", l.manifest)
	}
	if code, err := execute(l.prog, l.manifest.VMConfig(), os.Stderr); err != nil || code != 3 {
		t.Errorf("execute = %d, %v, want 3", code, err)
	}
}

func TestExamplesProject(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(filepath.Join("..", "..", "examples")); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	l, err := loadProgram(context.Background(), nil, os.Stderr)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	var out bytes.Buffer
	cfg := l.manifest.VMConfig()
	cfg.Output = &out
	code, err := execute(l.prog, cfg, os.Stderr)
	if err != nil || code != 0 {
		t.Fatalf("execute = %d, %v", code, err)
	}
	if want := "55\n10.000000\ntin\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
