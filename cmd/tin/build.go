package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/tin/compiler"
	"github.com/chazu/tin/manifest"
	"github.com/chazu/tin/vm"
)

// imageExt marks a compiled image on the command line.
const imageExt = ".tinc"

// errNoSources means neither files nor a tin.toml were found.
var errNoSources = errors.New("no source files given and no " + manifest.FileName + " found")

// loaded is a program ready to run, with the project it came from (nil
// when files were named on the command line).
type loaded struct {
	prog     *vm.Program
	manifest *manifest.Manifest
}

// loadProgram builds the named sources, reads the named image, or builds
// the project found from the working directory. Diagnostics go to diag.
func loadProgram(ctx context.Context, args []string, diag io.Writer) (*loaded, error) {
	if len(args) == 1 && filepath.Ext(args[0]) == imageExt {
		prog, err := vm.ReadImageFile(args[0])
		if err != nil {
			return nil, err
		}
		return &loaded{prog: prog}, nil
	}

	var (
		m     *manifest.Manifest
		files = args
		opts  compiler.Options
	)
	if len(files) == 0 {
		var err error
		m, err = manifest.FindAndLoad(".")
		if err != nil {
			return nil, fmt.Errorf("loading manifest: %w", err)
		}
		if m == nil {
			return nil, errNoSources
		}
		if files, err = m.AllSourceFiles(); err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%s: no .tin files in %v", m.Project.Name, m.Source.Dirs)
		}
		opts = m.BuildOptions()
	}

	out, err := compiler.BuildFiles(ctx, files, opts)
	if out != nil {
		for _, d := range out.Diagnostics {
			fmt.Fprintln(diag, d)
		}
	}
	if err != nil {
		return nil, err
	}
	return &loaded{prog: out.Program, manifest: m}, nil
}

// handleBuildCommand processes the `tin build` subcommand.
// Usage:
//
//	tin build                  # project build, output from tin.toml
//	tin build -o app.tinc a.tin b.tin
func handleBuildCommand(args []string) int {
	var v verbosity
	fs := newFlagSet("build", &v)
	output := fs.String("o", "", "Output image path")
	strip := fs.Bool("strip", false, "Drop source line tables from the image")
	fs.Parse(args)
	configureLogging(v)

	l, err := loadProgram(context.Background(), fs.Args(), os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	path := *output
	switch {
	case path != "":
	case l.manifest != nil:
		path = l.manifest.OutputPath()
	default:
		base := filepath.Base(fs.Arg(0))
		path = base[:len(base)-len(filepath.Ext(base))] + imageExt
	}

	if err := vm.WriteImageFile(path, l.prog, vm.ImageOptions{StripLines: *strip}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if v > 0 {
		fmt.Printf("Wrote %s (%d pieces, %d bytes of data)\n", path, len(l.prog.Pieces()), len(l.prog.Data()))
	}
	return 0
}

// handleDisasmCommand processes the `tin disasm` subcommand.
func handleDisasmCommand(args []string) int {
	var v verbosity
	fs := newFlagSet("disasm", &v)
	fs.Parse(args)
	configureLogging(v)

	l, err := loadProgram(context.Background(), fs.Args(), os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(l.prog.Disassemble())
	return 0
}
