package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/chazu/tin/vm"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

// ErrBuildFailed is returned when a build reports diagnostics.
var ErrBuildFailed = errors.New("build failed")

// Source is one input file.
type Source struct {
	Name string
	Text string
}

// Options controls Build.
type Options struct {
	// Workers bounds the number of functions generated at once. Zero
	// means runtime.GOMAXPROCS(0).
	Workers int
}

// Output is everything a build produced. Program is linked only when
// Diagnostics is empty.
type Output struct {
	Program     *vm.Program
	Unit        *Unit
	Files       []*File
	Diagnostics []Diagnostic
}

// Build parses, checks and generates sources into one program, then links
// it. Function bodies are generated concurrently. On diagnostics the
// returned error wraps ErrBuildFailed and the Output still carries them.
func Build(ctx context.Context, sources []Source, opts Options) (*Output, error) {
	log := commonlog.GetLogger("tin.compiler")
	rep := &Reporter{}
	out := &Output{}

	out.Files = make([]*File, len(sources))
	parse, pctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		parse.Go(func() error {
			if err := pctx.Err(); err != nil {
				return err
			}
			f, diags := ParseFile(src.Name, src.Text)
			for _, d := range diags {
				rep.Report(d)
			}
			out.Files[i] = f
			return nil
		})
	}
	if err := parse.Wait(); err != nil {
		return nil, err
	}
	if n := rep.Count(); n > 0 {
		out.Diagnostics = rep.Diagnostics()
		return out, fmt.Errorf("%w: %d syntax errors", ErrBuildFailed, n)
	}

	prog := vm.NewProgram()
	out.Program = prog
	out.Unit = Check(out.Files, prog, rep)

	// Pieces are created in declaration order so indices, and with them
	// call immediates, are the same on every build.
	pieces := make([]*vm.Piece, len(out.Unit.FuncOrder))
	for i, fn := range out.Unit.FuncOrder {
		pieces[i] = prog.NewPiece(fn.Name)
		fn.Ref.Bind(pieces[i].Index)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	gen, gctx := errgroup.WithContext(ctx)
	gen.SetLimit(workers)
	for i, fn := range out.Unit.FuncOrder {
		if gctx.Err() != nil {
			break
		}
		gen.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			newGenerator(out.Unit, prog, rep, fn, pieces[i]).generate()
			return nil
		})
	}
	if err := gen.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n := rep.Count(); n > 0 {
		out.Diagnostics = rep.Diagnostics()
		log.Infof("build: %d functions, %d errors", len(pieces), n)
		return out, fmt.Errorf("%w: %d errors", ErrBuildFailed, n)
	}
	if err := prog.Link(); err != nil {
		return out, err
	}
	log.Infof("build: %d functions, %d bytes of data", len(pieces), len(prog.Data()))
	return out, nil
}

// BuildFiles reads the named files and builds them.
func BuildFiles(ctx context.Context, paths []string, opts Options) (*Output, error) {
	sources := make([]Source, 0, len(paths))
	for _, path := range paths {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		sources = append(sources, Source{Name: filepath.Clean(path), Text: string(text)})
	}
	return Build(ctx, sources, opts)
}
