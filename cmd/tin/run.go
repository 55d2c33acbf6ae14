package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/tin/vm"
)

// runOptions are the `tin run` flags. Flags given explicitly override the
// [vm] table of tin.toml.
type runOptions struct {
	trace     bool
	step      bool
	profile   bool
	maxSteps  uint64
	stackSize int
	heapLimit int
	noFiles   bool
}

func (o *runOptions) register(fs *flag.FlagSet) {
	fs.BoolVar(&o.trace, "trace", false, "Trace every executed instruction to stderr")
	fs.BoolVar(&o.step, "step", false, "Stop before every instruction and read commands from stdin")
	fs.BoolVar(&o.profile, "profile", false, "Print an opcode and call profile after the run")
	fs.Uint64Var(&o.maxSteps, "max-steps", 0, "Stop after this many instructions (0 = no limit)")
	fs.IntVar(&o.stackSize, "stack", 0, "Stack size in bytes (0 = default)")
	fs.IntVar(&o.heapLimit, "heap-limit", 0, "Heap limit in bytes (0 = default)")
	fs.BoolVar(&o.noFiles, "no-files", false, "Make read_file and write_file fail")
}

// config merges base with the flags that were set on fs.
func (o *runOptions) config(fs *flag.FlagSet, base vm.Config) vm.Config {
	cfg := base
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "trace":
			cfg.Trace = o.trace
		case "profile", "step":
			// handled by the caller
		case "max-steps":
			cfg.MaxSteps = o.maxSteps
		case "stack":
			cfg.StackSize = o.stackSize
		case "heap-limit":
			cfg.HeapLimit = o.heapLimit
		case "no-files":
			cfg.NoFiles = o.noFiles
		}
	})
	return cfg
}

// handleRunCommand processes the `tin run` subcommand. The exit status is
// the low byte of main's return value.
func handleRunCommand(args []string) int {
	var v verbosity
	var opts runOptions
	fs := newFlagSet("run", &v)
	opts.register(fs)
	fs.Parse(args)
	configureLogging(v)

	l, err := loadProgram(context.Background(), fs.Args(), os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var base vm.Config
	profile := opts.profile
	if l.manifest != nil {
		base = l.manifest.VMConfig()
		profile = profile || l.manifest.VM.Profile
	}
	cfg := opts.config(fs, base)
	cfg.TraceOutput = os.Stderr
	if opts.step {
		cfg.Step = vm.NewStepper(os.Stdin, os.Stderr).Step
	}
	if profile {
		cfg.Profiler = vm.NewProfiler()
		log := commonlog.GetLogger("tin.cli")
		cfg.Profiler.OnHot = func(piece string, p *vm.PieceProfile) {
			log.Infof("profile: %s is hot after %d calls", piece, p.Calls)
		}
	}

	code, err := execute(l.prog, cfg, os.Stderr)
	if cfg.Profiler != nil {
		cfg.Profiler.WriteReport(os.Stderr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if v > 0 {
		fmt.Fprintf(os.Stderr, "exit %d\n", code)
	}
	return code
}

// execute runs prog and returns the exit status. On a fault the register
// file and the current frame are written to diag. A missing or empty main
// is reported to diag and is not an error.
func execute(prog *vm.Program, cfg vm.Config, diag io.Writer) (int, error) {
	m := vm.New(prog, cfg)
	res, err := m.Run()
	if errors.Is(err, vm.ErrNoMain) || errors.Is(err, vm.ErrEmptyMain) {
		fmt.Fprintln(diag, err)
		return 0, nil
	}
	if err != nil {
		var f *vm.Fault
		if errors.As(err, &f) {
			m.DumpRegisters(diag)
			m.DumpFrame(diag, 64, 64)
		}
		return 0, err
	}
	if res.SoftErrors > 0 {
		fmt.Fprintf(diag, "%d native calls failed\n", res.SoftErrors)
	}
	return int(uint8(res.A)), nil
}
