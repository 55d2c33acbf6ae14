// tin CLI - builds, runs and disassembles tin programs and serves the
// language server.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/tin/compiler"
	"github.com/chazu/tin/server"

	_ "github.com/tliron/commonlog/simple"
)

// verbosity is a repeatable -v flag: each occurrence raises the log level.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			*v++
		}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*v = verbosity(n)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tin <command> [options] [files...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  build    compile sources into a bytecode image\n")
	fmt.Fprintf(os.Stderr, "  run      compile (or load an image) and execute main\n")
	fmt.Fprintf(os.Stderr, "  disasm   print the linked program listing\n")
	fmt.Fprintf(os.Stderr, "  gen      write a random program for stress testing\n")
	fmt.Fprintf(os.Stderr, "  lsp      start the language server on stdio\n")
	fmt.Fprintf(os.Stderr, "\nWithout files, sources come from the nearest tin.toml.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  tin run hello.tin            # Build and run one file\n")
	fmt.Fprintf(os.Stderr, "  tin build -o app.tinc        # Build the project in the current directory\n")
	fmt.Fprintf(os.Stderr, "  tin run -profile app.tinc    # Run an image and print the opcode profile\n")
	fmt.Fprintf(os.Stderr, "  tin run -step hello.tin      # Single-step; type help at the prompt\n")
	fmt.Fprintf(os.Stderr, "  tin disasm hello.tin         # Show generated code\n")
	fmt.Fprintf(os.Stderr, "  tin gen -seed 7 -check       # Write, build and run a random program\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "build":
		code = handleBuildCommand(args)
	case "run":
		code = handleRunCommand(args)
	case "disasm":
		code = handleDisasmCommand(args)
	case "gen":
		code = handleGenCommand(args)
	case "lsp":
		code = handleLSPCommand(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		usage()
		code = 2
	}
	os.Exit(code)
}

// newFlagSet creates the flag set of a subcommand with the shared -v flag
// already registered.
func newFlagSet(name string, v *verbosity) *flag.FlagSet {
	fs := flag.NewFlagSet("tin "+name, flag.ExitOnError)
	fs.Var(v, "v", "Verbose output (repeat for more)")
	return fs
}

func configureLogging(v verbosity) {
	commonlog.Configure(int(v), nil)
}

func handleLSPCommand(args []string) int {
	var v verbosity
	fs := newFlagSet("lsp", &v)
	workers := fs.Int("workers", 0, "Functions generated at once (0 = GOMAXPROCS)")
	fs.Parse(args)
	configureLogging(v)

	if err := server.NewLSP(compiler.Options{Workers: *workers}).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
