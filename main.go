package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"go/token"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-tty"

	"github.com/tinygo-org/slabgc/builtins"
	"github.com/tinygo-org/slabgc/diagnostics"
	"github.com/tinygo-org/slabgc/heap"
	"github.com/tinygo-org/slabgc/heapopts"
	"github.com/tinygo-org/slabgc/scope"
	"github.com/tinygo-org/slabgc/script"
)

func usage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "slabgc runs heap scripts against an incremental slab collector.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  slabgc [flags] [script...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Without scripts, commands are read from standard input, interactively")
	fmt.Fprintln(w, "when it is a terminal.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	flags.SetOutput(w)
	flags.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	script.Help(w)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, colorable.NewColorableStdout(), colorable.NewColorableStderr()))
}

// run is the whole command. It returns the exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("slabgc", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	configPath := flags.String("config", "", "YAML file with heap options")
	trace := flags.Bool("trace", false, "print collector state transitions to stderr")
	reportPath := flags.String("report", "", "append a heap report to `file` when done")
	colorMode := flags.String("color", "auto", "colour diagnostics: auto, always or never")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout, flags)
			return 0
		}
		fmt.Fprintln(stderr, err)
		usage(stderr, flags)
		return 2
	}

	var color bool
	switch *colorMode {
	case "auto":
		color = isTerminal(stderr)
	case "always":
		color = true
	case "never":
	default:
		fmt.Fprintf(stderr, "invalid -color value %q: must be auto, always or never\n", *colorMode)
		return 2
	}

	opts, err := heapopts.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if *trace {
		opts.Trace = true
	}
	h, err := heap.New(opts)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer h.Close()
	h.SetOutput(stdout)
	if opts.Trace {
		h.SetTrace(stderr)
	}

	env := scope.New(h)
	defer env.Close()
	if err := builtins.Register(env, builtins.NewLibrary(stdin, stdout)); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	runner := script.New(env, stdout)

	var runErr error
	switch {
	case flags.NArg() != 0:
		var errs []error
		for _, path := range flags.Args() {
			if err := runFile(runner, path); err != nil {
				errs = append(errs, err)
			}
		}
		runErr = errors.Join(errs...)
	case isTerminal(stdin):
		runErr = repl(runner, stdout, stderr, color)
	default:
		runErr = runner.Run("", stdin)
	}

	if *reportPath != "" {
		if err := writeReport(*reportPath, h); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
	}
	if runErr != nil {
		printDiagnostics(stderr, runErr, color)
		return 1
	}
	return 0
}

func runFile(runner *script.Runner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return runner.Run(path, f)
}

// repl reads commands from the terminal until end of input or "quit".
func repl(runner *script.Runner, stdout, stderr io.Writer, color bool) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("could not open terminal: %w", err)
	}
	defer t.Close()

	fmt.Fprintln(stdout, `slabgc: type "help" for a list of commands, "quit" to leave`)
	for line := 1; ; line++ {
		fmt.Fprint(stdout, "> ")
		text, err := t.ReadString()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(stdout)
			return nil
		} else if err != nil {
			return err
		}
		switch strings.TrimSpace(text) {
		case "quit", "exit":
			return nil
		case "help":
			script.Help(stdout)
			continue
		}
		if err := runner.Exec(token.Position{Line: line}, text); err != nil {
			printDiagnostics(stderr, err, color)
		}
	}
}

// writeReport appends a heap report to path. The file may be shared by
// several runs, so it is locked while writing.
func writeReport(path string, h *heap.Heap) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("could not lock report file: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "# slabgc report %s\n", time.Now().Format(time.RFC3339))
	diagnostics.MemReport(f, h)
	last := h.Collector().LastCycle()
	if _, err := last.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printDiagnostics writes err as diagnostics, with paths relative to the
// working directory and in red when color is set.
func printDiagnostics(w io.Writer, err error, color bool) {
	wd, getwdErr := os.Getwd()
	if getwdErr != nil {
		wd = ""
	}
	var buf bytes.Buffer
	diagnostics.CreateDiagnostics(err).WriteTo(&buf, wd)
	if !color {
		w.Write(buf.Bytes())
		return
	}
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(w, "\x1b[31m%s\x1b[0m\n", strings.TrimSuffix(line, "\n"))
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
