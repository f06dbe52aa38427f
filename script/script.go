// Package script runs heap scripts: line oriented programs that build,
// mutate and drop values in an environment and check what the collector
// does with them. The slabgc command runs them, and they drive the
// end-to-end tests.
//
// Every line is one command followed by its arguments, split with shell
// quoting rules. A '#' starts a comment.
//
//	let greeting string "hello world"
//	let xs array 3
//	elem xs 0 greeting
//	drop greeting
//	gc
//	expect-live 2
package script

import (
	"bufio"
	"errors"
	"fmt"
	"go/token"
	"io"
	"strings"

	"github.com/google/shlex"

	"github.com/tinygo-org/slabgc/builtins"
	"github.com/tinygo-org/slabgc/heap"
	"github.com/tinygo-org/slabgc/scope"
)

var (
	ErrUsage       = errors.New("usage")
	ErrUnknown     = errors.New("unknown command")
	ErrExpectation = errors.New("expectation failed")
)

// maxErrors is the number of errors after which a script is abandoned.
const maxErrors = 10

// Error is a failed script line.
type Error struct {
	Pos token.Position
	Err error
}

func (e *Error) Error() string {
	return e.Pos.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Position returns the line the error occurred on.
func (e *Error) Position() token.Position { return e.Pos }

// Message returns the error without its position.
func (e *Error) Message() string { return e.Err.Error() }

// Errors are all the errors of one script run.
type Errors struct {
	Path string
	Errs []error
}

func (e *Errors) Error() string {
	return errors.Join(e.Errs...).Error()
}

// Script returns the path of the script.
func (e *Errors) Script() string { return e.Path }

func (e *Errors) Unwrap() []error { return e.Errs }

// Runner executes script lines against an environment.
type Runner struct {
	env *scope.Env
	out io.Writer

	// Number of garbage strings allocated by churn, for unique contents.
	churned int
}

// New returns a runner for env that prints to out.
func New(env *scope.Env, out io.Writer) *Runner {
	return &Runner{env: env, out: out}
}

// Run executes every line of src. Failing lines are reported and skipped;
// after maxErrors failures the rest of the script is abandoned. The
// returned error, if any, is an *Errors.
func (r *Runner) Run(path string, src io.Reader) error {
	var errs []error
	scanner := bufio.NewScanner(src)
	line := 0
	for scanner.Scan() {
		line++
		pos := token.Position{Filename: path, Line: line}
		if err := r.Exec(pos, scanner.Text()); err != nil {
			errs = append(errs, err)
			if len(errs) == maxErrors {
				errs = append(errs, &Error{Pos: pos, Err: errors.New("too many errors")})
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("reading %s: %w", path, err))
	}
	if len(errs) != 0 {
		return &Errors{Path: path, Errs: errs}
	}
	return nil
}

// Exec executes a single line. The returned error, if any, is an *Error.
func (r *Runner) Exec(pos token.Position, line string) error {
	fields, err := shlex.Split(line)
	if err != nil {
		return &Error{Pos: pos, Err: err}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.exec(fields[0], fields[1:]); err != nil {
		return &Error{Pos: pos, Err: err}
	}
	return nil
}

func (r *Runner) exec(name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknown, name)
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return fmt.Errorf("%w: %s %s", ErrUsage, name, cmd.usage)
	}
	return cmd.run(r, args)
}

// Help writes a summary of every command.
func Help(w io.Writer) {
	for _, name := range commandNames() {
		cmd := commands[name]
		fmt.Fprintf(w, "  %-12s %s\n", name, strings.TrimSpace(cmd.usage))
	}
}

// value returns the value of a variable, following references.
func (r *Runner) value(name string) (heap.Value, error) {
	return r.env.Get(name)
}

// call calls a builtin with the values of the named variables.
func (r *Runner) call(name string, argNames []string) (heap.Value, error) {
	args := make([]heap.Value, len(argNames))
	for i, n := range argNames {
		v, err := r.value(n)
		if err != nil {
			return heap.Value{}, err
		}
		args[i] = v
	}
	return builtins.Call(r.env, name, args)
}

// function is the Function of values created by "let NAME func".
type function struct {
	name string
}

func (f *function) Name() string { return f.name }
