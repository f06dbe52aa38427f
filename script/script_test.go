package script

import (
	"bytes"
	"errors"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinygo-org/slabgc/builtins"
	"github.com/tinygo-org/slabgc/diagnostics"
	"github.com/tinygo-org/slabgc/heap"
	"github.com/tinygo-org/slabgc/heapopts"
	"github.com/tinygo-org/slabgc/scope"
)

// newRunner returns a runner over a fresh heap whose clock advances one
// millisecond per reading, so that collector steps are short and
// reproducible.
func newRunner(t *testing.T, modify func(*heapopts.Options)) (*Runner, *bytes.Buffer) {
	t.Helper()
	opts := heapopts.Default()
	opts.CheckInterval = 10
	opts.StepBudget = time.Millisecond
	opts.MinCycleInterval = 0
	opts.SlabCapacity = 100
	if modify != nil {
		modify(&opts)
	}
	h, err := heap.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	now := time.Unix(1700000000, 0)
	h.SetClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})
	var out bytes.Buffer
	h.SetOutput(&out)
	env := scope.New(h)
	if err := builtins.Register(env, builtins.NewLibrary(strings.NewReader(""), &out)); err != nil {
		t.Fatal(err)
	}
	return New(env, &out), &out
}

func runFile(t *testing.T, r *Runner, path string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := r.Run(path, f); err != nil {
		var buf bytes.Buffer
		diagnostics.CreateDiagnostics(err).WriteTo(&buf, "")
		t.Fatalf("script failed:\n%s", buf.String())
	}
}

func TestScripts(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.gcs"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no test scripts")
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".gcs")
		t.Run(name, func(t *testing.T) {
			r, out := newRunner(t, nil)
			runFile(t, r, path)

			expected, err := os.ReadFile(strings.TrimSuffix(path, ".gcs") + ".txt")
			if errors.Is(err, os.ErrNotExist) {
				return
			} else if err != nil {
				t.Fatal(err)
			}
			if out.String() != string(expected) {
				t.Errorf("output did not match (expected %d bytes, got %d bytes):\n%s", len(expected), out.Len(), out.String())
			}
		})
	}
}

func TestChurnCollectsIncrementally(t *testing.T) {
	r, _ := newRunner(t, nil)
	runFile(t, r, filepath.Join("testdata", "churn.gcs"))

	h := r.env.Heap()
	var stats heap.GCStats
	h.ReadGCStats(&stats)
	if stats.NumGC < 2 {
		t.Errorf("only %d cycles ran during churn", stats.NumGC)
	}
	var m heap.MemStats
	h.ReadMemStats(&m)
	if m.Frees != 10000 {
		t.Errorf("%d payloads freed, want the 10000 churned strings", m.Frees)
	}
}

func TestErrors(t *testing.T) {
	r, _ := newRunner(t, nil)
	src := strings.Join([]string{
		"let x int nope",
		"set y x",
		"expect-live 0",
		"bogus",
		`let s string "unterminated`,
	}, "\n")
	err := r.Run("/work/bad.gcs", strings.NewReader(src))
	var errs *Errors
	if !errors.As(err, &errs) {
		t.Fatalf("Run returned %v, want *Errors", err)
	}
	if len(errs.Errs) != 4 {
		t.Fatalf("Run returned %d errors, want 4: %v", len(errs.Errs), err)
	}
	if !errors.Is(errs.Errs[1], scope.ErrUndefined) || !errors.Is(errs.Errs[2], ErrUnknown) {
		t.Errorf("unexpected errors: %v", err)
	}

	var buf bytes.Buffer
	diagnostics.CreateDiagnostics(err).WriteTo(&buf, "/work")
	want := "# bad.gcs\n" +
		"bad.gcs:1: invalid int \"nope\"\n" +
		"bad.gcs:2: undefined variable: x\n" +
		"bad.gcs:4: unknown command \"bogus\"\n"
	if !strings.HasPrefix(buf.String(), want) {
		t.Errorf("diagnostics:\n%s\nwant prefix:\n%s", buf.String(), want)
	}
	if !strings.Contains(buf.String(), "bad.gcs:5: ") {
		t.Errorf("quoting error not reported:\n%s", buf.String())
	}
}

func TestTooManyErrors(t *testing.T) {
	r, _ := newRunner(t, nil)
	src := strings.Repeat("bogus\n", 20)
	err := r.Run("many.gcs", strings.NewReader(src))
	var errs *Errors
	if !errors.As(err, &errs) {
		t.Fatalf("Run returned %v", err)
	}
	if len(errs.Errs) != maxErrors+1 {
		t.Errorf("Run returned %d errors, want %d", len(errs.Errs), maxErrors+1)
	}
}

func TestExec(t *testing.T) {
	r, out := newRunner(t, nil)
	pos := token.Position{Line: 1}
	tests := []struct {
		line string
		err  error
	}{
		{"", nil},
		{"# comment only", nil},
		{"let c int 1 # trailing comment", nil},
		{"const c", nil},
		{"let d int 2", nil},
		{"set c d", scope.ErrConst},
		{"let", ErrUsage},
		{"let z nothing", ErrUsage},
		{"let z int 1 2", ErrUsage},
		{"expect c double", ErrExpectation},
		{"expect c int 2", ErrExpectation},
		{"expect c int 1", nil},
		{"let a array 2", nil},
		{"elem a 2 c", heap.ErrIndexOutOfRange},
		{"elem c 0 c", heap.ErrWrongKind},
		{"let e at a 0", nil},
		{"expect e undefined", nil},
		{"let ch char 0x41", nil},
		{"expect ch char A", nil},
		{"let er ref a 1", nil},
		{"set er d", nil},
		{"let e2 at a 1", nil},
		{"expect e2 int 2", nil},
		{"expect er reference", nil},
		{"throw e2", nil},
		{"pop", scope.ErrNoFrame},
		{"gc loud", ErrUsage},
		{"poll 3", nil},
		{"call nope", scope.ErrUndefined},
	}
	for _, tc := range tests {
		err := r.Exec(pos, tc.line)
		if tc.err == nil && err != nil {
			t.Errorf("Exec(%q) returned %v", tc.line, err)
		} else if tc.err != nil && !errors.Is(err, tc.err) {
			t.Errorf("Exec(%q) returned %v, want %v", tc.line, err, tc.err)
		}
	}

	out.Reset()
	if err := r.Exec(pos, "vars"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"c int const = 1\n", "e2 int thrown = 2\n", "er reference = 2\n", "gc builtin const = [function]\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("vars output does not contain %q:\n%s", want, out.String())
		}
	}
}

func TestGCCommand(t *testing.T) {
	r, out := newRunner(t, nil)
	for _, line := range []string{"let s string x", "drop s", "gc"} {
		if err := r.Exec(token.Position{}, line); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{
		"------ GARBAGE COLLECTOR ------\n",
		"   Objects before:     1\n",
		"   Objects collected:  1\n",
		"   Objects after:      0 ( 1 blocks )\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("gc output does not contain %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	r.Exec(token.Position{}, "stats")
	r.Exec(token.Position{}, "dump")
	if !strings.Contains(out.String(), "heap:   1 slabs of 100 slots, 0 live") || !strings.Contains(out.String(), "slab 0 (100 free):") {
		t.Errorf("stats and dump printed:\n%s", out.String())
	}
}

func TestHelp(t *testing.T) {
	var buf bytes.Buffer
	Help(&buf)
	if !strings.Contains(buf.String(), "  let          NAME KIND [ARG...]\n") {
		t.Errorf("Help printed:\n%s", buf.String())
	}
	Help(io.Discard)
}
