// Package diagnostics formats script errors and heap reports and prints
// them in a consistent way.
package diagnostics

import (
	"errors"
	"fmt"
	"go/token"
	"io"
	"path/filepath"
	"sort"
)

// A single diagnostic.
type Diagnostic struct {
	Pos token.Position
	Msg string
}

// One or multiple errors of a particular script.
type ScriptDiagnostic struct {
	Script      string // path of the script, empty for interactive input
	Diagnostics []Diagnostic
}

// Diagnostics of a whole run. This can include errors belonging to multiple
// scripts.
type RunDiagnostic []ScriptDiagnostic

// positioned is implemented by errors that point into a script.
type positioned interface {
	Position() token.Position
	Message() string
}

// scriptErrors is implemented by errors that collect the errors of one
// script.
type scriptErrors interface {
	Script() string
	Unwrap() []error
}

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics that's sorted and can be readily printed.
func CreateDiagnostics(err error) RunDiagnostic {
	if err == nil {
		return nil
	}
	var diag RunDiagnostic
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		if _, ok := err.(scriptErrors); !ok {
			// Joined errors of several scripts.
			for _, err := range multi.Unwrap() {
				diag = append(diag, CreateDiagnostics(err)...)
			}
			return diag
		}
	}
	return RunDiagnostic{createScriptDiagnostic(err)}
}

// Create diagnostics for a single script.
func createScriptDiagnostic(err error) ScriptDiagnostic {
	var scriptDiag ScriptDiagnostic
	if errs, ok := err.(scriptErrors); ok {
		scriptDiag.Script = errs.Script()
		for _, err := range errs.Unwrap() {
			scriptDiag.Diagnostics = append(scriptDiag.Diagnostics, createDiagnostics(err)...)
		}
	} else {
		scriptDiag.Diagnostics = createDiagnostics(err)
	}

	// Sort these diagnostics by file/line/column.
	sort.SliceStable(scriptDiag.Diagnostics, func(i, j int) bool {
		posI := scriptDiag.Diagnostics[i].Pos
		posJ := scriptDiag.Diagnostics[j].Pos
		if posI.Filename != posJ.Filename {
			return posI.Filename < posJ.Filename
		}
		if posI.Line != posJ.Line {
			return posI.Line < posJ.Line
		}
		return posI.Column < posJ.Column
	})

	return scriptDiag
}

// Extract diagnostics from the given error message and return them as a
// slice (which in many cases will just be a single diagnostic).
func createDiagnostics(err error) []Diagnostic {
	var p positioned
	if errors.As(err, &p) {
		return []Diagnostic{{Pos: p.Position(), Msg: p.Message()}}
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var diags []Diagnostic
		for _, err := range multi.Unwrap() {
			diags = append(diags, createDiagnostics(err)...)
		}
		return diags
	}
	return []Diagnostic{{Msg: err.Error()}}
}

// Write run diagnostics to the given writer with 'wd' as the relative
// working directory.
func (runDiag RunDiagnostic) WriteTo(w io.Writer, wd string) {
	for _, scriptDiag := range runDiag {
		scriptDiag.WriteTo(w, wd)
	}
}

// Write script diagnostics to the given writer with 'wd' as the relative
// working directory.
func (scriptDiag ScriptDiagnostic) WriteTo(w io.Writer, wd string) {
	if scriptDiag.Script != "" && len(scriptDiag.Diagnostics) > 1 {
		fmt.Fprintln(w, "#", RelativePath(scriptDiag.Script, wd))
	}
	for _, diag := range scriptDiag.Diagnostics {
		diag.WriteTo(w, wd)
	}
}

// Write this diagnostic to the given writer with 'wd' as the relative
// working directory.
func (diag Diagnostic) WriteTo(w io.Writer, wd string) {
	if diag.Pos == (token.Position{}) {
		fmt.Fprintln(w, diag.Msg)
		return
	}
	pos := RelativePosition(diag.Pos, wd)
	fmt.Fprintf(w, "%s: %s\n", pos, diag.Msg)
}

// Convert the position in pos (assumed to have an absolute path) into a
// relative path if possible.
func RelativePosition(pos token.Position, wd string) token.Position {
	pos.Filename = RelativePath(pos.Filename, wd)
	return pos
}

// RelativePath makes an absolute path relative to wd, for easier reading.
// Any error in the process leaves the path as is.
func RelativePath(path, wd string) string {
	if wd == "" || !filepath.IsAbs(path) {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil {
		return rel
	}
	return path
}
