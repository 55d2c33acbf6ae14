package compiler

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Diagnostic is one error tied to a source location.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("ERROR %s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}

// Reporter collects diagnostics. It is safe for use by concurrent
// generators.
type Reporter struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// Report records a diagnostic.
func (r *Reporter) Report(d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()
}

// Errorf records an error at pos in file.
func (r *Reporter) Errorf(file string, pos Position, format string, args ...any) {
	r.Report(Diagnostic{File: file, Line: pos.Line, Column: pos.Column, Message: fmt.Sprintf(format, args...)})
}

// Count returns the number of errors reported so far.
func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diags)
}

// Diagnostics returns the diagnostics sorted by file and position.
func (r *Reporter) Diagnostics() []Diagnostic {
	r.mu.Lock()
	out := append([]Diagnostic(nil), r.diags...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return out
}

// WriteTo prints every diagnostic on its own line.
func (r *Reporter) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, d := range r.Diagnostics() {
		k, err := fmt.Fprintln(w, d)
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
