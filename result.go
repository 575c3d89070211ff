package epub

import "github.com/simp-lee/epubmodel/diag"

// Result is the outcome of a top-level operation. OK reports whether Value
// is present; Diagnostics holds everything noticed along the way, whether
// or not a value was produced.
type Result[T any] struct {
	Value       T
	OK          bool
	Diagnostics []diag.Diagnostic
}

// HasErrors reports whether any diagnostic has Error or Critical severity.
func (r Result[T]) HasErrors() bool {
	return diag.HasErrors(r.Diagnostics)
}

// Count returns the number of diagnostics with severity sev.
func (r Result[T]) Count(sev diag.Severity) int {
	return diag.Count(r.Diagnostics, sev)
}

func newResult[T any](v T, ok bool, dc *diag.Context) Result[T] {
	return Result[T]{Value: v, OK: ok, Diagnostics: dc.All()}
}
