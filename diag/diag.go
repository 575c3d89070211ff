// Package diag collects structured, scoped diagnostics without halting the
// pipeline that produces them.
//
// A root [Context] is created once per top-level operation and threaded
// through every call. Work that may run concurrently receives its own child
// scope, created before the work starts, so that [Context.All] returns
// diagnostics in scope-creation order regardless of completion order.
package diag

import (
	"fmt"
	"strings"
	"sync"
)

// Severity classifies a diagnostic.
type Severity int

const (
	// Error is the default severity for bare messages.
	Error Severity = iota
	// Warning marks a deviation the pipeline recovered from with a default.
	Warning
	// Critical marks a problem that prevents normal use of the publication,
	// such as a missing package document.
	Critical
	// Info records a notable but harmless observation.
	Info
)

var severityNames = [...]string{
	Error:    "error",
	Warning:  "warning",
	Critical: "critical",
	Info:     "info",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a severity name (case-insensitive).
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Severity(i), nil
		}
	}
	return Error, fmt.Errorf("diag: unknown severity %q", name)
}

// Diagnostic is a single finding. Scope is filled in when the tree is
// flattened by All and lists scope names from the root to the emitting scope.
type Diagnostic struct {
	Message  string
	Data     any
	Severity Severity
	Scope    []string
}

func (d Diagnostic) String() string {
	if len(d.Scope) == 0 {
		return fmt.Sprintf("[%s] %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, strings.Join(d.Scope, "/"), d.Message)
}

// Context is one node of the scope tree. The zero value is not usable; call New.
//
// A Context is safe for concurrent use, although callers running work in
// parallel should still hand each branch its own child scope so that the
// flattened order does not depend on scheduling.
type Context struct {
	name string

	mu    sync.Mutex
	items []item
}

// item is either a locally pushed diagnostic or a child scope, kept in
// creation order.
type item struct {
	diag  Diagnostic
	child *Context
}

// New creates a root scope.
func New(name string) *Context {
	return &Context{name: name}
}

// Name returns the scope's own name.
func (c *Context) Name() string {
	return c.name
}

// Scope creates a child scope nested under c. Child order in All is the
// order of Scope calls.
func (c *Context) Scope(name string) *Context {
	child := &Context{name: name}
	c.mu.Lock()
	c.items = append(c.items, item{child: child})
	c.mu.Unlock()
	return child
}

// Push appends d to this scope. A caller-provided Scope is ignored; the
// path is derived from the tree position when flattened.
func (c *Context) Push(d Diagnostic) {
	d.Scope = nil
	c.mu.Lock()
	c.items = append(c.items, item{diag: d})
	c.mu.Unlock()
}

// Error pushes msg with Error severity.
func (c *Context) Error(msg string) { c.push(Error, msg, nil) }

// Warn pushes msg with Warning severity.
func (c *Context) Warn(msg string) { c.push(Warning, msg, nil) }

// Info pushes msg with Info severity.
func (c *Context) Info(msg string) { c.push(Info, msg, nil) }

// Critical pushes msg with Critical severity.
func (c *Context) Critical(msg string) { c.push(Critical, msg, nil) }

// Errorf pushes a formatted message with Error severity.
func (c *Context) Errorf(format string, args ...any) {
	c.push(Error, fmt.Sprintf(format, args...), nil)
}

// Warnf pushes a formatted message with Warning severity.
func (c *Context) Warnf(format string, args ...any) {
	c.push(Warning, fmt.Sprintf(format, args...), nil)
}

// Infof pushes a formatted message with Info severity.
func (c *Context) Infof(format string, args ...any) {
	c.push(Info, fmt.Sprintf(format, args...), nil)
}

// With pushes msg at the given severity carrying arbitrary data.
func (c *Context) With(sev Severity, msg string, data any) {
	c.push(sev, msg, data)
}

func (c *Context) push(sev Severity, msg string, data any) {
	c.Push(Diagnostic{Message: msg, Data: data, Severity: sev})
}

// All flattens the tree rooted at c in creation order: a child scope's
// diagnostics appear where the child was created, relative to the parent's
// own pushes.
func (c *Context) All() []Diagnostic {
	var out []Diagnostic
	c.flatten(nil, &out)
	return out
}

func (c *Context) flatten(parent []string, out *[]Diagnostic) {
	path := make([]string, len(parent), len(parent)+1)
	copy(path, parent)
	path = append(path, c.name)

	c.mu.Lock()
	items := append([]item(nil), c.items...)
	c.mu.Unlock()

	for _, it := range items {
		if it.child != nil {
			it.child.flatten(path, out)
			continue
		}
		d := it.diag
		d.Scope = path
		*out = append(*out, d)
	}
}

// Count returns how many diagnostics in ds have severity sev.
func Count(ds []Diagnostic, sev Severity) int {
	n := 0
	for _, d := range ds {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// HasErrors reports whether ds contains an Error or Critical diagnostic.
func HasErrors(ds []Diagnostic) bool {
	return Count(ds, Error) > 0 || Count(ds, Critical) > 0
}
