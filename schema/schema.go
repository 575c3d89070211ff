// Package schema validates loosely-typed trees against declarative shapes.
//
// A schema is built from a small closed set of node kinds (string, number,
// any, array, object, optional, oneOf, literal, custom). [Validate] walks a
// value and its schema together and returns every violation it finds; it
// never stops at the first one, never mutates the value, and never panics.
//
// Values are the shapes produced by decoding JSON into an interface{} or by
// markup's Node.Loose: map[string]any, []any, string, numbers, bool and nil.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a schema node variant.
type Kind int

// Schema kinds, one per constructor in this package. KindRecursive marks
// a reference built by Recursive.
const (
	KindString Kind = iota
	KindNumber
	KindAny
	KindArray
	KindObject
	KindOptional
	KindOneOf
	KindLiteral
	KindCustom
	KindRecursive
)

// Schema is a node in a schema tree. The set of implementations is closed;
// construct schemas with the functions in this package.
type Schema interface {
	Kind() Kind
	describe() string
}

type stringSchema struct{}

func (stringSchema) Kind() Kind        { return KindString }
func (stringSchema) describe() string { return "string" }

// String matches any string value.
func String() Schema { return stringSchema{} }

type numberSchema struct {
	min, max *float64
}

func (numberSchema) Kind() Kind { return KindNumber }

func (n numberSchema) describe() string {
	if n.min == nil && n.max == nil {
		return "number"
	}
	return "number" + bounds(n.min, n.max)
}

// Number matches a numeric value within the optional inclusive bounds.
func Number(min, max *float64) Schema { return numberSchema{min: min, max: max} }

// Bound is a convenience for building Number bounds.
func Bound(v float64) *float64 { return &v }

type anySchema struct{}

func (anySchema) Kind() Kind        { return KindAny }
func (anySchema) describe() string { return "any" }

// Any matches every value, including nil.
func Any() Schema { return anySchema{} }

type arraySchema struct {
	item     Schema
	min, max int // -1 when unbounded
}

func (arraySchema) Kind() Kind { return KindArray }

func (a arraySchema) describe() string {
	s := "array<" + a.item.describe() + ">"
	if a.min < 0 && a.max < 0 {
		return s
	}
	var lo, hi *float64
	if a.min >= 0 {
		lo = Bound(float64(a.min))
	}
	if a.max >= 0 {
		hi = Bound(float64(a.max))
	}
	return s + bounds(lo, hi)
}

// Array matches a []any whose length lies in [minLen, maxLen] and whose
// elements all match item. A negative bound means unbounded.
func Array(item Schema, minLen, maxLen int) Schema {
	if minLen < 0 {
		minLen = -1
	}
	if maxLen < 0 {
		maxLen = -1
	}
	return arraySchema{item: item, min: minLen, max: maxLen}
}

// FieldSpec declares one key of an object schema.
type FieldSpec struct {
	Name     string
	Schema   Schema
	Optional bool
}

// Field declares a required key.
func Field(name string, s Schema) FieldSpec { return FieldSpec{Name: name, Schema: s} }

// OptionalField declares a key that may be absent.
func OptionalField(name string, s Schema) FieldSpec {
	return FieldSpec{Name: name, Schema: s, Optional: true}
}

// ObjectSchema matches a map[string]any. Keys that are not declared are
// violations unless the extra-key predicate accepts them.
type ObjectSchema struct {
	fields []FieldSpec
	extra  func(key string) bool
}

func (*ObjectSchema) Kind() Kind { return KindObject }

func (o *ObjectSchema) describe() string {
	names := make([]string, 0, len(o.fields))
	for _, f := range o.fields {
		n := f.Name
		if f.Optional || isOptional(f.Schema) {
			n += "?"
		}
		names = append(names, n)
	}
	return "object{" + strings.Join(names, ", ") + "}"
}

// Extra returns a copy of o that accepts undeclared keys for which pred
// returns true.
func (o *ObjectSchema) Extra(pred func(key string) bool) *ObjectSchema {
	cp := *o
	cp.extra = pred
	return &cp
}

// Object builds an object schema from its declared fields.
func Object(fields ...FieldSpec) *ObjectSchema {
	return &ObjectSchema{fields: append([]FieldSpec(nil), fields...)}
}

type optionalSchema struct {
	inner Schema
}

func (optionalSchema) Kind() Kind { return KindOptional }

func (o optionalSchema) describe() string { return "optional<" + o.inner.describe() + ">" }

// Optional matches nil or a value matching s. Used as an object field schema
// it also marks the key as optional.
func Optional(s Schema) Schema { return optionalSchema{inner: s} }

type oneOfSchema struct {
	alts []Schema
}

func (oneOfSchema) Kind() Kind { return KindOneOf }

func (o oneOfSchema) describe() string {
	parts := make([]string, len(o.alts))
	for i, a := range o.alts {
		parts[i] = a.describe()
	}
	return "oneOf(" + strings.Join(parts, " | ") + ")"
}

// OneOf matches when any alternative matches.
func OneOf(alts ...Schema) Schema { return oneOfSchema{alts: append([]Schema(nil), alts...)} }

type literalSchema struct {
	values []string
}

func (literalSchema) Kind() Kind { return KindLiteral }

func (l literalSchema) describe() string {
	parts := make([]string, len(l.values))
	for i, v := range l.values {
		parts[i] = strconv.Quote(v)
	}
	return strings.Join(parts, " | ")
}

// Literal matches a string equal to one of values.
func Literal(values ...string) Schema {
	return literalSchema{values: append([]string(nil), values...)}
}

type customSchema struct {
	name string
	pred func(v any) []string
}

func (customSchema) Kind() Kind { return KindCustom }

func (c customSchema) describe() string { return c.name }

// Custom wraps a predicate for rules the other kinds cannot express, such as
// cross-field constraints. pred returns the violations it finds.
func Custom(name string, pred func(v any) []string) Schema {
	return customSchema{name: name, pred: pred}
}

type recursiveSchema struct {
	name   string
	target Schema
}

func (*recursiveSchema) Kind() Kind { return KindRecursive }

func (r *recursiveSchema) describe() string { return r.name }

// Recursive builds a self-referencing schema for tree-shaped documents.
// build receives a reference to the schema being defined and returns its
// body; the reference is described by name to keep descriptions finite.
func Recursive(name string, build func(self Schema) Schema) Schema {
	r := &recursiveSchema{name: name}
	r.target = build(r)
	return r
}

// Describe renders a human-readable expectation for s.
func Describe(s Schema) string {
	if s == nil {
		return "<nil schema>"
	}
	return s.describe()
}

// AnyKey accepts every undeclared key.
func AnyKey(string) bool { return true }

// KeyPrefix returns an extra-key predicate accepting keys that start with p.
func KeyPrefix(p string) func(string) bool {
	return func(key string) bool { return strings.HasPrefix(key, p) }
}

func isOptional(s Schema) bool {
	_, ok := s.(optionalSchema)
	return ok
}

func bounds(lo, hi *float64) string {
	f := func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'g', -1, 64)
	}
	return fmt.Sprintf("[%s..%s]", f(lo), f(hi))
}
