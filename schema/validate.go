package schema

import (
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"
)

// maxValueLen bounds how much of an offending value is quoted in a message.
const maxValueLen = 60

// Validate checks value against s and returns every violation found, in a
// deterministic order. A nil result means value conforms to s.
func Validate(value any, s Schema) []string {
	var out []string
	validate(value, s, "", &out)
	return out
}

// Conforms reports whether value matches s.
func Conforms(value any, s Schema) bool {
	return len(Validate(value, s)) == 0
}

func validate(v any, s Schema, path string, out *[]string) {
	switch s := s.(type) {
	case nil:
		report(out, path, "no schema")
	case anySchema:
	case stringSchema:
		if _, ok := v.(string); !ok {
			report(out, path, fmt.Sprintf("expected string, got: %s", formatValue(v)))
		}
	case numberSchema:
		validateNumber(v, s, path, out)
	case literalSchema:
		str, ok := v.(string)
		if ok {
			for _, want := range s.values {
				if str == want {
					return
				}
			}
		}
		report(out, path, fmt.Sprintf("expected %s, got: %s", s.describe(), formatValue(v)))
	case arraySchema:
		validateArray(v, s, path, out)
	case *ObjectSchema:
		validateObject(v, s, path, out)
	case optionalSchema:
		if v == nil {
			return
		}
		validate(v, s.inner, path, out)
	case oneOfSchema:
		for _, alt := range s.alts {
			var sub []string
			validate(v, alt, path, &sub)
			if len(sub) == 0 {
				return
			}
		}
		report(out, path, fmt.Sprintf("expected %s, got: %s", s.describe(), formatValue(v)))
	case *recursiveSchema:
		validate(v, s.target, path, out)
	case customSchema:
		for _, msg := range runCustom(s, v) {
			report(out, path, msg)
		}
	default:
		report(out, path, fmt.Sprintf("unsupported schema %T", s))
	}
}

func validateNumber(v any, s numberSchema, path string, out *[]string) {
	n, ok := toFloat(v)
	if !ok {
		report(out, path, fmt.Sprintf("expected number, got: %s", formatValue(v)))
		return
	}
	if s.min != nil && n < *s.min {
		report(out, path, fmt.Sprintf("expected %s, got: %s", s.describe(), formatValue(v)))
		return
	}
	if s.max != nil && n > *s.max {
		report(out, path, fmt.Sprintf("expected %s, got: %s", s.describe(), formatValue(v)))
	}
}

func validateArray(v any, s arraySchema, path string, out *[]string) {
	arr, ok := v.([]any)
	if !ok {
		report(out, path, fmt.Sprintf("expected array, got: %s", formatValue(v)))
		return
	}
	if s.min >= 0 && len(arr) < s.min {
		report(out, path, fmt.Sprintf("expected at least %d item(s), got: %d", s.min, len(arr)))
	}
	if s.max >= 0 && len(arr) > s.max {
		report(out, path, fmt.Sprintf("expected at most %d item(s), got: %d", s.max, len(arr)))
	}
	for i, el := range arr {
		validate(el, s.item, path+"["+strconv.Itoa(i)+"]", out)
	}
}

func validateObject(v any, s *ObjectSchema, path string, out *[]string) {
	obj, ok := v.(map[string]any)
	if !ok {
		report(out, path, fmt.Sprintf("expected object, got: %s", formatValue(v)))
		return
	}

	declared := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		declared[f.Name] = true
	}

	// Map iteration order is random; sort undeclared keys for stable output.
	var unknown []string
	for k := range obj {
		if declared[k] {
			continue
		}
		if s.extra != nil && s.extra(k) {
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		report(out, path, fmt.Sprintf("unexpected key %q", k))
	}

	for _, f := range s.fields {
		fv, present := obj[f.Name]
		if !present {
			if !f.Optional && !isOptional(f.Schema) {
				report(out, path, fmt.Sprintf("missing key %q", f.Name))
			}
			continue
		}
		validate(fv, f.Schema, join(path, f.Name), out)
	}
}

func runCustom(s customSchema, v any) (msgs []string) {
	if s.pred == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			msgs = []string{fmt.Sprintf("%s: rule failed: %v", s.name, r)}
		}
	}()
	return s.pred(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func report(out *[]string, path, msg string) {
	if path == "" {
		*out = append(*out, msg)
		return
	}
	*out = append(*out, path+": "+msg)
}

func formatValue(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		s = strconv.Quote(t)
	case map[string]any:
		return fmt.Sprintf("object with %d key(s)", len(t))
	case []any:
		return fmt.Sprintf("array of %d item(s)", len(t))
	default:
		s = fmt.Sprintf("%v", t)
	}
	if len(s) > maxValueLen {
		n := maxValueLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "..."
	}
	return s
}
