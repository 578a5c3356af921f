package search

import "strings"

// filterKind identifies which comparison a Filter performs.
type filterKind int

const (
	filterEquals filterKind = iota
	filterIn
	filterRange
	filterExists
)

// Filter is a single metadata predicate evaluated against a result's
// frontmatter. Construct one with Equals, In, Range, or Exists.
type Filter struct {
	kind   filterKind
	field  string
	value  interface{}
	values []interface{}
	min    interface{}
	max    interface{}
}

// Equals matches when field equals value: array-valued fields match by
// membership, scalar-valued fields by structural equality.
func Equals(field string, value interface{}) Filter {
	return Filter{kind: filterEquals, field: field, value: value}
}

// In matches when field intersects values: array-valued fields match when
// any element is in values, scalar-valued fields match by membership in
// values.
func In(field string, values []interface{}) Filter {
	return Filter{kind: filterIn, field: field, values: values}
}

// Range matches when field falls within [min, max], inclusive on both
// ends. Either bound may be nil to leave that side unbounded. A numeric
// field is compared numerically against numeric bounds, and a string field
// lexicographically against string bounds; a bound of the other type is
// ignored, and a field that is neither a number nor a string never matches.
func Range(field string, min, max interface{}) Filter {
	return Filter{kind: filterRange, field: field, min: min, max: max}
}

// Exists matches when field is present in frontmatter and non-null.
func Exists(field string) Filter {
	return Filter{kind: filterExists, field: field}
}

// matchAll reports whether frontmatter satisfies every filter. Per the
// spec's truth table, frontmatter that is missing (nil, or the file had no
// frontmatter block) fails any non-empty filter list.
func matchAll(frontmatter map[string]interface{}, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	if frontmatter == nil {
		return false
	}
	for _, f := range filters {
		if !matchOne(frontmatter, f) {
			return false
		}
	}
	return true
}

func matchOne(frontmatter map[string]interface{}, f Filter) bool {
	switch f.kind {
	case filterEquals:
		return matchEquals(frontmatter[f.field], f.value)
	case filterIn:
		return matchIn(frontmatter[f.field], f.values)
	case filterRange:
		v, ok := frontmatter[f.field]
		if !ok || v == nil {
			return false
		}
		return matchRange(v, f.min, f.max)
	case filterExists:
		v, ok := frontmatter[f.field]
		return ok && v != nil
	default:
		return false
	}
}

func matchEquals(fieldValue, target interface{}) bool {
	if arr, ok := fieldValue.([]interface{}); ok {
		for _, item := range arr {
			if valuesEqual(item, target) {
				return true
			}
		}
		return false
	}
	return valuesEqual(fieldValue, target)
}

func matchIn(fieldValue interface{}, candidates []interface{}) bool {
	if arr, ok := fieldValue.([]interface{}); ok {
		for _, item := range arr {
			for _, c := range candidates {
				if valuesEqual(item, c) {
					return true
				}
			}
		}
		return false
	}
	for _, c := range candidates {
		if valuesEqual(fieldValue, c) {
			return true
		}
	}
	return false
}

func matchRange(fieldValue, min, max interface{}) bool {
	if fn, ok := asFloat(fieldValue); ok {
		if min != nil {
			if mn, ok := asFloat(min); ok && fn < mn {
				return false
			}
		}
		if max != nil {
			if mx, ok := asFloat(max); ok && fn > mx {
				return false
			}
		}
		return true
	}

	fs, ok := fieldValue.(string)
	if !ok {
		return false
	}
	if min != nil {
		if ms, ok := min.(string); ok && strings.Compare(fs, ms) < 0 {
			return false
		}
	}
	if max != nil {
		if mx, ok := max.(string); ok && strings.Compare(fs, mx) > 0 {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
