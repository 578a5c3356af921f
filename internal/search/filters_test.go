package search

import "testing"

func TestMatchAll_EmptyFiltersAlwaysMatch(t *testing.T) {
	if !matchAll(nil, nil) {
		t.Fatal("expected empty filter list to match even nil frontmatter")
	}
}

func TestMatchAll_MissingFrontmatterFailsNonEmptyFilters(t *testing.T) {
	if matchAll(nil, []Filter{Exists("tags")}) {
		t.Fatal("expected nil frontmatter to fail a non-empty filter list")
	}
}

func TestEquals_ScalarMatch(t *testing.T) {
	fm := map[string]interface{}{"status": "published"}
	if !matchAll(fm, []Filter{Equals("status", "published")}) {
		t.Fatal("expected scalar equals to match")
	}
	if matchAll(fm, []Filter{Equals("status", "draft")}) {
		t.Fatal("expected scalar equals to reject mismatch")
	}
}

func TestEquals_ArrayMembership(t *testing.T) {
	fm := map[string]interface{}{"tags": []interface{}{"go", "search"}}
	if !matchAll(fm, []Filter{Equals("tags", "go")}) {
		t.Fatal("expected equals on array field to check membership")
	}
	if matchAll(fm, []Filter{Equals("tags", "rust")}) {
		t.Fatal("expected equals on array field to reject absent member")
	}
}

func TestIn_ScalarMembership(t *testing.T) {
	fm := map[string]interface{}{"status": "draft"}
	f := In("status", []interface{}{"draft", "review"})
	if !matchAll(fm, []Filter{f}) {
		t.Fatal("expected scalar in membership to match")
	}
}

func TestIn_ArrayIntersection(t *testing.T) {
	fm := map[string]interface{}{"tags": []interface{}{"go", "search"}}
	f := In("tags", []interface{}{"rust", "search"})
	if !matchAll(fm, []Filter{f}) {
		t.Fatal("expected array in to match on intersection")
	}
	f2 := In("tags", []interface{}{"rust", "python"})
	if matchAll(fm, []Filter{f2}) {
		t.Fatal("expected array in to reject disjoint sets")
	}
}

func TestRange_NumericInclusiveBounds(t *testing.T) {
	fm := map[string]interface{}{"priority": 5.0}
	if !matchAll(fm, []Filter{Range("priority", 1.0, 5.0)}) {
		t.Fatal("expected value equal to upper bound to match")
	}
	if matchAll(fm, []Filter{Range("priority", 6.0, 10.0)}) {
		t.Fatal("expected out-of-range value to fail")
	}
}

func TestRange_StringLexicographic(t *testing.T) {
	fm := map[string]interface{}{"date": "2026-03-01"}
	if !matchAll(fm, []Filter{Range("date", "2026-01-01", "2026-06-01")}) {
		t.Fatal("expected lexicographic date range to match")
	}
}

func TestRange_UnboundedSide(t *testing.T) {
	fm := map[string]interface{}{"priority": 100.0}
	if matchAll(fm, []Filter{Range("priority", nil, 50.0)}) {
		t.Fatal("expected value above the upper bound to fail even with an unbounded lower side")
	}
	if !matchAll(fm, []Filter{Range("priority", 50.0, nil)}) {
		t.Fatal("expected unbounded max with value above min to match")
	}
}

func TestRange_MissingFieldFails(t *testing.T) {
	fm := map[string]interface{}{}
	if matchAll(fm, []Filter{Range("priority", 1.0, 10.0)}) {
		t.Fatal("expected missing field to fail range filter")
	}
}

func TestExists_PresentNonNull(t *testing.T) {
	fm := map[string]interface{}{"tags": []interface{}{"go"}}
	if !matchAll(fm, []Filter{Exists("tags")}) {
		t.Fatal("expected present field to satisfy exists")
	}
}

func TestExists_AbsentFails(t *testing.T) {
	fm := map[string]interface{}{}
	if matchAll(fm, []Filter{Exists("tags")}) {
		t.Fatal("expected absent field to fail exists")
	}
}

func TestExists_NullFails(t *testing.T) {
	fm := map[string]interface{}{"tags": nil}
	if matchAll(fm, []Filter{Exists("tags")}) {
		t.Fatal("expected explicit null to fail exists")
	}
}

func TestMatchAll_FiltersAreANDed(t *testing.T) {
	fm := map[string]interface{}{"status": "published", "priority": 3.0}
	filters := []Filter{Equals("status", "published"), Range("priority", 1.0, 2.0)}
	if matchAll(fm, filters) {
		t.Fatal("expected AND combination to fail when one filter fails")
	}
}
