package search

import "testing"

func TestFuse_WorkedExample(t *testing.T) {
	a := []RankedItem{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.7}}
	b := []RankedItem{{ID: "b", Score: 5}, {ID: "c", Score: 4}, {ID: "d", Score: 3}}

	fused := Fuse(60, a, b)

	byID := make(map[string]float64)
	for _, f := range fused {
		byID[f.ID] = f.Score
	}

	wantB := 1.0/61 + 1.0/62
	if got := byID["b"]; !almostEqual(got, wantB) {
		t.Fatalf("fused(b) = %v, want %v", got, wantB)
	}

	wantA := 1.0 / 61
	if got := byID["a"]; !almostEqual(got, wantA) {
		t.Fatalf("fused(a) = %v, want %v", got, wantA)
	}

	wantD := 1.0 / 63
	if got := byID["d"]; !almostEqual(got, wantD) {
		t.Fatalf("fused(d) = %v, want %v", got, wantD)
	}

	if fused[0].ID != "b" {
		t.Fatalf("expected b to rank first (present in both lists), got %s", fused[0].ID)
	}
}

func TestFuse_NoMissingRankBonus(t *testing.T) {
	// An item present in only one list must contribute exactly the one
	// term for the list it appears in, with no additional penalty term
	// for the list it is absent from.
	a := []RankedItem{{ID: "only-a", Score: 1}}
	fused := Fuse(60, a, nil)

	if len(fused) != 1 {
		t.Fatalf("expected 1 fused item, got %d", len(fused))
	}
	want := 1.0 / 61
	if !almostEqual(fused[0].Score, want) {
		t.Fatalf("fused(only-a) = %v, want %v", fused[0].Score, want)
	}
}

func TestFuse_TiesBrokenByFirstSeenOrder(t *testing.T) {
	a := []RankedItem{{ID: "x", Score: 1}, {ID: "y", Score: 1}}
	fused := Fuse(60, a)

	if fused[0].ID != "x" || fused[1].ID != "y" {
		t.Fatalf("expected tie broken by first-seen order x,y, got %s,%s", fused[0].ID, fused[1].ID)
	}
}

func TestFuse_TiesAcrossListsKeepFirstListOrderFirst(t *testing.T) {
	a := []RankedItem{{ID: "x", Score: 1}}
	b := []RankedItem{{ID: "y", Score: 1}}

	// x and y never co-occur, so both end up with the same rank-1 score
	// from their respective sole list. The tie must resolve in favor of
	// whichever was first seen scanning lists in argument order.
	fused := Fuse(60, a, b)
	if fused[0].ID != "x" {
		t.Fatalf("expected x (first list, first seen) to rank first, got %s", fused[0].ID)
	}
}

func TestFuse_EmptyListsYieldEmptyResult(t *testing.T) {
	fused := Fuse(60, nil, nil)
	if len(fused) != 0 {
		t.Fatalf("expected no fused items, got %d", len(fused))
	}
}

func TestFuse_DefaultsKWhenNonPositive(t *testing.T) {
	a := []RankedItem{{ID: "x", Score: 1}}
	fused := Fuse(0, a)
	want := 1.0 / (DefaultRRFK + 1)
	if !almostEqual(fused[0].Score, want) {
		t.Fatalf("fused(x) = %v, want %v (default k)", fused[0].Score, want)
	}
}

func almostEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}
