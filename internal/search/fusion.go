package search

import "sort"

// DefaultRRFK is the default Reciprocal Rank Fusion smoothing constant.
const DefaultRRFK = 60.0

// RankedItem is a single entry in one ranked result list going into RRF
// fusion. Score is that list's own score and is not used by Fuse itself
// (only rank position matters for RRF), but is carried through for
// diagnostics.
type RankedItem struct {
	ID    string
	Score float64
}

// FusedItem is a single entry in a fused, RRF-scored result list.
type FusedItem struct {
	ID    string
	Score float64
}

// Fuse combines any number of ranked lists with Reciprocal Rank Fusion:
//
//	fused(x) = sum over lists L containing x of 1 / (k + rank_L(x))
//
// rank is 1-indexed. An item absent from a list contributes nothing for
// that list: there is no missing-rank penalty term, and fused scores are
// not normalized afterward. Results are sorted by descending fused score;
// ties are broken by first-seen order across the input lists, in the
// order the lists were passed.
func Fuse(k float64, lists ...[]RankedItem) []FusedItem {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	var order []string

	for _, list := range lists {
		for i, item := range list {
			rank := i + 1
			if _, seen := scores[item.ID]; !seen {
				order = append(order, item.ID)
			}
			scores[item.ID] += 1.0 / (k + float64(rank))
		}
	}

	fused := make([]FusedItem, len(order))
	for i, id := range order {
		fused[i] = FusedItem{ID: id, Score: scores[id]}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	return fused
}
