package library

import (
	"errors"
	"fmt"
	"sort"

	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// rank returns fuzzy name matches sorted by distance, ties in library order
func rank(items []domain.MediaItem, query string) fuzzy.Ranks {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = Name(it)
	}

	ranks := fuzzy.RankFindFold(query, names)
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})
	return ranks
}

// Search ranks items whose display name fuzzily contains query, best first.
// Matching is case-insensitive.
func Search(items []domain.MediaItem, query string) []domain.MediaItem {
	ranks := rank(items, query)
	out := make([]domain.MediaItem, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, items[r.OriginalIndex])
	}
	return out
}

// Lookup resolves ref to one item: an id or unique id prefix first, then
// the single best fuzzy name match
func Lookup(items []domain.MediaItem, ref string) (domain.MediaItem, error) {
	it, err := Find(items, ref)
	if err == nil || ref == "" || !errors.Is(err, domain.ErrItemNotFound) {
		return it, err
	}

	ranks := rank(items, ref)
	switch {
	case len(ranks) == 0:
		return domain.MediaItem{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, ref)
	case len(ranks) > 1 && ranks[0].Distance == ranks[1].Distance:
		return domain.MediaItem{}, fmt.Errorf("%q matches both %s and %s", ref, ranks[0].Target, ranks[1].Target)
	}
	return items[ranks[0].OriginalIndex], nil
}
