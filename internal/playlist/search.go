package playlist

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// SearchResult is one fuzzy match against a playlist's titles/paths.
type SearchResult struct {
	Index int
	Item  Item
	Score int
}

// FuzzySearch ranks live items against query by fuzzy-matching both the
// display title and the path, returning the matches best first: Score
// is a rank distance (lower is closer), and results are sorted by
// ascending Score. This supplements spec.md §3's plain path->position
// index with the incremental-search UI feature the original player
// offers over its playlist (the UI itself is out of scope, but the
// underlying ranked search belongs in the playlist model).
func (p *Playlist) FuzzySearch(query string) []SearchResult {
	if query == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var results []SearchResult
	for _, it := range p.items {
		if it.Deleted {
			continue
		}
		title := it.Title()
		if !fuzzy.MatchFold(query, title) && !fuzzy.MatchFold(query, it.Path) {
			continue
		}
		score := fuzzy.RankMatchFold(query, title)
		if pathScore := fuzzy.RankMatchFold(query, it.Path); pathScore >= 0 && (score < 0 || pathScore < score) {
			score = pathScore
		}
		if score < 0 {
			score = 0
		}
		results = append(results, SearchResult{Index: it.index, Item: *it, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	return results
}
