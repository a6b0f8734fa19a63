package services

import (
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/hyecorp/scantrack/scantrack/importer"
)

// SearchItem is one latest projection prepared for name search.
type SearchItem struct {
	Key    string
	ID     string
	Server string
	Name   string
	Folded string
}

// SearchItems implements fuzzy.Source over the folded names.
type SearchItems []SearchItem

func (items SearchItems) Len() int {
	return len(items)
}

func (items SearchItems) String(i int) string {
	return items[i].Folded
}

// ItemFromLatest builds a search item from a latest-projection document.
func ItemFromLatest(path string, data map[string]any) SearchItem {
	item := SearchItem{Key: path}
	if id, ok := data["id"].(string); ok {
		item.ID = id
	}
	if server, ok := data["server"].(string); ok {
		item.Server = server
	}
	if derived, ok := data["derived"].(map[string]any); ok {
		if name, ok := derived["name"].(string); ok {
			item.Name = name
		}
		if folded, ok := derived["nameFolded"].(string); ok {
			item.Folded = folded
		}
	}
	if item.Folded == "" {
		item.Folded = importer.FoldName(item.Name)
	}
	return item
}

// SearchService answers profile name lookups over the latest projections.
type SearchService struct {
	items SearchItems
}

func NewSearchService(items []SearchItem) *SearchService {
	sorted := make(SearchItems, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return &SearchService{items: sorted}
}

// Search fuzzy-matches the query against folded names and returns up to
// limit items, best match first.
func (s *SearchService) Search(query string, limit int) []SearchItem {
	query = importer.FoldName(query)
	if query == "" {
		return nil
	}
	matches := fuzzy.FindFrom(query, s.items)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	results := make([]SearchItem, len(matches))
	for i, m := range matches {
		results[i] = s.items[m.Index]
	}
	return results
}
