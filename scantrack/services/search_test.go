package services

import (
	"testing"
)

func testItems() []SearchItem {
	return []SearchItem{
		{Key: "latest/player:eu5:p1", ID: "p1", Server: "EU5", Name: "Björn", Folded: "bjorn"},
		{Key: "latest/player:eu5:p2", ID: "p2", Server: "EU5", Name: "Alice", Folded: "alice"},
		{Key: "latest/player:us1:p3", ID: "p3", Server: "US1", Name: "Alicia", Folded: "alicia"},
	}
}

func TestSearchFuzzyMatch(t *testing.T) {
	svc := NewSearchService(testItems())

	results := svc.Search("alic", 10)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		if r.ID != "p2" && r.ID != "p3" {
			t.Errorf("unexpected match %+v", r)
		}
	}
}

func TestSearchFoldsQuery(t *testing.T) {
	svc := NewSearchService(testItems())

	results := svc.Search("Björn", 10)
	if len(results) != 1 || results[0].ID != "p1" {
		t.Errorf("diacritic query results = %+v, want p1", results)
	}
}

func TestSearchLimit(t *testing.T) {
	svc := NewSearchService(testItems())
	if results := svc.Search("ali", 1); len(results) != 1 {
		t.Errorf("limit not applied: %d results", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := NewSearchService(testItems())
	if results := svc.Search("  ", 10); results != nil {
		t.Errorf("empty query returned %+v", results)
	}
}

func TestItemFromLatest(t *testing.T) {
	item := ItemFromLatest("latest/player:eu5:p1", map[string]any{
		"id":     "p1",
		"server": "EU5",
		"derived": map[string]any{
			"name":       "Björn",
			"nameFolded": "bjorn",
		},
	})

	if item.ID != "p1" || item.Server != "EU5" || item.Name != "Björn" || item.Folded != "bjorn" {
		t.Errorf("item = %+v", item)
	}
}
