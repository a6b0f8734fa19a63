package importer

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// FoldClassifier reports whether a canonical column folds max-numeric-wins
// instead of last-non-empty-wins. The substring heuristic is configuration,
// not schema: new equipment-like column names can be added without code
// changes.
type FoldClassifier func(canonical string) bool

var defaultMaxWinsSubstrings = []string{"equipment", "gear", "item", "weapon", "armor"}

// DefaultClassifier marks the attribute stats and any column whose
// canonical name contains an equipment-related substring as max-wins.
// Extra substrings come from configuration.
func DefaultClassifier(extraSubstrings []string) FoldClassifier {
	attrs := make(map[string]bool, len(attributeColumns))
	for _, a := range attributeColumns {
		attrs[a] = true
	}
	substrings := append([]string{}, defaultMaxWinsSubstrings...)
	substrings = append(substrings, extraSubstrings...)

	return func(canonical string) bool {
		if attrs[canonical] {
			return true
		}
		for _, sub := range substrings {
			if sub != "" && strings.Contains(canonical, sub) {
				return true
			}
		}
		return false
	}
}

// periodBucket is one calendar bucket of an entity's rows.
type periodBucket struct {
	id    string
	start time.Time
	end   time.Time
	rows  []NormalizedRow
}

// WeekID formats an ISO-8601 week bucket id, e.g. "2024-W05".
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// WeekBounds returns the Monday 00:00 UTC start and the following Monday
// for the ISO week containing t.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday closes the ISO week
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(weekday - 1))
	return start, start.AddDate(0, 0, 7)
}

// MonthID formats a calendar month bucket id, e.g. "2024-01".
func MonthID(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MonthBounds returns the first of the month 00:00 UTC and the first of the
// next month.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// RollupDocPath builds the path of one period rollup document.
func RollupDocPath(period string, key EntityKey, bucketID string) string {
	return "rollups-" + period + "/" + key.String() + "/" + bucketID
}

// FoldColumns folds a bucket's rows into one value per observed column.
// Max-wins columns take the value of the row with the greatest parsed
// number (ties keep the earliest row); everything else takes the most
// recent non-empty value. The fold is a pure function of the row set, so
// re-feeding the same rows reproduces the same output.
func FoldColumns(rows []NormalizedRow, maxWins FoldClassifier) map[string]any {
	ordered := make([]NormalizedRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	// Every column observed anywhere in the row set participates, keyed
	// by its first-seen spelling.
	type column struct {
		name      string
		canonical string
	}
	var columns []column
	seen := make(map[string]bool)
	for _, r := range ordered {
		names := make([]string, 0, len(r.Row))
		for name := range r.Row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			canonical := CanonicalColumn(name)
			if canonical == "" || seen[canonical] {
				continue
			}
			seen[canonical] = true
			columns = append(columns, column{name: name, canonical: canonical})
		}
	}

	folded := make(map[string]any, len(columns))
	for _, col := range columns {
		if maxWins != nil && maxWins(col.canonical) {
			if v, ok := foldMax(ordered, col.canonical); ok {
				folded[col.name] = v
				continue
			}
		}
		if v, ok := foldLast(ordered, col.canonical); ok {
			folded[col.name] = v
		}
	}
	return folded
}

// foldMax picks the value with the greatest parsed number; earliest row
// wins ties. Falls back to not-ok when no value parses.
func foldMax(ordered []NormalizedRow, canonical string) (string, bool) {
	best := ""
	var bestN float64
	found := false
	for _, r := range ordered {
		raw := r.Cols.Text(canonical)
		if raw == "" {
			continue
		}
		n := ParseNumber(raw)
		if n == nil {
			continue
		}
		if !found || *n > bestN {
			found = true
			bestN = *n
			best = raw
		}
	}
	return best, found
}

// foldLast scans newest-first for the first non-empty value.
func foldLast(ordered []NormalizedRow, canonical string) (string, bool) {
	for i := len(ordered) - 1; i >= 0; i-- {
		if raw := ordered[i].Cols.Text(canonical); raw != "" {
			return raw, true
		}
	}
	return "", false
}

// BuildRollups folds all of an entity's imported rows into weekly and
// monthly merge writes, one per calendar bucket touched by the batch.
func BuildRollups(key EntityKey, rows []NormalizedRow, maxWins FoldClassifier) []store.Op {
	weekly := bucketize(rows, WeekID, WeekBounds)
	monthly := bucketize(rows, MonthID, MonthBounds)

	var ops []store.Op
	for period, buckets := range map[string][]periodBucket{"week": weekly, "month": monthly} {
		for _, b := range buckets {
			ops = append(ops, store.Op{
				Kind: store.OpMerge,
				Path: RollupDocPath(period, key, b.id),
				Data: rollupData(key, b, maxWins),
			})
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })
	return ops
}

func bucketize(rows []NormalizedRow, id func(time.Time) string, bounds func(time.Time) (time.Time, time.Time)) []periodBucket {
	byID := make(map[string]*periodBucket)
	var order []string
	for _, r := range rows {
		t := time.Unix(r.Timestamp, 0).UTC()
		bucketID := id(t)
		b, ok := byID[bucketID]
		if !ok {
			start, end := bounds(t)
			b = &periodBucket{id: bucketID, start: start, end: end}
			byID[bucketID] = b
			order = append(order, bucketID)
		}
		b.rows = append(b.rows, r)
	}
	sort.Strings(order)
	buckets := make([]periodBucket, 0, len(order))
	for _, bucketID := range order {
		buckets = append(buckets, *byID[bucketID])
	}
	return buckets
}

// ReconcileRollup folds freshly built rollup data against the stored bucket
// document so a merge write can never move a column backwards, whatever
// subset of the bucket's history this batch happened to carry. Max-wins
// columns only overwrite a stored value they beat numerically; last-wins
// columns and the lastTimestamp/lastName pair only overwrite when the batch
// saw a strictly newer row than the stored bucket. Columns the batch wins
// are written under the stored spelling so the document never accumulates
// two spellings of the same column.
func ReconcileRollup(data, stored map[string]any, maxWins FoldClassifier) map[string]any {
	storedLast := asInt64(stored["lastTimestamp"])
	batchLast := asInt64(data["lastTimestamp"])
	batchNewer := batchLast > storedLast

	merged := make(map[string]any, len(data))
	for k, v := range data {
		merged[k] = v
	}
	if !batchNewer {
		merged["lastTimestamp"] = stored["lastTimestamp"]
		if name, ok := stored["lastName"]; ok {
			merged["lastName"] = name
		}
	}

	type storedColumn struct {
		name  string
		value string
	}
	byCanonical := make(map[string]storedColumn)
	if cols, ok := stored["columns"].(map[string]any); ok {
		for name, v := range cols {
			if s, ok := v.(string); ok {
				byCanonical[CanonicalColumn(name)] = storedColumn{name: name, value: s}
			}
		}
	}

	cols, _ := merged["columns"].(map[string]any)
	kept := make(map[string]any, len(cols))
	for name, v := range cols {
		canonical := CanonicalColumn(name)
		prev, seen := byCanonical[canonical]
		if !seen {
			kept[name] = v
			continue
		}
		raw, _ := v.(string)
		if maxWins != nil && maxWins(canonical) {
			newN, prevN := ParseNumber(raw), ParseNumber(prev.value)
			if newN != nil && (prevN == nil || *newN > *prevN) {
				kept[prev.name] = v
			}
			continue
		}
		if batchNewer {
			kept[prev.name] = v
		}
	}
	merged["columns"] = kept
	return merged
}

// rollupRedundant reports whether a reconciled merge would leave the stored
// bucket byte-for-byte unchanged, so the write can be skipped entirely.
func rollupRedundant(merged, stored map[string]any) bool {
	for k, v := range merged {
		if k == "columns" {
			continue
		}
		if !reflect.DeepEqual(stored[k], v) {
			return false
		}
	}
	cols, _ := merged["columns"].(map[string]any)
	return len(cols) == 0
}

func rollupData(key EntityKey, b periodBucket, maxWins FoldClassifier) map[string]any {
	last, _ := NewestRow(b.rows)
	nameColumns := playerNameColumns
	if key.Kind == KindGuild {
		nameColumns = guildNameColumns
	}
	return map[string]any{
		"kind":          string(key.Kind),
		"id":            key.ID,
		"server":        key.Server,
		"periodId":      b.id,
		"periodStart":   b.start.Unix(),
		"periodEnd":     b.end.Unix(),
		"lastTimestamp": last.Timestamp,
		"lastName":      last.Cols.Text(nameColumns...),
		"columns":       FoldColumns(b.rows, maxWins),
	}
}
