package importer

import (
	"sort"
	"strings"
	"time"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// ScoreInput is the record handed to the derived-value helper for one
// advanced entity.
type ScoreInput struct {
	Kind      Kind
	ID        string
	Name      string
	Class     string
	Level     *float64
	Server    string
	GuildID   string
	GuildName string
	Cols      Columns
	Timestamp int64
}

// ScoreResult places an entity in its ranking scopes.
type ScoreResult struct {
	Group     string
	ServerKey string
	Sum       float64
}

// ScoreFunc is the pluggable derived-value contract: a pure function from
// an entity's latest row to its ranking group, server key and score.
type ScoreFunc func(ScoreInput) ScoreResult

// DefaultScore groups players by folded class and scores them by attribute
// sum; guilds share one group and score by member count.
func DefaultScore(in ScoreInput) ScoreResult {
	serverKey := strings.ToLower(in.Server)
	if in.Kind == KindGuild {
		var sum float64
		if n := in.Cols.Number(memberColumns...); n != nil {
			sum = *n
		}
		return ScoreResult{Group: "guild", ServerKey: serverKey, Sum: sum}
	}

	group := FoldName(in.Class)
	if group == "" {
		group = "unclassed"
	}
	var sum float64
	if n := attributeSum(in.Cols); n != nil {
		sum = *n
	}
	return ScoreResult{Group: group, ServerKey: serverKey, Sum: sum}
}

// rankingEntry is one entity's contribution to a scope.
type rankingEntry struct {
	id    string
	value float64
}

type scopeKey struct {
	dateKey string
	scopeID string
}

// RankingContribs accumulates the day's advanced entities per scope.
type RankingContribs struct {
	entries map[scopeKey][]rankingEntry
	groups  map[scopeKey]string
	servers map[scopeKey]string
}

func NewRankingContribs() *RankingContribs {
	return &RankingContribs{
		entries: make(map[scopeKey][]rankingEntry),
		groups:  make(map[scopeKey]string),
		servers: make(map[scopeKey]string),
	}
}

// DateKey formats the calendar-day key for a scan timestamp.
func DateKey(timestamp int64) string {
	return time.Unix(timestamp, 0).UTC().Format("2006-01-02")
}

// Add buckets one advanced entity into its 1-3 scopes: global, group, and
// group x server when a server key exists.
func (rc *RankingContribs) Add(key EntityKey, timestamp int64, score ScoreResult) {
	dateKey := DateKey(timestamp)
	entry := rankingEntry{id: key.ID, value: score.Sum}

	add := func(scopeID, group, server string) {
		sk := scopeKey{dateKey: dateKey, scopeID: scopeID}
		rc.entries[sk] = append(rc.entries[sk], entry)
		rc.groups[sk] = group
		rc.servers[sk] = server
	}

	add("global", "", "")
	if score.Group != "" {
		add("group:"+score.Group, score.Group, "")
		if score.ServerKey != "" {
			add("group:"+score.Group+":server:"+score.ServerKey, score.Group, score.ServerKey)
		}
	}
}

// RankingDocPath builds the path of one ranking shard document.
func RankingDocPath(kind Kind, dateKey, scopeID string) string {
	return "rankings/" + string(kind) + ":" + dateKey + ":" + scopeID
}

// Shards renders full-replacement shard docs for every touched scope:
// parallel ids/values sorted descending by value with 1-based ranks. Only
// scopes touched by this import are rewritten.
func (rc *RankingContribs) Shards(kind Kind) []store.Op {
	keys := make([]scopeKey, 0, len(rc.entries))
	for sk := range rc.entries {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dateKey != keys[j].dateKey {
			return keys[i].dateKey < keys[j].dateKey
		}
		return keys[i].scopeID < keys[j].scopeID
	})

	ops := make([]store.Op, 0, len(keys))
	for _, sk := range keys {
		entries := rc.entries[sk]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].value != entries[j].value {
				return entries[i].value > entries[j].value
			}
			return entries[i].id < entries[j].id
		})

		ids := make([]any, len(entries))
		values := make([]any, len(entries))
		ranks := make([]any, len(entries))
		for i, e := range entries {
			ids[i] = e.id
			values[i] = e.value
			ranks[i] = i + 1
		}

		ops = append(ops, store.Op{
			Kind: store.OpMerge,
			Path: RankingDocPath(kind, sk.dateKey, sk.scopeID),
			Data: map[string]any{
				"dateKey":   sk.dateKey,
				"scope":     sk.scopeID,
				"group":     rc.groups[sk],
				"serverKey": rc.servers[sk],
				"ids":       ids,
				"values":    values,
				"ranks":     ranks,
			},
		})
	}
	return ops
}

// Len reports how many scopes were touched.
func (rc *RankingContribs) Len() int {
	return len(rc.entries)
}
