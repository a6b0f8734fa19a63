package importer

import (
	"reflect"
	"testing"
)

func TestDateKey(t *testing.T) {
	if got := DateKey(1706745600); got != "2024-02-01" {
		t.Errorf("DateKey = %q, want 2024-02-01", got)
	}
}

func TestDefaultScorePlayer(t *testing.T) {
	cols := NewColumns(Row{"Strength": "100", "Luck": "20"})
	got := DefaultScore(ScoreInput{
		Kind:   KindPlayer,
		Class:  "Bérserker",
		Server: "EU5",
		Cols:   cols,
	})
	want := ScoreResult{Group: "berserker", ServerKey: "eu5", Sum: 120}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DefaultScore = %+v, want %+v", got, want)
	}

	got = DefaultScore(ScoreInput{Kind: KindPlayer, Server: "EU5", Cols: NewColumns(Row{})})
	if got.Group != "unclassed" || got.Sum != 0 {
		t.Errorf("classless score = %+v", got)
	}
}

func TestDefaultScoreGuild(t *testing.T) {
	got := DefaultScore(ScoreInput{
		Kind:   KindGuild,
		Server: "US1",
		Cols:   NewColumns(Row{"Members": "38"}),
	})
	want := ScoreResult{Group: "guild", ServerKey: "us1", Sum: 38}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DefaultScore = %+v, want %+v", got, want)
	}
}

func TestRankingContribsScopes(t *testing.T) {
	rc := NewRankingContribs()
	key := EntityKey{Kind: KindPlayer, ID: "p1", Server: "EU5"}
	rc.Add(key, 1706745600, ScoreResult{Group: "warrior", ServerKey: "eu5", Sum: 100})

	if rc.Len() != 3 {
		t.Fatalf("scopes touched = %d, want 3 (global, group, group x server)", rc.Len())
	}

	ops := rc.Shards(KindPlayer)
	paths := make([]string, len(ops))
	for i, op := range ops {
		paths[i] = op.Path
	}
	want := []string{
		"rankings/player:2024-02-01:global",
		"rankings/player:2024-02-01:group:warrior",
		"rankings/player:2024-02-01:group:warrior:server:eu5",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("shard paths = %v, want %v", paths, want)
	}
}

func TestShardInvariant(t *testing.T) {
	rc := NewRankingContribs()
	entities := []struct {
		id  string
		sum float64
	}{
		{"p1", 50},
		{"p2", 120},
		{"p3", 80},
		{"p4", 80}, // tie broken by id
	}
	for _, e := range entities {
		key := EntityKey{Kind: KindPlayer, ID: e.id, Server: "EU5"}
		rc.Add(key, 1706745600, ScoreResult{Group: "warrior", ServerKey: "eu5", Sum: e.sum})
	}

	for _, op := range rc.Shards(KindPlayer) {
		ids := op.Data["ids"].([]any)
		values := op.Data["values"].([]any)
		ranks := op.Data["ranks"].([]any)

		if len(ids) != len(values) || len(ids) != len(ranks) {
			t.Fatalf("parallel arrays differ in length: %d/%d/%d", len(ids), len(values), len(ranks))
		}
		for i := range ranks {
			if ranks[i] != i+1 {
				t.Errorf("%s: ranks[%d] = %v, want %d", op.Path, i, ranks[i], i+1)
			}
			if i > 0 && values[i].(float64) > values[i-1].(float64) {
				t.Errorf("%s: values not non-increasing at %d: %v", op.Path, i, values)
			}
		}
	}

	// Spot check the global shard ordering.
	global := rc.Shards(KindPlayer)[0]
	wantIDs := []any{"p2", "p3", "p4", "p1"}
	if !reflect.DeepEqual(global.Data["ids"], wantIDs) {
		t.Errorf("global ids = %v, want %v", global.Data["ids"], wantIDs)
	}
}
