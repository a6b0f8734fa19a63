package importer

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hyecorp/scantrack/scantrack/store"
)

func testImporter(t *testing.T, st store.DocStore) *Importer {
	t.Helper()
	cache, err := NewLatestCache(128, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return New(st, Options{
		Executor:  SequentialExecutor{},
		Cache:     cache,
		Scheduler: SchedulerConfig{Limits: map[WriteKind]int{}, ChunkDelay: 0},
	})
}

func playerRows() []Row {
	return []Row{
		{"ID": "p1", "Server": "EU5", "Timestamp": "1000", "Name": "Alice", "Class": "Warrior", "Strength": "50"},
		{"ID": "p1", "Server": "EU5", "Timestamp": "2000", "Name": "Alice", "Class": "Warrior", "Strength": "80"},
	}
}

func TestImportScenario(t *testing.T) {
	mem := store.NewMemoryStore()
	imp := testImporter(t, mem)

	report, err := imp.ImportRows(context.Background(), KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if report.Counts.ScansCreated != 2 || report.Counts.ScansDuplicate != 0 {
		t.Errorf("scan counts = %+v, want 2 created", report.Counts)
	}
	if report.Counts.EntitiesAdvanced != 1 {
		t.Errorf("EntitiesAdvanced = %d, want 1", report.Counts.EntitiesAdvanced)
	}
	if len(report.Results) != 2 {
		t.Errorf("results = %d rows, want 2", len(report.Results))
	}

	// Two immutable scan records.
	for _, path := range []string{"scans/player:eu5:p1/1000", "scans/player:eu5:p1/2000"} {
		if _, err := mem.Get(context.Background(), path); err != nil {
			t.Errorf("missing scan record %s: %v", path, err)
		}
	}

	// Latest projection carries the newest row and derived fields.
	latest, err := mem.Get(context.Background(), "latest/player:eu5:p1")
	if err != nil {
		t.Fatal(err)
	}
	if latest["timestamp"] != int64(2000) {
		t.Errorf("latest timestamp = %v, want 2000", latest["timestamp"])
	}
	if cols := latest["columns"].(map[string]any); cols["Strength"] != "80" {
		t.Errorf("latest Strength = %v, want 80", cols["Strength"])
	}
	derived := latest["derived"].(map[string]any)
	if derived["nameFolded"] != "alice" {
		t.Errorf("derived nameFolded = %v", derived["nameFolded"])
	}
	if derived["attributeSum"] != 80.0 {
		t.Errorf("derived attributeSum = %v, want 80", derived["attributeSum"])
	}

	// One weekly and one monthly rollup, both max-wins folded to 80.
	for _, path := range []string{"rollups-week/player:eu5:p1/1970-W01", "rollups-month/player:eu5:p1/1970-01"} {
		rollup, err := mem.Get(context.Background(), path)
		if err != nil {
			t.Fatalf("missing rollup %s: %v", path, err)
		}
		if cols := rollup["columns"].(map[string]any); cols["Strength"] != "80" {
			t.Errorf("%s Strength = %v, want 80", path, cols["Strength"])
		}
		if rollup["lastTimestamp"] != int64(2000) {
			t.Errorf("%s lastTimestamp = %v, want 2000", path, rollup["lastTimestamp"])
		}
	}

	// Global, class group and class x server shards.
	if report.Counts.RankingShards != 3 {
		t.Errorf("RankingShards = %d, want 3", report.Counts.RankingShards)
	}
	shard, err := mem.Get(context.Background(), "rankings/player:1970-01-01:group:warrior:server:eu5")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(shard["ids"], []any{"p1"}) || !reflect.DeepEqual(shard["ranks"], []any{1}) {
		t.Errorf("shard = %v", shard)
	}
}

func TestIdempotentReimport(t *testing.T) {
	mem := store.NewMemoryStore()
	imp := testImporter(t, mem)
	ctx := context.Background()

	if _, err := imp.ImportRows(ctx, KindPlayer, playerRows(), nil); err != nil {
		t.Fatal(err)
	}
	snapshot := func() map[string]map[string]any {
		docs := make(map[string]map[string]any)
		for _, path := range mem.Paths() {
			doc, _ := mem.Get(ctx, path)
			docs[path] = doc
		}
		return docs
	}
	before := snapshot()

	// Second import of the same row set: all duplicates, nothing changes.
	// A fresh importer proves the gate works from the store, not the cache.
	report, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if report.Counts.ScansDuplicate != 2 || report.Counts.ScansCreated != 0 {
		t.Errorf("second import counts = %+v, want 2 duplicates", report.Counts)
	}
	if report.Counts.EntitiesAdvanced != 0 {
		t.Errorf("EntitiesAdvanced = %d, want 0", report.Counts.EntitiesAdvanced)
	}
	if report.Counts.RollupsWritten != 0 {
		t.Errorf("RollupsWritten = %d, want 0", report.Counts.RollupsWritten)
	}
	for _, item := range report.Results {
		if item.Status != WriteDuplicate {
			t.Errorf("result %s = %s, want duplicate", item.Key, item.Status)
		}
	}
	if after := snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("store changed on re-import:\nbefore: %v\nafter:  %v", before, after)
	}
}

func TestReimportOlderRowAlone(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, playerRows(), nil); err != nil {
		t.Fatal(err)
	}

	older := []Row{
		{"ID": "p1", "Server": "EU5", "Timestamp": "1000", "Name": "Alice", "Class": "Warrior", "Strength": "50"},
	}
	report, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, older, nil)
	if err != nil {
		t.Fatal(err)
	}

	if report.Counts.ScansDuplicate != 1 {
		t.Errorf("ScansDuplicate = %d, want 1", report.Counts.ScansDuplicate)
	}
	if report.Counts.EntitiesAdvanced != 0 {
		t.Errorf("EntitiesAdvanced = %d, want 0", report.Counts.EntitiesAdvanced)
	}

	latest, err := mem.Get(ctx, "latest/player:eu5:p1")
	if err != nil {
		t.Fatal(err)
	}
	if latest["timestamp"] != int64(2000) {
		t.Errorf("latest timestamp regressed to %v", latest["timestamp"])
	}

	rollup, err := mem.Get(ctx, "rollups-week/player:eu5:p1/1970-W01")
	if err != nil {
		t.Fatal(err)
	}
	if cols := rollup["columns"].(map[string]any); cols["Strength"] != "80" {
		t.Errorf("weekly Strength regressed to %v", cols["Strength"])
	}
}

func TestLatestRecoveryAfterFailedCommit(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailPaths = map[string]error{
		"latest/player:eu5:p1": errors.New("write denied"),
	}
	imp := testImporter(t, mem)
	ctx := context.Background()

	report, err := imp.ImportRows(ctx, KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Warnings) == 0 {
		t.Fatalf("failed latest pass produced no warnings: %+v", report)
	}

	// The fault clears and the same importer re-runs the import. The gate
	// must not trust a watermark whose merge never committed.
	mem.FailPaths = nil
	report, err = imp.ImportRows(ctx, KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.EntitiesAdvanced != 1 {
		t.Errorf("EntitiesAdvanced = %d, want 1 on recovery re-run", report.Counts.EntitiesAdvanced)
	}

	latest, err := mem.Get(ctx, "latest/player:eu5:p1")
	if err != nil {
		t.Fatalf("latest projection missing after recovery re-run: %v", err)
	}
	if latest["timestamp"] != int64(2000) {
		t.Errorf("recovered latest timestamp = %v, want 2000", latest["timestamp"])
	}
}

func TestRollupRecoveryAfterFailedCommit(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailPaths = map[string]error{
		"rollups-week/player:eu5:p1/1970-W01": errors.New("write denied"),
		"rollups-month/player:eu5:p1/1970-01": errors.New("write denied"),
	}
	ctx := context.Background()

	report, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.RollupsWritten != 0 {
		t.Fatalf("RollupsWritten = %d, want 0 with failing rollup paths", report.Counts.RollupsWritten)
	}

	// Fault cleared, fresh process: all scans are duplicates, but the
	// missing buckets must still be rebuilt from the same rows.
	mem.FailPaths = nil
	report, err = testImporter(t, mem).ImportRows(ctx, KindPlayer, playerRows(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.ScansDuplicate != 2 {
		t.Errorf("ScansDuplicate = %d, want 2", report.Counts.ScansDuplicate)
	}
	if report.Counts.RollupsWritten != 2 {
		t.Errorf("RollupsWritten = %d, want 2 on recovery re-run", report.Counts.RollupsWritten)
	}

	rollup, err := mem.Get(ctx, "rollups-week/player:eu5:p1/1970-W01")
	if err != nil {
		t.Fatalf("weekly rollup missing after recovery re-run: %v", err)
	}
	if cols := rollup["columns"].(map[string]any); cols["Strength"] != "80" {
		t.Errorf("recovered weekly Strength = %v, want 80", cols["Strength"])
	}
	if rollup["lastTimestamp"] != int64(2000) {
		t.Errorf("recovered lastTimestamp = %v, want 2000", rollup["lastTimestamp"])
	}
}

func TestLateBatchDoesNotRegressRollup(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, playerRows(), nil); err != nil {
		t.Fatal(err)
	}

	// A new scan lands between the stored rows: its Strength is genuinely
	// below the bucket maximum and must not drag the fold down.
	late := []Row{
		{"ID": "p1", "Server": "EU5", "Timestamp": "1500", "Name": "Alice", "Class": "Warrior", "Strength": "60"},
	}
	report, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, late, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Counts.ScansCreated != 1 {
		t.Errorf("ScansCreated = %d, want 1", report.Counts.ScansCreated)
	}

	rollup, err := mem.Get(ctx, "rollups-week/player:eu5:p1/1970-W01")
	if err != nil {
		t.Fatal(err)
	}
	if cols := rollup["columns"].(map[string]any); cols["Strength"] != "80" {
		t.Errorf("weekly Strength regressed to %v", cols["Strength"])
	}
	if rollup["lastTimestamp"] != int64(2000) {
		t.Errorf("lastTimestamp regressed to %v", rollup["lastTimestamp"])
	}
}

func TestImportReportsScanProgress(t *testing.T) {
	mem := store.NewMemoryStore()
	imp := testImporter(t, mem)

	var passes []string
	_, err := imp.ImportRows(context.Background(), KindPlayer, playerRows(),
		func(p Progress) { passes = append(passes, p.Pass+":"+p.Phase) })
	if err != nil {
		t.Fatal(err)
	}

	if len(passes) < 3 || passes[0] != "scans:prepare" {
		t.Fatalf("progress passes = %v, want scan events first", passes)
	}
	sawScanDone := false
	for _, p := range passes {
		if p == "scans:done" {
			sawScanDone = true
		}
		if p == "latest:prepare" && !sawScanDone {
			t.Fatalf("latest pass started before scan pass finished: %v", passes)
		}
	}
	if !sawScanDone {
		t.Fatalf("no scans:done event: %v", passes)
	}
}

func TestMonotonicLatest(t *testing.T) {
	rows := playerRows()
	orders := map[string][]Row{
		"ascending":  {rows[0], rows[1]},
		"descending": {rows[1], rows[0]},
	}
	for name, ordered := range orders {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			ctx := context.Background()
			// One import per row, in the given order.
			for _, row := range ordered {
				if _, err := testImporter(t, mem).ImportRows(ctx, KindPlayer, []Row{row}, nil); err != nil {
					t.Fatal(err)
				}
			}
			latest, err := mem.Get(ctx, "latest/player:eu5:p1")
			if err != nil {
				t.Fatal(err)
			}
			if latest["timestamp"] != int64(2000) {
				t.Errorf("latest timestamp = %v, want 2000", latest["timestamp"])
			}
			if cols := latest["columns"].(map[string]any); cols["Strength"] != "80" {
				t.Errorf("latest Strength = %v, want 80", cols["Strength"])
			}
		})
	}
}

func TestStageFailureDoesNotAbortOtherEntities(t *testing.T) {
	mem := store.NewMemoryStore()
	cache, _ := NewLatestCache(128, time.Minute)
	imp := New(mem, Options{
		Executor: SequentialExecutor{},
		Cache:    cache,
		Score: func(in ScoreInput) ScoreResult {
			if in.ID == "p1" {
				panic("bad score input")
			}
			return DefaultScore(in)
		},
	})

	rows := []Row{
		{"ID": "p1", "Server": "EU5", "Timestamp": "1000", "Name": "Alice"},
		{"ID": "p2", "Server": "EU5", "Timestamp": "1000", "Name": "Bob"},
	}
	report, err := imp.ImportRows(context.Background(), KindPlayer, rows, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", report.Warnings)
	}
	if _, err := mem.Get(context.Background(), "latest/player:eu5:p2"); err != nil {
		t.Errorf("healthy entity was not processed: %v", err)
	}
}

func TestImportUnknownKind(t *testing.T) {
	imp := testImporter(t, store.NewMemoryStore())
	if _, err := imp.ImportRows(context.Background(), Kind("monsters"), nil, nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestBulkAndSequentialExecutorsAgree(t *testing.T) {
	ctx := context.Background()
	docs := []store.Doc{
		{Path: "scans/player:eu5:p1/1000", Data: map[string]any{"timestamp": int64(1000)}},
		{Path: "scans/player:eu5:p2/1000", Data: map[string]any{"timestamp": int64(1000)}},
	}

	for name, exec := range map[string]BatchExecutor{
		"bulk":       BulkExecutor{Concurrency: 2},
		"sequential": SequentialExecutor{},
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			outcomes := func(results []ScanResult) map[WriteOutcome]int {
				counts := make(map[WriteOutcome]int)
				for _, r := range results {
					counts[r.Outcome]++
				}
				return counts
			}

			first := outcomes(exec.WriteScans(ctx, mem, docs))
			if !reflect.DeepEqual(first, map[WriteOutcome]int{WriteCreated: 2}) {
				t.Errorf("first pass = %v", first)
			}
			second := outcomes(exec.WriteScans(ctx, mem, docs))
			if !reflect.DeepEqual(second, map[WriteOutcome]int{WriteDuplicate: 2}) {
				t.Errorf("second pass = %v", second)
			}
		})
	}
}
