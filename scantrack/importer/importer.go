package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// Counters aggregates the per-stage skip and write counts of one import.
type Counters struct {
	RowsTotal        int
	MissingID        int
	MissingServer    int
	BadTimestamp     int
	ScansCreated     int
	ScansDuplicate   int
	ScansFailed      int
	EntitiesAdvanced int
	EntitiesSkipped  int
	RollupsWritten   int
	RankingShards    int
}

// ImportResultItem is the per-row outcome returned to the caller.
type ImportResultItem struct {
	Key     string
	Status  WriteOutcome
	Message string
}

// ImportReport is the full result of one import run.
type ImportReport struct {
	Counts   Counters
	Errors   []string
	Warnings []string
	Duration time.Duration
	Results  []ImportResultItem
}

// Options configures an Importer. Zero values select teacher-tested
// defaults; tests inject their own cache, classifier and executor.
type Options struct {
	Executor   BatchExecutor
	Cache      *LatestCache
	Classifier FoldClassifier
	Score      ScoreFunc
	Scheduler  SchedulerConfig
	Now        func() time.Time
}

// Importer folds scan exports into the document store: immutable scan
// records, a forward-only latest projection, period rollups and per-day
// ranking shards.
type Importer struct {
	store      store.DocStore
	exec       BatchExecutor
	gate       *Gate
	classifier FoldClassifier
	score      ScoreFunc
	sched      *Scheduler
	now        func() time.Time
}

func New(st store.DocStore, opts Options) *Importer {
	exec := opts.Executor
	if exec == nil {
		exec = BulkExecutor{Concurrency: 8}
	}
	cache := opts.Cache
	if cache == nil {
		cache, _ = NewLatestCache(0, 0)
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = DefaultClassifier(nil)
	}
	score := opts.Score
	if score == nil {
		score = DefaultScore
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Importer{
		store:      st,
		exec:       exec,
		gate:       NewGate(st, cache),
		classifier: classifier,
		score:      score,
		sched:      NewScheduler(st, opts.Scheduler),
		now:        now,
	}
}

// ImportRows runs the full pipeline for one export. Per-row and per-entity
// failures are absorbed into counters and warnings; the call only errors
// when nothing could be attempted at all.
func (imp *Importer) ImportRows(ctx context.Context, kind Kind, rows []Row, onProgress ProgressFunc) (*ImportReport, error) {
	if kind != KindPlayer && kind != KindGuild {
		return nil, fmt.Errorf("unknown import kind %q", kind)
	}
	start := imp.now()
	report := &ImportReport{}
	report.Counts.RowsTotal = len(rows)

	slog.Info("Starting import",
		slog.String("type", "imp"),
		slog.String("kind", string(kind)),
		slog.Int("rows", len(rows)))

	// Phase 1: normalize and group by entity.
	groups, skips := NormalizeRows(kind, rows)
	report.Counts.MissingID = skips.MissingID
	report.Counts.MissingServer = skips.MissingServer
	report.Counts.BadTimestamp = skips.BadTimestamp

	if len(groups) == 0 {
		report.Duration = imp.now().Sub(start)
		slog.Info("Import finished with no valid rows", slog.String("type", "imp"))
		return report, nil
	}

	emit := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	// Phase 2: create-only scan records, fully parallelizable. The heaviest
	// pass by op count, so it reports progress like the scheduled ones.
	keys := SortedKeys(groups)
	var scanDocs []store.Doc
	for _, key := range keys {
		for _, nr := range groups[key] {
			scanDocs = append(scanDocs, store.Doc{
				Path: ScanDocPath(key, nr.Timestamp),
				Data: ScanRecordData(nr, imp.now()),
			})
		}
	}
	emit(Progress{Phase: "prepare", Total: len(scanDocs), Pass: string(WriteKindScans)})
	scanResults := imp.exec.WriteScans(ctx, imp.store, scanDocs)
	emit(Progress{Phase: "write", Current: len(scanResults), Total: len(scanDocs), Pass: string(WriteKindScans)})
	for _, res := range scanResults {
		item := ImportResultItem{Key: res.Path, Status: res.Outcome, Message: res.Message}
		report.Results = append(report.Results, item)
		switch res.Outcome {
		case WriteCreated:
			report.Counts.ScansCreated++
		case WriteDuplicate:
			report.Counts.ScansDuplicate++
		default:
			report.Counts.ScansFailed++
			report.Errors = append(report.Errors, res.Message)
		}
	}
	emit(Progress{Phase: "done", Current: len(scanResults), Total: len(scanDocs), Pass: string(WriteKindScans)})

	// Phase 3: per-entity gate, derived fields, rollups, ranking.
	var latestOps, rollupOps []store.Op
	var watermarks []latestWatermark
	contribs := NewRankingContribs()
	for _, key := range keys {
		if err := imp.processEntity(ctx, key, groups[key], &latestOps, &rollupOps, &watermarks, contribs, report); err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("entity %s: %v", key.String(), err))
			slog.Warn("Entity processing failed",
				slog.String("type", "imp"),
				slog.String("entity", key.String()),
				slog.Any("error", err))
		}
	}
	rankingOps := contribs.Shards(kind)
	report.Counts.RankingShards = len(rankingOps)

	// Phase 4: batched commits with backpressure. The watermark cache is
	// settled from the latest pass outcome: only a committed merge may
	// advance it, anything else is evicted so the next gate read hits the
	// store.
	_, latestFailed, latestResults := imp.sched.Commit(ctx, WriteKindLatest, latestOps, onProgress)
	committedPaths := make(map[string]bool, len(latestResults))
	for _, res := range latestResults {
		committedPaths[res.Path] = res.Outcome != store.OutcomeError
	}
	for _, wm := range watermarks {
		if committedPaths[wm.path] {
			imp.gate.Record(wm.key, wm.timestamp)
		} else {
			imp.gate.Evict(wm.key)
		}
	}
	rollupsCommitted, rollupsFailed, _ := imp.sched.Commit(ctx, WriteKindRollups, rollupOps, onProgress)
	_, rankingFailed, _ := imp.sched.Commit(ctx, WriteKindRankings, rankingOps, onProgress)
	report.Counts.RollupsWritten = rollupsCommitted
	for _, pass := range []struct {
		kind   WriteKind
		failed int
	}{
		{WriteKindLatest, latestFailed},
		{WriteKindRollups, rollupsFailed},
		{WriteKindRankings, rankingFailed},
	} {
		if pass.failed > 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%d %s writes failed", pass.failed, pass.kind))
		}
	}

	report.Duration = imp.now().Sub(start)
	slog.Info("Import completed",
		slog.String("type", "imp"),
		slog.String("kind", string(kind)),
		slog.Int("scans_created", report.Counts.ScansCreated),
		slog.Int("scans_duplicate", report.Counts.ScansDuplicate),
		slog.Int("entities_advanced", report.Counts.EntitiesAdvanced),
		slog.Int("rollups_written", report.Counts.RollupsWritten),
		slog.Duration("took", report.Duration))
	return report, nil
}

// latestWatermark is a queued latest merge whose cache entry is settled
// once the commit outcome is known.
type latestWatermark struct {
	key       EntityKey
	path      string
	timestamp int64
}

// processEntity runs the gated stages for one entity. A panic inside a
// stage is converted to the returned error so one bad entity cannot abort
// the rest of the import.
func (imp *Importer) processEntity(ctx context.Context, key EntityKey, rows []NormalizedRow,
	latestOps, rollupOps *[]store.Op, watermarks *[]latestWatermark, contribs *RankingContribs, report *ImportReport) (err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()

	newest, err := NewestRow(rows)
	if err != nil {
		return err
	}

	advanced, err := imp.gate.Advances(ctx, key, newest.Timestamp)
	if err != nil {
		return err
	}

	if advanced {
		report.Counts.EntitiesAdvanced++
		derived := BuildDerived(key.Kind, newest.Cols)

		columns := make(map[string]any, len(newest.Row))
		for k, v := range newest.Row {
			columns[k] = v
		}
		*latestOps = append(*latestOps, store.Op{
			Kind: store.OpMerge,
			Path: LatestDocPath(key),
			Data: map[string]any{
				"kind":      string(key.Kind),
				"id":        key.ID,
				"server":    key.Server,
				"timestamp": newest.Timestamp,
				"columns":   columns,
				"derived":   derived.Map(),
				"updatedAt": imp.now().Unix(),
			},
		})
		*watermarks = append(*watermarks, latestWatermark{
			key:       key,
			path:      LatestDocPath(key),
			timestamp: newest.Timestamp,
		})

		contribs.Add(key, newest.Timestamp, imp.score(ScoreInput{
			Kind:      key.Kind,
			ID:        key.ID,
			Name:      derived.Name,
			Class:     derived.Class,
			Level:     derived.Level,
			Server:    key.Server,
			GuildID:   derived.GuildID,
			GuildName: derived.GuildName,
			Cols:      newest.Cols,
			Timestamp: newest.Timestamp,
		}))
	} else {
		report.Counts.EntitiesSkipped++
	}

	// Rollups fold the full row set of this batch, not just the newest
	// row, then reconcile each bucket against its stored document. The
	// reconcile keeps the merge write convergent: a batch carrying stale
	// or duplicate rows can never move a folded column backwards, and a
	// re-run after a failed commit rebuilds the bucket from the same rows.
	for _, op := range BuildRollups(key, rows, imp.classifier) {
		stored, err := imp.store.Get(ctx, op.Path)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to read rollup %s: %w", op.Path, err)
		}
		if stored != nil {
			op.Data = ReconcileRollup(op.Data, stored, imp.classifier)
			if rollupRedundant(op.Data, stored) {
				continue
			}
		}
		*rollupOps = append(*rollupOps, op)
	}
	return nil
}
