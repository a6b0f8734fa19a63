package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// WriteKind labels a write list so the scheduler can apply per-kind chunk
// limits. Latest docs carry far more payload than scans or rollups and use
// smaller batches.
type WriteKind string

const (
	WriteKindScans    WriteKind = "scans"
	WriteKindLatest   WriteKind = "latest"
	WriteKindRollups  WriteKind = "rollups"
	WriteKindRankings WriteKind = "rankings"
)

// Progress is emitted after each committed chunk.
type Progress struct {
	Phase   string // prepare | write | done
	Current int
	Total   int
	Pass    string
}

// ProgressFunc receives progress events during an import.
type ProgressFunc func(Progress)

// SchedulerConfig holds the batch limits and the inter-chunk delay used as
// backpressure against the store's write-rate ceiling.
type SchedulerConfig struct {
	Limits     map[WriteKind]int
	ChunkDelay time.Duration
}

// DefaultSchedulerConfig mirrors the store's practical batch ceilings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Limits: map[WriteKind]int{
			WriteKindLatest:   100,
			WriteKindRollups:  400,
			WriteKindRankings: 400,
		},
		ChunkDelay: 150 * time.Millisecond,
	}
}

// Scheduler turns write lists into size-bounded sequential commits. A chunk
// failure never aborts the remaining chunks: every op is either create-only
// or merge-idempotent, so the import as a whole is safe to re-run.
type Scheduler struct {
	store  store.DocStore
	config SchedulerConfig
}

func NewScheduler(st store.DocStore, config SchedulerConfig) *Scheduler {
	if config.Limits == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{store: st, config: config}
}

// Commit writes one kind's op list in chunks and reports how many ops
// succeeded and failed, plus the per-op results of every attempted chunk.
// Cancellation stops scheduling further chunks; ops already committed stay
// committed, and ops in skipped chunks have no result entry.
func (s *Scheduler) Commit(ctx context.Context, kind WriteKind, ops []store.Op, onProgress ProgressFunc) (committed, failed int, results []store.OpResult) {
	if len(ops) == 0 {
		return 0, 0, nil
	}
	limit := s.config.Limits[kind]
	if limit <= 0 {
		limit = 400
	}

	emit := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	emit(Progress{Phase: "prepare", Total: len(ops), Pass: string(kind)})

	start := time.Now()
	for offset := 0; offset < len(ops); offset += limit {
		if ctx.Err() != nil {
			slog.Warn("Commit cancelled, remaining chunks skipped",
				slog.String("type", "store"),
				slog.String("pass", string(kind)),
				slog.Int("committed", committed))
			break
		}

		end := offset + limit
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[offset:end]

		for _, res := range s.store.BatchCommit(ctx, chunk) {
			results = append(results, res)
			if res.Outcome == store.OutcomeError {
				failed++
				slog.Warn("Batched write failed",
					slog.String("type", "store"),
					slog.String("path", res.Path),
					slog.Any("error", res.Err))
				continue
			}
			committed++
		}
		emit(Progress{Phase: "write", Current: end, Total: len(ops), Pass: string(kind)})

		if end < len(ops) && s.config.ChunkDelay > 0 {
			timer := time.NewTimer(s.config.ChunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	emit(Progress{Phase: "done", Current: committed + failed, Total: len(ops), Pass: string(kind)})
	slog.Info("Batch commit pass completed",
		slog.String("type", "store"),
		slog.String("pass", string(kind)),
		slog.Int("committed", committed),
		slog.Int("failed", failed),
		slog.Duration("took", time.Since(start)))
	return committed, failed, results
}
