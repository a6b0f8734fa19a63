package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hyecorp/scantrack/scantrack"
	"github.com/hyecorp/scantrack/scantrack/importer"
	"github.com/hyecorp/scantrack/scantrack/logger"
	"github.com/hyecorp/scantrack/scantrack/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	kind := flag.String("kind", "players", "import kind: players or guilds")
	file := flag.String("file", "", "path to scan export (CSV)")
	dryRun := flag.Bool("dry-run", false, "run against an in-memory store")
	flag.Parse()

	cfg, err := scantrack.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))

	slog.Info("Starting scantrack import",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("kind", *kind),
		slog.String("file", *file))

	importKind := importer.KindPlayer
	switch *kind {
	case "players", "player":
	case "guilds", "guild":
		importKind = importer.KindGuild
	default:
		slog.Error("Unknown import kind", slog.String("kind", *kind))
		os.Exit(1)
	}

	if *file == "" {
		slog.Error("No export file given, use -file")
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		slog.Error("Failed to open export file", slog.Any("error", err))
		os.Exit(1)
	}
	defer f.Close()

	rows, err := importer.ReadRows(f)
	if err != nil {
		slog.Error("Failed to parse export file", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Export parsed", slog.String("type", "imp"), slog.Int("rows", len(rows)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var docStore store.DocStore
	if *dryRun {
		docStore = store.NewMemoryStore()
		slog.Info("Dry run: using in-memory store")
	} else {
		connectStart := time.Now()
		mongoStore, err := store.NewMongoStore(ctx, store.MongoConfig{
			URI:      cfg.Store.URI,
			Database: cfg.Store.Database,
			Retries:  cfg.Store.Retries,
			Backoff:  time.Duration(cfg.Store.BackoffMs) * time.Millisecond,
		})
		if err != nil {
			slog.Error("Store connection failed",
				slog.Any("error", err),
				slog.Duration("attempted_for", time.Since(connectStart)))
			os.Exit(1)
		}
		defer mongoStore.Close(context.Background())
		docStore = mongoStore
	}

	cache, err := importer.NewLatestCache(cfg.Import.CacheSize,
		time.Duration(cfg.Import.CacheTTLMinutes)*time.Minute)
	if err != nil {
		slog.Error("Failed to create latest cache", slog.Any("error", err))
		os.Exit(1)
	}

	sched := importer.DefaultSchedulerConfig()
	if cfg.Import.LatestBatchSize > 0 {
		sched.Limits[importer.WriteKindLatest] = cfg.Import.LatestBatchSize
	}
	if cfg.Import.RollupBatchSize > 0 {
		sched.Limits[importer.WriteKindRollups] = cfg.Import.RollupBatchSize
	}
	if cfg.Import.RankingBatchSize > 0 {
		sched.Limits[importer.WriteKindRankings] = cfg.Import.RankingBatchSize
	}
	if cfg.Import.ChunkDelayMs > 0 {
		sched.ChunkDelay = time.Duration(cfg.Import.ChunkDelayMs) * time.Millisecond
	}

	imp := importer.New(docStore, importer.Options{
		Executor:   importer.BulkExecutor{Concurrency: int64(cfg.Import.BulkConcurrency)},
		Cache:      cache,
		Classifier: importer.DefaultClassifier(cfg.Import.MaxWinsColumns),
		Scheduler:  sched,
	})

	report, err := imp.ImportRows(ctx, importKind, rows, func(p importer.Progress) {
		if p.Phase == "write" {
			slog.Info("Commit progress",
				slog.String("type", "store"),
				slog.String("pass", p.Pass),
				slog.String("progress", fmt.Sprintf("%d/%d", p.Current, p.Total)))
		}
	})
	if err != nil {
		slog.Error("Import failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Import report",
		slog.String("type", "imp"),
		slog.Int("rows_total", report.Counts.RowsTotal),
		slog.Int("missing_id", report.Counts.MissingID),
		slog.Int("missing_server", report.Counts.MissingServer),
		slog.Int("bad_timestamp", report.Counts.BadTimestamp),
		slog.Int("scans_created", report.Counts.ScansCreated),
		slog.Int("scans_duplicate", report.Counts.ScansDuplicate),
		slog.Int("scans_failed", report.Counts.ScansFailed),
		slog.Int("entities_advanced", report.Counts.EntitiesAdvanced),
		slog.Int("rollups_written", report.Counts.RollupsWritten),
		slog.Int("ranking_shards", report.Counts.RankingShards),
		slog.Duration("took", report.Duration))
	for _, warning := range report.Warnings {
		slog.Warn(warning, slog.String("type", "imp"))
	}
	if len(report.Errors) > 0 {
		slog.Warn("Import finished with row errors",
			slog.String("type", "imp"),
			slog.Int("errors", len(report.Errors)))
	}
}
