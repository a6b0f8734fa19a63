package scantrack

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	Store  StoreConfig  `toml:"store"`
	Import ImportConfig `toml:"import"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type StoreConfig struct {
	URI       string `toml:"uri"`
	Database  string `toml:"database"`
	Retries   int    `toml:"retries"`
	BackoffMs int    `toml:"backoff_ms"`
}

type ImportConfig struct {
	LatestBatchSize  int      `toml:"latest_batch_size"`
	RollupBatchSize  int      `toml:"rollup_batch_size"`
	RankingBatchSize int      `toml:"ranking_batch_size"`
	ChunkDelayMs     int      `toml:"chunk_delay_ms"`
	BulkConcurrency  int      `toml:"bulk_concurrency"`
	CacheSize        int      `toml:"cache_size"`
	CacheTTLMinutes  int      `toml:"cache_ttl_minutes"`
	MaxWinsColumns   []string `toml:"max_wins_columns"` // extra fold-classifier substrings
}
