// Package store persists the pipeline's catalog reads, price writes and run
// audit trail. PostgresStore is the production backend; SQLiteStore serves
// local runs and tests.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cardsync/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	SetKey string          `json:"set_key,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Catalog reads the internal catalog. It is read-only to the pipeline.
type Catalog interface {
	// LoadPrintings returns the printings of a set in one language, ordered by id.
	LoadPrintings(ctx context.Context, setKey, language string) ([]model.Printing, error)
	// LoadCanonicals returns the canonical cards for the given slugs. Missing
	// slugs are simply absent from the map.
	LoadCanonicals(ctx context.Context, slugs []string) (map[string]model.CanonicalCard, error)
	// ProviderSetID resolves a set key to the provider's set id, or "" if unmapped.
	ProviderSetID(ctx context.Context, provider, setKey string) (string, error)
}

// PriceWriter performs the idempotent batched writes. Each call returns the
// number of rows affected.
type PriceWriter interface {
	UpsertMappings(ctx context.Context, rows []model.MappingRow) (int64, error)
	UpsertLatestPrices(ctx context.Context, rows []model.LatestPriceRow) (int64, error)
	InsertHistory(ctx context.Context, rows []model.HistoryPoint) (int64, error)
	UpsertVariantMetrics(ctx context.Context, rows []model.VariantMetricRow) (int64, error)
}

// Recomputer triggers downstream signal recomputation.
type Recomputer interface {
	RecomputeSignals(ctx context.Context, keys []model.MetricKey) error
	RecomputeAll(ctx context.Context) error
}

// RunLog is the audit trail of backfill runs and fetched pages.
type RunLog interface {
	RecordRun(ctx context.Context, rec model.RunRecord) error
	GetRun(ctx context.Context, id string) (*model.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error)
	ArchivePage(ctx context.Context, rec model.PageArchive) error
}

// Store is the full persistence interface.
type Store interface {
	Catalog
	PriceWriter
	Recomputer
	RunLog

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// Open connects to the backend named by cfg.Driver ("postgres" or "sqlite").
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns})
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
