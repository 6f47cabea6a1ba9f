package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cardsync/internal/db"
	"github.com/sells-group/cardsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) LoadPrintings(ctx context.Context, setKey, language string) ([]model.Printing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, canonical_slug, COALESCE(card_number, ''), finish, edition, stamp, language,
		        set_code, COALESCE(set_name, '')
		 FROM printings WHERE set_code = $1 AND language = $2 ORDER BY id`,
		setKey, language,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load printings %s", setKey)
	}
	defer rows.Close()

	var out []model.Printing
	for rows.Next() {
		var p model.Printing
		var finish, edition string
		if err := rows.Scan(&p.ID, &p.CanonicalSlug, &p.CardNumber, &finish, &edition, &p.Stamp,
			&p.Language, &p.SetCode, &p.SetName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan printing")
		}
		p.Finish = model.Finish(finish)
		p.Edition = model.Edition(edition)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate printings")
}

func (s *PostgresStore) LoadCanonicals(ctx context.Context, slugs []string) (map[string]model.CanonicalCard, error) {
	out := make(map[string]model.CanonicalCard, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT slug, name, COALESCE(subject, ''), COALESCE(set_name, ''), COALESCE(card_number, '')
		 FROM canonical_cards WHERE slug = ANY($1)`,
		slugs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load canonicals")
	}
	defer rows.Close()

	for rows.Next() {
		var c model.CanonicalCard
		if err := rows.Scan(&c.Slug, &c.Name, &c.Subject, &c.SetName, &c.CardNumber); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical")
		}
		out[c.Slug] = c
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate canonicals")
}

func (s *PostgresStore) ProviderSetID(ctx context.Context, provider, setKey string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT provider_set_id FROM provider_set_mappings WHERE provider = $1 AND set_code = $2`,
		provider, setKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: provider set id %s", setKey)
	}
	return id, nil
}

// --- PriceWriter ---

var (
	mappingUpsert = db.UpsertConfig{
		Table: "provider_mappings",
		Columns: []string{"provider", "mapping_type", "printing_id", "provider_card_id",
			"provider_variant_id", "confidence", "match_reasons", "updated_at"},
		ConflictKeys: []string{"provider", "mapping_type", "printing_id"},
	}
	latestUpsert = db.UpsertConfig{
		Table: "provider_latest_prices",
		Columns: []string{"provider_variant_id", "provider", "grade", "price_type", "price",
			"observed_at", "printing_id", "canonical_slug"},
		ConflictKeys: []string{"provider_variant_id", "provider", "grade", "price_type"},
	}
	historyInsert = db.UpsertConfig{
		Table:        "provider_price_history",
		Columns:      []string{"provider", "variant_ref", "ts", "source_window", "price"},
		ConflictKeys: []string{"provider", "variant_ref", "ts", "source_window"},
	}
	metricUpsert = db.UpsertConfig{
		Table: "provider_variant_metrics",
		Columns: []string{"canonical_slug", "printing_id", "provider", "grade", "trend_slope_7d",
			"cov_price_30d", "price_relative_to_30d_range", "min_price_30d", "max_price_30d",
			"history_points_30d", "as_of"},
		ConflictKeys: []string{"canonical_slug", "printing_id", "provider", "grade"},
	}
)

func (s *PostgresStore) UpsertMappings(ctx context.Context, rows []model.MappingRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		reasons := r.MatchReasons
		if reasons == nil {
			reasons = []string{}
		}
		vals[i] = []any{r.Provider, r.MappingType, r.PrintingID, r.ProviderCardID,
			r.ProviderVariantID, r.Confidence, reasons, r.UpdatedAt.UTC()}
	}
	return db.BulkUpsert(ctx, s.pool, mappingUpsert, vals)
}

func (s *PostgresStore) UpsertLatestPrices(ctx context.Context, rows []model.LatestPriceRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.ProviderVariantID, r.Provider, r.Grade, r.PriceType, r.Price,
			r.ObservedAt.UTC(), r.PrintingID, r.CanonicalSlug}
	}
	return db.BulkUpsert(ctx, s.pool, latestUpsert, vals)
}

func (s *PostgresStore) InsertHistory(ctx context.Context, rows []model.HistoryPoint) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.Provider, r.VariantRef, r.Timestamp.UTC(), r.SourceWindow, r.Price}
	}
	return db.BulkInsertIgnore(ctx, s.pool, historyInsert, vals)
}

func (s *PostgresStore) UpsertVariantMetrics(ctx context.Context, rows []model.VariantMetricRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.CanonicalSlug, r.PrintingID, r.Provider, r.Grade, r.TrendSlope7d,
			r.CovPrice30d, r.PriceRelativeTo30dRange, r.MinPrice30d, r.MaxPrice30d,
			r.HistoryPoints30d, r.AsOf.UTC()}
	}
	return db.BulkUpsert(ctx, s.pool, metricUpsert, vals)
}

// --- Recomputer ---

// RecomputeSignals calls the downstream refresh_variant_signals function
// with the touched keys as a JSON array.
func (s *PostgresStore) RecomputeSignals(ctx context.Context, keys []model.MetricKey) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(keys)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metric keys")
	}
	if _, err := s.pool.Exec(ctx, `SELECT refresh_variant_signals($1::jsonb)`, string(payload)); err != nil {
		return eris.Wrapf(err, "postgres: refresh variant signals (%d keys)", len(keys))
	}
	return nil
}

func (s *PostgresStore) RecomputeAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `SELECT refresh_all_variant_signals()`)
	return eris.Wrap(err, "postgres: refresh all variant signals")
}

// --- RunLog ---

func (s *PostgresStore) RecordRun(ctx context.Context, rec model.RunRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_backfill_runs
		 (id, provider, set_key, provider_set_id, status, ok, matched, hard_failures, summary, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Provider, rec.SetKey, rec.ProviderSetID, string(rec.Status), rec.OK,
		rec.Matched, rec.HardFailures, string(rec.Summary), rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record run %s", rec.ID)
}

const runColumns = `id, provider, set_key, COALESCE(provider_set_id, ''), status, ok, matched,
	hard_failures, summary, started_at, finished_at`

func scanRunRecord(row pgx.Row) (*model.RunRecord, error) {
	var r model.RunRecord
	var status string
	var summary []byte
	if err := row.Scan(&r.ID, &r.Provider, &r.SetKey, &r.ProviderSetID, &status, &r.OK,
		&r.Matched, &r.HardFailures, &summary, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.Summary = json.RawMessage(summary)
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	r, err := scanRunRecord(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM provider_backfill_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM provider_backfill_runs WHERE true`
	var args []any
	if filter.SetKey != "" {
		args = append(args, filter.SetKey)
		query += fmt.Sprintf(` AND set_key = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		r, err := scanRunRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) ArchivePage(ctx context.Context, rec model.PageArchive) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_page_archive
		 (run_id, provider, provider_set_id, fetch_window, page, http_status, ok, error, body_sample, truncated, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`,
		rec.RunID, rec.Provider, rec.ProviderSetID, rec.Window, rec.Page, rec.HTTPStatus, rec.OK,
		rec.Error, rec.BodySample, rec.Truncated, rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: archive page %d of %s", rec.Page, rec.ProviderSetID)
}
