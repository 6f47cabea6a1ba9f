package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cardsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "cardsync.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	names, err := migrationFiles("sqlite")
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/sqlite/" + name)
		if err != nil {
			return eris.Wrapf(err, "sqlite: read migration %s", name)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) LoadPrintings(ctx context.Context, setKey, language string) ([]model.Printing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, canonical_slug, COALESCE(card_number, ''), finish, edition, stamp, language,
		        set_code, COALESCE(set_name, '')
		 FROM printings WHERE set_code = ? AND language = ? ORDER BY id`,
		setKey, language,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load printings %s", setKey)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Printing
	for rows.Next() {
		var p model.Printing
		var finish, edition string
		var stamp sql.NullString
		if err := rows.Scan(&p.ID, &p.CanonicalSlug, &p.CardNumber, &finish, &edition, &stamp,
			&p.Language, &p.SetCode, &p.SetName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan printing")
		}
		p.Finish = model.Finish(finish)
		p.Edition = model.Edition(edition)
		if stamp.Valid && stamp.String != "" {
			p.Stamp = &stamp.String
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate printings")
}

func (s *SQLiteStore) LoadCanonicals(ctx context.Context, slugs []string) (map[string]model.CanonicalCard, error) {
	out := make(map[string]model.CanonicalCard, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	args := make([]any, len(slugs))
	for i, s := range slugs {
		args[i] = s
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, name, COALESCE(subject, ''), COALESCE(set_name, ''), COALESCE(card_number, '')
		 FROM canonical_cards WHERE slug IN (`+placeholders(len(slugs))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load canonicals")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var c model.CanonicalCard
		if err := rows.Scan(&c.Slug, &c.Name, &c.Subject, &c.SetName, &c.CardNumber); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical")
		}
		out[c.Slug] = c
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate canonicals")
}

func (s *SQLiteStore) ProviderSetID(ctx context.Context, provider, setKey string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_set_id FROM provider_set_mappings WHERE provider = ? AND set_code = ?`,
		provider, setKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: provider set id %s", setKey)
	}
	return id, nil
}

// --- PriceWriter ---

// execBatch runs one statement per row inside a single transaction and sums
// rows affected. Any error rolls back the whole batch.
func (s *SQLiteStore) execBatch(ctx context.Context, table, stmt string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	prep, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: prepare", table)
	}
	defer prep.Close() //nolint:errcheck

	var total int64
	for _, args := range rows {
		res, err := prep.ExecContext(ctx, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: %s: exec", table)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: commit", table)
	}
	return total, nil
}

func (s *SQLiteStore) UpsertMappings(ctx context.Context, rows []model.MappingRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		reasons, err := json.Marshal(r.MatchReasons)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal match reasons")
		}
		vals[i] = []any{r.Provider, r.MappingType, r.PrintingID, r.ProviderCardID,
			r.ProviderVariantID, r.Confidence, string(reasons), r.UpdatedAt.UTC()}
	}
	return s.execBatch(ctx, "provider_mappings",
		`INSERT INTO provider_mappings
		 (provider, mapping_type, printing_id, provider_card_id, provider_variant_id, confidence, match_reasons, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, mapping_type, printing_id) DO UPDATE SET
		   provider_card_id = excluded.provider_card_id,
		   provider_variant_id = excluded.provider_variant_id,
		   confidence = excluded.confidence,
		   match_reasons = excluded.match_reasons,
		   updated_at = excluded.updated_at`,
		vals)
}

func (s *SQLiteStore) UpsertLatestPrices(ctx context.Context, rows []model.LatestPriceRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.ProviderVariantID, r.Provider, r.Grade, r.PriceType, r.Price,
			r.ObservedAt.UTC(), r.PrintingID, r.CanonicalSlug}
	}
	return s.execBatch(ctx, "provider_latest_prices",
		`INSERT INTO provider_latest_prices
		 (provider_variant_id, provider, grade, price_type, price, observed_at, printing_id, canonical_slug)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider_variant_id, provider, grade, price_type) DO UPDATE SET
		   price = excluded.price,
		   observed_at = excluded.observed_at,
		   printing_id = excluded.printing_id,
		   canonical_slug = excluded.canonical_slug`,
		vals)
}

func (s *SQLiteStore) InsertHistory(ctx context.Context, rows []model.HistoryPoint) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.Provider, r.VariantRef, r.Timestamp.UTC(), r.SourceWindow, r.Price}
	}
	return s.execBatch(ctx, "provider_price_history",
		`INSERT OR IGNORE INTO provider_price_history (provider, variant_ref, ts, source_window, price)
		 VALUES (?, ?, ?, ?, ?)`,
		vals)
}

func (s *SQLiteStore) UpsertVariantMetrics(ctx context.Context, rows []model.VariantMetricRow) (int64, error) {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.CanonicalSlug, r.PrintingID, r.Provider, r.Grade, r.TrendSlope7d,
			r.CovPrice30d, r.PriceRelativeTo30dRange, r.MinPrice30d, r.MaxPrice30d,
			r.HistoryPoints30d, r.AsOf.UTC()}
	}
	return s.execBatch(ctx, "provider_variant_metrics",
		`INSERT INTO provider_variant_metrics
		 (canonical_slug, printing_id, provider, grade, trend_slope_7d, cov_price_30d,
		  price_relative_to_30d_range, min_price_30d, max_price_30d, history_points_30d, as_of)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (canonical_slug, printing_id, provider, grade) DO UPDATE SET
		   trend_slope_7d = excluded.trend_slope_7d,
		   cov_price_30d = excluded.cov_price_30d,
		   price_relative_to_30d_range = excluded.price_relative_to_30d_range,
		   min_price_30d = excluded.min_price_30d,
		   max_price_30d = excluded.max_price_30d,
		   history_points_30d = excluded.history_points_30d,
		   as_of = excluded.as_of`,
		vals)
}

// --- Recomputer ---

// RecomputeSignals queues the keys in metric_refresh_queue for the
// downstream signal job.
func (s *SQLiteStore) RecomputeSignals(ctx context.Context, keys []model.MetricKey) error {
	now := time.Now().UTC()
	vals := make([][]any, len(keys))
	for i, k := range keys {
		vals[i] = []any{k.CanonicalSlug, k.VariantRef, k.Provider, k.Grade, now}
	}
	_, err := s.execBatch(ctx, "metric_refresh_queue",
		`INSERT INTO metric_refresh_queue (canonical_slug, variant_ref, provider, grade, requested_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (canonical_slug, variant_ref, provider, grade) DO UPDATE SET
		   requested_at = excluded.requested_at`,
		vals)
	return err
}

// RecomputeAll queues the wildcard key, which the signal job treats as a
// full refresh.
func (s *SQLiteStore) RecomputeAll(ctx context.Context) error {
	return s.RecomputeSignals(ctx, []model.MetricKey{{CanonicalSlug: "*", VariantRef: "*", Provider: "*", Grade: "*"}})
}

// --- RunLog ---

func (s *SQLiteStore) RecordRun(ctx context.Context, rec model.RunRecord) error {
	summary := string(rec.Summary)
	if summary == "" {
		summary = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_backfill_runs
		 (id, provider, set_key, provider_set_id, status, ok, matched, hard_failures, summary, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.SetKey, rec.ProviderSetID, string(rec.Status), rec.OK,
		rec.Matched, rec.HardFailures, summary, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record run %s", rec.ID)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.RunRecord, error) {
	var r model.RunRecord
	var status, summary string
	var setID sql.NullString
	if err := row.Scan(&r.ID, &r.Provider, &r.SetKey, &setID, &status, &r.OK,
		&r.Matched, &r.HardFailures, &summary, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.ProviderSetID = setID.String
	r.Status = model.RunStatus(status)
	r.Summary = json.RawMessage(summary)
	return &r, nil
}

const sqliteRunColumns = `id, provider, set_key, provider_set_id, status, ok, matched, hard_failures,
	summary, started_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM provider_backfill_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM provider_backfill_runs WHERE 1=1`
	var args []any
	if filter.SetKey != "" {
		query += ` AND set_key = ?`
		args = append(args, filter.SetKey)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunRecord
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ArchivePage(ctx context.Context, rec model.PageArchive) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_page_archive
		 (run_id, provider, provider_set_id, fetch_window, page, http_status, ok, error, body_sample, truncated, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		rec.RunID, rec.Provider, rec.ProviderSetID, rec.Window, rec.Page, rec.HTTPStatus, rec.OK,
		rec.Error, rec.BodySample, rec.Truncated, rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: archive page %d of %s", rec.Page, rec.ProviderSetID)
}

// --- local catalog seeding ---

// SetMapping links an internal set to a provider set id.
type SetMapping struct {
	Provider      string `json:"provider" yaml:"provider"`
	SetKey        string `json:"set_key" yaml:"set_key"`
	ProviderSetID string `json:"provider_set_id" yaml:"provider_set_id"`
}

// CatalogSeed is a catalog snapshot for local databases.
type CatalogSeed struct {
	Canonicals  []model.CanonicalCard `json:"canonicals" yaml:"canonicals"`
	Printings   []model.Printing      `json:"printings" yaml:"printings"`
	SetMappings []SetMapping          `json:"set_mappings" yaml:"set_mappings"`
}

// SeedCatalog loads a catalog snapshot, replacing rows with the same keys.
// Production catalogs are owned by the catalog import; this exists for
// local runs and tests.
func (s *SQLiteStore) SeedCatalog(ctx context.Context, seed CatalogSeed) error {
	canon := make([][]any, len(seed.Canonicals))
	for i, c := range seed.Canonicals {
		canon[i] = []any{c.Slug, c.Name, c.Subject, c.SetName, c.CardNumber}
	}
	if _, err := s.execBatch(ctx, "canonical_cards",
		`INSERT OR REPLACE INTO canonical_cards (slug, name, subject, set_name, card_number) VALUES (?, ?, ?, ?, ?)`,
		canon); err != nil {
		return err
	}

	prints := make([][]any, len(seed.Printings))
	for i, p := range seed.Printings {
		var stamp any
		if p.HasStamp() {
			stamp = *p.Stamp
		}
		finish, edition, lang := p.Finish, p.Edition, p.Language
		if finish == "" {
			finish = model.FinishUnknown
		}
		if edition == "" {
			edition = model.EditionUnknown
		}
		if lang == "" {
			lang = "EN"
		}
		prints[i] = []any{p.ID, p.CanonicalSlug, p.CardNumber, string(finish), string(edition), stamp, lang, p.SetCode, p.SetName}
	}
	if _, err := s.execBatch(ctx, "printings",
		`INSERT OR REPLACE INTO printings
		 (id, canonical_slug, card_number, finish, edition, stamp, language, set_code, set_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prints); err != nil {
		return err
	}

	maps := make([][]any, len(seed.SetMappings))
	for i, m := range seed.SetMappings {
		maps[i] = []any{m.Provider, m.SetKey, m.ProviderSetID}
	}
	_, err := s.execBatch(ctx, "provider_set_mappings",
		`INSERT OR REPLACE INTO provider_set_mappings (provider, set_code, provider_set_id) VALUES (?, ?, ?)`,
		maps)
	return err
}

// pipelineTables are the tables written by a backfill run.
var pipelineTables = []string{
	"provider_mappings",
	"provider_latest_prices",
	"provider_price_history",
	"provider_variant_metrics",
	"provider_backfill_runs",
	"provider_page_archive",
	"metric_refresh_queue",
}

// TableCounts returns the row count of every pipeline-written table.
func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(pipelineTables))
	for _, t := range pipelineTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", t)
		}
		out[t] = n
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
