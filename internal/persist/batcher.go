package persist

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cardsync/internal/db"
	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/store"
)

// Config tunes batch sizes and failure handling.
type Config struct {
	BatchSize          int  `yaml:"batch_size" mapstructure:"batch_size"`
	RecomputeBatchSize int  `yaml:"recompute_batch_size" mapstructure:"recompute_batch_size"`
	RowFallback        bool `yaml:"row_fallback" mapstructure:"row_fallback"`
}

const (
	defaultBatchSize          = 500
	defaultRecomputeBatchSize = 200
)

// Table names used in failure detail and results.
const (
	TableMappings     = "provider_mappings"
	TableLatestPrices = "provider_latest_prices"
	TableHistory      = "provider_price_history"
	TableMetrics      = "provider_variant_metrics"
	TableSignals      = "variant_signals"
)

// TableResult summarizes the writes to one table.
type TableResult struct {
	Table      string `json:"table"`
	Rows       int    `json:"rows"`
	Affected   int64  `json:"affected"`
	Batches    int    `json:"batches"`
	FailedRows int    `json:"failed_rows"`
	FirstError string `json:"first_error,omitempty"`
}

// RecomputeResult summarizes downstream signal recomputation.
type RecomputeResult struct {
	Keys       int    `json:"keys"`
	Batches    int    `json:"batches"`
	FellBack   bool   `json:"fell_back"`
	FirstError string `json:"first_error,omitempty"`
}

// Result is the outcome of persisting one run's rows.
type Result struct {
	Mappings     TableResult     `json:"mappings"`
	LatestPrices TableResult     `json:"latest_prices"`
	History      TableResult     `json:"history"`
	Metrics      TableResult     `json:"metrics"`
	Recompute    RecomputeResult `json:"recompute"`
	Failures     []model.Failure `json:"-"`
}

// Sink is the datastore surface the batcher writes to.
type Sink interface {
	store.PriceWriter
	store.Recomputer
}

// Batcher writes row sets with per-table concurrency and chunking.
type Batcher struct {
	sink Sink
	cfg  Config
	log  *zap.Logger
}

// NewBatcher creates a Batcher, applying defaults to zero config values.
func NewBatcher(sink Sink, cfg Config) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RecomputeBatchSize <= 0 {
		cfg.RecomputeBatchSize = defaultRecomputeBatchSize
	}
	return &Batcher{
		sink: sink,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "persist.batcher")),
	}
}

// Persist writes all four tables concurrently, then requests recomputation
// for the touched metric keys. Failures are recorded in the result and never
// stop other tables or later chunks.
func (b *Batcher) Persist(ctx context.Context, rows Rows) Result {
	var res Result
	var fMap, fLatest, fHist, fMetric []model.Failure
	var g errgroup.Group

	g.Go(func() error {
		res.Mappings, fMap = writeTable(ctx, b, TableMappings, rows.Mappings, b.sink.UpsertMappings,
			func(r model.MappingRow) string { return r.PrintingID })
		return nil
	})
	g.Go(func() error {
		res.LatestPrices, fLatest = writeTable(ctx, b, TableLatestPrices, rows.LatestPrices, b.sink.UpsertLatestPrices,
			func(r model.LatestPriceRow) string { return r.PrintingID })
		return nil
	})
	g.Go(func() error {
		res.History, fHist = writeTable(ctx, b, TableHistory, rows.History, b.sink.InsertHistory,
			func(r model.HistoryPoint) string { return r.VariantRef })
		return nil
	})
	g.Go(func() error {
		res.Metrics, fMetric = writeTable(ctx, b, TableMetrics, rows.Metrics, b.sink.UpsertVariantMetrics,
			func(r model.VariantMetricRow) string { return r.PrintingID })
		return nil
	})
	_ = g.Wait()

	res.Failures = append(res.Failures, fMap...)
	res.Failures = append(res.Failures, fLatest...)
	res.Failures = append(res.Failures, fHist...)
	res.Failures = append(res.Failures, fMetric...)

	var fRecompute *model.Failure
	res.Recompute, fRecompute = b.recompute(ctx, rows.Keys)
	if fRecompute != nil {
		res.Failures = append(res.Failures, *fRecompute)
	}

	b.log.Info("persisted rows",
		zap.Int64("mappings", res.Mappings.Affected),
		zap.Int64("latest_prices", res.LatestPrices.Affected),
		zap.Int64("history", res.History.Affected),
		zap.Int64("metrics", res.Metrics.Affected),
		zap.Int("recompute_keys", res.Recompute.Keys),
		zap.Int("failures", len(res.Failures)),
	)
	return res
}

// writeTable writes items in chunks. A failed chunk is retried row by row
// when row fallback is enabled; otherwise the whole chunk counts as failed.
func writeTable[T any](
	ctx context.Context,
	b *Batcher,
	table string,
	items []T,
	write func(context.Context, []T) (int64, error),
	key func(T) string,
) (TableResult, []model.Failure) {
	res := TableResult{Table: table, Rows: len(items)}
	var failures []model.Failure

	noteErr := func(err error) {
		if res.FirstError == "" {
			res.FirstError = err.Error()
		}
	}

	for _, chunk := range db.Chunk(items, b.cfg.BatchSize) {
		res.Batches++
		n, err := write(ctx, chunk)
		if err == nil {
			res.Affected += n
			continue
		}
		noteErr(err)
		b.log.Warn("batch write failed",
			zap.String("table", table),
			zap.Int("rows", len(chunk)),
			zap.Bool("row_fallback", b.cfg.RowFallback),
			zap.Error(err),
		)

		if !b.cfg.RowFallback {
			res.FailedRows += len(chunk)
			failures = append(failures, model.NewUpsertFailed(table, "", err.Error()))
			continue
		}
		for _, row := range chunk {
			n, err := write(ctx, []T{row})
			if err != nil {
				res.FailedRows++
				failures = append(failures, model.NewUpsertFailed(table, key(row), err.Error()))
				continue
			}
			res.Affected += n
		}
	}
	return res, failures
}

// recompute requests signal refresh for keys in bounded batches. The first
// keyed failure falls back to one full recomputation; if that also fails a
// DB_UPSERT_FAILED failure is returned.
func (b *Batcher) recompute(ctx context.Context, keys []model.MetricKey) (RecomputeResult, *model.Failure) {
	res := RecomputeResult{Keys: len(keys)}
	for _, chunk := range db.Chunk(keys, b.cfg.RecomputeBatchSize) {
		res.Batches++
		err := b.sink.RecomputeSignals(ctx, chunk)
		if err == nil {
			continue
		}
		res.FirstError = err.Error()
		res.FellBack = true
		b.log.Warn("keyed recompute failed, falling back to full recompute",
			zap.Int("keys", len(chunk)),
			zap.Error(err),
		)
		if err := b.sink.RecomputeAll(ctx); err != nil {
			b.log.Error("full recompute failed", zap.Error(err))
			f := model.NewUpsertFailed(TableSignals, "", err.Error())
			return res, &f
		}
		break
	}
	return res, nil
}
