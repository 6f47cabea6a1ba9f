// Package backfill runs the end-to-end provider backfill for one set:
// precondition load, windowed fetch, matching, persistence and the run record.
package backfill

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cardsync/internal/match"
	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/persist"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/store"
)

// Config holds orchestrator settings.
type Config struct {
	DefaultWindow provider.Window
	RecentWindow  provider.Window
	Persist       persist.Config
}

// Runner executes backfill runs. It holds no per-run state and is safe for
// concurrent use across different sets.
type Runner struct {
	store    store.Store
	client   *provider.Client
	resolver *match.Resolver
	cfg      Config

	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, client *provider.Client, resolver *match.Resolver, cfg Config) *Runner {
	if cfg.DefaultWindow == "" {
		cfg.DefaultWindow = provider.Window90d
	}
	return &Runner{
		store:    st,
		client:   client,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// run is the per-invocation state threaded through the stages.
type run struct {
	res        *Result
	rep        *Report
	opts       Options
	printings  []model.Printing
	canonicals map[string]model.CanonicalCard
	log        *zap.Logger
	completed  bool
}

// RunBackfill executes one run for setKey. Operational failures are reported
// in the result; the error return is reserved for invalid arguments. Every run
// ends FINISHED; an aborted run records the stage it stopped in as
// FailedStage.
func (r *Runner) RunBackfill(ctx context.Context, setKey string, opts Options) (*Result, error) {
	if setKey == "" {
		return nil, eris.New("backfill: set key is required")
	}
	if opts.Language == "" {
		opts.Language = "EN"
	}

	st := &run{
		res: &Result{
			RunID:     r.newID(),
			Provider:  r.client.Name(),
			SetKey:    setKey,
			Language:  opts.Language,
			DryRun:    opts.DryRun,
			Stage:     StageStarted,
			StartedAt: r.now().UTC(),
		},
		rep:  NewReport(),
		opts: opts,
	}
	st.log = zap.L().With(
		zap.String("component", "backfill.runner"),
		zap.String("run_id", st.res.RunID),
		zap.String("set_key", setKey),
		zap.Bool("dry_run", opts.DryRun),
	)
	st.log.Info("backfill started", zap.Bool("aggressive", opts.Aggressive), zap.String("language", opts.Language))

	if r.loadPreconditions(ctx, st) {
		if sf, recent, ok := r.fetchCards(ctx, st); ok {
			matches := r.resolve(st, sf)
			r.write(ctx, st, sf, recent, matches)
			st.completed = true
		}
	}
	return r.finish(ctx, st), nil
}

func (r *Runner) loadPreconditions(ctx context.Context, st *run) bool {
	st.res.Stage = StagePrecondition
	setKey, opts := st.res.SetKey, st.opts

	var setID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.store.LoadPrintings(gctx, setKey, opts.Language)
		if err != nil {
			return eris.Wrap(err, "backfill: load printings")
		}
		st.printings = p
		return nil
	})
	g.Go(func() error {
		if opts.ProviderSetIDOverride != "" {
			setID = opts.ProviderSetIDOverride
			return nil
		}
		id, err := r.store.ProviderSetID(gctx, r.client.Name(), setKey)
		if err != nil {
			return eris.Wrap(err, "backfill: resolve provider set")
		}
		setID = id
		return nil
	})
	if err := g.Wait(); err != nil {
		st.rep.Add(model.NewUpsertFailed("catalog", "", err.Error()))
		return false
	}

	if len(st.printings) == 0 {
		st.rep.Add(model.Failure{
			Kind:    model.FailureMissingCanonical,
			Message: "no printings loaded for set",
			Detail:  map[string]any{"set_key": setKey, "language": opts.Language},
		})
		return false
	}
	st.res.Counts.PrintingsSelected = len(st.printings)

	slugs := make([]string, 0, len(st.printings))
	seen := make(map[string]bool)
	for _, p := range st.printings {
		if !seen[p.CanonicalSlug] {
			seen[p.CanonicalSlug] = true
			slugs = append(slugs, p.CanonicalSlug)
		}
	}
	canon, err := r.store.LoadCanonicals(ctx, slugs)
	if err != nil {
		st.rep.Add(model.NewUpsertFailed("canonical_cards", "", eris.Wrap(err, "backfill: load canonicals").Error()))
		return false
	}
	st.canonicals = canon

	missing := false
	for _, p := range st.printings {
		if _, ok := canon[p.CanonicalSlug]; !ok {
			st.rep.Add(model.NewMissingCanonical(p.ID, p.CanonicalSlug))
			missing = true
		}
	}
	if missing {
		st.log.Error("catalog incomplete, aborting", zap.Int("missing", st.rep.Count(model.FailureMissingCanonical)))
		return false
	}

	if setID == "" {
		st.rep.Add(model.NewFetchFailed("", "", "no provider set mapping for "+setKey))
		return false
	}
	st.res.ProviderSetID = setID
	return true
}

func (r *Runner) fetchCards(ctx context.Context, st *run) (provider.SetFetch, map[string]model.ProviderVariant, bool) {
	st.res.Stage = StageFetching
	setID := st.res.ProviderSetID

	var archiver provider.Archiver
	if !st.opts.DryRun {
		archiver = r.store
	}
	client := r.client.WithArchive(st.res.RunID, archiver)

	windows := provider.Cascade(st.opts.Aggressive, r.cfg.DefaultWindow)
	st.res.ProviderWindowRequested = windows[0]

	sf, attempts, err := client.FetchWithFallback(ctx, setID, windows)
	st.res.WindowAttempts = attempts
	if err != nil {
		last := windows[len(windows)-1]
		if len(attempts) > 0 {
			last = attempts[len(attempts)-1].Window
		}
		st.rep.Add(model.NewFetchFailed(setID, string(last), err.Error()))
		return sf, nil, false
	}
	st.res.ProviderWindowUsed = sf.Window
	st.res.Counts.ProviderCards = len(sf.Cards)
	if sf.Window != windows[0] {
		st.log.Warn("window fallback used",
			zap.String("requested", string(windows[0])),
			zap.String("used", string(sf.Window)),
		)
	}

	recentWindow := r.cfg.RecentWindow
	if recentWindow == "" || recentWindow == sf.Window {
		return sf, nil, true
	}
	rf, err := client.FetchSet(ctx, setID, recentWindow)
	if err != nil {
		st.res.RecentWindowError = err.Error()
		st.log.Warn("recent window fetch failed", zap.String("window", string(recentWindow)), zap.Error(err))
		return sf, nil, true
	}
	recent := make(map[string]model.ProviderVariant)
	for _, c := range rf.Cards {
		for _, v := range c.Variants {
			recent[v.ID] = v
		}
	}
	return sf, recent, true
}

func (r *Runner) resolve(st *run, sf provider.SetFetch) []persist.Match {
	st.res.Stage = StageMatching

	outcomes := r.resolver.Resolve(st.printings, st.canonicals, sf.Cards)
	matches := make([]persist.Match, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Kind != match.OutcomeMatched {
			if f := o.Failure(); f != nil {
				st.rep.Add(*f)
			}
			continue
		}
		matches = append(matches, persist.Match{
			Printing:   o.Printing,
			Canonical:  *o.Canonical,
			Card:       o.Match.Card,
			Variant:    o.Match.Variant,
			Confidence: o.Confidence,
			Reasons:    o.Match.Reasons,
		})
		st.rep.AddMapping(MappingSample{
			PrintingID:        o.Printing.ID,
			ProviderCardID:    o.Match.Card.ID,
			ProviderVariantID: o.Match.Variant.ID,
			Confidence:        o.Confidence,
			Reasons:           o.Match.Reasons,
			Manual:            o.Manual,
		})
		if o.Manual {
			st.res.Counts.ManualRepairs++
		}
	}
	st.res.Counts.Matched = len(matches)
	st.log.Info("matching complete",
		zap.Int("printings", len(st.printings)),
		zap.Int("matched", len(matches)),
		zap.Int("ambiguous", st.rep.Count(model.FailureAmbiguous)),
		zap.Int("no_match", st.rep.Count(model.FailureNoMatch)),
	)
	return matches
}

func (r *Runner) write(ctx context.Context, st *run, sf provider.SetFetch, recent map[string]model.ProviderVariant, matches []persist.Match) {
	st.res.Stage = StagePersisting

	rows := persist.Builder{
		Provider:      r.client.Name(),
		PrimaryWindow: string(sf.Window),
		RecentWindow:  string(r.cfg.RecentWindow),
		AsOf:          r.now(),
	}.Build(matches, recent)
	st.rep.AddAll(rows.Failures)

	if st.opts.DryRun {
		st.log.Info("dry run, skipping writes",
			zap.Int("mappings", len(rows.Mappings)),
			zap.Int("history", len(rows.History)),
		)
		return
	}

	pr := persist.NewBatcher(r.store, r.cfg.Persist).Persist(ctx, rows)
	st.rep.AddAll(pr.Failures)
	st.res.Persist = &pr
	st.res.Counts.MappingUpserts = pr.Mappings.Affected
	st.res.Counts.LatestPriceWrites = pr.LatestPrices.Affected
	st.res.Counts.HistoryPointsWritten = pr.History.Affected
	st.res.Counts.MetricRowsWritten = pr.Metrics.Affected
}

// finish closes the run and writes its record exactly once.
func (r *Runner) finish(ctx context.Context, st *run) *Result {
	res := st.res
	if !st.completed {
		res.FailedStage = res.Stage
	}
	res.Stage = StageFinished
	st.rep.apply(res)
	res.FinishedAt = r.now().UTC()

	if !st.opts.DryRun {
		if err := r.record(ctx, res); err != nil {
			st.log.Error("record run failed", zap.Error(err))
			st.rep.Add(model.NewUpsertFailed("provider_backfill_runs", "", err.Error()))
			st.rep.apply(res)
		}
	}

	log := st.log.With(
		zap.Bool("ok", res.OK),
		zap.String("failed_stage", string(res.FailedStage)),
		zap.Int("matched", res.Counts.Matched),
		zap.Int("hard_failures", res.Counts.HardFailures),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	if res.OK {
		log.Info("backfill finished")
	} else {
		log.Warn("backfill failed", zap.String("first_error", res.FirstError))
	}
	return res
}

func (r *Runner) record(ctx context.Context, res *Result) error {
	summary, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "backfill: marshal summary")
	}
	return r.store.RecordRun(ctx, model.RunRecord{
		ID:            res.RunID,
		Provider:      res.Provider,
		SetKey:        res.SetKey,
		ProviderSetID: res.ProviderSetID,
		Status:        res.Status(),
		OK:            res.OK,
		Matched:       res.Counts.Matched,
		HardFailures:  res.Counts.HardFailures,
		Summary:       summary,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	})
}
