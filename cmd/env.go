package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cardsync/internal/backfill"
	"github.com/sells-group/cardsync/internal/fetcher"
	"github.com/sells-group/cardsync/internal/match"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/store"
)

// initStore opens the configured store and applies pending migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRunner builds the store, provider client and resolver behind a backfill
// Runner. Callers close the returned store.
func initRunner(ctx context.Context, mode string) (*backfill.Runner, store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, nil, err
	}

	repairs, err := match.LoadRepairs(cfg.Match.RepairsPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := provider.NewClient(cfg.ProviderOptions(), fetcher.NewHTTPFetcher(cfg.HTTPOptions()))
	resolver := match.NewResolver(match.NewScorer(cfg.Match.Weights), repairs)
	return backfill.NewRunner(st, client, resolver, cfg.BackfillOptions()), st, nil
}
