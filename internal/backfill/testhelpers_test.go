package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/fetcher"
	"github.com/sells-group/cardsync/internal/match"
	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/persist"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/resilience"
	"github.com/sells-group/cardsync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

var cardNames = []string{
	"Alakazam", "Blastoise", "Chansey", "Charizard", "Clefairy", "Gyarados",
	"Hitmonchan", "Machamp", "Magneton", "Mewtwo", "Nidoking",
}

func fptr(v float64) *float64 { return &v }

// catalogSeed builds n HOLO printings in set base1, each with its canonical card.
func catalogSeed(n int) store.CatalogSeed {
	var seed store.CatalogSeed
	for i := 1; i <= n; i++ {
		name := cardNames[i-1]
		slug := fmt.Sprintf("%s-base1-%d", name, i)
		seed.Canonicals = append(seed.Canonicals, model.CanonicalCard{
			Slug: slug, Name: name, SetName: "Base Set", CardNumber: strconv.Itoa(i),
		})
		seed.Printings = append(seed.Printings, model.Printing{
			ID:            fmt.Sprintf("base1-%02d", i),
			CanonicalSlug: slug,
			CardNumber:    strconv.Itoa(i),
			Finish:        model.FinishHolo,
			Edition:       model.EditionUnlimited,
			Language:      "EN",
			SetCode:       "base1",
			SetName:       "Base Set",
		})
	}
	seed.SetMappings = []store.SetMapping{{Provider: "justtcg", SetKey: "base1", ProviderSetID: "base-set-pokemon"}}
	return seed
}

// fakeProvider serves a paged card catalog. Windows listed in fail answer 500.
type fakeProvider struct {
	mu       sync.Mutex
	cards    int
	fail     map[string]bool
	noStats  map[int]bool
	dupHolo  map[int]bool
	requests int
}

func (p *fakeProvider) historyFor(window string) []model.PricePoint {
	limit := map[string]int{"allTime": 10000, "365d": 365, "90d": 90, "30d": 30, "7d": 7}[window]
	var out []model.PricePoint
	for _, age := range []int{60, 20, 2, 0} {
		if age == 0 && window != "7d" {
			continue
		}
		if age <= limit {
			out = append(out, model.PricePoint{Price: float64(100 + age), Timestamp: testNow.AddDate(0, 0, -age).Unix()})
		}
	}
	return out
}

func (p *fakeProvider) catalog(window string) []model.ProviderCard {
	out := make([]model.ProviderCard, 0, p.cards)
	for i := 1; i <= p.cards; i++ {
		holo := model.ProviderVariant{
			ID:                      fmt.Sprintf("v%d-holo", i),
			Printing:                "Holofoil",
			Condition:               "Near Mint",
			Price:                   fptr(float64(100 + i)),
			LastUpdated:             testNow.Add(-time.Hour).Unix(),
			PriceHistory:            p.historyFor(window),
			TrendSlope7d:            fptr(0.25),
			CovPrice30d:             fptr(0.05),
			PriceRelativeTo30dRange: fptr(0.5),
			MinPrice30d:             fptr(90),
			MaxPrice30d:             fptr(120),
		}
		if p.noStats[i] {
			holo.TrendSlope7d, holo.CovPrice30d, holo.PriceRelativeTo30dRange = nil, nil, nil
		}
		card := model.ProviderCard{
			ID:     fmt.Sprintf("card-%d", i),
			Name:   cardNames[i-1],
			Number: strconv.Itoa(i),
			SetID:  "base-set-pokemon",
			Variants: []model.ProviderVariant{
				holo,
				{ID: fmt.Sprintf("v%d-normal", i), Printing: "Normal", Condition: "Near Mint", Price: fptr(5)},
			},
		}
		if p.dupHolo[i] {
			dup := holo
			dup.ID = fmt.Sprintf("v%d-holo-dup", i)
			card.Variants = append(card.Variants, dup)
		}
		out = append(out, card)
	}
	return out
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requests++
	p.mu.Unlock()

	q := r.URL.Query()
	window := q.Get("priceHistoryDuration")
	if r.Header.Get("x-api-key") != "test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if p.fail[window] {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
		return
	}
	if q.Get("set") != "base-set-pokemon" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	all := p.catalog(window)
	end := min(offset+limit, len(all))
	page := []model.ProviderCard{}
	if offset < len(all) {
		page = all[offset:end]
	}

	var body struct {
		Data []model.ProviderCard `json:"data"`
		Meta struct {
			Total   int  `json:"total"`
			HasMore bool `json:"hasMore"`
		} `json:"meta"`
	}
	body.Data = page
	body.Meta.Total = len(all)
	body.Meta.HasMore = end < len(all)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (p *fakeProvider) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

type harness struct {
	runner *Runner
	store  *store.SQLiteStore
	prov   *fakeProvider
}

func newHarness(t *testing.T, seed store.CatalogSeed, prov *fakeProvider) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "backfill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SeedCatalog(ctx, seed))

	srv := httptest.NewServer(prov)
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    5 * time.Second,
		RatePerSec: 1000,
		Burst:      100,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	})
	client := provider.NewClient(provider.Config{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		PageSize: 4,
		MaxPages: 10,
	}, f)
	resolver := match.NewResolver(match.NewScorer(match.DefaultWeights()), nil)

	r := NewRunner(st, client, resolver, Config{
		DefaultWindow: provider.Window90d,
		RecentWindow:  provider.Window7d,
		Persist:       persist.Config{BatchSize: 3, RecomputeBatchSize: 4, RowFallback: true},
	})
	r.now = func() time.Time { return testNow }
	var seq int
	r.newID = func() string {
		seq++
		return fmt.Sprintf("run-%03d", seq)
	}
	return &harness{runner: r, store: st, prov: prov}
}

func (h *harness) counts(t *testing.T) map[string]int64 {
	t.Helper()
	c, err := h.store.TableCounts(context.Background())
	require.NoError(t, err)
	return c
}
