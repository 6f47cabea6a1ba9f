package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/resilience"
)

// ErrPageCeiling is returned when a set fetch hits the configured page limit
// without the provider signalling the end.
var ErrPageCeiling = errors.New("provider: page ceiling reached")

// StopReason records why pagination ended.
type StopReason string

const (
	StopNoMore       StopReason = "no_more"
	StopShortPage    StopReason = "short_page"
	StopTotalReached StopReason = "total_reached"
	StopNoNewIDs     StopReason = "no_new_ids"
)

// SetFetch is the complete card list of one set at one window.
type SetFetch struct {
	ProviderSetID string
	Window        Window
	Cards         []model.ProviderCard
	Pages         int
	Total         int
	Stop          StopReason
}

// FetchSet pages through a set sequentially until the provider reports no
// more pages, a short page arrives, the declared total is reached, or a page
// brings no unseen card ids. Hitting MaxPages returns ErrPageCeiling.
func (c *Client) FetchSet(ctx context.Context, setID string, w Window) (SetFetch, error) {
	log := zap.L().With(
		zap.String("component", "provider.set"),
		zap.String("provider_set_id", setID),
		zap.String("window", string(w)),
	)
	sf := SetFetch{ProviderSetID: setID, Window: w}
	seen := make(map[string]bool)

	for page := 0; ; page++ {
		if page >= c.cfg.MaxPages {
			log.Warn("page ceiling reached", zap.Int("pages", sf.Pages), zap.Int("cards", len(sf.Cards)))
			return sf, eris.Wrapf(ErrPageCeiling, "provider: %s (%s) after %d pages", setID, w, sf.Pages)
		}

		p, err := c.FetchPage(ctx, setID, page, w)
		if err != nil {
			return sf, err
		}
		sf.Pages++
		if p.Total > sf.Total {
			sf.Total = p.Total
		}

		fresh := 0
		for _, card := range p.Cards {
			if seen[card.ID] {
				continue
			}
			seen[card.ID] = true
			sf.Cards = append(sf.Cards, card)
			fresh++
		}
		log.Debug("page fetched", zap.Int("page", page), zap.Int("cards", len(p.Cards)), zap.Int("new", fresh))

		switch {
		case !p.HasMore:
			sf.Stop = StopNoMore
		case len(p.Cards) < c.cfg.PageSize:
			sf.Stop = StopShortPage
		case sf.Total > 0 && len(sf.Cards) >= sf.Total:
			sf.Stop = StopTotalReached
		case fresh == 0:
			sf.Stop = StopNoNewIDs
		default:
			continue
		}
		log.Info("set fetched",
			zap.Int("pages", sf.Pages),
			zap.Int("cards", len(sf.Cards)),
			zap.String("stop", string(sf.Stop)),
		)
		return sf, nil
	}
}

// FetchWithFallback tries each window in order and returns the first
// successful set fetch along with every attempt made. If all windows fail the
// last error is returned. A page ceiling ends the cascade at once.
func (c *Client) FetchWithFallback(ctx context.Context, setID string, windows []Window) (SetFetch, []WindowAttempt, error) {
	if len(windows) == 0 {
		return SetFetch{}, nil, eris.New("provider: no windows to try")
	}

	attempts := make([]WindowAttempt, 0, len(windows))
	var lastErr error
	for _, w := range windows {
		sf, err := c.FetchSet(ctx, setID, w)
		a := WindowAttempt{Window: w, OK: err == nil, Pages: sf.Pages, Cards: len(sf.Cards)}
		if err == nil {
			attempts = append(attempts, a)
			return sf, attempts, nil
		}

		a.Error = err.Error()
		a.HTTPStatus = resilience.HTTPStatus(err)
		attempts = append(attempts, a)
		// Page count tracks the set size, not the window, so a narrower
		// window would hit the same ceiling.
		if errors.Is(err, ErrPageCeiling) {
			return SetFetch{ProviderSetID: setID}, attempts, eris.Wrapf(err, "provider: cascade stopped for %s", setID)
		}
		lastErr = err
		zap.L().Warn("window fetch failed, narrowing",
			zap.String("component", "provider.set"),
			zap.String("provider_set_id", setID),
			zap.String("window", string(w)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return SetFetch{ProviderSetID: setID}, attempts, eris.Wrapf(lastErr, "provider: all windows failed for %s", setID)
}
