// Package provider fetches a provider's card catalog for one set: single
// pages, full paginated sets, and the window fallback cascade. Every page
// fetch is archived.
package provider

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/fetcher"
	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/resilience"
)

// Config holds provider client settings.
type Config struct {
	Name               string
	BaseURL            string
	APIKey             string
	PageSize           int
	MaxPages           int
	ArchiveSampleBytes int
}

// Page is one decoded provider page.
type Page struct {
	Cards      []model.ProviderCard
	HasMore    bool
	Total      int
	HTTPStatus int
}

type pageBody struct {
	Data []model.ProviderCard `json:"data"`
	Meta struct {
		Total   int  `json:"total"`
		HasMore bool `json:"hasMore"`
	} `json:"meta"`
}

// Client fetches card pages from one provider.
type Client struct {
	cfg      Config
	http     fetcher.Fetcher
	archiver Archiver
	runID    string
	now      func() time.Time
}

// NewClient creates a provider client. Zero config values take defaults.
func NewClient(cfg Config, f fetcher.Fetcher) *Client {
	if cfg.Name == "" {
		cfg.Name = "justtcg"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.ArchiveSampleBytes <= 0 {
		cfg.ArchiveSampleBytes = 4096
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: f, now: time.Now}
}

// Name returns the provider name used in persisted rows.
func (c *Client) Name() string { return c.cfg.Name }

// WithArchive returns a copy of the client that archives every page under
// runID. A nil archiver disables archiving.
func (c *Client) WithArchive(runID string, a Archiver) *Client {
	cp := *c
	cp.runID = runID
	cp.archiver = a
	return &cp
}

func (c *Client) pageURL(setID string, page int, w Window) string {
	q := url.Values{}
	q.Set("set", setID)
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(page*c.cfg.PageSize))
	q.Set("priceHistoryDuration", w.Param())
	return c.cfg.BaseURL + "/cards?" + q.Encode()
}

// FetchPage fetches one page (0-based) of a set at a window. Any non-2xx
// final status or undecodable body is an error.
func (c *Client) FetchPage(ctx context.Context, setID string, page int, w Window) (Page, error) {
	u := c.pageURL(setID, page, w)
	resp, err := c.http.GetJSON(ctx, u, map[string]string{"x-api-key": c.cfg.APIKey})

	out := Page{}
	var body []byte
	if resp != nil {
		out.HTTPStatus = resp.StatusCode
		body = resp.Body
	}
	if err == nil && resp == nil {
		err = eris.New("provider: empty response")
	}
	if err == nil {
		var pb pageBody
		if err = resp.Decode(&pb); err == nil {
			out.Cards = pb.Data
			out.HasMore = pb.Meta.HasMore
			out.Total = pb.Meta.Total
		}
	}
	c.archive(ctx, setID, page, w, out.HTTPStatus, body, err)

	if err != nil {
		if out.HTTPStatus == 0 {
			out.HTTPStatus = resilience.HTTPStatus(err)
		}
		return out, eris.Wrapf(err, "provider: fetch page %d of %s (%s)", page, setID, w)
	}
	return out, nil
}

func (c *Client) archive(ctx context.Context, setID string, page int, w Window, status int, body []byte, fetchErr error) {
	if c.archiver == nil {
		return
	}
	sample, truncated := BodySample(body, c.cfg.ArchiveSampleBytes)
	rec := model.PageArchive{
		RunID:         c.runID,
		Provider:      c.cfg.Name,
		ProviderSetID: setID,
		Window:        string(w),
		Page:          page,
		HTTPStatus:    status,
		OK:            fetchErr == nil,
		BodySample:    sample,
		Truncated:     truncated,
		FetchedAt:     c.now().UTC(),
	}
	if fetchErr != nil {
		rec.Error = fetchErr.Error()
	}
	if err := c.archiver.ArchivePage(ctx, rec); err != nil {
		zap.L().Warn("page archive write failed",
			zap.String("component", "provider.client"),
			zap.String("provider_set_id", setID),
			zap.Int("page", page),
			zap.Error(err),
		)
	}
}
