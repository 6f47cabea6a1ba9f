// Package fetcher is the HTTP transport under the provider client: per-host
// adaptive rate limiting, timeouts and retry of transient failures.
package fetcher

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Fetcher performs one logical GET, retrying transient failures internally.
type Fetcher interface {
	// GetJSON fetches url with the given headers. On a non-2xx final status
	// both the response (status and body) and an error are returned.
	GetJSON(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// Response is the final HTTP response of a logical GET.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return eris.Wrap(err, "fetcher: decode json body")
	}
	return nil
}
