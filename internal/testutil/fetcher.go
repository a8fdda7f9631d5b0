package testutil

import (
	"context"
	"net/http"
)

// HTTPFetcher issues plain GETs, for tests that do not exercise the retrying
// client.
type HTTPFetcher struct {
	Client *http.Client
}

// Get performs a GET request.
func (f HTTPFetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}
