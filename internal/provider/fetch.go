package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// ErrUnexpectedStatus is returned for non-2xx upstream responses.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Fetcher loads the provider's dataset.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]messaging.Item, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]messaging.Item, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]messaging.Item, error) {
	return f(ctx, url)
}

// HTTPFetcher performs GET requests and decodes a JSON array of items.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A zero timeout leaves requests unbounded
// except by their context.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// WithClient replaces the underlying HTTP client.
func (f *HTTPFetcher) WithClient(c *http.Client) *HTTPFetcher {
	f.client = c
	return f
}

// Fetch requests url and decodes the body. A JSON null body yields an empty
// slice.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]messaging.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: %w: %s", url, ErrUnexpectedStatus, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return decodeItems(body)
}

func decodeItems(body []byte) ([]messaging.Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("parse body: empty response")
	}
	if bytes.Equal(body, []byte("null")) {
		return []messaging.Item{}, nil
	}

	var items []messaging.Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	if items == nil {
		items = []messaging.Item{}
	}
	return items, nil
}
