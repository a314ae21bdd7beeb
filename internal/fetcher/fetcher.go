// Package fetcher retrieves remote documents for the source adapters with
// per-host rate limiting and retries.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote documents.
type Fetcher interface {
	// Download fetches the URL and returns the response body. The caller
	// closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Fetch reads the whole response body, capped at MaxBodyBytes.
	Fetch(ctx context.Context, url string) ([]byte, error)
}
