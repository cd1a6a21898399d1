// Package fetcher is the HTTP client shared by country sources. It applies
// per-host rate limits, retries transient failures and decodes JSON and
// HTML responses.
package fetcher

import (
	"context"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher downloads registry and gazette pages.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// GetJSON fetches the URL and decodes the JSON body into v.
	GetJSON(ctx context.Context, url string, v any) error

	// GetDocument fetches the URL and parses the body as HTML.
	GetDocument(ctx context.Context, url string) (*goquery.Document, error)
}
