// Package provider maps tile coordinates to source imagery URLs and
// performs the single HTTP attempt that fetches one chunk. Retry policy,
// fan-out, and partial-success accounting live one layer up in
// internal/orchestrator — this package only ever makes one attempt per
// call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xearthlayer/xearthlayer/internal/coord"
)

const userAgent = "xearthlayer/1.0"

// ErrorKind classifies why a fetch failed, so the orchestrator's retry
// policy can decide whether to retry.
type ErrorKind int

const (
	// KindTransient is a retryable failure (5xx, connection reset).
	KindTransient ErrorKind = iota
	// KindPermanent is a non-retryable failure (4xx other than 429).
	KindPermanent
	// KindTimeout is a request that exceeded its deadline.
	KindTimeout
)

// FetchError wraps a provider fetch failure with its retry classification.
type FetchError struct {
	Kind ErrorKind
	URL  string
	err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider: fetch %s failed (%v): %v", e.URL, e.Kind, e.err)
}

func (e *FetchError) Unwrap() error { return e.err }

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Provider maps chunk coordinates to a source URL and fetches raw image
// bytes from it.
type Provider interface {
	// IDTag is the short maptype tag this provider corresponds to, e.g.
	// "BI" or "GO".
	IDTag() string
	// URLFor returns the source URL for one 256x256 chunk at the given
	// global chunk row/col and chunk zoom.
	URLFor(chunkRow, chunkCol uint32, chunkZoom uint8) string
	// FetchBytes performs exactly one HTTP attempt against url and
	// returns the raw image bytes on success.
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	// MaxZoom is the deepest chunk zoom this provider serves.
	MaxZoom() uint8
}

// httpFetcher is embedded by concrete providers to share the single-attempt
// HTTP fetch logic and client configuration.
type httpFetcher struct {
	client *http.Client
}

func newHTTPFetcher(timeout time.Duration) httpFetcher {
	return httpFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 64,
			},
		},
	}
}

func (f httpFetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindPermanent, URL: url, err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &FetchError{Kind: KindTimeout, URL: url, err: err}
		}
		return nil, &FetchError{Kind: KindTransient, URL: url, err: err}
	}
	defer resp.Body.Close()

	if (resp.StatusCode >= 500 && resp.StatusCode < 600) || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &FetchError{Kind: KindTransient, URL: url, err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: KindPermanent, URL: url, err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: url, err: err}
	}

	return body, nil
}

// BingProvider serves Bing-style quadkey-addressed imagery tiles.
type BingProvider struct {
	httpFetcher
	idTag      string
	subdomains []string
	maxZoom    uint8
}

// NewBingProvider constructs a Bing-style provider tagged idTag
// (typically "BI"), fetching from the given subdomains in round-robin.
func NewBingProvider(idTag string, subdomains []string, maxZoom uint8, timeout time.Duration) *BingProvider {
	if len(subdomains) == 0 {
		subdomains = []string{"0", "1", "2", "3"}
	}
	return &BingProvider{
		httpFetcher: newHTTPFetcher(timeout),
		idTag:       idTag,
		subdomains:  subdomains,
		maxZoom:     maxZoom,
	}
}

func (p *BingProvider) IDTag() string    { return p.idTag }
func (p *BingProvider) MaxZoom() uint8   { return p.maxZoom }
func (p *BingProvider) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return p.fetch(ctx, url)
}

// URLFor builds the Bing tile URL for the given global chunk coordinate.
func (p *BingProvider) URLFor(chunkRow, chunkCol uint32, chunkZoom uint8) string {
	tile := coord.Tile{Row: chunkRow, Col: chunkCol, Zoom: chunkZoom}
	quadkey := coord.TileToQuadkey(tile)
	subdomain := p.subdomains[int(chunkRow+chunkCol)%len(p.subdomains)]
	return fmt.Sprintf("https://ecn.t%s.tiles.virtualearth.net/tiles/a%s.jpeg?g=0", subdomain, quadkey)
}

// GoogleProvider serves Google-style /z/x/y.jpg-addressed imagery tiles.
type GoogleProvider struct {
	httpFetcher
	idTag      string
	hostIndex  int
	version    string
	maxZoom    uint8
}

// NewGoogleProvider constructs a Google-style provider tagged idTag
// (typically "GO").
func NewGoogleProvider(idTag, version string, maxZoom uint8, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		httpFetcher: newHTTPFetcher(timeout),
		idTag:       idTag,
		version:     version,
		maxZoom:     maxZoom,
	}
}

func (p *GoogleProvider) IDTag() string  { return p.idTag }
func (p *GoogleProvider) MaxZoom() uint8 { return p.maxZoom }
func (p *GoogleProvider) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return p.fetch(ctx, url)
}

// URLFor builds the Google tile URL for the given global chunk coordinate.
func (p *GoogleProvider) URLFor(chunkRow, chunkCol uint32, chunkZoom uint8) string {
	n := (int(chunkRow) + int(chunkCol)) % 4
	return fmt.Sprintf("https://khms%d.google.com/kh/v=%s?x=%d&y=%d&z=%d", n, p.version, chunkCol, chunkRow, chunkZoom)
}
