// Package download fetches remote image bytes under the pre-filters and
// concurrency bounds: magic-byte sniffing, a minimum byte-size
// floor, a global semaphore shared across every workstream, and per-host
// rate-limiting/circuit-breaking delegated to internal/ratelimit.
package download

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scanner/internal/ratelimit"
	"scanner/internal/scanerr"
)

// magic prefixes recognized by the pre-filter. WebP's signature needs 12
// bytes (RIFF....WEBP) so it gets a dedicated check rather than a 2-byte
// prefix.
var magicPrefixes = [][]byte{
	{0xFF, 0xD8}, // JPEG
	{0x89, 0x50}, // PNG
	{0x47, 0x49}, // GIF
	{0x42, 0x4D}, // BMP
}

// MinBytes is the minimum floor below which downloaded bytes are rejected
// before ever reaching the decoder.
const MinBytes = 1024

// MinDimension is the minimum decoded width/height accepted; anything
// smaller carries too little face signal to embed.
const MinDimension = 200

// Result is a successfully downloaded and validated image.
type Result struct {
	Bytes         []byte
	ContentType   string
	Width, Height int
}

// Semaphore bounds the total number of concurrent downloads across every
// workstream, so crawl, detect, and scan can't collectively saturate the
// uplink.
type Semaphore chan struct{}

// NewSemaphore builds a global download semaphore of the given capacity.
func NewSemaphore(n int) Semaphore {
	if n <= 0 {
		n = 5
	}
	return make(Semaphore, n)
}

func (s Semaphore) acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s Semaphore) release() { <-s }

// Client downloads image bytes behind a global semaphore and a per-host
// rate-limit/circuit-breaker guard.
type Client struct {
	HTTP      *http.Client
	Sem       Semaphore
	Guards    *ratelimit.Registry
	UserAgent string
}

// NewClient builds a download client with sane defaults (10s timeout,
// concurrency capped by the caller-supplied semaphore).
func NewClient(sem Semaphore, guards *ratelimit.Registry) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		Sem:       sem,
		Guards:    guards,
		UserAgent: "scanner/1.0",
	}
}

// Fetch downloads rawURL, applying every pre-filter in order, and
// returns the validated image bytes plus decoded dimensions.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if err := c.Sem.acquire(ctx); err != nil {
		return nil, fmt.Errorf("download: acquire semaphore: %w", err)
	}
	defer c.Sem.release()

	host, err := hostOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("download: parse url %s: %w", rawURL, err)
	}
	guard := c.Guards.Guard(host)

	// Transient failures (5xx, timeouts) retry with backoff; validation
	// failures and a tripped breaker stop the loop immediately.
	var result *Result
	err = scanerr.Retry(ctx, scanerr.DefaultRetryAttempts, func(ctx context.Context) error {
		return guard.Do(ctx, func(ctx context.Context) error {
			r, ferr := c.doFetch(ctx, rawURL)
			if ferr != nil {
				return ferr
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doFetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	// pre-filter (a): 2xx status. 5xx is transient and retried by Fetch;
	// a 4xx means the URL itself is bad and never will work.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("download: %s returned status %d", rawURL, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download: %s returned status %d: %w", rawURL, resp.StatusCode, scanerr.ErrValidationFailed)
	}

	// pre-filter (b): explicitly excluded content types.
	ct := resp.Header.Get("Content-Type")
	if isExcludedContentType(ct) {
		return nil, fmt.Errorf("download: %s has excluded content-type %q: %w", rawURL, ct, scanerr.ErrValidationFailed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("download: read body %s: %w", rawURL, err)
	}

	// pre-filter (d): minimum byte floor.
	if len(body) < MinBytes {
		return nil, fmt.Errorf("download: %s body too small (%d bytes): %w", rawURL, len(body), scanerr.ErrValidationFailed)
	}

	// pre-filter (c): magic prefix.
	if !hasImageMagic(body) {
		return nil, fmt.Errorf("download: %s does not match a known image magic prefix: %w", rawURL, scanerr.ErrValidationFailed)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("download: decode config %s: %v: %w", rawURL, err, scanerr.ErrValidationFailed)
	}

	// pre-filter (e): minimum decoded dimensions.
	if cfg.Width < MinDimension || cfg.Height < MinDimension {
		return nil, fmt.Errorf("download: %s too small (%dx%d): %w", rawURL, cfg.Width, cfg.Height, scanerr.ErrValidationFailed)
	}

	return &Result{Bytes: body, ContentType: ct, Width: cfg.Width, Height: cfg.Height}, nil
}

func hasImageMagic(body []byte) bool {
	if len(body) >= 12 && bytes.Equal(body[0:4], []byte("RIFF")) && bytes.Equal(body[8:12], []byte("WEBP")) {
		return true
	}
	if len(body) < 2 {
		return false
	}
	for _, p := range magicPrefixes {
		if bytes.HasPrefix(body, p) {
			return true
		}
	}
	return false
}

func isExcludedContentType(ct string) bool {
	ct = strings.ToLower(ct)
	excluded := []string{"video/", "text/", "application/json"}
	for _, e := range excluded {
		if strings.HasPrefix(ct, e) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
