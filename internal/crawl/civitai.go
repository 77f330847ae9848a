package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scanner/internal/ratelimit"
	"scanner/internal/scanerr"
)

// faceSearchTerms and loraHumanTags are the fixed term sets civitai
// crawls, each term paged independently under its own resumable cursor.
var faceSearchTerms = []string{
	"portrait", "selfie", "headshot", "face swap",
	"likeness", "cosplay photo", "realistic face", "photoreal person",
}

var loraHumanTags = []string{
	"person-lora", "celebrity-lora", "influencer-lora", "face-lora",
	"realistic-human", "likeness-model", "photoreal-human", "identity-lora", "person-style",
}

// CivitAI is the DEFERRED platform provider grounded on the CivitAI
// crawl shape: a global feed cursor, an independently-paged per-term
// search cursor map, and a per-tag model-browse cursor map.
type CivitAI struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Guard   *ratelimit.Guard
}

// NewCivitAI builds the civitai provider.
func NewCivitAI(baseURL, apiKey string, guard *ratelimit.Guard) *CivitAI {
	return &CivitAI{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
		Guard:   guard,
	}
}

func (c *CivitAI) SourceName() string        { return "civitai" }
func (c *CivitAI) Strategy() DetectionStrategy { return Deferred }

func (c *CivitAI) DiscoverWithDetection(ctx context.Context, cursor Cursor, depthFor func(string) int, model FaceModel) (DiscoveryResult, error) {
	return DiscoveryResult{}, fmt.Errorf("crawl: civitai is a DEFERRED provider, DiscoverWithDetection unsupported")
}

// Discover implements the per-term traversal over civitai's three
// independent cursor spaces: the global image feed, the per-search-term
// listing, and the per-tag LoRA model browse.
func (c *CivitAI) Discover(ctx context.Context, cursor Cursor, depthFor func(string) int) (DiscoveryResult, error) {
	result := DiscoveryResult{
		SearchCursors: map[string]*string{},
		TagCursors:    map[string]*string{},
	}

	globalImages, nextGlobal, err := c.crawlFeed(ctx, cursor.Global, depthFor("__global__"))
	if errors.Is(err, scanerr.ErrCircuitOpen) {
		result.NextCursor = cursor.Global
		return result, nil
	}
	// A non-circuit-open feed error preserves the saved global cursor but
	// doesn't abort the tick; the term/tag loops below still run.
	if err != nil {
		result.NextCursor = cursor.Global
	} else {
		result.Images = append(result.Images, globalImages...)
		result.NextCursor = nextGlobal
	}

	attempted := 0
	for _, term := range faceSearchTerms {
		attempted++
		prior := cursor.SearchCursors[term]
		images, next, err := c.crawlTerm(ctx, "search", term, prior, depthFor(term))
		if errors.Is(err, scanerr.ErrCircuitOpen) {
			result.SearchCursors[term] = prior
			return withAttempted(result, attempted), nil
		}
		if err != nil {
			result.SearchCursors[term] = prior
			continue
		}
		result.Images = append(result.Images, images...)
		result.SearchCursors[term] = next
	}

	for _, tag := range loraHumanTags {
		attempted++
		prior := cursor.TagCursors[tag]
		images, next, err := c.crawlTerm(ctx, "tag", tag, prior, depthFor(tag))
		if errors.Is(err, scanerr.ErrCircuitOpen) {
			result.TagCursors[tag] = prior
			return withAttempted(result, attempted), nil
		}
		if err != nil {
			result.TagCursors[tag] = prior
			continue
		}
		result.Images = append(result.Images, images...)
		result.TagCursors[tag] = next
	}

	return withAttempted(result, attempted), nil
}

func withAttempted(r DiscoveryResult, n int) DiscoveryResult {
	r.TagsAttempted = n
	return r
}

// civitaiPage mirrors the subset of civitai's paginated image-listing
// response the scanner depends on.
type civitaiPage struct {
	Items []struct {
		URL      string `json:"url"`
		PageURL  string `json:"pageUrl"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	} `json:"items"`
	Metadata struct {
		NextCursor string `json:"nextCursor"`
	} `json:"metadata"`
}

func (c *CivitAI) crawlFeed(ctx context.Context, cursor *string, maxPages int) ([]ImageHit, *string, error) {
	return c.crawlPages(ctx, "/api/v1/images", nil, cursor, maxPages)
}

func (c *CivitAI) crawlTerm(ctx context.Context, kind, term string, cursor *string, maxPages int) ([]ImageHit, *string, error) {
	params := map[string]string{"query": term}
	if kind == "tag" {
		params = map[string]string{"tag": term}
	}
	return c.crawlPages(ctx, "/api/v1/images", params, cursor, maxPages)
}

func (c *CivitAI) crawlPages(ctx context.Context, path string, params map[string]string, cursor *string, maxPages int) ([]ImageHit, *string, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	var all []ImageHit
	current := cursor

	for page := 0; page < maxPages; page++ {
		var result civitaiPage
		err := c.Guard.Do(ctx, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
			if err != nil {
				return err
			}
			q := req.URL.Query()
			for k, v := range params {
				q.Set(k, v)
			}
			if current != nil {
				q.Set("cursor", *current)
			}
			req.URL.RawQuery = q.Encode()
			req.Header.Set("Authorization", "Bearer "+c.APIKey)

			resp, err := c.HTTP.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("civitai: page request returned status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return json.Unmarshal(body, &result)
		})
		if err != nil {
			return all, current, err
		}

		for _, item := range result.Items {
			all = append(all, ImageHit{
				SourceURL: item.URL,
				PageURL:   item.PageURL,
				Width:     item.Width,
				Height:    item.Height,
			})
		}

		if result.Metadata.NextCursor == "" {
			return all, nil, nil // exhausted
		}
		next := result.Metadata.NextCursor
		current = &next
	}
	return all, current, nil
}
