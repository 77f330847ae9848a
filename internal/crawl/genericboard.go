package crawl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"scanner/internal/download"
	"scanner/internal/ratelimit"
)

// GenericBoard is the INLINE platform provider: a single paginated
// listing page small enough that downloading and detecting during the
// crawl itself is cheaper than a deferred pass.
type GenericBoard struct {
	BaseURL  string
	HTTP     *http.Client
	Guard    *ratelimit.Guard
	Download *download.Client
}

// NewGenericBoard builds the genericboard provider.
func NewGenericBoard(baseURL string, guard *ratelimit.Guard, dl *download.Client) *GenericBoard {
	return &GenericBoard{
		BaseURL:  baseURL,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Guard:    guard,
		Download: dl,
	}
}

func (g *GenericBoard) SourceName() string          { return "genericboard" }
func (g *GenericBoard) Strategy() DetectionStrategy { return Inline }

func (g *GenericBoard) Discover(ctx context.Context, cursor Cursor, depthFor func(string) int) (DiscoveryResult, error) {
	return DiscoveryResult{}, fmt.Errorf("crawl: genericboard is an INLINE provider, Discover unsupported")
}

// DiscoverWithDetection walks the board's single paginated listing,
// downloading each linked image and running face detection immediately
// — the INLINE path
func (g *GenericBoard) DiscoverWithDetection(ctx context.Context, cursor Cursor, depthFor func(string) int, model FaceModel) (DiscoveryResult, error) {
	maxPages := depthFor("__listing__")
	if maxPages <= 0 {
		maxPages = 1
	}

	page := 1
	if cursor.Global != nil {
		if _, err := fmt.Sscanf(*cursor.Global, "%d", &page); err != nil {
			page = 1
		}
	}

	var result DiscoveryResult
	var lastPage int

	for i := 0; i < maxPages; i++ {
		links, hasNext, err := g.fetchListing(ctx, page+i)
		if err != nil {
			return result, err
		}
		lastPage = page + i

		for _, link := range links {
			dl, err := g.Download.Fetch(ctx, link)
			if err != nil {
				continue // unprobeable images are simply skipped, not retried mid-crawl
			}
			faces, err := model.Detect(ctx, dl.Bytes)
			if err != nil {
				continue
			}
			hit := ImageHit{SourceURL: link, PageURL: g.BaseURL, Width: dl.Width, Height: dl.Height}
			for _, f := range faces {
				hit.Faces = append(hit.Faces, DetectedFace{Vector: f.Vector, DetectionScore: f.DetectionScore})
			}
			result.Images = append(result.Images, hit)
		}

		if !hasNext {
			result.NextCursor = nil
			return result, nil
		}
	}

	next := fmt.Sprintf("%d", lastPage+1)
	result.NextCursor = &next
	return result, nil
}

// fetchListing parses the board's HTML listing page with goquery.
func (g *GenericBoard) fetchListing(ctx context.Context, page int) (links []string, hasNext bool, err error) {
	err = g.Guard.Do(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/?page=%d", g.BaseURL, page)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := g.HTTP.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("genericboard: listing page %d returned status %d", page, resp.StatusCode)
		}

		doc, parseErr := goquery.NewDocumentFromReader(resp.Body)
		if parseErr != nil {
			return parseErr
		}
		doc.Find("a.thumb img").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("data-full"); ok {
				links = append(links, src)
			} else if src, ok := s.Attr("src"); ok {
				links = append(links, src)
			}
		})
		hasNext = doc.Find("a.next-page").Length() > 0
		return nil
	})
	return links, hasNext, err
}
