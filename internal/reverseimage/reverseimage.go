// Package reverseimage is a thin client for the external reverse-image
// search provider: multipart image upload in, a list of backlinks
// out. Calls are wrapped through internal/ratelimit so the provider's
// independent rate limit is honored regardless of which workstream calls it.
package reverseimage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"scanner/internal/ratelimit"
)

// Backlink is one hit returned by the provider: the page it was found on
// and the (possibly re-hosted) image URL.
type Backlink struct {
	PageURL  string `json:"page_url"`
	ImageURL string `json:"image_url"`
}

// Client calls the reverse-image search provider's /search endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Guard   *ratelimit.Guard
}

// New builds a Client. guard should come from a shared
// ratelimit.Registry keyed on the provider's host.
func New(baseURL, apiKey string, guard *ratelimit.Guard) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Guard:   guard,
	}
}

// Search uploads imageBytes and returns the provider's reported
// backlinks.
func (c *Client) Search(ctx context.Context, imageBytes []byte, filename string) ([]Backlink, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("reverseimage: build multipart form: %w", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, fmt.Errorf("reverseimage: write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("reverseimage: close multipart writer: %w", err)
	}

	var backlinks []Backlink
	err = c.Guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return fmt.Errorf("reverseimage: build request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("reverseimage: request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reverseimage: search returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reverseimage: read response: %w", err)
		}
		var payload struct {
			Results []Backlink `json:"results"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("reverseimage: decode response: %w", err)
		}
		backlinks = payload.Results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return backlinks, nil
}
