// Package faceprovider is an HTTP client for the external face-detection
// model process: `init_model(name?)` once per process, `get(image)`
// per image. The model itself is out of scope; this client only
// speaks the wire protocol, the same way internal/aiclassify and
// internal/reverseimage speak theirs.
package faceprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scanner/internal/detect"
	"scanner/internal/ratelimit"
)

// Client calls a face-detection model server over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Guard   *ratelimit.Guard
}

// New builds a Client. guard should come from a shared ratelimit.Registry
// keyed on the model server's host.
func New(baseURL string, guard *ratelimit.Guard) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Guard:   guard,
	}
}

// InitModel loads the named model (or the server's default, if empty)
// once per process,
func (c *Client) InitModel(name string) error {
	body, err := json.Marshal(struct {
		Name string `json:"name,omitempty"`
	}{Name: name})
	if err != nil {
		return fmt.Errorf("faceprovider: encode init request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/init_model", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("faceprovider: build init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("faceprovider: init_model request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("faceprovider: init_model returned status %d", resp.StatusCode)
	}
	return nil
}

// Get runs detection on bgrImage and returns every detected face's
// embedding and detection score.
func (c *Client) Get(ctx context.Context, bgrImage []byte) ([]detect.Face, error) {
	var faces []detect.Face
	err := c.Guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/get", bytes.NewReader(bgrImage))
		if err != nil {
			return fmt.Errorf("faceprovider: build get request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("faceprovider: get request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("faceprovider: get returned status %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("faceprovider: read get response: %w", err)
		}
		var payload struct {
			Faces []struct {
				Embedding      []float32 `json:"embedding"`
				DetectionScore float64   `json:"detection_score"`
			} `json:"faces"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("faceprovider: decode get response: %w", err)
		}
		faces = make([]detect.Face, len(payload.Faces))
		for i, f := range payload.Faces {
			faces[i] = detect.Face{Vector: f.Embedding, DetectionScore: f.DetectionScore}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return faces, nil
}
