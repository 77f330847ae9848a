// Package evidence captures court-usable screenshots for a subset of
// matches. The headless browser itself is an external
// collaborator — this package only defines the interface boundary and a
// process-wide singleton lifecycle for it.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"scanner/internal/objectstorage"
)

// Browser captures a screenshot of a URL to a local path. Implementations
// wrap an external headless-browser collaborator; the scanner core never
// talks to it directly.
type Browser interface {
	Capture(ctx context.Context, url string) (localPath string, err error)
	Close() error
}

var (
	mu       sync.Mutex
	instance Browser
	factory  func() (Browser, error)
)

// SetFactory registers the constructor used for lazy singleton init. Call
// once at startup with the concrete headless-browser implementation.
func SetFactory(f func() (Browser, error)) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
}

// Get returns the process-wide Browser singleton, constructing it on
// first use.
func Get() (Browser, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return instance, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("evidence: no browser factory registered")
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("evidence: constructing browser: %w", err)
	}
	instance = b
	return instance, nil
}

// Shutdown closes the singleton browser if one was constructed, per the
// scheduler's graceful-shutdown sequence.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}

// Capturer captures a screenshot and uploads it as evidence, returning
// the storage URL, its SHA-256 hash, and byte size.
type Capturer struct {
	Objects *objectstorage.Client
}

// Capture screenshots targetURL, uploads it to the evidence bucket under
// path, and returns (storage URL, hex SHA-256, byte size).
func (c *Capturer) Capture(ctx context.Context, targetURL, path string) (storageURL string, sha256Hex string, byteSize int64, err error) {
	browser, err := Get()
	if err != nil {
		return "", "", 0, err
	}

	localPath, err := browser.Capture(ctx, targetURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("evidence: capture %s: %w", targetURL, err)
	}
	defer os.Remove(localPath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("evidence: read captured file %s: %w", localPath, err)
	}

	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])

	if err := c.Objects.Upload(ctx, objectstorage.BucketEvidence, path, data, "image/png"); err != nil {
		return "", "", 0, fmt.Errorf("evidence: upload %s: %w", path, err)
	}

	url := fmt.Sprintf("%s/object/authenticated/%s/%s", c.Objects.BaseURL, objectstorage.BucketEvidence, path)
	return url, hexSum, int64(len(data)), nil
}
