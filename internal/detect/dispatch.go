package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"scanner/internal/logger"
	"scanner/internal/model"
	"scanner/internal/scanerr"
	"scanner/internal/store"
)

func newID() string { return uuid.NewString() }

// Dispatcher is the parent-side chunk orchestrator: selects pending
// images, writes an isolated input manifest per chunk, and spawns a
// child process for each.
type Dispatcher struct {
	Store        store.Store
	ChunkSize    int
	MaxChunks    int
	Timeout      time.Duration
	TempDir      string
	SelfExecPath string // scanner binary re-executed per chunk (os.Executable, else os.Args[0])
	MaxLongEdge  int
}

// NewDispatcher builds a Dispatcher, falling back to the standard limits
// for any zero parameter.
func NewDispatcher(st store.Store, chunkSize, maxChunks int, timeout time.Duration, tempDir, selfExecPath string, maxLongEdge int) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	if maxChunks <= 0 {
		maxChunks = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Dispatcher{
		Store: st, ChunkSize: chunkSize, MaxChunks: maxChunks,
		Timeout: timeout, TempDir: tempDir, SelfExecPath: selfExecPath, MaxLongEdge: maxLongEdge,
	}
}

// RunTick processes up to ChunkSize*MaxChunks pending images this tick,
// one subprocess per chunk.
func (d *Dispatcher) RunTick(ctx context.Context) error {
	pending, err := d.Store.DiscoveredImages().PendingFaceProbe(ctx, d.ChunkSize*d.MaxChunks)
	if err != nil {
		return fmt.Errorf("detect: list pending images: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	for start := 0; start < len(pending) && start < d.ChunkSize*d.MaxChunks; start += d.ChunkSize {
		end := start + d.ChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		if err := d.runChunk(ctx, chunk); err != nil {
			logger.ErrorEvent("detect_chunk_failed", err).Int("chunk_images", len(chunk)).Send()
			// per-chunk failures don't abort the remaining chunks this tick.
		}
	}
	return nil
}

func (d *Dispatcher) runChunk(ctx context.Context, images []model.DiscoveredImage) error {
	inputPath := filepath.Join(d.TempDir, fmt.Sprintf("scanner-detect-in-%d.json", time.Now().UnixNano()))
	outputPath := filepath.Join(d.TempDir, fmt.Sprintf("scanner-detect-out-%d.json", time.Now().UnixNano()))
	defer os.Remove(inputPath)
	defer os.Remove(outputPath)

	input := chunkInput{}
	for _, img := range images {
		input.Images = append(input.Images, chunkImage{
			ID:        img.ID,
			SourceURL: img.SourceURL,
			ProbeURL:  probeURL(img.Platform, img.SourceURL),
			Platform:  img.Platform,
		})
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("detect: encode chunk input: %w", err)
	}
	if err := os.WriteFile(inputPath, encoded, 0o600); err != nil {
		return fmt.Errorf("detect: write chunk input: %w", err)
	}

	chunkCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(chunkCtx, d.SelfExecPath, ChunkWorkerArg, inputPath, outputPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if chunkCtx.Err() != nil {
			return fmt.Errorf("detect: chunk timed out after %s: %w: %w", d.Timeout, scanerr.ErrChunkTimeout, chunkCtx.Err())
		}
		return fmt.Errorf("detect: chunk process failed: %w", err)
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("detect: read chunk output: %w", err)
	}
	var output chunkOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return fmt.Errorf("detect: parse chunk output: %w", err)
	}

	return d.apply(ctx, output)
}

func (d *Dispatcher) apply(ctx context.Context, output chunkOutput) error {
	for _, r := range output.Results {
		if r.Unprobeable {
			if err := d.Store.DiscoveredImages().SetFaceResult(ctx, r.ImageID, false, 0); err != nil {
				return err
			}
			continue
		}
		if err := d.Store.DiscoveredImages().SetFaceResult(ctx, r.ImageID, r.HasFaces, r.FaceCount); err != nil {
			return err
		}
		if r.ThumbnailKey != "" {
			if err := d.Store.DiscoveredImages().SetThumbnail(ctx, r.ImageID, r.ThumbnailKey); err != nil {
				return err
			}
		}
		for _, f := range r.Faces {
			emb := &model.DiscoveredFaceEmbedding{
				ID:             newID(),
				ImageID:        r.ImageID,
				FaceIndex:      f.FaceIndex,
				Vector:         f.Vector,
				DetectionScore: f.DetectionScore,
			}
			if err := d.Store.FaceEmbeddings().Insert(ctx, emb); err != nil {
				return err
			}
		}
	}
	return nil
}
