package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"

	"scanner/internal/download"
	"scanner/internal/logger"
	"scanner/internal/objectstorage"
	"scanner/internal/ratelimit"
)

// ChunkWorkerArg is the hidden CLI subcommand name the parent re-execs
// itself with to run one isolated chunk.
const ChunkWorkerArg = "__detect_chunk_worker__"

// RunChunkWorkerMain is the child process's entire body: read the input
// manifest, process every image in mini-batches, write the output
// manifest, exit. Wired as a hidden cobra subcommand in cmd/scanner so
// os.Args[0] re-exec works uniformly across platforms. objects may be
// nil, in which case probe-pass thumbnails are not stored.
func RunChunkWorkerMain(ctx context.Context, inputPath, outputPath string, provider Provider, objects *objectstorage.Client, longEdge int) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("detect: read chunk input: %w", err)
	}
	var input chunkInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("detect: parse chunk input: %w", err)
	}

	if err := provider.InitModel(""); err != nil {
		return fmt.Errorf("detect: init model: %w", err)
	}

	dl := download.NewClient(download.NewSemaphore(5), ratelimit.NewRegistry(nil))

	var output chunkOutput
	for start := 0; start < len(input.Images); start += miniBatchSize {
		end := start + miniBatchSize
		if end > len(input.Images) {
			end = len(input.Images)
		}
		batch := input.Images[start:end]
		output.Results = append(output.Results, processMiniBatch(ctx, dl, provider, objects, batch, longEdge)...)
		debug.FreeOSMemory() // release decode buffers between mini-batches
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("detect: encode chunk output: %w", err)
	}
	if err := os.WriteFile(outputPath, encoded, 0o600); err != nil {
		return fmt.Errorf("detect: write chunk output: %w", err)
	}
	return nil
}

func processMiniBatch(ctx context.Context, dl *download.Client, provider Provider, objects *objectstorage.Client, batch []chunkImage, longEdge int) []chunkResult {
	results := make([]chunkResult, len(batch))
	for i, img := range batch {
		results[i] = detectOne(ctx, dl, provider, objects, img, longEdge)
	}
	return results
}

// detectOne runs one image through detection. Images with a ProbeURL get
// the two-pass treatment: detect on the cheap low-resolution probe
// first, and only for probe-positive images download the full-resolution
// original, re-detect on that, and store the probe bytes as the image's
// thumbnail. Everything else gets a single full-resolution pass.
func detectOne(ctx context.Context, dl *download.Client, provider Provider, objects *objectstorage.Client, img chunkImage, longEdge int) chunkResult {
	fetchURL := img.SourceURL
	if img.ProbeURL != "" {
		fetchURL = img.ProbeURL
	}

	dlResult, err := dl.Fetch(ctx, fetchURL)
	if err != nil {
		// download/decode failure is terminally unprobeable, not retried.
		return chunkResult{ImageID: img.ID, Unprobeable: true}
	}
	probeBytes := dlResult.Bytes

	tmp, err := os.CreateTemp("", "scanner-detect-*.img")
	if err != nil {
		return chunkResult{ImageID: img.ID, Unprobeable: true}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // temp file must not outlive the image it holds
	if _, err := tmp.Write(dlResult.Bytes); err != nil {
		tmp.Close()
		return chunkResult{ImageID: img.ID, Unprobeable: true}
	}
	tmp.Close()

	faces, err := provider.Get(ctx, resizeToMaxEdge(dlResult.Bytes, longEdge))
	if err != nil {
		return chunkResult{ImageID: img.ID, Unprobeable: true}
	}

	if len(faces) == 0 {
		return chunkResult{ImageID: img.ID, HasFaces: false, FaceCount: 0}
	}

	thumbnailKey := ""
	if img.ProbeURL != "" {
		// pass 2: the probe found a face, so embed from the full-resolution
		// original. A failed full-res fetch falls back to the probe-derived
		// faces rather than discarding a known face-positive image.
		if full, ferr := dl.Fetch(ctx, img.SourceURL); ferr == nil {
			if fullFaces, derr := provider.Get(ctx, resizeToMaxEdge(full.Bytes, longEdge)); derr == nil && len(fullFaces) > 0 {
				faces = fullFaces
			}
		}
		thumbnailKey = uploadThumbnail(ctx, objects, img.Platform, probeBytes)
	}

	out := chunkResult{ImageID: img.ID, HasFaces: true, FaceCount: len(faces), ThumbnailKey: thumbnailKey}
	for idx, f := range faces {
		out.Faces = append(out.Faces, chunkFace{FaceIndex: idx, Vector: f.Vector, DetectionScore: f.DetectionScore})
	}
	return out
}

// uploadThumbnail stores the probe-pass bytes under {platform}/{uuid}.jpg,
// returning the key or "" when the upload was skipped or failed. Failure
// here never fails the detection result itself.
func uploadThumbnail(ctx context.Context, objects *objectstorage.Client, platform string, data []byte) string {
	if objects == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%s.jpg", platform, uuid.NewString())
	if err := objects.Upload(ctx, objectstorage.BucketDiscoveredImages, key, data, "image/jpeg"); err != nil {
		logger.ErrorEvent("detect_thumbnail_upload_failed", err).Str("platform", platform).Send()
		return ""
	}
	return key
}
