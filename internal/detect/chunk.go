package detect

// chunkInput is the manifest the parent writes for a child chunk worker:
// just enough to let the child fetch and detect independently of the
// database connection.
type chunkInput struct {
	Images []chunkImage `json:"images"`
}

type chunkImage struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
	// ProbeURL is a low-resolution CDN transform of SourceURL, set for
	// high-volume platforms whose images get the two-pass probe:
	// detect on the cheap probe first, download the full-resolution
	// original only when the probe finds a face.
	ProbeURL string `json:"probe_url,omitempty"`
	Platform string `json:"platform"`
}

// chunkOutput is what the child reports back per image: either a
// face-flag result or a terminal "unprobeable" marker for images whose
// download or decode failed and which should never be re-attempted.
type chunkOutput struct {
	Results []chunkResult `json:"results"`
}

type chunkResult struct {
	ImageID     string      `json:"image_id"`
	Unprobeable bool        `json:"unprobeable"`
	HasFaces    bool        `json:"has_faces"`
	FaceCount   int         `json:"face_count"`
	Faces       []chunkFace `json:"faces,omitempty"`
	// ThumbnailKey is the object-storage key of the probe-pass thumbnail
	// uploaded under {platform}/{uuid}.jpg, empty when no thumbnail was
	// stored (single-pass platforms, or upload failure).
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
}

type chunkFace struct {
	FaceIndex      int       `json:"face_index"`
	Vector         []float32 `json:"vector"`
	DetectionScore float64   `json:"detection_score"`
}

// miniBatchSize is the within-chunk download/detect batch size.
const miniBatchSize = 50
