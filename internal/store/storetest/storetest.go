// Package storetest provides an in-memory store.Store for worker tests:
// every repository keeps plain maps/slices behind one mutex, and conflict
// targets mirror the real schema's dedup semantics (source-URL hash,
// (image, contributor), (image, face-index)).
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scanner/internal/model"
	"scanner/internal/store"
)

// Fake is an in-memory store.Store. Construct with New.
type Fake struct {
	mu sync.Mutex

	ContributorRows    map[string]*model.Contributor
	AccountRows        map[string][]model.KnownAccount
	ReferenceImageRows map[string]*model.ContributorReferenceImage
	EmbeddingRows      map[string]*model.ContributorEmbedding
	IdentityRows       map[string]*model.RegistryIdentity
	PlatformRows       map[string]*model.PlatformCrawlSchedule
	ScheduleRows       map[string]*model.ScanSchedule
	JobRows            map[string]*model.ScanJob
	ImageRows          map[string]*model.DiscoveredImage
	FaceEmbeddingRows  map[string]*model.DiscoveredFaceEmbedding
	MatchRows          map[string]*model.Match
	RegistryMatchRows  map[string]*model.RegistryMatch
	EvidenceRows       []*model.Evidence
	NotificationRows   []*model.Notification

	// Thresholds returned by MLState().Thresholds.
	Low, Medium, High float64

	// RegistryHits is what VectorIndex().SearchRegistry returns, already
	// threshold-filtered and ordered, as the real pgvector query would be.
	RegistryHits []store.MatchHit
	// DiscoveredHits is what VectorIndex().SearchDiscoveredFaces returns.
	DiscoveredHits []store.DiscoveredFaceHit
}

// New builds an empty Fake with the default thresholds.
func New() *Fake {
	return &Fake{
		ContributorRows:    map[string]*model.Contributor{},
		AccountRows:        map[string][]model.KnownAccount{},
		ReferenceImageRows: map[string]*model.ContributorReferenceImage{},
		EmbeddingRows:      map[string]*model.ContributorEmbedding{},
		IdentityRows:       map[string]*model.RegistryIdentity{},
		PlatformRows:       map[string]*model.PlatformCrawlSchedule{},
		ScheduleRows:       map[string]*model.ScanSchedule{},
		JobRows:            map[string]*model.ScanJob{},
		ImageRows:          map[string]*model.DiscoveredImage{},
		FaceEmbeddingRows:  map[string]*model.DiscoveredFaceEmbedding{},
		MatchRows:          map[string]*model.Match{},
		RegistryMatchRows:  map[string]*model.RegistryMatch{},
		Low:                0.50,
		Medium:             0.65,
		High:               0.85,
	}
}

var _ store.Store = (*Fake)(nil)

func (f *Fake) Contributors() store.ContributorRepo           { return contributorRepo{f} }
func (f *Fake) Embeddings() store.EmbeddingRepo               { return embeddingRepo{f} }
func (f *Fake) Registry() store.RegistryRepo                  { return registryRepo{f} }
func (f *Fake) PlatformSchedules() store.PlatformScheduleRepo { return platformRepo{f} }
func (f *Fake) ScanSchedules() store.ScanScheduleRepo         { return scheduleRepo{f} }
func (f *Fake) Jobs() store.JobRepo                           { return jobRepo{f} }
func (f *Fake) DiscoveredImages() store.DiscoveredImageRepo   { return imageRepo{f} }
func (f *Fake) FaceEmbeddings() store.FaceEmbeddingRepo       { return faceEmbeddingRepo{f} }
func (f *Fake) Matches() store.MatchRepo                      { return matchRepo{f} }
func (f *Fake) RegistryMatches() store.RegistryMatchRepo      { return registryMatchRepo{f} }
func (f *Fake) Evidence() store.EvidenceRepo                  { return evidenceRepo{f} }
func (f *Fake) Notifications() store.NotificationRepo         { return notificationRepo{f} }
func (f *Fake) MLState() store.MLStateRepo                    { return mlStateRepo{f} }
func (f *Fake) VectorIndex() store.VectorIndex                { return vectorIndex{f} }
func (f *Fake) Close() error                                  { return nil }
func (f *Fake) Ping(ctx context.Context) error                { return nil }

type contributorRepo struct{ f *Fake }

func (r contributorRepo) Get(ctx context.Context, id string) (*model.Contributor, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	c, ok := r.f.ContributorRows[id]
	if !ok {
		return nil, fmt.Errorf("storetest: contributor %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (r contributorRepo) KnownAccounts(ctx context.Context, contributorID string) ([]model.KnownAccount, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return append([]model.KnownAccount(nil), r.f.AccountRows[contributorID]...), nil
}

func (r contributorRepo) PendingReferenceImages(ctx context.Context, limit int) ([]model.ContributorReferenceImage, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.ContributorReferenceImage
	for _, img := range r.f.ReferenceImageRows {
		if img.EmbeddingStatus == model.EmbeddingStatusPending {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r contributorRepo) MarkReferenceImage(ctx context.Context, id string, status model.EmbeddingStatus, reason string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	img, ok := r.f.ReferenceImageRows[id]
	if !ok {
		return fmt.Errorf("storetest: reference image %s not found", id)
	}
	img.EmbeddingStatus = status
	img.ErrorReason = reason
	return nil
}

func (r contributorRepo) ProcessedReferenceImages(ctx context.Context, contributorID string, limit int) ([]model.ContributorReferenceImage, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.ContributorReferenceImage
	for _, img := range r.f.ReferenceImageRows {
		if img.ContributorID == contributorID && img.EmbeddingStatus == model.EmbeddingStatusProcessed {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type embeddingRepo struct{ f *Fake }

func (r embeddingRepo) Insert(ctx context.Context, e *model.ContributorEmbedding) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *e
	r.f.EmbeddingRows[e.ID] = &cp
	return nil
}

func (r embeddingRepo) ListSingles(ctx context.Context, contributorID string) ([]model.ContributorEmbedding, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.ContributorEmbedding
	for _, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID && e.Kind == model.EmbeddingKindSingle {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r embeddingRepo) Primary(ctx context.Context, contributorID string) (*model.ContributorEmbedding, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID && e.IsPrimary {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("storetest: no primary embedding for %s", contributorID)
}

func (r embeddingRepo) SetPrimary(ctx context.Context, contributorID string, embeddingID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID {
			e.IsPrimary = e.ID == embeddingID
		}
	}
	return nil
}

func (r embeddingRepo) ClearPrimary(ctx context.Context, contributorID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID {
			e.IsPrimary = false
		}
	}
	return nil
}

func (r embeddingRepo) DeleteCentroid(ctx context.Context, contributorID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for id, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID && e.Kind == model.EmbeddingKindCentroid {
			delete(r.f.EmbeddingRows, id)
		}
	}
	return nil
}

func (r embeddingRepo) CountForContributor(ctx context.Context, contributorID string) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := 0
	for _, e := range r.f.EmbeddingRows {
		if e.ContributorID == contributorID {
			n++
		}
	}
	return n, nil
}

type registryRepo struct{ f *Fake }

func (r registryRepo) PendingSelfies(ctx context.Context, limit int) ([]model.RegistryIdentity, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.RegistryIdentity
	for _, id := range r.f.IdentityRows {
		if id.EmbeddingStatus == model.EmbeddingStatusPending {
			out = append(out, *id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r registryRepo) SetEmbedding(ctx context.Context, identityID string, vector []float32) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	id, ok := r.f.IdentityRows[identityID]
	if !ok {
		return fmt.Errorf("storetest: identity %s not found", identityID)
	}
	id.Vector = append([]float32(nil), vector...)
	id.EmbeddingStatus = model.EmbeddingStatusProcessed
	return nil
}

func (r registryRepo) MarkFailed(ctx context.Context, identityID string, reason string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	id, ok := r.f.IdentityRows[identityID]
	if !ok {
		return fmt.Errorf("storetest: identity %s not found", identityID)
	}
	id.EmbeddingStatus = model.EmbeddingStatusFailed
	return nil
}

type platformRepo struct{ f *Fake }

func (r platformRepo) Due(ctx context.Context, now time.Time) ([]model.PlatformCrawlSchedule, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.PlatformCrawlSchedule
	for _, s := range r.f.PlatformRows {
		if s.Enabled && !s.NextCrawlAt.After(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (r platformRepo) Get(ctx context.Context, platform string) (*model.PlatformCrawlSchedule, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.PlatformRows[platform]
	if !ok {
		return nil, fmt.Errorf("storetest: platform %s not found", platform)
	}
	cp := *s
	cp.Cursor = append([]byte(nil), s.Cursor...)
	return &cp, nil
}

func (r platformRepo) SaveCursor(ctx context.Context, platform string, cursor []byte) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.PlatformRows[platform]
	if !ok {
		return fmt.Errorf("storetest: platform %s not found", platform)
	}
	s.Cursor = append([]byte(nil), cursor...)
	return nil
}

func (r platformRepo) RecordCrawlResult(ctx context.Context, platform string, newRows, tagsTotal, tagsExhausted int, now time.Time, nextCrawlAt time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.PlatformRows[platform]
	if !ok {
		return fmt.Errorf("storetest: platform %s not found", platform)
	}
	s.TotalImagesDiscovered += newRows
	s.TagsTotal = tagsTotal
	s.TagsExhausted = tagsExhausted
	s.LastCrawlAt = now
	s.NextCrawlAt = nextCrawlAt
	return nil
}

func (r platformRepo) SetPhase(ctx context.Context, platform string, phase model.CrawlPhase) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.PlatformRows[platform]
	if !ok {
		return fmt.Errorf("storetest: platform %s not found", platform)
	}
	s.Phase = phase
	return nil
}

type scheduleRepo struct{ f *Fake }

func (r scheduleRepo) Due(ctx context.Context, now time.Time, limit int) ([]model.ScanSchedule, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.ScanSchedule
	for _, s := range r.f.ScheduleRows {
		if !s.NextScanAt.After(now) {
			out = append(out, *s)
		}
	}
	// priority descending, then next-scan-at ascending.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].NextScanAt.Before(out[j].NextScanAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r scheduleRepo) Advance(ctx context.Context, contributorID string, nextScanAt time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.ScheduleRows[contributorID]
	if !ok {
		return fmt.Errorf("storetest: scan schedule %s not found", contributorID)
	}
	s.NextScanAt = nextScanAt
	return nil
}

func (r scheduleRepo) Upsert(ctx context.Context, s model.ScanSchedule) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := s
	r.f.ScheduleRows[s.ContributorID] = &cp
	return nil
}

type jobRepo struct{ f *Fake }

func (r jobRepo) Create(ctx context.Context, job *model.ScanJob) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *job
	cp.Status = model.JobStatusPending
	r.f.JobRows[job.ID] = &cp
	return nil
}

func (r jobRepo) MarkRunning(ctx context.Context, id string) error {
	return r.setStatus(id, model.JobStatusRunning)
}

func (r jobRepo) MarkCompleted(ctx context.Context, id string, imagesFound, facesDetected, matchesFound int) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	j, ok := r.f.JobRows[id]
	if !ok {
		return fmt.Errorf("storetest: job %s not found", id)
	}
	j.Status = model.JobStatusCompleted
	j.ImagesFound = imagesFound
	j.FacesDetected = facesDetected
	j.MatchesFound = matchesFound
	j.CompletedAt = time.Now()
	return nil
}

func (r jobRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	j, ok := r.f.JobRows[id]
	if !ok {
		return fmt.Errorf("storetest: job %s not found", id)
	}
	j.Status = model.JobStatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = time.Now()
	return nil
}

func (r jobRepo) MarkInterrupted(ctx context.Context, id string) error {
	return r.setStatus(id, model.JobStatusInterrupted)
}

func (r jobRepo) setStatus(id string, status model.JobStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	j, ok := r.f.JobRows[id]
	if !ok {
		return fmt.Errorf("storetest: job %s not found", id)
	}
	j.Status = status
	return nil
}

func (r jobRepo) InterruptRunning(ctx context.Context) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	n := 0
	for _, j := range r.f.JobRows {
		if j.Status == model.JobStatusRunning {
			j.Status = model.JobStatusInterrupted
			n++
		}
	}
	return n, nil
}

func (r jobRepo) RecoverStale(ctx context.Context, maxAge time.Duration) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for _, j := range r.f.JobRows {
		if j.Status == model.JobStatusRunning && j.StartedAt.Before(cutoff) {
			j.Status = model.JobStatusFailed
			j.ErrorMessage = model.StaleJobError
			n++
		}
	}
	return n, nil
}

func (r jobRepo) DeleteOld(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, j := range r.f.JobRows {
		if n >= limit {
			break
		}
		terminal := j.Status == model.JobStatusCompleted || j.Status == model.JobStatusFailed
		if terminal && !j.CompletedAt.IsZero() && j.CompletedAt.Before(cutoff) {
			delete(r.f.JobRows, id)
			n++
		}
	}
	return n, nil
}

type imageRepo struct{ f *Fake }

func (r imageRepo) InsertBatch(ctx context.Context, images []model.DiscoveredImage) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	newRows := 0
	for _, img := range images {
		if r.urlExists(img.SourceURL) {
			continue // conflict on source-URL hash: silent no-op.
		}
		cp := img
		if cp.DiscoveredAt.IsZero() {
			cp.DiscoveredAt = time.Now()
		}
		r.f.ImageRows[img.ID] = &cp
		newRows++
	}
	return newRows, nil
}

func (r imageRepo) urlExists(url string) bool {
	for _, existing := range r.f.ImageRows {
		if existing.SourceURL == url {
			return true
		}
	}
	return false
}

func (r imageRepo) PendingFaceProbe(ctx context.Context, limit int) ([]model.DiscoveredImage, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.DiscoveredImage
	for _, img := range r.f.ImageRows {
		if img.HasFaces == nil {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.After(out[j].DiscoveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r imageRepo) SetFaceResult(ctx context.Context, imageID string, hasFaces bool, faceCount int) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	img, ok := r.f.ImageRows[imageID]
	if !ok {
		return fmt.Errorf("storetest: image %s not found", imageID)
	}
	v := hasFaces
	img.HasFaces = &v
	img.FaceCount = faceCount
	return nil
}

func (r imageRepo) SetThumbnail(ctx context.Context, imageID string, key string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	img, ok := r.f.ImageRows[imageID]
	if !ok {
		return fmt.Errorf("storetest: image %s not found", imageID)
	}
	img.ThumbnailKey = key
	return nil
}

func (r imageRepo) DeleteOlderThan(ctx context.Context, hasFaces *bool, olderThan time.Duration, limit int) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, img := range r.f.ImageRows {
		if n >= limit {
			break
		}
		if !img.DiscoveredAt.Before(cutoff) {
			continue
		}
		match := (hasFaces == nil && img.HasFaces == nil) ||
			(hasFaces != nil && img.HasFaces != nil && *img.HasFaces == *hasFaces)
		if match {
			delete(r.f.ImageRows, id)
			n++
		}
	}
	return n, nil
}

func (r imageRepo) DeleteFacePositiveWithoutChildren(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, img := range r.f.ImageRows {
		if n >= limit {
			break
		}
		if img.HasFaces == nil || !*img.HasFaces || !img.DiscoveredAt.Before(cutoff) {
			continue
		}
		if r.hasChildren(id) {
			continue
		}
		delete(r.f.ImageRows, id)
		n++
	}
	return n, nil
}

func (r imageRepo) hasChildren(imageID string) bool {
	for _, e := range r.f.FaceEmbeddingRows {
		if e.ImageID == imageID {
			return true
		}
	}
	for _, m := range r.f.MatchRows {
		if m.ImageID == imageID {
			return true
		}
	}
	return false
}

type faceEmbeddingRepo struct{ f *Fake }

func (r faceEmbeddingRepo) Insert(ctx context.Context, e *model.DiscoveredFaceEmbedding) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.FaceEmbeddingRows {
		if existing.ImageID == e.ImageID && existing.FaceIndex == e.FaceIndex {
			return nil // conflict on (image, face-index): silent no-op.
		}
	}
	cp := *e
	r.f.FaceEmbeddingRows[e.ID] = &cp
	return nil
}

func (r faceEmbeddingRepo) PendingMatch(ctx context.Context, limit int) ([]model.DiscoveredFaceEmbedding, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.DiscoveredFaceEmbedding
	for _, e := range r.f.FaceEmbeddingRows {
		if e.MatchedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r faceEmbeddingRepo) MarkMatched(ctx context.Context, ids []string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, id := range ids {
		if e, ok := r.f.FaceEmbeddingRows[id]; ok {
			t := at
			e.MatchedAt = &t
		}
	}
	return nil
}

func (r faceEmbeddingRepo) DeleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, e := range r.f.FaceEmbeddingRows {
		if n >= limit {
			break
		}
		img, ok := r.f.ImageRows[e.ImageID]
		if ok && img.DiscoveredAt.Before(cutoff) {
			delete(r.f.FaceEmbeddingRows, id)
			n++
		}
	}
	return n, nil
}

type matchRepo struct{ f *Fake }

func (r matchRepo) Insert(ctx context.Context, m *model.Match) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.MatchRows {
		if existing.ImageID == m.ImageID && existing.ContributorID == m.ContributorID {
			return false, nil // conflict on (image, contributor): no-op.
		}
	}
	cp := *m
	r.f.MatchRows[m.ID] = &cp
	return true, nil
}

func (r matchRepo) SetKnownAccount(ctx context.Context, matchID string, knownAccountID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.MatchRows[matchID]
	if !ok {
		return fmt.Errorf("storetest: match %s not found", matchID)
	}
	m.IsKnownAccount = true
	m.KnownAccountID = knownAccountID
	return nil
}

func (r matchRepo) SetAIClassification(ctx context.Context, matchID string, isAI bool, score float64, generator string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.MatchRows[matchID]
	if !ok {
		return fmt.Errorf("storetest: match %s not found", matchID)
	}
	m.AIGenerated = isAI
	m.AIGeneratedScore = score
	m.AIGenerator = generator
	return nil
}

func (r matchRepo) PageURL(ctx context.Context, matchID string) (string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.MatchRows[matchID]
	if !ok {
		return "", fmt.Errorf("storetest: match %s not found", matchID)
	}
	if img, ok := r.f.ImageRows[m.ImageID]; ok {
		return img.PageURL, nil
	}
	return "", nil
}

func (r matchRepo) ThumbnailKey(ctx context.Context, matchID string) (string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.MatchRows[matchID]
	if !ok {
		return "", fmt.Errorf("storetest: match %s not found", matchID)
	}
	if img, ok := r.f.ImageRows[m.ImageID]; ok {
		return img.ThumbnailKey, nil
	}
	return "", nil
}

type registryMatchRepo struct{ f *Fake }

func (r registryMatchRepo) Insert(ctx context.Context, m *model.RegistryMatch) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.RegistryMatchRows {
		if existing.IdentityID == m.IdentityID && existing.ImageID == m.ImageID && existing.FaceIndex == m.FaceIndex {
			return false, nil
		}
	}
	cp := *m
	r.f.RegistryMatchRows[m.ID] = &cp
	return true, nil
}

type evidenceRepo struct{ f *Fake }

func (r evidenceRepo) Insert(ctx context.Context, e *model.Evidence) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *e
	r.f.EvidenceRows = append(r.f.EvidenceRows, &cp)
	return nil
}

type notificationRepo struct{ f *Fake }

func (r notificationRepo) Insert(ctx context.Context, n *model.Notification) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *n
	r.f.NotificationRows = append(r.f.NotificationRows, &cp)
	return nil
}

func (r notificationRepo) DeleteReadOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	kept := r.f.NotificationRows[:0]
	n := 0
	for _, row := range r.f.NotificationRows {
		if n < limit && row.Read && !row.CreatedAt.IsZero() && row.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.f.NotificationRows = kept
	return n, nil
}

type mlStateRepo struct{ f *Fake }

func (r mlStateRepo) Thresholds(ctx context.Context) (float64, float64, float64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.f.Low, r.f.Medium, r.f.High, nil
}

type vectorIndex struct{ f *Fake }

func (v vectorIndex) SearchRegistry(ctx context.Context, query []float32, threshold float64, topK int, primaryOnly bool) ([]store.MatchHit, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	var out []store.MatchHit
	for _, h := range v.f.RegistryHits {
		if h.Similarity > threshold {
			out = append(out, h)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (v vectorIndex) SearchDiscoveredFaces(ctx context.Context, query []float32, threshold float64, lookback time.Duration, limit int) ([]store.DiscoveredFaceHit, error) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	var out []store.DiscoveredFaceHit
	for _, h := range v.f.DiscoveredHits {
		if h.Similarity > threshold {
			out = append(out, h)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
