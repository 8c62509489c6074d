package scanpipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/fieldlock"
	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/providers"
)

type fakeRepo struct {
	mu sync.Mutex

	libraries map[uuid.UUID]*models.Library
	items     map[uuid.UUID]*models.MediaItem

	unknownFiles []models.UnknownFile
	candidates   map[uuid.UUID]*models.AssetCandidate
	notifyGroups map[uuid.UUID][]uuid.UUID

	dirTotal, dirScanned, assetsCached int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		libraries:  map[uuid.UUID]*models.Library{},
		items:      map[uuid.UUID]*models.MediaItem{},
		candidates: map[uuid.UUID]*models.AssetCandidate{},
	}
}

func (r *fakeRepo) GetLibrary(ctx context.Context, id uuid.UUID) (*models.Library, error) {
	return r.libraries[id], nil
}

func (r *fakeRepo) GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	return r.items[id], nil
}

func (r *fakeRepo) UpsertMediaItemByPath(ctx context.Context, libraryID uuid.UUID, kind models.MediaItemKind, path string) (*models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.Path == path {
			return item, nil
		}
	}
	item := &models.MediaItem{
		ID: uuid.New(), LibraryID: libraryID, Kind: kind, Path: path,
		ProviderIDs:          map[string]string{},
		IdentificationStatus: models.StatusUnidentified,
	}
	r.items[item.ID] = item
	return item, nil
}

func (r *fakeRepo) SaveMediaItem(ctx context.Context, item *models.MediaItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *fakeRepo) InsertUnknownFile(ctx context.Context, f models.UnknownFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknownFiles = append(r.unknownFiles, f)
	return nil
}

func (r *fakeRepo) InsertAssetCandidates(ctx context.Context, candidates []models.AssetCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range candidates {
		c := candidates[i]
		r.candidates[c.ID] = &c
	}
	return nil
}

func (r *fakeRepo) ListAssetCandidates(ctx context.Context, mediaItemID uuid.UUID, assetType models.AssetType) ([]models.AssetCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AssetCandidate
	for _, c := range r.candidates {
		if c.MediaItemID == mediaItemID && c.AssetType == assetType {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) SaveAssetCandidate(ctx context.Context, c models.AssetCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[c.ID] = &c
	return nil
}

func (r *fakeRepo) GetAssetCandidate(ctx context.Context, id uuid.UUID) (*models.AssetCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates[id], nil
}

func (r *fakeRepo) IsAssetBlacklisted(ctx context.Context, provider, url string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) ListNotifyGroups(ctx context.Context, mediaItemID uuid.UUID) ([]uuid.UUID, error) {
	return r.notifyGroups[mediaItemID], nil
}

func (r *fakeRepo) SetDirectoriesTotal(ctx context.Context, scanJobID uuid.UUID, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirTotal = total
	return nil
}

func (r *fakeRepo) IncrementDirectoriesScanned(ctx context.Context, scanJobID uuid.UUID) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirScanned++
	return r.dirScanned, r.dirTotal, nil
}

func (r *fakeRepo) IncrementAssetsCached(ctx context.Context, scanJobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assetsCached++
	return nil
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (s *fakeSubmitter) Submit(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeSubmitter) byType(t string) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

// memCacheRepo is a minimal in-memory cache.Repository (tests here
// only exercise Store, not dedup/reference bookkeeping).
type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: map[string]*models.CacheEntry{}}
}

func (m *memCacheRepo) GetByHash(ctx context.Context, hash string) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[hash], nil
}
func (m *memCacheRepo) Insert(ctx context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	m.entries[entry.ContentHash] = &c
	return nil
}
func (m *memCacheRepo) IncrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	return nil, nil
}
func (m *memCacheRepo) DecrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	return nil, nil
}
func (m *memCacheRepo) Delete(ctx context.Context, hash string) error { return nil }
func (m *memCacheRepo) ListOrphanedBefore(ctx context.Context, cutoff time.Time) ([]models.CacheEntry, error) {
	return nil, nil
}

func mustPipeline(t *testing.T, repo Repository, sub Submitter) (*Pipeline, *cache.Cache) {
	t.Helper()
	dir := t.TempDir()
	c := cache.New(dir, newMemCacheRepo(), 0)
	arbiter := fieldlock.New(nil)
	orch := providers.NewOrchestrator(providers.NewRegistry(), nil)
	return New(repo, sub, c, nil, orch, arbiter, nil, nil), c
}

func TestHandleLibraryScan_EmitsOneDirectoryScanPerMediaDirectory(t *testing.T) {
	root := t.TempDir()
	movieDir := filepath.Join(root, "Movie (2020)")
	if err := os.MkdirAll(movieDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(movieDir, "movie.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	lib := &models.Library{ID: uuid.New(), RootPath: root, MediaType: models.LibraryMovie}
	repo.libraries[lib.ID] = lib
	sub := &fakeSubmitter{}
	p, _ := mustPipeline(t, repo, sub)

	payload, _ := json.Marshal(jobs.LibraryScanPayload{LibraryID: lib.ID, RootPath: root})
	job := &models.Job{ID: uuid.New(), Type: jobs.TypeLibraryScan, Payload: payload}

	if err := p.HandleLibraryScan(context.Background(), job); err != nil {
		t.Fatalf("handle library scan: %v", err)
	}
	if repo.dirTotal != 1 {
		t.Fatalf("expected 1 directory discovered, got %d", repo.dirTotal)
	}
	if got := len(sub.byType(jobs.TypeDirectoryScan)); got != 1 {
		t.Fatalf("expected 1 directory-scan job, got %d", got)
	}
}

func TestHandleDirectoryScan_IdentifiedItemAutoEmitsEnrich(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	nfo := `<movie><title>Example</title><year>2020</year><uniqueid type="tmdb">42</uniqueid></movie>`
	if err := os.WriteFile(filepath.Join(dir, "movie.nfo"), []byte(nfo), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mystery.xyz"), []byte("?"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	lib := &models.Library{ID: uuid.New(), RootPath: dir, MediaType: models.LibraryMovie}
	repo.libraries[lib.ID] = lib
	sub := &fakeSubmitter{}
	p, _ := mustPipeline(t, repo, sub)

	payload, _ := json.Marshal(jobs.DirectoryScanPayload{LibraryID: lib.ID, Kind: models.KindMovie, Path: dir})
	job := &models.Job{ID: uuid.New(), Type: jobs.TypeDirectoryScan, Payload: payload}

	if err := p.HandleDirectoryScan(context.Background(), job); err != nil {
		t.Fatalf("handle directory scan: %v", err)
	}

	var item *models.MediaItem
	for _, it := range repo.items {
		item = it
	}
	if item == nil {
		t.Fatal("expected a media item to be upserted")
	}
	if item.IdentificationStatus != models.StatusIdentified {
		t.Fatalf("expected identified status, got %s", item.IdentificationStatus)
	}
	if item.Title != "Example" || item.Year == nil || *item.Year != 2020 {
		t.Fatalf("expected nfo fields applied, got title=%q year=%v", item.Title, item.Year)
	}
	if len(repo.unknownFiles) != 1 {
		t.Fatalf("expected 1 unknown file recorded, got %d", len(repo.unknownFiles))
	}
	if got := len(sub.byType(jobs.TypeEnrichMetadata)); got != 1 {
		t.Fatalf("expected auto-emitted enrich-metadata job, got %d", got)
	}
}

func TestHandleDirectoryScan_SkipAutoEnrichSuppressesFollowup(t *testing.T) {
	dir := t.TempDir()
	nfo := `<movie><uniqueid type="tmdb">7</uniqueid></movie>`
	if err := os.WriteFile(filepath.Join(dir, "movie.nfo"), []byte(nfo), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	item := &models.MediaItem{ID: uuid.New(), Path: dir, ProviderIDs: map[string]string{}}
	repo.items[item.ID] = item
	sub := &fakeSubmitter{}
	p, _ := mustPipeline(t, repo, sub)

	payload, _ := json.Marshal(jobs.DirectoryScanPayload{MediaItemID: item.ID, Path: dir, SkipAutoEnrich: true})
	job := &models.Job{ID: uuid.New(), Payload: payload}

	if err := p.HandleDirectoryScan(context.Background(), job); err != nil {
		t.Fatalf("handle directory scan: %v", err)
	}
	if got := len(sub.byType(jobs.TypeEnrichMetadata)); got != 0 {
		t.Fatalf("expected no auto-emitted enrich job when SkipAutoEnrich is set, got %d", got)
	}
}

func TestHandleCacheAsset_StoresLocalFileAndRecordsCandidate(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "poster.jpg")
	if err := os.WriteFile(imgPath, []byte("fake-jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	sub := &fakeSubmitter{}
	p, _ := mustPipeline(t, repo, sub)

	mediaItemID := uuid.New()
	scanJobID := uuid.New()
	payload, _ := json.Marshal(jobs.CacheAssetPayload{
		MediaItemID: mediaItemID, ScanJobID: scanJobID, AssetType: models.AssetPoster,
		Provider: "local", LocalPath: imgPath,
	})
	job := &models.Job{ID: uuid.New(), Payload: payload}

	if err := p.HandleCacheAsset(context.Background(), job); err != nil {
		t.Fatalf("handle cache asset: %v", err)
	}
	if repo.assetsCached != 1 {
		t.Fatalf("expected assets_cached incremented once, got %d", repo.assetsCached)
	}
	found := false
	for _, c := range repo.candidates {
		if c.MediaItemID == mediaItemID && c.IsDownloaded && c.ContentHash != nil {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a downloaded asset candidate with a content hash")
	}
}

func TestHandleEnrichMetadata_ManualModeDoesNotAutoSelect(t *testing.T) {
	repo := newFakeRepo()
	lib := &models.Library{ID: uuid.New(), AutomationMode: models.AutomationManual, OrchestrationStrategy: models.StrategyPreferredFirst}
	repo.libraries[lib.ID] = lib
	item := &models.MediaItem{ID: uuid.New(), LibraryID: lib.ID, Kind: models.KindMovie, Title: "X", ProviderIDs: map[string]string{"tmdb": "1"}}
	repo.items[item.ID] = item
	sub := &fakeSubmitter{}
	p, _ := mustPipeline(t, repo, sub)

	payload, _ := json.Marshal(jobs.EnrichMetadataPayload{MediaItemID: item.ID})
	job := &models.Job{ID: uuid.New(), Payload: payload}

	if err := p.HandleEnrichMetadata(context.Background(), job); err != nil {
		t.Fatalf("handle enrich metadata: %v", err)
	}
	if repo.items[item.ID].IdentificationStatus != models.StatusEnriched {
		t.Fatalf("expected status enriched, got %s", repo.items[item.ID].IdentificationStatus)
	}
	if got := len(sub.byType(jobs.TypeDownloadAsset)); got != 0 {
		t.Fatalf("manual mode must not emit download-asset jobs, got %d", got)
	}
	if got := len(sub.byType(jobs.TypePublish)); got != 0 {
		t.Fatalf("manual mode must not auto-publish, got %d", got)
	}
}
