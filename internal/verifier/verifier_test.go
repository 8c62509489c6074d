package verifier

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/models"
)

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
	if e, ok := m.entries[hash]; ok {
		c := *e
		return &c, nil
	}
	return nil, nil
}

func (m *memCacheRepo) Insert(ctx context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	m.entries[entry.ContentHash] = &c
	return nil
}

func (m *memCacheRepo) IncrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[hash]
	e.ReferenceCount++
	e.OrphanedAt = nil
	return e, nil
}

func (m *memCacheRepo) DecrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	return nil, nil
}

func (m *memCacheRepo) Delete(ctx context.Context, hash string) error { return nil }

func (m *memCacheRepo) ListOrphanedBefore(ctx context.Context, cutoff time.Time) ([]models.CacheEntry, error) {
	return nil, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	assets  []models.PublishedAsset
	items   map[uuid.UUID]*models.MediaItem
	logs    []models.ActivityLogEntry
	staled  map[uuid.UUID]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[uuid.UUID]*models.MediaItem{}, staled: map[uuid.UUID]bool{}}
}

func (r *fakeRepo) ListPublishedAssetsSince(ctx context.Context, since time.Time) ([]models.PublishedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PublishedAsset, len(r.assets))
	copy(out, r.assets)
	return out, nil
}

func (r *fakeRepo) GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id], nil
}

func (r *fakeRepo) MarkPublishedAssetStale(ctx context.Context, id uuid.UUID, stale bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staled[id] = stale
	return nil
}

func (r *fakeRepo) InsertActivityLog(ctx context.Context, entry models.ActivityLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
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

func newItem() *models.MediaItem {
	return &models.MediaItem{ID: uuid.New(), Kind: models.KindMovie, Title: "X", Locks: models.NewFieldLocks()}
}

func TestRun_NoDriftWhenHashMatches(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "poster.jpg")
	if err := os.WriteFile(path, []byte("poster-bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	hash, _, _, err := cache.New(t.TempDir(), newMemCacheRepo(), 0).Store(context.Background(), []byte("poster-bytes"), cache.Metadata{Extension: ".jpg"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	item := newItem()
	repo := newFakeRepo()
	repo.items[item.ID] = item
	repo.assets = []models.PublishedAsset{
		{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetPoster, LibraryPath: path, PublishedContentHash: hash},
	}
	sub := &fakeSubmitter{}
	v := New(repo, cache.New(t.TempDir(), newMemCacheRepo(), 0), sub, nil)

	findings, err := v.Run(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 1 || findings[0].Drift {
		t.Fatalf("expected one non-drifted finding, got %+v", findings)
	}
	if len(repo.logs) != 0 {
		t.Fatalf("expected no activity log entries for a clean pass, got %d", len(repo.logs))
	}
}

func TestRun_RestoresFromCacheWhenFileMissing(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "poster.jpg")
	cRepo := newMemCacheRepo()
	c := cache.New(t.TempDir(), cRepo, 0)
	hash, _, _, err := c.Store(context.Background(), []byte("poster-bytes"), cache.Metadata{Extension: ".jpg"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	item := newItem()
	repo := newFakeRepo()
	repo.items[item.ID] = item
	assetID := uuid.New()
	repo.assets = []models.PublishedAsset{
		{ID: assetID, MediaItemID: item.ID, AssetType: models.AssetPoster, LibraryPath: path, PublishedContentHash: hash},
	}
	sub := &fakeSubmitter{}
	v := New(repo, c, sub, nil)

	findings, err := v.Run(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 1 || !findings[0].Drift || !findings[0].Restored {
		t.Fatalf("expected a restored drift finding, got %+v", findings)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file restored at %s: %v", path, err)
	}
	if repo.staled[assetID] {
		t.Fatalf("expected restored asset to not be marked stale")
	}
	if len(sub.jobs) != 0 {
		t.Fatalf("expected no republish job when cache restore succeeds, got %d", len(sub.jobs))
	}
}

func TestRun_FallsBackToRepublishWhenCacheAlsoMissing(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "poster.jpg")

	item := newItem()
	repo := newFakeRepo()
	repo.items[item.ID] = item
	assetID := uuid.New()
	repo.assets = []models.PublishedAsset{
		{ID: assetID, MediaItemID: item.ID, AssetType: models.AssetPoster, LibraryPath: path, PublishedContentHash: "deadbeef"},
	}
	sub := &fakeSubmitter{}
	v := New(repo, cache.New(t.TempDir(), newMemCacheRepo(), 0), sub, nil)

	findings, err := v.Run(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 1 || !findings[0].Drift || !findings[0].Republish {
		t.Fatalf("expected a republish drift finding, got %+v", findings)
	}
	if !repo.staled[assetID] {
		t.Fatalf("expected asset marked stale pending republish")
	}
	if len(sub.jobs) != 1 || sub.jobs[0].Type != "publish:item" {
		t.Fatalf("expected one republish job submitted, got %+v", sub.jobs)
	}
}

func TestRun_LockedAssetFlaggedNotRepaired(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "poster.jpg")

	item := newItem()
	item.Locks.Assets[models.AssetPoster] = true
	repo := newFakeRepo()
	repo.items[item.ID] = item
	assetID := uuid.New()
	repo.assets = []models.PublishedAsset{
		{ID: assetID, MediaItemID: item.ID, AssetType: models.AssetPoster, LibraryPath: path, PublishedContentHash: "deadbeef"},
	}
	sub := &fakeSubmitter{}
	v := New(repo, cache.New(t.TempDir(), newMemCacheRepo(), 0), sub, nil)

	findings, err := v.Run(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 1 || !findings[0].Drift || !findings[0].Locked || findings[0].Restored || findings[0].Republish {
		t.Fatalf("expected a locked-only finding, got %+v", findings)
	}
	if _, staled := repo.staled[assetID]; staled {
		t.Fatalf("expected locked asset to not be touched in stale bookkeeping")
	}
	if len(sub.jobs) != 0 {
		t.Fatalf("expected no republish job for a locked asset, got %d", len(sub.jobs))
	}
}
