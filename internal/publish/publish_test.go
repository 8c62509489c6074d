package publish

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

type memPublishRepo struct {
	mu        sync.Mutex
	assets    map[uuid.UUID][]models.PublishedAsset
	logs      []models.PublishLog
}

func newMemPublishRepo() *memPublishRepo {
	return &memPublishRepo{assets: map[uuid.UUID][]models.PublishedAsset{}}
}

func (r *memPublishRepo) ReplacePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, assets []models.PublishedAsset) ([]models.PublishedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.assets[mediaItemID]
	r.assets[mediaItemID] = assets
	return prev, nil
}

func (r *memPublishRepo) RestorePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, previous []models.PublishedAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[mediaItemID] = previous
	return nil
}

func (r *memPublishRepo) InsertPublishLog(ctx context.Context, log models.PublishLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func setup(t *testing.T) (*Engine, *cache.Cache, *memPublishRepo, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	libDir := t.TempDir()
	cRepo := newMemCacheRepo()
	c := cache.New(cacheRoot, cRepo, 90*24*time.Hour)
	pRepo := newMemPublishRepo()
	e := New(c, pRepo, nil, 2, nil)
	return e, c, pRepo, libDir
}

func storeFakePoster(t *testing.T, c *cache.Cache) string {
	t.Helper()
	hash, _, _, err := c.Store(context.Background(), []byte("fake-jpeg-bytes"), cache.Metadata{Extension: ".jpg"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return hash
}

func TestPublish_WritesAssetsAndNFOAndRecordsLog(t *testing.T) {
	e, c, repo, libDir := setup(t)
	hash := storeFakePoster(t, c)

	year := 2010
	item := &models.MediaItem{ID: uuid.New(), Kind: models.KindMovie, Title: "Inception", Year: &year, Plot: "A thief who steals corporate secrets."}
	asset := models.AssetCandidate{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetPoster, IsDownloaded: true, IsSelected: true, ContentHash: &hash}

	result, err := e.Publish(context.Background(), item, []models.AssetCandidate{asset}, libDir, []string{"title", "plot"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(libDir, "poster.jpg")); err != nil {
		t.Fatalf("expected poster.jpg written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(libDir, "movie.nfo")); err != nil {
		t.Fatalf("expected movie.nfo written: %v", err)
	}
	if len(repo.logs) != 1 || !repo.logs[0].Success {
		t.Fatalf("expected one successful publish_log row, got %+v", repo.logs)
	}
	if len(repo.assets[item.ID]) != 1 {
		t.Fatalf("expected one published asset recorded, got %d", len(repo.assets[item.ID]))
	}
}

func TestPublish_RejectsUndownloadedAsset(t *testing.T) {
	e, _, repo, libDir := setup(t)
	item := &models.MediaItem{ID: uuid.New(), Kind: models.KindMovie, Title: "X", Plot: "Y"}
	asset := models.AssetCandidate{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetPoster, IsDownloaded: false}

	_, err := e.Publish(context.Background(), item, []models.AssetCandidate{asset}, libDir, nil)
	if err == nil {
		t.Fatal("expected error for undownloaded asset")
	}
	if len(repo.logs) != 1 || repo.logs[0].Success {
		t.Fatalf("expected one failed publish_log row, got %+v", repo.logs)
	}
}

func TestPublish_MissingRequiredFieldFails(t *testing.T) {
	e, c, _, libDir := setup(t)
	hash := storeFakePoster(t, c)
	item := &models.MediaItem{ID: uuid.New(), Kind: models.KindMovie, Title: ""}
	asset := models.AssetCandidate{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetPoster, IsDownloaded: true, ContentHash: &hash}

	_, err := e.Publish(context.Background(), item, []models.AssetCandidate{asset}, libDir, []string{"title"})
	if err == nil {
		t.Fatal("expected error for missing required title")
	}
}

func TestPublish_MultiSlotAssetsGetIndexedFilenames(t *testing.T) {
	e, c, _, libDir := setup(t)
	h1, _, _, _ := c.Store(context.Background(), []byte("fanart-one"), cache.Metadata{Extension: ".jpg"})
	h2, _, _, _ := c.Store(context.Background(), []byte("fanart-two"), cache.Metadata{Extension: ".jpg"})

	item := &models.MediaItem{ID: uuid.New(), Kind: models.KindMovie, Title: "X", Plot: "Y"}
	assets := []models.AssetCandidate{
		{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetFanart, IsDownloaded: true, ContentHash: &h1},
		{ID: uuid.New(), MediaItemID: item.ID, AssetType: models.AssetFanart, IsDownloaded: true, ContentHash: &h2},
	}

	result, err := e.Publish(context.Background(), item, assets, libDir, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(libDir, "fanart.jpg")); err != nil {
		t.Fatalf("expected fanart.jpg: %v", err)
	}
	if _, err := os.Stat(filepath.Join(libDir, "fanart1.jpg")); err != nil {
		t.Fatalf("expected fanart1.jpg: %v", err)
	}
}
