// Package publish implements the Publish Engine (spec §4.H):
// transactional, best-effort-atomic writing of selected assets and a
// generated NFO into a library directory, with rollback on partial
// failure and an append-only publish_log. There is no direct teacher
// analogue (CineVault serves a media library, it does not write into
// one) so the write discipline is grounded on internal/cache's
// temp+rename atomic write, generalized here to hard-link-or-copy plus
// undo bookkeeping; bulk concurrency bounding uses
// golang.org/x/sync/semaphore, present in the wider example pack.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/models"
)

// DefaultConcurrency is the default upper bound on parallel per-item
// publishes (spec §4.H "default 4").
const DefaultConcurrency = 4

// Repository is the persistence boundary for published-asset
// bookkeeping and the publish log (spec §4.H steps 3.iii, 6).
type Repository interface {
	ReplacePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, assets []models.PublishedAsset) ([]models.PublishedAsset, error)
	RestorePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, previous []models.PublishedAsset) error
	InsertPublishLog(ctx context.Context, log models.PublishLog) error
}

// NFOBuilder renders a MediaItem's current DB state into NFO bytes.
// The database, not provider data, is the source of truth at publish
// time (spec §4.H step 2).
type NFOBuilder func(item *models.MediaItem) ([]byte, error)

// Engine runs the publish pipeline.
type Engine struct {
	cache   *cache.Cache
	repo    Repository
	nfo     NFOBuilder
	sem     *semaphore.Weighted
	logger  *log.Logger
	now     func() time.Time

	// itemLocks holds one *sync.Mutex per media item currently being
	// published, an in-memory advisory lock so two concurrent publishes
	// of the same item serialize instead of racing on the filesystem
	// and ReplacePublishedAssets (spec §4.H "a per-item advisory lock").
	itemLocks sync.Map
}

// New constructs an Engine. concurrency bounds simultaneous in-flight
// publishes across items (spec §4.H "Bulk publish").
func New(c *cache.Cache, repo Repository, nfo NFOBuilder, concurrency int, logger *log.Logger) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if nfo == nil {
		nfo = MovieNFO
	}
	return &Engine{
		cache:  c,
		repo:   repo,
		nfo:    nfo,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: logger,
		now:    time.Now,
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// lockFor returns the mutex guarding mediaItemID's publish mutations,
// creating it on first use.
func (e *Engine) lockFor(mediaItemID uuid.UUID) *sync.Mutex {
	actual, _ := e.itemLocks.LoadOrStore(mediaItemID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// requiredFieldsSatisfied checks item against the per-media-type
// completeness config (spec §4.H step 1).
func requiredFieldsSatisfied(item *models.MediaItem, requiredFields []string) error {
	for _, field := range requiredFields {
		switch field {
		case "title":
			if item.Title == "" {
				return apperr.New(apperr.KindValidation, "publish: missing required field title")
			}
		case "plot":
			if item.Plot == "" {
				return apperr.New(apperr.KindValidation, "publish: missing required field plot")
			}
		case "year":
			if item.Year == nil {
				return apperr.New(apperr.KindValidation, "publish: missing required field year")
			}
		}
	}
	return nil
}

// Publish writes item's selected assets and NFO into libraryDir (spec
// §4.H). selected must already be filtered to IsSelected && IsDownloaded
// candidates, grouped by asset type by the caller.
func (e *Engine) Publish(ctx context.Context, item *models.MediaItem, selected []models.AssetCandidate, libraryDir string, requiredFields []string) (models.PublishLog, error) {
	lock := e.lockFor(item.ID)
	lock.Lock()
	defer lock.Unlock()

	start := e.now()
	result := models.PublishLog{ID: uuid.New(), MediaItemID: item.ID, CreatedAt: start}

	if err := e.validate(selected, item, requiredFields); err != nil {
		result.Success = false
		errMsg := err.Error()
		result.Error = &errMsg
		result.DurationMs = e.now().Sub(start).Milliseconds()
		_ = e.repo.InsertPublishLog(ctx, result)
		return result, err
	}

	nfoBytes, err := e.nfo(item)
	if err != nil {
		return e.fail(ctx, result, start, apperr.Wrap(apperr.KindValidation, "publish: generating NFO", err))
	}
	nfoSum := sha256.Sum256(nfoBytes)
	result.NFOHash = hex.EncodeToString(nfoSum[:])

	written, err := e.writeAssets(libraryDir, selected)
	if err != nil {
		rollback(written)
		return e.fail(ctx, result, start, err)
	}

	nfoPath := filepath.Join(libraryDir, conventionalNFOName(item.Kind))
	if err := cache.CopyStream(nfoPath, bytesReader(nfoBytes)); err != nil {
		rollback(written)
		return e.fail(ctx, result, start, apperr.Wrap(apperr.KindIO, "publish: writing NFO", err))
	}
	written = append(written, nfoPath)

	published := make([]models.PublishedAsset, 0, len(selected))
	slot := map[models.AssetType]int{}
	for _, a := range selected {
		idx := slot[a.AssetType]
		slot[a.AssetType] = idx + 1
		published = append(published, models.PublishedAsset{
			ID:                   uuid.New(),
			MediaItemID:          item.ID,
			AssetType:            a.AssetType,
			LibraryPath:          conventionalDest(libraryDir, a, idx),
			PublishedContentHash: derefOrEmpty(a.ContentHash),
			CreatedAt:            e.now(),
			UpdatedAt:            e.now(),
		})
	}

	previous, err := e.repo.ReplacePublishedAssets(ctx, item.ID, published)
	if err != nil {
		rollback(written)
		return e.fail(ctx, result, start, apperr.Wrap(apperr.KindIO, "publish: recording published assets", err))
	}

	result.Success = true
	result.AssetsWritten = written
	result.DurationMs = e.now().Sub(start).Milliseconds()
	if logErr := e.repo.InsertPublishLog(ctx, result); logErr != nil {
		e.logf("publish: failed to append publish_log for %s: %v", item.ID, logErr)
	}
	_ = previous
	return result, nil
}

func (e *Engine) validate(selected []models.AssetCandidate, item *models.MediaItem, requiredFields []string) error {
	for _, a := range selected {
		if !a.IsDownloaded || a.ContentHash == nil {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("publish: selected asset %s not downloaded", a.ID))
		}
	}
	return requiredFieldsSatisfied(item, requiredFields)
}

func (e *Engine) fail(ctx context.Context, result models.PublishLog, start time.Time, err error) (models.PublishLog, error) {
	result.Success = false
	msg := err.Error()
	result.Error = &msg
	result.DurationMs = e.now().Sub(start).Milliseconds()
	if logErr := e.repo.InsertPublishLog(ctx, result); logErr != nil {
		e.logf("publish: failed to append failing publish_log: %v", logErr)
	}
	return result, err
}

// writeAssets copies each selected candidate's cached bytes into its
// conventional library filename, hard-linking when the cache and
// library roots share a filesystem and falling back to a streamed
// copy otherwise (spec §4.H step 3).
func (e *Engine) writeAssets(libraryDir string, selected []models.AssetCandidate) ([]string, error) {
	if err := os.MkdirAll(libraryDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "publish: creating library directory", err)
	}

	byType := map[models.AssetType]int{}
	var written []string
	for _, a := range selected {
		idx := byType[a.AssetType]
		byType[a.AssetType] = idx + 1
		dest := conventionalPathFor(libraryDir, a.AssetType, idx, extOf(a))

		srcPath := e.cache.AbsPathForRow(*a.ContentHash)
		if err := linkOrCopy(srcPath, dest); err != nil {
			return written, apperr.Wrap(apperr.KindIO, fmt.Sprintf("publish: writing %s", dest), err)
		}
		written = append(written, dest)
	}
	return written, nil
}

// linkOrCopy hard-links src to dest, falling back to a streamed copy
// when they are on different volumes (spec §4.H step 3 "hard-link if
// same volume, else streamed copy").
func linkOrCopy(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	_ = os.Remove(dest)
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return cache.CopyStream(dest, f)
}

// rollback undoes writes made during a failed publish attempt (spec
// §4.H step 5 "undo successful writes... unlink fresh files").
func rollback(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func conventionalNFOName(kind models.MediaItemKind) string {
	switch kind {
	case models.KindEpisode:
		return "episode.nfo"
	case models.KindSeries:
		return "tvshow.nfo"
	default:
		return "movie.nfo"
	}
}

// conventionalDest reproduces the same filename conventionalPathFor
// would compute, given the index already implied by IsSelected
// ordering in the caller's slice — used purely for PublishedAsset
// bookkeeping, not for the actual write.
func conventionalDest(libraryDir string, a models.AssetCandidate, index int) string {
	return conventionalPathFor(libraryDir, a.AssetType, index, extOf(a))
}

// conventionalPathFor derives the Kodi-style filename for an asset
// type and its slot index: poster.jpg, fanart.jpg, fanart1.jpg, ...
// (spec §4.H "Filenames follow media-type conventions").
func conventionalPathFor(libraryDir string, assetType models.AssetType, index int, ext string) string {
	base := string(assetType)
	switch assetType {
	case models.AssetSeasonPoster:
		base = "season-poster"
	case models.AssetClearArt:
		base = "clearart"
	case models.AssetClearLogo:
		base = "clearlogo"
	case models.AssetDiscArt:
		base = "discart"
	}
	name := base
	if assetType.MultiSlot() && index > 0 {
		name = fmt.Sprintf("%s%d", base, index)
	}
	return filepath.Join(libraryDir, name+ext)
}

func extOf(a models.AssetCandidate) string {
	if a.AssetType == models.AssetSubtitle {
		return ".srt"
	}
	if a.AssetType == models.AssetTrailer {
		return ".mp4"
	}
	return ".jpg"
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// bytesReader adapts a []byte to io.Reader without importing
// bytes.Reader's full constructor chain at every call site.
func bytesReader(b []byte) io.Reader {
	return &onceReader{b: b}
}

type onceReader struct {
	b   []byte
	off int
}

func (r *onceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

// MovieNFO is the default NFOBuilder: a minimal Kodi-style <movie> NFO
// built purely from the MediaItem's current DB fields (spec §4.H step 2
// "the database — not provider data — is the source of truth").
func MovieNFO(item *models.MediaItem) ([]byte, error) {
	type nfo struct {
		XMLName xml.Name `xml:"movie"`
		Title   string   `xml:"title"`
		Year    int      `xml:"year,omitempty"`
		Plot    string   `xml:"plot"`
	}
	doc := nfo{Title: item.Title, Plot: item.Plot}
	if item.Year != nil {
		doc.Year = *item.Year
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// AcquireSlot blocks until a bulk-publish concurrency slot is free
// (spec §4.H "parallel across items with an upper concurrency bound").
func (e *Engine) AcquireSlot(ctx context.Context) error {
	return e.sem.Acquire(ctx, 1)
}

// ReleaseSlot releases a slot acquired via AcquireSlot.
func (e *Engine) ReleaseSlot() {
	e.sem.Release(1)
}
