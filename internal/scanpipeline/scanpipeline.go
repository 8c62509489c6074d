// Package scanpipeline implements the Scan Pipeline (spec §4.F): a
// top-level library-scan job that spawns directory-scan children,
// which in turn spawn cache-asset and enrich-metadata children,
// advancing a parent-tracked phase state machine
// (discovering -> scanning -> caching -> enriching -> complete) by
// counter equality. Directory walking and extension classification are
// grounded on internal/scanner/scanner.go's ScanLibrary (WalkDir with
// symlink-cycle protection and a mount-stat timeout, extension-set
// classification); the job-structured phase split has no teacher
// analogue and is new, built in the teacher's plain-struct,
// repository-call idiom.
package scanpipeline

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/fieldlock"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/probe"
	"github.com/mediaforge/mediaforge/internal/providers"
	"github.com/mediaforge/mediaforge/internal/scoring"
)

// mountStatTimeout bounds how long a single root's initial os.Stat may
// block before it is treated as a hung network mount (spec §5, grounded
// on scanner.go's 10s mount-timeout select).
const mountStatTimeout = 10 * time.Second

// videoExtensions, imageExtensions, subtitleExtensions classify scan
// files by extension (spec §4.F Phase 2 step 1), grounded on
// internal/scanner/scanner.go's extension sets.
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".m4v": true, ".wmv": true, ".flv": true, ".webm": true,
	".ts": true, ".m2ts": true, ".mpg": true, ".mpeg": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".tbn": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".sub": true, ".ass": true, ".ssa": true, ".vtt": true,
}

// fileClass is what a scanned file was classified as (spec §4.F Phase
// 2 step 1 "{video, image, subtitle, NFO, trailer, unknown}").
type fileClass string

const (
	classVideo     fileClass = "video"
	classImage     fileClass = "image"
	classSubtitle  fileClass = "subtitle"
	classNFO       fileClass = "nfo"
	classTrailer   fileClass = "trailer"
	classUnknown   fileClass = "unknown"
)

// Repository is the persistence boundary scanpipeline depends on.
// Implemented by internal/store against Postgres.
type Repository interface {
	GetLibrary(ctx context.Context, id uuid.UUID) (*models.Library, error)
	GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	UpsertMediaItemByPath(ctx context.Context, libraryID uuid.UUID, kind models.MediaItemKind, path string) (*models.MediaItem, error)
	SaveMediaItem(ctx context.Context, item *models.MediaItem) error

	InsertUnknownFile(ctx context.Context, f models.UnknownFile) error

	InsertAssetCandidates(ctx context.Context, candidates []models.AssetCandidate) error
	ListAssetCandidates(ctx context.Context, mediaItemID uuid.UUID, assetType models.AssetType) ([]models.AssetCandidate, error)
	SaveAssetCandidate(ctx context.Context, c models.AssetCandidate) error
	GetAssetCandidate(ctx context.Context, id uuid.UUID) (*models.AssetCandidate, error)
	IsAssetBlacklisted(ctx context.Context, provider, url string) (bool, error)
	ListNotifyGroups(ctx context.Context, mediaItemID uuid.UUID) ([]uuid.UUID, error)

	// SetDirectoriesTotal and IncrementDirectoriesScanned/
	// IncrementAssetsCached back the phase-transition-by-counter-
	// equality rule (spec §4.F "Phase transitions are detected by
	// equality of the parent's counters").
	SetDirectoriesTotal(ctx context.Context, scanJobID uuid.UUID, total int) error
	IncrementDirectoriesScanned(ctx context.Context, scanJobID uuid.UUID) (scanned, total int, err error)
	IncrementAssetsCached(ctx context.Context, scanJobID uuid.UUID) error
}

// Submitter is the subset of jobs.Dispatcher this package depends on.
type Submitter interface {
	Submit(ctx context.Context, job *models.Job) error
}

// Pipeline runs the four Scan Pipeline handlers, registered against a
// jobs.Dispatcher by the caller.
type Pipeline struct {
	repo         Repository
	dispatcher   Submitter
	cache        *cache.Cache
	prober       *probe.Prober
	orchestrator *providers.Orchestrator
	arbiter      *fieldlock.Arbiter
	assetClient  *httpclient.Client
	logger       *log.Logger
	now          func() time.Time
}

// New builds a Pipeline over its collaborators.
func New(repo Repository, dispatcher Submitter, c *cache.Cache, prober *probe.Prober, orchestrator *providers.Orchestrator, arbiter *fieldlock.Arbiter, assetClient *httpclient.Client, logger *log.Logger) *Pipeline {
	return &Pipeline{
		repo: repo, dispatcher: dispatcher, cache: c, prober: prober,
		orchestrator: orchestrator, arbiter: arbiter, assetClient: assetClient,
		logger: logger, now: time.Now,
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func mediaKindFor(t models.LibraryMediaType) models.MediaItemKind {
	switch t {
	case models.LibraryTV:
		return models.KindSeries
	case models.LibraryMusic:
		return models.KindAlbum
	default:
		return models.KindMovie
	}
}

// HandleLibraryScan is the TypeLibraryScan job handler (spec §4.F
// Phase 1 "Discovery"). It walks the library root for candidate media
// directories and emits one directory-scan child per directory; it
// returns as soon as every child is queued, per the phase's
// non-blocking contract.
func (p *Pipeline) HandleLibraryScan(ctx context.Context, job *models.Job) error {
	var payload jobs.LibraryScanPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: decode library-scan payload", err)
	}
	library, err := p.repo.GetLibrary(ctx, payload.LibraryID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: get library", err)
	}

	root := payload.RootPath
	if root == "" {
		root = library.RootPath
	}

	dirs, err := p.discoverMediaDirectories(ctx, root)
	if err != nil {
		return err
	}

	if err := p.repo.SetDirectoriesTotal(ctx, job.ID, len(dirs)); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: record directories_total", err)
	}

	kind := mediaKindFor(library.MediaType)
	for _, dir := range dirs {
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindCancellation, "scanpipeline: library scan cancelled", ctx.Err())
		default:
		}
		childPayload, _ := json.Marshal(jobs.DirectoryScanPayload{
			LibraryID: library.ID,
			Kind:      kind,
			Path:      dir,
		})
		child := &models.Job{
			ID:          uuid.New(),
			Type:        jobs.TypeDirectoryScan,
			Priority:    models.PriorityNormalHigh,
			Payload:     childPayload,
			ParentJobID: &job.ID,
			MaxRetries:  3,
		}
		if err := p.dispatcher.Submit(ctx, child); err != nil {
			p.logf("scanpipeline: submit directory-scan for %s: %v", dir, err)
		}
	}
	return nil
}

// discoverMediaDirectories walks root and returns every directory that
// directly contains at least one video file (spec §4.F Phase 1 "list
// candidate media directories"). Grounded on scanner.go's mount-stat
// timeout and symlink-cycle-protected WalkDir.
func (p *Pipeline) discoverMediaDirectories(ctx context.Context, root string) ([]string, error) {
	statDone := make(chan error, 1)
	go func() { _, err := os.Stat(root); statDone <- err }()
	select {
	case <-time.After(mountStatTimeout):
		return nil, apperr.New(apperr.KindIO, "scanpipeline: mount timeout statting "+root)
	case err := <-statDone:
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, "scanpipeline: stat library root", err)
		}
	}

	visited := map[string]bool{}
	found := map[string]bool{}
	var order []string
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			real, eerr := filepath.EvalSymlinks(path)
			if eerr != nil {
				return nil
			}
			if visited[real] {
				return filepath.SkipDir
			}
			visited[real] = true
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !videoExtensions[ext] {
			return nil
		}
		dir := filepath.Dir(path)
		if !found[dir] {
			found[dir] = true
			order = append(order, dir)
		}
		return nil
	})
	if walkErr != nil {
		return nil, apperr.Wrap(apperr.KindIO, "scanpipeline: walk library root", walkErr)
	}
	sort.Strings(order)
	return order, nil
}

// classify buckets name by extension and filename convention (spec
// §4.F Phase 2 step 1).
func classify(name string) fileClass {
	ext := strings.ToLower(filepath.Ext(name))
	lower := strings.ToLower(name)
	switch {
	case ext == ".nfo":
		return classNFO
	case videoExtensions[ext] && (strings.Contains(lower, "-trailer") || strings.Contains(lower, "trailer")):
		return classTrailer
	case videoExtensions[ext]:
		return classVideo
	case imageExtensions[ext]:
		return classImage
	case subtitleExtensions[ext]:
		return classSubtitle
	default:
		return classUnknown
	}
}

// assetTypeForImageName maps a conventional local-artwork filename to
// its AssetType, reporting false when no convention matches;
// cacheLocalImage then files the image as a poster, however many images
// the directory holds.
func assetTypeForImageName(name string) (models.AssetType, bool) {
	base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	base = strings.TrimRight(base, "0123456789")
	switch base {
	case "poster", "folder", "cover":
		return models.AssetPoster, true
	case "fanart", "backdrop", "background":
		return models.AssetFanart, true
	case "banner":
		return models.AssetBanner, true
	case "clearart":
		return models.AssetClearArt, true
	case "clearlogo", "logo":
		return models.AssetClearLogo, true
	case "discart", "disc":
		return models.AssetDiscArt, true
	case "thumb", "landscape":
		return models.AssetThumb, true
	case "season-poster", "seasonposter":
		return models.AssetSeasonPoster, true
	default:
		return "", false
	}
}

// nfoDoc is the minimal subset of Kodi-style NFO fields this pipeline
// reads back out (spec §4.F Phase 2 step 2); writing NFOs is
// internal/publish's concern, not this package's.
type nfoDoc struct {
	XMLName  xml.Name `xml:"movie"`
	Title    string   `xml:"title"`
	Plot     string   `xml:"plot"`
	Year     int      `xml:"year"`
	UniqueID []struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"uniqueid"`
}

func parseNFO(data []byte) (nfoDoc, error) {
	var doc nfoDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nfoDoc{}, err
	}
	return doc, nil
}

// HandleDirectoryScan is the TypeDirectoryScan job handler (spec §4.F
// Phase 2). It classifies the directory's files, parses an NFO if
// present, stream-probes the primary video, discovers local artwork,
// records unclassifiable files, and upserts the MediaItem's
// identification status. It makes no provider API calls.
func (p *Pipeline) HandleDirectoryScan(ctx context.Context, job *models.Job) error {
	var payload jobs.DirectoryScanPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: decode directory-scan payload", err)
	}

	item, err := p.resolveItem(ctx, payload)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(payload.Path)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: read directory "+payload.Path, err)
	}

	var videos, images, nfos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(payload.Path, e.Name())
		switch classify(e.Name()) {
		case classVideo:
			videos = append(videos, full)
		case classImage:
			images = append(images, full)
		case classNFO:
			nfos = append(nfos, full)
		case classTrailer, classSubtitle:
			// trailers/subtitles are recognised so they are not recorded
			// as unknown files; they are neither cached nor turned into
			// asset candidates, here or in the enrichment phase (local
			// asset discovery covers images only).
		default:
			if err := p.repo.InsertUnknownFile(ctx, models.UnknownFile{
				ID: uuid.New(), MediaItemID: item.ID, Path: full,
				Extension: strings.ToLower(filepath.Ext(full)),
				Resolution: models.UnknownPending,
			}); err != nil {
				p.logf("scanpipeline: insert unknown file %s: %v", full, err)
			}
		}
	}

	if len(nfos) > 0 {
		if data, rerr := os.ReadFile(nfos[0]); rerr == nil {
			if doc, perr := parseNFO(data); perr == nil {
				applyNFO(item, doc)
			} else {
				p.logf("scanpipeline: parse nfo %s: %v", nfos[0], perr)
			}
		}
	}

	if primary := largestFile(videos); primary != "" && p.prober != nil {
		if _, perr := p.prober.Probe(ctx, primary); perr != nil {
			p.logf("scanpipeline: probe %s: %v", primary, perr)
		}
	}

	if !payload.Upgrade {
		scanJobID := job.ID
		if job.ParentJobID != nil {
			scanJobID = *job.ParentJobID
		}
		for _, img := range images {
			if err := p.cacheLocalImage(ctx, job.ID, scanJobID, item.ID, img); err != nil {
				p.logf("scanpipeline: cache local image %s: %v", img, err)
			}
		}
	}

	if item.HasAnyProviderID() {
		item.IdentificationStatus = models.StatusIdentified
	} else if item.IdentificationStatus != models.StatusEnriched {
		item.IdentificationStatus = models.StatusUnidentified
	}
	if err := p.repo.SaveMediaItem(ctx, item); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: save media item", err)
	}

	if job.ParentJobID != nil {
		if scanned, total, ierr := p.repo.IncrementDirectoriesScanned(ctx, *job.ParentJobID); ierr != nil {
			p.logf("scanpipeline: increment directories_scanned: %v", ierr)
		} else if scanned == total {
			p.logf("scanpipeline: library scan %s directory phase complete (%d/%d)", *job.ParentJobID, scanned, total)
		}
	}

	if item.IdentificationStatus == models.StatusIdentified && !payload.SkipAutoEnrich {
		enrichPayload, _ := json.Marshal(jobs.EnrichMetadataPayload{MediaItemID: item.ID, Upgrade: payload.Upgrade})
		enrichJob := &models.Job{
			ID: uuid.New(), Type: jobs.TypeEnrichMetadata, Priority: models.PriorityNormalLow,
			Payload: enrichPayload, ParentJobID: job.ParentJobID, MaxRetries: 3,
		}
		if err := p.dispatcher.Submit(ctx, enrichJob); err != nil {
			p.logf("scanpipeline: submit enrich-metadata for %s: %v", item.ID, err)
		}
	}

	return nil
}

func (p *Pipeline) resolveItem(ctx context.Context, payload jobs.DirectoryScanPayload) (*models.MediaItem, error) {
	if payload.MediaItemID != uuid.Nil {
		item, err := p.repo.GetMediaItem(ctx, payload.MediaItemID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, "scanpipeline: get media item", err)
		}
		return item, nil
	}
	kind := payload.Kind
	if kind == "" {
		kind = models.KindMovie
	}
	item, err := p.repo.UpsertMediaItemByPath(ctx, payload.LibraryID, kind, payload.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "scanpipeline: upsert media item", err)
	}
	return item, nil
}

func applyNFO(item *models.MediaItem, doc nfoDoc) {
	if doc.Title != "" && !item.FieldLocked("title") {
		item.Title = doc.Title
	}
	if doc.Plot != "" && !item.FieldLocked("plot") {
		item.Plot = doc.Plot
	}
	if doc.Year != 0 && !item.FieldLocked("year") {
		y := doc.Year
		item.Year = &y
	}
	if item.ProviderIDs == nil {
		item.ProviderIDs = map[string]string{}
	}
	for _, id := range doc.UniqueID {
		if id.Type != "" && id.Value != "" {
			item.ProviderIDs[id.Type] = id.Value
		}
	}
}

func largestFile(paths []string) string {
	var best string
	var bestSize int64
	for _, pth := range paths {
		info, err := os.Stat(pth)
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			best = pth
		}
	}
	return best
}

// cacheLocalImage emits a cache-asset child job for one local artwork
// file; the file is hashed when HandleCacheAsset stores it (spec §4.F
// Phase 2 step 4 "or insert directly if synchronous is cheaper" — here
// emitted as a job to keep every content-addressed write going through
// the same Phase 3 handler). scanJobID is the scan job whose
// assets_cached counter the child increments.
func (p *Pipeline) cacheLocalImage(ctx context.Context, parentJobID, scanJobID, mediaItemID uuid.UUID, path string) error {
	assetType, ok := assetTypeForImageName(filepath.Base(path))
	if !ok {
		assetType = models.AssetPoster
	}
	payload, _ := json.Marshal(jobs.CacheAssetPayload{
		MediaItemID: mediaItemID,
		ScanJobID:   scanJobID,
		AssetType:   assetType,
		Provider:    "local",
		LocalPath:   path,
	})
	job := &models.Job{
		ID: uuid.New(), Type: jobs.TypeCacheAsset, Priority: models.PriorityNormalHigh,
		Payload: payload, ParentJobID: &parentJobID, MaxRetries: 3,
	}
	return p.dispatcher.Submit(ctx, job)
}

// HandleCacheAsset is the TypeCacheAsset job handler (spec §4.F Phase
// 3): ingest one local asset into the content-addressed cache and
// record it as a downloaded AssetCandidate.
func (p *Pipeline) HandleCacheAsset(ctx context.Context, job *models.Job) error {
	var payload jobs.CacheAssetPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: decode cache-asset payload", err)
	}

	data, err := os.ReadFile(payload.LocalPath)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: read local asset "+payload.LocalPath, err)
	}
	ext := strings.ToLower(filepath.Ext(payload.LocalPath))
	hash, _, _, err := p.cache.Store(ctx, data, cache.Metadata{Extension: ext, MimeType: mimeFor(ext)})
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: store local asset", err)
	}

	if payload.CandidateID != nil {
		candidate, gerr := p.repo.GetAssetCandidate(ctx, *payload.CandidateID)
		if gerr == nil && candidate != nil {
			candidate.IsDownloaded = true
			candidate.ContentHash = &hash
			if serr := p.repo.SaveAssetCandidate(ctx, *candidate); serr != nil {
				return apperr.Wrap(apperr.KindIO, "scanpipeline: save downloaded candidate", serr)
			}
		}
	} else {
		candidate := models.AssetCandidate{
			ID: uuid.New(), MediaItemID: payload.MediaItemID, AssetType: payload.AssetType,
			Provider: payload.Provider, SourceURL: payload.LocalPath,
			IsDownloaded: true, IsSelected: true, SelectedBy: models.SelectedByLocal,
			ContentHash: &hash, CreatedAt: p.now(),
		}
		if err := p.repo.InsertAssetCandidates(ctx, []models.AssetCandidate{candidate}); err != nil {
			return apperr.Wrap(apperr.KindIO, "scanpipeline: insert local asset candidate", err)
		}
	}

	if payload.ScanJobID != uuid.Nil {
		if err := p.repo.IncrementAssetsCached(ctx, payload.ScanJobID); err != nil {
			p.logf("scanpipeline: increment assets_cached: %v", err)
		}
	}
	return nil
}

func mimeFor(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// HandleEnrichMetadata is the TypeEnrichMetadata job handler (spec
// §4.F Phase 4): fan out to enabled providers, merge fields under the
// Field-Lock Arbiter, insert aggregated AssetCandidates, run the
// Scoring Engine when automation allows it, and emit download-asset
// and/or publish follow-up jobs.
func (p *Pipeline) HandleEnrichMetadata(ctx context.Context, job *models.Job) error {
	var payload jobs.EnrichMetadataPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: decode enrich-metadata payload", err)
	}

	item, err := p.repo.GetMediaItem(ctx, payload.MediaItemID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: get media item", err)
	}
	library, err := p.repo.GetLibrary(ctx, item.LibraryID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: get library", err)
	}

	year := 0
	if item.Year != nil {
		year = *item.Year
	}
	wantAssets := make([]models.AssetType, 0, len(models.DefaultMaxAssetCounts()))
	for t := range models.DefaultMaxAssetCounts() {
		wantAssets = append(wantAssets, t)
	}

	result := p.orchestrator.Enrich(ctx, library.OrchestrationStrategy, library.ProviderPriority, nil,
		item.Kind, item.Title, year, item.ProviderIDs, wantAssets)

	for field, value := range result.Fields {
		p.arbiter.ApplyField(item, field, func() { applyScalarField(item, field, value) })
	}
	if err := p.repo.SaveMediaItem(ctx, item); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: save enriched media item", err)
	}

	// Upgrade re-enrichment re-probes and refreshes fields but must not
	// touch the asset pipeline: no new candidates, no re-scoring, no
	// fresh downloads (spec §4.F "upgrade events re-probe streams, do
	// NOT re-download assets, do re-write NFO, do notify players"). It
	// still needs the NFO rewritten and players notified, which this
	// publishes unconditionally rather than gating on automation mode.
	if !payload.Upgrade {
		candidates := make([]models.AssetCandidate, 0, len(result.Assets))
		for _, draft := range result.Assets {
			candidates = append(candidates, models.AssetCandidate{
				ID: uuid.New(), MediaItemID: item.ID, AssetType: draft.AssetType,
				Provider: draft.Provider, SourceURL: draft.SourceURL,
				Width: draft.Width, Height: draft.Height, Language: draft.Language,
				VoteCount: draft.VoteCount, VoteAverage: draft.VoteAverage,
				CreatedAt: p.now(),
			})
		}
		if len(candidates) > 0 {
			if err := p.repo.InsertAssetCandidates(ctx, candidates); err != nil {
				return apperr.Wrap(apperr.KindIO, "scanpipeline: insert asset candidates", err)
			}
		}

		if library.AutomationMode != models.AutomationManual {
			if err := p.runScoring(ctx, job, item, library); err != nil {
				return err
			}
		}

		if library.AutomationMode == models.AutomationYOLO && !payload.SkipAutoPublish {
			publishPayload, _ := json.Marshal(jobs.PublishPayload{MediaItemID: item.ID})
			publishJob := &models.Job{
				ID: uuid.New(), Type: jobs.TypePublish, Priority: models.PriorityNormalLow,
				Payload: publishPayload, ParentJobID: job.ParentJobID, MaxRetries: 3,
			}
			if err := p.dispatcher.Submit(ctx, publishJob); err != nil {
				p.logf("scanpipeline: submit publish for %s: %v", item.ID, err)
			}
		}
	} else if err := p.submitUpgradePublish(ctx, job, item); err != nil {
		p.logf("scanpipeline: submit upgrade publish for %s: %v", item.ID, err)
	}

	item.IdentificationStatus = models.StatusEnriched
	now := p.now()
	item.EnrichedAt = &now
	item.HasUnpublishedChanges = true
	if err := p.repo.SaveMediaItem(ctx, item); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: mark item enriched", err)
	}
	return nil
}

func applyScalarField(item *models.MediaItem, field string, value interface{}) {
	switch field {
	case "title":
		if s, ok := value.(string); ok {
			item.Title = s
		}
	case "plot":
		if s, ok := value.(string); ok {
			item.Plot = s
		}
	case "year":
		switch v := value.(type) {
		case int:
			item.Year = &v
		case float64:
			y := int(v)
			item.Year = &y
		}
	}
}

// runScoring invokes the Scoring Engine per asset type present among
// this item's candidates and emits download-asset jobs for newly
// selected, not-yet-downloaded candidates (spec §4.F Phase 4 step 4,
// §4.G).
func (p *Pipeline) runScoring(ctx context.Context, job *models.Job, item *models.MediaItem, library *models.Library) error {
	maxCounts := library.MaxAssetCounts
	if maxCounts == nil {
		maxCounts = models.DefaultMaxAssetCounts()
	}
	for assetType, maxCount := range maxCounts {
		existing, err := p.repo.ListAssetCandidates(ctx, item.ID, assetType)
		if err != nil {
			return apperr.Wrap(apperr.KindIO, "scanpipeline: list asset candidates", err)
		}
		if len(existing) == 0 {
			continue
		}
		cfg := scoring.Config{
			Weights: library.ScoringWeights, MinWidth: library.MinWidth, MinHeight: library.MinHeight,
			PreferredLanguage: library.PreferredLanguage, DedupThreshold: library.DedupThreshold,
			MaxCount: maxCount, Mode: library.AutomationMode,
		}
		result := scoring.Select(existing, assetType, cfg, func(provider, url string) bool {
			blacklisted, _ := p.repo.IsAssetBlacklisted(ctx, provider, url)
			return blacklisted
		})
		for i := range result.Selected {
			c := result.Selected[i]
			if err := p.repo.SaveAssetCandidate(ctx, c); err != nil {
				p.logf("scanpipeline: save selected candidate %s: %v", c.ID, err)
				continue
			}
			if !c.IsDownloaded {
				p.emitDownload(ctx, job, c)
			}
		}
		for i := range result.Rejected {
			if err := p.repo.SaveAssetCandidate(ctx, result.Rejected[i]); err != nil {
				p.logf("scanpipeline: save rejected candidate %s: %v", result.Rejected[i].ID, err)
			}
		}
	}
	return nil
}

// submitUpgradePublish re-publishes an upgraded item against whatever
// assets are already selected and downloaded, so the NFO on disk picks
// up any re-probed stream info and every notify group hears about it
// (spec §4.F "upgrade events... do re-write NFO, do notify players"),
// without routing through the automation-mode gate the initial
// enrichment path uses.
func (p *Pipeline) submitUpgradePublish(ctx context.Context, job *models.Job, item *models.MediaItem) error {
	publishPayload, _ := json.Marshal(jobs.PublishPayload{MediaItemID: item.ID})
	publishJob := &models.Job{
		ID: uuid.New(), Type: jobs.TypePublish, Priority: models.PriorityNormalLow,
		Payload: publishPayload, ParentJobID: job.ParentJobID, MaxRetries: 3,
	}
	if err := p.dispatcher.Submit(ctx, publishJob); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: submit upgrade publish", err)
	}

	groups, err := p.repo.ListNotifyGroups(ctx, item.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: list notify groups", err)
	}
	for _, groupID := range groups {
		notifyPayload, _ := json.Marshal(jobs.NotifyGroupPayload{GroupID: groupID, LibraryPath: item.Path})
		notifyJob := &models.Job{
			ID: uuid.New(), Type: jobs.TypeNotifyGroup, Priority: models.PriorityHighNotify,
			Payload: notifyPayload, ParentJobID: job.ParentJobID, DependsOn: []uuid.UUID{publishJob.ID}, MaxRetries: 3,
		}
		if err := p.dispatcher.Submit(ctx, notifyJob); err != nil {
			p.logf("scanpipeline: submit notify-group %s for %s: %v", groupID, item.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) emitDownload(ctx context.Context, job *models.Job, c models.AssetCandidate) {
	payload, _ := json.Marshal(jobs.DownloadAssetPayload{CandidateID: c.ID})
	downloadJob := &models.Job{
		ID: uuid.New(), Type: jobs.TypeDownloadAsset, Priority: models.PriorityNormalHigh,
		Payload: payload, ParentJobID: job.ParentJobID, MaxRetries: 3,
	}
	if err := p.dispatcher.Submit(ctx, downloadJob); err != nil {
		p.logf("scanpipeline: submit download-asset for %s: %v", c.ID, err)
	}
}

// HandleDownloadAsset is the TypeDownloadAsset job handler: it fetches
// a selected candidate's bytes from its provider source URL and routes
// them through the same content-addressed Store path Phase 3 uses for
// local assets.
func (p *Pipeline) HandleDownloadAsset(ctx context.Context, job *models.Job) error {
	var payload jobs.DownloadAssetPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: decode download-asset payload", err)
	}
	candidate, err := p.repo.GetAssetCandidate(ctx, payload.CandidateID)
	if err != nil || candidate == nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: get asset candidate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.SourceURL, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "scanpipeline: build download request", err)
	}
	resp, err := p.assetClient.Do(ctx, req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "scanpipeline: download asset", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "scanpipeline: read asset body", err)
	}

	ext := extFromURL(candidate.SourceURL)
	hash, _, _, err := p.cache.Store(ctx, data, cache.Metadata{Extension: ext, MimeType: mimeFor(ext)})
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: store downloaded asset", err)
	}

	candidate.IsDownloaded = true
	candidate.ContentHash = &hash
	if err := p.repo.SaveAssetCandidate(ctx, *candidate); err != nil {
		return apperr.Wrap(apperr.KindIO, "scanpipeline: save downloaded candidate", err)
	}
	return nil
}

func extFromURL(url string) string {
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	ext := strings.ToLower(filepath.Ext(clean))
	if ext == "" {
		return ".jpg"
	}
	return ext
}
