// Package verifier implements the Disaster-Recovery Verifier (spec
// §4.N): a periodic, scheduler-driven pass over recently published
// assets that detects drift between what the database thinks is on
// disk and what is actually there, and repairs it from the cache (or
// falls back to re-publishing) when it can. Grounded on
// internal/scanner/scanner.go's file-classification pass for the
// walk-and-hash shape, and internal/cache for the restore-from-cache
// step; there is no teacher analogue for "verify a published library
// against the database" since CineVault never writes into its
// library, so the hashing and repair logic itself is new, expressed
// in the same plain-struct, explicit-error style as internal/publish.
package verifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/models"
)

// DefaultWindow is how far back a verify pass looks when its payload
// leaves Since zero (spec §4.N "for each recently published
// MediaItem").
const DefaultWindow = 7 * 24 * time.Hour

// Finding is one PublishedAsset's verification outcome, returned from
// Run for logging and test assertions.
type Finding struct {
	AssetID     uuid.UUID
	MediaItemID uuid.UUID
	AssetType   models.AssetType
	Drift       bool
	Locked      bool
	Restored    bool
	Republish   bool
	Detail      string
}

// Repository is the persistence boundary for published-asset
// bookkeeping (spec §4.N steps 1-3).
type Repository interface {
	ListPublishedAssetsSince(ctx context.Context, since time.Time) ([]models.PublishedAsset, error)
	GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	MarkPublishedAssetStale(ctx context.Context, id uuid.UUID, stale bool) error
	InsertActivityLog(ctx context.Context, entry models.ActivityLogEntry) error
}

// Submitter is the subset of jobs.Dispatcher this package depends on,
// used to trigger a re-publish when an asset is gone from both the
// library and the cache (spec §4.N step 2 "fall back to regeneration").
type Submitter interface {
	Submit(ctx context.Context, job *models.Job) error
}

// Verifier runs the drift-detection pass.
type Verifier struct {
	repo       Repository
	cache      *cache.Cache
	dispatcher Submitter
	logger     *log.Logger
	now        func() time.Time
}

// New constructs a Verifier.
func New(repo Repository, c *cache.Cache, dispatcher Submitter, logger *log.Logger) *Verifier {
	return &Verifier{repo: repo, cache: c, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// HandleVerify is the TypeVerify job handler (spec §4.N, §4.O "Daily:
// verification pass").
func (v *Verifier) HandleVerify(ctx context.Context, job *models.Job) error {
	var payload jobs.VerifyPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperr.Wrap(apperr.KindValidation, "verifier: decode verify payload", err)
		}
	}
	since := payload.Since
	if since.IsZero() {
		since = v.now().Add(-DefaultWindow)
	}
	_, err := v.Run(ctx, since)
	return err
}

func (v *Verifier) logf(format string, args ...interface{}) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

// Run executes one verification pass over every PublishedAsset
// recorded since the given time (spec §4.N). It returns every finding,
// including non-drifted assets, for callers that want a full report;
// a single media item failing to load does not abort the whole pass.
func (v *Verifier) Run(ctx context.Context, since time.Time) ([]Finding, error) {
	assets, err := v.repo.ListPublishedAssetsSince(ctx, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "verifier: list published assets", err)
	}

	items := map[uuid.UUID]*models.MediaItem{}
	republishSeen := map[uuid.UUID]bool{}
	findings := make([]Finding, 0, len(assets))

	for _, asset := range assets {
		select {
		case <-ctx.Done():
			return findings, ctx.Err()
		default:
		}

		item, ok := items[asset.MediaItemID]
		if !ok {
			item, err = v.repo.GetMediaItem(ctx, asset.MediaItemID)
			if err != nil || item == nil {
				v.logf("verifier: load media item %s: %v", asset.MediaItemID, err)
				continue
			}
			items[asset.MediaItemID] = item
		}

		finding := v.verifyOne(ctx, item, asset)
		if finding.Republish && !republishSeen[item.ID] {
			republishSeen[item.ID] = true
			if err := v.requestRepublish(ctx, item.ID); err != nil {
				v.logf("verifier: request republish for %s: %v", item.ID, err)
			}
		}
		v.record(ctx, finding)
		findings = append(findings, finding)
	}
	return findings, nil
}

// verifyOne checks a single PublishedAsset against the file on disk
// (spec §4.N step 1) and repairs it when possible (step 2), respecting
// asset locks (step 3 "user-locked assets... flagged but NOT
// overwritten").
func (v *Verifier) verifyOne(ctx context.Context, item *models.MediaItem, asset models.PublishedAsset) Finding {
	f := Finding{AssetID: asset.ID, MediaItemID: item.ID, AssetType: asset.AssetType}

	actual, err := hashFile(asset.LibraryPath)
	if err == nil && actual == asset.PublishedContentHash {
		f.Detail = "ok"
		return f
	}
	f.Drift = true
	if os.IsNotExist(err) {
		f.Detail = "missing on disk"
	} else if err != nil {
		f.Detail = fmt.Sprintf("read error: %v", err)
	} else {
		f.Detail = "content hash mismatch"
	}

	if item.AssetLocked(asset.AssetType) {
		f.Locked = true
		f.Detail += "; locked, not repaired"
		return f
	}

	data, cacheErr := v.cache.Retrieve(ctx, asset.PublishedContentHash, filepath.Ext(asset.LibraryPath))
	if cacheErr == nil {
		if writeErr := cache.CopyStream(asset.LibraryPath, bytes.NewReader(data)); writeErr == nil {
			f.Restored = true
			f.Detail += "; restored from cache"
			return f
		}
		f.Detail += "; cache restore write failed"
	}

	f.Republish = true
	f.Detail += "; not in cache, regenerating from database"
	return f
}

func (v *Verifier) record(ctx context.Context, f Finding) {
	if !f.Drift {
		return
	}
	kind := "drift_restored"
	switch {
	case f.Locked:
		kind = "drift_locked"
	case f.Republish:
		kind = "drift_republish"
	}
	entry := models.ActivityLogEntry{
		ID:         uuid.New(),
		EntityType: "published_asset",
		EntityID:   &f.AssetID,
		Kind:       kind,
		Message:    fmt.Sprintf("verifier: %s asset %s drifted", f.AssetType, f.AssetID),
		Detail:     f.Detail,
		CreatedAt:  v.now(),
	}
	if err := v.repo.InsertActivityLog(ctx, entry); err != nil {
		v.logf("verifier: insert activity log: %v", err)
	}
	if !f.Locked {
		stale := f.Republish
		if err := v.repo.MarkPublishedAssetStale(ctx, f.AssetID, stale); err != nil {
			v.logf("verifier: mark published asset %s stale=%v: %v", f.AssetID, stale, err)
		}
	}
}

func (v *Verifier) requestRepublish(ctx context.Context, mediaItemID uuid.UUID) error {
	payload, err := json.Marshal(jobs.PublishPayload{MediaItemID: mediaItemID})
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "verifier: encode republish payload", err)
	}
	job := &models.Job{
		ID:         uuid.New(),
		Type:       jobs.TypePublish,
		Priority:   models.PriorityNormalLow,
		Payload:    payload,
		MaxRetries: 3,
	}
	return v.dispatcher.Submit(ctx, job)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
