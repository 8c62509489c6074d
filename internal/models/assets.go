package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetCandidate is a (MediaItem, asset-type, provider, source-URL)
// tuple describing a not-yet-or-already-downloaded artwork option
// (spec §3 "AssetCandidate").
type AssetCandidate struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	MediaItemID    uuid.UUID  `json:"media_item_id" db:"media_item_id"`
	AssetType      AssetType  `json:"asset_type" db:"asset_type"`
	Provider       string     `json:"provider" db:"provider"`
	SourceURL      string     `json:"source_url" db:"source_url"`
	Width          int        `json:"width" db:"width"`
	Height         int        `json:"height" db:"height"`
	Language       string     `json:"language" db:"language"`
	VoteCount      int        `json:"vote_count" db:"vote_count"`
	VoteAverage    float64    `json:"vote_average" db:"vote_average"`
	Score          float64    `json:"score" db:"score"`
	IsDownloaded   bool       `json:"is_downloaded" db:"is_downloaded"`
	IsSelected     bool       `json:"is_selected" db:"is_selected"`
	IsRejected     bool       `json:"is_rejected" db:"is_rejected"`
	SelectedBy     SelectedBy `json:"selected_by,omitempty" db:"selected_by"`
	ContentHash    *string    `json:"content_hash,omitempty" db:"content_hash"`
	PerceptualHash *string    `json:"perceptual_hash,omitempty" db:"perceptual_hash"`
	Tombstoned     bool       `json:"tombstoned" db:"tombstoned"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// AspectRatio returns width/height, or 0 if height is unset.
func (a *AssetCandidate) AspectRatio() float64 {
	if a.Height == 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

// CacheEntry is a content-addressed blob row keyed by SHA-256 of its
// bytes (spec §3 "CacheEntry").
type CacheEntry struct {
	ContentHash    string     `json:"content_hash" db:"content_hash"`
	Path           string     `json:"path" db:"path"`
	ByteSize       int64      `json:"byte_size" db:"byte_size"`
	MimeType       string     `json:"mime_type" db:"mime_type"`
	Width          *int       `json:"width,omitempty" db:"width"`
	Height         *int       `json:"height,omitempty" db:"height"`
	PerceptualHash *string    `json:"perceptual_hash,omitempty" db:"perceptual_hash"`
	ReferenceCount int        `json:"reference_count" db:"reference_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt     time.Time  `json:"last_used_at" db:"last_used_at"`
	OrphanedAt     *time.Time `json:"orphaned_at,omitempty" db:"orphaned_at"`
}

// EligibleForDeletion reports whether e may be physically unlinked by
// GC, i.e. orphaned for longer than grace (spec §3 CacheEntry
// invariant, §4.A GarbageCollect).
func (e *CacheEntry) EligibleForDeletion(now time.Time, grace time.Duration) bool {
	return e.OrphanedAt != nil && now.Sub(*e.OrphanedAt) >= grace
}

// PublishedAsset records a file written into a library directory
// (spec §3 "PublishedAsset").
type PublishedAsset struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	MediaItemID          uuid.UUID `json:"media_item_id" db:"media_item_id"`
	AssetType            AssetType `json:"asset_type" db:"asset_type"`
	LibraryPath          string    `json:"library_path" db:"library_path"`
	PublishedContentHash string    `json:"published_content_hash" db:"published_content_hash"`
	Stale                bool      `json:"stale" db:"stale"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// RejectedAsset is the global blacklist keyed by (provider,
// provider_url); once inserted, the pair is never re-offered
// (spec §3 "RejectedAsset").
type RejectedAsset struct {
	Provider    string    `json:"provider" db:"provider"`
	ProviderURL string    `json:"provider_url" db:"provider_url"`
	RejectedAt  time.Time `json:"rejected_at" db:"rejected_at"`
	Reason      string    `json:"reason,omitempty" db:"reason"`
}

// UnknownFile is a scan-discovered file that could not be classified
// (spec §4.F Phase 2 step 5).
type UnknownFile struct {
	ID          uuid.UUID             `json:"id" db:"id"`
	MediaItemID uuid.UUID             `json:"media_item_id" db:"media_item_id"`
	Path        string                `json:"path" db:"path"`
	Extension   string                `json:"extension" db:"extension"`
	Resolution  UnknownFileResolution `json:"resolution" db:"resolution"`
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
}

// PublishLog is an append-only record of a publish attempt
// (spec §4.H.6).
type PublishLog struct {
	ID            uuid.UUID `json:"id" db:"id"`
	MediaItemID   uuid.UUID `json:"media_item_id" db:"media_item_id"`
	Success       bool      `json:"success" db:"success"`
	DurationMs    int64     `json:"duration_ms" db:"duration_ms"`
	NFOHash       string    `json:"nfo_hash" db:"nfo_hash"`
	AssetsWritten []string  `json:"assets_written" db:"-"`
	Error         *string   `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ActivityLogEntry is one row of the append-only audit log
// (spec §3 "Activity/History").
type ActivityLogEntry struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	EntityType string     `json:"entity_type" db:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty" db:"entity_id"`
	Kind       string     `json:"kind" db:"kind"`
	Message    string     `json:"message" db:"message"`
	Detail     string     `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// StreamFacts is the output of the Stream Probe (spec §4.E).
type StreamFacts struct {
	Video     *VideoStream     `json:"video,omitempty"`
	Audio     []AudioStream    `json:"audio,omitempty"`
	Subtitles []SubtitleStream `json:"subtitles,omitempty"`
	ProbedAt  time.Time        `json:"probed_at"`
}

type VideoStream struct {
	Codec      string `json:"codec"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FrameRate  float64 `json:"framerate"`
	BitRate    int64  `json:"bitrate"`
	HDRType    string `json:"hdr_type,omitempty"`
	ColorSpace string `json:"color_space,omitempty"`
}

type AudioStream struct {
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Channels int    `json:"channels"`
	Default  bool   `json:"default"`
	Forced   bool   `json:"forced"`
}

type SubtitleStream struct {
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	External bool   `json:"external"`
	Embedded bool   `json:"embedded"`
	Default  bool   `json:"default"`
	Forced   bool   `json:"forced"`
}
