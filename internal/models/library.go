package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoringWeights are the five term weights of the scoring formula in
// spec §4.G.2. They must sum to 1.0 (enforced by the scoring package,
// not here — this is a plain data holder).
type ScoringWeights struct {
	Resolution float64 `json:"resolution" db:"w_resolution"`
	Votes      float64 `json:"votes" db:"w_votes"`
	Language   float64 `json:"language" db:"w_language"`
	Provider   float64 `json:"provider" db:"w_provider"`
	Aspect     float64 `json:"aspect" db:"w_aspect"`
}

// DefaultScoringWeights returns the default weights from spec §4.G.2.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Resolution: 0.25, Votes: 0.30, Language: 0.20, Provider: 0.15, Aspect: 0.10}
}

// Library is a rooted directory plus media type and automation config
// (spec §3 "Library").
type Library struct {
	ID                    uuid.UUID             `json:"id" db:"id"`
	Name                  string                `json:"name" db:"name"`
	RootPath              string                `json:"root_path" db:"root_path"`
	MediaType             LibraryMediaType      `json:"media_type" db:"media_type"`
	AutomationMode        AutomationMode        `json:"automation_mode" db:"automation_mode"`
	OrchestrationStrategy OrchestrationStrategy `json:"orchestration_strategy" db:"orchestration_strategy"`
	PreferredLanguage     string                `json:"preferred_language" db:"preferred_language"`
	ProviderPriority      []string              `json:"provider_priority" db:"provider_priority"`
	ScoringWeights        ScoringWeights        `json:"scoring_weights" db:"-"`
	DedupThreshold        float64               `json:"dedup_threshold" db:"dedup_threshold"`
	MaxAssetCounts        map[AssetType]int     `json:"max_asset_counts" db:"-"`
	MinWidth              int                   `json:"min_width" db:"min_width"`
	MinHeight             int                   `json:"min_height" db:"min_height"`
	ScanIntervalSeconds   int                   `json:"scan_interval_seconds" db:"scan_interval_seconds"`
	NextScanAt            *time.Time            `json:"next_scan_at,omitempty" db:"next_scan_at"`
	DeleteGraceDays       int                   `json:"delete_grace_days" db:"delete_grace_days"`
	CreatedAt             time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at" db:"updated_at"`
}

// DefaultMaxAssetCounts returns the default per-asset-type selection
// cap (spec §4.G.5 "Select the top max_count").
func DefaultMaxAssetCounts() map[AssetType]int {
	return map[AssetType]int{
		AssetPoster:    1,
		AssetFanart:    3,
		AssetBanner:    1,
		AssetClearArt:  1,
		AssetClearLogo: 1,
		AssetThumb:     1,
		AssetDiscArt:   1,
		AssetTrailer:   1,
		AssetSubtitle:  5,
	}
}

// IdealAspectRatio returns the ideal width/height ratio used by the
// scoring engine's aspect term (spec §4.G.2 "A").
func IdealAspectRatio(t AssetType) float64 {
	switch t {
	case AssetPoster, AssetSeasonPoster:
		return 2.0 / 3.0
	case AssetFanart, AssetThumb:
		return 16.0 / 9.0
	case AssetBanner:
		return 5.4
	case AssetClearArt, AssetClearLogo, AssetDiscArt:
		return 1.0
	default:
		return 1.0
	}
}

// FieldLocks is a per-scalar-field lock map keyed by DB column name,
// and per-asset-type lock map keyed by asset type (spec §3 MediaItem,
// §4.M).
type FieldLocks struct {
	Fields map[string]bool    `json:"fields"`
	Assets map[AssetType]bool `json:"assets"`
}

// NewFieldLocks returns an empty (fully-unlocked) lock set.
func NewFieldLocks() FieldLocks {
	return FieldLocks{Fields: map[string]bool{}, Assets: map[AssetType]bool{}}
}

// MediaItem is the canonical logical record for a movie, series,
// season, episode, artist, album, or track (spec §3 "MediaItem").
type MediaItem struct {
	ID                    uuid.UUID            `json:"id" db:"id"`
	LibraryID             uuid.UUID            `json:"library_id" db:"library_id"`
	ParentID              *uuid.UUID           `json:"parent_id,omitempty" db:"parent_id"`
	Kind                  MediaItemKind        `json:"kind" db:"kind"`
	Title                 string               `json:"title" db:"title"`
	Year                  *int                 `json:"year,omitempty" db:"year"`
	Plot                  string               `json:"plot" db:"plot"`
	Path                  string               `json:"path" db:"path"`
	ProviderIDs           map[string]string    `json:"provider_ids" db:"-"`
	IdentificationStatus  IdentificationStatus `json:"identification_status" db:"identification_status"`
	Locks                 FieldLocks           `json:"locks" db:"-"`
	HasUnpublishedChanges bool                 `json:"has_unpublished_changes" db:"has_unpublished_changes"`
	EnrichedAt            *time.Time           `json:"enriched_at,omitempty" db:"enriched_at"`
	DeletedOn             *time.Time           `json:"deleted_on,omitempty" db:"deleted_on"`
	CreatedAt             time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at" db:"updated_at"`
}

// HasAnyProviderID reports whether at least one provider id is set,
// the invariant backing identification_status = identified (spec §3).
func (m *MediaItem) HasAnyProviderID() bool {
	for _, v := range m.ProviderIDs {
		if v != "" {
			return true
		}
	}
	return false
}

// FieldLocked reports whether automated writers must skip field.
func (m *MediaItem) FieldLocked(field string) bool {
	return m.Locks.Fields[field]
}

// AssetLocked reports whether automated writers must skip assetType.
func (m *MediaItem) AssetLocked(assetType AssetType) bool {
	return m.Locks.Assets[assetType]
}
