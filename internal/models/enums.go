// Package models holds the entities of spec §3: Library, MediaItem,
// AssetCandidate, CacheEntry, PublishedAsset, Job, MediaPlayer,
// PlayerGroup, PathMapping, RejectedAsset, and the append-only
// activity/history log. Struct shape (json+db tags, pointer fields for
// nullable columns, small const-block enums) follows
// internal/models/models.go in the teacher.
package models

// LibraryMediaType is the media kind a Library manages.
type LibraryMediaType string

const (
	LibraryMovie LibraryMediaType = "movie"
	LibraryTV    LibraryMediaType = "tv"
	LibraryMusic LibraryMediaType = "music"
)

// MediaItemKind is the entity kind of a single MediaItem row.
type MediaItemKind string

const (
	KindMovie   MediaItemKind = "movie"
	KindSeries  MediaItemKind = "series"
	KindSeason  MediaItemKind = "season"
	KindEpisode MediaItemKind = "episode"
	KindArtist  MediaItemKind = "artist"
	KindAlbum   MediaItemKind = "album"
	KindTrack   MediaItemKind = "track"
)

// IdentificationStatus tracks how far a MediaItem has progressed
// through discovery → identification → enrichment.
type IdentificationStatus string

const (
	StatusUnidentified IdentificationStatus = "unidentified"
	StatusIdentified   IdentificationStatus = "identified"
	StatusEnriched     IdentificationStatus = "enriched"
)

// AutomationMode controls how the Scoring Engine treats newly scored
// candidates (spec §4.G).
type AutomationMode string

const (
	AutomationManual AutomationMode = "manual"
	AutomationYOLO   AutomationMode = "yolo"
	AutomationHybrid AutomationMode = "hybrid"
)

// OrchestrationStrategy is the per-library provider merge strategy
// (spec §4.D).
type OrchestrationStrategy string

const (
	StrategyPreferredFirst OrchestrationStrategy = "preferred_first"
	StrategyFieldMapping   OrchestrationStrategy = "field_mapping"
	StrategyAggregateAll   OrchestrationStrategy = "aggregate_all"
)

// AssetType enumerates the artwork/trailer/subtitle kinds an
// AssetCandidate can describe.
type AssetType string

const (
	AssetPoster       AssetType = "poster"
	AssetFanart       AssetType = "fanart"
	AssetBanner       AssetType = "banner"
	AssetClearArt     AssetType = "clearart"
	AssetClearLogo    AssetType = "clearlogo"
	AssetThumb        AssetType = "thumb"
	AssetDiscArt      AssetType = "discart"
	AssetSeasonPoster AssetType = "season_poster"
	AssetTrailer      AssetType = "trailer"
	AssetSubtitle     AssetType = "subtitle"
)

// MultiSlot reports whether an asset type permits more than one
// selected candidate per MediaItem (spec §3 AssetCandidate invariant).
func (a AssetType) MultiSlot() bool {
	switch a {
	case AssetFanart, AssetTrailer, AssetSubtitle:
		return true
	default:
		return false
	}
}

// SelectedBy records who/what selected an AssetCandidate.
type SelectedBy string

const (
	SelectedByAuto   SelectedBy = "auto"
	SelectedByManual SelectedBy = "manual"
	SelectedByLocal  SelectedBy = "local"
)

// JobStatus is the Job state-machine value (spec §3 Job invariants).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Priority bands, spec §4.L.
const (
	PriorityCritical        = 1
	PriorityHighScan        = 2
	PriorityHighEnrich      = 3
	PriorityHighPublish     = 4
	PriorityHighNotify      = 5
	PriorityNormalLow       = 6
	PriorityNormalHigh      = 7
	PriorityLowNotify       = 8
	PriorityLowVerification = 9
	PriorityLowGC           = 10
)

// ScanPhase is the parent scan job's own state machine (spec §4.F).
type ScanPhase string

const (
	PhaseDiscovering ScanPhase = "discovering"
	PhaseScanning    ScanPhase = "scanning"
	PhaseCaching     ScanPhase = "caching"
	PhaseEnriching   ScanPhase = "enriching"
	PhaseComplete    ScanPhase = "complete"
)

// PlayerKind is the external player protocol family (spec §6).
type PlayerKind string

const (
	PlayerKodi     PlayerKind = "kodi"
	PlayerJellyfin PlayerKind = "jellyfin"
	PlayerPlex     PlayerKind = "plex"
)

// MappingScope distinguishes manager-type-scoped mappings from
// player-group-scoped mappings (spec §4.I).
type MappingScope string

const (
	ScopeManager MappingScope = "manager"
	ScopeGroup   MappingScope = "group"
)

// ManagerSource is an inbound webhook's download-manager family
// (spec §6).
type ManagerSource string

const (
	ManagerRadarr ManagerSource = "radarr"
	ManagerSonarr ManagerSource = "sonarr"
	ManagerLidarr ManagerSource = "lidarr"
)

// WebhookEvent is the inbound event kind (spec §6).
type WebhookEvent string

const (
	EventDownload WebhookEvent = "Download"
	EventRename   WebhookEvent = "Rename"
	EventDelete   WebhookEvent = "Delete"
	EventUpgrade  WebhookEvent = "Upgrade"
)

// UpdateType is a scheduled player update kind (spec §4.J.4).
type UpdateType string

const (
	UpdateScan         UpdateType = "scan"
	UpdateNotification UpdateType = "notification"
)

// UpdateState is the scheduled update's own state machine (spec §4.J.4).
type UpdateState string

const (
	UpdateQueued    UpdateState = "queued"
	UpdateDeferred  UpdateState = "deferred"
	UpdateExecuting UpdateState = "executing"
	UpdateDone      UpdateState = "done"
	UpdateFailed    UpdateState = "failed"
)

// UnknownFileResolution is the disposition chosen for a file the
// directory scan could not classify (spec §4.F Phase 2 step 5).
type UnknownFileResolution string

const (
	UnknownPending  UnknownFileResolution = "pending"
	UnknownDeleted  UnknownFileResolution = "deleted"
	UnknownAssigned UnknownFileResolution = "assigned"
	UnknownIgnored  UnknownFileResolution = "ignored"
)
