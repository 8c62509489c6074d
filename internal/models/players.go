package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerGroup is a set of media-player endpoints sharing a filesystem
// view and (possibly) a media database (spec §3 "PlayerGroup").
type PlayerGroup struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	MaxMembers *int      `json:"max_members,omitempty" db:"max_members"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Unlimited reports whether the group allows any number of members
// (max_members = null, spec §3).
func (g *PlayerGroup) Unlimited() bool { return g.MaxMembers == nil }

// Singleton reports whether the group holds exactly one member
// (max_members = 1, spec §3).
func (g *PlayerGroup) Singleton() bool { return g.MaxMembers != nil && *g.MaxMembers == 1 }

// MediaPlayer is a single external player endpoint belonging to
// exactly one PlayerGroup (spec §3 "MediaPlayer").
type MediaPlayer struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	GroupID   uuid.UUID  `json:"group_id" db:"group_id"`
	Name      string     `json:"name" db:"name"`
	Kind      PlayerKind `json:"kind" db:"kind"`
	BaseURL   string     `json:"base_url" db:"base_url"`
	APIKey    string     `json:"api_key,omitempty" db:"api_key"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// PathMapping is one (source-prefix, target-prefix) rewrite rule,
// scoped to either a manager type or a player group (spec §3
// "PathMapping", §4.I).
type PathMapping struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Scope        MappingScope `json:"scope" db:"scope"`
	ScopeKey     string       `json:"scope_key" db:"scope_key"`
	SourcePrefix string       `json:"source_prefix" db:"source_prefix"`
	TargetPrefix string       `json:"target_prefix" db:"target_prefix"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// PlaybackState is a point-in-time probe of a player's activity
// (spec §4.J.3.a).
type PlaybackState struct {
	PlayerID    uuid.UUID `json:"player_id"`
	Playing     bool      `json:"playing"`
	QueueLength int       `json:"queue_length"`
	ItemPath    string    `json:"item_path,omitempty"`
	PositionSec float64   `json:"position_sec,omitempty"`
}

// PlayerUpdate is one entry in the per-player deferred-work update
// queue (spec §4.J.4).
type PlayerUpdate struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	PlayerID     uuid.UUID   `json:"player_id" db:"player_id"`
	GroupID      uuid.UUID   `json:"group_id" db:"group_id"`
	Type         UpdateType  `json:"type" db:"type"`
	LibraryPath  string      `json:"library_path" db:"library_path"`
	State        UpdateState `json:"state" db:"state"`
	ScheduledFor time.Time   `json:"scheduled_for" db:"scheduled_for"`
	RetryCount   int         `json:"retry_count" db:"retry_count"`
	MaxRetries   int         `json:"max_retries" db:"max_retries"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Due reports whether the update is ready to be (re-)processed
// (spec §4.J.4: "For each pending update whose scheduled_for <= now").
func (u *PlayerUpdate) Due(now time.Time) bool {
	return (u.State == UpdateQueued || u.State == UpdateDeferred) && !u.ScheduledFor.After(now)
}
