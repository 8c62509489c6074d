// Package fieldlock implements the Field-Lock Arbiter (spec §4.M):
// automated writers consult a per-scalar-field and per-asset-type
// lock before overwriting a value; user edits unconditionally
// overwrite and set the lock. Grounded on the teacher's convention of
// boolean flags sitting next to the fields they guard (e.g.
// internal/libraries's per-field structs), generalized into one small
// arbiter type rather than scattering the check across every writer.
package fieldlock

import (
	"log"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Arbiter mediates automated writes against a MediaItem's lock flags.
type Arbiter struct {
	logger *log.Logger
}

// New creates an Arbiter. logger may be nil, in which case skipped
// writes are not logged.
func New(logger *log.Logger) *Arbiter {
	return &Arbiter{logger: logger}
}

func (a *Arbiter) logf(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// ApplyField sets item's field via set() unless field is locked, in
// which case the write is skipped and logged (spec §4.M "Arbitration
// rule"). Returns true if the write was applied.
func (a *Arbiter) ApplyField(item *models.MediaItem, field string, set func()) bool {
	if item.FieldLocked(field) {
		a.logf("fieldlock: skipping locked field %q on item %s", field, item.ID)
		return false
	}
	set()
	return true
}

// ApplyAsset runs apply() unless assetType is locked on item
// (spec §4.M, applies to asset-type locks the same way as scalar
// field locks).
func (a *Arbiter) ApplyAsset(item *models.MediaItem, assetType models.AssetType, apply func()) bool {
	if item.AssetLocked(assetType) {
		a.logf("fieldlock: skipping locked asset %q on item %s", assetType, item.ID)
		return false
	}
	apply()
	return true
}

// UserSetField unconditionally overwrites field via set() and locks
// it, restoring automation only via an explicit Unlock
// (spec §4.M "User edits unconditionally overwrite the field AND set
// the lock").
func (a *Arbiter) UserSetField(item *models.MediaItem, field string, set func()) {
	set()
	if item.Locks.Fields == nil {
		item.Locks.Fields = map[string]bool{}
	}
	item.Locks.Fields[field] = true
}

// UserSetAsset is the asset-type analogue of UserSetField.
func (a *Arbiter) UserSetAsset(item *models.MediaItem, assetType models.AssetType, apply func()) {
	apply()
	if item.Locks.Assets == nil {
		item.Locks.Assets = map[models.AssetType]bool{}
	}
	item.Locks.Assets[assetType] = true
}

// UnlockField clears a field lock, restoring automation
// (spec §4.M "The user can explicitly unlock").
func (a *Arbiter) UnlockField(item *models.MediaItem, field string) {
	delete(item.Locks.Fields, field)
}

// UnlockAsset clears an asset-type lock.
func (a *Arbiter) UnlockAsset(item *models.MediaItem, assetType models.AssetType) {
	delete(item.Locks.Assets, assetType)
}
