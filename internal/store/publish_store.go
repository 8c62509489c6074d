package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements publish.Repository (spec §4.H) and the remainder of
// verifier.Repository (spec §4.N).

const publishedAssetColumns = `id, media_item_id, asset_type, library_path,
	published_content_hash, stale, created_at, updated_at`

func scanPublishedAsset(row interface{ Scan(dest ...interface{}) error }) (*models.PublishedAsset, error) {
	a := &models.PublishedAsset{}
	err := row.Scan(&a.ID, &a.MediaItemID, &a.AssetType, &a.LibraryPath,
		&a.PublishedContentHash, &a.Stale, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ReplacePublishedAssets deletes every existing published-asset row
// for mediaItemID and inserts the new set, all within one transaction
// so a reader never observes a partially-replaced set (spec §4.H
// step 4 "atomically replace").
func (s *Store) ReplacePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, assets []models.PublishedAsset) ([]models.PublishedAsset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM published_assets WHERE media_item_id = $1`, mediaItemID); err != nil {
		return nil, err
	}

	out := make([]models.PublishedAsset, 0, len(assets))
	for _, a := range assets {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO published_assets (media_item_id, asset_type, library_path, published_content_hash)
			VALUES ($1, $2, $3, $4)
			RETURNING `+publishedAssetColumns,
			mediaItemID, a.AssetType, a.LibraryPath, a.PublishedContentHash)
		saved, err := scanPublishedAsset(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *saved)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// RestorePublishedAssets rewrites the published-asset rows back to a
// prior snapshot, used to undo a failed publish attempt (spec §4.H
// step 6 "rollback").
func (s *Store) RestorePublishedAssets(ctx context.Context, mediaItemID uuid.UUID, previous []models.PublishedAsset) error {
	_, err := s.ReplacePublishedAssets(ctx, mediaItemID, previous)
	return err
}

func (s *Store) InsertPublishLog(ctx context.Context, log models.PublishLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_log (media_item_id, success, duration_ms, nfo_hash, assets_written, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		log.MediaItemID, log.Success, log.DurationMs, log.NFOHash, pq.StringArray(log.AssetsWritten), log.Error)
	return err
}

func (s *Store) ListPublishedAssetsSince(ctx context.Context, since time.Time) ([]models.PublishedAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+publishedAssetColumns+` FROM published_assets WHERE created_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PublishedAsset
	for rows.Next() {
		a, err := scanPublishedAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) MarkPublishedAssetStale(ctx context.Context, id uuid.UUID, stale bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE published_assets SET stale = $2, updated_at = now() WHERE id = $1`, id, stale)
	return err
}

func (s *Store) InsertActivityLog(ctx context.Context, entry models.ActivityLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (entity_type, entity_id, kind, message, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.EntityType, entry.EntityID, entry.Kind, entry.Message, entry.Detail)
	return err
}
