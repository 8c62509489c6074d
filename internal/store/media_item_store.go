package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements the media-item half of scanpipeline.Repository (spec
// §4.F) and webhook.Repository (spec §4.K). ProviderIDs and Locks are
// tagged db:"-" on models.MediaItem and round-trip through the
// provider_ids and locks JSONB columns.

const mediaItemColumns = `id, library_id, parent_id, kind, title, year, plot, path,
	provider_ids, identification_status, locks, has_unpublished_changes, enriched_at,
	deleted_on, created_at, updated_at`

func scanMediaItem(row interface{ Scan(dest ...interface{}) error }) (*models.MediaItem, error) {
	m := &models.MediaItem{}
	var providerIDs, locks []byte
	err := row.Scan(&m.ID, &m.LibraryID, &m.ParentID, &m.Kind, &m.Title, &m.Year, &m.Plot, &m.Path,
		&providerIDs, &m.IdentificationStatus, &locks, &m.HasUnpublishedChanges, &m.EnrichedAt,
		&m.DeletedOn, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.ProviderIDs = map[string]string{}
	if len(providerIDs) > 0 {
		if err := json.Unmarshal(providerIDs, &m.ProviderIDs); err != nil {
			return nil, err
		}
	}
	m.Locks = models.NewFieldLocks()
	if len(locks) > 0 {
		if err := json.Unmarshal(locks, &m.Locks); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Store) GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaItemColumns+` FROM media_items WHERE id = $1`, id)
	m, err := scanMediaItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMediaItemByPath(ctx context.Context, path string) (*models.MediaItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaItemColumns+` FROM media_items WHERE path = $1`, path)
	m, err := scanMediaItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMediaItemByProviderID(ctx context.Context, provider, externalID string) (*models.MediaItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE provider_ids->>$1 = $2 AND deleted_on IS NULL`,
		provider, externalID)
	m, err := scanMediaItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// UpsertMediaItemByPath inserts a new media item for path if none
// exists for (libraryID, path), otherwise returns the existing row
// (spec §4.F Phase 2 "Per-directory classification").
func (s *Store) UpsertMediaItemByPath(ctx context.Context, libraryID uuid.UUID, kind models.MediaItemKind, path string) (*models.MediaItem, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO media_items (library_id, kind, title, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (library_id, path) DO UPDATE SET path = EXCLUDED.path
		RETURNING `+mediaItemColumns, libraryID, kind, path, path)
	return scanMediaItem(row)
}

func (s *Store) SaveMediaItem(ctx context.Context, item *models.MediaItem) error {
	providerIDs, err := json.Marshal(item.ProviderIDs)
	if err != nil {
		return err
	}
	locks, err := json.Marshal(item.Locks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE media_items SET
			title = $2, year = $3, plot = $4, provider_ids = $5, identification_status = $6,
			locks = $7, has_unpublished_changes = $8, enriched_at = $9, deleted_on = $10, updated_at = now()
		WHERE id = $1`,
		item.ID, item.Title, item.Year, item.Plot, providerIDs, item.IdentificationStatus,
		locks, item.HasUnpublishedChanges, item.EnrichedAt, item.DeletedOn)
	return err
}

func (s *Store) SoftDeleteMediaItem(ctx context.Context, id uuid.UUID, deletedOn time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET deleted_on = $2, updated_at = now() WHERE id = $1`, id, deletedOn)
	return err
}

func (s *Store) InsertUnknownFile(ctx context.Context, f models.UnknownFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unknown_files (media_item_id, path, extension, resolution)
		VALUES ($1, $2, $3, $4)`, f.MediaItemID, f.Path, f.Extension, f.Resolution)
	return err
}

const assetCandidateColumns = `id, media_item_id, asset_type, provider, source_url, width, height,
	language, vote_count, vote_average, score, is_downloaded, is_selected, is_rejected,
	selected_by, content_hash, perceptual_hash, tombstoned, created_at`

func scanAssetCandidate(row interface{ Scan(dest ...interface{}) error }) (*models.AssetCandidate, error) {
	c := &models.AssetCandidate{}
	err := row.Scan(&c.ID, &c.MediaItemID, &c.AssetType, &c.Provider, &c.SourceURL, &c.Width, &c.Height,
		&c.Language, &c.VoteCount, &c.VoteAverage, &c.Score, &c.IsDownloaded, &c.IsSelected, &c.IsRejected,
		&c.SelectedBy, &c.ContentHash, &c.PerceptualHash, &c.Tombstoned, &c.CreatedAt)
	return c, err
}

func (s *Store) InsertAssetCandidates(ctx context.Context, candidates []models.AssetCandidate) error {
	for _, c := range candidates {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO asset_candidates (media_item_id, asset_type, provider, source_url, width, height,
				language, vote_count, vote_average, score, is_downloaded, is_selected, is_rejected,
				selected_by, content_hash, perceptual_hash, tombstoned)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			c.MediaItemID, c.AssetType, c.Provider, c.SourceURL, c.Width, c.Height,
			c.Language, c.VoteCount, c.VoteAverage, c.Score, c.IsDownloaded, c.IsSelected, c.IsRejected,
			c.SelectedBy, c.ContentHash, c.PerceptualHash, c.Tombstoned); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListAssetCandidates(ctx context.Context, mediaItemID uuid.UUID, assetType models.AssetType) ([]models.AssetCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetCandidateColumns+` FROM asset_candidates
		 WHERE media_item_id = $1 AND asset_type = $2 AND NOT tombstoned
		 ORDER BY score DESC`, mediaItemID, assetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AssetCandidate
	for rows.Next() {
		c, err := scanAssetCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) SaveAssetCandidate(ctx context.Context, c models.AssetCandidate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE asset_candidates SET
			is_downloaded = $2, is_selected = $3, is_rejected = $4, selected_by = $5,
			content_hash = $6, perceptual_hash = $7, tombstoned = $8, score = $9
		WHERE id = $1`,
		c.ID, c.IsDownloaded, c.IsSelected, c.IsRejected, c.SelectedBy,
		c.ContentHash, c.PerceptualHash, c.Tombstoned, c.Score)
	return err
}

func (s *Store) GetAssetCandidate(ctx context.Context, id uuid.UUID) (*models.AssetCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetCandidateColumns+` FROM asset_candidates WHERE id = $1`, id)
	c, err := scanAssetCandidate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) IsAssetBlacklisted(ctx context.Context, provider, url string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rejected_assets WHERE provider = $1 AND provider_url = $2)`,
		provider, url).Scan(&exists)
	return exists, err
}

// ListNotifyGroups resolves the set of player groups subscribed to
// notifications for the library a media item belongs to (spec §4.K).
func (s *Store) ListNotifyGroups(ctx context.Context, mediaItemID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ns.group_id FROM notify_subscriptions ns
		JOIN media_items mi ON mi.library_id = ns.library_id
		WHERE mi.id = $1`, mediaItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var g uuid.UUID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
