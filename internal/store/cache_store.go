package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements cache.Repository (spec §4.A).

const cacheEntryColumns = `content_hash, path, byte_size, mime_type, width, height,
	perceptual_hash, reference_count, created_at, last_used_at, orphaned_at`

func scanCacheEntry(row interface{ Scan(dest ...interface{}) error }) (*models.CacheEntry, error) {
	e := &models.CacheEntry{}
	err := row.Scan(&e.ContentHash, &e.Path, &e.ByteSize, &e.MimeType, &e.Width, &e.Height,
		&e.PerceptualHash, &e.ReferenceCount, &e.CreatedAt, &e.LastUsedAt, &e.OrphanedAt)
	return e, err
}

func (s *Store) GetByHash(ctx context.Context, hash string) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cacheEntryColumns+` FROM cache_entries WHERE content_hash = $1`, hash)
	e, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) Insert(ctx context.Context, entry *models.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (content_hash, path, byte_size, mime_type, width, height,
			perceptual_hash, reference_count, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ContentHash, entry.Path, entry.ByteSize, entry.MimeType, entry.Width, entry.Height,
		entry.PerceptualHash, entry.ReferenceCount, entry.CreatedAt, entry.LastUsedAt)
	return err
}

func (s *Store) IncrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET reference_count = reference_count + 1, last_used_at = $2, orphaned_at = NULL
		WHERE content_hash = $1
		RETURNING `+cacheEntryColumns, hash, now)
	return scanCacheEntry(row)
}

func (s *Store) DecrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET reference_count = reference_count - 1,
			orphaned_at = CASE WHEN reference_count - 1 <= 0 THEN $2 ELSE orphaned_at END
		WHERE content_hash = $1
		RETURNING `+cacheEntryColumns, hash, now)
	return scanCacheEntry(row)
}

func (s *Store) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE content_hash = $1`, hash)
	return err
}

func (s *Store) ListOrphanedBefore(ctx context.Context, cutoff time.Time) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cacheEntryColumns+` FROM cache_entries
		WHERE orphaned_at IS NOT NULL AND orphaned_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
