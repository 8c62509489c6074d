package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements scheduler.Repository (spec §4.O) and the GetLibrary half
// of scanpipeline.Repository (spec §4.F). ScoringWeights and
// MaxAssetCounts are tagged db:"-" on models.Library since they don't
// map to scalar columns; they round-trip through the scoring_weights
// and max_asset_counts JSONB columns instead, grounded on the
// teacher's JSONB-for-nested-config columns in library_repository.go.

const libraryColumns = `id, name, root_path, media_type, automation_mode, orchestration_strategy,
	preferred_language, provider_priority, scoring_weights, dedup_threshold, max_asset_counts,
	min_width, min_height, scan_interval_seconds, next_scan_at, delete_grace_days,
	created_at, updated_at`

func scanLibrary(row interface{ Scan(dest ...interface{}) error }) (*models.Library, error) {
	l := &models.Library{}
	var providerPriority pq.StringArray
	var scoringWeights, maxAssetCounts []byte
	err := row.Scan(&l.ID, &l.Name, &l.RootPath, &l.MediaType, &l.AutomationMode, &l.OrchestrationStrategy,
		&l.PreferredLanguage, &providerPriority, &scoringWeights, &l.DedupThreshold, &maxAssetCounts,
		&l.MinWidth, &l.MinHeight, &l.ScanIntervalSeconds, &l.NextScanAt, &l.DeleteGraceDays,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.ProviderPriority = []string(providerPriority)
	if len(scoringWeights) > 0 {
		if err := json.Unmarshal(scoringWeights, &l.ScoringWeights); err != nil {
			return nil, err
		}
	}
	if len(maxAssetCounts) > 0 {
		if err := json.Unmarshal(maxAssetCounts, &l.MaxAssetCounts); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (s *Store) GetLibrary(ctx context.Context, id uuid.UUID) (*models.Library, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = $1`, id)
	l, err := scanLibrary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// ListLibrariesDueForScan returns every library whose next_scan_at has
// elapsed, or which has never been scanned (spec §4.O).
func (s *Store) ListLibrariesDueForScan(ctx context.Context, now time.Time) ([]models.Library, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries
		WHERE next_scan_at IS NULL OR next_scan_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceNextScan(ctx context.Context, libraryID uuid.UUID, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE libraries SET next_scan_at = $2, updated_at = now() WHERE id = $1`, libraryID, next)
	return err
}
