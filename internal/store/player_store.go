package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements player.Repository (spec §4.J). ListMappings is shared
// verbatim with webhook.Repository, so this single method satisfies
// both interfaces.

func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*models.PlayerGroup, error) {
	g := &models.PlayerGroup{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, max_members, created_at FROM player_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.MaxMembers, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

func (s *Store) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MediaPlayer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, name, kind, base_url, api_key, enabled, created_at
		FROM media_players WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MediaPlayer
	for rows.Next() {
		p := models.MediaPlayer{}
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Name, &p.Kind, &p.BaseURL, &p.APIKey, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListMappings(ctx context.Context, scope models.MappingScope, scopeKey string) ([]models.PathMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, scope_key, source_prefix, target_prefix, created_at
		FROM path_mappings WHERE scope = $1 AND scope_key = $2`, scope, scopeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PathMapping
	for rows.Next() {
		m := models.PathMapping{}
		if err := rows.Scan(&m.ID, &m.Scope, &m.ScopeKey, &m.SourcePrefix, &m.TargetPrefix, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const playerUpdateColumns = `id, player_id, group_id, type, library_path, state,
	scheduled_for, retry_count, max_retries, created_at, updated_at`

func scanPlayerUpdate(row interface{ Scan(dest ...interface{}) error }) (*models.PlayerUpdate, error) {
	u := &models.PlayerUpdate{}
	err := row.Scan(&u.ID, &u.PlayerID, &u.GroupID, &u.Type, &u.LibraryPath, &u.State,
		&u.ScheduledFor, &u.RetryCount, &u.MaxRetries, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) EnqueueUpdate(ctx context.Context, update *models.PlayerUpdate) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO player_updates (player_id, group_id, type, library_path, state, scheduled_for, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		update.PlayerID, update.GroupID, update.Type, update.LibraryPath, update.State,
		update.ScheduledFor, update.MaxRetries)
	return row.Scan(&update.ID, &update.CreatedAt, &update.UpdatedAt)
}

func (s *Store) ListDueUpdates(ctx context.Context, now time.Time, limit int) ([]models.PlayerUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerUpdateColumns+` FROM player_updates
		WHERE state = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlayerUpdate
	for rows.Next() {
		u, err := scanPlayerUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) SaveUpdate(ctx context.Context, update *models.PlayerUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE player_updates SET state = $2, scheduled_for = $3, retry_count = $4, updated_at = now()
		WHERE id = $1`, update.ID, update.State, update.ScheduledFor, update.RetryCount)
	return err
}

func (s *Store) DeleteUpdate(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM player_updates WHERE id = $1`, id)
	return err
}
