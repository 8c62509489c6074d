package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Uses go-sqlmock, grounded on the pack's DB-repository-layer test
// style (the teacher ships no repository tests of its own), to verify
// the SQL each Store method issues without a live Postgres instance.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreate_InsertsJobAndDependencies(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()
	dep := uuid.New()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("scan:library", 5, sqlmock.AnyArg(), nil, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at", "status"}).
			AddRow(jobID, time.Now(), time.Now(), models.JobPending))
	mock.ExpectExec(`INSERT INTO job_dependencies`).
		WithArgs(jobID, dep).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.Job{
		Type:       "scan:library",
		Priority:   5,
		Payload:    json.RawMessage(`{}`),
		MaxRetries: 3,
		DependsOn:  []uuid.UUID{dep},
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID != jobID {
		t.Fatalf("expected job id %s, got %s", jobID, job.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByHash_ReturnsNilOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM cache_entries WHERE content_hash`).
		WithArgs("deadbeef").
		WillReturnError(sql.ErrNoRows)

	entry, err := s.GetByHash(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry, got %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncrementRef_BumpsCountAndClearsOrphan(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"content_hash", "path", "byte_size", "mime_type", "width", "height",
		"perceptual_hash", "reference_count", "created_at", "last_used_at", "orphaned_at"}

	mock.ExpectQuery(`UPDATE cache_entries SET reference_count = reference_count \+ 1`).
		WithArgs("deadbeef", now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"deadbeef", "/cache/de/deadbeef.jpg", int64(1024), "image/jpeg", nil, nil, nil, 2, now, now, nil))

	entry, err := s.IncrementRef(context.Background(), "deadbeef", now)
	if err != nil {
		t.Fatalf("IncrementRef: %v", err)
	}
	if entry.ReferenceCount != 2 {
		t.Fatalf("expected reference_count 2, got %d", entry.ReferenceCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdvanceNextScan_IssuesUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	libID := uuid.New()
	next := time.Now().Add(6 * time.Hour)

	mock.ExpectExec(`UPDATE libraries SET next_scan_at`).
		WithArgs(libID, next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AdvanceNextScan(context.Background(), libID, next); err != nil {
		t.Fatalf("AdvanceNextScan: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveMediaItem_MarshalsProviderIDsAndLocks(t *testing.T) {
	s, mock := newMockStore(t)
	item := &models.MediaItem{
		ID:                   uuid.New(),
		Title:                "Arrival",
		ProviderIDs:          map[string]string{"tmdb": "329865"},
		IdentificationStatus: models.StatusIdentified,
		Locks:                models.NewFieldLocks(),
	}

	mock.ExpectExec(`UPDATE media_items SET`).
		WithArgs(item.ID, item.Title, item.Year, item.Plot, sqlmock.AnyArg(), item.IdentificationStatus,
			sqlmock.AnyArg(), item.HasUnpublishedChanges, item.EnrichedAt, item.DeletedOn).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SaveMediaItem(context.Background(), item); err != nil {
		t.Fatalf("SaveMediaItem: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertActivityLog_WritesRow(t *testing.T) {
	s, mock := newMockStore(t)
	entry := models.ActivityLogEntry{
		EntityType: "published_asset",
		Kind:       "drift_restored",
		Message:    "restored from cache",
	}

	mock.ExpectExec(`INSERT INTO activity_log`).
		WithArgs(entry.EntityType, entry.EntityID, entry.Kind, entry.Message, entry.Detail).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.InsertActivityLog(context.Background(), entry); err != nil {
		t.Fatalf("InsertActivityLog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetGroup_ReturnsNilOnNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT id, name, max_members, created_at FROM player_groups`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	g, err := s.GetGroup(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g != nil {
		t.Fatalf("expected nil group, got %+v", g)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
