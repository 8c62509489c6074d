package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/models"
)

type fakeRepo struct {
	mu       sync.Mutex
	due      []models.Library
	advanced map[uuid.UUID]time.Time
}

func newFakeRepo(due ...models.Library) *fakeRepo {
	return &fakeRepo{due: due, advanced: map[uuid.UUID]time.Time{}}
}

func (r *fakeRepo) ListLibrariesDueForScan(ctx context.Context, now time.Time) ([]models.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Library, len(r.due))
	copy(out, r.due)
	return out, nil
}

func (r *fakeRepo) AdvanceNextScan(ctx context.Context, libraryID uuid.UUID, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced[libraryID] = next
	return nil
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (s *fakeSubmitter) Submit(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeSubmitter) byType(t string) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

func TestCheckDueLibraries_SubmitsScanAndAdvancesNextScan(t *testing.T) {
	lib := models.Library{ID: uuid.New(), Name: "Movies", RootPath: "/media/movies", ScanIntervalSeconds: 3600}
	repo := newFakeRepo(lib)
	sub := &fakeSubmitter{}
	s := New(repo, sub, nil)

	s.checkDueLibraries(context.Background())

	scans := sub.byType(jobs.TypeLibraryScan)
	if len(scans) != 1 {
		t.Fatalf("expected one scan:library job, got %d", len(scans))
	}
	if _, ok := repo.advanced[lib.ID]; !ok {
		t.Fatalf("expected next_scan_at to be advanced for %s", lib.ID)
	}
}

func TestCheckDueLibraries_NoneDueSubmitsNothing(t *testing.T) {
	repo := newFakeRepo()
	sub := &fakeSubmitter{}
	s := New(repo, sub, nil)

	s.checkDueLibraries(context.Background())

	if len(sub.jobs) != 0 {
		t.Fatalf("expected no jobs submitted, got %d", len(sub.jobs))
	}
}

func TestRunDaily_SubmitsVerifyJob(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(newFakeRepo(), sub, nil)

	s.runDaily()

	if len(sub.byType(jobs.TypeVerify)) != 1 {
		t.Fatalf("expected one verify:run job, got %+v", sub.jobs)
	}
}

func TestRunWeekly_SubmitsGarbageCollectJob(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(newFakeRepo(), sub, nil)

	s.runWeekly()

	if len(sub.byType(jobs.TypeGarbageCollect)) != 1 {
		t.Fatalf("expected one gc:run job, got %+v", sub.jobs)
	}
}
