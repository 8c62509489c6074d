// Package jobs implements the Priority Job Queue (spec §4.L): Postgres
// rows are the durable source of truth for priority, dependency, and
// crash-recovery semantics; a poller promotes runnable rows into
// hibiken/asynq for actual concurrent dispatch. Grounded on the
// teacher's internal/jobs/queue.go Queue type — its asynq client/
// server/mux wiring and EnqueueUnique deterministic-TaskID dedup
// pattern are reused near-verbatim — generalized with a DB-backed
// poller in front, per spec §9's guidance that the execution layer
// sits behind "an in-memory channel or bounded work-queue between the
// DB poller and workers."
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sony/gobreaker"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/models"
)

// Job type names dispatched through asynq, one per spec §4.F/§4.H/§4.J/§4.K
// handler.
const (
	TypeLibraryScan    = "scan:library"
	TypeDirectoryScan  = "scan:directory"
	TypeCacheAsset     = "cache:asset"
	TypeEnrichMetadata = "enrich:metadata"
	TypeDownloadAsset  = "download:asset"
	TypePublish        = "publish:item"
	TypeWebhookReceived = "webhook:received"
	TypeNotifyGroup    = "notify:group"
	TypeVerify         = "verify:run"
	TypeGarbageCollect = "gc:run"
)

// LibraryScanPayload is the Job.Payload shape for TypeLibraryScan
// (spec §4.F Phase 1).
type LibraryScanPayload struct {
	LibraryID uuid.UUID `json:"library_id"`
	RootPath  string    `json:"root_path"`
}

// CacheAssetPayload is the Job.Payload shape for TypeCacheAsset
// (spec §4.F Phase 3).
type CacheAssetPayload struct {
	MediaItemID    uuid.UUID        `json:"media_item_id"`
	ScanJobID      uuid.UUID        `json:"scan_job_id"`
	AssetType      models.AssetType `json:"asset_type"`
	Provider       string           `json:"provider"`
	SourceURL      string           `json:"source_url,omitempty"`
	LocalPath      string           `json:"local_path,omitempty"`
	CandidateID    *uuid.UUID       `json:"candidate_id,omitempty"`
}

// DownloadAssetPayload is the Job.Payload shape for TypeDownloadAsset
// (spec §4.F Phase 4 step 4).
type DownloadAssetPayload struct {
	CandidateID uuid.UUID `json:"candidate_id"`
}

// DirectoryScanPayload is the Job.Payload shape for TypeDirectoryScan
// (spec §4.F Phase 2, §4.K step 2.c).
type DirectoryScanPayload struct {
	// MediaItemID is set when the item already exists (webhook-driven
	// rescans); left zero when this directory was discovered fresh by
	// a library scan, in which case LibraryID identifies where to
	// upsert the new MediaItem.
	MediaItemID uuid.UUID        `json:"media_item_id,omitempty"`
	LibraryID   uuid.UUID        `json:"library_id,omitempty"`
	Kind        models.MediaItemKind `json:"kind,omitempty"`
	Path        string    `json:"path"`
	Upgrade     bool      `json:"upgrade,omitempty"`
	// SkipAutoEnrich suppresses the handler's own follow-up
	// enrich-metadata submission. Set by callers (webhook fan-out) that
	// already created a dependent enrich-metadata job themselves.
	SkipAutoEnrich bool `json:"skip_auto_enrich,omitempty"`
}

// EnrichMetadataPayload is the Job.Payload shape for TypeEnrichMetadata
// (spec §4.F Phase 4, §4.K step 2.c).
type EnrichMetadataPayload struct {
	MediaItemID uuid.UUID `json:"media_item_id"`
	Upgrade     bool      `json:"upgrade,omitempty"`
	// SkipAutoPublish suppresses the handler's own follow-up publish
	// submission, for callers (webhook fan-out) that already created a
	// dependent publish job themselves.
	SkipAutoPublish bool `json:"skip_auto_publish,omitempty"`
}

// PublishPayload is the Job.Payload shape for TypePublish (spec §4.H,
// §4.K step 2.c).
type PublishPayload struct {
	MediaItemID uuid.UUID `json:"media_item_id"`
}

// NotifyGroupPayload is the Job.Payload shape for TypeNotifyGroup
// (spec §4.J, §4.K step 2.c).
type NotifyGroupPayload struct {
	GroupID     uuid.UUID `json:"group_id"`
	LibraryPath string    `json:"library_path"`
}

// VerifyPayload is the Job.Payload shape for TypeVerify (spec §4.N).
// Since bounds the scan to media items published on or after that
// time; the scheduler's daily tick leaves it zero, which the handler
// treats as "look back verifier.DefaultWindow".
type VerifyPayload struct {
	Since time.Time `json:"since,omitempty"`
}

// Repository is the durable-row persistence boundary (spec §4.L
// "Persistence and recovery", "Selection"). Implemented by
// internal/store against Postgres.
type Repository interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errMsg string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, cur, total int, msg string) error
	ResetProcessingToPending(ctx context.Context) (int, error)
	CancelNotStarted(ctx context.Context, parentJobID uuid.UUID) (int, error)
}

// isTaskConflict mirrors the teacher's queue.go check for a duplicate
// or in-flight asynq task ID.
func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	return strings.Contains(err.Error(), "task ID conflicts") || strings.Contains(err.Error(), "duplicate task")
}

// priorityToQueue maps a spec §4.L priority band to an asynq queue
// name/weight (spec priority bands 1=critical .. 10=low-GC).
func priorityToQueue(priority int) string {
	switch {
	case priority <= models.PriorityCritical:
		return "critical"
	case priority <= models.PriorityHighNotify:
		return "high"
	case priority <= models.PriorityNormalHigh:
		return "default"
	default:
		return "low"
	}
}

// Dispatcher owns the DB-poller-to-asynq pipeline: a ticker promotes
// runnable Postgres rows into asynq tasks; asynq executes them via
// registered handlers, which report completion back to Postgres.
type Dispatcher struct {
	repo         Repository
	asynqClient  *asynq.Client
	asynqServer  *asynq.Server
	asynqMux     *asynq.ServeMux
	asynqInsp    *asynq.Inspector
	pollInterval time.Duration
	batchSize    int
	logger       *log.Logger
	now          func() time.Time

	// breaker trips on consecutive handler failures across every job
	// type (spec §4.L "a queue-level circuit breaker... pauses the
	// entire queue for a cooldown after consecutive failures"),
	// distinct from the per-provider breaker in internal/httpclient
	// (spec §4.C) which only guards outbound HTTP calls.
	breaker            *gobreaker.CircuitBreaker
	breakerOpenTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

// Config tunes the Dispatcher's asynq server and poller.
type Config struct {
	RedisAddr    string
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int
	// BreakerFailureThreshold is consecutive handler failures, summed
	// across every job type, before the queue-level breaker opens.
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout is how long the queue stays paused before a
	// probe job is let through to test recovery.
	BreakerOpenTimeout time.Duration
}

// DefaultConfig mirrors the teacher's NewQueue concurrency/queue-weight
// defaults.
func DefaultConfig(redisAddr string) Config {
	return Config{
		RedisAddr:               redisAddr,
		Concurrency:             8,
		PollInterval:            2 * time.Second,
		BatchSize:               50,
		BreakerFailureThreshold: 10,
		BreakerOpenTimeout:      time.Minute,
	}
}

// NewDispatcher wires a Dispatcher against repo and Redis, with the
// priority-band-to-queue-weight mapping spec §4.L implies.
func NewDispatcher(repo Repository, cfg Config, logger *log.Logger) *Dispatcher {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			"critical": 8,
			"high":     4,
			"default":  2,
			"low":      1,
		},
	})
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "jobs",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})
	return &Dispatcher{
		repo:               repo,
		asynqClient:        client,
		asynqServer:        server,
		asynqMux:           asynq.NewServeMux(),
		asynqInsp:          asynq.NewInspector(redisOpt),
		pollInterval:       cfg.PollInterval,
		batchSize:          cfg.BatchSize,
		logger:             logger,
		now:                time.Now,
		breaker:            breaker,
		breakerOpenTimeout: cfg.BreakerOpenTimeout,
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// Handler is a job handler's view: it receives the decoded job row and
// returns a classified error via apperr so the dispatcher knows
// whether to retry.
type Handler func(ctx context.Context, job *models.Job) error

// RegisterHandler binds jobType to fn; fn runs inside the asynq worker
// pool and its return value drives retry/terminal classification
// (spec §7).
func (d *Dispatcher) RegisterHandler(jobType string, fn Handler) {
	d.asynqMux.HandleFunc(jobType, func(ctx context.Context, task *asynq.Task) error {
		var job models.Job
		if err := json.Unmarshal(task.Payload(), &job); err != nil {
			return fmt.Errorf("jobs: decoding task payload: %w", err)
		}
		if err := d.repo.MarkProcessing(ctx, job.ID); err != nil {
			d.logf("jobs: mark processing %s: %v", job.ID, err)
		}

		_, err := d.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx, &job)
		})
		if err == nil {
			if markErr := d.repo.MarkCompleted(ctx, job.ID); markErr != nil {
				d.logf("jobs: mark completed %s: %v", job.ID, markErr)
			}
			return nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			d.logf("jobs: queue breaker open, deferring %s (%s)", job.ID, job.Type)
			if scheduleErr := d.repo.ScheduleRetry(ctx, job.ID, d.now().Add(d.breakerOpenTimeout), "queue circuit breaker open"); scheduleErr != nil {
				d.logf("jobs: schedule retry %s: %v", job.ID, scheduleErr)
			}
			return nil
		}

		if apperr.Retryable(err) && job.RetryCount < job.MaxRetries {
			backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
			if scheduleErr := d.repo.ScheduleRetry(ctx, job.ID, d.now().Add(backoff), err.Error()); scheduleErr != nil {
				d.logf("jobs: schedule retry %s: %v", job.ID, scheduleErr)
			}
			// Returning nil here: asynq's own retry is disabled per task
			// (MaxRetry(0), see enqueueUnique) since Postgres owns retry
			// scheduling and asynq only ever sees single-shot tasks.
			return nil
		}

		if markErr := d.repo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			d.logf("jobs: mark failed %s: %v", job.ID, markErr)
		}
		return nil
	})
}

// Submit inserts a new Job row (spec §4.L "Jobs are durable rows").
// The poller, not this call, is responsible for eventually dispatching
// it once its dependencies are satisfied.
func (d *Dispatcher) Submit(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	return d.repo.Create(ctx, job)
}

// Run starts the asynq worker pool and the DB poller; it blocks until
// ctx is cancelled or Stop is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	recovered, err := d.repo.ResetProcessingToPending(ctx)
	if err != nil {
		return fmt.Errorf("jobs: crash recovery reset: %w", err)
	}
	if recovered > 0 {
		d.logf("jobs: crash recovery reset %d in-flight jobs to pending", recovered)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- d.asynqServer.Run(d.asynqMux)
	}()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.asynqServer.Shutdown()
			return ctx.Err()
		case <-d.stop:
			d.asynqServer.Shutdown()
			return nil
		case err := <-serverErrCh:
			return fmt.Errorf("jobs: asynq server exited: %w", err)
		case <-ticker.C:
			if d.breaker.State() == gobreaker.StateOpen {
				d.logf("jobs: queue breaker open, pausing promotion")
				continue
			}
			d.promote(ctx)
		}
	}
}

// Stop signals Run to shut down and blocks until it has.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
	d.asynqClient.Close()
	d.asynqInsp.Close()
}

// promote queries runnable rows (spec §4.L "Selection") and hands each
// to asynq with a deterministic task ID so re-promotion (e.g. after a
// slow poll cycle) never double-enqueues.
func (d *Dispatcher) promote(ctx context.Context) {
	runnable, err := d.repo.ListRunnable(ctx, d.now(), d.batchSize)
	if err != nil {
		d.logf("jobs: list runnable: %v", err)
		return
	}
	for i := range runnable {
		job := runnable[i]
		if err := d.enqueueUnique(&job); err != nil {
			d.logf("jobs: enqueue %s (%s): %v", job.ID, job.Type, err)
		}
	}
}

// enqueueUnique enqueues job into asynq with TaskID == job.ID (spec
// §4.L ties are broken deterministically; reusing the DB primary key
// as the asynq dedup key is the simplest way to guarantee at-most-once
// live dispatch per row). Grounded on the teacher's EnqueueUnique:
// conflicting stale completed/archived tasks are cleared and retried;
// a conflict against a genuinely in-flight task is treated as success.
func (d *Dispatcher) enqueueUnique(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	queueName := priorityToQueue(job.Priority)
	task := asynq.NewTask(job.Type, data, asynq.TaskID(job.ID.String()), asynq.Queue(queueName), asynq.MaxRetry(0))

	_, err = d.asynqClient.Enqueue(task)
	if err == nil {
		return nil
	}
	if !isTaskConflict(err) {
		return fmt.Errorf("enqueue: %w", err)
	}

	if delErr := d.asynqInsp.DeleteTask(queueName, job.ID.String()); delErr == nil {
		if _, retryErr := d.asynqClient.Enqueue(task); retryErr == nil {
			return nil
		}
	}
	// A remaining conflict means the task is actively running — fine,
	// it's already live.
	return nil
}

// CancelChildren marks all not-yet-started children of parentJobID
// cancelled (spec §4.F "Cancellation semantics").
func (d *Dispatcher) CancelChildren(ctx context.Context, parentJobID uuid.UUID) (int, error) {
	return d.repo.CancelNotStarted(ctx, parentJobID)
}
