// Package webhook implements the Webhook Fan-Out (spec §4.K):
// translating one inbound {source, event, payload} notification into
// a chain of dependent jobs (directory-scan -> enrich-metadata ->
// publish -> notify-group-per-group), with delete events soft-deleting
// the MediaItem instead. Grounded on
// internal/notifications/events.go's EventDispatcher, which looks up
// enabled subscribers for an event and fans out to each one —
// generalized here from "fan out a chat notification" to "fan out a
// dependent job chain."
package webhook

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/pathmap"
)

// DefaultDeleteGrace is how far in the future a soft-deleted
// MediaItem's deleted_on is set (spec §4.K step 3 "cache orphaning
// follows from cascaded row deletes once grace expires").
const DefaultDeleteGrace = 30 * 24 * time.Hour

// Event is an inbound webhook's normalized event kind (spec §4.K
// "Upgrade events").
const (
	EventAdded   = "added"
	EventUpgrade = "upgrade"
	EventDelete  = "delete"
)

// InboundEvent is the decoded body of an inbound webhook request
// (spec §4.K "{source, event, payload}").
type InboundEvent struct {
	Source      models.ManagerSource `json:"source"`
	Event       string               `json:"event"`
	Path        string               `json:"path"`
	ProviderIDs map[string]string    `json:"provider_ids,omitempty"`
}

// Repository is the persistence boundary for resolving a webhook
// payload to a MediaItem and its notification subscribers.
type Repository interface {
	ListMappings(ctx context.Context, scope models.MappingScope, scopeKey string) ([]models.PathMapping, error)
	FindMediaItemByPath(ctx context.Context, path string) (*models.MediaItem, error)
	FindMediaItemByProviderID(ctx context.Context, provider, externalID string) (*models.MediaItem, error)
	SoftDeleteMediaItem(ctx context.Context, id uuid.UUID, deletedOn time.Time) error
	ListNotifyGroups(ctx context.Context, mediaItemID uuid.UUID) ([]uuid.UUID, error)
}

// Submitter is the subset of jobs.Dispatcher this package depends on.
type Submitter interface {
	Submit(ctx context.Context, job *models.Job) error
}

// Handler runs the webhook fan-out (spec §4.K).
type Handler struct {
	repo        Repository
	dispatcher  Submitter
	deleteGrace time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// New constructs a Handler.
func New(repo Repository, dispatcher Submitter, deleteGrace time.Duration, logger *log.Logger) *Handler {
	if deleteGrace <= 0 {
		deleteGrace = DefaultDeleteGrace
	}
	return &Handler{repo: repo, dispatcher: dispatcher, deleteGrace: deleteGrace, logger: logger, now: time.Now}
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

// Receive inserts the initial webhook-received job at CRITICAL
// priority (spec §4.K step 1). Called from the inbound HTTP endpoint.
func (h *Handler) Receive(ctx context.Context, ev InboundEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "webhook: encode inbound event", err)
	}
	job := &models.Job{
		ID:         uuid.New(),
		Type:       jobs.TypeWebhookReceived,
		Priority:   models.PriorityCritical,
		Payload:    payload,
		MaxRetries: 3,
	}
	return h.dispatcher.Submit(ctx, job)
}

// HandleReceived is the TypeWebhookReceived job handler: it resolves
// the MediaItem and emits the dependent job chain (spec §4.K step 2).
func (h *Handler) HandleReceived(ctx context.Context, job *models.Job) error {
	var ev InboundEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return apperr.Wrap(apperr.KindValidation, "webhook: decode inbound event", err)
	}

	mappings, err := h.repo.ListMappings(ctx, models.ScopeManager, string(ev.Source))
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "webhook: list manager mappings", err)
	}
	translated := pathmap.Translate(ev.Path, mappings)

	item, err := h.resolveItem(ctx, translated, ev.ProviderIDs)
	if err != nil {
		return err
	}

	if ev.Event == EventDelete {
		if err := h.repo.SoftDeleteMediaItem(ctx, item.ID, h.now().Add(h.deleteGrace)); err != nil {
			return apperr.Wrap(apperr.KindIO, "webhook: soft-delete media item", err)
		}
		return nil
	}

	upgrade := ev.Event == EventUpgrade
	return h.emitChain(ctx, job.ID, item.ID, translated, upgrade)
}

func (h *Handler) resolveItem(ctx context.Context, path string, providerIDs map[string]string) (*models.MediaItem, error) {
	if item, err := h.repo.FindMediaItemByPath(ctx, path); err == nil && item != nil {
		return item, nil
	}
	for provider, id := range providerIDs {
		if item, err := h.repo.FindMediaItemByProviderID(ctx, provider, id); err == nil && item != nil {
			return item, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "webhook: no media item matched path or provider IDs")
}

// emitChain submits directory-scan -> enrich-metadata -> publish ->
// notify-group(s), each depending on the previous (spec §4.K step 2.c).
func (h *Handler) emitChain(ctx context.Context, parentJobID, mediaItemID uuid.UUID, path string, upgrade bool) error {
	scanPayload, _ := json.Marshal(jobs.DirectoryScanPayload{MediaItemID: mediaItemID, Path: path, Upgrade: upgrade, SkipAutoEnrich: true})
	scanJob := &models.Job{
		ID: uuid.New(), Type: jobs.TypeDirectoryScan, Priority: models.PriorityHighScan,
		Payload: scanPayload, ParentJobID: &parentJobID, MaxRetries: 3,
	}
	if err := h.dispatcher.Submit(ctx, scanJob); err != nil {
		return apperr.Wrap(apperr.KindIO, "webhook: submit directory-scan job", err)
	}

	enrichPayload, _ := json.Marshal(jobs.EnrichMetadataPayload{MediaItemID: mediaItemID, Upgrade: upgrade, SkipAutoPublish: true})
	enrichJob := &models.Job{
		ID: uuid.New(), Type: jobs.TypeEnrichMetadata, Priority: models.PriorityHighEnrich,
		Payload: enrichPayload, ParentJobID: &parentJobID, DependsOn: []uuid.UUID{scanJob.ID}, MaxRetries: 3,
	}
	if err := h.dispatcher.Submit(ctx, enrichJob); err != nil {
		return apperr.Wrap(apperr.KindIO, "webhook: submit enrich-metadata job", err)
	}

	publishPayload, _ := json.Marshal(jobs.PublishPayload{MediaItemID: mediaItemID})
	publishJob := &models.Job{
		ID: uuid.New(), Type: jobs.TypePublish, Priority: models.PriorityHighPublish,
		Payload: publishPayload, ParentJobID: &parentJobID, DependsOn: []uuid.UUID{enrichJob.ID}, MaxRetries: 3,
	}
	if err := h.dispatcher.Submit(ctx, publishJob); err != nil {
		return apperr.Wrap(apperr.KindIO, "webhook: submit publish job", err)
	}

	groups, err := h.repo.ListNotifyGroups(ctx, mediaItemID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "webhook: list notify groups", err)
	}
	for _, groupID := range groups {
		notifyPayload, _ := json.Marshal(jobs.NotifyGroupPayload{GroupID: groupID, LibraryPath: path})
		notifyJob := &models.Job{
			ID: uuid.New(), Type: jobs.TypeNotifyGroup, Priority: models.PriorityHighNotify,
			Payload: notifyPayload, ParentJobID: &parentJobID, DependsOn: []uuid.UUID{publishJob.ID}, MaxRetries: 3,
		}
		if err := h.dispatcher.Submit(ctx, notifyJob); err != nil {
			h.logf("webhook: submit notify-group job for %s: %v", groupID, err)
		}
	}
	return nil
}
