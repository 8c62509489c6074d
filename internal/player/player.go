// Package player implements the Player Notifier + Group Coordinator
// (spec §4.J): translating a changed library path through a group's
// path mappings, choosing a primary member to scan immediately versus
// members whose update is deferred, and running the periodic
// update-queue processor that re-probes and executes deferred work.
//
// The teacher's own internal/player package served video directly to
// browser clients (stream/transcode/subtitle handlers) — an inbound
// concern with no analogue here, since this package is an outbound
// notifier calling external players. It is grounded instead on
// internal/notifications/webhook.go's per-channel-type dispatch
// (WebhookSender.Send switching on channel type) generalized to
// switching on player kind via a small adapter registry, with actual
// HTTP calls routed through internal/httpclient instead of a bare
// *http.Client.
package player

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/pathmap"
)

// DefaultUpdateInterval is the update-queue processor's polling
// cadence (spec §4.J.4 "default 30 s").
const DefaultUpdateInterval = 30 * time.Second

// DefaultMaxRetries caps deferred-update retries (spec §4.J.4
// "cap at max_retries, default 3").
const DefaultMaxRetries = 3

// DeferPostpone is how far a still-playing scan update is pushed back
// (spec §4.J.4 "postpone by 5 min").
const DeferPostpone = 5 * time.Minute

// singletonBackoffBase is the base backoff for singleton-group retry
// (spec §4.J.2 "retry up to N times with backoff").
const singletonBackoffBase = 2 * time.Second

// Adapter is one player protocol family's client (spec §4.J, §6
// kodi/jellyfin/plex).
type Adapter interface {
	Kind() models.PlayerKind
	ProbePlayback(ctx context.Context, p models.MediaPlayer) (models.PlaybackState, error)
	TriggerScan(ctx context.Context, p models.MediaPlayer, libraryPath string) error
	RefreshImageCache(ctx context.Context, p models.MediaPlayer, libraryPath string) error
}

// Registry resolves an Adapter by player kind.
type Registry struct {
	adapters map[models.PlayerKind]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[models.PlayerKind]Adapter{}}
}

// Register binds an Adapter to its kind.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get returns the Adapter for kind, or nil if none is registered.
func (r *Registry) Get(kind models.PlayerKind) Adapter {
	return r.adapters[kind]
}

// Repository is the persistence boundary for groups, members,
// mappings, and the deferred-update queue (spec §3 "PlayerGroup",
// "MediaPlayer", "PathMapping", "PlayerUpdate").
type Repository interface {
	GetGroup(ctx context.Context, id uuid.UUID) (*models.PlayerGroup, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MediaPlayer, error)
	ListMappings(ctx context.Context, scope models.MappingScope, scopeKey string) ([]models.PathMapping, error)
	EnqueueUpdate(ctx context.Context, update *models.PlayerUpdate) error
	ListDueUpdates(ctx context.Context, now time.Time, limit int) ([]models.PlayerUpdate, error)
	SaveUpdate(ctx context.Context, update *models.PlayerUpdate) error
	DeleteUpdate(ctx context.Context, id uuid.UUID) error
}

// Coordinator runs the group-oriented notify logic and the
// update-queue processor.
type Coordinator struct {
	repo     Repository
	registry *Registry
	logger   *log.Logger
	now      func() time.Time

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New constructs a Coordinator.
func New(repo Repository, registry *Registry, logger *log.Logger) *Coordinator {
	return &Coordinator{
		repo:     repo,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Notify runs the group notification logic for a changed library_path
// (spec §4.J steps 1-3).
func (c *Coordinator) Notify(ctx context.Context, groupID uuid.UUID, libraryPath string) error {
	group, err := c.repo.GetGroup(ctx, groupID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "player: load group", err)
	}
	members, err := c.repo.ListMembers(ctx, groupID)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "player: list members", err)
	}
	if len(members) == 0 {
		return nil
	}

	mappings, err := c.repo.ListMappings(ctx, models.ScopeGroup, groupID.String())
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "player: list mappings", err)
	}
	translated := pathmap.Translate(libraryPath, mappings)

	if group.Singleton() {
		return c.notifySingleton(ctx, members[0], translated)
	}
	return c.notifyUnlimited(ctx, group, members, translated)
}

// notifySingleton notifies the one member directly, retrying up to
// DefaultMaxRetries times with doubling backoff (spec §4.J.2).
func (c *Coordinator) notifySingleton(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	adapter := c.registry.Get(p.Kind)
	if adapter == nil {
		return apperr.New(apperr.KindValidation, "player: no adapter registered for "+string(p.Kind))
	}

	var lastErr error
	backoff := singletonBackoffBase
	for attempt := 0; attempt <= DefaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := adapter.TriggerScan(ctx, p, libraryPath); err != nil {
			lastErr = err
			c.logf("player: singleton scan attempt %d for %s failed: %v", attempt+1, p.Name, err)
			continue
		}
		return nil
	}
	return apperr.Wrap(apperr.KindTransient, "player: singleton notify exhausted retries", lastErr)
}

// notifyUnlimited probes every enabled member concurrently, selects a
// primary, and enqueues deferred updates for the rest (spec §4.J.3).
func (c *Coordinator) notifyUnlimited(ctx context.Context, group *models.PlayerGroup, members []models.MediaPlayer, libraryPath string) error {
	states := make(map[uuid.UUID]models.PlaybackState, len(members))
	var statesMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range members {
		if !m.Enabled {
			continue
		}
		member := m
		adapter := c.registry.Get(member.Kind)
		if adapter == nil {
			continue
		}
		g.Go(func() error {
			state, err := adapter.ProbePlayback(gctx, member)
			if err != nil {
				c.logf("player: probe %s failed: %v", member.Name, err)
				return nil
			}
			statesMu.Lock()
			states[member.ID] = state
			statesMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	primary, ok := selectPrimary(members, states)
	if !ok {
		return nil
	}

	for _, m := range members {
		if !m.Enabled {
			continue
		}
		state, probed := states[m.ID]
		isPrimary := m.ID == primary.ID

		if isPrimary {
			if probed && !state.Playing {
				adapter := c.registry.Get(m.Kind)
				if adapter != nil {
					if err := adapter.TriggerScan(ctx, m, libraryPath); err != nil {
						c.logf("player: immediate scan on primary %s failed: %v", m.Name, err)
					}
				}
				c.enqueueNotification(ctx, group.ID, m.ID, libraryPath)
				continue
			}
		}

		if isPrimary || (probed && state.Playing) {
			c.enqueueUpdate(ctx, group.ID, m.ID, models.UpdateScan, libraryPath)
		}
		c.enqueueNotification(ctx, group.ID, m.ID, libraryPath)
	}
	return nil
}

// selectPrimary picks the first idle member; failing that, the member
// with the smallest pending queue (spec §4.J.3.b).
func selectPrimary(members []models.MediaPlayer, states map[uuid.UUID]models.PlaybackState) (models.MediaPlayer, bool) {
	var best *models.MediaPlayer
	bestQueue := -1
	for i := range members {
		m := members[i]
		if !m.Enabled {
			continue
		}
		state, ok := states[m.ID]
		if !ok {
			continue
		}
		if !state.Playing {
			return m, true
		}
		if best == nil || state.QueueLength < bestQueue {
			mc := m
			best = &mc
			bestQueue = state.QueueLength
		}
	}
	if best != nil {
		return *best, true
	}
	return models.MediaPlayer{}, false
}

func (c *Coordinator) enqueueUpdate(ctx context.Context, groupID, playerID uuid.UUID, kind models.UpdateType, libraryPath string) {
	u := &models.PlayerUpdate{
		ID:           uuid.New(),
		PlayerID:     playerID,
		GroupID:      groupID,
		Type:         kind,
		LibraryPath:  libraryPath,
		State:        models.UpdateQueued,
		ScheduledFor: c.now(),
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    c.now(),
		UpdatedAt:    c.now(),
	}
	if err := c.repo.EnqueueUpdate(ctx, u); err != nil {
		c.logf("player: enqueue %s update for %s failed: %v", kind, playerID, err)
	}
}

// enqueueNotification enqueues a low-priority image-cache-rebuild
// update for every member (spec §4.J.3.e).
func (c *Coordinator) enqueueNotification(ctx context.Context, groupID, playerID uuid.UUID, libraryPath string) {
	c.enqueueUpdate(ctx, groupID, playerID, models.UpdateNotification, libraryPath)
}

// Kick signals the update-queue processor to run immediately, e.g. on
// a "playback stopped" event from a player (spec §4.J.4).
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// RunUpdateProcessor runs the periodic update-queue processor until
// ctx is cancelled or Stop is called (spec §4.J.4).
func (c *Coordinator) RunUpdateProcessor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.processDue(ctx)
		case <-c.kick:
			c.processDue(ctx)
		}
	}
}

// Stop halts RunUpdateProcessor and blocks until it has.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Coordinator) processDue(ctx context.Context) {
	due, err := c.repo.ListDueUpdates(ctx, c.now(), 100)
	if err != nil {
		c.logf("player: list due updates: %v", err)
		return
	}
	for i := range due {
		c.processOne(ctx, &due[i])
	}
}

// processOne re-probes the target player and either postpones,
// executes, or reschedules the update (spec §4.J.4).
func (c *Coordinator) processOne(ctx context.Context, u *models.PlayerUpdate) {
	members, err := c.repo.ListMembers(ctx, u.GroupID)
	if err != nil {
		c.logf("player: list members for update %s: %v", u.ID, err)
		return
	}
	var target *models.MediaPlayer
	for i := range members {
		if members[i].ID == u.PlayerID {
			target = &members[i]
			break
		}
	}
	if target == nil {
		_ = c.repo.DeleteUpdate(ctx, u.ID)
		return
	}
	adapter := c.registry.Get(target.Kind)
	if adapter == nil {
		_ = c.repo.DeleteUpdate(ctx, u.ID)
		return
	}

	state, probeErr := adapter.ProbePlayback(ctx, *target)
	if probeErr == nil && state.Playing && u.Type == models.UpdateScan {
		u.State = models.UpdateDeferred
		u.ScheduledFor = c.now().Add(DeferPostpone)
		u.UpdatedAt = c.now()
		if err := c.repo.SaveUpdate(ctx, u); err != nil {
			c.logf("player: postpone update %s: %v", u.ID, err)
		}
		return
	}

	u.State = models.UpdateExecuting
	u.UpdatedAt = c.now()
	_ = c.repo.SaveUpdate(ctx, u)

	var execErr error
	switch u.Type {
	case models.UpdateScan:
		execErr = adapter.TriggerScan(ctx, *target, u.LibraryPath)
	case models.UpdateNotification:
		execErr = adapter.RefreshImageCache(ctx, *target, u.LibraryPath)
	}

	if execErr == nil {
		u.State = models.UpdateDone
		u.UpdatedAt = c.now()
		if err := c.repo.DeleteUpdate(ctx, u.ID); err != nil {
			c.logf("player: delete completed update %s: %v", u.ID, err)
		}
		return
	}

	u.RetryCount++
	if u.RetryCount >= u.MaxRetries {
		u.State = models.UpdateFailed
		u.UpdatedAt = c.now()
		if err := c.repo.SaveUpdate(ctx, u); err != nil {
			c.logf("player: mark update %s failed: %v", u.ID, err)
		}
		return
	}
	backoff := time.Duration(1<<uint(u.RetryCount)) * time.Second
	u.State = models.UpdateQueued
	u.ScheduledFor = c.now().Add(backoff)
	u.UpdatedAt = c.now()
	if err := c.repo.SaveUpdate(ctx, u); err != nil {
		c.logf("player: reschedule update %s: %v", u.ID, err)
	}
}
