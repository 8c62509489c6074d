package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/db"
	"github.com/mediaforge/mediaforge/internal/eventbus"
	"github.com/mediaforge/mediaforge/internal/fieldlock"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/jobs"
	"github.com/mediaforge/mediaforge/internal/logging"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/player"
	"github.com/mediaforge/mediaforge/internal/player/jellyfin"
	"github.com/mediaforge/mediaforge/internal/player/kodi"
	"github.com/mediaforge/mediaforge/internal/player/plex"
	"github.com/mediaforge/mediaforge/internal/probe"
	"github.com/mediaforge/mediaforge/internal/providers"
	"github.com/mediaforge/mediaforge/internal/providers/fanarttv"
	"github.com/mediaforge/mediaforge/internal/providers/local"
	"github.com/mediaforge/mediaforge/internal/providers/musicbrainz"
	"github.com/mediaforge/mediaforge/internal/providers/tmdb"
	"github.com/mediaforge/mediaforge/internal/providers/tvdb"
	"github.com/mediaforge/mediaforge/internal/publish"
	"github.com/mediaforge/mediaforge/internal/scanpipeline"
	"github.com/mediaforge/mediaforge/internal/scheduler"
	"github.com/mediaforge/mediaforge/internal/settings"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/internal/verifier"
	"github.com/mediaforge/mediaforge/internal/version"
	"github.com/mediaforge/mediaforge/internal/webhook"
)

const bannerArt = `
  __  __          _ _       ______
 |  \/  |        | (_)     |  ____|
 | \  / | ___  __| |_  __ _| |__ ___  _ __ __ _  ___
 | |\/| |/ _ \/ _' | |/ _' |  __/ _ \| '__/ _' |/ _ \
 | |  | |  __/ (_| | | (_| | | | (_) | | | (_| |  __/
 |_|  |_|\___|\__,_|_|\__,_|_|  \___/|_|  \__, |\___|
                                           __/ |
                                          |___/
`

// assetTypes enumerates every artwork/trailer/subtitle kind the
// publish handler needs to select and write.
var assetTypes = []models.AssetType{
	models.AssetPoster, models.AssetFanart, models.AssetBanner,
	models.AssetClearArt, models.AssetClearLogo, models.AssetThumb,
	models.AssetDiscArt, models.AssetSeasonPoster, models.AssetTrailer,
	models.AssetSubtitle,
}

func main() {
	v := version.Load()
	fmt.Println(bannerArt)
	fmt.Printf("  Automated Media Metadata Enhancement Service\n  Version %s\n\n", v.Version)

	logger := logging.New("main").Logger

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Println("database connected")

	if err := db.Migrate(database, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := store.New(database)

	settingsRepo := settings.NewRepository(database)
	cfg.MergeFromDB(settingsRepo)

	bus := eventbus.New(eventbus.DropOldest)

	redisAddr := env("REDIS_ADDR", "redis:6379")
	dispatcher := jobs.NewDispatcher(repo, jobs.DefaultConfig(redisAddr), logging.New("jobs").Logger)

	mediaCache := cache.New(cfg.DataDir, repo, time.Duration(cfg.CacheGraceDays)*24*time.Hour)
	prober := probe.New(env("FFPROBE_PATH", "ffprobe"))
	arbiter := fieldlock.New(logging.New("fieldlock").Logger)

	assetClient := httpclient.New("assets", httpclient.Config{
		RequestsPerSecond:       cfg.ProviderRateLimitPerSec,
		Burst:                   cfg.ProviderRateBurst,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, logging.New("httpclient.assets").Logger)

	tmdbClient := httpclient.New("tmdb", httpclient.Config{
		RequestsPerSecond:       cfg.ProviderRateLimitPerSec,
		Burst:                   cfg.ProviderRateBurst,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, logging.New("httpclient.tmdb").Logger)

	tvdbClient := httpclient.New("tvdb", httpclient.Config{
		RequestsPerSecond:       cfg.ProviderRateLimitPerSec,
		Burst:                   cfg.ProviderRateBurst,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, logging.New("httpclient.tvdb").Logger)

	fanartClient := httpclient.New("fanarttv", httpclient.Config{
		RequestsPerSecond:       cfg.ProviderRateLimitPerSec,
		Burst:                   cfg.ProviderRateBurst,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, logging.New("httpclient.fanarttv").Logger)

	musicbrainzClient := httpclient.New("musicbrainz", httpclient.Config{
		RequestsPerSecond:       1,
		Burst:                   1,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, logging.New("httpclient.musicbrainz").Logger)

	providerRegistry := providers.NewRegistry()
	providerRegistry.Register(local.New())
	providerRegistry.Register(tmdb.New(cfg.TMDBAPIKey, tmdbClient))
	providerRegistry.Register(tvdb.New(cfg.TVDBAPIKey, tvdbClient))
	providerRegistry.Register(fanarttv.New(cfg.FanartTVAPIKey, fanartClient))
	providerRegistry.Register(musicbrainz.New(musicbrainzClient))
	orchestrator := providers.NewOrchestrator(providerRegistry, logging.New("providers").Logger)

	pipeline := scanpipeline.New(repo, dispatcher, mediaCache, prober, orchestrator, arbiter, assetClient, logging.New("scanpipeline").Logger)

	publishEngine := publish.New(mediaCache, repo, publish.MovieNFO, publish.DefaultConcurrency, logging.New("publish").Logger)

	playerRegistry := player.NewRegistry()
	kodiClient := httpclient.New("kodi", httpclient.DefaultConfig(), logging.New("httpclient.kodi").Logger)
	jellyfinClient := httpclient.New("jellyfin", httpclient.DefaultConfig(), logging.New("httpclient.jellyfin").Logger)
	plexClient := httpclient.New("plex", httpclient.DefaultConfig(), logging.New("httpclient.plex").Logger)
	playerRegistry.Register(kodi.New(kodiClient))
	playerRegistry.Register(jellyfin.New(jellyfinClient))
	playerRegistry.Register(plex.New(plexClient))
	coordinator := player.New(repo, playerRegistry, logging.New("player").Logger)

	webhookHandler := webhook.New(repo, dispatcher, time.Duration(cfg.DeleteGraceDays)*24*time.Hour, logging.New("webhook").Logger)

	verifierEngine := verifier.New(repo, mediaCache, dispatcher, logging.New("verifier").Logger)

	scanScheduler := scheduler.New(repo, dispatcher, logging.New("scheduler").Logger)

	dispatcher.RegisterHandler(jobs.TypeLibraryScan, pipeline.HandleLibraryScan)
	dispatcher.RegisterHandler(jobs.TypeDirectoryScan, pipeline.HandleDirectoryScan)
	dispatcher.RegisterHandler(jobs.TypeCacheAsset, pipeline.HandleCacheAsset)
	dispatcher.RegisterHandler(jobs.TypeEnrichMetadata, pipeline.HandleEnrichMetadata)
	dispatcher.RegisterHandler(jobs.TypeDownloadAsset, pipeline.HandleDownloadAsset)
	dispatcher.RegisterHandler(jobs.TypeWebhookReceived, webhookHandler.HandleReceived)
	dispatcher.RegisterHandler(jobs.TypeVerify, verifierEngine.HandleVerify)
	dispatcher.RegisterHandler(jobs.TypePublish, publishHandler(repo, publishEngine, logger))
	dispatcher.RegisterHandler(jobs.TypeNotifyGroup, notifyGroupHandler(coordinator, bus, logger))
	dispatcher.RegisterHandler(jobs.TypeGarbageCollect, garbageCollectHandler(mediaCache, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("dispatcher stopped with error: %v", err)
		}
	}()
	defer dispatcher.Stop()

	scanScheduler.Start(ctx)
	defer scanScheduler.Stop()

	go coordinator.RunUpdateProcessor(ctx, player.DefaultUpdateInterval)

	logger.Println("mediaforge running, press ctrl-c to stop")
	<-ctx.Done()
	logger.Println("shutting down")
}

// publishHandler adapts publish.Engine's Publish method to the
// jobs.Handler shape: load the item, gather the candidates scoring
// already marked selected-and-downloaded per asset type, and hand the
// winners to Publish (spec §4.H step 1 "triggered once scoring settles
// on a winner per slot"). The media item's directory doubles as the
// publish destination, matching the library layout scanpipeline walks.
func publishHandler(repo *store.Store, engine *publish.Engine, logger *log.Logger) jobs.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var payload jobs.PublishPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}

		item, err := repo.GetMediaItem(ctx, payload.MediaItemID)
		if err != nil {
			return err
		}

		var selected []models.AssetCandidate
		for _, at := range assetTypes {
			candidates, err := repo.ListAssetCandidates(ctx, item.ID, at)
			if err != nil {
				return err
			}
			for _, c := range candidates {
				if c.IsSelected && c.IsDownloaded {
					selected = append(selected, c)
				}
			}
		}

		if err := engine.AcquireSlot(ctx); err != nil {
			return err
		}
		defer engine.ReleaseSlot()

		_, err = engine.Publish(ctx, item, selected, item.Path, []string{"title"})
		if err != nil {
			logger.Printf("publish: %s failed: %v", item.ID, err)
		}
		return err
	}
}

func notifyGroupHandler(coordinator *player.Coordinator, bus *eventbus.Bus, logger *log.Logger) jobs.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var payload jobs.NotifyGroupPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		if err := coordinator.Notify(ctx, payload.GroupID, payload.LibraryPath); err != nil {
			return err
		}
		bus.Publish("notify:group", payload)
		return nil
	}
}

func garbageCollectHandler(c *cache.Cache, logger *log.Logger) jobs.Handler {
	return func(ctx context.Context, job *models.Job) error {
		deleted, err := c.GarbageCollect(ctx)
		if err != nil {
			return err
		}
		logger.Printf("gc: removed %d orphaned cache entries", deleted)
		return nil
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
