// Package local adapts files already sitting beside a media item
// (poster.jpg, fanart.jpg, ...) to the providers.Adapter interface, so
// the Scoring Engine can weigh "keep the file that's already there"
// against downloaded candidates using the same P-term table as every
// other provider (spec §4.G step 2, local=0.5). There is no teacher
// analogue for this adapter — CineVault has no equivalent "provider";
// it is written in the naming-convention style the teacher's
// internal/media package uses for classifying files by extension.
package local

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/providers"
)

// conventionalNames maps an asset type to the Kodi-style filenames
// that represent it locally (spec §4.H "Filenames follow media-type
// conventions").
var conventionalNames = map[models.AssetType][]string{
	models.AssetPoster:    {"poster.jpg", "poster.png", "folder.jpg"},
	models.AssetFanart:    {"fanart.jpg", "fanart.png"},
	models.AssetBanner:    {"banner.jpg", "banner.png"},
	models.AssetClearArt:  {"clearart.png"},
	models.AssetClearLogo: {"clearlogo.png"},
	models.AssetThumb:     {"thumb.jpg", "thumb.png"},
	models.AssetDiscArt:   {"discart.png"},
}

// Adapter treats a media item's own directory as its "provider
// result": Search just confirms the directory exists, GetAssets lists
// whatever conventional files are present.
type Adapter struct{}

// New constructs a local Adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "local" }

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		ID:          "local",
		EntityTypes: []models.MediaItemKind{models.KindMovie, models.KindSeries, models.KindEpisode, models.KindAlbum},
		AssetTypes: map[models.MediaItemKind][]models.AssetType{
			models.KindMovie: {models.AssetPoster, models.AssetFanart, models.AssetBanner, models.AssetClearArt, models.AssetClearLogo, models.AssetThumb, models.AssetDiscArt},
		},
		RequiresAuth: false,
		Priority:     0.5,
	}
}

// Search treats query as a directory path and confirms it exists.
func (a *Adapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]providers.SearchResult, error) {
	if _, err := os.Stat(query); err != nil {
		return nil, nil
	}
	return []providers.SearchResult{{ProviderResultID: query, Title: filepath.Base(query), Year: year, Confidence: 1.0}}, nil
}

// GetMetadata is a no-op: local files carry no textual metadata
// beyond what the directory scan already extracted from an NFO.
func (a *Adapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (providers.MetadataResponse, error) {
	return providers.MetadataResponse{Fields: map[string]interface{}{}, Completeness: 0}, nil
}

// GetAssets lists conventionally-named files present in the
// directory named by providerResultID.
func (a *Adapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]providers.AssetCandidateDraft, error) {
	want := map[models.AssetType]bool{}
	for _, t := range assetTypes {
		want[t] = true
	}

	var out []providers.AssetCandidateDraft
	for assetType, names := range conventionalNames {
		if len(want) > 0 && !want[assetType] {
			continue
		}
		for _, name := range names {
			path := filepath.Join(providerResultID, name)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			w, h := probeDimensions(path)
			out = append(out, providers.AssetCandidateDraft{
				AssetType: assetType,
				SourceURL: path,
				Width:     w,
				Height:    h,
			})
			break
		}
	}
	return out, nil
}

// TestConnection always succeeds: there is no remote endpoint.
func (a *Adapter) TestConnection(ctx context.Context) providers.ConnectionStatus {
	return providers.ConnectionStatus{OK: true, Message: "local filesystem"}
}

func probeDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// IsKnownAssetFilename reports whether name matches a conventional
// asset filename, used by the directory scanner to route local images
// into cache-asset jobs (spec §4.F Phase 2 step 4) rather than
// UnknownFile entries.
func IsKnownAssetFilename(name string) bool {
	lower := strings.ToLower(name)
	for _, names := range conventionalNames {
		for _, n := range names {
			if n == lower {
				return true
			}
		}
	}
	return false
}
