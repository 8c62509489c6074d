package providers

import (
	"context"
	"testing"

	"github.com/mediaforge/mediaforge/internal/models"
)

type fakeAdapter struct {
	name         string
	searchResult SearchResult
	fields       map[string]interface{}
	completeness float64
	assets       []AssetCandidateDraft
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() Capabilities {
	return Capabilities{ID: f.name, Priority: 1}
}
func (f *fakeAdapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]SearchResult, error) {
	return []SearchResult{f.searchResult}, nil
}
func (f *fakeAdapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (MetadataResponse, error) {
	return MetadataResponse{Fields: f.fields, Completeness: f.completeness}, nil
}
func (f *fakeAdapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]AssetCandidateDraft, error) {
	return f.assets, nil
}
func (f *fakeAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	return ConnectionStatus{OK: true}
}

func TestEnrich_PreferredFirstFillsGaps(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{
		name:         "tmdb",
		searchResult: SearchResult{ProviderResultID: "1", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "From TMDB"},
	})
	reg.Register(&fakeAdapter{
		name:         "tvdb",
		searchResult: SearchResult{ProviderResultID: "2", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "From TVDB", "plot": "From TVDB plot"},
	})
	orch := NewOrchestrator(reg, nil)

	res := orch.Enrich(context.Background(), models.StrategyPreferredFirst, []string{"tmdb", "tvdb"}, nil, models.KindMovie, "Movie", 2020, nil, nil)
	if res.Fields["title"] != "From TMDB" {
		t.Fatalf("expected preferred provider's title to win, got %v", res.Fields["title"])
	}
	if res.Fields["plot"] != "From TVDB plot" {
		t.Fatalf("expected gap-fill from tvdb for unset field, got %v", res.Fields["plot"])
	}
}

func TestEnrich_AggregateAllPicksHighestCompleteness(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{
		name:         "tmdb",
		searchResult: SearchResult{ProviderResultID: "1", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"plot": "short"},
		completeness: 0.4,
	})
	reg.Register(&fakeAdapter{
		name:         "tvdb",
		searchResult: SearchResult{ProviderResultID: "2", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"plot": "much longer and more complete plot"},
		completeness: 0.9,
	})
	orch := NewOrchestrator(reg, nil)

	res := orch.Enrich(context.Background(), models.StrategyAggregateAll, []string{"tmdb", "tvdb"}, nil, models.KindMovie, "Movie", 2020, nil, nil)
	if res.Fields["plot"] != "much longer and more complete plot" {
		t.Fatalf("expected higher-completeness provider to win, got %v", res.Fields["plot"])
	}
}

func TestEnrich_FieldMappingBindsExplicitly(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{
		name:         "tmdb",
		searchResult: SearchResult{ProviderResultID: "1", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "TMDB title", "plot": "TMDB plot"},
	})
	reg.Register(&fakeAdapter{
		name:         "tvdb",
		searchResult: SearchResult{ProviderResultID: "2", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "TVDB title", "plot": "TVDB plot"},
	})
	orch := NewOrchestrator(reg, nil)
	mapping := FieldMapping{"title": "tvdb", "plot": "tmdb"}

	res := orch.Enrich(context.Background(), models.StrategyFieldMapping, []string{"tmdb", "tvdb"}, mapping, models.KindMovie, "Movie", 2020, nil, nil)
	if res.Fields["title"] != "TVDB title" {
		t.Fatalf("expected title bound to tvdb, got %v", res.Fields["title"])
	}
	if res.Fields["plot"] != "TMDB plot" {
		t.Fatalf("expected plot bound to tmdb, got %v", res.Fields["plot"])
	}
}

func TestEnrich_AggregatesAssetsFromAllProvidersRegardlessOfStrategy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{
		name:         "tmdb",
		searchResult: SearchResult{ProviderResultID: "1", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "T"},
		assets:       []AssetCandidateDraft{{AssetType: models.AssetPoster, SourceURL: "tmdb-poster"}},
	})
	reg.Register(&fakeAdapter{
		name:         "fanarttv",
		searchResult: SearchResult{ProviderResultID: "2", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{},
		assets:       []AssetCandidateDraft{{AssetType: models.AssetPoster, SourceURL: "fanarttv-poster"}},
	})
	orch := NewOrchestrator(reg, nil)

	res := orch.Enrich(context.Background(), models.StrategyPreferredFirst, []string{"tmdb", "fanarttv"}, nil, models.KindMovie, "Movie", 2020, nil, []models.AssetType{models.AssetPoster})
	if len(res.Assets) != 2 {
		t.Fatalf("expected assets from both providers, got %d: %+v", len(res.Assets), res.Assets)
	}
}

func TestEnrich_SkipsFailingProviderButKeepsOthers(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&failingAdapter{name: "broken"})
	reg.Register(&fakeAdapter{
		name:         "tmdb",
		searchResult: SearchResult{ProviderResultID: "1", Title: "Movie", Confidence: 0.9},
		fields:       map[string]interface{}{"title": "T"},
	})
	orch := NewOrchestrator(reg, nil)

	res := orch.Enrich(context.Background(), models.StrategyPreferredFirst, []string{"broken", "tmdb"}, nil, models.KindMovie, "Movie", 2020, nil, nil)
	if res.Fields["title"] != "T" {
		t.Fatalf("expected surviving provider's field despite the other's failure, got %+v", res.Fields)
	}
}

type failingAdapter struct{ name string }

func (f *failingAdapter) Name() string               { return f.name }
func (f *failingAdapter) Capabilities() Capabilities  { return Capabilities{ID: f.name} }
func (f *failingAdapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]SearchResult, error) {
	return nil, errBroken
}
func (f *failingAdapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (MetadataResponse, error) {
	return MetadataResponse{}, errBroken
}
func (f *failingAdapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]AssetCandidateDraft, error) {
	return nil, errBroken
}
func (f *failingAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	return ConnectionStatus{OK: false, Message: "broken"}
}

var errBroken = &brokenErr{}

type brokenErr struct{}

func (e *brokenErr) Error() string { return "broken provider" }
