package scoring

import (
	"testing"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/models"
)

func candidate(provider string, w, h int, votes int, avg float64, lang, url string) models.AssetCandidate {
	return models.AssetCandidate{
		ID:          uuid.New(),
		Provider:    provider,
		Width:       w,
		Height:      h,
		VoteCount:   votes,
		VoteAverage: avg,
		Language:    lang,
		SourceURL:   url,
	}
}

func baseConfig() Config {
	return Config{
		Weights:  models.DefaultScoringWeights(),
		MinWidth: 500, MinHeight: 500,
		PreferredLanguage: "en",
		DedupThreshold:    0.92,
		MaxCount:          1,
		Mode:              models.AutomationYOLO,
	}
}

func TestSelect_FiltersBelowMinimums(t *testing.T) {
	candidates := []models.AssetCandidate{
		candidate("tmdb", 200, 300, 50, 8, "en", "a"),
		candidate("tmdb", 2000, 3000, 50, 8, "en", "b"),
	}
	res := Select(candidates, models.AssetPoster, baseConfig(), nil)
	if len(res.Selected) != 1 || res.Selected[0].SourceURL != "b" {
		t.Fatalf("expected only the large candidate selected, got %+v", res.Selected)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("expected 1 rejected for failing minimums, got %d", len(res.Rejected))
	}
}

func TestSelect_BlacklistExcludesCandidate(t *testing.T) {
	candidates := []models.AssetCandidate{
		candidate("fanarttv", 2000, 3000, 100, 9, "en", "blacklisted"),
		candidate("tmdb", 1800, 2700, 50, 7, "en", "ok"),
	}
	blacklist := func(provider, url string) bool { return url == "blacklisted" }
	res := Select(candidates, models.AssetPoster, baseConfig(), blacklist)
	if len(res.Selected) != 1 || res.Selected[0].SourceURL != "ok" {
		t.Fatalf("expected blacklisted candidate excluded, got %+v", res.Selected)
	}
}

func TestSelect_PrefersHigherQualityProviderAndVotes(t *testing.T) {
	candidates := []models.AssetCandidate{
		candidate("local", 2000, 3000, 10, 5, "en", "local-one"),
		candidate("fanarttv", 2000, 3000, 500, 9.5, "en", "fanart-one"),
	}
	cfg := baseConfig()
	cfg.MaxCount = 2
	res := Select(candidates, models.AssetPoster, cfg, nil)
	if len(res.Selected) != 2 {
		t.Fatalf("expected both to survive, got %d", len(res.Selected))
	}
	if res.Selected[0].SourceURL != "fanart-one" {
		t.Fatalf("expected fanart.tv candidate to score higher and sort first, got %+v", res.Selected[0])
	}
}

func TestSelect_ManualModeDoesNotMarkSelected(t *testing.T) {
	candidates := []models.AssetCandidate{
		candidate("tmdb", 2000, 3000, 100, 8, "en", "a"),
	}
	cfg := baseConfig()
	cfg.Mode = models.AutomationManual
	res := Select(candidates, models.AssetPoster, cfg, nil)
	if len(res.Selected) != 1 {
		t.Fatalf("expected scoring to still run in manual mode, got %d", len(res.Selected))
	}
	if res.Selected[0].IsSelected {
		t.Fatal("manual mode must not mark candidates as selected")
	}
}

func TestSelect_DedupeKeepsHigherScoredOfNearDuplicates(t *testing.T) {
	hashA := "00000000000000ff"
	hashB := "00000000000000fe" // 1 bit off: near-duplicate at 0.92 threshold
	candidates := []models.AssetCandidate{
		{ID: uuid.New(), Provider: "fanarttv", Width: 2000, Height: 3000, VoteCount: 500, VoteAverage: 9, SourceURL: "best", PerceptualHash: &hashA},
		{ID: uuid.New(), Provider: "tmdb", Width: 2000, Height: 3000, VoteCount: 10, VoteAverage: 5, SourceURL: "dup", PerceptualHash: &hashB},
	}
	cfg := baseConfig()
	cfg.MaxCount = 5
	res := Select(candidates, models.AssetPoster, cfg, nil)
	if len(res.Selected) != 1 {
		t.Fatalf("expected near-duplicate to be deduped away, got %d: %+v", len(res.Selected), res.Selected)
	}
	if res.Selected[0].SourceURL != "best" {
		t.Fatalf("expected the higher-scored candidate to survive dedup, got %+v", res.Selected[0])
	}
}

func TestSelect_MaxCountCapsSelection(t *testing.T) {
	candidates := []models.AssetCandidate{
		candidate("tmdb", 2000, 3000, 100, 8, "en", "a"),
		candidate("fanarttv", 1900, 2900, 90, 7, "en", "b"),
		candidate("tvdb", 1800, 2800, 80, 6, "en", "c"),
	}
	cfg := baseConfig()
	cfg.MaxCount = 2
	res := Select(candidates, models.AssetFanart, cfg, nil)
	if len(res.Selected) != 2 {
		t.Fatalf("expected max_count=2 to cap selection, got %d", len(res.Selected))
	}
}
