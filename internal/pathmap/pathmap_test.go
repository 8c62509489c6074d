package pathmap

import (
	"testing"

	"github.com/mediaforge/mediaforge/internal/models"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"/downloads/movies/":  "/downloads/movies",
		`C:\downloads\movies`: "/C:/downloads/movies",
		"downloads/movies":    "/downloads/movies",
		"/":                   "/",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslate_EmptyMappingsIsIdentity(t *testing.T) {
	got := Translate("/downloads/movies/M/m.mkv", nil)
	if got != "/downloads/movies/M/m.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestTranslate_LongestPrefixWins(t *testing.T) {
	mappings := []models.PathMapping{
		{SourcePrefix: "/downloads", TargetPrefix: "/data"},
		{SourcePrefix: "/downloads/movies", TargetPrefix: "/data/movies"},
	}
	got := Translate("/downloads/movies/M/m.mkv", mappings)
	want := "/data/movies/M/m.mkv"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTranslate_NoMatchReturnsNormalizedInput(t *testing.T) {
	mappings := []models.PathMapping{
		{SourcePrefix: "/tv", TargetPrefix: "/data/tv"},
	}
	got := Translate("/downloads/movies/m.mkv", mappings)
	if got != "/downloads/movies/m.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterByScope(t *testing.T) {
	mappings := []models.PathMapping{
		{Scope: models.ScopeManager, ScopeKey: "radarr", SourcePrefix: "/downloads/movies", TargetPrefix: "/data/movies"},
		{Scope: models.ScopeGroup, ScopeKey: "living-room", SourcePrefix: "/data", TargetPrefix: "/mnt/media"},
	}
	radarr := FilterByScope(mappings, models.ScopeManager, "radarr")
	if len(radarr) != 1 || radarr[0].ScopeKey != "radarr" {
		t.Fatalf("unexpected filter result: %+v", radarr)
	}
}
