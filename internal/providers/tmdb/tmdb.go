// Package tmdb adapts themoviedb.org to the providers.Adapter
// interface (spec §4.D). Grounded on the teacher's
// internal/metadata/scraper_tmdb.go TMDBScraper: same search endpoint
// shape, same title/original-title confidence scoring and
// top-3-relevance boost, same release-date-to-year parsing. Rewritten
// against internal/httpclient.Client instead of a bare *http.Client so
// TMDB calls share the rate-limit/circuit-breaker/retry policy of
// every other provider.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/providers"
)

const baseURL = "https://api.themoviedb.org/3"

// posterPrefix is TMDB's fixed image CDN prefix at w500 resolution.
const posterPrefix = "https://image.tmdb.org/t/p/w500"
const backdropPrefix = "https://image.tmdb.org/t/p/original"

// Adapter implements providers.Adapter for TMDB.
type Adapter struct {
	apiKey string
	client *httpclient.Client
}

// New constructs a TMDB Adapter. client should already be configured
// with TMDB's documented rate limit (spec §4.C).
func New(apiKey string, client *httpclient.Client) *Adapter {
	return &Adapter{apiKey: apiKey, client: client}
}

func (a *Adapter) Name() string { return "tmdb" }

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		ID:          "tmdb",
		EntityTypes: []models.MediaItemKind{models.KindMovie, models.KindSeries, models.KindSeason, models.KindEpisode},
		AssetTypes: map[models.MediaItemKind][]models.AssetType{
			models.KindMovie:  {models.AssetPoster, models.AssetFanart},
			models.KindSeries: {models.AssetPoster, models.AssetFanart, models.AssetSeasonPoster},
		},
		MetadataFields: map[models.MediaItemKind][]string{
			models.KindMovie: {"title", "plot", "year", "genres", "rating"},
		},
		RequiresAuth: true,
		Priority:     0.8,
	}
}

type searchResponse struct {
	Results []struct {
		ID            int     `json:"id"`
		Title         string  `json:"title"`
		Name          string  `json:"name"`
		OriginalTitle string  `json:"original_title"`
		OriginalName  string  `json:"original_name"`
		Overview      string  `json:"overview"`
		PosterPath    string  `json:"poster_path"`
		BackdropPath  string  `json:"backdrop_path"`
		ReleaseDate   string  `json:"release_date"`
		FirstAirDate  string  `json:"first_air_date"`
		VoteAverage   float64 `json:"vote_average"`
		VoteCount     int     `json:"vote_count"`
	} `json:"results"`
}

func (a *Adapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]providers.SearchResult, error) {
	if a.apiKey == "" {
		return nil, apperr.New(apperr.KindAuthConfig, "tmdb: api key not configured")
	}

	results, err := a.search(ctx, query, year)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && year != 0 {
		// Fallback: the title may not exactly match the release year
		// TMDB records (e.g. festival vs. wide release).
		results, err = a.search(ctx, query, 0)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (a *Adapter) search(ctx context.Context, query string, year int) ([]providers.SearchResult, error) {
	reqURL := fmt.Sprintf("%s/search/movie?api_key=%s&query=%s", baseURL, url.QueryEscape(a.apiKey), url.QueryEscape(query))
	if year != 0 {
		reqURL += fmt.Sprintf("&year=%d", year)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "tmdb: decoding search response", err)
	}

	out := make([]providers.SearchResult, 0, len(body.Results))
	for i, r := range body.Results {
		title := r.Title
		if title == "" {
			title = r.Name
		}
		origTitle := r.OriginalTitle
		if origTitle == "" {
			origTitle = r.OriginalName
		}
		dateStr := r.ReleaseDate
		if dateStr == "" {
			dateStr = r.FirstAirDate
		}
		resultYear := 0
		if len(dateStr) >= 4 {
			if y, err := strconv.Atoi(dateStr[:4]); err == nil {
				resultYear = y
			}
		}

		conf := titleSimilarity(query, title)
		if origTitle != "" && origTitle != title {
			if origConf := titleSimilarity(query, origTitle); origConf > conf {
				conf = origConf
			}
		}
		// TMDB returns results in relevance order; small boost for the
		// first few so an exact-but-lower-similarity early hit still wins.
		if i < 3 {
			conf += 0.05 * float64(3-i) / 3.0
			if conf > 1.0 {
				conf = 1.0
			}
		}

		out = append(out, providers.SearchResult{
			ProviderResultID: strconv.Itoa(r.ID),
			Title:            title,
			Year:             resultYear,
			Confidence:       conf,
		})
	}
	return out, nil
}

type detailsResponse struct {
	Overview    string  `json:"overview"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

func (a *Adapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (providers.MetadataResponse, error) {
	reqURL := fmt.Sprintf("%s/movie/%s?api_key=%s", baseURL, providerResultID, url.QueryEscape(a.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return providers.MetadataResponse{}, err
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return providers.MetadataResponse{}, err
	}
	defer resp.Body.Close()

	var body detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return providers.MetadataResponse{}, apperr.Wrap(apperr.KindTransient, "tmdb: decoding details response", err)
	}

	fields := map[string]interface{}{}
	present := 0
	total := 4
	if body.Overview != "" {
		fields["plot"] = body.Overview
		present++
	}
	if len(body.ReleaseDate) >= 4 {
		fields["year"] = body.ReleaseDate[:4]
		present++
	}
	if len(body.Genres) > 0 {
		genres := make([]string, len(body.Genres))
		for i, g := range body.Genres {
			genres[i] = g.Name
		}
		fields["genres"] = genres
		present++
	}
	if body.VoteCount > 0 {
		fields["rating"] = body.VoteAverage
		present++
	}

	return providers.MetadataResponse{
		Fields:       fields,
		Completeness: float64(present) / float64(total),
	}, nil
}

func (a *Adapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]providers.AssetCandidateDraft, error) {
	reqURL := fmt.Sprintf("%s/movie/%s/images?api_key=%s", baseURL, providerResultID, url.QueryEscape(a.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Posters []tmdbImage `json:"posters"`
		Backdrops []tmdbImage `json:"backdrops"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "tmdb: decoding images response", err)
	}

	want := map[models.AssetType]bool{}
	for _, t := range assetTypes {
		want[t] = true
	}

	var out []providers.AssetCandidateDraft
	if len(want) == 0 || want[models.AssetPoster] {
		for _, img := range body.Posters {
			out = append(out, toCandidate(models.AssetPoster, posterPrefix, img))
		}
	}
	if len(want) == 0 || want[models.AssetFanart] {
		for _, img := range body.Backdrops {
			out = append(out, toCandidate(models.AssetFanart, backdropPrefix, img))
		}
	}
	return out, nil
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Language    string  `json:"iso_639_1"`
}

func toCandidate(assetType models.AssetType, prefix string, img tmdbImage) providers.AssetCandidateDraft {
	return providers.AssetCandidateDraft{
		AssetType:   assetType,
		SourceURL:   prefix + img.FilePath,
		Width:       img.Width,
		Height:      img.Height,
		Language:    img.Language,
		VoteCount:   img.VoteCount,
		VoteAverage: img.VoteAverage,
	}
}

func (a *Adapter) TestConnection(ctx context.Context) providers.ConnectionStatus {
	if a.apiKey == "" {
		return providers.ConnectionStatus{OK: false, Message: "api key not configured"}
	}
	reqURL := fmt.Sprintf("%s/configuration?api_key=%s", baseURL, url.QueryEscape(a.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return providers.ConnectionStatus{OK: false, Message: err.Error()}
	}
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return providers.ConnectionStatus{OK: false, Message: err.Error()}
	}
	resp.Body.Close()
	return providers.ConnectionStatus{OK: true, Message: "connected"}
}

// titleSimilarity scores word-overlap and substring containment
// between query and candidate, in [0,1]. Grounded on the teacher's
// internal/metadata/scraper.go titleSimilarity.
func titleSimilarity(query, candidate string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	c := strings.ToLower(strings.TrimSpace(candidate))
	if q == c {
		return 1.0
	}
	if strings.Contains(c, q) || strings.Contains(q, c) {
		return 0.85
	}

	qWords := strings.Fields(q)
	cWords := strings.Fields(c)
	if len(qWords) == 0 || len(cWords) == 0 {
		return 0
	}
	cSet := make(map[string]bool, len(cWords))
	for _, w := range cWords {
		cSet[w] = true
	}
	matches := 0
	for _, w := range qWords {
		if cSet[w] {
			matches++
		}
	}
	return float64(matches) / float64(len(qWords))
}
