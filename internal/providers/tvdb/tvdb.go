// Package tvdb adapts TheTVDB.com v4 API to the providers.Adapter
// interface (spec §4.D), for series/season/episode metadata. Grounded
// on the teacher's internal/metadata/scraper_tvdb.go TVDBScraper: same
// JWT login-then-bearer auth flow, same /search and /series/{id}/extended
// endpoints, same tvdb_id/objectID external-ID fallback. Rewritten
// against internal/httpclient.Client so TVDB calls share the rate-limit/
// circuit-breaker/retry policy of every other provider, and the JWT is
// fetched lazily on first use and cached on the Adapter; a cached token
// is not refreshed.
package tvdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/providers"
)

const baseURL = "https://api4.thetvdb.com/v4"

// Adapter implements providers.Adapter for TheTVDB.
type Adapter struct {
	apiKey string
	client *httpclient.Client

	mu    sync.Mutex
	token string
}

// New constructs a TVDB Adapter. client should already be configured
// with TVDB's documented rate limit (spec §4.C).
func New(apiKey string, client *httpclient.Client) *Adapter {
	return &Adapter{apiKey: apiKey, client: client}
}

func (a *Adapter) Name() string { return "tvdb" }

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		ID:          "tvdb",
		EntityTypes: []models.MediaItemKind{models.KindSeries, models.KindSeason, models.KindEpisode},
		AssetTypes: map[models.MediaItemKind][]models.AssetType{
			models.KindSeries: {models.AssetPoster, models.AssetFanart, models.AssetBanner},
		},
		MetadataFields: map[models.MediaItemKind][]string{
			models.KindSeries: {"title", "plot", "year", "genres"},
		},
		RequiresAuth: true,
		Priority:     0.7,
	}
}

// authenticate obtains and caches a bearer token. Grounded on the
// teacher's authenticate()/tvdbRequest split; here the token is held on
// the Adapter instead of a scraper re-created per scan.
func (a *Adapter) authenticate(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" {
		return a.token, nil
	}
	if a.apiKey == "" {
		return "", apperr.New(apperr.KindAuthConfig, "tvdb: api key not configured")
	}

	payload := fmt.Sprintf(`{"apikey":%q}`, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/login", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(payload)), nil
	}

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "tvdb: decoding login response", err)
	}
	a.token = result.Data.Token
	return a.token, nil
}

func (a *Adapter) authedRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return a.client.Do(ctx, req)
}

func (a *Adapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]providers.SearchResult, error) {
	endpoint := fmt.Sprintf("/search?query=%s&type=series", url.QueryEscape(query))
	if year != 0 {
		endpoint += fmt.Sprintf("&year=%d", year)
	}

	resp, err := a.authedRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			TVDBID   string `json:"tvdb_id"`
			ObjectID string `json:"objectID"`
			Name     string `json:"name"`
			Year     string `json:"year"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "tvdb: decoding search response", err)
	}

	out := make([]providers.SearchResult, 0, len(result.Data))
	for _, r := range result.Data {
		externalID := r.TVDBID
		if externalID == "" {
			externalID = r.ObjectID
		}
		if externalID == "" {
			continue
		}
		resultYear, _ := strconv.Atoi(r.Year)
		out = append(out, providers.SearchResult{
			ProviderResultID: externalID,
			Title:            r.Name,
			Year:             resultYear,
			Confidence:       titleSimilarity(query, r.Name),
		})
	}
	return out, nil
}

func (a *Adapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (providers.MetadataResponse, error) {
	resp, err := a.authedRequest(ctx, fmt.Sprintf("/series/%s/extended", providerResultID))
	if err != nil {
		return providers.MetadataResponse{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Name     string `json:"name"`
			Overview string `json:"overview"`
			Year     string `json:"year"`
			Genres   []struct {
				Name string `json:"name"`
			} `json:"genres"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.MetadataResponse{}, apperr.Wrap(apperr.KindTransient, "tvdb: decoding details response", err)
	}

	r := result.Data
	fields := map[string]interface{}{}
	present := 0
	total := 3
	if r.Overview != "" {
		fields["plot"] = r.Overview
		present++
	}
	if r.Year != "" {
		fields["year"] = r.Year
		present++
	}
	if len(r.Genres) > 0 {
		genres := make([]string, len(r.Genres))
		for i, g := range r.Genres {
			genres[i] = g.Name
		}
		fields["genres"] = genres
		present++
	}

	return providers.MetadataResponse{
		Fields:       fields,
		Completeness: float64(present) / float64(total),
	}, nil
}

// GetAssets returns no candidates directly; TVDB series artwork is
// thin compared to fanart.tv's dedicated collection, so this adapter
// only supplies metadata (spec §4.D "asset candidates are always
// aggregated from every enabled provider" tolerates a provider
// contributing none).
func (a *Adapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]providers.AssetCandidateDraft, error) {
	return nil, nil
}

func (a *Adapter) TestConnection(ctx context.Context) providers.ConnectionStatus {
	if a.apiKey == "" {
		return providers.ConnectionStatus{OK: false, Message: "api key not configured"}
	}
	if _, err := a.authenticate(ctx); err != nil {
		return providers.ConnectionStatus{OK: false, Message: err.Error()}
	}
	return providers.ConnectionStatus{OK: true, Message: "connected"}
}

// titleSimilarity mirrors tmdb's word-overlap/substring scorer so every
// adapter ranks matches on the same scale.
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
