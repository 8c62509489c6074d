// Package fanarttv adapts fanart.tv to the providers.Adapter interface
// (spec §4.D), an asset-only provider that supplements poster/fanart
// with the clearlogo/clearart/banner/disc/thumb types TMDB and TVDB
// don't reliably carry. Grounded on the teacher's
// internal/metadata/scraper_fanarttv.go FanartTVClient: same
// /v3/movies/{id} and /v3/tv/{id} endpoints, same English-preferred,
// any-language-fallback image selection. fanart.tv has no text search
// of its own, so Search resolves straight from the TMDB/TVDB id the
// orchestrator already has for this item rather than querying by title.
package fanarttv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/providers"
)

const baseURL = "https://webservice.fanart.tv/v3"

// Adapter implements providers.Adapter for fanart.tv.
type Adapter struct {
	apiKey string
	client *httpclient.Client
}

// New constructs a fanart.tv Adapter. client should already be
// configured with fanart.tv's documented rate limit (spec §4.C).
func New(apiKey string, client *httpclient.Client) *Adapter {
	return &Adapter{apiKey: apiKey, client: client}
}

func (a *Adapter) Name() string { return "fanarttv" }

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		ID:          "fanarttv",
		EntityTypes: []models.MediaItemKind{models.KindMovie, models.KindSeries},
		AssetTypes: map[models.MediaItemKind][]models.AssetType{
			models.KindMovie:  {models.AssetClearLogo, models.AssetClearArt, models.AssetBanner, models.AssetDiscArt, models.AssetThumb, models.AssetFanart},
			models.KindSeries: {models.AssetClearLogo, models.AssetClearArt, models.AssetBanner, models.AssetThumb, models.AssetFanart},
		},
		RequiresAuth: true,
		Priority:     0.6,
	}
}

// Search resolves to a single already-known external id: fanart.tv has
// no title search, so the orchestrator's externalIDs map (populated
// from a prior adapter's providerResultID, e.g. tmdb or tvdb) is the
// only way in. A confidence of 1.0 reflects "exact id match, not a
// fuzzy guess".
func (a *Adapter) Search(ctx context.Context, query string, year int, externalIDs map[string]string) ([]providers.SearchResult, error) {
	if a.apiKey == "" {
		return nil, apperr.New(apperr.KindAuthConfig, "fanarttv: api key not configured")
	}
	if id, ok := externalIDs["tmdb"]; ok && id != "" {
		return []providers.SearchResult{{ProviderResultID: "tmdb:" + id, Title: query, Year: year, Confidence: 1.0}}, nil
	}
	if id, ok := externalIDs["tvdb"]; ok && id != "" {
		return []providers.SearchResult{{ProviderResultID: "tvdb:" + id, Title: query, Year: year, Confidence: 1.0}}, nil
	}
	return nil, nil
}

// GetMetadata always returns empty; fanart.tv carries no text metadata
// (spec §4.D "asset candidates are always aggregated" does not imply
// every provider supplies fields).
func (a *Adapter) GetMetadata(ctx context.Context, entityType models.MediaItemKind, providerResultID string) (providers.MetadataResponse, error) {
	return providers.MetadataResponse{}, nil
}

type fanartImage struct {
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Likes string `json:"likes"`
}

func (a *Adapter) GetAssets(ctx context.Context, entityType models.MediaItemKind, providerResultID string, assetTypes []models.AssetType) ([]providers.AssetCandidateDraft, error) {
	kind, id, err := splitProviderResultID(providerResultID)
	if err != nil {
		return nil, err
	}

	var reqURL string
	switch {
	case entityType == models.KindMovie && kind == "tmdb":
		reqURL = fmt.Sprintf("%s/movies/%s?api_key=%s", baseURL, id, a.apiKey)
	case entityType == models.KindSeries && kind == "tvdb":
		reqURL = fmt.Sprintf("%s/tv/%s?api_key=%s", baseURL, id, a.apiKey)
	default:
		return nil, nil
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

	var body struct {
		HDLogos    []fanartImage `json:"hdmovielogo"`
		Logos      []fanartImage `json:"movielogo"`
		HDClearArt []fanartImage `json:"hdmovieclearart"`
		ClearArt   []fanartImage `json:"movieclearart"`
		Banners    []fanartImage `json:"moviebanner"`
		Discs      []fanartImage `json:"moviedisc"`
		Thumbs     []fanartImage `json:"moviethumb"`
		Backgrounds []fanartImage `json:"moviebackground"`
		HDTVLogos    []fanartImage `json:"hdtvlogo"`
		TVClearLogos []fanartImage `json:"clearlogo"`
		TVHDClearArt []fanartImage `json:"hdclearart"`
		TVClearArt   []fanartImage `json:"clearart"`
		TVBanners    []fanartImage `json:"tvbanner"`
		TVThumbs     []fanartImage `json:"tvthumb"`
		ShowBackgrounds []fanartImage `json:"showbackground"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "fanarttv: decoding images response", err)
	}

	want := map[models.AssetType]bool{}
	for _, t := range assetTypes {
		want[t] = true
	}
	wantAll := len(want) == 0

	var out []providers.AssetCandidateDraft
	add := func(assetType models.AssetType, imageSets ...[]fanartImage) {
		if !wantAll && !want[assetType] {
			return
		}
		if url := firstFanartURL(imageSets...); url != "" {
			out = append(out, providers.AssetCandidateDraft{AssetType: assetType, SourceURL: url})
		}
	}

	if kind == "tmdb" {
		add(models.AssetClearLogo, body.HDLogos, body.Logos)
		add(models.AssetClearArt, body.HDClearArt, body.ClearArt)
		add(models.AssetBanner, body.Banners)
		add(models.AssetDiscArt, body.Discs)
		add(models.AssetThumb, body.Thumbs)
		add(models.AssetFanart, body.Backgrounds)
	} else {
		add(models.AssetClearLogo, body.HDTVLogos, body.TVClearLogos)
		add(models.AssetClearArt, body.TVHDClearArt, body.TVClearArt)
		add(models.AssetBanner, body.TVBanners)
		add(models.AssetThumb, body.TVThumbs)
		add(models.AssetFanart, body.ShowBackgrounds)
	}
	return out, nil
}

// firstFanartURL returns the URL of the first image from
// preference-ordered slices, preferring English-language images.
// Grounded on the teacher's firstFanartURL.
func firstFanartURL(imageSets ...[]fanartImage) string {
	for _, images := range imageSets {
		for _, img := range images {
			if (img.Lang == "en" || img.Lang == "") && img.URL != "" {
				return img.URL
			}
		}
	}
	for _, images := range imageSets {
		if len(images) > 0 && images[0].URL != "" {
			return images[0].URL
		}
	}
	return ""
}

func splitProviderResultID(id string) (kind, rest string, err error) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:], nil
		}
	}
	return "", "", apperr.New(apperr.KindValidation, "fanarttv: malformed provider result id "+id)
}

func (a *Adapter) TestConnection(ctx context.Context) providers.ConnectionStatus {
	if a.apiKey == "" {
		return providers.ConnectionStatus{OK: false, Message: "api key not configured"}
	}
	return providers.ConnectionStatus{OK: true, Message: "configured"}
}
