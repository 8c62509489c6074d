// Package plex implements the player.Adapter for Plex's REST API
// (spec §6 "plex"). Grounded on internal/notifications/webhook.go's
// postJSON helper, generalized to Plex's X-Plex-Token query-parameter
// auth and routed through internal/httpclient.
package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/models"
)

// Adapter talks to a Plex Media Server's REST API.
type Adapter struct {
	client *httpclient.Client
}

// New constructs a Plex Adapter backed by client.
func New(client *httpclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Kind() models.PlayerKind { return models.PlayerPlex }

func (a *Adapter) do(ctx context.Context, p models.MediaPlayer, method, path string, query url.Values) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("X-Plex-Token", p.APIKey)
	u := p.BaseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "plex: build request", err)
	}
	return a.client.Do(ctx, req)
}

// ProbePlayback queries /status/sessions for in-progress playback
// (spec §4.J.3.a).
func (a *Adapter) ProbePlayback(ctx context.Context, p models.MediaPlayer) (models.PlaybackState, error) {
	resp, err := a.do(ctx, p, http.MethodGet, "/status/sessions", nil)
	if err != nil {
		return models.PlaybackState{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		MediaContainer struct {
			Size  int `xml:"size,attr"`
			Video []struct {
				Key         string `xml:"key,attr"`
				ViewOffset  int64  `xml:"viewOffset,attr"`
			} `xml:"Video"`
		} `xml:"MediaContainer"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.PlaybackState{}, apperr.Wrap(apperr.KindValidation, "plex: decode sessions", err)
	}
	if payload.MediaContainer.Size == 0 || len(payload.MediaContainer.Video) == 0 {
		return models.PlaybackState{PlayerID: p.ID, Playing: false}, nil
	}
	v := payload.MediaContainer.Video[0]
	return models.PlaybackState{
		PlayerID:    p.ID,
		Playing:     true,
		ItemPath:    v.Key,
		PositionSec: float64(v.ViewOffset) / 1000,
	}, nil
}

// TriggerScan triggers a partial library scan rooted at libraryPath
// (spec §4.J.2/.3).
func (a *Adapter) TriggerScan(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	q := url.Values{"path": []string{libraryPath}}
	resp, err := a.do(ctx, p, http.MethodGet, "/library/sections/all/refresh", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return apperr.New(apperr.KindTransient, fmt.Sprintf("plex: refresh returned %d", resp.StatusCode))
	}
	return nil
}

// RefreshImageCache asks Plex to re-analyze metadata for the item,
// which includes its cached artwork (spec §4.J.3.e).
func (a *Adapter) RefreshImageCache(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	q := url.Values{"path": []string{libraryPath}}
	resp, err := a.do(ctx, p, http.MethodPut, "/library/metadata/refresh", q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}
