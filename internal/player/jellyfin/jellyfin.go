// Package jellyfin implements the player.Adapter for Jellyfin's REST
// API (spec §6 "jellyfin"). Grounded on
// internal/notifications/webhook.go's postJSON helper, generalized to
// Jellyfin's X-Emby-Token header auth and routed through
// internal/httpclient.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/httpclient"
	"github.com/mediaforge/mediaforge/internal/models"
)

// Adapter talks to a Jellyfin server's REST API.
type Adapter struct {
	client *httpclient.Client
}

// New constructs a Jellyfin Adapter backed by client.
func New(client *httpclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Kind() models.PlayerKind { return models.PlayerJellyfin }

func (a *Adapter) request(ctx context.Context, p models.MediaPlayer, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "jellyfin: encode request", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "jellyfin: build request", err)
	}
	req.Header.Set("X-Emby-Token", p.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return a.client.Do(ctx, req)
}

// ProbePlayback lists active playback sessions for this server
// (spec §4.J.3.a).
func (a *Adapter) ProbePlayback(ctx context.Context, p models.MediaPlayer) (models.PlaybackState, error) {
	resp, err := a.request(ctx, p, http.MethodGet, "/Sessions", nil)
	if err != nil {
		return models.PlaybackState{}, err
	}
	defer resp.Body.Close()

	var sessions []struct {
		NowPlayingItem *struct {
			Path string `json:"Path"`
		} `json:"NowPlayingItem"`
		PlayState struct {
			PositionTicks int64 `json:"PositionTicks"`
		} `json:"PlayState"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return models.PlaybackState{}, apperr.Wrap(apperr.KindValidation, "jellyfin: decode sessions", err)
	}

	for _, s := range sessions {
		if s.NowPlayingItem != nil {
			return models.PlaybackState{
				PlayerID:    p.ID,
				Playing:     true,
				ItemPath:    s.NowPlayingItem.Path,
				PositionSec: float64(s.PlayState.PositionTicks) / 1e7,
			}, nil
		}
	}
	return models.PlaybackState{PlayerID: p.ID, Playing: false}, nil
}

// TriggerScan triggers a library scan task (spec §4.J.2/.3).
func (a *Adapter) TriggerScan(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	resp, err := a.request(ctx, p, http.MethodPost, "/Library/Refresh", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return apperr.New(apperr.KindTransient, fmt.Sprintf("jellyfin: library refresh returned %d", resp.StatusCode))
	}
	return nil
}

// RefreshImageCache re-fetches the image provider cache for the item
// at libraryPath (spec §4.J.3.e).
func (a *Adapter) RefreshImageCache(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	resp, err := a.request(ctx, p, http.MethodPost, "/Items/Images/Refresh", map[string]string{"Path": libraryPath})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}
