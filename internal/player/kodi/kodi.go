// Package kodi implements the player.Adapter for Kodi's JSON-RPC API
// (spec §6 "kodi"). Grounded on internal/notifications/webhook.go's
// postJSON helper (marshal, POST, check status, drain body),
// generalized to JSON-RPC's request/response envelope and routed
// through internal/httpclient instead of a bare *http.Client.
package kodi

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

// Adapter talks JSON-RPC to a Kodi instance.
type Adapter struct {
	client *httpclient.Client
}

// New constructs a Kodi Adapter backed by client.
func New(client *httpclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Kind() models.PlayerKind { return models.PlayerKodi }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Adapter) call(ctx context.Context, base, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "kodi: encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "kodi: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	var rpc rpcResponse
	if err := json.Unmarshal(data, &rpc); err != nil {
		return apperr.Wrap(apperr.KindValidation, "kodi: decode response", err)
	}
	if rpc.Error != nil {
		return apperr.New(apperr.KindTransient, fmt.Sprintf("kodi: %s returned %d %s", method, rpc.Error.Code, rpc.Error.Message))
	}
	if out != nil && len(rpc.Result) > 0 {
		return json.Unmarshal(rpc.Result, out)
	}
	return nil
}

// ProbePlayback calls Player.GetActivePlayers then Player.GetProperties
// (spec §4.J.3.a).
func (a *Adapter) ProbePlayback(ctx context.Context, p models.MediaPlayer) (models.PlaybackState, error) {
	var players []struct {
		PlayerID int    `json:"playerid"`
		Type     string `json:"type"`
	}
	if err := a.call(ctx, p.BaseURL, "Player.GetActivePlayers", nil, &players); err != nil {
		return models.PlaybackState{}, err
	}
	if len(players) == 0 {
		return models.PlaybackState{PlayerID: p.ID, Playing: false}, nil
	}

	var props struct {
		Percentage float64 `json:"percentage"`
		Time       struct {
			Hours, Minutes, Seconds int
		} `json:"time"`
	}
	_ = a.call(ctx, p.BaseURL, "Player.GetProperties", map[string]interface{}{
		"playerid":   players[0].PlayerID,
		"properties": []string{"percentage", "time"},
	}, &props)

	position := float64(props.Time.Hours*3600 + props.Time.Minutes*60 + props.Time.Seconds)
	return models.PlaybackState{PlayerID: p.ID, Playing: true, PositionSec: position}, nil
}

// TriggerScan calls VideoLibrary.Scan against directory
// (spec §4.J.2/.3).
func (a *Adapter) TriggerScan(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	return a.call(ctx, p.BaseURL, "VideoLibrary.Scan", map[string]interface{}{"directory": libraryPath}, nil)
}

// RefreshImageCache calls Files.SetFileDetails for the path
// (spec §4.J.3.e).
func (a *Adapter) RefreshImageCache(ctx context.Context, p models.MediaPlayer, libraryPath string) error {
	return a.call(ctx, p.BaseURL, "Files.SetFileDetails", map[string]interface{}{"file": libraryPath}, nil)
}
