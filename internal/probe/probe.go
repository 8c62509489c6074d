// Package probe implements the Stream Probe (spec §4.E): given a
// media file path, shell out to ffprobe and turn its JSON stream list
// into a models.StreamFacts fact set. Grounded on the teacher's
// internal/fingerprint/fingerprint.go, which drives ffmpeg via
// os/exec with a configurable binary path and CombinedOutput error
// handling; this package does the analogous thing for ffprobe's
// structured output instead of ffmpeg's frame extraction.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/apperr"
	"github.com/mediaforge/mediaforge/internal/models"
)

// Prober runs ffprobe against media files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	now         func() time.Time
}

// New constructs a Prober. ffprobePath is typically just "ffprobe"
// when it is on PATH.
func New(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second, now: time.Now}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	AvgFrameRate   string `json:"avg_frame_rate"`
	BitRate        string `json:"bit_rate"`
	ColorSpace     string `json:"color_space"`
	ColorTransfer  string `json:"color_transfer"`
	Channels       int    `json:"channels"`
	Tags           map[string]string `json:"tags"`
	Disposition    map[string]int    `json:"disposition"`
}

// Probe runs ffprobe against path and classifies its streams into a
// StreamFacts fact set. Idempotent: re-running replaces the full
// result, there is no merge with a prior probe (spec §4.E).
func (p *Prober) Probe(ctx context.Context, path string) (models.StreamFacts, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return models.StreamFacts{}, apperr.Wrap(apperr.KindIO, fmt.Sprintf("ffprobe failed for %s: %s", path, stderr.String()), err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return models.StreamFacts{}, apperr.Wrap(apperr.KindValidation, "ffprobe: decoding json output", err)
	}

	facts := models.StreamFacts{ProbedAt: p.now()}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			facts.Video = &models.VideoStream{
				Codec:      s.CodecName,
				Width:      s.Width,
				Height:     s.Height,
				FrameRate:  parseFrameRate(s.AvgFrameRate),
				BitRate:    parseBitRate(s.BitRate),
				HDRType:    classifyHDR(s.ColorTransfer),
				ColorSpace: s.ColorSpace,
			}
		case "audio":
			facts.Audio = append(facts.Audio, models.AudioStream{
				Codec:    s.CodecName,
				Language: s.Tags["language"],
				Channels: s.Channels,
				Default:  s.Disposition["default"] == 1,
				Forced:   s.Disposition["forced"] == 1,
			})
		case "subtitle":
			facts.Subtitles = append(facts.Subtitles, models.SubtitleStream{
				Codec:    s.CodecName,
				Language: s.Tags["language"],
				Embedded: true,
				Default:  s.Disposition["default"] == 1,
				Forced:   s.Disposition["forced"] == 1,
			})
		}
	}
	return facts, nil
}

// ProbeExternalSubtitle records a sidecar subtitle file as an
// external, non-ffprobed stream entry (spec §4.E "subtitle streams
// (...), external?/embedded").
func ProbeExternalSubtitle(language string, forced bool) models.SubtitleStream {
	return models.SubtitleStream{External: true, Language: language, Forced: forced}
}

func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseBitRate(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// classifyHDR infers an HDR type from ffprobe's color_transfer tag.
func classifyHDR(colorTransfer string) string {
	switch colorTransfer {
	case "smpte2084":
		return "HDR10"
	case "arib-std-b67":
		return "HLG"
	default:
		return ""
	}
}
