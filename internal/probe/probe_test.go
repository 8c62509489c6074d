package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const sampleJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160, "avg_frame_rate": "24000/1001", "bit_rate": "15000000", "color_transfer": "smpte2084", "color_space": "bt2020nc"},
    {"codec_type": "audio", "codec_name": "eac3", "channels": 6, "tags": {"language": "eng"}, "disposition": {"default": 1}},
    {"codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng"}, "disposition": {"forced": 1}}
  ]
}`

// fakeFFprobe writes an executable shell script that ignores its
// arguments and prints sampleJSON, standing in for the real ffprobe
// binary in tests.
func fakeFFprobe(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffprobe script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'EOF'\n" + sampleJSON + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbe_ClassifiesVideoAudioSubtitleStreams(t *testing.T) {
	p := New(fakeFFprobe(t))
	facts, err := p.Probe(context.Background(), "/dev/null")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if facts.Video == nil {
		t.Fatal("expected a video stream")
	}
	if facts.Video.Width != 3840 || facts.Video.Height != 2160 {
		t.Fatalf("unexpected video dims: %+v", facts.Video)
	}
	if facts.Video.HDRType != "HDR10" {
		t.Fatalf("expected HDR10 classification, got %q", facts.Video.HDRType)
	}
	if facts.Video.FrameRate < 23.9 || facts.Video.FrameRate > 24.0 {
		t.Fatalf("unexpected framerate: %f", facts.Video.FrameRate)
	}
	if len(facts.Audio) != 1 || facts.Audio[0].Channels != 6 || facts.Audio[0].Language != "eng" {
		t.Fatalf("unexpected audio streams: %+v", facts.Audio)
	}
	if len(facts.Subtitles) != 1 || facts.Subtitles[0].Forced != true || facts.Subtitles[0].Embedded != true {
		t.Fatalf("unexpected subtitle streams: %+v", facts.Subtitles)
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := parseFrameRate("24000/1001"); got < 23.9 || got > 24.0 {
		t.Fatalf("expected ~23.976, got %f", got)
	}
	if got := parseFrameRate("not-a-rate"); got != 0 {
		t.Fatalf("expected 0 for malformed input, got %f", got)
	}
}

func TestClassifyHDR(t *testing.T) {
	cases := map[string]string{
		"smpte2084":   "HDR10",
		"arib-std-b67": "HLG",
		"bt709":       "",
	}
	for in, want := range cases {
		if got := classifyHDR(in); got != want {
			t.Fatalf("classifyHDR(%q) = %q, want %q", in, got, want)
		}
	}
}
