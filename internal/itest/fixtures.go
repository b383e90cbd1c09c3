//go:build integration

package itest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

const sampleVTT = `WEBVTT

1
00:00:00.000 --> 00:00:02.000
Here is the key idea.

2
00:00:02.000 --> 00:00:03.000
Step one, and then a much longer step two that will not fit.

3
00:00:03.000 --> 00:00:05.000
<i>Done.</i>
`

// fakeEdgeTTS writes a shell script that behaves like the edge-tts CLI:
// it renders a sine tone lasting 0.1s per word of --text.
func fakeEdgeTTS(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --text) text="$2"; shift 2 ;;
    --write-media) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
words=$(echo "$text" | wc -w)
dur=$(awk "BEGIN { printf \"%.1f\", $words / 10 }")
exec ffmpeg -hide_banner -loglevel error -y -f lavfi -i "sine=frequency=440:duration=$dur" -c:a libmp3lame "$out"
`
	bin := filepath.Join(t.TempDir(), "edge-tts")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake edge-tts: %v", err)
	}
	return bin
}

// makeVideo renders a test pattern with its own audio track.
func makeVideo(t *testing.T, path string, seconds string) {
	t.Helper()
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "testsrc=size=640x360:rate=30:duration="+seconds,
		"-f", "lavfi",
		"-i", "sine=frequency=220:duration="+seconds,
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		path,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
