package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRetimeArgs(t *testing.T) {
	args := retimeArgs("in.mp4", 1500*time.Millisecond, 5500*time.Millisecond, 2, 30, 60, "out.mp4")
	got := strings.Join(args, " ")
	want := "-y -ss 1.500 -to 5.500 -i in.mp4 -an -vf setpts=(PTS-STARTPTS)/2.000000,fps=30,tpad=stop_mode=clone:stop=60 -frames:v 60 -c:v libx264 -preset veryfast -crf 18 -pix_fmt yuv420p out.mp4"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}

	noFPS := strings.Join(retimeArgs("in.mp4", 0, time.Second, 0.5, 0, 0, "o.mp4"), " ")
	if !strings.Contains(noFPS, "-vf setpts=(PTS-STARTPTS)/0.500000 -c:v") || strings.Contains(noFPS, "-frames:v") {
		t.Fatalf("unexpected filter without fps: %s", noFPS)
	}
}

func TestMuxArgs(t *testing.T) {
	copyArgs := strings.Join(muxArgs("v.mp4", "a.wav", "o.mp4", ""), " ")
	if !strings.Contains(copyArgs, "-map 0:v:0 -map 1:a:0 -c:v copy -c:a aac") {
		t.Fatalf("unexpected mux args: %s", copyArgs)
	}
	if strings.Contains(copyArgs, "-shortest") {
		t.Fatalf("mux must keep the full narration track: %s", copyArgs)
	}

	burn := strings.Join(muxArgs("v.mp4", "a.wav", "o.mp4", `C:\subs\dub.ass`), " ")
	if !strings.Contains(burn, `-vf subtitles=C\:\\subs\\dub.ass -c:v libx264`) {
		t.Fatalf("unexpected burn args: %s", burn)
	}
}

func TestConcatList_QuotesPaths(t *testing.T) {
	dir := t.TempDir()
	got, err := concatList([]string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "it's.mp4")})
	if err != nil {
		t.Fatal(err)
	}
	want := "file '" + filepath.Join(dir, "a.mp4") + "'\n" +
		"file '" + filepath.Join(dir, `it'\''s.mp4`) + "'\n"
	if got != want {
		t.Fatalf("unexpected list:\n got %q\nwant %q", got, want)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(" 12.345000\n")
	if err != nil {
		t.Fatal(err)
	}
	if d.Round(time.Millisecond) != 12345*time.Millisecond {
		t.Fatalf("unexpected duration %s", d)
	}
	for _, bad := range []string{"N/A", "", "-1"} {
		if _, err := parseDuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestAdapter_RejectsBadInputsWithoutRunning(t *testing.T) {
	a := New("/nonexistent/ffmpeg", "/nonexistent/ffprobe", 0)
	ctx := context.Background()
	if err := a.RetimeClip(ctx, "in.mp4", time.Second, time.Second, 1, 0, "o.mp4"); err == nil {
		t.Fatalf("expected empty interval error")
	}
	if err := a.RetimeClip(ctx, "in.mp4", 0, time.Second, 0, 0, "o.mp4"); err == nil {
		t.Fatalf("expected invalid speed error")
	}
	if err := a.RetimeClip(ctx, "in.mp4", 0, time.Second, 1, -1, "o.mp4"); err == nil {
		t.Fatalf("expected invalid frame count error")
	}
	if err := a.ConcatClips(ctx, nil, filepath.Join(t.TempDir(), "list.txt"), "o.mp4"); err == nil {
		t.Fatalf("expected no clips error")
	}
}

func TestAdapter_RunReportsCommandOutput(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\necho 'boom: invalid data' >&2\nexit 3\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	a := New(bin, bin, 0)
	err := a.DecodeAudio(context.Background(), "in.mp3", filepath.Join(dir, "out.wav"), 24000)
	if err == nil || !strings.Contains(err.Error(), "ffmpeg decode audio") || !strings.Contains(err.Error(), "boom: invalid data") {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Mux(ctx, "v.mp4", "a.wav", "o.mp4", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
