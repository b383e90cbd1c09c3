package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const outputTail = 2048

type Adapter struct {
	ffmpeg  string
	ffprobe string
	fps     int
}

// New returns an adapter running the given binaries. fps > 0 forces a
// constant output frame rate on retimed clips so they concatenate cleanly.
func New(ffmpegPath, ffprobePath string, fps int) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, fps: fps}
}

func (a *Adapter) DecodeAudio(ctx context.Context, in, outWav string, sampleRate int) error {
	return a.run(ctx, "decode audio", decodeArgs(in, outWav, sampleRate))
}

func (a *Adapter) RetimeClip(ctx context.Context, in string, start, end time.Duration, speed float64, frames int, outMP4 string) error {
	if end <= start {
		return fmt.Errorf("ffmpeg retime clip: empty interval [%s, %s)", start, end)
	}
	if speed <= 0 {
		return fmt.Errorf("ffmpeg retime clip: invalid speed %v", speed)
	}
	if frames < 0 {
		return fmt.Errorf("ffmpeg retime clip: invalid frame count %d", frames)
	}
	return a.run(ctx, "retime clip", retimeArgs(in, start, end, speed, a.fps, frames, outMP4))
}

func (a *Adapter) ConcatClips(ctx context.Context, clips []string, listFile, outMP4 string) error {
	if len(clips) == 0 {
		return errors.New("ffmpeg concat: no clips")
	}
	list, err := concatList(clips)
	if err != nil {
		return err
	}
	if err := os.WriteFile(listFile, []byte(list), 0o644); err != nil {
		return fmt.Errorf("ffmpeg concat: write list: %w", err)
	}
	return a.run(ctx, "concat", []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		outMP4,
	})
}

func (a *Adapter) Mux(ctx context.Context, video, audio, outMP4, burnASS string) error {
	return a.run(ctx, "mux", muxArgs(video, audio, outMP4, burnASS))
}

func (a *Adapter) ProbeDuration(ctx context.Context, inMP4 string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inMP4,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, tail(b))
	}
	return parseDuration(string(b))
}

func (a *Adapter) run(ctx context.Context, what string, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, append([]string{"-hide_banner", "-nostdin"}, args...)...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg %s: %w", what, ctx.Err())
		}
		return fmt.Errorf("ffmpeg %s: %w\n%s", what, err, tail(b))
	}
	return nil
}

func decodeArgs(in, outWav string, sampleRate int) []string {
	return []string{
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outWav,
	}
}

func retimeArgs(in string, start, end time.Duration, speed float64, fps, frames int, outMP4 string) []string {
	filter := "setpts=(PTS-STARTPTS)/" + strconv.FormatFloat(speed, 'f', 6, 64)
	if fps > 0 {
		filter += ",fps=" + strconv.Itoa(fps)
	}
	if frames > 0 {
		filter += ",tpad=stop_mode=clone:stop=" + strconv.Itoa(frames)
	}
	args := []string{
		"-y",
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-i", in,
		"-an",
		"-vf", filter,
	}
	if frames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(frames))
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		outMP4,
	)
}

func muxArgs(video, audio, outMP4, burnASS string) []string {
	args := []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	if burnASS != "" {
		args = append(args,
			"-vf", "subtitles="+escapeFilterPath(burnASS),
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "18",
			"-pix_fmt", "yuv420p",
		)
	} else {
		args = append(args, "-c:v", "copy")
	}
	return append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		outMP4,
	)
}

func concatList(clips []string) (string, error) {
	var b strings.Builder
	for _, c := range clips {
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", fmt.Errorf("ffmpeg concat: %w", err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String(), nil
}

func parseDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if sec < 0 {
		return 0, fmt.Errorf("parse duration %q: negative", s)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
