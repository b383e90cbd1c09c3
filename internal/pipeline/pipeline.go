package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/ports"
	"github.com/wwwsec/yt-tools/internal/ports/adapters/edgetts"
	"github.com/wwwsec/yt-tools/internal/ports/adapters/ffmpeg"
	"github.com/wwwsec/yt-tools/internal/ports/adapters/openai"
	"github.com/wwwsec/yt-tools/internal/usecase"
	"github.com/wwwsec/yt-tools/internal/workspace"
)

const (
	EngineEdgeTTS = "edge-tts"
	EngineOpenAI  = "openai"
)

type Config struct {
	VTTPath   string
	VideoPath string
	Output    string
	Voice     string
	Engine    string

	SubtitlesOut  string
	ManifestOut   string
	BurnSubtitles bool

	// WorkDir is the base directory for run workspaces. If empty, defaults
	// to ".cache".
	WorkDir string

	FFmpegPath  string
	FFprobePath string
	EdgeTTSPath string

	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	OpenAIAllowedHosts []string

	SampleRate    int
	SynthWorkers  int
	SynthAttempts int
	SynthTimeout  time.Duration
	SynthBackoff  time.Duration
	EncodeWorkers int
	EncodeTimeout time.Duration
	FPS           int

	Logger *slog.Logger
}

func (c Config) Validate() error {
	for _, in := range []struct{ name, path string }{{"vtt", c.VTTPath}, {"video", c.VideoPath}} {
		if in.path == "" {
			return fmt.Errorf("%s input is empty", in.name)
		}
		if _, err := os.Stat(in.path); err != nil {
			return fmt.Errorf("stat %s input: %w", in.name, err)
		}
	}
	if c.Output == "" {
		return errors.New("output is empty")
	}
	if st, err := os.Stat(filepath.Dir(c.Output)); err != nil || !st.IsDir() {
		return fmt.Errorf("output directory %s does not exist", filepath.Dir(c.Output))
	}
	if sameFile(c.Output, c.VideoPath) {
		return errors.New("output must differ from the input video")
	}
	for _, side := range []string{c.SubtitlesOut, c.ManifestOut} {
		if side != "" && (sameFile(side, c.Output) || sameFile(side, c.VideoPath) || sameFile(side, c.VTTPath)) {
			return fmt.Errorf("sidecar %s collides with another input or output", side)
		}
	}

	if strings.TrimSpace(c.Voice) == "" {
		return errors.New("voice is required (--voice, [synthesis] voice or YTDUB_VOICE)")
	}
	switch c.Engine {
	case EngineEdgeTTS, "":
		if err := edgetts.ValidateVoice(c.Voice); err != nil {
			return err
		}
	case EngineOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai engine")
		}
		if err := openai.ValidateBaseURL(c.OpenAIBaseURL, c.OpenAIAllowedHosts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}

	if c.SampleRate <= 0 {
		return errors.New("sample rate must be > 0")
	}
	if c.SynthWorkers <= 0 || c.EncodeWorkers <= 0 {
		return errors.New("worker counts must be > 0")
	}
	if c.SynthAttempts <= 0 {
		return errors.New("synthesis attempts must be > 0")
	}
	if c.SynthTimeout <= 0 || c.EncodeTimeout <= 0 {
		return errors.New("timeouts must be > 0")
	}
	return nil
}

// Run parses the caption track, dubs the video and publishes the output.
// The run workspace is released on every return path.
func Run(ctx context.Context, cfg Config) (usecase.Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	track, err := subtitles.ParseFile(cfg.VTTPath)
	if err != nil {
		return usecase.Result{}, err
	}
	logger.Info("caption track loaded", slog.String("path", cfg.VTTPath), slog.Int("captions", track.Len()))

	baseWork := cfg.WorkDir
	if baseWork == "" {
		baseWork = ".cache"
	}
	ws, err := workspace.Create(filepath.Join(baseWork, "runs"), workspaceName(cfg.VideoPath), logger)
	if err != nil {
		return usecase.Result{}, err
	}
	defer ws.Release()
	logger = logger.With(logging.FieldRunID, ws.RunID())
	logger.Debug("workspace ready", slog.String("dir", ws.Dir()))

	if err := ws.LockOutput(cfg.Output); err != nil {
		return usecase.Result{}, err
	}

	video := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.FPS)
	synth := newSynthesizer(cfg, ws.Dir(), video)
	if cfg.Engine == EngineOpenAI {
		ep, err := openai.ParseEndpoint(cfg.OpenAIBaseURL, cfg.OpenAIAllowedHosts)
		if err != nil {
			return usecase.Result{}, err
		}
		logger.Info("speech endpoint",
			slog.String("base_url", ep.BaseURL),
			slog.String("host", ep.Host),
			slog.Bool("azure", ep.Azure),
			slog.Bool("local", ep.Local),
		)
	}

	uc := usecase.New(usecase.Deps{
		Video:  video,
		Synth:  synth,
		Logger: logger,
	})
	return uc.Run(ctx, ws, usecase.Input{
		Track:         track,
		TrackPath:     cfg.VTTPath,
		VideoPath:     cfg.VideoPath,
		Output:        cfg.Output,
		Voice:         cfg.Voice,
		SampleRate:    cfg.SampleRate,
		SynthWorkers:  cfg.SynthWorkers,
		SynthRetry:    usecase.RetryPolicy{MaxAttempts: cfg.SynthAttempts, Backoff: cfg.SynthBackoff, Timeout: cfg.SynthTimeout},
		EncodeWorkers: cfg.EncodeWorkers,
		EncodeRetry:   usecase.RetryPolicy{MaxAttempts: 2, Backoff: cfg.SynthBackoff, Timeout: cfg.EncodeTimeout},
		FPS:           cfg.FPS,
		BurnSubtitles: cfg.BurnSubtitles,
		SubtitlesOut:  cfg.SubtitlesOut,
		ManifestOut:   cfg.ManifestOut,
	})
}

func newSynthesizer(cfg Config, tmpDir string, probe ports.DurationProber) ports.Synthesizer {
	if cfg.Engine == EngineOpenAI {
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, tmpDir, probe)
	}
	return edgetts.New(cfg.EdgeTTSPath, tmpDir, probe)
}

func workspaceName(videoPath string) string {
	name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	return "dub-" + name
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

// ensure adapters implement ports
var (
	_ ports.VideoTool   = (*ffmpeg.Adapter)(nil)
	_ ports.Synthesizer = (*edgetts.Adapter)(nil)
	_ ports.Synthesizer = (*openai.Adapter)(nil)
)
