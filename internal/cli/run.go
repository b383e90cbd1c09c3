package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwsec/yt-tools/internal/config"
	"github.com/wwwsec/yt-tools/internal/domain/retime"
	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/pipeline"
	"github.com/wwwsec/yt-tools/internal/usecase"
	"github.com/wwwsec/yt-tools/internal/workspace"
)

const defaultConfigName = config.DefaultPath

// configError marks problems with flags, config files or the environment.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func run(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	fileCfg, _, err := config.Load(cfgPath)
	if err != nil {
		return &configError{err}
	}
	fileCfg.ApplyEnv(os.Getenv)
	applyFlags(cmd, &fileCfg)
	if err := fileCfg.Validate(); err != nil {
		return &configError{err}
	}

	logger, err := logging.New(logging.Options{
		Level:  fileCfg.Logging.Level,
		Format: fileCfg.Logging.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return &configError{err}
	}

	pcfg, err := pipelineConfig(cmd, fileCfg, logger)
	if err != nil {
		return &configError{err}
	}
	if err := pcfg.Validate(); err != nil {
		return &configError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, pcfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(res))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", pcfg.Output, res.Reconciled.Duration().Round(time.Millisecond))
	return nil
}

// applyFlags overrides file values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("voice") {
		c.Synthesis.Voice, _ = f.GetString("voice")
	}
	if f.Changed("engine") {
		c.Synthesis.Engine, _ = f.GetString("engine")
	}
	if f.Changed("work-dir") {
		c.Paths.WorkDir, _ = f.GetString("work-dir")
	}
	if f.Changed("synth-workers") {
		c.Synthesis.Workers, _ = f.GetInt("synth-workers")
	}
	if f.Changed("encode-workers") {
		c.Video.EncodeWorkers, _ = f.GetInt("encode-workers")
	}
	if f.Changed("burn-subtitles") {
		c.Video.BurnSubtitles, _ = f.GetBool("burn-subtitles")
	}
	if f.Changed("log-level") {
		c.Logging.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		c.Logging.Format, _ = f.GetString("log-format")
	}
	if f.Changed("sample-rate") {
		c.Synthesis.SampleRate, _ = f.GetInt("sample-rate")
	}
}

func pipelineConfig(cmd *cobra.Command, c config.Config, logger *slog.Logger) (pipeline.Config, error) {
	f := cmd.Flags()
	paths := map[string]string{}
	for _, name := range []string{"vtt", "video", "output", "subtitles-out", "manifest"} {
		v, _ := f.GetString(name)
		if v == "" {
			continue
		}
		abs, err := filepath.Abs(v)
		if err != nil {
			return pipeline.Config{}, err
		}
		paths[name] = abs
	}

	return pipeline.Config{
		VTTPath:       paths["vtt"],
		VideoPath:     paths["video"],
		Output:        paths["output"],
		Voice:         c.Synthesis.Voice,
		Engine:        c.Synthesis.Engine,
		SubtitlesOut:  paths["subtitles-out"],
		ManifestOut:   paths["manifest"],
		BurnSubtitles: c.Video.BurnSubtitles,
		WorkDir:       c.Paths.WorkDir,

		FFmpegPath:  c.Paths.FFmpeg,
		FFprobePath: c.Paths.FFprobe,
		EdgeTTSPath: c.Paths.EdgeTTS,

		OpenAIAPIKey:       c.OpenAI.APIKey,
		OpenAIModel:        c.OpenAI.Model,
		OpenAIBaseURL:      c.OpenAI.BaseURL,
		OpenAIAllowedHosts: c.OpenAI.AllowedHosts,

		SampleRate:    c.Synthesis.SampleRate,
		SynthWorkers:  c.Synthesis.Workers,
		SynthAttempts: c.Synthesis.MaxAttempts,
		SynthTimeout:  time.Duration(c.Synthesis.TimeoutSeconds) * time.Second,
		SynthBackoff:  time.Duration(c.Synthesis.BackoffMillis) * time.Millisecond,
		EncodeWorkers: c.Video.EncodeWorkers,
		EncodeTimeout: time.Duration(c.Video.EncodeTimeoutSeconds) * time.Second,
		FPS:           c.Video.FPS,

		Logger: logger,
	}, nil
}

// errorKind names the failure class printed before the message.
func errorKind(err error) string {
	var (
		cfgErr *configError
		synErr *usecase.SynthesisError
		degErr *retime.DegenerateSegmentError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &cfgErr):
		return "config"
	case errors.Is(err, subtitles.ErrMalformedTrack):
		return "malformed track"
	case errors.As(err, &synErr):
		return "synthesis"
	case errors.As(err, &degErr):
		return "degenerate segment"
	case errors.Is(err, usecase.ErrNoSegments):
		return "no segments"
	case errors.Is(err, workspace.ErrOutputLocked):
		return "output locked"
	default:
		return "failed"
	}
}

func writeError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %s: %v\n", errorKind(err), err)
}
