package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wwwsec/yt-tools/internal/audio"
	"github.com/wwwsec/yt-tools/internal/domain/reconcile"
	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/types"
)

type ReconcileInput struct {
	Track      types.Track
	Voice      string
	WorkDir    string
	SampleRate int
	Workers    int
	Retry      RetryPolicy
}

type ReconcileResult struct {
	Track    types.Track
	Segments []types.SynthesizedSegment
	// MasterPath is the continuous narration WAV covering Track.
	MasterPath string
}

type clip struct {
	wav string
	raw time.Duration
}

// Reconcile synthesizes every caption and lays the results end to end on a
// new timeline. Synthesis runs concurrently; placement is a single in-order
// pass.
func (u Usecase) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	log := u.log.With(logging.FieldStage, "reconcile")
	dir := filepath.Join(in.WorkDir, "speech")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ReconcileResult{}, err
	}

	clips := make([]clip, in.Track.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(in.Workers, 1))
	for i, c := range in.Track.Captions {
		g.Go(func() error {
			cl, err := u.synthesizeCaption(gctx, log.With(logging.FieldCaption, i), in, dir, i, c)
			if err != nil {
				return err
			}
			clips[i] = cl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReconcileResult{}, err
	}

	raws := make([]time.Duration, len(clips))
	for i, cl := range clips {
		raws[i] = cl.raw
	}
	track, segs, err := reconcile.Fold(in.Track, raws)
	if err != nil {
		return ReconcileResult{}, err
	}

	master, err := audio.Create(filepath.Join(in.WorkDir, "narration.wav"), in.SampleRate)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer master.Close()
	for i, c := range track.Captions {
		if err := ctx.Err(); err != nil {
			return ReconcileResult{}, err
		}
		segs[i].AudioPath = clips[i].wav
		if err := master.Place(clips[i].wav, c.Start, c.End); err != nil {
			return ReconcileResult{}, fmt.Errorf("caption %d: %w", i, err)
		}
		if p := segs[i].Padding(); p > 0 {
			log.Debug("padded with silence", slog.Int(logging.FieldCaption, i), slog.Duration("padding", p))
		}
	}
	if err := master.Close(); err != nil {
		return ReconcileResult{}, err
	}

	log.Info("timeline reconciled",
		slog.Int("captions", track.Len()),
		slog.Duration("original", in.Track.Duration()),
		slog.Duration("reconciled", track.Duration()),
		slog.Duration("narration", master.Duration()),
	)
	return ReconcileResult{Track: track, Segments: segs, MasterPath: master.Path()}, nil
}

func (u Usecase) synthesizeCaption(ctx context.Context, log *slog.Logger, in ReconcileInput, dir string, i int, c types.Caption) (clip, error) {
	text := subtitles.SpeakableText(c.Text)
	if text == "" {
		log.Debug("no speakable text, using silence")
		return clip{}, nil
	}

	var sp types.Speech
	attempts, err := retry(ctx, in.Retry, log, func(ctx context.Context) error {
		var err error
		sp, err = u.d.Synth.Synthesize(ctx, text, in.Voice)
		if err == nil && len(sp.Audio) == 0 {
			err = errors.New("empty audio")
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return clip{}, ctx.Err()
		}
		return clip{}, &SynthesisError{Index: i, Text: text, Attempts: attempts, Err: err}
	}

	ext := sp.Format
	if ext == "" {
		ext = "bin"
	}
	base := filepath.Join(dir, fmt.Sprintf("%04d", i))
	if err := os.WriteFile(base+"."+ext, sp.Audio, 0o644); err != nil {
		return clip{}, err
	}
	wav := base + ".wav"
	if err := u.d.Video.DecodeAudio(ctx, base+"."+ext, wav, in.SampleRate); err != nil {
		return clip{}, fmt.Errorf("caption %d: %w", i, err)
	}

	raw := sp.Duration
	if raw <= 0 {
		if raw, err = audio.ClipDuration(wav); err != nil {
			return clip{}, fmt.Errorf("caption %d: %w", i, err)
		}
	}
	log.Debug("synthesized", slog.Duration("raw", raw), slog.Duration("span", c.Span()))
	return clip{wav: wav, raw: raw}, nil
}
