package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/ports"
	"github.com/wwwsec/yt-tools/internal/types"
	"github.com/wwwsec/yt-tools/internal/workspace"
)

type Deps struct {
	Video  ports.VideoTool
	Synth  ports.Synthesizer
	Logger *slog.Logger
}

type Usecase struct {
	d   Deps
	log *slog.Logger
}

func New(d Deps) Usecase {
	log := d.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return Usecase{d: d, log: log.With(logging.FieldComponent, "dub")}
}

type Input struct {
	Track     types.Track
	TrackPath string
	VideoPath string
	Output    string
	Voice     string

	SampleRate    int
	SynthWorkers  int
	SynthRetry    RetryPolicy
	EncodeWorkers int
	EncodeRetry   RetryPolicy
	FPS           int

	BurnSubtitles bool
	// SubtitlesOut and ManifestOut are optional sidecar destinations.
	SubtitlesOut string
	ManifestOut  string
}

type Result struct {
	Reconciled types.Track
	Synth      []types.SynthesizedSegment
	Video      []types.VideoSegment
	Gaps       []types.Gap
	Manifest   types.Manifest
}

// Run dubs in.VideoPath with in.Track. Scratch files live in ws; the caller
// releases it.
func (u Usecase) Run(ctx context.Context, ws *workspace.Workspace, in Input) (Result, error) {
	if in.Track.Len() == 0 {
		return Result{}, fmt.Errorf("%w: no captions", subtitles.ErrMalformedTrack)
	}

	rec, err := u.Reconcile(ctx, ReconcileInput{
		Track:      in.Track,
		Voice:      in.Voice,
		WorkDir:    ws.Dir(),
		SampleRate: in.SampleRate,
		Workers:    in.SynthWorkers,
		Retry:      in.SynthRetry,
	})
	if err != nil {
		return Result{}, err
	}

	rt, err := u.Retime(ctx, RetimeInput{
		Original:   in.Track,
		Reconciled: rec.Track,
		VideoPath:  in.VideoPath,
		WorkDir:    ws.Dir(),
		FPS:        in.FPS,
		Workers:    in.EncodeWorkers,
		Retry:      in.EncodeRetry,
	})
	if err != nil {
		return Result{}, err
	}

	// Sidecars are rendered before the output is published.
	var vtt, manifestJSON []byte
	manifest := buildManifest(in, rec, rt)
	if in.SubtitlesOut != "" {
		vtt = []byte(subtitles.Format(rec.Track))
	}
	if in.ManifestOut != "" {
		if manifestJSON, err = json.MarshalIndent(manifest, "", "  "); err != nil {
			return Result{}, fmt.Errorf("marshal manifest: %w", err)
		}
	}

	if err := u.Assemble(ctx, ws, AssembleInput{
		Segments:      rt.Segments,
		MasterPath:    rec.MasterPath,
		Reconciled:    rec.Track,
		BurnSubtitles: in.BurnSubtitles,
		Output:        in.Output,
	}); err != nil {
		return Result{}, err
	}

	if vtt != nil {
		if err := publishFile(ws, in.SubtitlesOut, vtt); err != nil {
			return Result{}, fmt.Errorf("write subtitles: %w", err)
		}
		u.log.Info("reconciled subtitles written", slog.String("path", in.SubtitlesOut))
	}
	if manifestJSON != nil {
		if err := publishFile(ws, in.ManifestOut, manifestJSON); err != nil {
			return Result{}, fmt.Errorf("write manifest: %w", err)
		}
		u.log.Info("manifest written", slog.String("path", in.ManifestOut))
	}

	return Result{
		Reconciled: rec.Track,
		Synth:      rec.Segments,
		Video:      rt.Segments,
		Gaps:       rt.Gaps,
		Manifest:   manifest,
	}, nil
}

func buildManifest(in Input, rec ReconcileResult, rt RetimeResult) types.Manifest {
	m := types.Manifest{
		Captions: in.TrackPath,
		Video:    in.VideoPath,
		Voice:    in.Voice,
		Output:   in.Output,
		TotalSec: secs(rec.Track.Duration()),
		Entries:  make([]types.ManifestCaption, 0, in.Track.Len()),
	}
	speed := make(map[int]float64, len(rt.Segments))
	for _, s := range rt.Segments {
		speed[s.CaptionIndex] = s.SpeedFactor
	}
	gap := make(map[int]string, len(rt.Gaps))
	for _, g := range rt.Gaps {
		gap[g.CaptionIndex] = g.Reason
	}
	for i, oc := range in.Track.Captions {
		rc := rec.Track.Captions[i]
		seg := rec.Segments[i]
		m.Entries = append(m.Entries, types.ManifestCaption{
			Index:       i,
			Text:        oc.Text,
			OrigStart:   secs(oc.Start),
			OrigEnd:     secs(oc.End),
			Start:       secs(rc.Start),
			End:         secs(rc.End),
			RawSec:      secs(seg.RawDuration),
			FinalSec:    secs(seg.FinalDuration),
			SpeedFactor: speed[i],
			Gap:         gap[i],
		})
	}
	return m
}

func secs(d time.Duration) float64 { return d.Seconds() }
