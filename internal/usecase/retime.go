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

	"github.com/wwwsec/yt-tools/internal/domain/retime"
	"github.com/wwwsec/yt-tools/internal/logging"
	"github.com/wwwsec/yt-tools/internal/types"
)

// ErrNoSegments is returned when no caption produced a video segment.
var ErrNoSegments = errors.New("no video segments to assemble")

type RetimeInput struct {
	Original   types.Track
	Reconciled types.Track
	VideoPath  string
	WorkDir    string
	// FPS > 0 pins every segment to a whole number of frames on the
	// reconciled timeline. It must match the encoder's output rate.
	FPS     int
	Workers int
	Retry   RetryPolicy
}

type RetimeResult struct {
	VideoDuration time.Duration
	// Segments are in caption order.
	Segments []types.VideoSegment
	Gaps     []types.Gap
}

// Retime cuts the source video along the original captions and stretches
// each piece to its reconciled span. Captions that cannot be cut become
// logged gaps.
func (u Usecase) Retime(ctx context.Context, in RetimeInput) (RetimeResult, error) {
	log := u.log.With(logging.FieldStage, "retime")

	videoDur, err := u.d.Video.ProbeDuration(ctx, in.VideoPath)
	if err != nil {
		return RetimeResult{}, err
	}
	plans, issues, err := retime.Plan(in.Original, in.Reconciled, videoDur, in.FPS)
	if err != nil {
		return RetimeResult{}, err
	}

	var gaps []types.Gap
	for _, issue := range issues {
		gap := types.Gap{CaptionIndex: -1, Reason: issue.Error()}
		var oor *retime.OutOfRangeSegmentWarning
		var deg *retime.DegenerateSegmentError
		switch {
		case errors.As(issue, &oor):
			gap.CaptionIndex = oor.CaptionIndex
			gap.Reason = "out of range"
		case errors.As(issue, &deg):
			gap.CaptionIndex = deg.CaptionIndex
			gap.Reason = "degenerate segment"
		}
		log.Warn("caption has no video segment", slog.Int(logging.FieldCaption, gap.CaptionIndex), logging.Error(issue))
		gaps = append(gaps, gap)
	}
	if len(plans) == 0 {
		return RetimeResult{}, ErrNoSegments
	}

	dir := filepath.Join(in.WorkDir, "video")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return RetimeResult{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(in.Workers, 1))
	for i := range plans {
		p := &plans[i]
		p.Path = filepath.Join(dir, fmt.Sprintf("%04d.mp4", p.CaptionIndex))
		g.Go(func() error {
			clog := log.With(logging.FieldCaption, p.CaptionIndex)
			_, err := retry(gctx, in.Retry, clog, func(ctx context.Context) error {
				return u.d.Video.RetimeClip(ctx, in.VideoPath, p.SourceStart, p.SourceEnd, p.SpeedFactor, p.Frames, p.Path)
			})
			if err != nil {
				return fmt.Errorf("caption %d: %w", p.CaptionIndex, err)
			}
			clog.Debug("segment encoded", slog.Float64("speed", p.SpeedFactor), slog.Duration("span", p.TargetSpan), slog.Int("frames", p.Frames))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RetimeResult{}, err
	}

	log.Info("video retimed", slog.Int("segments", len(plans)), slog.Int("gaps", len(gaps)))
	return RetimeResult{VideoDuration: videoDur, Segments: plans, Gaps: gaps}, nil
}
