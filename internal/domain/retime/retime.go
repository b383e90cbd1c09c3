package retime

import (
	"fmt"
	"time"

	"github.com/wwwsec/yt-tools/internal/types"
)

// DegenerateSegmentError reports a reconciled interval that cannot be a
// retiming target.
type DegenerateSegmentError struct {
	CaptionIndex int
	Span         time.Duration
}

func (e *DegenerateSegmentError) Error() string {
	if e.Span > 0 {
		return fmt.Sprintf("degenerate segment: caption %d: reconciled span %s is shorter than one frame", e.CaptionIndex, e.Span)
	}
	return fmt.Sprintf("degenerate segment: caption %d: reconciled span %s is not positive", e.CaptionIndex, e.Span)
}

// OutOfRangeSegmentWarning reports a caption starting at or after the end of the
// source video. It is not fatal; the caption gets no video segment.
type OutOfRangeSegmentWarning struct {
	CaptionIndex  int
	Start         time.Duration
	VideoDuration time.Duration
}

func (e *OutOfRangeSegmentWarning) Error() string {
	return fmt.Sprintf("out of range segment: caption %d starts at %s, video ends at %s", e.CaptionIndex, e.Start, e.VideoDuration)
}

// SpeedFactor is oldSpan/newSpan: above 1 speeds a clip up, below 1 slows it.
func SpeedFactor(oldSpan, newSpan time.Duration) (float64, error) {
	if newSpan <= 0 {
		return 0, &DegenerateSegmentError{CaptionIndex: -1, Span: newSpan}
	}
	return float64(oldSpan) / float64(newSpan), nil
}

// FrameAt is the index of the frame nearest to d at fps.
func FrameAt(d time.Duration, fps int) int64 {
	return (int64(d)*int64(fps) + int64(time.Second)/2) / int64(time.Second)
}

// Plan pairs original and reconciled captions and returns the video slice to
// cut for each, in caption order. Captions that cannot produce a segment are
// reported in issues as *OutOfRangeSegmentWarning or *DegenerateSegmentError; the
// remaining captions are still planned.
//
// With fps > 0 each segment's frame count is FrameAt(end) - FrameAt(start) of
// its reconciled interval, so the concatenated video stays on the narration
// timeline however many segments there are.
func Plan(original, reconciled types.Track, videoDuration time.Duration, fps int) (plans []types.VideoSegment, issues []error, err error) {
	if original.Len() != reconciled.Len() {
		return nil, nil, fmt.Errorf("retime: original track has %d captions, reconciled has %d", original.Len(), reconciled.Len())
	}
	if videoDuration <= 0 {
		return nil, nil, fmt.Errorf("retime: video duration %s is not positive", videoDuration)
	}
	for i, oc := range original.Captions {
		rc := reconciled.Captions[i]

		start := oc.Start
		if start < 0 {
			start = 0
		}
		if start >= videoDuration {
			issues = append(issues, &OutOfRangeSegmentWarning{CaptionIndex: i, Start: oc.Start, VideoDuration: videoDuration})
			continue
		}
		end := oc.End
		if end > videoDuration {
			end = videoDuration
		}

		newSpan := rc.End - rc.Start
		speed, err := SpeedFactor(end-start, newSpan)
		if err != nil {
			issues = append(issues, &DegenerateSegmentError{CaptionIndex: i, Span: newSpan})
			continue
		}
		var frames int
		if fps > 0 {
			frames = int(FrameAt(rc.End, fps) - FrameAt(rc.Start, fps))
			if frames <= 0 {
				issues = append(issues, &DegenerateSegmentError{CaptionIndex: i, Span: newSpan})
				continue
			}
		}
		plans = append(plans, types.VideoSegment{
			CaptionIndex: i,
			SourceStart:  start,
			SourceEnd:    end,
			TargetSpan:   newSpan,
			SpeedFactor:  speed,
			Frames:       frames,
		})
	}
	return plans, issues, nil
}
