package reconcile

import (
	"fmt"
	"time"

	"github.com/wwwsec/yt-tools/internal/types"
)

// FinalDuration is the length a caption's audio occupies on the reconciled
// timeline: short synthesis is padded with silence up to the caption span,
// long synthesis is never shortened.
func FinalDuration(raw, span time.Duration) time.Duration {
	if raw < span {
		return span
	}
	return raw
}

// Accumulator tracks elapsed reconciled time. It has a single writer: the
// in-order fold.
type Accumulator struct {
	elapsed time.Duration
	placed  int
}

// Place assigns the next interval of length final and advances past it.
func (a *Accumulator) Place(final time.Duration) (start, end time.Duration) {
	start = a.elapsed
	end = start + final
	a.elapsed = end
	a.placed++
	return start, end
}

// Elapsed is the end of the last placed interval.
func (a *Accumulator) Elapsed() time.Duration { return a.elapsed }

// Placed counts the intervals assigned so far.
func (a *Accumulator) Placed() int { return a.placed }

// Fold builds the reconciled track from the original track and the raw
// synthesized duration of every caption, in index order. raws[i] belongs to
// original.Captions[i]. Text and order are preserved.
func Fold(original types.Track, raws []time.Duration) (types.Track, []types.SynthesizedSegment, error) {
	if len(raws) != len(original.Captions) {
		return types.Track{}, nil, fmt.Errorf("reconcile: %d durations for %d captions", len(raws), len(original.Captions))
	}
	var acc Accumulator
	out := types.Track{Captions: make([]types.Caption, 0, len(raws))}
	segs := make([]types.SynthesizedSegment, 0, len(raws))
	for i, c := range original.Captions {
		raw := raws[i]
		if raw < 0 {
			return types.Track{}, nil, fmt.Errorf("reconcile: caption %d: negative synthesized duration %s", i, raw)
		}
		// Final duration must be known before the accumulator moves.
		final := FinalDuration(raw, c.Span())
		start, end := acc.Place(final)
		out.Captions = append(out.Captions, types.Caption{
			Index: i,
			Start: start,
			End:   end,
			Text:  c.Text,
		})
		segs = append(segs, types.SynthesizedSegment{
			CaptionIndex:  i,
			RawDuration:   raw,
			FinalDuration: final,
		})
	}
	return out, segs, nil
}
