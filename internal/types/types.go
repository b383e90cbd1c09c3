package types

import "time"

// Caption is one time-coded line of narration. Index is the caption's
// 0-based position in its track.
type Caption struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

func (c Caption) Span() time.Duration { return c.End - c.Start }

// Track is an ordered caption sequence. Order is narration order.
type Track struct {
	Captions []Caption
}

func (t Track) Len() int { return len(t.Captions) }

// Duration returns the end of the last caption, or 0 for an empty track.
func (t Track) Duration() time.Duration {
	if len(t.Captions) == 0 {
		return 0
	}
	return t.Captions[len(t.Captions)-1].End
}

// Speech is what a synthesizer returns for one caption.
type Speech struct {
	Audio    []byte
	Format   string // container/codec extension, e.g. "mp3"
	Duration time.Duration
}

type SynthesizedSegment struct {
	CaptionIndex  int
	AudioPath     string
	RawDuration   time.Duration
	FinalDuration time.Duration
}

func (s SynthesizedSegment) Padding() time.Duration { return s.FinalDuration - s.RawDuration }

type VideoSegment struct {
	CaptionIndex int
	Path         string
	SourceStart  time.Duration
	SourceEnd    time.Duration
	TargetSpan   time.Duration
	SpeedFactor  float64
	// Frames is the exact frame count of the encoded segment, taken from its
	// absolute reconciled position. Zero leaves the count to the encoder.
	Frames int
}

// Gap records a caption that produced no video segment.
type Gap struct {
	CaptionIndex int
	Reason       string
}

type Manifest struct {
	Captions string            `json:"captions"`
	Video    string            `json:"video"`
	Voice    string            `json:"voice"`
	Output   string            `json:"output"`
	TotalSec float64           `json:"total_sec"`
	Entries  []ManifestCaption `json:"entries"`
}

type ManifestCaption struct {
	Index       int     `json:"index"`
	Text        string  `json:"text"`
	OrigStart   float64 `json:"orig_start_sec"`
	OrigEnd     float64 `json:"orig_end_sec"`
	Start       float64 `json:"start_sec"`
	End         float64 `json:"end_sec"`
	RawSec      float64 `json:"raw_sec"`
	FinalSec    float64 `json:"final_sec"`
	SpeedFactor float64 `json:"speed_factor,omitempty"`
	Gap         string  `json:"gap,omitempty"`
}
