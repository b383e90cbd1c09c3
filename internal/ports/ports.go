package ports

import (
	"context"
	"time"

	"github.com/wwwsec/yt-tools/internal/types"
)

// Synthesizer turns caption text into speech. voice is an opaque selector
// passed through to the engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (types.Speech, error)
}

type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

type VideoTool interface {
	DurationProber
	// DecodeAudio converts any audio input to mono 16-bit PCM WAV.
	DecodeAudio(ctx context.Context, in, outWav string, sampleRate int) error
	// RetimeClip cuts [start, end) from in, drops its audio and scales its
	// playback rate by speed. frames > 0 fixes the output frame count,
	// holding the last frame if the stretched cut runs short.
	RetimeClip(ctx context.Context, in string, start, end time.Duration, speed float64, frames int, outMP4 string) error
	ConcatClips(ctx context.Context, clips []string, listFile, outMP4 string) error
	// Mux writes video with audio as its only audio track, optionally burning
	// an ASS subtitle file.
	Mux(ctx context.Context, video, audio, outMP4, burnASS string) error
}
