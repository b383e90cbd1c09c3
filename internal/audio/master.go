package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth    = 16
	numChannels = 1
	pcmFormat   = 1
)

// Samples converts a timeline position to a sample offset, rounding to the
// nearest sample.
func Samples(d time.Duration, rate int) int64 {
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// Master writes the continuous narration track as mono 16-bit PCM WAV.
// Clips are placed by absolute timeline position so per-clip rounding never
// accumulates.
type Master struct {
	path    string
	rate    int
	f       *os.File
	enc     *wav.Encoder
	written int64
	closed  bool
}

func Create(path string, sampleRate int) (*Master, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("master track: invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create master track: %w", err)
	}
	return &Master{
		path: path,
		rate: sampleRate,
		f:    f,
		enc:  wav.NewEncoder(f, sampleRate, bitDepth, numChannels, pcmFormat),
	}, nil
}

func (m *Master) Path() string { return m.path }

// Duration is the audio written so far.
func (m *Master) Duration() time.Duration {
	return time.Duration(m.written * int64(time.Second) / int64(m.rate))
}

// Place writes clip so that it fills the timeline interval [start, end):
// the clip's samples first, then silence up to end. Samples past end are
// dropped. An empty clipPath writes silence only.
func (m *Master) Place(clipPath string, start, end time.Duration) error {
	if m.closed {
		return errors.New("master track: already closed")
	}
	from, to := Samples(start, m.rate), Samples(end, m.rate)
	if from != m.written {
		return fmt.Errorf("master track: interval starts at sample %d, track is at %d", from, m.written)
	}
	want := to - from
	if want < 0 {
		return fmt.Errorf("master track: negative interval [%s, %s)", start, end)
	}

	var data []int
	if clipPath != "" {
		pcm, err := readClip(clipPath, m.rate)
		if err != nil {
			return err
		}
		data = pcm
	}
	if int64(len(data)) > want {
		data = data[:want]
	}
	if pad := want - int64(len(data)); pad > 0 {
		data = append(data, make([]int, pad)...)
	}
	if len(data) == 0 {
		return nil
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: m.rate, NumChannels: numChannels},
		SourceBitDepth: bitDepth,
	}
	if err := m.enc.Write(buf); err != nil {
		return fmt.Errorf("master track: write: %w", err)
	}
	m.written += int64(len(data))
	return nil
}

// Close finalizes the WAV header. It is safe to call more than once.
func (m *Master) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	encErr := m.enc.Close()
	fileErr := m.f.Close()
	if encErr != nil {
		return fmt.Errorf("master track: finalize: %w", encErr)
	}
	return fileErr
}

func readClip(path string, rate int) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("clip %s: not a valid wav file", path)
	}
	if int(dec.SampleRate) != rate || dec.NumChans != numChannels || dec.BitDepth != bitDepth {
		return nil, fmt.Errorf("clip %s: got %dHz/%dch/%dbit, want %dHz/%dch/%dbit",
			path, dec.SampleRate, dec.NumChans, dec.BitDepth, rate, numChannels, bitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode clip %s: %w", path, err)
	}
	return buf.Data, nil
}

// ClipDuration reports the length of a WAV clip from its decoded frame
// count. The RIFF chunk size also counts header bytes.
func ClipDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("clip %s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("decode clip %s: %w", path, err)
	}
	if dec.SampleRate == 0 || buf.Format == nil || buf.Format.NumChannels == 0 {
		return 0, fmt.Errorf("clip %s: missing format", path)
	}
	frames := int64(len(buf.Data) / buf.Format.NumChannels)
	return time.Duration(frames * int64(time.Second) / int64(dec.SampleRate)), nil
}
