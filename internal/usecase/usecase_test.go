package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/wwwsec/yt-tools/internal/audio"
	"github.com/wwwsec/yt-tools/internal/domain/subtitles"
	"github.com/wwwsec/yt-tools/internal/types"
	"github.com/wwwsec/yt-tools/internal/workspace"
)

const testRate = 1000

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func track(caps ...types.Caption) types.Track {
	for i := range caps {
		caps[i].Index = i
	}
	return types.Track{Captions: caps}
}

// threeCaptions has raw speech lengths 1.5s, 0.8s and 3.5s against spans of
// 2s, 1s and 2s.
func threeCaptions() (types.Track, *fakeSynth) {
	tr := track(
		types.Caption{Start: 0, End: ms(2000), Text: "first"},
		types.Caption{Start: ms(2000), End: ms(3000), Text: "second"},
		types.Caption{Start: ms(3000), End: ms(5000), Text: "third"},
	)
	return tr, newFakeSynth(map[string]time.Duration{
		"first":  ms(1500),
		"second": ms(800),
		"third":  ms(3500),
	})
}

func newInput(t *testing.T, tr types.Track) Input {
	t.Helper()
	return Input{
		Track:         tr,
		TrackPath:     "in.vtt",
		VideoPath:     "in.mp4",
		Output:        filepath.Join(t.TempDir(), "output.mp4"),
		Voice:         "zh-CN-YunyangNeural",
		SampleRate:    testRate,
		SynthWorkers:  3,
		SynthRetry:    RetryPolicy{MaxAttempts: 3},
		EncodeWorkers: 2,
		EncodeRetry:   RetryPolicy{MaxAttempts: 1},
	}
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(t.TempDir(), "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ws.Release)
	return ws
}

func TestRun_ReconcilesRetimesAndAssembles(t *testing.T) {
	tr, synth := threeCaptions()
	video := &fakeVideoTool{duration: 10 * time.Second}
	uc := New(Deps{Video: video, Synth: synth})
	ws := newWorkspace(t)

	in := newInput(t, tr)
	dir := filepath.Dir(in.Output)
	in.SubtitlesOut = filepath.Join(dir, "adjusted.vtt")
	in.ManifestOut = filepath.Join(dir, "manifest.json")

	res, err := uc.Run(context.Background(), ws, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantStarts := []time.Duration{0, ms(2000), ms(3000)}
	wantEnds := []time.Duration{ms(2000), ms(3000), ms(6500)}
	for i, c := range res.Reconciled.Captions {
		if c.Start != wantStarts[i] || c.End != wantEnds[i] || c.Text != tr.Captions[i].Text {
			t.Fatalf("caption %d = %+v", i, c)
		}
	}

	d, err := audio.ClipDuration(filepath.Join(ws.Dir(), "narration.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if d != ms(6500) {
		t.Fatalf("master track length = %s, want 6.5s", d)
	}
	if n := len(readWAV(t, filepath.Join(ws.Dir(), "narration.wav"))); n != 6500 {
		t.Fatalf("master track has %d samples, want 6500", n)
	}

	wantSpeed := []float64{1, 1, 2.0 / 3.5}
	if len(res.Video) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(res.Video))
	}
	for i, s := range res.Video {
		if s.CaptionIndex != i || !approx(s.SpeedFactor, wantSpeed[i]) {
			t.Fatalf("segment %d = %+v", i, s)
		}
	}
	if len(res.Gaps) != 0 {
		t.Fatalf("unexpected gaps %v", res.Gaps)
	}

	if got := video.concatOrder(); strings.Join(got, ",") != "0000.mp4,0001.mp4,0002.mp4" {
		t.Fatalf("unexpected concat order %v", got)
	}
	if video.muxAudio != filepath.Join(ws.Dir(), "narration.wav") || video.muxBurn != "" {
		t.Fatalf("unexpected mux inputs audio=%q burn=%q", video.muxAudio, video.muxBurn)
	}
	if b, err := os.ReadFile(in.Output); err != nil || string(b) != "muxed" {
		t.Fatalf("output not published: %q %v", b, err)
	}

	side, err := subtitles.ParseFile(in.SubtitlesOut)
	if err != nil {
		t.Fatalf("parse sidecar: %v", err)
	}
	if side.Duration() != ms(6500) || side.Len() != 3 {
		t.Fatalf("unexpected sidecar %+v", side)
	}

	var m types.Manifest
	b, err := os.ReadFile(in.ManifestOut)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Entries) != 3 || m.TotalSec != 6.5 || m.Entries[1].RawSec != 0.8 || m.Entries[1].FinalSec != 1 {
		t.Fatalf("unexpected manifest %+v", m)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	ws.Release()
	for _, e := range entries {
		if strings.Contains(e.Name(), ".partial-") {
			if _, err := os.Stat(filepath.Join(dir, e.Name())); !os.IsNotExist(err) {
				t.Fatalf("temporary file %s left behind", e.Name())
			}
		}
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace not removed")
	}
}

func TestRun_OutOfRangeCaptionIsGap(t *testing.T) {
	tr := track(
		types.Caption{Start: 0, End: ms(2000), Text: "first"},
		types.Caption{Start: ms(2000), End: ms(3000), Text: "second"},
		types.Caption{Start: ms(5000), End: ms(6000), Text: "third"},
	)
	synth := newFakeSynth(map[string]time.Duration{"first": ms(1000), "second": ms(1000), "third": ms(1000)})
	video := &fakeVideoTool{duration: 4 * time.Second}
	uc := New(Deps{Video: video, Synth: synth})
	ws := newWorkspace(t)

	res, err := uc.Run(context.Background(), ws, newInput(t, tr))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Video) != 2 || len(res.Gaps) != 1 || res.Gaps[0].CaptionIndex != 2 {
		t.Fatalf("unexpected segments=%v gaps=%v", res.Video, res.Gaps)
	}
	// Audio for the gap caption is still on the timeline.
	if res.Reconciled.Duration() != ms(4000) {
		t.Fatalf("reconciled duration = %s", res.Reconciled.Duration())
	}
	pcm := readWAV(t, filepath.Join(ws.Dir(), "narration.wav"))
	if len(pcm) != 4000 {
		t.Fatalf("narration has %d samples, want 4000", len(pcm))
	}
	gap := res.Reconciled.Captions[2]
	from, to := audio.Samples(gap.Start, testRate), audio.Samples(gap.End, testRate)
	for i := from; i < to; i++ {
		if pcm[i] == 0 {
			t.Fatalf("gap caption audio missing at sample %d", i)
		}
	}
	if res.Manifest.Entries[2].Gap != "out of range" || res.Manifest.Entries[2].SpeedFactor != 0 {
		t.Fatalf("unexpected manifest entry %+v", res.Manifest.Entries[2])
	}
}

func TestRun_PinsSegmentFramesToNarration(t *testing.T) {
	tr, synth := threeCaptions()
	video := &fakeVideoTool{duration: 10 * time.Second}
	uc := New(Deps{Video: video, Synth: synth})

	in := newInput(t, tr)
	in.FPS = 30
	res, err := uc.Run(context.Background(), newWorkspace(t), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]int{"0000.mp4": 60, "0001.mp4": 30, "0002.mp4": 105}
	total := 0
	for name, n := range want {
		if video.frames[name] != n {
			t.Fatalf("%s encoded with %d frames, want %d", name, video.frames[name], n)
		}
		total += n
	}
	if total != int(res.Reconciled.Duration().Seconds()*30) {
		t.Fatalf("video frames %d do not cover narration %s", total, res.Reconciled.Duration())
	}
}

func TestRun_AllGapsFails(t *testing.T) {
	tr := track(types.Caption{Start: ms(5000), End: ms(6000), Text: "late"})
	video := &fakeVideoTool{duration: 4 * time.Second}
	uc := New(Deps{Video: video, Synth: newFakeSynth(map[string]time.Duration{"late": ms(500)})})

	in := newInput(t, tr)
	_, err := uc.Run(context.Background(), newWorkspace(t), in)
	if !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
	if _, err := os.Stat(in.Output); !os.IsNotExist(err) {
		t.Fatalf("output must not exist")
	}
}

func TestRun_EmptyTextIsSilenceWithoutSynthesis(t *testing.T) {
	tr := track(
		types.Caption{Start: 0, End: ms(1000), Text: "hello"},
		types.Caption{Start: ms(1000), End: ms(2500), Text: "<i> </i>"},
	)
	synth := newFakeSynth(map[string]time.Duration{"hello": ms(1200)})
	uc := New(Deps{Video: &fakeVideoTool{duration: time.Minute}, Synth: synth})

	res, err := uc.Run(context.Background(), newWorkspace(t), newInput(t, tr))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if synth.callCount("") != 0 || synth.totalCalls() != 1 {
		t.Fatalf("synthesizer called for empty text: %d calls", synth.totalCalls())
	}
	seg := res.Synth[1]
	if seg.RawDuration != 0 || seg.FinalDuration != ms(1500) || seg.AudioPath != "" {
		t.Fatalf("unexpected silent segment %+v", seg)
	}
	if res.Reconciled.Captions[1].Start != ms(1200) || res.Reconciled.Duration() != ms(2700) {
		t.Fatalf("unexpected reconciled track %+v", res.Reconciled)
	}
}

func TestRun_BurnSubtitles(t *testing.T) {
	tr, synth := threeCaptions()
	video := &fakeVideoTool{duration: 10 * time.Second}
	uc := New(Deps{Video: video, Synth: synth})
	ws := newWorkspace(t)

	in := newInput(t, tr)
	in.BurnSubtitles = true
	if _, err := uc.Run(context.Background(), ws, in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if video.muxBurn != ws.Path("dub.ass") {
		t.Fatalf("unexpected burn path %q", video.muxBurn)
	}
	b, err := os.ReadFile(video.muxBurn)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(b), "Dialogue:") != 3 || !strings.Contains(string(b), "0:00:03.00,0:00:06.50") {
		t.Fatalf("unexpected ass:\n%s", b)
	}
}

func TestRun_MuxFailureLeavesNothing(t *testing.T) {
	tr, synth := threeCaptions()
	video := &fakeVideoTool{duration: 10 * time.Second, muxErr: errors.New("encoder exploded")}
	uc := New(Deps{Video: video, Synth: synth})
	ws, err := workspace.Create(t.TempDir(), "test", nil)
	if err != nil {
		t.Fatal(err)
	}

	in := newInput(t, tr)
	in.ManifestOut = filepath.Join(filepath.Dir(in.Output), "manifest.json")
	_, err = uc.Run(context.Background(), ws, in)
	if err == nil || !strings.Contains(err.Error(), "encoder exploded") {
		t.Fatalf("expected mux error, got %v", err)
	}
	ws.Release()

	entries, err := os.ReadDir(filepath.Dir(in.Output))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty output dir, found %d entries (first %s)", len(entries), entries[0].Name())
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace not removed")
	}
}

func TestRun_Cancelled(t *testing.T) {
	tr, synth := threeCaptions()
	video := &fakeVideoTool{duration: 10 * time.Second}
	uc := New(Deps{Video: video, Synth: synth})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := newInput(t, tr)
	_, err := uc.Run(ctx, newWorkspace(t), in)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(in.Output); !os.IsNotExist(err) {
		t.Fatalf("output must not exist after cancellation")
	}
	if video.muxCalls != 0 {
		t.Fatalf("mux must not run after cancellation")
	}
}

func TestReconcile_RetriesThenSucceeds(t *testing.T) {
	tr, synth := threeCaptions()
	synth.failures["second"] = 2
	uc := New(Deps{Video: &fakeVideoTool{}, Synth: synth})

	res, err := uc.Reconcile(context.Background(), ReconcileInput{
		Track:      tr,
		WorkDir:    t.TempDir(),
		SampleRate: testRate,
		Workers:    1,
		Retry:      RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if synth.callCount("second") != 3 {
		t.Fatalf("expected 3 calls, got %d", synth.callCount("second"))
	}
	if res.Track.Duration() != ms(6500) {
		t.Fatalf("unexpected duration %s", res.Track.Duration())
	}
}

func TestReconcile_RetryExhausted(t *testing.T) {
	tr, synth := threeCaptions()
	synth.failures["second"] = 100
	uc := New(Deps{Video: &fakeVideoTool{}, Synth: synth})

	_, err := uc.Reconcile(context.Background(), ReconcileInput{
		Track:      tr,
		WorkDir:    t.TempDir(),
		SampleRate: testRate,
		Workers:    3,
		Retry:      RetryPolicy{MaxAttempts: 3},
	})
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if se.Index != 1 || se.Attempts != 3 || se.Text != "second" || !errors.Is(err, errSynthDown) {
		t.Fatalf("unexpected error %+v", se)
	}
	if !strings.Contains(err.Error(), `caption 1 "second" after 3 attempt(s)`) {
		t.Fatalf("message lacks caption index and text: %v", err)
	}
}

func TestSynthesisError_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("语", maxErrorText+20)
	msg := (&SynthesisError{Index: 7, Text: long, Attempts: 1, Err: errSynthDown}).Error()
	want := fmt.Sprintf("caption 7 %q", strings.Repeat("语", maxErrorText)+"...")
	if !strings.Contains(msg, want) {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	n, err := retry(ctx, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, New(Deps{}).log, func(context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 || n != 1 {
		t.Fatalf("n=%d calls=%d err=%v", n, calls, err)
	}
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	n, err := retry(context.Background(), RetryPolicy{MaxAttempts: 2, Timeout: 5 * time.Millisecond}, New(Deps{}).log, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

var errSynthDown = errors.New("synthesizer unavailable")

type fakeSynth struct {
	mu       sync.Mutex
	raw      map[string]time.Duration
	failures map[string]int
	calls    map[string]int
}

func newFakeSynth(raw map[string]time.Duration) *fakeSynth {
	return &fakeSynth{raw: raw, failures: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, _ string) (types.Speech, error) {
	if err := ctx.Err(); err != nil {
		return types.Speech{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	if f.calls[text] <= f.failures[text] {
		return types.Speech{}, errSynthDown
	}
	d, ok := f.raw[text]
	if !ok {
		return types.Speech{}, fmt.Errorf("unexpected text %q", text)
	}
	return types.Speech{Audio: []byte(fmt.Sprintf("ms=%d", d.Milliseconds())), Format: "txt", Duration: d}, nil
}

func (f *fakeSynth) callCount(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeSynth) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeVideoTool struct {
	duration time.Duration
	muxErr   error

	mu       sync.Mutex
	concat   []string
	muxAudio string
	muxBurn  string
	muxCalls int
	frames   map[string]int
}

// DecodeAudio turns the fake "ms=N" payload into N ms of PCM.
func (f *fakeVideoTool) DecodeAudio(_ context.Context, in, outWav string, sampleRate int) error {
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var n int
	if _, err := fmt.Sscanf(string(b), "ms=%d", &n); err != nil {
		return err
	}
	data := make([]int, audio.Samples(ms(n), sampleRate))
	for i := range data {
		data[i] = 100
	}
	return writeWAV(outWav, sampleRate, data)
}

func writeWAV(path string, rate int, data []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: 1},
		SourceBitDepth: 16,
	}); err != nil {
		return err
	}
	return enc.Close()
}

func readWAV(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Data
}

func (f *fakeVideoTool) RetimeClip(ctx context.Context, _ string, _, _ time.Duration, _ float64, frames int, outMP4 string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.frames == nil {
		f.frames = map[string]int{}
	}
	f.frames[filepath.Base(outMP4)] = frames
	f.mu.Unlock()
	return os.WriteFile(outMP4, []byte("clip"), 0o644)
}

func (f *fakeVideoTool) ConcatClips(_ context.Context, clips []string, _, outMP4 string) error {
	f.mu.Lock()
	f.concat = append([]string(nil), clips...)
	f.mu.Unlock()
	return os.WriteFile(outMP4, []byte("joined"), 0o644)
}

func (f *fakeVideoTool) Mux(ctx context.Context, _, audioPath, outMP4, burnASS string) error {
	f.mu.Lock()
	f.muxCalls++
	f.muxAudio = audioPath
	f.muxBurn = burnASS
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.muxErr != nil {
		return f.muxErr
	}
	return os.WriteFile(outMP4, []byte("muxed"), 0o644)
}

func (f *fakeVideoTool) ProbeDuration(context.Context, string) (time.Duration, error) {
	return f.duration, nil
}

func (f *fakeVideoTool) concatOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.concat))
	for i, c := range f.concat {
		out[i] = filepath.Base(c)
	}
	return out
}
