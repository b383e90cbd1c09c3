package subtitles

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wwwsec/yt-tools/internal/types"
)

const sampleVTT = "\ufeffWEBVTT - narrated\nKind: captions\nLanguage: en\n\n" +
	"NOTE generated by whisper\n\n" +
	"1\n00:00:01.000 --> 00:00:03.500 align:start position:0%\nHello <c>world</c>\nsecond line\n\n" +
	"2\n00:04.250 --> 00:06.000\nshort form\n\n" +
	"01:00:00.000 --> 01:00:00.001\nlate\n"

func parseString(s string) (types.Track, error) { return Parse(strings.NewReader(s)) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestParse_Sample(t *testing.T) {
	tr, err := parseString(sampleVTT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []types.Caption{
		{Index: 0, Start: ms(1000), End: ms(3500), Text: "Hello <c>world</c>\nsecond line"},
		{Index: 1, Start: ms(4250), End: ms(6000), Text: "short form"},
		{Index: 2, Start: time.Hour, End: time.Hour + ms(1), Text: "late"},
	}
	if !reflect.DeepEqual(tr.Captions, want) {
		t.Fatalf("unexpected captions:\n got %#v\nwant %#v", tr.Captions, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
	}{
		{"empty", "", 0},
		{"no header", "00:00:01.000 --> 00:00:02.000\nhi\n", 1},
		{"bad header", "WEBVTTX\n\n00:00:01.000 --> 00:00:02.000\nhi\n", 1},
		{"bad timestamp", "WEBVTT\n\n00:00:01,000 --> 00:00:02.000\nhi\n", 3},
		{"two ms digits", "WEBVTT\n\n00:00:01.00 --> 00:00:02.000\nhi\n", 3},
		{"minutes out of range", "WEBVTT\n\n00:61:01.000 --> 01:00:02.000\nhi\n", 3},
		{"missing end", "WEBVTT\n\n00:00:01.000 -->\nhi\n", 3},
		{"start equals end", "WEBVTT\n\nid\n00:00:02.000 --> 00:00:02.000\nhi\n", 4},
		{"start after end", "WEBVTT\n\n00:00:03.000 --> 00:00:02.000\nhi\n", 3},
		{"overlap", "WEBVTT\n\n00:00:01.000 --> 00:00:03.000\na\n\n00:00:02.000 --> 00:00:04.000\nb\n", 6},
		{"no timing", "WEBVTT\n\nid\ntext only\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := parseString(tt.in)
			if err == nil {
				t.Fatalf("expected error, got track %#v", tr)
			}
			if !errors.Is(err, ErrMalformedTrack) {
				t.Fatalf("expected ErrMalformedTrack, got %v", err)
			}
			var me *MalformedTrackError
			if !errors.As(err, &me) {
				t.Fatalf("expected *MalformedTrackError, got %T", err)
			}
			if me.Line != tt.line {
				t.Fatalf("expected line %d, got %d (%v)", tt.line, me.Line, err)
			}
			if tr.Len() != 0 {
				t.Fatalf("expected no partial parse, got %d captions", tr.Len())
			}
		})
	}
}

func TestParse_AdjacentCaptionsAllowed(t *testing.T) {
	tr, err := parseString("WEBVTT\n\n00:01.000 --> 00:02.000\na\n\n00:02.000 --> 00:03.000\nb\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tr.Len() != 2 || tr.Captions[1].Start != tr.Captions[0].End {
		t.Fatalf("unexpected track: %#v", tr)
	}
}

func TestFormat_Canonical(t *testing.T) {
	tr := types.Track{Captions: []types.Caption{
		{Index: 0, Start: ms(1500), End: 2*time.Minute + ms(3004), Text: "hello\n\nagain"},
		{Index: 1, Start: 2*time.Minute + ms(3004) + 999*time.Microsecond, End: 3 * time.Hour, Text: "bye"},
	}}
	want := "WEBVTT\n\n" +
		"00:00:01.500 --> 00:02:03.004\nhello\nagain\n\n" +
		"00:02:03.004 --> 03:00:00.000\nbye\n\n"
	if got := Format(tr); got != want {
		t.Fatalf("unexpected format:\n got %q\nwant %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tracks := []types.Track{
		{},
		{Captions: []types.Caption{{Index: 0, Start: 0, End: ms(1)}}},
		{Captions: []types.Caption{
			{Index: 0, Start: ms(10), End: ms(2010), Text: "你好，世界"},
			{Index: 1, Start: ms(2010), End: ms(3000), Text: "two\nlines"},
			{Index: 2, Start: 99*time.Hour + ms(59999), End: 100 * time.Hour, Text: "edge"},
		}},
	}
	for i, tr := range tracks {
		got, err := parseString(Format(tr))
		if err != nil {
			t.Fatalf("track %d: parse: %v", i, err)
		}
		if len(got.Captions) != len(tr.Captions) {
			t.Fatalf("track %d: expected %d captions, got %d", i, len(tr.Captions), len(got.Captions))
		}
		for j := range tr.Captions {
			if !reflect.DeepEqual(got.Captions[j], tr.Captions[j]) {
				t.Fatalf("track %d caption %d: got %#v want %#v", i, j, got.Captions[j], tr.Captions[j])
			}
		}
	}
}

func TestTimestamp_TwoFieldNormalized(t *testing.T) {
	d, err := ParseTimestamp("59:59.999")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := FormatTimestamp(d); got != "00:59:59.999" {
		t.Fatalf("unexpected normalized timestamp: %s", got)
	}
	if got := FormatTimestamp(-time.Second); got != "00:00:00.000" {
		t.Fatalf("negative durations should clamp to zero, got %s", got)
	}
}

func TestFormatParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.vtt")
	tr := types.Track{Captions: []types.Caption{{Index: 0, Start: ms(500), End: ms(900), Text: "x"}}}
	if err := os.WriteFile(path, []byte(Format(tr)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if !reflect.DeepEqual(got, tr) {
		t.Fatalf("got %#v want %#v", got, tr)
	}
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(path); !errors.Is(err, ErrMalformedTrack) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestSpeakableText(t *testing.T) {
	tests := map[string]string{
		"plain":                          "plain",
		"<v Roger>Hi &amp; bye</v>":      "Hi & bye",
		"a<00:00:01.000><c> b</c>\n  c":  "a b c",
		"&lt;tag&gt;":                    "<tag>",
		"   ":                            "",
		"<i>italic</i>&nbsp;<b>bold</b>": "italic bold",
	}
	for in, want := range tests {
		if got := SpeakableText(in); got != want {
			t.Fatalf("SpeakableText(%q) = %q, want %q", in, got, want)
		}
	}
}
