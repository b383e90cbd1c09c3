package subtitles

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wwwsec/yt-tools/internal/types"
)

const vttHeader = "WEBVTT"

// ErrMalformedTrack matches every *MalformedTrackError via errors.Is.
var ErrMalformedTrack = errors.New("malformed track")

// MalformedTrackError reports why a caption track could not be parsed.
// Line is 1-based and 0 when the problem is not tied to a line.
type MalformedTrackError struct {
	Line   int
	Reason string
}

func (e *MalformedTrackError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed track: line %d: %s", e.Line, e.Reason)
	}
	return "malformed track: " + e.Reason
}

func (e *MalformedTrackError) Is(target error) bool { return target == ErrMalformedTrack }

func malformed(line int, format string, args ...any) error {
	return &MalformedTrackError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// HH:MM:SS.mmm with two or more hour digits, or MM:SS.mmm.
var timestampRE = regexp.MustCompile(`^(?:(\d{2,}):)?([0-5]\d):([0-5]\d)\.(\d{3})$`)

// ParseTimestamp parses a WebVTT timestamp. The two-field form is read as
// having zero hours.
func ParseTimestamp(s string) (time.Duration, error) {
	m := timestampRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var h int
	if m[1] != "" {
		var err error
		if h, err = strconv.Atoi(m[1]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])
	return time.Duration(h)*time.Hour +
		time.Duration(mi)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTimestamp renders d as HH:MM:SS.mmm, truncating below a millisecond.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Millisecond)
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	ms := int(d / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

type block struct {
	line  int
	lines []string
}

// Parse reads a WebVTT caption track. Captions must be non-empty intervals in
// non-overlapping, advancing order; any violation fails the whole parse.
func Parse(r io.Reader) (types.Track, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return types.Track{}, fmt.Errorf("read track: %w", err)
	}
	if len(lines) == 0 {
		return types.Track{}, malformed(0, "empty input, missing %s header", vttHeader)
	}
	lines[0] = strings.TrimPrefix(lines[0], "\ufeff")
	if !isHeader(lines[0]) {
		return types.Track{}, malformed(1, "missing %s header", vttHeader)
	}

	var tr types.Track
	for _, b := range splitBlocks(lines) {
		if b.line == 1 || isSkippedBlock(b.lines[0]) {
			continue
		}
		c, err := parseCue(b)
		if err != nil {
			return types.Track{}, err
		}
		c.Index = len(tr.Captions)
		if n := len(tr.Captions); n > 0 && c.Start < tr.Captions[n-1].End {
			return types.Track{}, malformed(b.line, "caption %d starts at %s before previous caption ends at %s",
				c.Index, FormatTimestamp(c.Start), FormatTimestamp(tr.Captions[n-1].End))
		}
		tr.Captions = append(tr.Captions, c)
	}
	return tr, nil
}

// ParseFile parses the WebVTT file at path. Errors are prefixed with path.
func ParseFile(path string) (types.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Track{}, err
	}
	defer f.Close()
	tr, err := Parse(f)
	if err != nil {
		return types.Track{}, fmt.Errorf("%s: %w", path, err)
	}
	return tr, nil
}

func isHeader(line string) bool {
	if line == vttHeader {
		return true
	}
	return strings.HasPrefix(line, vttHeader+" ") || strings.HasPrefix(line, vttHeader+"\t")
}

func isSkippedBlock(first string) bool {
	for _, kw := range []string{"NOTE", "STYLE", "REGION"} {
		if first == kw || strings.HasPrefix(first, kw+" ") || strings.HasPrefix(first, kw+"\t") {
			return true
		}
	}
	return false
}

func splitBlocks(lines []string) []block {
	var out []block
	var cur *block
	for i, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &block{line: i + 1}
		}
		cur.lines = append(cur.lines, ln)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func parseCue(b block) (types.Caption, error) {
	timing := -1
	switch {
	case strings.Contains(b.lines[0], "-->"):
		timing = 0
	case len(b.lines) > 1 && strings.Contains(b.lines[1], "-->"):
		timing = 1 // cue identifier precedes the timing line
	default:
		return types.Caption{}, malformed(b.line, "cue without timing line")
	}
	line := b.line + timing

	left, right, _ := strings.Cut(b.lines[timing], "-->")
	start, err := ParseTimestamp(left)
	if err != nil {
		return types.Caption{}, malformed(line, "%v", err)
	}
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return types.Caption{}, malformed(line, "missing end timestamp")
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return types.Caption{}, malformed(line, "%v", err)
	}
	if start >= end {
		return types.Caption{}, malformed(line, "start %s is not before end %s", FormatTimestamp(start), FormatTimestamp(end))
	}
	return types.Caption{
		Start: start,
		End:   end,
		Text:  strings.Join(b.lines[timing+1:], "\n"),
	}, nil
}

// Format serializes tr in canonical WebVTT form. Blank lines inside caption
// text are dropped since they would split the cue.
func Format(tr types.Track) string {
	var b strings.Builder
	b.WriteString(vttHeader)
	b.WriteString("\n\n")
	for _, c := range tr.Captions {
		b.WriteString(FormatTimestamp(c.Start))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(c.End))
		b.WriteString("\n")
		for _, ln := range strings.Split(c.Text, "\n") {
			if strings.TrimSpace(ln) == "" {
				continue
			}
			b.WriteString(ln)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

var (
	inlineTagRE = regexp.MustCompile(`<[^>]*>`)
	entities    = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&nbsp;", " ", "&lrm;", "", "&rlm;", "")
)

// SpeakableText strips inline cue markup (voice/class spans, karaoke
// timestamps) and entities, leaving the words a synthesizer should read.
func SpeakableText(text string) string {
	text = inlineTagRE.ReplaceAllString(text, "")
	text = entities.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
