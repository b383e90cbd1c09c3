package edgetts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/text/language"

	"github.com/wwwsec/yt-tools/internal/ports"
	"github.com/wwwsec/yt-tools/internal/types"
)

const DefaultVoice = "zh-CN-YunyangNeural"

// Adapter drives the edge-tts command line client.
type Adapter struct {
	bin    string
	tmpDir string
	probe  ports.DurationProber
}

func New(binPath, tmpDir string, probe ports.DurationProber) *Adapter {
	if binPath == "" {
		binPath = "edge-tts"
	}
	return &Adapter{bin: binPath, tmpDir: tmpDir, probe: probe}
}

func (a *Adapter) Synthesize(ctx context.Context, text, voice string) (types.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return types.Speech{}, errors.New("edge-tts: empty text")
	}
	if voice == "" {
		voice = DefaultVoice
	}
	if err := ValidateVoice(voice); err != nil {
		return types.Speech{}, err
	}

	f, err := os.CreateTemp(a.tmpDir, "edge-tts-*.mp3")
	if err != nil {
		return types.Speech{}, fmt.Errorf("edge-tts: %w", err)
	}
	out := f.Name()
	_ = f.Close()
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, a.bin,
		"--voice", voice,
		"--text", text,
		"--write-media", out,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return types.Speech{}, fmt.Errorf("edge-tts: %w", ctx.Err())
		}
		return types.Speech{}, fmt.Errorf("edge-tts failed: %w\n%s", err, strings.TrimSpace(string(b)))
	}

	audio, err := os.ReadFile(out)
	if err != nil {
		return types.Speech{}, err
	}
	if len(audio) == 0 {
		return types.Speech{}, errors.New("edge-tts: no audio written")
	}
	d, err := a.probe.ProbeDuration(ctx, out)
	if err != nil {
		return types.Speech{}, fmt.Errorf("edge-tts: %w", err)
	}
	return types.Speech{Audio: audio, Format: "mp3", Duration: d}, nil
}

// ValidateVoice checks that voice looks like an edge-tts short name: a
// locale followed by a voice name, e.g. zh-CN-YunyangNeural.
func ValidateVoice(voice string) error {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) != 3 || parts[2] == "" {
		return fmt.Errorf("edge-tts: voice %q must look like <lang>-<REGION>-<Name>", voice)
	}
	tag, err := language.Parse(parts[0] + "-" + parts[1])
	if err != nil {
		return fmt.Errorf("edge-tts: voice %q has invalid locale: %w", voice, err)
	}
	if _, conf := tag.Region(); conf != language.Exact {
		return fmt.Errorf("edge-tts: voice %q has no region", voice)
	}
	return nil
}
