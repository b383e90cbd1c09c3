package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/wwwsec/yt-tools/internal/ports"
	"github.com/wwwsec/yt-tools/internal/types"
)

const (
	DefaultModel = string(goopenai.TTSModel1)
	DefaultVoice = string(goopenai.VoiceNova)
)

// Adapter synthesizes speech with the OpenAI audio API.
type Adapter struct {
	key    string
	model  string
	client *goopenai.Client
	tmpDir string
	probe  ports.DurationProber
}

// New returns an adapter for baseURL (DefaultBaseURL when empty). On Azure
// endpoints model names the deployment.
func New(apiKey, model, baseURL, tmpDir string, probe ports.DurationProber) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{
		key:    apiKey,
		model:  model,
		client: goopenai.NewClientWithConfig(clientConfig(apiKey, baseURL)),
		tmpDir: tmpDir,
		probe:  probe,
	}
}

func (a *Adapter) Synthesize(ctx context.Context, text, voice string) (types.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return types.Speech{}, errors.New("openai speech: empty text")
	}
	if voice == "" {
		voice = DefaultVoice
	}
	resp, err := a.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(a.model),
		Input:          text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return types.Speech{}, fmt.Errorf("openai speech: %s", redactSecrets(err.Error(), a.key))
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return types.Speech{}, fmt.Errorf("openai speech: read body: %w", err)
	}
	if len(audio) == 0 {
		return types.Speech{}, errors.New("openai speech: empty audio")
	}

	f, err := os.CreateTemp(a.tmpDir, "openai-*.mp3")
	if err != nil {
		return types.Speech{}, fmt.Errorf("openai speech: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		return types.Speech{}, fmt.Errorf("openai speech: %w", err)
	}
	if err := f.Close(); err != nil {
		return types.Speech{}, fmt.Errorf("openai speech: %w", err)
	}
	d, err := a.probe.ProbeDuration(ctx, f.Name())
	if err != nil {
		return types.Speech{}, fmt.Errorf("openai speech: %w", err)
	}
	return types.Speech{Audio: audio, Format: "mp3", Duration: d}, nil
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
