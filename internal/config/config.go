package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "ytdub.toml"

// Paths contains tool locations and the scratch directory.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	EdgeTTS string `toml:"edge_tts"`
}

// Synthesis controls the speech engine and the reconciliation phase.
type Synthesis struct {
	Engine         string `toml:"engine"`
	Voice          string `toml:"voice"`
	Workers        int    `toml:"workers"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffMillis  int    `toml:"backoff_ms"`
	SampleRate     int    `toml:"sample_rate"`
}

// OpenAI holds connection settings for the openai engine.
type OpenAI struct {
	APIKey       string   `toml:"api_key"`
	BaseURL      string   `toml:"base_url"`
	Model        string   `toml:"model"`
	AllowedHosts []string `toml:"allowed_hosts"`
}

// Video controls retiming and assembly.
type Video struct {
	EncodeWorkers        int  `toml:"encode_workers"`
	EncodeTimeoutSeconds int  `toml:"encode_timeout_seconds"`
	FPS                  int  `toml:"fps"`
	BurnSubtitles        bool `toml:"burn_subtitles"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Paths     Paths     `toml:"paths"`
	Synthesis Synthesis `toml:"synthesis"`
	OpenAI    OpenAI    `toml:"openai"`
	Video     Video     `toml:"video"`
	Logging   Logging   `toml:"logging"`
}

const (
	EngineEdgeTTS = "edge-tts"
	EngineOpenAI  = "openai"
)

func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: ".cache",
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			EdgeTTS: "edge-tts",
		},
		Synthesis: Synthesis{
			Engine:         EngineEdgeTTS,
			Workers:        4,
			TimeoutSeconds: 60,
			MaxAttempts:    3,
			BackoffMillis:  500,
			SampleRate:     24000,
		},
		Video: Video{
			EncodeWorkers:        2,
			EncodeTimeoutSeconds: 600,
			FPS:                  30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over Default. An empty path falls back to DefaultPath
// when that file exists. The second return value reports whether a file
// was read.
func Load(path string) (Config, bool, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	file, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// ApplyEnv fills values that were left empty from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = getenv("OPENAI_BASE_URL")
	}
	if len(c.OpenAI.AllowedHosts) == 0 {
		if v := getenv("OPENAI_ALLOWED_HOSTS"); v != "" {
			for _, h := range strings.Split(v, ",") {
				if h = strings.TrimSpace(h); h != "" {
					c.OpenAI.AllowedHosts = append(c.OpenAI.AllowedHosts, h)
				}
			}
		}
	}
	if c.Synthesis.Voice == "" {
		c.Synthesis.Voice = getenv("YTDUB_VOICE")
	}
}

// Validate checks the values that do not depend on the command line.
func (c Config) Validate() error {
	switch c.Synthesis.Engine {
	case EngineEdgeTTS:
	case EngineOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key (or OPENAI_API_KEY) is required for the openai engine")
		}
	default:
		return fmt.Errorf("synthesis.engine: unsupported value %q", c.Synthesis.Engine)
	}
	if c.Synthesis.Workers <= 0 {
		return errors.New("synthesis.workers must be > 0")
	}
	if c.Synthesis.TimeoutSeconds <= 0 {
		return errors.New("synthesis.timeout_seconds must be > 0")
	}
	if c.Synthesis.MaxAttempts <= 0 {
		return errors.New("synthesis.max_attempts must be > 0")
	}
	if c.Synthesis.BackoffMillis < 0 {
		return errors.New("synthesis.backoff_ms must be >= 0")
	}
	if c.Synthesis.SampleRate < 8000 {
		return errors.New("synthesis.sample_rate must be >= 8000")
	}
	if c.Video.EncodeWorkers <= 0 {
		return errors.New("video.encode_workers must be > 0")
	}
	if c.Video.EncodeTimeoutSeconds <= 0 {
		return errors.New("video.encode_timeout_seconds must be > 0")
	}
	if c.Video.FPS < 0 {
		return errors.New("video.fps must be >= 0")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
