package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"speechd/internal/common/fsutil"
	"speechd/internal/engine"
)

// Family configures one model family (asr or tts).
type Family struct {
	// TTLSeconds is the idle time before a model is unloaded. Negative never
	// expires, zero unloads on last release. Nil means the default.
	TTLSeconds *int   `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	ModelsDir  string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Catalog is an optional YAML file adding or overriding downloadable models.
	Catalog   string                 `json:"catalog" yaml:"catalog" toml:"catalog"`
	Bin       string                 `json:"bin" yaml:"bin" toml:"bin"`
	Threads   int                    `json:"threads" yaml:"threads" toml:"threads"`
	Providers engine.ProviderOptions `json:"providers" yaml:"providers" toml:"providers"`
}

// TTL returns the idle TTL as a duration.
func (f Family) TTL() time.Duration {
	if f.TTLSeconds == nil {
		return DefaultTTL
	}
	return time.Duration(*f.TTLSeconds) * time.Second
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Default() values.
type Config struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat   string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	DataDir     string   `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	EventsDB    string   `json:"events_db" yaml:"events_db" toml:"events_db"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	ASR         Family   `json:"asr" yaml:"asr" toml:"asr"`
	TTS         Family   `json:"tts" yaml:"tts" toml:"tts"`
}

// DefaultTTL is the idle TTL used when a family does not set one.
const DefaultTTL = 300 * time.Second

// Default returns the built-in configuration rooted at the user data dir.
func Default() Config {
	data, err := fsutil.DataDir("speechd")
	if err != nil {
		data = ".speechd"
	}
	return Config{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "console",
		DataDir:   data,
		EventsDB:  filepath.Join(data, "events.db"),
		ASR: Family{
			ModelsDir: filepath.Join(data, "whisper"),
			Bin:       "whisper-server",
		},
		TTS: Family{
			ModelsDir: filepath.Join(data, "piper"),
			Bin:       "piper",
		},
	}
}

// WithDefaults fills unset fields of c from Default().
func (c Config) WithDefaults() Config {
	d := Default()
	if c.DataDir != "" && c.DataDir != d.DataDir {
		// derived paths follow an explicit data dir
		d.EventsDB = filepath.Join(c.DataDir, "events.db")
		d.ASR.ModelsDir = filepath.Join(c.DataDir, "whisper")
		d.TTS.ModelsDir = filepath.Join(c.DataDir, "piper")
		d.DataDir = c.DataDir
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.EventsDB == "" {
		c.EventsDB = d.EventsDB
	}
	c.ASR = c.ASR.withDefaults(d.ASR)
	c.TTS = c.TTS.withDefaults(d.TTS)
	return c
}

func (f Family) withDefaults(d Family) Family {
	if f.ModelsDir == "" {
		f.ModelsDir = d.ModelsDir
	}
	if f.Bin == "" {
		f.Bin = d.Bin
	}
	return f
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
