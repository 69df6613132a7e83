// Package config handles kgbridge configuration loading and management.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// DigitalVehicleTwinNamespace is the default domain namespace bound to the
// default prefix.
const DigitalVehicleTwinNamespace = "https://graph.bmwgroup.net/Ontology/DigitalVehicleTwinOntology-1.0/"

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".kgbridge")

	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadMB:    32,
			MaxConnections: 64,
			ChatRatePerSec: 2,
			ChatBurst:      4,
		},
		Upload: UploadConfig{
			AllowedExtensions: []string{"ttl", "owl", "rdf", "xml", "nt"},
		},
		Graph: GraphConfig{
			DefaultPrefix:    "dvt",
			DefaultNamespace: DigitalVehicleTwinNamespace,
		},
		Retrieval: RetrievalConfig{
			Enabled:        true,
			Embedder:       string(EmbedderOpenAI),
			EmbeddingModel: "text-embedding-3-small",
			ChunkSize:      1000,
			ChunkOverlap:   200,
			DefaultK:       4,
			MaxK:           10,
			CacheEmbedding: true,
		},
		Model: ModelConfig{
			BaseURL:               "https://api.openai.com/v1",
			Name:                  "gpt-4o",
			APIKeyEnv:             "OPENAI_API_KEY",
			FirstTurnTemperature:  0,
			SecondTurnTemperature: 0,
			MaxToolRounds:         1,
		},
		Timeouts: TimeoutsConfig{
			RequestSecs:   60,
			EmbeddingSecs: 120,
			ToolSecs:      30,
		},
		Paths: PathsConfig{
			DataDir:   dataDir,
			UploadDir: filepath.Join(dataDir, "uploads"),
			CacheDir:  filepath.Join(dataDir, "cache"),
			AuditDB:   filepath.Join(dataDir, "kgbridge.db"),
		},
		Audit: AuditConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "config file is not valid TOML", apperrors.CategoryUser)
	}

	cfg = expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "invalid configuration", apperrors.CategoryUser)
	}
	return nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(c)
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".kgbridge", "config.toml")
}

// expandPaths expands a leading ~ in paths.
func expandPaths(cfg *Config) *Config {
	for _, p := range []*string{
		&cfg.Paths.DataDir,
		&cfg.Paths.UploadDir,
		&cfg.Paths.CacheDir,
		&cfg.Paths.AuditDB,
	} {
		*p = expandHome(*p)
	}
	return cfg
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, p[1:])
	}
	return p
}

// APIKey returns the model API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Model.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Model.APIKeyEnv)
}

// RequestTimeout bounds a single model call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeouts.RequestSecs) * time.Second
}

// EmbeddingTimeout bounds a whole index build.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Timeouts.EmbeddingSecs) * time.Second
}

// ToolTimeout bounds a single tool execution.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Timeouts.ToolSecs) * time.Second
}

// IsAllowedExtension reports whether ext (with or without the dot) is allow-listed.
func (c *Config) IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.Upload.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(allowed, "."), ext) {
			return true
		}
	}
	return false
}

// NewLogger builds the process logger from the [log] section.
func (c *Config) NewLogger(w *os.File) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
