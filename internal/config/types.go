// Package config provides configuration types for kgbridge.
package config

// Config represents the main kgbridge configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upload    UploadConfig    `toml:"upload"`
	Graph     GraphConfig     `toml:"graph"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Model     ModelConfig     `toml:"model"`
	Timeouts  TimeoutsConfig  `toml:"timeouts"`
	Paths     PathsConfig     `toml:"paths"`
	Audit     AuditConfig     `toml:"audit"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig contains HTTP surface settings.
type ServerConfig struct {
	Addr           string  `toml:"addr" validate:"required"`
	MaxUploadMB    int64   `toml:"max_upload_mb" validate:"gte=1,lte=1024"`
	MaxConnections int     `toml:"max_connections" validate:"gte=1"`
	ChatRatePerSec float64 `toml:"chat_rate_per_sec" validate:"gt=0"`
	ChatBurst      int     `toml:"chat_burst" validate:"gte=1"`
}

// UploadConfig controls which sources are accepted.
type UploadConfig struct {
	AllowedExtensions []string `toml:"allowed_extensions" validate:"min=1,dive,required"`
}

// GraphConfig contains graph store settings.
type GraphConfig struct {
	DefaultPrefix    string `toml:"default_prefix" validate:"required,alphanum"`
	DefaultNamespace string `toml:"default_namespace" validate:"required,uri"`
}

// RetrievalConfig contains retrieval index settings.
type RetrievalConfig struct {
	Enabled        bool   `toml:"enabled"`
	Embedder       string `toml:"embedder" validate:"oneof=openai tfidf"`
	EmbeddingModel string `toml:"embedding_model"`
	BaseURL        string `toml:"base_url"`
	ChunkSize      int    `toml:"chunk_size" validate:"gte=1"`
	ChunkOverlap   int    `toml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	DefaultK       int    `toml:"default_k" validate:"gte=1,ltefield=MaxK"`
	MaxK           int    `toml:"max_k" validate:"gte=1"`
	CacheEmbedding bool   `toml:"cache_embeddings"`
}

// ModelConfig configures the chat model and its optional fallback.
type ModelConfig struct {
	BaseURL               string  `toml:"base_url" validate:"required,url"`
	Name                  string  `toml:"name" validate:"required"`
	APIKeyEnv             string  `toml:"api_key_env"`
	FallbackBaseURL       string  `toml:"fallback_base_url" validate:"omitempty,url"`
	FallbackName          string  `toml:"fallback_name" validate:"required_with=FallbackBaseURL"`
	FirstTurnTemperature  float64 `toml:"first_turn_temperature" validate:"gte=0,lte=2"`
	SecondTurnTemperature float64 `toml:"second_turn_temperature" validate:"gte=0,lte=2"`
	MaxTokens             int     `toml:"max_tokens" validate:"gte=0"`
	MaxToolRounds         int     `toml:"max_tool_rounds" validate:"gte=1,lte=8"`

	// CostPerMillion prices the primary model in dollars per 1M tokens.
	CostPerMillion float64 `toml:"cost_per_million" validate:"gte=0"`
}

// TimeoutsConfig bounds every external call, in seconds.
type TimeoutsConfig struct {
	RequestSecs   int `toml:"request_secs" validate:"gte=1"`
	EmbeddingSecs int `toml:"embedding_secs" validate:"gte=1"`
	ToolSecs      int `toml:"tool_secs" validate:"gte=1"`
}

// PathsConfig contains file path settings.
type PathsConfig struct {
	DataDir   string `toml:"data_dir" validate:"required"`
	UploadDir string `toml:"upload_dir" validate:"required"`
	CacheDir  string `toml:"cache_dir" validate:"required"`
	AuditDB   string `toml:"audit_db" validate:"required"`
}

// AuditConfig toggles the sqlite audit ledger.
type AuditConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// EmbedderKind names a retrieval embedding backend.
type EmbedderKind string

const (
	EmbedderOpenAI EmbedderKind = "openai"
	EmbedderTFIDF  EmbedderKind = "tfidf"
)
