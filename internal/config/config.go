// Package config loads the flat-namespace configuration described in
// spec.md §6.3, layering defaults, an optional YAML file, a ".env" file
// (via godotenv) and MCP_MEMORY_*-prefixed environment variables, following
// the same DefaultConfig()+loadFromEnv() shape as the teacher's
// internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// VectorBackend is the selectable SemanticStore implementation.
type VectorBackend string

const (
	VectorBackendLegacy   VectorBackend = "legacy"
	VectorBackendChromaDB VectorBackend = "chromadb"
	VectorBackendQdrant   VectorBackend = "qdrant"
)

// AutomaticLearningConfig mirrors spec.md §6.3 automatic_learning.*.
type AutomaticLearningConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	Mode                string  `json:"mode" yaml:"mode"`
	TrackTasks          bool    `json:"track_tasks" yaml:"track_tasks"`
	TrackCodeChanges    bool    `json:"track_code_changes" yaml:"track_code_changes"`
	TrackOperations     bool    `json:"track_operations" yaml:"track_operations"`
	MinEpisodeConfidence float64 `json:"min_episode_confidence" yaml:"min_episode_confidence"`
	EpisodeDeduplication bool   `json:"episode_deduplication" yaml:"episode_deduplication"`
}

// ConversationAnalyzerConfig mirrors spec.md §6.3
// universal_hooks.conversation_analyzer.*.
type ConversationAnalyzerConfig struct {
	ExtractionMode            string  `json:"extraction_mode" yaml:"extraction_mode"`
	MinFactConfidence         float64 `json:"min_fact_confidence" yaml:"min_fact_confidence"`
	MinEpisodeConfidence      float64 `json:"min_episode_confidence" yaml:"min_episode_confidence"`
	DeduplicationMode         string  `json:"deduplication_mode" yaml:"deduplication_mode"`
	DeduplicationWindowDays   int     `json:"deduplication_window_days" yaml:"deduplication_window_days"`
}

// UniversalHooksConfig groups the hook-level config sections.
type UniversalHooksConfig struct {
	ConversationAnalyzer ConversationAnalyzerConfig `json:"conversation_analyzer" yaml:"conversation_analyzer"`
}

// ChromaConfig configures the HTTP-based "chromadb" vector backend.
type ChromaConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryAttempts  int    `json:"retry_attempts" yaml:"retry_attempts"`
	Collection     string `json:"collection" yaml:"collection"`
}

// QdrantConfig configures the native "qdrant" vector backend.
type QdrantConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	APIKey string `json:"-" yaml:"-"`
	UseTLS bool   `json:"use_tls" yaml:"use_tls"`
}

// Config is the immutable, fully-resolved configuration snapshot consumed by
// the rest of the engine.
type Config struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`

	VectorBackend VectorBackend `json:"vector_backend" yaml:"vector_backend"`
	Chroma        ChromaConfig  `json:"chroma" yaml:"chroma"`
	Qdrant        QdrantConfig  `json:"qdrant" yaml:"qdrant"`

	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	TopK              int     `json:"top_k" yaml:"top_k"`
	MinRetrievalScore float64 `json:"min_retrieval_score" yaml:"min_retrieval_score"`

	QueryExpansionEnabled bool `json:"query_expansion_enabled" yaml:"query_expansion_enabled"`
	NumExpansions         int  `json:"num_expansions" yaml:"num_expansions"`

	ContextInjectionEnabled bool `json:"context_injection_enabled" yaml:"context_injection_enabled"`
	MaxContextChars         int  `json:"max_context_chars" yaml:"max_context_chars"`

	RemoteFileUploadEnabled    bool   `json:"remote_file_upload_enabled" yaml:"remote_file_upload_enabled"`
	RemoteUploadDirectory      string `json:"remote_upload_directory" yaml:"remote_upload_directory"`
	RemoteUploadMaxAgeSeconds  int    `json:"remote_upload_max_age_seconds" yaml:"remote_upload_max_age_seconds"`
	RemoteUploadMaxFileSizeMB  int    `json:"remote_upload_max_file_size_mb" yaml:"remote_upload_max_file_size_mb"`

	EmbeddingCacheSize    int `json:"embedding_cache_size" yaml:"embedding_cache_size"`
	EmbeddingCacheTTLHours int `json:"embedding_cache_ttl_hours" yaml:"embedding_cache_ttl_hours"`

	AutomaticLearning AutomaticLearningConfig `json:"automatic_learning" yaml:"automatic_learning"`
	UniversalHooks    UniversalHooksConfig    `json:"universal_hooks" yaml:"universal_hooks"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the configuration with every default from spec.md
// §6.3 (plus the expanded vector-backend knobs) applied.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",

		VectorBackend: VectorBackendChromaDB,
		Chroma: ChromaConfig{
			Endpoint:       "http://localhost:8000",
			TimeoutSeconds: 30,
			RetryAttempts:  3,
			Collection:     "agent_memory",
		},
		Qdrant: QdrantConfig{
			Host:   "localhost",
			Port:   6334,
			UseTLS: false,
		},

		ChunkSize:    500,
		ChunkOverlap: 50,

		TopK:              5,
		MinRetrievalScore: 0.0,

		QueryExpansionEnabled: false,
		NumExpansions:         3,

		ContextInjectionEnabled: false,
		MaxContextChars:         5000,

		RemoteFileUploadEnabled:   true,
		RemoteUploadDirectory:     "/tmp/rag-uploads",
		RemoteUploadMaxAgeSeconds: 3600,
		RemoteUploadMaxFileSizeMB: 50,

		EmbeddingCacheSize:     1000,
		EmbeddingCacheTTLHours: 24,

		AutomaticLearning: AutomaticLearningConfig{
			Enabled:              false,
			Mode:                 "moderate",
			TrackTasks:           true,
			TrackCodeChanges:     true,
			TrackOperations:      true,
			MinEpisodeConfidence: 0.6,
			EpisodeDeduplication: true,
		},
		UniversalHooks: UniversalHooksConfig{
			ConversationAnalyzer: ConversationAnalyzerConfig{
				ExtractionMode:          "heuristic",
				MinFactConfidence:       0.7,
				MinEpisodeConfidence:    0.6,
				DeduplicationMode:       "per_day",
				DeduplicationWindowDays: 7,
			},
		},

		LogLevel: "info",
	}
}

// LoadConfig assembles a Config the way the teacher's LoadConfig does:
// defaults, then an optional YAML file at configPath (if non-empty and
// present), then a ".env" file if present, then environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// godotenv.Load is best-effort: a missing .env file is not an error.
	_ = godotenv.Load()

	loadFromEnv(cfg)

	return cfg, nil
}

// LoadConfigFromMap decodes a generic map (e.g. the arguments of an MCP
// "initialize" call, or a JSON config blob) onto a fresh DefaultConfig(),
// using mapstructure the way the wider MCP stack decodes loosely-typed
// request payloads.
func LoadConfigFromMap(raw map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config map: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MCP_MEMORY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MCP_MEMORY_VECTOR_BACKEND"); v != "" {
		cfg.VectorBackend = VectorBackend(v)
	}
	if v := os.Getenv("MCP_MEMORY_CHROMA_ENDPOINT"); v != "" {
		cfg.Chroma.Endpoint = v
	}
	if v := getIntEnv("MCP_MEMORY_CHROMA_TIMEOUT_SECONDS"); v != nil {
		cfg.Chroma.TimeoutSeconds = *v
	}
	if v := os.Getenv("MCP_MEMORY_QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := getIntEnv("MCP_MEMORY_QDRANT_PORT"); v != nil {
		cfg.Qdrant.Port = *v
	}
	if v := os.Getenv("MCP_MEMORY_QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := getBoolEnv("MCP_MEMORY_QDRANT_USE_TLS"); v != nil {
		cfg.Qdrant.UseTLS = *v
	}
	if v := getIntEnv("MCP_MEMORY_CHUNK_SIZE"); v != nil {
		cfg.ChunkSize = *v
	}
	if v := getIntEnv("MCP_MEMORY_CHUNK_OVERLAP"); v != nil {
		cfg.ChunkOverlap = *v
	}
	if v := getIntEnv("MCP_MEMORY_TOP_K"); v != nil {
		cfg.TopK = *v
	}
	if v := getFloatEnv("MCP_MEMORY_MIN_RETRIEVAL_SCORE"); v != nil {
		cfg.MinRetrievalScore = *v
	}
	if v := getBoolEnv("MCP_MEMORY_QUERY_EXPANSION_ENABLED"); v != nil {
		cfg.QueryExpansionEnabled = *v
	}
	if v := getIntEnv("MCP_MEMORY_NUM_EXPANSIONS"); v != nil {
		cfg.NumExpansions = *v
	}
	if v := getBoolEnv("MCP_MEMORY_CONTEXT_INJECTION_ENABLED"); v != nil {
		cfg.ContextInjectionEnabled = *v
	}
	if v := getIntEnv("MCP_MEMORY_MAX_CONTEXT_CHARS"); v != nil {
		cfg.MaxContextChars = *v
	}
	if v := getBoolEnv("MCP_MEMORY_REMOTE_FILE_UPLOAD_ENABLED"); v != nil {
		cfg.RemoteFileUploadEnabled = *v
	}
	if v := os.Getenv("MCP_MEMORY_REMOTE_UPLOAD_DIRECTORY"); v != "" {
		cfg.RemoteUploadDirectory = v
	}
	if v := getIntEnv("MCP_MEMORY_REMOTE_UPLOAD_MAX_AGE_SECONDS"); v != nil {
		cfg.RemoteUploadMaxAgeSeconds = *v
	}
	if v := getIntEnv("MCP_MEMORY_REMOTE_UPLOAD_MAX_FILE_SIZE_MB"); v != nil {
		cfg.RemoteUploadMaxFileSizeMB = *v
	}
	if v := getBoolEnv("MCP_MEMORY_AUTOMATIC_LEARNING_ENABLED"); v != nil {
		cfg.AutomaticLearning.Enabled = *v
	}
	if v := os.Getenv("MCP_MEMORY_AUTOMATIC_LEARNING_MODE"); v != "" {
		cfg.AutomaticLearning.Mode = v
	}
	if v := os.Getenv("MCP_MEMORY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func getIntEnv(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func getFloatEnv(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func getBoolEnv(key string) *bool {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b := v == "true" || v == "1"
	return &b
}

// ProjectDataDir returns the on-disk directory for a given project id.
func (c *Config) ProjectDataDir(projectID string) string {
	return strings.TrimRight(c.DataDir, "/") + "/" + projectID
}

// EmbeddingCacheTTL returns the cache TTL as a time.Duration.
func (c *Config) EmbeddingCacheTTL() time.Duration {
	return time.Duration(c.EmbeddingCacheTTLHours) * time.Hour
}
