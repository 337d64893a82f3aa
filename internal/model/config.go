package model

import "time"

// Config is the complete decipher configuration.
// Hierarchy (highest first): CLI flags, DECIPHER_* env vars, config file, defaults.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Ingest       IngestConfig       `yaml:"ingest" mapstructure:"ingest"`
	Explain      ExplainConfig      `yaml:"explain" mapstructure:"explain"`
	Layout       LayoutConfig       `yaml:"layout" mapstructure:"layout"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Neo4j        Neo4jConfig        `yaml:"neo4j" mapstructure:"neo4j"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects and tunes the provider behind the three extraction services
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	Language  string `yaml:"language" mapstructure:"language"` // language of descriptive fields

	// Circuit breaker around provider calls
	BreakerEnabled   bool          `yaml:"breaker_enabled" mapstructure:"breaker_enabled"`
	BreakerMinCalls  uint32        `yaml:"breaker_min_calls" mapstructure:"breaker_min_calls"`
	BreakerFailRatio float64       `yaml:"breaker_fail_ratio" mapstructure:"breaker_fail_ratio"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for" mapstructure:"breaker_open_for"`
}

// IngestConfig bounds and paces batch ingestion
type IngestConfig struct {
	MaxBatchSize      int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	InterCallDelay    time.Duration `yaml:"inter_call_delay" mapstructure:"inter_call_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" mapstructure:"rate_limit_cooldown"`
	MinTextLength     int           `yaml:"min_text_length" mapstructure:"min_text_length"`
	MetadataMaxChars  int           `yaml:"metadata_max_chars" mapstructure:"metadata_max_chars"`
	ConceptMaxChars   int           `yaml:"concept_max_chars" mapstructure:"concept_max_chars"`
}

// ExplainConfig tunes the term resolver
type ExplainConfig struct {
	Debounce        time.Duration    `yaml:"debounce" mapstructure:"debounce"`
	ContextMaxChars int              `yaml:"context_max_chars" mapstructure:"context_max_chars"`
	MaxWords        int              `yaml:"max_words" mapstructure:"max_words"`
	DefaultLevel    ExplanationLevel `yaml:"default_level" mapstructure:"default_level"`
	CacheTTL        time.Duration    `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// LayoutConfig holds force simulation parameters
type LayoutConfig struct {
	Width           float64       `yaml:"width" mapstructure:"width"`
	Height          float64       `yaml:"height" mapstructure:"height"`
	LinkDistance    float64       `yaml:"link_distance" mapstructure:"link_distance"`
	ChargeStrength  float64       `yaml:"charge_strength" mapstructure:"charge_strength"`
	CenterStrength  float64       `yaml:"center_strength" mapstructure:"center_strength"`
	CollidePadding  float64       `yaml:"collide_padding" mapstructure:"collide_padding"`
	AlphaMin        float64       `yaml:"alpha_min" mapstructure:"alpha_min"`
	AlphaDecay      float64       `yaml:"alpha_decay" mapstructure:"alpha_decay"`
	DragAlphaTarget float64       `yaml:"drag_alpha_target" mapstructure:"drag_alpha_target"`
	VelocityDecay   float64       `yaml:"velocity_decay" mapstructure:"velocity_decay"`
	EnergyThreshold float64       `yaml:"energy_threshold" mapstructure:"energy_threshold"`
	TickInterval    time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
	MaxTicks        int           `yaml:"max_ticks" mapstructure:"max_ticks"` // bound for offline settling
}

// HTTPConfig controls fetching of URL document sources
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig controls the extraction and explanation caches
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RateLimitingConfig caps calls per external service
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// ConcurrencyConfig sizes the pre-flight loader
type ConcurrencyConfig struct {
	LoaderWorkers int `yaml:"loader_workers" mapstructure:"loader_workers"`
}

// ServerConfig configures `decipher serve`
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Neo4jConfig enables the optional graph mirror. Empty URI disables it.
type Neo4jConfig struct {
	URI      string `yaml:"uri,omitempty" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
	Timeout  int    `yaml:"timeout" mapstructure:"timeout"` // seconds
}

// LogConfig selects the logger mode
type LogConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"` // development, production
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:         "",
			Timeout:          60,
			MaxTokens:        4000,
			Language:         "English",
			BreakerEnabled:   true,
			BreakerMinCalls:  5,
			BreakerFailRatio: 0.8,
			BreakerOpenFor:   60 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:      50,
			InterCallDelay:    3 * time.Second,
			RateLimitCooldown: 5 * time.Second,
			MinTextLength:     50,
			MetadataMaxChars:  25000,
			ConceptMaxChars:   15000,
		},
		Explain: ExplainConfig{
			Debounce:        600 * time.Millisecond,
			ContextMaxChars: 300,
			MaxWords:        60,
			DefaultLevel:    LevelBeginner,
			CacheTTL:        time.Hour,
		},
		Layout: LayoutConfig{
			Width:           960,
			Height:          640,
			LinkDistance:    100,
			ChargeStrength:  -300,
			CenterStrength:  1,
			CollidePadding:  5,
			AlphaMin:        0.001,
			AlphaDecay:      0.0228, // 1 - alphaMin^(1/300): ~300 ticks from a full reheat
			DragAlphaTarget: 0.3,
			VelocityDecay:   0.4,
			EnergyThreshold: 0.01,
			TickInterval:    16 * time.Millisecond,
			MaxTicks:        1000,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "Decipher/0.1 (+https://github.com/ppiankov/decipher)",
			MaxBodyBytes:  20_000_000,
			RespectRobots: true,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".decipher-cache",
			MemoryTTL: time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         2,
		},
		Concurrency: ConcurrencyConfig{
			LoaderWorkers: 4,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Neo4j: Neo4jConfig{
			User:    "neo4j",
			Timeout: 10,
		},
		Log: LogConfig{
			Mode: "development",
		},
	}
}
