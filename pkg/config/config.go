// Package config loads and validates the orchestrator's configuration from
// a YAML file merged over built-in defaults, with environment variable
// expansion for secrets and deployment-specific overrides.
package config

import "time"

// Config is the fully-resolved, validated configuration for a single
// orchestrator process. It is constructed once at startup by Load
// and passed explicitly to every component — there is no package-level
// singleton.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Router      RouterConfig      `yaml:"router"`
	Cache       CacheConfig       `yaml:"cache"`
	Index       IndexConfig       `yaml:"index"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Queue       QueueConfig       `yaml:"queue"`
	ControlProto ControlProtoConfig `yaml:"control_protocol"`
}

// StoreConfig configures the persistence layer (§4.1).
type StoreConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	User                  string        `yaml:"user"`
	Password              string        `yaml:"password"`
	Database              string        `yaml:"database"`
	SSLMode               string        `yaml:"ssl_mode"`
	MaxOpenConns          int           `yaml:"max_open_conns"`
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	ConnMaxLifetime       time.Duration `yaml:"conn_max_lifetime"`
	AllowInMemoryFallback bool          `yaml:"allow_in_memory_fallback"`
	MaxRetries            int           `yaml:"max_retries"`
	BaseDelay             time.Duration `yaml:"base_delay"`
	VectorDimension       int           `yaml:"vector_dimension"`
	RelaxedDurability     bool          `yaml:"relaxed_durability"`
	LeaseTimeout          time.Duration `yaml:"lease_timeout"`
	BM25K1                float64       `yaml:"bm25_k1"`
	BM25B                 float64       `yaml:"bm25_b"`
}

// EmbedderConfig configures the embedding client (§4.2).
type EmbedderConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ProvidersConfig configures the remote chat-completion providers (§4.3).
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Bedrock   ProviderConfig `yaml:"bedrock"`
}

// ProviderConfig is the per-provider connection and rate-limit configuration.
type ProviderConfig struct {
	Enabled           bool    `yaml:"enabled"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Region            string  `yaml:"region"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RouterConfig configures model selection tiers (§4.4).
type RouterConfig struct {
	CatalogURL           string        `yaml:"catalog_url"`
	CatalogRefresh       time.Duration `yaml:"catalog_refresh"`
	VeryLowCost          []ModelEntry  `yaml:"very_low_cost"`
	LowCost              []ModelEntry  `yaml:"low_cost"`
	HighCost             []ModelEntry  `yaml:"high_cost"`
}

// ModelEntry describes one catalog entry.
type ModelEntry struct {
	ID                string   `yaml:"id"`
	Provider          string   `yaml:"provider"`
	Label             string   `yaml:"label"`
	CostPerTokenHint  float64  `yaml:"cost_per_token_hint"`
	Domains           []string `yaml:"domains"`
	Vision            bool     `yaml:"vision"`
	LongContext       bool     `yaml:"long_context"`
	ContextWindow     int      `yaml:"context_window"`
}

// CacheConfig configures the two-tier semantic cache (§4.6).
type CacheConfig struct {
	ExactTTL          time.Duration `yaml:"exact_ttl"`
	ExactCapacity     int           `yaml:"exact_capacity"`
	SemanticFloor     float64       `yaml:"semantic_floor"`
	ContextFloor      float64       `yaml:"context_floor"`
}

// IndexConfig configures the hybrid BM25+vector index (§4.5/§4.1).
type IndexConfig struct {
	Enabled          bool    `yaml:"enabled"`
	AutoIndex        bool    `yaml:"auto_index"`
	WeightBM25       float64 `yaml:"weight_bm25"`
	WeightVector     float64 `yaml:"weight_vector"`
	RerankEnabled    bool    `yaml:"rerank_enabled"`
	RerankModel      string  `yaml:"rerank_model"`
	MaxContentLength int     `yaml:"max_content_length"`
}

// PipelineConfig configures the research pipeline (§4.7-§4.11).
type PipelineConfig struct {
	Parallelism         int           `yaml:"parallelism"`
	EnsembleMin         int           `yaml:"ensemble_min"`
	EnsembleMax         int           `yaml:"ensemble_max"`
	DefaultMaxIterations int          `yaml:"default_max_iterations"`
	SynthesisMinTokens  int           `yaml:"synthesis_min_tokens"`
	SynthesisMaxTokens  int           `yaml:"synthesis_max_tokens"`
	TokensPerSubquery   int           `yaml:"tokens_per_subquery"`
	TokensPerDoc        int           `yaml:"tokens_per_doc"`
	AttachmentSnippetChars int        `yaml:"attachment_snippet_chars"`
	ReportOutputPath    string        `yaml:"report_output_path"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

// QueueConfig configures the async job engine (§4.12).
type QueueConfig struct {
	WorkerCount         int           `yaml:"worker_count"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	PollIntervalJitter  time.Duration `yaml:"poll_interval_jitter"`
	LeaseTimeout        time.Duration `yaml:"lease_timeout"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	MaxQueueDepth       int           `yaml:"max_queue_depth"`
	IdempotencyTTL      time.Duration `yaml:"idempotency_ttl"`
	IdempotencyEnabled  bool          `yaml:"idempotency_enabled"`
}

// ControlProtoConfig configures the tool surface transports (§4.13/§6).
type ControlProtoConfig struct {
	HTTPAddr        string `yaml:"http_addr"`
	MaxToolDepth    int    `yaml:"max_tool_depth"`
	StreamBufferCap int    `yaml:"stream_buffer_cap"`
}
