package config

import "time"

// Default returns the built-in configuration baseline. Load starts from
// this, then merges a user-supplied YAML file over it with mergo,
// so a deployment only has to specify what it wants to override.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Host:                  "localhost",
			Port:                  5432,
			Database:              "orchestrator",
			SSLMode:               "disable",
			MaxOpenConns:          20,
			MaxIdleConns:          5,
			ConnMaxLifetime:       30 * time.Minute,
			AllowInMemoryFallback: false,
			MaxRetries:            5,
			BaseDelay:             200 * time.Millisecond,
			VectorDimension:       1536,
			RelaxedDurability:     false,
			LeaseTimeout:          5 * time.Minute,
			BM25K1:                1.2,
			BM25B:                 0.75,
		},
		Embedder: EmbedderConfig{
			Endpoint:  "",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 16,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				Enabled:           true,
				APIKeyEnv:         "ANTHROPIC_API_KEY",
				RequestsPerSecond: 4,
				Burst:             8,
			},
			OpenAI: ProviderConfig{
				Enabled:           true,
				APIKeyEnv:         "OPENAI_API_KEY",
				RequestsPerSecond: 4,
				Burst:             8,
			},
			Bedrock: ProviderConfig{
				Enabled:           false,
				Region:            "us-east-1",
				RequestsPerSecond: 2,
				Burst:             4,
			},
		},
		Router: RouterConfig{
			CatalogRefresh: 15 * time.Minute,
			VeryLowCost: []ModelEntry{
				{ID: "claude-haiku-4-5", Provider: "anthropic", Label: "haiku", CostPerTokenHint: 0.0000008, ContextWindow: 200000},
				{ID: "gpt-4.1-mini", Provider: "openai", Label: "gpt-mini", CostPerTokenHint: 0.0000004, ContextWindow: 128000},
			},
			LowCost: []ModelEntry{
				{ID: "claude-sonnet-4-5", Provider: "anthropic", Label: "sonnet", CostPerTokenHint: 0.000003, ContextWindow: 200000, LongContext: true},
				{ID: "gpt-4.1", Provider: "openai", Label: "gpt-4.1", CostPerTokenHint: 0.000002, ContextWindow: 128000},
			},
			HighCost: []ModelEntry{
				{ID: "claude-opus-4-1", Provider: "anthropic", Label: "opus", CostPerTokenHint: 0.000015, ContextWindow: 200000, LongContext: true, Vision: true},
				{ID: "anthropic.claude-3-7-sonnet", Provider: "bedrock", Label: "bedrock-sonnet", CostPerTokenHint: 0.000003, ContextWindow: 200000},
			},
		},
		Cache: CacheConfig{
			ExactTTL:      10 * time.Minute,
			ExactCapacity: 2048,
			SemanticFloor: 0.85,
			ContextFloor:  0.80,
		},
		Index: IndexConfig{
			Enabled:          true,
			AutoIndex:        true,
			WeightBM25:       0.5,
			WeightVector:     0.5,
			RerankEnabled:    false,
			MaxContentLength: 16000,
		},
		Pipeline: PipelineConfig{
			Parallelism:            4,
			EnsembleMin:            2,
			EnsembleMax:            3,
			DefaultMaxIterations:   2,
			SynthesisMinTokens:     512,
			SynthesisMaxTokens:     4096,
			TokensPerSubquery:      256,
			TokensPerDoc:           128,
			AttachmentSnippetChars: 400,
			RequestTimeout:         90 * time.Second,
		},
		Queue: QueueConfig{
			WorkerCount:        4,
			PollInterval:       500 * time.Millisecond,
			PollIntervalJitter: 250 * time.Millisecond,
			LeaseTimeout:       5 * time.Minute,
			HeartbeatInterval:  15 * time.Second,
			MaxQueueDepth:      500,
			IdempotencyTTL:     24 * time.Hour,
			IdempotencyEnabled: true,
		},
		ControlProto: ControlProtoConfig{
			HTTPAddr:        ":8080",
			MaxToolDepth:    3,
			StreamBufferCap: 64,
		},
	}
}
