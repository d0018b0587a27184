package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs validator.Struct over cfg and then checks the constraints
// it does not express: the spec's fixed bounds on ensemble size and
// similarity floors, store.vector_dimension matching embedder.dimension,
// non-zero index weights, and max_tool_depth >= 1. It returns the first
// violation found.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	if cfg.Pipeline.EnsembleMin < 2 || cfg.Pipeline.EnsembleMin > 3 {
		return fmt.Errorf("pipeline.ensemble_min must be in [2,3], got %d", cfg.Pipeline.EnsembleMin)
	}
	if cfg.Pipeline.EnsembleMax < cfg.Pipeline.EnsembleMin || cfg.Pipeline.EnsembleMax > 3 {
		return fmt.Errorf("pipeline.ensemble_max must be in [ensemble_min,3], got %d", cfg.Pipeline.EnsembleMax)
	}
	if cfg.Cache.ContextFloor < 0.80 {
		return fmt.Errorf("cache.context_floor must be >= 0.80, got %f", cfg.Cache.ContextFloor)
	}
	if cfg.Cache.SemanticFloor < 0.85 {
		return fmt.Errorf("cache.semantic_floor must be >= 0.85, got %f", cfg.Cache.SemanticFloor)
	}
	if cfg.Store.VectorDimension != cfg.Embedder.Dimension {
		return fmt.Errorf("store.vector_dimension (%d) must match embedder.dimension (%d)",
			cfg.Store.VectorDimension, cfg.Embedder.Dimension)
	}
	if cfg.Index.WeightBM25+cfg.Index.WeightVector == 0 {
		return fmt.Errorf("index.weight_bm25 + index.weight_vector must be > 0")
	}
	if cfg.ControlProto.MaxToolDepth < 1 {
		return fmt.Errorf("control_protocol.max_tool_depth must be >= 1")
	}
	return nil
}
