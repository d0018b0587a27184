package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidateEnsembleBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ensemble_min too low", func(c *Config) { c.Pipeline.EnsembleMin = 1 }, true},
		{"ensemble_min too high", func(c *Config) { c.Pipeline.EnsembleMin = 4 }, true},
		{"ensemble_max below min", func(c *Config) { c.Pipeline.EnsembleMin = 3; c.Pipeline.EnsembleMax = 2 }, true},
		{"ensemble_max above 3", func(c *Config) { c.Pipeline.EnsembleMax = 4 }, true},
		{"valid bounds", func(c *Config) { c.Pipeline.EnsembleMin = 2; c.Pipeline.EnsembleMax = 3 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCacheFloors(t *testing.T) {
	cfg := Default()
	cfg.Cache.ContextFloor = 0.5
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Cache.SemanticFloor = 0.1
	assert.Error(t, Validate(cfg))
}

func TestValidateVectorDimensionMismatch(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Dimension = 768
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vector_dimension")
}

func TestValidateIndexWeightsMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Index.WeightBM25 = 0
	cfg.Index.WeightVector = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateMaxToolDepth(t *testing.T) {
	cfg := Default()
	cfg.ControlProto.MaxToolDepth = 0
	assert.Error(t, Validate(cfg))
}
