package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates a Config via struct tags, with a few cross-field
// checks the tag language can't express.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll runs struct-tag validation plus cross-field checks, returning
// the first failure (fail-fast, matching the teacher's config validator).
func (vd *Validator) ValidateAll() error {
	if err := vd.v.Struct(vd.cfg); err != nil {
		return err
	}
	if err := vd.v.Struct(vd.cfg.LLM); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := vd.v.Struct(vd.cfg.Warehouse); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}

	if vd.cfg.QueryCacheCount > vd.cfg.TemporaryTableCount {
		return fmt.Errorf("query_cache_count (%d) must not exceed temporary_table_count (%d)",
			vd.cfg.QueryCacheCount, vd.cfg.TemporaryTableCount)
	}
	if vd.cfg.Enable.VectorDB && !vd.cfg.Enable.PredictInference {
		return fmt.Errorf("enable.vector_db requires enable.predict_inference")
	}
	return nil
}
