// Package config loads and validates the SpeQL configuration surface:
// preview limits, pool caps, debug transcript budgets, retry/backoff knobs,
// feature flags, and dialect targets (spec.md §6).
package config

import "time"

// Dialect names a SQL dialect target for the formatter/patcher and the
// sampling strategy.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectRedshift  Dialect = "redshift"
	DialectSnowflake Dialect = "snowflake"
)

// Features toggles optional subsystems, matching spec.md §6's
// `enable.{...}` surface.
type Features struct {
	BackgroundThread  bool `yaml:"background_thread"`
	VectorDB          bool `yaml:"vector_db"`
	Sample            bool `yaml:"sample"`
	PredictInference  bool `yaml:"predict_inference"`
	AggressiveDebug   bool `yaml:"aggressive_debug"`
	ResultCache       bool `yaml:"result_cache"`
}

// DialectConfig names the parser read target, the warehouse endpoint
// dialect, and the dataset/schema search path.
type DialectConfig struct {
	Input    Dialect `yaml:"input"`
	Endpoint Dialect `yaml:"endpoint"`
	Dataset  string  `yaml:"dataset"`
}

// Config is the full SpeQL configuration surface (spec.md §6).
type Config struct {
	// Preview caps.
	Preview     int `yaml:"preview" validate:"min=1"`
	PreviewChar int `yaml:"preview_char" validate:"min=1"`

	// Temporary-table pool caps.
	TemporaryTableCount int   `yaml:"temporary_table_count" validate:"min=1"`
	TemporaryTableSize  int64 `yaml:"temporary_table_size" validate:"min=1"`

	// MRU prefix handed to the rewriter.
	QueryCacheCount int `yaml:"query_cache_count" validate:"min=0"`

	// Debug-simple transcript caps.
	DebugSimpleMessageCount int `yaml:"debug_simple_message_count" validate:"min=1"`
	DebugSimpleMessageSize  int `yaml:"debug_simple_message_size" validate:"min=1"`

	// Retry/backoff.
	MaxIteration        int     `yaml:"max_iteration" validate:"min=1"`
	MinRuleLength        int     `yaml:"min_rule_length" validate:"min=1"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" validate:"min=0,max=1"`

	// Feature flags and dialect targets.
	Enable  Features      `yaml:"enable"`
	Dialect DialectConfig `yaml:"dialect"`

	// Sentinel comment marking the cursor position in client buffers.
	CursorIdentifier string `yaml:"cursor_identifier" validate:"required"`

	// HTTP.
	HTTPPort int `yaml:"http_port" validate:"min=1,max=65534"`

	// Persisted-state directory (spec.md §6 "Persisted state").
	RunDir string `yaml:"run_dir" validate:"required"`

	// LLM transport.
	LLM LLMConfig `yaml:"llm"`

	// Warehouse connector (pkg/pgwarehouse).
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// History persistence (pkg/history).
	History HistoryConfig `yaml:"history"`
}

// LLMConfig configures the chat-completion transport (pkg/llmclient).
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint" validate:"required"`
	APIKey      string        `yaml:"api_key"`
	FastModel   string        `yaml:"fast_model" validate:"required"`
	AccurateModel string      `yaml:"accurate_model" validate:"required"`
	Timeout     time.Duration `yaml:"timeout" validate:"required"`
}

// WarehouseConfig configures the pgx-backed Connector.
type WarehouseConfig struct {
	DSN            string        `yaml:"dsn" validate:"required"`
	StatementTimeout time.Duration `yaml:"statement_timeout" validate:"required"`
	SchemaPath     string        `yaml:"schema_path"`
}

// HistoryConfig configures the run-record persistence store.
type HistoryConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}
