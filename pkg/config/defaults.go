package config

import "time"

// Defaults returns a Config populated with SpeQL's out-of-the-box values.
// Loader overlays the file and environment on top of this baseline so that
// every field always has a sane value even in a minimal deploy.
func Defaults() *Config {
	return &Config{
		Preview:                 50,
		PreviewChar:             4096,
		TemporaryTableCount:     20,
		TemporaryTableSize:      2 << 30, // 2 GiB
		QueryCacheCount:         10,
		DebugSimpleMessageCount: 20,
		DebugSimpleMessageSize:  32 * 1024,
		MaxIteration:            3,
		MinRuleLength:           5,
		SimilarityThreshold:     0.4,
		Enable: Features{
			BackgroundThread: true,
			VectorDB:         false,
			Sample:           true,
			PredictInference: true,
			AggressiveDebug:  false,
			ResultCache:      true,
		},
		Dialect: DialectConfig{
			Input:    DialectPostgres,
			Endpoint: DialectPostgres,
			Dataset:  "public",
		},
		CursorIdentifier: "/*CURSOR_IDENTIFIER*/",
		HTTPPort:         8500,
		RunDir:           "./run",
		LLM: LLMConfig{
			Endpoint:      "https://api.openai.com/v1/chat/completions",
			FastModel:     "gpt-4o-mini",
			AccurateModel: "gpt-4o",
			Timeout:       20 * time.Second,
		},
		Warehouse: WarehouseConfig{
			StatementTimeout: 30 * time.Second,
			SchemaPath:       "public",
		},
	}
}
