package api

// modificationEvent is an intermediate SSE frame carrying a corrected or
// completed statement with no preview yet attached (spec.md §6
// "Intermediate: {modification: string}").
type modificationEvent struct {
	Modification string `json:"modification"`
}

// errorEvent is an intermediate SSE frame explaining why no modification
// could be produced this round (spec.md §6 "{error_info: string}").
type errorEvent struct {
	ErrorInfo string `json:"error_info"`
}

// terminalEvent closes an SSE stream for one request (spec.md §6
// "Terminal: {preview: string, modification: string, complete: bool, show:
// bool}"). preview joins PreviewRows with newlines since the wire schema
// is a single string block, not an array.
type terminalEvent struct {
	Preview      string `json:"preview"`
	Modification string `json:"modification"`
	Complete     bool   `json:"complete"`
	Show         bool   `json:"show"`
}

// HealthResponse is returned by GET /health on either listener.
type HealthResponse struct {
	Status string `json:"status"`
}

// ControlResponse is returned by POST /query on the control listener: the
// EXPLAIN+Preview baseline, no Debug, no caching.
type ControlResponse struct {
	Preview string `json:"preview"`
	Show    bool   `json:"show"`
	Error   string `json:"error,omitempty"`
}

// HistoryResponse is returned by GET /history?session_id=...&limit=... on
// the control listener, backing the run-record introspection endpoint
// SPEC_FULL.md §6 adds.
type HistoryResponse struct {
	Records []HistoryRecord `json:"records"`
}

// HistoryRecord is one run-record row rendered for the wire.
type HistoryRecord struct {
	Input        string `json:"input"`
	Modification string `json:"modification"`
	PreviewRows  int    `json:"preview_rows"`
	DurationMS   int64  `json:"duration_ms"`
	CacheHit     bool   `json:"cache_hit"`
	Sampled      bool   `json:"sampled"`
	ErrorInfo    string `json:"error_info,omitempty"`
	CreatedAt    string `json:"created_at"`
}
