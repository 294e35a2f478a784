package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/speql/pkg/history"
	"github.com/codeready-toolchain/speql/pkg/orchestrator"
)

// queryHandler handles POST /query on the main listener: one full editor
// buffer in, a stream of SSE frames out, one event per orchestrator.Frame
// until the terminal frame closes the stream (spec.md §6).
func (s *Server) queryHandler(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	frames, err := s.orch.Handle(c.Request.Context(), req.SQL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	var (
		lastModification   string
		previewRows        []string
		isSample, truncated bool
		lastShow           bool
		intermediateCount  int
		gotFinal           bool
	)

	for f := range frames {
		switch f.Kind {
		case orchestrator.FrameModification:
			lastModification = f.Modification
			lastShow = f.Show
			if f.PreviewRows != nil {
				previewRows = f.PreviewRows
				isSample = f.IsSample
				truncated = f.Truncated
				gotFinal = true
				continue
			}
			intermediateCount++
			_ = sse.Encode(c.Writer, sse.Event{Event: "modification", Data: modificationEvent{Modification: f.Modification}})
			c.Writer.Flush()
		case orchestrator.FrameErrorInfo:
			lastShow = f.Show
			_ = sse.Encode(c.Writer, sse.Event{Event: "error_info", Data: errorEvent{ErrorInfo: f.ErrorInfo}})
			c.Writer.Flush()
		case orchestrator.FrameTerminal:
			_ = sse.Encode(c.Writer, sse.Event{Event: "terminal", Data: terminalEvent{
				Preview:      strings.Join(previewRows, "\n"),
				Modification: lastModification,
				Complete:     true,
				Show:         lastShow,
			}})
			c.Writer.Flush()
		}
	}

	// a cache hit never emits an intermediate modification frame — Handle
	// replays the cached entry as a single modification-with-rows frame.
	cacheHit := intermediateCount == 0 && gotFinal
	s.recordHistory(req, lastModification, previewRows, isSample, truncated, cacheHit, lastShow, time.Since(start))
}

func (s *Server) recordHistory(req QueryRequest, modification string, rows []string, isSample, truncated, cacheHit, show bool, duration time.Duration) {
	if s.logger != nil {
		_ = s.logger.Line(history.FileInput, req.SQL)
		_ = s.logger.JSON(history.FileRecord, map[string]any{
			"modification": modification,
			"cache_hit":    cacheHit,
			"sampled":      isSample,
			"truncated":    truncated,
			"duration_ms":  duration.Milliseconds(),
		})
	}

	if s.store == nil {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	errorInfo := ""
	if !show {
		errorInfo = "suppressed"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.store.Insert(ctx, history.RunRecord{
		SessionID:    sessionID,
		Input:        req.SQL,
		Modification: modification,
		PreviewRows:  len(rows),
		Duration:     duration,
		CacheHit:     cacheHit,
		Sampled:      isSample,
		ErrorInfo:    errorInfo,
	})
}
