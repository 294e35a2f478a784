package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// historyHandler handles GET /history?session_id=...&limit=... on the
// control listener, backing the run-record introspection endpoint
// SPEC_FULL.md §6 adds on top of the spec's flat log files.
func (s *Server) historyHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history persistence disabled"})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.store.Recent(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]HistoryRecord, 0, len(records))
	for _, r := range records {
		out = append(out, HistoryRecord{
			Input:        r.Input,
			Modification: r.Modification,
			PreviewRows:  r.PreviewRows,
			DurationMS:   r.Duration.Milliseconds(),
			CacheHit:     r.CacheHit,
			Sampled:      r.Sampled,
			ErrorInfo:    r.ErrorInfo,
			CreatedAt:    r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, HistoryResponse{Records: out})
}
