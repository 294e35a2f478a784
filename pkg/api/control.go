package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// controlHandler handles POST /query on the control listener (port+1): it
// bypasses Debug entirely, running EXPLAIN then Preview directly on the
// raw SQL with the cursor sentinel stripped, for A/B baselining against
// the speculative pipeline (spec.md §6).
func (s *Server) controlHandler(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sql := strings.ReplaceAll(req.SQL, s.core.Config.CursorIdentifier, "")

	ctx := c.Request.Context()
	if err := s.engine.Explain(ctx, sql); err != nil {
		c.JSON(http.StatusOK, ControlResponse{Show: false, Error: err.Error()})
		return
	}

	limited := sql
	if limit := s.core.Config.Preview; limit > 0 {
		limited = sql + " LIMIT " + strconv.Itoa(limit+1)
	}

	if _, err := s.engine.Preview(ctx, limited); err != nil {
		c.JSON(http.StatusOK, ControlResponse{Show: false, Error: err.Error()})
		return
	}
	rows, err := s.engine.PreviewRows(ctx, limited, s.core.Config.Preview+1)
	if err != nil {
		c.JSON(http.StatusOK, ControlResponse{Show: false, Error: err.Error()})
		return
	}

	if len(rows) > s.core.Config.Preview {
		rows = rows[:s.core.Config.Preview]
	}
	c.JSON(http.StatusOK, ControlResponse{Preview: strings.Join(rows, "\n"), Show: true})
}
