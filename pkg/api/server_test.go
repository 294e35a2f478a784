package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/core"
	"github.com/codeready-toolchain/speql/pkg/orchestrator"
	"github.com/codeready-toolchain/speql/pkg/warehouse"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeConnector is a minimal warehouse.Connector test double, mirroring
// pkg/orchestrator's own fakeConnector test pattern.
type fakeConnector struct {
	tableSize  int64
	fetchRows  []string
	explainErr error
}

func (f *fakeConnector) Exec(ctx context.Context, sql string) error { return nil }
func (f *fakeConnector) LastQueryStats(ctx context.Context) (warehouse.QueryStats, error) {
	return warehouse.QueryStats{}, nil
}
func (f *fakeConnector) TableSize(ctx context.Context, table string) (int64, error) {
	return f.tableSize, nil
}
func (f *fakeConnector) TableColumns(ctx context.Context, table string) ([]core.ColumnInfo, error) {
	return nil, nil
}
func (f *fakeConnector) DropTable(ctx context.Context, name string) error { return nil }
func (f *fakeConnector) IsTimeout(err error) bool                        { return false }
func (f *fakeConnector) FetchRows(ctx context.Context, sql string, maxRows int) ([]string, error) {
	rows := f.fetchRows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return rows, nil
}
func (f *fakeConnector) Explain(ctx context.Context, sql string) error { return f.explainErr }
func (f *fakeConnector) Cancel(ctx context.Context) error               { return nil }

func newTestServer(t *testing.T, conn *fakeConnector) *Server {
	t.Helper()
	cfg := config.Defaults()
	c := core.New(cfg)
	engine := warehouse.NewEngine(conn, c.Schema)
	orch := orchestrator.New(c, engine, nil, nil)
	return NewServer(cfg, c, orch, engine, nil, nil)
}

func TestHealthHandlerReturnsHealthy(t *testing.T) {
	s := newTestServer(t, &fakeConnector{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.main.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestQueryHandlerStreamsErrorThenTerminalFrameOnEmptyInput(t *testing.T) {
	s := newTestServer(t, &fakeConnector{})

	body, err := json.Marshal(QueryRequest{SQL: "   "})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.main.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "event:error_info")
	assert.Contains(t, out, "event:terminal")
	assert.Contains(t, out, `"complete":true`)
	assert.Contains(t, out, `"show":false`)
}

func TestControlHandlerStripsCursorAndRunsExplainThenPreview(t *testing.T) {
	s := newTestServer(t, &fakeConnector{fetchRows: []string{"1", "2", "3"}})

	body, err := json.Marshal(ControlRequest{SQL: "SELECT a FROM t /*CURSOR_IDENTIFIER*/"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.control.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Show)
	assert.Equal(t, "1\n2\n3", resp.Preview)
}

func TestControlHandlerSurfacesExplainFailureWithoutPanicking(t *testing.T) {
	s := newTestServer(t, &fakeConnector{explainErr: assertErr{"bad plan"}})

	body, err := json.Marshal(ControlRequest{SQL: "SELECT a FROM t"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.control.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Show)
	assert.Contains(t, resp.Error, "bad plan")
}

func TestHistoryHandlerReturns503WhenStoreDisabled(t *testing.T) {
	s := newTestServer(t, &fakeConnector{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/history?session_id=sess-1", nil)
	s.control.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
