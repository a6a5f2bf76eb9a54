package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newTestRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zerolog.New(buf)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger, "/health"), RequestMetricsMiddleware("test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	return r
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newTestRouter(&buf)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("missing request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestRequestLoggerQuietPathsAndRouteTemplates(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newTestRouter(&buf)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Fatalf("quiet path logged: %s", buf.String())
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	out := buf.String()
	if !strings.Contains(out, `"path":"/items/:id"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}
