package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/config"
	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Gateway.ListenAddr = "127.0.0.1:0"
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Audit.FileDir = filepath.Join(dir, "audit")
	cfg.Audit.FallbackPath = filepath.Join(dir, "pending.jsonl")
	cfg.Checks.AmountLimits = map[string]string{"USD": "1000"}
	cfg.Credentials.EncryptionEnabled = false
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	testlog.Start(t)
	a, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Len(t, a.Nodes(), 6)
	assert.False(t, a.Credentials.Encryption().Enabled)
	assert.Equal(t, 3, a.Queue.RetryConfig().MaxAttempts)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 0
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Access.IPs = []string{"not-an-ip"}
	_, err = New(cfg)
	require.Error(t, err)
}

func TestRunForwardsToAuditAndStops(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	a, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	body := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":5000,"currency":"USD","reference":"OVER"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/swift/send", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.API.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "B004")

	require.Eventually(t, func() bool {
		return a.Log.Stats().Written >= 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
