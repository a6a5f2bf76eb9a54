package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefinedKeysOnly(t *testing.T) {
	path := writeFile(t, `
node_id = "gw-east"

[gateway]
listen_addr = "127.0.0.1:6000"

[session]
security_mode = "production"
tls_enabled = true
tls_cert_file = "/etc/swiftgate/server.crt"
tls_key_file = "/etc/swiftgate/server.key"

[api]
api_keys = [" k1 ", ""]

[retry]
intervals = ["1s", "2s"]
max_attempts = 5

[checks.amount_limits]
usd = "1000000"

[monitor]
enabled = false

[backup]
enabled = true
host = "10.0.0.9"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "gw-east", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:6000", cfg.Gateway.ListenAddr)
	assert.Equal(t, def.Gateway.TLSListenAddr, cfg.Gateway.TLSListenAddr)
	assert.Equal(t, def.API.ListenAddr, cfg.API.ListenAddr)
	assert.Equal(t, []string{"k1"}, cfg.API.APIKeys)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, map[string]string{"USD": "1000000"}, cfg.Checks.AmountLimits)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, def.Monitor.IntervalMS, cfg.Monitor.IntervalMS)
	assert.True(t, cfg.Backup.AutoFailover)

	rc := cfg.RetryConfig()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rc.Intervals)

	sc := cfg.SessionConfig()
	assert.Equal(t, session.SecurityModeProduction, sc.SecurityMode)
	assert.True(t, sc.TLS.Enabled)
	assert.Equal(t, "/etc/swiftgate/server.crt", sc.TLS.CertFile)

	b := cfg.BackupConfig()
	assert.True(t, b.Enabled)
	assert.Equal(t, 5001, b.Port)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
[gateway]
listen_adr = ":5000"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKeys))
	assert.Contains(t, err.Error(), "gateway.listen_adr")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, `
[retry]
intervals = []
max_attempts = 0

[backup]
enabled = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "retry.intervals")
	assert.Contains(t, err.Error(), "retry.max_attempts")
	assert.Contains(t, err.Error(), "backup.host")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, `
[retry]
scan_interval = "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Gateway, cfg.Gateway)
	assert.Equal(t, def.Retry, cfg.Retry)
	assert.Equal(t, def.Monitor, cfg.Monitor)
	assert.Equal(t, def.SFTP.Host, cfg.SFTP.Host)
}

func TestComponentConversions(t *testing.T) {
	cfg := Default()
	cfg.Credentials.CertWarningDays = 10

	apiCfg := cfg.APIConfig()
	assert.Equal(t, ":5002", apiCfg.ListenAddr)
	assert.Equal(t, 30*time.Second, apiCfg.SendTimeout)

	opts := cfg.RetryOptions()
	assert.Equal(t, "127.0.0.1", opts.DefaultHost)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)

	st := cfg.MonitorState(time.Unix(0, 0))
	assert.Equal(t, int64(5000), st.Thresholds.LatencyMS)

	assert.Equal(t, 10*24*time.Hour, cfg.CredentialsOptions().CertWarning)

	sc := cfg.SFTPConfig("pw", "", "")
	assert.Equal(t, "pw", sc.Password)
	assert.Equal(t, "swift_user", sc.Username)
}
