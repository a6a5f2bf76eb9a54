package credentials

import (
	"context"
	"crypto/x509"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/danmuck/swiftgate/internal/testutil/tlstest"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTracker(t *testing.T) (*Tracker, *translog.Log, *clock) {
	t.Helper()
	testlog.Start(t)
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tlog := translog.New(translog.Options{Now: clk.Now})
	return New(Options{Log: tlog, Now: clk.Now}), tlog, clk
}

func actions(entries []translog.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestEncryptionDefaults(t *testing.T) {
	tr, _, clk := newTracker(t)
	enc := tr.Encryption()
	assert.True(t, enc.Enabled)
	assert.Equal(t, Algorithm, enc.Algorithm)
	assert.Equal(t, 90, enc.KeyRotationDays)
	assert.Equal(t, clk.Now().Add(90*24*time.Hour), enc.NextKeyRotation)
}

func TestUpdateEncryptionReschedules(t *testing.T) {
	tr, _, clk := newTracker(t)
	clk.Advance(24 * time.Hour)
	n := 30
	enc, err := tr.UpdateEncryption(EncryptionUpdate{KeyRotationDays: &n})
	require.NoError(t, err)
	assert.Equal(t, 30, enc.KeyRotationDays)
	assert.Equal(t, clk.Now().Add(30*24*time.Hour), enc.NextKeyRotation)

	bad := 0
	_, err = tr.UpdateEncryption(EncryptionUpdate{KeyRotationDays: &bad})
	assert.ErrorIs(t, err, ErrInvalidRotationDays)
}

func TestRotateLogsSecurityEntry(t *testing.T) {
	tr, tlog, clk := newTracker(t)
	clk.Advance(10 * 24 * time.Hour)
	enc := tr.Rotate()
	assert.Equal(t, clk.Now(), enc.LastKeyRotation)

	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, translog.TypeSecurity, entries[0].Type)
	assert.Equal(t, "KEY_ROTATION", entries[0].Action)
	assert.Equal(t, translog.StatusSuccess, entries[0].Status)
}

func TestUpdateTLSStatus(t *testing.T) {
	tr, tlog, clk := newTracker(t)
	assert.Equal(t, TLSNotConfigured, tr.TLS().Status)

	_, err := tr.UpdateTLS(TLSUpdate{})
	assert.ErrorIs(t, err, ErrNoCredentials)

	st, err := tr.UpdateTLS(TLSUpdate{CACert: "not pem"})
	require.NoError(t, err)
	assert.Equal(t, TLSPartial, st.Status)
	assert.True(t, st.HasCACert)
	require.NotNil(t, st.ExpiryDate)
	assert.Equal(t, clk.Now().Add(365*24*time.Hour), *st.ExpiryDate)
	assert.Equal(t, []string{"TLS_UPDATE"}, actions(tlog.Snapshot()))
}

func TestUpdateTLSReadsCertificateExpiry(t *testing.T) {
	tr, _, _ := newTracker(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	certPath, keyPath := ca.Issue(t, dir, "gateway", x509.ExtKeyUsageServerAuth, 72*time.Hour, []string{"localhost"}, nil)
	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	keyPEM, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	st, err := tr.UpdateTLS(TLSUpdate{ServerCert: string(certPEM), ServerKey: string(keyPEM)})
	require.NoError(t, err)
	assert.Equal(t, TLSConfigured, st.Status)
	require.NotNil(t, st.ExpiryDate)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), *st.ExpiryDate, time.Minute)
}

func TestCheckDueFlagsOncePerDeadline(t *testing.T) {
	tr, tlog, clk := newTracker(t)
	assert.Empty(t, tr.CheckDue())

	clk.Advance(91 * 24 * time.Hour)
	assert.Equal(t, []string{"encryption_key"}, tr.CheckDue())
	assert.Empty(t, tr.CheckDue(), "same deadline is not logged twice")
	assert.Contains(t, tr.Hints(), "Encryption key rotation is overdue")

	tr.Rotate()
	assert.Empty(t, tr.Due())

	_, err := tr.UpdateTLS(TLSUpdate{ClientCert: "x"})
	require.NoError(t, err)
	clk.Advance(340 * 24 * time.Hour)
	due := tr.CheckDue()
	assert.Contains(t, due, "tls_certificate")

	var dueEntries int
	for _, e := range tlog.Snapshot() {
		if e.Action == "ROTATION_DUE" {
			dueEntries++
			assert.Equal(t, translog.StatusDue, e.Status)
		}
	}
	assert.Equal(t, len(due)+1, dueEntries)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{Schedule: "not a schedule"})
	err := tr.Run(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	tr := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
