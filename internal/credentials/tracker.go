package credentials

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	Algorithm              = "AES-256-GCM"
	DefaultKeyRotationDays = 90
	DefaultSchedule        = "@hourly"
	DefaultCertWarning     = 30 * 24 * time.Hour
	assumedCertLifetime    = 365 * 24 * time.Hour
)

const (
	TLSNotConfigured = "NOT_CONFIGURED"
	TLSPartial       = "PARTIAL"
	TLSConfigured    = "CONFIGURED"
)

var (
	ErrInvalidRotationDays = errors.New("credentials: keyRotationDays must be positive")
	ErrNoCredentials       = errors.New("credentials: no certificate material supplied")
	ErrInvalidCertificate  = errors.New("credentials: certificate is not valid PEM")
)

type Encryption struct {
	Enabled         bool      `json:"enabled"`
	Algorithm       string    `json:"algorithm"`
	KeyRotationDays int       `json:"keyRotationDays"`
	LastKeyRotation time.Time `json:"lastKeyRotation"`
	NextKeyRotation time.Time `json:"nextKeyRotation"`
}

type EncryptionUpdate struct {
	Enabled         *bool `json:"enabled"`
	KeyRotationDays *int  `json:"keyRotationDays"`
}

// TLSState exposes presence flags only; the PEM blocks are never returned.
type TLSState struct {
	Status        string     `json:"status"`
	LastUpdated   *time.Time `json:"lastUpdated"`
	ExpiryDate    *time.Time `json:"expiryDate"`
	HasServerCert bool       `json:"hasServerCert"`
	HasServerKey  bool       `json:"hasServerKey"`
	HasCACert     bool       `json:"hasCaCert"`
	HasClientCert bool       `json:"hasClientCert"`
}

type TLSUpdate struct {
	ServerCert string `json:"serverCert"`
	ServerKey  string `json:"serverKey"`
	CACert     string `json:"caCert"`
	ClientCert string `json:"clientCert"`
}

type Options struct {
	Log                *translog.Log
	KeyRotationDays    int
	Schedule           string
	CertWarning        time.Duration
	EncryptionDisabled bool
	Now                func() time.Time
}

type Tracker struct {
	log         *translog.Log
	schedule    string
	certWarning time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	enc     Encryption
	tls     TLSState
	flagged map[string]time.Time
}

func New(opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.KeyRotationDays <= 0 {
		opts.KeyRotationDays = DefaultKeyRotationDays
	}
	if strings.TrimSpace(opts.Schedule) == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.CertWarning <= 0 {
		opts.CertWarning = DefaultCertWarning
	}
	now := opts.Now().UTC()
	return &Tracker{
		log:         opts.Log,
		schedule:    opts.Schedule,
		certWarning: opts.CertWarning,
		now:         opts.Now,
		enc: Encryption{
			Enabled:         !opts.EncryptionDisabled,
			Algorithm:       Algorithm,
			KeyRotationDays: opts.KeyRotationDays,
			LastKeyRotation: now,
			NextKeyRotation: now.Add(days(opts.KeyRotationDays)),
		},
		tls:     TLSState{Status: TLSNotConfigured},
		flagged: make(map[string]time.Time),
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (t *Tracker) Encryption() Encryption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enc
}

// UpdateEncryption applies a partial change. A new rotation period
// reschedules the next rotation from now.
func (t *Tracker) UpdateEncryption(u EncryptionUpdate) (Encryption, error) {
	if u.KeyRotationDays != nil && *u.KeyRotationDays <= 0 {
		return Encryption{}, ErrInvalidRotationDays
	}
	t.mu.Lock()
	if u.Enabled != nil {
		t.enc.Enabled = *u.Enabled
	}
	if u.KeyRotationDays != nil {
		t.enc.KeyRotationDays = *u.KeyRotationDays
		t.enc.NextKeyRotation = t.now().UTC().Add(days(*u.KeyRotationDays))
	}
	out := t.enc
	t.mu.Unlock()

	t.append(translog.Entry{
		Type:    translog.TypeConfig,
		Status:  translog.StatusUpdated,
		Action:  "ENCRYPTION_UPDATE",
		Details: map[string]any{"enabled": out.Enabled, "keyRotationDays": out.KeyRotationDays},
	})
	return out, nil
}

// Rotate marks the key as rotated now.
func (t *Tracker) Rotate() Encryption {
	now := t.now().UTC()
	t.mu.Lock()
	t.enc.LastKeyRotation = now
	t.enc.NextKeyRotation = now.Add(days(t.enc.KeyRotationDays))
	out := t.enc
	t.mu.Unlock()

	t.append(translog.Entry{
		Type:   translog.TypeSecurity,
		Status: translog.StatusSuccess,
		Action: "KEY_ROTATION",
	})
	log.Info().Time("next_rotation", out.NextKeyRotation).Msg("credentials: key rotated")
	return out
}

func (t *Tracker) TLS() TLSState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tls
}

// UpdateTLS stores the supplied PEM blocks. Status is CONFIGURED only when the
// update carries both server cert and key. Expiry comes from the server
// certificate's NotAfter when it parses, else one year from now.
func (t *Tracker) UpdateTLS(u TLSUpdate) (TLSState, error) {
	u.ServerCert = strings.TrimSpace(u.ServerCert)
	u.ServerKey = strings.TrimSpace(u.ServerKey)
	u.CACert = strings.TrimSpace(u.CACert)
	u.ClientCert = strings.TrimSpace(u.ClientCert)
	if u.ServerCert == "" && u.ServerKey == "" && u.CACert == "" && u.ClientCert == "" {
		return TLSState{}, ErrNoCredentials
	}

	now := t.now().UTC()
	expiry := now.Add(assumedCertLifetime)
	if u.ServerCert != "" {
		if notAfter, err := certExpiry(u.ServerCert); err == nil {
			expiry = notAfter.UTC()
		} else {
			log.Debug().Err(err).Msg("credentials: server certificate expiry not readable")
		}
	}

	t.mu.Lock()
	if u.ServerCert != "" {
		t.tls.HasServerCert = true
	}
	if u.ServerKey != "" {
		t.tls.HasServerKey = true
	}
	if u.CACert != "" {
		t.tls.HasCACert = true
	}
	if u.ClientCert != "" {
		t.tls.HasClientCert = true
	}
	t.tls.LastUpdated = &now
	t.tls.ExpiryDate = &expiry
	if u.ServerCert != "" && u.ServerKey != "" {
		t.tls.Status = TLSConfigured
	} else {
		t.tls.Status = TLSPartial
	}
	out := t.tls
	t.mu.Unlock()

	t.append(translog.Entry{
		Type:    translog.TypeConfig,
		Status:  translog.StatusSuccess,
		Action:  "TLS_UPDATE",
		Details: map[string]any{"hasCert": u.ServerCert != "", "hasKey": u.ServerKey != ""},
	})
	return out, nil
}

func certExpiry(pemText string) (time.Time, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, ErrInvalidCertificate
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return cert.NotAfter, nil
}

// Due lists the items whose deadline has passed or is near, without logging.
func (t *Tracker) Due() []string {
	due, _ := t.dueAt(t.now().UTC())
	return due
}

func (t *Tracker) dueAt(now time.Time) ([]string, map[string]time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var due []string
	deadlines := make(map[string]time.Time, 2)
	if t.enc.Enabled && !now.Before(t.enc.NextKeyRotation) {
		due = append(due, "encryption_key")
		deadlines["encryption_key"] = t.enc.NextKeyRotation
	}
	if t.tls.ExpiryDate != nil && now.Add(t.certWarning).After(*t.tls.ExpiryDate) {
		due = append(due, "tls_certificate")
		deadlines["tls_certificate"] = *t.tls.ExpiryDate
	}
	return due, deadlines
}

// CheckDue logs one SECURITY ROTATION_DUE entry per deadline the first time
// it is found due and returns the items logged by this call.
func (t *Tracker) CheckDue() []string {
	now := t.now().UTC()
	due, deadlines := t.dueAt(now)
	var fresh []string
	t.mu.Lock()
	for _, item := range due {
		if prev, ok := t.flagged[item]; ok && prev.Equal(deadlines[item]) {
			continue
		}
		t.flagged[item] = deadlines[item]
		fresh = append(fresh, item)
	}
	t.mu.Unlock()

	for _, item := range fresh {
		t.append(translog.Entry{
			Type:    translog.TypeSecurity,
			Status:  translog.StatusDue,
			Action:  "ROTATION_DUE",
			Details: map[string]any{"item": item, "deadline": deadlines[item]},
		})
		log.Warn().Str("item", item).Time("deadline", deadlines[item]).Msg("credentials: rotation due")
	}
	return fresh
}

// Hints are report recommendations derived from the tracked state.
func (t *Tracker) Hints() []string {
	now := t.now().UTC()
	due, _ := t.dueAt(now)
	var out []string
	for _, item := range due {
		switch item {
		case "encryption_key":
			out = append(out, "Encryption key rotation is overdue")
		case "tls_certificate":
			out = append(out, "TLS certificates should be rotated within 30 days")
		}
	}
	st := t.TLS()
	if st.Status != TLSConfigured {
		out = append(out, "Configure TLS server certificate and key")
	}
	if !t.Encryption().Enabled {
		out = append(out, "Message encryption is disabled")
	}
	return out
}

// Run schedules CheckDue on the tracker's cron spec until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(t.schedule, func() { t.CheckDue() }); err != nil {
		return fmt.Errorf("credentials: schedule %q: %w", t.schedule, err)
	}
	t.CheckDue()
	c.Start()
	log.Debug().Str("schedule", t.schedule).Msg("credentials: rotation checks started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (t *Tracker) append(e translog.Entry) {
	if t.log != nil {
		t.log.Append(e)
	}
}
