package failover

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

const (
	StatusDisconnected = "DISCONNECTED"
	StatusConnected    = "CONNECTED"
	StatusError        = "ERROR"
)

// Backup is the secondary counterpart and its failover bookkeeping.
type Backup struct {
	Enabled       bool       `json:"enabled"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Status        string     `json:"status"`
	AutoFailover  bool       `json:"autoFailover"`
	FailoverCount int        `json:"failoverCount"`
	LastAttempt   *time.Time `json:"lastAttempt"`
	LastSuccess   *time.Time `json:"lastSuccess"`
	LastFailover  *time.Time `json:"lastFailover"`
}

func DefaultBackup() Backup {
	return Backup{
		Port:         5001,
		Status:       StatusDisconnected,
		AutoFailover: true,
	}
}

type Update struct {
	Enabled      *bool   `json:"enabled"`
	Host         *string `json:"host"`
	Port         *int    `json:"port"`
	AutoFailover *bool   `json:"autoFailover"`
}

// Prober checks reachability of one address.
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) (dispatch.ProbeResult, error)
}

type TestResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Latency int64  `json:"latency,omitempty"`
}

type Controller struct {
	prober  Prober
	log     *translog.Log
	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	backup Backup
}

func New(initial Backup, prober Prober, tlog *translog.Log) *Controller {
	if initial.Status == "" {
		initial.Status = StatusDisconnected
	}
	return &Controller{
		prober:  prober,
		log:     tlog,
		now:     time.Now,
		timeout: 5 * time.Second,
		backup:  initial,
	}
}

func (c *Controller) Get() Backup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backup
}

// Update applies a partial change and records a CONFIG entry.
func (c *Controller) Update(u Update) Backup {
	c.mu.Lock()
	if u.Enabled != nil {
		c.backup.Enabled = *u.Enabled
	}
	if u.Host != nil {
		c.backup.Host = strings.TrimSpace(*u.Host)
	}
	if u.Port != nil && *u.Port > 0 {
		c.backup.Port = *u.Port
	}
	if u.AutoFailover != nil {
		c.backup.AutoFailover = *u.AutoFailover
	}
	out := c.backup
	c.mu.Unlock()

	if c.log != nil {
		c.log.Append(translog.Entry{
			Type:   translog.TypeConfig,
			Status: translog.StatusUpdated,
			Action: "BACKUP_UPDATE",
			Details: map[string]any{
				"enabled": out.Enabled,
				"host":    out.Host,
				"port":    out.Port,
			},
		})
	}
	return out
}

// Test probes the backup and updates its status.
func (c *Controller) Test(ctx context.Context) TestResult {
	now := c.now().UTC()
	c.mu.Lock()
	c.backup.LastAttempt = &now
	host, port := c.backup.Host, c.backup.Port
	c.mu.Unlock()

	if host == "" || port <= 0 {
		c.setStatus(StatusError, nil)
		return TestResult{Status: StatusError, Message: "Backup connection test failed - check configuration"}
	}
	res, err := c.prober.Probe(ctx, host, port, c.timeout)
	if err != nil || !res.Success {
		c.setStatus(StatusError, nil)
		msg := "Backup connection test failed"
		if res.Error != "" {
			msg += ": " + res.Error
		} else if err != nil {
			msg += ": " + err.Error()
		}
		return TestResult{Status: StatusError, Message: msg}
	}
	ok := c.now().UTC()
	c.setStatus(StatusConnected, &ok)
	return TestResult{Success: true, Status: StatusConnected, Message: "Backup connection test successful", Latency: res.LatencyMS}
}

func (c *Controller) setStatus(status string, success *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backup.Status = status
	if success != nil {
		c.backup.LastSuccess = success
	}
}

// Alternate returns the backup for a delivery that exhausted host:port. It
// declines when failover is off, no backup is set, or the failed
// destination already is the backup.
func (c *Controller) Alternate(host string, port int) (string, int, bool) {
	c.mu.Lock()
	b := c.backup
	if !b.Enabled || !b.AutoFailover || b.Host == "" || b.Port <= 0 {
		c.mu.Unlock()
		return "", 0, false
	}
	if strings.EqualFold(b.Host, host) && b.Port == port {
		c.mu.Unlock()
		return "", 0, false
	}
	now := c.now().UTC()
	c.backup.FailoverCount++
	c.backup.LastFailover = &now
	count := c.backup.FailoverCount
	c.mu.Unlock()

	log.Warn().Str("primary", host).Int("primary_port", port).Str("backup", b.Host).Int("backup_port", b.Port).Int("failover_count", count).Msg("failover: routing to backup")
	return b.Host, b.Port, true
}
