package config

import (
	"time"

	"github.com/danmuck/swiftgate/internal/api"
	"github.com/danmuck/swiftgate/internal/audit"
	"github.com/danmuck/swiftgate/internal/credentials"
	"github.com/danmuck/swiftgate/internal/failover"
	"github.com/danmuck/swiftgate/internal/gateway"
	"github.com/danmuck/swiftgate/internal/monitor"
	"github.com/danmuck/swiftgate/internal/protocol/frame"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/danmuck/swiftgate/internal/retryqueue"
	"github.com/danmuck/swiftgate/internal/sftp"
	"github.com/danmuck/swiftgate/internal/translog"
)

func (c Config) SessionConfig() session.Config {
	out := session.DefaultConfig()
	out.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(c.Session.SecurityMode))
	out.TLS = session.TLSConfig{
		Enabled:    c.Session.TLSEnabled,
		Mutual:     c.Session.TLSMutual,
		CertFile:   c.Session.TLSCertFile,
		KeyFile:    c.Session.TLSKeyFile,
		CAFile:     c.Session.TLSCAFile,
		ServerName: c.Session.TLSServerName,
	}
	if c.Session.ConnectTimeout.Duration > 0 {
		out.ConnectTimeout = c.Session.ConnectTimeout.Duration
	}
	if c.Session.WriteTimeout.Duration > 0 {
		out.WriteTimeout = c.Session.WriteTimeout.Duration
	}
	if c.Session.AckTimeout.Duration > 0 {
		out.AckTimeout = c.Session.AckTimeout.Duration
	}
	out.ReadIdleTimeout = c.Gateway.ReadIdleTimeout.Duration
	out.Retry = c.RetryConfig()
	return out
}

func (c Config) RetryConfig() session.RetryConfig {
	intervals := make([]time.Duration, 0, len(c.Retry.Intervals))
	for _, d := range c.Retry.Intervals {
		intervals = append(intervals, d.Duration)
	}
	return session.RetryConfig{Intervals: intervals, MaxAttempts: c.Retry.MaxAttempts}
}

func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		ListenAddr:    c.Gateway.ListenAddr,
		TLSListenAddr: c.Gateway.TLSListenAddr,
		Limits:        frame.Limits{MaxFrameBytes: c.Gateway.MaxFrameBytes},
		Session:       c.SessionConfig(),
	}
}

func (c Config) APIConfig() api.Config {
	return api.Config{
		ListenAddr:   c.API.ListenAddr,
		NodeID:       c.NodeID,
		CORSOrigins:  append([]string(nil), c.API.CORSOrigins...),
		APIKeys:      append([]string(nil), c.API.APIKeys...),
		RateLimit:    c.API.RateLimit,
		RateBurst:    c.API.RateBurst,
		MaxBodyBytes: c.API.MaxBodyBytes,
		SendTimeout:  c.Session.AckTimeout.Duration,
		ProbeTimeout: c.Session.ConnectTimeout.Duration,
	}
}

func (c Config) AuditConfig() audit.Config {
	return audit.Config{
		FileDir:      c.Audit.FileDir,
		SQLitePath:   c.Audit.SQLitePath,
		RedisAddr:    c.Audit.RedisAddr,
		RedisStream:  c.Audit.RedisStream,
		KafkaBrokers: append([]string(nil), c.Audit.KafkaBrokers...),
		KafkaTopic:   c.Audit.KafkaTopic,
		FallbackPath: c.Audit.FallbackPath,
	}
}

// LogOptions leaves Sink and Fallback for the caller to attach.
func (c Config) LogOptions() translog.Options {
	opts := translog.DefaultOptions()
	opts.Capacity = c.Log.Capacity
	opts.QueueSize = c.Log.QueueSize
	return opts
}

// RetryOptions leaves Failover for the caller to attach.
func (c Config) RetryOptions() retryqueue.Options {
	opts := retryqueue.DefaultOptions()
	opts.Retry = c.RetryConfig()
	opts.ScanInterval = c.Retry.ScanInterval.Duration
	opts.Workers = c.Retry.Workers
	opts.SendTimeout = c.Session.AckTimeout.Duration
	opts.DefaultHost = c.Retry.PeerHost
	opts.DefaultPort = c.Retry.PeerPort
	return opts
}

func (c Config) MonitorState(now time.Time) monitor.State {
	st := monitor.DefaultState(now)
	st.Enabled = c.Monitor.Enabled
	if c.Monitor.IntervalMS > 0 {
		st.IntervalMS = c.Monitor.IntervalMS
	}
	st.Thresholds = monitor.Thresholds{
		LatencyMS: c.Monitor.LatencyMS,
		ErrorRate: c.Monitor.ErrorRate,
		QueueSize: c.Monitor.QueueSize,
	}
	return st
}

func (c Config) BackupConfig() failover.Backup {
	b := failover.DefaultBackup()
	b.Enabled = c.Backup.Enabled
	b.Host = c.Backup.Host
	if c.Backup.Port > 0 {
		b.Port = c.Backup.Port
	}
	b.AutoFailover = c.Backup.AutoFailover
	return b
}

func (c Config) CredentialsOptions() credentials.Options {
	return credentials.Options{
		KeyRotationDays:    c.Credentials.KeyRotationDays,
		Schedule:           c.Credentials.Schedule,
		CertWarning:        time.Duration(c.Credentials.CertWarningDays) * 24 * time.Hour,
		EncryptionDisabled: !c.Credentials.EncryptionEnabled,
	}
}

// SFTPConfig merges file settings with secrets supplied by the caller.
func (c Config) SFTPConfig(password, privateKey, passphrase string) sftp.Config {
	out := sftp.DefaultConfig()
	out.Host = c.SFTP.Host
	out.Port = c.SFTP.Port
	out.Username = c.SFTP.Username
	out.AuthMethod = c.SFTP.AuthMethod
	out.KnownHosts = append([]string{}, c.SFTP.KnownHosts...)
	out.Password = password
	out.PrivateKey = privateKey
	out.Passphrase = passphrase
	return out
}
