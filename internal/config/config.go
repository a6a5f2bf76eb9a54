// Package config loads the swiftgate TOML file, overlaying defaults for
// every key the file leaves out.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	ErrUnknownKeys = errors.New("config: unknown keys")
	ErrInvalid     = errors.New("config: invalid")
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func dur(d time.Duration) Duration { return Duration{d} }

type Gateway struct {
	ListenAddr      string   `toml:"listen_addr"`
	TLSListenAddr   string   `toml:"tls_listen_addr"`
	MaxFrameBytes   int      `toml:"max_frame_bytes"`
	ReadIdleTimeout Duration `toml:"read_idle_timeout"`
}

type Session struct {
	SecurityMode   string   `toml:"security_mode"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	TLSMutual      bool     `toml:"tls_mutual"`
	TLSCertFile    string   `toml:"tls_cert_file"`
	TLSKeyFile     string   `toml:"tls_key_file"`
	TLSCAFile      string   `toml:"tls_ca_file"`
	TLSServerName  string   `toml:"tls_server_name"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	AckTimeout     Duration `toml:"ack_timeout"`
}

type API struct {
	ListenAddr   string   `toml:"listen_addr"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKeys      []string `toml:"api_keys"`
	RateLimit    float64  `toml:"rate_limit"`
	RateBurst    int      `toml:"rate_burst"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
}

type Log struct {
	Capacity  int `toml:"capacity"`
	QueueSize int `toml:"queue_size"`
}

type Audit struct {
	FileDir      string   `toml:"file_dir"`
	FallbackPath string   `toml:"fallback_path"`
	SQLitePath   string   `toml:"sqlite_path"`
	RedisAddr    string   `toml:"redis_addr"`
	RedisStream  string   `toml:"redis_stream"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

type Retry struct {
	Intervals    []Duration `toml:"intervals"`
	MaxAttempts  int        `toml:"max_attempts"`
	ScanInterval Duration   `toml:"scan_interval"`
	Workers      int        `toml:"workers"`
	PeerHost     string     `toml:"peer_host"`
	PeerPort     int        `toml:"peer_port"`
}

type Checks struct {
	DuplicateWindow Duration          `toml:"duplicate_window"`
	DuplicateSize   int               `toml:"duplicate_size"`
	AmountLimits    map[string]string `toml:"amount_limits"`
}

type Access struct {
	Enabled bool     `toml:"enabled"`
	IPs     []string `toml:"ips"`
}

type Monitor struct {
	Enabled    bool    `toml:"enabled"`
	IntervalMS int64   `toml:"interval_ms"`
	LatencyMS  int64   `toml:"latency_ms"`
	ErrorRate  float64 `toml:"error_rate"`
	QueueSize  int     `toml:"queue_size"`
}

type Backup struct {
	Enabled      bool   `toml:"enabled"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	AutoFailover bool   `toml:"auto_failover"`
}

type Credentials struct {
	EncryptionEnabled bool   `toml:"encryption_enabled"`
	KeyRotationDays   int    `toml:"key_rotation_days"`
	Schedule          string `toml:"schedule"`
	CertWarningDays   int    `toml:"cert_warning_days"`
}

type SFTP struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	Username   string   `toml:"username"`
	AuthMethod string   `toml:"auth_method"`
	SpoolDir   string   `toml:"spool_dir"`
	KnownHosts []string `toml:"known_hosts"`
}

// Config is the whole swiftgate file. Secrets (SFTP password, private key)
// come from the environment, never from this file.
type Config struct {
	NodeID      string      `toml:"node_id"`
	Gateway     Gateway     `toml:"gateway"`
	Session     Session     `toml:"session"`
	API         API         `toml:"api"`
	Log         Log         `toml:"log"`
	Audit       Audit       `toml:"audit"`
	Retry       Retry       `toml:"retry"`
	Checks      Checks      `toml:"checks"`
	Access      Access      `toml:"access"`
	Monitor     Monitor     `toml:"monitor"`
	Backup      Backup      `toml:"backup"`
	Credentials Credentials `toml:"credentials"`
	SFTP        SFTP        `toml:"sftp"`
}

func Default() Config {
	return Config{
		NodeID: "swiftgate",
		Gateway: Gateway{
			ListenAddr:    ":5000",
			TLSListenAddr: ":5001",
			MaxFrameBytes: 10 << 20,
		},
		Session: Session{
			SecurityMode:   "development",
			ConnectTimeout: dur(5 * time.Second),
			WriteTimeout:   dur(15 * time.Second),
			AckTimeout:     dur(30 * time.Second),
		},
		API: API{
			ListenAddr:   ":5002",
			CORSOrigins:  []string{"http://localhost:3000"},
			APIKeys:      []string{},
			RateLimit:    20,
			RateBurst:    40,
			MaxBodyBytes: 10 << 20,
		},
		Log: Log{Capacity: 1000, QueueSize: 4096},
		Audit: Audit{
			FileDir:      "logs",
			FallbackPath: "logs/pending.jsonl",
			RedisStream:  "swiftgate:audit",
			KafkaBrokers: []string{},
			KafkaTopic:   "swiftgate.audit",
		},
		Retry: Retry{
			Intervals:    []Duration{dur(60 * time.Second), dur(180 * time.Second), dur(300 * time.Second)},
			MaxAttempts:  3,
			ScanInterval: dur(5 * time.Second),
			Workers:      8,
			PeerHost:     "127.0.0.1",
			PeerPort:     5000,
		},
		Checks: Checks{
			DuplicateWindow: dur(24 * time.Hour),
			DuplicateSize:   10000,
			AmountLimits:    map[string]string{},
		},
		Access: Access{
			IPs: []string{"127.0.0.1", "::1", "192.168.1.0/24"},
		},
		Monitor: Monitor{
			Enabled:    true,
			IntervalMS: 30000,
			LatencyMS:  5000,
			ErrorRate:  0.1,
			QueueSize:  100,
		},
		Backup: Backup{Port: 5001, AutoFailover: true},
		Credentials: Credentials{
			EncryptionEnabled: true,
			KeyRotationDays:   90,
			Schedule:          "@hourly",
			CertWarningDays:   30,
		},
		SFTP: SFTP{
			Host:       "sftp.swift.com",
			Port:       22,
			Username:   "swift_user",
			AuthMethod: "password",
			KnownHosts: []string{},
		},
	}
}

// Load decodes path over Default. Keys the file does not define keep their
// defaults; keys the decoder does not recognize are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	overlay(&cfg, raw, meta)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw Config, meta toml.MetaData) {
	str := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(dst *int, v int, key ...string) {
		if meta.IsDefined(key...) {
			*dst = v
		}
	}
	flag := func(dst *bool, v bool, key ...string) {
		if meta.IsDefined(key...) {
			*dst = v
		}
	}
	span := func(dst *Duration, v Duration, key ...string) {
		if meta.IsDefined(key...) {
			*dst = v
		}
	}
	list := func(dst *[]string, v []string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = trimAll(v)
		}
	}

	str(&cfg.NodeID, raw.NodeID, "node_id")

	str(&cfg.Gateway.ListenAddr, raw.Gateway.ListenAddr, "gateway", "listen_addr")
	str(&cfg.Gateway.TLSListenAddr, raw.Gateway.TLSListenAddr, "gateway", "tls_listen_addr")
	num(&cfg.Gateway.MaxFrameBytes, raw.Gateway.MaxFrameBytes, "gateway", "max_frame_bytes")
	span(&cfg.Gateway.ReadIdleTimeout, raw.Gateway.ReadIdleTimeout, "gateway", "read_idle_timeout")

	str(&cfg.Session.SecurityMode, raw.Session.SecurityMode, "session", "security_mode")
	flag(&cfg.Session.TLSEnabled, raw.Session.TLSEnabled, "session", "tls_enabled")
	flag(&cfg.Session.TLSMutual, raw.Session.TLSMutual, "session", "tls_mutual")
	str(&cfg.Session.TLSCertFile, raw.Session.TLSCertFile, "session", "tls_cert_file")
	str(&cfg.Session.TLSKeyFile, raw.Session.TLSKeyFile, "session", "tls_key_file")
	str(&cfg.Session.TLSCAFile, raw.Session.TLSCAFile, "session", "tls_ca_file")
	str(&cfg.Session.TLSServerName, raw.Session.TLSServerName, "session", "tls_server_name")
	span(&cfg.Session.ConnectTimeout, raw.Session.ConnectTimeout, "session", "connect_timeout")
	span(&cfg.Session.WriteTimeout, raw.Session.WriteTimeout, "session", "write_timeout")
	span(&cfg.Session.AckTimeout, raw.Session.AckTimeout, "session", "ack_timeout")

	str(&cfg.API.ListenAddr, raw.API.ListenAddr, "api", "listen_addr")
	list(&cfg.API.CORSOrigins, raw.API.CORSOrigins, "api", "cors_origins")
	list(&cfg.API.APIKeys, raw.API.APIKeys, "api", "api_keys")
	if meta.IsDefined("api", "rate_limit") {
		cfg.API.RateLimit = raw.API.RateLimit
	}
	num(&cfg.API.RateBurst, raw.API.RateBurst, "api", "rate_burst")
	if meta.IsDefined("api", "max_body_bytes") {
		cfg.API.MaxBodyBytes = raw.API.MaxBodyBytes
	}

	num(&cfg.Log.Capacity, raw.Log.Capacity, "log", "capacity")
	num(&cfg.Log.QueueSize, raw.Log.QueueSize, "log", "queue_size")

	str(&cfg.Audit.FileDir, raw.Audit.FileDir, "audit", "file_dir")
	str(&cfg.Audit.FallbackPath, raw.Audit.FallbackPath, "audit", "fallback_path")
	str(&cfg.Audit.SQLitePath, raw.Audit.SQLitePath, "audit", "sqlite_path")
	str(&cfg.Audit.RedisAddr, raw.Audit.RedisAddr, "audit", "redis_addr")
	str(&cfg.Audit.RedisStream, raw.Audit.RedisStream, "audit", "redis_stream")
	list(&cfg.Audit.KafkaBrokers, raw.Audit.KafkaBrokers, "audit", "kafka_brokers")
	str(&cfg.Audit.KafkaTopic, raw.Audit.KafkaTopic, "audit", "kafka_topic")

	if meta.IsDefined("retry", "intervals") {
		cfg.Retry.Intervals = raw.Retry.Intervals
	}
	num(&cfg.Retry.MaxAttempts, raw.Retry.MaxAttempts, "retry", "max_attempts")
	span(&cfg.Retry.ScanInterval, raw.Retry.ScanInterval, "retry", "scan_interval")
	num(&cfg.Retry.Workers, raw.Retry.Workers, "retry", "workers")
	str(&cfg.Retry.PeerHost, raw.Retry.PeerHost, "retry", "peer_host")
	num(&cfg.Retry.PeerPort, raw.Retry.PeerPort, "retry", "peer_port")

	span(&cfg.Checks.DuplicateWindow, raw.Checks.DuplicateWindow, "checks", "duplicate_window")
	num(&cfg.Checks.DuplicateSize, raw.Checks.DuplicateSize, "checks", "duplicate_size")
	if meta.IsDefined("checks", "amount_limits") {
		cfg.Checks.AmountLimits = make(map[string]string, len(raw.Checks.AmountLimits))
		for cur, limit := range raw.Checks.AmountLimits {
			cfg.Checks.AmountLimits[strings.ToUpper(strings.TrimSpace(cur))] = strings.TrimSpace(limit)
		}
	}

	flag(&cfg.Access.Enabled, raw.Access.Enabled, "access", "enabled")
	list(&cfg.Access.IPs, raw.Access.IPs, "access", "ips")

	flag(&cfg.Monitor.Enabled, raw.Monitor.Enabled, "monitor", "enabled")
	if meta.IsDefined("monitor", "interval_ms") {
		cfg.Monitor.IntervalMS = raw.Monitor.IntervalMS
	}
	if meta.IsDefined("monitor", "latency_ms") {
		cfg.Monitor.LatencyMS = raw.Monitor.LatencyMS
	}
	if meta.IsDefined("monitor", "error_rate") {
		cfg.Monitor.ErrorRate = raw.Monitor.ErrorRate
	}
	num(&cfg.Monitor.QueueSize, raw.Monitor.QueueSize, "monitor", "queue_size")

	flag(&cfg.Backup.Enabled, raw.Backup.Enabled, "backup", "enabled")
	str(&cfg.Backup.Host, raw.Backup.Host, "backup", "host")
	num(&cfg.Backup.Port, raw.Backup.Port, "backup", "port")
	flag(&cfg.Backup.AutoFailover, raw.Backup.AutoFailover, "backup", "auto_failover")

	flag(&cfg.Credentials.EncryptionEnabled, raw.Credentials.EncryptionEnabled, "credentials", "encryption_enabled")
	num(&cfg.Credentials.KeyRotationDays, raw.Credentials.KeyRotationDays, "credentials", "key_rotation_days")
	str(&cfg.Credentials.Schedule, raw.Credentials.Schedule, "credentials", "schedule")
	num(&cfg.Credentials.CertWarningDays, raw.Credentials.CertWarningDays, "credentials", "cert_warning_days")

	str(&cfg.SFTP.Host, raw.SFTP.Host, "sftp", "host")
	num(&cfg.SFTP.Port, raw.SFTP.Port, "sftp", "port")
	str(&cfg.SFTP.Username, raw.SFTP.Username, "sftp", "username")
	str(&cfg.SFTP.AuthMethod, raw.SFTP.AuthMethod, "sftp", "auth_method")
	str(&cfg.SFTP.SpoolDir, raw.SFTP.SpoolDir, "sftp", "spool_dir")
	list(&cfg.SFTP.KnownHosts, raw.SFTP.KnownHosts, "sftp", "known_hosts")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks values that would otherwise fail late, at bind or first
// use.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	addr := func(name, v string, required bool) {
		if v == "" {
			if required {
				bad("%s is required", name)
			}
			return
		}
		if _, port, err := net.SplitHostPort(v); err != nil {
			bad("%s %q: %v", name, v, err)
		} else if _, err := strconv.Atoi(port); err != nil {
			bad("%s %q: port must be numeric", name, v)
		}
	}

	if strings.TrimSpace(c.NodeID) == "" {
		bad("node_id is required")
	}
	addr("gateway.listen_addr", c.Gateway.ListenAddr, true)
	addr("api.listen_addr", c.API.ListenAddr, true)
	if c.Session.TLSEnabled {
		addr("gateway.tls_listen_addr", c.Gateway.TLSListenAddr, true)
	}
	if c.Gateway.MaxFrameBytes <= 0 {
		bad("gateway.max_frame_bytes must be positive")
	}
	switch c.Session.SecurityMode {
	case "development", "production":
	default:
		bad("session.security_mode %q must be development or production", c.Session.SecurityMode)
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
		bad("api.rate_limit and api.rate_burst must be positive")
	}
	if len(c.Retry.Intervals) == 0 {
		bad("retry.intervals must not be empty")
	}
	for i, d := range c.Retry.Intervals {
		if d.Duration <= 0 {
			bad("retry.intervals[%d] must be positive", i)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		bad("retry.max_attempts must be positive")
	}
	if c.Retry.PeerPort < 0 || c.Retry.PeerPort > 65535 {
		bad("retry.peer_port %d out of range", c.Retry.PeerPort)
	}
	if c.Monitor.ErrorRate < 0 || c.Monitor.ErrorRate > 1 {
		bad("monitor.error_rate must be within [0, 1]")
	}
	if c.Credentials.KeyRotationDays <= 0 {
		bad("credentials.key_rotation_days must be positive")
	}
	if c.Backup.Enabled && strings.TrimSpace(c.Backup.Host) == "" {
		bad("backup.host is required when backup is enabled")
	}
	switch c.SFTP.AuthMethod {
	case "password", "privateKey":
	default:
		bad("sftp.auth_method %q must be password or privateKey", c.SFTP.AuthMethod)
	}
	if len(c.Audit.KafkaBrokers) > 0 && strings.TrimSpace(c.Audit.KafkaTopic) == "" {
		bad("audit.kafka_topic is required with kafka_brokers")
	}
	return errors.Join(errs...)
}
