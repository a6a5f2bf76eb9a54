// Package app assembles the gateway from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/swiftgate/internal/api"
	"github.com/danmuck/swiftgate/internal/audit"
	"github.com/danmuck/swiftgate/internal/config"
	"github.com/danmuck/swiftgate/internal/credentials"
	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/failover"
	"github.com/danmuck/swiftgate/internal/gateway"
	"github.com/danmuck/swiftgate/internal/monitor"
	"github.com/danmuck/swiftgate/internal/node"
	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/retryqueue"
	"github.com/danmuck/swiftgate/internal/sftp"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

// Environment variables holding SFTP secrets.
const (
	EnvSFTPPassword   = "SWIFTGATE_SFTP_PASSWORD"
	EnvSFTPPrivateKey = "SWIFTGATE_SFTP_PRIVATE_KEY"
	EnvSFTPPassphrase = "SWIFTGATE_SFTP_PASSPHRASE"
)

// App owns every component and the audit resources behind the log.
type App struct {
	Config      config.Config
	Log         *translog.Log
	Registry    *gateway.Registry
	Access      *gateway.AccessList
	Processor   *gateway.Processor
	Gateway     *gateway.Service
	Dispatcher  *dispatch.Dispatcher
	Failover    *failover.Controller
	Queue       *retryqueue.Queue
	Monitor     *monitor.Monitor
	Credentials *credentials.Tracker
	SFTP        *sftp.Service
	API         *api.Server

	audit *audit.Bundle
}

// New builds the component graph. Nothing listens until Run.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bundle, err := audit.Open(cfg.AuditConfig())
	if err != nil {
		return nil, fmt.Errorf("app: open audit: %w", err)
	}
	a := &App{Config: cfg, audit: bundle}
	if err := a.build(); err != nil {
		_ = bundle.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config
	now := time.Now

	logOpts := cfg.LogOptions()
	logOpts.Sink = a.audit.Sink
	logOpts.Fallback = a.audit.Fallback
	a.Log = translog.New(logOpts)

	var err error
	a.Access, err = gateway.NewAccessList(cfg.Access.Enabled, cfg.Access.IPs, a.Log)
	if err != nil {
		return fmt.Errorf("app: access list: %w", err)
	}

	checks := []gateway.Check{gateway.NewDuplicateCheck(cfg.Checks.DuplicateWindow.Duration, cfg.Checks.DuplicateSize, now)}
	if len(cfg.Checks.AmountLimits) > 0 {
		limit, err := gateway.NewAmountLimit(cfg.Checks.AmountLimits)
		if err != nil {
			return fmt.Errorf("app: amount limits: %w", err)
		}
		checks = append(checks, limit)
	}
	a.Processor = gateway.NewProcessor(a.Log, checks...)
	a.Registry = gateway.NewRegistry(now)
	a.Gateway = gateway.NewService(cfg.GatewayConfig(), a.Processor, a.Registry, a.Access, a.Log)

	a.Dispatcher = dispatch.New(cfg.SessionConfig(), a.Log)
	a.Failover = failover.New(cfg.BackupConfig(), a.Dispatcher, a.Log)

	qopts := cfg.RetryOptions()
	qopts.Failover = a.Failover
	a.Queue, err = retryqueue.New(a.Dispatcher, qopts)
	if err != nil {
		return err
	}

	credOpts := cfg.CredentialsOptions()
	credOpts.Log = a.Log
	a.Credentials = credentials.New(credOpts)

	state := cfg.MonitorState(now())
	a.Monitor = monitor.New(monitor.Options{
		Log:         a.Log,
		QueueLen:    a.Queue.Len,
		Connections: a.Registry.Len,
		Hints:       a.Credentials.Hints,
		State:       &state,
	})

	sftpCfg := cfg.SFTPConfig(os.Getenv(EnvSFTPPassword), os.Getenv(EnvSFTPPrivateKey), os.Getenv(EnvSFTPPassphrase))
	a.SFTP = sftp.New(sftp.Options{Config: &sftpCfg, Log: a.Log, SpoolDir: cfg.SFTP.SpoolDir})

	a.API = api.New(cfg.APIConfig(), api.Deps{
		Log:         a.Log,
		Processor:   a.Processor,
		Gateway:     a.Gateway,
		Access:      a.Access,
		Queue:       a.Queue,
		Dispatcher:  a.Dispatcher,
		Monitor:     a.Monitor,
		Failover:    a.Failover,
		Credentials: a.Credentials,
		SFTP:        a.SFTP,
	})
	return nil
}

// Nodes lists the long-running components in start order.
func (a *App) Nodes() []node.Node {
	return []node.Node{
		node.Func{ID: "translog", Fn: a.Log.Run},
		node.Func{ID: "gateway", Fn: a.Gateway.Run},
		node.Func{ID: "retryqueue", Fn: a.Queue.Run},
		node.Func{ID: "monitor", Fn: a.Monitor.Run},
		node.Func{ID: "credentials", Fn: a.Credentials.Run},
		a.API,
	}
}

// Run serves until ctx ends or a component fails, then releases the audit
// sinks.
func (a *App) Run(ctx context.Context) error {
	logger := observability.Component("app")
	logger.Info().
		Str("node", a.Config.NodeID).
		Str("tcp", a.Config.Gateway.ListenAddr).
		Str("api", a.Config.API.ListenAddr).
		Bool("tls", a.Config.Session.TLSEnabled).
		Msg("swiftgate starting")

	err := node.RunAll(ctx, a.Nodes()...)
	if cerr := a.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("app: close audit sinks")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("swiftgate stopped")
	return nil
}

func (a *App) Close() error {
	if a.audit == nil {
		return nil
	}
	return a.audit.Close()
}
