package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/auth"
	"github.com/danmuck/swiftgate/internal/credentials"
	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/failover"
	"github.com/danmuck/swiftgate/internal/gateway"
	"github.com/danmuck/swiftgate/internal/monitor"
	"github.com/danmuck/swiftgate/internal/node"
	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/retryqueue"
	"github.com/danmuck/swiftgate/internal/sftp"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config is the control-plane listener configuration.
type Config struct {
	ListenAddr   string
	NodeID       string
	CORSOrigins  []string
	APIKeys      []string
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	SendTimeout  time.Duration
	ProbeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":5002",
		NodeID:       "swiftgate",
		RateLimit:    20,
		RateBurst:    40,
		MaxBodyBytes: 10 << 20,
		SendTimeout:  30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Dispatcher is the outbound side used by the send and probe routes.
type Dispatcher interface {
	Send(ctx context.Context, host string, port int, msg message.Message, timeout time.Duration) (dispatch.Result, error)
	Probe(ctx context.Context, host string, port int, timeout time.Duration) (dispatch.ProbeResult, error)
}

// Deps are the components the control plane reads and drives.
type Deps struct {
	Log         *translog.Log
	Processor   *gateway.Processor
	Gateway     *gateway.Service
	Access      *gateway.AccessList
	Queue       *retryqueue.Queue
	Dispatcher  Dispatcher
	Monitor     *monitor.Monitor
	Failover    *failover.Controller
	Credentials *credentials.Tracker
	SFTP        *sftp.Service
}

type Server struct {
	cfg     Config
	deps    Deps
	router  *gin.Engine
	keys    auth.KeySet
	limiter *rate.Limiter
	started time.Time
	now     func() time.Time
}

var _ node.Node = (*Server)(nil)

func New(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  r,
		keys:    auth.NewKeySet(cfg.APIKeys...),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		started: time.Now(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) NodeID() string {
	return "api"
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("api: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api: listen %s: %w", s.cfg.ListenAddr, err)
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api: shutdown")
	}
	return <-errCh
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/api/swift")
	write := []gin.HandlerFunc{s.rateLimit(), s.requireKey()}
	post := func(path string, h gin.HandlerFunc) {
		g.POST(path, append(append([]gin.HandlerFunc{}, write...), h)...)
	}
	del := func(path string, h gin.HandlerFunc) {
		g.DELETE(path, append(append([]gin.HandlerFunc{}, write...), h)...)
	}

	g.GET("/status", s.status)
	g.GET("/connections", s.connections)
	g.GET("/logs", s.logs)
	g.GET("/logs/stream", s.logStream)

	post("/send", s.send)
	post("/validate", s.validate)
	post("/simulate/receive", s.simulateReceive)
	post("/test-connection", s.testConnection)
	post("/tcp/send", s.tcpSend)

	post("/queue", s.enqueue)
	g.GET("/queue", s.queue)
	del("/queue", s.clearQueue)
	g.GET("/retry-queue", s.retryQueue)
	post("/retry-queue/:id/retry", s.retryEntry)
	del("/retry-queue/:id", s.deleteEntry)

	g.GET("/monitoring", s.monitoring)
	post("/monitoring", s.configureMonitoring)
	del("/monitoring/alerts", s.clearAlerts)
	g.GET("/stats/detailed", s.detailedStats)
	post("/reports/generate", s.generateReport)

	g.GET("/config/backup", s.backup)
	post("/config/backup", s.updateBackup)
	post("/config/backup/test", s.testBackup)
	g.GET("/config/encryption", s.encryption)
	post("/config/encryption", s.updateEncryption)
	post("/config/encryption/rotate", s.rotateKeys)
	g.GET("/config/tls", s.tlsStatus)
	post("/config/tls", s.updateTLS)
	g.GET("/config/whitelist", s.whitelist)
	post("/config/whitelist", s.updateWhitelist)
	g.GET("/config/sftp", s.sftpConfig)
	post("/config/sftp", s.updateSFTP)
	post("/config/sftp/test", s.testSFTP)
	post("/sftp/upload", s.sftpUpload)
	g.GET("/sftp/list", s.sftpList)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
