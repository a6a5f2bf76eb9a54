package api

import (
	"errors"
	"net/http"

	"github.com/danmuck/swiftgate/internal/monitor"
	"github.com/gin-gonic/gin"
)

func (s *Server) uptime() gin.H {
	d, text := s.deps.Monitor.Uptime()
	return gin.H{"ms": d.Milliseconds(), "formatted": text}
}

func (s *Server) monitoring(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":         s.deps.Monitor.State(),
		"currentHealth": s.deps.Monitor.CheckHealth(),
		"uptime":        s.uptime(),
	})
}

func (s *Server) configureMonitoring(c *gin.Context) {
	var u monitor.Update
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": s.deps.Monitor.Configure(u)})
}

func (s *Server) clearAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": s.deps.Monitor.ClearAlerts()})
}

func (s *Server) detailedStats(c *gin.Context) {
	d, err := s.deps.Monitor.Detailed(c.Query("period"))
	if err != nil {
		if errors.Is(err, monitor.ErrUnknownPeriod) {
			fail(c, http.StatusBadRequest, "period must be one of 1h, 24h, 7d, 30d")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	health := gin.H{
		"uptime":            s.uptime(),
		"monitoringEnabled": s.deps.Monitor.State().Enabled,
		"alertCount":        len(s.deps.Monitor.State().Alerts),
	}
	if s.deps.Credentials != nil {
		health["tlsStatus"] = s.deps.Credentials.TLS().Status
		health["encryptionEnabled"] = s.deps.Credentials.Encryption().Enabled
	}
	if s.deps.Failover != nil {
		health["backupStatus"] = s.deps.Failover.Get().Status
	}
	c.JSON(http.StatusOK, gin.H{
		"period":             d.Period,
		"periodStart":        d.PeriodStart,
		"periodEnd":          d.PeriodEnd,
		"summary":            d.Summary,
		"byMessageType":      d.ByMessageType,
		"byProtocol":         d.ByProtocol,
		"byDirection":        d.ByDirection,
		"byCurrency":         d.ByCurrency,
		"hourlyDistribution": d.HourlyDistribution,
		"systemHealth":       health,
	})
}

func (s *Server) generateReport(c *gin.Context) {
	var req monitor.ReportRequest
	if err := s.bind(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
		fail(c, bindStatus(err), err.Error())
		return
	}
	rep, err := s.deps.Monitor.GenerateReport(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": rep})
}
