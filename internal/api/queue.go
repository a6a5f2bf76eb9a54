package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/retryqueue"
	"github.com/gin-gonic/gin"
)

type enqueueRequest struct {
	Message     json.RawMessage `json:"message"`
	Host        string          `json:"host"`
	Port        int             `json:"port"`
	RetryConfig *struct {
		MaxAttempts int `json:"maxAttempts"`
	} `json:"retryConfig"`
}

type queueSummary struct {
	ID          string            `json:"id"`
	MessageType string            `json:"messageType"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	CreatedAt   time.Time         `json:"createdAt"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	NextRetryAt time.Time         `json:"nextRetryAt"`
	Status      retryqueue.Status `json:"status"`
}

func queueStatus(err error) int {
	switch {
	case errors.Is(err, retryqueue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, retryqueue.ErrInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := s.bind(c, &req); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	if len(req.Message) == 0 {
		fail(c, http.StatusBadRequest, "message is required")
		return
	}
	_, msg, err := message.Decode(req.Message)
	if err != nil {
		fail(c, http.StatusBadRequest, "message must be a json object")
		return
	}
	opts := retryqueue.EnqueueOptions{Host: req.Host, Port: req.Port}
	if req.RetryConfig != nil {
		opts.MaxAttempts = req.RetryConfig.MaxAttempts
	}
	entry, err := s.deps.Queue.Enqueue(msg, opts)
	if err != nil {
		fail(c, queueStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queued":   true,
		"queueId":  entry.ID,
		"position": s.deps.Queue.Len(),
	})
}

func (s *Server) queue(c *gin.Context) {
	entries := s.deps.Queue.List()
	out := make([]queueSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueSummary{
			ID:          e.ID,
			MessageType: e.Message.MessageType,
			Host:        e.Host,
			Port:        e.Port,
			CreatedAt:   e.CreatedAt,
			Attempts:    e.Attempts,
			MaxAttempts: e.MaxAttempts,
			NextRetryAt: e.NextRetryAt,
			Status:      e.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"queue": out, "total": len(out)})
}

func (s *Server) clearQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": s.deps.Queue.Clear()})
}

func (s *Server) retryQueue(c *gin.Context) {
	cfg := s.deps.Queue.RetryConfig()
	intervals := make([]int64, 0, len(cfg.Intervals))
	for _, d := range cfg.Intervals {
		intervals = append(intervals, d.Milliseconds())
	}
	entries := s.deps.Queue.List()
	c.JSON(http.StatusOK, gin.H{
		"queue":  entries,
		"total":  len(entries),
		"counts": s.deps.Queue.Counts(),
		"config": gin.H{
			"maxAttempts":    cfg.MaxAttempts,
			"retryIntervals": intervals,
		},
	})
}

func (s *Server) retryEntry(c *gin.Context) {
	entry, err := s.deps.Queue.Retry(c.Param("id"))
	if err != nil {
		fail(c, queueStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}

func (s *Server) deleteEntry(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Queue.Delete(id); err != nil {
		fail(c, queueStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": id})
}
