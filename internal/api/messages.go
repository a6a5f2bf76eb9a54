package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/gateway"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/schema"
	"github.com/danmuck/swiftgate/internal/retryqueue"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const ProtocolSimulation = "SIMULATION"

func (s *Server) queueLen() int {
	if s.deps.Queue == nil {
		return 0
	}
	return s.deps.Queue.Len()
}

func (s *Server) connectionCount() int {
	if s.deps.Gateway == nil {
		return 0
	}
	return s.deps.Gateway.Registry().Len()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   s.now().UTC(),
		"uptime":      s.now().Sub(s.started).Seconds(),
		"connections": s.connectionCount(),
		"queueLength": s.queueLen(),
	})
}

func (s *Server) status(c *gin.Context) {
	tcp := gin.H{"running": false, "connections": 0}
	if gw := s.deps.Gateway; gw != nil {
		cfg := gw.Config()
		tcp = gin.H{
			"running":     gw.Listening(),
			"listenAddr":  cfg.ListenAddr,
			"connections": gw.Registry().Len(),
		}
		if cfg.Session.TLS.Enabled {
			tcp["tlsListenAddr"] = cfg.TLSListenAddr
		}
	}

	total := 0
	var lastActivity *time.Time
	if s.deps.Log != nil {
		total = s.deps.Log.Len()
		if page := s.deps.Log.List(translog.Query{Limit: 1}); len(page.Logs) > 0 {
			ts := page.Logs[0].Timestamp
			lastActivity = &ts
		}
	}
	pending := 0
	if s.deps.Queue != nil {
		pending = s.deps.Queue.Counts()[retryqueue.StatusRetrying]
	}
	c.JSON(http.StatusOK, gin.H{
		"tcpServer": tcp,
		"apiServer": gin.H{"running": true, "listenAddr": s.cfg.ListenAddr},
		"statistics": gin.H{
			"totalTransmissions": total,
			"queuedMessages":     s.queueLen(),
			"pendingAcks":        pending,
		},
		"lastActivity": lastActivity,
	})
}

func (s *Server) connections(c *gin.Context) {
	conns := []gateway.Connection{}
	if s.deps.Gateway != nil {
		conns = s.deps.Gateway.Registry().List()
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

func (s *Server) logs(c *gin.Context) {
	if s.deps.Log == nil {
		c.JSON(http.StatusOK, translog.Page{Logs: []translog.Entry{}})
		return
	}
	page := s.deps.Log.List(translog.Query{
		Type:   translog.EntryType(strings.ToUpper(c.Query("type"))),
		Limit:  queryInt(c, "limit", translog.DefaultListLimit),
		Offset: queryInt(c, "offset", 0),
	})
	c.JSON(http.StatusOK, page)
}

// send runs a message through the same pipeline as a socket frame.
func (s *Server) send(c *gin.Context) {
	raw, err := s.readBody(c)
	if err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	resp := s.deps.Processor.Process(c.Request.Context(), raw, gateway.Source{
		Protocol:      translog.ProtocolAPI,
		RemoteAddress: c.ClientIP(),
	})
	if !resp.Accepted() {
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type validateRequest struct {
	MessageType string         `json:"messageType"`
	Message     map[string]any `json:"message"`
}

func (s *Server) validate(c *gin.Context) {
	var req validateRequest
	if err := s.bind(c, &req); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	if req.Message == nil {
		fail(c, http.StatusBadRequest, "message is required")
		return
	}
	mt := req.MessageType
	if mt == "" {
		mt = message.FromFields(req.Message).MessageType
	}
	c.JSON(http.StatusOK, schema.ValidateTyped(mt, req.Message, s.now()))
}

type simulateRequest struct {
	MessageType string      `json:"messageType"`
	SenderBIC   string      `json:"senderBic"`
	ReceiverBIC string      `json:"receiverBic"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
}

// simulateReceive feeds a synthesized inbound transfer through the
// processor, so duplicate and limit checks apply as for a real frame.
func (s *Server) simulateReceive(c *gin.Context) {
	var req simulateRequest
	if err := s.bind(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
		fail(c, bindStatus(err), err.Error())
		return
	}
	now := s.now()
	msg := message.Sample(now)
	msg.Reference = message.NewTransactionRef(now)
	if req.MessageType != "" {
		msg.MessageType = req.MessageType
	}
	if req.SenderBIC != "" {
		msg.SenderBIC = req.SenderBIC
	}
	if req.ReceiverBIC != "" {
		msg.ReceiverBIC = req.ReceiverBIC
	}
	if req.Amount != "" {
		msg.Amount = req.Amount
	}
	if req.Currency != "" {
		msg.Currency = req.Currency
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp := s.deps.Processor.Process(c.Request.Context(), raw, gateway.Source{
		Protocol:      ProtocolSimulation,
		RemoteAddress: c.ClientIP(),
	})
	status := http.StatusOK
	if !resp.Accepted() {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"received": resp.Accepted(),
		"message":  msg,
		"ack":      resp,
	})
}

type probeRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMS int64  `json:"timeout"`
}

func (s *Server) testConnection(c *gin.Context) {
	var req probeRequest
	if err := s.bind(c, &req); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	if req.Host == "" || req.Port <= 0 {
		fail(c, http.StatusBadRequest, "host and port are required")
		return
	}
	timeout := s.cfg.ProbeTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	res, err := s.deps.Dispatcher.Probe(c.Request.Context(), req.Host, req.Port, timeout)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !res.Success {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type tcpSendRequest struct {
	Host             string          `json:"host"`
	Port             int             `json:"port"`
	Message          json.RawMessage `json:"message"`
	TimeoutMS        int64           `json:"timeout"`
	EnqueueOnFailure bool            `json:"enqueueOnFailure"`
}

// tcpSend dispatches one message to a counterpart. A transport failure is
// handed to the retry queue when the caller asks for it.
func (s *Server) tcpSend(c *gin.Context) {
	var req tcpSendRequest
	if err := s.bind(c, &req); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	if req.Host == "" || req.Port <= 0 || len(req.Message) == 0 {
		fail(c, http.StatusBadRequest, "host, port, and message are required")
		return
	}
	fields, msg, err := message.Decode(req.Message)
	if err != nil || len(fields) == 0 {
		fail(c, http.StatusBadRequest, "message must be a json object")
		return
	}
	timeout := s.cfg.SendTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	res, err := s.deps.Dispatcher.Send(c.Request.Context(), req.Host, req.Port, msg, timeout)
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}

	out := gin.H{
		"success":           false,
		"originalReference": msg.Reference,
		"error":             err.Error(),
	}
	var de *dispatch.Error
	if errors.As(err, &de) {
		out["kind"] = de.Kind
	}
	if req.EnqueueOnFailure && dispatch.Retryable(err) && s.deps.Queue != nil {
		entry, qerr := s.deps.Queue.Enqueue(msg, retryqueue.EnqueueOptions{Host: req.Host, Port: req.Port})
		if qerr != nil {
			log.Warn().Err(qerr).Str("host", req.Host).Msg("api: enqueue after failed send")
		} else {
			out["queued"] = true
			out["queueId"] = entry.ID
		}
	}
	c.JSON(http.StatusBadGateway, out)
}
