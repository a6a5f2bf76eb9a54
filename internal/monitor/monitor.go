package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

const (
	MaxAlerts         = 100
	DefaultIntervalMS = 30000
	statsWindow       = time.Hour
	minIntervalMS     = 1000
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types.
const (
	AlertHighLatency   = "HIGH_LATENCY"
	AlertHighErrorRate = "HIGH_ERROR_RATE"
	AlertQueueOverflow = "QUEUE_OVERFLOW"
)

type Thresholds struct {
	LatencyMS int64   `json:"latencyMs"`
	ErrorRate float64 `json:"errorRate"`
	QueueSize int     `json:"queueSize"`
}

type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the monitor configuration plus its retained alerts, newest
// first.
type State struct {
	Enabled     bool       `json:"enabled"`
	IntervalMS  int64      `json:"intervalMs"`
	Thresholds  Thresholds `json:"alertThresholds"`
	Alerts      []Alert    `json:"alerts"`
	LastCheck   *time.Time `json:"lastCheck"`
	UptimeStart time.Time  `json:"uptimeStart"`
}

func DefaultState(now time.Time) State {
	return State{
		Enabled:     true,
		IntervalMS:  DefaultIntervalMS,
		Thresholds:  Thresholds{LatencyMS: 5000, ErrorRate: 0.1, QueueSize: 100},
		Alerts:      []Alert{},
		UptimeStart: now.UTC(),
	}
}

// Stats summarizes the last hour of the transmission log.
type Stats struct {
	TotalMessages int     `json:"totalMessages"`
	Errors        int     `json:"errors"`
	SuccessRate   float64 `json:"successRate"`
	ErrorRate     float64 `json:"errorRate"`
	AvgLatencyMS  int64   `json:"avgLatency"`
	MinLatencyMS  int64   `json:"minLatency"`
	MaxLatencyMS  int64   `json:"maxLatency"`
	QueueSize     int     `json:"queueSize"`
}

// Health is the outcome of one check.
type Health struct {
	Healthy bool    `json:"healthy"`
	Alerts  []Alert `json:"alerts"`
	Stats   Stats   `json:"stats"`
}

type Options struct {
	Log         *translog.Log
	QueueLen    func() int
	Connections func() int
	Hints       func() []string
	Now         func() time.Time
	State       *State
}

// Monitor evaluates log-derived health on an interval. It only raises
// alerts; it never changes routing.
type Monitor struct {
	log         *translog.Log
	queueLen    func() int
	connections func() int
	hints       func() []string
	now         func() time.Time

	mu    sync.RWMutex
	state State

	reconfigure chan struct{}
}

func New(opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueLen == nil {
		opts.QueueLen = func() int { return 0 }
	}
	if opts.Connections == nil {
		opts.Connections = func() int { return 0 }
	}
	st := DefaultState(opts.Now())
	if opts.State != nil {
		st = *opts.State
		if st.Alerts == nil {
			st.Alerts = []Alert{}
		}
		if st.UptimeStart.IsZero() {
			st.UptimeStart = opts.Now().UTC()
		}
	}
	return &Monitor{
		log:         opts.Log,
		queueLen:    opts.QueueLen,
		connections: opts.Connections,
		hints:       opts.Hints,
		now:         opts.Now,
		state:       st,
		reconfigure: make(chan struct{}, 1),
	}
}

// Stats computes the last-hour summary.
func (m *Monitor) Stats() Stats {
	now := m.now()
	var entries []translog.Entry
	if m.log != nil {
		entries = m.log.Since(now.Add(-statsWindow))
	}
	st := summarize(entries)
	st.QueueSize = m.queueLen()
	return st
}

func summarize(entries []translog.Entry) Stats {
	st := Stats{TotalMessages: len(entries), SuccessRate: 1}
	var sum int64
	n := 0
	for _, e := range entries {
		if e.IsError() {
			st.Errors++
		}
		if e.LatencyMS == nil || *e.LatencyMS <= 0 {
			continue
		}
		l := *e.LatencyMS
		if n == 0 || l < st.MinLatencyMS {
			st.MinLatencyMS = l
		}
		if l > st.MaxLatencyMS {
			st.MaxLatencyMS = l
		}
		sum += l
		n++
	}
	if st.TotalMessages > 0 {
		st.ErrorRate = float64(st.Errors) / float64(st.TotalMessages)
		st.SuccessRate = 1 - st.ErrorRate
	}
	if n > 0 {
		st.AvgLatencyMS = (sum + int64(n)/2) / int64(n)
	}
	return st
}

// CheckHealth evaluates thresholds once and prepends any new alerts.
func (m *Monitor) CheckHealth() Health {
	st := m.Stats()
	now := m.now().UTC()

	m.mu.Lock()
	th := m.state.Thresholds
	var alerts []Alert
	newAlert := func(typ string, sev Severity, msg string, value, threshold float64) {
		alerts = append(alerts, Alert{
			ID:        message.NewMessageID(now),
			Type:      typ,
			Severity:  sev,
			Message:   msg,
			Value:     value,
			Threshold: threshold,
			Timestamp: now,
		})
	}
	if st.AvgLatencyMS > th.LatencyMS {
		newAlert(AlertHighLatency, SeverityWarning,
			fmt.Sprintf("Average latency %dms exceeds threshold", st.AvgLatencyMS),
			float64(st.AvgLatencyMS), float64(th.LatencyMS))
	}
	if st.ErrorRate > th.ErrorRate {
		newAlert(AlertHighErrorRate, SeverityCritical,
			fmt.Sprintf("Error rate %.2f%% exceeds threshold", st.ErrorRate*100),
			st.ErrorRate, th.ErrorRate)
	}
	if st.QueueSize > th.QueueSize {
		newAlert(AlertQueueOverflow, SeverityWarning,
			fmt.Sprintf("Queue size %d exceeds threshold", st.QueueSize),
			float64(st.QueueSize), float64(th.QueueSize))
	}
	if len(alerts) > 0 {
		merged := make([]Alert, 0, len(alerts)+len(m.state.Alerts))
		merged = append(merged, alerts...)
		merged = append(merged, m.state.Alerts...)
		if len(merged) > MaxAlerts {
			merged = merged[:MaxAlerts]
		}
		m.state.Alerts = merged
	}
	m.state.LastCheck = &now
	m.mu.Unlock()

	for _, a := range alerts {
		observability.RecordAlert(a.Type, string(a.Severity))
		log.Warn().Str("type", a.Type).Str("severity", string(a.Severity)).Msg(a.Message)
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return Health{Healthy: len(alerts) == 0, Alerts: alerts, Stats: st}
}

// ThresholdsUpdate carries a partial threshold change.
type ThresholdsUpdate struct {
	LatencyMS *int64   `json:"latencyMs"`
	ErrorRate *float64 `json:"errorRate"`
	QueueSize *int     `json:"queueSize"`
}

type Update struct {
	Enabled    *bool             `json:"enabled"`
	IntervalMS *int64            `json:"intervalMs"`
	Thresholds *ThresholdsUpdate `json:"alertThresholds"`
}

// Configure applies a partial update. Enabling, disabling or changing the
// interval restarts the check loop.
func (m *Monitor) Configure(u Update) State {
	m.mu.Lock()
	restart := false
	if u.Enabled != nil && *u.Enabled != m.state.Enabled {
		m.state.Enabled = *u.Enabled
		restart = true
	}
	if u.IntervalMS != nil && *u.IntervalMS > 0 {
		iv := *u.IntervalMS
		if iv < minIntervalMS {
			iv = minIntervalMS
		}
		if iv != m.state.IntervalMS {
			m.state.IntervalMS = iv
			restart = true
		}
	}
	if t := u.Thresholds; t != nil {
		if t.LatencyMS != nil {
			m.state.Thresholds.LatencyMS = *t.LatencyMS
		}
		if t.ErrorRate != nil {
			m.state.Thresholds.ErrorRate = *t.ErrorRate
		}
		if t.QueueSize != nil {
			m.state.Thresholds.QueueSize = *t.QueueSize
		}
	}
	out := m.copyStateLocked()
	m.mu.Unlock()

	if restart {
		select {
		case m.reconfigure <- struct{}{}:
		default:
		}
	}
	return out
}

// ClearAlerts drops retained alerts and returns how many there were.
func (m *Monitor) ClearAlerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.state.Alerts)
	m.state.Alerts = []Alert{}
	return n
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyStateLocked()
}

func (m *Monitor) copyStateLocked() State {
	out := m.state
	out.Alerts = append([]Alert(nil), m.state.Alerts...)
	if out.Alerts == nil {
		out.Alerts = []Alert{}
	}
	if m.state.LastCheck != nil {
		lc := *m.state.LastCheck
		out.LastCheck = &lc
	}
	return out
}

// Uptime returns time since start and its "Xd Yh Zm" rendering.
func (m *Monitor) Uptime() (time.Duration, string) {
	m.mu.RLock()
	start := m.state.UptimeStart
	m.mu.RUnlock()
	d := m.now().Sub(start)
	return d, FormatUptime(d)
}

func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int64(d / (24 * time.Hour))
	hours := int64((d % (24 * time.Hour)) / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

// Run performs checks while enabled until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		m.mu.RLock()
		enabled := m.state.Enabled
		interval := time.Duration(m.state.IntervalMS) * time.Millisecond
		m.mu.RUnlock()

		var tick <-chan time.Time
		var timer *time.Timer
		if enabled && interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-m.reconfigure:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
			m.CheckHealth()
		}
	}
}
