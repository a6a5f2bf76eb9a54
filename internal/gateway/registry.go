package gateway

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/observability"
)

// Connection is the live state of one inbound socket.
type Connection struct {
	ID               string    `json:"id"`
	RemoteAddress    string    `json:"remoteAddress"`
	RemotePort       int       `json:"remotePort"`
	Protocol         string    `json:"protocol"`
	ConnectedAt      time.Time `json:"connectedAt"`
	MessagesReceived uint64    `json:"messagesReceived"`
	MessagesSent     uint64    `json:"messagesSent"`
	LastActivity     time.Time `json:"lastActivity"`
}

// Registry tracks live connections keyed by remote address:port.
type Registry struct {
	now func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, conns: make(map[string]*Connection)}
}

// SplitAddr returns host and numeric port of a socket address.
func SplitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portText, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portText)
	return host, port
}

func ConnectionID(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (r *Registry) Add(host string, port int, protocol string) Connection {
	now := r.now().UTC()
	c := &Connection{
		ID:            ConnectionID(host, port),
		RemoteAddress: host,
		RemotePort:    port,
		Protocol:      protocol,
		ConnectedAt:   now,
		LastActivity:  now,
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	n := len(r.conns)
	r.mu.Unlock()
	observability.SetActiveConnections(n)
	return *c
}

func (r *Registry) Remove(id string) (Connection, bool) {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()
	observability.SetActiveConnections(n)
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

func (r *Registry) Received(id string) {
	r.touch(id, func(c *Connection) { c.MessagesReceived++ })
}

func (r *Registry) Sent(id string) {
	r.touch(id, func(c *Connection) { c.MessagesSent++ })
}

func (r *Registry) touch(id string, fn func(*Connection)) {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return
	}
	fn(c)
	c.LastActivity = now
}

func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// List returns a snapshot ordered by connect time.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
