package gateway

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
)

var ErrInvalidAccessEntry = errors.New("gateway: invalid access list entry")

// DefaultAccessEntries is the initial allow list.
var DefaultAccessEntries = []string{"127.0.0.1", "::1", "192.168.1.0/24"}

type AccessState struct {
	Enabled     bool      `json:"enabled"`
	IPs         []string  `json:"ips"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// AccessUpdate either replaces the list (IPs) or adds/removes one entry.
type AccessUpdate struct {
	Enabled *bool    `json:"enabled"`
	IPs     []string `json:"ips"`
	Action  string   `json:"action"`
	IP      string   `json:"ip"`
}

// AccessList gates inbound connections by source address. Entries are
// single addresses or CIDR prefixes.
type AccessList struct {
	log *translog.Log
	now func() time.Time

	mu       sync.RWMutex
	enabled  bool
	entries  []string
	prefixes []netip.Prefix
	updated  time.Time
}

func NewAccessList(enabled bool, entries []string, tlog *translog.Log) (*AccessList, error) {
	prefixes, err := parseEntries(entries)
	if err != nil {
		return nil, err
	}
	return &AccessList{
		log:      tlog,
		now:      time.Now,
		enabled:  enabled,
		entries:  append([]string{}, entries...),
		prefixes: prefixes,
		updated:  time.Now().UTC(),
	}, nil
}

func parseEntry(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidAccessEntry, s)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidAccessEntry, s)
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parseEntries(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := parseEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Allowed reports whether host may connect. A disabled list allows all.
func (a *AccessList) Allowed(host string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *AccessList) State() AccessState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AccessState{Enabled: a.enabled, IPs: append([]string{}, a.entries...), LastUpdated: a.updated}
}

func (a *AccessList) Update(u AccessUpdate) (AccessState, error) {
	a.mu.Lock()
	entries := append([]string{}, a.entries...)
	switch {
	case u.Action == "add" && u.IP != "":
		if _, err := parseEntry(u.IP); err != nil {
			a.mu.Unlock()
			return AccessState{}, err
		}
		if !contains(entries, u.IP) {
			entries = append(entries, u.IP)
		}
	case u.Action == "remove" && u.IP != "":
		kept := entries[:0]
		for _, e := range entries {
			if e != u.IP {
				kept = append(kept, e)
			}
		}
		entries = kept
	case u.IPs != nil:
		entries = append([]string{}, u.IPs...)
	}
	prefixes, err := parseEntries(entries)
	if err != nil {
		a.mu.Unlock()
		return AccessState{}, err
	}
	if u.Enabled != nil {
		a.enabled = *u.Enabled
	}
	a.entries = entries
	a.prefixes = prefixes
	a.updated = a.now().UTC()
	out := AccessState{Enabled: a.enabled, IPs: append([]string{}, a.entries...), LastUpdated: a.updated}
	a.mu.Unlock()

	if a.log != nil {
		a.log.Append(translog.Entry{
			Type:    translog.TypeConfig,
			Status:  translog.StatusUpdated,
			Action:  "WHITELIST_UPDATE",
			Details: map[string]any{"enabled": out.Enabled, "count": len(out.IPs)},
		})
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
