package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/message"
)

const (
	DefaultDuplicateWindow = 24 * time.Hour
	DefaultDuplicateSize   = 10000
)

// DuplicateCheck rejects a message whose UETR, or reference when no UETR is
// present, was accepted within the window. Messages carrying neither pass.
// Check claims the key while the message is in flight, so a concurrent copy
// is rejected until the first one is committed or released.
type DuplicateCheck struct {
	window time.Duration
	size   int
	now    func() time.Time

	mu    sync.Mutex
	seen  map[string]seenKey
	order []string
}

type seenKey struct {
	at      time.Time
	pending bool
	// prev is the committed time a pending claim replaced, if any.
	prev time.Time
}

func NewDuplicateCheck(window time.Duration, size int, now func() time.Time) *DuplicateCheck {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	if size <= 0 {
		size = DefaultDuplicateSize
	}
	if now == nil {
		now = time.Now
	}
	return &DuplicateCheck{window: window, size: size, now: now, seen: make(map[string]seenKey)}
}

func duplicateKey(msg message.Message) string {
	if msg.UETR != "" {
		return "uetr:" + strings.ToLower(msg.UETR)
	}
	if msg.Reference != "" {
		return "ref:" + msg.SenderBIC + ":" + msg.Reference
	}
	return ""
}

func (d *DuplicateCheck) Check(_ context.Context, msg message.Message) *Rejection {
	key := duplicateKey(msg)
	if key == "" {
		return nil
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.seen[key]
	if ok && (k.pending || now.Sub(k.at) <= d.window) {
		return &Rejection{Code: ack.CodeDuplicate, Reason: fmt.Sprintf("Duplicate transaction %s", strings.SplitN(key, ":", 2)[1])}
	}
	d.seen[key] = seenKey{at: now, pending: true, prev: k.at}
	return nil
}

// Commit records an accepted message, confirming the claim made by Check.
func (d *DuplicateCheck) Commit(msg message.Message) {
	key := duplicateKey(msg)
	if key == "" {
		return
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.seen[key]; !ok || (k.pending && k.prev.IsZero()) {
		d.order = append(d.order, key)
	}
	d.seen[key] = seenKey{at: now}
	for len(d.order) > d.size {
		old := d.order[0]
		d.order = d.order[1:]
		k, ok := d.seen[old]
		switch {
		case !ok:
		case k.pending:
			k.prev = time.Time{}
			d.seen[old] = k
		default:
			delete(d.seen, old)
		}
	}
}

// Release drops the claim Check made for a message that was not accepted.
func (d *DuplicateCheck) Release(msg message.Message) {
	key := duplicateKey(msg)
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.seen[key]
	if !ok || !k.pending {
		return
	}
	if k.prev.IsZero() {
		delete(d.seen, key)
		return
	}
	d.seen[key] = seenKey{at: k.prev}
}

// AmountLimit rejects amounts above a per-currency ceiling. Currencies with
// no configured ceiling are unlimited.
type AmountLimit struct {
	limits map[string]*big.Rat
	text   map[string]string
}

// NewAmountLimit parses decimal ceilings keyed by currency code.
func NewAmountLimit(limits map[string]string) (*AmountLimit, error) {
	a := &AmountLimit{limits: make(map[string]*big.Rat, len(limits)), text: make(map[string]string, len(limits))}
	for cur, v := range limits {
		r, text, ok := message.ParseAmount(v)
		if !ok || r.Sign() <= 0 {
			return nil, fmt.Errorf("gateway: invalid amount limit %s=%q", cur, v)
		}
		cur = strings.ToUpper(strings.TrimSpace(cur))
		a.limits[cur] = r
		a.text[cur] = text
	}
	return a, nil
}

func (a *AmountLimit) Check(_ context.Context, msg message.Message) *Rejection {
	limit, ok := a.limits[msg.Currency]
	if !ok {
		return nil
	}
	amt, _, ok := message.ParseAmount(string(msg.Amount))
	if !ok || amt.Cmp(limit) <= 0 {
		return nil
	}
	return &Rejection{
		Code:   ack.CodeAmountLimit,
		Reason: fmt.Sprintf("Amount %s %s exceeds limit %s", msg.Amount, msg.Currency, a.text[msg.Currency]),
	}
}
