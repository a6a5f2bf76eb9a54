package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tcpSource = Source{Protocol: translog.ProtocolTCP, RemoteAddress: "127.0.0.1", RemotePort: 40000}

func newProcessor(t *testing.T, checks ...Check) (*Processor, *translog.Log) {
	t.Helper()
	testlog.Start(t)
	tlog := translog.New(translog.Options{})
	return NewProcessor(tlog, checks...), tlog
}

func TestProcessValidMessageAcks(t *testing.T) {
	p, tlog := newProcessor(t)
	raw := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":500000,"currency":"USD","reference":"REF-1"}`)

	resp := p.Process(context.Background(), raw, tcpSource)
	require.Equal(t, ack.StatusACK, resp.Status)
	assert.Equal(t, "REF-1", resp.Original())
	assert.True(t, strings.HasPrefix(resp.Reference, "TRX"))
	details, ok := resp.Details.(ack.AckDetails)
	require.True(t, ok)
	assert.Equal(t, "500000", details.Amount.String())
	assert.Equal(t, message.Checksum(raw), details.Checksum)

	entries := tlog.Snapshot()
	require.Len(t, entries, 1, "reply logged before it is returned")
	e := entries[0]
	assert.Equal(t, translog.TypeMessage, e.Type)
	assert.Equal(t, "ACK", e.Status)
	assert.Equal(t, resp.Reference, e.Reference)
	assert.Equal(t, "REF-1", e.OriginalReference)
	assert.Equal(t, translog.Inbound, e.Direction)
}

func TestProcessMissingAmountNacksB002(t *testing.T) {
	p, tlog := newProcessor(t)
	raw := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","currency":"USD","reference":"REF-2"}`)

	resp := p.Process(context.Background(), raw, tcpSource)
	require.Equal(t, ack.StatusNACK, resp.Status)
	assert.Equal(t, ack.CodeMissingField, resp.ErrorCode)
	assert.Contains(t, strings.ToLower(resp.Message), "amount")
	assert.Equal(t, "REF-2", resp.Original())

	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "NACK", entries[0].Status)
	assert.Equal(t, "B002", entries[0].ErrorCode)
}

func TestProcessMalformedNacksB001WithNullOriginal(t *testing.T) {
	p, tlog := newProcessor(t)
	for _, raw := range []string{`{"messageType":`, `[1,2]`, `{"a":1} trailing`} {
		resp := p.Process(context.Background(), []byte(raw), tcpSource)
		require.Equal(t, ack.StatusNACK, resp.Status, raw)
		assert.Equal(t, ack.CodeInvalidFormat, resp.ErrorCode, raw)
		assert.Nil(t, resp.OriginalReference, raw)
		assert.Nil(t, resp.Details, raw)
		assert.True(t, strings.HasPrefix(resp.Message, "Invalid JSON format"), resp.Message)
	}
	assert.Equal(t, 3, tlog.Len())
}

func TestProcessBICAndCurrencyCodes(t *testing.T) {
	p, _ := newProcessor(t)
	resp := p.Process(context.Background(), []byte(`{"messageType":"MT103","senderBic":"bad","receiverBic":"DCBKAEADXXX","amount":"10","currency":"USD"}`), tcpSource)
	assert.Equal(t, ack.CodeInvalidBIC, resp.ErrorCode)

	resp = p.Process(context.Background(), []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"10","currency":"XYZ"}`), tcpSource)
	assert.Equal(t, ack.CodeCurrency, resp.ErrorCode)
}

func TestDuplicateCheck(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	dup := NewDuplicateCheck(time.Hour, 2, clock)
	p, _ := newProcessor(t, dup)

	raw := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"10","currency":"EUR","uetr":"8a562c67-ca16-48ba-b074-65581be6f011"}`)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), raw, tcpSource).Status)
	resp := p.Process(context.Background(), raw, tcpSource)
	assert.Equal(t, ack.CodeDuplicate, resp.ErrorCode)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), raw, tcpSource).Status, "outside window")

	noKey := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"10","currency":"EUR"}`)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), noKey, tcpSource).Status)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), noKey, tcpSource).Status)
}

func TestConcurrentDuplicatesAckOnce(t *testing.T) {
	slow := CheckFunc(func(context.Context, message.Message) *Rejection {
		time.Sleep(time.Millisecond)
		return nil
	})
	p, _ := newProcessor(t, NewDuplicateCheck(0, 0, nil), slow)
	raw := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"25","currency":"USD","reference":"R-CONC","uetr":"3f2a9c1e-8b7d-4e6f-a5c4-1d2e3f4a5b6c"}`)

	const senders = 8
	var (
		wg    sync.WaitGroup
		acks  atomic.Int32
		dups  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp := p.Process(context.Background(), raw, tcpSource)
			switch {
			case resp.Status == ack.StatusACK:
				acks.Add(1)
			case resp.ErrorCode == ack.CodeDuplicate:
				dups.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, acks.Load())
	assert.EqualValues(t, senders-1, dups.Load())
}

func TestLaterRejectionReleasesDuplicateClaim(t *testing.T) {
	dup := NewDuplicateCheck(time.Hour, 10, nil)
	blocked := true
	gate := CheckFunc(func(context.Context, message.Message) *Rejection {
		if blocked {
			return &Rejection{Code: ack.CodeInsufficientFunds}
		}
		return nil
	})
	p, _ := newProcessor(t, dup, gate)
	raw := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"5","currency":"USD","reference":"R-REL"}`)

	assert.Equal(t, ack.CodeInsufficientFunds, p.Process(context.Background(), raw, tcpSource).ErrorCode)
	blocked = false
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), raw, tcpSource).Status)
	assert.Equal(t, ack.CodeDuplicate, p.Process(context.Background(), raw, tcpSource).ErrorCode)
}

func TestDuplicateCheckEvictsOldest(t *testing.T) {
	dup := NewDuplicateCheck(time.Hour, 2, nil)
	for _, ref := range []string{"A", "B", "C"} {
		dup.Commit(message.Message{SenderBIC: "DEUTDEFFXXX", Reference: ref})
	}
	assert.Nil(t, dup.Check(context.Background(), message.Message{SenderBIC: "DEUTDEFFXXX", Reference: "A"}))
	assert.NotNil(t, dup.Check(context.Background(), message.Message{SenderBIC: "DEUTDEFFXXX", Reference: "C"}))
}

func TestAmountLimit(t *testing.T) {
	limit, err := NewAmountLimit(map[string]string{"usd": "1000000"})
	require.NoError(t, err)
	p, _ := newProcessor(t, limit)

	over := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":"1000000.01","currency":"USD"}`)
	resp := p.Process(context.Background(), over, tcpSource)
	assert.Equal(t, ack.CodeAmountLimit, resp.ErrorCode)
	assert.Contains(t, resp.Message, "exceeds limit 1000000")

	at := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":1000000,"currency":"USD"}`)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), at, tcpSource).Status)

	other := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"DCBKAEADXXX","amount":99999999,"currency":"EUR"}`)
	assert.Equal(t, ack.StatusACK, p.Process(context.Background(), other, tcpSource).Status)

	_, err = NewAmountLimit(map[string]string{"USD": "-1"})
	assert.Error(t, err)
}

func TestRejectedCheckDoesNotCommit(t *testing.T) {
	dup := NewDuplicateCheck(time.Hour, 10, nil)
	deny := CheckFunc(func(_ context.Context, msg message.Message) *Rejection {
		if msg.ReceiverBIC == "BLOCKEDXXXX" {
			return &Rejection{Code: ack.CodeSanctions}
		}
		return nil
	})
	p, _ := newProcessor(t, dup, deny)

	blocked := []byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","receiverBic":"BLOCKEDXXXX","amount":"5","currency":"USD","reference":"R9"}`)
	resp := p.Process(context.Background(), blocked, tcpSource)
	assert.Equal(t, ack.CodeSanctions, resp.ErrorCode)
	assert.Equal(t, ack.CodeSanctions.Description(), resp.Message)

	again := p.Process(context.Background(), blocked, tcpSource)
	assert.Equal(t, ack.CodeSanctions, again.ErrorCode, "first rejection was not recorded as seen")
}
