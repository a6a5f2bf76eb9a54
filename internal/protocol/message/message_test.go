package message

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsAmountText(t *testing.T) {
	fields, msg, err := Decode([]byte(`{"messageType":"MT103","senderBic":"DEUTDEFFXXX","amount":1500.50,"currency":"EUR"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1500.50"), fields[FieldAmount])
	assert.Equal(t, "MT103", msg.MessageType)
	assert.Equal(t, json.Number("1500.50"), msg.Amount)
	assert.InDelta(t, 1500.5, msg.AmountFloat(), 0.0001)
}

func TestDecodeAcceptsStringAmount(t *testing.T) {
	_, msg, err := Decode([]byte(`{"amount":"250.00"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("250.00"), msg.Amount)
}

func TestDecodeRejectsNonObject(t *testing.T) {
	_, _, err := Decode([]byte(`[1,2,3]`))
	assert.True(t, errors.Is(err, ErrNotObject))

	_, _, err = Decode([]byte(`{"a":`))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, _, err = Decode([]byte(`{"a":1} {"b":2}`))
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestMessageJSONRoundTrip(t *testing.T) {
	in := Sample(time.Unix(1700000000, 0))
	b, err := json.Marshal(in)
	require.NoError(t, err)
	_, out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAmendReturnsCopyWithNewReference(t *testing.T) {
	orig := Sample(time.Now())
	changed := orig.Amend(func(m *Message) { m.Amount = "10" })
	assert.Equal(t, json.Number("500000"), orig.Amount)
	assert.Equal(t, json.Number("10"), changed.Amount)
	assert.NotEqual(t, orig.Reference, changed.Reference)
}

func TestIdentifierFormats(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Regexp(t, regexp.MustCompile(`^MSG1700000000123[0-9A-F]{8}$`), NewMessageID(now))
	assert.Regexp(t, regexp.MustCompile(`^TRX[0-9A-Z]+[0-9A-F]{6}$`), NewTransactionRef(now))
	assert.NotEqual(t, NewTransactionRef(now), NewTransactionRef(now))
	assert.Len(t, NewUETR(), 36)
}

func TestChecksum(t *testing.T) {
	// sha256("abc") = ba7816bf...
	assert.Equal(t, "BA7816BF", Checksum([]byte("abc")))
}

func TestParseAmount(t *testing.T) {
	r, text, ok := ParseAmount(json.Number("0.10"))
	require.True(t, ok)
	assert.Equal(t, "0.10", text)
	assert.Equal(t, 1, r.Sign())

	_, _, ok = ParseAmount("abc")
	assert.False(t, ok)
	_, _, ok = ParseAmount(nil)
	assert.False(t, ok)
	_, _, ok = ParseAmount(true)
	assert.False(t, ok)
}
