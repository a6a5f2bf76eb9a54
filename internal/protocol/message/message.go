package message

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotObject = errors.New("message: frame is not a json object")
	ErrMalformed = errors.New("message: malformed json")
)

// Field names as they appear on the wire.
const (
	FieldMessageType      = "messageType"
	FieldSenderBIC        = "senderBic"
	FieldReceiverBIC      = "receiverBic"
	FieldAmount           = "amount"
	FieldCurrency         = "currency"
	FieldReference        = "reference"
	FieldUETR             = "uetr"
	FieldPurpose          = "purpose"
	FieldRemittance       = "remittance"
	FieldTimestamp        = "timestamp"
	FieldOrderingCustomer = "orderingCustomer"
	FieldBeneficiaryName  = "beneficiaryName"
)

// Message is one payment instruction. Treat it as a value: use Amend to
// derive a changed copy rather than mutating a shared one.
type Message struct {
	MessageType      string      `json:"messageType,omitempty"`
	SenderBIC        string      `json:"senderBic,omitempty"`
	ReceiverBIC      string      `json:"receiverBic,omitempty"`
	Amount           json.Number `json:"amount,omitempty"`
	Currency         string      `json:"currency,omitempty"`
	Reference        string      `json:"reference,omitempty"`
	UETR             string      `json:"uetr,omitempty"`
	Purpose          string      `json:"purpose,omitempty"`
	Remittance       string      `json:"remittance,omitempty"`
	Timestamp        string      `json:"timestamp,omitempty"`
	OrderingCustomer string      `json:"orderingCustomer,omitempty"`
	BeneficiaryName  string      `json:"beneficiaryName,omitempty"`
}

// Amend returns a copy with fn applied and a fresh reference.
func (m Message) Amend(fn func(*Message)) Message {
	out := m
	if fn != nil {
		fn(&out)
	}
	out.Reference = NewTransactionRef(time.Now())
	return out
}

// Fields renders the message as the generic field map the validator reads.
func (m Message) Fields() map[string]any {
	out := make(map[string]any, 12)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(FieldMessageType, m.MessageType)
	put(FieldSenderBIC, m.SenderBIC)
	put(FieldReceiverBIC, m.ReceiverBIC)
	if m.Amount != "" {
		out[FieldAmount] = m.Amount
	}
	put(FieldCurrency, m.Currency)
	put(FieldReference, m.Reference)
	put(FieldUETR, m.UETR)
	put(FieldPurpose, m.Purpose)
	put(FieldRemittance, m.Remittance)
	put(FieldTimestamp, m.Timestamp)
	put(FieldOrderingCustomer, m.OrderingCustomer)
	put(FieldBeneficiaryName, m.BeneficiaryName)
	return out
}

// Decode parses one frame payload into its raw field map and the typed view
// of it. Numbers are kept as json.Number so amounts keep their wire text.
func Decode(payload []byte) (map[string]any, Message, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, Message{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, Message{}, ErrNotObject
	}
	return fields, FromFields(fields), nil
}

// FromFields builds the typed view of a field map, ignoring unknown keys.
func FromFields(fields map[string]any) Message {
	m := Message{
		MessageType:      str(fields[FieldMessageType]),
		SenderBIC:        str(fields[FieldSenderBIC]),
		ReceiverBIC:      str(fields[FieldReceiverBIC]),
		Currency:         str(fields[FieldCurrency]),
		Reference:        str(fields[FieldReference]),
		UETR:             str(fields[FieldUETR]),
		Purpose:          str(fields[FieldPurpose]),
		Remittance:       str(fields[FieldRemittance]),
		Timestamp:        str(fields[FieldTimestamp]),
		OrderingCustomer: str(fields[FieldOrderingCustomer]),
		BeneficiaryName:  str(fields[FieldBeneficiaryName]),
	}
	if _, text, ok := ParseAmount(fields[FieldAmount]); ok {
		m.Amount = json.Number(text)
	}
	return m
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// ParseAmount reads an amount given as a json number, a float or a numeric
// string. It returns the exact value and its canonical text.
func ParseAmount(v any) (*big.Rat, string, bool) {
	var text string
	switch x := v.(type) {
	case json.Number:
		text = x.String()
	case string:
		text = strings.TrimSpace(x)
	case float64:
		text = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		text = strconv.Itoa(x)
	case int64:
		text = strconv.FormatInt(x, 10)
	default:
		return nil, "", false
	}
	if text == "" {
		return nil, "", false
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, "", false
	}
	return r, text, true
}

// AmountFloat is a lossy view of the amount for aggregate statistics.
func (m Message) AmountFloat() float64 {
	r, _, ok := ParseAmount(m.Amount)
	if !ok {
		return 0
	}
	f, _ := r.Float64()
	return f
}

// Checksum returns the first 8 hex characters (upper case) of the SHA-256
// digest of the raw frame.
func Checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// NewMessageID returns a log entry id: MSG, epoch millis, 8 hex chars.
func NewMessageID(now time.Time) string {
	return "MSG" + strconv.FormatInt(now.UnixMilli(), 10) + RandomHex(4)
}

// NewTransactionRef returns a gateway reference: TRX, base36 epoch millis,
// 6 hex chars.
func NewTransactionRef(now time.Time) string {
	return "TRX" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + RandomHex(3)
}

func NewUETR() string {
	return uuid.NewString()
}

// RandomHex returns 2n upper-case hex characters.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// no entropy source; use a time-derived suffix
		v := time.Now().UnixNano()
		for i := range b {
			b[i] = byte(v >> (8 * i))
		}
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// Sample returns a well-formed inbound customer transfer, used by the
// simulate endpoint and tests.
func Sample(now time.Time) Message {
	return Message{
		MessageType:      "MT103",
		SenderBIC:        "DEUTDEFFXXX",
		ReceiverBIC:      "DCBKAEADXXX",
		Amount:           json.Number("500000"),
		Currency:         "USD",
		Reference:        "SIM" + strconv.FormatInt(now.UnixMilli(), 10),
		UETR:             NewUETR(),
		Purpose:          "Simulated incoming transfer",
		Remittance:       "Test payment",
		Timestamp:        now.UTC().Format(time.RFC3339Nano),
		OrderingCustomer: "Deutsche Bank Customer",
		BeneficiaryName:  "Digital Commercial Bank Ltd",
	}
}
