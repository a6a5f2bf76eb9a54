package ack

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/message"
)

// Code is one entry of the closed NACK error taxonomy.
type Code string

const (
	CodeInvalidFormat     Code = "B001"
	CodeMissingField      Code = "B002"
	CodeInvalidBIC        Code = "B003"
	CodeAmountLimit       Code = "B004"
	CodeCurrency          Code = "B005"
	CodeDuplicate         Code = "B006"
	CodeReceiverNotFound  Code = "B007"
	CodeInsufficientFunds Code = "B008"
	CodeSanctions         Code = "B009"
	CodeConnectionTimeout Code = "B010"
)

var descriptions = map[Code]string{
	CodeInvalidFormat:     "Invalid message format",
	CodeMissingField:      "Missing required field",
	CodeInvalidBIC:        "Invalid BIC code",
	CodeAmountLimit:       "Amount exceeds limit",
	CodeCurrency:          "Currency not supported",
	CodeDuplicate:         "Duplicate transaction",
	CodeReceiverNotFound:  "Receiver not found",
	CodeInsufficientFunds: "Insufficient funds",
	CodeSanctions:         "Sanctions screening failed",
	CodeConnectionTimeout: "Connection timeout",
}

func (c Code) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return "Unknown error"
}

func (c Code) Valid() bool {
	_, ok := descriptions[c]
	return ok
}

// Codes lists the taxonomy in order.
func Codes() []Code {
	return []Code{
		CodeInvalidFormat, CodeMissingField, CodeInvalidBIC, CodeAmountLimit, CodeCurrency,
		CodeDuplicate, CodeReceiverNotFound, CodeInsufficientFunds, CodeSanctions, CodeConnectionTimeout,
	}
}

type Status string

const (
	StatusACK  Status = "ACK"
	StatusNACK Status = "NACK"
)

const AcceptedText = "Payment received and validated successfully"

// AckDetails echoes the accepted message.
type AckDetails struct {
	MessageType string      `json:"messageType"`
	Amount      json.Number `json:"amount,omitempty"`
	Currency    string      `json:"currency"`
	ReceiverBIC string      `json:"receiverBic"`
	Checksum    string      `json:"checksum"`
}

// NackDetails identifies the rejected message when one could be parsed.
type NackDetails struct {
	MessageType string `json:"messageType"`
	SenderBIC   string `json:"senderBic"`
	ReceiverBIC string `json:"receiverBic"`
}

// Response is the reply frame for one inbound message. Exactly one of the
// ACK or NACK field groups is populated.
type Response struct {
	Status            Status    `json:"status"`
	Reference         string    `json:"reference"`
	OriginalReference *string   `json:"originalReference"`
	Timestamp         time.Time `json:"timestamp"`
	Message           string    `json:"message"`

	ErrorCode        Code     `json:"errorCode,omitempty"`
	ErrorDescription string   `json:"errorDescription,omitempty"`
	Errors           []string `json:"errors,omitempty"`

	Details any `json:"details"`
}

func (r Response) Accepted() bool {
	return r.Status == StatusACK
}

// Original returns the echoed reference or "".
func (r Response) Original() string {
	if r.OriginalReference == nil {
		return ""
	}
	return *r.OriginalReference
}

func originalRef(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}

// NewAck builds the positive acknowledgment for msg. raw is the frame the
// checksum is computed over.
func NewAck(ref string, now time.Time, msg message.Message, raw []byte) Response {
	return Response{
		Status:            StatusACK,
		Reference:         ref,
		OriginalReference: originalRef(msg.Reference),
		Timestamp:         now.UTC(),
		Message:           AcceptedText,
		Details: AckDetails{
			MessageType: msg.MessageType,
			Amount:      msg.Amount,
			Currency:    msg.Currency,
			ReceiverBIC: msg.ReceiverBIC,
			Checksum:    message.Checksum(raw),
		},
	}
}

// NewNack builds a rejection. msg is nil when the frame could not be parsed,
// in which case originalReference and details are null.
func NewNack(ref string, now time.Time, code Code, errs []string, msg *message.Message) Response {
	text := code.Description()
	if len(errs) > 0 {
		text = strings.Join(errs, "; ")
	}
	resp := Response{
		Status:           StatusNACK,
		Reference:        ref,
		Timestamp:        now.UTC(),
		Message:          text,
		ErrorCode:        code,
		ErrorDescription: code.Description(),
		Errors:           errs,
	}
	if msg != nil {
		resp.OriginalReference = originalRef(msg.Reference)
		resp.Details = NackDetails{
			MessageType: msg.MessageType,
			SenderBIC:   msg.SenderBIC,
			ReceiverBIC: msg.ReceiverBIC,
		}
	}
	return resp
}

