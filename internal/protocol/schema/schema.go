package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/message"
)

var bicPattern = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

var supportedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CHF": {}, "JPY": {},
	"AED": {}, "SAR": {}, "CNY": {}, "HKD": {}, "SGD": {},
}

// Violation is one failed rule and the NACK code it maps to.
type Violation struct {
	Field  string   `json:"field"`
	Reason string   `json:"reason"`
	Code   ack.Code `json:"code"`
}

// Result is the outcome of validating one message.
type Result struct {
	Valid      bool        `json:"valid"`
	Errors     []string    `json:"errors"`
	Violations []Violation `json:"violations,omitempty"`
}

// Code selects the NACK code for an invalid result: a missing-field
// violation wins, otherwise the first violation decides.
func (r Result) Code() ack.Code {
	if r.Valid || len(r.Violations) == 0 {
		return ""
	}
	for _, v := range r.Violations {
		if v.Code == ack.CodeMissingField {
			return ack.CodeMissingField
		}
	}
	return r.Violations[0].Code
}

func (r *Result) add(field, reason string, code ack.Code) {
	r.Valid = false
	r.Errors = append(r.Errors, reason)
	r.Violations = append(r.Violations, Violation{Field: field, Reason: reason, Code: code})
}

func IsBIC(s string) bool {
	return bicPattern.MatchString(s)
}

func IsSupportedCurrency(s string) bool {
	_, ok := supportedCurrencies[s]
	return ok
}

// Currencies returns the accepted ISO codes.
func Currencies() []string {
	return []string{"USD", "EUR", "GBP", "CHF", "JPY", "AED", "SAR", "CNY", "HKD", "SGD"}
}

// Validate checks the raw field map of one message. Every rule runs; the
// result lists every violation in rule order.
func Validate(fields map[string]any) Result {
	res := Result{Valid: true}

	messageType := text(fields, message.FieldMessageType)
	sender := text(fields, message.FieldSenderBIC)
	receiver := text(fields, message.FieldReceiverBIC)
	currency := text(fields, message.FieldCurrency)

	if messageType == "" {
		res.add(message.FieldMessageType, "Missing messageType", ack.CodeMissingField)
	}
	if sender == "" {
		res.add(message.FieldSenderBIC, "Missing senderBic", ack.CodeMissingField)
	}
	if receiver == "" {
		res.add(message.FieldReceiverBIC, "Missing receiverBic", ack.CodeMissingField)
	}
	raw, present := fields[message.FieldAmount]
	if !present || raw == nil || raw == "" {
		res.add(message.FieldAmount, "Missing amount", ack.CodeMissingField)
	} else if amt, _, ok := message.ParseAmount(raw); !ok || amt.Sign() <= 0 {
		res.add(message.FieldAmount, "Invalid amount", ack.CodeMissingField)
	}
	if currency == "" {
		res.add(message.FieldCurrency, "Missing currency", ack.CodeMissingField)
	}

	if sender != "" && !IsBIC(sender) {
		res.add(message.FieldSenderBIC, "Invalid sender BIC format", ack.CodeInvalidBIC)
	}
	if receiver != "" && !IsBIC(receiver) {
		res.add(message.FieldReceiverBIC, "Invalid receiver BIC format", ack.CodeInvalidBIC)
	}
	if currency != "" && !IsSupportedCurrency(currency) {
		res.add(message.FieldCurrency, "Invalid currency code", ack.CodeCurrency)
	}
	return res
}

// ValidateMessage validates the typed view of a message.
func ValidateMessage(m message.Message) Result {
	return Validate(m.Fields())
}

func text(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// Issue is one finding of the per-type checker.
type Issue struct {
	Field   string `json:"field"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// TypedResult is the outcome of the per-message-type checker.
type TypedResult struct {
	Valid       bool      `json:"valid"`
	Errors      []Issue   `json:"errors"`
	Warnings    []Issue   `json:"warnings"`
	MessageType string    `json:"messageType"`
	ValidatedAt time.Time `json:"validatedAt"`
}

// ValidateTyped runs the lighter per-type checks used by the control plane,
// which report warnings alongside hard errors. Unknown types only require a
// non-empty body.
func ValidateTyped(messageType string, fields map[string]any, now time.Time) TypedResult {
	res := TypedResult{
		Valid:       true,
		Errors:      []Issue{},
		Warnings:    []Issue{},
		MessageType: messageType,
		ValidatedAt: now.UTC(),
	}
	if res.MessageType == "" {
		res.MessageType = "UNKNOWN"
	}
	fail := func(field, reason string) {
		res.Valid = false
		res.Errors = append(res.Errors, Issue{Field: field, Error: reason})
	}
	warn := func(field, reason string) {
		res.Warnings = append(res.Warnings, Issue{Field: field, Warning: reason})
	}

	if len(fields) == 0 {
		fail("message", "Message content is required")
	}

	switch messageType {
	case "MT103":
		sender := text(fields, message.FieldSenderBIC)
		if sender == "" {
			fail(message.FieldSenderBIC, "Sender BIC is required for MT103")
		} else if len(sender) != 11 {
			warn(message.FieldSenderBIC, "BIC should be 11 characters")
		}
		if text(fields, message.FieldReceiverBIC) == "" {
			fail(message.FieldReceiverBIC, "Receiver BIC is required for MT103")
		}
		if amt, _, ok := message.ParseAmount(fields[message.FieldAmount]); !ok || amt.Sign() <= 0 {
			fail(message.FieldAmount, "Valid amount is required")
		}
		if text(fields, message.FieldCurrency) == "" {
			warn(message.FieldCurrency, "Currency not specified, defaulting to USD")
		}
	case "pacs.008":
		if text(fields, "msgId") == "" {
			fail("msgId", "Message ID is required for pacs.008")
		}
		if text(fields, "creDtTm") == "" {
			warn("creDtTm", "Creation DateTime not specified")
		}
	}
	return res
}
