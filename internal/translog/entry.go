package translog

import (
	"encoding/json"
	"time"
)

type EntryType string

const (
	TypeConnection     EntryType = "CONNECTION"
	TypeMessage        EntryType = "MESSAGE"
	TypeError          EntryType = "ERROR"
	TypeConfig         EntryType = "CONFIG"
	TypeSFTPUpload     EntryType = "SFTP_UPLOAD"
	TypeConnectionTest EntryType = "CONNECTION_TEST"
	TypeReport         EntryType = "REPORT"
	TypeSecurity       EntryType = "SECURITY"
)

type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

// Protocol labels.
const (
	ProtocolTCP  = "TCP/IP"
	ProtocolTLS  = "TLS"
	ProtocolAPI  = "API"
	ProtocolSFTP = "SFTP"
)

// Status values used outside the ACK/NACK pair.
const (
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusRejected     = "REJECTED"
	StatusError        = "ERROR"
	StatusSuccess      = "SUCCESS"
	StatusFailed       = "FAILED"
	StatusQueued       = "QUEUED"
	StatusUpdated      = "UPDATED"
	StatusGenerated    = "GENERATED"
	StatusDue          = "DUE"
)

// Entry is one audit record. Only the fields relevant to its type are set.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Protocol  string    `json:"protocol,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Status    string    `json:"status"`

	RemoteAddress string `json:"remoteAddress,omitempty"`
	RemotePort    int    `json:"remotePort,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`

	MessageType       string      `json:"messageType,omitempty"`
	Reference         string      `json:"reference,omitempty"`
	OriginalReference string      `json:"originalReference,omitempty"`
	SenderBIC         string      `json:"senderBic,omitempty"`
	ReceiverBIC       string      `json:"receiverBic,omitempty"`
	Amount            json.Number `json:"amount,omitempty"`
	Currency          string      `json:"currency,omitempty"`
	Checksum          string      `json:"checksum,omitempty"`

	ErrorCode string   `json:"errorCode,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Error     string   `json:"error,omitempty"`
	LatencyMS *int64   `json:"latency,omitempty"`

	Action     string         `json:"action,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	RemotePath string         `json:"remotePath,omitempty"`
	Size       int64          `json:"size,omitempty"`

	PendingSync bool `json:"pendingSync,omitempty"`
}

// Latency converts d into the millisecond field form.
func Latency(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// IsError reports whether the entry counts against the error rate.
func (e Entry) IsError() bool {
	return e.Status == "NACK" || e.Status == StatusError || e.Type == TypeError
}

func (e Entry) clone() Entry {
	out := e
	if e.Errors != nil {
		out.Errors = append([]string(nil), e.Errors...)
	}
	if e.LatencyMS != nil {
		v := *e.LatencyMS
		out.LatencyMS = &v
	}
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}
