package session

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig locates the certificate material for one side of a connection.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines exponential backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// RetryConfig is the fixed outbound redelivery schedule. Attempt N waits
// Intervals[N-1]; attempts past the table reuse the last interval.
type RetryConfig struct {
	Intervals   []time.Duration
	MaxAttempts int
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadIdleTimeout  time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration
	SecurityMode     SecurityMode
	TLS              TLSConfig
	Retry            RetryConfig
	Backoff          BackoffConfig
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Intervals:   []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second},
		MaxAttempts: 3,
	}
}

// DefaultConfig returns gateway transport defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadIdleTimeout:  0,
		WriteTimeout:     15 * time.Second,
		AckTimeout:       30 * time.Second,
		SecurityMode:     SecurityModeDevelopment,
		Retry:            DefaultRetryConfig(),
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}
