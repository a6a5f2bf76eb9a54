package sftp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	AuthPassword   = "password"
	AuthPrivateKey = "privateKey"

	maskedKey        = "***CONFIGURED***"
	maskedPassphrase = "***SET***"
)

const (
	StatusDisconnected = "DISCONNECTED"
	StatusConnected    = "CONNECTED"
	StatusError        = "ERROR"
)

var (
	ErrHostRequired     = errors.New("sftp: host is required")
	ErrUserRequired     = errors.New("sftp: username is required")
	ErrUnknownAuth      = errors.New("sftp: unknown auth method")
	ErrKeyRequired      = errors.New("sftp: private key is required for key auth")
	ErrPasswordRequired = errors.New("sftp: password is required for password auth")
	ErrUnknownHost      = errors.New("sftp: host key not in known hosts")
)

// Config is the SFTP endpoint the gateway hands files to.
type Config struct {
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	Username       string     `json:"username"`
	AuthMethod     string     `json:"authMethod"`
	Password       string     `json:"-"`
	PrivateKey     string     `json:"privateKey"`
	Passphrase     string     `json:"passphrase"`
	KnownHosts     []string   `json:"knownHosts"`
	LastConnection *time.Time `json:"lastConnection"`
	Status         string     `json:"status"`
}

func DefaultConfig() Config {
	return Config{
		Host:       "sftp.swift.com",
		Port:       22,
		Username:   "swift_user",
		AuthMethod: AuthPassword,
		KnownHosts: []string{},
		Status:     StatusDisconnected,
	}
}

// Masked returns a copy safe to serve: secrets are replaced by markers.
func (c Config) Masked() Config {
	out := c
	out.Password = ""
	if c.PrivateKey != "" {
		out.PrivateKey = maskedKey
	}
	if c.Passphrase != "" {
		out.Passphrase = maskedPassphrase
	}
	out.KnownHosts = append([]string{}, c.KnownHosts...)
	return out
}

func (c Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ClientConfig builds the ssh client configuration for the endpoint. It
// checks credentials and known-hosts entries without dialing.
func (c Config) ClientConfig(timeout time.Duration) (*ssh.ClientConfig, error) {
	if strings.TrimSpace(c.Host) == "" {
		return nil, ErrHostRequired
	}
	if strings.TrimSpace(c.Username) == "" {
		return nil, ErrUserRequired
	}

	var auth ssh.AuthMethod
	switch c.AuthMethod {
	case AuthPrivateKey:
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		auth = ssh.PublicKeys(signer)
	case AuthPassword, "":
		if c.Password == "" {
			return nil, ErrPasswordRequired
		}
		auth = ssh.Password(c.Password)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuth, c.AuthMethod)
	}

	callback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: callback,
		Timeout:         timeout,
	}, nil
}

func (c Config) signer() (ssh.Signer, error) {
	if strings.TrimSpace(c.PrivateKey) == "" {
		return nil, ErrKeyRequired
	}
	if c.Passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
	}
	return ssh.ParsePrivateKey([]byte(c.PrivateKey))
}

type knownKey struct {
	hosts []string
	key   ssh.PublicKey
}

// hostKeyCallback accepts a server key only when a known-hosts line lists it
// for the dialed host. With no entries every key is accepted.
func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	keys, err := parseKnownHosts(c.KnownHosts)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host := hostname
		if h, _, err := net.SplitHostPort(hostname); err == nil {
			host = h
		}
		for _, k := range keys {
			if !bytes.Equal(k.key.Marshal(), key.Marshal()) {
				continue
			}
			for _, pattern := range k.hosts {
				if pattern == "*" || pattern == host || pattern == hostname {
					return nil
				}
			}
		}
		return fmt.Errorf("%w: %s", ErrUnknownHost, hostname)
	}, nil
}

func parseKnownHosts(lines []string) ([]knownKey, error) {
	var out []knownKey
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, hosts, key, _, _, err := ssh.ParseKnownHosts([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("sftp: known hosts line %d: %w", i+1, err)
		}
		out = append(out, knownKey{hosts: hosts, key: key})
	}
	return out, nil
}
