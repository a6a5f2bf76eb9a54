package sftp

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRemotePath = "/incoming/swift"
	DefaultMaxUploads = 500
)

var (
	ErrUploadInvalid   = errors.New("sftp: host, filename, and content are required")
	ErrInvalidFilename = errors.New("sftp: invalid filename")
)

type Update struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Username   string   `json:"username"`
	AuthMethod string   `json:"authMethod"`
	Password   string   `json:"password"`
	PrivateKey string   `json:"privateKey"`
	Passphrase string   `json:"passphrase"`
	KnownHosts []string `json:"knownHosts"`
}

type TestResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type UploadRequest struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	RemotePath  string `json:"remotePath"`
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

type Upload struct {
	Success     bool      `json:"success"`
	Reference   string    `json:"reference"`
	Filename    string    `json:"filename"`
	RemotePath  string    `json:"remotePath"`
	FullPath    string    `json:"fullPath"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	Timestamp   time.Time `json:"timestamp"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	MessageType string    `json:"messageType"`
}

type File struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

type Options struct {
	Config     *Config
	Log        *translog.Log
	SpoolDir   string
	MaxUploads int
	Now        func() time.Time
}

// Service holds the SFTP endpoint settings and records uploads handed to it.
// Content is spooled locally when a spool directory is set; nothing is sent
// over the network.
type Service struct {
	log      *translog.Log
	spoolDir string
	max      int
	now      func() time.Time

	mu      sync.RWMutex
	cfg     Config
	uploads []Upload
}

func New(opts Options) *Service {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if opts.MaxUploads <= 0 {
		opts.MaxUploads = DefaultMaxUploads
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		log:      opts.Log,
		spoolDir: opts.SpoolDir,
		max:      opts.MaxUploads,
		now:      opts.Now,
		cfg:      cfg,
	}
}

// Config returns the masked configuration.
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Masked()
}

// Update overwrites only the non-empty fields.
func (s *Service) Update(u Update) (Config, error) {
	if u.AuthMethod != "" && u.AuthMethod != AuthPassword && u.AuthMethod != AuthPrivateKey {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownAuth, u.AuthMethod)
	}
	s.mu.Lock()
	if u.Host != "" {
		s.cfg.Host = strings.TrimSpace(u.Host)
	}
	if u.Port > 0 {
		s.cfg.Port = u.Port
	}
	if u.Username != "" {
		s.cfg.Username = u.Username
	}
	if u.AuthMethod != "" {
		s.cfg.AuthMethod = u.AuthMethod
	}
	if u.Password != "" {
		s.cfg.Password = u.Password
	}
	if u.PrivateKey != "" {
		s.cfg.PrivateKey = u.PrivateKey
	}
	if u.Passphrase != "" {
		s.cfg.Passphrase = u.Passphrase
	}
	if u.KnownHosts != nil {
		s.cfg.KnownHosts = append([]string{}, u.KnownHosts...)
	}
	out := s.cfg.Masked()
	s.mu.Unlock()

	s.append(translog.Entry{
		Type:    translog.TypeConfig,
		Status:  translog.StatusUpdated,
		Action:  "SFTP_UPDATE",
		Details: map[string]any{"host": out.Host, "authMethod": out.AuthMethod},
	})
	return out, nil
}

// Test checks that the configuration is usable: host and username are set,
// a supplied private key parses, and every known-hosts line parses.
func (s *Service) Test() TestResult {
	now := s.now().UTC()
	s.mu.Lock()
	s.cfg.LastConnection = &now
	cfg := s.cfg
	s.mu.Unlock()

	err := check(cfg)
	status := StatusConnected
	if err != nil {
		status = StatusError
	}
	s.mu.Lock()
	s.cfg.Status = status
	s.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("host", cfg.Host).Msg("sftp: configuration test failed")
		return TestResult{Status: status, Message: "SFTP connection failed - check configuration", Error: err.Error()}
	}
	return TestResult{Success: true, Status: status, Message: "SFTP connection test successful"}
}

func check(cfg Config) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return ErrHostRequired
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return ErrUserRequired
	}
	if cfg.AuthMethod == AuthPrivateKey || cfg.PrivateKey != "" {
		if _, err := cfg.signer(); err != nil {
			return err
		}
	}
	_, err := parseKnownHosts(cfg.KnownHosts)
	return err
}

// RecordUpload registers a file handed to the endpoint and logs an
// SFTP_UPLOAD entry.
func (s *Service) RecordUpload(req UploadRequest) (Upload, error) {
	if strings.TrimSpace(req.Host) == "" || req.Filename == "" || req.Content == "" {
		return Upload{}, ErrUploadInvalid
	}
	name := filepath.Base(req.Filename)
	if name != req.Filename || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return Upload{}, fmt.Errorf("%w: %q", ErrInvalidFilename, req.Filename)
	}
	remote := req.RemotePath
	if remote == "" {
		remote = DefaultRemotePath
	}
	now := s.now()
	up := Upload{
		Success:     true,
		Reference:   message.NewTransactionRef(now),
		Filename:    name,
		RemotePath:  remote,
		FullPath:    path.Join(remote, name),
		Size:        int64(len(req.Content)),
		Checksum:    message.Checksum([]byte(req.Content)),
		Timestamp:   now.UTC(),
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		MessageType: req.MessageType,
	}
	if up.Port <= 0 {
		up.Port = 22
	}
	if up.Username == "" {
		up.Username = "swift_user"
	}
	if up.MessageType == "" {
		up.MessageType = "MT103"
	}

	if s.spoolDir != "" {
		if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
			return Upload{}, fmt.Errorf("sftp: spool dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.spoolDir, name), []byte(req.Content), 0o644); err != nil {
			return Upload{}, fmt.Errorf("sftp: spool %s: %w", name, err)
		}
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	if over := len(s.uploads) - s.max; over > 0 {
		s.uploads = append([]Upload(nil), s.uploads[over:]...)
	}
	s.mu.Unlock()

	s.append(translog.Entry{
		Type:        translog.TypeSFTPUpload,
		Protocol:    translog.ProtocolSFTP,
		Direction:   translog.Outbound,
		Status:      translog.StatusSuccess,
		Reference:   up.Reference,
		Filename:    up.Filename,
		RemotePath:  up.FullPath,
		Size:        up.Size,
		Host:        up.Host,
		Port:        up.Port,
		MessageType: up.MessageType,
		Checksum:    up.Checksum,
	})
	return up, nil
}

// Uploads returns the recorded uploads, newest first.
func (s *Service) Uploads() []Upload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Upload, len(s.uploads))
	for i, u := range s.uploads {
		out[len(s.uploads)-1-i] = u
	}
	return out
}

// Files lists the spooled files, or the recorded uploads when no spool
// directory is set.
func (s *Service) Files() ([]File, error) {
	if s.spoolDir == "" {
		ups := s.Uploads()
		out := make([]File, 0, len(ups))
		for _, u := range ups {
			out = append(out, File{Filename: u.Filename, Size: u.Size, Modified: u.Timestamp})
		}
		return out, nil
	}
	entries, err := os.ReadDir(s.spoolDir)
	if errors.Is(err, os.ErrNotExist) {
		return []File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sftp: list spool: %w", err)
	}
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, File{Filename: e.Name(), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s *Service) append(e translog.Entry) {
	if s.log != nil {
		s.log.Append(e)
	}
}
