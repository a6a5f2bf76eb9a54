package sftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func newKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "swiftgate-test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "swiftgate-test", []byte(passphrase))
	}
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block)), sshPub
}

func TestConfigMasksSecrets(t *testing.T) {
	testlog.Start(t)
	s := New(Options{})
	cfg := s.Config()
	assert.Equal(t, "sftp.swift.com", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, "swift_user", cfg.Username)
	assert.Equal(t, AuthPassword, cfg.AuthMethod)
	assert.Empty(t, cfg.PrivateKey)

	key, _ := newKey(t, "")
	out, err := s.Update(Update{PrivateKey: key, Passphrase: "pw", AuthMethod: AuthPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, maskedKey, out.PrivateKey)
	assert.Equal(t, maskedPassphrase, out.Passphrase)
	assert.Equal(t, maskedKey, s.Config().PrivateKey)

	_, err = s.Update(Update{AuthMethod: "kerberos"})
	assert.ErrorIs(t, err, ErrUnknownAuth)
}

func TestUpdateLogsConfigEntry(t *testing.T) {
	testlog.Start(t)
	tlog := translog.New(translog.Options{})
	s := New(Options{Log: tlog})
	_, err := s.Update(Update{Host: "sftp.bank.example"})
	require.NoError(t, err)
	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "SFTP_UPDATE", entries[0].Action)
	assert.Equal(t, "sftp.bank.example", entries[0].Details["host"])
}

func TestTestChecksKeyAndKnownHosts(t *testing.T) {
	testlog.Start(t)
	s := New(Options{})
	res := s.Test()
	assert.True(t, res.Success, "defaults carry host and username")
	assert.Equal(t, StatusConnected, s.Config().Status)
	assert.NotNil(t, s.Config().LastConnection)

	_, err := s.Update(Update{AuthMethod: AuthPrivateKey, PrivateKey: "garbage"})
	require.NoError(t, err)
	res = s.Test()
	assert.False(t, res.Success)
	assert.Equal(t, StatusError, s.Config().Status)

	key, pub := newKey(t, "secret")
	_, err = s.Update(Update{PrivateKey: key, Passphrase: "secret", KnownHosts: []string{knownhosts.Line([]string{"sftp.swift.com"}, pub)}})
	require.NoError(t, err)
	res = s.Test()
	assert.True(t, res.Success, res.Error)

	_, err = s.Update(Update{KnownHosts: []string{"not a known hosts line"}})
	require.NoError(t, err)
	assert.False(t, s.Test().Success)
}

func TestClientConfigHostKeyCallback(t *testing.T) {
	key, pub := newKey(t, "")
	_, other := newKey(t, "")
	cfg := DefaultConfig()
	cfg.AuthMethod = AuthPrivateKey
	cfg.PrivateKey = key
	cfg.KnownHosts = []string{knownhosts.Line([]string{"sftp.swift.com"}, pub)}

	cc, err := cfg.ClientConfig(time.Second)
	require.NoError(t, err)
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 22}
	assert.NoError(t, cc.HostKeyCallback("sftp.swift.com:22", addr, pub))
	assert.ErrorIs(t, cc.HostKeyCallback("sftp.swift.com:22", addr, other), ErrUnknownHost)
	assert.ErrorIs(t, cc.HostKeyCallback("evil.example:22", addr, pub), ErrUnknownHost)

	cfg.AuthMethod = AuthPassword
	_, err = cfg.ClientConfig(time.Second)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestRecordUpload(t *testing.T) {
	testlog.Start(t)
	tlog := translog.New(translog.Options{})
	dir := filepath.Join(t.TempDir(), "spool")
	s := New(Options{Log: tlog, SpoolDir: dir, MaxUploads: 2})

	_, err := s.RecordUpload(UploadRequest{Host: "h", Filename: "a.txt"})
	assert.ErrorIs(t, err, ErrUploadInvalid)
	_, err = s.RecordUpload(UploadRequest{Host: "h", Filename: "../a.txt", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidFilename)

	up, err := s.RecordUpload(UploadRequest{Host: "sftp.bank.example", Filename: "pay.fin", Content: "{1:F01}"})
	require.NoError(t, err)
	assert.Equal(t, "/incoming/swift/pay.fin", up.FullPath)
	assert.Equal(t, int64(7), up.Size)
	assert.Equal(t, 22, up.Port)
	assert.Equal(t, "MT103", up.MessageType)
	assert.Len(t, up.Checksum, 8)

	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, translog.TypeSFTPUpload, entries[0].Type)
	assert.Equal(t, translog.Outbound, entries[0].Direction)
	assert.Equal(t, up.FullPath, entries[0].RemotePath)

	for _, name := range []string{"b.fin", "c.fin"} {
		_, err := s.RecordUpload(UploadRequest{Host: "h", Filename: name, Content: "z"})
		require.NoError(t, err)
	}
	ups := s.Uploads()
	require.Len(t, ups, 2)
	assert.Equal(t, "c.fin", ups[0].Filename)

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 3, "spool keeps every file")
	assert.Equal(t, "b.fin", files[0].Filename)
}

func TestFilesWithoutSpool(t *testing.T) {
	testlog.Start(t)
	s := New(Options{})
	files, err := s.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = s.RecordUpload(UploadRequest{Host: "h", Filename: "x.fin", Content: "abc"})
	require.NoError(t, err)
	files, err = s.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(3), files[0].Size)
}
