package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Authority is a throwaway signing CA for gateway TLS tests.
type Authority struct {
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caPath string
	serial int64
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()

	key := newKey(t)
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"swiftgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	caPath := filepath.Join(dir, "ca.crt")
	writePEM(t, caPath, "CERTIFICATE", der, 0o644)
	return &Authority{cert: cert, key: key, caPath: caPath, serial: 1}
}

func (a *Authority) CAFile() string {
	return a.caPath
}

// IssueServerCert signs a listener certificate valid for 24h.
func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	return a.Issue(t, dir, commonName, x509.ExtKeyUsageServerAuth, 24*time.Hour, dnsNames, ips)
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string) (string, string) {
	t.Helper()
	return a.Issue(t, dir, commonName, x509.ExtKeyUsageClientAuth, 24*time.Hour, nil, nil)
}

// Issue signs a leaf with an explicit lifetime, for expiry tracking tests.
func (a *Authority) Issue(
	t testing.TB,
	dir string,
	commonName string,
	usage x509.ExtKeyUsage,
	validFor time.Duration,
	dnsNames []string,
	ips []net.IP,
) (string, string) {
	t.Helper()

	key := newKey(t)
	a.serial++
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(a.serial),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	base := fileBase(commonName)
	certPath := filepath.Join(dir, base+".crt")
	keyPath := filepath.Join(dir, base+".key")
	writePEM(t, certPath, "CERTIFICATE", der, 0o644)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER, 0o600)
	return certPath, keyPath
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writePEM(t testing.TB, path string, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fileBase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}
