package autossl

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testKeyBits = 2048

type testCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
	pem  []byte
}

func newTestCA(t *testing.T, notAfter time.Time) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		cert: cert,
		key:  key,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (ca *testCA) sign(t *testing.T, csrPEM []byte, notAfter time.Time) []byte {
	t.Helper()
	block, _ := pem.Decode(csrPEM)
	require.NotNil(t, block)
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, csr.PublicKey, ca.key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func testFiles(t *testing.T) Files {
	dir := filepath.Join(t.TempDir(), "ssl")
	return Files{
		CSR:  filepath.Join(dir, "agent.csr"),
		Cert: filepath.Join(dir, "agent.crt"),
		Key:  filepath.Join(dir, "agent.key"),
		CA:   filepath.Join(dir, "server_ca.crt"),
	}
}

// fakeServer answers certificate requests with a scripted response.
type fakeServer struct {
	mu      sync.Mutex
	calls   int
	forms   []url.Values
	respond func(form url.Values) (any, error)
	entered chan struct{}
	release chan struct{}
}

func (s *fakeServer) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.forms = append(s.forms, form)
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	resp, err := s.respond(form)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (s *fakeServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func signingServer(t *testing.T, ca *testCA, notAfter time.Time) *fakeServer {
	return &fakeServer{respond: func(form url.Values) (any, error) {
		signed := ca.sign(t, []byte(form.Get("csr")), notAfter)
		return map[string]string{"signed": string(signed), "ca": string(ca.pem)}, nil
	}}
}

func quote(b []byte) string {
	out, _ := json.Marshal(string(b))
	return string(out)
}
