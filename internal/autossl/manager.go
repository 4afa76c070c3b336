// Package autossl manages the agent's TLS identity: it generates a key and
// certificate signing request, exchanges it with the openITCOCKPIT server
// and renews the signed certificate before it expires.
package autossl

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/otel"
)

// CertificatePath is the server endpoint for certificate requests.
const CertificatePath = "/agentconnector/certificate.json"

// Warning windows before expiry that trigger a renewal.
const (
	CertWarningWindow = 120 * 24 * time.Hour
	CAWarningWindow   = 30 * 24 * time.Hour
)

const defaultKeyBits = 4096

// ErrLocked is returned when another operation on the certificate files
// (exchange, CSR generation or install) is in flight.
var ErrLocked = errors.New("certificate operation already in progress")

// Outcome is the result of a certificate check or exchange.
type Outcome int

const (
	// Valid means the installed certificate needs no action.
	Valid Outcome = iota
	// Installed means a signed certificate was received and written.
	Installed
	// Untrusted means the server has not yet approved this agent.
	Untrusted
	// ChecksumMissing means the server expected a checksum of an existing
	// certificate but none was sent. This may indicate a hijack attempt.
	ChecksumMissing
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Installed:
		return "installed"
	case Untrusted:
		return "untrusted"
	case ChecksumMissing:
		return "checksum_missing"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Poster sends a form to the openITCOCKPIT server.
type Poster interface {
	PostForm(ctx context.Context, path string, form url.Values) ([]byte, error)
}

// Files are the persisted certificate files.
type Files struct {
	CSR  string
	Cert string
	Key  string
	CA   string
}

// FilesFromConfig returns the autossl file paths of cfg.
func FilesFromConfig(cfg *config.Config) Files {
	return Files{
		CSR:  cfg.Default.AutosslCSRFile,
		Cert: cfg.Default.AutosslCRTFile,
		Key:  cfg.Default.AutosslKeyFile,
		CA:   cfg.Default.AutosslCAFile,
	}
}

// Manager owns the certificate files and the exchange with the server.
type Manager struct {
	files    Files
	hostUUID string
	poster   Poster
	keyBits  int

	inFlight atomic.Bool

	mu       sync.RWMutex
	checksum string

	onInstalled func()
	events      *events.EventLogger
	metrics     *otel.Metrics
	tracer      *otel.Tracer
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithOnInstalled is called after a new certificate has been written.
func WithOnInstalled(fn func()) Option {
	return func(m *Manager) { m.onInstalled = fn }
}

// WithEvents sets the event logger.
func WithEvents(el *events.EventLogger) Option {
	return func(m *Manager) { m.events = el }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *otel.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer sets the tracer for exchange spans.
func WithTracer(t *otel.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithKeyBits overrides the RSA key size.
func WithKeyBits(bits int) Option {
	return func(m *Manager) { m.keyBits = bits }
}

// NewManager creates a Manager. poster may be nil in pull mode, where the
// server delivers certificates through InstallCertificate.
func NewManager(files Files, hostUUID string, poster Poster, opts ...Option) *Manager {
	m := &Manager{
		files:    files,
		hostUUID: hostUUID,
		poster:   poster,
		keyBits:  defaultKeyBits,
		events:   events.NoopEventLogger(),
		metrics:  otel.NoopMetrics(),
		tracer:   otel.NoopTracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if sum, err := fileChecksum(files.Cert); err == nil {
		m.checksum = sum
	}
	return m
}

// Files returns the managed file paths.
func (m *Manager) Files() Files {
	return m.files
}

// Checksum returns the sha512 hex digest of the installed certificate, or
// "" if none is installed.
func (m *Manager) Checksum() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checksum
}

// commonName is the host uuid, falling back to the hostname.
func (m *Manager) commonName() string {
	if m.hostUUID != "" {
		return m.hostUUID
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// newCSR creates a key pair and a PEM encoded CSR without persisting them.
func (m *Manager) newCSR() (csrPEM, keyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, m.keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   m.commonName(),
			Organization: []string{"openITCOCKPIT Agent"},
		},
		SignatureAlgorithm: x509.SHA512WithRSA,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create csr: %w", err)
	}

	csrPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return csrPEM, keyPEM, nil
}

// GenerateCSR creates a fresh key pair and CSR and persists both. It
// returns ErrLocked while a certificate exchange or install is running.
func (m *Manager) GenerateCSR() ([]byte, error) {
	if !m.tryLock() {
		return nil, ErrLocked
	}
	defer m.unlock()
	return m.generateCSR()
}

func (m *Manager) generateCSR() ([]byte, error) {
	csrPEM, keyPEM, err := m.newCSR()
	if err != nil {
		return nil, err
	}
	if err := config.WriteFileAtomic(m.files.Key, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	if err := config.WriteFileAtomic(m.files.CSR, csrPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write csr: %w", err)
	}
	return csrPEM, nil
}

// CSR returns the persisted CSR, generating one if none exists. Like
// GenerateCSR it returns ErrLocked while the key files may change.
func (m *Manager) CSR() ([]byte, error) {
	if !m.tryLock() {
		return nil, ErrLocked
	}
	defer m.unlock()

	csr, err := os.ReadFile(m.files.CSR)
	if err == nil && len(csr) > 0 {
		if _, keyErr := os.Stat(m.files.Key); keyErr == nil {
			return csr, nil
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read csr: %w", err)
	}
	return m.generateCSR()
}

// tryLock takes the exclusive lock over the key and certificate files
// without blocking.
func (m *Manager) tryLock() bool {
	return m.inFlight.CompareAndSwap(false, true)
}

func (m *Manager) unlock() {
	m.inFlight.Store(false)
}

// NeedsRenewal reports whether a certificate exchange is required. renew is
// false when no certificate is installed yet.
func (m *Manager) NeedsRenewal() (needed, renew bool, err error) {
	cert, err := readCertificate(m.files.Cert)
	if errors.Is(err, os.ErrNotExist) {
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}

	ca, err := readCertificate(m.files.CA)
	if errors.Is(err, os.ErrNotExist) {
		return true, true, nil
	}
	if err != nil {
		return false, false, err
	}

	now := m.now()
	if left := cert.NotAfter.Sub(now); left < CertWarningWindow {
		m.events.LogCertificateExpiring(m.files.Cert, int(left.Hours()/24))
		return true, true, nil
	}
	if left := ca.NotAfter.Sub(now); left < CAWarningWindow {
		m.events.LogCertificateExpiring(m.files.CA, int(left.Hours()/24))
		return true, true, nil
	}
	return false, true, nil
}

// CheckAndRenew pulls a certificate when none is installed and renews it
// when the certificate or the CA is about to expire.
func (m *Manager) CheckAndRenew(ctx context.Context) (Outcome, error) {
	needed, renew, err := m.NeedsRenewal()
	if err != nil {
		return Valid, err
	}
	if !needed {
		return Valid, nil
	}
	return m.PullOrRenew(ctx, renew)
}

type certificateResponse map[string]json.RawMessage

func (r certificateResponse) has(key string) bool {
	_, ok := r[key]
	return ok
}

func (r certificateResponse) str(key string) (string, error) {
	raw, ok := r[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %s: %w", key, err)
	}
	return s, nil
}

// PullOrRenew exchanges a fresh CSR for a signed certificate. With renew the
// checksum of the installed certificate is sent along. A concurrent call
// returns ErrLocked immediately.
func (m *Manager) PullOrRenew(ctx context.Context, renew bool) (Outcome, error) {
	if !m.tryLock() {
		return Untrusted, ErrLocked
	}
	defer m.unlock()

	if m.poster == nil {
		return Untrusted, errors.New("no server configured")
	}

	ctx, span := m.tracer.StartSpan(ctx, "autossl.exchange", trace.WithAttributes(attribute.Bool("renew", renew)))
	defer span.End()

	outcome, err := m.exchange(ctx, renew)
	if err != nil {
		otel.RecordError(span, err)
		m.metrics.RecordCertificateExchange(ctx, "error")
		return outcome, err
	}
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	m.metrics.RecordCertificateExchange(ctx, outcome.String())
	m.events.LogCertificateExchange(outcome.String())
	return outcome, nil
}

func (m *Manager) exchange(ctx context.Context, renew bool) (Outcome, error) {
	csrPEM, keyPEM, err := m.newCSR()
	if err != nil {
		return Untrusted, err
	}

	form := url.Values{
		"csr":      {string(csrPEM)},
		"hostuuid": {m.hostUUID},
	}
	if renew {
		if sum := m.Checksum(); sum != "" {
			form.Set("checksum", sum)
		}
	}

	body, err := m.poster.PostForm(ctx, CertificatePath, form)
	if err != nil {
		return Untrusted, fmt.Errorf("certificate request: %w", err)
	}

	var resp certificateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Untrusted, fmt.Errorf("decode certificate response: %w", err)
	}

	switch {
	case resp.has("checksum_missing"):
		m.events.LogCertificateHijack(m.hostUUID)
		return ChecksumMissing, nil
	case resp.has("unknown"):
		return Untrusted, nil
	}

	signed, err := resp.str("signed")
	if err != nil {
		return Untrusted, err
	}
	ca, err := resp.str("ca")
	if err != nil {
		return Untrusted, err
	}
	if signed == "" || ca == "" {
		return Untrusted, errors.New("certificate response contains neither a certificate nor a known status")
	}

	if err := m.install([]byte(signed), []byte(ca), keyPEM, csrPEM); err != nil {
		return Untrusted, err
	}
	return Installed, nil
}

// InstallCertificate installs a certificate signed for the persisted key,
// as delivered by the server in pull mode. It returns ErrLocked while a
// certificate exchange or CSR generation is running.
func (m *Manager) InstallCertificate(signed, ca []byte) error {
	if !m.tryLock() {
		return ErrLocked
	}
	defer m.unlock()

	keyPEM, err := os.ReadFile(m.files.Key)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	return m.install(signed, ca, keyPEM, nil)
}

// install validates and writes the certificate files, updates the cached
// checksum and fires the reload hook. keyPEM and csrPEM are written only if
// they are new.
func (m *Manager) install(signed, ca, keyPEM, csrPEM []byte) error {
	if _, err := tls.X509KeyPair(signed, keyPEM); err != nil {
		return fmt.Errorf("signed certificate does not match private key: %w", err)
	}
	if _, err := parseCertificate(ca); err != nil {
		return fmt.Errorf("invalid ca certificate: %w", err)
	}

	if csrPEM != nil {
		if err := config.WriteFileAtomic(m.files.Key, keyPEM, 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		if err := config.WriteFileAtomic(m.files.CSR, csrPEM, 0o644); err != nil {
			return fmt.Errorf("write csr: %w", err)
		}
	}
	if err := config.WriteFileAtomic(m.files.CA, ca, 0o644); err != nil {
		return fmt.Errorf("write ca certificate: %w", err)
	}
	if err := config.WriteFileAtomic(m.files.Cert, signed, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}

	m.mu.Lock()
	m.checksum = checksum(signed)
	m.mu.Unlock()

	if m.onInstalled != nil {
		m.onInstalled()
	}
	return nil
}

// Available reports whether certificate, key and CA are all present.
func (m *Manager) Available() bool {
	for _, p := range []string{m.files.Cert, m.files.Key, m.files.CA} {
		if p == "" {
			return false
		}
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// ServerTLSConfig builds a TLS configuration serving the installed
// certificate and requiring clients to present a certificate signed by the CA.
func (m *Manager) ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.files.Cert, m.files.Key)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	caPEM, err := os.ReadFile(m.files.CA)
	if err != nil {
		return nil, fmt.Errorf("read ca certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("no certificates found in ca file")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func checksum(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

func fileChecksum(path string) (string, error) {
	if path == "" {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return checksum(data), nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseCertificate(data)
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no PEM certificate found")
	}
	return x509.ParseCertificate(block.Bytes)
}
