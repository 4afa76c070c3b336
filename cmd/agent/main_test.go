package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	cmd := newRootCmd(&out, &logs)
	cmd.SetArgs(args)
	cmd.SetErr(&logs)
	err := cmd.Execute()
	return out.String(), logs.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version", "--config", "/does/not/exist.yml")
	require.NoError(t, err)
	assert.Equal(t, "openitcockpit-agent dev\n", out)
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "default:\n  interval: 0\n")
	_, _, err := execute(t, "csr", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestUnknownExporterFails(t *testing.T) {
	path := writeConfig(t, "telemetry:\n  exporter: carrier-pigeon\n")
	_, _, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exporter type")
}

func TestCSRCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
default:
  autossl_csr_file: `+filepath.Join(dir, "agent.csr")+`
  autossl_crt_file: `+filepath.Join(dir, "agent.crt")+`
  autossl_key_file: `+filepath.Join(dir, "agent.key")+`
  autossl_ca_file: `+filepath.Join(dir, "server_ca.crt")+`
oitc:
  hostuuid: 6e0a0a1c-7c4d-4f0e-9d3a-1f2b3c4d5e6f
`)

	out, _, err := execute(t, "csr", "--config", path)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE REQUEST", block.Type)

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "6e0a0a1c-7c4d-4f0e-9d3a-1f2b3c4d5e6f", csr.Subject.CommonName)

	onDisk, err := os.ReadFile(filepath.Join(dir, "agent.csr"))
	require.NoError(t, err)
	assert.Equal(t, out, string(onDisk))
	assert.FileExists(t, filepath.Join(dir, "agent.key"))
}

func TestLogLevelPrecedence(t *testing.T) {
	path := writeConfig(t, "default:\n  verbose: true\ntelemetry:\n  log_level: error\n")

	c := &cli{out: &bytes.Buffer{}, logOut: &bytes.Buffer{}, cfgFile: path, logLevel: "warn"}
	require.NoError(t, c.init(false))
	assert.Equal(t, "debug", c.cfg.Telemetry.LogLevel)

	c = &cli{out: &bytes.Buffer{}, logOut: &bytes.Buffer{}, cfgFile: path, logLevel: "warn"}
	require.NoError(t, c.init(true))
	assert.Equal(t, "warn", c.cfg.Telemetry.LogLevel)
}
