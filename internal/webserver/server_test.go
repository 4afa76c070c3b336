package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/auth"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/autossl"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/store"
)

type fakeCertificates struct {
	csr        []byte
	csrErr     error
	installErr error
	signed     []byte
	ca         []byte
}

func (f *fakeCertificates) CSR() ([]byte, error) { return f.csr, f.csrErr }

func (f *fakeCertificates) InstallCertificate(signed, ca []byte) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.signed, f.ca = signed, ca
	return nil
}

type fakeConfigFiles struct {
	docs    *config.Documents
	written *config.Documents
	err     error
}

func (f *fakeConfigFiles) Read() (*config.Documents, error) { return f.docs, nil }

func (f *fakeConfigFiles) Write(d *config.Documents) error {
	if f.err != nil {
		return f.err
	}
	f.written = d
	return nil
}

func do(t *testing.T, s *Server, method, path, body string, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, fn := range setup {
		fn(req)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSnapshot(t *testing.T) {
	st := store.New()
	st.Put(store.DefaultBucket, "memory", store.NewResult("memory", map[string]any{"total": 42}))
	st.Put(config.DefaultCustomChecksBucket, "echo", store.NewResult("echo", "hi").WithReturnCode(0))

	s := New(Options{Store: st})
	rec := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]any{"total": float64(42)}, got["memory"])

	custom := got[config.DefaultCustomChecksBucket].(map[string]any)
	echo := custom["echo"].(map[string]any)
	assert.Equal(t, "hi", echo["result"])
	assert.Equal(t, float64(0), echo["returncode"])
}

func TestGetCSR(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := New(Options{Store: store.New()})
		rec := do(t, s, http.MethodGet, "/getCsr", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"csr":"disabled"}`, rec.Body.String())
	})

	t.Run("generated", func(t *testing.T) {
		certs := &fakeCertificates{csr: []byte("-----BEGIN CERTIFICATE REQUEST-----")}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodGet, "/getCsr", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"csr":"-----BEGIN CERTIFICATE REQUEST-----"}`, rec.Body.String())
	})

	t.Run("locked", func(t *testing.T) {
		certs := &fakeCertificates{csrErr: autossl.ErrLocked}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodGet, "/getCsr", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("error", func(t *testing.T) {
		certs := &fakeCertificates{csrErr: errors.New("disk full")}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodGet, "/getCsr", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestUpdateCrt(t *testing.T) {
	t.Run("installs", func(t *testing.T) {
		certs := &fakeCertificates{}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodPost, "/updateCrt", `{"signed":"CERT","ca":"CA"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "CERT", string(certs.signed))
		assert.Equal(t, "CA", string(certs.ca))
	})

	t.Run("missing fields", func(t *testing.T) {
		certs := &fakeCertificates{}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodPost, "/updateCrt", `{"signed":"CERT"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, certs.signed)
	})

	t.Run("rejected", func(t *testing.T) {
		certs := &fakeCertificates{installErr: errors.New("certificate does not match key")}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodPost, "/updateCrt", `{"signed":"CERT","ca":"CA"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("locked", func(t *testing.T) {
		certs := &fakeCertificates{installErr: autossl.ErrLocked}
		s := New(Options{Store: store.New(), Certificates: certs})
		rec := do(t, s, http.MethodPost, "/updateCrt", `{"signed":"CERT","ca":"CA"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		s := New(Options{Store: store.New()})
		rec := do(t, s, http.MethodPost, "/updateCrt", `{"signed":"CERT","ca":"CA"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestConfigEndpoint(t *testing.T) {
	t.Run("not mounted without update mode", func(t *testing.T) {
		s := New(Options{Store: store.New()})
		rec := do(t, s, http.MethodGet, "/config", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		files := &fakeConfigFiles{docs: &config.Documents{
			Config: config.Config{Default: config.DefaultConfig{Interval: 30, Port: 3333}},
			CustomChecks: config.CustomChecksFile{Checks: map[string]config.CustomCheck{
				"echo": {Command: "echo hi", Interval: 10, Timeout: 5},
			}},
		}}
		s := New(Options{Store: store.New(), ConfigFiles: files})
		rec := do(t, s, http.MethodGet, "/config", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got config.Documents
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 3333, got.Config.Default.Port)
		assert.Equal(t, "echo hi", got.CustomChecks.Checks["echo"].Command)
	})

	t.Run("post triggers reload", func(t *testing.T) {
		var reloads atomic.Int32
		files := &fakeConfigFiles{}
		s := New(Options{Store: store.New(), ConfigFiles: files, Reload: func() { reloads.Add(1) }})

		body := `{"config":{"default":{"interval":15,"port":3333},"oitc":{"interval":30}},"customchecks":{"checks":{}}}`
		rec := do(t, s, http.MethodPost, "/config", body)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, files.written)
		assert.Equal(t, 15, files.written.Config.Default.Interval)
		assert.Equal(t, int32(1), reloads.Load())
	})

	t.Run("invalid post does not reload", func(t *testing.T) {
		var reloads atomic.Int32
		files := &fakeConfigFiles{err: fmt.Errorf("%w: default.interval must be positive", config.ErrInvalid)}
		s := New(Options{Store: store.New(), ConfigFiles: files, Reload: func() { reloads.Add(1) }})

		rec := do(t, s, http.MethodPost, "/config", `{"config":{}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, reloads.Load())
	})

	t.Run("malformed body", func(t *testing.T) {
		s := New(Options{Store: store.New(), ConfigFiles: &fakeConfigFiles{}})
		rec := do(t, s, http.MethodPost, "/config", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBasicAuthGate(t *testing.T) {
	mw := auth.NewMiddleware(auth.BasicConfig("admin", "s3cret"), nil)
	s := New(Options{Store: store.New(), Auth: mw})

	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = do(t, s, http.MethodGet, "/", "", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/", "", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("agent_check_runs_total 1\n"))
	})

	s := New(Options{Store: store.New(), Metrics: metrics})
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_check_runs_total")

	s = New(Options{Store: store.New()})
	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecovery(t *testing.T) {
	s := New(Options{Store: store.New()})
	s.engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	rec := do(t, s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartShutdown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", Store: store.New()})
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	resp, err := http.Get(s.URL() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestWait(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", Store: store.New()})
	require.NoError(t, s.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Wait(ctx))
	assert.False(t, s.IsRunning())
}
