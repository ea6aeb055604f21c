package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	target := filepath.Join(t.TempDir(), "deploy")

	pipeline := NewPipeline(PipelineConfig{
		Certs:     &stubCerts{},
		StatePath: filepath.Join(t.TempDir(), "state.json"),
	})

	sup := NewSupervisor(SupervisorConfig{
		Runner:        &fakeComposeRunner{},
		Dir:           target,
		Project:       "ddalab-test",
		ProbeInterval: time.Hour,
	})
	sup.Start(context.Background())
	t.Cleanup(sup.Shutdown)

	handler := Setup(ServerConfig{
		Pipeline:   pipeline,
		Supervisor: sup,
		TargetDir:  target,
		Version:    "test",
	})
	return handler, target
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func TestServer_Health(t *testing.T) {
	h, _ := newTestServer(t)
	rec, payload := doJSON(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "test", payload["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_SetupAndValidate(t *testing.T) {
	h, target := newTestServer(t)

	rec, payload := doJSON(t, h, http.MethodPost, "/api/v1/setup", `{"web_port": "8443"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, target, payload["setup_path"])

	rec, payload = doJSON(t, h, http.MethodGet, "/api/v1/validate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["valid"])
}

func TestServer_SetupFailureIs422(t *testing.T) {
	h, _ := newTestServer(t)

	body := `{"allowed_dirs": [
		{"host_path": "/a", "container_path": "/app/a", "permission": "rw"},
		{"host_path": "/b", "container_path": "/app/b", "permission": "rw"}
	]}`
	rec, payload := doJSON(t, h, http.MethodPost, "/api/v1/setup", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, payload["success"])
}

func TestServer_StartStopAndConflicts(t *testing.T) {
	h, _ := newTestServer(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "stop before start must be rejected")

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		_, payload := doJSON(t, h, http.MethodGet, "/api/v1/status", "")
		return payload["state"] == "running"
	}, 2*time.Second, 5*time.Millisecond)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "second start must be rejected")

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/stop", `{"delete_volumes": true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_HistoryUnavailable(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/history/runs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CertificatesUnavailable(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/certificates", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deployctl_")
}
