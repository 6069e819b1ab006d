package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/coordinator"
	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/gates"
	"github.com/fl-sean03/agentgate/internal/pathpolicy"
	"github.com/fl-sean03/agentgate/internal/progress"
	"github.com/fl-sean03/agentgate/internal/queue"
)

type nopDriver struct{}

func (nopDriver) Name() string { return "nop" }
func (nopDriver) Execute(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	return &core.AgentResult{Success: true}, nil
}
func (nopDriver) IsAvailable(ctx context.Context) bool { return true }
func (nopDriver) Capabilities() core.AgentCapabilities { return core.AgentCapabilities{} }
func (nopDriver) Dispose() error                       { return nil }

type nopSandboxProvider struct{}

func (nopSandboxProvider) Create(ctx context.Context, root string, limits core.ResourceLimits) (core.Sandbox, error) {
	return nopSandbox{}, nil
}
func (nopSandboxProvider) CleanupOrphans(ctx context.Context) (int, error) { return 0, nil }

type nopSandbox struct{}

func (nopSandbox) ID() string                 { return "sb" }
func (nopSandbox) Status() core.SandboxStatus { return core.SandboxRunning }
func (nopSandbox) Execute(ctx context.Context, cmd string, args []string, opts core.ExecOptions) (*core.ExecResult, error) {
	return &core.ExecResult{}, nil
}
func (nopSandbox) ReadFile(ctx context.Context, path string) ([]byte, error)       { return nil, nil }
func (nopSandbox) WriteFile(ctx context.Context, path string, data []byte) error   { return nil }
func (nopSandbox) ListFiles(ctx context.Context, path string) ([]core.Stat, error) { return nil, nil }
func (nopSandbox) GetStats(ctx context.Context) (core.SandboxStats, error)         { return core.SandboxStats{}, nil }
func (nopSandbox) Destroy(ctx context.Context) error                              { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	store, err := artifacts.NewStore(root + "/store")
	require.NoError(t, err)
	leases := pathpolicy.NewLeaseManager(root+"/leases", core.SystemClock{})
	provisioner := coordinator.NewProvisioner(root+"/ws", nil)
	registry := gates.NewRegistry(nil)

	bus := progress.New(progress.Config{MaxEventsPerSecond: 100, BatchWindow: 5 * time.Millisecond}, progress.NewMetrics())
	t.Cleanup(bus.Close)

	coord := coordinator.New(provisioner, leases, nopSandboxProvider{}, nopDriver{}, registry, store, bus, nil)
	cfg := queue.DefaultConfig()
	cfg.SweepInterval = time.Hour
	q := queue.New(cfg, coord, store, nil)

	return New(store, q, bus, progress.NewMetrics(), nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if v != nil && env.Data != nil {
		b, err := json.Marshal(env.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, v))
	}
	return env
}

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/health/ready", "/health/live", "/health/deep"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_CreateAndGetWorkOrder(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()

	body, _ := json.Marshal(createWorkOrderRequest{
		TaskPrompt:      "a sufficiently long task prompt for admission",
		WorkspaceSource: core.WorkspaceSource{Type: core.SourceFreshTemplate, DestPath: root + "/fresh"},
		GatePlan: core.GatePlan{
			Gates: []core.Gate{{Name: "l0", Check: core.GateCheck{Type: core.CheckVerificationLevels, Levels: []string{"L0"}}}},
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", bytes.NewReader(body))
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created core.WorkOrder
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/work-orders/"+string(created.ID), nil))
	require.Equal(t, http.StatusOK, rec2.Code)

	rec3 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/api/v1/work-orders", nil))
	require.Equal(t, http.StatusOK, rec3.Code)
	var list []core.WorkOrder
	decode(t, rec3, &list)
	require.Len(t, list, 1)
}

func TestServer_CreateWorkOrderRejectsShortPrompt(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(createWorkOrderRequest{
		TaskPrompt:      "short",
		WorkspaceSource: core.WorkspaceSource{Type: core.SourceFreshTemplate, DestPath: t.TempDir()},
		GatePlan: core.GatePlan{
			Gates: []core.Gate{{Name: "l0", Check: core.GateCheck{Type: core.CheckVerificationLevels, Levels: []string{"L0"}}}},
		},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec, nil)
	require.False(t, env.Success)
	require.Equal(t, CodeBadRequest, env.Error.Code)
}

func TestServer_GetUnknownWorkOrderReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/work-orders/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MutationsRequireAPIKeyWhenConfigured(t *testing.T) {
	root := t.TempDir()
	store, err := artifacts.NewStore(root + "/store")
	require.NoError(t, err)
	leases := pathpolicy.NewLeaseManager(root+"/leases", core.SystemClock{})
	provisioner := coordinator.NewProvisioner(root+"/ws", nil)
	registry := gates.NewRegistry(nil)
	coord := coordinator.New(provisioner, leases, nopSandboxProvider{}, nopDriver{}, registry, store, nil, nil)
	cfg := queue.DefaultConfig()
	cfg.SweepInterval = time.Hour
	q := queue.New(cfg, coord, store, nil)
	s := New(store, q, progress.New(progress.DefaultConfig(), nil), nil, nil, WithAPIKey("secret"))
	t.Cleanup(func() { s.bus.Close() })

	body, _ := json.Marshal(createWorkOrderRequest{
		TaskPrompt:      "a sufficiently long task prompt for admission",
		WorkspaceSource: core.WorkspaceSource{Type: core.SourceFreshTemplate, DestPath: root + "/fresh"},
		GatePlan: core.GatePlan{
			Gates: []core.Gate{{Name: "l0", Check: core.GateCheck{Type: core.CheckVerificationLevels, Levels: []string{"L0"}}}},
		},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusCreated, rec2.Code)
}

func TestServer_MetricsEndpointServesPrometheusText(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
