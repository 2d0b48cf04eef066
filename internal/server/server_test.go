package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/apikey"
	"github.com/authz-engine/roles-core/internal/metrics"
	"github.com/authz-engine/roles-core/internal/rolestore"
	"github.com/authz-engine/roles-core/internal/serviceaccount"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	providers := rolestore.NewRoleProviders(rolestore.RoleProvidersConfig{Logger: zap.NewNop()})
	store := rolestore.NewCompositeRolesStore(rolestore.CompositeRolesStoreOptions{
		Providers:      providers,
		ApiKeyService:  apikey.NewService(nil),
		ServiceAccount: serviceaccount.NewService(nil),
		Logger:         zap.NewNop(),
	})
	srv, err := New(DefaultConfig(), store, nil, metrics.NewPrometheusMetrics("roles_core_test"), zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestQueryDescriptors(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/v1/roles/_query", QueryDescriptorsRequest{
		Names: []string{"viewer", "missing_role"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Roles []struct {
			Name string `json:"name"`
		} `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Roles, 1)
	require.Equal(t, "viewer", resp.Roles[0].Name)
}

func TestQueryDescriptors_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/v1/roles/_query", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidate(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/cache/invalidate", InvalidateRequest{Names: []string{"role_a"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/cache/invalidate", InvalidateRequest{All: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/v1/cache/invalidate", InvalidateRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/v1/roles/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp, "providers")
	require.Contains(t, resp, "role_cache")
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "supplied-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "supplied-id", rec.Header().Get(RequestIDHeader))
}
