package clients_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	registry "github.com/ckoons/engram/internal/clients"
	routeclients "github.com/ckoons/engram/internal/plugin/route/clients"
	"github.com/ckoons/engram/internal/security"
)

func newRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(registry.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { _ = reg.Close() })

	r := gin.New()
	r.Use(security.ClientIDMiddleware("tester"))
	routeclients.MountRoutes(r, reg)
	return r, reg
}

func TestStatusThenList(t *testing.T) {
	r, _ := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/clients/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "tester", status["client_id"])
	require.NotEmpty(t, status["namespaces"])

	req = httptest.NewRequest(http.MethodGet, "/clients/list", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.EqualValues(t, 1, list["count"])
	row := list["clients"].([]any)[0].(map[string]any)
	require.Equal(t, "tester", row["client_id"])
}

func TestInvalidClientIDRejected(t *testing.T) {
	r, _ := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/clients/status", nil)
	req.Header.Set(security.HeaderClientID, "../escape")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
