package private_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/private"
	"github.com/ckoons/engram/internal/security"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := clients.New(clients.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { _ = reg.Close() })

	r := gin.New()
	r.Use(security.ClientIDMiddleware("tester"))
	private.MountRoutes(r, reg)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestPrivateRoundTripOverHTTP(t *testing.T) {
	r := newRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/private", `{"content": "secret-42"}`)
	require.Equal(t, http.StatusOK, w.Code)
	id := body["memory_id"].(string)
	require.True(t, strings.HasPrefix(id, "private-"))

	w, body = doJSON(t, r, http.MethodGet, "/private/list", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, body["count"])
	// The listing never exposes plaintext.
	require.NotContains(t, w.Body.String(), "secret-42")

	w, body = doJSON(t, r, http.MethodGet, "/private/get?memory_id="+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "secret-42", body["content"])

	w, body = doJSON(t, r, http.MethodDelete, "/private/delete?memory_id="+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["deleted"])

	w, body = doJSON(t, r, http.MethodGet, "/private/get?memory_id="+id, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NotFound", body["code"])
}
