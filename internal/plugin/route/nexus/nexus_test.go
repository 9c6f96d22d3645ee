package nexus_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/nexus"
	"github.com/ckoons/engram/internal/security"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := clients.New(clients.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { _ = reg.Close() })

	r := gin.New()
	r.Use(security.ClientIDMiddleware("tester"))
	nexus.MountRoutes(r, reg)
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

func TestSessionLifecycleOverHTTP(t *testing.T) {
	r := newRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/nexus/start", `{"session_name": "Review"}`)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := body["session_id"].(string)
	require.True(t, strings.HasPrefix(sessionID, "session-"))
	greeting := body["greeting"].(string)
	require.Contains(t, greeting, "# Nexus Session Started")
	require.Contains(t, greeting, "Session: Review (ID: "+sessionID+")")
	require.Contains(t, greeting, "# Memory Digest")

	w, body = doJSON(t, r, http.MethodPost, "/nexus/process", `{"message": "I prefer short standups."}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, body["context"], "# Memory Context")

	w, body = doJSON(t, r, http.MethodPost, "/nexus/store", `{"value": "retro notes", "key": "retro"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["memory_id"])

	w, body = doJSON(t, r, http.MethodGet, "/nexus/search?query=standups", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.GreaterOrEqual(t, body["count"].(float64), float64(1))

	w, body = doJSON(t, r, http.MethodPost, "/nexus/end", `{"summary": "done"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, body["message"], "done")

	// Ending twice is an error: no active session remains.
	w, body = doJSON(t, r, http.MethodPost, "/nexus/end", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "InvalidArgument", body["code"])
}
