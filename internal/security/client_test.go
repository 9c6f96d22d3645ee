package security_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/engram/internal/security"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(security.ClientIDMiddleware("claude"))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client_id": security.ClientID(c)})
	})
	return r
}

func TestHeaderWins(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(security.HeaderClientID, "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"client_id":"alice"`)
}

func TestDefaultApplies(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"client_id":"claude"`)
}

// TestMalformedIDsRejected pins the charset: ids land in file names.
func TestMalformedIDsRejected(t *testing.T) {
	r := newRouter()
	for _, id := range []string{"../evil", "a b", "", ".hidden", "x/y"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(security.HeaderClientID, id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if id == "" {
			// An empty header falls back to the default.
			require.Equal(t, http.StatusOK, w.Code)
			continue
		}
		require.Equal(t, http.StatusBadRequest, w.Code, "id %q", id)
	}
}
