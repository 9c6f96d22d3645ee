// Package security holds the HTTP middleware: caller identification,
// access logging, and Prometheus metrics.
package security

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClientID is the gin context key for the caller's client ID.
	ContextKeyClientID = "clientID"
	// HeaderClientID carries the caller's client ID.
	HeaderClientID = "X-Client-ID"
)

// Client ids land in file names, so the charset is restricted.
var validClientID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ClientIDMiddleware resolves the caller's client ID from the
// X-Client-ID header, falling back to defaultClientID when absent.
// Malformed ids are rejected before any handler runs.
func ClientIDMiddleware(defaultClientID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderClientID)
		if id == "" {
			id = defaultClientID
		}
		if !validClientID.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}
		c.Set(ContextKeyClientID, id)
		c.Next()
	}
}

// ClientID returns the resolved client ID for the request.
func ClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}
