// Package respond maps core errors to HTTP responses and resolves the
// caller's memory service, shared by all route plugins.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/memory"
	"github.com/ckoons/engram/internal/security"
)

// Error writes the JSON error body for err using the kind-to-status map.
func Error(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindInvalidArgument:
		status = http.StatusBadRequest
	case fault.KindNotFound, fault.KindUnknownNamespace,
		fault.KindUnknownRecipient, fault.KindNoSuchParent:
		status = http.StatusNotFound
	case fault.KindPermissionDenied:
		status = http.StatusForbidden
	case fault.KindDeadlineExceeded:
		status = http.StatusGatewayTimeout
	case fault.KindStorageUnavailable, fault.KindEmbedUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": string(fault.KindOf(err))})
}

// Service resolves the caller's per-client memory service. On failure it
// writes the error response and returns false.
func Service(c *gin.Context, reg *clients.Registry) (*memory.Service, bool) {
	svc, err := reg.Get(c.Request.Context(), security.ClientID(c))
	if err != nil {
		Error(c, err)
		return nil, false
	}
	return svc, true
}
