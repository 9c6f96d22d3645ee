// Package clients mounts the client-registry endpoints.
package clients

import (
	"net/http"

	"github.com/gin-gonic/gin"

	registry "github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/respond"
	"github.com/ckoons/engram/internal/security"
)

// MountRoutes mounts the client registry endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *registry.Registry) {
	g := r.Group("/clients")
	g.GET("/list", func(c *gin.Context) { list(c, reg) })
	g.GET("/status", func(c *gin.Context) { status(c, reg) })
}

func list(c *gin.Context, reg *registry.Registry) {
	infos, err := reg.List(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(infos), "clients": infos})
}

func status(c *gin.Context, reg *registry.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id":  security.ClientID(c),
		"namespaces": svc.Namespaces(),
		"dirty":      svc.Dirty(),
	})
}
