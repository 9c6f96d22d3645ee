// Package private mounts the encrypted private-memory endpoints.
package private

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the private memory endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	g := r.Group("/private")
	g.POST("", func(c *gin.Context) { add(c, reg) })
	g.GET("/list", func(c *gin.Context) { list(c, reg) })
	g.GET("/get", func(c *gin.Context) { get(c, reg) })
	g.DELETE("/delete", func(c *gin.Context) { remove(c, reg) })
}

func add(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.AddPrivate(c.Request.Context(), req.Content)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id})
}

func list(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	entries, err := svc.ListPrivate(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "results": entries})
}

func get(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	allowEmergency := c.DefaultQuery("allow_emergency", "false") == "true"
	content, err := svc.GetPrivate(c.Request.Context(), c.Query("memory_id"), allowEmergency)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": c.Query("memory_id"), "content": content})
}

func remove(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	deleted, err := svc.DeletePrivate(c.Request.Context(), c.Query("memory_id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
