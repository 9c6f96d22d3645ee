// Package compartments mounts the compartment lifecycle endpoints.
package compartments

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the compartment endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	g := r.Group("/compartment")
	g.POST("/create", func(c *gin.Context) { create(c, reg) })
	g.POST("/store", func(c *gin.Context) { store(c, reg) })
	g.GET("/list", func(c *gin.Context) { list(c, reg) })
	g.POST("/activate", func(c *gin.Context) { setActive(c, reg, true) })
	g.POST("/deactivate", func(c *gin.Context) { setActive(c, reg, false) })
	g.POST("/expire", func(c *gin.Context) { expire(c, reg) })
}

func create(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	comp, err := svc.CreateCompartment(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, comp)
}

func store(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Compartment string `json:"compartment"`
		Content     string `json:"content"`
		Key         string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.StoreInCompartment(c.Request.Context(), req.Compartment, req.Content, req.Key)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id, "compartment": req.Compartment})
}

func list(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	comps, err := svc.ListCompartments(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(comps), "compartments": comps})
}

func setActive(c *gin.Context, reg *clients.Registry, active bool) {
	var req struct {
		Compartment string `json:"compartment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	var err error
	if active {
		err = svc.ActivateCompartment(c.Request.Context(), req.Compartment)
	} else {
		err = svc.DeactivateCompartment(c.Request.Context(), req.Compartment)
	}
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compartment": req.Compartment, "active": active})
}

func expire(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Compartment string `json:"compartment"`
		TTLSeconds  int    `json:"ttl_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := svc.SetCompartmentExpiration(c.Request.Context(), req.Compartment, ttl); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compartment": req.Compartment, "ttl_seconds": req.TTLSeconds})
}
