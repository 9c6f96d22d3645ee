// Package latent mounts the latent-space endpoints: iterative thoughts
// with refinement, convergence, and reasoning traces.
package latent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the latent-space endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	g := r.Group("/latent")
	g.POST("/think", func(c *gin.Context) { think(c, reg) })
	g.POST("/refine", func(c *gin.Context) { refine(c, reg) })
	g.POST("/finalize", func(c *gin.Context) { finalize(c, reg) })
	g.GET("/trace", func(c *gin.Context) { trace(c, reg) })
	g.DELETE("/delete", func(c *gin.Context) { remove(c, reg) })
	g.POST("/clear", func(c *gin.Context) { clear(c, reg) })
}

func think(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Content  string         `json:"content"`
		Metadata model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.Latent().Initialize(req.Content, req.Metadata)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thought_id": id})
}

func refine(c *gin.Context, reg *clients.Registry) {
	var req struct {
		ThoughtID string         `json:"thought_id"`
		Content   string         `json:"content"`
		Metadata  model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	if err := svc.Latent().Refine(req.ThoughtID, req.Content, req.Metadata); err != nil {
		respond.Error(c, err)
		return
	}
	converged, err := svc.Latent().Converged(req.ThoughtID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thought_id": req.ThoughtID, "converged": converged})
}

func finalize(c *gin.Context, reg *clients.Registry) {
	var req struct {
		ThoughtID string         `json:"thought_id"`
		Content   string         `json:"content"`
		Persist   bool           `json:"persist"`
		Metadata  model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	thought, err := svc.Latent().Finalize(req.ThoughtID, req.Content, req.Persist, req.Metadata)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, thought)
}

func trace(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	includeIterations := c.DefaultQuery("include_iterations", "false") == "true"
	tr, err := svc.Latent().ReasoningTrace(c.Query("thought_id"), includeIterations)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func remove(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	deleted, err := svc.Latent().Delete(c.Query("thought_id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func clear(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	n, err := svc.Latent().Clear()
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
