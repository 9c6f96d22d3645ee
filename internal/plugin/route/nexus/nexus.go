// Package nexus mounts the session-scoped facade endpoints.
package nexus

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the nexus endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	g := r.Group("/nexus")
	g.POST("/start", func(c *gin.Context) { start(c, reg) })
	g.POST("/process", func(c *gin.Context) { process(c, reg) })
	g.POST("/store", func(c *gin.Context) { store(c, reg) })
	g.GET("/search", func(c *gin.Context) { search(c, reg) })
	g.POST("/end", func(c *gin.Context) { end(c, reg) })
}

func start(c *gin.Context, reg *clients.Registry) {
	var req struct {
		SessionName string `json:"session_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	sessionID, greeting, err := svc.StartNexus(c.Request.Context(), req.SessionName)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "greeting": greeting})
}

func process(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Message string `json:"message"`
		IsUser  *bool  `json:"is_user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	isUser := true
	if req.IsUser != nil {
		isUser = *req.IsUser
	}
	contextText, err := svc.ProcessMessage(c.Request.Context(), req.Message, isUser)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": contextText})
}

func store(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Key       string `json:"key"`
		Value     string `json:"value"`
		Namespace string `json:"namespace"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.NexusStore(c.Request.Context(), req.Key, req.Value, req.Namespace)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id})
}

func search(c *gin.Context, reg *clients.Registry) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	results, err := svc.NexusSearch(c.Request.Context(), c.Query("query"), limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func end(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Summary string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	msg, err := svc.EndNexus(c.Request.Context(), req.Summary)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
