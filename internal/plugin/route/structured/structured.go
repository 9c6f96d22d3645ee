// Package structured mounts the structured-memory endpoints: categories,
// importance, tags, digest, and context assembly.
package structured

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/memory"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the structured memory endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	g := r.Group("/structured")
	g.POST("/add", func(c *gin.Context) { add(c, reg) })
	g.GET("/get", func(c *gin.Context) { get(c, reg) })
	g.POST("/auto", func(c *gin.Context) { auto(c, reg) })
	g.GET("/search", func(c *gin.Context) { search(c, reg) })
	g.GET("/digest", func(c *gin.Context) { digest(c, reg) })
	g.GET("/context", func(c *gin.Context) { contextFor(c, reg) })
}

func add(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Content    string         `json:"content"`
		Category   string         `json:"category"`
		Importance int            `json:"importance"`
		Tags       []string       `json:"tags"`
		Metadata   model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	category := model.Category(req.Category)
	if req.Category == "" {
		category = model.CategoryFacts
	}
	id, err := svc.AddMemory(c.Request.Context(), req.Content, category, req.Importance, req.Tags, req.Metadata)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id, "category": string(category)})
}

func get(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	r, err := svc.GetMemory(c.Request.Context(), c.Query("memory_id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func auto(c *gin.Context, reg *clients.Registry) {
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
	id, err := svc.AddAutoCategorized(c.Request.Context(), req.Content)
	if err != nil {
		respond.Error(c, err)
		return
	}
	r, err := svc.GetMemory(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"memory_id":  id,
		"category":   string(r.Category()),
		"importance": r.Importance(),
	})
}

func search(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	opts := memory.SearchMemoriesOptions{
		Query:  c.Query("query"),
		SortBy: c.Query("sort_by"),
	}
	if raw := c.Query("categories"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			opts.Categories = append(opts.Categories, model.Category(strings.TrimSpace(name)))
		}
	}
	if raw := c.Query("tags"); raw != "" {
		opts.Tags = strings.Split(raw, ",")
	}
	var err error
	if opts.MinImportance, err = strconv.Atoi(c.DefaultQuery("min_importance", "0")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_importance must be an integer"})
		return
	}
	if opts.Limit, err = strconv.Atoi(c.DefaultQuery("limit", "0")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	results, err := svc.SearchMemories(c.Request.Context(), opts)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func digest(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	maxMemories, err := strconv.Atoi(c.DefaultQuery("max_memories", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_memories must be an integer"})
		return
	}
	text, err := svc.Digest(c.Request.Context(), memory.DigestOptions{
		MaxMemories:    maxMemories,
		IncludePrivate: c.DefaultQuery("include_private", "false") == "true",
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"digest": text})
}

func contextFor(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("max_memories", "5"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_memories must be an integer"})
		return
	}
	results, err := svc.SearchMemories(c.Request.Context(), memory.SearchMemoriesOptions{
		Query:  c.Query("text"),
		Limit:  limit,
		SortBy: "relevance",
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}
