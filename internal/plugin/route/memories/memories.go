// Package memories mounts the core memory endpoints: namespaced store
// and query, thinking and longterm shortcuts, relevant context, and the
// session log.
package memories

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/plugin/route/respond"
)

// MountRoutes mounts the core memory endpoints on the given router.
func MountRoutes(r *gin.Engine, reg *clients.Registry) {
	r.POST("/store", func(c *gin.Context) { store(c, reg) })
	r.GET("/query", func(c *gin.Context) { query(c, reg) })
	r.POST("/thinking", func(c *gin.Context) { thinking(c, reg) })
	r.POST("/longterm", func(c *gin.Context) { longterm(c, reg) })
	r.GET("/context", func(c *gin.Context) { relevantContext(c, reg) })
	r.POST("/write", func(c *gin.Context) { writeSession(c, reg) })
	r.GET("/load", func(c *gin.Context) { loadSession(c, reg) })
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return n, true
}

func store(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Key       string `json:"key"`
		Value     string `json:"value"`
		Content   string `json:"content"`
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
	content := req.Value
	if content == "" {
		content = req.Content
	}
	namespace := req.Namespace
	if namespace == "" {
		namespace = model.NamespaceConversations
	}
	var md model.Metadata
	if req.Key != "" {
		md = model.Metadata{model.MetaKey: model.StringValue(req.Key)}
	}
	id, err := svc.Add(c.Request.Context(), content, namespace, md)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id, "namespace": namespace})
}

func query(c *gin.Context, reg *clients.Registry) {
	limit, ok := intQuery(c, "limit", 5)
	if !ok {
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	namespace := c.DefaultQuery("namespace", model.NamespaceConversations)
	res, err := svc.Search(c.Request.Context(), c.Query("query"), namespace, limit,
		model.SearchMode(c.Query("mode")))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func thinking(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Thought string `json:"thought"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.Add(c.Request.Context(), req.Thought, model.NamespaceThinking, nil)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id, "namespace": model.NamespaceThinking})
}

func longterm(c *gin.Context, reg *clients.Registry) {
	var req struct {
		Info string `json:"info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	id, err := svc.Add(c.Request.Context(), req.Info, model.NamespaceLongterm, nil)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory_id": id, "namespace": model.NamespaceLongterm})
}

func relevantContext(c *gin.Context, reg *clients.Registry) {
	limit, ok := intQuery(c, "limit", 3)
	if !ok {
		return
	}
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	namespaces := []string{model.NamespaceConversations}
	if c.DefaultQuery("include_thinking", "false") == "true" {
		namespaces = append(namespaces, model.NamespaceThinking)
	}
	namespaces = append(namespaces, model.NamespaceLongterm)

	text, partial, err := svc.RelevantContext(c.Request.Context(), c.Query("query"), namespaces, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"context": text, "partial": partial})
}

func writeSession(c *gin.Context, reg *clients.Registry) {
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
	if err := svc.WriteSession(c.Request.Context(), req.Content, req.Metadata); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func loadSession(c *gin.Context, reg *clients.Registry) {
	svc, ok := respond.Service(c, reg)
	if !ok {
		return
	}
	// Without an explicit limit, return the whole ring.
	limit, ok := intQuery(c, "limit", svc.SessionCapacity())
	if !ok {
		return
	}
	entries, err := svc.LoadSession(c.Request.Context(), limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	contents := make([]string, len(entries))
	metadatas := make([]model.Metadata, len(entries))
	for i, e := range entries {
		contents[i] = e.Content
		metadatas[i] = e.Metadata
	}
	c.JSON(http.StatusOK, gin.H{"content": contents, "metadata": metadatas})
}
