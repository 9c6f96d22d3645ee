// Package messages mounts the inter-client messaging endpoints over the
// shared queue. The sender is always the resolved caller.
package messages

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/plugin/route/respond"
	"github.com/ckoons/engram/internal/queue"
	"github.com/ckoons/engram/internal/security"
)

// MountRoutes mounts the messaging endpoints on the given router.
func MountRoutes(r *gin.Engine, q *queue.Queue) {
	g := r.Group("/messages")
	g.POST("/send", func(c *gin.Context) { send(c, q) })
	g.GET("/receive", func(c *gin.Context) { receive(c, q) })
	g.POST("/reply", func(c *gin.Context) { reply(c, q) })
	g.POST("/broadcast", func(c *gin.Context) { broadcast(c, q) })
	g.POST("/ack", func(c *gin.Context) { ack(c, q) })
	g.POST("/cleanup", func(c *gin.Context) { cleanup(c, q) })
	g.GET("/stats", func(c *gin.Context) { stats(c, q) })
}

// sendTuning distinguishes an absent priority or ttl_seconds from an
// explicit zero: absent fields take the queue defaults, explicit
// nonsense is rejected.
func sendTuning(c *gin.Context, priority *int, ttlSeconds *int) (int, time.Duration, bool) {
	p := 0
	if priority != nil {
		if *priority == 0 {
			respond.Error(c, fault.Invalid("priority 0 out of range [1..5]"))
			return 0, 0, false
		}
		p = *priority
	}
	var ttl time.Duration
	if ttlSeconds != nil {
		if *ttlSeconds <= 0 {
			respond.Error(c, fault.Invalid("ttl_seconds must be positive"))
			return 0, 0, false
		}
		ttl = time.Duration(*ttlSeconds) * time.Second
	}
	return p, ttl, true
}

func send(c *gin.Context, q *queue.Queue) {
	var req struct {
		Recipient  string         `json:"recipient"`
		Type       string         `json:"message_type"`
		Content    model.Value    `json:"content"`
		Priority   *int           `json:"priority"`
		TTLSeconds *int           `json:"ttl_seconds"`
		ThreadID   string         `json:"thread_id"`
		Metadata   model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msgType := model.MessageInfo
	if req.Type != "" {
		parsed, ok := model.ParseMessageType(req.Type)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown message type: " + req.Type})
			return
		}
		msgType = parsed
	}
	priority, ttl, ok := sendTuning(c, req.Priority, req.TTLSeconds)
	if !ok {
		return
	}
	id, err := q.Send(c.Request.Context(), security.ClientID(c), req.Recipient, msgType, req.Content,
		queue.SendOptions{
			Priority: priority,
			TTL:      ttl,
			ThreadID: req.ThreadID,
			Metadata: req.Metadata,
		})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id})
}

func receive(c *gin.Context, q *queue.Queue) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	opts := queue.ReceiveOptions{
		IncludeProcessed: c.DefaultQuery("include_processed", "false") == "true",
		MarkDelivered:    c.DefaultQuery("mark_delivered", "true") == "true",
		Limit:            limit,
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		opts.Since = since
	}
	msgs, err := q.Receive(c.Request.Context(), security.ClientID(c), opts)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(msgs), "messages": msgs})
}

func reply(c *gin.Context, q *queue.Queue) {
	var req struct {
		ParentID string         `json:"parent_id"`
		Content  model.Value    `json:"content"`
		Metadata model.Metadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := q.Reply(c.Request.Context(), req.ParentID, security.ClientID(c), req.Content, req.Metadata)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id})
}

func broadcast(c *gin.Context, q *queue.Queue) {
	var req struct {
		Content    model.Value `json:"content"`
		Priority   *int        `json:"priority"`
		TTLSeconds *int        `json:"ttl_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	priority, ttl, ok := sendTuning(c, req.Priority, req.TTLSeconds)
	if !ok {
		return
	}
	id, err := q.Broadcast(c.Request.Context(), security.ClientID(c), req.Content, priority, ttl)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id})
}

func ack(c *gin.Context, q *queue.Queue) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := q.Ack(c.Request.Context(), req.MessageID, security.ClientID(c)); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": req.MessageID, "status": string(model.StatusProcessed)})
}

func cleanup(c *gin.Context, q *queue.Queue) {
	n, err := q.Cleanup(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func stats(c *gin.Context, q *queue.Queue) {
	st, err := q.Stats(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
