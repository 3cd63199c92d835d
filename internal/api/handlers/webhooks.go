package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"forfar/internal/db"
	"forfar/internal/webhook"
)

type CreateWebhookRequest struct {
	Name    string   `json:"name" binding:"required"`
	URL     string   `json:"url" binding:"required,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events" binding:"required,min=1"`
	Enabled *bool    `json:"enabled"`
}

type WebhookHandler struct{}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

var knownEvents = map[string]bool{
	string(webhook.EventCheckRendered): true,
	string(webhook.EventCheckPrinted):  true,
	string(webhook.EventRenderFailed):  true,
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	hooks, err := db.Webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}
	if hooks == nil {
		hooks = []*db.Webhook{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks})
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, event := range req.Events {
		if !knownEvents[event] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event: " + event})
			return
		}
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize events"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	hook := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: string(eventsJSON),
		Enabled:    enabled,
	}

	if err := db.Webhooks.CreateWebhook(c.Request.Context(), hook); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, hook)
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return
	}

	if err := db.Webhooks.DeleteWebhook(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "webhook deleted"})
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks", h.CreateWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}
