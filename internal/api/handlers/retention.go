package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"forfar/internal/retention"
)

type RetentionHandler struct {
	archiver *retention.Archiver
}

func NewRetentionHandler(archiver *retention.Archiver) *RetentionHandler {
	return &RetentionHandler{archiver: archiver}
}

type ArchiveListResponse struct {
	Archives []retention.ArchiveFile `json:"archives"`
	Count    int                     `json:"count"`
}

func (h *RetentionHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archives"})
		return
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives: archives,
		Count:    len(archives),
	})
}

func (h *RetentionHandler) RunSweep(c *gin.Context) {
	result, err := h.archiver.RunSweep()
	if err != nil {
		log.Printf("retention: manual sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *RetentionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.POST("/archives/sweep", h.RunSweep)
}
