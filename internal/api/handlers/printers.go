package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"forfar/internal/core"
	"forfar/internal/db"
)

type CreatePrinterRequest struct {
	Name      string `json:"name" binding:"required"`
	CheckType string `json:"check_type" binding:"required"`
	PointID   int64  `json:"point_id" binding:"required"`
}

type UpdatePrinterRequest struct {
	Name      string `json:"name"`
	CheckType string `json:"check_type"`
	PointID   int64  `json:"point_id"`
}

// PrinterHandler is the administrative CRUD surface for printers. The
// api_key is generated server-side on create and returned once in the
// response; printers present it on the polling endpoints afterwards.
type PrinterHandler struct{}

func NewPrinterHandler() *PrinterHandler {
	return &PrinterHandler{}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := db.Printers.ListPrinters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list printers"})
		return
	}
	if printers == nil {
		printers = []*db.Printer{}
	}
	c.JSON(http.StatusOK, gin.H{"printers": printers})
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return
	}

	printer, err := db.Printers.GetPrinterByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get printer"})
		return
	}

	c.JSON(http.StatusOK, printer)
}

func (h *PrinterHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !core.CheckType(req.CheckType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "check_type must be client or kitchen"})
		return
	}

	printer := &db.Printer{
		Name:      req.Name,
		APIKey:    uuid.NewString(),
		CheckType: req.CheckType,
		PointID:   req.PointID,
	}

	if err := db.Printers.CreatePrinter(c.Request.Context(), printer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create printer"})
		return
	}

	c.JSON(http.StatusCreated, printer)
}

func (h *PrinterHandler) UpdatePrinter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return
	}

	printer, err := db.Printers.GetPrinterByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get printer"})
		return
	}

	var req UpdatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != "" {
		printer.Name = req.Name
	}
	if req.CheckType != "" {
		if !core.CheckType(req.CheckType).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "check_type must be client or kitchen"})
			return
		}
		printer.CheckType = req.CheckType
	}
	if req.PointID != 0 {
		printer.PointID = req.PointID
	}

	if err := db.Printers.UpdatePrinter(c.Request.Context(), printer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update printer"})
		return
	}

	c.JSON(http.StatusOK, printer)
}

func (h *PrinterHandler) DeletePrinter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return
	}

	if err := db.Printers.DeletePrinter(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete printer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "printer deleted"})
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", h.CreatePrinter)
	r.GET("/printers/:id", h.GetPrinter)
	r.PUT("/printers/:id", h.UpdatePrinter)
	r.DELETE("/printers/:id", h.DeletePrinter)
}
