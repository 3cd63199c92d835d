package handlers

import (
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"forfar/internal/core"
	"forfar/internal/db"
)

type CheckSummary struct {
	ID int64 `json:"id"`
}

// CheckHandler exposes the printer-facing surface: order intake plus the
// polling and PDF retrieval endpoints keyed by a printer's api_key.
type CheckHandler struct {
	intake *core.Intake
	blobs  core.BlobStore
	events core.EventSender
}

func NewCheckHandler(intake *core.Intake, blobs core.BlobStore, events core.EventSender) *CheckHandler {
	return &CheckHandler{intake: intake, blobs: blobs, events: events}
}

func (h *CheckHandler) CreateChecks(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if err := h.intake.SubmitOrder(c.Request.Context(), body); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		case errors.Is(err, core.ErrDuplicateOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": "checks already created for this order"})
		case errors.Is(err, core.ErrNoPrinters):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no printers configured for this point"})
		default:
			log.Printf("checks: order intake failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checks"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": "checks created"})
}

func (h *CheckHandler) NewChecks(c *gin.Context) {
	printer, ok := h.authenticate(c)
	if !ok {
		return
	}

	checks, err := db.Checks.ListNewChecksByPrinter(c.Request.Context(), printer.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list checks"})
		return
	}

	summaries := make([]CheckSummary, 0, len(checks))
	for _, chk := range checks {
		summaries = append(summaries, CheckSummary{ID: chk.ID})
	}

	c.JSON(http.StatusOK, gin.H{"checks": summaries})
}

func (h *CheckHandler) GetCheckPDF(c *gin.Context) {
	// Auth always runs first: a bad api_key is reported as 401 even for
	// a check id that does not exist.
	if _, ok := h.authenticate(c); !ok {
		return
	}

	checkID, err := strconv.ParseInt(c.Param("check_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid check id"})
		return
	}

	chk, err := db.Checks.GetCheckByID(c.Request.Context(), checkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "check not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get check"})
		return
	}

	if chk.PDFKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no pdf rendered for this check"})
		return
	}

	pdf, err := h.blobs.Get(chk.PDFKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Reference without a blob: corrupted state, not "not yet
			// rendered".
			log.Printf("checks: blob %s missing for check %d", chk.PDFKey, chk.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "pdf blob missing"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read pdf"})
		return
	}

	// First read wins; the transition is best-effort relative to
	// delivery, so a failed update is logged but never aborts the fetch.
	printed, err := db.Checks.MarkCheckPrinted(c.Request.Context(), chk.ID)
	if err != nil {
		log.Printf("checks: failed to mark check %d printed: %v", chk.ID, err)
	}
	if printed && h.events != nil {
		h.events.SendCheckEvent("check_printed", chk.ID, chk.PrinterID, "")
	}

	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *CheckHandler) authenticate(c *gin.Context) (*db.Printer, bool) {
	printer, err := db.Printers.GetPrinterByAPIKey(c.Request.Context(), c.Param("api_key"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authenticate"})
		return nil, false
	}
	return printer, true
}

func (h *CheckHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/create_checks", h.CreateChecks)
	r.GET("/new_checks/:api_key", h.NewChecks)
	r.GET("/check/:api_key/:check_id", h.GetCheckPDF)
}
