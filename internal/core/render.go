package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"forfar/internal/db"
)

// PDFRenderer produces a PDF payload for a check's order data.
type PDFRenderer interface {
	Render(ctx context.Context, checkType CheckType, orderJSON []byte) ([]byte, error)
}

// BlobStore holds rendered PDFs under deterministic keys.
type BlobStore interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Exists(key string) (bool, error)
}

// RenderHandler executes render jobs. It is the only writer of a check's
// pdf_key and of the new -> rendered transition.
type RenderHandler struct {
	renderer PDFRenderer
	blobs    BlobStore
}

func NewRenderHandler(renderer PDFRenderer, blobs BlobStore) *RenderHandler {
	return &RenderHandler{renderer: renderer, blobs: blobs}
}

// Handle renders the check's PDF and advances the check to rendered.
// Safe under duplicate delivery: a check already past NEW is a no-op, and
// an existing blob at the deterministic key short-circuits rendering (a
// check manually reset to NEW reuses the stored blob instead of paying
// for a re-render).
//
// The returned bool reports whether this call applied the new -> rendered
// transition; duplicate deliveries succeed with false so callers emit
// side effects (events) exactly once per check. ErrUnknownCheck is fatal
// for the job; every other failure is transient and left to the queue's
// retry policy.
func (h *RenderHandler) Handle(ctx context.Context, checkID int64) (bool, error) {
	chk, err := db.Checks.GetCheckByID(ctx, checkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: id %d", ErrUnknownCheck, checkID)
		}
		return false, fmt.Errorf("failed to load check %d: %w", checkID, err)
	}

	if chk.Status != string(CheckStatusNew) {
		return false, nil
	}

	key := PDFKey(chk.OrderID, CheckType(chk.Type))

	exists, err := h.blobs.Exists(key)
	if err != nil {
		return false, fmt.Errorf("failed to probe blob %s: %w", key, err)
	}

	if !exists {
		pdf, err := h.renderer.Render(ctx, CheckType(chk.Type), []byte(chk.OrderJSON))
		if err != nil {
			return false, fmt.Errorf("failed to render check %d: %w", checkID, err)
		}
		if err := h.blobs.Put(key, pdf); err != nil {
			return false, fmt.Errorf("failed to store blob %s: %w", key, err)
		}
	}

	// A false result means a concurrent delivery already applied the
	// transition, which is success for our purposes.
	applied, err := db.Checks.MarkCheckRendered(ctx, checkID, key)
	if err != nil {
		return false, fmt.Errorf("failed to transition check %d: %w", checkID, err)
	}

	return applied, nil
}
