package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"forfar/internal/db"
)

// Enqueuer accepts a render job for a freshly created check.
type Enqueuer interface {
	Enqueue(ctx context.Context, checkID int64) (int64, error)
}

// Intake fans an incoming order out into one check per printer configured
// for the order's point, creating each check exactly once.
type Intake struct {
	queue Enqueuer
}

func NewIntake(queue Enqueuer) *Intake {
	return &Intake{queue: queue}
}

type orderEnvelope struct {
	ID      interface{} `json:"id"`
	PointID int64       `json:"point_id"`
}

// SubmitOrder validates the raw order payload and creates one NEW check
// plus one render job per matching printer.
//
// The duplicate-order test here is check-then-act and therefore racy on
// its own; the UNIQUE(order_id, printer_id) index is the real arbiter,
// and a constraint violation on insert is reported as a duplicate too.
//
// Fan-out is not transactional: if enqueueing fails midway, the checks
// created so far stay at NEW and their rendering can be re-triggered
// through the jobs API.
func (i *Intake) SubmitOrder(ctx context.Context, body []byte) error {
	var env orderEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	orderID := normalizeOrderID(env.ID)
	if orderID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if env.PointID == 0 {
		return fmt.Errorf("%w: missing point_id", ErrInvalidOrder)
	}

	count, err := db.Checks.CountChecksByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to look up existing checks: %w", err)
	}
	if count > 0 {
		return ErrDuplicateOrder
	}

	printers, err := db.Printers.ListPrintersByPoint(ctx, env.PointID)
	if err != nil {
		return fmt.Errorf("failed to resolve printers for point %d: %w", env.PointID, err)
	}
	if len(printers) == 0 {
		return ErrNoPrinters
	}

	for _, printer := range printers {
		chk := &db.Check{
			PrinterID: printer.ID,
			Type:      printer.CheckType,
			OrderID:   orderID,
			OrderJSON: string(body),
			Status:    string(CheckStatusNew),
		}
		if err := db.Checks.CreateCheck(ctx, chk); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("failed to create check for printer %d: %w", printer.ID, err)
		}

		if _, err := i.queue.Enqueue(ctx, chk.ID); err != nil {
			log.Printf("intake: check %d created but render job not enqueued: %v", chk.ID, err)
			return fmt.Errorf("failed to enqueue render job for check %d: %w", chk.ID, err)
		}
	}

	return nil
}

// Order ids arrive as JSON numbers or strings; both map onto the same
// canonical key used for idempotency and blob naming.
func normalizeOrderID(v interface{}) string {
	switch id := v.(type) {
	case json.Number:
		return id.String()
	case string:
		return id
	default:
		return ""
	}
}
