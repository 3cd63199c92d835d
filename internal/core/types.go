package core

import (
	"errors"
	"fmt"
)

// CheckType selects which document template an order is rendered with.
// It is shared by printers (their configured check_type) and checks
// (copied from the printer at creation time).
type CheckType string

const (
	CheckTypeClient  CheckType = "client"
	CheckTypeKitchen CheckType = "kitchen"
)

func (t CheckType) Valid() bool {
	return t == CheckTypeClient || t == CheckTypeKitchen
}

// CheckStatus is the check lifecycle state. Transitions only move
// forward: new -> rendered -> printed.
type CheckStatus string

const (
	CheckStatusNew      CheckStatus = "new"
	CheckStatusRendered CheckStatus = "rendered"
	CheckStatusPrinted  CheckStatus = "printed"
)

// PDFKey is the deterministic blob key for a check's rendered PDF.
// Deriving it from the order id and check type (not the check id) is
// what makes the render handler's existence short-circuit possible.
func PDFKey(orderID string, checkType CheckType) string {
	return fmt.Sprintf("%s_%s.pdf", orderID, checkType)
}

var (
	ErrInvalidOrder   = errors.New("order payload is invalid")
	ErrDuplicateOrder = errors.New("checks already created for this order")
	ErrNoPrinters     = errors.New("no printers configured for this point")
	ErrUnknownCheck   = errors.New("check not found")
	ErrNotRendered    = errors.New("no pdf rendered for this check")
)
