package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InvalidOrderError is a submission-time validation failure. The order was
// either never persisted or persisted as failed.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "invalid order: " + e.Reason
}

// NoMatchFoundError means a market order found no eligible counterparty. The
// order has been persisted as failed.
type NoMatchFoundError struct {
	OrderID uuid.UUID
}

func (e *NoMatchFoundError) Error() string {
	return fmt.Sprintf("could not match order %s", e.OrderID)
}

// ErrMultipleMakers is returned by matching when filling the taker would
// require crossing more than one resting order. Multi-maker fills are
// rejected by policy; settlement assumes exactly one maker per trade.
var ErrMultipleMakers = errors.New("matching would require more than one maker, reduce the order quantity")
