package feed

import (
	"context"

	"github.com/google/uuid"

	"github.com/peerderiv/coordinator/internal/trade"
)

// EventKind tags a price-feed event.
type EventKind string

const (
	EventNewOrder EventKind = "new_order"
	EventUpdate   EventKind = "update"
	EventDelete   EventKind = "delete"
)

// Event is one entry on the public price feed. Order is only set for
// new_order events; update carries the new state of a consumed order.
type Event struct {
	Kind    EventKind        `json:"kind"`
	OrderID uuid.UUID        `json:"order_id"`
	Order   *trade.Order     `json:"order,omitempty"`
	State   trade.OrderState `json:"state,omitempty"`
}

// Publisher broadcasts orderbook changes to the public price feed. Delivery
// is best-effort; callers log failures and move on.
type Publisher interface {
	PublishNewOrder(ctx context.Context, order trade.Order) error
	PublishUpdate(ctx context.Context, orderID uuid.UUID, state trade.OrderState) error
	PublishDelete(ctx context.Context, orderID uuid.UUID) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishNewOrder(context.Context, trade.Order) error               { return nil }
func (Nop) PublishUpdate(context.Context, uuid.UUID, trade.OrderState) error { return nil }
func (Nop) PublishDelete(context.Context, uuid.UUID) error                   { return nil }
