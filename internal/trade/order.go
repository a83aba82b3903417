package trade

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of the market an order takes.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the counterparty side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Kind distinguishes resting limit orders from taker market orders.
type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
)

// OrderState tracks an order through its lifecycle.
//
// Open -> Matched -> Taken | Failed. Matched means a counterparty was found
// and notification is pending or attempted. Taken is the terminal success
// state. Failed is terminal and means no valid match exists or validation
// failed.
type OrderState string

const (
	OrderStateOpen    OrderState = "open"
	OrderStateMatched OrderState = "matched"
	OrderStateTaken   OrderState = "taken"
	OrderStateFailed  OrderState = "failed"
)

// OrderReason records why an order entered the book. Expired orders are
// system-generated fills replacing an order whose expiry triggered automatic
// matching; they get the asynchronous notification variant.
type OrderReason string

const (
	ReasonManual  OrderReason = "manual"
	ReasonExpired OrderReason = "expired"
)

// NewOrder is a submission draft. The id is generated by the submitter.
type NewOrder struct {
	ID        uuid.UUID       `json:"id"`
	TraderID  string          `json:"trader_id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Kind      Kind            `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Expiry    time.Time       `json:"expiry"`
}

// Order is the persisted form of a submitted order.
type Order struct {
	ID        uuid.UUID       `json:"id"`
	TraderID  string          `json:"trader_id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Kind      Kind            `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	Expiry    time.Time       `json:"expiry"`
	State     OrderState      `json:"state"`
	Reason    OrderReason     `json:"reason"`
}

// Order materializes the draft as an open order.
func (n NewOrder) Order(reason OrderReason, now time.Time) Order {
	return Order{
		ID:        n.ID,
		TraderID:  n.TraderID,
		Symbol:    n.Symbol,
		Direction: n.Direction,
		Kind:      n.Kind,
		Price:     n.Price,
		Quantity:  n.Quantity,
		CreatedAt: now,
		Expiry:    n.Expiry,
		State:     OrderStateOpen,
		Reason:    reason,
	}
}

// ContractExpiryAfter returns the settlement contract expiry for a match
// created at the given instant: the next Sunday 15:00 UTC.
func ContractExpiryAfter(now time.Time) time.Time {
	now = now.UTC()
	daysAhead := (int(time.Sunday) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day(), 15, 0, 0, 0, time.UTC).
		AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
