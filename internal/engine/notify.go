package engine

import (
	"fmt"

	"github.com/peerderiv/coordinator/internal/trade"
)

// directory maps connected traders to their live notification sinks.
// Snapshots handed to spawned tasks are never mutated.
type directory map[string]chan<- trade.Notification

// notifyTrader delivers a notification to a connected trader. A missing
// sink or a full channel is a delivery failure, not a reason to block; the
// caller decides what the failure means for order state.
func notifyTrader(traders directory, traderID string, n trade.Notification) error {
	sink, ok := traders[traderID]
	if !ok {
		return fmt.Errorf("trader %s is not connected", traderID)
	}

	select {
	case sink <- n:
		return nil
	default:
		return fmt.Errorf("notification channel for trader %s is full", traderID)
	}
}
