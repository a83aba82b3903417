package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/peerderiv/coordinator/internal/trade"
)

// matchOrder matches a taker order against resting limit orders from the
// store. It returns nil when no match exists.
//
// Candidates should already be restricted to open limit orders on the
// opposite side; they are filtered again here for safety. A long taker takes
// the cheapest seller first, a short taker the highest bidder, ties broken by
// earliest submission.
func matchOrder(taker trade.Order, candidates []trade.Order, oracleID string, now time.Time) (*trade.MatchParams, error) {
	if taker.Kind == trade.KindLimit {
		// Limit orders rest; limit-vs-limit matching is not supported.
		return nil, nil
	}

	opposite := candidates[:0:0]
	for _, o := range candidates {
		if o.Direction != taker.Direction {
			opposite = append(opposite, o)
		}
	}

	isLong := taker.Direction == trade.DirectionLong
	sorted := sortOrders(opposite, isLong)

	remaining := taker.Quantity
	var makers []trade.Order
	for _, candidate := range sorted {
		remaining = remaining.Sub(candidate.Quantity)
		makers = append(makers, candidate)

		if remaining.Sign() <= 0 {
			break
		}
	}

	if len(makers) > 1 {
		return nil, ErrMultipleMakers
	}
	if len(makers) == 0 {
		return nil, nil
	}

	contractExpiry := trade.ContractExpiryAfter(now)

	var makerMatches []trade.TraderMatchParams
	var takerMatches []trade.Match
	for _, maker := range makers {
		makerMatches = append(makerMatches, trade.TraderMatchParams{
			TraderID: maker.TraderID,
			FilledWith: trade.FilledWith{
				OrderID:        maker.ID,
				ContractExpiry: contractExpiry,
				OracleID:       oracleID,
				Matches: []trade.Match{{
					ID:             uuid.New(),
					OrderID:        taker.ID,
					TraderID:       taker.TraderID,
					Quantity:       taker.Quantity,
					ExecutionPrice: maker.Price,
				}},
			},
		})
		takerMatches = append(takerMatches, trade.Match{
			ID:             uuid.New(),
			OrderID:        maker.ID,
			TraderID:       maker.TraderID,
			Quantity:       taker.Quantity,
			ExecutionPrice: maker.Price,
		})
	}

	return &trade.MatchParams{
		TakerMatch: trade.TraderMatchParams{
			TraderID: taker.TraderID,
			FilledWith: trade.FilledWith{
				OrderID:        taker.ID,
				ContractExpiry: contractExpiry,
				OracleID:       oracleID,
				Matches:        takerMatches,
			},
		},
		MakerMatches: makerMatches,
	}, nil
}

// sortOrders sorts in place by price priority, then time priority. Ascending
// prices when the taker is long, descending when short; equal prices are
// ordered by earliest submission.
func sortOrders(orders []trade.Order, isLong bool) []trade.Order {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		c := a.Price.Cmp(b.Price)
		if c == 0 {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if isLong {
			return c < 0
		}
		return c > 0
	})
	return orders
}
