package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peerderiv/coordinator/internal/trade"
)

// processNewOrder runs one order through the state machine. Limit orders are
// persisted and broadcast; market orders are matched against the book and
// both counterparties notified.
func (e *Engine) processNewOrder(ctx context.Context, snapshot directory, draft trade.NewOrder, reason trade.OrderReason) (trade.Order, error) {
	logger := e.logger.With(
		zap.String("trader_id", draft.TraderID),
		zap.String("order_id", draft.ID.String()),
	)
	logger.Info("received new order", zap.String("kind", string(draft.Kind)))

	if draft.Kind == trade.KindLimit && draft.Price.Sign() <= 0 {
		return trade.Order{}, &InvalidOrderError{Reason: "limit orders require a positive price"}
	}

	// Expired liquidity must never be matched, so every cycle starts by
	// failing expired limit orders.
	now := time.Now().UTC()
	swept, err := e.store.SweepExpiredOrders(ctx, now)
	if err != nil {
		return trade.Order{}, fmt.Errorf("failed to sweep expired orders: %w", err)
	}
	for _, id := range swept {
		e.publishDelete(ctx, id)
	}

	order := draft.Order(reason, now)
	if err := e.store.InsertOrder(ctx, order); err != nil {
		return trade.Order{}, fmt.Errorf("failed to insert new order: %w", err)
	}

	if order.Kind == trade.KindLimit {
		// Resting liquidity is public; matching waits for a taker.
		e.publishNewOrder(ctx, order)
		return order, nil
	}

	return e.executeMarketOrder(ctx, snapshot, logger, order)
}

func (e *Engine) executeMarketOrder(ctx context.Context, snapshot directory, logger *zap.Logger, order trade.Order) (trade.Order, error) {
	// One in-flight execution per trader at a time.
	pending, err := e.store.OrderByTraderAndState(ctx, order.TraderID, trade.OrderStateMatched)
	if err != nil {
		return trade.Order{}, fmt.Errorf("failed to look up pending orders: %w", err)
	}
	if pending != nil {
		e.failOrder(ctx, logger, order.ID)
		return trade.Order{}, &InvalidOrderError{
			Reason: fmt.Sprintf("order %s is still executing, new orders are not accepted until it finishes", pending.ID),
		}
	}

	candidates, err := e.store.OpenOrdersByDirectionAndKind(ctx, order.Direction.Opposite(), trade.KindLimit)
	if err != nil {
		return trade.Order{}, fmt.Errorf("failed to fetch resting orders: %w", err)
	}

	params, err := matchOrder(order, candidates, e.cfg.OracleID, time.Now().UTC())
	if err != nil {
		e.failOrder(ctx, logger, order.ID)
		return trade.Order{}, fmt.Errorf("failed to match order: %w", err)
	}
	if params == nil {
		e.failOrder(ctx, logger, order.ID)
		return trade.Order{}, &NoMatchFoundError{OrderID: order.ID}
	}

	logger.Info("found match for new order",
		zap.Int("makers", len(params.MakerMatches)),
	)

	// Claim each maker order before anything else: two takers racing for the
	// same resting order must not both proceed. Losing the claim counts as
	// no match.
	for _, maker := range params.MakerMatches {
		claimed, err := e.store.ClaimOrder(ctx, maker.FilledWith.OrderID, trade.OrderStateOpen, trade.OrderStateMatched)
		if err != nil {
			e.failOrder(ctx, logger, order.ID)
			return trade.Order{}, fmt.Errorf("failed to claim maker order: %w", err)
		}
		if !claimed {
			logger.Info("maker order was consumed concurrently",
				zap.String("maker_order_id", maker.FilledWith.OrderID.String()),
			)
			e.failOrder(ctx, logger, order.ID)
			return trade.Order{}, &NoMatchFoundError{OrderID: order.ID}
		}
	}

	for _, side := range params.Matches() {
		for _, m := range side.FilledWith.Matches {
			if err := e.store.InsertMatch(ctx, side.FilledWith.OrderID, m); err != nil {
				return trade.Order{}, fmt.Errorf("failed to insert match: %w", err)
			}
		}

		sideLogger := logger.With(
			zap.String("matched_trader_id", side.TraderID),
			zap.String("matched_order_id", side.FilledWith.OrderID.String()),
		)
		sideLogger.Info("notifying trader about match")

		state := trade.OrderStateMatched
		if err := notifyTrader(snapshot, side.TraderID, trade.NotificationFor(order, side.FilledWith)); err != nil {
			sideLogger.Warn("failed to notify trader", zap.Error(err))

			if side.TraderID != params.TakerMatch.TraderID {
				// Makers always accept trades, so their side proceeds to
				// execution once they reconnect even though we could not
				// reach them now.
				state = trade.OrderStateTaken
			}
		} else {
			sideLogger.Debug("successfully notified trader")
		}

		if err := e.store.SetOrderState(ctx, side.FilledWith.OrderID, state); err != nil {
			return trade.Order{}, fmt.Errorf("failed to update order state: %w", err)
		}
	}

	for _, maker := range params.MakerMatches {
		e.publishUpdate(ctx, maker.FilledWith.OrderID, trade.OrderStateMatched)
	}

	order.State = trade.OrderStateMatched
	return order, nil
}

// processPendingMatch re-notifies a freshly connected trader about a match
// they have not acted on yet. It rebuilds the fill view from persisted match
// rows and never mutates order or match state.
func (e *Engine) processPendingMatch(ctx context.Context, snapshot directory, traderID string) error {
	order, err := e.store.OrderByTraderAndState(ctx, traderID, trade.OrderStateMatched)
	if err != nil {
		return fmt.Errorf("failed to look up matched order: %w", err)
	}
	if order == nil {
		return nil
	}

	e.logger.Debug("notifying trader about pending match",
		zap.String("trader_id", traderID),
		zap.String("order_id", order.ID.String()),
	)

	matches, err := e.store.MatchesByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load matches for order %s: %w", order.ID, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("order %s is matched but has no match records", order.ID)
	}

	filledWith := trade.FilledWith{
		OrderID:        order.ID,
		ContractExpiry: trade.ContractExpiryAfter(time.Now().UTC()),
		OracleID:       e.cfg.OracleID,
		Matches:        matches,
	}

	if err := notifyTrader(snapshot, traderID, trade.NotificationFor(*order, filledWith)); err != nil {
		e.logger.Warn("failed to notify trader about pending match",
			zap.String("trader_id", traderID),
			zap.Error(err),
		)
	}

	return nil
}

// failOrder marks an order failed. Used on every rejection path after the
// order row exists.
func (e *Engine) failOrder(ctx context.Context, logger *zap.Logger, id uuid.UUID) {
	if err := e.store.SetOrderState(ctx, id, trade.OrderStateFailed); err != nil {
		logger.Error("failed to mark order as failed", zap.Error(err))
	}
}

// The feed is best-effort: failures are logged, never propagated.

func (e *Engine) publishNewOrder(ctx context.Context, order trade.Order) {
	if err := e.feed.PublishNewOrder(ctx, order); err != nil {
		e.logger.Error("failed to publish new order to price feed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}

func (e *Engine) publishUpdate(ctx context.Context, orderID uuid.UUID, state trade.OrderState) {
	if err := e.feed.PublishUpdate(ctx, orderID, state); err != nil {
		e.logger.Error("failed to publish order update to price feed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}
}

func (e *Engine) publishDelete(ctx context.Context, orderID uuid.UUID) {
	if err := e.feed.PublishDelete(ctx, orderID); err != nil {
		e.logger.Error("failed to publish order delete to price feed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}
}
