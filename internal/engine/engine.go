package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peerderiv/coordinator/internal/feed"
	"github.com/peerderiv/coordinator/internal/trade"
)

// workQueueSize bounds the inbound work queue; producers block when the
// engine falls this far behind.
const workQueueSize = 100

// OrderStore is the persistence gateway the engine drives. It is the single
// source of truth for order and match state.
type OrderStore interface {
	InsertOrder(ctx context.Context, o trade.Order) error
	SetOrderState(ctx context.Context, id uuid.UUID, state trade.OrderState) error
	ClaimOrder(ctx context.Context, id uuid.UUID, from, to trade.OrderState) (bool, error)
	OrderByTraderAndState(ctx context.Context, traderID string, state trade.OrderState) (*trade.Order, error)
	OpenOrdersByDirectionAndKind(ctx context.Context, direction trade.Direction, kind trade.Kind) ([]trade.Order, error)
	SweepExpiredOrders(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	InsertMatch(ctx context.Context, orderID uuid.UUID, m trade.Match) error
	MatchesByOrder(ctx context.Context, orderID uuid.UUID) ([]trade.Match, error)
}

// Config carries the engine's trading parameters.
type Config struct {
	// Symbol is the single instrument this engine trades.
	Symbol string
	// OracleID is the price oracle attached to every match.
	OracleID string
}

// Engine is the trading supervisor: a single sequential consumer over a
// bounded work queue. It is the sole owner of the trader directory; spawned
// per-item tasks only ever see immutable snapshots of it.
type Engine struct {
	cfg    Config
	store  OrderStore
	feed   feed.Publisher
	logger *zap.Logger

	queue     chan workItem
	directory directory
}

type workItem interface {
	workItem()
}

type newOrderItem struct {
	draft  trade.NewOrder
	reason trade.OrderReason
	resp   chan<- submitResult
}

type newTraderItem struct {
	traderID string
	sink     chan<- trade.Notification
}

func (newOrderItem) workItem() {}

func (newTraderItem) workItem() {}

type submitResult struct {
	order trade.Order
	err   error
}

// New creates a trading engine.
func New(cfg Config, store OrderStore, pub feed.Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		feed:      pub,
		logger:    logger,
		queue:     make(chan workItem, workQueueSize),
		directory: make(directory),
	}
}

// Run consumes work items until the context is cancelled. Items are taken in
// strict submission order; the actual processing of each runs in its own
// goroutine so slow persistence or notification for one order never blocks
// intake of the next. In-flight tasks run to completion after Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("trading engine started", zap.String("symbol", e.cfg.Symbol))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("trading engine stopping")
			return ctx.Err()
		case item := <-e.queue:
			switch it := item.(type) {
			case newOrderItem:
				snapshot := e.snapshotDirectory()
				go func() {
					order, err := e.processNewOrder(context.Background(), snapshot, it.draft, it.reason)
					it.resp <- submitResult{order: order, err: err}
				}()
			case newTraderItem:
				e.logger.Info("trader connected", zap.String("trader_id", it.traderID))
				e.directory[it.traderID] = it.sink

				snapshot := e.snapshotDirectory()
				go func() {
					e.logger.Debug("checking for pending matches", zap.String("trader_id", it.traderID))
					if err := e.processPendingMatch(context.Background(), snapshot, it.traderID); err != nil {
						e.logger.Error("failed to process pending match",
							zap.String("trader_id", it.traderID),
							zap.Error(err),
						)
					}
				}()
			}
		}
	}
}

// SubmitOrder enqueues a new order and blocks until the engine has processed
// it. The returned order carries the state it was left in.
func (e *Engine) SubmitOrder(ctx context.Context, draft trade.NewOrder, reason trade.OrderReason) (trade.Order, error) {
	resp := make(chan submitResult, 1)

	select {
	case e.queue <- newOrderItem{draft: draft, reason: reason, resp: resp}:
	case <-ctx.Done():
		return trade.Order{}, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.order, r.err
	case <-ctx.Done():
		return trade.Order{}, ctx.Err()
	}
}

// RegisterTrader registers (or replaces) the live notification sink for a
// trader and asynchronously replays any pending match owed to them.
func (e *Engine) RegisterTrader(ctx context.Context, traderID string, sink chan<- trade.Notification) error {
	select {
	case e.queue <- newTraderItem{traderID: traderID, sink: sink}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshotDirectory clones the trader directory. Only the Run loop mutates
// the live map; spawned tasks read the clone. A registration landing after
// the snapshot is recovered by the pending-match replay.
func (e *Engine) snapshotDirectory() directory {
	snapshot := make(directory, len(e.directory))
	for trader, sink := range e.directory {
		snapshot[trader] = sink
	}
	return snapshot
}
