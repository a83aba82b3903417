package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerderiv/coordinator/internal/feed"
	"github.com/peerderiv/coordinator/internal/store"
	"github.com/peerderiv/coordinator/internal/trade"
)

// recordingFeed captures published feed events for assertions.
type recordingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *recordingFeed) PublishNewOrder(_ context.Context, o trade.Order) error {
	f.record(feed.Event{Kind: feed.EventNewOrder, OrderID: o.ID, Order: &o})
	return nil
}

func (f *recordingFeed) PublishUpdate(_ context.Context, id uuid.UUID, state trade.OrderState) error {
	f.record(feed.Event{Kind: feed.EventUpdate, OrderID: id, State: state})
	return nil
}

func (f *recordingFeed) PublishDelete(_ context.Context, id uuid.UUID) error {
	f.record(feed.Event{Kind: feed.EventDelete, OrderID: id})
	return nil
}

func (f *recordingFeed) record(e feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *recordingFeed) eventsFor(id uuid.UUID) []feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []feed.Event
	for _, e := range f.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *recordingFeed) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &recordingFeed{}
	e := New(Config{Symbol: "BTCUSD", OracleID: testOracleID}, s, f, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	return e, s, f
}

func limitDraft(trader string, direction trade.Direction, price, quantity int64) trade.NewOrder {
	return trade.NewOrder{
		ID:        uuid.New(),
		TraderID:  trader,
		Symbol:    "BTCUSD",
		Direction: direction,
		Kind:      trade.KindLimit,
		Price:     decimal.NewFromInt(price),
		Quantity:  decimal.NewFromInt(quantity),
		Expiry:    time.Now().UTC().Add(time.Hour),
	}
}

func takerDraft(trader string, direction trade.Direction, quantity int64) trade.NewOrder {
	return trade.NewOrder{
		ID:        uuid.New(),
		TraderID:  trader,
		Symbol:    "BTCUSD",
		Direction: direction,
		Kind:      trade.KindMarket,
		Quantity:  decimal.NewFromInt(quantity),
		Expiry:    time.Now().UTC().Add(time.Hour),
	}
}

func waitNotification(t *testing.T, sink <-chan trade.Notification) trade.Notification {
	t.Helper()
	select {
	case n := <-sink:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func orderState(t *testing.T, s *store.Store, trader string, state trade.OrderState) *trade.Order {
	t.Helper()
	o, err := s.OrderByTraderAndState(context.Background(), trader, state)
	require.NoError(t, err)
	return o
}

func TestSubmitLimitOrder(t *testing.T) {
	e, _, f := newTestEngine(t)

	draft := limitDraft("maker", trade.DirectionLong, 20_000, 100)
	order, err := e.SubmitOrder(context.Background(), draft, trade.ReasonManual)
	require.NoError(t, err)

	assert.Equal(t, trade.OrderStateOpen, order.State)
	assert.Equal(t, draft.ID, order.ID)

	events := f.eventsFor(order.ID)
	require.Len(t, events, 1)
	assert.Equal(t, feed.EventNewOrder, events[0].Kind)
}

func TestSubmitLimitOrder_ZeroPriceRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)

	draft := limitDraft("maker", trade.DirectionLong, 0, 100)
	_, err := e.SubmitOrder(context.Background(), draft, trade.ReasonManual)

	var invalid *InvalidOrderError
	require.ErrorAs(t, err, &invalid)
}

func TestSubmitMarketOrder_NoLiquidity(t *testing.T) {
	e, s, _ := newTestEngine(t)

	draft := takerDraft("taker", trade.DirectionShort, 100)
	_, err := e.SubmitOrder(context.Background(), draft, trade.ReasonManual)

	var noMatch *NoMatchFoundError
	require.ErrorAs(t, err, &noMatch)
	assert.Equal(t, draft.ID, noMatch.OrderID)

	failed := orderState(t, s, "taker", trade.OrderStateFailed)
	require.NotNil(t, failed)
	assert.Equal(t, draft.ID, failed.ID)
}

func TestSubmitMarketOrder_DisconnectedCounterparties(t *testing.T) {
	e, s, f := newTestEngine(t)

	maker, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	taker, err := e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, trade.OrderStateMatched, taker.State)

	// No one is connected: the maker is assumed to accept once they
	// reconnect, the taker stays matched for replay.
	makerOrder := orderState(t, s, "maker", trade.OrderStateTaken)
	require.NotNil(t, makerOrder)
	assert.Equal(t, maker.ID, makerOrder.ID)

	takerOrder := orderState(t, s, "taker", trade.OrderStateMatched)
	require.NotNil(t, takerOrder)

	events := f.eventsFor(maker.ID)
	require.Len(t, events, 2)
	assert.Equal(t, feed.EventUpdate, events[1].Kind)
}

func TestSubmitMarketOrder_NotifiesConnectedTraders(t *testing.T) {
	e, s, _ := newTestEngine(t)

	makerSink := make(chan trade.Notification, 4)
	takerSink := make(chan trade.Notification, 4)
	require.NoError(t, e.RegisterTrader(context.Background(), "maker", makerSink))
	require.NoError(t, e.RegisterTrader(context.Background(), "taker", takerSink))

	maker, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	taker, err := e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	require.NoError(t, err)

	makerNotification := waitNotification(t, makerSink)
	match, ok := makerNotification.(trade.MatchNotification)
	require.True(t, ok, "expected a match notification, got %T", makerNotification)
	assert.Equal(t, maker.ID, match.FilledWith.OrderID)

	takerNotification := waitNotification(t, takerSink)
	match, ok = takerNotification.(trade.MatchNotification)
	require.True(t, ok, "expected a match notification, got %T", takerNotification)
	assert.Equal(t, taker.ID, match.FilledWith.OrderID)

	// Delivery succeeded, so the maker stays matched until execution.
	makerOrder := orderState(t, s, "maker", trade.OrderStateMatched)
	require.NotNil(t, makerOrder)
}

func TestSubmitMarketOrder_FullSinkFallsBackToTaken(t *testing.T) {
	e, s, _ := newTestEngine(t)

	// An unbuffered sink with no reader degrades to a delivery failure.
	require.NoError(t, e.RegisterTrader(context.Background(), "maker", make(chan trade.Notification)))

	_, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	_, err = e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	require.NoError(t, err)

	require.NotNil(t, orderState(t, s, "maker", trade.OrderStateTaken))
}

func TestSubmitMarketOrder_RejectedWhileExecutionPending(t *testing.T) {
	e, s, _ := newTestEngine(t)

	_, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	_, err = e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	require.NoError(t, err)

	second := takerDraft("taker", trade.DirectionShort, 100)
	_, err = e.SubmitOrder(context.Background(), second, trade.ReasonManual)

	var invalid *InvalidOrderError
	require.ErrorAs(t, err, &invalid)

	failed := orderState(t, s, "taker", trade.OrderStateFailed)
	require.NotNil(t, failed)
	assert.Equal(t, second.ID, failed.ID)
}

func TestPendingMatchReplay(t *testing.T) {
	e, s, _ := newTestEngine(t)

	_, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	taker, err := e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	require.NoError(t, err)

	before, err := s.MatchesByOrder(context.Background(), taker.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// The taker was offline during matching; connecting replays the match.
	sink := make(chan trade.Notification, 4)
	require.NoError(t, e.RegisterTrader(context.Background(), "taker", sink))

	n := waitNotification(t, sink)
	match, ok := n.(trade.MatchNotification)
	require.True(t, ok, "expected a match notification, got %T", n)
	assert.Equal(t, taker.ID, match.FilledWith.OrderID)
	require.Len(t, match.FilledWith.Matches, 1)
	assert.Equal(t, before[0].ID, match.FilledWith.Matches[0].ID)

	// Replay reconstructs, it never duplicates.
	after, err := s.MatchesByOrder(context.Background(), taker.ID)
	require.NoError(t, err)
	assert.Len(t, after, 1)
	require.NotNil(t, orderState(t, s, "taker", trade.OrderStateMatched))
}

func TestExpiredLimitOrdersAreSweptBeforeMatching(t *testing.T) {
	e, s, f := newTestEngine(t)

	expired := limitDraft("maker", trade.DirectionLong, 20_000, 100)
	expired.Expiry = time.Now().UTC().Add(-time.Minute)
	maker, err := e.SubmitOrder(context.Background(), expired, trade.ReasonManual)
	require.NoError(t, err)

	_, err = e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonManual)
	var noMatch *NoMatchFoundError
	require.ErrorAs(t, err, &noMatch)

	swept := orderState(t, s, "maker", trade.OrderStateFailed)
	require.NotNil(t, swept)
	assert.Equal(t, maker.ID, swept.ID)

	events := f.eventsFor(maker.ID)
	require.Len(t, events, 2)
	assert.Equal(t, feed.EventDelete, events[1].Kind)
}

func TestExpiredReasonUsesAsyncNotification(t *testing.T) {
	e, _, _ := newTestEngine(t)

	takerSink := make(chan trade.Notification, 4)
	require.NoError(t, e.RegisterTrader(context.Background(), "taker", takerSink))

	_, err := e.SubmitOrder(context.Background(), limitDraft("maker", trade.DirectionLong, 20_000, 100), trade.ReasonManual)
	require.NoError(t, err)

	taker, err := e.SubmitOrder(context.Background(), takerDraft("taker", trade.DirectionShort, 100), trade.ReasonExpired)
	require.NoError(t, err)

	n := waitNotification(t, takerSink)
	async, ok := n.(trade.AsyncMatchNotification)
	require.True(t, ok, "expected an async match notification, got %T", n)
	assert.Equal(t, taker.ID, async.Order.ID)
	assert.Equal(t, taker.ID, async.FilledWith.OrderID)
}
