package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/peerderiv/coordinator/internal/trade"
)

// Store persists orders and matches. It is the single source of truth for
// order state; the engine re-reads it every processing cycle instead of
// caching results.
type Store struct {
	db *sql.DB
}

// Open creates or opens the order store at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			kind TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			expiry_unix_millis INTEGER NOT NULL,
			state TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_trader_state
			ON orders(trader_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_book
			ON orders(direction, kind, state)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			match_order_id TEXT NOT NULL,
			match_trader_id TEXT NOT NULL,
			quantity TEXT NOT NULL,
			execution_price TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_order
			ON matches(order_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// InsertOrder persists a new order.
func (s *Store) InsertOrder(ctx context.Context, o trade.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, trader_id, symbol, direction, kind, price, quantity,
			created_unix_millis, expiry_unix_millis, state, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.TraderID, o.Symbol, string(o.Direction), string(o.Kind),
		o.Price.String(), o.Quantity.String(),
		o.CreatedAt.UnixMilli(), o.Expiry.UnixMilli(), string(o.State), string(o.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// SetOrderState updates an order's state unconditionally.
func (s *Store) SetOrderState(ctx context.Context, id uuid.UUID, state trade.OrderState) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET state = ? WHERE id = ?",
		string(state), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set order state: %w", err)
	}
	return nil
}

// ClaimOrder transitions an order from one state to another only if it is
// still in the expected state. Two takers racing for the same resting order
// both call this; at most one gets true.
func (s *Store) ClaimOrder(ctx context.Context, id uuid.UUID, from, to trade.OrderState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET state = ? WHERE id = ? AND state = ?",
		string(to), id.String(), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// OrderByTraderAndState returns one of the trader's orders in the given
// state, or nil if there is none.
func (s *Store) OrderByTraderAndState(ctx context.Context, traderID string, state trade.OrderState) (*trade.Order, error) {
	row := s.db.QueryRowContext(ctx,
		orderColumns+" WHERE trader_id = ? AND state = ? ORDER BY created_unix_millis LIMIT 1",
		traderID, string(state),
	)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order by trader and state: %w", err)
	}
	return &o, nil
}

// OpenOrdersByDirectionAndKind returns all open orders on one side of the
// book, oldest first.
func (s *Store) OpenOrdersByDirectionAndKind(ctx context.Context, direction trade.Direction, kind trade.Kind) ([]trade.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		orderColumns+" WHERE direction = ? AND kind = ? AND state = ? ORDER BY created_unix_millis",
		string(direction), string(kind), string(trade.OrderStateOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []trade.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SweepExpiredOrders fails all open limit orders whose expiry has passed and
// returns their ids. Calling it again without new expirations is a no-op.
func (s *Store) SweepExpiredOrders(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM orders
		 WHERE kind = ? AND state = ? AND expiry_unix_millis <= ?`,
		string(trade.KindLimit), string(trade.OrderStateOpen), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired orders: %w", err)
	}

	var swept []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired order id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse expired order id: %w", err)
		}
		swept = append(swept, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(swept) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET state = ?
		 WHERE kind = ? AND state = ? AND expiry_unix_millis <= ?`,
		string(trade.OrderStateFailed),
		string(trade.KindLimit), string(trade.OrderStateOpen), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail expired orders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit expiry sweep: %w", err)
	}
	return swept, nil
}

// InsertMatch persists one match row belonging to the given order.
func (s *Store) InsertMatch(ctx context.Context, orderID uuid.UUID, m trade.Match) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, order_id, match_order_id, match_trader_id,
			quantity, execution_price, created_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), orderID.String(), m.OrderID.String(), m.TraderID,
		m.Quantity.String(), m.ExecutionPrice.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

// MatchesByOrder returns the match rows belonging to an order, oldest first.
func (s *Store) MatchesByOrder(ctx context.Context, orderID uuid.UUID) ([]trade.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_order_id, match_trader_id, quantity, execution_price
		 FROM matches WHERE order_id = ? ORDER BY created_unix_millis`,
		orderID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var matches []trade.Match
	for rows.Next() {
		var m trade.Match
		var rawID, rawOrderID, rawQuantity, rawPrice string
		if err := rows.Scan(&rawID, &rawOrderID, &m.TraderID, &rawQuantity, &rawPrice); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if m.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("failed to parse match id: %w", err)
		}
		if m.OrderID, err = uuid.Parse(rawOrderID); err != nil {
			return nil, fmt.Errorf("failed to parse match order id: %w", err)
		}
		if m.Quantity, err = decimal.NewFromString(rawQuantity); err != nil {
			return nil, fmt.Errorf("failed to parse match quantity: %w", err)
		}
		if m.ExecutionPrice, err = decimal.NewFromString(rawPrice); err != nil {
			return nil, fmt.Errorf("failed to parse match execution price: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const orderColumns = `SELECT id, trader_id, symbol, direction, kind, price, quantity,
	created_unix_millis, expiry_unix_millis, state, reason FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (trade.Order, error) {
	var o trade.Order
	var rawID, rawPrice, rawQuantity, direction, kind, state, reason string
	var createdMillis, expiryMillis int64

	err := row.Scan(&rawID, &o.TraderID, &o.Symbol, &direction, &kind,
		&rawPrice, &rawQuantity, &createdMillis, &expiryMillis, &state, &reason)
	if err != nil {
		return trade.Order{}, err
	}

	if o.ID, err = uuid.Parse(rawID); err != nil {
		return trade.Order{}, fmt.Errorf("failed to parse order id: %w", err)
	}
	if o.Price, err = decimal.NewFromString(rawPrice); err != nil {
		return trade.Order{}, fmt.Errorf("failed to parse order price: %w", err)
	}
	if o.Quantity, err = decimal.NewFromString(rawQuantity); err != nil {
		return trade.Order{}, fmt.Errorf("failed to parse order quantity: %w", err)
	}
	o.Direction = trade.Direction(direction)
	o.Kind = trade.Kind(kind)
	o.State = trade.OrderState(state)
	o.Reason = trade.OrderReason(reason)
	o.CreatedAt = time.UnixMilli(createdMillis).UTC()
	o.Expiry = time.UnixMilli(expiryMillis).UTC()
	return o, nil
}
