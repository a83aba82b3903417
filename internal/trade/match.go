package trade

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Match is one fill between two orders. The order and trader referenced here
// are the counterparty's, as seen from the order the match belongs to.
// Immutable once created.
type Match struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	TraderID       string          `json:"trader_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
}

// FilledWith is the per-trader view of the fills belonging to one order,
// together with the settlement contract expiry and the price oracle that will
// attest the eventual contract.
type FilledWith struct {
	OrderID        uuid.UUID `json:"order_id"`
	ContractExpiry time.Time `json:"contract_expiry"`
	OracleID       string    `json:"oracle_id"`
	Matches        []Match   `json:"matches"`
}

// TraderMatchParams pairs a trader with the fill view relevant to them.
type TraderMatchParams struct {
	TraderID   string
	FilledWith FilledWith
}

// MatchParams is the full outcome of one matching run: exactly one entry for
// the taker and one per maker.
type MatchParams struct {
	TakerMatch   TraderMatchParams
	MakerMatches []TraderMatchParams
}

// Matches flattens the taker and maker sides into one list.
func (p MatchParams) Matches() []TraderMatchParams {
	all := make([]TraderMatchParams, 0, len(p.MakerMatches)+1)
	all = append(all, p.TakerMatch)
	all = append(all, p.MakerMatches...)
	return all
}
