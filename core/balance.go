package core

import "github.com/shopspring/decimal"

// Balance is a single asset balance held on the network ledger.
type Balance struct {
	Asset    string          `json:"asset"`
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
	Decimals int             `json:"decimals"`
}
